// Package bleadapter wraps the host BLE stack (tinygo.org/x/bluetooth) and
// exposes the narrow scan / connect-as-central / advertise-as-peripheral
// surface the rest of the bridge is built against, per SPEC_FULL.md §4.1.
package bleadapter

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"tinygo.org/x/bluetooth"
)

// kingsmithNamePrefixes is the case-insensitive set of advertised-name
// prefixes that identify a Kingsmith-family treadmill, per SPEC_FULL.md §4.1.
var kingsmithNamePrefixes = []string{"walkingpad", "kingsmith", "k-pad", "ksm"}

// VendorServiceUUID is the Kingsmith proprietary GATT service. Devices that
// advertise it are treadmill candidates even if their local name doesn't
// match kingsmithNamePrefixes.
var VendorServiceUUID = mustUUID("0000fe00-0000-1000-8000-00805f9b34fb")

var (
	vendorNotifyCharUUID = mustUUID("0000fe01-0000-1000-8000-00805f9b34fb")
	vendorWriteCharUUID  = mustUUID("0000fe02-0000-1000-8000-00805f9b34fb")
)

func mustUUID(s string) bluetooth.UUID {
	u, err := bluetooth.ParseUUID(s)
	if err != nil {
		panic(err)
	}
	return u
}

// TreadmillDescriptor identifies a scanned treadmill candidate. Identity is
// Address, a platform MAC/UUID string accepted by bluetooth.Address.Set —
// a descriptor built by hand from an HTTP request (SPEC_FULL.md §4.7's
// Connect(ctx, address)) dials exactly the same way as one produced by Scan.
type TreadmillDescriptor struct {
	Address        string
	AdvertisedName string
	RSSI           int16
}

// IsKingsmithCandidate reports whether result looks like a Kingsmith-family
// treadmill by name prefix or vendor service UUID presence.
func IsKingsmithCandidate(name string, hasVendorService bool) bool {
	if hasVendorService {
		return true
	}
	lower := strings.ToLower(name)
	for _, prefix := range kingsmithNamePrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

// Adapter wraps a single local BLE adapter for both central and peripheral
// use. Apart from the short-lived goroutine each Scan uses to stop scanning,
// it owns no goroutines; callers (the treadmill client and the FTMS server)
// drive it.
type Adapter struct {
	bt *bluetooth.Adapter
}

// New wraps the given tinygo bluetooth adapter. Pass bluetooth.DefaultAdapter
// in production; tests that never reach the radio pass a nil *Adapter to the
// packages that take one.
func New(bt *bluetooth.Adapter) *Adapter {
	return &Adapter{bt: bt}
}

// Enable brings the adapter up. Must be called once before Scan, Connect, or
// StartPeripheral.
func (a *Adapter) Enable() error {
	if err := a.bt.Enable(); err != nil {
		return classifyAdapterErr(err)
	}
	return nil
}

// classifyAdapterErr distinguishes an OS-level permission error (e.g. a
// missing BLE capability/entitlement) from a generally unavailable adapter,
// per the taxonomy in SPEC_FULL.md §7.
func classifyAdapterErr(err error) error {
	if errors.Is(err, os.ErrPermission) {
		return fmt.Errorf("%w: %w", ErrPermissionDenied, err)
	}
	return fmt.Errorf("%w: %w", ErrAdapterUnavailable, err)
}

// Scan discovers Kingsmith treadmill candidates for up to duration. A scan
// that finds nothing returns an empty, non-error slice — ScanEmpty is a
// Supervisor-level retry condition, not an Adapter-level error.
func (a *Adapter) Scan(ctx context.Context, duration time.Duration) ([]TreadmillDescriptor, error) {
	scanCtx, cancel := context.WithTimeout(ctx, duration)
	defer cancel()

	go func() {
		<-scanCtx.Done()
		_ = a.bt.StopScan()
	}()

	seen := make(map[string]struct{})
	var found []TreadmillDescriptor

	err := a.bt.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
		addr := result.Address.String()
		if _, ok := seen[addr]; ok {
			return
		}

		hasVendorService := result.HasServiceUUID(VendorServiceUUID)
		if !IsKingsmithCandidate(result.LocalName(), hasVendorService) {
			return
		}
		seen[addr] = struct{}{}

		found = append(found, TreadmillDescriptor{
			Address:        addr,
			AdvertisedName: result.LocalName(),
			RSSI:           result.RSSI,
		})
	})
	if err != nil {
		return nil, classifyAdapterErr(err)
	}

	return found, nil
}

// Session is a connected GATT client session to a treadmill.
type Session struct {
	device     bluetooth.Device
	writeChar  bluetooth.DeviceCharacteristic
	notifyChar bluetooth.DeviceCharacteristic
}

// ConnectCentral connects to descriptor and discovers the vendor service's
// write and notify characteristics. Fails with ErrProtocolMismatch if either
// is absent.
func (a *Adapter) ConnectCentral(ctx context.Context, descriptor TreadmillDescriptor) (*Session, error) {
	var addr bluetooth.Address
	addr.Set(descriptor.Address)

	device, err := a.bt.Connect(addr, bluetooth.ConnectionParams{})
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", descriptor.Address, err)
	}

	services, err := device.DiscoverServices([]bluetooth.UUID{VendorServiceUUID})
	if err != nil || len(services) == 0 {
		_ = device.Disconnect()
		return nil, fmt.Errorf("%w: discover services: %v", ErrProtocolMismatch, err)
	}

	var (
		writeChar, notifyChar   bluetooth.DeviceCharacteristic
		writeFound, notifyFound bool
	)
	for _, service := range services {
		chars, err := service.DiscoverCharacteristics(nil)
		if err != nil {
			_ = device.Disconnect()
			return nil, fmt.Errorf("%w: discover characteristics: %v", ErrProtocolMismatch, err)
		}
		for _, ch := range chars {
			switch ch.UUID() {
			case vendorNotifyCharUUID:
				notifyChar, notifyFound = ch, true
			case vendorWriteCharUUID:
				writeChar, writeFound = ch, true
			}
		}
	}

	if !writeFound || !notifyFound {
		_ = device.Disconnect()
		return nil, ErrProtocolMismatch
	}

	return &Session{device: device, writeChar: writeChar, notifyChar: notifyChar}, nil
}

// Subscribe installs handler as the notification callback for the stats
// characteristic.
func (s *Session) Subscribe(handler func(buf []byte)) error {
	return s.notifyChar.EnableNotifications(handler)
}

// WriteWithoutResponse sends buf to the command characteristic without
// waiting for an acknowledgement, per SPEC_FULL.md §4.3 step 4.
func (s *Session) WriteWithoutResponse(buf []byte) error {
	_, err := s.writeChar.WriteWithoutResponse(buf)
	return err
}

// Disconnect tears down the GATT session. Idempotent.
func (s *Session) Disconnect() error {
	return s.device.Disconnect()
}

// AdvertiseHandle controls a running peripheral advertisement.
type AdvertiseHandle struct {
	adv *bluetooth.Advertisement
}

// StartPeripheral registers svc as a GATT service and begins advertising
// advName. Returns ErrRoleConflict if the adapter cannot run central and
// peripheral roles simultaneously.
func (a *Adapter) StartPeripheral(svc *bluetooth.Service, advName string, serviceUUIDs []bluetooth.UUID) (*AdvertiseHandle, error) {
	if err := a.bt.AddService(svc); err != nil {
		return nil, fmt.Errorf("%w: add service: %v", ErrRoleConflict, err)
	}

	adv := a.bt.DefaultAdvertisement()
	err := adv.Configure(bluetooth.AdvertisementOptions{
		LocalName:    advName,
		ServiceUUIDs: serviceUUIDs,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: configure advertisement: %v", ErrRoleConflict, err)
	}
	if err := adv.Start(); err != nil {
		return nil, fmt.Errorf("%w: start advertisement: %v", ErrRoleConflict, err)
	}

	return &AdvertiseHandle{adv: adv}, nil
}

// Stop tears down advertising. The underlying GATT service tree stays
// registered with the adapter for the process lifetime, matching
// tinygo.org/x/bluetooth's lack of a RemoveService API.
func (h *AdvertiseHandle) Stop() error {
	if h == nil || h.adv == nil {
		return nil
	}
	return h.adv.Stop()
}
