// Package bridge implements the top-level bridge supervisor state machine:
// scan → connect → bridge → reconnect → teardown over one shared BLE
// adapter, per SPEC_FULL.md §4.6.
package bridge

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind is the tag of the BridgeState variant in SPEC_FULL.md §3.
type Kind int

const (
	Idle Kind = iota
	Scanning
	Connecting
	Connected
	Bridging
	ErrorState
)

func (k Kind) String() string {
	switch k {
	case Idle:
		return "idle"
	case Scanning:
		return "scanning"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Bridging:
		return "bridging"
	case ErrorState:
		return "error"
	default:
		return "unknown"
	}
}

// ErrorKind discriminates the Error(kind, retry_at) variant's payload.
type ErrorKind int

const (
	ErrorNone ErrorKind = iota
	ErrorConnectFail
	ErrorLinkLost
	// ErrorRoleConflict has a String() case for logging and metric labels
	// but never appears as a State.ErrKind: per SPEC_FULL.md §7, a role
	// conflict surfaces and leaves the supervisor in Connected, refusing
	// Bridging, rather than entering Error(kind, retry_at).
	ErrorRoleConflict
	ErrorProtocolMismatch
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorConnectFail:
		return "connect_fail"
	case ErrorLinkLost:
		return "link_lost"
	case ErrorRoleConflict:
		return "role_conflict"
	case ErrorProtocolMismatch:
		return "protocol_mismatch"
	default:
		return "none"
	}
}

// State is the tagged BridgeState variant. The zero value is Idle.
type State struct {
	Kind Kind

	// Address and Episode are set for Connecting, Connected, and Bridging.
	Address string
	Episode uuid.UUID

	// ErrKind and RetryAt are set for ErrorState.
	ErrKind ErrorKind
	RetryAt time.Time
}

func (s State) String() string {
	switch s.Kind {
	case Connecting, Connected, Bridging:
		return fmt.Sprintf("%s(%s)", s.Kind, s.Address)
	case ErrorState:
		return fmt.Sprintf("error(%s, retry_at=%s)", s.ErrKind, s.RetryAt.Format(time.RFC3339))
	default:
		return s.Kind.String()
	}
}

func idleState() State { return State{Kind: Idle} }

func scanningState() State { return State{Kind: Scanning} }

func connectingState(address string) State {
	return State{Kind: Connecting, Address: address, Episode: uuid.New()}
}

func connectedState(address string, episode uuid.UUID) State {
	return State{Kind: Connected, Address: address, Episode: episode}
}

func bridgingState(address string, episode uuid.UUID) State {
	return State{Kind: Bridging, Address: address, Episode: episode}
}

func errorState(kind ErrorKind, retryAt time.Time) State {
	return State{Kind: ErrorState, ErrKind: kind, RetryAt: retryAt}
}
