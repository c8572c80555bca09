package bleadapter

import "errors"

// Sentinel errors for the taxonomy in SPEC_FULL.md §7. The adapter and
// codec layers never retry; callers (the Supervisor) own retry and backoff
// policy, so these are returned as-is rather than wrapped in custom types.
var (
	ErrAdapterUnavailable = errors.New("ble: adapter unavailable")
	ErrPermissionDenied   = errors.New("ble: permission denied")
	ErrRoleConflict       = errors.New("ble: adapter cannot be central and peripheral at once")
	ErrProtocolMismatch   = errors.New("ble: vendor service or characteristics not found")
)
