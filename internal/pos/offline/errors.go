package offline

import "errors"

var (
	// ErrEnqueueFailed means the sale was not durably written and must not be
	// reported to the cashier as accepted.
	ErrEnqueueFailed = errors.New("offline: enqueue failed")
	// ErrInvalidSale indicates the captured sale failed validation.
	ErrInvalidSale = errors.New("offline: invalid sale")
	// ErrNotFound indicates no queued sale matches the id.
	ErrNotFound = errors.New("offline: queued sale not found")
	// ErrInvalidTransition indicates the row is not in a state that allows
	// the requested status change.
	ErrInvalidTransition = errors.New("offline: invalid status transition")
)
