// Package ledger implements the access-pass state machine: the pass-type
// catalog, the per-holder expiration ledger, supply-cap accounting and the
// treasury. Every mutating operation is atomic; callers supply the clock
// and their identity explicitly so the engine stays deterministic.
package ledger

import "errors"

// Sentinel errors returned by Engine operations. Handlers compare these
// with errors.Is and translate them into HTTP status codes.
var (
	// ErrNotAuthorized is returned when a caller other than the current
	// authority invokes an administrative operation.
	ErrNotAuthorized = errors.New("not authorized")

	// ErrNotFound is returned when a pass type ID has never been created.
	ErrNotFound = errors.New("pass type not found")

	// ErrInvalidDuration is returned when creating or updating a pass type
	// with a zero duration. A zero duration is the "does not exist"
	// sentinel in storage and can never be a valid catalog entry.
	ErrInvalidDuration = errors.New("duration must be positive")

	// ErrInvalidQuantity is returned for zero quantities and for
	// quantities large enough to overflow price or expiration arithmetic.
	ErrInvalidQuantity = errors.New("invalid quantity")

	// ErrZeroPrincipal is returned when an operation targets the empty
	// principal.
	ErrZeroPrincipal = errors.New("principal required")

	// ErrSalesPaused is returned by Purchase when the pass type exists but
	// is not active. Grants are not gated by the active flag.
	ErrSalesPaused = errors.New("sales paused for pass type")

	// ErrSoldOut is returned when a purchase or grant would push sold
	// units past a non-zero max supply.
	ErrSoldOut = errors.New("pass type sold out")

	// ErrWrongAmount is returned when the paid amount does not exactly
	// match price * quantity. No overpayment, no change-giving.
	ErrWrongAmount = errors.New("paid amount does not match price")

	// ErrNotActive is returned by Revoke when the holder has no window
	// extending past "now" — there is nothing to revoke.
	ErrNotActive = errors.New("pass not active")

	// ErrInsufficientFunds is returned by Withdraw when the requested
	// amount exceeds the treasury balance.
	ErrInsufficientFunds = errors.New("insufficient treasury balance")

	// ErrTransferFailed is returned by Withdraw when the external value
	// transfer reports failure. The balance debit is rolled back before
	// this error is returned.
	ErrTransferFailed = errors.New("external transfer failed")
)
