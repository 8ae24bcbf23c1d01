package ledger

import "context"

// ExpirationEntry is one row of the expiration ledger: the absolute unix
// timestamp (seconds, UTC) at which a principal's access to a pass type
// ends. A pair that was never touched has no entry and is treated as
// expired at the epoch.
type ExpirationEntry struct {
	Principal string `json:"principal"`
	PassID    uint64 `json:"pass_id"`
	ExpiresAt int64  `json:"expires_at"`
}

// Snapshot is the full persisted state of the engine, loaded once at
// startup.
type Snapshot struct {
	Types       []PassType
	Expirations []ExpirationEntry
	Balance     uint64
	Authority   string
}

// Store persists committed transitions. The engine invokes exactly one
// Store call per mutating operation while holding its lock, and only
// updates its in-memory state after the call returns nil, so a Store
// implementation backed by a database must apply each call in a single
// transaction. A Store never sees a partial transition.
type Store interface {
	// Load returns the persisted state. A fresh store returns an empty
	// snapshot with no error.
	Load(ctx context.Context) (Snapshot, error)

	// SavePassType writes a created or updated catalog entry.
	SavePassType(ctx context.Context, pt PassType) error

	// SavePurchase writes the post-purchase pass type (sold counter), the
	// holder's new expiration and the credited treasury balance together.
	SavePurchase(ctx context.Context, pt PassType, principal string, expiresAt int64, balance uint64) error

	// SaveGrant is SavePurchase without the treasury credit.
	SaveGrant(ctx context.Context, pt PassType, principal string, expiresAt int64) error

	// SaveRevoke writes the reset expiration for a holder.
	SaveRevoke(ctx context.Context, principal string, passID uint64, expiresAt int64) error

	// SaveBalance writes the treasury balance. Used for the withdraw debit
	// and for the compensating credit when a transfer fails.
	SaveBalance(ctx context.Context, balance uint64) error

	// SaveAuthority writes the current authority principal.
	SaveAuthority(ctx context.Context, principal string) error
}
