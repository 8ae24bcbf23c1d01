package repository

import (
	"context"
	"database/sql"

	"github.com/iliyamo/access-pass-service/internal/ledger"
)

// LedgerStore implements ledger.Store over MySQL. Each Save call runs in
// its own transaction so a transition either lands completely or not at
// all; the engine holds its lock across the call, which keeps the
// database and the in-memory state in step.
type LedgerStore struct {
	DB    *sql.DB
	Types *PassTypeRepo
	Exps  *ExpirationRepo
	State *StateRepo
}

// NewLedgerStore wires the repositories over one DB handle.
func NewLedgerStore(db *sql.DB) *LedgerStore {
	if db == nil {
		panic("nil db passed to NewLedgerStore")
	}
	return &LedgerStore{
		DB:    db,
		Types: NewPassTypeRepo(db),
		Exps:  NewExpirationRepo(db),
		State: NewStateRepo(db),
	}
}

// withTx runs fn inside a transaction, rolling back unless committed.
func (s *LedgerStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

func (s *LedgerStore) Load(ctx context.Context) (ledger.Snapshot, error) {
	var snap ledger.Snapshot
	types, err := s.Types.ListAll(ctx)
	if err != nil {
		return snap, err
	}
	exps, err := s.Exps.ListAll(ctx)
	if err != nil {
		return snap, err
	}
	balance, authority, err := s.State.Get(ctx)
	if err != nil {
		return snap, err
	}
	snap.Types = types
	snap.Expirations = exps
	snap.Balance = balance
	snap.Authority = authority
	return snap, nil
}

func (s *LedgerStore) SavePassType(ctx context.Context, pt ledger.PassType) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return s.Types.UpsertTx(ctx, tx, pt)
	})
}

func (s *LedgerStore) SavePurchase(ctx context.Context, pt ledger.PassType, principal string, expiresAt int64, balance uint64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.Types.UpsertTx(ctx, tx, pt); err != nil {
			return err
		}
		if err := s.Exps.UpsertTx(ctx, tx, principal, pt.ID, expiresAt); err != nil {
			return err
		}
		return s.State.SetBalanceTx(ctx, tx, balance)
	})
}

func (s *LedgerStore) SaveGrant(ctx context.Context, pt ledger.PassType, principal string, expiresAt int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.Types.UpsertTx(ctx, tx, pt); err != nil {
			return err
		}
		return s.Exps.UpsertTx(ctx, tx, principal, pt.ID, expiresAt)
	})
}

func (s *LedgerStore) SaveRevoke(ctx context.Context, principal string, passID uint64, expiresAt int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return s.Exps.UpsertTx(ctx, tx, principal, passID, expiresAt)
	})
}

func (s *LedgerStore) SaveBalance(ctx context.Context, balance uint64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return s.State.SetBalanceTx(ctx, tx, balance)
	})
}

func (s *LedgerStore) SaveAuthority(ctx context.Context, principal string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return s.State.SetAuthorityTx(ctx, tx, principal)
	})
}
