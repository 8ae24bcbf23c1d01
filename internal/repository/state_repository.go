package repository

import (
	"context"
	"database/sql"
	"errors"
)

// StateRepo persists the single-row ledger_state table holding the
// treasury balance and the current authority principal.
type StateRepo struct{ DB *sql.DB }

func NewStateRepo(db *sql.DB) *StateRepo { return &StateRepo{DB: db} }

// Get returns the persisted balance and authority. A fresh database
// yields zero values with no error.
func (r *StateRepo) Get(ctx context.Context) (balance uint64, authority string, err error) {
	err = r.DB.QueryRowContext(ctx,
		"SELECT balance_cents, authority FROM ledger_state WHERE id=1").
		Scan(&balance, &authority)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, "", nil
	}
	return balance, authority, err
}

// SetBalanceTx writes the treasury balance inside the caller's
// transaction, creating the state row if needed.
func (r *StateRepo) SetBalanceTx(ctx context.Context, tx *sql.Tx, balance uint64) error {
	const q = `INSERT INTO ledger_state (id, balance_cents, authority)
	           VALUES (1, ?, '')
	           ON DUPLICATE KEY UPDATE balance_cents=VALUES(balance_cents)`
	_, err := tx.ExecContext(ctx, q, balance)
	return err
}

// SetAuthorityTx writes the authority principal inside the caller's
// transaction, creating the state row if needed.
func (r *StateRepo) SetAuthorityTx(ctx context.Context, tx *sql.Tx, authority string) error {
	const q = `INSERT INTO ledger_state (id, balance_cents, authority)
	           VALUES (1, 0, ?)
	           ON DUPLICATE KEY UPDATE authority=VALUES(authority)`
	_, err := tx.ExecContext(ctx, q, authority)
	return err
}
