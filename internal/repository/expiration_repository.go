package repository

import (
	"context"
	"database/sql"

	"github.com/iliyamo/access-pass-service/internal/ledger"
)

// ExpirationRepo persists the per-(principal, pass type) expiration
// ledger. Rows are only ever upserted — revoke writes "now", never a
// delete — matching the append-only semantics of the engine.
type ExpirationRepo struct{ DB *sql.DB }

func NewExpirationRepo(db *sql.DB) *ExpirationRepo { return &ExpirationRepo{DB: db} }

// UpsertTx writes one ledger entry inside the caller's transaction.
func (r *ExpirationRepo) UpsertTx(ctx context.Context, tx *sql.Tx, principal string, passID uint64, expiresAt int64) error {
	const q = `INSERT INTO pass_expirations (principal, pass_type_id, expires_at)
	           VALUES (?,?,?)
	           ON DUPLICATE KEY UPDATE expires_at=VALUES(expires_at)`
	_, err := tx.ExecContext(ctx, q, principal, passID, expiresAt)
	return err
}

// ListAll returns every ledger entry, for the startup snapshot load.
func (r *ExpirationRepo) ListAll(ctx context.Context) ([]ledger.ExpirationEntry, error) {
	const q = `SELECT principal, pass_type_id, expires_at FROM pass_expirations`
	rows, err := r.DB.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.ExpirationEntry
	for rows.Next() {
		var en ledger.ExpirationEntry
		if err := rows.Scan(&en.Principal, &en.PassID, &en.ExpiresAt); err != nil {
			return nil, err
		}
		out = append(out, en)
	}
	return out, rows.Err()
}
