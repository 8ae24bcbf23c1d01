package repository

import (
	"context"
	"database/sql"

	"github.com/iliyamo/access-pass-service/internal/ledger"
)

// PassTypeRepo persists the pass-type catalog. The ledger engine assigns
// IDs and owns the sold counter; this repository writes whatever committed
// state the engine hands it.
type PassTypeRepo struct{ DB *sql.DB }

func NewPassTypeRepo(db *sql.DB) *PassTypeRepo { return &PassTypeRepo{DB: db} }

// UpsertTx writes a full catalog row inside the caller's transaction.
func (r *PassTypeRepo) UpsertTx(ctx context.Context, tx *sql.Tx, pt ledger.PassType) error {
	const q = `INSERT INTO pass_types (id, name, price_cents, duration_secs, max_supply, sold, is_active, stackable)
	           VALUES (?,?,?,?,?,?,?,?)
	           ON DUPLICATE KEY UPDATE
	             name=VALUES(name), price_cents=VALUES(price_cents),
	             duration_secs=VALUES(duration_secs), max_supply=VALUES(max_supply),
	             sold=VALUES(sold), is_active=VALUES(is_active), stackable=VALUES(stackable)`
	_, err := tx.ExecContext(ctx, q,
		pt.ID, pt.Name, pt.PriceCents, pt.DurationSecs, pt.MaxSupply, pt.Sold, pt.Active, pt.Stackable)
	return err
}

// ListAll returns the whole catalog ordered by id, for the startup
// snapshot load.
func (r *PassTypeRepo) ListAll(ctx context.Context) ([]ledger.PassType, error) {
	const q = `SELECT id, name, price_cents, duration_secs, max_supply, sold, is_active, stackable
	           FROM pass_types ORDER BY id`
	rows, err := r.DB.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.PassType
	for rows.Next() {
		var pt ledger.PassType
		if err := rows.Scan(&pt.ID, &pt.Name, &pt.PriceCents, &pt.DurationSecs,
			&pt.MaxSupply, &pt.Sold, &pt.Active, &pt.Stackable); err != nil {
			return nil, err
		}
		out = append(out, pt)
	}
	return out, rows.Err()
}
