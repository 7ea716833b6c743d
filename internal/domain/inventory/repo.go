package inventory

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repo struct{ pool *pgxpool.Pool }

func NewRepo(pool *pgxpool.Pool) *Repo { return &Repo{pool: pool} }

// applyTx меняет остаток и пишет движение в рамках tx. Возвращает id движения.
func applyTx(ctx context.Context, tx pgx.Tx, actorID, warehouseID, variantID, delta int64, mtype MoveType, note string, reverses *int64) (int64, error) {
	if _, err := tx.Exec(ctx, `
		INSERT INTO balances (warehouse_id, variant_id, qty)
		VALUES ($1,$2,$3)
		ON CONFLICT (warehouse_id, variant_id)
		DO UPDATE SET qty = balances.qty + EXCLUDED.qty
	`, warehouseID, variantID, delta); err != nil {
		return 0, err
	}

	var id int64
	if err := tx.QueryRow(ctx, `
		INSERT INTO movements (actor_id, warehouse_id, variant_id, qty, type, note, reverses_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING id
	`, actorID, warehouseID, variantID, delta, string(mtype), note, reverses).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func (r *Repo) Receive(ctx context.Context, actorID, warehouseID, variantID, qty int64, note string) (int64, error) {
	if qty <= 0 {
		return 0, ErrInvalidQty
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	id, err := applyTx(ctx, tx, actorID, warehouseID, variantID, qty, MoveIn, note, nil)
	if err != nil {
		return 0, err
	}
	return id, tx.Commit(ctx)
}

// Debit списывает qty с проверкой остатка: в отличие от прихода, в минус уходить нельзя.
func (r *Repo) Debit(ctx context.Context, actorID, warehouseID, variantID, qty int64, note string) (int64, error) {
	if qty <= 0 {
		return 0, ErrInvalidQty
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var bal int64
	err = tx.QueryRow(ctx, `
		SELECT qty FROM balances
		WHERE warehouse_id = $1 AND variant_id = $2
		FOR UPDATE
	`, warehouseID, variantID).Scan(&bal)
	if err != nil && err != pgx.ErrNoRows {
		return 0, err
	}
	if bal < qty {
		return 0, fmt.Errorf("%w: have %d, need %d", ErrInsufficientBalance, bal, qty)
	}

	id, err := applyTx(ctx, tx, actorID, warehouseID, variantID, -qty, MoveOut, note, nil)
	if err != nil {
		return 0, err
	}
	return id, tx.Commit(ctx)
}

// Reverse сторнирует движение. Повторный вызов для уже сторнированного движения — no-op.
func (r *Repo) Reverse(ctx context.Context, movementID int64, reason string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var m Movement
	err = tx.QueryRow(ctx, `
		SELECT id, actor_id, warehouse_id, variant_id, qty, type, reversed_by
		FROM movements WHERE id = $1
		FOR UPDATE
	`, movementID).Scan(&m.ID, &m.ActorID, &m.WarehouseID, &m.VariantID, &m.Qty, &m.Type, &m.ReversedBy)
	if err == pgx.ErrNoRows {
		return fmt.Errorf("%w: %d", ErrMovementNotFound, movementID)
	}
	if err != nil {
		return err
	}
	if m.ReversedBy != nil {
		return nil
	}
	if m.Type == MoveReversal {
		return fmt.Errorf("%w: %d is a reversal", ErrNotReversible, movementID)
	}

	revID, err := applyTx(ctx, tx, m.ActorID, m.WarehouseID, m.VariantID, -m.Qty, MoveReversal, reason, &m.ID)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `UPDATE movements SET reversed_by = $2 WHERE id = $1`, m.ID, revID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// GetBalance возвращает текущий остаток по складу/варианту (0, nil если записи нет).
func (r *Repo) GetBalance(ctx context.Context, warehouseID, variantID int64) (int64, error) {
	var qty int64
	err := r.pool.
		QueryRow(ctx, `
			SELECT qty
			FROM balances
			WHERE warehouse_id = $1 AND variant_id = $2
		`, warehouseID, variantID).
		Scan(&qty)
	if err == pgx.ErrNoRows {
		return 0, nil
	}
	return qty, err
}

func (r *Repo) GetMovement(ctx context.Context, id int64) (*Movement, error) {
	var m Movement
	err := r.pool.QueryRow(ctx, `
		SELECT id, created_at, actor_id, warehouse_id, variant_id, qty, type, note, reverses_id, reversed_by
		FROM movements WHERE id = $1
	`, id).Scan(&m.ID, &m.CreatedAt, &m.ActorID, &m.WarehouseID, &m.VariantID, &m.Qty, &m.Type, &m.Note, &m.ReversesID, &m.ReversedBy)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &m, nil
}
