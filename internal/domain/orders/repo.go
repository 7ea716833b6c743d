package orders

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/Spok95/shipment-recon/internal/infra/db"
)

type Repo struct{ db db.DB }

func NewRepo(d db.DB) *Repo { return &Repo{db: d} }

// FindQualifying ищет последний подтверждённый/закрытый заказ от получателя складу.
// Второе значение — сколько всего таких заказов нашлось.
func (r *Repo) FindQualifying(ctx context.Context, origin, destination int64) (*Order, int, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, from_id, to_id, status, created_at, updated_at, count(*) OVER ()
		FROM orders
		WHERE from_id = $1 AND to_id = $2 AND status IN ('approved','closed')
		ORDER BY updated_at DESC, id DESC
		LIMIT 1
	`, destination, origin)

	var (
		o          Order
		candidates int
	)
	if err := row.Scan(&o.ID, &o.FromID, &o.ToID, &o.Status, &o.CreatedAt, &o.UpdatedAt, &candidates); err != nil {
		if err == pgx.ErrNoRows {
			return nil, 0, nil
		}
		return nil, 0, err
	}

	rows, err := r.db.Query(ctx, `
		SELECT variant_id, qty FROM order_lines WHERE order_id = $1 ORDER BY id
	`, o.ID)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.VariantID, &l.Qty); err != nil {
			return nil, 0, err
		}
		o.Lines = append(o.Lines, l)
	}
	return &o, candidates, rows.Err()
}

func (r *Repo) Create(ctx context.Context, from, to int64, status Status, lines []Line) (int64, error) {
	var id int64
	if err := r.db.QueryRow(ctx, `
		INSERT INTO orders (from_id, to_id, status) VALUES ($1,$2,$3) RETURNING id
	`, from, to, string(status)).Scan(&id); err != nil {
		return 0, err
	}
	for _, l := range lines {
		if _, err := r.db.Exec(ctx, `
			INSERT INTO order_lines (order_id, variant_id, qty) VALUES ($1,$2,$3)
		`, id, l.VariantID, l.Qty); err != nil {
			return 0, err
		}
	}
	return id, nil
}
