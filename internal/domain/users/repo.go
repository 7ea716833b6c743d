package users

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/Spok95/shipment-recon/internal/infra/db"
)

type Repo struct{ db db.DB }

func NewRepo(d db.DB) *Repo { return &Repo{db: d} }

const operatorCols = `id, telegram_id, username, name, warehouse_id, created_at, updated_at`

func scanOperator(row pgx.Row) (*Operator, error) {
	var o Operator
	if err := row.Scan(&o.ID, &o.TelegramID, &o.Username, &o.Name, &o.WarehouseID, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *Repo) GetByTelegramID(ctx context.Context, tgID int64) (*Operator, error) {
	o, err := scanOperator(r.db.QueryRow(ctx, `SELECT `+operatorCols+` FROM operators WHERE telegram_id = $1`, tgID))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return o, err
}

// UpsertFromTelegram обновляет профиль, привязку к складу не трогает.
func (r *Repo) UpsertFromTelegram(ctx context.Context, tg Telegram) (*Operator, error) {
	return scanOperator(r.db.QueryRow(ctx, `
		INSERT INTO operators (telegram_id, username, name)
		VALUES ($1,$2,$3)
		ON CONFLICT (telegram_id)
		DO UPDATE SET
			username   = EXCLUDED.username,
			name       = EXCLUDED.name,
			updated_at = now()
		RETURNING `+operatorCols, tg.ID, tg.Username, tg.FullName()))
}

func (r *Repo) SetWarehouse(ctx context.Context, id, warehouseID int64) (*Operator, error) {
	return scanOperator(r.db.QueryRow(ctx, `
		UPDATE operators SET warehouse_id = $2, updated_at = now()
		WHERE id = $1
		RETURNING `+operatorCols, id, warehouseID))
}
