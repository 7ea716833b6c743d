package catalog

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/Spok95/shipment-recon/internal/infra/db"
)

type Repo struct{ db db.DB }

func NewRepo(d db.DB) *Repo { return &Repo{db: d} }

/* Warehouses */

func (r *Repo) CreateWarehouse(ctx context.Context, name string, t WarehouseType) (*Warehouse, error) {
	row := r.db.QueryRow(ctx, `
		INSERT INTO warehouses (name, type) VALUES ($1,$2)
		ON CONFLICT (name) DO NOTHING
		RETURNING id, name, type, active, created_at
	`, name, string(t))
	var w Warehouse
	err := row.Scan(&w.ID, &w.Name, &w.Type, &w.Active, &w.CreatedAt)
	if err == pgx.ErrNoRows {
		// Уже есть — вернём существующий
		return r.getWarehouse(ctx, `name = $1`, name)
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (r *Repo) GetWarehouseByID(ctx context.Context, id int64) (*Warehouse, error) {
	return r.getWarehouse(ctx, `id = $1`, id)
}

func (r *Repo) getWarehouse(ctx context.Context, where string, arg any) (*Warehouse, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, name, type, active, created_at
		FROM warehouses WHERE `+where, arg)
	var w Warehouse
	if err := row.Scan(&w.ID, &w.Name, &w.Type, &w.Active, &w.CreatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &w, nil
}

func (r *Repo) ListWarehouses(ctx context.Context) ([]Warehouse, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, name, type, active, created_at
		FROM warehouses
		WHERE active = TRUE
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Warehouse
	for rows.Next() {
		var w Warehouse
		if err := rows.Scan(&w.ID, &w.Name, &w.Type, &w.Active, &w.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

/* Variants */

func (r *Repo) CreateVariant(ctx context.Context, sku, name, imageURL string) (*Variant, error) {
	row := r.db.QueryRow(ctx, `
		INSERT INTO variants (sku, name, image_url) VALUES ($1,$2,$3)
		RETURNING id, sku, name, image_url, active, created_at
	`, sku, name, imageURL)
	var v Variant
	if err := row.Scan(&v.ID, &v.SKU, &v.Name, &v.ImageURL, &v.Active, &v.CreatedAt); err != nil {
		return nil, err
	}
	return &v, nil
}

func (r *Repo) GetVariant(ctx context.Context, id int64) (*Variant, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, sku, name, image_url, active, created_at
		FROM variants WHERE id = $1
	`, id)
	var v Variant
	if err := row.Scan(&v.ID, &v.SKU, &v.Name, &v.ImageURL, &v.Active, &v.CreatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &v, nil
}
