package codes

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/Spok95/shipment-recon/internal/infra/db"
)

type Repo struct{ db db.DB }

func NewRepo(d db.DB) *Repo { return &Repo{db: d} }

func table(kind Kind) (string, error) {
	switch kind {
	case KindMaster:
		return "master_codes", nil
	case KindUnique:
		return "unique_codes", nil
	}
	return "", fmt.Errorf("codes: unsupported kind %q", kind)
}

const masterCols = `id, code, unit_count, status, variant_id, session_id, created_at, updated_at`
const uniqueCols = `id, code, status, variant_id, master_id, session_id, created_at, updated_at`

func scanMaster(row pgx.Row) (Master, error) {
	var m Master
	err := row.Scan(&m.ID, &m.Code, &m.UnitCount, &m.Status, &m.VariantID, &m.SessionID, &m.CreatedAt, &m.UpdatedAt)
	return m, err
}

func scanUnique(row pgx.Row) (Unique, error) {
	var u Unique
	err := row.Scan(&u.ID, &u.Code, &u.Status, &u.VariantID, &u.MasterID, &u.SessionID, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

/* Поиск */

func (r *Repo) LookupMaster(ctx context.Context, code string) (*Master, error) {
	m, err := scanMaster(r.db.QueryRow(ctx, `SELECT `+masterCols+` FROM master_codes WHERE code = $1`, code))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &m, nil
}

func (r *Repo) LookupUnique(ctx context.Context, code string) (*Unique, error) {
	u, err := scanUnique(r.db.QueryRow(ctx, `SELECT `+uniqueCols+` FROM unique_codes WHERE code = $1`, code))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}

func (r *Repo) LookupMasters(ctx context.Context, list []string) ([]Master, error) {
	if len(list) == 0 {
		return nil, nil
	}
	rows, err := r.db.Query(ctx, `SELECT `+masterCols+` FROM master_codes WHERE code = ANY($1) ORDER BY id`, list)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Master
	for rows.Next() {
		m, err := scanMaster(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *Repo) LookupUniques(ctx context.Context, list []string) ([]Unique, error) {
	if len(list) == 0 {
		return nil, nil
	}
	rows, err := r.db.Query(ctx, `SELECT `+uniqueCols+` FROM unique_codes WHERE code = ANY($1) ORDER BY id`, list)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Unique
	for rows.Next() {
		u, err := scanUnique(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// LockMaster читает короб по id под блокировкой строки. Скан короба и скан единицы
// из него сериализуются на этой строке.
func (r *Repo) LockMaster(ctx context.Context, id int64) (*Master, error) {
	m, err := scanMaster(r.db.QueryRow(ctx, `SELECT `+masterCols+` FROM master_codes WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &m, nil
}

// Nested — единицы, упакованные в короб.
func (r *Repo) Nested(ctx context.Context, masterID int64) ([]Unique, error) {
	rows, err := r.db.Query(ctx, `SELECT `+uniqueCols+` FROM unique_codes WHERE master_id = $1 ORDER BY id`, masterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Unique
	for rows.Next() {
		u, err := scanUnique(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

/* Переходы статусов */

// Reserve переводит код packed → scanned за сессией. false — код уже не в packed
// (его успела забрать другая сессия или он отгружен).
func (r *Repo) Reserve(ctx context.Context, kind Kind, code string, sessionID int64) (bool, error) {
	t, err := table(kind)
	if err != nil {
		return false, err
	}
	tag, err := r.db.Exec(ctx, `
		UPDATE `+t+`
		SET status = 'scanned', session_id = $2, updated_at = now()
		WHERE code = $1 AND status = 'packed'
	`, code, sessionID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Release возвращает коды сессии в packed. Возвращает число изменённых строк.
func (r *Repo) Release(ctx context.Context, kind Kind, list []string, sessionID int64) (int64, error) {
	return r.transition(ctx, kind, list, sessionID, StatusScanned, StatusPacked)
}

// MarkShipped отгружает зарезервированные сессией коды.
func (r *Repo) MarkShipped(ctx context.Context, kind Kind, list []string, sessionID int64) (int64, error) {
	return r.transition(ctx, kind, list, sessionID, StatusScanned, StatusShipped)
}

// ShipNested отгружает свободные единицы внутри отгружаемых коробов и привязывает их к сессии.
func (r *Repo) ShipNested(ctx context.Context, masterIDs []int64, sessionID int64) (int64, error) {
	if len(masterIDs) == 0 {
		return 0, nil
	}
	tag, err := r.db.Exec(ctx, `
		UPDATE unique_codes
		SET status = 'shipped', session_id = $2, updated_at = now()
		WHERE master_id = ANY($1) AND status = 'packed'
	`, masterIDs, sessionID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *Repo) transition(ctx context.Context, kind Kind, list []string, sessionID int64, from, to Status) (int64, error) {
	if len(list) == 0 {
		return 0, nil
	}
	t, err := table(kind)
	if err != nil {
		return 0, err
	}
	// в packed код снова свободен, в shipped остаётся привязка к сессии для истории
	tag, err := r.db.Exec(ctx, `
		UPDATE `+t+`
		SET status = $4,
		    session_id = CASE WHEN $4 = 'packed' THEN NULL ELSE session_id END,
		    updated_at = now()
		WHERE code = ANY($1) AND session_id = $2 AND status = $3
	`, list, sessionID, string(from), string(to))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

/* Заведение кодов (упаковка — вне движка, нужно для сидов и тестов) */

func (r *Repo) CreateMaster(ctx context.Context, code string, unitCount, variantID int64) (*Master, error) {
	m, err := scanMaster(r.db.QueryRow(ctx, `
		INSERT INTO master_codes (code, unit_count, variant_id)
		VALUES ($1,$2,$3)
		RETURNING `+masterCols, code, unitCount, variantID))
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *Repo) CreateUnique(ctx context.Context, code string, variantID int64, masterID *int64) (*Unique, error) {
	u, err := scanUnique(r.db.QueryRow(ctx, `
		INSERT INTO unique_codes (code, variant_id, master_id)
		VALUES ($1,$2,$3)
		RETURNING `+uniqueCols, code, variantID, masterID))
	if err != nil {
		return nil, err
	}
	return &u, nil
}
