package shipments

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/Spok95/shipment-recon/internal/infra/db"
)

type Repo struct{ db db.DB }

func NewRepo(d db.DB) *Repo { return &Repo{db: d} }

const sessionCols = `id, origin_id, destination_id, status, master_codes, unique_codes,
	expected, scanned, commit_started_at, confirmation, incident_id, version, created_at, updated_at`

func scanSession(row pgx.Row) (*Session, error) {
	var (
		s                          Session
		expected, scanned, confirm []byte
	)
	if err := row.Scan(
		&s.ID, &s.OriginID, &s.DestinationID, &s.Status, &s.MasterCodes, &s.UniqueCodes,
		&expected, &scanned, &s.CommitStartedAt, &confirm, &s.IncidentID, &s.Version,
		&s.CreatedAt, &s.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if len(expected) > 0 {
		s.Expected = &Baseline{}
		if err := json.Unmarshal(expected, s.Expected); err != nil {
			return nil, fmt.Errorf("decode expected: %w", err)
		}
	}
	s.Scanned = EmptyAggregate()
	if len(scanned) > 0 {
		if err := json.Unmarshal(scanned, &s.Scanned); err != nil {
			return nil, fmt.Errorf("decode scanned: %w", err)
		}
		if s.Scanned.PerVariant == nil {
			s.Scanned.PerVariant = map[int64]int64{}
		}
	}
	if len(confirm) > 0 {
		s.Confirmation = &Confirmation{}
		if err := json.Unmarshal(confirm, s.Confirmation); err != nil {
			return nil, fmt.Errorf("decode confirmation: %w", err)
		}
	}
	if s.MasterCodes == nil {
		s.MasterCodes = []string{}
	}
	if s.UniqueCodes == nil {
		s.UniqueCodes = []string{}
	}
	return &s, nil
}

func one(s *Session, err error) (*Session, error) {
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return s, err
}

// nullJSON кодирует значение, nil-указатель уходит в SQL NULL.
func nullJSON[T any](v *T) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func (r *Repo) Get(ctx context.Context, id int64) (*Session, error) {
	return one(scanSession(r.db.QueryRow(ctx, `SELECT `+sessionCols+` FROM shipment_sessions WHERE id = $1`, id)))
}

// Lock читает сессию под row-level блокировкой до конца транзакции.
// Все изменения сессии идут через него — это и есть сериализация по сессии.
func (r *Repo) Lock(ctx context.Context, id int64) (*Session, error) {
	return one(scanSession(r.db.QueryRow(ctx, `SELECT `+sessionCols+` FROM shipment_sessions WHERE id = $1 FOR UPDATE`, id)))
}

func (r *Repo) FindOpen(ctx context.Context, origin, destination int64) (*Session, error) {
	return one(scanSession(r.db.QueryRow(ctx, `
		SELECT `+sessionCols+`
		FROM shipment_sessions
		WHERE origin_id = $1 AND destination_id = $2 AND status IN ('pending','matched')
		FOR UPDATE
	`, origin, destination)))
}

// Create вставляет новую сессию. Если для пары уже есть открытая — ErrOpenSessionExists.
func (r *Repo) Create(ctx context.Context, s *Session) error {
	expected, err := nullJSON(s.Expected)
	if err != nil {
		return err
	}
	scanned, err := json.Marshal(s.Scanned)
	if err != nil {
		return err
	}
	err = r.db.QueryRow(ctx, `
		INSERT INTO shipment_sessions (origin_id, destination_id, status, master_codes, unique_codes, expected, scanned)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING id, version, created_at, updated_at
	`, s.OriginID, s.DestinationID, string(s.Status), s.MasterCodes, s.UniqueCodes, expected, scanned).
		Scan(&s.ID, &s.Version, &s.CreatedAt, &s.UpdatedAt)
	if db.UniqueViolation(err) {
		return ErrOpenSessionExists
	}
	return err
}

// Save пишет сессию с проверкой версии.
func (r *Repo) Save(ctx context.Context, s *Session) error {
	expected, err := nullJSON(s.Expected)
	if err != nil {
		return err
	}
	confirm, err := nullJSON(s.Confirmation)
	if err != nil {
		return err
	}
	scanned, err := json.Marshal(s.Scanned)
	if err != nil {
		return err
	}
	err = r.db.QueryRow(ctx, `
		UPDATE shipment_sessions SET
			status = $3, master_codes = $4, unique_codes = $5, expected = $6, scanned = $7,
			commit_started_at = $8, confirmation = $9, incident_id = $10,
			version = version + 1, updated_at = now()
		WHERE id = $1 AND version = $2
		RETURNING version, updated_at
	`, s.ID, s.Version, string(s.Status), s.MasterCodes, s.UniqueCodes, expected, scanned,
		s.CommitStartedAt, confirm, s.IncidentID).Scan(&s.Version, &s.UpdatedAt)
	if err == pgx.ErrNoRows {
		return fmt.Errorf("%w: session %d", ErrVersionConflict, s.ID)
	}
	return err
}

func (r *Repo) RecordIncident(ctx context.Context, inc Incident) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `
		INSERT INTO reconciliation_incidents (session_id, movement_id, failure_point, detail)
		VALUES ($1,$2,$3,$4)
		RETURNING id
	`, inc.SessionID, inc.MovementID, inc.FailurePoint, inc.Detail).Scan(&id)
	return id, err
}
