package shipments

import (
	"errors"
	"slices"
	"time"

	"github.com/Spok95/shipment-recon/internal/domain/codes"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusMatched   Status = "matched" // отсканировано ровно столько, сколько в заказе
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
)

// Open — сессию ещё можно менять.
func (s Status) Open() bool { return s == StatusPending || s == StatusMatched }

var (
	ErrOpenSessionExists = errors.New("shipments: open session already exists for pair")
	ErrVersionConflict   = errors.New("shipments: session version conflict")
)

// Baseline — ожидаемые количества из заказа получателя.
type Baseline struct {
	OrderID    int64           `json:"order_id"`
	TotalUnits int64           `json:"total_units"`
	PerVariant map[int64]int64 `json:"per_variant"`
	Candidates int             `json:"candidates,omitempty"`
}

// Aggregate — отсканированные количества, всегда пересчитываются из журнала кодов.
type Aggregate struct {
	TotalUnits int64           `json:"total_units"`
	TotalCases int64           `json:"total_cases"`
	PerVariant map[int64]int64 `json:"per_variant"`
}

// Confirmation — итог подтверждённой отгрузки. Хранится в сессии, чтобы повторное
// подтверждение вернуло тот же результат.
type Confirmation struct {
	ShipmentRef        string    `json:"shipment_ref"`
	SessionID          int64     `json:"session_id"`
	CasesShipped       int64     `json:"cases_shipped"`
	UnitsShipped       int64     `json:"units_shipped"`
	ManualUnitsShipped int64     `json:"manual_units_shipped"`
	ManualVariantID    int64     `json:"manual_variant_id,omitempty"`
	ManualMovementID   int64     `json:"manual_movement_id,omitempty"`
	ConfirmedAt        time.Time `json:"confirmed_at"`
}

type Session struct {
	ID              int64
	OriginID        int64
	DestinationID   int64
	Status          Status
	MasterCodes     []string
	UniqueCodes     []string
	Expected        *Baseline
	Scanned         Aggregate
	CommitStartedAt *time.Time
	Confirmation    *Confirmation
	IncidentID      *int64
	Version         int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Incident — несогласованность, которую нужно разбирать вручную
// (например, сторно ручного списания не прошло).
type Incident struct {
	ID           int64
	SessionID    int64
	MovementID   int64
	FailurePoint string
	Detail       string
	CreatedAt    time.Time
}

func (s *Session) Has(kind codes.Kind, code string) bool {
	switch kind {
	case codes.KindMaster:
		return slices.Contains(s.MasterCodes, code)
	case codes.KindUnique:
		return slices.Contains(s.UniqueCodes, code)
	}
	return false
}

func (s *Session) Append(kind codes.Kind, code string) {
	switch kind {
	case codes.KindMaster:
		s.MasterCodes = append(s.MasterCodes, code)
	case codes.KindUnique:
		s.UniqueCodes = append(s.UniqueCodes, code)
	}
}

func (s *Session) Remove(kind codes.Kind, code string) bool {
	del := func(list []string) ([]string, bool) {
		i := slices.Index(list, code)
		if i < 0 {
			return list, false
		}
		return slices.Delete(list, i, i+1), true
	}
	var ok bool
	switch kind {
	case codes.KindMaster:
		s.MasterCodes, ok = del(s.MasterCodes)
	case codes.KindUnique:
		s.UniqueCodes, ok = del(s.UniqueCodes)
	}
	return ok
}

func (s *Session) CodeCount() int { return len(s.MasterCodes) + len(s.UniqueCodes) }

// ClearScans сбрасывает журнал и агрегаты.
func (s *Session) ClearScans() {
	s.MasterCodes = []string{}
	s.UniqueCodes = []string{}
	s.Scanned = EmptyAggregate()
}

// CommitInFlight — идёт подтверждение, начатое не раньше чем ttl назад.
// Более старая метка считается брошенной (процесс упал посреди подтверждения).
func (s *Session) CommitInFlight(now time.Time, ttl time.Duration) bool {
	return s.CommitStartedAt != nil && now.Sub(*s.CommitStartedAt) < ttl
}

func EmptyAggregate() Aggregate {
	return Aggregate{PerVariant: map[int64]int64{}}
}

// Clone возвращает глубокую копию.
func (s *Session) Clone() *Session {
	c := *s
	c.MasterCodes = slices.Clone(s.MasterCodes)
	c.UniqueCodes = slices.Clone(s.UniqueCodes)
	c.Scanned.PerVariant = cloneMap(s.Scanned.PerVariant)
	if s.Expected != nil {
		e := *s.Expected
		e.PerVariant = cloneMap(s.Expected.PerVariant)
		c.Expected = &e
	}
	if s.Confirmation != nil {
		cf := *s.Confirmation
		c.Confirmation = &cf
	}
	if s.CommitStartedAt != nil {
		t := *s.CommitStartedAt
		c.CommitStartedAt = &t
	}
	if s.IncidentID != nil {
		id := *s.IncidentID
		c.IncidentID = &id
	}
	return &c
}

func cloneMap(m map[int64]int64) map[int64]int64 {
	out := make(map[int64]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
