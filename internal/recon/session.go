package recon

import (
	"context"
	"errors"
	"fmt"
	"maps"

	"github.com/Spok95/shipment-recon/internal/domain/shipments"
	"github.com/Spok95/shipment-recon/internal/infra/events"
)

// SessionView — сессия с детальной статистикой и расхождениями с заказом.
type SessionView struct {
	Session       *shipments.Session
	Stats         DetailedStats
	Discrepancies []Discrepancy
}

func newView(s *shipments.Session, st DetailedStats) *SessionView {
	return &SessionView{Session: s, Stats: st, Discrepancies: Discrepancies(s.Expected, s.Scanned)}
}

// GetOrCreateSession возвращает открытую сессию пары или заводит новую.
func (e *Engine) GetOrCreateSession(ctx context.Context, origin, destination int64) (*SessionView, error) {
	if origin <= 0 || destination <= 0 {
		return nil, fmt.Errorf("%w: origin and destination are required", ErrInvalidRequest)
	}
	if origin == destination {
		return nil, fmt.Errorf("%w: origin equals destination", ErrInvalidRequest)
	}

	view, err := e.loadOpen(ctx, origin, destination)
	if err != nil || view != nil {
		return view, err
	}

	expected, err := e.baseline(ctx, origin, destination)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSessionCreateFailed, err)
	}

	s := &shipments.Session{
		OriginID:      origin,
		DestinationID: destination,
		Status:        shipments.StatusPending,
		MasterCodes:   []string{},
		UniqueCodes:   []string{},
		Expected:      expected,
		Scanned:       shipments.EmptyAggregate(),
	}
	err = e.uow.Do(ctx, func(ctx context.Context, r Repos) error {
		return r.Sessions.Create(ctx, s)
	})
	if errors.Is(err, shipments.ErrOpenSessionExists) {
		// параллельный запрос успел создать сессию первым
		view, err = e.loadOpen(ctx, origin, destination)
		if err != nil || view != nil {
			return view, err
		}
		return nil, ErrSessionCreateFailed
	}
	if err != nil {
		e.log.Error("create session failed", "origin", origin, "destination", destination, "err", err)
		return nil, fmt.Errorf("%w: %w", ErrSessionCreateFailed, err)
	}

	e.metrics.Session("opened")
	e.log.Info("session opened", "session_id", s.ID, "origin", origin, "destination", destination,
		"has_baseline", expected != nil)
	e.publish(ctx, events.New(events.SessionOpened, s.ID, origin, destination, expected))
	return newView(s, ComputeDetailedStats(nil, nil)), nil
}

// loadOpen находит открытую сессию пары и пересчитывает её агрегаты из журнала.
func (e *Engine) loadOpen(ctx context.Context, origin, destination int64) (*SessionView, error) {
	var view *SessionView
	err := e.uow.Do(ctx, func(ctx context.Context, r Repos) error {
		s, err := r.Sessions.FindOpen(ctx, origin, destination)
		if err != nil || s == nil {
			return err
		}
		before := s.Clone()
		st, err := recompute(ctx, r.Codes, s)
		if err != nil {
			return err
		}
		if !sameAggregate(before, s) {
			e.log.Warn("session aggregates drifted from code log, fixing",
				"session_id", s.ID, "stored_units", before.Scanned.TotalUnits, "units", s.Scanned.TotalUnits)
			if err := r.Sessions.Save(ctx, s); err != nil {
				return err
			}
		}
		view = newView(s, st)
		return nil
	})
	return view, err
}

// GetSession возвращает сессию в любом статусе.
func (e *Engine) GetSession(ctx context.Context, id int64) (*SessionView, error) {
	var view *SessionView
	err := e.uow.Do(ctx, func(ctx context.Context, r Repos) error {
		s, err := r.Sessions.Get(ctx, id)
		if err != nil {
			return err
		}
		if s == nil {
			return ErrSessionNotFound
		}
		st, err := detailedStats(ctx, r.Codes, s)
		if err != nil {
			return err
		}
		view = newView(s, st)
		return nil
	})
	return view, err
}

// baseline строит ожидаемые количества по заказу получателя, nil — заказа нет.
func (e *Engine) baseline(ctx context.Context, origin, destination int64) (*shipments.Baseline, error) {
	if e.orders == nil {
		return nil, nil
	}
	o, candidates, err := e.orders.FindQualifying(ctx, origin, destination)
	if err != nil {
		return nil, fmt.Errorf("find qualifying order: %w", err)
	}
	if o == nil {
		return nil, nil
	}
	if candidates > 1 {
		e.log.Warn("several qualifying orders, using the most recent",
			"origin", origin, "destination", destination, "order_id", o.ID, "candidates", candidates)
	}

	b := &shipments.Baseline{OrderID: o.ID, PerVariant: o.QtyByVariant(), Candidates: candidates}
	for _, q := range b.PerVariant {
		b.TotalUnits += q
	}
	return b, nil
}

func sameAggregate(a, b *shipments.Session) bool {
	return a.Status == b.Status &&
		a.Scanned.TotalUnits == b.Scanned.TotalUnits &&
		a.Scanned.TotalCases == b.Scanned.TotalCases &&
		maps.Equal(a.Scanned.PerVariant, b.Scanned.PerVariant)
}
