package recon

import (
	"context"
	"fmt"

	"github.com/Spok95/shipment-recon/internal/domain/codes"
	"github.com/Spok95/shipment-recon/internal/domain/shipments"
	"github.com/Spok95/shipment-recon/internal/infra/events"
)

// UnlinkCode убирает код из сессии и возвращает его в packed.
func (e *Engine) UnlinkCode(ctx context.Context, sessionID int64, raw string) (*SessionView, error) {
	code, kind := e.classifier.Classify(raw)

	var view *SessionView
	err := e.uow.Do(ctx, func(ctx context.Context, r Repos) error {
		s, err := e.lockOpen(ctx, r, sessionID)
		if err != nil {
			return err
		}
		if kind == codes.KindUnknown {
			return ErrInvalidCode
		}
		if !s.Has(kind, code) {
			return ErrCodeNotInSession
		}
		n, err := r.Codes.Release(ctx, kind, []string{code}, s.ID)
		if err != nil {
			return err
		}
		if n != 1 {
			return fmt.Errorf("release %s: registry row is not reserved by session %d", code, s.ID)
		}
		s.Remove(kind, code)
		st, err := recompute(ctx, r.Codes, s)
		if err != nil {
			return err
		}
		if err := r.Sessions.Save(ctx, s); err != nil {
			return err
		}
		view = newView(s, st)
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.log.Info("code unlinked", "session_id", sessionID, "code", code, "kind", kind)
	return view, nil
}

// CancelSession возвращает все коды сессии в packed и закрывает её. Всё или ничего:
// если хоть один код не удалось вернуть, транзакция откатывается.
func (e *Engine) CancelSession(ctx context.Context, sessionID int64) (*SessionView, error) {
	var (
		view     *SessionView
		released int
		already  bool
	)
	err := e.uow.Do(ctx, func(ctx context.Context, r Repos) error {
		s, err := r.Sessions.Lock(ctx, sessionID)
		if err != nil {
			return err
		}
		if s == nil {
			return ErrSessionNotFound
		}
		switch s.Status {
		case shipments.StatusCancelled:
			already = true
			view = newView(s, ComputeDetailedStats(nil, nil))
			return nil
		case shipments.StatusConfirmed:
			return ErrSessionClosed
		}
		if s.CommitInFlight(e.now(), e.cfg.CommitTimeout) {
			return ErrSessionCommitting
		}

		for _, kl := range []struct {
			kind codes.Kind
			list []string
		}{{codes.KindMaster, s.MasterCodes}, {codes.KindUnique, s.UniqueCodes}} {
			n, err := r.Codes.Release(ctx, kl.kind, kl.list, s.ID)
			if err != nil {
				return err
			}
			if n != int64(len(kl.list)) {
				return fmt.Errorf("release %s codes: %d of %d reserved by session %d", kl.kind, n, len(kl.list), s.ID)
			}
		}

		released = s.CodeCount()
		s.Status = shipments.StatusCancelled
		s.CommitStartedAt = nil
		s.ClearScans()
		if err := r.Sessions.Save(ctx, s); err != nil {
			return err
		}
		view = newView(s, ComputeDetailedStats(nil, nil))
		return nil
	})
	if err != nil {
		return nil, err
	}
	if already {
		return view, nil
	}

	s := view.Session
	e.metrics.Session("cancelled")
	e.log.Info("session cancelled", "session_id", s.ID, "released", released)
	e.publish(ctx, events.New(events.ShipmentCancelled, s.ID, s.OriginID, s.DestinationID, map[string]int{"released": released}))
	return view, nil
}
