package recon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/Spok95/shipment-recon/internal/domain/codes"
	"github.com/Spok95/shipment-recon/internal/domain/inventory"
	"github.com/Spok95/shipment-recon/internal/domain/shipments"
	"github.com/Spok95/shipment-recon/internal/infra/events"
)

// ConfirmRequest — ручное (не QR) количество указывается вместе с вариантом.
type ConfirmRequest struct {
	ActorID         int64
	ManualVariantID int64
	ManualQty       int64
}

// SagaState — шаг подтверждения отгрузки.
type SagaState string

const (
	SagaStarted            SagaState = "started"
	SagaManualDebited      SagaState = "manual_debited"
	SagaCodesCommitted     SagaState = "codes_committed"
	SagaCompensating       SagaState = "compensating"
	SagaCompensated        SagaState = "compensated"
	SagaCompensationFailed SagaState = "compensation_failed"
)

type commitSaga struct {
	log        *slog.Logger
	state      SagaState
	sessionID  int64
	ref        string
	movementID int64
}

func (s *commitSaga) to(state SagaState, args ...any) {
	s.state = state
	s.log.Info("commit saga", append([]any{"state", state, "movement_id", s.movementID}, args...)...)
}

// Confirm подтверждает отгрузку: сначала ручное списание (фаза A), затем отгрузка
// кодов (фаза B). Если фаза B не прошла, списание сторнируется. Повторный вызов для
// подтверждённой сессии возвращает прежний результат.
func (e *Engine) Confirm(ctx context.Context, sessionID int64, req ConfirmRequest) (*shipments.Confirmation, error) {
	if req.ManualQty < 0 || (req.ManualQty > 0 && req.ManualVariantID <= 0) {
		e.metrics.Commit("rejected")
		return nil, ErrInvalidManualQty
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.CommitTimeout)
	defer cancel()

	sess, prior, err := e.beginCommit(ctx, sessionID, req)
	if err != nil {
		e.metrics.Commit("rejected")
		return nil, timeoutErr(err)
	}
	if prior != nil {
		e.metrics.Commit("idempotent")
		c := *prior
		return &c, nil
	}

	saga := &commitSaga{
		sessionID: sessionID,
		ref:       "SHP-" + strings.ToUpper(uuid.NewString()[:8]),
	}
	saga.log = e.log.With("session_id", sessionID, "shipment_ref", saga.ref)
	saga.to(SagaStarted, "codes", sess.CodeCount(), "manual_qty", req.ManualQty)

	if req.ManualQty > 0 {
		bal, err := e.ledger.GetBalance(ctx, sess.OriginID, req.ManualVariantID)
		if err != nil {
			e.abortCommit(ctx, sessionID)
			e.metrics.Commit("failed")
			return nil, timeoutErr(err)
		}
		if bal < req.ManualQty {
			e.abortCommit(ctx, sessionID)
			e.metrics.Commit("rejected")
			return nil, fmt.Errorf("%w: have %d, need %d", ErrInsufficientManualBalance, bal, req.ManualQty)
		}

		mid, err := e.ledger.Debit(ctx, req.ActorID, sess.OriginID, req.ManualVariantID, req.ManualQty, "shipment "+saga.ref)
		if err != nil {
			e.abortCommit(ctx, sessionID)
			if errors.Is(err, inventory.ErrInsufficientBalance) {
				e.metrics.Commit("rejected")
				return nil, ErrInsufficientManualBalance
			}
			e.metrics.Commit("failed")
			return nil, timeoutErr(err)
		}
		saga.movementID = mid
		saga.to(SagaManualDebited)
	}

	conf, err := e.commitCodes(ctx, sess, req, saga)
	if err != nil {
		saga.log.Warn("codes commit failed", "err", err)
		if saga.movementID == 0 {
			e.abortCommit(ctx, sessionID)
			e.metrics.Commit("failed")
			return nil, timeoutErr(err)
		}
		return nil, e.compensate(ctx, sess, saga, err)
	}
	saga.to(SagaCodesCommitted, "cases", conf.CasesShipped, "units", conf.UnitsShipped)

	e.metrics.Commit("confirmed")
	e.metrics.Session("confirmed")
	e.publish(ctx, events.New(events.ShipmentConfirmed, sess.ID, sess.OriginID, sess.DestinationID, conf))
	c := *conf
	return &c, nil
}

// beginCommit проверяет готовность сессии и ставит метку «идёт подтверждение».
// Пока метка свежая, сканы, отвязка и отмена сессии отклоняются.
func (e *Engine) beginCommit(ctx context.Context, id int64, req ConfirmRequest) (*shipments.Session, *shipments.Confirmation, error) {
	var (
		sess  *shipments.Session
		prior *shipments.Confirmation
	)
	err := e.uow.Do(ctx, func(ctx context.Context, r Repos) error {
		s, err := r.Sessions.Lock(ctx, id)
		if err != nil {
			return err
		}
		if s == nil {
			return ErrNoActiveSession
		}
		switch s.Status {
		case shipments.StatusConfirmed:
			if s.Confirmation == nil {
				return ErrSessionClosed
			}
			prior = s.Confirmation
			return nil
		case shipments.StatusCancelled:
			return ErrNoActiveSession
		}
		if s.IncidentID != nil {
			return ErrReconciliationRequired
		}
		now := e.now()
		if s.CommitInFlight(now, e.cfg.CommitTimeout) {
			return ErrSessionCommitting
		}
		if s.CommitStartedAt != nil {
			e.log.Warn("stale commit marker, taking over", "session_id", s.ID, "started_at", *s.CommitStartedAt)
		}
		if s.CodeCount() == 0 && req.ManualQty == 0 {
			return ErrNothingToShip
		}
		s.CommitStartedAt = &now
		if err := r.Sessions.Save(ctx, s); err != nil {
			return err
		}
		sess = s.Clone()
		return nil
	})
	return sess, prior, err
}

// commitCodes — фаза B: отгружает все коды журнала и закрывает сессию одной транзакцией.
func (e *Engine) commitCodes(ctx context.Context, began *shipments.Session, req ConfirmRequest, saga *commitSaga) (*shipments.Confirmation, error) {
	var conf *shipments.Confirmation
	err := e.uow.Do(ctx, func(ctx context.Context, r Repos) error {
		s, err := r.Sessions.Lock(ctx, began.ID)
		if err != nil {
			return err
		}
		if s == nil || !s.Status.Open() {
			return ErrNoActiveSession
		}
		if s.Version != began.Version {
			return fmt.Errorf("%w: session changed during commit", shipments.ErrVersionConflict)
		}

		st, err := detailedStats(ctx, r.Codes, s)
		if err != nil {
			return err
		}
		if err := shipAll(ctx, r.Codes, codes.KindMaster, s.MasterCodes, s.ID); err != nil {
			return err
		}
		if err := shipAll(ctx, r.Codes, codes.KindUnique, s.UniqueCodes, s.ID); err != nil {
			return err
		}
		if err := shipNested(ctx, r.Codes, s); err != nil {
			return err
		}

		conf = &shipments.Confirmation{
			ShipmentRef:        saga.ref,
			SessionID:          s.ID,
			CasesShipped:       st.TotalCases,
			UnitsShipped:       st.FinalTotal,
			ManualUnitsShipped: req.ManualQty,
			ManualMovementID:   saga.movementID,
			ConfirmedAt:        e.now().UTC(),
		}
		if req.ManualQty > 0 {
			conf.ManualVariantID = req.ManualVariantID
		}
		s.Status = shipments.StatusConfirmed
		s.Confirmation = conf
		s.CommitStartedAt = nil
		s.ClearScans()
		return r.Sessions.Save(ctx, s)
	})
	if err != nil {
		return nil, err
	}
	return conf, nil
}

func shipAll(ctx context.Context, reg Registry, kind codes.Kind, list []string, sessionID int64) error {
	n, err := reg.MarkShipped(ctx, kind, list, sessionID)
	if err != nil {
		return fmt.Errorf("ship %s codes: %w", kind, err)
	}
	if n != int64(len(list)) {
		return fmt.Errorf("ship %s codes: %d of %d reserved by session", kind, n, len(list))
	}
	return nil
}

// shipNested отгружает вместе с коробами единицы, которые в них упакованы и не сканировались отдельно.
func shipNested(ctx context.Context, reg Registry, s *shipments.Session) error {
	masters, err := reg.LookupMasters(ctx, s.MasterCodes)
	if err != nil {
		return err
	}
	ids := make([]int64, 0, len(masters))
	for _, m := range masters {
		ids = append(ids, m.ID)
	}
	if _, err := reg.ShipNested(ctx, ids, s.ID); err != nil {
		return fmt.Errorf("ship nested units: %w", err)
	}
	return nil
}

// compensate сторнирует ручное списание после сбоя фазы B. Сторно повторяется с
// экспоненциальной паузой; если не удалось, сессия блокируется инцидентом.
func (e *Engine) compensate(ctx context.Context, sess *shipments.Session, saga *commitSaga, cause error) error {
	saga.to(SagaCompensating, "cause", cause)

	// сторно доводится до конца даже если вызывающий уже ушёл
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.CommitTimeout)
	defer cancel()

	reason := fmt.Sprintf("rollback %s: codes commit failed", saga.ref)
	backoff := retry.WithMaxRetries(uint64(e.cfg.ReversalAttempts-1), retry.NewExponential(e.cfg.ReversalBackoff))
	attempt := 0
	revErr := retry.Do(cctx, backoff, func(ctx context.Context) error {
		attempt++
		err := e.ledger.Reverse(ctx, saga.movementID, reason)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, inventory.ErrMovementNotFound), errors.Is(err, inventory.ErrNotReversible):
			return err
		}
		saga.log.Warn("reversal attempt failed", "attempt", attempt, "err", err)
		return retry.RetryableError(err)
	})

	if revErr == nil {
		saga.to(SagaCompensated, "attempts", attempt)
		e.metrics.Compensation("reversed")
		e.metrics.Commit("rolled_back")
		e.abortCommit(cctx, sess.ID)
		return &CommitError{
			Kind:         ErrPartialCommitRolledBack,
			SessionID:    sess.ID,
			MovementID:   saga.movementID,
			FailurePoint: PointCodes,
			Err:          cause,
		}
	}

	saga.to(SagaCompensationFailed, "attempts", attempt)
	e.metrics.Compensation("failed")
	e.metrics.Commit("reversal_failed")
	detail := fmt.Sprintf("shipment %s: codes commit failed (%v); reversal of movement %d failed after %d attempts (%v)",
		saga.ref, cause, saga.movementID, attempt, revErr)
	incidentID, err := e.recordIncident(cctx, sess.ID, saga.movementID, detail)
	e.log.Error("manual reconciliation required",
		"session_id", sess.ID, "movement_id", saga.movementID, "failure_point", PointReversal,
		"incident_id", incidentID, "err", revErr)
	if err != nil {
		e.log.Error("record incident failed", "session_id", sess.ID, "movement_id", saga.movementID, "err", err)
	}
	e.publish(cctx, events.New(events.ReconciliationRequired, sess.ID, sess.OriginID, sess.DestinationID, map[string]any{
		"movement_id":   saga.movementID,
		"failure_point": PointReversal,
		"incident_id":   incidentID,
		"detail":        detail,
	}))
	return &CommitError{
		Kind:         ErrReversalFailed,
		SessionID:    sess.ID,
		MovementID:   saga.movementID,
		FailurePoint: PointReversal,
		Err:          errors.Join(cause, revErr),
	}
}

// recordIncident пишет инцидент и блокирует им сессию. Метка подтверждения снимается:
// дальше сессию разбирают вручную.
func (e *Engine) recordIncident(ctx context.Context, sessionID, movementID int64, detail string) (int64, error) {
	var id int64
	err := e.uow.Do(ctx, func(ctx context.Context, r Repos) error {
		var err error
		id, err = r.Sessions.RecordIncident(ctx, shipments.Incident{
			SessionID:    sessionID,
			MovementID:   movementID,
			FailurePoint: PointReversal,
			Detail:       detail,
		})
		if err != nil {
			return err
		}
		s, err := r.Sessions.Lock(ctx, sessionID)
		if err != nil || s == nil {
			return err
		}
		s.IncidentID = &id
		s.CommitStartedAt = nil
		return r.Sessions.Save(ctx, s)
	})
	return id, err
}

// abortCommit снимает метку подтверждения после сбоя, не изменившего данные.
func (e *Engine) abortCommit(ctx context.Context, sessionID int64) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	err := e.uow.Do(ctx, func(ctx context.Context, r Repos) error {
		s, err := r.Sessions.Lock(ctx, sessionID)
		if err != nil || s == nil || s.CommitStartedAt == nil || !s.Status.Open() {
			return err
		}
		s.CommitStartedAt = nil
		return r.Sessions.Save(ctx, s)
	})
	if err != nil {
		// метка истечёт сама через commit_timeout
		e.log.Warn("release commit marker failed", "session_id", sessionID, "err", err)
	}
}

func timeoutErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		var te *Error
		if !errors.As(err, &te) {
			return fmt.Errorf("%w: %w", ErrTimeout, err)
		}
	}
	return err
}
