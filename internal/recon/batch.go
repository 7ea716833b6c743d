package recon

import (
	"context"
	"errors"
	"time"

	"github.com/Spok95/shipment-recon/internal/domain/shipments"
)

type EventType string

const (
	EventStatus   EventType = "status"
	EventProgress EventType = "progress"
	EventPing     EventType = "ping"
	EventComplete EventType = "complete"
	EventError    EventType = "error"
)

type BatchSummary struct {
	Total      int `json:"total"`
	Success    int `json:"success"`
	Duplicates int `json:"duplicates"`
	Errors     int `json:"errors"`
}

func (s *BatchSummary) add(o Outcome) {
	switch o {
	case OutcomeShipped:
		s.Success++
	case OutcomeDuplicate:
		s.Duplicates++
	default:
		s.Errors++
	}
}

func (s BatchSummary) Processed() int { return s.Success + s.Duplicates + s.Errors }

// BatchEvent — событие потока пакетного сканирования. Каждое progress-событие
// несёт накопленные счётчики, поэтому клиент восстанавливает картину по любому из них.
type BatchEvent struct {
	Type      EventType            `json:"type"`
	SessionID int64                `json:"session_id"`
	Index     int                  `json:"index,omitempty"`
	Total     int                  `json:"total"`
	Result    *ScanResult          `json:"result,omitempty"`
	Variant   string               `json:"variant,omitempty"`
	Status    shipments.Status     `json:"status,omitempty"`
	Scanned   *shipments.Aggregate `json:"scanned,omitempty"`
	Summary   *BatchSummary        `json:"summary,omitempty"`
	Message   string               `json:"message,omitempty"`
	ErrorCode string               `json:"error_code,omitempty"`
	Retryable bool                 `json:"retryable,omitempty"`
	At        time.Time            `json:"at"`
}

// Terminal — после этого события поток закрывается.
func (ev BatchEvent) Terminal() bool { return ev.Type == EventComplete || ev.Type == EventError }

type batchStep struct {
	index int
	res   ScanResult
	err   error
}

// ScanBatch сканирует коды по порядку, каждый в своей транзакции, и отдаёт поток событий.
// Канал закрывается после complete или error либо при отмене ctx.
func (e *Engine) ScanBatch(ctx context.Context, sessionID int64, list []string) (<-chan BatchEvent, error) {
	if len(list) > e.cfg.MaxBatchSize {
		return nil, ErrBatchTooLarge
	}
	out := make(chan BatchEvent)
	go e.runBatch(ctx, sessionID, list, out)
	return out, nil
}

func (e *Engine) runBatch(ctx context.Context, sessionID int64, list []string, out chan<- BatchEvent) {
	defer close(out)
	started := e.now()
	sum := BatchSummary{Total: len(list)}

	work, cancel := context.WithTimeout(ctx, e.cfg.BatchTimeout)
	defer cancel()

	emit := func(ev BatchEvent) bool {
		ev.SessionID, ev.Total, ev.At = sessionID, len(list), e.now()
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}
	fail := func(err error) {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = ErrTimeout
		}
		s := sum
		e.log.Warn("batch aborted", "session_id", sessionID, "processed", s.Processed(), "total", s.Total, "err", err)
		e.metrics.Batch("error", e.now().Sub(started).Seconds())
		emit(BatchEvent{
			Type:      EventError,
			Summary:   &s,
			Message:   err.Error(),
			ErrorCode: CodeOf(err),
			Retryable: IsRetryable(err),
		})
	}

	view, err := e.GetSession(work, sessionID)
	if err == nil && !view.Session.Status.Open() {
		err = ErrSessionClosed
	}
	if err != nil {
		fail(err)
		return
	}
	scanned, status := view.Session.Scanned, view.Session.Status
	if !emit(BatchEvent{Type: EventStatus, Status: status, Scanned: &scanned, Summary: &BatchSummary{Total: len(list)}}) {
		return
	}

	steps := make(chan batchStep)
	go func() {
		defer close(steps)
		for i, raw := range list {
			if work.Err() != nil {
				return
			}
			res, err := e.ScanOne(work, sessionID, raw)
			select {
			case steps <- batchStep{index: i + 1, res: res, err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()
	defer func() {
		cancel()
		for range steps {
		}
	}()

	labels := map[int64]string{}
	keepAlive := time.NewTicker(e.cfg.KeepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case st, ok := <-steps:
			if !ok {
				if sum.Processed() < len(list) {
					if ctx.Err() != nil {
						return
					}
					fail(work.Err())
					return
				}
				s := sum
				e.metrics.Batch("complete", e.now().Sub(started).Seconds())
				e.log.Info("batch complete", "session_id", sessionID, "total", s.Total,
					"success", s.Success, "duplicates", s.Duplicates, "errors", s.Errors)
				emit(BatchEvent{Type: EventComplete, Status: status, Scanned: &scanned, Summary: &s})
				return
			}
			if st.err != nil {
				fail(st.err)
				return
			}

			sum.add(st.res.Outcome)
			if st.res.Outcome == OutcomeShipped || st.res.Outcome == OutcomeDuplicate {
				scanned, status = st.res.Scanned, st.res.Status
			}
			res, s := st.res, sum
			if !emit(BatchEvent{
				Type:    EventProgress,
				Index:   st.index,
				Result:  &res,
				Variant: e.variantLabel(work, labels, res.VariantID),
				Status:  status,
				Scanned: &scanned,
				Summary: &s,
			}) {
				return
			}
			keepAlive.Reset(e.cfg.KeepAliveInterval)

		case <-keepAlive.C:
			s := sum
			if !emit(BatchEvent{Type: EventPing, Summary: &s}) {
				return
			}

		case <-ctx.Done():
			e.log.Info("batch cancelled by caller", "session_id", sessionID, "processed", sum.Processed(), "total", sum.Total)
			e.metrics.Batch("cancelled", e.now().Sub(started).Seconds())
			return
		}
	}
}

// variantLabel — подпись варианта для отображения. Ошибки каталога на сканирование не влияют.
func (e *Engine) variantLabel(ctx context.Context, memo map[int64]string, id int64) string {
	if id == 0 || e.catalog == nil {
		return ""
	}
	if l, ok := memo[id]; ok {
		return l
	}
	v, err := e.catalog.GetVariant(ctx, id)
	if err != nil || v == nil {
		e.log.Debug("variant lookup failed", "variant_id", id, "err", err)
		memo[id] = ""
		return ""
	}
	memo[id] = v.Label()
	return memo[id]
}
