package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
)

var ErrLedgerUnavailable = errors.New("inventory: ledger unavailable")

// Ledger — операции журнала ручного остатка, которыми пользуется отгрузка.
type Ledger interface {
	GetBalance(ctx context.Context, warehouseID, variantID int64) (int64, error)
	Debit(ctx context.Context, actorID, warehouseID, variantID, qty int64, note string) (int64, error)
	Reverse(ctx context.Context, movementID int64, reason string) error
}

type BreakerSettings struct {
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold uint32
}

// Breaker размыкает цепь при серии сбоев журнала, чтобы отгрузки быстро
// получали ретраябельную ошибку вместо ожидания таймаута.
type Breaker struct {
	next Ledger
	cb   *gobreaker.CircuitBreaker
	log  *slog.Logger
}

func NewBreaker(next Ledger, s BreakerSettings, log *slog.Logger) *Breaker {
	threshold := s.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}
	settings := gobreaker.Settings{
		Name:        "manual-stock-ledger",
		MaxRequests: s.MaxRequests,
		Interval:    s.Interval,
		Timeout:     s.Timeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= threshold
		},
		// бизнес-отказы не говорят о недоступности журнала
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, ErrInsufficientBalance) ||
				errors.Is(err, ErrMovementNotFound) ||
				errors.Is(err, ErrNotReversible) ||
				errors.Is(err, ErrInvalidQty)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
	}
	return &Breaker{next: next, cb: gobreaker.NewCircuitBreaker(settings), log: log}
}

func (b *Breaker) exec(fn func() (any, error)) (any, error) {
	res, err := b.cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)
	}
	return res, err
}

func (b *Breaker) GetBalance(ctx context.Context, warehouseID, variantID int64) (int64, error) {
	res, err := b.exec(func() (any, error) { return b.next.GetBalance(ctx, warehouseID, variantID) })
	if err != nil {
		return 0, err
	}
	return res.(int64), nil
}

func (b *Breaker) Debit(ctx context.Context, actorID, warehouseID, variantID, qty int64, note string) (int64, error) {
	res, err := b.exec(func() (any, error) { return b.next.Debit(ctx, actorID, warehouseID, variantID, qty, note) })
	if err != nil {
		return 0, err
	}
	return res.(int64), nil
}

func (b *Breaker) Reverse(ctx context.Context, movementID int64, reason string) error {
	_, err := b.exec(func() (any, error) { return nil, b.next.Reverse(ctx, movementID, reason) })
	return err
}

func (b *Breaker) State() gobreaker.State { return b.cb.State() }
