package inventory

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLedger struct {
	err   error
	calls int
}

func (f *fakeLedger) GetBalance(context.Context, int64, int64) (int64, error) {
	f.calls++
	return 10, f.err
}

func (f *fakeLedger) Debit(context.Context, int64, int64, int64, int64, string) (int64, error) {
	f.calls++
	return 7, f.err
}

func (f *fakeLedger) Reverse(context.Context, int64, string) error {
	f.calls++
	return f.err
}

func newTestBreaker(next Ledger) *Breaker {
	return NewBreaker(next, BreakerSettings{Timeout: time.Hour, FailureThreshold: 2},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestBreakerOpensOnTransportFailures(t *testing.T) {
	ctx := context.Background()
	next := &fakeLedger{err: errors.New("connection refused")}
	b := newTestBreaker(next)

	for range 2 {
		_, err := b.Debit(ctx, 1, 1, 1, 1, "")
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateOpen, b.State())

	err := b.Reverse(ctx, 1, "rollback")
	assert.ErrorIs(t, err, ErrLedgerUnavailable)
	assert.Equal(t, 2, next.calls, "open breaker must not reach the ledger")
}

func TestBreakerIgnoresBusinessErrors(t *testing.T) {
	ctx := context.Background()
	next := &fakeLedger{err: ErrInsufficientBalance}
	b := newTestBreaker(next)

	for range 5 {
		_, err := b.Debit(ctx, 1, 1, 1, 100, "")
		assert.ErrorIs(t, err, ErrInsufficientBalance)
	}
	assert.Equal(t, gobreaker.StateClosed, b.State())

	next.err = nil
	bal, err := b.GetBalance(ctx, 1, 1)
	require.NoError(t, err)
	assert.EqualValues(t, 10, bal)
}
