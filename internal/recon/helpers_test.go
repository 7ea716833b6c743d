package recon_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Spok95/shipment-recon/internal/domain/catalog"
	"github.com/Spok95/shipment-recon/internal/domain/codes"
	"github.com/Spok95/shipment-recon/internal/infra/events"
	"github.com/Spok95/shipment-recon/internal/infra/memstore"
	"github.com/Spok95/shipment-recon/internal/recon"
)

const (
	origin      int64 = 100
	destination int64 = 200
)

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Publish(_ context.Context, e events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) types() []events.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Type, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

type fixture struct {
	store   *memstore.Store
	engine  *recon.Engine
	events  *recorder
	variant catalog.Variant
	other   catalog.Variant
}

func testConfig() recon.Config {
	return recon.Config{
		BatchTimeout:      5 * time.Second,
		CommitTimeout:     2 * time.Second,
		KeepAliveInterval: time.Hour,
		MaxBatchSize:      100,
		ReversalAttempts:  3,
		ReversalBackoff:   time.Millisecond,
	}
}

// newFixture: CASE-001 на 24 единицы, внутри него U-1 и U-2; U-3..U-5 вне коробов.
func newFixture(t *testing.T, mutate ...func(*recon.Config, *recon.Deps)) *fixture {
	t.Helper()
	st := memstore.New()
	f := &fixture{store: st, events: &recorder{}}
	f.variant = st.AddVariant("LIP-01", "Помада")
	f.other = st.AddVariant("MASC-02", "Тушь")

	st.AddMaster("CASE-001", 24, f.variant.ID)
	st.AddUnique("U-1", f.variant.ID, "CASE-001")
	st.AddUnique("U-2", f.variant.ID, "CASE-001")
	for _, c := range []string{"U-3", "U-4", "U-5"} {
		st.AddUnique(c, f.variant.ID, "")
	}

	cfg := testConfig()
	deps := recon.Deps{
		UoW:     st,
		Orders:  st,
		Ledger:  st,
		Catalog: st,
		Events:  f.events,
		Log:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, m := range mutate {
		m(&cfg, &deps)
	}
	f.engine = recon.New(cfg, codes.Classifier{MasterPrefix: "CASE-", TrackingSegments: []string{"/q/"}}, deps)
	return f
}

func (f *fixture) open(t *testing.T) int64 {
	t.Helper()
	v, err := f.engine.GetOrCreateSession(context.Background(), origin, destination)
	require.NoError(t, err)
	return v.Session.ID
}

func (f *fixture) scan(t *testing.T, id int64, list ...string) {
	t.Helper()
	for _, c := range list {
		res, err := f.engine.ScanOne(context.Background(), id, c)
		require.NoError(t, err)
		require.Equal(t, recon.OutcomeShipped, res.Outcome, "%s: %s", c, res.Reason)
	}
}
