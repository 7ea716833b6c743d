package recon_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Spok95/shipment-recon/internal/domain/codes"
	"github.com/Spok95/shipment-recon/internal/domain/orders"
	"github.com/Spok95/shipment-recon/internal/domain/shipments"
	"github.com/Spok95/shipment-recon/internal/recon"
)

func TestScanOneNoDoubleScan(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.open(t)

	res, err := f.engine.ScanOne(ctx, id, "https://track.example.com/q/U-3")
	require.NoError(t, err)
	assert.Equal(t, recon.OutcomeShipped, res.Outcome)
	assert.Equal(t, "U-3", res.Code)
	assert.Equal(t, codes.KindUnique, res.Kind)
	assert.EqualValues(t, 1, res.Scanned.TotalUnits)

	res, err = f.engine.ScanOne(ctx, id, "U-3")
	require.NoError(t, err)
	assert.Equal(t, recon.OutcomeDuplicate, res.Outcome)
	assert.EqualValues(t, 1, res.Scanned.TotalUnits)

	sess := f.store.Session(id)
	assert.Equal(t, []string{"U-3"}, sess.UniqueCodes)
	assert.Equal(t, codes.StatusScanned, f.store.CodeStatus("U-3"))
}

func TestScanOneOverlapAware(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.open(t)

	steps := []struct {
		code  string
		units int64
		cases int64
	}{
		{"U-1", 1, 0},
		{"CASE-001", 24, 1}, // U-1 теперь учитывается через короб
		{"U-2", 24, 1},
		{"U-3", 25, 1},
		{"U-4", 26, 1},
		{"U-5", 27, 1},
	}
	for _, s := range steps {
		res, err := f.engine.ScanOne(ctx, id, s.code)
		require.NoError(t, err)
		require.Equal(t, recon.OutcomeShipped, res.Outcome, s.code)
		assert.Equal(t, s.units, res.Scanned.TotalUnits, s.code)
		assert.Equal(t, s.cases, res.Scanned.TotalCases, s.code)
	}

	v, err := f.engine.GetSession(ctx, id)
	require.NoError(t, err)
	assert.EqualValues(t, 24, v.Stats.MasterTotalUnits)
	assert.EqualValues(t, 2, v.Stats.Overlap)
	assert.EqualValues(t, 3, v.Stats.ValidUniqueCount)
	assert.EqualValues(t, 27, v.Stats.FinalTotal)
}

func TestScanOneRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.open(t)
	f.store.AddUnique("U-SHIPPED", f.variant.ID, "")
	f.store.SetCodeStatus("U-SHIPPED", codes.StatusShipped)

	tests := []struct {
		raw     string
		outcome recon.Outcome
	}{
		{"not a code!", recon.OutcomeError},
		{"CASE-", recon.OutcomeError},
		{"U-404", recon.OutcomeError},
		{"CASE-404", recon.OutcomeError},
		{"U-SHIPPED", recon.OutcomeAlreadyShipped},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			res, err := f.engine.ScanOne(ctx, id, tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.outcome, res.Outcome)
			assert.NotEmpty(t, res.Reason)
		})
	}
	assert.Zero(t, f.store.Session(id).CodeCount())
}

func TestScanOneCodeReservedByAnotherSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.open(t)
	other, err := f.engine.GetOrCreateSession(ctx, origin, destination+1)
	require.NoError(t, err)

	f.scan(t, a, "CASE-001")

	res, err := f.engine.ScanOne(ctx, other.Session.ID, "CASE-001")
	require.NoError(t, err)
	assert.Equal(t, recon.OutcomeAlreadyShipped, res.Outcome)
	assert.Zero(t, f.store.Session(other.Session.ID).CodeCount())
}

func TestScanOneConcurrentSameCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.open(t)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		outcomes = map[recon.Outcome]int{}
	)
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.engine.ScanOne(ctx, id, "CASE-001")
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			outcomes[res.Outcome]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, outcomes[recon.OutcomeShipped])
	assert.Equal(t, 15, outcomes[recon.OutcomeDuplicate])
	assert.Equal(t, []string{"CASE-001"}, f.store.Session(id).MasterCodes)
}

func TestScanOneMatchedStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.AddOrder(orders.Order{
		FromID: destination, ToID: origin, Status: orders.StatusApproved,
		Lines: []orders.Line{{VariantID: f.variant.ID, Qty: 25}},
	})
	id := f.open(t)

	f.scan(t, id, "CASE-001")
	assert.Equal(t, shipments.StatusPending, f.store.Session(id).Status)

	res, err := f.engine.ScanOne(ctx, id, "U-3")
	require.NoError(t, err)
	assert.Equal(t, shipments.StatusMatched, res.Status)

	// сверх заказа — снова pending
	f.scan(t, id, "U-4")
	assert.Equal(t, shipments.StatusPending, f.store.Session(id).Status)

	// matched-сессия остаётся открытой для пары
	_, err = f.engine.UnlinkCode(ctx, id, "U-4")
	require.NoError(t, err)
	v, err := f.engine.GetOrCreateSession(ctx, origin, destination)
	require.NoError(t, err)
	assert.Equal(t, id, v.Session.ID)
	assert.Equal(t, shipments.StatusMatched, v.Session.Status)
}

func TestScanOneSessionState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.ScanOne(ctx, 999, "U-3")
	assert.ErrorIs(t, err, recon.ErrSessionNotFound)

	id := f.open(t)
	_, err = f.engine.CancelSession(ctx, id)
	require.NoError(t, err)

	_, err = f.engine.ScanOne(ctx, id, "U-3")
	assert.ErrorIs(t, err, recon.ErrSessionClosed)
	assert.Equal(t, codes.StatusPacked, f.store.CodeStatus("U-3"))
}

func TestScanOneStorageFaultRollsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.open(t)
	f.store.Fail("Save", errors.New("disk full"), 1)

	_, err := f.engine.ScanOne(ctx, id, "U-3")
	require.Error(t, err)
	assert.Equal(t, recon.ClassTransport, recon.ClassOf(err))
	assert.Equal(t, codes.StatusPacked, f.store.CodeStatus("U-3"), "reserve must roll back with the session write")

	f.scan(t, id, "U-3")
}

func TestScanOneUnitOfShippedCase(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.open(t)
	f.scan(t, first, "CASE-001")
	_, err := f.engine.Confirm(ctx, first, recon.ConfirmRequest{})
	require.NoError(t, err)

	// единицы короба уходят вместе с ним
	assert.Equal(t, codes.StatusShipped, f.store.CodeStatus("U-1"))
	assert.Equal(t, codes.StatusShipped, f.store.CodeStatus("U-2"))

	next := f.open(t)
	res, err := f.engine.ScanOne(ctx, next, "U-1")
	require.NoError(t, err)
	assert.Equal(t, recon.OutcomeAlreadyShipped, res.Outcome)
	assert.Zero(t, f.store.Session(next).CodeCount())
}

func TestScanOneCaseAndUnitAcrossSessions(t *testing.T) {
	ctx := context.Background()

	t.Run("unit first", func(t *testing.T) {
		f := newFixture(t)
		a := f.open(t)
		b, err := f.engine.GetOrCreateSession(ctx, origin, destination+1)
		require.NoError(t, err)

		f.scan(t, a, "U-1")
		res, err := f.engine.ScanOne(ctx, b.Session.ID, "CASE-001")
		require.NoError(t, err)
		assert.Equal(t, recon.OutcomeAlreadyShipped, res.Outcome)
		assert.Contains(t, res.Reason, "U-1")
		assert.Equal(t, codes.StatusPacked, f.store.CodeStatus("CASE-001"))

		// после отвязки единицы короб свободен
		_, err = f.engine.UnlinkCode(ctx, a, "U-1")
		require.NoError(t, err)
		f.scan(t, b.Session.ID, "CASE-001")
	})

	t.Run("case first", func(t *testing.T) {
		f := newFixture(t)
		a := f.open(t)
		b, err := f.engine.GetOrCreateSession(ctx, origin, destination+1)
		require.NoError(t, err)

		f.scan(t, a, "CASE-001")
		res, err := f.engine.ScanOne(ctx, b.Session.ID, "U-1")
		require.NoError(t, err)
		assert.Equal(t, recon.OutcomeAlreadyShipped, res.Outcome)
		assert.Contains(t, res.Reason, "CASE-001")

		// в своей сессии единица из короба — обычное перекрытие
		f.scan(t, a, "U-2")
	})

	t.Run("both confirm", func(t *testing.T) {
		f := newFixture(t)
		a := f.open(t)
		b, err := f.engine.GetOrCreateSession(ctx, origin, destination+1)
		require.NoError(t, err)

		f.scan(t, a, "U-1")
		res, err := f.engine.ScanOne(ctx, b.Session.ID, "CASE-001")
		require.NoError(t, err)
		require.Equal(t, recon.OutcomeAlreadyShipped, res.Outcome)

		ca, err := f.engine.Confirm(ctx, a, recon.ConfirmRequest{})
		require.NoError(t, err)
		assert.EqualValues(t, 1, ca.UnitsShipped)
		_, err = f.engine.Confirm(ctx, b.Session.ID, recon.ConfirmRequest{})
		assert.ErrorIs(t, err, recon.ErrNothingToShip)

		// короб с ушедшей единицей больше не отгрузить целиком
		res, err = f.engine.ScanOne(ctx, b.Session.ID, "CASE-001")
		require.NoError(t, err)
		assert.Equal(t, recon.OutcomeAlreadyShipped, res.Outcome)
	})
}

func TestScanOneUnknownCodeChecksSessionFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.ScanOne(ctx, 999, "not a code!")
	assert.ErrorIs(t, err, recon.ErrSessionNotFound)

	id := f.open(t)
	_, err = f.engine.CancelSession(ctx, id)
	require.NoError(t, err)
	_, err = f.engine.ScanOne(ctx, id, "not a code!")
	assert.ErrorIs(t, err, recon.ErrSessionClosed)
}
