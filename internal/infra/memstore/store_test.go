package memstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Spok95/shipment-recon/internal/domain/codes"
	"github.com/Spok95/shipment-recon/internal/domain/inventory"
	"github.com/Spok95/shipment-recon/internal/domain/shipments"
	"github.com/Spok95/shipment-recon/internal/recon"
)

func TestDoRollsBackOnError(t *testing.T) {
	s := New()
	s.AddMaster("CASE-1", 10, 1)
	boom := errors.New("boom")

	err := s.Do(context.Background(), func(ctx context.Context, r recon.Repos) error {
		sess := &shipments.Session{OriginID: 1, DestinationID: 2, Status: shipments.StatusPending}
		require.NoError(t, r.Sessions.Create(ctx, sess))
		ok, err := r.Codes.Reserve(ctx, codes.KindMaster, "CASE-1", sess.ID)
		require.NoError(t, err)
		require.True(t, ok)
		return boom
	})
	require.ErrorIs(t, err, boom)

	m, _ := s.Master("CASE-1")
	assert.Equal(t, codes.StatusPacked, m.Status)
	assert.Nil(t, m.SessionID)
}

func TestOpenSessionUniquePerPair(t *testing.T) {
	s := New()
	ctx := context.Background()
	create := func() error {
		return s.Do(ctx, func(ctx context.Context, r recon.Repos) error {
			return r.Sessions.Create(ctx, &shipments.Session{OriginID: 1, DestinationID: 2, Status: shipments.StatusPending})
		})
	}
	require.NoError(t, create())
	assert.ErrorIs(t, create(), shipments.ErrOpenSessionExists)
}

func TestSaveChecksVersion(t *testing.T) {
	s := New()
	ctx := context.Background()
	var stale *shipments.Session
	require.NoError(t, s.Do(ctx, func(ctx context.Context, r recon.Repos) error {
		sess := &shipments.Session{OriginID: 1, DestinationID: 2, Status: shipments.StatusPending}
		if err := r.Sessions.Create(ctx, sess); err != nil {
			return err
		}
		stale = sess.Clone()
		return r.Sessions.Save(ctx, sess)
	}))

	err := s.Do(ctx, func(ctx context.Context, r recon.Repos) error {
		return r.Sessions.Save(ctx, stale)
	})
	assert.ErrorIs(t, err, shipments.ErrVersionConflict)
}

func TestLedgerReverseIdempotent(t *testing.T) {
	s := New()
	ctx := context.Background()
	_, err := s.Receive(ctx, 1, 10, 20, 8, "in")
	require.NoError(t, err)

	mid, err := s.Debit(ctx, 1, 10, 20, 5, "out")
	require.NoError(t, err)
	assert.EqualValues(t, 3, s.Balance(10, 20))

	require.NoError(t, s.Reverse(ctx, mid, "undo"))
	require.NoError(t, s.Reverse(ctx, mid, "undo again"))
	assert.EqualValues(t, 8, s.Balance(10, 20))

	mv, err := s.GetMovement(ctx, mid)
	require.NoError(t, err)
	require.NotNil(t, mv.ReversedBy)
	assert.ErrorIs(t, s.Reverse(ctx, *mv.ReversedBy, "undo the undo"), inventory.ErrNotReversible)
	assert.ErrorIs(t, s.Reverse(ctx, 4242, "nope"), inventory.ErrMovementNotFound)

	_, err = s.Debit(ctx, 1, 10, 20, 9, "too much")
	assert.ErrorIs(t, err, inventory.ErrInsufficientBalance)
}

func TestFailTimes(t *testing.T) {
	s := New()
	boom := errors.New("boom")
	s.Fail("Reverse", boom, 2)

	assert.ErrorIs(t, s.fault("Reverse"), boom)
	assert.ErrorIs(t, s.fault("Reverse"), boom)
	assert.NoError(t, s.fault("Reverse"))
}

func TestLoadSeedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
variants:
  - {sku: LIP-01, name: Помада}
cases:
  - {code: CASE-001, sku: LIP-01, units: 24, codes: [U-1, U-2]}
units:
  - {code: U-3, sku: LIP-01}
stock:
  - {warehouse: 1, sku: LIP-01, qty: 10}
orders:
  - from: 2
    to: 1
    status: approved
    lines: [{sku: LIP-01, qty: 25}]
`), 0o600))

	s := New()
	require.NoError(t, s.LoadSeedFile(path))

	m, ok := s.Master("CASE-001")
	require.True(t, ok)
	assert.EqualValues(t, 24, m.UnitCount)
	u, ok := s.Unique("U-1")
	require.True(t, ok)
	require.NotNil(t, u.MasterID)
	assert.Equal(t, m.ID, *u.MasterID)
	u, ok = s.Unique("U-3")
	require.True(t, ok)
	assert.Nil(t, u.MasterID)
	assert.Equal(t, codes.StatusPacked, s.CodeStatus("U-3"))
	assert.EqualValues(t, 10, s.Balance(1, m.VariantID))

	o, n, err := s.FindQualifying(context.Background(), 1, 2)
	require.NoError(t, err)
	require.NotNil(t, o)
	assert.Equal(t, 1, n)
	assert.EqualValues(t, 25, o.QtyByVariant()[m.VariantID])
}

func TestLoadSeedRejectsBadData(t *testing.T) {
	var unknown Seed
	unknown.Units = append(unknown.Units, struct {
		Code string
		SKU  string
	}{Code: "U-1", SKU: "NOPE"})
	assert.ErrorContains(t, New().Load(unknown), "unknown sku")

	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
variants: [{sku: A, name: a}]
units: [{code: U-1, sku: A}, {code: U-1, sku: A}]
`), 0o600))
	assert.ErrorContains(t, New().LoadSeedFile(path), "duplicate code")
}
