package recon_test

import (
	"math/rand/v2"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"

	"github.com/Spok95/shipment-recon/internal/domain/codes"
	"github.com/Spok95/shipment-recon/internal/domain/shipments"
	"github.com/Spok95/shipment-recon/internal/recon"
)

func ptr(v int64) *int64 { return &v }

func sampleCodes() ([]codes.Master, []codes.Unique) {
	masters := []codes.Master{{ID: 1, Code: "CASE-001", UnitCount: 24, VariantID: 7}}
	uniques := []codes.Unique{
		{ID: 11, Code: "U-1", VariantID: 7, MasterID: ptr(1)},
		{ID: 12, Code: "U-2", VariantID: 7, MasterID: ptr(1)},
		{ID: 13, Code: "U-3", VariantID: 7},
		{ID: 14, Code: "U-4", VariantID: 7},
		{ID: 15, Code: "U-5", VariantID: 8, MasterID: ptr(99)},
	}
	return masters, uniques
}

func TestComputeDetailedStatsMixedScan(t *testing.T) {
	masters, uniques := sampleCodes()

	got := recon.ComputeDetailedStats(masters, uniques)

	want := recon.DetailedStats{
		MasterTotalUnits: 24,
		Overlap:          2,
		ValidUniqueCount: 3,
		FinalTotal:       27,
		TotalCases:       1,
		PerVariant:       map[int64]int64{7: 26, 8: 1},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("stats mismatch (-want +got):\n%s", diff)
	}
}

func TestComputeDetailedStatsOrderIndependent(t *testing.T) {
	masters := []codes.Master{
		{ID: 1, UnitCount: 24, VariantID: 7},
		{ID: 2, UnitCount: 12, VariantID: 8},
		{ID: 3, UnitCount: 6, VariantID: 7},
	}
	var uniques []codes.Unique
	for i := int64(0); i < 20; i++ {
		u := codes.Unique{ID: 100 + i, VariantID: 7 + i%2}
		if i%3 != 0 {
			u.MasterID = ptr(1 + i%4)
		}
		uniques = append(uniques, u)
	}
	want := recon.ComputeDetailedStats(masters, uniques)

	var expectedTotal int64
	inMasters := map[int64]bool{}
	for _, m := range masters {
		expectedTotal += m.UnitCount
		inMasters[m.ID] = true
	}
	for _, u := range uniques {
		if u.MasterID == nil || !inMasters[*u.MasterID] {
			expectedTotal++
		}
	}
	assert.Equal(t, expectedTotal, want.FinalTotal)

	r := rand.New(rand.NewPCG(1, 2))
	for range 50 {
		m := append([]codes.Master(nil), masters...)
		u := append([]codes.Unique(nil), uniques...)
		r.Shuffle(len(m), func(i, j int) { m[i], m[j] = m[j], m[i] })
		r.Shuffle(len(u), func(i, j int) { u[i], u[j] = u[j], u[i] })
		if diff := cmp.Diff(want, recon.ComputeDetailedStats(m, u)); diff != "" {
			t.Fatalf("stats depend on order (-want +got):\n%s", diff)
		}
	}
}

func TestComputeDetailedStatsEmpty(t *testing.T) {
	got := recon.ComputeDetailedStats(nil, nil)
	assert.Zero(t, got.FinalTotal)
	assert.Empty(t, got.PerVariant)
}

func TestDiscrepancies(t *testing.T) {
	expected := &shipments.Baseline{OrderID: 1, TotalUnits: 30, PerVariant: map[int64]int64{7: 24, 8: 6}}
	scanned := shipments.Aggregate{TotalUnits: 27, PerVariant: map[int64]int64{7: 26, 9: 1}}

	got := recon.Discrepancies(expected, scanned)

	want := []recon.Discrepancy{
		{VariantID: 7, Expected: 24, Scanned: 26, Diff: 2},
		{VariantID: 8, Expected: 6, Scanned: 0, Diff: -6},
		{VariantID: 9, Expected: 0, Scanned: 1, Diff: 1},
	}
	assert.Equal(t, want, got)
	assert.Nil(t, recon.Discrepancies(nil, scanned))
}
