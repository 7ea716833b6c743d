package recon

import (
	"context"
	"maps"
	"slices"

	"github.com/Spok95/shipment-recon/internal/domain/codes"
	"github.com/Spok95/shipment-recon/internal/domain/shipments"
)

// DetailedStats — итоги по журналу сессии без двойного счёта: единица, чей короб
// тоже отсканирован, учитывается только через короб.
type DetailedStats struct {
	MasterTotalUnits int64           `json:"master_total_units"`
	Overlap          int64           `json:"overlap"`
	ValidUniqueCount int64           `json:"valid_unique_count"`
	FinalTotal       int64           `json:"final_total"`
	TotalCases       int64           `json:"total_cases"`
	PerVariant       map[int64]int64 `json:"per_variant"`
}

// ComputeDetailedStats считает итоги по найденным в реестре кодам.
// Результат не зависит от порядка элементов.
func ComputeDetailedStats(masters []codes.Master, uniques []codes.Unique) DetailedStats {
	st := DetailedStats{PerVariant: map[int64]int64{}}

	masterIDs := make(map[int64]struct{}, len(masters))
	for _, m := range masters {
		if _, seen := masterIDs[m.ID]; seen {
			continue
		}
		masterIDs[m.ID] = struct{}{}
		st.MasterTotalUnits += m.UnitCount
		st.TotalCases++
		st.PerVariant[m.VariantID] += m.UnitCount
	}

	seen := make(map[int64]struct{}, len(uniques))
	for _, u := range uniques {
		if _, dup := seen[u.ID]; dup {
			continue
		}
		seen[u.ID] = struct{}{}
		if u.MasterID != nil {
			if _, ok := masterIDs[*u.MasterID]; ok {
				st.Overlap++
				continue
			}
		}
		st.ValidUniqueCount++
		st.PerVariant[u.VariantID]++
	}

	st.FinalTotal = st.MasterTotalUnits + st.ValidUniqueCount
	return st
}

func (st DetailedStats) Aggregate() shipments.Aggregate {
	return shipments.Aggregate{
		TotalUnits: st.FinalTotal,
		TotalCases: st.TotalCases,
		PerVariant: maps.Clone(st.PerVariant),
	}
}

// Discrepancy — расхождение по варианту: Diff > 0 — отсканировано больше заказа.
type Discrepancy struct {
	VariantID int64 `json:"variant_id"`
	Expected  int64 `json:"expected"`
	Scanned   int64 `json:"scanned"`
	Diff      int64 `json:"diff"`
}

// Discrepancies сравнивает отсканированное с заказом. Без заказа расхождений нет.
func Discrepancies(expected *shipments.Baseline, scanned shipments.Aggregate) []Discrepancy {
	if expected == nil {
		return nil
	}
	ids := map[int64]struct{}{}
	for id := range expected.PerVariant {
		ids[id] = struct{}{}
	}
	for id := range scanned.PerVariant {
		ids[id] = struct{}{}
	}

	var out []Discrepancy
	for _, id := range slices.Sorted(maps.Keys(ids)) {
		e, s := expected.PerVariant[id], scanned.PerVariant[id]
		if e == s {
			continue
		}
		out = append(out, Discrepancy{VariantID: id, Expected: e, Scanned: s, Diff: s - e})
	}
	return out
}

// deriveStatus: matched — есть заказ и отсканировано ровно по нему.
func deriveStatus(expected *shipments.Baseline, scanned shipments.Aggregate) shipments.Status {
	if expected == nil || expected.TotalUnits == 0 {
		return shipments.StatusPending
	}
	if scanned.TotalUnits != expected.TotalUnits {
		return shipments.StatusPending
	}
	for id, want := range expected.PerVariant {
		if scanned.PerVariant[id] != want {
			return shipments.StatusPending
		}
	}
	for id, got := range scanned.PerVariant {
		if got != 0 && expected.PerVariant[id] != got {
			return shipments.StatusPending
		}
	}
	return shipments.StatusMatched
}

// detailedStats резолвит журнал сессии через реестр.
func detailedStats(ctx context.Context, reg Registry, s *shipments.Session) (DetailedStats, error) {
	masters, err := reg.LookupMasters(ctx, s.MasterCodes)
	if err != nil {
		return DetailedStats{}, err
	}
	uniques, err := reg.LookupUniques(ctx, s.UniqueCodes)
	if err != nil {
		return DetailedStats{}, err
	}
	return ComputeDetailedStats(masters, uniques), nil
}

// recompute пересчитывает агрегаты и статус сессии из журнала.
func recompute(ctx context.Context, reg Registry, s *shipments.Session) (DetailedStats, error) {
	st, err := detailedStats(ctx, reg, s)
	if err != nil {
		return st, err
	}
	s.Scanned = st.Aggregate()
	s.Status = deriveStatus(s.Expected, s.Scanned)
	return st, nil
}
