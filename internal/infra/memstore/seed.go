package memstore

import (
	"context"
	"fmt"
	"slices"

	"github.com/Spok95/shipment-recon/internal/domain/catalog"
	"github.com/Spok95/shipment-recon/internal/domain/codes"
	"github.com/Spok95/shipment-recon/internal/domain/orders"
	"github.com/Spok95/shipment-recon/internal/domain/shipments"
)

/* Заполнение */

func (s *Store) AddVariant(sku, name string) catalog.Variant {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := catalog.Variant{ID: s.state.nextID(), SKU: sku, Name: name, Active: true, CreatedAt: s.now()}
	s.variants[v.ID] = v
	return v
}

func (s *Store) AddMaster(code string, unitCount, variantID int64) codes.Master {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	m := codes.Master{
		ID: s.state.nextID(), Code: code, UnitCount: unitCount, Status: codes.StatusPacked,
		VariantID: variantID, CreatedAt: now, UpdatedAt: now,
	}
	s.state.masters[code] = m
	return m
}

// AddUnique заводит единицу; masterCode пустой — единица вне короба.
func (s *Store) AddUnique(code string, variantID int64, masterCode string) codes.Unique {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	u := codes.Unique{
		ID: s.state.nextID(), Code: code, Status: codes.StatusPacked,
		VariantID: variantID, CreatedAt: now, UpdatedAt: now,
	}
	if masterCode != "" {
		m, ok := s.state.masters[masterCode]
		if !ok {
			panic(fmt.Sprintf("memstore: unknown master %q", masterCode))
		}
		u.MasterID = &m.ID
	}
	s.state.uniques[code] = u
	return u
}

// SetCodeStatus переводит код в произвольный статус (отгружен, принят) в обход движка.
func (s *Store) SetCodeStatus(code string, st codes.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.state.masters[code]; ok {
		m.Status = st
		s.state.masters[code] = m
		return
	}
	if u, ok := s.state.uniques[code]; ok {
		u.Status = st
		s.state.uniques[code] = u
	}
}

func (s *Store) AddOrder(o orders.Order) orders.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	o.ID = s.state.nextID()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = s.now()
	}
	if o.UpdatedAt.IsZero() {
		o.UpdatedAt = o.CreatedAt
	}
	o.Lines = slices.Clone(o.Lines)
	s.orders = append(s.orders, o)
	return o
}

/* Справочники для движка */

// FindQualifying — последний approved/closed заказ получателя складу и число кандидатов.
func (s *Store) FindQualifying(ctx context.Context, origin, destination int64) (*orders.Order, int, error) {
	if err := s.fault("FindQualifying"); err != nil {
		return nil, 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var (
		best       *orders.Order
		candidates int
	)
	for i := range s.orders {
		o := &s.orders[i]
		if o.FromID != destination || o.ToID != origin {
			continue
		}
		if o.Status != orders.StatusApproved && o.Status != orders.StatusClosed {
			continue
		}
		candidates++
		if best == nil || o.UpdatedAt.After(best.UpdatedAt) || (o.UpdatedAt.Equal(best.UpdatedAt) && o.ID > best.ID) {
			best = o
		}
	}
	if best == nil {
		return nil, 0, nil
	}
	c := *best
	c.Lines = slices.Clone(best.Lines)
	return &c, candidates, nil
}

func (s *Store) GetVariant(_ context.Context, id int64) (*catalog.Variant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.variants[id]
	if !ok {
		return nil, nil
	}
	return &v, nil
}

/* Просмотр состояния */

func (s *Store) Master(code string) (codes.Master, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.state.masters[code]
	return m, ok
}

func (s *Store) Unique(code string) (codes.Unique, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.state.uniques[code]
	return u, ok
}

// CodeStatus — статус кода любого вида, пусто если кода нет.
func (s *Store) CodeStatus(code string) codes.Status {
	if m, ok := s.Master(code); ok {
		return m.Status
	}
	if u, ok := s.Unique(code); ok {
		return u.Status
	}
	return ""
}

func (s *Store) Session(id int64) *shipments.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.state.sessions[id]
	if !ok {
		return nil
	}
	return sess.Clone()
}

func (s *Store) Incidents() []shipments.Incident {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.state.incidents)
}

// Balance — ручной остаток без задержек и сбоев, для проверок в тестах.
func (s *Store) Balance(warehouseID, variantID int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.balances[stockKey{warehouseID, variantID}]
}
