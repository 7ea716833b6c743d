// Package memstore — хранилище в памяти с тем же контрактом, что и Postgres.
// Транзакция работает над копией состояния и подменяет его целиком при успехе.
package memstore

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/Spok95/shipment-recon/internal/domain/catalog"
	"github.com/Spok95/shipment-recon/internal/domain/codes"
	"github.com/Spok95/shipment-recon/internal/domain/inventory"
	"github.com/Spok95/shipment-recon/internal/domain/orders"
	"github.com/Spok95/shipment-recon/internal/domain/shipments"
	"github.com/Spok95/shipment-recon/internal/recon"
)

type stockKey struct{ warehouseID, variantID int64 }

type state struct {
	masters   map[string]codes.Master
	uniques   map[string]codes.Unique
	sessions  map[int64]*shipments.Session
	incidents []shipments.Incident
	balances  map[stockKey]int64
	movements map[int64]inventory.Movement
	seq       int64
}

func newState() state {
	return state{
		masters:   map[string]codes.Master{},
		uniques:   map[string]codes.Unique{},
		sessions:  map[int64]*shipments.Session{},
		balances:  map[stockKey]int64{},
		movements: map[int64]inventory.Movement{},
	}
}

func (s state) clone() state {
	c := s
	c.masters = maps.Clone(s.masters)
	c.uniques = maps.Clone(s.uniques)
	c.sessions = make(map[int64]*shipments.Session, len(s.sessions))
	for id, sess := range s.sessions {
		c.sessions[id] = sess.Clone()
	}
	c.incidents = slices.Clone(s.incidents)
	c.balances = maps.Clone(s.balances)
	c.movements = maps.Clone(s.movements)
	return c
}

func (s *state) nextID() int64 {
	s.seq++
	return s.seq
}

// Store реализует recon.UnitOfWork, recon.Orders, recon.Ledger и recon.Catalog.
// Транзакции сериализуются одним мьютексом.
type Store struct {
	mu    sync.Mutex
	state state

	orders   []orders.Order
	variants map[int64]catalog.Variant

	faultMu sync.Mutex
	faults  map[string]*fault
	delay   time.Duration
	now     func() time.Time
}

func New() *Store {
	return &Store{
		state:    newState(),
		variants: map[int64]catalog.Variant{},
		faults:   map[string]*fault{},
		now:      time.Now,
	}
}

var (
	_ recon.UnitOfWork = (*Store)(nil)
	_ recon.Orders     = (*Store)(nil)
	_ recon.Ledger     = (*Store)(nil)
	_ recon.Catalog    = (*Store)(nil)
)

// Do выполняет fn над копией состояния; при ошибке копия выбрасывается.
func (s *Store) Do(ctx context.Context, fn func(ctx context.Context, r recon.Repos) error) error {
	if err := s.wait(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t := &tx{store: s, state: s.state.clone()}
	if err := fn(ctx, recon.Repos{Codes: t, Sessions: t}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.state = t.state
	return nil
}

// wait имитирует задержку хранилища.
func (s *Store) wait(ctx context.Context) error {
	s.mu.Lock()
	d := s.delay
	s.mu.Unlock()
	if d > 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return ctx.Err()
}

// SetDelay задаёт задержку перед каждой транзакцией и операцией журнала.
func (s *Store) SetDelay(d time.Duration) {
	s.mu.Lock()
	s.delay = d
	s.mu.Unlock()
}

// tx — репозитории над копией состояния. Мьютекс стора удерживает Do.
type tx struct {
	store *Store
	state state
}

func (t *tx) LookupMaster(_ context.Context, code string) (*codes.Master, error) {
	if err := t.store.fault("LookupMaster"); err != nil {
		return nil, err
	}
	m, ok := t.state.masters[code]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

func (t *tx) LookupUnique(_ context.Context, code string) (*codes.Unique, error) {
	if err := t.store.fault("LookupUnique"); err != nil {
		return nil, err
	}
	u, ok := t.state.uniques[code]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (t *tx) LookupMasters(_ context.Context, list []string) ([]codes.Master, error) {
	var out []codes.Master
	for _, c := range list {
		if m, ok := t.state.masters[c]; ok {
			out = append(out, m)
		}
	}
	slices.SortFunc(out, func(a, b codes.Master) int { return int(a.ID - b.ID) })
	return out, nil
}

func (t *tx) LookupUniques(_ context.Context, list []string) ([]codes.Unique, error) {
	var out []codes.Unique
	for _, c := range list {
		if u, ok := t.state.uniques[c]; ok {
			out = append(out, u)
		}
	}
	slices.SortFunc(out, func(a, b codes.Unique) int { return int(a.ID - b.ID) })
	return out, nil
}

func (t *tx) LockMaster(_ context.Context, id int64) (*codes.Master, error) {
	if err := t.store.fault("LockMaster"); err != nil {
		return nil, err
	}
	for _, m := range t.state.masters {
		if m.ID == id {
			return &m, nil
		}
	}
	return nil, nil
}

func (t *tx) Nested(_ context.Context, masterID int64) ([]codes.Unique, error) {
	if err := t.store.fault("Nested"); err != nil {
		return nil, err
	}
	var out []codes.Unique
	for _, u := range t.state.uniques {
		if u.MasterID != nil && *u.MasterID == masterID {
			out = append(out, u)
		}
	}
	slices.SortFunc(out, func(a, b codes.Unique) int { return int(a.ID - b.ID) })
	return out, nil
}

func (t *tx) Reserve(_ context.Context, kind codes.Kind, code string, sessionID int64) (bool, error) {
	if err := t.store.fault("Reserve"); err != nil {
		return false, err
	}
	n := t.transition(kind, []string{code}, nil, codes.StatusPacked, codes.StatusScanned, &sessionID)
	return n == 1, nil
}

func (t *tx) Release(_ context.Context, kind codes.Kind, list []string, sessionID int64) (int64, error) {
	if err := t.store.fault("Release"); err != nil {
		return 0, err
	}
	return t.transition(kind, list, &sessionID, codes.StatusScanned, codes.StatusPacked, nil), nil
}

func (t *tx) MarkShipped(_ context.Context, kind codes.Kind, list []string, sessionID int64) (int64, error) {
	if err := t.store.fault("MarkShipped"); err != nil {
		return 0, err
	}
	return t.transition(kind, list, &sessionID, codes.StatusScanned, codes.StatusShipped, &sessionID), nil
}

func (t *tx) ShipNested(_ context.Context, masterIDs []int64, sessionID int64) (int64, error) {
	if err := t.store.fault("ShipNested"); err != nil {
		return 0, err
	}
	now := t.store.now()
	var n int64
	for c, u := range t.state.uniques {
		if u.MasterID == nil || u.Status != codes.StatusPacked || !slices.Contains(masterIDs, *u.MasterID) {
			continue
		}
		u.Status, u.SessionID, u.UpdatedAt = codes.StatusShipped, cloneID(&sessionID), now
		t.state.uniques[c] = u
		n++
	}
	return n, nil
}

// transition меняет статус кодов list из from в to. owner != nil — только коды этой сессии;
// setSession — новая привязка к сессии (nil снимает привязку).
func (t *tx) transition(kind codes.Kind, list []string, owner *int64, from, to codes.Status, setSession *int64) int64 {
	now := t.store.now()
	owned := func(sid *int64) bool { return owner == nil || (sid != nil && *sid == *owner) }
	var n int64
	for _, c := range slices.Compact(slices.Sorted(slices.Values(list))) {
		switch kind {
		case codes.KindMaster:
			m, ok := t.state.masters[c]
			if !ok || m.Status != from || !owned(m.SessionID) {
				continue
			}
			m.Status, m.SessionID, m.UpdatedAt = to, cloneID(setSession), now
			t.state.masters[c] = m
		case codes.KindUnique:
			u, ok := t.state.uniques[c]
			if !ok || u.Status != from || !owned(u.SessionID) {
				continue
			}
			u.Status, u.SessionID, u.UpdatedAt = to, cloneID(setSession), now
			t.state.uniques[c] = u
		default:
			continue
		}
		n++
	}
	return n
}

func (t *tx) Get(_ context.Context, id int64) (*shipments.Session, error) {
	s, ok := t.state.sessions[id]
	if !ok {
		return nil, nil
	}
	return s.Clone(), nil
}

func (t *tx) Lock(ctx context.Context, id int64) (*shipments.Session, error) {
	if err := t.store.fault("Lock"); err != nil {
		return nil, err
	}
	return t.Get(ctx, id)
}

func (t *tx) FindOpen(_ context.Context, origin, destination int64) (*shipments.Session, error) {
	for _, s := range t.state.sessions {
		if s.OriginID == origin && s.DestinationID == destination && s.Status.Open() {
			return s.Clone(), nil
		}
	}
	return nil, nil
}

func (t *tx) Create(_ context.Context, s *shipments.Session) error {
	if err := t.store.fault("Create"); err != nil {
		return err
	}
	for _, o := range t.state.sessions {
		if o.OriginID == s.OriginID && o.DestinationID == s.DestinationID && o.Status.Open() {
			return shipments.ErrOpenSessionExists
		}
	}
	now := t.store.now()
	s.ID, s.Version, s.CreatedAt, s.UpdatedAt = t.state.nextID(), 1, now, now
	t.state.sessions[s.ID] = s.Clone()
	return nil
}

func (t *tx) Save(_ context.Context, s *shipments.Session) error {
	if err := t.store.fault("Save"); err != nil {
		return err
	}
	cur, ok := t.state.sessions[s.ID]
	if !ok || cur.Version != s.Version {
		return shipments.ErrVersionConflict
	}
	s.Version++
	s.UpdatedAt = t.store.now()
	t.state.sessions[s.ID] = s.Clone()
	return nil
}

func (t *tx) RecordIncident(_ context.Context, inc shipments.Incident) (int64, error) {
	if err := t.store.fault("RecordIncident"); err != nil {
		return 0, err
	}
	inc.ID, inc.CreatedAt = t.state.nextID(), t.store.now()
	t.state.incidents = append(t.state.incidents, inc)
	return inc.ID, nil
}

func cloneID(id *int64) *int64 {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}
