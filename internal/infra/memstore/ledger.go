package memstore

import (
	"context"

	"github.com/Spok95/shipment-recon/internal/domain/inventory"
)

func (s *Store) GetBalance(ctx context.Context, warehouseID, variantID int64) (int64, error) {
	if err := s.wait(ctx); err != nil {
		return 0, err
	}
	if err := s.fault("GetBalance"); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.balances[stockKey{warehouseID, variantID}], nil
}

func (s *Store) Receive(ctx context.Context, actorID, warehouseID, variantID, qty int64, note string) (int64, error) {
	if qty <= 0 {
		return 0, inventory.ErrInvalidQty
	}
	if err := s.wait(ctx); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.apply(actorID, warehouseID, variantID, qty, inventory.MoveIn, note, nil), nil
}

func (s *Store) Debit(ctx context.Context, actorID, warehouseID, variantID, qty int64, note string) (int64, error) {
	if qty <= 0 {
		return 0, inventory.ErrInvalidQty
	}
	if err := s.wait(ctx); err != nil {
		return 0, err
	}
	if err := s.fault("Debit"); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.balances[stockKey{warehouseID, variantID}] < qty {
		return 0, inventory.ErrInsufficientBalance
	}
	return s.apply(actorID, warehouseID, variantID, -qty, inventory.MoveOut, note, nil), nil
}

// Reverse проводит сторно движения. Повторное сторно — no-op.
func (s *Store) Reverse(ctx context.Context, movementID int64, reason string) error {
	if err := s.wait(ctx); err != nil {
		return err
	}
	if err := s.fault("Reverse"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.state.movements[movementID]
	if !ok {
		return inventory.ErrMovementNotFound
	}
	if m.Type == inventory.MoveReversal {
		return inventory.ErrNotReversible
	}
	if m.ReversedBy != nil {
		return nil
	}
	id := s.apply(m.ActorID, m.WarehouseID, m.VariantID, -m.Qty, inventory.MoveReversal, reason, &movementID)
	m.ReversedBy = &id
	s.state.movements[movementID] = m
	return nil
}

func (s *Store) apply(actorID, warehouseID, variantID, delta int64, t inventory.MoveType, note string, reverses *int64) int64 {
	s.state.balances[stockKey{warehouseID, variantID}] += delta
	id := s.state.nextID()
	s.state.movements[id] = inventory.Movement{
		ID:          id,
		CreatedAt:   s.now(),
		ActorID:     actorID,
		WarehouseID: warehouseID,
		VariantID:   variantID,
		Qty:         delta,
		Type:        t,
		Note:        note,
		ReversesID:  reverses,
	}
	return id
}

func (s *Store) GetMovement(_ context.Context, id int64) (*inventory.Movement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.state.movements[id]
	if !ok {
		return nil, nil
	}
	return &m, nil
}
