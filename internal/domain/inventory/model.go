package inventory

import (
	"errors"
	"time"
)

type MoveType string

const (
	MoveIn       MoveType = "in"
	MoveOut      MoveType = "out"
	MoveReversal MoveType = "reversal" // сторно ранее проведённого движения
)

var (
	ErrInsufficientBalance = errors.New("inventory: insufficient balance")
	ErrMovementNotFound    = errors.New("inventory: movement not found")
	ErrNotReversible       = errors.New("inventory: movement cannot be reversed")
	ErrInvalidQty          = errors.New("inventory: qty must be > 0")
)

// Movement — запись журнала ручного (не QR) остатка. Qty со знаком: расход отрицательный.
type Movement struct {
	ID          int64
	CreatedAt   time.Time
	ActorID     int64
	WarehouseID int64
	VariantID   int64
	Qty         int64
	Type        MoveType
	Note        string
	ReversesID  *int64
	ReversedBy  *int64
}
