package orders

import "time"

type Status string

const (
	StatusDraft    Status = "draft"
	StatusApproved Status = "approved"
	StatusClosed   Status = "closed"
)

// Order — заказ получателя (FromID) складу-отправителю (ToID).
type Order struct {
	ID        int64
	FromID    int64
	ToID      int64
	Status    Status
	Lines     []Line
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Line struct {
	VariantID int64
	Qty       int64
}

// QtyByVariant суммирует строки заказа по вариантам.
func (o *Order) QtyByVariant() map[int64]int64 {
	out := make(map[int64]int64, len(o.Lines))
	for _, l := range o.Lines {
		out[l.VariantID] += l.Qty
	}
	return out
}
