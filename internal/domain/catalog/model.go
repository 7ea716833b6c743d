package catalog

import "time"

type WarehouseType string

const (
	WHTWarehouse WarehouseType = "warehouse" // склад-отправитель
	WHTStore     WarehouseType = "store"     // точка-получатель
)

type Warehouse struct {
	ID        int64
	Name      string
	Type      WarehouseType
	Active    bool
	CreatedAt time.Time
}

// Variant — товарная позиция. Здесь нужна только для подписей в прогрессе и сводках.
type Variant struct {
	ID        int64
	SKU       string
	Name      string
	ImageURL  string
	Active    bool
	CreatedAt time.Time
}

// Label — подпись для сообщений оператору.
func (v *Variant) Label() string {
	if v == nil {
		return ""
	}
	if v.SKU == "" {
		return v.Name
	}
	return v.Name + " (" + v.SKU + ")"
}
