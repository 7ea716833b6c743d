package codes

import "time"

type Kind string

const (
	KindMaster  Kind = "master" // код короба
	KindUnique  Kind = "unique" // код единицы товара
	KindUnknown Kind = "unknown"
)

type Status string

const (
	StatusPacked   Status = "packed"
	StatusScanned  Status = "scanned" // зарезервирован открытой сессией отгрузки
	StatusShipped  Status = "shipped"
	StatusReceived Status = "received"
)

// Master — короб с фиксированным числом единиц.
type Master struct {
	ID        int64
	Code      string
	UnitCount int64
	Status    Status
	VariantID int64
	SessionID *int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Unique — единица товара, возможно упакованная в короб (MasterID).
type Unique struct {
	ID        int64
	Code      string
	Status    Status
	VariantID int64
	MasterID  *int64
	SessionID *int64
	CreatedAt time.Time
	UpdatedAt time.Time
}
