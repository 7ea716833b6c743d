package users

import "time"

// Operator — кладовщик, работающий через бота. Склад, к которому он привязан,
// подставляется отправителем при открытии отгрузки.
type Operator struct {
	ID          int64
	TelegramID  int64
	Username    string
	Name        string
	WarehouseID *int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Telegram struct {
	ID        int64
	Username  string
	FirstName string
	LastName  string
}

func (t Telegram) FullName() string {
	if t.LastName == "" {
		return t.FirstName
	}
	return t.FirstName + " " + t.LastName
}
