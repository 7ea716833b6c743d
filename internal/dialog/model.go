package dialog

type State string

const (
	StateIdle State = "idle"

	// Отгрузка
	StateShipPickDest State = "ship_pick_dest" // выбор получателя
	StateShipScanning State = "ship_scanning"  // session_id в payload, ждём коды/файл
	StateShipManual   State = "ship_manual"    // ввод "variant_id qty" для ручного остатка
)

type Payload map[string]any

type Item struct {
	ChatID  int64
	State   State
	Payload Payload
}

// SessionID — сессия отгрузки, с которой сейчас работает чат.
func (it *Item) SessionID() (int64, bool) {
	if it == nil {
		return 0, false
	}
	return GetInt64(it.Payload, "session_id")
}
