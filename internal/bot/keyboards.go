package bot

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/Spok95/shipment-recon/internal/domain/catalog"
)

const (
	btnNewShipment = "Новая отгрузка"
	btnStatus      = "Статус"
	btnConfirm     = "Подтвердить"
	btnCancel      = "Отменить отгрузку"
)

func navKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✖️ Отменить", "nav:cancel"),
		),
	)
}

// operatorReplyKeyboard Нижняя панель кладовщика
func operatorReplyKeyboard() tgbotapi.ReplyKeyboardMarkup {
	return tgbotapi.ReplyKeyboardMarkup{
		ResizeKeyboard: true,
		Keyboard: [][]tgbotapi.KeyboardButton{
			{tgbotapi.NewKeyboardButton(btnNewShipment)},
			{tgbotapi.NewKeyboardButton(btnStatus), tgbotapi.NewKeyboardButton(btnConfirm)},
			{tgbotapi.NewKeyboardButton(btnCancel)},
		},
	}
}

// sessionKeyboard действия над открытой сессией.
func sessionKeyboard(id int64) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✅ Подтвердить", fmt.Sprintf("ship:confirm:%d", id)),
			tgbotapi.NewInlineKeyboardButtonData("➕ Ручной остаток", fmt.Sprintf("ship:manual:%d", id)),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🔄 Обновить", fmt.Sprintf("ship:status:%d", id)),
			tgbotapi.NewInlineKeyboardButtonData("✖️ Отменить отгрузку", fmt.Sprintf("ship:cancel:%d", id)),
		),
	)
}

// warehouseKeyboard список активных складов нужного типа, prefix — префикс callback.
func warehouseKeyboard(ws []catalog.Warehouse, t catalog.WarehouseType, prefix string) (tgbotapi.InlineKeyboardMarkup, bool) {
	rows := [][]tgbotapi.InlineKeyboardButton{}
	for _, w := range ws {
		if !w.Active || w.Type != t {
			continue
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(w.Name, fmt.Sprintf("%s:%d", prefix, w.ID)),
		))
	}
	found := len(rows) > 0
	rows = append(rows, navKeyboard().InlineKeyboard[0])
	return tgbotapi.NewInlineKeyboardMarkup(rows...), found
}
