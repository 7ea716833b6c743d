package bot

import (
	"bytes"
	"context"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/Spok95/shipment-recon/internal/dialog"
	"github.com/Spok95/shipment-recon/internal/domain/catalog"
	"github.com/Spok95/shipment-recon/internal/infra/codefile"
	"github.com/Spok95/shipment-recon/internal/recon"
)

const helpText = `Команды:
/start — начать работу
/warehouse — выбрать свой склад
/ship [id получателя] — открыть отгрузку
/status — сводка по отгрузке
/unlink <код> — убрать код из отгрузки
/confirm [позиция количество] — подтвердить отгрузку
/cancel — отменить отгрузку
/stock <позиция> — ручной остаток на складе

В открытой отгрузке просто присылайте коды: по одному, списком (по коду на строку) или файлом .xlsx/.txt.`

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	args := strings.TrimSpace(msg.CommandArguments())
	switch msg.Command() {
	case "start":
		op, err := b.operator(ctx, msg.From)
		if err != nil {
			b.log.Error("operator upsert failed", "tg_id", msg.From.ID, "err", err)
			b.send(tgbotapi.NewMessage(chatID, "Ошибка: не удалось сохранить профиль"))
			return
		}
		text := "Привет! Сканируйте коды коробов и единиц, бот сверит отгрузку с заказом получателя."
		if op.WarehouseID == nil {
			text += "\n\nСначала выберите свой склад: /warehouse"
		}
		m := tgbotapi.NewMessage(chatID, text)
		m.ReplyMarkup = operatorReplyKeyboard()
		b.send(m)

	case "help":
		b.send(tgbotapi.NewMessage(chatID, helpText))

	case "warehouse":
		b.pickWarehouse(ctx, msg, args)

	case "ship":
		b.startShipment(ctx, msg, args)

	case "status":
		b.showStatus(ctx, chatID, b.activeSession(ctx, chatID), 0)

	case "unlink":
		b.unlink(ctx, chatID, args)

	case "confirm":
		req := recon.ConfirmRequest{}
		if args != "" {
			v, q, err := parseManual(args)
			if err != nil {
				b.send(tgbotapi.NewMessage(chatID, "Ручной остаток: "+err.Error()))
				return
			}
			req.ManualVariantID, req.ManualQty = v, q
		}
		b.confirm(ctx, msg.From, chatID, b.activeSession(ctx, chatID), req)

	case "cancel":
		b.cancelShipment(ctx, chatID, b.activeSession(ctx, chatID))

	case "stock":
		b.showStock(ctx, msg, args)

	default:
		b.send(tgbotapi.NewMessage(chatID, "Не знаю такую команду. Наберите /help"))
	}
}

func (b *Bot) handleStateMessage(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}

	// Нижняя панель
	switch text {
	case btnNewShipment:
		b.startShipment(ctx, msg, "")
		return
	case btnStatus:
		b.showStatus(ctx, chatID, b.activeSession(ctx, chatID), 0)
		return
	case btnConfirm:
		b.confirm(ctx, msg.From, chatID, b.activeSession(ctx, chatID), recon.ConfirmRequest{})
		return
	case btnCancel:
		b.cancelShipment(ctx, chatID, b.activeSession(ctx, chatID))
		return
	}

	st, err := b.states.Get(ctx, chatID)
	if err != nil {
		b.log.Error("dialog state read failed", "chat_id", chatID, "err", err)
		return
	}
	id, _ := st.SessionID()

	switch st.State {
	case dialog.StateShipPickDest:
		dest, err := strconv.ParseInt(text, 10, 64)
		if err != nil || dest <= 0 {
			b.send(tgbotapi.NewMessage(chatID, "Выберите получателя кнопкой или пришлите его id числом."))
			return
		}
		b.openShipment(ctx, msg.From, chatID, dest)

	case dialog.StateShipScanning:
		list, err := codefile.FromText(strings.NewReader(text))
		if err != nil {
			return
		}
		if len(list) == 1 {
			b.scanOne(ctx, chatID, id, list[0])
			return
		}
		b.runBatch(ctx, chatID, id, list)

	case dialog.StateShipManual:
		v, q, err := parseManual(text)
		if err != nil {
			b.send(tgbotapi.NewMessage(chatID, "Ручной остаток: "+err.Error()))
			return
		}
		b.confirm(ctx, msg.From, chatID, id, recon.ConfirmRequest{ManualVariantID: v, ManualQty: q})

	default:
		b.send(tgbotapi.NewMessage(chatID, "Откройте отгрузку: /ship"))
	}
}

func (b *Bot) handleDocument(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	id := b.activeSession(ctx, chatID)
	if id == 0 {
		b.send(tgbotapi.NewMessage(chatID, "Откройте отгрузку перед загрузкой файла: /ship"))
		return
	}
	doc := msg.Document
	if doc.FileSize > maxFileSize {
		b.send(tgbotapi.NewMessage(chatID, "Файл слишком большой."))
		return
	}
	data, err := b.downloadTelegramFile(ctx, doc.FileID)
	if err != nil {
		b.log.Error("file download failed", "chat_id", chatID, "err", err)
		b.send(tgbotapi.NewMessage(chatID, "Не удалось скачать файл, пришлите ещё раз."))
		return
	}
	list, err := codefile.Read(doc.FileName, bytes.NewReader(data))
	if err != nil {
		b.send(tgbotapi.NewMessage(chatID, "Не удалось прочитать коды из файла (нужен .xlsx с кодами в первой колонке или .txt по коду на строку)."))
		return
	}
	b.runBatch(ctx, chatID, id, list)
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	data := cb.Data
	chatID := cb.Message.Chat.ID
	mid := cb.Message.MessageID

	if data == "nav:cancel" {
		_ = b.states.Reset(ctx, chatID)
		b.editTextAndClear(chatID, mid, "Операция отменена.")
		b.answerCallback(cb, "Отменено", false)
		return
	}

	parts := strings.Split(data, ":")
	if len(parts) != 3 {
		b.answerCallback(cb, "Неизвестное действие", false)
		return
	}
	id, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		b.answerCallback(cb, "Неизвестное действие", false)
		return
	}

	switch parts[0] + ":" + parts[1] {
	case "wh:set":
		b.setWarehouse(ctx, cb.From, chatID, mid, id)
	case "ship:dest":
		b.editTextAndClear(chatID, mid, "Получатель выбран.")
		b.openShipment(ctx, cb.From, chatID, id)
	case "ship:status":
		b.showStatus(ctx, chatID, id, mid)
	case "ship:confirm":
		b.confirm(ctx, cb.From, chatID, id, recon.ConfirmRequest{})
	case "ship:manual":
		_ = b.states.Set(ctx, chatID, dialog.StateShipManual, dialog.Payload{"session_id": id})
		kb := navKeyboard()
		b.sendText(chatID, "Введите позицию и количество ручного остатка через пробел, например: 12 5", &kb)
	case "ship:cancel":
		b.cancelShipment(ctx, chatID, id)
	default:
		b.answerCallback(cb, "Неизвестное действие", false)
		return
	}
	b.answerCallback(cb, "", false)
}

// activeSession — сессия из состояния диалога, 0 если её нет.
func (b *Bot) activeSession(ctx context.Context, chatID int64) int64 {
	st, err := b.states.Get(ctx, chatID)
	if err != nil {
		b.log.Error("dialog state read failed", "chat_id", chatID, "err", err)
		return 0
	}
	id, _ := st.SessionID()
	return id
}

func (b *Bot) pickWarehouse(ctx context.Context, msg *tgbotapi.Message, args string) {
	chatID := msg.Chat.ID
	if args != "" {
		id, err := strconv.ParseInt(args, 10, 64)
		if err != nil || id <= 0 {
			b.send(tgbotapi.NewMessage(chatID, "Укажите id склада числом."))
			return
		}
		b.setWarehouse(ctx, msg.From, chatID, 0, id)
		return
	}
	ws, err := b.catalog.ListWarehouses(ctx)
	if err != nil {
		b.log.Error("list warehouses failed", "err", err)
		b.send(tgbotapi.NewMessage(chatID, "Не удалось получить список складов."))
		return
	}
	kb, ok := warehouseKeyboard(ws, catalog.WHTWarehouse, "wh:set")
	if !ok {
		b.send(tgbotapi.NewMessage(chatID, "Нет активных складов."))
		return
	}
	b.sendText(chatID, "Выберите склад, с которого отгружаете:", &kb)
}

func (b *Bot) setWarehouse(ctx context.Context, from *tgbotapi.User, chatID int64, mid int, warehouseID int64) {
	w, err := b.catalog.GetWarehouseByID(ctx, warehouseID)
	if err != nil || w == nil || !w.Active || w.Type != catalog.WHTWarehouse {
		b.send(tgbotapi.NewMessage(chatID, "Склад не найден или не активен."))
		return
	}
	op, err := b.operator(ctx, from)
	if err == nil {
		_, err = b.users.SetWarehouse(ctx, op.ID, w.ID)
	}
	if err != nil {
		b.log.Error("set operator warehouse failed", "tg_id", from.ID, "err", err)
		b.send(tgbotapi.NewMessage(chatID, "Не удалось сохранить склад."))
		return
	}
	text := "Склад выбран: " + w.Name + ". Открыть отгрузку: /ship"
	if mid != 0 {
		b.editTextAndClear(chatID, mid, text)
		return
	}
	b.send(tgbotapi.NewMessage(chatID, text))
}
