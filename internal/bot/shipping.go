package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/Spok95/shipment-recon/internal/dialog"
	"github.com/Spok95/shipment-recon/internal/domain/catalog"
	"github.com/Spok95/shipment-recon/internal/domain/shipments"
	"github.com/Spok95/shipment-recon/internal/recon"
)

func (b *Bot) startShipment(ctx context.Context, msg *tgbotapi.Message, args string) {
	chatID := msg.Chat.ID
	op, err := b.operator(ctx, msg.From)
	if err != nil {
		b.log.Error("operator lookup failed", "tg_id", msg.From.ID, "err", err)
		b.send(tgbotapi.NewMessage(chatID, "Ошибка: не удалось загрузить профиль"))
		return
	}
	if op.WarehouseID == nil {
		b.send(tgbotapi.NewMessage(chatID, "Сначала выберите свой склад: /warehouse"))
		return
	}
	if args != "" {
		dest, err := strconv.ParseInt(args, 10, 64)
		if err != nil || dest <= 0 {
			b.send(tgbotapi.NewMessage(chatID, "Укажите id получателя числом."))
			return
		}
		b.openShipment(ctx, msg.From, chatID, dest)
		return
	}

	ws, err := b.catalog.ListWarehouses(ctx)
	if err != nil {
		b.log.Error("list warehouses failed", "err", err)
		b.send(tgbotapi.NewMessage(chatID, "Не удалось получить список получателей."))
		return
	}
	kb, ok := warehouseKeyboard(ws, catalog.WHTStore, "ship:dest")
	if !ok {
		b.send(tgbotapi.NewMessage(chatID, "Нет активных точек-получателей. Пришлите id получателя числом."))
	} else {
		b.sendText(chatID, "Куда отгружаем?", &kb)
	}
	_ = b.states.Set(ctx, chatID, dialog.StateShipPickDest, dialog.Payload{})
}

// openShipment открывает (или подхватывает уже открытую) сессию со склада оператора.
func (b *Bot) openShipment(ctx context.Context, from *tgbotapi.User, chatID, destination int64) {
	op, err := b.operator(ctx, from)
	if err != nil || op.WarehouseID == nil {
		b.send(tgbotapi.NewMessage(chatID, "Сначала выберите свой склад: /warehouse"))
		return
	}
	v, err := b.engine.GetOrCreateSession(ctx, *op.WarehouseID, destination)
	if err != nil {
		b.send(tgbotapi.NewMessage(chatID, errText(err)))
		return
	}
	if err := b.states.Set(ctx, chatID, dialog.StateShipScanning, dialog.Payload{"session_id": v.Session.ID}); err != nil {
		b.log.Error("dialog state write failed", "chat_id", chatID, "err", err)
	}
	kb := sessionKeyboard(v.Session.ID)
	b.sendText(chatID, formatView(v, b.namesFor(ctx, v))+
		"\n\nПрисылайте коды сообщением (можно списком) или файлом .xlsx/.txt.", &kb)
}

func (b *Bot) namesFor(ctx context.Context, v *recon.SessionView) map[int64]string {
	ids := make([]int64, 0, len(v.Stats.PerVariant)+len(v.Discrepancies))
	for id := range v.Stats.PerVariant {
		ids = append(ids, id)
	}
	for _, d := range v.Discrepancies {
		if _, ok := v.Stats.PerVariant[d.VariantID]; !ok {
			ids = append(ids, d.VariantID)
		}
	}
	return b.variantNames(ctx, ids)
}

func (b *Bot) showStatus(ctx context.Context, chatID, id int64, mid int) {
	if id == 0 {
		b.send(tgbotapi.NewMessage(chatID, "Активной отгрузки нет. Открыть: /ship"))
		return
	}
	v, err := b.engine.GetSession(ctx, id)
	if err != nil {
		b.send(tgbotapi.NewMessage(chatID, errText(err)))
		return
	}
	text := formatView(v, b.namesFor(ctx, v))
	kb := tgbotapi.InlineKeyboardMarkup{InlineKeyboard: [][]tgbotapi.InlineKeyboardButton{}}
	if v.Session.Status.Open() {
		kb = sessionKeyboard(id)
	}
	if mid != 0 {
		b.send(tgbotapi.NewEditMessageTextAndMarkup(chatID, mid, text, kb))
		return
	}
	b.sendText(chatID, text, &kb)
}

func (b *Bot) scanOne(ctx context.Context, chatID, id int64, code string) {
	res, err := b.engine.ScanOne(ctx, id, code)
	if err != nil {
		b.send(tgbotapi.NewMessage(chatID, errText(err)))
		return
	}
	text := formatScan(res)
	if res.Status == shipments.StatusMatched {
		text += "\n🎯 Отсканировано ровно по заказу"
	}
	b.send(tgbotapi.NewMessage(chatID, text))
}

// runBatch прогоняет список кодов и держит одно сообщение с прогрессом,
// редактируя его не чаще progressEvery.
func (b *Bot) runBatch(ctx context.Context, chatID, id int64, list []string) {
	events, err := b.engine.ScanBatch(ctx, id, list)
	if err != nil {
		b.send(tgbotapi.NewMessage(chatID, errText(err)))
		return
	}
	mid := b.sendText(chatID, fmt.Sprintf("⏳ Принято кодов: %d, обрабатываю…", len(list)), nil)

	var (
		rejected []string
		last     recon.BatchEvent
		lastEdit = time.Now()
	)
	for ev := range events {
		switch ev.Type {
		case recon.EventStatus, recon.EventPing:
			continue
		case recon.EventProgress:
			if r := ev.Result; r != nil && !r.OK() && r.Outcome != recon.OutcomeDuplicate {
				rejected = append(rejected, formatScan(*r))
			}
		}
		last = ev
		if !ev.Terminal() && mid != 0 && time.Since(lastEdit) >= progressEvery {
			b.send(tgbotapi.NewEditMessageText(chatID, mid, formatBatch(ev, rejected)))
			lastEdit = time.Now()
		}
	}

	text := formatBatch(last, rejected)
	kb := sessionKeyboard(id)
	if mid != 0 {
		b.send(tgbotapi.NewEditMessageTextAndMarkup(chatID, mid, text, kb))
		return
	}
	b.sendText(chatID, text, &kb)
}

func (b *Bot) unlink(ctx context.Context, chatID int64, code string) {
	id := b.activeSession(ctx, chatID)
	if id == 0 {
		b.send(tgbotapi.NewMessage(chatID, "Активной отгрузки нет."))
		return
	}
	if code == "" {
		b.send(tgbotapi.NewMessage(chatID, "Укажите код: /unlink <код>"))
		return
	}
	v, err := b.engine.UnlinkCode(ctx, id, code)
	if err != nil {
		b.send(tgbotapi.NewMessage(chatID, errText(err)))
		return
	}
	kb := sessionKeyboard(id)
	b.sendText(chatID, "Код убран из отгрузки.\n\n"+formatView(v, b.namesFor(ctx, v)), &kb)
}

func (b *Bot) confirm(ctx context.Context, from *tgbotapi.User, chatID, id int64, req recon.ConfirmRequest) {
	if id == 0 {
		b.send(tgbotapi.NewMessage(chatID, "Активной отгрузки нет."))
		return
	}
	if op, err := b.operator(ctx, from); err == nil {
		req.ActorID = op.ID
	}
	conf, err := b.engine.Confirm(ctx, id, req)
	if err != nil {
		if errors.Is(err, recon.ErrReversalFailed) {
			b.notifyAdmin(fmt.Sprintf("⚠️ Требуется ручная сверка по отгрузке #%d:\n%v", id, err))
		}
		b.send(tgbotapi.NewMessage(chatID, errText(err)))
		return
	}
	_ = b.states.Reset(ctx, chatID)
	b.send(tgbotapi.NewMessage(chatID, formatConfirmation(conf)))
}

func (b *Bot) cancelShipment(ctx context.Context, chatID, id int64) {
	if id == 0 {
		b.send(tgbotapi.NewMessage(chatID, "Активной отгрузки нет."))
		return
	}
	v, err := b.engine.CancelSession(ctx, id)
	if err != nil {
		b.send(tgbotapi.NewMessage(chatID, errText(err)))
		return
	}
	_ = b.states.Reset(ctx, chatID)
	b.send(tgbotapi.NewMessage(chatID, fmt.Sprintf("Отгрузка #%d отменена, коды снова доступны для отгрузки.", v.Session.ID)))
}

func (b *Bot) showStock(ctx context.Context, msg *tgbotapi.Message, args string) {
	chatID := msg.Chat.ID
	op, err := b.operator(ctx, msg.From)
	if err != nil || op.WarehouseID == nil {
		b.send(tgbotapi.NewMessage(chatID, "Сначала выберите свой склад: /warehouse"))
		return
	}
	variantID, err := strconv.ParseInt(strings.TrimSpace(args), 10, 64)
	if err != nil || variantID <= 0 {
		b.send(tgbotapi.NewMessage(chatID, "Укажите позицию: /stock <id позиции>"))
		return
	}
	bal, err := b.stock.GetBalance(ctx, *op.WarehouseID, variantID)
	if err != nil {
		b.send(tgbotapi.NewMessage(chatID, errText(err)))
		return
	}
	name := variantName(b.variantNames(ctx, []int64{variantID}), variantID)
	b.send(tgbotapi.NewMessage(chatID, fmt.Sprintf("%s: ручной остаток %d шт.", name, bal)))
}
