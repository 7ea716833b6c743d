package bot

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/Spok95/shipment-recon/internal/dialog"
	"github.com/Spok95/shipment-recon/internal/domain/catalog"
	"github.com/Spok95/shipment-recon/internal/domain/users"
	"github.com/Spok95/shipment-recon/internal/recon"
)

const (
	maxFileSize   = 16 << 20
	progressEvery = 2 * time.Second
)

// Stock — просмотр ручного остатка на складе оператора.
type Stock interface {
	GetBalance(ctx context.Context, warehouseID, variantID int64) (int64, error)
}

type Bot struct {
	api       *tgbotapi.BotAPI
	log       *slog.Logger
	users     *users.Repo
	states    *dialog.Repo
	catalog   *catalog.Repo
	engine    *recon.Engine
	stock     Stock
	adminChat int64
}

func New(api *tgbotapi.BotAPI, log *slog.Logger,
	usersRepo *users.Repo, statesRepo *dialog.Repo, catalogRepo *catalog.Repo,
	engine *recon.Engine, stock Stock, adminChatID int64) *Bot {

	return &Bot{
		api: api, log: log, users: usersRepo, states: statesRepo,
		catalog: catalogRepo, engine: engine, stock: stock,
		adminChat: adminChatID,
	}
}

func (b *Bot) Run(ctx context.Context, timeoutSec int) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = timeoutSec
	updates := b.api.GetUpdatesChan(u)
	defer b.api.StopReceivingUpdates()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case upd := <-updates:
			if upd.Message != nil {
				b.onMessage(ctx, upd)
			} else if upd.CallbackQuery != nil {
				b.onCallback(ctx, upd)
			}
		}
	}
}

func (b *Bot) onMessage(ctx context.Context, upd tgbotapi.Update) {
	msg := upd.Message
	if msg.From == nil {
		return
	}
	if msg.IsCommand() {
		b.handleCommand(ctx, msg)
		return
	}
	if msg.Document != nil {
		b.handleDocument(ctx, msg)
		return
	}
	b.handleStateMessage(ctx, msg)
}

func (b *Bot) onCallback(ctx context.Context, upd tgbotapi.Update) {
	if upd.CallbackQuery.Message == nil {
		return
	}
	b.handleCallback(ctx, upd.CallbackQuery)
}

func (b *Bot) send(msg tgbotapi.Chattable) {
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send failed", "err", err)
	}
}

// sendText отправляет сообщение и возвращает его id (0 при ошибке).
func (b *Bot) sendText(chatID int64, text string, kb *tgbotapi.InlineKeyboardMarkup) int {
	m := tgbotapi.NewMessage(chatID, text)
	if kb != nil {
		m.ReplyMarkup = *kb
	}
	sent, err := b.api.Send(m)
	if err != nil {
		b.log.Error("send failed", "err", err)
		return 0
	}
	return sent.MessageID
}

func (b *Bot) answerCallback(cb *tgbotapi.CallbackQuery, text string, alert bool) {
	resp := tgbotapi.NewCallback(cb.ID, text)
	resp.ShowAlert = alert
	if _, err := b.api.Request(resp); err != nil {
		b.log.Warn("callback answer failed", "err", err)
	}
}

func (b *Bot) editTextAndClear(chatID int64, messageID int, text string) {
	edit := tgbotapi.NewEditMessageTextAndMarkup(
		chatID, messageID, text,
		tgbotapi.InlineKeyboardMarkup{InlineKeyboard: [][]tgbotapi.InlineKeyboardButton{}},
	)
	b.send(edit)
}

// downloadTelegramFile скачивает файл по FileID через Telegram API.
func (b *Bot) downloadTelegramFile(ctx context.Context, fileID string) ([]byte, error) {
	url, err := b.api.GetFileDirectURL(fileID)
	if err != nil {
		return nil, fmt.Errorf("get file url: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download file: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("telegram returned status %s", resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFileSize))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return data, nil
}

// operator возвращает оператора чата; без склада отгрузку открыть нельзя.
func (b *Bot) operator(ctx context.Context, from *tgbotapi.User) (*users.Operator, error) {
	op, err := b.users.GetByTelegramID(ctx, from.ID)
	if err != nil || op != nil {
		return op, err
	}
	return b.users.UpsertFromTelegram(ctx, users.Telegram{
		ID: from.ID, Username: from.UserName, FirstName: from.FirstName, LastName: from.LastName,
	})
}

// variantNames подписи позиций для сводки. Ошибки каталога не мешают показать цифры.
func (b *Bot) variantNames(ctx context.Context, ids []int64) map[int64]string {
	out := make(map[int64]string, len(ids))
	for _, id := range ids {
		v, err := b.catalog.GetVariant(ctx, id)
		if err != nil || v == nil {
			continue
		}
		out[id] = v.Label()
	}
	return out
}

// notifyAdmin — сообщение в админский чат, если он настроен.
func (b *Bot) notifyAdmin(text string) {
	if b.adminChat == 0 {
		return
	}
	b.send(tgbotapi.NewMessage(b.adminChat, text))
}
