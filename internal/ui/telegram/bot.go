package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"sky-agent/internal/core/ports"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramUI asks the operator to approve generated posts through inline
// keyboard buttons in a single chat.
type TelegramUI struct {
	Bot    *tgbotapi.BotAPI
	ChatID int64

	// Timeout bounds the wait for a button press. When it passes the
	// request counts as TimeoutAction. Zero waits until ctx ends.
	Timeout       time.Duration
	TimeoutAction ports.UserAction

	logger  *slog.Logger
	pending map[int]chan ports.UserAction // keyed by message ID
	mu      sync.Mutex
}

var _ ports.Interaction = (*TelegramUI)(nil)

// NewTelegramUI connects the bot and listens for button presses until ctx ends.
func NewTelegramUI(ctx context.Context, token, chatIDStr string, logger *slog.Logger) (*TelegramUI, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	ui, err := newTelegramUI(bot, chatIDStr, logger)
	if err != nil {
		return nil, err
	}
	go ui.listen(ctx)
	return ui, nil
}

func newTelegramUI(bot *tgbotapi.BotAPI, chatIDStr string, logger *slog.Logger) (*TelegramUI, error) {
	chatID, err := strconv.ParseInt(strings.TrimSpace(chatIDStr), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat id: %w", err)
	}
	return &TelegramUI{
		Bot:           bot,
		ChatID:        chatID,
		TimeoutAction: ports.ActionApprove,
		logger:        logger,
		pending:       make(map[int]chan ports.UserAction),
	}, nil
}

func (ui *TelegramUI) listen(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := ui.Bot.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			ui.Bot.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.CallbackQuery != nil {
				ui.handleCallback(update.CallbackQuery)
			}
		}
	}
}

func (ui *TelegramUI) handleCallback(cb *tgbotapi.CallbackQuery) {
	if cb.Message == nil || cb.Message.Chat == nil || cb.Message.Chat.ID != ui.ChatID {
		return
	}
	msgID := cb.Message.MessageID

	ui.mu.Lock()
	ch, ok := ui.pending[msgID]
	delete(ui.pending, msgID)
	ui.mu.Unlock()

	if !ok {
		ui.answer(cb.ID, "This request has expired.")
		return
	}

	action := ports.UserAction(cb.Data)
	ch <- action
	ui.answer(cb.ID, "Selected: "+string(action))
	ui.clearKeyboard(msgID)
}

func (ui *TelegramUI) answer(callbackID, text string) {
	if _, err := ui.Bot.Request(tgbotapi.NewCallback(callbackID, text)); err != nil {
		ui.logger.Debug("failed to answer telegram callback", "error", err)
	}
}

// Confirm sends title and body with approve/regenerate/skip buttons and waits
// for the operator's choice.
func (ui *TelegramUI) Confirm(ctx context.Context, title, body string) (ports.UserAction, error) {
	msgText := fmt.Sprintf("*[%s]*\n\n%s", escapeMarkdown(title), escapeMarkdown(body))
	msg := tgbotapi.NewMessage(ui.ChatID, msgText)
	msg.ParseMode = tgbotapi.ModeMarkdown
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✅ Approve", string(ports.ActionApprove)),
			tgbotapi.NewInlineKeyboardButtonData("🔄 Regenerate", string(ports.ActionRegenerate)),
			tgbotapi.NewInlineKeyboardButtonData("❌ Skip", string(ports.ActionSkip)),
		),
	)

	sent, err := ui.Bot.Send(msg)
	if err != nil {
		return ports.ActionSkip, fmt.Errorf("send approval request: %w", err)
	}

	respCh := make(chan ports.UserAction, 1)
	ui.mu.Lock()
	ui.pending[sent.MessageID] = respCh
	ui.mu.Unlock()

	var expired <-chan time.Time
	if ui.Timeout > 0 {
		timer := time.NewTimer(ui.Timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case action := <-respCh:
		return action, nil
	case <-expired:
		ui.forget(sent.MessageID)
		ui.logger.Warn("approval timed out", "after", ui.Timeout, "action", ui.TimeoutAction)
		ui.clearKeyboard(sent.MessageID)
		return ui.TimeoutAction, nil
	case <-ctx.Done():
		ui.forget(sent.MessageID)
		return ports.ActionSkip, ctx.Err()
	}
}

func (ui *TelegramUI) forget(msgID int) {
	ui.mu.Lock()
	delete(ui.pending, msgID)
	ui.mu.Unlock()
}

func (ui *TelegramUI) clearKeyboard(msgID int) {
	edit := tgbotapi.NewEditMessageReplyMarkup(ui.ChatID, msgID, tgbotapi.InlineKeyboardMarkup{InlineKeyboard: [][]tgbotapi.InlineKeyboardButton{}})
	if _, err := ui.Bot.Send(edit); err != nil {
		ui.logger.Debug("failed to clear telegram keyboard", "error", err)
	}
}

// escapeMarkdown escapes the characters legacy Markdown mode treats as markup.
func escapeMarkdown(text string) string {
	replacer := strings.NewReplacer(
		"_", "\\_",
		"*", "\\*",
		"[", "\\[",
		"`", "\\`",
	)
	return replacer.Replace(text)
}
