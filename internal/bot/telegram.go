package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"astro-bot/internal/ledger"
	"astro-bot/internal/lock"
	"astro-bot/internal/models"
	"astro-bot/internal/queue"
	"astro-bot/pkg/logger"
)

const (
	callbackGet     = "get:"
	callbackPartner = "partner"

	startPaid = "paid"
)

// Checkout issues payment links.
type Checkout interface {
	CreateCheckoutSession(ctx context.Context, userID int64, kind models.ProductKind, successURL, cancelURL string) (string, error)
}

type TelegramBot struct {
	api      *tgbotapi.BotAPI
	ledger   ledger.Ledger
	checkout Checkout
	queue    queue.Queue
	logger   *logger.Logger
	botURL   string

	sessions   map[int64]*Session
	sessionsMu sync.Mutex
	// users serialises updates from one user.
	users    *lock.Local
	inflight sync.WaitGroup
}

func NewTelegramBot(api *tgbotapi.BotAPI, l ledger.Ledger, c Checkout, q queue.Queue, logger *logger.Logger) *TelegramBot {
	logger.Infow("Authorized on Telegram", "username", api.Self.UserName)

	return &TelegramBot{
		api:      api,
		ledger:   l,
		checkout: c,
		queue:    q,
		logger:   logger,
		botURL:   fmt.Sprintf("https://t.me/%s", api.Self.UserName),
		sessions: make(map[int64]*Session),
		users:    lock.NewLocal(),
	}
}

// Commands is the menu registered with Telegram.
func Commands() []tgbotapi.BotCommand {
	cmds := []tgbotapi.BotCommand{{Command: "menu", Description: "Главное меню"}}
	for _, p := range models.Products() {
		cmds = append(cmds, tgbotapi.BotCommand{Command: p.Command, Description: p.Title})
	}
	return cmds
}

// Run polls for updates until ctx is cancelled, then waits for in-flight
// handlers.
func (t *TelegramBot) Run(ctx context.Context) error {
	if _, err := t.api.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
		return fmt.Errorf("failed to delete webhook: %w", err)
	}
	if _, err := t.api.Request(tgbotapi.NewSetMyCommands(Commands()...)); err != nil {
		t.logger.Warnw("Failed to register bot commands", "error", err)
	}

	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 60
	updates := t.api.GetUpdatesChan(updateConfig)

	t.logger.Infow("Started receiving Telegram updates")

	for {
		select {
		case <-ctx.Done():
			t.api.StopReceivingUpdates()
			t.inflight.Wait()
			t.logger.Infow("Telegram bot stopped")
			return nil
		case update, ok := <-updates:
			if !ok {
				t.inflight.Wait()
				return nil
			}
			t.inflight.Add(1)
			go func() {
				defer t.inflight.Done()
				t.handleUpdate(ctx, update)
			}()
		}
	}
}

func (t *TelegramBot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Errorw("Recovered from panic while processing update", "update_id", update.UpdateID, "error", r)
		}
	}()

	from := update.SentFrom()
	if from == nil {
		return
	}
	release, err := t.users.Acquire(ctx, strconv.FormatInt(from.ID, 10))
	if err != nil {
		return
	}
	defer release()

	switch {
	case update.Message != nil:
		if update.Message.IsCommand() {
			t.handleCommand(ctx, update.Message)
		} else {
			t.handleMessage(ctx, update.Message)
		}
	case update.CallbackQuery != nil:
		t.handleCallbackQuery(ctx, update.CallbackQuery)
	}
}

func (t *TelegramBot) handleCommand(ctx context.Context, message *tgbotapi.Message) {
	chatID := message.Chat.ID
	userID := message.From.ID
	command := message.Command()

	t.logger.Infow("Handling command", "command", command, "user_id", userID)

	switch command {
	case "start":
		if message.CommandArguments() == startPaid {
			t.reply(chatID, msgPaidThanks, KeyboardNone)
			return
		}
		if _, err := t.ledger.CreateUser(ctx, userID, message.From.FirstName); err != nil {
			t.logger.Errorw("Failed to create user", "user_id", userID, "error", err)
			t.reply(chatID, msgSaveFailed, KeyboardNone)
			return
		}
		t.setSession(userID, &Session{State: StateAwaitingReady})
		t.reply(chatID, msgWelcome, KeyboardNone)
		t.reply(chatID, msgPressReady, KeyboardReady)

	case "menu":
		t.reply(chatID, msgMainMenu, KeyboardMenu)

	case "cancel":
		t.setSession(userID, &Session{State: StateComplete})
		t.reply(chatID, msgCancel, KeyboardRemove)

	case "help":
		t.reply(chatID, msgHelp, KeyboardNone)

	default:
		for _, p := range models.Products() {
			if p.Command == command {
				t.showProduct(chatID, p)
				return
			}
		}
		t.reply(chatID, msgUnknownCommand, KeyboardNone)
	}
}

func (t *TelegramBot) handleMessage(ctx context.Context, message *tgbotapi.Message) {
	chatID := message.Chat.ID
	userID := message.From.ID
	text := strings.TrimSpace(message.Text)

	for _, p := range models.Products() {
		if text == p.Button {
			t.showProduct(chatID, p)
			return
		}
	}

	s := t.session(ctx, userID)
	next, effect := Transition(s.State, s, text)

	t.logger.Debugw("Conversation step", "user_id", userID, "from", s.State, "to", next)

	if effect.SaveProfile {
		if err := t.ledger.UpdateProfile(ctx, userID, s.Profile); err != nil {
			t.logger.Errorw("Failed to save profile", "user_id", userID, "error", err)
			t.reply(chatID, msgSaveFailed, KeyboardNone)
			return
		}
	}
	if effect.SavePartner {
		if err := t.ledger.UpdatePartner(ctx, userID, s.Partner); err != nil {
			t.logger.Errorw("Failed to save partner", "user_id", userID, "error", err)
			t.reply(chatID, msgSaveFailed, KeyboardNone)
			return
		}
	}

	s.State = next
	t.reply(chatID, effect.Reply, effect.Keyboard)

	if p, ok := effect.Offer.Lookup(); ok {
		t.showProduct(chatID, p)
	}
}

func (t *TelegramBot) handleCallbackQuery(ctx context.Context, query *tgbotapi.CallbackQuery) {
	if _, err := t.api.Request(tgbotapi.NewCallback(query.ID, "")); err != nil {
		t.logger.Warnw("Failed to answer callback", "error", err)
	}
	if query.Message == nil || query.From == nil {
		return
	}

	chatID := query.Message.Chat.ID
	userID := query.From.ID

	t.logger.Infow("Received callback query", "user_id", userID, "data", query.Data)

	switch {
	case query.Data == callbackPartner:
		t.startPartner(userID, chatID)
	case strings.HasPrefix(query.Data, callbackGet):
		kind, err := models.ParseProductKind(strings.TrimPrefix(query.Data, callbackGet))
		if err != nil {
			t.logger.Warnw("Unknown product in callback", "data", query.Data)
			return
		}
		t.requestProduct(ctx, userID, chatID, kind)
	}
}

// requestProduct is the "get report" button: paid users go to the delivery
// queue, everyone else gets a checkout link.
func (t *TelegramBot) requestProduct(ctx context.Context, userID, chatID int64, kind models.ProductKind) {
	product, _ := kind.Lookup()

	user, err := t.ledger.GetUser(ctx, userID)
	if err != nil {
		if !errors.Is(err, ledger.ErrUserNotFound) {
			t.logger.Errorw("Failed to load user", "user_id", userID, "error", err)
		}
		t.reply(chatID, msgNoProfile, KeyboardNone)
		return
	}
	if !user.Profile.Complete() {
		t.reply(chatID, msgNoProfile, KeyboardNone)
		return
	}
	if kind == models.ProductCompatibility && !user.Partner.Profile.Complete() {
		t.startPartner(userID, chatID)
		return
	}

	if user.IsPaid(kind) {
		if err := t.queue.Enqueue(ctx, queue.NewJob(userID, kind, queue.SourceRequest)); err != nil {
			t.logger.Errorw("Failed to enqueue delivery", "user_id", userID, "product", kind, "error", err)
			t.reply(chatID, msgBusy, KeyboardNone)
			return
		}
		t.reply(chatID, fmt.Sprintf(msgRequestQueued, product.Title), KeyboardNone)
		return
	}

	successURL := t.botURL + "?start=" + startPaid
	url, err := t.checkout.CreateCheckoutSession(ctx, userID, kind, successURL, t.botURL)
	if err != nil {
		t.logger.Errorw("Failed to create Stripe session", "user_id", userID, "product", kind, "error", err)
		t.reply(chatID, msgCheckoutFailed, KeyboardNone)
		return
	}

	msg := tgbotapi.NewMessage(chatID, fmt.Sprintf(msgPayLink, product.Title))
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonURL(msgPayButton, url)),
	)
	t.send(msg)
	t.reply(chatID, msgAfterPay, KeyboardNone)
}

func (t *TelegramBot) startPartner(userID, chatID int64) {
	s := t.session(context.Background(), userID)
	s.State = StateAwaitingPartnerName
	t.reply(chatID, msgAskPartnerName, KeyboardRemove)
}

func (t *TelegramBot) showProduct(chatID int64, p models.Product) {
	rows := [][]tgbotapi.InlineKeyboardButton{
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf(msgGetButton, p.Title), callbackGet+string(p.Kind)),
		),
	}
	if p.Kind == models.ProductCompatibility {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(msgPartnerButton, callbackPartner),
		))
	}

	msg := tgbotapi.NewMessage(chatID, p.Title+"\n\n"+p.Description)
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	t.send(msg)
}

// session returns the live session for userID. A user without one resumes
// at the menu when the ledger already holds their birth data.
func (t *TelegramBot) session(ctx context.Context, userID int64) *Session {
	t.sessionsMu.Lock()
	s, ok := t.sessions[userID]
	t.sessionsMu.Unlock()
	if ok {
		return s
	}

	s = &Session{State: StateIdle}
	if u, err := t.ledger.GetUser(ctx, userID); err == nil && u.Profile.Complete() {
		s.State = StateComplete
		s.Profile = u.Profile
		s.Partner = u.Partner
	}

	t.sessionsMu.Lock()
	defer t.sessionsMu.Unlock()
	if existing, ok := t.sessions[userID]; ok {
		return existing
	}
	t.sessions[userID] = s
	return s
}

func (t *TelegramBot) setSession(userID int64, s *Session) {
	t.sessionsMu.Lock()
	defer t.sessionsMu.Unlock()
	t.sessions[userID] = s
}

func (t *TelegramBot) reply(chatID int64, text string, kb Keyboard) {
	if text == "" {
		return
	}
	msg := tgbotapi.NewMessage(chatID, text)
	switch kb {
	case KeyboardReady:
		markup := tgbotapi.NewReplyKeyboard(tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(btnReady)))
		markup.ResizeKeyboard = true
		msg.ReplyMarkup = markup
	case KeyboardMenu:
		msg.ReplyMarkup = menuKeyboard()
	case KeyboardRemove:
		msg.ReplyMarkup = tgbotapi.NewRemoveKeyboard(true)
	}
	t.send(msg)
}

func (t *TelegramBot) send(msg tgbotapi.MessageConfig) {
	if _, err := t.api.Send(msg); err != nil {
		t.logger.Errorw("Failed to send message", "chat_id", msg.ChatID, "error", err)
	}
}

func menuKeyboard() tgbotapi.ReplyKeyboardMarkup {
	var rows [][]tgbotapi.KeyboardButton
	for _, p := range models.Products() {
		rows = append(rows, tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(p.Button)))
	}
	markup := tgbotapi.NewReplyKeyboard(rows...)
	markup.ResizeKeyboard = true
	return markup
}
