package bot

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"astro-bot/pkg/logger"
)

// maxMessageRunes is Telegram's limit for one text message.
const maxMessageRunes = 4096

// NewAPI connects to Telegram. A nil client uses http.DefaultClient and the
// public endpoint.
func NewAPI(token, endpoint string, client *http.Client) (*tgbotapi.BotAPI, error) {
	if client == nil {
		client = http.DefaultClient
	}
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}

	api, err := tgbotapi.NewBotAPIWithClient(token, endpoint, client)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}
	return api, nil
}

// Sender delivers worker output to a chat.
type Sender struct {
	api    *tgbotapi.BotAPI
	logger *logger.Logger
}

func NewSender(api *tgbotapi.BotAPI, logger *logger.Logger) *Sender {
	return &Sender{api: api, logger: logger}
}

// SendText sends text, split into as many messages as Telegram needs.
func (s *Sender) SendText(ctx context.Context, chatID int64, text string) error {
	chunks := splitMessage(text, maxMessageRunes)
	if len(chunks) > 1 {
		s.logger.Debugw("Splitting long message", "chat_id", chatID, "parts", len(chunks))
	}
	for _, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := s.api.Send(tgbotapi.NewMessage(chatID, chunk)); err != nil {
			return fmt.Errorf("failed to send message to %d: %w", chatID, err)
		}
	}
	return nil
}

// SendDocument lets Telegram fetch the file from url.
func (s *Sender) SendDocument(ctx context.Context, chatID int64, url, caption string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	doc := tgbotapi.NewDocument(chatID, tgbotapi.FileURL(url))
	doc.Caption = caption
	if _, err := s.api.Send(doc); err != nil {
		return fmt.Errorf("failed to send document to %d: %w", chatID, err)
	}
	return nil
}

// splitMessage cuts text into chunks of at most limit runes, preferring
// paragraph and line boundaries.
func splitMessage(text string, limit int) []string {
	if utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}

	var chunks []string
	for utf8.RuneCountInString(text) > limit {
		runes := []rune(text)
		head := string(runes[:limit])

		cut := strings.LastIndex(head, "\n\n")
		if cut <= 0 {
			cut = strings.LastIndex(head, "\n")
		}
		if cut <= 0 {
			cut = strings.LastIndex(head, " ")
		}
		if cut <= 0 {
			cut = len(head)
		}

		chunks = append(chunks, strings.TrimRight(text[:cut], " \n"))
		text = strings.TrimLeft(text[cut:], " \n")
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}
