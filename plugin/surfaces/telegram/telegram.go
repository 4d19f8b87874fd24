// Package telegram adapts Telegram bot updates to the canonical surface
// event model. Slot offers go out as an inline keyboard; a tapped
// button comes back as a callback query that reads like a typed reply.
package telegram

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/relaydesk/relaydesk/plugin/surfaces"
)

// Telegram echoes this header back when the webhook was registered with
// a secret token.
const secretTokenHeader = "X-Telegram-Bot-Api-Secret-Token"

// Config holds configuration for the Telegram surface.
type Config struct {
	BotToken string

	// SecretToken, when set, must match Telegram's secret token header on
	// every webhook request.
	SecretToken string
}

// Channel implements surfaces.Channel for the Telegram Bot API.
type Channel struct {
	bot    *tgbotapi.BotAPI
	config *Config
}

// NewChannel creates a Telegram surface channel. The bot token is
// verified against the API during construction.
func NewChannel(config *Config) (*Channel, error) {
	if config == nil || config.BotToken == "" {
		return nil, fmt.Errorf("telegram surface requires a bot token")
	}

	bot, err := tgbotapi.NewBotAPI(config.BotToken)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}

	return &Channel{bot: bot, config: config}, nil
}

// newChannelWithBot wires a preconstructed bot, used by tests.
func newChannelWithBot(bot *tgbotapi.BotAPI, config *Config) *Channel {
	return &Channel{bot: bot, config: config}
}

// Platform returns the platform name.
func (c *Channel) Platform() surfaces.Platform {
	return surfaces.PlatformTelegram
}

// VerifyRequest compares Telegram's secret token header when one is
// configured. Without a secret the bot API offers no per-request
// signature and the webhook URL itself is the credential.
func (c *Channel) VerifyRequest(ctx context.Context, headers map[string]string, body []byte) error {
	if c.config.SecretToken == "" {
		return nil
	}
	for key, value := range headers {
		if !strings.EqualFold(key, secretTokenHeader) {
			continue
		}
		if subtle.ConstantTimeCompare([]byte(value), []byte(c.config.SecretToken)) == 1 {
			return nil
		}
		break
	}
	return surfaces.ErrInvalidSignature
}

// ParseEvent converts a Telegram update into a canonical inbound event.
func (c *Channel) ParseEvent(ctx context.Context, payload []byte) (*surfaces.InboundEvent, error) {
	var update tgbotapi.Update
	if err := json.Unmarshal(payload, &update); err != nil {
		slog.Warn("telegram surface: malformed update", "error", err)
		return nil, surfaces.ErrInvalidPayload
	}

	if update.CallbackQuery != nil {
		return c.parseCallback(&update)
	}

	msg := update.Message
	if msg == nil {
		msg = update.EditedMessage
	}
	if msg == nil || msg.From == nil || msg.Chat == nil {
		return nil, surfaces.ErrInvalidPayload
	}

	text := msg.Text
	if text == "" {
		text = msg.Caption
	}
	if text == "" {
		return nil, surfaces.ErrInvalidPayload
	}

	at := time.Now()
	if msg.Date > 0 {
		at = time.Unix(int64(msg.Date), 0)
	}

	return &surfaces.InboundEvent{
		Platform:       surfaces.PlatformTelegram,
		ExternalUserID: strconv.FormatInt(msg.From.ID, 10),
		ChannelKey:     strconv.FormatInt(msg.Chat.ID, 10),
		Text:           text,
		DisplayName:    displayName(msg.From),
		EventID:        strconv.Itoa(update.UpdateID),
		At:             at,
		Metadata: map[string]string{
			"username":      msg.From.UserName,
			"language_code": msg.From.LanguageCode,
		},
	}, nil
}

// parseCallback turns a tapped inline button into the turn the user
// would have typed. The callback is answered first so the client stops
// its progress spinner; a failed answer only costs polish.
func (c *Channel) parseCallback(update *tgbotapi.Update) (*surfaces.InboundEvent, error) {
	cb := update.CallbackQuery
	if cb.Data == "" || cb.From == nil || cb.Message == nil || cb.Message.Chat == nil {
		return nil, surfaces.ErrInvalidPayload
	}

	if _, err := c.bot.Request(tgbotapi.NewCallback(cb.ID, "")); err != nil {
		slog.Warn("telegram surface: answer callback failed", "error", err)
	}

	return &surfaces.InboundEvent{
		Platform:       surfaces.PlatformTelegram,
		ExternalUserID: strconv.FormatInt(cb.From.ID, 10),
		ChannelKey:     strconv.FormatInt(cb.Message.Chat.ID, 10),
		Text:           cb.Data,
		DisplayName:    displayName(cb.From),
		EventID:        strconv.Itoa(update.UpdateID),
		At:             time.Now(),
		Metadata: map[string]string{
			"username":       cb.From.UserName,
			"callback_query": cb.ID,
		},
	}, nil
}

// SendText delivers a plain reply to the Telegram chat.
func (c *Channel) SendText(ctx context.Context, channelKey, text string) error {
	chatID, err := strconv.ParseInt(channelKey, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid telegram chat id %q: %w", channelKey, err)
	}

	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := c.bot.Send(msg); err != nil {
		return fmt.Errorf("%w: %w", surfaces.ErrDeliveryFailed, err)
	}
	return nil
}

// SendActions delivers a reply with an inline keyboard, one button per
// row so long slot labels stay readable.
func (c *Channel) SendActions(ctx context.Context, channelKey, text string, actions []surfaces.Action) error {
	chatID, err := strconv.ParseInt(channelKey, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid telegram chat id %q: %w", channelKey, err)
	}

	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(actions))
	for _, action := range actions {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(action.Label, action.Payload),
		))
	}

	msg := tgbotapi.NewMessage(chatID, text)
	if len(rows) > 0 {
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	}
	if _, err := c.bot.Send(msg); err != nil {
		return fmt.Errorf("%w: %w", surfaces.ErrDeliveryFailed, err)
	}
	return nil
}

// Close closes the Telegram channel.
func (c *Channel) Close() error {
	return nil
}

func displayName(user *tgbotapi.User) string {
	if user == nil {
		return ""
	}
	name := strings.TrimSpace(strings.TrimSpace(user.FirstName) + " " + strings.TrimSpace(user.LastName))
	if name == "" {
		name = user.UserName
	}
	return name
}

var _ surfaces.Channel = (*Channel)(nil)
