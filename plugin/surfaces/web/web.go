// Package web implements the webchat surface. Inbound events arrive as
// JSON webhooks authenticated by an HS256 bearer token; outbound
// replies are signed JSON posts to the front-end's callback URL.
package web

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/relaydesk/relaydesk/plugin/surfaces"
)

const (
	defaultTimeout = 5 * time.Second
	tokenLifetime  = 2 * time.Minute
	tokenIssuer    = "relaydesk"
)

// Config holds configuration for the web surface.
type Config struct {
	// Secret is the HS256 secret shared with the web front-end. It signs
	// outbound callback tokens and verifies inbound bearer tokens.
	Secret string

	// CallbackURL receives outbound replies as JSON posts.
	CallbackURL string

	Timeout time.Duration
}

// Channel implements surfaces.Channel for the web widget.
type Channel struct {
	config *Config
	client *http.Client
}

// NewChannel creates a web surface channel.
func NewChannel(config *Config) (*Channel, error) {
	if config == nil || config.Secret == "" {
		return nil, fmt.Errorf("web surface requires a shared secret")
	}
	if config.CallbackURL == "" {
		return nil, fmt.Errorf("web surface requires a callback URL")
	}

	timeout := config.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Channel{
		config: config,
		client: &http.Client{Timeout: timeout},
	}, nil
}

// Platform returns the platform name.
func (c *Channel) Platform() surfaces.Platform {
	return surfaces.PlatformWeb
}

// VerifyRequest checks the bearer token minted by the web front-end.
// Tokens must be HS256-signed with the shared secret and carry an
// expiry.
func (c *Channel) VerifyRequest(ctx context.Context, headers map[string]string, body []byte) error {
	raw := bearerToken(headers)
	if raw == "" {
		return surfaces.ErrInvalidSignature
	}

	_, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		return []byte(c.config.Secret), nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithExpirationRequired())
	if err != nil {
		slog.Warn("web surface: bearer token rejected", "error", err)
		return surfaces.ErrInvalidSignature
	}
	return nil
}

// webEvent is the inbound wire format posted by the web front-end.
type webEvent struct {
	EventID     string `json:"event_id"`
	UserID      string `json:"user_id"`
	ChannelKey  string `json:"channel_key"`
	Text        string `json:"text"`
	DisplayName string `json:"display_name,omitempty"`
	Email       string `json:"email,omitempty"`
	At          int64  `json:"at,omitempty"` // unix seconds; zero means receipt time
}

// ParseEvent converts a web widget event into a canonical inbound event.
func (c *Channel) ParseEvent(ctx context.Context, payload []byte) (*surfaces.InboundEvent, error) {
	var ev webEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		slog.Warn("web surface: malformed event payload", "error", err)
		return nil, surfaces.ErrInvalidPayload
	}
	if ev.UserID == "" || ev.Text == "" {
		return nil, surfaces.ErrInvalidPayload
	}

	at := time.Now()
	if ev.At > 0 {
		at = time.Unix(ev.At, 0)
	}

	// Anonymous widgets often track only a visitor id; the conversation
	// then is the visitor.
	channelKey := ev.ChannelKey
	if channelKey == "" {
		channelKey = ev.UserID
	}

	return &surfaces.InboundEvent{
		Platform:       surfaces.PlatformWeb,
		ExternalUserID: ev.UserID,
		ChannelKey:     channelKey,
		Text:           ev.Text,
		DisplayName:    ev.DisplayName,
		Email:          ev.Email,
		EventID:        ev.EventID,
		At:             at,
	}, nil
}

// callbackMessage is the outbound wire format posted to the callback URL.
type callbackMessage struct {
	Type       string            `json:"type"` // "text" or "actions"
	ChannelKey string            `json:"channel_key"`
	Text       string            `json:"text"`
	Actions    []surfaces.Action `json:"actions,omitempty"`
}

// SendText delivers a plain reply to the web conversation.
func (c *Channel) SendText(ctx context.Context, channelKey, text string) error {
	return c.post(ctx, &callbackMessage{Type: "text", ChannelKey: channelKey, Text: text})
}

// SendActions delivers a reply with tappable buttons.
func (c *Channel) SendActions(ctx context.Context, channelKey, text string, actions []surfaces.Action) error {
	return c.post(ctx, &callbackMessage{Type: "actions", ChannelKey: channelKey, Text: text, Actions: actions})
}

func (c *Channel) post(ctx context.Context, msg *callbackMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal callback message: %w", err)
	}

	token, err := c.mintToken()
	if err != nil {
		return fmt.Errorf("mint callback token: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.CallbackURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create callback request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", surfaces.ErrDeliveryFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: status %d: %s", surfaces.ErrDeliveryFailed, resp.StatusCode, string(respBody))
	}

	slog.Debug("web surface: delivered",
		"type", msg.Type,
		"channel_key", msg.ChannelKey,
	)
	return nil
}

// mintToken signs a short-lived bearer token the front-end uses to
// authenticate the callback post.
func (c *Channel) mintToken() (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    tokenIssuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(tokenLifetime)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(c.config.Secret))
}

// Close closes the web channel.
func (c *Channel) Close() error {
	return nil
}

func bearerToken(headers map[string]string) string {
	for key, value := range headers {
		if !strings.EqualFold(key, "Authorization") {
			continue
		}
		parts := strings.SplitN(value, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	return ""
}

var _ surfaces.Channel = (*Channel)(nil)
