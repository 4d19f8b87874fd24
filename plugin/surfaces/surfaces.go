// Package surfaces normalises user-facing chat surfaces (web widget,
// Telegram) into canonical inbound events and routes outbound replies
// back to the surface a conversation arrived on.
package surfaces

import (
	"context"
	"io"
	"sync"
	"time"
)

// Platform identifies a user surface.
type Platform string

const (
	PlatformWeb      Platform = "web"
	PlatformTelegram Platform = "telegram"
)

// IsValid reports whether the platform is a known surface.
func (p Platform) IsValid() bool {
	switch p {
	case PlatformWeb, PlatformTelegram:
		return true
	}
	return false
}

// InboundEvent is the canonical form of a user turn, independent of the
// surface it arrived on. (Platform, ExternalUserID) is the user key the
// session store groups conversations by; ChannelKey addresses the
// user-side conversation for outbound delivery.
type InboundEvent struct {
	Platform       Platform
	ExternalUserID string
	ChannelKey     string
	Text           string
	DisplayName    string
	Email          string
	EventID        string // surface-side delivery id, used to suppress webhook replays
	At             time.Time
	Metadata       map[string]string
}

// Action is a tappable button offered alongside a reply. When tapped,
// Payload comes back verbatim as the user's next turn.
type Action struct {
	Label   string `json:"label"`
	Payload string `json:"payload"`
}

// Channel adapts one surface to the canonical event model. Implementations
// verify request authenticity and translate wire formats; they never make
// routing decisions.
type Channel interface {
	// Platform returns the surface this channel serves.
	Platform() Platform

	// VerifyRequest checks the authenticity of an inbound webhook request.
	VerifyRequest(ctx context.Context, headers map[string]string, body []byte) error

	// ParseEvent converts a surface payload into a canonical inbound event.
	ParseEvent(ctx context.Context, payload []byte) (*InboundEvent, error)

	// SendText delivers a plain reply to the surface conversation.
	SendText(ctx context.Context, channelKey, text string) error

	// SendActions delivers a reply with tappable action buttons.
	SendActions(ctx context.Context, channelKey, text string, actions []Action) error

	// Close releases any connections held by the channel.
	Close() error
}

// SurfaceRouter dispatches inbound webhooks and outbound replies to the
// channel registered for a platform. Concurrent-safe.
type SurfaceRouter struct {
	mu       sync.RWMutex
	registry map[Platform]Channel
}

// NewSurfaceRouter creates an empty router.
func NewSurfaceRouter() *SurfaceRouter {
	return &SurfaceRouter{
		registry: make(map[Platform]Channel),
	}
}

// Register registers a channel under its platform, replacing any
// previous registration.
func (r *SurfaceRouter) Register(channel Channel) {
	r.mu.Lock()
	r.registry[channel.Platform()] = channel
	r.mu.Unlock()
}

// Channel returns the channel for a platform, or nil if none is registered.
func (r *SurfaceRouter) Channel(platform Platform) Channel {
	r.mu.RLock()
	ch := r.registry[platform]
	r.mu.RUnlock()
	return ch
}

// HandleInbound verifies and parses an inbound webhook request for the
// given platform.
func (r *SurfaceRouter) HandleInbound(ctx context.Context, platform Platform, headers map[string]string, body []byte) (*InboundEvent, error) {
	channel := r.Channel(platform)
	if channel == nil {
		return nil, ErrNoChannelForPlatform
	}

	if err := channel.VerifyRequest(ctx, headers, body); err != nil {
		return nil, err
	}

	return channel.ParseEvent(ctx, body)
}

// SendText delivers a plain reply on the given platform.
func (r *SurfaceRouter) SendText(ctx context.Context, platform Platform, channelKey, text string) error {
	channel := r.Channel(platform)
	if channel == nil {
		return ErrNoChannelForPlatform
	}
	return channel.SendText(ctx, channelKey, text)
}

// SendActions delivers a reply with action buttons on the given platform.
func (r *SurfaceRouter) SendActions(ctx context.Context, platform Platform, channelKey, text string, actions []Action) error {
	channel := r.Channel(platform)
	if channel == nil {
		return ErrNoChannelForPlatform
	}
	return channel.SendActions(ctx, channelKey, text, actions)
}

var _ io.Closer = (*SurfaceRouter)(nil)

// Close closes all registered channels and reports the first failure.
func (r *SurfaceRouter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for _, channel := range r.registry {
		if err := channel.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Errors
var (
	ErrNoChannelForPlatform = &ChannelError{Code: "NO_CHANNEL", Message: "no channel registered for platform"}
	ErrInvalidSignature     = &ChannelError{Code: "INVALID_SIGNATURE", Message: "request authenticity check failed"}
	ErrInvalidPayload       = &ChannelError{Code: "INVALID_PAYLOAD", Message: "could not parse surface payload"}
	ErrDeliveryFailed       = &ChannelError{Code: "DELIVERY_FAILED", Message: "could not deliver message to surface"}
)

// ChannelError represents an error in surface channel operations.
type ChannelError struct {
	Code    string
	Message string
	Err     error
}

func (e *ChannelError) Error() string {
	if e.Err != nil {
		return e.Code + ": " + e.Message + ": " + e.Err.Error()
	}
	return e.Code + ": " + e.Message
}

func (e *ChannelError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether the operation may succeed on a retry.
// Authenticity failures and malformed payloads never will.
func (e *ChannelError) IsRetryable() bool {
	switch e.Code {
	case "NO_CHANNEL", "INVALID_SIGNATURE", "INVALID_PAYLOAD":
		return false
	default:
		return true
	}
}
