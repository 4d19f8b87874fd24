package surfaces

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChannel struct {
	platform    Platform
	verifyErr   error
	event       *InboundEvent
	parseErr    error
	parseCalls  int
	sentTexts   []string
	sentActions [][]Action
	closed      bool
	closeErr    error
}

func (f *fakeChannel) Platform() Platform { return f.platform }

func (f *fakeChannel) VerifyRequest(ctx context.Context, headers map[string]string, body []byte) error {
	return f.verifyErr
}

func (f *fakeChannel) ParseEvent(ctx context.Context, payload []byte) (*InboundEvent, error) {
	f.parseCalls++
	if f.parseErr != nil {
		return nil, f.parseErr
	}
	return f.event, nil
}

func (f *fakeChannel) SendText(ctx context.Context, channelKey, text string) error {
	f.sentTexts = append(f.sentTexts, channelKey+"|"+text)
	return nil
}

func (f *fakeChannel) SendActions(ctx context.Context, channelKey, text string, actions []Action) error {
	f.sentActions = append(f.sentActions, actions)
	return nil
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return f.closeErr
}

func TestSurfaceRouter_HandleInbound(t *testing.T) {
	ctx := context.Background()
	want := &InboundEvent{
		Platform:       PlatformWeb,
		ExternalUserID: "visitor-1",
		ChannelKey:     "visitor-1",
		Text:           "hello",
	}
	channel := &fakeChannel{platform: PlatformWeb, event: want}

	router := NewSurfaceRouter()
	router.Register(channel)

	event, err := router.HandleInbound(ctx, PlatformWeb, nil, []byte("{}"))
	require.NoError(t, err)
	assert.Equal(t, want, event)

	_, err = router.HandleInbound(ctx, PlatformTelegram, nil, []byte("{}"))
	assert.ErrorIs(t, err, ErrNoChannelForPlatform)
}

func TestSurfaceRouter_VerifyFailureStopsParse(t *testing.T) {
	channel := &fakeChannel{platform: PlatformWeb, verifyErr: ErrInvalidSignature}

	router := NewSurfaceRouter()
	router.Register(channel)

	_, err := router.HandleInbound(context.Background(), PlatformWeb, nil, []byte("{}"))
	assert.ErrorIs(t, err, ErrInvalidSignature)
	assert.Zero(t, channel.parseCalls)
}

func TestSurfaceRouter_SendRouting(t *testing.T) {
	ctx := context.Background()
	channel := &fakeChannel{platform: PlatformWeb}

	router := NewSurfaceRouter()
	router.Register(channel)

	require.NoError(t, router.SendText(ctx, PlatformWeb, "chan-1", "hi"))
	require.NoError(t, router.SendActions(ctx, PlatformWeb, "chan-1", "pick one", []Action{{Label: "Option 1", Payload: "1"}}))

	assert.Equal(t, []string{"chan-1|hi"}, channel.sentTexts)
	require.Len(t, channel.sentActions, 1)
	assert.Equal(t, "1", channel.sentActions[0][0].Payload)

	err := router.SendText(ctx, PlatformTelegram, "chan-1", "hi")
	assert.ErrorIs(t, err, ErrNoChannelForPlatform)
}

func TestSurfaceRouter_Close(t *testing.T) {
	closeErr := errors.New("socket already closed")
	healthy := &fakeChannel{platform: PlatformWeb}
	broken := &fakeChannel{platform: PlatformTelegram, closeErr: closeErr}

	router := NewSurfaceRouter()
	router.Register(healthy)
	router.Register(broken)

	err := router.Close()
	assert.ErrorIs(t, err, closeErr)
	assert.True(t, healthy.closed)
	assert.True(t, broken.closed)
}

func TestChannelError(t *testing.T) {
	assert.Equal(t, "DELIVERY_FAILED: could not deliver message to surface", ErrDeliveryFailed.Error())

	cause := io.ErrUnexpectedEOF
	wrapped := &ChannelError{Code: "DELIVERY_FAILED", Message: "post failed", Err: cause}
	assert.Contains(t, wrapped.Error(), "unexpected EOF")
	assert.ErrorIs(t, wrapped, cause)
}

func TestChannelError_IsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  *ChannelError
		want bool
	}{
		{"delivery failure", ErrDeliveryFailed, true},
		{"bad signature", ErrInvalidSignature, false},
		{"bad payload", ErrInvalidPayload, false},
		{"no channel", ErrNoChannelForPlatform, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.IsRetryable())
		})
	}
}

func TestFloodGate_BurstThenRefill(t *testing.T) {
	current := time.Now()
	gate := NewFloodGate(60, 2)
	gate.now = func() time.Time { return current }

	assert.True(t, gate.Allow("web/visitor-1"))
	assert.True(t, gate.Allow("web/visitor-1"))
	assert.False(t, gate.Allow("web/visitor-1"))

	// Other users are budgeted independently.
	assert.True(t, gate.Allow("web/visitor-2"))

	// 60/min refills one token per second.
	current = current.Add(time.Second)
	assert.True(t, gate.Allow("web/visitor-1"))
	assert.False(t, gate.Allow("web/visitor-1"))
}

func TestFloodGate_PrunesIdleBuckets(t *testing.T) {
	current := time.Now()
	gate := NewFloodGate(60, 2)
	gate.now = func() time.Time { return current }

	assert.True(t, gate.Allow("web/old-visitor"))

	current = current.Add(bucketIdleTTL + time.Minute)
	assert.True(t, gate.Allow("web/new-visitor"))

	_, ok := gate.buckets["web/old-visitor"]
	assert.False(t, ok)
	_, ok = gate.buckets["web/new-visitor"]
	assert.True(t, ok)
}

func TestFloodGate_Defaults(t *testing.T) {
	gate := NewFloodGate(0, 0)
	assert.Equal(t, defaultBurst, gate.burst)
	for i := 0; i < defaultBurst; i++ {
		assert.True(t, gate.Allow("web/visitor-1"))
	}
}
