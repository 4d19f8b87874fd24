package web

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaydesk/relaydesk/plugin/surfaces"
)

const testSecret = "test-secret"

func newTestChannel(t *testing.T, callbackURL string) *Channel {
	t.Helper()
	channel, err := NewChannel(&Config{Secret: testSecret, CallbackURL: callbackURL})
	require.NoError(t, err)
	return channel
}

func mintTestToken(t *testing.T, secret string, expires time.Time) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(expires),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

// unsignedToken builds an alg=none token by hand; no signer in the
// library will mint one without an explicit opt-in.
func unsignedToken(t *testing.T, expires time.Time) string {
	t.Helper()
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none","typ":"JWT"}`))
	claims := base64.RawURLEncoding.EncodeToString([]byte(fmt.Sprintf(`{"exp":%d}`, expires.Unix())))
	return header + "." + claims + "."
}

func TestVerifyRequest(t *testing.T) {
	channel := newTestChannel(t, "http://callback.test/deliver")
	future := time.Now().Add(time.Minute)

	tests := []struct {
		name    string
		headers map[string]string
		wantErr bool
	}{
		{
			name:    "valid token",
			headers: map[string]string{"Authorization": "Bearer " + mintTestToken(t, testSecret, future)},
			wantErr: false,
		},
		{
			name:    "lowercase header key",
			headers: map[string]string{"authorization": "bearer " + mintTestToken(t, testSecret, future)},
			wantErr: false,
		},
		{
			name:    "wrong secret",
			headers: map[string]string{"Authorization": "Bearer " + mintTestToken(t, "other-secret", future)},
			wantErr: true,
		},
		{
			name:    "expired token",
			headers: map[string]string{"Authorization": "Bearer " + mintTestToken(t, testSecret, time.Now().Add(-time.Minute))},
			wantErr: true,
		},
		{
			name:    "unsigned alg none token",
			headers: map[string]string{"Authorization": "Bearer " + unsignedToken(t, future)},
			wantErr: true,
		},
		{
			name:    "missing header",
			headers: map[string]string{},
			wantErr: true,
		},
		{
			name:    "wrong scheme",
			headers: map[string]string{"Authorization": "Basic dXNlcjpwYXNz"},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := channel.VerifyRequest(context.Background(), tt.headers, nil)
			if tt.wantErr {
				assert.ErrorIs(t, err, surfaces.ErrInvalidSignature)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestVerifyRequest_TokenWithoutExpiry(t *testing.T) {
	channel := newTestChannel(t, "http://callback.test/deliver")

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	err = channel.VerifyRequest(context.Background(), map[string]string{"Authorization": "Bearer " + token}, nil)
	assert.ErrorIs(t, err, surfaces.ErrInvalidSignature)
}

func TestParseEvent(t *testing.T) {
	channel := newTestChannel(t, "http://callback.test/deliver")

	payload := `{
		"event_id": "evt-100",
		"user_id": "visitor-9",
		"channel_key": "conv-3",
		"text": "Do you support SSO?",
		"display_name": "Jordan",
		"email": "jordan@example.com",
		"at": 1700000000
	}`

	event, err := channel.ParseEvent(context.Background(), []byte(payload))
	require.NoError(t, err)
	assert.Equal(t, surfaces.PlatformWeb, event.Platform)
	assert.Equal(t, "visitor-9", event.ExternalUserID)
	assert.Equal(t, "conv-3", event.ChannelKey)
	assert.Equal(t, "Do you support SSO?", event.Text)
	assert.Equal(t, "Jordan", event.DisplayName)
	assert.Equal(t, "jordan@example.com", event.Email)
	assert.Equal(t, "evt-100", event.EventID)
	assert.Equal(t, int64(1700000000), event.At.Unix())
}

func TestParseEvent_ChannelKeyDefaultsToUser(t *testing.T) {
	channel := newTestChannel(t, "http://callback.test/deliver")

	event, err := channel.ParseEvent(context.Background(), []byte(`{"user_id":"visitor-9","text":"hi"}`))
	require.NoError(t, err)
	assert.Equal(t, "visitor-9", event.ChannelKey)
	assert.WithinDuration(t, time.Now(), event.At, 2*time.Second)
}

func TestParseEvent_Invalid(t *testing.T) {
	channel := newTestChannel(t, "http://callback.test/deliver")

	tests := []struct {
		name    string
		payload string
	}{
		{"malformed json", `{"user_id":`},
		{"missing user id", `{"text":"hi"}`},
		{"missing text", `{"user_id":"visitor-9"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := channel.ParseEvent(context.Background(), []byte(tt.payload))
			assert.ErrorIs(t, err, surfaces.ErrInvalidPayload)
		})
	}
}

func TestSendText(t *testing.T) {
	var (
		gotMethod string
		gotAuth   string
		gotBody   []byte
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotAuth = r.Header.Get("Authorization")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	channel := newTestChannel(t, server.URL)
	require.NoError(t, channel.SendText(context.Background(), "conv-3", "All set."))

	assert.Equal(t, http.MethodPost, gotMethod)

	var msg callbackMessage
	require.NoError(t, json.Unmarshal(gotBody, &msg))
	assert.Equal(t, "text", msg.Type)
	assert.Equal(t, "conv-3", msg.ChannelKey)
	assert.Equal(t, "All set.", msg.Text)
	assert.Empty(t, msg.Actions)

	// The callback carries a token the front-end can verify with the
	// same shared secret.
	raw := strings.TrimPrefix(gotAuth, "Bearer ")
	parsed, err := jwt.Parse(raw, func(token *jwt.Token) (any, error) {
		return []byte(testSecret), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	require.NoError(t, err)
	require.True(t, parsed.Valid)

	issuer, err := parsed.Claims.GetIssuer()
	require.NoError(t, err)
	assert.Equal(t, tokenIssuer, issuer)
}

func TestSendActions(t *testing.T) {
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	channel := newTestChannel(t, server.URL)
	actions := []surfaces.Action{
		{Label: "Monday, January 12 at 9:00 AM - 9:30 AM EST", Payload: "1"},
		{Label: "Monday, January 12 at 9:45 AM - 10:15 AM EST", Payload: "2"},
	}
	require.NoError(t, channel.SendActions(context.Background(), "conv-3", "Here are some times:", actions))

	var msg callbackMessage
	require.NoError(t, json.Unmarshal(gotBody, &msg))
	assert.Equal(t, "actions", msg.Type)
	assert.Equal(t, "Here are some times:", msg.Text)
	require.Len(t, msg.Actions, 2)
	assert.Equal(t, "Monday, January 12 at 9:00 AM - 9:30 AM EST", msg.Actions[0].Label)
	assert.Equal(t, "2", msg.Actions[1].Payload)
}

func TestSend_DeliveryFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer server.Close()

	channel := newTestChannel(t, server.URL)
	err := channel.SendText(context.Background(), "conv-3", "hello")
	require.Error(t, err)
	assert.ErrorIs(t, err, surfaces.ErrDeliveryFailed)
	assert.Contains(t, err.Error(), "status 502")

	var chErr *surfaces.ChannelError
	require.True(t, errors.As(err, &chErr))
	assert.True(t, chErr.IsRetryable())
}

func TestNewChannel_Validation(t *testing.T) {
	_, err := NewChannel(nil)
	assert.Error(t, err)

	_, err = NewChannel(&Config{CallbackURL: "http://callback.test"})
	assert.Error(t, err)

	_, err = NewChannel(&Config{Secret: "s"})
	assert.Error(t, err)
}
