package slack

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaydesk/relaydesk/plugin/workspace"
)

func signedHeaders(secret string, body []byte) http.Header {
	ts := fmt.Sprintf("%d", time.Now().Unix())
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "v0:%s:%s", ts, body)

	h := http.Header{}
	h.Set("X-Slack-Request-Timestamp", ts)
	h.Set("X-Slack-Signature", "v0="+hex.EncodeToString(mac.Sum(nil)))
	return h
}

func TestVerifyRequest(t *testing.T) {
	secret := "8f742231b10e8888abcd99yyyzzz85a5"
	body := []byte(`{"type":"url_verification","challenge":"abc"}`)

	assert.NoError(t, VerifyRequest(secret, signedHeaders(secret, body), body))
	assert.Error(t, VerifyRequest("wrong-secret", signedHeaders(secret, body), body))
	assert.Error(t, VerifyRequest(secret, http.Header{}, body))
}

func TestParseEventPayloadChallenge(t *testing.T) {
	inbound, err := ParseEventPayload([]byte(`{"type":"url_verification","challenge":"abc123"}`))
	require.NoError(t, err)
	assert.Equal(t, "abc123", inbound.Challenge)
	assert.Nil(t, inbound.Reply)
}

func TestParseEventPayloadThreadReply(t *testing.T) {
	body := []byte(`{
		"type": "event_callback",
		"event_id": "Ev0001",
		"event": {
			"type": "message",
			"user": "U123",
			"text": "Can you share logs?",
			"ts": "1700000002.000100",
			"thread_ts": "1700000000.000200",
			"channel": "C555"
		}
	}`)

	inbound, err := ParseEventPayload(body)
	require.NoError(t, err)
	require.NotNil(t, inbound.Reply)
	assert.Equal(t, &workspace.ReplyEvent{
		Provider:  Provider,
		EventID:   "Ev0001",
		ThreadKey: "1700000000.000200",
		AgentID:   "U123",
		Text:      "Can you share logs?",
	}, inbound.Reply)
}

func TestParseEventPayloadDropsNoise(t *testing.T) {
	cases := map[string]string{
		"bot message": `{"type":"event_callback","event_id":"Ev1","event":
			{"type":"message","bot_id":"B1","text":"ticket card","ts":"2.0","thread_ts":"1.0"}}`,
		"top-level channel message": `{"type":"event_callback","event_id":"Ev2","event":
			{"type":"message","user":"U1","text":"hi","ts":"3.0"}}`,
		"thread parent": `{"type":"event_callback","event_id":"Ev3","event":
			{"type":"message","user":"U1","text":"hi","ts":"4.0","thread_ts":"4.0"}}`,
		"message edit": `{"type":"event_callback","event_id":"Ev4","event":
			{"type":"message","subtype":"message_changed","user":"U1","ts":"5.0","thread_ts":"1.0"}}`,
		"reaction": `{"type":"event_callback","event_id":"Ev5","event":
			{"type":"reaction_added","user":"U1"}}`,
		"unknown envelope": `{"type":"app_rate_limited"}`,
	}

	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			inbound, err := ParseEventPayload([]byte(body))
			require.NoError(t, err)
			assert.Empty(t, inbound.Challenge)
			assert.Nil(t, inbound.Reply)
		})
	}
}

func TestParseInteractionPayloadAccept(t *testing.T) {
	payload := []byte(`{
		"type": "block_actions",
		"user": {"id": "U777", "name": "dana", "real_name": "Dana Reeves",
			"profile": {"display_name": "Dana"}},
		"message": {"ts": "1700000000.000200"},
		"actions": [{"block_id": "ticket_actions", "action_id": "ticket_accept", "value": "sess_42", "action_ts": "1700000050.000001"}]
	}`)

	event, err := ParseInteractionPayload(payload)
	require.NoError(t, err)
	require.NotNil(t, event)
	assert.Equal(t, workspace.ActionAccept, event.Action)
	assert.Equal(t, "sess_42", event.SessionID)
	assert.Equal(t, "1700000000.000200", event.ThreadKey)
	assert.Equal(t, "U777", event.AgentID)
	assert.Equal(t, "Dana", event.AgentName)
	assert.Equal(t, "action:ticket_accept:1700000050.000001", event.EventID)
}

func TestParseInteractionPayloadClose(t *testing.T) {
	payload := []byte(`{
		"type": "block_actions",
		"user": {"id": "U777", "name": "dana"},
		"message": {"ts": "1700000000.000200"},
		"actions": [{"block_id": "ticket_actions", "action_id": "ticket_close", "value": "sess_42", "action_ts": "1700000060.000001"}]
	}`)

	event, err := ParseInteractionPayload(payload)
	require.NoError(t, err)
	require.NotNil(t, event)
	assert.Equal(t, workspace.ActionClose, event.Action)
	assert.Equal(t, "dana", event.AgentName, "falls back to the handle when profile is empty")
}

func TestParseInteractionPayloadIgnoresOtherInteractions(t *testing.T) {
	event, err := ParseInteractionPayload([]byte(`{"type":"view_submission"}`))
	require.NoError(t, err)
	assert.Nil(t, event)

	event, err = ParseInteractionPayload([]byte(`{
		"type": "block_actions",
		"actions": [{"block_id": "b1", "action_id": "some_other_button", "value": "x", "action_ts": "1.0"}]
	}`))
	require.NoError(t, err)
	assert.Nil(t, event)
}
