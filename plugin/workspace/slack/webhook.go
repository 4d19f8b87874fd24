package slack

import (
	"encoding/json"
	"fmt"
	"net/http"

	goslack "github.com/slack-go/slack"

	"github.com/relaydesk/relaydesk/plugin/workspace"
)

// Provider tags Slack-originated events in the webhook dedup ledger.
const Provider = "slack"

// VerifyRequest checks the Slack signature headers against the signing
// secret. Handlers call this before touching any state.
func VerifyRequest(signingSecret string, headers http.Header, body []byte) error {
	verifier, err := goslack.NewSecretsVerifier(headers, signingSecret)
	if err != nil {
		return fmt.Errorf("slack signature headers invalid: %w", err)
	}
	if _, err := verifier.Write(body); err != nil {
		return fmt.Errorf("slack signature check failed: %w", err)
	}
	if err := verifier.Ensure(); err != nil {
		return fmt.Errorf("slack signature mismatch: %w", err)
	}
	return nil
}

// Inbound is a parsed Events API delivery. Exactly one branch is populated:
// a URL-verification challenge to echo back, or a thread reply to relay.
// Both nil means the event is noise (bot echo, channel chatter, edits).
type Inbound struct {
	Challenge string
	Reply     *workspace.ReplyEvent
}

type eventEnvelope struct {
	Type      string `json:"type"`
	Challenge string `json:"challenge"`
	EventID   string `json:"event_id"`
	Event     struct {
		Type     string `json:"type"`
		Subtype  string `json:"subtype"`
		User     string `json:"user"`
		BotID    string `json:"bot_id"`
		Text     string `json:"text"`
		TS       string `json:"ts"`
		ThreadTS string `json:"thread_ts"`
		Channel  string `json:"channel"`
	} `json:"event"`
}

// ParseEventPayload reads an Events API body. Only plain human messages
// posted inside a thread come back as replies; everything else (bot
// messages, edits, top-level channel messages) is dropped silently so the
// dispatcher never relays its own ticket posts.
func ParseEventPayload(body []byte) (*Inbound, error) {
	var envelope eventEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("slack event payload: %w", err)
	}

	switch envelope.Type {
	case "url_verification":
		return &Inbound{Challenge: envelope.Challenge}, nil
	case "event_callback":
	default:
		return &Inbound{}, nil
	}

	event := envelope.Event
	if event.Type != "message" || event.Subtype != "" || event.BotID != "" {
		return &Inbound{}, nil
	}
	if event.ThreadTS == "" || event.ThreadTS == event.TS {
		return &Inbound{}, nil
	}

	return &Inbound{
		Reply: &workspace.ReplyEvent{
			Provider:  Provider,
			EventID:   envelope.EventID,
			ThreadKey: event.ThreadTS,
			AgentID:   event.User,
			Text:      event.Text,
		},
	}, nil
}

// ParseInteractionPayload reads the JSON payload of an interactivity POST
// (the decoded `payload` form field) into a button event. Non-button
// interactions return nil.
func ParseInteractionPayload(payload []byte) (*workspace.ButtonEvent, error) {
	var callback goslack.InteractionCallback
	if err := json.Unmarshal(payload, &callback); err != nil {
		return nil, fmt.Errorf("slack interaction payload: %w", err)
	}
	if callback.Type != goslack.InteractionTypeBlockActions {
		return nil, nil
	}

	blockActions := callback.ActionCallback.BlockActions
	if len(blockActions) == 0 {
		return nil, nil
	}
	blockAction := blockActions[0]

	var action workspace.Action
	switch blockAction.ActionID {
	case actionIDAccept:
		action = workspace.ActionAccept
	case actionIDClose:
		action = workspace.ActionClose
	default:
		return nil, nil
	}

	agentName := callback.User.Profile.DisplayName
	if agentName == "" {
		agentName = callback.User.RealName
	}
	if agentName == "" {
		agentName = callback.User.Name
	}

	return &workspace.ButtonEvent{
		Provider: Provider,
		// Slack assigns no event id to interactions; the click timestamp is
		// unique per press and survives retries of the same delivery.
		EventID:   fmt.Sprintf("action:%s:%s", blockAction.ActionID, blockAction.ActionTs),
		ThreadKey: callback.Message.Timestamp,
		SessionID: blockAction.Value,
		AgentID:   callback.User.ID,
		AgentName: agentName,
		Action:    action,
	}, nil
}
