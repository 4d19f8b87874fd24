package slack

import (
	"context"
	"fmt"
	"log/slog"

	goslack "github.com/slack-go/slack"

	"github.com/relaydesk/relaydesk/internal/retry"
	"github.com/relaydesk/relaydesk/plugin/workspace"
)

// Adapter implements workspace.Adapter on a Slack escalation channel.
// Posts and edits are idempotent on the Slack side, so they run under the
// shared retry budget; everything else is single-shot.
type Adapter struct {
	client *Client
	policy retry.Policy
}

var _ workspace.Adapter = (*Adapter)(nil)

func NewAdapter(client *Client) *Adapter {
	return &Adapter{
		client: client,
		policy: retry.DefaultPolicy(),
	}
}

func (a *Adapter) PostTicket(ctx context.Context, ticket *workspace.Ticket) (string, error) {
	blocks := ticketBlocks(ticket)
	fallback := fmt.Sprintf("New support request: %s", ticket.Title)

	var threadKey string
	err := retry.Do(ctx, a.policy, func() error {
		ts, err := a.client.PostMessage(ctx, fallback, blocks, "")
		if err != nil {
			return err
		}
		threadKey = ts
		return nil
	})
	if err != nil {
		slog.Error("slack workspace: ticket post failed after retries",
			"session_id", ticket.SessionID, "error", err)
		return "", fmt.Errorf("%w: %v", workspace.ErrPostFailed, err)
	}

	slog.Info("slack workspace: ticket posted",
		"session_id", ticket.SessionID, "thread_key", threadKey)
	return threadKey, nil
}

func (a *Adapter) EditTicket(ctx context.Context, threadKey string, ticket *workspace.Ticket) error {
	blocks := ticketBlocks(ticket)
	fallback := fmt.Sprintf("Support request %s: %s", ticket.State, ticket.Title)

	err := retry.Do(ctx, a.policy, func() error {
		return a.client.UpdateMessage(ctx, threadKey, fallback, blocks)
	})
	if err != nil {
		return fmt.Errorf("%w: %v", workspace.ErrPostFailed, err)
	}
	return nil
}

func (a *Adapter) PostThreadMessage(ctx context.Context, threadKey, roleLabel, text string) error {
	body := text
	if roleLabel != "" {
		body = fmt.Sprintf("*%s:* %s", roleLabel, text)
	}

	err := retry.Do(ctx, a.policy, func() error {
		_, postErr := a.client.PostMessage(ctx, body, nil, threadKey)
		return postErr
	})
	if err != nil {
		return fmt.Errorf("%w: %v", workspace.ErrPostFailed, err)
	}
	return nil
}

func (a *Adapter) PostEphemeral(ctx context.Context, threadKey, agentID, text string) error {
	// Stale notices are best-effort; no retry budget spent here.
	return a.client.PostEphemeral(ctx, agentID, threadKey, text)
}

// UserName resolves an agent id to a display name for relay attribution.
func (a *Adapter) UserName(ctx context.Context, agentID string) string {
	return a.client.UserName(ctx, agentID)
}

const (
	actionIDAccept = "ticket_accept"
	actionIDClose  = "ticket_close"
)

// ticketBlocks renders the card for the ticket's current state. The layout
// is stable so claim and close edits replace it wholesale.
func ticketBlocks(t *workspace.Ticket) []goslack.Block {
	var blocks []goslack.Block

	blocks = append(blocks, goslack.NewHeaderBlock(
		goslack.NewTextBlockObject(goslack.PlainTextType, "🔔 New Support Request", true, false),
	))

	switch t.State {
	case workspace.TicketClaimed:
		blocks = append(blocks, goslack.NewContextBlock("",
			goslack.NewTextBlockObject(goslack.MarkdownType, fmt.Sprintf("✅ Accepted by *%s*", t.ClaimedBy), false, false),
		))
	case workspace.TicketClosed:
		blocks = append(blocks, goslack.NewContextBlock("",
			goslack.NewTextBlockObject(goslack.MarkdownType, "Status: *CLOSED*", false, false),
		))
	}

	fields := []*goslack.TextBlockObject{
		mrkdwnField("From", orDash(t.UserName)),
		mrkdwnField("Email", orDash(t.UserEmail)),
		mrkdwnField("Surface", orDash(t.Surface)),
		mrkdwnField("Session", t.SessionID),
		mrkdwnField("Escalated", t.EscalatedAt.UTC().Format("2006-01-02 15:04 UTC")),
		mrkdwnField("Reason", orDash(t.Reason)),
	}
	blocks = append(blocks, goslack.NewSectionBlock(nil, fields, nil))

	if len(t.History) > 0 {
		blocks = append(blocks, goslack.NewDividerBlock())
		var preview string
		for _, line := range t.History {
			preview += fmt.Sprintf("• *%s:* %s\n", line.Speaker, line.Text)
		}
		blocks = append(blocks, goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, "*Recent conversation:*\n"+preview, false, false),
			nil, nil,
		))
	}

	if buttons := actionButtons(t); len(buttons) > 0 {
		blocks = append(blocks, goslack.NewActionBlock("ticket_actions", buttons...))
	}
	return blocks
}

func actionButtons(t *workspace.Ticket) []goslack.BlockElement {
	closeButton := goslack.NewButtonBlockElement(actionIDClose, t.SessionID,
		goslack.NewTextBlockObject(goslack.PlainTextType, "Close", false, false))
	closeButton.Style = goslack.StyleDanger

	switch t.State {
	case workspace.TicketOpen:
		acceptButton := goslack.NewButtonBlockElement(actionIDAccept, t.SessionID,
			goslack.NewTextBlockObject(goslack.PlainTextType, "Accept", false, false))
		acceptButton.Style = goslack.StylePrimary
		return []goslack.BlockElement{acceptButton, closeButton}
	case workspace.TicketClaimed:
		return []goslack.BlockElement{closeButton}
	default:
		return nil
	}
}

func mrkdwnField(label, value string) *goslack.TextBlockObject {
	return goslack.NewTextBlockObject(goslack.MarkdownType, fmt.Sprintf("*%s:*\n%s", label, value), false, false)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
