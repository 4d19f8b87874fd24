// Package workspace defines the agent-workspace contract. Escalated
// sessions become ticket cards in a shared channel; agents claim and
// work them there, and their actions come back as normalised events.
package workspace

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// ErrPostFailed indicates the workspace could not be reached after the
// retry budget was spent.
var ErrPostFailed = errors.New("workspace post failed")

// TicketState drives how a ticket card is rendered.
type TicketState string

const (
	TicketOpen    TicketState = "open"
	TicketClaimed TicketState = "claimed"
	TicketClosed  TicketState = "closed"
)

// HistoryLine is one flattened exchange shown on the ticket card.
type HistoryLine struct {
	Speaker string // "Customer", "AI Agent", "Agent (name)"
	Text    string
}

// Ticket is the workspace-neutral escalation card content.
type Ticket struct {
	SessionID   string
	Title       string
	Reason      string
	UserName    string
	UserEmail   string
	Surface     string
	EscalatedAt time.Time
	History     []HistoryLine
	State       TicketState
	ClaimedBy   string // agent display name once claimed
}

// Action names a button an agent can press on a ticket card.
type Action string

const (
	ActionAccept Action = "accept"
	ActionClose  Action = "close"
)

// ButtonEvent is an agent pressing an action button on a ticket card.
// (Provider, EventID) deduplicates webhook replays.
type ButtonEvent struct {
	Provider  string
	EventID   string
	ThreadKey string
	SessionID string
	AgentID   string
	AgentName string
	Action    Action
}

// ReplyEvent is an agent replying inside a ticket thread.
type ReplyEvent struct {
	Provider  string
	EventID   string
	ThreadKey string
	AgentID   string
	AgentName string
	Text      string
}

// Adapter posts and maintains ticket cards in the agent workspace.
type Adapter interface {
	// PostTicket posts a new ticket card and returns the thread key
	// later events and replies carry.
	PostTicket(ctx context.Context, ticket *Ticket) (threadKey string, err error)

	// EditTicket re-renders the ticket card in place, typically after a
	// claim or close.
	EditTicket(ctx context.Context, threadKey string, ticket *Ticket) error

	// PostThreadMessage posts into the ticket thread under the given
	// speaker label.
	PostThreadMessage(ctx context.Context, threadKey, roleLabel, text string) error

	// PostEphemeral tells one agent something only they can see, such as
	// a stale claim notice.
	PostEphemeral(ctx context.Context, threadKey, agentID, text string) error
}
