package dispatcher

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaydesk/relaydesk/plugin/markdown"
	"github.com/relaydesk/relaydesk/store"
)

func ticketFixture() *store.Session {
	ts := time.Date(2026, 1, 12, 14, 30, 0, 0, time.UTC).Unix()
	return &store.Session{
		ID:          "sess_42",
		Surface:     "web",
		UserName:    "Pat",
		UserEmail:   "pat@example.com",
		EscalatedTs: ts,
		History: []store.Message{
			{Role: store.RoleUser, Content: "hi there"},
			{Role: store.RoleAI, Content: "Hello! How can I help?"},
			{Role: store.RoleUser, Content: "What does the **enterprise** plan include?"},
			{Role: store.RoleAI, Content: "The **enterprise** plan includes SSO and audit logs."},
			{Role: store.RoleSystem, Content: "escalation pending"},
			{Role: store.RoleUser, Content: "Where   is\n\nyour office?"},
		},
	}
}

func TestBuildTicketCard(t *testing.T) {
	md := markdown.NewService()
	session := ticketFixture()

	ticket := BuildTicket(session, "No relevant knowledge found", md, 5)

	assert.Equal(t, "sess_42", ticket.SessionID)
	assert.Equal(t, "Where is your office?", ticket.Title, "title collapses whitespace")
	assert.Equal(t, "No relevant knowledge found", ticket.Reason)
	assert.Equal(t, "Pat", ticket.UserName)
	assert.Equal(t, "pat@example.com", ticket.UserEmail)
	assert.Equal(t, time.Unix(session.EscalatedTs, 0), ticket.EscalatedAt)

	require.Len(t, ticket.History, 5, "system lines are not card rows")
	assert.Equal(t, "Customer", ticket.History[0].Speaker)
	assert.Equal(t, "AI Agent", ticket.History[1].Speaker)
	assert.Equal(t, "The enterprise plan includes SSO and audit logs.",
		ticket.History[3].Text, "AI markdown is flattened")
	assert.Equal(t, "Where is your office?", ticket.History[4].Text)
}

func TestBuildTicketTruncation(t *testing.T) {
	session := ticketFixture()
	session.History = append(session.History, store.Message{
		Role:    store.RoleUser,
		Content: strings.Repeat("a", 500),
	})

	ticket := BuildTicket(session, "reason", nil, 5)

	assert.Len(t, []rune(ticket.Title), ticketTitleMaxRunes)
	assert.True(t, strings.HasSuffix(ticket.Title, "…"))

	last := ticket.History[len(ticket.History)-1]
	assert.Len(t, []rune(last.Text), ticketLineMaxRunes)
}

func TestBuildTicketAgentAttribution(t *testing.T) {
	session := ticketFixture()
	session.History = append(session.History, store.Message{
		Role: store.RoleAgent, Content: "Can you share a screenshot?", AuthorName: "Dana",
	})

	ticket := BuildTicket(session, "reason", nil, 5)

	last := ticket.History[len(ticket.History)-1]
	assert.Equal(t, "Agent (Dana)", last.Speaker)
}

func TestBuildTicketEmptyHistory(t *testing.T) {
	session := &store.Session{ID: "sess_1", UpdatedTs: time.Now().Unix()}

	ticket := BuildTicket(session, "reason", nil, 5)

	assert.Equal(t, "Support request", ticket.Title)
	assert.Empty(t, ticket.History)
	assert.False(t, ticket.EscalatedAt.IsZero())
}
