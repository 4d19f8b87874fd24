package dispatcher

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/relaydesk/relaydesk/plugin/markdown"
	"github.com/relaydesk/relaydesk/plugin/workspace"
	"github.com/relaydesk/relaydesk/store"
)

const (
	ticketTitleMaxRunes = 60
	ticketLineMaxRunes  = 200
)

// BuildTicket renders the workspace card content for an escalated session.
// Output is deterministic for a given session snapshot so card rendering is
// snapshot-testable. Markdown in AI turns is flattened first; workspace
// cards render none of it.
func BuildTicket(session *store.Session, reason string, md markdown.Service, maxExchanges int) *workspace.Ticket {
	if maxExchanges <= 0 {
		maxExchanges = 5
	}

	ticket := &workspace.Ticket{
		SessionID:   session.ID,
		Title:       ticketTitle(session),
		Reason:      reason,
		UserName:    session.UserName,
		UserEmail:   session.UserEmail,
		Surface:     session.Surface,
		EscalatedAt: escalatedAt(session),
		State:       workspace.TicketOpen,
	}

	for _, message := range lastExchanges(session.History, maxExchanges) {
		text := message.Content
		if md != nil && message.Role == store.RoleAI {
			text = md.PlainText(text)
		}
		ticket.History = append(ticket.History, workspace.HistoryLine{
			Speaker: speakerLabel(message),
			Text:    truncateRunes(collapseWhitespace(text), ticketLineMaxRunes),
		})
	}
	return ticket
}

// ticketTitle derives a one-line title from the most recent user message.
func ticketTitle(session *store.Session) string {
	for i := len(session.History) - 1; i >= 0; i-- {
		if session.History[i].Role == store.RoleUser {
			return truncateRunes(collapseWhitespace(session.History[i].Content), ticketTitleMaxRunes)
		}
	}
	return "Support request"
}

func escalatedAt(session *store.Session) time.Time {
	if session.EscalatedTs > 0 {
		return time.Unix(session.EscalatedTs, 0)
	}
	return time.Unix(session.UpdatedTs, 0)
}

// lastExchanges keeps the trailing user and AI turns; system lines carry no
// context worth a card row.
func lastExchanges(history []store.Message, max int) []store.Message {
	var kept []store.Message
	for _, m := range history {
		if m.Role == store.RoleUser || m.Role == store.RoleAI || m.Role == store.RoleAgent {
			kept = append(kept, m)
		}
	}
	if len(kept) > max {
		kept = kept[len(kept)-max:]
	}
	return kept
}

func speakerLabel(m store.Message) string {
	switch m.Role {
	case store.RoleUser:
		return "Customer"
	case store.RoleAI:
		return "AI Agent"
	case store.RoleAgent:
		if m.AuthorName != "" {
			return "Agent (" + m.AuthorName + ")"
		}
		return "Agent"
	default:
		return "System"
	}
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max-1]) + "…"
}
