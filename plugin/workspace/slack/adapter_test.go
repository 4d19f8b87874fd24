package slack

import (
	"testing"
	"time"

	goslack "github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaydesk/relaydesk/plugin/workspace"
)

func cardFixture(state workspace.TicketState) *workspace.Ticket {
	return &workspace.Ticket{
		SessionID:   "sess_42",
		Title:       "Where is your office?",
		Reason:      "No relevant knowledge found",
		UserName:    "Pat",
		UserEmail:   "pat@example.com",
		Surface:     "web",
		EscalatedAt: time.Date(2026, 1, 12, 14, 30, 0, 0, time.UTC),
		State:       state,
		History: []workspace.HistoryLine{
			{Speaker: "Customer", Text: "Where is your office?"},
		},
	}
}

func buttonIDs(blocks []goslack.Block) []string {
	var ids []string
	for _, b := range blocks {
		actions, ok := b.(*goslack.ActionBlock)
		if !ok {
			continue
		}
		for _, el := range actions.Elements.ElementSet {
			if btn, ok := el.(*goslack.ButtonBlockElement); ok {
				ids = append(ids, btn.ActionID)
			}
		}
	}
	return ids
}

func TestTicketBlocksByState(t *testing.T) {
	assert.Equal(t, []string{actionIDAccept, actionIDClose},
		buttonIDs(ticketBlocks(cardFixture(workspace.TicketOpen))))

	claimed := cardFixture(workspace.TicketClaimed)
	claimed.ClaimedBy = "Dana"
	assert.Equal(t, []string{actionIDClose}, buttonIDs(ticketBlocks(claimed)))

	assert.Empty(t, buttonIDs(ticketBlocks(cardFixture(workspace.TicketClosed))),
		"a closed card keeps no buttons")
}

func TestTicketBlocksCarrySessionID(t *testing.T) {
	blocks := ticketBlocks(cardFixture(workspace.TicketOpen))

	var values []string
	for _, b := range blocks {
		actions, ok := b.(*goslack.ActionBlock)
		if !ok {
			continue
		}
		for _, el := range actions.Elements.ElementSet {
			btn, ok := el.(*goslack.ButtonBlockElement)
			require.True(t, ok)
			values = append(values, btn.Value)
		}
	}
	require.NotEmpty(t, values)
	for _, v := range values {
		assert.Equal(t, "sess_42", v, "button value routes the click back to the session")
	}
}
