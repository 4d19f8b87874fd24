package dispatcher

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaydesk/relaydesk/plugin/workspace"
	"github.com/relaydesk/relaydesk/store"
)

// escalatedSession drives a fresh session into ESCALATED_UNCLAIMED and
// returns its current row.
func escalatedSession(t *testing.T, h *harness) *store.Session {
	t.Helper()
	h.answerer.result.ShouldEscalate = true
	h.answerer.result.Confidence = 0
	require.NoError(t, h.dispatch.HandleUserEvent(context.Background(), userTurn("Where is your office?")))
	session := h.activeSession(t)
	require.Equal(t, store.StateEscalatedUnclaimed, session.State)
	return session
}

func TestClaimRaceSingleWinner(t *testing.T) {
	h := newHarness(t)
	session := escalatedSession(t, h)
	ctx := context.Background()

	const agents = 8
	var wg sync.WaitGroup
	for i := 0; i < agents; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = h.dispatch.HandleWorkspaceButton(ctx, &workspace.ButtonEvent{
				Provider:  "test",
				EventID:   fmt.Sprintf("claim-%d", i),
				ThreadKey: session.WorkspaceThreadKey,
				SessionID: session.ID,
				AgentID:   fmt.Sprintf("A%d", i),
				AgentName: fmt.Sprintf("Agent %d", i),
				Action:    workspace.ActionAccept,
			})
		}(i)
	}
	wg.Wait()

	got, err := h.store.GetSession(ctx, &store.FindSession{ID: &session.ID})
	require.NoError(t, err)
	assert.Equal(t, store.StateEscalatedClaimed, got.State)
	assert.NotEmpty(t, got.AssignedAgentID)

	assert.Len(t, h.workspace.ephemerals, agents-1, "every loser gets a stale notice")
	for _, notice := range h.workspace.ephemerals {
		assert.Contains(t, notice, "Already claimed by")
	}

	joined := 0
	for _, s := range h.surface.sent() {
		if strings.Contains(s.Text, "A specialist has joined") {
			joined++
		}
	}
	assert.Equal(t, 1, joined, "the user hears from exactly one specialist")
}

func TestButtonReplayIsIdempotent(t *testing.T) {
	h := newHarness(t)
	session := escalatedSession(t, h)
	ctx := context.Background()

	event := &workspace.ButtonEvent{
		Provider:  "test",
		EventID:   "claim-1",
		ThreadKey: session.WorkspaceThreadKey,
		SessionID: session.ID,
		AgentID:   "A1",
		AgentName: "Dana",
		Action:    workspace.ActionAccept,
	}
	require.NoError(t, h.dispatch.HandleWorkspaceButton(ctx, event))
	require.NoError(t, h.dispatch.HandleWorkspaceButton(ctx, event))

	joined := 0
	for _, s := range h.surface.sent() {
		if strings.Contains(s.Text, "A specialist has joined") {
			joined++
		}
	}
	assert.Equal(t, 1, joined, "replayed delivery changes nothing")
	assert.Empty(t, h.workspace.ephemerals, "a replay is not a lost race")
}

func TestBidirectionalRelay(t *testing.T) {
	h := newHarness(t)
	session := escalatedSession(t, h)
	ctx := context.Background()

	require.NoError(t, h.dispatch.HandleWorkspaceButton(ctx, &workspace.ButtonEvent{
		Provider: "test", EventID: "claim-1", ThreadKey: session.WorkspaceThreadKey,
		SessionID: session.ID, AgentID: "A1", AgentName: "Dana", Action: workspace.ActionAccept,
	}))

	// Agent → user.
	require.NoError(t, h.dispatch.HandleWorkspaceReply(ctx, &workspace.ReplyEvent{
		Provider: "test", EventID: "reply-1", ThreadKey: session.WorkspaceThreadKey,
		AgentID: "A1", AgentName: "Dana", Text: "Can you share logs?",
	}))

	sent := h.surface.sent()
	require.NotEmpty(t, sent)
	assert.Equal(t, "Agent (Dana): Can you share logs?", sent[len(sent)-1].Text)

	// User → workspace thread; no AI reply.
	answers := h.answerer.calls
	require.NoError(t, h.dispatch.HandleUserEvent(ctx, userTurn("here are the logs")))
	assert.Equal(t, answers, h.answerer.calls)
	require.NotEmpty(t, h.workspace.threadMsgs)
	assert.Equal(t, "User: here are the logs", h.workspace.threadMsgs[len(h.workspace.threadMsgs)-1])

	got, err := h.store.GetSession(ctx, &store.FindSession{ID: &session.ID})
	require.NoError(t, err)
	assert.Equal(t, store.RoleAgent, got.History[len(got.History)-2].Role)
	assert.Equal(t, "Dana", got.History[len(got.History)-2].AuthorName)

	// Close by the assignee.
	require.NoError(t, h.dispatch.HandleWorkspaceButton(ctx, &workspace.ButtonEvent{
		Provider: "test", EventID: "close-1", ThreadKey: session.WorkspaceThreadKey,
		SessionID: session.ID, AgentID: "A1", AgentName: "Dana", Action: workspace.ActionClose,
	}))

	got, err = h.store.GetSession(ctx, &store.FindSession{ID: &session.ID})
	require.NoError(t, err)
	assert.Equal(t, store.StateClosed, got.State)

	sent = h.surface.sent()
	assert.Contains(t, sent[len(sent)-1].Text, "has been closed")

	// The next user message opens a fresh session.
	require.NoError(t, h.dispatch.HandleUserEvent(ctx, userTurn("one more thing")))
	fresh := h.activeSession(t)
	assert.NotEqual(t, session.ID, fresh.ID)
	assert.Equal(t, store.StateActiveAI, fresh.State)
}

func TestNonAssigneeReplyStaysInternal(t *testing.T) {
	h := newHarness(t)
	session := escalatedSession(t, h)
	ctx := context.Background()

	require.NoError(t, h.dispatch.HandleWorkspaceButton(ctx, &workspace.ButtonEvent{
		Provider: "test", EventID: "claim-1", ThreadKey: session.WorkspaceThreadKey,
		SessionID: session.ID, AgentID: "A1", AgentName: "Dana", Action: workspace.ActionAccept,
	}))
	before := len(h.surface.sent())

	require.NoError(t, h.dispatch.HandleWorkspaceReply(ctx, &workspace.ReplyEvent{
		Provider: "test", EventID: "reply-2", ThreadKey: session.WorkspaceThreadKey,
		AgentID: "A2", AgentName: "Sam", Text: "I think this is a billing issue",
	}))

	assert.Len(t, h.surface.sent(), before, "nothing forwarded to the user")
	got, err := h.store.GetSession(ctx, &store.FindSession{ID: &session.ID})
	require.NoError(t, err)
	for _, m := range got.History {
		assert.NotEqual(t, "Sam", m.AuthorName)
	}
}

func TestNonAssigneeCannotClose(t *testing.T) {
	h := newHarness(t)
	session := escalatedSession(t, h)
	ctx := context.Background()

	require.NoError(t, h.dispatch.HandleWorkspaceButton(ctx, &workspace.ButtonEvent{
		Provider: "test", EventID: "claim-1", ThreadKey: session.WorkspaceThreadKey,
		SessionID: session.ID, AgentID: "A1", AgentName: "Dana", Action: workspace.ActionAccept,
	}))

	require.NoError(t, h.dispatch.HandleWorkspaceButton(ctx, &workspace.ButtonEvent{
		Provider: "test", EventID: "close-2", ThreadKey: session.WorkspaceThreadKey,
		SessionID: session.ID, AgentID: "A2", AgentName: "Sam", Action: workspace.ActionClose,
	}))

	got, err := h.store.GetSession(ctx, &store.FindSession{ID: &session.ID})
	require.NoError(t, err)
	assert.Equal(t, store.StateEscalatedClaimed, got.State, "still open")
	require.NotEmpty(t, h.workspace.ephemerals)
	assert.Contains(t, h.workspace.ephemerals[len(h.workspace.ephemerals)-1], "Only Dana can close")
}

func TestReplyOnClosedSessionDropped(t *testing.T) {
	h := newHarness(t)
	session := escalatedSession(t, h)
	ctx := context.Background()

	require.NoError(t, h.dispatch.HandleWorkspaceButton(ctx, &workspace.ButtonEvent{
		Provider: "test", EventID: "claim-1", ThreadKey: session.WorkspaceThreadKey,
		SessionID: session.ID, AgentID: "A1", AgentName: "Dana", Action: workspace.ActionAccept,
	}))
	require.NoError(t, h.dispatch.HandleWorkspaceButton(ctx, &workspace.ButtonEvent{
		Provider: "test", EventID: "close-1", ThreadKey: session.WorkspaceThreadKey,
		SessionID: session.ID, AgentID: "A1", AgentName: "Dana", Action: workspace.ActionClose,
	}))

	before := len(h.surface.sent())
	got, err := h.store.GetSession(ctx, &store.FindSession{ID: &session.ID})
	require.NoError(t, err)
	history := len(got.History)

	require.NoError(t, h.dispatch.HandleWorkspaceReply(ctx, &workspace.ReplyEvent{
		Provider: "test", EventID: "reply-late", ThreadKey: session.WorkspaceThreadKey,
		AgentID: "A1", AgentName: "Dana", Text: "one more thing",
	}))

	got, err = h.store.GetSession(ctx, &store.FindSession{ID: &session.ID})
	require.NoError(t, err)
	assert.Len(t, got.History, history, "closed history stays closed")
	assert.Len(t, h.surface.sent(), before)
}
