package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pkg/errors"

	"github.com/relaydesk/relaydesk/dispatcher/metrics"
	"github.com/relaydesk/relaydesk/plugin/markdown"
	"github.com/relaydesk/relaydesk/plugin/surfaces"
	"github.com/relaydesk/relaydesk/plugin/workspace"
	"github.com/relaydesk/relaydesk/store"
)

// UserSurface delivers outbound replies to the surface a session lives on.
// The surface router satisfies it.
type UserSurface interface {
	SendText(ctx context.Context, platform surfaces.Platform, channelKey, text string) error
	SendActions(ctx context.Context, platform surfaces.Platform, channelKey, text string, actions []surfaces.Action) error
}

// AgentDirectory resolves agent ids to display names for relay attribution.
type AgentDirectory interface {
	UserName(ctx context.Context, agentID string) string
}

// Relay bridges messages between the user surface and the agent workspace.
// It keeps no state of its own: authority is read from the store on every
// event, and the claim race is settled by the store's compare-and-set.
type Relay struct {
	store     *store.Store
	workspace workspace.Adapter
	surface   UserSurface
	markdown  markdown.Service
	names     AgentDirectory
	metrics   *metrics.Exporter
	config    *Config
}

func NewRelay(st *store.Store, ws workspace.Adapter, surface UserSurface, md markdown.Service, names AgentDirectory, m *metrics.Exporter, config *Config) *Relay {
	if config == nil {
		config = DefaultConfig()
	}
	return &Relay{
		store:     st,
		workspace: ws,
		surface:   surface,
		markdown:  md,
		names:     names,
		metrics:   m,
		config:    config,
	}
}

// ForwardUserMessage mirrors a user turn on an escalated session into the
// ticket thread. The message is already in history; the AI stays silent.
// While the ticket is unclaimed the user also gets a holding note.
func (r *Relay) ForwardUserMessage(ctx context.Context, session *store.Session, text string) error {
	if err := r.workspace.PostThreadMessage(ctx, session.WorkspaceThreadKey, "User", text); err != nil {
		return errors.Wrap(err, "forward user message to workspace")
	}
	r.metrics.RecordRelayForward("user_to_workspace")

	if session.State == store.StateEscalatedUnclaimed {
		if err := r.sendToUser(ctx, session, msgFollowUpAck); err != nil {
			slog.Warn("relay: follow-up ack delivery failed", "session_id", session.ID, "error", err)
		}
	}
	return nil
}

// HandleButton processes an Accept or Close press on a ticket card.
// Replays of the same event id are dropped before any state is touched.
func (r *Relay) HandleButton(ctx context.Context, event *workspace.ButtonEvent) error {
	proceed, err := r.dedupe(ctx, event.Provider, event.EventID)
	if err != nil {
		return err
	}
	if !proceed {
		return nil
	}

	session, err := r.resolveSession(ctx, event.SessionID, event.ThreadKey)
	if err != nil {
		return err
	}
	if session == nil {
		slog.Warn("relay: button for unknown ticket dropped",
			"thread_key", event.ThreadKey, "action", event.Action)
		r.metrics.RecordWebhookDrop("unknown_ticket")
		return nil
	}

	switch event.Action {
	case workspace.ActionAccept:
		return r.claim(ctx, session, event)
	case workspace.ActionClose:
		return r.close(ctx, session, event)
	default:
		slog.Warn("relay: unknown ticket action dropped", "action", event.Action)
		return nil
	}
}

// claim attempts the single-winner transition to ESCALATED_CLAIMED. The
// loser of a race gets an ephemeral stale notice and the user hears from
// exactly one specialist.
func (r *Relay) claim(ctx context.Context, session *store.Session, event *workspace.ButtonEvent) error {
	agentName := r.agentName(ctx, event.AgentID, event.AgentName)

	updated, err := r.store.TransitionSession(ctx, &store.TransitionSession{
		ID:                session.ID,
		From:              store.StateEscalatedUnclaimed,
		To:                store.StateEscalatedClaimed,
		AssignedAgentID:   &event.AgentID,
		AssignedAgentName: &agentName,
	})
	if errors.Is(err, store.ErrStaleTransition) || errors.Is(err, store.ErrInvalidTransition) {
		r.metrics.RecordClaim("stale")
		current, getErr := r.store.GetSession(ctx, &store.FindSession{ID: &session.ID})
		holder := "another agent"
		if getErr == nil && current != nil && current.AssignedAgentName != "" {
			holder = current.AssignedAgentName
		}
		if ephErr := r.workspace.PostEphemeral(ctx, event.ThreadKey, event.AgentID, fmt.Sprintf(msgAlreadyClaimed, holder)); ephErr != nil {
			slog.Warn("relay: stale claim notice failed", "session_id", session.ID, "error", ephErr)
		}
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "claim transition")
	}
	r.metrics.RecordClaim("won")

	slog.Info("relay: ticket claimed",
		"session_id", updated.ID, "agent_id", event.AgentID, "agent", agentName)

	ticket := BuildTicket(updated, updated.EscalationReason, r.markdown, r.config.SummaryExchanges)
	ticket.State = workspace.TicketClaimed
	ticket.ClaimedBy = agentName
	if err := r.workspace.EditTicket(ctx, event.ThreadKey, ticket); err != nil {
		slog.Warn("relay: claim card edit failed", "session_id", updated.ID, "error", err)
	}

	return r.systemLineToUser(ctx, updated, msgSpecialistJoined)
}

// close moves the session to CLOSED. On a claimed ticket only the assignee
// may close; anyone may close an unclaimed one.
func (r *Relay) close(ctx context.Context, session *store.Session, event *workspace.ButtonEvent) error {
	var from store.State
	switch session.State {
	case store.StateClosed:
		slog.Info("relay: close on closed session dropped (audit)",
			"session_id", session.ID, "agent_id", event.AgentID)
		return nil
	case store.StateEscalatedClaimed:
		if event.AgentID != session.AssignedAgentID {
			notice := fmt.Sprintf(msgOnlyAssignee, session.AssignedAgentName)
			if err := r.workspace.PostEphemeral(ctx, event.ThreadKey, event.AgentID, notice); err != nil {
				slog.Warn("relay: assignee-only notice failed", "session_id", session.ID, "error", err)
			}
			return nil
		}
		from = store.StateEscalatedClaimed
	default:
		from = session.State
	}

	updated, err := r.store.TransitionSession(ctx, &store.TransitionSession{
		ID:   session.ID,
		From: from,
		To:   store.StateClosed,
	})
	if errors.Is(err, store.ErrStaleTransition) {
		slog.Info("relay: close lost a state race, dropped", "session_id", session.ID)
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "close transition")
	}

	slog.Info("relay: ticket closed", "session_id", updated.ID, "agent_id", event.AgentID)

	ticket := BuildTicket(updated, updated.EscalationReason, r.markdown, r.config.SummaryExchanges)
	ticket.State = workspace.TicketClosed
	ticket.ClaimedBy = updated.AssignedAgentName
	if updated.WorkspaceThreadKey != "" {
		if err := r.workspace.EditTicket(ctx, updated.WorkspaceThreadKey, ticket); err != nil {
			slog.Warn("relay: close card edit failed", "session_id", updated.ID, "error", err)
		}
	}

	return r.systemLineToUser(ctx, updated, msgTicketClosed)
}

// HandleReply relays an agent's thread reply to the user, provided the
// author is the assigned agent of a claimed session.
func (r *Relay) HandleReply(ctx context.Context, event *workspace.ReplyEvent) error {
	proceed, err := r.dedupe(ctx, event.Provider, event.EventID)
	if err != nil {
		return err
	}
	if !proceed {
		return nil
	}

	session, err := r.store.GetSessionByWorkspaceThread(ctx, event.ThreadKey)
	if err != nil {
		return errors.Wrap(err, "resolve session for thread reply")
	}
	if session == nil {
		slog.Debug("relay: reply on unknown thread ignored", "thread_key", event.ThreadKey)
		return nil
	}

	switch session.State {
	case store.StateClosed:
		slog.Info("relay: reply on closed session dropped (audit)",
			"session_id", session.ID, "agent_id", event.AgentID)
		return nil
	case store.StateEscalatedUnclaimed:
		if err := r.workspace.PostEphemeral(ctx, event.ThreadKey, event.AgentID, msgClaimFirst); err != nil {
			slog.Warn("relay: claim-first notice failed", "session_id", session.ID, "error", err)
		}
		return nil
	case store.StateEscalatedClaimed:
		if event.AgentID != session.AssignedAgentID {
			// Internal note between agents; the user never sees it.
			slog.Debug("relay: non-assignee reply kept internal",
				"session_id", session.ID, "agent_id", event.AgentID)
			return nil
		}
	default:
		slog.Warn("relay: reply on non-escalated session dropped",
			"session_id", session.ID, "state", session.State)
		return nil
	}

	agentName := r.agentName(ctx, event.AgentID, event.AgentName)
	if _, err := r.store.AppendSessionMessage(ctx, &store.AppendMessage{
		SessionID: session.ID,
		Message: store.Message{
			Role:       store.RoleAgent,
			Content:    event.Text,
			AuthorID:   event.AgentID,
			AuthorName: agentName,
			CreatedTs:  time.Now().Unix(),
		},
	}); err != nil {
		return errors.Wrap(err, "append agent reply")
	}

	if err := r.sendToUser(ctx, session, fmt.Sprintf("Agent (%s): %s", agentName, event.Text)); err != nil {
		return errors.Wrap(err, "forward agent reply to user")
	}
	r.metrics.RecordRelayForward("workspace_to_user")
	return nil
}

// systemLineToUser records a system message and pushes it to the user
// surface.
func (r *Relay) systemLineToUser(ctx context.Context, session *store.Session, text string) error {
	if _, err := r.store.AppendSessionMessage(ctx, &store.AppendMessage{
		SessionID: session.ID,
		Message: store.Message{
			Role:      store.RoleSystem,
			Content:   text,
			CreatedTs: time.Now().Unix(),
		},
	}); err != nil {
		return errors.Wrap(err, "append system line")
	}
	return r.sendToUser(ctx, session, text)
}

func (r *Relay) sendToUser(ctx context.Context, session *store.Session, text string) error {
	return r.surface.SendText(ctx, surfaces.Platform(session.Surface), session.ChannelKey, text)
}

// dedupe records the event id and reports whether this is the first
// delivery. Replays come back false with no error.
func (r *Relay) dedupe(ctx context.Context, provider, eventID string) (bool, error) {
	if eventID == "" {
		return true, nil
	}
	err := r.store.CreateWebhookEvent(ctx, &store.WebhookEvent{
		Provider:   provider,
		EventID:    eventID,
		ReceivedTs: time.Now().Unix(),
	})
	if errors.Is(err, store.ErrDuplicateEvent) {
		slog.Debug("relay: duplicate webhook event dropped", "provider", provider, "event_id", eventID)
		r.metrics.RecordWebhookDrop("duplicate")
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "record webhook event")
	}
	return true, nil
}

func (r *Relay) resolveSession(ctx context.Context, sessionID, threadKey string) (*store.Session, error) {
	if sessionID != "" {
		session, err := r.store.GetSession(ctx, &store.FindSession{ID: &sessionID})
		if err != nil {
			return nil, errors.Wrap(err, "resolve session by id")
		}
		if session != nil {
			return session, nil
		}
	}
	if threadKey == "" {
		return nil, nil
	}
	session, err := r.store.GetSessionByWorkspaceThread(ctx, threadKey)
	if err != nil {
		return nil, errors.Wrap(err, "resolve session by thread")
	}
	return session, nil
}

func (r *Relay) agentName(ctx context.Context, agentID, known string) string {
	if known != "" {
		return known
	}
	if r.names != nil {
		return r.names.UserName(ctx, agentID)
	}
	return agentID
}
