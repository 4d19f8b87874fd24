package dispatcher

import (
	"context"
	"log/slog"
	"time"

	"github.com/relaydesk/relaydesk/plugin/workspace"
	"github.com/relaydesk/relaydesk/store"
)

// Janitor closes ESCALATED_UNCLAIMED tickets nobody picked up within the
// configured TTL. It is optional policy: a zero TTL turns it off entirely.
type Janitor struct {
	store     *store.Store
	workspace workspace.Adapter
	relay     *Relay
	config    *Config
}

func NewJanitor(st *store.Store, ws workspace.Adapter, relay *Relay, config *Config) *Janitor {
	if config == nil {
		config = DefaultConfig()
	}
	return &Janitor{store: st, workspace: ws, relay: relay, config: config}
}

// Run ticks until ctx is done. Call in its own goroutine.
func (j *Janitor) Run(ctx context.Context) {
	if j.config.UnclaimedTTL <= 0 {
		return
	}
	interval := j.config.JanitorInterval
	if interval <= 0 {
		interval = time.Minute
	}

	slog.Info("janitor: reaping unclaimed tickets", "ttl", j.config.UnclaimedTTL, "interval", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := j.sweep(ctx); err != nil {
				slog.Warn("janitor: sweep failed", "error", err)
			}
		}
	}
}

// sweep closes every unclaimed session whose escalation is older than the
// TTL. The close is a CAS, so a claim landing mid-sweep wins.
func (j *Janitor) sweep(ctx context.Context) error {
	state := store.StateEscalatedUnclaimed
	cutoff := time.Now().Add(-j.config.UnclaimedTTL).Unix()

	stale, err := j.store.ListSessions(ctx, &store.FindSession{
		State:           &state,
		EscalatedBefore: &cutoff,
	})
	if err != nil {
		return err
	}

	for _, session := range stale {
		updated, err := j.store.TransitionSession(ctx, &store.TransitionSession{
			ID:   session.ID,
			From: store.StateEscalatedUnclaimed,
			To:   store.StateClosed,
		})
		if err != nil {
			// Claimed while we swept; leave it alone.
			slog.Debug("janitor: skip session that moved", "session_id", session.ID, "error", err)
			continue
		}

		slog.Info("janitor: closed abandoned ticket", "session_id", updated.ID)

		if updated.WorkspaceThreadKey != "" {
			ticket := BuildTicket(updated, updated.EscalationReason, nil, j.config.SummaryExchanges)
			ticket.State = workspace.TicketClosed
			if err := j.workspace.EditTicket(ctx, updated.WorkspaceThreadKey, ticket); err != nil {
				slog.Warn("janitor: close card edit failed", "session_id", updated.ID, "error", err)
			}
		}
		if err := j.relay.systemLineToUser(ctx, updated, msgTicketExpired); err != nil {
			slog.Warn("janitor: expiry notice failed", "session_id", updated.ID, "error", err)
		}
	}
	return nil
}
