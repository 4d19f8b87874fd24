package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/relaydesk/relaydesk/store"
)

const sessionFields = `id, surface, external_user_id, channel_key, workspace_thread_key, state, ai_disabled,
	user_name, user_email, escalation_reason, assigned_agent_id, assigned_agent_name,
	history, pending_slots, abuse_strikes, last_abuse_turn,
	escalated_ts, claimed_ts, closed_ts, created_ts, updated_ts`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(r rowScanner) (*store.Session, error) {
	session := &store.Session{}
	var historyRaw, slotsRaw []byte
	if err := r.Scan(
		&session.ID,
		&session.Surface,
		&session.ExternalUserID,
		&session.ChannelKey,
		&session.WorkspaceThreadKey,
		&session.State,
		&session.AIDisabled,
		&session.UserName,
		&session.UserEmail,
		&session.EscalationReason,
		&session.AssignedAgentID,
		&session.AssignedAgentName,
		&historyRaw,
		&slotsRaw,
		&session.AbuseStrikes,
		&session.LastAbuseTurn,
		&session.EscalatedTs,
		&session.ClaimedTs,
		&session.ClosedTs,
		&session.CreatedTs,
		&session.UpdatedTs,
	); err != nil {
		return nil, err
	}
	if len(historyRaw) > 0 {
		if err := json.Unmarshal(historyRaw, &session.History); err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal session history")
		}
	}
	if len(slotsRaw) > 0 {
		if err := json.Unmarshal(slotsRaw, &session.PendingSlots); err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal pending slots")
		}
	}
	return session, nil
}

// FindOrCreateSession returns the single non-closed session for the user key,
// inserting a fresh ACTIVE_AI row when none exists. The partial unique index on
// (surface, external_user_id) WHERE state != 'CLOSED' makes concurrent callers
// converge on one row; the loser of the insert race picks up the winner's row
// through the DO UPDATE clause and refreshes its channel key.
func (d *DB) FindOrCreateSession(ctx context.Context, create *store.FindOrCreateSession) (*store.Session, error) {
	now := time.Now().Unix()
	stmt := `
		INSERT INTO session (id, surface, external_user_id, channel_key, user_name, user_email, state, created_ts, updated_ts)
		VALUES (` + placeholders(9) + `)
		ON CONFLICT (surface, external_user_id) WHERE state != 'CLOSED'
		DO UPDATE SET
			channel_key = EXCLUDED.channel_key,
			user_name = CASE WHEN EXCLUDED.user_name != '' THEN EXCLUDED.user_name ELSE session.user_name END,
			user_email = CASE WHEN EXCLUDED.user_email != '' THEN EXCLUDED.user_email ELSE session.user_email END,
			updated_ts = EXCLUDED.updated_ts
		RETURNING ` + sessionFields

	row := d.db.QueryRowContext(ctx, stmt,
		store.NewSessionID(),
		create.Surface,
		create.ExternalUserID,
		create.ChannelKey,
		create.UserName,
		create.UserEmail,
		store.StateActiveAI,
		now,
		now,
	)
	session, err := scanSession(row)
	if err != nil {
		return nil, errors.Wrap(err, "failed to find or create session")
	}
	return session, nil
}

func (d *DB) ListSessions(ctx context.Context, find *store.FindSession) ([]*store.Session, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ID != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *find.ID)
	}
	if find.Surface != nil {
		where, args = append(where, "surface = "+placeholder(len(args)+1)), append(args, *find.Surface)
	}
	if find.ExternalUserID != nil {
		where, args = append(where, "external_user_id = "+placeholder(len(args)+1)), append(args, *find.ExternalUserID)
	}
	if find.WorkspaceThreadKey != nil {
		where, args = append(where, "workspace_thread_key = "+placeholder(len(args)+1)), append(args, *find.WorkspaceThreadKey)
	}
	if find.State != nil {
		where, args = append(where, "state = "+placeholder(len(args)+1)), append(args, string(*find.State))
	}
	if len(find.States) > 0 {
		list := []string{}
		for _, state := range find.States {
			list, args = append(list, placeholder(len(args)+1)), append(args, string(state))
		}
		where = append(where, "state IN ("+strings.Join(list, ", ")+")")
	}
	if find.AssignedAgentID != nil {
		where, args = append(where, "assigned_agent_id = "+placeholder(len(args)+1)), append(args, *find.AssignedAgentID)
	}
	if find.EscalatedBefore != nil {
		where, args = append(where, "escalated_ts > 0 AND escalated_ts < "+placeholder(len(args)+1)), append(args, *find.EscalatedBefore)
	}
	if find.UpdatedBefore != nil {
		where, args = append(where, "updated_ts < "+placeholder(len(args)+1)), append(args, *find.UpdatedBefore)
	}

	query := `SELECT ` + sessionFields + ` FROM session WHERE ` + strings.Join(where, " AND ") + ` ORDER BY updated_ts DESC`
	if find.Limit != nil {
		query += " LIMIT " + placeholder(len(args)+1)
		args = append(args, *find.Limit)
		if find.Offset != nil {
			query += " OFFSET " + placeholder(len(args)+1)
			args = append(args, *find.Offset)
		}
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list sessions")
	}
	defer rows.Close()

	list := []*store.Session{}
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan session")
		}
		list = append(list, session)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return list, nil
}

func (d *DB) UpdateSession(ctx context.Context, update *store.UpdateSession) (*store.Session, error) {
	set, args := []string{}, []any{}

	if update.UserName != nil {
		set, args = append(set, "user_name = "+placeholder(len(args)+1)), append(args, *update.UserName)
	}
	if update.UserEmail != nil {
		set, args = append(set, "user_email = "+placeholder(len(args)+1)), append(args, *update.UserEmail)
	}
	if update.WorkspaceThreadKey != nil {
		set, args = append(set, "workspace_thread_key = "+placeholder(len(args)+1)), append(args, *update.WorkspaceThreadKey)
	}
	if update.PendingSlots != nil {
		raw, err := json.Marshal(*update.PendingSlots)
		if err != nil {
			return nil, errors.Wrap(err, "failed to marshal pending slots")
		}
		set, args = append(set, "pending_slots = "+placeholder(len(args)+1)+"::jsonb"), append(args, string(raw))
	}
	if update.AbuseStrikes != nil {
		set, args = append(set, "abuse_strikes = "+placeholder(len(args)+1)), append(args, *update.AbuseStrikes)
	}
	if update.LastAbuseTurn != nil {
		set, args = append(set, "last_abuse_turn = "+placeholder(len(args)+1)), append(args, *update.LastAbuseTurn)
	}
	updatedTs := time.Now().Unix()
	if update.UpdatedTs != nil {
		updatedTs = *update.UpdatedTs
	}
	set, args = append(set, "updated_ts = "+placeholder(len(args)+1)), append(args, updatedTs)

	args = append(args, update.ID)
	stmt := `UPDATE session SET ` + strings.Join(set, ", ") + ` WHERE id = ` + placeholder(len(args)) + ` RETURNING ` + sessionFields

	session, err := scanSession(d.db.QueryRowContext(ctx, stmt, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrSessionNotFound
		}
		return nil, errors.Wrap(err, "failed to update session")
	}
	return session, nil
}

// TransitionSession performs the compare-and-set state change. The UPDATE is
// guarded by the expected source state so concurrent movers serialize; the
// loser distinguishes a vanished row from a stale one with a follow-up read.
func (d *DB) TransitionSession(ctx context.Context, transition *store.TransitionSession) (*store.Session, error) {
	now := time.Now().Unix()
	set, args := []string{}, []any{}

	set, args = append(set, "state = "+placeholder(len(args)+1)), append(args, string(transition.To))
	set, args = append(set, "ai_disabled = "+placeholder(len(args)+1)), append(args, store.AIDisabledForState(transition.To))
	if transition.EscalationReason != nil {
		set, args = append(set, "escalation_reason = "+placeholder(len(args)+1)), append(args, *transition.EscalationReason)
	}
	if transition.AssignedAgentID != nil {
		set, args = append(set, "assigned_agent_id = "+placeholder(len(args)+1)), append(args, *transition.AssignedAgentID)
	}
	if transition.AssignedAgentName != nil {
		set, args = append(set, "assigned_agent_name = "+placeholder(len(args)+1)), append(args, *transition.AssignedAgentName)
	}
	if transition.WorkspaceThreadKey != nil {
		set, args = append(set, "workspace_thread_key = "+placeholder(len(args)+1)), append(args, *transition.WorkspaceThreadKey)
	}
	switch transition.To {
	case store.StateEscalatedUnclaimed:
		set, args = append(set, "escalated_ts = "+placeholder(len(args)+1)), append(args, now)
	case store.StateEscalatedClaimed:
		set, args = append(set, "claimed_ts = "+placeholder(len(args)+1)), append(args, now)
	case store.StateClosed:
		set, args = append(set, "closed_ts = "+placeholder(len(args)+1)), append(args, now)
	}
	set, args = append(set, "updated_ts = "+placeholder(len(args)+1)), append(args, now)

	args = append(args, transition.ID, string(transition.From))
	stmt := `UPDATE session SET ` + strings.Join(set, ", ") +
		` WHERE id = ` + placeholder(len(args)-1) + ` AND state = ` + placeholder(len(args)) +
		` RETURNING ` + sessionFields

	session, err := scanSession(d.db.QueryRowContext(ctx, stmt, args...))
	if err == nil {
		return session, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrap(err, "failed to transition session")
	}

	var state string
	checkErr := d.db.QueryRowContext(ctx, `SELECT state FROM session WHERE id = `+placeholder(1), transition.ID).Scan(&state)
	if errors.Is(checkErr, sql.ErrNoRows) {
		return nil, store.ErrSessionNotFound
	}
	if checkErr != nil {
		return nil, errors.Wrap(checkErr, "failed to check session state")
	}
	return nil, errors.Wrapf(store.ErrStaleTransition, "expected %s, found %s", transition.From, state)
}

// AppendSessionMessage appends one transcript entry in place. AI-authored
// appends carry RequireAIEnabled so a reply racing a claim lands nowhere
// instead of after the handoff.
func (d *DB) AppendSessionMessage(ctx context.Context, appendMsg *store.AppendMessage) (*store.Session, error) {
	raw, err := json.Marshal(appendMsg.Message)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal message")
	}

	guard := ""
	if appendMsg.RequireAIEnabled {
		guard = " AND ai_disabled = FALSE"
	}
	stmt := `UPDATE session SET history = history || ` + placeholder(1) + `::jsonb, updated_ts = ` + placeholder(2) +
		` WHERE id = ` + placeholder(3) + guard + ` RETURNING ` + sessionFields

	session, err := scanSession(d.db.QueryRowContext(ctx, stmt, string(raw), time.Now().Unix(), appendMsg.SessionID))
	if err == nil {
		return session, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrap(err, "failed to append session message")
	}

	var exists bool
	checkErr := d.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM session WHERE id = `+placeholder(1)+`)`, appendMsg.SessionID).Scan(&exists)
	if checkErr != nil {
		return nil, errors.Wrap(checkErr, "failed to check session existence")
	}
	if !exists {
		return nil, store.ErrSessionNotFound
	}
	return nil, store.ErrAIDisabled
}

func (d *DB) GetSessionStats(ctx context.Context) (*store.SessionStats, error) {
	stats := &store.SessionStats{ByState: map[store.State]int64{}}

	rows, err := d.db.QueryContext(ctx, `SELECT state, COUNT(*) FROM session GROUP BY state`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to count sessions by state")
	}
	defer rows.Close()

	for rows.Next() {
		var state string
		var count int64
		if err := rows.Scan(&state, &count); err != nil {
			return nil, errors.Wrap(err, "failed to scan session count")
		}
		stats.ByState[store.State(state)] = count
		stats.Total += count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM session WHERE escalated_ts > 0`).Scan(&stats.Escalated); err != nil {
		return nil, errors.Wrap(err, "failed to count escalated sessions")
	}

	return stats, nil
}
