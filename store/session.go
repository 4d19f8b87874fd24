package store

import (
	"github.com/lithammer/shortuuid/v4"
)

// State is the lifecycle state of a support session.
//   - ACTIVE_AI: the AI responds to the user.
//   - ESCALATED_UNCLAIMED: a ticket is posted in the agent workspace, nobody claimed it yet.
//     The AI stays on until an agent claims.
//   - ESCALATED_CLAIMED: an agent owns the conversation; the AI is muted.
//   - CLOSED: terminal. The next user message opens a fresh session.
type State string

const (
	StateActiveAI           State = "ACTIVE_AI"
	StateEscalatedUnclaimed State = "ESCALATED_UNCLAIMED"
	StateEscalatedClaimed   State = "ESCALATED_CLAIMED"
	StateClosed             State = "CLOSED"
)

// ActiveStates are the states that count against the one-active-session-per-user rule.
var ActiveStates = []State{StateActiveAI, StateEscalatedUnclaimed, StateEscalatedClaimed}

// ValidTransition reports whether from -> to is an allowed state change.
// The lifecycle is a DAG: ACTIVE_AI -> ESCALATED_UNCLAIMED -> ESCALATED_CLAIMED -> CLOSED,
// with CLOSED reachable directly from every non-terminal state.
func ValidTransition(from, to State) bool {
	switch from {
	case StateActiveAI:
		return to == StateEscalatedUnclaimed || to == StateClosed
	case StateEscalatedUnclaimed:
		return to == StateEscalatedClaimed || to == StateClosed
	case StateEscalatedClaimed:
		return to == StateClosed
	default:
		return false
	}
}

// AIDisabledForState reports whether the AI must be muted in the given state.
// Stored redundantly on the session row so message appends can gate cheaply.
func AIDisabledForState(s State) bool {
	return s == StateEscalatedClaimed || s == StateClosed
}

// Role identifies the author of a history message.
type Role string

const (
	RoleUser   Role = "user"
	RoleAI     Role = "ai"
	RoleAgent  Role = "agent"
	RoleSystem Role = "system"
)

// Message is one entry of a session transcript. Stored as a JSON array
// element inside the session row; history is append-only.
type Message struct {
	Role       Role   `json:"role"`
	Content    string `json:"content"`
	AuthorID   string `json:"author_id,omitempty"`
	AuthorName string `json:"author_name,omitempty"`
	CreatedTs  int64  `json:"created_ts"`

	// Decorations carried on AI turns only.
	Confidence float32  `json:"confidence,omitempty"`
	Intent     string   `json:"intent,omitempty"`
	Citations  []string `json:"citations,omitempty"`
}

// SlotOffer is one meeting slot currently offered to the user.
// Index is the 1-based number the user replies with ("2" books the second offer).
type SlotOffer struct {
	Index   int    `json:"index"`
	StartTs int64  `json:"start_ts"`
	EndTs   int64  `json:"end_ts"`
	Label   string `json:"label"`
}

type Session struct {
	ID                 string
	Surface            string // user surface identifier: "web", "telegram"
	ExternalUserID     string // user id within the surface; (Surface, ExternalUserID) is the user key
	ChannelKey         string // user-side conversation id (web session, chat id)
	WorkspaceThreadKey string // ticket thread in the agent workspace, empty before escalation
	State              State
	AIDisabled         bool
	UserName           string
	UserEmail          string
	EscalationReason   string
	AssignedAgentID    string
	AssignedAgentName  string
	History            []Message
	PendingSlots       []SlotOffer
	AbuseStrikes       int32
	LastAbuseTurn      int32
	EscalatedTs        int64
	ClaimedTs          int64
	ClosedTs           int64
	CreatedTs          int64
	UpdatedTs          int64
}

// NewSessionID returns a fresh short session identifier.
func NewSessionID() string {
	return shortuuid.New()
}

// TurnCount returns the number of user messages in the transcript.
// Abuse-strike windows are measured in user turns, not wall time.
func (s *Session) TurnCount() int32 {
	var n int32
	for _, m := range s.History {
		if m.Role == RoleUser {
			n++
		}
	}
	return n
}

// LastMessages returns up to n trailing history entries.
func (s *Session) LastMessages(n int) []Message {
	if n <= 0 || len(s.History) <= n {
		return s.History
	}
	return s.History[len(s.History)-n:]
}

// FindOrCreateSession looks up the single non-closed session for a user key,
// creating one in ACTIVE_AI when none exists. Concurrent calls for the same
// user key converge on one row.
type FindOrCreateSession struct {
	Surface        string
	ExternalUserID string
	ChannelKey     string
	UserName       string
	UserEmail      string
}

type FindSession struct {
	ID                 *string
	Surface            *string
	ExternalUserID     *string
	WorkspaceThreadKey *string
	State              *State
	States             []State
	AssignedAgentID    *string
	EscalatedBefore    *int64
	UpdatedBefore      *int64
	Limit              *int
	Offset             *int
}

type UpdateSession struct {
	ID                 string
	UserName           *string
	UserEmail          *string
	WorkspaceThreadKey *string
	PendingSlots       *[]SlotOffer
	AbuseStrikes       *int32
	LastAbuseTurn      *int32
	UpdatedTs          *int64
}

// TransitionSession is a compare-and-set state change. The update applies only
// while the row is still in From; a concurrent mover wins and the loser gets
// ErrStaleTransition. Fields other than To are written together with the state.
type TransitionSession struct {
	ID                 string
	From               State
	To                 State
	EscalationReason   *string
	AssignedAgentID    *string
	AssignedAgentName  *string
	WorkspaceThreadKey *string
}

// AppendMessage appends one transcript entry. RequireAIEnabled makes the append
// conditional on ai_disabled = false, for AI-authored replies racing a handoff.
type AppendMessage struct {
	SessionID        string
	Message          Message
	RequireAIEnabled bool
}

// SessionStats is the aggregate shape served by the admin stats endpoint.
type SessionStats struct {
	Total     int64
	ByState   map[State]int64
	Escalated int64 // sessions that ever left ACTIVE_AI
}
