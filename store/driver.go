package store

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
)

// Sentinel errors surfaced by drivers. Callers match with errors.Is; drivers
// may wrap them with context.
var (
	// ErrSessionNotFound is returned when an operation names a session id that
	// does not exist.
	ErrSessionNotFound = errors.New("session not found")

	// ErrStaleTransition is returned by TransitionSession when the row moved
	// out of the expected state first, e.g. a lost claim race.
	ErrStaleTransition = errors.New("session state changed concurrently")

	// ErrAIDisabled is returned by AppendSessionMessage when an append that
	// requires the AI to be live hits a session where a handoff muted it.
	ErrAIDisabled = errors.New("ai replies are disabled for this session")

	// ErrInvalidTransition is returned for state changes outside the lifecycle DAG.
	ErrInvalidTransition = errors.New("state transition not allowed")

	// ErrDuplicateEvent is returned by CreateWebhookEvent for an already
	// recorded (provider, event_id) pair.
	ErrDuplicateEvent = errors.New("webhook event already processed")
)

// Driver is an interface for store driver.
// It contains all methods that store database driver should implement.
type Driver interface {
	GetDB() *sql.DB
	Close() error

	IsInitialized(ctx context.Context) (bool, error)

	// Session model.
	FindOrCreateSession(ctx context.Context, create *FindOrCreateSession) (*Session, error)
	ListSessions(ctx context.Context, find *FindSession) ([]*Session, error)
	UpdateSession(ctx context.Context, update *UpdateSession) (*Session, error)
	TransitionSession(ctx context.Context, transition *TransitionSession) (*Session, error)
	AppendSessionMessage(ctx context.Context, appendMsg *AppendMessage) (*Session, error)
	GetSessionStats(ctx context.Context) (*SessionStats, error)

	// Knowledge model.
	CreateKnowledgeChunk(ctx context.Context, create *KnowledgeChunk) (*KnowledgeChunk, error)
	ListKnowledgeChunks(ctx context.Context, find *FindKnowledgeChunk) ([]*KnowledgeChunk, error)
	SearchKnowledgeChunks(ctx context.Context, search *SearchKnowledgeChunk) ([]*ScoredKnowledgeChunk, error)
	DeleteKnowledgeChunks(ctx context.Context, delete *DeleteKnowledgeChunk) error

	// Webhook replay protection.
	CreateWebhookEvent(ctx context.Context, create *WebhookEvent) error
	DeleteWebhookEvents(ctx context.Context, delete *DeleteWebhookEvents) (int64, error)
}
