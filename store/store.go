package store

import (
	"context"

	"github.com/relaydesk/relaydesk/internal/profile"
)

// Store provides database access to all raw objects.
//
// Sessions are deliberately not cached: claim races and AI-mute gating rely on
// every read seeing the latest row, and the compare-and-set transition is the
// consistency hinge of the dispatcher.
type Store struct {
	profile *profile.Profile
	driver  Driver
}

// New creates a new instance of Store.
func New(driver Driver, profile *profile.Profile) *Store {
	return &Store{
		driver:  driver,
		profile: profile,
	}
}

func (s *Store) GetDriver() Driver {
	return s.driver
}

func (s *Store) Close() error {
	return s.driver.Close()
}

func (s *Store) FindOrCreateSession(ctx context.Context, create *FindOrCreateSession) (*Session, error) {
	return s.driver.FindOrCreateSession(ctx, create)
}

func (s *Store) ListSessions(ctx context.Context, find *FindSession) ([]*Session, error) {
	return s.driver.ListSessions(ctx, find)
}

// GetSession returns the first matching session or nil when none matches.
func (s *Store) GetSession(ctx context.Context, find *FindSession) (*Session, error) {
	list, err := s.driver.ListSessions(ctx, find)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

// GetSessionByWorkspaceThread resolves the session mirrored into a workspace
// ticket thread, or nil when the thread is unknown.
func (s *Store) GetSessionByWorkspaceThread(ctx context.Context, threadKey string) (*Session, error) {
	return s.GetSession(ctx, &FindSession{WorkspaceThreadKey: &threadKey})
}

func (s *Store) UpdateSession(ctx context.Context, update *UpdateSession) (*Session, error) {
	return s.driver.UpdateSession(ctx, update)
}

func (s *Store) TransitionSession(ctx context.Context, transition *TransitionSession) (*Session, error) {
	if !ValidTransition(transition.From, transition.To) {
		return nil, ErrInvalidTransition
	}
	return s.driver.TransitionSession(ctx, transition)
}

func (s *Store) AppendSessionMessage(ctx context.Context, appendMsg *AppendMessage) (*Session, error) {
	return s.driver.AppendSessionMessage(ctx, appendMsg)
}

func (s *Store) GetSessionStats(ctx context.Context) (*SessionStats, error) {
	return s.driver.GetSessionStats(ctx)
}

func (s *Store) CreateKnowledgeChunk(ctx context.Context, create *KnowledgeChunk) (*KnowledgeChunk, error) {
	return s.driver.CreateKnowledgeChunk(ctx, create)
}

func (s *Store) ListKnowledgeChunks(ctx context.Context, find *FindKnowledgeChunk) ([]*KnowledgeChunk, error) {
	return s.driver.ListKnowledgeChunks(ctx, find)
}

func (s *Store) SearchKnowledgeChunks(ctx context.Context, search *SearchKnowledgeChunk) ([]*ScoredKnowledgeChunk, error) {
	return s.driver.SearchKnowledgeChunks(ctx, search)
}

func (s *Store) DeleteKnowledgeChunks(ctx context.Context, delete *DeleteKnowledgeChunk) error {
	return s.driver.DeleteKnowledgeChunks(ctx, delete)
}

func (s *Store) CreateWebhookEvent(ctx context.Context, create *WebhookEvent) error {
	return s.driver.CreateWebhookEvent(ctx, create)
}

func (s *Store) DeleteWebhookEvents(ctx context.Context, delete *DeleteWebhookEvents) (int64, error) {
	return s.driver.DeleteWebhookEvents(ctx, delete)
}
