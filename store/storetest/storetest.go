// Package storetest provides an in-memory store.Driver with the same
// single-active-session, compare-and-set and append-guard semantics as the
// SQL drivers. Tests exercise claim races and relay flows against it without
// a database.
package storetest

import (
	"context"
	"database/sql"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/relaydesk/relaydesk/store"
)

type Driver struct {
	mu            sync.Mutex
	sessions      map[string]*store.Session
	chunks        map[int32]*store.KnowledgeChunk
	webhookEvents map[[2]string]int64
	nextChunkID   int32
}

var _ store.Driver = (*Driver)(nil)

func New() *Driver {
	return &Driver{
		sessions:      map[string]*store.Session{},
		chunks:        map[int32]*store.KnowledgeChunk{},
		webhookEvents: map[[2]string]int64{},
		nextChunkID:   1,
	}
}

// GetDB returns nil; the in-memory driver has no SQL handle.
func (d *Driver) GetDB() *sql.DB { return nil }

func (d *Driver) Close() error { return nil }

func (d *Driver) IsInitialized(ctx context.Context) (bool, error) { return true, nil }

func cloneSession(s *store.Session) *store.Session {
	c := *s
	c.History = append([]store.Message(nil), s.History...)
	c.PendingSlots = append([]store.SlotOffer(nil), s.PendingSlots...)
	return &c
}

func (d *Driver) FindOrCreateSession(ctx context.Context, create *store.FindOrCreateSession) (*store.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now().Unix()
	for _, s := range d.sessions {
		if s.Surface == create.Surface && s.ExternalUserID == create.ExternalUserID && s.State != store.StateClosed {
			s.ChannelKey = create.ChannelKey
			if create.UserName != "" {
				s.UserName = create.UserName
			}
			if create.UserEmail != "" {
				s.UserEmail = create.UserEmail
			}
			s.UpdatedTs = now
			return cloneSession(s), nil
		}
	}

	session := &store.Session{
		ID:             store.NewSessionID(),
		Surface:        create.Surface,
		ExternalUserID: create.ExternalUserID,
		ChannelKey:     create.ChannelKey,
		UserName:       create.UserName,
		UserEmail:      create.UserEmail,
		State:          store.StateActiveAI,
		CreatedTs:      now,
		UpdatedTs:      now,
	}
	d.sessions[session.ID] = session
	return cloneSession(session), nil
}

func matches(s *store.Session, find *store.FindSession) bool {
	if find.ID != nil && s.ID != *find.ID {
		return false
	}
	if find.Surface != nil && s.Surface != *find.Surface {
		return false
	}
	if find.ExternalUserID != nil && s.ExternalUserID != *find.ExternalUserID {
		return false
	}
	if find.WorkspaceThreadKey != nil && s.WorkspaceThreadKey != *find.WorkspaceThreadKey {
		return false
	}
	if find.State != nil && s.State != *find.State {
		return false
	}
	if len(find.States) > 0 {
		found := false
		for _, state := range find.States {
			if s.State == state {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if find.AssignedAgentID != nil && s.AssignedAgentID != *find.AssignedAgentID {
		return false
	}
	if find.EscalatedBefore != nil && (s.EscalatedTs == 0 || s.EscalatedTs >= *find.EscalatedBefore) {
		return false
	}
	if find.UpdatedBefore != nil && s.UpdatedTs >= *find.UpdatedBefore {
		return false
	}
	return true
}

func (d *Driver) ListSessions(ctx context.Context, find *store.FindSession) ([]*store.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	list := []*store.Session{}
	for _, s := range d.sessions {
		if matches(s, find) {
			list = append(list, cloneSession(s))
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].UpdatedTs > list[j].UpdatedTs })

	offset := 0
	if find.Offset != nil {
		offset = *find.Offset
	}
	if offset > len(list) {
		offset = len(list)
	}
	list = list[offset:]
	if find.Limit != nil && len(list) > *find.Limit {
		list = list[:*find.Limit]
	}
	return list, nil
}

func (d *Driver) UpdateSession(ctx context.Context, update *store.UpdateSession) (*store.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	s, ok := d.sessions[update.ID]
	if !ok {
		return nil, store.ErrSessionNotFound
	}
	if update.UserName != nil {
		s.UserName = *update.UserName
	}
	if update.UserEmail != nil {
		s.UserEmail = *update.UserEmail
	}
	if update.WorkspaceThreadKey != nil {
		s.WorkspaceThreadKey = *update.WorkspaceThreadKey
	}
	if update.PendingSlots != nil {
		s.PendingSlots = append([]store.SlotOffer(nil), (*update.PendingSlots)...)
	}
	if update.AbuseStrikes != nil {
		s.AbuseStrikes = *update.AbuseStrikes
	}
	if update.LastAbuseTurn != nil {
		s.LastAbuseTurn = *update.LastAbuseTurn
	}
	if update.UpdatedTs != nil {
		s.UpdatedTs = *update.UpdatedTs
	} else {
		s.UpdatedTs = time.Now().Unix()
	}
	return cloneSession(s), nil
}

func (d *Driver) TransitionSession(ctx context.Context, transition *store.TransitionSession) (*store.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	s, ok := d.sessions[transition.ID]
	if !ok {
		return nil, store.ErrSessionNotFound
	}
	if s.State != transition.From {
		return nil, store.ErrStaleTransition
	}

	now := time.Now().Unix()
	s.State = transition.To
	s.AIDisabled = store.AIDisabledForState(transition.To)
	if transition.EscalationReason != nil {
		s.EscalationReason = *transition.EscalationReason
	}
	if transition.AssignedAgentID != nil {
		s.AssignedAgentID = *transition.AssignedAgentID
	}
	if transition.AssignedAgentName != nil {
		s.AssignedAgentName = *transition.AssignedAgentName
	}
	if transition.WorkspaceThreadKey != nil {
		s.WorkspaceThreadKey = *transition.WorkspaceThreadKey
	}
	switch transition.To {
	case store.StateEscalatedUnclaimed:
		s.EscalatedTs = now
	case store.StateEscalatedClaimed:
		s.ClaimedTs = now
	case store.StateClosed:
		s.ClosedTs = now
	}
	s.UpdatedTs = now
	return cloneSession(s), nil
}

func (d *Driver) AppendSessionMessage(ctx context.Context, appendMsg *store.AppendMessage) (*store.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	s, ok := d.sessions[appendMsg.SessionID]
	if !ok {
		return nil, store.ErrSessionNotFound
	}
	if appendMsg.RequireAIEnabled && s.AIDisabled {
		return nil, store.ErrAIDisabled
	}
	s.History = append(s.History, appendMsg.Message)
	s.UpdatedTs = time.Now().Unix()
	return cloneSession(s), nil
}

func (d *Driver) GetSessionStats(ctx context.Context) (*store.SessionStats, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	stats := &store.SessionStats{ByState: map[store.State]int64{}}
	for _, s := range d.sessions {
		stats.ByState[s.State]++
		stats.Total++
		if s.EscalatedTs > 0 {
			stats.Escalated++
		}
	}
	return stats, nil
}

func (d *Driver) CreateKnowledgeChunk(ctx context.Context, create *store.KnowledgeChunk) (*store.KnowledgeChunk, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if create.CreatedTs == 0 {
		create.CreatedTs = time.Now().Unix()
	}
	if create.Category == "" {
		create.Category = store.CategoryGeneral
	}
	create.ID = d.nextChunkID
	d.nextChunkID++
	c := *create
	c.Embedding = append([]float32(nil), create.Embedding...)
	d.chunks[c.ID] = &c
	return create, nil
}

func (d *Driver) ListKnowledgeChunks(ctx context.Context, find *store.FindKnowledgeChunk) ([]*store.KnowledgeChunk, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	list := []*store.KnowledgeChunk{}
	for _, c := range d.chunks {
		if find.ID != nil && c.ID != *find.ID {
			continue
		}
		if find.Source != nil && c.Source != *find.Source {
			continue
		}
		if find.Category != nil && c.Category != *find.Category {
			continue
		}
		copied := *c
		list = append(list, &copied)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	if find.Limit != nil && len(list) > *find.Limit {
		list = list[:*find.Limit]
	}
	return list, nil
}

func (d *Driver) SearchKnowledgeChunks(ctx context.Context, search *store.SearchKnowledgeChunk) ([]*store.ScoredKnowledgeChunk, error) {
	chunks, err := d.ListKnowledgeChunks(ctx, &store.FindKnowledgeChunk{Category: search.Category})
	if err != nil {
		return nil, err
	}

	fetchK := search.FetchK
	if fetchK <= 0 {
		fetchK = 20
	}

	results := []*store.ScoredKnowledgeChunk{}
	for _, chunk := range chunks {
		if len(chunk.Embedding) == 0 {
			continue
		}
		results = append(results, &store.ScoredKnowledgeChunk{
			Chunk: chunk,
			Score: cosineSimilarity(search.Vector, chunk.Embedding),
		})
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > fetchK {
		results = results[:fetchK]
	}
	return results, nil
}

func (d *Driver) DeleteKnowledgeChunks(ctx context.Context, del *store.DeleteKnowledgeChunk) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for id, c := range d.chunks {
		if del.ID != nil && c.ID != *del.ID {
			continue
		}
		if del.Source != nil && c.Source != *del.Source {
			continue
		}
		delete(d.chunks, id)
	}
	return nil
}

func (d *Driver) CreateWebhookEvent(ctx context.Context, create *store.WebhookEvent) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := [2]string{create.Provider, create.EventID}
	if _, ok := d.webhookEvents[key]; ok {
		return store.ErrDuplicateEvent
	}
	if create.ReceivedTs == 0 {
		create.ReceivedTs = time.Now().Unix()
	}
	d.webhookEvents[key] = create.ReceivedTs
	return nil
}

func (d *Driver) DeleteWebhookEvents(ctx context.Context, del *store.DeleteWebhookEvents) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var n int64
	for key, ts := range d.webhookEvents {
		if ts < del.ReceivedBefore {
			delete(d.webhookEvents, key)
			n++
		}
	}
	return n, nil
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float32
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (float32(math.Sqrt(float64(normA))) * float32(math.Sqrt(float64(normB))))
}
