package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaydesk/relaydesk/store"
)

func TestCreateWebhookEventDeduplicates(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	event := &store.WebhookEvent{Provider: "slack", EventID: "Ev123"}
	require.NoError(t, st.CreateWebhookEvent(ctx, event))

	err := st.CreateWebhookEvent(ctx, &store.WebhookEvent{Provider: "slack", EventID: "Ev123"})
	assert.ErrorIs(t, err, store.ErrDuplicateEvent)

	// Same id on another provider is a distinct event.
	assert.NoError(t, st.CreateWebhookEvent(ctx, &store.WebhookEvent{Provider: "telegram", EventID: "Ev123"}))
}

func TestDeleteWebhookEventsPrunesOldEntries(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	now := time.Now().Unix()
	require.NoError(t, st.CreateWebhookEvent(ctx, &store.WebhookEvent{
		Provider: "slack", EventID: "old", ReceivedTs: now - 3600,
	}))
	require.NoError(t, st.CreateWebhookEvent(ctx, &store.WebhookEvent{
		Provider: "slack", EventID: "recent", ReceivedTs: now,
	}))

	pruned, err := st.DeleteWebhookEvents(ctx, &store.DeleteWebhookEvents{ReceivedBefore: now - 60})
	require.NoError(t, err)
	assert.Equal(t, int64(1), pruned)

	// The pruned id is accepted again; the kept one still dedupes.
	assert.NoError(t, st.CreateWebhookEvent(ctx, &store.WebhookEvent{Provider: "slack", EventID: "old"}))
	assert.ErrorIs(t, st.CreateWebhookEvent(ctx, &store.WebhookEvent{Provider: "slack", EventID: "recent"}), store.ErrDuplicateEvent)
}
