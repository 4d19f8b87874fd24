package sqlite

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/relaydesk/relaydesk/store"
)

func (d *DB) CreateWebhookEvent(ctx context.Context, create *store.WebhookEvent) error {
	if create.ReceivedTs == 0 {
		create.ReceivedTs = time.Now().Unix()
	}

	stmt := `INSERT OR IGNORE INTO webhook_event (provider, event_id, received_ts) VALUES (?, ?, ?)`

	result, err := d.db.ExecContext(ctx, stmt, create.Provider, create.EventID, create.ReceivedTs)
	if err != nil {
		return errors.Wrap(err, "failed to create webhook event")
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return store.ErrDuplicateEvent
	}
	return nil
}

func (d *DB) DeleteWebhookEvents(ctx context.Context, delete *store.DeleteWebhookEvents) (int64, error) {
	result, err := d.db.ExecContext(ctx, `DELETE FROM webhook_event WHERE received_ts < ?`, delete.ReceivedBefore)
	if err != nil {
		return 0, errors.Wrap(err, "failed to delete webhook events")
	}
	rows, _ := result.RowsAffected()
	return rows, nil
}
