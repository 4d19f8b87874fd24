package store

// WebhookEvent records a processed inbound event for replay protection.
// (Provider, EventID) is the primary key; inserting a duplicate fails with
// ErrDuplicateEvent, which webhook handlers treat as "already handled".
type WebhookEvent struct {
	Provider   string
	EventID    string
	ReceivedTs int64
}

type DeleteWebhookEvents struct {
	ReceivedBefore int64
}
