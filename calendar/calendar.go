// Package calendar defines the provider boundary for availability lookups
// and event creation. The scheduling package consumes this interface; the
// google subpackage implements it.
package calendar

import (
	"context"
	"time"
)

// BusyInterval is one occupied span on the organiser's calendar.
type BusyInterval struct {
	Start time.Time
	End   time.Time
}

// Event is a meeting to create on the organiser's calendar.
type Event struct {
	Title       string
	Description string
	Start       time.Time
	End         time.Time
	Timezone    string
	Attendees   []string
}

// CreatedEvent is the provider's record of a created meeting.
type CreatedEvent struct {
	ID    string
	Link  string
	Start time.Time
	End   time.Time
}

// Provider is the calendar backend. Both calls are remote and honor context
// cancellation.
type Provider interface {
	// FreeBusy returns the busy intervals between start and end, sorted by
	// start time.
	FreeBusy(ctx context.Context, start, end time.Time) ([]BusyInterval, error)

	// CreateEvent books the event and returns the provider's identifiers.
	CreateEvent(ctx context.Context, event *Event) (*CreatedEvent, error)
}
