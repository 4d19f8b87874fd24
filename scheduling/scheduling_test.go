package scheduling

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaydesk/relaydesk/calendar"
	"github.com/relaydesk/relaydesk/store"
)

type fakeProvider struct {
	busy        []calendar.BusyInterval
	freeBusyErr error
	created     *calendar.CreatedEvent
	createErr   error
	lastEvent   *calendar.Event
}

func (f *fakeProvider) FreeBusy(ctx context.Context, start, end time.Time) ([]calendar.BusyInterval, error) {
	if f.freeBusyErr != nil {
		return nil, f.freeBusyErr
	}
	return f.busy, nil
}

func (f *fakeProvider) CreateEvent(ctx context.Context, event *calendar.Event) (*calendar.CreatedEvent, error) {
	f.lastEvent = event
	if f.createErr != nil {
		return nil, f.createErr
	}
	if f.created != nil {
		return f.created, nil
	}
	return &calendar.CreatedEvent{ID: "evt_1", Start: event.Start, End: event.End}, nil
}

func newTestService(t *testing.T, provider calendar.Provider, now time.Time) *Service {
	t.Helper()
	svc, err := NewService(provider, nil)
	require.NoError(t, err)
	svc.now = func() time.Time { return now }
	return svc
}

func eastern(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	return loc
}

// 2026-01-12 is a Monday.
func monday(t *testing.T, hour, minute int) time.Time {
	return time.Date(2026, 1, 12, hour, minute, 0, 0, eastern(t))
}

func TestFindSlots_OpenCalendar(t *testing.T) {
	loc := eastern(t)
	svc := newTestService(t, &fakeProvider{}, monday(t, 8, 0))

	offers, err := svc.FindSlots(context.Background())
	require.NoError(t, err)
	require.Len(t, offers, 6)

	first := time.Unix(offers[0].StartTs, 0).In(loc)
	assert.Equal(t, monday(t, 9, 0), first, "first slot opens the business day")
	assert.Equal(t, "Monday, January 12 at 9:00 AM - 9:30 AM EST", offers[0].Label)

	for i, offer := range offers {
		assert.Equal(t, i+1, offer.Index, "offers are numbered 1-based")
		start := time.Unix(offer.StartTs, 0).In(loc)
		assert.Zero(t, start.Minute()%15, "slots start on quarter hours")
		assert.NotEqual(t, time.Saturday, start.Weekday())
		assert.NotEqual(t, time.Sunday, start.Weekday())
		if i > 0 {
			assert.GreaterOrEqual(t, offer.StartTs, offers[i-1].EndTs, "offers do not overlap")
		}
	}
}

func TestFindSlots_BuffersAroundBusy(t *testing.T) {
	loc := eastern(t)
	provider := &fakeProvider{
		busy: []calendar.BusyInterval{
			{Start: monday(t, 9, 30), End: monday(t, 10, 0)},
		},
	}
	svc := newTestService(t, provider, monday(t, 8, 0))

	offers, err := svc.FindSlots(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, offers)

	// 9:00 would end inside the 9:15 buffer, so the first slot lands after
	// the buffered busy period.
	first := time.Unix(offers[0].StartTs, 0).In(loc)
	assert.Equal(t, monday(t, 10, 15), first)

	bufferedStart := monday(t, 9, 15)
	bufferedEnd := monday(t, 10, 15)
	for _, offer := range offers {
		start := time.Unix(offer.StartTs, 0).In(loc)
		end := time.Unix(offer.EndTs, 0).In(loc)
		overlaps := start.Before(bufferedEnd) && end.After(bufferedStart)
		assert.False(t, overlaps, "offer %s overlaps the buffered busy period", offer.Label)
	}
}

func TestFindSlots_RollsOverWeekend(t *testing.T) {
	loc := eastern(t)
	// Friday 2026-01-16 at 16:00; only one slot fits before close.
	friday := time.Date(2026, 1, 16, 16, 0, 0, 0, loc)
	svc := newTestService(t, &fakeProvider{}, friday)

	offers, err := svc.FindSlots(context.Background())
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(offers), 2)

	first := time.Unix(offers[0].StartTs, 0).In(loc)
	assert.Equal(t, time.Date(2026, 1, 16, 16, 30, 0, 0, loc), first, "last slot of Friday")

	second := time.Unix(offers[1].StartTs, 0).In(loc)
	assert.Equal(t, time.Date(2026, 1, 19, 9, 0, 0, 0, loc), second, "resumes Monday morning")

	for _, offer := range offers {
		day := time.Unix(offer.StartTs, 0).In(loc).Weekday()
		assert.NotEqual(t, time.Saturday, day)
		assert.NotEqual(t, time.Sunday, day)
	}
}

func TestFindSlots_MinimumAdvance(t *testing.T) {
	loc := eastern(t)
	svc := newTestService(t, &fakeProvider{}, monday(t, 10, 7))

	offers, err := svc.FindSlots(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, offers)

	// 10:07 + 30 min lead = 10:37, rounded up to the next quarter hour.
	first := time.Unix(offers[0].StartTs, 0).In(loc)
	assert.Equal(t, monday(t, 10, 45), first)
}

func TestFindSlots_ProviderError(t *testing.T) {
	svc := newTestService(t, &fakeProvider{freeBusyErr: errors.New("api down")}, monday(t, 8, 0))

	_, err := svc.FindSlots(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrProviderUnavailable))
}

func bookingOffer(t *testing.T) store.SlotOffer {
	start := monday(t, 10, 0)
	return store.SlotOffer{
		Index:   1,
		StartTs: start.Unix(),
		EndTs:   start.Add(30 * time.Minute).Unix(),
		Label:   "Monday, January 12 at 10:00 AM - 10:30 AM EST",
	}
}

func TestBook_Success(t *testing.T) {
	provider := &fakeProvider{created: &calendar.CreatedEvent{ID: "evt_42", Link: "https://cal/evt_42"}}
	svc := newTestService(t, provider, monday(t, 8, 0))

	booking, err := svc.Book(context.Background(), &BookingRequest{
		Offer:     bookingOffer(t),
		UserName:  "Dana",
		UserEmail: "dana@example.com",
		SessionID: "sess_1",
	})
	require.NoError(t, err)
	assert.Equal(t, "evt_42", booking.EventID)
	assert.Equal(t, "https://cal/evt_42", booking.Link)

	require.NotNil(t, provider.lastEvent)
	assert.Equal(t, "Product Demo - Dana", provider.lastEvent.Title)
	assert.Equal(t, []string{"dana@example.com"}, provider.lastEvent.Attendees)
	assert.Equal(t, "America/New_York", provider.lastEvent.Timezone)
}

func TestBook_SlotTaken(t *testing.T) {
	provider := &fakeProvider{
		busy: []calendar.BusyInterval{
			{Start: monday(t, 10, 0), End: monday(t, 10, 30)},
		},
	}
	svc := newTestService(t, provider, monday(t, 8, 0))

	_, err := svc.Book(context.Background(), &BookingRequest{Offer: bookingOffer(t)})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSlotTaken))
	assert.Nil(t, provider.lastEvent, "no event is created for a taken slot")
}

func TestBook_CreateEventFails(t *testing.T) {
	provider := &fakeProvider{createErr: errors.New("quota exceeded")}
	svc := newTestService(t, provider, monday(t, 8, 0))

	_, err := svc.Book(context.Background(), &BookingRequest{Offer: bookingOffer(t)})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBookingFailed))
}

func TestRoundUpToQuarter(t *testing.T) {
	loc := eastern(t)
	tests := []struct {
		name string
		in   time.Time
		want time.Time
	}{
		{
			name: "already aligned",
			in:   time.Date(2026, 1, 12, 10, 15, 0, 0, loc),
			want: time.Date(2026, 1, 12, 10, 15, 0, 0, loc),
		},
		{
			name: "rounds up",
			in:   time.Date(2026, 1, 12, 10, 16, 0, 0, loc),
			want: time.Date(2026, 1, 12, 10, 30, 0, 0, loc),
		},
		{
			name: "seconds bump the quarter",
			in:   time.Date(2026, 1, 12, 10, 15, 1, 0, loc),
			want: time.Date(2026, 1, 12, 10, 30, 0, 0, loc),
		},
		{
			name: "hour rollover",
			in:   time.Date(2026, 1, 12, 10, 59, 0, 0, loc),
			want: time.Date(2026, 1, 12, 11, 0, 0, 0, loc),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, roundUpToQuarter(tt.in))
		})
	}
}
