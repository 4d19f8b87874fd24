// Package scheduling derives bookable demo slots from the organiser
// calendar and executes bookings against it. Slot arithmetic is local;
// all calendar I/O goes through calendar.Provider.
package scheduling

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/pkg/errors"

	"github.com/relaydesk/relaydesk/calendar"
	"github.com/relaydesk/relaydesk/store"
)

// Booking failure kinds. Callers branch on these to decide between
// re-offering and escalation.
var (
	ErrProviderUnavailable = errors.New("slot provider unavailable")
	ErrSlotTaken           = errors.New("slot no longer available")
	ErrBookingFailed       = errors.New("booking failed")
)

// Config holds the slot derivation rules.
type Config struct {
	// Timezone is the organiser's IANA zone; offers are labelled in it.
	Timezone string
	// OpenHour and CloseHour bound the business day, organiser-local.
	OpenHour  int
	CloseHour int
	// SlotDuration is the meeting length.
	SlotDuration time.Duration
	// Buffer pads existing events on both sides.
	Buffer time.Duration
	// MinAdvance is the minimum lead time before the first offer.
	MinAdvance time.Duration
	// SearchDays is how many business days ahead to search.
	SearchDays int
	// MaxOffers caps the number of returned slots.
	MaxOffers int
}

func DefaultConfig() *Config {
	return &Config{
		Timezone:     "America/New_York",
		OpenHour:     9,
		CloseHour:    17,
		SlotDuration: 30 * time.Minute,
		Buffer:       15 * time.Minute,
		MinAdvance:   30 * time.Minute,
		SearchDays:   5,
		MaxOffers:    6,
	}
}

// BookingRequest books one previously offered slot.
type BookingRequest struct {
	Offer     store.SlotOffer
	UserName  string
	UserEmail string
	SessionID string
}

// Booking is a confirmed calendar event.
type Booking struct {
	EventID string
	Link    string
	Start   time.Time
	End     time.Time
	Label   string
}

// Service implements slot derivation and booking.
type Service struct {
	provider calendar.Provider
	config   *Config
	location *time.Location

	// now is replaceable in tests.
	now func() time.Time
}

func NewService(provider calendar.Provider, config *Config) (*Service, error) {
	if config == nil {
		config = DefaultConfig()
	}
	location, err := time.LoadLocation(config.Timezone)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid timezone %q", config.Timezone)
	}
	return &Service{
		provider: provider,
		config:   config,
		location: location,
		now:      time.Now,
	}, nil
}

// FindSlots walks the next SearchDays business days and returns up to
// MaxOffers open slots. Offers are non-overlapping, start on quarter hours,
// and respect the buffer around existing events.
func (s *Service) FindSlots(ctx context.Context) ([]store.SlotOffer, error) {
	searchStart := s.alignToBusiness(roundUpToQuarter(s.now().In(s.location).Add(s.config.MinAdvance)))
	searchEnd := s.searchWindowEnd(searchStart)

	busy, err := s.provider.FreeBusy(ctx, searchStart, searchEnd)
	if err != nil {
		return nil, errors.Wrapf(ErrProviderUnavailable, "freebusy: %v", err)
	}
	sort.Slice(busy, func(i, j int) bool { return busy[i].Start.Before(busy[j].Start) })

	var offers []store.SlotOffer
	current := searchStart
	for current.Before(searchEnd) && len(offers) < s.config.MaxOffers {
		aligned := s.alignToBusiness(current)
		if !aligned.Equal(current) {
			current = aligned
			continue
		}

		slotEnd := current.Add(s.config.SlotDuration)
		if conflict, resume := s.firstConflict(current, slotEnd, busy); conflict {
			current = s.alignToBusiness(roundUpToQuarter(resume))
			continue
		}

		offers = append(offers, store.SlotOffer{
			Index:   len(offers) + 1,
			StartTs: current.Unix(),
			EndTs:   slotEnd.Unix(),
			Label:   s.FormatSlot(current, slotEnd),
		})
		current = slotEnd
	}

	slog.Debug("slot search completed",
		"offers", len(offers),
		"busy_periods", len(busy),
		"window_start", searchStart,
		"window_end", searchEnd,
	)
	return offers, nil
}

// Book re-checks availability for the offer and creates the event. A slot
// consumed between offer and selection returns ErrSlotTaken.
func (s *Service) Book(ctx context.Context, req *BookingRequest) (*Booking, error) {
	start := time.Unix(req.Offer.StartTs, 0).In(s.location)
	end := time.Unix(req.Offer.EndTs, 0).In(s.location)

	busy, err := s.provider.FreeBusy(ctx, start, end)
	if err != nil {
		return nil, errors.Wrapf(ErrProviderUnavailable, "availability re-check: %v", err)
	}
	for _, interval := range busy {
		if start.Before(interval.End) && end.After(interval.Start) {
			return nil, errors.Wrapf(ErrSlotTaken, "slot %s", req.Offer.Label)
		}
	}

	event := &calendar.Event{
		Title:       fmt.Sprintf("Product Demo - %s", displayName(req)),
		Description: bookingDescription(req),
		Start:       start,
		End:         end,
		Timezone:    s.config.Timezone,
	}
	if req.UserEmail != "" {
		event.Attendees = []string{req.UserEmail}
	}

	created, err := s.provider.CreateEvent(ctx, event)
	if err != nil {
		return nil, errors.Wrapf(ErrBookingFailed, "create event: %v", err)
	}

	slog.Info("demo booked",
		"event_id", created.ID,
		"session_id", req.SessionID,
		"start", start,
	)
	return &Booking{
		EventID: created.ID,
		Link:    created.Link,
		Start:   start,
		End:     end,
		Label:   req.Offer.Label,
	}, nil
}

// FormatSlot renders a slot the way it is offered to users, in the
// organiser's timezone: "Monday, January 15 at 2:00 PM - 2:30 PM EST".
func (s *Service) FormatSlot(start, end time.Time) string {
	start = start.In(s.location)
	end = end.In(s.location)
	return fmt.Sprintf("%s - %s %s",
		start.Format("Monday, January 2 at 3:04 PM"),
		end.Format("3:04 PM"),
		start.Format("MST"),
	)
}

// alignToBusiness moves t forward to the nearest instant where a slot of
// SlotDuration fits inside business hours on a weekday. An already valid
// t comes back unchanged.
func (s *Service) alignToBusiness(t time.Time) time.Time {
	for {
		switch {
		case t.Weekday() == time.Saturday:
			t = s.businessOpen(t.AddDate(0, 0, 2))
		case t.Weekday() == time.Sunday:
			t = s.businessOpen(t.AddDate(0, 0, 1))
		case t.Before(s.businessOpen(t)):
			t = s.businessOpen(t)
		case t.Add(s.config.SlotDuration).After(s.businessClose(t)):
			t = s.businessOpen(t.AddDate(0, 0, 1))
		default:
			return t
		}
	}
}

func (s *Service) businessOpen(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), s.config.OpenHour, 0, 0, 0, s.location)
}

func (s *Service) businessClose(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), s.config.CloseHour, 0, 0, 0, s.location)
}

// searchWindowEnd returns the close of the SearchDays-th business day
// counting from the day of start.
func (s *Service) searchWindowEnd(start time.Time) time.Time {
	day := start
	counted := 0
	for {
		if day.Weekday() != time.Saturday && day.Weekday() != time.Sunday {
			counted++
			if counted >= s.config.SearchDays {
				return s.businessClose(day)
			}
		}
		day = day.AddDate(0, 0, 1)
	}
}

// firstConflict reports whether [slotStart, slotEnd) overlaps any buffered
// busy interval, and where the walk should resume.
func (s *Service) firstConflict(slotStart, slotEnd time.Time, busy []calendar.BusyInterval) (bool, time.Time) {
	for _, interval := range busy {
		bufferedStart := interval.Start.Add(-s.config.Buffer)
		bufferedEnd := interval.End.Add(s.config.Buffer)
		if slotStart.Before(bufferedEnd) && slotEnd.After(bufferedStart) {
			return true, bufferedEnd
		}
	}
	return false, time.Time{}
}

func roundUpToQuarter(t time.Time) time.Time {
	aligned := time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), (t.Minute()/15)*15, 0, 0, t.Location())
	if aligned.Before(t) {
		aligned = aligned.Add(15 * time.Minute)
	}
	return aligned
}

func displayName(req *BookingRequest) string {
	if req.UserName != "" {
		return req.UserName
	}
	if req.UserEmail != "" {
		return req.UserEmail
	}
	return "Prospect"
}

func bookingDescription(req *BookingRequest) string {
	desc := "Product demo scheduled via the support assistant."
	if req.UserName != "" || req.UserEmail != "" {
		desc += fmt.Sprintf("\nAttendee: %s", displayName(req))
	}
	if req.UserEmail != "" {
		desc += fmt.Sprintf(" <%s>", req.UserEmail)
	}
	return desc
}
