// Package google implements calendar.Provider against the Google Calendar
// REST API using service-account credentials.
package google

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/oauth2/google"

	"github.com/relaydesk/relaydesk/calendar"
)

const (
	defaultBaseURL = "https://www.googleapis.com/calendar/v3"
	calendarScope  = "https://www.googleapis.com/auth/calendar"

	// defaultTimeout bounds each API call.
	defaultTimeout = 5 * time.Second
)

// Config holds the Google Calendar connection settings.
type Config struct {
	// CalendarID is the organiser calendar, e.g. "primary" or an address.
	CalendarID string
	// CredentialsJSON is the service-account key file content.
	CredentialsJSON []byte
	// BaseURL overrides the API endpoint. Used by tests.
	BaseURL string
	// Timeout bounds each API call. Zero means the default.
	Timeout time.Duration
}

// Client talks to the Google Calendar API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	calendarID string
	timeout    time.Duration
}

var _ calendar.Provider = (*Client)(nil)

// NewClient builds a client from service-account credentials. The returned
// client refreshes its token automatically.
func NewClient(ctx context.Context, cfg *Config) (*Client, error) {
	if cfg.CalendarID == "" {
		return nil, errors.New("calendar id is required")
	}
	if len(cfg.CredentialsJSON) == 0 {
		return nil, errors.New("service account credentials are required")
	}

	jwtConfig, err := google.JWTConfigFromJSON(cfg.CredentialsJSON, calendarScope)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse service account credentials")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		httpClient: jwtConfig.Client(ctx),
		baseURL:    baseURL,
		calendarID: cfg.CalendarID,
		timeout:    timeout,
	}, nil
}

// newTestClient builds a client with a plain http.Client, bypassing auth.
func newTestClient(baseURL, calendarID string) *Client {
	return &Client{
		httpClient: http.DefaultClient,
		baseURL:    baseURL,
		calendarID: calendarID,
		timeout:    defaultTimeout,
	}
}

type freeBusyRequest struct {
	TimeMin  string             `json:"timeMin"`
	TimeMax  string             `json:"timeMax"`
	TimeZone string             `json:"timeZone"`
	Items    []freeBusyCalendar `json:"items"`
}

type freeBusyCalendar struct {
	ID string `json:"id"`
}

type freeBusyResponse struct {
	Calendars map[string]struct {
		Busy []struct {
			Start string `json:"start"`
			End   string `json:"end"`
		} `json:"busy"`
	} `json:"calendars"`
}

// FreeBusy queries the freebusy endpoint for the organiser calendar.
func (c *Client) FreeBusy(ctx context.Context, start, end time.Time) ([]calendar.BusyInterval, error) {
	body := &freeBusyRequest{
		TimeMin:  start.Format(time.RFC3339),
		TimeMax:  end.Format(time.RFC3339),
		TimeZone: "UTC",
		Items:    []freeBusyCalendar{{ID: c.calendarID}},
	}

	var parsed freeBusyResponse
	if err := c.post(ctx, "/freeBusy", body, &parsed); err != nil {
		return nil, errors.Wrap(err, "freebusy query failed")
	}

	var intervals []calendar.BusyInterval
	for _, period := range parsed.Calendars[c.calendarID].Busy {
		busyStart, err := time.Parse(time.RFC3339, period.Start)
		if err != nil {
			slog.Warn("skipping unparseable busy period", "start", period.Start, "error", err)
			continue
		}
		busyEnd, err := time.Parse(time.RFC3339, period.End)
		if err != nil {
			slog.Warn("skipping unparseable busy period", "end", period.End, "error", err)
			continue
		}
		intervals = append(intervals, calendar.BusyInterval{Start: busyStart, End: busyEnd})
	}
	return intervals, nil
}

type eventTime struct {
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone,omitempty"`
}

type eventAttendee struct {
	Email string `json:"email"`
}

type eventReminders struct {
	UseDefault bool                    `json:"useDefault"`
	Overrides  []eventReminderOverride `json:"overrides"`
}

type eventReminderOverride struct {
	Method  string `json:"method"`
	Minutes int    `json:"minutes"`
}

type conferenceData struct {
	CreateRequest struct {
		RequestID             string `json:"requestId"`
		ConferenceSolutionKey struct {
			Type string `json:"type"`
		} `json:"conferenceSolutionKey"`
	} `json:"createRequest"`
}

type insertEventRequest struct {
	Summary               string          `json:"summary"`
	Description           string          `json:"description,omitempty"`
	Start                 eventTime       `json:"start"`
	End                   eventTime       `json:"end"`
	Attendees             []eventAttendee `json:"attendees,omitempty"`
	Reminders             eventReminders  `json:"reminders"`
	GuestsCanModify       bool            `json:"guestsCanModify"`
	GuestsCanInviteOthers bool            `json:"guestsCanInviteOthers"`
	ConferenceData        *conferenceData `json:"conferenceData,omitempty"`
}

type insertEventResponse struct {
	ID       string    `json:"id"`
	HTMLLink string    `json:"htmlLink"`
	Start    eventTime `json:"start"`
	End      eventTime `json:"end"`
}

// CreateEvent inserts the event with invites sent to all attendees and a
// Meet link attached.
func (c *Client) CreateEvent(ctx context.Context, event *calendar.Event) (*calendar.CreatedEvent, error) {
	body := &insertEventRequest{
		Summary:     event.Title,
		Description: event.Description,
		Start:       eventTime{DateTime: event.Start.Format(time.RFC3339), TimeZone: event.Timezone},
		End:         eventTime{DateTime: event.End.Format(time.RFC3339), TimeZone: event.Timezone},
		Reminders: eventReminders{
			UseDefault: false,
			Overrides: []eventReminderOverride{
				{Method: "email", Minutes: 24 * 60},
				{Method: "popup", Minutes: 15},
			},
		},
	}
	for _, email := range event.Attendees {
		body.Attendees = append(body.Attendees, eventAttendee{Email: email})
	}
	conference := &conferenceData{}
	conference.CreateRequest.RequestID = uuid.NewString()
	conference.CreateRequest.ConferenceSolutionKey.Type = "hangoutsMeet"
	body.ConferenceData = conference

	path := fmt.Sprintf("/calendars/%s/events?sendUpdates=all&conferenceDataVersion=1", url.PathEscape(c.calendarID))
	var parsed insertEventResponse
	if err := c.post(ctx, path, body, &parsed); err != nil {
		return nil, errors.Wrap(err, "event creation failed")
	}

	created := &calendar.CreatedEvent{
		ID:   parsed.ID,
		Link: parsed.HTMLLink,
	}
	if start, err := time.Parse(time.RFC3339, parsed.Start.DateTime); err == nil {
		created.Start = start
	} else {
		created.Start = event.Start
	}
	if end, err := time.Parse(time.RFC3339, parsed.End.DateTime); err == nil {
		created.End = end
	} else {
		created.End = event.End
	}

	slog.Info("calendar event created", "event_id", created.ID, "start", created.Start)
	return created, nil
}

func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "failed to marshal request")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewBuffer(body))
	if err != nil {
		return errors.Wrap(err, "failed to construct request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "request failed")
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "failed to read response")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errors.Errorf("calendar api status %d: %s", resp.StatusCode, b)
	}
	if out != nil {
		if err := json.Unmarshal(b, out); err != nil {
			return errors.Wrap(err, "failed to unmarshal response")
		}
	}
	return nil
}
