package google

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaydesk/relaydesk/calendar"
)

func TestFreeBusy(t *testing.T) {
	var gotBody freeBusyRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/freeBusy", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"calendars": {
				"primary": {
					"busy": [
						{"start": "2026-01-12T15:00:00Z", "end": "2026-01-12T16:00:00Z"},
						{"start": "2026-01-13T18:30:00Z", "end": "2026-01-13T19:00:00Z"}
					]
				}
			}
		}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL, "primary")
	start := time.Date(2026, 1, 12, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 7)

	busy, err := client.FreeBusy(context.Background(), start, end)
	require.NoError(t, err)
	require.Len(t, busy, 2)
	assert.Equal(t, time.Date(2026, 1, 12, 15, 0, 0, 0, time.UTC), busy[0].Start.UTC())
	assert.Equal(t, time.Date(2026, 1, 12, 16, 0, 0, 0, time.UTC), busy[0].End.UTC())

	assert.Equal(t, "primary", gotBody.Items[0].ID)
	assert.Equal(t, "UTC", gotBody.TimeZone)
}

func TestFreeBusy_SkipsUnparseablePeriods(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"calendars": {"primary": {"busy": [
			{"start": "not-a-time", "end": "2026-01-12T16:00:00Z"},
			{"start": "2026-01-13T18:30:00Z", "end": "2026-01-13T19:00:00Z"}
		]}}}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL, "primary")
	busy, err := client.FreeBusy(context.Background(), time.Now(), time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, busy, 1)
}

func TestCreateEvent(t *testing.T) {
	var gotBody insertEventRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/calendars/primary/events", r.URL.Path)
		require.Equal(t, "all", r.URL.Query().Get("sendUpdates"))
		require.Equal(t, "1", r.URL.Query().Get("conferenceDataVersion"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Write([]byte(`{
			"id": "evt_123",
			"htmlLink": "https://calendar.google.com/event?eid=evt_123",
			"start": {"dateTime": "2026-01-12T19:00:00Z"},
			"end": {"dateTime": "2026-01-12T19:30:00Z"}
		}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL, "primary")
	start := time.Date(2026, 1, 12, 19, 0, 0, 0, time.UTC)
	created, err := client.CreateEvent(context.Background(), &calendar.Event{
		Title:     "Product Demo - Dana",
		Start:     start,
		End:       start.Add(30 * time.Minute),
		Timezone:  "America/New_York",
		Attendees: []string{"dana@example.com"},
	})
	require.NoError(t, err)
	assert.Equal(t, "evt_123", created.ID)
	assert.Equal(t, "https://calendar.google.com/event?eid=evt_123", created.Link)
	assert.Equal(t, start, created.Start.UTC())

	assert.Equal(t, "Product Demo - Dana", gotBody.Summary)
	assert.Equal(t, "dana@example.com", gotBody.Attendees[0].Email)
	assert.False(t, gotBody.Reminders.UseDefault)
	require.NotNil(t, gotBody.ConferenceData)
	assert.NotEmpty(t, gotBody.ConferenceData.CreateRequest.RequestID)
	assert.Equal(t, "hangoutsMeet", gotBody.ConferenceData.CreateRequest.ConferenceSolutionKey.Type)
}

func TestCreateEvent_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error": {"message": "insufficient permissions"}}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL, "primary")
	_, err := client.CreateEvent(context.Background(), &calendar.Event{
		Title: "Demo",
		Start: time.Now(),
		End:   time.Now().Add(30 * time.Minute),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 403")
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(context.Background(), &Config{CredentialsJSON: []byte("{}")})
	assert.Error(t, err)

	_, err = NewClient(context.Background(), &Config{CalendarID: "primary"})
	assert.Error(t, err)
}
