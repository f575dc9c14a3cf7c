package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"
)

func newTestGoogle(t *testing.T, handler http.Handler) *GoogleAdapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	a := NewGoogleAdapter("client-id", "client-secret", "http://localhost/cb")
	a.apiBase = srv.URL
	return a
}

func TestGoogleListChangesFullWindowPaginates(t *testing.T) {
	var gotParams []string
	a := newTestGoogle(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotParams = append(gotParams, r.URL.RawQuery)
		if r.URL.Query().Get("pageToken") == "" {
			json.NewEncoder(w).Encode(map[string]any{
				"items": []map[string]any{
					{
						"id":      "ev-1",
						"status":  "confirmed",
						"summary": "Dentist",
						"start":   map[string]string{"dateTime": "2026-09-02T10:00:00Z"},
						"end":     map[string]string{"dateTime": "2026-09-02T11:00:00Z"},
						"updated": "2026-09-01T08:00:00Z",
					},
				},
				"nextPageToken": "page-2",
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"items": []map[string]any{
				{
					"id":      "ev-2",
					"status":  "confirmed",
					"summary": "School run",
					"start":   map[string]string{"dateTime": "2026-09-03T08:00:00Z"},
					"end":     map[string]string{"dateTime": "2026-09-03T08:30:00Z"},
					"updated": "2026-09-01T08:00:00Z",
				},
			},
			"nextSyncToken": "sync-token-new",
		})
	}))

	window := Window{From: time.Now(), To: time.Now().AddDate(0, 0, 90)}
	set, err := a.ListChanges(context.Background(), "tok", "", window)
	if err != nil {
		t.Fatalf("ListChanges: %v", err)
	}
	if len(set.Items) != 2 {
		t.Fatalf("got %d items, want 2", len(set.Items))
	}
	if set.NextCursor != "sync-token-new" {
		t.Errorf("NextCursor = %q, want sync-token-new", set.NextCursor)
	}
	if set.CursorExpired {
		t.Error("CursorExpired set on a full sync")
	}
	if len(gotParams) != 2 {
		t.Fatalf("made %d requests, want 2", len(gotParams))
	}
}

func TestGoogleListChangesSendsSyncToken(t *testing.T) {
	a := newTestGoogle(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("syncToken"); got != "old-cursor" {
			t.Errorf("syncToken = %q, want old-cursor", got)
		}
		if r.URL.Query().Get("timeMin") != "" {
			t.Error("incremental request should not carry timeMin")
		}
		json.NewEncoder(w).Encode(map[string]any{"nextSyncToken": "cursor-2"})
	}))

	set, err := a.ListChanges(context.Background(), "tok", "old-cursor", Window{})
	if err != nil {
		t.Fatalf("ListChanges: %v", err)
	}
	if set.NextCursor != "cursor-2" {
		t.Errorf("NextCursor = %q, want cursor-2", set.NextCursor)
	}
}

func TestGoogleListChangesExpiredCursor(t *testing.T) {
	a := newTestGoogle(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGone)
	}))

	set, err := a.ListChanges(context.Background(), "tok", "stale", Window{})
	if err != nil {
		t.Fatalf("ListChanges: %v", err)
	}
	if !set.CursorExpired {
		t.Error("410 response should set CursorExpired")
	}
}

func TestGoogleNormalizesAllDayAndCancelled(t *testing.T) {
	a := newTestGoogle(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"items": []map[string]any{
				{
					"id":      "all-day",
					"status":  "confirmed",
					"summary": "Holiday",
					"start":   map[string]string{"date": "2026-03-01"},
					"end":     map[string]string{"date": "2026-03-02"},
				},
				{
					"id":     "gone",
					"status": "cancelled",
				},
			},
			"nextSyncToken": "c",
		})
	}))

	set, err := a.ListChanges(context.Background(), "tok", "", Window{From: time.Now(), To: time.Now()})
	if err != nil {
		t.Fatalf("ListChanges: %v", err)
	}
	if len(set.Items) != 2 {
		t.Fatalf("got %d items, want 2", len(set.Items))
	}

	allDay := set.Items[0]
	if !allDay.AllDay {
		t.Error("date-only start should set AllDay")
	}
	want := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	if !allDay.StartAt.Equal(want) {
		t.Errorf("StartAt = %v, want %v", allDay.StartAt, want)
	}

	if !set.Items[1].Cancelled {
		t.Error("cancelled status should set Cancelled")
	}
}

func TestGoogleCreateCarriesSourceMarker(t *testing.T) {
	a := newTestGoogle(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			ExtendedProperties struct {
				Private map[string]string `json:"private"`
			} `json:"extendedProperties"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		if body.ExtendedProperties.Private[googleSourceProp] != "9b2f0c64-0000-4000-8000-000000000002" {
			t.Errorf("private properties = %v, want the local event id under %s", body.ExtendedProperties.Private, googleSourceProp)
		}
		json.NewEncoder(w).Encode(map[string]string{"id": "ev-created"})
	}))

	id, err := a.WriteEvent(context.Background(), "tok", ActionCreate, EventPayload{
		SourceEventID: "9b2f0c64-0000-4000-8000-000000000002",
		Title:         "Parents evening",
		StartAt:       time.Now(),
		EndAt:         time.Now().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("WriteEvent: %v", err)
	}
	if id != "ev-created" {
		t.Errorf("id = %q, want ev-created", id)
	}
}

func TestGoogleListReturnsSourceMarker(t *testing.T) {
	a := newTestGoogle(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"items": []map[string]any{
				{
					"id":      "ev-own",
					"status":  "confirmed",
					"summary": "Parents evening",
					"extendedProperties": map[string]any{
						"private": map[string]string{googleSourceProp: "9b2f0c64-0000-4000-8000-000000000002"},
					},
				},
			},
			"nextSyncToken": "c",
		})
	}))

	set, err := a.ListChanges(context.Background(), "tok", "", Window{From: time.Now(), To: time.Now()})
	if err != nil {
		t.Fatalf("ListChanges: %v", err)
	}
	if len(set.Items) != 1 || set.Items[0].SourceEventID != "9b2f0c64-0000-4000-8000-000000000002" {
		t.Errorf("items = %+v, want the private property surfaced as SourceEventID", set.Items)
	}
}

func TestGoogleDeleteTreatsGoneAsSuccess(t *testing.T) {
	a := newTestGoogle(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("method = %s, want DELETE", r.Method)
		}
		w.WriteHeader(http.StatusNotFound)
	}))

	id, err := a.WriteEvent(context.Background(), "tok", ActionDelete, EventPayload{RemoteID: "ev-1"})
	if err != nil {
		t.Fatalf("delete of missing remote event should succeed, got %v", err)
	}
	if id != "ev-1" {
		t.Errorf("id = %q, want ev-1", id)
	}
}

func TestGoogleWatchParsesExpiration(t *testing.T) {
	expiry := time.Now().Add(6 * 24 * time.Hour).UnixMilli()
	var gotChannelID string
	// Google sends expiration as a decimal string of epoch milliseconds.
	a := newTestGoogle(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		gotChannelID, _ = body["id"].(string)
		if body["address"] != "https://orbyt.example/webhooks/calendar/google" {
			t.Errorf("address = %v", body["address"])
		}
		w.Write([]byte(`{"resourceId":"res-123","expiration":"` + strconv.FormatInt(expiry, 10) + `"}`))
	}))

	sub, err := a.Watch(context.Background(), "tok", "https://orbyt.example/webhooks/calendar/google")
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if sub.ChannelID == "" || sub.ChannelID != gotChannelID {
		t.Errorf("channel id mismatch: sub=%q sent=%q", sub.ChannelID, gotChannelID)
	}
	if sub.ResourceID != "res-123" {
		t.Errorf("ResourceID = %q", sub.ResourceID)
	}
	if sub.ExpiresAt.UnixMilli() != expiry {
		t.Errorf("ExpiresAt = %v, want %v", sub.ExpiresAt.UnixMilli(), expiry)
	}
}

func TestGoogleUnauthorizedMapsToAuthExpired(t *testing.T) {
	a := newTestGoogle(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))

	if _, err := a.ListChanges(context.Background(), "bad", "", Window{}); err != ErrAuthExpired {
		t.Errorf("got %v, want ErrAuthExpired", err)
	}
}
