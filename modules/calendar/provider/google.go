package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"orbyt-api/core/constants"
	"orbyt-api/core/logger"
	"orbyt-api/modules/calendar/dto"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const googleWriteScope = "https://www.googleapis.com/auth/calendar.events"

// googleSourceProp is the private extended property that marks events this
// system created, keyed to the originating local event id.
const googleSourceProp = "orbytEventId"

// GoogleAdapter talks to the Google Calendar v3 API. Incremental sync uses
// sync tokens; a 410 from events.list means the token is stale and the
// caller must fall back to a full window sync.
type GoogleAdapter struct {
	oauth   *oauth2.Config
	apiBase string
	client  *http.Client
}

func NewGoogleAdapter(clientID, clientSecret, redirectURL string) *GoogleAdapter {
	return &GoogleAdapter{
		oauth: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       []string{googleWriteScope, "https://www.googleapis.com/auth/userinfo.email"},
			Endpoint:     google.Endpoint,
		},
		apiBase: "https://www.googleapis.com",
		client:  &http.Client{Timeout: constants.RemoteCallTimeout},
	}
}

func (a *GoogleAdapter) Provider() string {
	return dto.ProviderGoogle
}

func (a *GoogleAdapter) Configured() bool {
	return a.oauth.ClientID != "" && a.oauth.ClientSecret != ""
}

func (a *GoogleAdapter) WriteScope() string {
	return googleWriteScope
}

// AuthCodeURL forces the consent prompt so Google re-issues a refresh token
// on reconnect.
func (a *GoogleAdapter) AuthCodeURL(state string) string {
	return a.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

func (a *GoogleAdapter) Exchange(ctx context.Context, code string) (*Token, error) {
	tok, err := a.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("google exchange: %w", err)
	}
	return &Token{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
		Scope:        grantedScope(tok),
	}, nil
}

func grantedScope(tok *oauth2.Token) string {
	if s, ok := tok.Extra("scope").(string); ok {
		return s
	}
	return ""
}

func (a *GoogleAdapter) Refresh(ctx context.Context, refreshToken string) (*Token, error) {
	src := a.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		if re, ok := err.(*oauth2.RetrieveError); ok && strings.Contains(string(re.Body), "invalid_grant") {
			return nil, ErrAuthExpired
		}
		return nil, fmt.Errorf("google refresh: %w", err)
	}
	// Google does not rotate refresh tokens on refresh.
	rt := tok.RefreshToken
	if rt == "" {
		rt = refreshToken
	}
	return &Token{
		AccessToken:  tok.AccessToken,
		RefreshToken: rt,
		ExpiresAt:    tok.Expiry,
	}, nil
}

func (a *GoogleAdapter) AccountInfo(ctx context.Context, accessToken string) (*RemoteAccount, error) {
	var info struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	}
	status, err := a.do(ctx, accessToken, http.MethodGet, a.apiBase+"/oauth2/v2/userinfo", nil, &info)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("google userinfo: unexpected status %d", status)
	}
	return &RemoteAccount{ID: info.ID, Email: info.Email}, nil
}

type googleEventTime struct {
	Date     string `json:"date,omitempty"`
	DateTime string `json:"dateTime,omitempty"`
}

type googleEvent struct {
	ID                 string           `json:"id"`
	Status             string           `json:"status"`
	Summary            string           `json:"summary"`
	Description        string           `json:"description"`
	Location           string           `json:"location"`
	Start              *googleEventTime `json:"start"`
	End                *googleEventTime `json:"end"`
	Updated            string           `json:"updated"`
	ExtendedProperties *struct {
		Private map[string]string `json:"private"`
	} `json:"extendedProperties"`
}

func (a *GoogleAdapter) ListChanges(ctx context.Context, accessToken, cursor string, window Window) (*ChangeSet, error) {
	set := &ChangeSet{}
	pageToken := ""

	for {
		params := url.Values{}
		params.Set("singleEvents", "true")
		params.Set("showDeleted", "true")
		if cursor != "" {
			params.Set("syncToken", cursor)
		} else {
			params.Set("timeMin", window.From.UTC().Format(time.RFC3339))
			params.Set("timeMax", window.To.UTC().Format(time.RFC3339))
		}
		if pageToken != "" {
			params.Set("pageToken", pageToken)
		}

		var page struct {
			Items         []json.RawMessage `json:"items"`
			NextPageToken string            `json:"nextPageToken"`
			NextSyncToken string            `json:"nextSyncToken"`
		}
		listURL := a.apiBase + "/calendar/v3/calendars/primary/events?" + params.Encode()
		status, err := a.do(ctx, accessToken, http.MethodGet, listURL, nil, &page)
		if err != nil {
			return nil, err
		}
		if status == http.StatusGone {
			return &ChangeSet{CursorExpired: true}, nil
		}
		if status != http.StatusOK {
			return nil, fmt.Errorf("google events.list: unexpected status %d", status)
		}

		for _, raw := range page.Items {
			var ge googleEvent
			if err := json.Unmarshal(raw, &ge); err != nil || ge.ID == "" {
				continue
			}
			set.Items = append(set.Items, googleToRemote(ge, raw))
		}

		if page.NextPageToken == "" {
			set.NextCursor = page.NextSyncToken
			return set, nil
		}
		pageToken = page.NextPageToken
	}
}

func googleToRemote(ge googleEvent, raw json.RawMessage) RemoteEvent {
	ev := RemoteEvent{
		RemoteID: ge.ID,
		Title:    ge.Summary,
		Status:   ge.Status,
		Raw:      raw,
	}
	if ge.Status == "cancelled" {
		ev.Cancelled = true
	}
	if ge.ExtendedProperties != nil {
		ev.SourceEventID = ge.ExtendedProperties.Private[googleSourceProp]
	}
	if ge.Description != "" {
		desc := ge.Description
		ev.Description = &desc
	}
	if ge.Location != "" {
		loc := ge.Location
		ev.Location = &loc
	}
	if t, err := time.Parse(time.RFC3339, ge.Updated); err == nil {
		ev.UpdatedAt = t
	}
	if ge.Start != nil {
		ev.StartAt, ev.AllDay = parseGoogleTime(ge.Start)
	}
	if ge.End != nil {
		ev.EndAt, _ = parseGoogleTime(ge.End)
	}
	return ev
}

func parseGoogleTime(gt *googleEventTime) (time.Time, bool) {
	if gt.Date != "" {
		t, _ := time.ParseInLocation("2006-01-02", gt.Date, time.UTC)
		return t, true
	}
	t, _ := time.Parse(time.RFC3339, gt.DateTime)
	return t, false
}

func (a *GoogleAdapter) WriteEvent(ctx context.Context, accessToken string, action Action, payload EventPayload) (string, error) {
	base := a.apiBase + "/calendar/v3/calendars/primary/events"

	if action == ActionDelete {
		status, err := a.do(ctx, accessToken, http.MethodDelete, base+"/"+url.PathEscape(payload.RemoteID), nil, nil)
		if err != nil {
			return "", err
		}
		// An already-deleted remote event counts as done.
		if status == http.StatusNotFound || status == http.StatusGone {
			return payload.RemoteID, nil
		}
		if status != http.StatusNoContent && status != http.StatusOK {
			return "", fmt.Errorf("google event delete: unexpected status %d", status)
		}
		return payload.RemoteID, nil
	}

	body := map[string]any{
		"summary": payload.Title,
	}
	if payload.SourceEventID != "" {
		body["extendedProperties"] = map[string]any{
			"private": map[string]string{googleSourceProp: payload.SourceEventID},
		}
	}
	if payload.Description != nil {
		body["description"] = *payload.Description
	}
	if payload.Location != nil {
		body["location"] = *payload.Location
	}
	if payload.AllDay {
		body["start"] = map[string]string{"date": payload.StartAt.UTC().Format("2006-01-02")}
		body["end"] = map[string]string{"date": payload.EndAt.UTC().Format("2006-01-02")}
	} else {
		body["start"] = map[string]string{"dateTime": payload.StartAt.UTC().Format(time.RFC3339)}
		body["end"] = map[string]string{"dateTime": payload.EndAt.UTC().Format(time.RFC3339)}
	}

	method := http.MethodPost
	target := base
	if action == ActionUpdate {
		method = http.MethodPut
		target = base + "/" + url.PathEscape(payload.RemoteID)
	}

	var created struct {
		ID string `json:"id"`
	}
	status, err := a.do(ctx, accessToken, method, target, body, &created)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("google event write: unexpected status %d", status)
	}
	if action == ActionCreate {
		return created.ID, nil
	}
	return payload.RemoteID, nil
}

// Watch opens a push channel on the primary calendar. The channel id is
// generated locally; Google echoes it back in notification headers.
func (a *GoogleAdapter) Watch(ctx context.Context, accessToken, callbackURL string) (*Subscription, error) {
	channelID := uuid.NewString()
	body := map[string]any{
		"id":      channelID,
		"type":    "web_hook",
		"address": callbackURL,
	}

	var resp struct {
		ResourceID string `json:"resourceId"`
		Expiration string `json:"expiration"`
	}
	status, err := a.do(ctx, accessToken, http.MethodPost, a.apiBase+"/calendar/v3/calendars/primary/events/watch", body, &resp)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("google watch: unexpected status %d", status)
	}

	expiresAt := time.Now().Add(7 * 24 * time.Hour)
	if ms, err := strconv.ParseInt(resp.Expiration, 10, 64); err == nil {
		expiresAt = time.UnixMilli(ms)
	}
	return &Subscription{
		ChannelID:  channelID,
		ResourceID: resp.ResourceID,
		ExpiresAt:  expiresAt,
	}, nil
}

func (a *GoogleAdapter) StopWatch(ctx context.Context, accessToken string, sub Subscription) error {
	body := map[string]any{
		"id":         sub.ChannelID,
		"resourceId": sub.ResourceID,
	}
	status, err := a.do(ctx, accessToken, http.MethodPost, a.apiBase+"/calendar/v3/channels/stop", body, nil)
	if err != nil {
		return err
	}
	if status == http.StatusNotFound {
		return nil
	}
	if status != http.StatusNoContent && status != http.StatusOK {
		return fmt.Errorf("google channels.stop: unexpected status %d", status)
	}
	return nil
}

// do performs one authenticated API call. A 401 maps to ErrAuthExpired so
// callers can distinguish dead credentials from transient failures.
func (a *GoogleAdapter) do(ctx context.Context, accessToken, method, target string, body, out any) (int, error) {
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("google api call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return resp.StatusCode, ErrAuthExpired
	}
	if out != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			logger.Error("GoogleAdapter:do:DecodeError", "error", err, "url", target)
			return resp.StatusCode, fmt.Errorf("google api decode: %w", err)
		}
	}
	return resp.StatusCode, nil
}
