package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"orbyt-api/core/constants"
	"orbyt-api/core/logger"
	"orbyt-api/modules/calendar/dto"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"
)

const (
	outlookWriteScope = "Calendars.ReadWrite"

	// Graph event subscriptions cap out just under three days.
	outlookSubscriptionTTL = 4230 * time.Minute
)

// OutlookAdapter talks to Microsoft Graph. Incremental sync uses delta
// links returned by /me/calendarView/delta; Graph answers 410 when a delta
// link has aged out and the sync must restart from a full window.
type OutlookAdapter struct {
	oauth     *oauth2.Config
	graphBase string
	client    *http.Client
}

func NewOutlookAdapter(clientID, clientSecret, redirectURL, tenantID string) *OutlookAdapter {
	if tenantID == "" {
		tenantID = "common"
	}
	return &OutlookAdapter{
		oauth: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       []string{"offline_access", "User.Read", outlookWriteScope},
			Endpoint:     microsoft.AzureADEndpoint(tenantID),
		},
		graphBase: "https://graph.microsoft.com/v1.0",
		client:    &http.Client{Timeout: constants.RemoteCallTimeout},
	}
}

func (a *OutlookAdapter) Provider() string {
	return dto.ProviderOutlook
}

func (a *OutlookAdapter) Configured() bool {
	return a.oauth.ClientID != "" && a.oauth.ClientSecret != ""
}

func (a *OutlookAdapter) WriteScope() string {
	return outlookWriteScope
}

func (a *OutlookAdapter) AuthCodeURL(state string) string {
	return a.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

func (a *OutlookAdapter) Exchange(ctx context.Context, code string) (*Token, error) {
	tok, err := a.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("outlook exchange: %w", err)
	}
	return &Token{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
		Scope:        grantedScope(tok),
	}, nil
}

// Refresh exchanges the refresh token for a new token pair. Microsoft
// rotates refresh tokens, so the caller must persist the returned one.
func (a *OutlookAdapter) Refresh(ctx context.Context, refreshToken string) (*Token, error) {
	src := a.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		if re, ok := err.(*oauth2.RetrieveError); ok && strings.Contains(string(re.Body), "invalid_grant") {
			return nil, ErrAuthExpired
		}
		return nil, fmt.Errorf("outlook refresh: %w", err)
	}
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

func (a *OutlookAdapter) AccountInfo(ctx context.Context, accessToken string) (*RemoteAccount, error) {
	var me struct {
		ID                string `json:"id"`
		Mail              string `json:"mail"`
		UserPrincipalName string `json:"userPrincipalName"`
	}
	status, err := a.do(ctx, accessToken, http.MethodGet, a.graphBase+"/me", nil, &me)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("graph /me: unexpected status %d", status)
	}
	email := me.Mail
	if email == "" {
		email = me.UserPrincipalName
	}
	return &RemoteAccount{ID: me.ID, Email: email}, nil
}

type graphDateTime struct {
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone"`
}

type graphEvent struct {
	ID          string `json:"id"`
	Subject     string `json:"subject"`
	BodyPreview string `json:"bodyPreview"`
	Location    *struct {
		DisplayName string `json:"displayName"`
	} `json:"location"`
	Start                *graphDateTime   `json:"start"`
	End                  *graphDateTime   `json:"end"`
	IsAllDay             bool             `json:"isAllDay"`
	IsCancelled          bool             `json:"isCancelled"`
	ShowAs               string           `json:"showAs"`
	TransactionID        string           `json:"transactionId"`
	LastModifiedDateTime string           `json:"lastModifiedDateTime"`
	Removed              *json.RawMessage `json:"@removed"`
}

func (a *OutlookAdapter) ListChanges(ctx context.Context, accessToken, cursor string, window Window) (*ChangeSet, error) {
	set := &ChangeSet{}

	next := cursor
	if next == "" {
		params := url.Values{}
		params.Set("startDateTime", window.From.UTC().Format(time.RFC3339))
		params.Set("endDateTime", window.To.UTC().Format(time.RFC3339))
		next = a.graphBase + "/me/calendarView/delta?" + params.Encode()
	}

	for {
		var page struct {
			Items     []json.RawMessage `json:"value"`
			NextLink  string            `json:"@odata.nextLink"`
			DeltaLink string            `json:"@odata.deltaLink"`
		}
		status, err := a.do(ctx, accessToken, http.MethodGet, next, nil, &page)
		if err != nil {
			return nil, err
		}
		if status == http.StatusGone {
			return &ChangeSet{CursorExpired: true}, nil
		}
		if status != http.StatusOK {
			return nil, fmt.Errorf("graph calendarView/delta: unexpected status %d", status)
		}

		for _, raw := range page.Items {
			var ge graphEvent
			if err := json.Unmarshal(raw, &ge); err != nil || ge.ID == "" {
				continue
			}
			set.Items = append(set.Items, graphToRemote(ge, raw))
		}

		if page.NextLink == "" {
			set.NextCursor = page.DeltaLink
			return set, nil
		}
		next = page.NextLink
	}
}

func graphToRemote(ge graphEvent, raw json.RawMessage) RemoteEvent {
	ev := RemoteEvent{
		RemoteID:      ge.ID,
		SourceEventID: ge.TransactionID,
		Title:         ge.Subject,
		AllDay:        ge.IsAllDay,
		Raw:           raw,
	}

	switch {
	case ge.Removed != nil || ge.IsCancelled:
		ev.Cancelled = true
		ev.Status = "cancelled"
	case strings.EqualFold(ge.ShowAs, "tentative"):
		ev.Status = "tentative"
	default:
		ev.Status = "confirmed"
	}

	if ge.BodyPreview != "" {
		desc := ge.BodyPreview
		ev.Description = &desc
	}
	if ge.Location != nil && ge.Location.DisplayName != "" {
		loc := ge.Location.DisplayName
		ev.Location = &loc
	}
	if t, err := time.Parse(time.RFC3339, ge.LastModifiedDateTime); err == nil {
		ev.UpdatedAt = t
	}
	if ge.Start != nil {
		ev.StartAt = parseGraphTime(ge.Start)
	}
	if ge.End != nil {
		ev.EndAt = parseGraphTime(ge.End)
	}
	return ev
}

// parseGraphTime handles Graph's zone-less fractional timestamps, e.g.
// "2026-03-01T09:00:00.0000000" with timeZone "UTC".
func parseGraphTime(gt *graphDateTime) time.Time {
	loc := time.UTC
	if gt.TimeZone != "" && !strings.EqualFold(gt.TimeZone, "UTC") {
		if l, err := time.LoadLocation(gt.TimeZone); err == nil {
			loc = l
		}
	}
	for _, layout := range []string{"2006-01-02T15:04:05.9999999", "2006-01-02T15:04:05"} {
		if t, err := time.ParseInLocation(layout, gt.DateTime, loc); err == nil {
			return t
		}
	}
	t, _ := time.Parse(time.RFC3339, gt.DateTime)
	return t
}

func (a *OutlookAdapter) WriteEvent(ctx context.Context, accessToken string, action Action, payload EventPayload) (string, error) {
	base := a.graphBase + "/me/events"

	if action == ActionDelete {
		status, err := a.do(ctx, accessToken, http.MethodDelete, base+"/"+url.PathEscape(payload.RemoteID), nil, nil)
		if err != nil {
			return "", err
		}
		if status == http.StatusNotFound || status == http.StatusGone {
			return payload.RemoteID, nil
		}
		if status != http.StatusNoContent {
			return "", fmt.Errorf("graph event delete: unexpected status %d", status)
		}
		return payload.RemoteID, nil
	}

	body := map[string]any{
		"subject":  payload.Title,
		"isAllDay": payload.AllDay,
		"start": map[string]string{
			"dateTime": payload.StartAt.UTC().Format("2006-01-02T15:04:05"),
			"timeZone": "UTC",
		},
		"end": map[string]string{
			"dateTime": payload.EndAt.UTC().Format("2006-01-02T15:04:05"),
			"timeZone": "UTC",
		},
	}
	// transactionId is write-once: it marks the event as ours and makes the
	// create idempotent, but Graph rejects it on updates.
	if action == ActionCreate && payload.SourceEventID != "" {
		body["transactionId"] = payload.SourceEventID
	}
	if payload.Description != nil {
		body["body"] = map[string]string{"contentType": "text", "content": *payload.Description}
	}
	if payload.Location != nil {
		body["location"] = map[string]string{"displayName": *payload.Location}
	}

	method := http.MethodPost
	target := base
	wantStatus := http.StatusCreated
	if action == ActionUpdate {
		method = http.MethodPatch
		target = base + "/" + url.PathEscape(payload.RemoteID)
		wantStatus = http.StatusOK
	}

	var created struct {
		ID string `json:"id"`
	}
	status, err := a.do(ctx, accessToken, method, target, body, &created)
	if err != nil {
		return "", err
	}
	if status != wantStatus {
		return "", fmt.Errorf("graph event write: unexpected status %d", status)
	}
	if action == ActionCreate {
		return created.ID, nil
	}
	return payload.RemoteID, nil
}

// Watch creates a Graph change subscription on /me/events. The generated
// client state comes back in every notification and lets the inbound
// endpoint reject spoofed posts.
func (a *OutlookAdapter) Watch(ctx context.Context, accessToken, callbackURL string) (*Subscription, error) {
	clientState, err := gonanoid.New(21)
	if err != nil {
		return nil, err
	}
	body := map[string]any{
		"changeType":         "created,updated,deleted",
		"notificationUrl":    callbackURL,
		"resource":           "/me/events",
		"expirationDateTime": time.Now().Add(outlookSubscriptionTTL).UTC().Format(time.RFC3339),
		"clientState":        clientState,
	}

	var resp struct {
		ID                 string `json:"id"`
		ExpirationDateTime string `json:"expirationDateTime"`
	}
	status, err := a.do(ctx, accessToken, http.MethodPost, a.graphBase+"/subscriptions", body, &resp)
	if err != nil {
		return nil, err
	}
	if status != http.StatusCreated {
		return nil, fmt.Errorf("graph subscription create: unexpected status %d", status)
	}

	expiresAt := time.Now().Add(outlookSubscriptionTTL)
	if t, err := time.Parse(time.RFC3339, resp.ExpirationDateTime); err == nil {
		expiresAt = t
	}
	return &Subscription{
		ChannelID:  resp.ID,
		ResourceID: clientState,
		ExpiresAt:  expiresAt,
	}, nil
}

func (a *OutlookAdapter) StopWatch(ctx context.Context, accessToken string, sub Subscription) error {
	status, err := a.do(ctx, accessToken, http.MethodDelete, a.graphBase+"/subscriptions/"+url.PathEscape(sub.ChannelID), nil, nil)
	if err != nil {
		return err
	}
	if status == http.StatusNotFound {
		return nil
	}
	if status != http.StatusNoContent {
		return fmt.Errorf("graph subscription delete: unexpected status %d", status)
	}
	return nil
}

func (a *OutlookAdapter) do(ctx context.Context, accessToken, method, target string, body, out any) (int, error) {
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
		return 0, fmt.Errorf("graph api call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return resp.StatusCode, ErrAuthExpired
	}
	if out != nil && (resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated) {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			logger.Error("OutlookAdapter:do:DecodeError", "error", err, "url", target)
			return resp.StatusCode, fmt.Errorf("graph api decode: %w", err)
		}
	}
	return resp.StatusCode, nil
}
