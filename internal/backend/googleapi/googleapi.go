// Package googleapi syncs against a structured calendar API exposing
// discrete per-resource list/insert/patch/delete operations (the Google
// Calendar v3 surface). Each planned operation becomes one network call;
// failures are per-operation, not whole-batch.
package googleapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"calsync/internal/backend"
	appLog "calsync/internal/log"
	"calsync/internal/model"
	"calsync/internal/reconcile"
	"calsync/internal/signature"
)

const defaultBaseURL = "https://www.googleapis.com/calendar/v3"

// uidProperty is the private extended property carrying the externally
// supplied stable identifier used for the uid identity tier.
const uidProperty = "calsyncUid"

// Config describes one structured-API calendar target.
type Config struct {
	// BaseURL overrides the API root, primarily for tests.
	BaseURL    string
	CalendarID string

	// Timeout bounds each HTTP call. Zero means a 15s default.
	Timeout time.Duration
}

// Client is the structured-API backend adapter.
type Client struct {
	cfg    Config
	tokens backend.TokenProvider
	http   *http.Client
	now    func() time.Time
}

// New creates a structured-API adapter. httpClient may be nil.
func New(cfg Config, tokens backend.TokenProvider, httpClient *http.Client) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.CalendarID == "" {
		cfg.CalendarID = "primary"
	}
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{cfg: cfg, tokens: tokens, http: httpClient, now: time.Now}
}

func (c *Client) Name() string { return "googleapi" }

// The API represents recurrence natively, so rules are passed through
// instead of being materialized.
func (c *Client) MaterializesRecurrence() bool { return false }

// Apply lists existing resources in a bounded time window, reconciles,
// then issues one call per planned operation in delete, update, insert
// order. A total list failure is run-fatal; individual operation failures
// are counted and siblings proceed.
func (c *Client) Apply(ctx context.Context, incoming []model.CanonicalEvent, opts backend.ApplyOptions) (model.Result, error) {
	window := listWindow(opts.Coverage, c.now())
	existing, err := c.list(ctx, window)
	if err != nil {
		return model.Result{}, err
	}

	plan := reconcile.Reconcile(incoming, existing, reconcile.Options{
		Coverage: opts.Coverage,
		Strategy: signature.ZonePreserving,
	})

	result := model.Result{Skipped: plan.Skipped}

	// Deletions first, then updates, then inserts: the visible backend
	// state shrinks before it grows, which avoids transient duplicate
	// windows.
	for _, id := range plan.Deletes {
		if err := c.delete(ctx, id); err != nil {
			if fatal(err) {
				return result, err
			}
			appLog.Error("googleapi: delete failed", err, "event_id", id)
			result.Failed++
			continue
		}
		result.Deleted++
	}
	for _, upd := range plan.Updates {
		if err := c.patch(ctx, upd.NativeID, upd.Event); err != nil {
			if fatal(err) {
				return result, err
			}
			appLog.Error("googleapi: update failed", err, "event_id", upd.NativeID)
			result.Failed++
			continue
		}
		result.Updated++
	}
	for _, ev := range plan.Inserts {
		skipped, err := c.insert(ctx, ev)
		if err != nil {
			if fatal(err) {
				return result, err
			}
			appLog.Error("googleapi: insert failed", err, "title", ev.Title)
			result.Failed++
			continue
		}
		if skipped {
			result.Skipped++
		} else {
			result.Inserted++
		}
	}

	result.Total = result.Inserted + result.Updated + result.Skipped
	appLog.Info("googleapi: sync applied",
		"calendar", c.cfg.CalendarID,
		"inserted", result.Inserted, "updated", result.Updated,
		"deleted", result.Deleted, "skipped", result.Skipped, "failed", result.Failed)
	return result, nil
}

// listWindow derives the bounded listing range: the coverage window when
// one is supplied, otherwise a wide default around now.
func listWindow(coverage *reconcile.Window, now time.Time) reconcile.Window {
	if coverage != nil {
		return *coverage
	}
	return reconcile.Window{
		Start: now.AddDate(0, -1, 0),
		End:   now.AddDate(1, 1, 0),
	}
}

type gTime struct {
	DateTime string `json:"dateTime,omitempty"`
	Date     string `json:"date,omitempty"`
	TimeZone string `json:"timeZone,omitempty"`
}

type gExtended struct {
	Private map[string]string `json:"private,omitempty"`
}

type gEvent struct {
	ID                 string     `json:"id,omitempty"`
	Status             string     `json:"status,omitempty"`
	Summary            string     `json:"summary,omitempty"`
	Description        string     `json:"description,omitempty"`
	Location           string     `json:"location,omitempty"`
	Recurrence         []string   `json:"recurrence,omitempty"`
	Start              *gTime     `json:"start,omitempty"`
	End                *gTime     `json:"end,omitempty"`
	ExtendedProperties *gExtended `json:"extendedProperties,omitempty"`
}

func (c *Client) list(ctx context.Context, window reconcile.Window) ([]model.ExistingEvent, error) {
	var existing []model.ExistingEvent

	pageToken := ""
	for {
		query := url.Values{}
		query.Set("timeMin", window.Start.UTC().Format(time.RFC3339))
		query.Set("timeMax", window.End.UTC().Format(time.RFC3339))
		query.Set("maxResults", "250")
		if pageToken != "" {
			query.Set("pageToken", pageToken)
		}
		listURL := fmt.Sprintf("%s/calendars/%s/events?%s", c.cfg.BaseURL, url.PathEscape(c.cfg.CalendarID), query.Encode())

		resp, err := c.do(ctx, http.MethodGet, listURL, nil)
		if err != nil {
			return nil, err
		}
		var page struct {
			Items         []gEvent `json:"items"`
			NextPageToken string   `json:"nextPageToken"`
		}
		err = json.NewDecoder(resp.Body).Decode(&page)
		resp.Body.Close()
		if err != nil {
			return nil, &model.DecodeError{Reason: err.Error()}
		}

		for _, item := range page.Items {
			if item.Status == "cancelled" {
				continue
			}
			ex, ok := fromAPI(item)
			if !ok {
				continue
			}
			existing = append(existing, ex)
		}

		if page.NextPageToken == "" {
			return existing, nil
		}
		pageToken = page.NextPageToken
	}
}

func (c *Client) insert(ctx context.Context, ev model.CanonicalEvent) (skipped bool, err error) {
	body, err := json.Marshal(toAPI(ev))
	if err != nil {
		return false, err
	}
	insertURL := fmt.Sprintf("%s/calendars/%s/events", c.cfg.BaseURL, url.PathEscape(c.cfg.CalendarID))
	resp, err := c.do(ctx, http.MethodPost, insertURL, body)
	if err != nil {
		var conflict *model.ConflictError
		if errors.As(err, &conflict) && conflict.Exists() {
			// The resource is already there; that is the desired end
			// state, not a failure.
			return true, nil
		}
		return false, err
	}
	resp.Body.Close()
	return false, nil
}

func (c *Client) patch(ctx context.Context, id string, ev model.CanonicalEvent) error {
	body, err := json.Marshal(toAPI(ev))
	if err != nil {
		return err
	}
	patchURL := fmt.Sprintf("%s/calendars/%s/events/%s", c.cfg.BaseURL, url.PathEscape(c.cfg.CalendarID), url.PathEscape(id))
	resp, err := c.do(ctx, http.MethodPatch, patchURL, body)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func (c *Client) delete(ctx context.Context, id string) error {
	deleteURL := fmt.Sprintf("%s/calendars/%s/events/%s", c.cfg.BaseURL, url.PathEscape(c.cfg.CalendarID), url.PathEscape(id))
	resp, err := c.do(ctx, http.MethodDelete, deleteURL, nil)
	if err != nil {
		// Already gone is the desired end state.
		var netErr *model.NetworkError
		if errors.As(err, &netErr) && (netErr.Code == http.StatusGone || netErr.Code == http.StatusNotFound) {
			return nil
		}
		return err
	}
	resp.Body.Close()
	return nil
}

// do issues one authenticated call, retrying exactly once after a forced
// token refresh when the response is 401. A refresh failure means the
// credential is exhausted and is fatal for the run; a second 401 is fatal
// for this call only.
func (c *Client) do(ctx context.Context, method, rawURL string, body []byte) (*http.Response, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, &credentialError{&model.AuthError{Op: method + " " + rawURL, Err: err}}
	}

	resp, err := c.send(ctx, method, rawURL, body, token)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()
		token, err = c.tokens.ForceRefresh(ctx)
		if err != nil {
			return nil, &credentialError{&model.AuthError{Op: "token refresh", Err: err}}
		}
		resp, err = c.send(ctx, method, rawURL, body, token)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode == http.StatusUnauthorized {
			resp.Body.Close()
			return nil, &model.AuthError{Op: method + " " + rawURL, Err: fmt.Errorf("still unauthorized after refresh")}
		}
	}
	return resp, nil
}

func (c *Client) send(ctx context.Context, method, rawURL string, body []byte, token string) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &model.NetworkError{Op: method + " " + rawURL, Err: err}
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return resp, nil
	}
	if resp.StatusCode == http.StatusConflict {
		reason := apiErrorReason(resp)
		resp.Body.Close()
		return nil, &model.ConflictError{Op: method + " " + rawURL, Reason: reason}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		status := resp.StatusCode
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, &model.NetworkError{
			Op:   method + " " + rawURL,
			Err:  fmt.Errorf("status %d: %s", status, bytes.TrimSpace(detail)),
			Code: status,
		}
	}
	return resp, nil
}

// apiErrorReason pulls the machine-readable reason(s) out of an API error
// body.
func apiErrorReason(resp *http.Response) string {
	var payload struct {
		Error struct {
			Message string `json:"message"`
			Errors  []struct {
				Reason string `json:"reason"`
			} `json:"errors"`
		} `json:"error"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&payload); err != nil {
		return "conflict"
	}
	reason := payload.Error.Message
	for _, e := range payload.Error.Errors {
		reason += " " + e.Reason
	}
	return reason
}

// fromAPI converts a listed resource into an existing-event record with a
// zone-preserving signature, mirroring the encoding toAPI writes.
func fromAPI(item gEvent) (model.ExistingEvent, bool) {
	var start, end model.EventTime
	switch {
	case item.Start != nil && item.Start.DateTime != "":
		st, err := time.Parse(time.RFC3339, item.Start.DateTime)
		if err != nil {
			return model.ExistingEvent{}, false
		}
		et := st
		if item.End != nil && item.End.DateTime != "" {
			if parsed, err := time.Parse(time.RFC3339, item.End.DateTime); err == nil {
				et = parsed
			}
		}
		start = model.EventTime{Time: st, Zone: item.Start.TimeZone}
		endZone := ""
		if item.End != nil {
			endZone = item.End.TimeZone
		}
		end = model.EventTime{Time: et, Zone: endZone}
	case item.Start != nil && item.Start.Date != "":
		sd, err := time.Parse("2006-01-02", item.Start.Date)
		if err != nil {
			return model.ExistingEvent{}, false
		}
		ed := sd
		if item.End != nil && item.End.Date != "" {
			if parsed, err := time.Parse("2006-01-02", item.End.Date); err == nil {
				ed = parsed
			}
		}
		start = model.EventTime{Time: sd.UTC(), AllDay: true}
		end = model.EventTime{Time: ed.UTC(), AllDay: true}
	default:
		return model.ExistingEvent{}, false
	}

	uid := ""
	if item.ExtendedProperties != nil {
		uid = item.ExtendedProperties.Private[uidProperty]
	}

	ev := model.CanonicalEvent{
		Title:           item.Summary,
		Start:           start,
		End:             end,
		Location:        item.Location,
		Description:     item.Description,
		UID:             uid,
		RecurrenceRules: item.Recurrence,
		StatusText:      item.Status,
	}
	return signature.Existing(item.ID, ev, signature.ZonePreserving), true
}

// toAPI converts a canonical event into the wire shape. Timed values keep
// their declared zone annotation; all-day values use the date marker.
func toAPI(ev model.CanonicalEvent) gEvent {
	out := gEvent{
		Summary:     ev.Title,
		Description: ev.Description,
		Location:    ev.Location,
	}
	if ev.Start.AllDay {
		out.Start = &gTime{Date: ev.Start.DateString()}
		out.End = &gTime{Date: ev.End.DateString()}
	} else {
		startZone := zoneOrUTC(ev.Start.Zone)
		endZone := zoneOrUTC(ev.End.Zone)
		out.Start = &gTime{DateTime: ev.Start.In(ev.Start.Zone).Format(time.RFC3339), TimeZone: startZone}
		out.End = &gTime{DateTime: ev.End.In(ev.End.Zone).Format(time.RFC3339), TimeZone: endZone}
	}
	for _, rule := range ev.RecurrenceRules {
		out.Recurrence = append(out.Recurrence, signature.NormalizeClause(rule))
	}
	if ev.UID != "" {
		out.ExtendedProperties = &gExtended{Private: map[string]string{uidProperty: ev.UID}}
	}
	return out
}

func zoneOrUTC(zone string) string {
	if zone == "" {
		return "UTC"
	}
	return zone
}

// credentialError marks an auth failure that exhausts the credential and
// must abort the whole run, as opposed to a single-call auth failure.
type credentialError struct {
	err *model.AuthError
}

func (e *credentialError) Error() string { return e.err.Error() }
func (e *credentialError) Unwrap() error { return e.err }

func fatal(err error) bool {
	var cred *credentialError
	return errors.As(err, &cred)
}
