// Package textblob syncs against calendar backends that expose only
// whole-document read/write at a single resource URL (Radicale-style):
// fetch the blob, decode, reconcile, encode the merged set and write the
// whole document back.
package textblob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"calsync/internal/backend"
	appLog "calsync/internal/log"
	"calsync/internal/model"
	"calsync/internal/reconcile"
	"calsync/internal/signature"
	"calsync/internal/vcal"
)

// Config describes one text-blob calendar target.
type Config struct {
	// URL is the single read/write resource for the calendar document.
	URL string

	// Label becomes the document's calendar name line.
	Label string

	Username string
	Password string

	// Timeout bounds each HTTP call. Zero means a 15s default.
	Timeout time.Duration
}

// Client is the text-blob backend adapter.
type Client struct {
	cfg  Config
	http *http.Client

	// injectable for deterministic encoding in tests
	now    func() time.Time
	newUID func() string
}

// New creates a text-blob adapter. httpClient may be nil.
func New(cfg Config, httpClient *http.Client) *Client {
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		transport := http.RoundTripper(http.DefaultTransport)
		if cfg.Username != "" {
			transport = &basicAuthTransport{username: cfg.Username, password: cfg.Password, base: transport}
		}
		httpClient = &http.Client{Timeout: timeout, Transport: transport}
	}
	return &Client{cfg: cfg, http: httpClient}
}

func (c *Client) Name() string { return "textblob" }

// The document format has no native recurrence the engine trusts for
// merging, so incoming rules are materialized into concrete rows first.
func (c *Client) MaterializesRecurrence() bool { return true }

// Apply performs one read-modify-write cycle: fetch the whole document,
// reconcile, and if the plan changes anything, probe for write permission
// and PUT the merged document back.
func (c *Client) Apply(ctx context.Context, incoming []model.CanonicalEvent, opts backend.ApplyOptions) (model.Result, error) {
	existing, err := c.fetch(ctx)
	if err != nil {
		return model.Result{}, err
	}

	plan := reconcile.Reconcile(incoming, existing, reconcile.Options{
		Coverage:    opts.Coverage,
		Strategy:    signature.UTC,
		BuildMerged: true,
	})

	result := model.Result{
		Inserted: len(plan.Inserts),
		Updated:  len(plan.Updates),
		Deleted:  len(plan.Deletes),
		Skipped:  plan.Skipped,
		Total:    len(plan.Merged),
	}

	if result.Inserted == 0 && result.Updated == 0 && result.Deleted == 0 {
		appLog.Info("textblob: nothing to write", "url", c.cfg.URL, "skipped", result.Skipped)
		return result, nil
	}

	if err := c.probeWritable(ctx); err != nil {
		return model.Result{}, err
	}

	blob := vcal.Encode(plan.Merged, vcal.EncodeOptions{Label: c.cfg.Label, Now: c.now, NewUID: c.newUID})
	if err := c.put(ctx, blob); err != nil {
		return model.Result{}, err
	}

	appLog.Info("textblob: document rewritten",
		"url", c.cfg.URL,
		"inserted", result.Inserted, "updated", result.Updated,
		"deleted", result.Deleted, "skipped", result.Skipped,
		"total", result.Total)
	return result, nil
}

// fetch reads and decodes the current document. A missing document or an
// undecodable one is treated as empty existing state so the sync can still
// proceed as a full insert.
func (c *Client) fetch(ctx context.Context) ([]model.ExistingEvent, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.URL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &model.NetworkError{Op: "fetch document", Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &model.AuthError{Op: "fetch document", Err: fmt.Errorf("status %d", resp.StatusCode)}
	case resp.StatusCode != http.StatusOK:
		return nil, &model.NetworkError{Op: "fetch document", Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &model.NetworkError{Op: "read document", Err: err}
	}

	existing, err := vcal.Decode(body)
	if err != nil {
		var decodeErr *model.DecodeError
		if errors.As(err, &decodeErr) {
			appLog.Error("textblob: undecodable remote document; treating as empty", err, "url", c.cfg.URL)
			return nil, nil
		}
		return nil, err
	}
	return existing, nil
}

// probeWritable checks write capability before any mutating call so a
// read-only target aborts early with a permission error instead of
// half-applying.
func (c *Client) probeWritable(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodOptions, c.cfg.URL, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return &model.NetworkError{Op: "capability probe", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return &model.AuthError{Op: "capability probe", Err: fmt.Errorf("status %d", resp.StatusCode)}
	}
	allow := resp.Header.Get("Allow")
	if allow != "" && !methodAllowed(allow, http.MethodPut) {
		return &model.AuthError{Op: "capability probe", Err: errors.New("target does not allow PUT")}
	}
	return nil
}

func methodAllowed(allow, method string) bool {
	for _, m := range strings.Split(allow, ",") {
		if strings.EqualFold(strings.TrimSpace(m), method) {
			return true
		}
	}
	return false
}

func (c *Client) put(ctx context.Context, blob []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.cfg.URL, bytes.NewReader(blob))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "text/calendar; charset=utf-8")

	resp, err := c.http.Do(req)
	if err != nil {
		return &model.NetworkError{Op: "put document", Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &model.AuthError{Op: "put document", Err: fmt.Errorf("status %d", resp.StatusCode)}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return &model.NetworkError{Op: "put document", Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}
	return nil
}

type basicAuthTransport struct {
	username string
	password string
	base     http.RoundTripper
}

func (t *basicAuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.SetBasicAuth(t.username, t.password)
	return t.base.RoundTrip(req)
}
