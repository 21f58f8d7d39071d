// Package engine wires sources, expansion and backend adapters into
// complete sync runs: collect canonical events from every configured
// source, then reconcile each target against that batch.
package engine

import (
	"context"
	"fmt"
	"time"

	"calsync/internal/auth"
	"calsync/internal/backend"
	"calsync/internal/backend/googleapi"
	"calsync/internal/backend/textblob"
	"calsync/internal/capture"
	"calsync/internal/config"
	"calsync/internal/expand"
	"calsync/internal/extract"
	appLog "calsync/internal/log"
	"calsync/internal/model"
	"calsync/internal/reconcile"
	"calsync/internal/source/icsfeed"
	"calsync/internal/trigger"
)

// Target pairs a config identifier with a ready adapter and the coverage
// settings governing stale-event deletion on it.
type Target struct {
	ID            string
	Adapter       backend.Adapter
	Authoritative bool
	CoverageDays  int
}

// Engine owns the source fetchers and target adapters for one configured
// deployment.
type Engine struct {
	cfg     *config.Config
	fetcher *icsfeed.Fetcher
	targets []Target
	state   *trigger.State

	// scrape and now are injectable so tests can run without a browser or
	// a real clock.
	scrape func(ctx context.Context, opts capture.Options) (any, error)
	now    func() time.Time
}

// New builds an Engine from configuration. Adapter construction fails
// only when auth material cannot be loaded; individual sync errors stay
// per-run.
func New(cfg *config.Config) (*Engine, error) {
	e := &Engine{
		cfg:     cfg,
		fetcher: icsfeed.NewFetcher(cfg.CacheDir, nil),
		state:   trigger.NewState(time.Duration(cfg.CooldownMinutes)*time.Minute, nil),
		scrape:  capture.Scrape,
		now:     time.Now,
	}

	for _, tc := range cfg.TextTargets {
		client := textblob.New(textblob.Config{
			URL:      tc.URL,
			Label:    tc.Label,
			Username: tc.Username,
			Password: tc.Password,
		}, nil)
		e.targets = append(e.targets, Target{
			ID: tc.ID, Adapter: client,
			Authoritative: tc.Authoritative, CoverageDays: tc.CoverageDays,
		})
	}

	for _, gc := range cfg.GoogleTargets {
		store, err := auth.NewStore(gc.CredentialsPath, gc.TokenPath)
		if err != nil {
			return nil, fmt.Errorf("engine: target %s: %w", gc.ID, err)
		}
		client := googleapi.New(googleapi.Config{CalendarID: gc.CalendarID}, store, nil)
		e.targets = append(e.targets, Target{
			ID: gc.ID, Adapter: client,
			Authoritative: gc.Authoritative, CoverageDays: gc.CoverageDays,
		})
	}

	return e, nil
}

// Targets lists the configured target IDs in order.
func (e *Engine) Targets() []string {
	ids := make([]string, 0, len(e.targets))
	for _, t := range e.targets {
		ids = append(ids, t.ID)
	}
	return ids
}

// Collect gathers canonical events from every configured source. Source
// failures are logged and skipped; one dead feed never blocks a sync.
func (e *Engine) Collect(ctx context.Context) []model.CanonicalEvent {
	var events []model.CanonicalEvent

	feeds := make([]icsfeed.Feed, 0, len(e.cfg.Feeds))
	for _, fc := range e.cfg.Feeds {
		feeds = append(feeds, icsfeed.Feed{ID: fc.ID, URL: fc.URL, Zone: fc.Zone})
	}
	results, errs := e.fetcher.FetchAll(ctx, feeds)
	for _, err := range errs {
		appLog.Warn("engine: feed fetch failed", "err", err)
	}
	for _, res := range results {
		parsed, err := icsfeed.Parse(res.Feed, res.Body)
		if err != nil {
			appLog.Error("engine: feed parse failed", err, "id", res.Feed.ID)
			continue
		}
		events = append(events, parsed...)
	}

	for _, pc := range e.cfg.Pages {
		doc, err := e.scrape(ctx, capture.Options{
			URL:          pc.URL,
			WaitSelector: pc.WaitSelector,
			Expression:   pc.Expression,
		})
		if err != nil {
			appLog.Error("engine: page scrape failed", err, "id", pc.ID)
			continue
		}
		extracted, itemErrs := extract.Extract(doc, pc.Mapping)
		for _, ierr := range itemErrs {
			appLog.Warn("engine: dropped scraped item", "id", pc.ID, "err", ierr)
		}
		events = append(events, extracted...)
	}

	appLog.Info("engine: collected", "events", len(events),
		"feeds", len(e.cfg.Feeds), "pages", len(e.cfg.Pages))
	return events
}

// SyncAll runs one sync against every target honoring per-target
// cooldowns. Per-target failures are logged; the remaining targets still
// run.
func (e *Engine) SyncAll(ctx context.Context, force bool) {
	events := e.Collect(ctx)
	for _, t := range e.targets {
		if !force && !e.state.Allow(t.ID) {
			appLog.Debug("engine: target in cooldown, skipping",
				"target", t.ID, "remaining", e.state.Remaining(t.ID).String())
			continue
		}
		if err := e.syncTarget(ctx, t, events); err != nil {
			appLog.Error("engine: sync failed", err, "target", t.ID)
			continue
		}
		e.state.MarkRan(t.ID)
	}
}

// SyncOne runs one sync against a single target by ID, bypassing the
// cooldown.
func (e *Engine) SyncOne(ctx context.Context, targetID string) error {
	for _, t := range e.targets {
		if t.ID != targetID {
			continue
		}
		if err := e.syncTarget(ctx, t, e.Collect(ctx)); err != nil {
			return err
		}
		e.state.MarkRan(t.ID)
		return nil
	}
	return fmt.Errorf("engine: unknown target %q", targetID)
}

// coverageWindow derives the deletion window for an authoritative target:
// [now, now+coverageDays), falling back to the expansion horizon when no
// per-target size is set. Non-authoritative targets get none and are
// never deleted from.
func (e *Engine) coverageWindow(t Target) *reconcile.Window {
	if !t.Authoritative {
		return nil
	}
	days := t.CoverageDays
	if days <= 0 {
		days = e.cfg.HorizonDays
	}
	start := e.now().UTC()
	return &reconcile.Window{Start: start, End: start.Add(time.Duration(days) * 24 * time.Hour)}
}

func (e *Engine) syncTarget(ctx context.Context, t Target, events []model.CanonicalEvent) error {
	batch := events
	if t.Adapter.MaterializesRecurrence() {
		expanded, diags := expand.Expand(events, expand.Options{
			HorizonDays:    e.cfg.HorizonDays,
			MaxOccurrences: e.cfg.MaxOccurrences,
		})
		for _, d := range diags {
			appLog.Warn("engine: expansion diagnostic", "target", t.ID,
				"uid", d.UID, "title", d.Title, "err", d.Err)
		}
		batch = expanded
	}

	res, err := t.Adapter.Apply(ctx, batch, backend.ApplyOptions{Coverage: e.coverageWindow(t)})
	if err != nil {
		return err
	}
	appLog.Info("engine: target synced", "target", t.ID, "backend", t.Adapter.Name(),
		"inserted", res.Inserted, "updated", res.Updated, "deleted", res.Deleted,
		"skipped", res.Skipped, "failed", res.Failed, "total", res.Total)
	return nil
}
