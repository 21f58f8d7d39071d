// Package reconcile computes the minimal operation plan that brings a
// backend's current event set in line with an incoming batch. It is pure
// and backend-agnostic: adapters supply the snapshot, the signature
// strategy and an optional coverage window, and execute the plan.
package reconcile

import (
	"time"

	"calsync/internal/model"
	"calsync/internal/signature"
)

// Window is a half-open [Start, End) range over which the incoming batch
// is asserted to be the complete authoritative set, licensing deletion of
// unmatched existing entries inside it.
type Window struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether the window contains the given start value.
func (w Window) Contains(t model.EventTime) bool {
	instant := t.Time.UTC()
	return !instant.Before(w.Start) && instant.Before(w.End)
}

// Options parameterizes a reconciliation run.
type Options struct {
	// Coverage, when non-nil, schedules unmatched existing events whose
	// start falls inside the window for deletion.
	Coverage *Window

	// Strategy must mirror the signature encoding of the backend the
	// snapshot came from. Defaults to the UTC strategy.
	Strategy signature.Strategy

	// BuildMerged requests the final full event list for backends that
	// can only rewrite the whole document.
	BuildMerged bool
}

// Identity resolution tiers, strongest first. An explicit external uid is
// the strongest signal of "same logical event" even when the content
// changed entirely; day+title tolerates small time or location edits
// within a day; full-signature equality catches content-identical events
// that carry no uid and whose title+day differs from every existing
// record.
const (
	tierNone = iota
	tierUID
	tierDayTitle
	tierSignature
)

// Reconcile diffs the incoming batch against the existing snapshot and
// produces the insert/update/delete/skip plan. Matching follows the
// insertion order of the incoming list; duplicate keys in the snapshot
// resolve first-wins.
func Reconcile(incoming []model.CanonicalEvent, existing []model.ExistingEvent, opts Options) model.Plan {
	strategy := opts.Strategy
	if strategy == nil {
		strategy = signature.UTC
	}

	byUID := make(map[string]int)
	bySig := make(map[string]int)
	byDay := make(map[string]int)
	for i, ex := range existing {
		if ex.UID != "" {
			if _, ok := byUID[ex.UID]; !ok {
				byUID[ex.UID] = i
			}
		}
		if _, ok := bySig[ex.Signature]; !ok {
			bySig[ex.Signature] = i
		}
		if _, ok := byDay[ex.DayTitleKey]; !ok {
			byDay[ex.DayTitleKey] = i
		}
	}

	plan := model.Plan{Stats: model.PlanStats{Incoming: len(incoming), Existing: len(existing)}}
	matched := make([]bool, len(existing))
	updatedBy := make(map[int]model.CanonicalEvent)

	incomingSigs := make(map[string]struct{}, len(incoming))
	incomingUIDs := make(map[string]struct{})

	for _, ev := range incoming {
		sig := signature.Of(ev, strategy)
		incomingSigs[sig] = struct{}{}
		if ev.UID != "" {
			incomingUIDs[ev.UID] = struct{}{}
		}

		idx, tier := resolve(ev, sig, byUID, byDay, bySig)

		// An existing record can be claimed at most once per run. A second
		// incoming event resolving to the same record is either a literal
		// duplicate of its content (skip) or a distinct event that happens
		// to share a key (insert); patching the record twice is never right.
		if tier != tierNone && matched[idx] {
			if existing[idx].Signature == sig {
				plan.Skipped++
			} else {
				plan.Inserts = append(plan.Inserts, ev)
			}
			continue
		}

		switch tier {
		case tierNone:
			plan.Inserts = append(plan.Inserts, ev)
			continue
		case tierUID:
			plan.Stats.MatchedByUID++
		case tierDayTitle:
			plan.Stats.MatchedByDayTitle++
		case tierSignature:
			plan.Stats.MatchedBySignature++
		}
		matched[idx] = true

		// A signature match is content-identical by definition. For the
		// stronger tiers the content may have drifted: any change to
		// start, end, location, recurrence (all signature inputs) or the
		// description makes it an update.
		ex := existing[idx]
		if tier == tierSignature || (ex.Signature == sig && ex.Event.Description == ev.Description) {
			plan.Skipped++
			continue
		}
		plan.Updates = append(plan.Updates, model.PlannedUpdate{NativeID: ex.NativeID, Event: ev})
		updatedBy[idx] = ev
	}

	deleted := make([]bool, len(existing))
	if opts.Coverage != nil {
		for i, ex := range existing {
			if matched[i] || !opts.Coverage.Contains(ex.Event.Start) {
				continue
			}
			if _, ok := incomingSigs[ex.Signature]; ok {
				continue
			}
			if ex.UID != "" {
				if _, ok := incomingUIDs[ex.UID]; ok {
					continue
				}
			}
			plan.Deletes = append(plan.Deletes, ex.NativeID)
			deleted[i] = true
		}
	}

	if opts.BuildMerged {
		plan.Merged = buildMerged(existing, plan.Inserts, updatedBy, deleted)
	}
	return plan
}

// resolve finds the existing record an incoming event corresponds to, in
// priority order uid, day-title, signature. First match wins.
func resolve(ev model.CanonicalEvent, sig string, byUID, byDay, bySig map[string]int) (int, int) {
	if ev.UID != "" {
		if i, ok := byUID[ev.UID]; ok {
			return i, tierUID
		}
	}
	if i, ok := byDay[signature.DayTitleKey(ev)]; ok {
		return i, tierDayTitle
	}
	if i, ok := bySig[sig]; ok {
		return i, tierSignature
	}
	return -1, tierNone
}

// buildMerged assembles kept-existing ∪ updated ∪ inserted minus deleted,
// in snapshot order with inserts appended, for a single full-document
// rewrite. Updated events keep the existing block's identifier so their
// identity stays stable across rewrites.
func buildMerged(existing []model.ExistingEvent, inserts []model.CanonicalEvent, updatedBy map[int]model.CanonicalEvent, deleted []bool) []model.CanonicalEvent {
	merged := make([]model.CanonicalEvent, 0, len(existing)+len(inserts))
	for i, ex := range existing {
		if deleted[i] {
			continue
		}
		if upd, ok := updatedBy[i]; ok {
			if upd.UID == "" {
				upd.UID = ex.NativeID
			}
			merged = append(merged, upd)
			continue
		}
		merged = append(merged, ex.Event)
	}
	merged = append(merged, inserts...)
	return merged
}
