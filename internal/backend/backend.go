// Package backend defines the adapter contract reconciliation plans are
// executed through. New backends are added as new implementations of
// Adapter, never as type-tag branches in the engine.
package backend

import (
	"context"

	"calsync/internal/model"
	"calsync/internal/reconcile"
)

// ApplyOptions carries the per-run parameters an adapter needs beyond the
// incoming batch itself.
type ApplyOptions struct {
	// Coverage, when non-nil, asserts the incoming batch is the complete
	// authoritative set for that window and licenses deletion of
	// unmatched existing entries inside it.
	Coverage *reconcile.Window
}

// Adapter executes a reconciliation against one remote calendar kind.
type Adapter interface {
	Name() string

	// MaterializesRecurrence reports whether the backend needs recurrence
	// rules expanded into concrete per-instance rows before Apply.
	MaterializesRecurrence() bool

	// Apply fetches the backend's current state, reconciles the incoming
	// batch against it and executes the resulting plan. Per-operation
	// failures are reported in the result counts; only credential
	// exhaustion and a total fetch/list failure return an error.
	Apply(ctx context.Context, incoming []model.CanonicalEvent, opts ApplyOptions) (model.Result, error)
}

// TokenProvider is the adapter's whole contract with the external
// credential collaborator: hand over a currently-valid bearer token, or
// force a refresh. Both may fail.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
	ForceRefresh(ctx context.Context) (string, error)
}
