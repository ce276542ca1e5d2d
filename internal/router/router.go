// Package router maps requested model ids to catalog entries.
package router

import (
	"errors"
	"fmt"
	"sort"

	"infergate/internal/core"
)

// ErrEmptyCatalog is returned when a router is built without models.
var ErrEmptyCatalog = errors.New("model catalog is empty")

// PromptTooLongWarning is attached to an auto-routed resolution when no model
// can hold the estimated prompt. The largest model is used anyway and the
// backend may still reject the request.
type PromptTooLongWarning struct {
	Model           string
	ContextLength   int
	EstimatedTokens int
}

func (w *PromptTooLongWarning) String() string {
	return fmt.Sprintf("estimated prompt of %d tokens exceeds the largest context window (%s, %d tokens)",
		w.EstimatedTokens, w.Model, w.ContextLength)
}

// Resolution is the outcome of routing one request.
type Resolution struct {
	Model core.ModelDescriptor
	// Warning is nil unless auto-routing overflowed every context window
	Warning *PromptTooLongWarning
}

// Router resolves model ids against an immutable catalog.
// It is safe for concurrent use.
type Router struct {
	// ordered by priority, then id
	models []core.ModelDescriptor
	byID   map[string]core.ModelDescriptor
	// largest context window, used when nothing fits
	largest core.ModelDescriptor
}

// New creates a router over models. The slice is copied.
func New(models []core.ModelDescriptor) (*Router, error) {
	if len(models) == 0 {
		return nil, ErrEmptyCatalog
	}

	r := &Router{
		models: make([]core.ModelDescriptor, len(models)),
		byID:   make(map[string]core.ModelDescriptor, len(models)),
	}
	copy(r.models, models)

	for _, m := range r.models {
		if m.ID == "" || m.ID == core.AutoModel {
			return nil, fmt.Errorf("invalid model id %q", m.ID)
		}
		if m.ContextLength <= 0 {
			return nil, fmt.Errorf("model %s: context length must be positive", m.ID)
		}
		if _, dup := r.byID[m.ID]; dup {
			return nil, fmt.Errorf("duplicate model id %q", m.ID)
		}
		r.byID[m.ID] = m
	}

	sort.SliceStable(r.models, func(i, j int) bool {
		if r.models[i].Priority != r.models[j].Priority {
			return r.models[i].Priority < r.models[j].Priority
		}
		return r.models[i].ID < r.models[j].ID
	})

	r.largest = r.models[0]
	for _, m := range r.models[1:] {
		if m.ContextLength > r.largest.ContextLength {
			r.largest = m
		}
	}

	return r, nil
}

// Resolve picks the model for a request.
//
// An exact catalog id always wins, whatever the prompt size. "auto" picks the
// lowest-priority model whose context window holds estimatedTokens, or the
// largest window with a warning when none does. Anything else is an unknown
// model error.
func (r *Router) Resolve(requested string, estimatedTokens int) (Resolution, error) {
	if m, ok := r.byID[requested]; ok {
		return Resolution{Model: m}, nil
	}
	if requested != core.AutoModel {
		return Resolution{}, core.NewUnknownModelError(requested)
	}

	for _, m := range r.models {
		if m.ContextLength >= estimatedTokens {
			return Resolution{Model: m}, nil
		}
	}

	return Resolution{
		Model: r.largest,
		Warning: &PromptTooLongWarning{
			Model:           r.largest.ID,
			ContextLength:   r.largest.ContextLength,
			EstimatedTokens: estimatedTokens,
		},
	}, nil
}

// Lookup returns the catalog entry for id.
func (r *Router) Lookup(id string) (core.ModelDescriptor, bool) {
	m, ok := r.byID[id]
	return m, ok
}

// Models returns the catalog in routing order.
func (r *Router) Models() []core.ModelDescriptor {
	out := make([]core.ModelDescriptor, len(r.models))
	copy(out, r.models)
	return out
}
