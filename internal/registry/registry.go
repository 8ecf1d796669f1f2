package registry

import (
	"sort"
	"sync/atomic"
	"time"
)

// DefaultModels are the Gemini models served through Code Assist.
var DefaultModels = []string{
	"gemini-2.5-pro",
	"gemini-2.5-flash",
	"gemini-2.0-flash",
	"gemini-2.0-flash-lite",
}

// Model is one entry in the OpenAI-shaped model listing.
type Model struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

// ModelList is the GET /v1/models response body.
type ModelList struct {
	Object string  `json:"object"`
	Data   []Model `json:"data"`
}

// Registry is the model allowlist plus an in-memory per-model request
// counter. The model set is fixed at construction, so counters are plain
// atomics with no locking.
type Registry struct {
	created int64
	order   []string
	counts  map[string]*atomic.Int64
}

// New builds a Registry for the given model ids, or DefaultModels when none
// are given.
func New(ids ...string) *Registry {
	if len(ids) == 0 {
		ids = DefaultModels
	}
	r := &Registry{
		created: time.Now().Unix(),
		counts:  make(map[string]*atomic.Int64, len(ids)),
	}
	for _, id := range ids {
		if _, dup := r.counts[id]; dup {
			continue
		}
		r.order = append(r.order, id)
		r.counts[id] = &atomic.Int64{}
	}
	sort.Strings(r.order)
	return r
}

// Known reports whether the model is on the allowlist.
func (r *Registry) Known(id string) bool {
	_, ok := r.counts[id]
	return ok
}

// List returns the allowlist in OpenAI model-listing shape.
func (r *Registry) List() ModelList {
	out := ModelList{Object: "list", Data: make([]Model, 0, len(r.order))}
	for _, id := range r.order {
		out.Data = append(out.Data, Model{
			ID:      id,
			Object:  "model",
			Created: r.created,
			OwnedBy: "google",
		})
	}
	return out
}

// Record bumps the request counter for a known model.
func (r *Registry) Record(id string) {
	if c, ok := r.counts[id]; ok {
		c.Add(1)
	}
}

// Usage snapshots the per-model request counts.
func (r *Registry) Usage() map[string]int64 {
	out := make(map[string]int64, len(r.order))
	for _, id := range r.order {
		out[id] = r.counts[id].Load()
	}
	return out
}
