// Package store is the document store the coordination layer persists to.
//
// Documents are JSON values addressed by slash-separated paths scoped under a session
// (sessions/{sid}/polls/{pollId}/voters/{pid}). Writes fan out to subscribers registered on
// a path prefix, locally and, when a bridge is configured, across instances through Redis.
package store

import (
	"context"
	"encoding/json"
	"time"
)

// Store is the document store contract.
type Store interface {
	// Get decodes the document at path into dst. Missing documents return apperr.ErrNotFound.
	Get(ctx context.Context, path string, dst interface{}) error
	// Set replaces the document at path.
	Set(ctx context.Context, path string, v interface{}) error
	// Update merges top-level fields into the document, creating it if absent.
	Update(ctx context.Context, path string, fields map[string]interface{}) error
	// Increment adds delta to a numeric top-level field, creating document and field if absent.
	Increment(ctx context.Context, path, field string, delta int64) error
	// Delete removes the document and every document below it.
	Delete(ctx context.Context, path string) error
	// List returns the direct children of a collection path ordered by path.
	List(ctx context.Context, collection string) ([]Document, error)
	// Subscribe registers fn for changes at or below prefix. The returned func cancels it.
	// fn runs on the writer's goroutine and must not block.
	Subscribe(prefix string, fn func(Change)) (cancel func())
}

// Document is one stored document.
type Document struct {
	Path      string          `json:"path"`
	Data      json.RawMessage `json:"data"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// ID returns the last path segment.
func (d Document) ID() string { return Base(d.Path) }

// Decode unmarshals the document body into dst.
func (d Document) Decode(dst interface{}) error {
	return json.Unmarshal(d.Data, dst)
}

// ChangeKind tells whether a document was written or removed.
type ChangeKind string

const (
	ChangeSet    ChangeKind = "set"
	ChangeDelete ChangeKind = "delete"
)

// Change is a write notification delivered to subscribers.
type Change struct {
	Path   string          `json:"path"`
	Kind   ChangeKind      `json:"kind"`
	Data   json.RawMessage `json:"data,omitempty"`
	Origin string          `json:"origin"`
	At     int64           `json:"at"`
}
