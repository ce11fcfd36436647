// Package persist commits completed records durably: orders as a single
// atomically-replaced JSON file, leads as an append-only JSON-lines log plus
// a derived email draft, optionally mirrored to Postgres.
//
// Commit-once is the caller's responsibility (the session orchestrator checks
// the record's committed flag); this package guarantees durability semantics
// per destination — atomic replace for single-artifact domains, append-only
// with per-path write serialisation for log domains.
package persist

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/solivox/solivox/internal/dialog"
)

// CommitResult describes where a committed record landed.
type CommitResult struct {
	// Location is the primary destination (file path or table).
	Location string

	// Artifacts lists any derived artifact locations (e.g. an email draft).
	Artifacts []string
}

// Sink commits a completed record.
type Sink interface {
	// Commit durably persists the record. It must run to completion or
	// explicit failure; it is never cancelled mid-write by barge-in. On
	// failure the record must be retryable (no partial destination state).
	Commit(ctx context.Context, rec *dialog.Record) (CommitResult, error)
}

// pathLocks serialises writers per destination file, across all sessions and
// sinks in the process.
var pathLocks sync.Map // cleaned path -> *sync.Mutex

// lockForPath returns the process-wide mutex for the given file path.
func lockForPath(path string) *sync.Mutex {
	key := filepath.Clean(path)
	mu, _ := pathLocks.LoadOrStore(key, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// textValue returns the collected text for a field, or "" when unset.
func textValue(rec *dialog.Record, fieldID string) string {
	v, ok := rec.Value(fieldID)
	if !ok {
		return ""
	}
	return v.Text
}

// textPtr returns the collected text for a field, or nil when unset. Used
// for JSON keys whose unset representation is null.
func textPtr(rec *dialog.Record, fieldID string) *string {
	v, ok := rec.Value(fieldID)
	if !ok {
		return nil
	}
	s := v.Text
	return &s
}

// listValue returns the collected list for a field, or an empty non-nil list
// when unset so JSON marshalling produces "[]" instead of "null".
func listValue(rec *dialog.Record, fieldID string) []string {
	v, ok := rec.Value(fieldID)
	if !ok || v.List == nil {
		return []string{}
	}
	return v.List
}
