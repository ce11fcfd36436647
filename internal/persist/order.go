package persist

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/solivox/solivox/internal/dialog"
)

// Order is the on-disk shape of a committed order. Unset scalar fields
// serialise as null; unset extras serialise as an empty list.
type Order struct {
	DrinkType *string  `json:"drinkType"`
	Size      *string  `json:"size"`
	Milk      *string  `json:"milk"`
	Extras    []string `json:"extras"`
	Name      *string  `json:"name"`
}

// OrderFromRecord maps the slot-filling record onto the order wire shape.
func OrderFromRecord(rec *dialog.Record) Order {
	return Order{
		DrinkType: textPtr(rec, "drink_type"),
		Size:      textPtr(rec, "size"),
		Milk:      textPtr(rec, "milk"),
		Extras:    listValue(rec, "extras"),
		Name:      textPtr(rec, "name"),
	}
}

// OrderSink writes the full current order to a fixed location, atomically
// replacing any prior content. Safe for concurrent use across sessions.
type OrderSink struct {
	path string
}

var _ Sink = (*OrderSink)(nil)

// NewOrderSink creates a sink writing to path. The parent directory is
// created on first commit.
func NewOrderSink(path string) *OrderSink {
	return &OrderSink{path: path}
}

// Commit writes the order with rename-after-write discipline: the JSON is
// written to a temporary file in the destination directory, synced, then
// renamed over the destination. An interrupted write never leaves a
// truncated file behind.
func (s *OrderSink) Commit(ctx context.Context, rec *dialog.Record) (CommitResult, error) {
	if err := ctx.Err(); err != nil {
		return CommitResult{}, fmt.Errorf("persist: order commit: %w", err)
	}

	data, err := json.MarshalIndent(OrderFromRecord(rec), "", "  ")
	if err != nil {
		return CommitResult{}, fmt.Errorf("persist: marshal order: %w", err)
	}
	data = append(data, '\n')

	mu := lockForPath(s.path)
	mu.Lock()
	defer mu.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return CommitResult{}, fmt.Errorf("persist: create order dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".order-*.json")
	if err != nil {
		return CommitResult{}, fmt.Errorf("persist: create temp order file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return CommitResult{}, fmt.Errorf("persist: write order: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return CommitResult{}, fmt.Errorf("persist: sync order: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return CommitResult{}, fmt.Errorf("persist: close order: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return CommitResult{}, fmt.Errorf("persist: replace order file: %w", err)
	}

	return CommitResult{Location: s.path}, nil
}
