package ordertools

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/solivox/solivox/internal/dialog"
	"github.com/solivox/solivox/internal/persist"
	"github.com/solivox/solivox/internal/toolhost"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newOrderRegistry(t *testing.T, path string) (*toolhost.Registry, *dialog.Record) {
	t.Helper()
	rec := dialog.NewRecord(Fields())
	reg := toolhost.NewRegistry()
	if err := reg.RegisterAll(New(rec, persist.NewOrderSink(path), testLogger())); err != nil {
		t.Fatalf("RegisterAll: %v", err)
	}
	return reg, rec
}

func TestFullOrderFlow(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "order.json")
	reg, rec := newOrderRegistry(t, path)
	ctx := context.Background()

	answers := []struct{ field, value string }{
		{"drink_type", "latte"},
		{"size", "medium"},
		{"milk", "oat"},
		{"extras", "no"},
		{"name", "Alex"},
	}
	for _, a := range answers {
		if _, err := reg.Execute(ctx, "record_order_field", map[string]any{
			"field": a.field, "value": a.value,
		}); err != nil {
			t.Fatalf("record_order_field(%s): %v", a.field, err)
		}
	}
	if !rec.Complete() {
		t.Fatal("record should be complete after all answers")
	}

	if _, err := reg.Execute(ctx, "confirm_order", nil); err != nil {
		t.Fatalf("confirm_order: %v", err)
	}
	if !rec.Committed() {
		t.Error("record should be committed after confirm_order")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading order file: %v", err)
	}
	var order map[string]any
	if err := json.Unmarshal(data, &order); err != nil {
		t.Fatalf("unmarshal order: %v", err)
	}
	if got := order["drinkType"]; got != "latte" {
		t.Errorf("drinkType = %v, want latte", got)
	}
	if got := order["name"]; got != "Alex" {
		t.Errorf("name = %v, want Alex", got)
	}
	extras, ok := order["extras"].([]any)
	if !ok || len(extras) != 0 {
		t.Errorf("extras = %v, want empty list", order["extras"])
	}
}

func TestConfirmOrderOnlyCommitsOnce(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "order.json")
	reg, _ := newOrderRegistry(t, path)
	ctx := context.Background()

	for _, a := range []struct{ field, value string }{
		{"drink_type", "mocha"}, {"size", "large"}, {"milk", "whole"},
		{"extras", "extra shot"}, {"name", "Sam"},
	} {
		if _, err := reg.Execute(ctx, "record_order_field", map[string]any{
			"field": a.field, "value": a.value,
		}); err != nil {
			t.Fatalf("record_order_field: %v", err)
		}
	}

	if _, err := reg.Execute(ctx, "confirm_order", nil); err != nil {
		t.Fatalf("first confirm_order: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat order file: %v", err)
	}
	firstMod := info.ModTime()

	reply, err := reg.Execute(ctx, "confirm_order", nil)
	if err != nil {
		t.Fatalf("second confirm_order: %v", err)
	}
	if !strings.Contains(reply, "already") {
		t.Errorf("second confirm reply = %q, want an already-placed notice", reply)
	}
	info, err = os.Stat(path)
	if err != nil {
		t.Fatalf("stat order file: %v", err)
	}
	if !info.ModTime().Equal(firstMod) {
		t.Error("order file was rewritten by the second confirm")
	}
}

func TestConfirmOrderIncomplete(t *testing.T) {
	t.Parallel()

	reg, rec := newOrderRegistry(t, filepath.Join(t.TempDir(), "order.json"))

	reply, err := reg.Execute(context.Background(), "confirm_order", nil)
	if err != nil {
		t.Fatalf("confirm_order: %v", err)
	}
	if rec.Committed() {
		t.Error("incomplete record must not commit")
	}
	if !strings.Contains(reply, "What would you like to drink?") {
		t.Errorf("reply = %q, want re-prompt for the first open field", reply)
	}
}

func TestRepeatedFieldKeepsFirstValue(t *testing.T) {
	t.Parallel()

	reg, rec := newOrderRegistry(t, filepath.Join(t.TempDir(), "order.json"))
	ctx := context.Background()

	if _, err := reg.Execute(ctx, "record_order_field", map[string]any{
		"field": "drink_type", "value": "latte",
	}); err != nil {
		t.Fatalf("record_order_field: %v", err)
	}
	reply, err := reg.Execute(ctx, "record_order_field", map[string]any{
		"field": "drink_type", "value": "cappuccino",
	})
	if err != nil {
		t.Fatalf("repeated record_order_field: %v", err)
	}
	if !strings.Contains(reply, "already told me") {
		t.Errorf("reply = %q, want already-told-me notice", reply)
	}
	if v, _ := rec.Value("drink_type"); v.Text != "latte" {
		t.Errorf("drink_type = %q, want first value retained", v.Text)
	}
}

func TestStartNewOrderResets(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "order.json")
	reg, rec := newOrderRegistry(t, path)
	ctx := context.Background()

	for _, a := range []struct{ field, value string }{
		{"drink_type", "flat white"}, {"size", "small"}, {"milk", "oat"},
		{"extras", "nothing"}, {"name", "Kim"},
	} {
		if _, err := reg.Execute(ctx, "record_order_field", map[string]any{
			"field": a.field, "value": a.value,
		}); err != nil {
			t.Fatalf("record_order_field: %v", err)
		}
	}
	if _, err := reg.Execute(ctx, "confirm_order", nil); err != nil {
		t.Fatalf("confirm_order: %v", err)
	}

	if _, err := reg.Execute(ctx, "start_new_order", nil); err != nil {
		t.Fatalf("start_new_order: %v", err)
	}
	if rec.Committed() || rec.Complete() {
		t.Error("record should be empty and uncommitted after reset")
	}

	// The next order can commit again.
	for _, a := range []struct{ field, value string }{
		{"drink_type", "espresso"}, {"size", "small"}, {"milk", "none"},
		{"extras", "no"}, {"name", "Kim"},
	} {
		if _, err := reg.Execute(ctx, "record_order_field", map[string]any{
			"field": a.field, "value": a.value,
		}); err != nil {
			t.Fatalf("record_order_field: %v", err)
		}
	}
	if _, err := reg.Execute(ctx, "confirm_order", nil); err != nil {
		t.Fatalf("second order confirm: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading order file: %v", err)
	}
	if !strings.Contains(string(data), "espresso") {
		t.Error("order file should hold the second order")
	}
}

// flakySink fails the first commits and delegates afterwards.
type flakySink struct {
	inner    persist.Sink
	failures int
}

func (f *flakySink) Commit(ctx context.Context, rec *dialog.Record) (persist.CommitResult, error) {
	if f.failures > 0 {
		f.failures--
		return persist.CommitResult{}, errors.New("disk full")
	}
	return f.inner.Commit(ctx, rec)
}

func TestConfirmOrderRetriesAfterSinkFailure(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "order.json")
	rec := dialog.NewRecord(Fields())
	sink := &flakySink{inner: persist.NewOrderSink(path), failures: 1}
	reg := toolhost.NewRegistry()
	if err := reg.RegisterAll(New(rec, sink, testLogger())); err != nil {
		t.Fatalf("RegisterAll: %v", err)
	}
	ctx := context.Background()

	for _, a := range []struct{ field, value string }{
		{"drink_type", "latte"}, {"size", "small"}, {"milk", "oat"},
		{"extras", "no"}, {"name", "Ava"},
	} {
		if _, err := reg.Execute(ctx, "record_order_field", map[string]any{
			"field": a.field, "value": a.value,
		}); err != nil {
			t.Fatalf("record_order_field: %v", err)
		}
	}

	if _, err := reg.Execute(ctx, "confirm_order", nil); err == nil {
		t.Fatal("first confirm should surface the sink failure")
	}
	if rec.Committed() {
		t.Fatal("failed commit must leave the record uncommitted")
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("order file after failed commit: %v, want not-exist", err)
	}

	// The completed record is still there, so a retry commits cleanly.
	if _, err := reg.Execute(ctx, "confirm_order", nil); err != nil {
		t.Fatalf("retry confirm_order: %v", err)
	}
	if !rec.Committed() {
		t.Error("record should be committed after the retry")
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("order file missing after successful retry: %v", err)
	}
}

func TestSummary(t *testing.T) {
	t.Parallel()

	rec := dialog.NewRecord(Fields())
	for _, a := range []struct{ field, value string }{
		{"drink_type", "latte"}, {"size", "medium"}, {"milk", "oat"},
		{"extras", "vanilla syrup"}, {"name", "Alex"},
	} {
		if _, err := dialog.Apply(rec, a.field, a.value); err != nil {
			t.Fatalf("Apply: %v", err)
		}
	}
	got := Summary(rec)
	want := "medium oat milk latte with vanilla syrup for Alex"
	if got != want {
		t.Errorf("Summary = %q, want %q", got, want)
	}
}
