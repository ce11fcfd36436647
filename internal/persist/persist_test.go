package persist

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/solivox/solivox/internal/dialog"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func orderRecord(t *testing.T, inputs map[string]string) *dialog.Record {
	t.Helper()
	r := dialog.NewRecord([]dialog.FieldSpec{
		{ID: "drink_type", Required: true, Lowercase: true},
		{ID: "size", Required: true, Lowercase: true},
		{ID: "milk", Required: true, Lowercase: true},
		{ID: "extras", Required: true, List: true, NegativeSentinel: true, Lowercase: true},
		{ID: "name", Required: true},
	})
	for id, raw := range inputs {
		if _, err := dialog.Apply(r, id, raw); err != nil {
			t.Fatalf("Apply(%q): %v", id, err)
		}
	}
	return r
}

func TestOrderSinkWritesWireFormat(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "order.json")
	sink := NewOrderSink(path)

	rec := orderRecord(t, map[string]string{
		"drink_type": "latte",
		"size":       "medium",
		"milk":       "oat",
		"extras":     "no",
		"name":       "Alex",
	})

	res, err := sink.Commit(context.Background(), rec)
	if err != nil {
		t.Fatal(err)
	}
	if res.Location != path {
		t.Fatalf("Location = %q, want %q", res.Location, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}

	for key, want := range map[string]string{
		"drinkType": "latte", "size": "medium", "milk": "oat", "name": "Alex",
	} {
		if got[key] != want {
			t.Errorf("%s = %v, want %q", key, got[key], want)
		}
	}
	extras, ok := got["extras"].([]any)
	if !ok {
		t.Fatalf("extras = %v (%T), want JSON array", got["extras"], got["extras"])
	}
	if len(extras) != 0 {
		t.Fatalf("extras = %v, want empty", extras)
	}
}

func TestOrderSinkNullForUnsetScalars(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "order.json")
	sink := NewOrderSink(path)

	// Only the drink collected; every other scalar must serialise as null
	// and extras as [].
	rec := orderRecord(t, map[string]string{"drink_type": "mocha"})

	if _, err := sink.Commit(context.Background(), rec); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	text := string(data)
	for _, want := range []string{`"size": null`, `"milk": null`, `"name": null`, `"extras": []`} {
		if !strings.Contains(text, want) {
			t.Errorf("order file missing %s:\n%s", want, text)
		}
	}
}

func TestOrderSinkReplacesAtomically(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "order.json")
	sink := NewOrderSink(path)

	first := orderRecord(t, map[string]string{
		"drink_type": "latte", "size": "small", "milk": "whole", "extras": "no", "name": "A",
	})
	second := orderRecord(t, map[string]string{
		"drink_type": "mocha", "size": "large", "milk": "oat", "extras": "no", "name": "B",
	})

	for _, rec := range []*dialog.Record{first, second} {
		if _, err := sink.Commit(context.Background(), rec); err != nil {
			t.Fatal(err)
		}
	}

	var got Order
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	if got.DrinkType == nil || *got.DrinkType != "mocha" {
		t.Fatalf("drinkType = %v, want mocha", got.DrinkType)
	}

	// No temp files left behind.
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("dir has %d entries, want only order.json", len(entries))
	}
}

func leadRecord(t *testing.T, inputs map[string]string) *dialog.Record {
	t.Helper()
	specs := []dialog.FieldSpec{
		{ID: "name", Required: true},
		{ID: "company", Required: true},
		{ID: "email", Required: true, Lowercase: true},
		{ID: "role", Required: true},
		{ID: "use_case", Required: true},
		{ID: "team_size", Required: true},
		{ID: "timeline", Required: true},
		{ID: "booked_demo", Required: false},
	}
	r := dialog.NewRecord(specs)
	for id, raw := range inputs {
		if _, err := dialog.Apply(r, id, raw); err != nil {
			t.Fatalf("Apply(%q): %v", id, err)
		}
	}
	return r
}

func TestLeadSinkAppendsAndDrafts(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	logPath := filepath.Join(dir, "leads.jsonl")
	draftDir := filepath.Join(dir, "drafts")

	fixed := time.Date(2026, 8, 29, 10, 30, 0, 0, time.UTC)
	sink := NewLeadSink(logPath, draftDir, discardLogger(), WithClock(func() time.Time { return fixed }))

	rec := leadRecord(t, map[string]string{
		"name": "Dana", "company": "Acme", "email": "dana@acme.test",
		"role": "CTO", "use_case": "support automation", "team_size": "12",
		"timeline": "this quarter",
	})

	res, err := sink.Commit(context.Background(), rec)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Artifacts) != 1 {
		t.Fatalf("artifacts = %v, want one draft", res.Artifacts)
	}

	leads, err := ReadLeadLog(logPath)
	if err != nil {
		t.Fatal(err)
	}
	if len(leads) != 1 {
		t.Fatalf("log has %d entries, want 1", len(leads))
	}
	got := leads[0]
	if got.Timestamp != "2026-08-29T10:30:00Z" {
		t.Errorf("timestamp = %q", got.Timestamp)
	}
	if got.BookedDemo != NotBooked {
		t.Errorf("booked_demo = %q, want %q", got.BookedDemo, NotBooked)
	}

	draftData, err := os.ReadFile(res.Artifacts[0])
	if err != nil {
		t.Fatal(err)
	}
	var draft EmailDraft
	if err := json.Unmarshal(draftData, &draft); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(draft.Body, "Dana") {
		t.Errorf("draft body does not address the lead:\n%s", draft.Body)
	}
	if draft.Subject == "" {
		t.Error("draft subject is empty")
	}
}

func TestLeadSinkAppendOnly(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	logPath := filepath.Join(dir, "leads.jsonl")
	sink := NewLeadSink(logPath, filepath.Join(dir, "drafts"), discardLogger())

	for _, name := range []string{"One", "Two", "Three"} {
		rec := leadRecord(t, map[string]string{
			"name": name, "company": "C", "email": name + "@c.test",
			"role": "r", "use_case": "u", "team_size": "1", "timeline": "t",
		})
		if _, err := sink.Commit(context.Background(), rec); err != nil {
			t.Fatal(err)
		}
	}

	leads, err := ReadLeadLog(logPath)
	if err != nil {
		t.Fatal(err)
	}
	if len(leads) != 3 {
		t.Fatalf("log has %d entries, want 3", len(leads))
	}
	for i, want := range []string{"One", "Two", "Three"} {
		if leads[i].Name != want {
			t.Errorf("entry %d name = %q, want %q", i, leads[i].Name, want)
		}
	}
}

func TestLeadSinkSerialisesConcurrentWrites(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	logPath := filepath.Join(dir, "leads.jsonl")

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		// Separate sinks sharing one path, as separate sessions would.
		sink := NewLeadSink(logPath, filepath.Join(dir, "drafts"), discardLogger())
		rec := leadRecord(t, map[string]string{
			"name": "P", "company": "C", "email": "p@c.test",
			"role": "r", "use_case": "u", "team_size": "1", "timeline": "t",
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := sink.Commit(context.Background(), rec); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	leads, err := ReadLeadLog(logPath)
	if err != nil {
		t.Fatal(err)
	}
	if len(leads) != n {
		t.Fatalf("log has %d entries, want %d (interleaved writes corrupted lines)", len(leads), n)
	}
}

func TestComposeDraftDeterministic(t *testing.T) {
	t.Parallel()

	lead := Lead{
		Timestamp: "2026-08-29T10:30:00Z",
		Name:      "Dana", Company: "Acme", Email: "dana@acme.test",
		UseCase: "support automation", BookedDemo: "Tuesday 10:00",
	}
	a := ComposeDraft(lead)
	b := ComposeDraft(lead)
	if a != b {
		t.Fatal("ComposeDraft is not deterministic")
	}
	if !strings.Contains(a.Body, "Tuesday 10:00") {
		t.Errorf("booked draft does not confirm the slot:\n%s", a.Body)
	}
}

// fakeLeadDB implements DB in memory: Exec records inserts and Query serves
// ByEmail from the recorded rows.
type fakeLeadDB struct {
	mu    sync.Mutex
	leads []Lead
}

func (db *fakeLeadDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if strings.Contains(sql, "INSERT INTO leads") {
		db.leads = append(db.leads, Lead{
			Timestamp:  args[0].(time.Time).UTC().Format(time.RFC3339),
			Name:       args[1].(string),
			Company:    args[2].(string),
			Email:      args[3].(string),
			Role:       args[4].(string),
			UseCase:    args[5].(string),
			TeamSize:   args[6].(string),
			Timeline:   args[7].(string),
			BookedDemo: args[8].(string),
		})
	}
	return pgconn.CommandTag{}, nil
}

func (db *fakeLeadDB) Query(_ context.Context, _ string, args ...any) (pgx.Rows, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	email, _ := args[0].(string)
	var matched []Lead
	for _, l := range db.leads {
		if l.Email == email {
			matched = append(matched, l)
		}
	}
	return &fakeLeadRows{leads: matched}, nil
}

func (db *fakeLeadDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	rows, _ := db.Query(ctx, sql, args...)
	return rows.(*fakeLeadRows)
}

func (db *fakeLeadDB) count() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return len(db.leads)
}

type fakeLeadRows struct {
	leads []Lead
	idx   int
}

var _ pgx.Rows = (*fakeLeadRows)(nil)

func (r *fakeLeadRows) Next() bool {
	if r.idx >= len(r.leads) {
		return false
	}
	r.idx++
	return true
}

func (r *fakeLeadRows) Scan(dest ...any) error {
	l := r.leads[r.idx-1]
	capturedAt, err := time.Parse(time.RFC3339, l.Timestamp)
	if err != nil {
		return err
	}
	*dest[0].(*time.Time) = capturedAt
	for i, s := range []string{l.Name, l.Company, l.Email, l.Role, l.UseCase, l.TeamSize, l.Timeline, l.BookedDemo} {
		*dest[i+1].(*string) = s
	}
	return nil
}

func (r *fakeLeadRows) Close()                                       {}
func (r *fakeLeadRows) Err() error                                   { return nil }
func (r *fakeLeadRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *fakeLeadRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeLeadRows) Values() ([]any, error)                       { return nil, nil }
func (r *fakeLeadRows) RawValues() [][]byte                          { return nil }
func (r *fakeLeadRows) Conn() *pgx.Conn                              { return nil }

func TestLeadStoreInsertAndByEmail(t *testing.T) {
	t.Parallel()

	db := &fakeLeadDB{}
	store := NewLeadStore(db)
	ctx := context.Background()

	for _, l := range []Lead{
		{Timestamp: "2026-08-01T10:00:00Z", Name: "Sam", Company: "Acme", Email: "sam@acme.test", BookedDemo: NotBooked},
		{Timestamp: "2026-08-20T09:00:00Z", Name: "Sam", Company: "Acme", Email: "sam@acme.test", BookedDemo: "Tuesday at 10am"},
		{Timestamp: "2026-08-21T09:00:00Z", Name: "Kim", Company: "Other", Email: "kim@other.test", BookedDemo: NotBooked},
	} {
		if err := store.Insert(ctx, l); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	leads, err := store.ByEmail(ctx, "sam@acme.test")
	if err != nil {
		t.Fatalf("ByEmail: %v", err)
	}
	if len(leads) != 2 {
		t.Fatalf("ByEmail returned %d leads, want 2", len(leads))
	}
	for _, l := range leads {
		if l.Name != "Sam" || l.Email != "sam@acme.test" {
			t.Errorf("lead = %+v, want Sam's captures only", l)
		}
	}

	none, err := store.ByEmail(ctx, "nobody@acme.test")
	if err != nil {
		t.Fatalf("ByEmail miss: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("ByEmail miss returned %d leads, want none", len(none))
	}
}

func TestLeadSinkMirrorsToStore(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	db := &fakeLeadDB{}
	sink := NewLeadSink(filepath.Join(dir, "leads.jsonl"), filepath.Join(dir, "drafts"),
		discardLogger(), WithLeadStore(NewLeadStore(db)))

	for range 2 {
		rec := leadRecord(t, map[string]string{
			"name": "Dana", "company": "Acme", "email": "dana@acme.test",
			"role": "CTO", "use_case": "u", "team_size": "5", "timeline": "t",
		})
		if _, err := sink.Commit(context.Background(), rec); err != nil {
			t.Fatal(err)
		}
	}

	if n := db.count(); n != 2 {
		t.Fatalf("store has %d rows, want 2", n)
	}
	prior, err := NewLeadStore(db).ByEmail(context.Background(), "dana@acme.test")
	if err != nil {
		t.Fatalf("ByEmail: %v", err)
	}
	if len(prior) != 2 {
		t.Errorf("ByEmail returned %d captures, want 2", len(prior))
	}
}
