package persist

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/solivox/solivox/internal/dialog"
)

// NotBooked is the placeholder written for leads that never booked a demo.
const NotBooked = "Not booked"

// Lead is the on-disk shape of one lead log entry. Every field is present in
// every entry; booked_demo carries the NotBooked placeholder when unset.
type Lead struct {
	Timestamp  string `json:"timestamp"`
	Name       string `json:"name"`
	Company    string `json:"company"`
	Email      string `json:"email"`
	Role       string `json:"role"`
	UseCase    string `json:"use_case"`
	TeamSize   string `json:"team_size"`
	Timeline   string `json:"timeline"`
	BookedDemo string `json:"booked_demo"`
}

// LeadFromRecord maps the slot-filling record onto the lead wire shape,
// stamping it with now in ISO-8601.
func LeadFromRecord(rec *dialog.Record, now time.Time) Lead {
	booked := textValue(rec, "booked_demo")
	if booked == "" {
		booked = NotBooked
	}
	return Lead{
		Timestamp:  now.UTC().Format(time.RFC3339),
		Name:       textValue(rec, "name"),
		Company:    textValue(rec, "company"),
		Email:      textValue(rec, "email"),
		Role:       textValue(rec, "role"),
		UseCase:    textValue(rec, "use_case"),
		TeamSize:   textValue(rec, "team_size"),
		Timeline:   textValue(rec, "timeline"),
		BookedDemo: booked,
	}
}

// LeadSink appends committed leads to a JSON-lines log, writes a follow-up
// email draft, and optionally mirrors the lead to Postgres. Thread-safe;
// writes to the same log path are serialised process-wide.
type LeadSink struct {
	logPath  string
	draftDir string
	store    *LeadStore // optional Postgres mirror
	logger   *slog.Logger
	now      func() time.Time
}

var _ Sink = (*LeadSink)(nil)

// LeadSinkOption is a functional option for configuring a LeadSink.
type LeadSinkOption func(*LeadSink)

// WithLeadStore mirrors every committed lead to the given Postgres store.
// Mirror failures are logged and do not fail the commit; the JSONL log is
// the durable source of truth.
func WithLeadStore(store *LeadStore) LeadSinkOption {
	return func(s *LeadSink) { s.store = store }
}

// WithClock overrides the timestamp source. Used by tests.
func WithClock(now func() time.Time) LeadSinkOption {
	return func(s *LeadSink) { s.now = now }
}

// NewLeadSink creates a sink appending to logPath and writing drafts under
// draftDir.
func NewLeadSink(logPath, draftDir string, logger *slog.Logger, opts ...LeadSinkOption) *LeadSink {
	s := &LeadSink{
		logPath:  logPath,
		draftDir: draftDir,
		logger:   logger,
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Commit appends one self-contained timestamped entry to the lead log and
// writes the derived email draft. Prior entries are never rewritten.
func (s *LeadSink) Commit(ctx context.Context, rec *dialog.Record) (CommitResult, error) {
	if err := ctx.Err(); err != nil {
		return CommitResult{}, fmt.Errorf("persist: lead commit: %w", err)
	}

	lead := LeadFromRecord(rec, s.now())
	if err := s.appendLog(lead); err != nil {
		return CommitResult{}, err
	}

	result := CommitResult{Location: s.logPath}

	draftPath, err := WriteDraft(s.draftDir, lead)
	if err != nil {
		// The log entry is durable; a failed draft is reported but does not
		// invalidate the commit.
		s.logger.Error("lead email draft failed", "error", err, "email", lead.Email)
	} else {
		result.Artifacts = append(result.Artifacts, draftPath)
	}

	if s.store != nil {
		if prior, err := s.store.ByEmail(ctx, lead.Email); err != nil {
			s.logger.Warn("lead lookup failed", "error", err, "email", lead.Email)
		} else if len(prior) > 0 {
			s.logger.Info("returning lead", "email", lead.Email, "prior_captures", len(prior))
		}
		if err := s.store.Insert(ctx, lead); err != nil {
			s.logger.Error("lead postgres mirror failed", "error", err, "email", lead.Email)
		}
	}

	return result, nil
}

// appendLog appends the lead as one JSON line, serialising writers per path.
func (s *LeadSink) appendLog(lead Lead) error {
	data, err := json.Marshal(lead)
	if err != nil {
		return fmt.Errorf("persist: marshal lead: %w", err)
	}
	data = append(data, '\n')

	mu := lockForPath(s.logPath)
	mu.Lock()
	defer mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.logPath), 0o755); err != nil {
		return fmt.Errorf("persist: create lead log dir: %w", err)
	}

	f, err := os.OpenFile(s.logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("persist: open lead log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("persist: append lead log: %w", err)
	}
	return nil
}

// ReadLeadLog reads every entry from a lead log file. Used by tests and by
// operator tooling; the hot path never reads the log back.
func ReadLeadLog(path string) ([]Lead, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("persist: read lead log: %w", err)
	}

	var leads []Lead
	dec := json.NewDecoder(bytes.NewReader(data))
	for dec.More() {
		var l Lead
		if err := dec.Decode(&l); err != nil {
			return nil, fmt.Errorf("persist: parse lead log: %w", err)
		}
		leads = append(leads, l)
	}
	return leads, nil
}
