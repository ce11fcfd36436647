package persist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// LeadSchema is the SQL DDL for the leads table. Execute it via
// [LeadStore.Migrate] or apply it manually during deployment.
const LeadSchema = `
CREATE TABLE IF NOT EXISTS leads (
    id          BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
    captured_at TIMESTAMPTZ NOT NULL,
    name        TEXT NOT NULL DEFAULT '',
    company     TEXT NOT NULL DEFAULT '',
    email       TEXT NOT NULL DEFAULT '',
    role        TEXT NOT NULL DEFAULT '',
    use_case    TEXT NOT NULL DEFAULT '',
    team_size   TEXT NOT NULL DEFAULT '',
    timeline    TEXT NOT NULL DEFAULT '',
    booked_demo TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_leads_email ON leads(email);
CREATE INDEX IF NOT EXISTS idx_leads_captured_at ON leads(captured_at);
`

// DB is the database interface used by [LeadStore]. Both *pgxpool.Pool and
// *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// LeadStore mirrors committed leads into PostgreSQL for querying and
// reporting. The JSONL log remains the durable source of truth; the store is
// an operational convenience.
type LeadStore struct {
	db DB
}

// NewLeadStore creates a LeadStore over the given connection or pool. The
// caller is responsible for calling Migrate before issuing queries.
func NewLeadStore(db DB) *LeadStore {
	return &LeadStore{db: db}
}

// Migrate executes the [LeadSchema] DDL, creating the leads table and
// indexes if they do not already exist.
func (s *LeadStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, LeadSchema); err != nil {
		return fmt.Errorf("persist: migrate leads: %w", err)
	}
	return nil
}

// Insert appends one lead row.
func (s *LeadStore) Insert(ctx context.Context, lead Lead) error {
	capturedAt, err := time.Parse(time.RFC3339, lead.Timestamp)
	if err != nil {
		capturedAt = time.Now().UTC()
	}

	const query = `
		INSERT INTO leads (
			captured_at, name, company, email, role,
			use_case, team_size, timeline, booked_demo
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`

	_, err = s.db.Exec(ctx, query,
		capturedAt, lead.Name, lead.Company, lead.Email, lead.Role,
		lead.UseCase, lead.TeamSize, lead.Timeline, lead.BookedDemo,
	)
	if err != nil {
		return fmt.Errorf("persist: insert lead: %w", err)
	}
	return nil
}

// ByEmail returns all leads captured for the given email, newest first.
// Returns (nil, nil) when none exist.
func (s *LeadStore) ByEmail(ctx context.Context, email string) ([]Lead, error) {
	const query = `
		SELECT captured_at, name, company, email, role,
		       use_case, team_size, timeline, booked_demo
		FROM leads
		WHERE email = $1
		ORDER BY captured_at DESC`

	rows, err := s.db.Query(ctx, query, email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("persist: leads by email: %w", err)
	}
	defer rows.Close()

	var leads []Lead
	for rows.Next() {
		var (
			l          Lead
			capturedAt time.Time
		)
		if err := rows.Scan(
			&capturedAt, &l.Name, &l.Company, &l.Email, &l.Role,
			&l.UseCase, &l.TeamSize, &l.Timeline, &l.BookedDemo,
		); err != nil {
			return nil, fmt.Errorf("persist: leads by email scan: %w", err)
		}
		l.Timestamp = capturedAt.UTC().Format(time.RFC3339)
		leads = append(leads, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("persist: leads by email: %w", err)
	}
	return leads, nil
}
