// Package history implements the append-only, backward-looking outcome log
// described in SPEC_FULL.md §4.8: a record of terminal Task outcomes for
// operator reporting that the engine never reads back to resume a Session.
// The schema and ensure-on-connect idiom are grounded in the teacher's
// internal/repo/postgres.go, stripped of every read path that repo supports
// (List/Get/Update) since history rows are written once and never mutated.
package history

import (
	"context"
	"database/sql"
	"net"
	"net/url"
	"os"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/tthsd/tthsd/internal/fp"
)

// Outcome is one terminal Task's summary, recorded once per Task per Session.
type Outcome struct {
	SessionID  int32
	TaskID     string
	URL        string
	SavePath   string
	Status     string // "done" | "failed"
	TotalBytes int64
	Downloaded int64
	Retries    int
	StartedAt  time.Time
	FinishedAt time.Time
}

// Recorder appends terminal outcomes. Implementations must be safe for
// concurrent use; Record is called from each Session's finish() goroutine.
type Recorder interface {
	Record(o Outcome)
}

// InMemory is the default Recorder: a bounded ring kept only for the
// process lifetime, with zero configuration required.
type InMemory struct {
	mu   sync.Mutex
	cap  int
	ring []Outcome
}

// NewInMemory builds an InMemory recorder holding at most capacity rows,
// oldest dropped first once full.
func NewInMemory(capacity int) *InMemory {
	if capacity <= 0 {
		capacity = 10_000
	}
	return &InMemory{cap: capacity}
}

func (m *InMemory) Record(o Outcome) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ring = append(m.ring, o)
	if len(m.ring) > m.cap {
		m.ring = m.ring[len(m.ring)-m.cap:]
	}
}

// Snapshot returns a copy of every outcome currently retained, oldest first.
func (m *InMemory) Snapshot() []Outcome {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Outcome, len(m.ring))
	copy(out, m.ring)
	return out
}

// Postgres is the opt-in, durable Recorder (TTHSD_HISTORY_DSN). Rows are
// insert-only; fingerprint carries a unique index so re-ingesting the same
// terminal event (e.g. a caller retrying a stop/record race) is idempotent.
type Postgres struct {
	db *sql.DB
}

// NewPostgres opens dsn, verifies connectivity, and ensures the history
// table exists.
func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	p := &Postgres{db: db}
	if err := p.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return p, nil
}

// NewPostgresFromEnv builds a DSN from component env vars the same way the
// teacher's repo package does for its own Postgres backing.
func NewPostgresFromEnv() (*Postgres, error) {
	host := getenv("TTHSD_HISTORY_PG_HOST", "postgres")
	port := getenv("TTHSD_HISTORY_PG_PORT", "5432")
	dbname := getenv("TTHSD_HISTORY_PG_DB", "tthsd")
	user := getenv("TTHSD_HISTORY_PG_USER", "tthsd")
	pass := getenv("TTHSD_HISTORY_PG_PASSWORD", "")
	ssl := getenv("TTHSD_HISTORY_PG_SSLMODE", "disable")

	u := &url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(user, pass),
		Host:   net.JoinHostPort(host, port),
		Path:   "/" + dbname,
	}
	q := url.Values{}
	q.Set("sslmode", ssl)
	u.RawQuery = q.Encode()
	return NewPostgres(u.String())
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func (p *Postgres) Close() error { return p.db.Close() }

func (p *Postgres) ensureSchema(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS download_history (
	session_id BIGINT NOT NULL,
	task_id TEXT NOT NULL,
	url TEXT NOT NULL,
	save_path TEXT NOT NULL,
	status TEXT NOT NULL,
	total_bytes BIGINT NOT NULL,
	downloaded_bytes BIGINT NOT NULL,
	retry_count INT NOT NULL,
	started_at TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ NOT NULL,
	fingerprint TEXT NOT NULL UNIQUE
);
`)
	return err
}

// Record inserts o, ignoring the row (rather than erroring) if its
// fingerprint has already been recorded.
func (p *Postgres) Record(o Outcome) {
	fingerprint := fp.OutcomeFingerprint(o.TaskID, o.URL, o.SavePath)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _ = p.db.ExecContext(ctx, `
INSERT INTO download_history
	(session_id, task_id, url, save_path, status, total_bytes, downloaded_bytes, retry_count, started_at, finished_at, fingerprint)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
ON CONFLICT (fingerprint) DO NOTHING
`, o.SessionID, o.TaskID, o.URL, o.SavePath, o.Status, o.TotalBytes, o.Downloaded, o.Retries, o.StartedAt, o.FinishedAt, fingerprint)
}
