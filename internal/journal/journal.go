// Package journal keeps a local history of applied decisions in SQLite.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/sweeney/relay-agent/internal/relay"
)

// DefaultLimit is the number of entries Recent returns for limit <= 0.
const DefaultLimit = 20

// tsLayout is fixed width so timestamps sort as text.
const tsLayout = "2006-01-02T15:04:05.000000000Z"

const schema = `
CREATE TABLE IF NOT EXISTS decisions (
  id         TEXT    PRIMARY KEY,
  ts         TEXT    NOT NULL,
  source     TEXT    NOT NULL,
  band       TEXT,
  battery    REAL,
  on_count   INTEGER NOT NULL,
  relays     TEXT    NOT NULL,
  failed     TEXT,
  rationale  TEXT
);
CREATE INDEX IF NOT EXISTS idx_decisions_ts ON decisions(ts);
`

// Entry is one applied decision or operator toggle.
type Entry struct {
	ID        string            `json:"id"`
	Timestamp time.Time         `json:"timestamp"`
	Trigger   string            `json:"trigger"`
	Band      string            `json:"band,omitempty"`
	Battery   *float64          `json:"battery,omitempty"`
	OnCount   int               `json:"onCount"`
	Relays    map[relay.ID]bool `json:"relays"`
	Failed    []relay.ID        `json:"failed,omitempty"`
	Rationale string            `json:"rationale,omitempty"`
}

// Store persists entries.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the journal at path and applies the schema.
// ":memory:" gives a private in-memory journal.
func Open(path string) (*Store, error) {
	dsn, err := buildDSN(path)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("journal open: %w", err)
	}
	// One connection: a single writer, and ":memory:" is per connection.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal ping: %w", err)
	}
	s := New(db)
	if err := s.Migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func buildDSN(path string) (string, error) {
	if path == "" || path == ":memory:" {
		return ":memory:", nil
	}
	if strings.HasPrefix(path, "file:") {
		return path, nil
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}
	return "file:" + path + "?_busy_timeout=5000&_journal_mode=WAL", nil
}

// New wraps an open database without touching its schema.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Migrate creates the journal table if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("journal schema: %w", err)
	}
	return nil
}

// Record stores e, assigning an id and timestamp when missing.
func (s *Store) Record(ctx context.Context, e Entry) (Entry, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	e.Timestamp = e.Timestamp.UTC()

	relays, err := json.Marshal(encodeRelays(e.Relays))
	if err != nil {
		return e, fmt.Errorf("journal encode relays: %w", err)
	}
	var failed sql.NullString
	if len(e.Failed) > 0 {
		b, err := json.Marshal(e.Failed)
		if err != nil {
			return e, fmt.Errorf("journal encode failed: %w", err)
		}
		failed = sql.NullString{String: string(b), Valid: true}
	}
	var battery sql.NullFloat64
	if e.Battery != nil {
		battery = sql.NullFloat64{Float64: *e.Battery, Valid: true}
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO decisions (id, ts, source, band, battery, on_count, relays, failed, rationale)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Timestamp.Format(tsLayout), e.Trigger, e.Band, battery,
		e.OnCount, string(relays), failed, e.Rationale,
	)
	if err != nil {
		return e, fmt.Errorf("journal insert: %w", err)
	}
	return e, nil
}

// Recent returns up to limit entries, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, ts, source, band, battery, on_count, relays, failed, rationale
		 FROM decisions ORDER BY ts DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("journal query: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e         Entry
			ts        string
			band      sql.NullString
			battery   sql.NullFloat64
			relays    string
			failed    sql.NullString
			rationale sql.NullString
		)
		if err := rows.Scan(&e.ID, &ts, &e.Trigger, &band, &battery, &e.OnCount, &relays, &failed, &rationale); err != nil {
			return nil, fmt.Errorf("journal scan: %w", err)
		}
		if e.Timestamp, err = time.Parse(tsLayout, ts); err != nil {
			return nil, fmt.Errorf("journal entry %s: bad timestamp: %w", e.ID, err)
		}
		e.Band = band.String
		e.Rationale = rationale.String
		if battery.Valid {
			v := battery.Float64
			e.Battery = &v
		}
		var m map[string]bool
		if err := json.Unmarshal([]byte(relays), &m); err != nil {
			return nil, fmt.Errorf("journal entry %s: bad relays: %w", e.ID, err)
		}
		e.Relays = decodeRelays(m)
		if failed.Valid {
			if err := json.Unmarshal([]byte(failed.String), &e.Failed); err != nil {
				return nil, fmt.Errorf("journal entry %s: bad failed list: %w", e.ID, err)
			}
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("journal rows: %w", err)
	}
	return out, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func encodeRelays(m map[relay.ID]bool) map[string]bool {
	out := make(map[string]bool, len(m))
	for id, on := range m {
		out[strconv.Itoa(int(id))] = on
	}
	return out
}

func decodeRelays(m map[string]bool) map[relay.ID]bool {
	out := make(map[relay.ID]bool, len(m))
	for k, on := range m {
		id, err := relay.ParseID(k)
		if err != nil {
			continue
		}
		out[id] = on
	}
	return out
}
