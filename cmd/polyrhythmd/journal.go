package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// ============================================================================
// Round Journal
// ============================================================================
// An append-only SQLite log of round outcomes (plays, submissions, timeouts,
// solves). It is an audit trail only; the module never reads it back.
//
// Writes are queued and performed by Run so the daemon loop never waits on disk.
// ============================================================================

// JournalKind names what happened in a journal entry.
type JournalKind string

const (
	JournalPlay        JournalKind = "play"
	JournalSubmit      JournalKind = "submit"
	JournalTimeout     JournalKind = "timeout"
	JournalSolve       JournalKind = "solve"
	JournalForcedSolve JournalKind = "forced_solve"
)

// JournalEntry is what the module reports about a transition.
type JournalEntry struct {
	Kind     JournalKind `json:"kind"`
	ModuleID int         `json:"module_id"`
	Round    int         `json:"round"`
	Stage    int         `json:"stage"`
	First    int         `json:"first"`
	Second   int         `json:"second"`
	Encoding Encoding    `json:"encoding"`
	Capture  Capture     `json:"capture"`
	Correct  int         `json:"correct"`
	Strikes  int         `json:"strikes"`
	Clock    float64     `json:"clock"`
}

// JournalRecord is a persisted JournalEntry.
type JournalRecord struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	RecordedAt time.Time `json:"recorded_at"`
	JournalEntry
}

const journalQueueSize = 256

// Journal persists entries to SQLite.
type Journal struct {
	db        *sql.DB
	sessionID string
	queue     chan JournalRecord
	logger    *slog.Logger
}

// OpenJournal opens (or creates) the journal database at path.
func OpenJournal(path string, logger *slog.Logger) (*Journal, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create journal directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite database: %w", err)
	}
	if err := createJournalSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("create journal schema: %w", err)
	}

	return &Journal{
		db:        db,
		sessionID: uuid.NewString(),
		queue:     make(chan JournalRecord, journalQueueSize),
		logger:    logger,
	}, nil
}

func createJournalSchema(db *sql.DB) error {
	schemas := []string{
		`CREATE TABLE IF NOT EXISTS rounds (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			recorded_at DATETIME NOT NULL,
			kind TEXT NOT NULL,
			module_id INTEGER NOT NULL,
			round INTEGER NOT NULL,
			stage INTEGER NOT NULL,
			first INTEGER NOT NULL,
			second INTEGER NOT NULL,
			encoding_first INTEGER NOT NULL,
			encoding_second INTEGER NOT NULL,
			capture_first INTEGER NOT NULL,
			capture_second INTEGER NOT NULL,
			correct INTEGER NOT NULL,
			strikes INTEGER NOT NULL,
			clock REAL NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_rounds_session_id ON rounds(session_id);`,
		`CREATE INDEX IF NOT EXISTS idx_rounds_recorded_at ON rounds(recorded_at);`,
	}

	for _, query := range schemas {
		if _, err := db.Exec(query); err != nil {
			return err
		}
	}
	return nil
}

func (j *Journal) SessionID() string { return j.sessionID }

// Record queues an entry. It never blocks; entries are dropped when the queue is full.
func (j *Journal) Record(entry JournalEntry) {
	rec := JournalRecord{
		ID:           uuid.NewString(),
		SessionID:    j.sessionID,
		RecordedAt:   time.Now().UTC(),
		JournalEntry: entry,
	}
	select {
	case j.queue <- rec:
	default:
		j.logger.Warn("journal queue full, dropping entry", "kind", entry.Kind, "module_id", entry.ModuleID)
	}
}

// Run writes queued entries until ctx is canceled, then drains what is left.
func (j *Journal) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case rec := <-j.queue:
					j.write(context.Background(), rec)
				default:
					return nil
				}
			}
		case rec := <-j.queue:
			// Writes outlive ctx so a shutdown racing a queued entry still stores it.
			j.write(context.WithoutCancel(ctx), rec)
		}
	}
}

func (j *Journal) write(ctx context.Context, rec JournalRecord) {
	if err := j.Append(ctx, rec); err != nil {
		j.logger.Error("journal write failed", "error", err, "kind", rec.Kind)
	}
}

// Append inserts one record synchronously.
func (j *Journal) Append(ctx context.Context, rec JournalRecord) error {
	query := `
		INSERT INTO rounds (id, session_id, recorded_at, kind, module_id, round, stage, first, second,
			encoding_first, encoding_second, capture_first, capture_second, correct, strikes, clock)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := j.db.ExecContext(ctx, query,
		rec.ID, rec.SessionID, rec.RecordedAt, string(rec.Kind), rec.ModuleID, rec.Round, rec.Stage,
		rec.First, rec.Second, rec.Encoding[0], rec.Encoding[1], rec.Capture[0], rec.Capture[1],
		rec.Correct, rec.Strikes, rec.Clock,
	)
	if err != nil {
		return fmt.Errorf("append journal record: %w", err)
	}
	return nil
}

// Recent returns up to limit records, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]JournalRecord, error) {
	query := `SELECT id, session_id, recorded_at, kind, module_id, round, stage, first, second,
		encoding_first, encoding_second, capture_first, capture_second, correct, strikes, clock
		FROM rounds ORDER BY recorded_at DESC, rowid DESC LIMIT ?`
	rows, err := j.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	var records []JournalRecord
	for rows.Next() {
		var r JournalRecord
		var kind string
		err := rows.Scan(
			&r.ID, &r.SessionID, &r.RecordedAt, &kind, &r.ModuleID, &r.Round, &r.Stage,
			&r.First, &r.Second, &r.Encoding[0], &r.Encoding[1], &r.Capture[0], &r.Capture[1],
			&r.Correct, &r.Strikes, &r.Clock,
		)
		if err != nil {
			return nil, fmt.Errorf("scan journal row: %w", err)
		}
		r.Kind = JournalKind(kind)
		records = append(records, r)
	}
	return records, rows.Err()
}

func (j *Journal) Close() error {
	return j.db.Close()
}
