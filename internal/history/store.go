package history

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
)

// Entry is one recorded delivery outcome.
type Entry struct {
	ID        uint      `db:"id"`
	CreatedAt time.Time `db:"created_at"`

	Identity       string    `db:"identity"`
	Name           string    `db:"name"`
	OccurrenceDate string    `db:"occurrence_date"` // MM-DD
	ChatID         int64     `db:"chat_id"`
	Status         string    `db:"status"`
	IsBelated      bool      `db:"is_belated"`
	DaysLate       int       `db:"days_late"`
	Attempts       int       `db:"attempts"`
	Error          string    `db:"error"`
	RecordedAt     time.Time `db:"recorded_at"`
}

// Store defines the interface for outcome persistence.
type Store interface {
	// Ping checks the database connection.
	Ping(ctx context.Context) error

	// SaveEntry inserts a new outcome record.
	SaveEntry(ctx context.Context, entry *Entry) error

	// EntriesForOccurrence retrieves every recorded outcome for one
	// occurrence, oldest first.
	EntriesForOccurrence(ctx context.Context, date, identity string) ([]Entry, error)

	// RecentEntries retrieves the most recent 'limit' outcomes across all
	// recipients, newest first.
	RecentEntries(ctx context.Context, limit int) ([]Entry, error)

	// PurgeBefore deletes outcomes recorded before the cutoff and returns
	// the number of deleted rows.
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type sqlxStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStore creates a Store implementation backed by sqlx.
func NewStore(db *sqlx.DB, logger *slog.Logger) Store {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &sqlxStore{
		db:     db,
		logger: logger.With("component", "history"),
	}
}

func (s *sqlxStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *sqlxStore) SaveEntry(ctx context.Context, entry *Entry) error {
	if entry == nil {
		return fmt.Errorf("cannot save nil entry")
	}
	if entry.Identity == "" {
		return fmt.Errorf("entry must have a non-empty identity")
	}
	if entry.OccurrenceDate == "" {
		return fmt.Errorf("entry must have a non-empty occurrence date")
	}
	if entry.Status == "" {
		return fmt.Errorf("entry must have a non-empty status")
	}
	if entry.RecordedAt.IsZero() {
		entry.RecordedAt = time.Now().UTC()
	}
	entry.CreatedAt = time.Now().UTC()

	query := `INSERT INTO delivery_outcomes
		(created_at, identity, name, occurrence_date, chat_id, status, is_belated, days_late, attempts, error, recorded_at)
		VALUES (:created_at, :identity, :name, :occurrence_date, :chat_id, :status, :is_belated, :days_late, :attempts, :error, :recorded_at)`

	if _, err := s.db.NamedExecContext(ctx, query, entry); err != nil {
		s.logger.ErrorContext(ctx, "Failed to save delivery outcome",
			"identity", entry.Identity, "date", entry.OccurrenceDate, "error", err)
		return fmt.Errorf("failed to save delivery outcome: %w", err)
	}
	return nil
}

func (s *sqlxStore) EntriesForOccurrence(ctx context.Context, date, identity string) ([]Entry, error) {
	var entries []Entry
	query := `SELECT * FROM delivery_outcomes
		WHERE occurrence_date = ? AND identity = ?
		ORDER BY recorded_at ASC, id ASC`

	if err := s.db.SelectContext(ctx, &entries, query, date, identity); err != nil {
		return nil, fmt.Errorf("failed to query outcomes for %s/%s: %w", date, identity, err)
	}
	return entries, nil
}

func (s *sqlxStore) RecentEntries(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}

	var entries []Entry
	query := `SELECT * FROM delivery_outcomes
		ORDER BY recorded_at DESC, id DESC
		LIMIT ?`

	if err := s.db.SelectContext(ctx, &entries, query, limit); err != nil {
		return nil, fmt.Errorf("failed to query recent outcomes: %w", err)
	}
	return entries, nil
}

func (s *sqlxStore) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM delivery_outcomes WHERE recorded_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge old outcomes: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count purged outcomes: %w", err)
	}
	if deleted > 0 {
		s.logger.InfoContext(ctx, "Purged old delivery outcomes", "deleted", deleted, "cutoff", cutoff)
	}
	return deleted, nil
}
