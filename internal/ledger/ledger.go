// Package ledger persists the year-scoped record of birthday greetings that
// have already been delivered. It is the component that makes delivery
// idempotent: once a (date, identity) pair is marked delivered it stays
// delivered for the rest of the calendar year, across restarts.
package ledger

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// Key identifies one occurrence of a recurring date for one recipient.
// Date is the occurrence date in MM-DD form; Identity is the stable
// recipient identifier supplied by the roster.
type Key struct {
	Date     string
	Identity string
}

// Record is the delivery state for a single occurrence key.
type Record struct {
	Sent      bool   `json:"sent"`
	SentDate  string `json:"sent_date"`
	IsBelated bool   `json:"is_belated"`
	Attempts  int    `json:"attempts"`
}

// Year holds all delivery records for one calendar year, keyed first by
// occurrence date (MM-DD) and then by recipient identity.
type Year struct {
	Year    int                           `json:"year"`
	Records map[string]map[string]Record `json:"records"`
}

// NewYear returns an empty ledger for the given calendar year.
func NewYear(year int) *Year {
	return &Year{Year: year, Records: make(map[string]map[string]Record)}
}

// Get returns the record for key, or a zero record if none exists.
func (y *Year) Get(key Key) (Record, bool) {
	byIdentity, ok := y.Records[key.Date]
	if !ok {
		return Record{}, false
	}
	rec, ok := byIdentity[key.Identity]
	return rec, ok
}

func (y *Year) put(key Key, rec Record) {
	byIdentity, ok := y.Records[key.Date]
	if !ok {
		byIdentity = make(map[string]Record)
		y.Records[key.Date] = byIdentity
	}
	byIdentity[key.Identity] = rec
}

// Store loads and saves the delivery ledger file. A Store is bound to a
// single path; access within a tick is single-writer by construction
// (ticks are driven sequentially by the scheduler).
type Store struct {
	path   string
	logger *slog.Logger
	now    func() time.Time
}

// NewStore creates a ledger store for the given file path.
func NewStore(path string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		path:   path,
		logger: logger.With("component", "ledger"),
		now:    time.Now,
	}
}

// Load reads the persisted ledger. A missing file, an unparseable file, or
// a ledger recorded for a different calendar year all yield a fresh empty
// ledger for the current year. Failing open here means a damaged ledger can
// at worst cause a duplicate greeting, never a missed one.
func (s *Store) Load() *Year {
	currentYear := s.now().Year()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("Failed to read ledger file, starting empty", "path", s.path, "error", err)
		}
		return NewYear(currentYear)
	}

	var y Year
	if err := json.Unmarshal(data, &y); err != nil {
		s.logger.Warn("Ledger file is corrupt, starting empty", "path", s.path, "error", err)
		return NewYear(currentYear)
	}

	if y.Year != currentYear {
		s.logger.Info("Ledger year rolled over, resetting delivery records",
			"stored_year", y.Year, "current_year", currentYear)
		return NewYear(currentYear)
	}

	if y.Records == nil {
		y.Records = make(map[string]map[string]Record)
	}
	return &y
}

// Save persists the ledger atomically: the document is written to a
// temporary file in the same directory and renamed over the target, so a
// crash mid-write never leaves a truncated ledger behind.
func (s *Store) Save(y *Year) error {
	data, err := json.MarshalIndent(y, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal ledger: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp ledger file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write temp ledger file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to sync temp ledger file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp ledger file: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace ledger file: %w", err)
	}
	return nil
}

// MarkDelivered records a successful delivery for key and persists the
// ledger. Delivered is a sticky terminal state within the year; attempts
// grows by one on every call. This is the only mutation path.
func (s *Store) MarkDelivered(key Key, belated bool) (Record, error) {
	y := s.Load()

	rec, _ := y.Get(key)
	rec.Sent = true
	rec.SentDate = s.now().Format("2006-01-02")
	rec.IsBelated = belated
	rec.Attempts++
	y.put(key, rec)

	if err := s.Save(y); err != nil {
		return rec, fmt.Errorf("failed to persist delivery record: %w", err)
	}

	s.logger.Info("Marked greeting as delivered",
		"identity", key.Identity, "date", key.Date, "belated", belated, "attempts", rec.Attempts)
	return rec, nil
}

// IsDelivered reports whether the occurrence identified by key has already
// triggered a successful delivery this year.
func (s *Store) IsDelivered(key Key) bool {
	rec, ok := s.Load().Get(key)
	return ok && rec.Sent
}
