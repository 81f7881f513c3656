package ledger

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func newTestStore(t *testing.T, now time.Time) *Store {
	t.Helper()
	s := NewStore(filepath.Join(t.TempDir(), "delivery.json"), slog.Default())
	s.now = func() time.Time { return now }
	return s
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC))
	y := s.Load()

	if y.Year != 2026 {
		t.Errorf("Year = %d, want 2026", y.Year)
	}
	if len(y.Records) != 0 {
		t.Errorf("Records = %v, want empty", y.Records)
	}
}

func TestLoadCorruptFile(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC))
	if err := os.WriteFile(s.path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	y := s.Load()
	if y.Year != 2026 || len(y.Records) != 0 {
		t.Errorf("corrupt file should yield fresh ledger, got year=%d records=%v", y.Year, y.Records)
	}
}

func TestLoadYearRollover(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, time.Date(2023, 12, 31, 9, 0, 0, 0, time.UTC))
	if _, err := s.MarkDelivered(Key{Date: "12-31", Identity: "A"}, false); err != nil {
		t.Fatal(err)
	}

	// Same file, next calendar year.
	s.now = func() time.Time { return time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC) }

	y := s.Load()
	if y.Year != 2024 {
		t.Errorf("Year = %d, want 2024", y.Year)
	}
	if len(y.Records) != 0 {
		t.Errorf("records must reset on rollover, got %v", y.Records)
	}
	if s.IsDelivered(Key{Date: "12-31", Identity: "A"}) {
		t.Error("last year's delivery must not carry over")
	}
}

func TestMarkDeliveredIdempotence(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	key := Key{Date: "03-10", Identity: "A"}

	if s.IsDelivered(key) {
		t.Fatal("fresh ledger must report not delivered")
	}

	rec, err := s.MarkDelivered(key, false)
	if err != nil {
		t.Fatal(err)
	}
	if !rec.Sent || rec.Attempts != 1 {
		t.Errorf("first mark: got %+v, want sent=true attempts=1", rec)
	}
	if !s.IsDelivered(key) {
		t.Error("IsDelivered = false after first mark")
	}

	rec, err = s.MarkDelivered(key, true)
	if err != nil {
		t.Fatal(err)
	}
	if !rec.Sent || rec.Attempts != 2 {
		t.Errorf("second mark: got %+v, want sent=true attempts=2", rec)
	}
	if !s.IsDelivered(key) {
		t.Error("IsDelivered = false after second mark")
	}
}

func TestMarkDeliveredRecordFields(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, time.Date(2026, 3, 12, 9, 0, 0, 0, time.UTC))
	rec, err := s.MarkDelivered(Key{Date: "03-10", Identity: "B"}, true)
	if err != nil {
		t.Fatal(err)
	}

	if rec.SentDate != "2026-03-12" {
		t.Errorf("SentDate = %q, want 2026-03-12", rec.SentDate)
	}
	if !rec.IsBelated {
		t.Error("IsBelated = false, want true")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC))
	want := NewYear(2026)
	want.put(Key{Date: "05-01", Identity: "A"}, Record{Sent: true, SentDate: "2026-05-01", Attempts: 2})
	want.put(Key{Date: "05-01", Identity: "B"}, Record{Sent: true, SentDate: "2026-05-02", IsBelated: true, Attempts: 1})
	want.put(Key{Date: "07-15", Identity: "C"}, Record{Sent: true, SentDate: "2026-07-15", Attempts: 1})

	if err := s.Save(want); err != nil {
		t.Fatal(err)
	}
	got := s.Load()

	if !reflect.DeepEqual(got, want) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got, want)
	}
}

func TestSaveWritesDocumentFormat(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC))
	if _, err := s.MarkDelivered(Key{Date: "05-01", Identity: "A"}, false); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		t.Fatal(err)
	}

	var doc struct {
		Year    int                                   `json:"year"`
		Records map[string]map[string]map[string]any `json:"records"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("ledger file is not valid JSON: %v", err)
	}
	if doc.Year != 2026 {
		t.Errorf("year = %d, want 2026", doc.Year)
	}
	rec, ok := doc.Records["05-01"]["A"]
	if !ok {
		t.Fatalf("records missing 05-01/A entry: %v", doc.Records)
	}
	for _, field := range []string{"sent", "sent_date", "is_belated", "attempts"} {
		if _, ok := rec[field]; !ok {
			t.Errorf("record missing %q field: %v", field, rec)
		}
	}
}

func TestSaveLeavesNoTempFiles(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC))
	if err := s.Save(NewYear(2026)); err != nil {
		t.Fatal(err)
	}

	entries, err := os.ReadDir(filepath.Dir(s.path))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != filepath.Base(s.path) {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("directory contents = %v, want only the ledger file", names)
	}
}
