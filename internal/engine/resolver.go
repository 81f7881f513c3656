package engine

import (
	"log/slog"
	"time"

	"birthdaybot/internal/ledger"
	"birthdaybot/internal/roster"
)

// PendingOccurrence is one greeting that still needs to go out: a recipient
// whose birthday fell inside the retry window and has no delivered ledger
// record yet.
type PendingOccurrence struct {
	Recipient roster.Recipient
	Date      string // occurrence date, MM-DD
	IsBelated bool
	DaysLate  int
}

// ResolvePending computes the occurrences that still need a greeting as of
// today. For each day from today back through the retry window it matches
// recipients by occurrence date and keeps those whose ledger key is not yet
// delivered. The result order is stable: days-late ascending, then roster
// order. Resolution is read-only; calling it twice without an intervening
// delivery returns the same set.
//
// Recipients without a parseable birthday are skipped with a warning.
func ResolvePending(recipients []roster.Recipient, today time.Time, window int, delivered func(ledger.Key) bool, logger *slog.Logger) []PendingOccurrence {
	if logger == nil {
		logger = slog.Default()
	}

	valid := make([]roster.Recipient, 0, len(recipients))
	dates := make([]string, 0, len(recipients))
	for _, r := range recipients {
		date, ok := r.OccurrenceDate()
		if !ok {
			logger.Warn("Recipient has no usable birthday, skipping", "name", r.Name, "birthday", r.Birthday)
			continue
		}
		valid = append(valid, r)
		dates = append(dates, date)
	}

	var pending []PendingOccurrence
	for daysAgo := 0; daysAgo <= window; daysAgo++ {
		checkDate := today.AddDate(0, 0, -daysAgo).Format("01-02")

		for i, r := range valid {
			if dates[i] != checkDate {
				continue
			}
			key := ledger.Key{Date: dates[i], Identity: r.Identity()}
			if delivered(key) {
				continue
			}
			pending = append(pending, PendingOccurrence{
				Recipient: r,
				Date:      dates[i],
				IsBelated: daysAgo > 0,
				DaysLate:  daysAgo,
			})
			logger.Debug("Found pending greeting",
				"identity", key.Identity, "date", key.Date, "days_late", daysAgo)
		}
	}

	logger.Info("Resolved pending greetings", "count", len(pending))
	return pending
}
