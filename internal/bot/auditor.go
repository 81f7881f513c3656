package bot

import (
	"context"

	"birthdaybot/internal/engine"
	"birthdaybot/internal/history"
)

// historyAuditor adapts the history store to the engine's auditing hook.
type historyAuditor struct {
	store history.Store
}

// NewHistoryAuditor returns an engine auditor that persists tick outcomes
// to the history store.
func NewHistoryAuditor(store history.Store) engine.Auditor {
	return &historyAuditor{store: store}
}

func (a *historyAuditor) RecordOutcome(ctx context.Context, rec engine.OutcomeRecord) error {
	return a.store.SaveEntry(ctx, &history.Entry{
		Identity:       rec.Identity,
		Name:           rec.Name,
		OccurrenceDate: rec.Date,
		ChatID:         rec.ChatID,
		Status:         string(rec.Status),
		IsBelated:      rec.IsBelated,
		DaysLate:       rec.DaysLate,
		Attempts:       rec.Attempts,
		Error:          rec.Error,
		RecordedAt:     rec.At,
	})
}
