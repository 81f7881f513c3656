// Package engine decides, once per scheduled tick, which recipients still
// need a birthday greeting and drives rendering, image generation, and
// dispatch for each of them. Delivery is at-least-once with idempotent
// suppression: a greeting is marked in the ledger only after a successful
// send, and a marked occurrence is never sent again within the year.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"birthdaybot/internal/ledger"
	"birthdaybot/internal/roster"
)

// Renderer produces the greeting text for a recipient.
type Renderer interface {
	Greeting(ctx context.Context, name string, belated bool) (string, error)
}

// ImageGenerator produces an optional greeting image and returns the path
// of the saved file, or an empty path when no image could be produced.
type ImageGenerator interface {
	GenerateBirthdayImage(ctx context.Context, name string) (string, error)
}

// Dispatcher delivers the final message. An empty imagePath means
// text-only delivery.
type Dispatcher interface {
	SendGreeting(ctx context.Context, chatID int64, text string, imagePath string) error
}

// Auditor records per-recipient tick outcomes for observability. Failures
// to record are logged and otherwise ignored; auditing never affects
// delivery.
type Auditor interface {
	RecordOutcome(ctx context.Context, rec OutcomeRecord) error
}

// FallbackMessages are the fixed greeting templates substituted when the
// renderer fails. Each must contain one %s verb for the recipient name.
type FallbackMessages struct {
	Normal  string
	Belated string
}

// Config carries the engine's tuning knobs.
type Config struct {
	RetryWindowDays int
	MessageDelay    time.Duration
	DefaultChatID   int64 // process-wide fallback destination
	Fallback        FallbackMessages
}

// Engine orchestrates one delivery tick. Ticks run strictly sequentially
// (the scheduler never overlaps them), so ledger access within a tick is
// single-writer.
type Engine struct {
	logger     *slog.Logger
	cfg        Config
	ledger     *ledger.Store
	roster     *roster.Loader
	renderer   Renderer
	images     ImageGenerator // nil disables image enrichment
	dispatcher Dispatcher
	auditor    Auditor // nil disables outcome auditing
	limiter    *rate.Limiter
	now        func() time.Time
}

// New creates a delivery engine. images and auditor may be nil.
func New(
	logger *slog.Logger,
	cfg Config,
	ledgerStore *ledger.Store,
	rosterLoader *roster.Loader,
	renderer Renderer,
	images ImageGenerator,
	dispatcher Dispatcher,
	auditor Auditor,
) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	limit := rate.Inf
	if cfg.MessageDelay > 0 {
		limit = rate.Every(cfg.MessageDelay)
	}
	return &Engine{
		logger:     logger.With("component", "engine"),
		cfg:        cfg,
		ledger:     ledgerStore,
		roster:     rosterLoader,
		renderer:   renderer,
		images:     images,
		dispatcher: dispatcher,
		auditor:    auditor,
		limiter:    rate.NewLimiter(limit, 1),
		now:        time.Now,
	}
}

// RunTick processes every pending occurrence once. Failures are isolated
// per recipient: a dispatch or render problem for one recipient never stops
// the others. The returned error is non-nil only when the tick itself was
// cut short by context cancellation.
func (e *Engine) RunTick(ctx context.Context) (*TickReport, error) {
	started := e.now()
	report := &TickReport{StartedAt: started}

	r := e.roster.Load()
	led := e.ledger.Load()
	delivered := func(k ledger.Key) bool {
		rec, ok := led.Get(k)
		return ok && rec.Sent
	}

	e.recordAbandoned(ctx, r.Recipients, started, delivered, report)

	pending := ResolvePending(r.Recipients, started, e.cfg.RetryWindowDays, delivered, e.logger)
	if len(pending) == 0 {
		e.logger.Info("No pending greetings this tick")
		return report, nil
	}

	for _, occ := range pending {
		// Serialize sends against downstream rate limits.
		if err := e.limiter.Wait(ctx); err != nil {
			return report, err
		}
		outcome := e.deliverOne(ctx, occ, r.DefaultChatID)
		report.add(outcome)
		e.audit(ctx, outcome)

		if err := ctx.Err(); err != nil {
			e.logger.Info("Tick cancelled, remaining greetings stay pending", "processed", len(report.Outcomes))
			return report, err
		}
	}

	e.logger.Info("Tick finished",
		"delivered", report.Delivered,
		"failed", report.Failed,
		"missing_destination", report.MissingDestination,
		"abandoned", report.Abandoned,
		"duration", e.now().Sub(started))
	return report, nil
}

// deliverOne handles a single pending occurrence end to end and never
// returns an error: every failure mode becomes an outcome record.
func (e *Engine) deliverOne(ctx context.Context, occ PendingOccurrence, rosterDefaultChat int64) OutcomeRecord {
	rec := occ.Recipient
	key := ledger.Key{Date: occ.Date, Identity: rec.Identity()}
	outcome := OutcomeRecord{
		Identity:  key.Identity,
		Name:      rec.Name,
		Date:      key.Date,
		IsBelated: occ.IsBelated,
		DaysLate:  occ.DaysLate,
		At:        e.now(),
	}

	chatID := e.resolveChatID(rec, rosterDefaultChat)
	if chatID == 0 {
		e.logger.Error("No chat id available for recipient, skipping",
			"identity", key.Identity, "name", rec.Name)
		outcome.Status = StatusMissingDestination
		return outcome
	}
	outcome.ChatID = chatID

	// Image enrichment is best effort; no failure here may block the text.
	var imagePath string
	if e.images != nil {
		path, err := e.images.GenerateBirthdayImage(ctx, rec.Name)
		if err != nil {
			e.logger.Warn("Image generation failed, sending text only",
				"identity", key.Identity, "error", err)
		} else {
			imagePath = path
		}
	}

	text, err := e.renderer.Greeting(ctx, rec.Name, occ.IsBelated)
	if err != nil {
		e.logger.Warn("Greeting generation failed, using fallback template",
			"identity", key.Identity, "error", err)
		text = e.fallbackGreeting(rec.Name, occ.IsBelated)
	}
	final := formatFinalMessage(rec.Username, rec.Name, text)

	if err := e.dispatcher.SendGreeting(ctx, chatID, final, imagePath); err != nil {
		e.logger.Error("Failed to send greeting, will retry next tick",
			"identity", key.Identity, "chat_id", chatID, "days_late", occ.DaysLate, "error", err)
		outcome.Status = StatusFailed
		outcome.Error = err.Error()
		return outcome
	}

	ledgerRec, err := e.ledger.MarkDelivered(key, occ.IsBelated)
	if err != nil {
		// The greeting is out; a ledger write failure must not resend it
		// this tick, and the next tick fails open toward a resend anyway.
		e.logger.Error("Greeting sent but ledger update failed",
			"identity", key.Identity, "error", err)
		outcome.Error = err.Error()
	}
	outcome.Status = StatusDelivered
	outcome.Attempts = ledgerRec.Attempts

	if occ.IsBelated {
		e.logger.Info("Belated greeting delivered",
			"identity", key.Identity, "chat_id", chatID, "days_late", occ.DaysLate)
	} else {
		e.logger.Info("Greeting delivered", "identity", key.Identity, "chat_id", chatID)
	}
	return outcome
}

// recordAbandoned surfaces occurrences that aged out of the retry window on
// this tick: exactly one day past the window and still undelivered. The
// ledger is left untouched; abandonment exists only in the audit trail.
func (e *Engine) recordAbandoned(ctx context.Context, recipients []roster.Recipient, today time.Time, delivered func(ledger.Key) bool, report *TickReport) {
	agedOut := today.AddDate(0, 0, -(e.cfg.RetryWindowDays + 1)).Format("01-02")

	for _, r := range recipients {
		date, ok := r.OccurrenceDate()
		if !ok || date != agedOut {
			continue
		}
		key := ledger.Key{Date: date, Identity: r.Identity()}
		if delivered(key) {
			continue
		}
		e.logger.Warn("Greeting aged out of retry window without delivery",
			"identity", key.Identity, "date", key.Date, "window_days", e.cfg.RetryWindowDays)
		outcome := OutcomeRecord{
			Identity:  key.Identity,
			Name:      r.Name,
			Date:      key.Date,
			Status:    StatusAbandoned,
			IsBelated: true,
			DaysLate:  e.cfg.RetryWindowDays + 1,
			At:        e.now(),
		}
		report.add(outcome)
		e.audit(ctx, outcome)
	}
}

func (e *Engine) audit(ctx context.Context, rec OutcomeRecord) {
	if e.auditor == nil {
		return
	}
	if err := e.auditor.RecordOutcome(ctx, rec); err != nil {
		e.logger.Warn("Failed to record tick outcome", "identity", rec.Identity, "error", err)
	}
}

// resolveChatID picks the destination: recipient's own chat, then the
// roster file default, then the process-wide configured default.
func (e *Engine) resolveChatID(r roster.Recipient, rosterDefault int64) int64 {
	if r.ChatID != 0 {
		return r.ChatID
	}
	if rosterDefault != 0 {
		return rosterDefault
	}
	return e.cfg.DefaultChatID
}

func (e *Engine) fallbackGreeting(name string, belated bool) string {
	tmpl := e.cfg.Fallback.Normal
	if belated {
		tmpl = e.cfg.Fallback.Belated
	}
	if !strings.Contains(tmpl, "%s") {
		return tmpl
	}
	return fmt.Sprintf(tmpl, name)
}

// formatFinalMessage prefixes the greeting with an @username mention when
// one exists, else with the display name.
func formatFinalMessage(username, name, greeting string) string {
	if username != "" {
		return fmt.Sprintf("@%s\n\n%s", username, greeting)
	}
	return fmt.Sprintf("%s\n\n%s", name, greeting)
}
