package engine_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"birthdaybot/internal/engine"
	"birthdaybot/internal/ledger"
	"birthdaybot/internal/roster"
)

type fakeRenderer struct {
	err   error
	calls int
}

func (f *fakeRenderer) Greeting(ctx context.Context, name string, belated bool) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	if belated {
		return "belated greeting for " + name, nil
	}
	return "greeting for " + name, nil
}

type fakeImages struct {
	path string
	err  error
}

func (f *fakeImages) GenerateBirthdayImage(ctx context.Context, name string) (string, error) {
	return f.path, f.err
}

type sentMessage struct {
	chatID    int64
	text      string
	imagePath string
}

type fakeDispatcher struct {
	failFor map[string]error // substring of text -> error
	sent    []sentMessage
}

func (f *fakeDispatcher) SendGreeting(ctx context.Context, chatID int64, text string, imagePath string) error {
	for substr, err := range f.failFor {
		if substr != "" && strings.Contains(text, substr) {
			return err
		}
	}
	f.sent = append(f.sent, sentMessage{chatID: chatID, text: text, imagePath: imagePath})
	return nil
}

type fakeAuditor struct {
	records []engine.OutcomeRecord
	err     error
}

func (f *fakeAuditor) RecordOutcome(ctx context.Context, rec engine.OutcomeRecord) error {
	f.records = append(f.records, rec)
	return f.err
}

// testFixture wires an engine against a temp ledger and roster file.
type testFixture struct {
	engine     *engine.Engine
	ledger     *ledger.Store
	dispatcher *fakeDispatcher
	renderer   *fakeRenderer
	auditor    *fakeAuditor
}

func birthdayDaysAgo(daysAgo int) string {
	return time.Now().AddDate(0, 0, -daysAgo).Format("02.01")
}

func newFixture(t *testing.T, rosterJSON string, cfg engine.Config, images engine.ImageGenerator) *testFixture {
	t.Helper()
	dir := t.TempDir()

	rosterPath := filepath.Join(dir, "users_config.json")
	if err := os.WriteFile(rosterPath, []byte(rosterJSON), 0o644); err != nil {
		t.Fatal(err)
	}

	led := ledger.NewStore(filepath.Join(dir, "delivery.json"), slog.Default())
	renderer := &fakeRenderer{}
	dispatcher := &fakeDispatcher{}
	auditor := &fakeAuditor{}

	if cfg.Fallback.Normal == "" {
		cfg.Fallback = engine.FallbackMessages{Normal: "Happy birthday, %s!", Belated: "Belated happy birthday, %s!"}
	}

	e := engine.New(slog.Default(), cfg, led, roster.NewLoader(rosterPath, slog.Default()),
		renderer, images, dispatcher, auditor)

	return &testFixture{engine: e, ledger: led, dispatcher: dispatcher, renderer: renderer, auditor: auditor}
}

func TestRunTickDeliversAndMarks(t *testing.T) {
	t.Parallel()

	rosterJSON := fmt.Sprintf(`{"users": [{"name": "Alice", "username": "alice", "birthday": %q, "chat_id": 42}]}`,
		birthdayDaysAgo(0))
	fx := newFixture(t, rosterJSON, engine.Config{RetryWindowDays: 2}, nil)

	report, err := fx.engine.RunTick(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if report.Delivered != 1 || report.Failed != 0 {
		t.Fatalf("report = %+v, want 1 delivered", report)
	}
	if len(fx.dispatcher.sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(fx.dispatcher.sent))
	}
	msg := fx.dispatcher.sent[0]
	if msg.chatID != 42 {
		t.Errorf("chatID = %d, want 42", msg.chatID)
	}
	if !strings.Contains(msg.text, "@alice") {
		t.Errorf("text = %q, want @username mention", msg.text)
	}

	date := time.Now().Format("01-02")
	if !fx.ledger.IsDelivered(ledger.Key{Date: date, Identity: "alice"}) {
		t.Error("delivery not recorded in ledger")
	}

	// Second tick on the same day must be a no-op.
	report, err = fx.engine.RunTick(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if report.Delivered != 0 || len(fx.dispatcher.sent) != 1 {
		t.Errorf("second tick resent: report=%+v sent=%d", report, len(fx.dispatcher.sent))
	}
}

func TestRunTickDispatchFailureLeavesPending(t *testing.T) {
	t.Parallel()

	rosterJSON := fmt.Sprintf(`{"users": [{"name": "Alice", "birthday": %q, "chat_id": 42}]}`,
		birthdayDaysAgo(0))
	fx := newFixture(t, rosterJSON, engine.Config{RetryWindowDays: 2}, nil)
	fx.dispatcher.failFor = map[string]error{"Alice": errors.New("telegram unavailable")}

	report, err := fx.engine.RunTick(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if report.Failed != 1 || report.Delivered != 0 {
		t.Fatalf("report = %+v, want 1 failed", report)
	}
	date := time.Now().Format("01-02")
	if fx.ledger.IsDelivered(ledger.Key{Date: date, Identity: "Alice"}) {
		t.Error("failed dispatch must not mark the ledger")
	}

	// Next tick retries the same occurrence once dispatch recovers.
	fx.dispatcher.failFor = nil
	report, err = fx.engine.RunTick(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if report.Delivered != 1 {
		t.Errorf("retry tick report = %+v, want 1 delivered", report)
	}
}

func TestRunTickFailureIsolation(t *testing.T) {
	t.Parallel()

	rosterJSON := fmt.Sprintf(`{"users": [
		{"name": "Broken", "birthday": %q, "chat_id": 1},
		{"name": "Fine", "birthday": %q, "chat_id": 2}
	]}`, birthdayDaysAgo(0), birthdayDaysAgo(0))
	fx := newFixture(t, rosterJSON, engine.Config{RetryWindowDays: 2}, nil)
	fx.dispatcher.failFor = map[string]error{"Broken": errors.New("boom")}

	report, err := fx.engine.RunTick(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if report.Failed != 1 || report.Delivered != 1 {
		t.Fatalf("report = %+v, want one failure and one delivery", report)
	}
	if len(fx.dispatcher.sent) != 1 || fx.dispatcher.sent[0].chatID != 2 {
		t.Errorf("sent = %+v, want delivery to Fine (chat 2)", fx.dispatcher.sent)
	}
}

func TestRunTickMissingDestination(t *testing.T) {
	t.Parallel()

	rosterJSON := fmt.Sprintf(`{"users": [{"name": "Nowhere", "birthday": %q}]}`, birthdayDaysAgo(0))
	fx := newFixture(t, rosterJSON, engine.Config{RetryWindowDays: 2}, nil)

	report, err := fx.engine.RunTick(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if report.MissingDestination != 1 {
		t.Fatalf("report = %+v, want 1 missing destination", report)
	}
	if len(fx.dispatcher.sent) != 0 {
		t.Errorf("sent = %+v, want none", fx.dispatcher.sent)
	}
	if fx.renderer.calls != 0 {
		t.Errorf("renderer called %d times for unroutable recipient, want 0", fx.renderer.calls)
	}
}

func TestRunTickChatIDPrecedence(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name       string
		rosterJSON string
		defaultID  int64
		wantChat   int64
	}{
		{
			name: "recipient chat id wins",
			rosterJSON: fmt.Sprintf(`{"users": [{"name": "A", "birthday": %q, "chat_id": 1}], "default_chat_id": 2}`,
				birthdayDaysAgo(0)),
			defaultID: 3,
			wantChat:  1,
		},
		{
			name: "roster default next",
			rosterJSON: fmt.Sprintf(`{"users": [{"name": "A", "birthday": %q}], "default_chat_id": 2}`,
				birthdayDaysAgo(0)),
			defaultID: 3,
			wantChat:  2,
		},
		{
			name: "config default last",
			rosterJSON: fmt.Sprintf(`{"users": [{"name": "A", "birthday": %q}]}`,
				birthdayDaysAgo(0)),
			defaultID: 3,
			wantChat:  3,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			fx := newFixture(t, tc.rosterJSON, engine.Config{RetryWindowDays: 2, DefaultChatID: tc.defaultID}, nil)

			if _, err := fx.engine.RunTick(context.Background()); err != nil {
				t.Fatal(err)
			}
			if len(fx.dispatcher.sent) != 1 || fx.dispatcher.sent[0].chatID != tc.wantChat {
				t.Errorf("sent = %+v, want one message to chat %d", fx.dispatcher.sent, tc.wantChat)
			}
		})
	}
}

func TestRunTickRendererFailureUsesFallback(t *testing.T) {
	t.Parallel()

	rosterJSON := fmt.Sprintf(`{"users": [{"name": "Alice", "birthday": %q, "chat_id": 42}]}`,
		birthdayDaysAgo(0))
	fx := newFixture(t, rosterJSON, engine.Config{RetryWindowDays: 2}, nil)
	fx.renderer.err = errors.New("model overloaded")

	report, err := fx.engine.RunTick(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if report.Delivered != 1 {
		t.Fatalf("report = %+v, want delivery despite renderer failure", report)
	}
	if !strings.Contains(fx.dispatcher.sent[0].text, "Happy birthday, Alice!") {
		t.Errorf("text = %q, want fallback template", fx.dispatcher.sent[0].text)
	}
}

func TestRunTickImageFailureDoesNotBlockText(t *testing.T) {
	t.Parallel()

	rosterJSON := fmt.Sprintf(`{"users": [{"name": "Alice", "birthday": %q, "chat_id": 42}]}`,
		birthdayDaysAgo(0))
	fx := newFixture(t, rosterJSON, engine.Config{RetryWindowDays: 2},
		&fakeImages{err: errors.New("image backend down")})

	report, err := fx.engine.RunTick(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if report.Delivered != 1 {
		t.Fatalf("report = %+v, want delivery without image", report)
	}
	if fx.dispatcher.sent[0].imagePath != "" {
		t.Errorf("imagePath = %q, want empty", fx.dispatcher.sent[0].imagePath)
	}
}

func TestRunTickAttachesImage(t *testing.T) {
	t.Parallel()

	rosterJSON := fmt.Sprintf(`{"users": [{"name": "Alice", "birthday": %q, "chat_id": 42}]}`,
		birthdayDaysAgo(0))
	fx := newFixture(t, rosterJSON, engine.Config{RetryWindowDays: 2},
		&fakeImages{path: "/tmp/birthday_Alice.png"})

	if _, err := fx.engine.RunTick(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := fx.dispatcher.sent[0].imagePath; got != "/tmp/birthday_Alice.png" {
		t.Errorf("imagePath = %q, want generated path", got)
	}
}

func TestRunTickBelatedGreeting(t *testing.T) {
	t.Parallel()

	rosterJSON := fmt.Sprintf(`{"users": [{"name": "Alice", "birthday": %q, "chat_id": 42}]}`,
		birthdayDaysAgo(2))
	fx := newFixture(t, rosterJSON, engine.Config{RetryWindowDays: 2}, nil)

	report, err := fx.engine.RunTick(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if report.Delivered != 1 {
		t.Fatalf("report = %+v, want 1 delivered", report)
	}
	if !strings.Contains(fx.dispatcher.sent[0].text, "belated greeting for Alice") {
		t.Errorf("text = %q, want belated greeting", fx.dispatcher.sent[0].text)
	}
	date := time.Now().AddDate(0, 0, -2).Format("01-02")
	rec, ok := fx.ledger.Load().Get(ledger.Key{Date: date, Identity: "Alice"})
	if !ok || !rec.IsBelated {
		t.Errorf("ledger record = %+v (found=%v), want belated", rec, ok)
	}
}

func TestRunTickRecordsAbandoned(t *testing.T) {
	t.Parallel()

	// Birthday exactly one day past the window: never delivered, ages out.
	rosterJSON := fmt.Sprintf(`{"users": [{"name": "Missed", "birthday": %q, "chat_id": 42}]}`,
		birthdayDaysAgo(3))
	fx := newFixture(t, rosterJSON, engine.Config{RetryWindowDays: 2}, nil)

	report, err := fx.engine.RunTick(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if report.Abandoned != 1 || report.Delivered != 0 {
		t.Fatalf("report = %+v, want 1 abandoned and nothing sent", report)
	}
	if len(fx.dispatcher.sent) != 0 {
		t.Errorf("sent = %+v, want none past the window", fx.dispatcher.sent)
	}

	var abandoned []engine.OutcomeRecord
	for _, rec := range fx.auditor.records {
		if rec.Status == engine.StatusAbandoned {
			abandoned = append(abandoned, rec)
		}
	}
	if len(abandoned) != 1 || abandoned[0].Identity != "Missed" {
		t.Errorf("audited abandoned = %+v, want one record for Missed", abandoned)
	}

	// The ledger stays untouched: abandonment is observability only.
	date := time.Now().AddDate(0, 0, -3).Format("01-02")
	if fx.ledger.IsDelivered(ledger.Key{Date: date, Identity: "Missed"}) {
		t.Error("abandoned occurrence must not be marked delivered")
	}
}

func TestRunTickAuditsOutcomes(t *testing.T) {
	t.Parallel()

	rosterJSON := fmt.Sprintf(`{"users": [{"name": "Alice", "birthday": %q, "chat_id": 42}]}`,
		birthdayDaysAgo(0))
	fx := newFixture(t, rosterJSON, engine.Config{RetryWindowDays: 2}, nil)

	if _, err := fx.engine.RunTick(context.Background()); err != nil {
		t.Fatal(err)
	}

	if len(fx.auditor.records) != 1 {
		t.Fatalf("audited %d records, want 1", len(fx.auditor.records))
	}
	rec := fx.auditor.records[0]
	if rec.Status != engine.StatusDelivered || rec.ChatID != 42 || rec.Attempts != 1 {
		t.Errorf("audited record = %+v, want delivered to 42 with 1 attempt", rec)
	}
}

func TestRunTickAuditorFailureIsNonFatal(t *testing.T) {
	t.Parallel()

	rosterJSON := fmt.Sprintf(`{"users": [{"name": "Alice", "birthday": %q, "chat_id": 42}]}`,
		birthdayDaysAgo(0))
	fx := newFixture(t, rosterJSON, engine.Config{RetryWindowDays: 2}, nil)
	fx.auditor.err = errors.New("database locked")

	report, err := fx.engine.RunTick(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if report.Delivered != 1 {
		t.Errorf("report = %+v, want delivery despite auditor failure", report)
	}
}
