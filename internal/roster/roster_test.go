package roster_test

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"birthdaybot/internal/roster"
)

func writeRoster(t *testing.T, content string) *roster.Loader {
	t.Helper()
	path := filepath.Join(t.TempDir(), "users_config.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return roster.NewLoader(path, slog.Default())
}

func TestLoadFullFile(t *testing.T) {
	t.Parallel()

	l := writeRoster(t, `{
		"users": [
			{"name": "Alice", "username": "alice", "birthday": "01.05", "chat_id": 42},
			{"name": "Bob", "birthday": "31.12"}
		],
		"birthday_time": "10:30",
		"default_chat_id": 100
	}`)

	r := l.Load()
	if len(r.Recipients) != 2 {
		t.Fatalf("Recipients = %d, want 2", len(r.Recipients))
	}
	if r.GreetingTime != "10:30" {
		t.Errorf("GreetingTime = %q, want 10:30", r.GreetingTime)
	}
	if r.DefaultChatID != 100 {
		t.Errorf("DefaultChatID = %d, want 100", r.DefaultChatID)
	}
	if r.Recipients[0].ChatID != 42 {
		t.Errorf("ChatID = %d, want 42", r.Recipients[0].ChatID)
	}
}

func TestLoadMissingFileYieldsEmptyRoster(t *testing.T) {
	t.Parallel()

	l := roster.NewLoader(filepath.Join(t.TempDir(), "absent.json"), slog.Default())
	r := l.Load()

	if len(r.Recipients) != 0 {
		t.Errorf("Recipients = %v, want empty", r.Recipients)
	}
	if r.GreetingTime != roster.DefaultGreetingTime {
		t.Errorf("GreetingTime = %q, want default %q", r.GreetingTime, roster.DefaultGreetingTime)
	}
}

func TestLoadMalformedFileYieldsEmptyRoster(t *testing.T) {
	t.Parallel()

	l := writeRoster(t, `{"users": [`)
	r := l.Load()
	if len(r.Recipients) != 0 {
		t.Errorf("Recipients = %v, want empty on parse error", r.Recipients)
	}
}

func TestLoadDefaultsGreetingTime(t *testing.T) {
	t.Parallel()

	l := writeRoster(t, `{"users": []}`)
	if got := l.Load().GreetingTime; got != "09:00" {
		t.Errorf("GreetingTime = %q, want 09:00", got)
	}
}

func TestOccurrenceDate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		birthday string
		want     string
		ok       bool
	}{
		{"regular date", "08.03", "03-08", true},
		{"end of year", "31.12", "12-31", true},
		{"single digit without padding", "5.1", "01-05", true},
		{"empty", "", "", false},
		{"missing month", "15", "", false},
		{"non-numeric", "aa.bb", "", false},
		{"month out of range", "01.13", "", false},
		{"day out of range", "32.01", "", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			r := roster.Recipient{Birthday: tc.birthday}
			got, ok := r.OccurrenceDate()
			if ok != tc.ok || got != tc.want {
				t.Errorf("OccurrenceDate(%q) = (%q, %v), want (%q, %v)", tc.birthday, got, ok, tc.want, tc.ok)
			}
		})
	}
}

func TestIdentityPrecedence(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		recipient roster.Recipient
		want      string
	}{
		{"explicit id wins", roster.Recipient{ID: "u1", Username: "alice", Name: "Alice"}, "u1"},
		{"username over name", roster.Recipient{Username: "alice", Name: "Alice"}, "alice"},
		{"name as last resort", roster.Recipient{Name: "Alice"}, "Alice"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := tc.recipient.Identity(); got != tc.want {
				t.Errorf("Identity() = %q, want %q", got, tc.want)
			}
		})
	}
}
