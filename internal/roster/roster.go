// Package roster loads the recipient list: who has a birthday, when, and
// where their greeting goes. The file is owned by the operator and is
// read-only to the rest of the application; the engine re-reads it on every
// tick so edits take effect without a restart.
package roster

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// DefaultGreetingTime is used when the roster file does not set one.
const DefaultGreetingTime = "09:00"

// Recipient is one entry of the roster file.
type Recipient struct {
	ID       string `json:"id,omitempty"`
	Name     string `json:"name"`
	Username string `json:"username,omitempty"`
	Birthday string `json:"birthday"` // DD.MM
	ChatID   int64  `json:"chat_id,omitempty"`
}

// Identity returns the stable identifier used for ledger keys: the explicit
// id if set, else the username, else the display name. Names are only as
// unique as the roster makes them; operators with duplicate names must set
// id or username.
func (r Recipient) Identity() string {
	if r.ID != "" {
		return r.ID
	}
	if r.Username != "" {
		return r.Username
	}
	return r.Name
}

// OccurrenceDate converts the DD.MM birthday into the MM-DD form used for
// ledger keys and date matching. It returns false for a missing or
// malformed birthday.
func (r Recipient) OccurrenceDate() (string, bool) {
	day, month, ok := splitBirthday(r.Birthday)
	if !ok {
		return "", false
	}
	return fmt.Sprintf("%02d-%02d", month, day), true
}

func splitBirthday(s string) (day, month int, ok bool) {
	parts := strings.Split(s, ".")
	if len(parts) != 2 {
		return 0, 0, false
	}
	day, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, false
	}
	month, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, false
	}
	if day < 1 || day > 31 || month < 1 || month > 12 {
		return 0, 0, false
	}
	return day, month, true
}

// Roster is the parsed recipient list plus its file-level settings.
type Roster struct {
	Recipients    []Recipient
	GreetingTime  string // HH:MM, local time of the daily tick
	DefaultChatID int64  // fallback destination for recipients without one
}

type rosterFile struct {
	Users         []Recipient `json:"users"`
	BirthdayTime  string      `json:"birthday_time"`
	DefaultChatID int64       `json:"default_chat_id"`
}

// Loader reads the roster file.
type Loader struct {
	path   string
	logger *slog.Logger
}

// NewLoader creates a roster loader for the given file path.
func NewLoader(path string, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{path: path, logger: logger.With("component", "roster")}
}

// Path returns the roster file path.
func (l *Loader) Path() string {
	return l.path
}

// Load parses the roster file. A missing or unparseable file yields an
// empty roster with defaults rather than an error: the daily tick must
// still run (and log) even when the operator's file is broken.
func (l *Loader) Load() *Roster {
	out := &Roster{GreetingTime: DefaultGreetingTime}

	data, err := os.ReadFile(l.path)
	if err != nil {
		l.logger.Error("Failed to read roster file", "path", l.path, "error", err)
		return out
	}

	var f rosterFile
	if err := json.Unmarshal(data, &f); err != nil {
		l.logger.Error("Failed to parse roster file", "path", l.path, "error", err)
		return out
	}

	out.Recipients = f.Users
	out.DefaultChatID = f.DefaultChatID
	if f.BirthdayTime != "" {
		out.GreetingTime = f.BirthdayTime
	}

	l.logger.Debug("Roster loaded", "recipients", len(out.Recipients), "greeting_time", out.GreetingTime)
	return out
}
