// Package session defines the per-sender conversation record and the rules
// for mutating it.
package session

import (
	"strings"
	"time"
)

// MaxHistory is the number of turns a session keeps. Older turns are evicted
// first.
const MaxHistory = 20

// KeyPrefix namespaces session records in the state store.
const KeyPrefix = "conversation:"

// Turn is one user message and the reply sent back for it.
type Turn struct {
	Timestamp time.Time `json:"timestamp"`
	User      string    `json:"user"`
	Assistant string    `json:"assistant"`
}

// Session is the conversation state kept for one sender.
type Session struct {
	SenderID        string    `json:"sender_id"`
	CreatedAt       time.Time `json:"created_at"`
	LastActivityAt  time.Time `json:"last_activity_at"`
	ActiveProjectID *string   `json:"active_project_id"`
	History         []Turn    `json:"history"`
	Context         Context   `json:"context"`
	Version         int64     `json:"version"`
}

// New returns the default session for a sender.
func New(senderID string, now time.Time) Session {
	now = now.UTC()
	return Session{
		SenderID:       senderID,
		CreatedAt:      now,
		LastActivityAt: now,
		History:        []Turn{},
		Context:        Context{},
	}
}

// Key returns the store key for a sender.
func Key(senderID string) string {
	return KeyPrefix + senderID
}

// NormalizeSenderID strips a channel prefix ("whatsapp:", "sms:") and
// surrounding whitespace from a transport address.
func NormalizeSenderID(raw string) string {
	id := strings.TrimSpace(raw)
	if prefix, rest, ok := strings.Cut(id, ":"); ok && isChannelName(prefix) {
		id = strings.TrimSpace(rest)
	}
	return id
}

func isChannelName(value string) bool {
	if value == "" {
		return false
	}
	for _, r := range value {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') {
			return false
		}
	}
	return true
}

// ActiveProject returns the bound project id, or "" when none is set.
func (s Session) ActiveProject() string {
	if s.ActiveProjectID == nil {
		return ""
	}
	return *s.ActiveProjectID
}

// Touch advances LastActivityAt to now. It never moves backwards.
func (s *Session) Touch(now time.Time) {
	now = now.UTC()
	if now.After(s.LastActivityAt) {
		s.LastActivityAt = now
	}
}

// AppendTurn records a turn and drops the oldest turns beyond MaxHistory.
func (s *Session) AppendTurn(user, assistant string, now time.Time) {
	s.History = append(s.History, Turn{
		Timestamp: now.UTC(),
		User:      user,
		Assistant: assistant,
	})
	s.trimHistory()
	s.Touch(now)
}

// SetActiveProject binds a backend project. An empty id unbinds.
func (s *Session) SetActiveProject(projectID string, now time.Time) {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		s.ActiveProjectID = nil
	} else {
		s.ActiveProjectID = &projectID
	}
	s.Touch(now)
}

// UpdateContext merges patch into the session context.
func (s *Session) UpdateContext(patch ContextPatch, now time.Time) {
	s.Context = s.Context.Merge(patch)
	s.Touch(now)
}

// ClearHistory resets history and context. Sender, creation time and active
// project survive.
func (s *Session) ClearHistory(now time.Time) {
	s.History = []Turn{}
	s.Context = Context{}
	s.Touch(now)
}

// RecentHistory returns up to limit of the newest turns, oldest first.
func (s Session) RecentHistory(limit int) []Turn {
	if limit <= 0 || len(s.History) == 0 {
		return []Turn{}
	}
	start := len(s.History) - limit
	if start < 0 {
		start = 0
	}
	out := make([]Turn, len(s.History)-start)
	copy(out, s.History[start:])
	return out
}

// Clone returns a deep copy.
func (s Session) Clone() Session {
	out := s
	if s.ActiveProjectID != nil {
		id := *s.ActiveProjectID
		out.ActiveProjectID = &id
	}
	out.History = make([]Turn, len(s.History))
	copy(out.History, s.History)
	out.Context = s.Context.Clone()
	return out
}

func (s *Session) trimHistory() {
	if len(s.History) <= MaxHistory {
		return
	}
	kept := make([]Turn, MaxHistory)
	copy(kept, s.History[len(s.History)-MaxHistory:])
	s.History = kept
}
