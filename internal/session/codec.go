package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrCorrupt is returned when a stored record cannot be used as a session.
var ErrCorrupt = errors.New("corrupt session record")

// Encode serializes a session for the store.
func Encode(s Session) ([]byte, error) {
	if s.History == nil {
		s.History = []Turn{}
	}
	return json.Marshal(s)
}

// Decode parses a stored record. The record must belong to senderID; history
// beyond MaxHistory is trimmed.
func Decode(data []byte, senderID string) (Session, error) {
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if strings.TrimSpace(s.SenderID) == "" {
		return Session{}, fmt.Errorf("%w: missing sender_id", ErrCorrupt)
	}
	if s.SenderID != senderID {
		return Session{}, fmt.Errorf("%w: record for %q stored under %q", ErrCorrupt, s.SenderID, senderID)
	}
	if s.CreatedAt.IsZero() {
		return Session{}, fmt.Errorf("%w: missing created_at", ErrCorrupt)
	}
	if s.LastActivityAt.Before(s.CreatedAt) {
		s.LastActivityAt = s.CreatedAt
	}
	if s.History == nil {
		s.History = []Turn{}
	}
	s.trimHistory()
	return s, nil
}
