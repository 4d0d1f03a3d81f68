package webhook

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// ErrMissingSender is returned when a message has no From field.
var ErrMissingSender = errors.New("missing From field")

// Message is an inbound Twilio WhatsApp message.
type Message struct {
	From        string
	To          string
	Body        string
	MessageSID  string
	AccountSID  string
	NumMedia    int
	ProfileName string
}

// ParseMessage decodes the form-encoded message webhook.
func ParseMessage(r *http.Request) (Message, error) {
	if err := r.ParseForm(); err != nil {
		return Message{}, fmt.Errorf("failed to parse form: %w", err)
	}

	msg := Message{
		From:        strings.TrimSpace(r.PostFormValue("From")),
		To:          strings.TrimSpace(r.PostFormValue("To")),
		Body:        r.PostFormValue("Body"),
		MessageSID:  strings.TrimSpace(r.PostFormValue("MessageSid")),
		AccountSID:  strings.TrimSpace(r.PostFormValue("AccountSid")),
		ProfileName: strings.TrimSpace(r.PostFormValue("ProfileName")),
	}
	if msg.From == "" {
		return Message{}, ErrMissingSender
	}
	if raw := strings.TrimSpace(r.PostFormValue("NumMedia")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return Message{}, fmt.Errorf("invalid NumMedia %q", raw)
		}
		msg.NumMedia = n
	}
	return msg, nil
}

// Delivery statuses reported by Twilio status callbacks.
const (
	StatusQueued      = "queued"
	StatusSent        = "sent"
	StatusDelivered   = "delivered"
	StatusRead        = "read"
	StatusFailed      = "failed"
	StatusUndelivered = "undelivered"
)

var supportedStatuses = map[string]struct{}{
	StatusQueued:      {},
	StatusSent:        {},
	StatusDelivered:   {},
	StatusRead:        {},
	StatusFailed:      {},
	StatusUndelivered: {},
}

// IsSupportedStatus reports whether status is a known delivery status.
func IsSupportedStatus(status string) bool {
	_, ok := supportedStatuses[strings.ToLower(strings.TrimSpace(status))]
	return ok
}

// StatusCallback is a delivery status update for an outbound message.
type StatusCallback struct {
	MessageSID   string `json:"message_sid"`
	Status       string `json:"status"`
	To           string `json:"to,omitempty"`
	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// Failed reports whether the message will not be delivered.
func (s StatusCallback) Failed() bool {
	return s.Status == StatusFailed || s.Status == StatusUndelivered
}

// ParseStatusCallback decodes a status callback. Unknown statuses are kept
// as-is so callers can log them.
func ParseStatusCallback(r *http.Request) (StatusCallback, error) {
	if err := r.ParseForm(); err != nil {
		return StatusCallback{}, fmt.Errorf("failed to parse form: %w", err)
	}
	status := strings.ToLower(strings.TrimSpace(r.PostFormValue("MessageStatus")))
	if status == "" {
		status = strings.ToLower(strings.TrimSpace(r.PostFormValue("SmsStatus")))
	}
	return StatusCallback{
		MessageSID:   strings.TrimSpace(r.PostFormValue("MessageSid")),
		Status:       status,
		To:           strings.TrimSpace(r.PostFormValue("To")),
		ErrorCode:    strings.TrimSpace(r.PostFormValue("ErrorCode")),
		ErrorMessage: strings.TrimSpace(r.PostFormValue("ErrorMessage")),
	}, nil
}
