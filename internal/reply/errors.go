package reply

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"

	"github.com/samhotchkiss/otter-relay/internal/backend"
)

// ErrorKind groups failures by what the sender can do about them.
type ErrorKind int

const (
	ErrorGeneric ErrorKind = iota
	ErrorConnection
	ErrorTimeout
	ErrorAuthorization
)

const maxErrorDetail = 200

// Classify inspects err for timeouts, connection failures and rejected
// credentials, falling back to the error text.
func Classify(err error) ErrorKind {
	if err == nil {
		return ErrorGeneric
	}

	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ErrorTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		return ErrorTimeout
	case errors.Is(err, backend.ErrUnauthorized):
		return ErrorAuthorization
	case errors.Is(err, syscall.ECONNREFUSED), errors.Is(err, syscall.ECONNRESET):
		return ErrorConnection
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ErrorConnection
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "connection"):
		return ErrorConnection
	case strings.Contains(msg, "timeout"):
		return ErrorTimeout
	case strings.Contains(msg, "authorization"), strings.Contains(msg, "authentication"):
		return ErrorAuthorization
	}
	return ErrorGeneric
}

// Error renders a failure for the sender.
func (a *Assembler) Error(err error) string {
	switch Classify(err) {
	case ErrorConnection:
		return "❌ *Connection Error*\n\nI'm having trouble connecting to the AutoCoder service. Please try again in a moment."
	case ErrorTimeout:
		return "❌ ⏱️ *Request Timeout*\n\nThe operation is taking longer than expected. Please check the status with `/status` in a few moments."
	case ErrorAuthorization:
		return "❌ 🔒 *Authorization Error*\n\nThe AutoCoder service rejected this request. Please contact the administrator."
	}

	detail := "unknown error"
	if err != nil {
		detail = firstRunes(err.Error(), maxErrorDetail)
	}
	return a.Render("❌ *Error*\n\nSomething went wrong: " + detail + "\n\nPlease try again or type `/help` for assistance.")
}
