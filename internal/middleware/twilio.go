// Package middleware provides HTTP middleware for the Twilio webhook routes.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/samhotchkiss/otter-relay/internal/session"
	"github.com/samhotchkiss/otter-relay/internal/webhook"
)

// ContextKey is the type for context keys in this package.
type ContextKey string

// SenderKey holds the normalized sender of a verified webhook.
const SenderKey ContextKey = "sender_id"

// SenderFromContext returns the normalized sender, or "" when not set.
func SenderFromContext(ctx context.Context) string {
	if v := ctx.Value(SenderKey); v != nil {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

// RequireTwilioSignature rejects requests whose X-Twilio-Signature does not
// verify. A nil verifier disables the check.
func RequireTwilioSignature(verifier *webhook.Verifier, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if verifier == nil {
				next.ServeHTTP(w, r)
				return
			}
			if err := verifier.VerifyRequest(r); err != nil {
				logger.Warn("rejected webhook signature",
					"path", r.URL.Path,
					"remote", r.RemoteAddr,
					"err", err,
				)
				writeForbidden(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Allowlist only admits senders in the list, compared after stripping the
// channel prefix. An empty list admits everyone. The normalized sender is
// stored in the request context.
type Allowlist struct {
	allowed map[string]struct{}
	logger  *slog.Logger
}

// NewAllowlist builds an allowlist from raw numbers such as
// "whatsapp:+15550001234" or "+15550001234".
func NewAllowlist(numbers []string, logger *slog.Logger) *Allowlist {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Allowlist{allowed: make(map[string]struct{}), logger: logger}
	for _, number := range numbers {
		if normalized := session.NormalizeSenderID(number); normalized != "" {
			a.allowed[normalized] = struct{}{}
		}
	}
	return a
}

// Allows reports whether sender may use the service.
func (a *Allowlist) Allows(sender string) bool {
	if a == nil || len(a.allowed) == 0 {
		return true
	}
	_, ok := a.allowed[session.NormalizeSenderID(sender)]
	return ok
}

// Handler wraps next with the allowlist check. It reads From from the form.
func (a *Allowlist) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			writeForbidden(w)
			return
		}
		from := strings.TrimSpace(r.PostFormValue("From"))
		if !a.Allows(from) {
			a.logger.Warn("sender not in allowlist", "sender", session.NormalizeSenderID(from))
			writeForbidden(w)
			return
		}

		ctx := context.WithValue(r.Context(), SenderKey, session.NormalizeSenderID(from))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func writeForbidden(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusForbidden)
	_, _ = w.Write([]byte("Forbidden"))
}
