// Package webhook verifies and decodes Twilio webhook deliveries.
package webhook

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
)

const (
	// SignatureHeader carries Twilio's request signature.
	SignatureHeader = "X-Twilio-Signature"

	// ForwardedProtoHeader is consulted when rebuilding the public URL
	// behind a proxy.
	ForwardedProtoHeader = "X-Forwarded-Proto"
)

var (
	// ErrMissingSignature is returned when the signature header is missing.
	ErrMissingSignature = errors.New("missing signature header")

	// ErrInvalidSignature is returned when the signature is not base64.
	ErrInvalidSignature = errors.New("invalid signature format")

	// ErrSignatureMismatch is returned when the signature doesn't match.
	ErrSignatureMismatch = errors.New("signature mismatch")

	// ErrMissingAuthToken is returned when no auth token is configured.
	ErrMissingAuthToken = errors.New("twilio auth token not configured")
)

// Verifier checks X-Twilio-Signature on incoming requests.
type Verifier struct {
	authToken []byte
	// publicBaseURL replaces scheme and host of the request URL when set,
	// since Twilio signs the URL it called, not the one the proxy forwarded.
	publicBaseURL string
}

// NewVerifier creates a verifier for the account auth token.
func NewVerifier(authToken string) *Verifier {
	return &Verifier{authToken: []byte(authToken)}
}

// WithPublicBaseURL sets the externally visible base URL.
func (v *Verifier) WithPublicBaseURL(base string) *Verifier {
	v.publicBaseURL = strings.TrimRight(strings.TrimSpace(base), "/")
	return v
}

// VerifySignature checks signature against the URL and POST params.
func (v *Verifier) VerifySignature(fullURL string, params url.Values, signature string) error {
	if len(v.authToken) == 0 {
		return ErrMissingAuthToken
	}
	if signature == "" {
		return ErrMissingSignature
	}

	provided, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return ErrInvalidSignature
	}

	expected := computeSignature(v.authToken, fullURL, params)
	if subtle.ConstantTimeCompare(provided, expected) != 1 {
		return ErrSignatureMismatch
	}
	return nil
}

// VerifyRequest parses r's form and verifies its signature.
func (v *Verifier) VerifyRequest(r *http.Request) error {
	if err := r.ParseForm(); err != nil {
		return fmt.Errorf("failed to parse form: %w", err)
	}
	return v.VerifySignature(v.RequestURL(r), r.PostForm, r.Header.Get(SignatureHeader))
}

// RequestURL rebuilds the URL Twilio called.
func (v *Verifier) RequestURL(r *http.Request) string {
	if v.publicBaseURL != "" {
		return v.publicBaseURL + r.URL.RequestURI()
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := strings.TrimSpace(r.Header.Get(ForwardedProtoHeader)); proto != "" {
		scheme = strings.ToLower(strings.Split(proto, ",")[0])
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}

// computeSignature is HMAC-SHA1 over the URL followed by each POST param
// name and value, names sorted.
func computeSignature(token []byte, fullURL string, params url.Values) []byte {
	keys := make([]string, 0, len(params))
	for key := range params {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(fullURL)
	for _, key := range keys {
		values := append([]string(nil), params[key]...)
		sort.Strings(values)
		for _, value := range values {
			b.WriteString(key)
			b.WriteString(value)
		}
	}

	mac := hmac.New(sha1.New, token)
	mac.Write([]byte(b.String()))
	return mac.Sum(nil)
}

// Sign computes the X-Twilio-Signature value for a request.
// Useful for testing and local replay tools.
func Sign(fullURL string, params url.Values, authToken string) string {
	return base64.StdEncoding.EncodeToString(computeSignature([]byte(authToken), fullURL, params))
}
