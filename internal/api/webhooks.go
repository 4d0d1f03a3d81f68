package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	relaymw "github.com/samhotchkiss/otter-relay/internal/middleware"
	"github.com/samhotchkiss/otter-relay/internal/processor"
	"github.com/samhotchkiss/otter-relay/internal/relaymetrics"
	"github.com/samhotchkiss/otter-relay/internal/session"
	"github.com/samhotchkiss/otter-relay/internal/webhook"
	"github.com/samhotchkiss/otter-relay/internal/ws"
)

const webhookApology = "Sorry, I encountered an error processing your message. Please try again later."

// handleWhatsApp answers every accepted delivery with TwiML. Failures below
// the signature and allowlist checks never surface as HTTP errors.
func (h *handlers) handleWhatsApp(w http.ResponseWriter, r *http.Request) {
	msg, err := webhook.ParseMessage(r)
	if err != nil {
		h.deps.Logger.Error("invalid whatsapp payload", "err", err)
		webhook.WriteTwiML(w, webhookApology)
		return
	}
	if h.deps.Processor == nil {
		h.deps.Logger.Error("message processor not configured")
		webhook.WriteTwiML(w, webhookApology)
		return
	}

	// The allowlist records the normalized sender; without it, use the form.
	sender := relaymw.SenderFromContext(r.Context())
	if sender == "" {
		sender = msg.From
	}
	text := h.deps.Processor.Handle(r.Context(), processor.Inbound{
		From:        sender,
		Body:        msg.Body,
		ProfileName: msg.ProfileName,
		MessageSID:  msg.MessageSID,
	})
	webhook.WriteTwiML(w, text)
}

// handleStatusCallback always answers 204 so Twilio does not retry.
func (h *handlers) handleStatusCallback(w http.ResponseWriter, r *http.Request) {
	defer w.WriteHeader(http.StatusNoContent)

	cb, err := webhook.ParseStatusCallback(r)
	if err != nil {
		h.deps.Logger.Error("invalid status callback", "err", err)
		return
	}

	relaymetrics.RecordDelivery(cb.Status)
	switch {
	case !webhook.IsSupportedStatus(cb.Status):
		h.deps.Logger.Warn("unknown delivery status", "message_sid", cb.MessageSID, "status", cb.Status)
	case cb.Failed():
		h.deps.Logger.Warn("message delivery failed",
			"message_sid", cb.MessageSID,
			"status", cb.Status,
			"error_code", cb.ErrorCode,
			"error_message", cb.ErrorMessage,
		)
	default:
		h.deps.Logger.Info("message status", "message_sid", cb.MessageSID, "status", cb.Status)
	}

	if h.deps.Hub != nil {
		cb.To = processor.MaskSender(session.NormalizeSenderID(cb.To))
		_ = h.deps.Hub.Publish(ws.MessageDeliveryStatus, cb)
	}
}

// HistoryResponse is the body of GET /ops/history/{sender}.
type HistoryResponse struct {
	Sender string         `json:"sender"`
	Turns  []session.Turn `json:"turns"`
}

// handleHistory lets operators read a sender's recent turns.
func (h *handlers) handleHistory(w http.ResponseWriter, r *http.Request) {
	if !h.opsAuthorized(r) {
		sendJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}
	if h.deps.History == nil {
		sendJSON(w, http.StatusNotFound, map[string]string{"error": "history not available"})
		return
	}

	sender := session.NormalizeSenderID(chi.URLParam(r, "sender"))
	if sender == "" {
		sendJSON(w, http.StatusBadRequest, map[string]string{"error": "sender is required"})
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			sendJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a non-negative integer"})
			return
		}
		limit = n
	}

	sendJSON(w, http.StatusOK, HistoryResponse{
		Sender: sender,
		Turns:  h.deps.History.History(r.Context(), sender, limit),
	})
}
