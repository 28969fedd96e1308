package api

import (
	"encoding/json"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitecore/internal/metrics"
	"github.com/JakeFAU/sitecore/internal/webhook"
)

type webhookResponse struct {
	Received  bool   `json:"received"`
	Duplicate bool   `json:"duplicate,omitempty"`
	Error     string `json:"error,omitempty"`
}

// emailWebhook verifies a delivery and acknowledges every verified one with 200.
func (s *Server) emailWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	headers := webhook.HeadersFrom(r.Header)
	if s.deps.Verifier == nil {
		s.logger.Error("Webhook rejected: no signing secret configured")
		metrics.ObserveWebhook("rejected")
		writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	}
	if err := s.deps.Verifier.Verify(body, headers); err != nil {
		s.logger.Warn("Webhook signature rejected", zap.String("svix_id", headers.ID), zap.Error(err))
		metrics.ObserveWebhook("rejected")
		writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	var ev webhook.Event
	if err := json.Unmarshal(body, &ev); err != nil {
		s.logger.Warn("Verified webhook has malformed payload", zap.String("svix_id", headers.ID), zap.Error(err))
		metrics.ObserveWebhook("malformed")
		writeJSON(w, http.StatusOK, webhookResponse{Received: true, Error: "invalid payload"})
		return
	}

	res := s.deps.Processor.Process(r.Context(), ev)
	resp := webhookResponse{Received: true}
	switch res.Outcome {
	case webhook.OutcomeDuplicate:
		resp.Duplicate = true
	case webhook.OutcomeFetchFailed:
		resp.Error = "failed to fetch email content"
	case webhook.OutcomeStoreFailed:
		resp.Error = "failed to store email"
	}
	writeJSON(w, http.StatusOK, resp)
}
