package api

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitecore/internal/domain"
	"github.com/JakeFAU/sitecore/internal/upstream"
)

// writeServiceError maps domain errors onto status codes. Unclassified errors
// are logged in full and answered with a generic message.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		conflict  *domain.ConflictError
		crawlErr  *domain.CrawlError
		statusErr *upstream.StatusError
	)
	switch {
	case errors.As(err, &conflict):
		writeJSON(w, http.StatusConflict, map[string]string{
			"error":       conflict.Error(),
			"existing_id": conflict.ExistingID,
		})
	case errors.Is(err, domain.ErrInvalidURL), errors.Is(err, domain.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, domain.ErrNoContent):
		writeError(w, http.StatusUnprocessableEntity, "crawl returned no content")
	case errors.Is(err, context.DeadlineExceeded):
		s.logger.Warn("Request deadline exceeded", zap.String("path", r.URL.Path), zap.Error(err))
		writeError(w, http.StatusGatewayTimeout, "request timed out")
	case errors.As(err, &crawlErr):
		s.logger.Warn("Crawl failed", zap.String("path", r.URL.Path), zap.Error(err))
		msg := "crawl failed"
		if crawlErr.Detail != "" {
			msg += ": " + crawlErr.Detail
		}
		writeError(w, http.StatusBadGateway, msg)
	case errors.As(err, &statusErr):
		s.logger.Error("Upstream provider error", zap.String("path", r.URL.Path), zap.Error(err))
		writeError(w, http.StatusBadGateway, "upstream provider error")
	default:
		s.logger.Error("Request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", RequestID(r.Context())),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
