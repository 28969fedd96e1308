package api

import (
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/JakeFAU/sitecore/internal/domain"
	"github.com/JakeFAU/sitecore/internal/inbox"
)

type sendRequest struct {
	To             string `json:"to" validate:"required,email"`
	Subject        string `json:"subject" validate:"required,max=998"`
	HTML           string `json:"html" validate:"required"`
	ReplyToEmailID string `json:"replyToEmailId"`
}

type statusRequest struct {
	Status string `json:"status" validate:"required,oneof=unread read replied sent"`
}

func (s *Server) listEmails(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.EmailFilter{
		Status:    domain.EmailStatus(q.Get("status")),
		Direction: domain.EmailDirection(q.Get("direction")),
	}
	var ok bool
	if filter.Limit, ok = intParam(w, q.Get("limit"), "limit"); !ok {
		return
	}
	if filter.Offset, ok = intParam(w, q.Get("offset"), "offset"); !ok {
		return
	}
	emails, err := s.deps.Inbox.List(r.Context(), filter)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"emails": emails})
}

func (s *Server) getEmail(w http.ResponseWriter, r *http.Request) {
	email, err := s.deps.Inbox.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, email)
}

func (s *Server) getThread(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "threadID")
	// chi routes on RawPath when it is set, leaving the param escaped.
	if r.URL.RawPath != "" {
		if unescaped, err := url.PathUnescape(threadID); err == nil {
			threadID = unescaped
		}
	}
	emails, err := s.deps.Inbox.Thread(r.Context(), threadID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"thread_id": threadID, "emails": emails})
}

func (s *Server) sendEmail(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if !s.decodeAndValidate(w, r, &req, false) {
		return
	}
	email, err := s.deps.Inbox.SendReply(r.Context(), inbox.SendRequest{
		To:             req.To,
		Subject:        req.Subject,
		HTML:           req.HTML,
		ReplyToEmailID: req.ReplyToEmailID,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, email)
}

func (s *Server) updateEmailStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if !s.decodeAndValidate(w, r, &req, false) {
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.deps.Inbox.UpdateStatus(r.Context(), id, domain.EmailStatus(req.Status)); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": req.Status})
}

func intParam(w http.ResponseWriter, raw, name string) (int, bool) {
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		writeError(w, http.StatusBadRequest, name+" must be a non-negative integer")
		return 0, false
	}
	return n, true
}
