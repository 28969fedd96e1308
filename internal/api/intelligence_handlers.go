package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

type analyzeRequest struct {
	URL   string `json:"url" validate:"required,url"`
	Limit int    `json:"limit" validate:"gte=0,lte=1000"`
}

type refreshRequest struct {
	Limit int `json:"limit" validate:"gte=0,lte=1000"`
}

func (s *Server) analyzeCompetitor(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if !s.decodeAndValidate(w, r, &req, false) {
		return
	}
	outcome, err := s.deps.Competitors.Analyze(r.Context(), req.URL, req.Limit)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, outcome)
}

func (s *Server) refreshCompetitor(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !s.decodeAndValidate(w, r, &req, true) {
		return
	}
	outcome, err := s.deps.Competitors.Refresh(r.Context(), chi.URLParam(r, "id"), req.Limit)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

func (s *Server) listCompetitors(w http.ResponseWriter, r *http.Request) {
	competitors, err := s.deps.Competitors.List(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"competitors": competitors})
}

func (s *Server) getCompetitor(w http.ResponseWriter, r *http.Request) {
	competitor, err := s.deps.Competitors.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, competitor)
}

func (s *Server) deleteCompetitor(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Competitors.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
