package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitecore/internal/domain"
	"github.com/JakeFAU/sitecore/internal/inbox"
	"github.com/JakeFAU/sitecore/internal/intelligence"
	"github.com/JakeFAU/sitecore/internal/metrics"
	"github.com/JakeFAU/sitecore/internal/webhook"
)

const maxBodyBytes = 1 << 20

// CompetitorService is the orchestrator surface used by the admin routes.
type CompetitorService interface {
	Analyze(ctx context.Context, rawURL string, pageLimit int) (intelligence.Outcome, error)
	Refresh(ctx context.Context, id string, pageLimit int) (intelligence.Outcome, error)
	List(ctx context.Context) ([]domain.Competitor, error)
	Get(ctx context.Context, id string) (domain.Competitor, error)
	Delete(ctx context.Context, id string) error
}

// InboxService is the email surface used by the admin routes.
type InboxService interface {
	List(ctx context.Context, filter domain.EmailFilter) ([]domain.Email, error)
	Get(ctx context.Context, id string) (domain.Email, error)
	Thread(ctx context.Context, threadID string) ([]domain.Email, error)
	UpdateStatus(ctx context.Context, id string, status domain.EmailStatus) error
	SendReply(ctx context.Context, req inbox.SendRequest) (domain.Email, error)
}

// WebhookProcessor handles verified inbound email deliveries.
type WebhookProcessor interface {
	Process(ctx context.Context, ev webhook.Event) webhook.Result
}

// SignatureVerifier authenticates webhook deliveries.
type SignatureVerifier interface {
	Verify(body []byte, h webhook.Headers) error
}

// Config controls server behavior.
type Config struct {
	APIKey         string
	RequestTimeout time.Duration
}

// Deps bundles the handlers' collaborators. A nil Verifier rejects every webhook.
type Deps struct {
	Competitors CompetitorService
	Inbox       InboxService
	Processor   WebhookProcessor
	Verifier    SignatureVerifier
	// Ready reports downstream readiness; nil means always ready.
	Ready  func(ctx context.Context) error
	Logger *zap.Logger
}

// Server wires HTTP handlers to the services.
type Server struct {
	router   chi.Router
	deps     Deps
	validate *validator.Validate
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(cfg Config, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		deps:     deps,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger.Named("api"),
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Post("/webhooks/email", s.emailWebhook)

	r.Route("/admin", func(r chi.Router) {
		r.Use(apiKeyMiddleware(cfg.APIKey))
		if cfg.RequestTimeout > 0 {
			r.Use(timeoutMiddleware(cfg.RequestTimeout))
		}
		r.Route("/intelligence", func(r chi.Router) {
			r.Post("/analyze", s.analyzeCompetitor)
			r.Get("/competitors", s.listCompetitors)
			r.Route("/competitors/{id}", func(r chi.Router) {
				r.Get("/", s.getCompetitor)
				r.Delete("/", s.deleteCompetitor)
				r.Post("/refresh", s.refreshCompetitor)
			})
		})
		r.Route("/emails", func(r chi.Router) {
			r.Get("/", s.listEmails)
			r.Post("/send", s.sendEmail)
			r.Get("/threads/{threadID}", s.getThread)
			r.Get("/{id}", s.getEmail)
			r.Patch("/{id}", s.updateEmailStatus)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.deps.Ready(ctx); err != nil {
			s.logger.Warn("Readiness check failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// decodeAndValidate reads a JSON body into dst and runs struct validation.
// An empty body is accepted when allowEmpty is set.
func (s *Server) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any, allowEmpty bool) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !(allowEmpty && errors.Is(err, io.EOF)) {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "invalid request"
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type requestIDKey struct{}

// RequestID returns the id assigned by the request id middleware.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("Request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", RequestID(r.Context())),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("Panic recovered", zap.Any("panic", rec), zap.String("path", r.URL.Path))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, `{"error":"request timed out"}`)
	}
}

// apiKeyMiddleware accepts X-API-Key or a bearer token. An unset key locks the routes.
func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			}
			if expected == "" || subtle.ConstantTimeCompare([]byte(key), []byte(expected)) != 1 {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *statusRecorder) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
