package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitecore/internal/domain"
	"github.com/JakeFAU/sitecore/internal/inbox"
	"github.com/JakeFAU/sitecore/internal/intelligence"
	pubmemory "github.com/JakeFAU/sitecore/internal/publisher/memory"
	"github.com/JakeFAU/sitecore/internal/storage/memory"
	"github.com/JakeFAU/sitecore/internal/upstream"
	"github.com/JakeFAU/sitecore/internal/webhook"
)

const testAPIKey = "admin-key"

var testNow = time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type seqIDs struct {
	prefix string
	n      atomic.Int64
}

func (s *seqIDs) NewID() (string, error) {
	return fmt.Sprintf("%s-%d", s.prefix, s.n.Add(1)), nil
}

type fakeFetcher struct {
	messages map[string]domain.InboundMessage
	calls    atomic.Int32
}

func (f *fakeFetcher) GetReceivedEmail(_ context.Context, id string) (domain.InboundMessage, error) {
	f.calls.Add(1)
	msg, ok := f.messages[id]
	if !ok {
		return domain.InboundMessage{}, &upstream.StatusError{Method: http.MethodGet, URL: "emails/" + id, Code: 404}
	}
	return msg, nil
}

type fakeSender struct {
	sent []domain.OutboundEmail
	err  error
}

func (f *fakeSender) Send(_ context.Context, msg domain.OutboundEmail) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.sent = append(f.sent, msg)
	return fmt.Sprintf("<out-%d@mail.site.test>", len(f.sent)), nil
}

type fakeCompetitors struct {
	analyze func(rawURL string, limit int) (intelligence.Outcome, error)
	refresh func(id string, limit int) (intelligence.Outcome, error)
	items   map[string]domain.Competitor
}

func (f *fakeCompetitors) Analyze(_ context.Context, rawURL string, limit int) (intelligence.Outcome, error) {
	return f.analyze(rawURL, limit)
}

func (f *fakeCompetitors) Refresh(_ context.Context, id string, limit int) (intelligence.Outcome, error) {
	return f.refresh(id, limit)
}

func (f *fakeCompetitors) List(context.Context) ([]domain.Competitor, error) {
	out := make([]domain.Competitor, 0, len(f.items))
	for _, c := range f.items {
		out = append(out, c)
	}
	return out, nil
}

func (f *fakeCompetitors) Get(_ context.Context, id string) (domain.Competitor, error) {
	c, ok := f.items[id]
	if !ok {
		return domain.Competitor{}, domain.ErrNotFound
	}
	return c, nil
}

func (f *fakeCompetitors) Delete(_ context.Context, id string) error {
	if _, ok := f.items[id]; !ok {
		return domain.ErrNotFound
	}
	delete(f.items, id)
	return nil
}

type harness struct {
	server      *Server
	verifier    *webhook.Verifier
	fetcher     *fakeFetcher
	sender      *fakeSender
	emails      *memory.EmailStore
	competitors *fakeCompetitors
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clock := fixedClock{now: testNow}
	verifier, err := webhook.NewVerifier("whsec_"+base64.StdEncoding.EncodeToString([]byte("test-secret")), webhook.DefaultTolerance, clock)
	require.NoError(t, err)

	h := &harness{
		verifier: verifier,
		fetcher: &fakeFetcher{messages: map[string]domain.InboundMessage{
			"em_1": {
				From:      "Jane Doe <jane@example.com>",
				To:        "hello@site.test",
				Subject:   "Seawall quote",
				Text:      "How much?",
				MessageID: "<m1@example.com>",
			},
		}},
		sender: &fakeSender{},
		emails: memory.NewEmailStore(),
		competitors: &fakeCompetitors{
			items: map[string]domain.Competitor{"c-1": {ID: "c-1", Name: "acme.example", URL: "https://acme.example"}},
		},
	}
	processor := webhook.NewProcessor(webhook.Deps{
		Fetcher:   h.fetcher,
		Emails:    h.emails,
		Leads:     memory.NewLeadStore(),
		Publisher: pubmemory.New(),
		Topic:     "site-events",
		Clock:     clock,
		IDs:       &seqIDs{prefix: "email"},
	})
	h.server = NewServer(Config{APIKey: testAPIKey, RequestTimeout: 5 * time.Second}, Deps{
		Competitors: h.competitors,
		Inbox:       inbox.NewService(h.emails, h.sender, "team@site.test", clock, &seqIDs{prefix: "out"}, zap.NewNop()),
		Processor:   processor,
		Verifier:    verifier,
		Logger:      zap.NewNop(),
	})
	return h
}

func (h *harness) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("X-API-Key", testAPIKey)
	rec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (h *harness) deliver(t *testing.T, body string, at time.Time) *httptest.ResponseRecorder {
	t.Helper()
	headers := h.verifier.Sign("msg_"+fmt.Sprint(at.Unix()), at, []byte(body))
	req := httptest.NewRequest(http.MethodPost, "/webhooks/email", strings.NewReader(body))
	req.Header.Set(webhook.HeaderID, headers.ID)
	req.Header.Set(webhook.HeaderTimestamp, headers.Timestamp)
	req.Header.Set(webhook.HeaderSignature, headers.Signature)
	rec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

const receivedBody = `{"type":"email.received","data":{"email_id":"em_1","from":"jane@example.com","to":["hello@site.test"],"subject":"Seawall quote"}}`

func TestServer_Probes(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		h.server.Handler().ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestServer_ReadyzReportsFailure(t *testing.T) {
	t.Parallel()

	srv := NewServer(Config{APIKey: testAPIKey}, Deps{Ready: func(context.Context) error { return errors.New("db down") }})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.NotContains(t, rec.Body.String(), "db down")
}

func TestServer_AdminRequiresAPIKey(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	tests := []struct {
		name   string
		header string
		value  string
		want   int
	}{
		{name: "missing", want: http.StatusUnauthorized},
		{name: "wrong key", header: "X-API-Key", value: "nope", want: http.StatusUnauthorized},
		{name: "api key header", header: "X-API-Key", value: testAPIKey, want: http.StatusOK},
		{name: "bearer token", header: "Authorization", value: "Bearer " + testAPIKey, want: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin/intelligence/competitors", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			rec := httptest.NewRecorder()
			h.server.Handler().ServeHTTP(rec, req)
			require.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestServer_AdminLockedWithoutConfiguredKey(t *testing.T) {
	t.Parallel()

	srv := NewServer(Config{}, Deps{Competitors: &fakeCompetitors{}})
	req := httptest.NewRequest(http.MethodGet, "/admin/intelligence/competitors", nil)
	req.Header.Set("X-API-Key", "")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWebhook_StoresVerifiedDelivery(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	rec := h.deliver(t, receivedBody, testNow)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[webhookResponse](t, rec)
	require.True(t, resp.Received)
	require.False(t, resp.Duplicate)
	require.Empty(t, resp.Error)

	emails, err := h.emails.ListEmails(context.Background(), domain.EmailFilter{})
	require.NoError(t, err)
	require.Len(t, emails, 1)
	require.Equal(t, "<m1@example.com>", emails[0].ThreadID)
}

func TestWebhook_ReplayIsDuplicate(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	require.Equal(t, http.StatusOK, h.deliver(t, receivedBody, testNow).Code)

	rec := h.deliver(t, receivedBody, testNow.Add(time.Second))
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, decode[webhookResponse](t, rec).Duplicate)

	emails, err := h.emails.ListEmails(context.Background(), domain.EmailFilter{})
	require.NoError(t, err)
	require.Len(t, emails, 1)
}

func TestWebhook_RejectsBadSignature(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	headers := h.verifier.Sign("msg_1", testNow, []byte(receivedBody))
	req := httptest.NewRequest(http.MethodPost, "/webhooks/email", strings.NewReader(receivedBody+" "))
	req.Header.Set(webhook.HeaderID, headers.ID)
	req.Header.Set(webhook.HeaderTimestamp, headers.Timestamp)
	req.Header.Set(webhook.HeaderSignature, headers.Signature)
	rec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Zero(t, h.fetcher.calls.Load())
}

func TestWebhook_RejectsStaleTimestamp(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	rec := h.deliver(t, receivedBody, testNow.Add(-301*time.Second))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Zero(t, h.fetcher.calls.Load())
}

func TestWebhook_RejectsWhenSecretUnset(t *testing.T) {
	t.Parallel()

	srv := NewServer(Config{APIKey: testAPIKey}, Deps{})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhooks/email", strings.NewReader(receivedBody)))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWebhook_AcknowledgesEverythingAfterVerification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		body      string
		wantError string
	}{
		{name: "unknown event type", body: `{"type":"email.bounced","data":{"email_id":"em_1"}}`},
		{name: "malformed payload", body: `{"type":`, wantError: "invalid payload"},
		{name: "fetch failure", body: `{"type":"email.received","data":{"email_id":"em_missing"}}`, wantError: "failed to fetch email content"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			rec := h.deliver(t, tt.body, testNow)
			require.Equal(t, http.StatusOK, rec.Code)
			resp := decode[webhookResponse](t, rec)
			require.True(t, resp.Received)
			require.Equal(t, tt.wantError, resp.Error)

			emails, err := h.emails.ListEmails(context.Background(), domain.EmailFilter{})
			require.NoError(t, err)
			require.Empty(t, emails)
		})
	}
}

func TestAnalyze_ErrorMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		body     string
		err      error
		wantCode int
		wantBody string
		hidden   string
	}{
		{name: "invalid json", body: `{"url":`, wantCode: http.StatusBadRequest},
		{name: "missing url", body: `{"limit":5}`, wantCode: http.StatusBadRequest, wantBody: "url failed required"},
		{name: "negative limit", body: `{"url":"https://x.example","limit":-1}`, wantCode: http.StatusBadRequest},
		{name: "invalid url", body: `{"url":"ftp://x.example"}`, err: fmt.Errorf("%w: bad scheme", domain.ErrInvalidURL), wantCode: http.StatusBadRequest},
		{
			name:     "conflict",
			body:     `{"url":"https://acme.example"}`,
			err:      &domain.ConflictError{ExistingID: "c-1", URL: "https://acme.example"},
			wantCode: http.StatusConflict,
			wantBody: `"existing_id":"c-1"`,
		},
		{
			name:     "crawl failed",
			body:     `{"url":"https://acme.example"}`,
			err:      &domain.CrawlError{Detail: "dns failure"},
			wantCode: http.StatusBadGateway,
			wantBody: "dns failure",
		},
		{
			name:     "crawl canceled by deadline",
			body:     `{"url":"https://acme.example"}`,
			err:      &domain.CrawlError{Detail: "canceled", Err: context.DeadlineExceeded},
			wantCode: http.StatusGatewayTimeout,
		},
		{name: "no content", body: `{"url":"https://acme.example"}`, err: domain.ErrNoContent, wantCode: http.StatusUnprocessableEntity},
		{
			name:     "datastore unavailable",
			body:     `{"url":"https://acme.example"}`,
			err:      domain.Unavailable("find competitor", errors.New("pq: password authentication failed")),
			wantCode: http.StatusInternalServerError,
			wantBody: "internal error",
			hidden:   "password",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.competitors.analyze = func(string, int) (intelligence.Outcome, error) {
				return intelligence.Outcome{}, tt.err
			}
			rec := h.do(t, http.MethodPost, "/admin/intelligence/analyze", tt.body)
			require.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			if tt.wantBody != "" {
				require.Contains(t, rec.Body.String(), tt.wantBody)
			}
			if tt.hidden != "" {
				require.NotContains(t, rec.Body.String(), tt.hidden)
			}
		})
	}
}

func TestAnalyze_Created(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	var gotURL string
	var gotLimit int
	h.competitors.analyze = func(rawURL string, limit int) (intelligence.Outcome, error) {
		gotURL, gotLimit = rawURL, limit
		return intelligence.Outcome{
			Competitor: domain.Competitor{ID: "c-2", URL: rawURL, Insights: domain.Insights{Tone: "friendly"}},
			Partial:    true,
		}, nil
	}
	rec := h.do(t, http.MethodPost, "/admin/intelligence/analyze", `{"url":"https://new.example","limit":7}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, "https://new.example", gotURL)
	require.Equal(t, 7, gotLimit)

	out := decode[intelligence.Outcome](t, rec)
	require.Equal(t, "c-2", out.Competitor.ID)
	require.True(t, out.Partial)
}

func TestCompetitorRoutes(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.competitors.refresh = func(id string, limit int) (intelligence.Outcome, error) {
		if id != "c-1" {
			return intelligence.Outcome{}, domain.ErrNotFound
		}
		return intelligence.Outcome{Competitor: domain.Competitor{ID: id}, ContentChanged: true}, nil
	}

	rec := h.do(t, http.MethodPost, "/admin/intelligence/competitors/c-1/refresh", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.True(t, decode[intelligence.Outcome](t, rec).ContentChanged)

	require.Equal(t, http.StatusNotFound, h.do(t, http.MethodPost, "/admin/intelligence/competitors/c-9/refresh", `{"limit":3}`).Code)
	require.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/admin/intelligence/competitors/c-1", "").Code)
	require.Equal(t, http.StatusNotFound, h.do(t, http.MethodGet, "/admin/intelligence/competitors/c-9", "").Code)
	require.Equal(t, http.StatusNoContent, h.do(t, http.MethodDelete, "/admin/intelligence/competitors/c-1", "").Code)
	require.Equal(t, http.StatusNotFound, h.do(t, http.MethodDelete, "/admin/intelligence/competitors/c-1", "").Code)

	list := decode[map[string][]domain.Competitor](t, h.do(t, http.MethodGet, "/admin/intelligence/competitors", ""))
	require.Empty(t, list["competitors"])
}

func TestEmailRoutes_ReplyFlow(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	require.Equal(t, http.StatusOK, h.deliver(t, receivedBody, testNow).Code)

	list := decode[map[string][]domain.Email](t, h.do(t, http.MethodGet, "/admin/emails?status=unread&limit=10", ""))
	require.Len(t, list["emails"], 1)
	original := list["emails"][0]

	body, err := json.Marshal(map[string]string{
		"to":             "jane@example.com",
		"subject":        "Re: Seawall quote",
		"html":           "<p>About $10k.</p>",
		"replyToEmailId": original.ID,
	})
	require.NoError(t, err)
	rec := h.do(t, http.MethodPost, "/admin/emails/send", string(body))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	reply := decode[domain.Email](t, rec)
	require.Equal(t, original.ThreadID, reply.ThreadID)
	require.Equal(t, domain.StatusSent, reply.Status)
	require.Equal(t, "<m1@example.com>", h.sender.sent[0].InReplyTo)

	got := decode[domain.Email](t, h.do(t, http.MethodGet, "/admin/emails/"+original.ID, ""))
	require.Equal(t, domain.StatusReplied, got.Status)

	thread := h.do(t, http.MethodGet, "/admin/emails/threads/"+url.PathEscape(original.ThreadID), "")
	require.Equal(t, http.StatusOK, thread.Code)
	var threadBody struct {
		ThreadID string         `json:"thread_id"`
		Emails   []domain.Email `json:"emails"`
	}
	require.NoError(t, json.Unmarshal(thread.Body.Bytes(), &threadBody))
	require.Equal(t, "<m1@example.com>", threadBody.ThreadID)
	require.Len(t, threadBody.Emails, 2)
	require.Equal(t, domain.DirectionInbound, threadBody.Emails[0].Direction)
}

func TestEmailRoutes_Validation(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	require.Equal(t, http.StatusBadRequest, h.do(t, http.MethodGet, "/admin/emails?limit=abc", "").Code)
	require.Equal(t, http.StatusBadRequest, h.do(t, http.MethodGet, "/admin/emails?status=archived", "").Code)
	require.Equal(t, http.StatusBadRequest, h.do(t, http.MethodPost, "/admin/emails/send", `{"to":"not-an-address","subject":"x","html":"y"}`).Code)
	require.Equal(t, http.StatusNotFound, h.do(t, http.MethodPost, "/admin/emails/send", `{"to":"a@b.example","subject":"x","html":"y","replyToEmailId":"missing"}`).Code)
	require.Equal(t, http.StatusBadRequest, h.do(t, http.MethodPatch, "/admin/emails/e-1", `{"status":"archived"}`).Code)
	require.Equal(t, http.StatusNotFound, h.do(t, http.MethodPatch, "/admin/emails/e-1", `{"status":"read"}`).Code)
	require.Equal(t, http.StatusNotFound, h.do(t, http.MethodGet, "/admin/emails/threads/nothing", "").Code)
}

func TestEmailRoutes_ThreadIDsWithEscapes(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	for i, threadID := range []string{"<50%25off@promo.test>", "<a/b@site.test>", "<100%@promo.test>"} {
		require.NoError(t, h.emails.InsertEmail(context.Background(), domain.Email{
			ID:        fmt.Sprintf("t-%d", i),
			MessageID: threadID,
			ThreadID:  threadID,
			Direction: domain.DirectionInbound,
			Status:    domain.StatusUnread,
			CreatedAt: testNow,
		}))
	}

	for _, threadID := range []string{"<50%25off@promo.test>", "<a/b@site.test>", "<100%@promo.test>"} {
		rec := h.do(t, http.MethodGet, "/admin/emails/threads/"+url.PathEscape(threadID), "")
		require.Equal(t, http.StatusOK, rec.Code, threadID)
		body := decode[struct {
			ThreadID string         `json:"thread_id"`
			Emails   []domain.Email `json:"emails"`
		}](t, rec)
		require.Equal(t, threadID, body.ThreadID)
		require.Len(t, body.Emails, 1)
	}
}

func TestEmailRoutes_ProviderFailureIsBadGateway(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.sender.err = fmt.Errorf("send: %w", &upstream.StatusError{Method: http.MethodPost, URL: "emails", Code: 500, Body: "boom"})
	rec := h.do(t, http.MethodPost, "/admin/emails/send", `{"to":"a@b.example","subject":"x","html":"y"}`)
	require.Equal(t, http.StatusBadGateway, rec.Code)
	require.NotContains(t, rec.Body.String(), "boom")
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	handler := recoverMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRequestIDMiddleware(t *testing.T) {
	t.Parallel()

	var seen string
	handler := requestIDMiddleware(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = RequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", bytes.NewReader(nil))
	req.Header.Set("X-Request-ID", "req-123")
	handler.ServeHTTP(rec, req)
	require.Equal(t, "req-123", seen)
	require.Equal(t, "req-123", rec.Header().Get("X-Request-ID"))

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}
