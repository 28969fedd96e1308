package resend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sitecore/internal/domain"
	"github.com/JakeFAU/sitecore/internal/upstream"
)

func TestGetReceivedEmail(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/emails/receiving/em_123", r.URL.Path)
		require.Equal(t, "Bearer re_key", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]string{
			"from":        "Jane Doe <jane@example.com>",
			"to":          "hello@site.test",
			"subject":     "Quote",
			"text":        "hi",
			"message_id":  "<m2@example.com>",
			"in_reply_to": "<m1@site.test>",
		})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, APIKey: "re_key"})
	msg, err := c.GetReceivedEmail(context.Background(), "em_123")
	require.NoError(t, err)
	require.Equal(t, "<m2@example.com>", msg.MessageID)
	require.Equal(t, "<m1@site.test>", msg.InReplyTo)
	require.Equal(t, "Jane Doe <jane@example.com>", msg.From)
}

func TestGetReceivedEmail_ProviderError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	_, err := c.GetReceivedEmail(context.Background(), "missing")

	var statusErr *upstream.StatusError
	require.True(t, errors.As(err, &statusErr))
	require.Equal(t, http.StatusNotFound, statusErr.Code)
}

func TestSend_ThreadingHeaders(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/emails", r.URL.Path)
		var body sendRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "team@site.test", body.From)
		require.Equal(t, []string{"jane@example.com"}, body.To)
		require.Equal(t, "<m1@example.com>", body.Headers["In-Reply-To"])
		require.Equal(t, "<m1@example.com>", body.Headers["References"])
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "out_1"})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, FromAddress: "team@site.test"})
	id, err := c.Send(context.Background(), domain.OutboundEmail{
		To:         "jane@example.com",
		Subject:    "Re: Quote",
		HTML:       "<p>Thanks</p>",
		InReplyTo:  "<m1@example.com>",
		References: "<m1@example.com>",
	})
	require.NoError(t, err)
	require.Equal(t, "out_1", id)
}

func TestSend_RequiresFromAddress(t *testing.T) {
	t.Parallel()

	c := New(Config{BaseURL: "http://unused"})
	_, err := c.Send(context.Background(), domain.OutboundEmail{To: "x@example.com"})
	require.Error(t, err)
}
