package ai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerate(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		var body completionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "gpt-test", body.Model)
		require.Len(t, body.Messages, 1)
		require.Equal(t, "user", body.Messages[0].Role)
		require.Equal(t, "analyze this", body.Messages[0].Content)
		_, _ = io.WriteString(w, `{"choices":[{"message":{"role":"assistant","content":"{\"tone\":\"calm\"}"}}]}`)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL + "/v1", Model: "gpt-test", MaxTokens: 100})
	out, err := c.Generate(context.Background(), "analyze this")
	require.NoError(t, err)
	require.Equal(t, `{"tone":"calm"}`, out)
}

func TestGenerate_NoChoices(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"choices":[]}`)
	}))
	defer srv.Close()

	_, err := New(Config{BaseURL: srv.URL}).Generate(context.Background(), "x")
	require.ErrorContains(t, err, "no choices")
}
