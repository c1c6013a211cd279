package model

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func embeddingServer(t *testing.T, dim int, status int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}

		vec := make([]float64, dim)
		for i := range vec {
			vec[i] = 0.1
		}
		resp := map[string]any{
			"data": []map[string]any{{"embedding": vec}},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func TestEmbedSuccess(t *testing.T) {
	srv := embeddingServer(t, EmbeddingDim, http.StatusOK)
	defer srv.Close()
	t.Setenv("OPENAI_BASE_URL", srv.URL)

	e := NewOpenAIEmbedder("test-key", "text-embedding-ada-002")
	vec, err := e.Embed(context.Background(), "some chunk text")

	require.NoError(t, err)
	assert.Len(t, vec, EmbeddingDim)
}

func TestEmbedMissingKey(t *testing.T) {
	e := NewOpenAIEmbedder("", "text-embedding-ada-002")
	_, err := e.Embed(context.Background(), "text")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "OPENAI_API_KEY")
}

func TestEmbedProviderError(t *testing.T) {
	srv := embeddingServer(t, EmbeddingDim, http.StatusTooManyRequests)
	defer srv.Close()
	t.Setenv("OPENAI_BASE_URL", srv.URL)

	e := NewOpenAIEmbedder("test-key", "text-embedding-ada-002")
	_, err := e.Embed(context.Background(), "text")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestEmbedDimensionMismatch(t *testing.T) {
	srv := embeddingServer(t, 768, http.StatusOK)
	defer srv.Close()
	t.Setenv("OPENAI_BASE_URL", srv.URL)

	e := NewOpenAIEmbedder("test-key", "text-embedding-ada-002")
	_, err := e.Embed(context.Background(), "text")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "dimension")
}
