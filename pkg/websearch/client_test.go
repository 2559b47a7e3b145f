package websearch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_Search(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req searchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-key", req.APIKey)
		assert.Equal(t, "latest go release", req.Query)

		json.NewEncoder(w).Encode(map[string]interface{}{
			"results": []map[string]string{
				{"title": "Go 1.24 released", "url": "https://go.dev/blog", "content": "Release notes."},
			},
		})
	}))
	defer server.Close()

	c := NewClient("test-key", WithBaseURL(server.URL))

	text, err := c.Search(context.Background(), "latest go release")
	require.NoError(t, err)
	assert.Contains(t, text, "Go 1.24 released")
	assert.Contains(t, text, "https://go.dev/blog")
}

func TestClient_SearchErrors(t *testing.T) {
	t.Run("missing api key", func(t *testing.T) {
		c := NewClient("")
		_, err := c.Search(context.Background(), "query")
		assert.Error(t, err)
	})

	t.Run("empty query", func(t *testing.T) {
		c := NewClient("key")
		_, err := c.Search(context.Background(), "  ")
		assert.Error(t, err)
	})

	t.Run("api failure", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "quota exceeded", http.StatusTooManyRequests)
		}))
		defer server.Close()

		c := NewClient("key", WithBaseURL(server.URL))
		_, err := c.Search(context.Background(), "query")
		assert.ErrorContains(t, err, "429")
	})

	t.Run("unreachable endpoint", func(t *testing.T) {
		c := NewClient("key", WithBaseURL("http://127.0.0.1:1"))
		_, err := c.Search(context.Background(), "query")
		assert.Error(t, err)
	})
}

func TestClient_SearchNoResults(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"results": []interface{}{}})
	}))
	defer server.Close()

	c := NewClient("key", WithBaseURL(server.URL))
	text, err := c.Search(context.Background(), "query")
	require.NoError(t, err)
	assert.Equal(t, "No web results found.", text)
}
