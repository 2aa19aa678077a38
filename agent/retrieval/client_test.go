package retrieval

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSearchClientQuery(t *testing.T) {
	t.Parallel()

	var gotAuth string
	var gotBody queryRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(queryResponse{
			Result: []ScoredDocument{
				{Content: "doc1", Metadata: map[string]any{"product_id": float64(42)}, Distance: 0.2},
			},
		})
	}))
	defer srv.Close()

	client, err := NewSearchClient(Config{URL: srv.URL, Token: "tok", Timeout: 2 * time.Second})
	require.NoError(t, err)

	docs, err := client.Query(context.Background(), CollectionProducts, "running shoes", 5, map[string]any{"brand": "acme"})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	require.Equal(t, "doc1", docs[0].Content)

	require.Equal(t, "Bearer tok", gotAuth)
	require.Equal(t, CollectionProducts, gotBody.Collection)
	require.Equal(t, "running shoes", gotBody.Query)
	require.Equal(t, 5, gotBody.K)
	require.Equal(t, map[string]any{"brand": "acme"}, gotBody.Filter)
}

func TestSearchClientServiceError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(queryResponse{Error: "collection not found"})
	}))
	defer srv.Close()

	client, err := NewSearchClient(Config{URL: srv.URL})
	require.NoError(t, err)

	_, err = client.Query(context.Background(), "missing", "q", 3, nil)
	require.EqualError(t, err, "collection not found")
}

func TestSearchClientHTTPError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	client, err := NewSearchClient(Config{URL: srv.URL})
	require.NoError(t, err)

	_, err = client.Query(context.Background(), CollectionHandbook, "q", 3, nil)
	require.ErrorContains(t, err, "status=500")
}

func TestSearchClientValidation(t *testing.T) {
	t.Parallel()

	_, err := NewSearchClient(Config{URL: ""})
	require.Error(t, err)

	_, err = NewSearchClient(Config{URL: "not a url"})
	require.Error(t, err)

	client, err := NewSearchClient(Config{URL: "http://localhost:1"})
	require.NoError(t, err)

	_, err = client.Query(context.Background(), "", "q", 3, nil)
	require.Error(t, err)
	_, err = client.Query(context.Background(), CollectionProducts, "q", 0, nil)
	require.Error(t, err)
}
