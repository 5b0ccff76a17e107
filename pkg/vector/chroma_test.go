package vector

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ontograph/pkg/apperrors"
	"github.com/ekaya-inc/ontograph/pkg/config"
	"github.com/ekaya-inc/ontograph/pkg/retry"
)

const collectionsPath = "/api/v2/tenants/default_tenant/databases/default_database/collections"

func testVectorConfig(baseURL string) *config.VectorConfig {
	return &config.VectorConfig{
		BaseURL:        baseURL,
		Tenant:         "default_tenant",
		Database:       "default_database",
		Collection:     "ontograph",
		TimeoutSeconds: 5,
	}
}

// registerCollectionLookup makes the bootstrap collection lookup succeed.
func registerCollectionLookup(mux *http.ServeMux) {
	mux.HandleFunc("GET "+collectionsPath+"/ontograph", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(chromaCollection{ID: "col-1", Name: "ontograph"})
	})
}

func fastRetries(t *testing.T) {
	t.Helper()
	old := ensureRetryConfig
	ensureRetryConfig = &retry.Config{
		MaxRetries:   4,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
	t.Cleanup(func() { ensureRetryConfig = old })
}

func TestNewChromaStore_RequiresBaseURL(t *testing.T) {
	_, err := NewChromaStore(context.Background(), &config.VectorConfig{}, zap.NewNop())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "base_url is required")
}

func TestNewChromaStore_UsesExistingCollection(t *testing.T) {
	mux := http.NewServeMux()
	registerCollectionLookup(mux)
	server := httptest.NewServer(mux)
	defer server.Close()

	store, err := NewChromaStore(context.Background(), testVectorConfig(server.URL), zap.NewNop())

	require.NoError(t, err)
	assert.Equal(t, "col-1", store.collectionID)
}

func TestNewChromaStore_CreatesMissingCollection(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+collectionsPath+"/ontograph", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	})

	var createReq map[string]string
	mux.HandleFunc("POST "+collectionsPath, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&createReq))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(chromaCollection{ID: "col-new", Name: "ontograph"})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	store, err := NewChromaStore(context.Background(), testVectorConfig(server.URL), zap.NewNop())

	require.NoError(t, err)
	assert.Equal(t, "col-new", store.collectionID)
	assert.Equal(t, "ontograph", createReq["name"])
}

func TestNewChromaStore_RetriesUntilAvailable(t *testing.T) {
	fastRetries(t)

	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) <= 4 {
			http.Error(w, "service unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(chromaCollection{ID: "col-1", Name: "ontograph"})
	}))
	defer server.Close()

	store, err := NewChromaStore(context.Background(), testVectorConfig(server.URL), zap.NewNop())

	require.NoError(t, err)
	assert.Equal(t, "col-1", store.collectionID)
	assert.GreaterOrEqual(t, attempts.Load(), int32(5))
}

func TestNewChromaStore_FailsAfterRetries(t *testing.T) {
	fastRetries(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := NewChromaStore(context.Background(), testVectorConfig(server.URL), zap.NewNop())

	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrStoreUnavailable))
	assert.Contains(t, err.Error(), "ensuring collection")
}

func TestUpsert_SendsDocuments(t *testing.T) {
	mux := http.NewServeMux()
	registerCollectionLookup(mux)

	var upsertReq chromaUpsertRequest
	mux.HandleFunc("POST "+collectionsPath+"/col-1/upsert", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&upsertReq))
		w.WriteHeader(http.StatusCreated)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	store, err := NewChromaStore(context.Background(), testVectorConfig(server.URL), zap.NewNop())
	require.NoError(t, err)

	err = store.Upsert(context.Background(), []Document{
		{
			ID:        "node-svc-1",
			Embedding: []float32{0.1, 0.2},
			Content:   "Service billing owned by Payments",
			Metadata:  map[string]any{"kind": "node", "node_id": "svc-1"},
		},
	})

	require.NoError(t, err)
	require.Len(t, upsertReq.IDs, 1)
	assert.Equal(t, "node-svc-1", upsertReq.IDs[0])
	assert.Equal(t, []float32{0.1, 0.2}, upsertReq.Embeddings[0])
	assert.Equal(t, "Service billing owned by Payments", upsertReq.Documents[0])
	assert.Equal(t, "node", upsertReq.Metadatas[0]["kind"])
}

func TestUpsert_EmptyIsNoop(t *testing.T) {
	mux := http.NewServeMux()
	registerCollectionLookup(mux)
	server := httptest.NewServer(mux)
	defer server.Close()

	store, err := NewChromaStore(context.Background(), testVectorConfig(server.URL), zap.NewNop())
	require.NoError(t, err)

	// No upsert route registered: a request would 404 and fail the call.
	assert.NoError(t, store.Upsert(context.Background(), nil))
}

func TestSearch_MapsHits(t *testing.T) {
	mux := http.NewServeMux()
	registerCollectionLookup(mux)
	mux.HandleFunc("POST "+collectionsPath+"/col-1/query", func(w http.ResponseWriter, r *http.Request) {
		var req chromaQueryRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, 8, req.NResults)
		require.Len(t, req.QueryEmbeddings, 1)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(chromaQueryResponse{
			IDs:       [][]string{{"chunk-1", "node-emb-2"}},
			Distances: [][]float32{{0.25, 1.0}},
			Documents: [][]string{{"billing runbook excerpt", "Service billing"}},
			Metadatas: [][]map[string]any{{
				{"kind": "chunk", "title": "runbook"},
				{"kind": "node", "node_id": "svc-1"},
			}},
		})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	store, err := NewChromaStore(context.Background(), testVectorConfig(server.URL), zap.NewNop())
	require.NoError(t, err)

	hits, err := store.Search(context.Background(), []float32{0.5, 0.5}, 8)

	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "chunk-1", hits[0].ID)
	assert.InDelta(t, 0.8, hits[0].Score, 1e-9) // 1/(1+0.25)
	assert.Equal(t, "billing runbook excerpt", hits[0].Content)
	assert.Equal(t, "chunk", hits[0].Metadata["kind"])
	assert.Equal(t, "node-emb-2", hits[1].ID)
	assert.InDelta(t, 0.5, hits[1].Score, 1e-9) // 1/(1+1.0)
	assert.Equal(t, "svc-1", hits[1].Metadata["node_id"])
}

func TestSearch_EmptyResults(t *testing.T) {
	mux := http.NewServeMux()
	registerCollectionLookup(mux)
	mux.HandleFunc("POST "+collectionsPath+"/col-1/query", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(chromaQueryResponse{IDs: [][]string{{}}})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	store, err := NewChromaStore(context.Background(), testVectorConfig(server.URL), zap.NewNop())
	require.NoError(t, err)

	hits, err := store.Search(context.Background(), []float32{0.5}, 8)

	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestSearch_ServerErrorIsStoreUnavailable(t *testing.T) {
	mux := http.NewServeMux()
	registerCollectionLookup(mux)
	mux.HandleFunc("POST "+collectionsPath+"/col-1/query", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "internal", http.StatusInternalServerError)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	store, err := NewChromaStore(context.Background(), testVectorConfig(server.URL), zap.NewNop())
	require.NoError(t, err)

	_, err = store.Search(context.Background(), []float32{0.5}, 8)

	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrStoreUnavailable))
}

func TestPing(t *testing.T) {
	mux := http.NewServeMux()
	registerCollectionLookup(mux)
	healthy := true
	mux.HandleFunc("GET /api/v2/heartbeat", func(w http.ResponseWriter, r *http.Request) {
		if !healthy {
			http.Error(w, "down", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	store, err := NewChromaStore(context.Background(), testVectorConfig(server.URL), zap.NewNop())
	require.NoError(t, err)

	assert.NoError(t, store.Ping(context.Background()))

	healthy = false
	err = store.Ping(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrStoreUnavailable))
}

func TestMockVectorStore_Defaults(t *testing.T) {
	m := NewMockStore()

	hits, err := m.Search(context.Background(), []float32{0.1}, 8)
	require.NoError(t, err)
	assert.Empty(t, hits)
	assert.NoError(t, m.Upsert(context.Background(), nil))
	assert.Equal(t, 1, m.SearchCalls)
	assert.Equal(t, 1, m.UpsertCalls)

	m.Reset()
	assert.Equal(t, 0, m.SearchCalls)
}
