package vector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ontograph/pkg/apperrors"
	"github.com/ekaya-inc/ontograph/pkg/config"
	"github.com/ekaya-inc/ontograph/pkg/models"
	"github.com/ekaya-inc/ontograph/pkg/retry"
)

// ensureRetryConfig bounds collection bootstrap retries; the vector store may
// still be starting when the engine comes up.
var ensureRetryConfig = &retry.Config{
	MaxRetries:   5,
	InitialDelay: 200 * time.Millisecond,
	MaxDelay:     2 * time.Second,
	Multiplier:   2.0,
	JitterFactor: 0.1,
}

// ChromaStore implements Store against a Chroma-compatible REST API.
type ChromaStore struct {
	baseURL      string
	tenant       string
	database     string
	collection   string
	collectionID string
	httpClient   *http.Client
	logger       *zap.Logger
}

// NewChromaStore creates a client for the configured collection, creating the
// collection if it does not exist yet.
func NewChromaStore(ctx context.Context, cfg *config.VectorConfig, logger *zap.Logger) (*ChromaStore, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("vector store base_url is required")
	}

	s := &ChromaStore{
		baseURL:    cfg.BaseURL,
		tenant:     cfg.Tenant,
		database:   cfg.Database,
		collection: cfg.Collection,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		},
		logger: logger,
	}

	collectionID, err := retry.DoWithResult(ctx, ensureRetryConfig, func() (string, error) {
		return s.ensureCollection(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("ensuring collection %q: %w", cfg.Collection, err)
	}
	s.collectionID = collectionID

	logger.Info("connected to vector store",
		zap.String("base_url", cfg.BaseURL),
		zap.String("collection", cfg.Collection),
		zap.String("collection_id", collectionID))

	return s, nil
}

// collectionsURL returns the tenant/database-scoped collections endpoint.
func (s *ChromaStore) collectionsURL() string {
	return fmt.Sprintf("%s/api/v2/tenants/%s/databases/%s/collections", s.baseURL, s.tenant, s.database)
}

// ensureCollection gets the collection id, creating the collection when the
// lookup misses.
func (s *ChromaStore) ensureCollection(ctx context.Context) (string, error) {
	var collection chromaCollection
	status, err := s.doJSON(ctx, http.MethodGet, s.collectionsURL()+"/"+s.collection, nil, &collection)
	if err != nil {
		return "", err
	}
	if status == http.StatusOK {
		return collection.ID, nil
	}
	if status >= http.StatusInternalServerError {
		return "", apperrors.NewStoreUnavailable("vector", fmt.Errorf("get collection: status %d", status))
	}

	// Lookup missed; create it.
	status, err = s.doJSON(ctx, http.MethodPost, s.collectionsURL(), map[string]string{"name": s.collection}, &collection)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return "", apperrors.NewStoreUnavailable("vector", fmt.Errorf("create collection: status %d", status))
	}
	return collection.ID, nil
}

// Upsert implements Store.
func (s *ChromaStore) Upsert(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}

	req := chromaUpsertRequest{
		IDs:        make([]string, len(docs)),
		Embeddings: make([][]float32, len(docs)),
		Metadatas:  make([]map[string]any, len(docs)),
		Documents:  make([]string, len(docs)),
	}
	for i, doc := range docs {
		req.IDs[i] = doc.ID
		req.Embeddings[i] = doc.Embedding
		req.Metadatas[i] = doc.Metadata
		req.Documents[i] = doc.Content
	}

	url := fmt.Sprintf("%s/%s/upsert", s.collectionsURL(), s.collectionID)
	status, err := s.doJSON(ctx, http.MethodPost, url, req, nil)
	if err != nil {
		return fmt.Errorf("upsert documents: %w", err)
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return statusError("upsert documents", status)
	}

	s.logger.Debug("upserted documents to vector store", zap.Int("count", len(docs)))
	return nil
}

// Search implements Store.
func (s *ChromaStore) Search(ctx context.Context, embedding []float32, topK int) ([]models.VectorHit, error) {
	if topK <= 0 {
		topK = 10
	}

	req := chromaQueryRequest{
		QueryEmbeddings: [][]float32{embedding},
		NResults:        topK,
		Include:         []string{"metadatas", "documents", "distances"},
	}

	url := fmt.Sprintf("%s/%s/query", s.collectionsURL(), s.collectionID)
	var resp chromaQueryResponse
	status, err := s.doJSON(ctx, http.MethodPost, url, req, &resp)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	if status != http.StatusOK {
		return nil, statusError("search", status)
	}

	// Single query embedding, so only the first result group is populated.
	if len(resp.IDs) == 0 || len(resp.IDs[0]) == 0 {
		return nil, nil
	}

	ids := resp.IDs[0]
	var distances []float32
	if len(resp.Distances) > 0 {
		distances = resp.Distances[0]
	}
	var metadatas []map[string]any
	if len(resp.Metadatas) > 0 {
		metadatas = resp.Metadatas[0]
	}
	var documents []string
	if len(resp.Documents) > 0 {
		documents = resp.Documents[0]
	}

	hits := make([]models.VectorHit, 0, len(ids))
	for i, id := range ids {
		hit := models.VectorHit{ID: id}
		// Lower distance = higher similarity.
		if i < len(distances) {
			hit.Score = 1.0 / (1.0 + float64(distances[i]))
		}
		if i < len(metadatas) {
			hit.Metadata = metadatas[i]
		}
		if i < len(documents) {
			hit.Content = documents[i]
		}
		hits = append(hits, hit)
	}

	s.logger.Debug("vector search completed", zap.Int("hits", len(hits)))
	return hits, nil
}

// Ping implements Store.
func (s *ChromaStore) Ping(ctx context.Context) error {
	status, err := s.doJSON(ctx, http.MethodGet, s.baseURL+"/api/v2/heartbeat", nil, nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return apperrors.NewStoreUnavailable("vector", fmt.Errorf("heartbeat: status %d", status))
	}
	return nil
}

// Close implements Store.
func (s *ChromaStore) Close() error {
	s.httpClient.CloseIdleConnections()
	return nil
}

// doJSON sends a JSON request and decodes a JSON response into out (when out
// is non-nil and the body is non-empty). Transport failures are reported as
// store-unavailable; status handling is left to the caller.
func (s *ChromaStore) doJSON(ctx context.Context, method, url string, in, out any) (int, error) {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return 0, fmt.Errorf("marshaling request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return 0, fmt.Errorf("creating request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return 0, apperrors.NewStoreUnavailable("vector", err)
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < http.StatusMultipleChoices {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decoding response: %w", err)
		}
	} else {
		_, _ = io.Copy(io.Discard, resp.Body)
	}
	return resp.StatusCode, nil
}

// statusError maps a non-success status to the error taxonomy: server-side
// failures are retryable outages, everything else is a plain error.
func statusError(op string, status int) error {
	err := fmt.Errorf("%s: status %d", op, status)
	if status >= http.StatusInternalServerError || status == http.StatusTooManyRequests {
		return apperrors.NewStoreUnavailable("vector", err)
	}
	return err
}

// Ensure ChromaStore implements Store at compile time.
var _ Store = (*ChromaStore)(nil)
