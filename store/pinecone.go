package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"medrag/model"
	"medrag/types"
)

const defaultControlPlaneURL = "https://api.pinecone.io"

// PineconeStore is a minimal REST client to Pinecone serverless.
// The data-plane host is discovered from the control plane on EnsureIndex.
type PineconeStore struct {
	controlURL string
	apiKey     string
	indexName  string
	cloud      string
	region     string
	host       string
	client     *http.Client
}

type PineconeConfig struct {
	ControlURL string
	APIKey     string
	IndexName  string
	Cloud      string
	Region     string
	Timeout    time.Duration
}

type indexDescription struct {
	Name      string `json:"name"`
	Dimension int    `json:"dimension"`
	Metric    string `json:"metric"`
	Host      string `json:"host"`
}

func NewPineconeStore(cfg PineconeConfig) *PineconeStore {
	if cfg.ControlURL == "" {
		cfg.ControlURL = defaultControlPlaneURL
	}
	if cfg.Cloud == "" {
		cfg.Cloud = "aws"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &PineconeStore{
		controlURL: cfg.ControlURL,
		apiKey:     cfg.APIKey,
		indexName:  cfg.IndexName,
		cloud:      cfg.Cloud,
		region:     cfg.Region,
		client:     &http.Client{Timeout: timeout},
	}
}

// EnsureIndex lists existing indexes and creates the configured one only if
// absent, with fixed dimension and cosine metric. A pre-existing index with
// different parameters fails loudly instead of being silently reused.
func (s *PineconeStore) EnsureIndex(ctx context.Context) error {
	var list struct {
		Indexes []indexDescription `json:"indexes"`
	}
	if err := s.doJSON(ctx, http.MethodGet, s.controlURL+"/indexes", nil, &list); err != nil {
		return fmt.Errorf("failed to list indexes: %w", err)
	}

	for _, idx := range list.Indexes {
		if idx.Name != s.indexName {
			continue
		}
		if idx.Dimension != model.EmbeddingDim || idx.Metric != "cosine" {
			return fmt.Errorf("index %q exists with dimension=%d metric=%s, want dimension=%d metric=cosine",
				idx.Name, idx.Dimension, idx.Metric, model.EmbeddingDim)
		}
		s.host = idx.Host
		return nil
	}

	body := map[string]any{
		"name":      s.indexName,
		"dimension": model.EmbeddingDim,
		"metric":    "cosine",
		"spec": map[string]any{
			"serverless": map[string]any{
				"cloud":  s.cloud,
				"region": s.region,
			},
		},
	}
	var created indexDescription
	if err := s.doJSON(ctx, http.MethodPost, s.controlURL+"/indexes", body, &created); err != nil {
		return fmt.Errorf("failed to create index %q: %w", s.indexName, err)
	}
	s.host = created.Host
	return nil
}

// Upsert writes the records in one request. Pinecone has no transaction on
// the wire: a mid-batch error can leave earlier records written.
func (s *PineconeStore) Upsert(ctx context.Context, records []types.Record) error {
	if len(records) == 0 {
		return nil
	}
	host, err := s.dataPlane()
	if err != nil {
		return err
	}

	vectors := make([]map[string]any, len(records))
	for i, rec := range records {
		metadata := map[string]any{"text": rec.Content}
		for k, v := range rec.Metadata {
			metadata[k] = v
		}
		vectors[i] = map[string]any{
			"id":       rec.ID.String(),
			"values":   rec.Embedding,
			"metadata": metadata,
		}
	}
	body := map[string]any{"vectors": vectors}
	return s.doJSON(ctx, http.MethodPost, host+"/vectors/upsert", body, nil)
}

// Query runs approximate nearest-neighbor search, at most topK matches
// ranked by descending cosine similarity.
func (s *PineconeStore) Query(ctx context.Context, vector []float32, topK int) ([]types.ScoredRecord, error) {
	if topK <= 0 {
		topK = 3
	}
	host, err := s.dataPlane()
	if err != nil {
		return nil, err
	}

	body := map[string]any{
		"vector":          vector,
		"topK":            topK,
		"includeMetadata": true,
	}
	var resp struct {
		Matches []struct {
			ID       string            `json:"id"`
			Score    float64           `json:"score"`
			Metadata map[string]string `json:"metadata"`
		} `json:"matches"`
	}
	if err := s.doJSON(ctx, http.MethodPost, host+"/query", body, &resp); err != nil {
		return nil, err
	}

	results := make([]types.ScoredRecord, 0, len(resp.Matches))
	for _, m := range resp.Matches {
		rec := types.Record{Metadata: map[string]string{}}
		for k, v := range m.Metadata {
			if k == "text" {
				rec.Content = v
				continue
			}
			rec.Metadata[k] = v
		}
		results = append(results, types.ScoredRecord{Record: rec, Score: m.Score})
	}
	return results, nil
}

func (s *PineconeStore) dataPlane() (string, error) {
	if s.host == "" {
		return "", fmt.Errorf("index host unknown, EnsureIndex was not run")
	}
	if strings.HasPrefix(s.host, "http") {
		return s.host, nil
	}
	return "https://" + s.host, nil
}

func (s *PineconeStore) doJSON(ctx context.Context, method, url string, body, out any) error {
	var reqBody *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewBuffer(data)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Api-Key", s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("pinecone %s %s failed: %s", method, url, resp.Status)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
