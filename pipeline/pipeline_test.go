package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medrag/loader"
	"medrag/metrics"
	"medrag/model"
	"medrag/types"
)

type stubEmbedder struct {
	err   error
	calls int
	mu    sync.Mutex
}

func (s *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return make([]float32, model.EmbeddingDim), nil
}

type stubStore struct {
	records   []types.ScoredRecord
	ensureErr error
	upsertErr error
	queryErr  error

	mu        sync.Mutex
	upserted  []types.Record
	lastTopK  int
	queryHits int
}

func (s *stubStore) EnsureIndex(ctx context.Context) error { return s.ensureErr }

func (s *stubStore) Upsert(ctx context.Context, records []types.Record) error {
	if s.upsertErr != nil {
		return s.upsertErr
	}
	s.mu.Lock()
	s.upserted = append(s.upserted, records...)
	s.mu.Unlock()
	return nil
}

func (s *stubStore) Query(ctx context.Context, vector []float32, topK int) ([]types.ScoredRecord, error) {
	s.mu.Lock()
	s.lastTopK = topK
	s.queryHits++
	s.mu.Unlock()
	if s.queryErr != nil {
		return nil, s.queryErr
	}
	out := make([]types.ScoredRecord, len(s.records))
	copy(out, s.records)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

type stubAgent struct {
	answer string
	err    error
}

func (s *stubAgent) Answer(ctx context.Context, question string, records []types.ScoredRecord) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.answer, nil
}

func newTestPipeline(t *testing.T, st *stubStore, emb *stubEmbedder, ag *stubAgent) (*Pipeline, *metrics.PipelineMetrics) {
	t.Helper()
	reg := metrics.NewRegistry()
	pm := metrics.NewPipelineMetrics(reg)
	ld := loader.New(types.Config{StagingDir: t.TempDir()})
	return New(st, emb, ag, ld, pm), pm
}

func scored(score float64, content string) types.ScoredRecord {
	return types.ScoredRecord{
		Record: types.Record{Content: content, Metadata: map[string]string{}},
		Score:  score,
	}
}

func TestQuerySuccess(t *testing.T) {
	st := &stubStore{records: []types.ScoredRecord{scored(0.9, "ctx1"), scored(0.8, "ctx2")}}
	p, pm := newTestPipeline(t, st, &stubEmbedder{}, &stubAgent{answer: "grounded answer"})

	answer := p.Query(context.Background(), "alice", "what is covered?", 2)

	require.NotNil(t, answer)
	assert.Equal(t, "grounded answer", answer.Text)
	require.Len(t, answer.Sources, 2)
	assert.Equal(t, "ctx1", answer.Sources[0].Content)

	assert.Equal(t, 1.0, testutil.ToFloat64(pm.QueriesTotal.WithLabelValues("alice")))
	assert.Equal(t, 0.0, testutil.ToFloat64(pm.QueryFailures.WithLabelValues("alice")))
	assert.Equal(t, 0.0, testutil.ToFloat64(pm.QueriesInProgress.WithLabelValues("alice")))
	assert.Equal(t, 0.0, testutil.ToFloat64(pm.RetrievalsInProgress.WithLabelValues("alice")))
	assert.Equal(t, 0.0, testutil.ToFloat64(pm.LLMsInProgress.WithLabelValues("alice")))
}

func TestQueryDefaultsUserAndTopK(t *testing.T) {
	st := &stubStore{records: []types.ScoredRecord{scored(0.9, "a")}}
	p, pm := newTestPipeline(t, st, &stubEmbedder{}, &stubAgent{answer: "ok"})

	answer := p.Query(context.Background(), "", "q", 0)

	require.NotNil(t, answer)
	assert.Equal(t, DefaultTopK, st.lastTopK)
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.QueriesTotal.WithLabelValues(metrics.DefaultUser)))
}

func TestQueryTopKLimitsAndOrders(t *testing.T) {
	st := &stubStore{records: []types.ScoredRecord{
		scored(0.1, "e"), scored(0.9, "a"), scored(0.5, "c"), scored(0.7, "b"), scored(0.3, "d"),
	}}
	p, _ := newTestPipeline(t, st, &stubEmbedder{}, &stubAgent{answer: "ok"})

	answer := p.Query(context.Background(), "u", "q", 3)

	require.NotNil(t, answer)
	require.Len(t, answer.Sources, 3)
	assert.Equal(t, "a", answer.Sources[0].Content)
	assert.Equal(t, "b", answer.Sources[1].Content)
	assert.Equal(t, "c", answer.Sources[2].Content)
}

func TestQueryRetrievalFailure(t *testing.T) {
	st := &stubStore{queryErr: fmt.Errorf("index unreachable")}
	p, pm := newTestPipeline(t, st, &stubEmbedder{}, &stubAgent{answer: "never"})

	answer := p.Query(context.Background(), "bob", "q", 3)

	assert.Nil(t, answer)
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.RetrievalFailures.WithLabelValues("bob")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.QueryFailures.WithLabelValues("bob")))
	assert.Equal(t, 0.0, testutil.ToFloat64(pm.LLMFailures.WithLabelValues("bob")))
	assert.Equal(t, 0.0, testutil.ToFloat64(pm.QueriesTotal.WithLabelValues("bob")))
	assert.Equal(t, 0.0, testutil.ToFloat64(pm.QueriesInProgress.WithLabelValues("bob")))
	assert.Equal(t, 0.0, testutil.ToFloat64(pm.RetrievalsInProgress.WithLabelValues("bob")))
}

func TestQueryEmbedFailureCountsAsRetrieval(t *testing.T) {
	st := &stubStore{}
	p, pm := newTestPipeline(t, st, &stubEmbedder{err: fmt.Errorf("rate limited")}, &stubAgent{})

	answer := p.Query(context.Background(), "bob", "q", 3)

	assert.Nil(t, answer)
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.RetrievalFailures.WithLabelValues("bob")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.QueryFailures.WithLabelValues("bob")))
	assert.Equal(t, 0, st.queryHits)
}

func TestQueryGenerationFailure(t *testing.T) {
	st := &stubStore{records: []types.ScoredRecord{scored(0.9, "ctx")}}
	p, pm := newTestPipeline(t, st, &stubEmbedder{}, &stubAgent{err: fmt.Errorf("model overloaded")})

	answer := p.Query(context.Background(), "carol", "q", 3)

	assert.Nil(t, answer)
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.LLMFailures.WithLabelValues("carol")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.QueryFailures.WithLabelValues("carol")))
	// Retrieval succeeded: its failure counter must stay untouched.
	assert.Equal(t, 0.0, testutil.ToFloat64(pm.RetrievalFailures.WithLabelValues("carol")))
	assert.Equal(t, 0.0, testutil.ToFloat64(pm.QueriesTotal.WithLabelValues("carol")))
	assert.Equal(t, 0.0, testutil.ToFloat64(pm.LLMsInProgress.WithLabelValues("carol")))
	assert.Equal(t, 0.0, testutil.ToFloat64(pm.RetrievalsInProgress.WithLabelValues("carol")))
	assert.Equal(t, 0.0, testutil.ToFloat64(pm.QueriesInProgress.WithLabelValues("carol")))
}

func TestConcurrentQueries(t *testing.T) {
	st := &stubStore{records: []types.ScoredRecord{scored(0.9, "ctx")}}
	p, pm := newTestPipeline(t, st, &stubEmbedder{}, &stubAgent{answer: "ok"})

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			answer := p.Query(context.Background(), "load", "q", 3)
			assert.NotNil(t, answer)
		}()
	}
	wg.Wait()

	assert.Equal(t, 100.0, testutil.ToFloat64(pm.QueriesTotal.WithLabelValues("load")))
	assert.Equal(t, 0.0, testutil.ToFloat64(pm.QueriesInProgress.WithLabelValues("load")))
	assert.Equal(t, 0.0, testutil.ToFloat64(pm.RetrievalsInProgress.WithLabelValues("load")))
	assert.Equal(t, 0.0, testutil.ToFloat64(pm.LLMsInProgress.WithLabelValues("load")))
}

func TestUploadSuccess(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "doc.txt"), []byte(strings.Repeat("text ", 250)), 0644))

	st := &stubStore{}
	emb := &stubEmbedder{}
	reg := metrics.NewRegistry()
	pm := metrics.NewPipelineMetrics(reg)
	p := New(st, emb, &stubAgent{}, loader.New(types.Config{StagingDir: dir}), pm)

	n, err := p.Upload(context.Background(), "alice", dir)

	require.NoError(t, err)
	assert.Greater(t, n, 0)
	assert.Len(t, st.upserted, n)
	assert.Equal(t, n, emb.calls)

	assert.Equal(t, 1.0, testutil.ToFloat64(pm.UploadsTotal.WithLabelValues("alice")))
	assert.Equal(t, 0.0, testutil.ToFloat64(pm.UploadFailures.WithLabelValues("alice")))
	assert.Equal(t, uint64(1), histogramCount(t, reg, "document_chunks_uploaded"))
}

func TestUploadEmbedFailure(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "doc.txt"), []byte("some staged text"), 0644))

	st := &stubStore{}
	reg := metrics.NewRegistry()
	pm := metrics.NewPipelineMetrics(reg)
	p := New(st, &stubEmbedder{err: fmt.Errorf("missing API key")}, &stubAgent{}, loader.New(types.Config{StagingDir: dir}), pm)

	n, err := p.Upload(context.Background(), "alice", dir)

	require.Error(t, err)
	assert.Zero(t, n)
	assert.Empty(t, st.upserted)

	assert.Equal(t, 1.0, testutil.ToFloat64(pm.UploadFailures.WithLabelValues("alice")))
	assert.Equal(t, 0.0, testutil.ToFloat64(pm.UploadsTotal.WithLabelValues("alice")))
	assert.Equal(t, uint64(0), histogramCount(t, reg, "document_chunks_uploaded"))
}

func TestUploadUpsertFailure(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "doc.txt"), []byte("some staged text"), 0644))

	st := &stubStore{upsertErr: fmt.Errorf("index write refused")}
	p, pm := newTestPipelineWithDir(t, st, dir)

	_, err := p.Upload(context.Background(), "", dir)

	require.Error(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.UploadFailures.WithLabelValues(metrics.DefaultUser)))
	assert.Equal(t, 0.0, testutil.ToFloat64(pm.UploadsTotal.WithLabelValues(metrics.DefaultUser)))
}

func TestUploadEnsureIndexFailure(t *testing.T) {
	dir := t.TempDir()
	st := &stubStore{ensureErr: fmt.Errorf("dimension mismatch")}
	p, pm := newTestPipelineWithDir(t, st, dir)

	_, err := p.Upload(context.Background(), "", dir)

	require.Error(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.UploadFailures.WithLabelValues(metrics.DefaultUser)))
}

func TestUploadContinuesPastBadFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "good.txt"), []byte("readable text"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.pdf"), []byte("not a pdf"), 0644))

	st := &stubStore{}
	p, pm := newTestPipelineWithDir(t, st, dir)

	n, err := p.Upload(context.Background(), "alice", dir)

	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.UploadsTotal.WithLabelValues("alice")))
	assert.Equal(t, 0.0, testutil.ToFloat64(pm.UploadFailures.WithLabelValues("alice")))
}

func newTestPipelineWithDir(t *testing.T, st *stubStore, dir string) (*Pipeline, *metrics.PipelineMetrics) {
	t.Helper()
	reg := metrics.NewRegistry()
	pm := metrics.NewPipelineMetrics(reg)
	return New(st, &stubEmbedder{}, &stubAgent{}, loader.New(types.Config{StagingDir: dir}), pm), pm
}

// histogramCount reads the sample count of a histogram from the registry,
// summed over all label values.
func histogramCount(t *testing.T, reg *metrics.Registry, name string) uint64 {
	t.Helper()
	families, err := reg.Gatherer().Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		var total uint64
		for _, m := range mf.GetMetric() {
			total += m.GetHistogram().GetSampleCount()
		}
		return total
	}
	return 0
}
