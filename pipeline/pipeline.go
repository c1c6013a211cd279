package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"medrag/loader"
	"medrag/metrics"
	"medrag/model"
	"medrag/store"
	"medrag/types"
)

const DefaultTopK = 3

// Answerer generates an answer grounded in retrieved records.
type Answerer interface {
	Answer(ctx context.Context, question string, records []types.ScoredRecord) (string, error)
}

// Pipeline coordinates retrieval against the vector index and generation
// against the LLM, recording latency, failure and in-progress metrics per
// stage. It is safe for concurrent use: all shared state lives in the
// injected metric set.
type Pipeline struct {
	store    store.VectorStorer
	embedder model.EmbedderInterface
	agent    Answerer
	loader   *loader.Loader
	metrics  *metrics.PipelineMetrics
	logger   *slog.Logger
}

func New(st store.VectorStorer, embedder model.EmbedderInterface, agent Answerer, ld *loader.Loader, pm *metrics.PipelineMetrics) *Pipeline {
	return &Pipeline{
		store:    st,
		embedder: embedder,
		agent:    agent,
		loader:   ld,
		metrics:  pm,
		logger:   slog.Default(),
	}
}

// Query runs the retrieval-augmented pipeline for one question. A nil result
// is the only failure signal to the caller; the stage that failed has
// already been recorded in its own counter.
func (p *Pipeline) Query(ctx context.Context, user, question string, topK int) (result *types.Answer) {
	user = metrics.UserLabel(user)

	p.metrics.QueriesInProgress.WithLabelValues(user).Inc()
	defer p.metrics.QueriesInProgress.WithLabelValues(user).Dec()

	timer := prometheus.NewTimer(p.metrics.QueryLatency.WithLabelValues(user))
	defer timer.ObserveDuration()

	// Outer guard: anything escaping the explicit stages counts once and
	// never crashes the host.
	defer func() {
		if r := recover(); r != nil {
			p.metrics.QueryFailures.WithLabelValues(user).Inc()
			p.logger.Error("query pipeline panicked", "user", user, "panic", fmt.Sprint(r))
			result = nil
		}
	}()

	if topK <= 0 {
		topK = DefaultTopK
	}

	records, err := p.retrieve(ctx, user, question, topK)
	if err != nil {
		p.metrics.RetrievalFailures.WithLabelValues(user).Inc()
		p.metrics.QueryFailures.WithLabelValues(user).Inc()
		p.logger.Error("retrieval failed", "user", user, "error", err.Error())
		return nil
	}

	answer, err := p.generate(ctx, user, question, records)
	if err != nil {
		p.metrics.LLMFailures.WithLabelValues(user).Inc()
		p.metrics.QueryFailures.WithLabelValues(user).Inc()
		p.logger.Error("generation failed", "user", user, "error", err.Error())
		return nil
	}

	p.metrics.QueriesTotal.WithLabelValues(user).Inc()
	return &types.Answer{Text: answer, Sources: records}
}

// retrieve embeds the question and looks up the topK nearest records. The
// in-progress gauge is released on every exit path.
func (p *Pipeline) retrieve(ctx context.Context, user, question string, topK int) ([]types.ScoredRecord, error) {
	p.metrics.RetrievalsInProgress.WithLabelValues(user).Inc()
	defer p.metrics.RetrievalsInProgress.WithLabelValues(user).Dec()

	timer := prometheus.NewTimer(p.metrics.RetrievalLatency.WithLabelValues(user))
	defer timer.ObserveDuration()

	vec, err := p.embedder.Embed(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	return p.store.Query(ctx, vec, topK)
}

func (p *Pipeline) generate(ctx context.Context, user, question string, records []types.ScoredRecord) (string, error) {
	p.metrics.LLMsInProgress.WithLabelValues(user).Inc()
	defer p.metrics.LLMsInProgress.WithLabelValues(user).Dec()

	timer := prometheus.NewTimer(p.metrics.LLMLatency.WithLabelValues(user))
	defer timer.ObserveDuration()

	return p.agent.Answer(ctx, question, records)
}

// Upload ingests the staged folder, embeds every chunk and writes the batch
// to the vector index as one measured unit. Per-file load failures are
// warnings; everything past loading is terminal for the batch.
func (p *Pipeline) Upload(ctx context.Context, user, folder string) (n int, err error) {
	user = metrics.UserLabel(user)

	timer := prometheus.NewTimer(p.metrics.UploadLatency.WithLabelValues(user))
	defer timer.ObserveDuration()

	defer func() {
		if r := recover(); r != nil {
			p.metrics.UploadFailures.WithLabelValues(user).Inc()
			p.logger.Error("upload pipeline panicked", "user", user, "panic", fmt.Sprint(r))
			n, err = 0, fmt.Errorf("upload failed: %v", r)
		}
	}()

	if err := p.store.EnsureIndex(ctx); err != nil {
		p.metrics.UploadFailures.WithLabelValues(user).Inc()
		return 0, fmt.Errorf("failed to ensure index: %w", err)
	}

	chunks, res := p.loader.Ingest(folder)
	for _, w := range res.Warnings {
		p.logger.Warn("failed to load file", "file", w.File, "error", w.Err.Error())
	}
	if len(res.Skipped) > 0 {
		p.logger.Info("skipped unsupported files", "files", res.Skipped)
	}

	records := make([]types.Record, 0, len(chunks))
	for _, ch := range chunks {
		vec, err := p.embedder.Embed(ctx, ch.Content)
		if err != nil {
			p.metrics.UploadFailures.WithLabelValues(user).Inc()
			return 0, fmt.Errorf("failed to embed chunk %d of %q: %w", ch.Index, ch.DocTitle, err)
		}
		records = append(records, types.Record{
			ID:        uuid.New(),
			Content:   ch.Content,
			Embedding: vec,
			Metadata: map[string]string{
				"title":    ch.DocTitle,
				"source":   ch.Source,
				"position": strconv.Itoa(ch.Index),
			},
		})
	}

	if err := p.store.Upsert(ctx, records); err != nil {
		p.metrics.UploadFailures.WithLabelValues(user).Inc()
		return 0, fmt.Errorf("failed to upsert records: %w", err)
	}

	p.metrics.UploadsTotal.WithLabelValues(user).Inc()
	p.metrics.ChunksUploaded.WithLabelValues(user).Observe(float64(len(records)))
	p.logger.Info("upload batch finished", "user", user, "files", res.Loaded, "chunks", len(records))
	return len(records), nil
}
