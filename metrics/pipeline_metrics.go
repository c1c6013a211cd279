package metrics

import "github.com/prometheus/client_golang/prometheus"

// ChunkBuckets sizes the per-batch chunk count histogram.
var ChunkBuckets = []float64{1, 10, 50, 100, 500, 1000, 5000}

// PipelineMetrics is the fixed metric set of the query/upload pipeline.
// Every metric carries a single "user" label.
type PipelineMetrics struct {
	QueriesTotal         *prometheus.CounterVec
	UploadsTotal         *prometheus.CounterVec
	UploadFailures       *prometheus.CounterVec
	QueryFailures        *prometheus.CounterVec
	RetrievalFailures    *prometheus.CounterVec
	LLMFailures          *prometheus.CounterVec
	UploadLatency        *prometheus.HistogramVec
	QueryLatency         *prometheus.HistogramVec
	RetrievalLatency     *prometheus.HistogramVec
	LLMLatency           *prometheus.HistogramVec
	ChunksUploaded       *prometheus.HistogramVec
	QueriesInProgress    *prometheus.GaugeVec
	RetrievalsInProgress *prometheus.GaugeVec
	LLMsInProgress       *prometheus.GaugeVec
}

func NewPipelineMetrics(r *Registry) *PipelineMetrics {
	return &PipelineMetrics{
		QueriesTotal:      r.GetOrCreateCounter("total_queries", "Total number of user queries", "user"),
		UploadsTotal:      r.GetOrCreateCounter("total_uploads", "Total number of document uploads", "user"),
		UploadFailures:    r.GetOrCreateCounter("upload_failures_total", "Total failed document uploads", "user"),
		QueryFailures:     r.GetOrCreateCounter("query_failures_total", "Total failed user queries", "user"),
		RetrievalFailures: r.GetOrCreateCounter("retrieval_failures_total", "Total failed retrievals from the vector index", "user"),
		LLMFailures:       r.GetOrCreateCounter("llm_failures_total", "Total failed LLM generations", "user"),

		UploadLatency:    r.GetOrCreateHistogram("upload_latency_seconds", "Time taken to upload documents", nil, "user"),
		QueryLatency:     r.GetOrCreateHistogram("query_latency_seconds", "Time taken to respond to a query", nil, "user"),
		RetrievalLatency: r.GetOrCreateHistogram("retrieval_latency_seconds", "Time taken by the retrieval stage", nil, "user"),
		LLMLatency:       r.GetOrCreateHistogram("llm_latency_seconds", "Time taken by the generation stage", nil, "user"),
		ChunksUploaded:   r.GetOrCreateHistogram("document_chunks_uploaded", "Chunk count per upload batch", ChunkBuckets, "user"),

		QueriesInProgress:    r.GetOrCreateGauge("queries_in_progress", "Queries currently in flight", "user"),
		RetrievalsInProgress: r.GetOrCreateGauge("retrievals_in_progress", "Retrievals currently in flight", "user"),
		LLMsInProgress:       r.GetOrCreateGauge("llms_in_progress", "LLM generations currently in flight", "user"),
	}
}
