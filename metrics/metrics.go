package metrics

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultUser labels metric samples when the caller did not identify itself.
const DefaultUser = "anonymous"

// Registry owns every metric of the process. Registration is idempotent:
// asking for a name that already exists returns the existing handle and
// ignores the new help/buckets/labels, so re-running the same wiring code
// never fails.
type Registry struct {
	reg     *prometheus.Registry
	logger  *slog.Logger
	mu      sync.Mutex
	handles map[string]prometheus.Collector
}

func NewRegistry() *Registry {
	return &Registry{
		reg:     prometheus.NewRegistry(),
		logger:  slog.Default(),
		handles: make(map[string]prometheus.Collector),
	}
}

func (r *Registry) GetOrCreateCounter(name, help string, labels ...string) *prometheus.CounterVec {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.handles[name]; ok {
		if vec, ok := existing.(*prometheus.CounterVec); ok {
			return vec
		}
		// Name taken by another kind: hand back a detached instance so the
		// caller keeps working; it is never scraped.
		return prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help}, labels)
	}

	vec := prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help}, labels)
	r.handles[name] = r.register(name, vec)
	return r.handles[name].(*prometheus.CounterVec)
}

func (r *Registry) GetOrCreateHistogram(name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.handles[name]; ok {
		if vec, ok := existing.(*prometheus.HistogramVec); ok {
			return vec
		}
		return prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: name, Help: help, Buckets: buckets}, labels)
	}

	opts := prometheus.HistogramOpts{Name: name, Help: help}
	if len(buckets) > 0 {
		opts.Buckets = buckets
	}
	vec := prometheus.NewHistogramVec(opts, labels)
	r.handles[name] = r.register(name, vec)
	return r.handles[name].(*prometheus.HistogramVec)
}

func (r *Registry) GetOrCreateGauge(name, help string, labels ...string) *prometheus.GaugeVec {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.handles[name]; ok {
		if vec, ok := existing.(*prometheus.GaugeVec); ok {
			return vec
		}
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: help}, labels)
	}

	vec := prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: help}, labels)
	r.handles[name] = r.register(name, vec)
	return r.handles[name].(*prometheus.GaugeVec)
}

// register resolves races against direct registration on the underlying
// prometheus registry by adopting the collector that won.
func (r *Registry) register(name string, c prometheus.Collector) prometheus.Collector {
	if err := r.reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			return are.ExistingCollector
		}
		r.logger.Error("error to register metric", "name", name, "error", err.Error())
	}
	return c
}

// Gatherer exposes the underlying registry for scraping and tests.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// Serve starts the scrape endpoint. When the port is already bound, a
// previous start of the same process owns it, so the error is logged and
// swallowed instead of taking the host down.
func (r *Registry) Serve(addr string) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		r.logger.Warn("metrics listener already running", "addr", addr, "error", err.Error())
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{}))

	go func() {
		if err := http.Serve(ln, mux); err != nil {
			r.logger.Error("metrics server stopped", "error", err.Error())
		}
	}()
	r.logger.Info("metrics server started", "addr", addr)
}

// UserLabel normalizes the free-text user identifier attached to samples.
func UserLabel(user string) string {
	if user == "" {
		return DefaultUser
	}
	return user
}
