package metrics

import (
	"fmt"
	"net"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetOrCreateCounterIdempotent(t *testing.T) {
	r := NewRegistry()

	first := r.GetOrCreateCounter("total_queries", "Total number of user queries", "user")
	second := r.GetOrCreateCounter("total_queries", "different help text", "user", "extra")

	// Second registration returns the existing handle and ignores the new
	// help/label arguments.
	assert.Same(t, first, second)

	first.WithLabelValues("alice").Inc()
	assert.Equal(t, 1.0, testutil.ToFloat64(second.WithLabelValues("alice")))
}

func TestGetOrCreateHistogramIdempotent(t *testing.T) {
	r := NewRegistry()

	first := r.GetOrCreateHistogram("query_latency_seconds", "latency", nil, "user")
	second := r.GetOrCreateHistogram("query_latency_seconds", "latency", ChunkBuckets, "user")

	assert.Same(t, first, second)
}

func TestGetOrCreateGaugeIdempotent(t *testing.T) {
	r := NewRegistry()

	first := r.GetOrCreateGauge("queries_in_progress", "in flight", "user")
	second := r.GetOrCreateGauge("queries_in_progress", "in flight", "user")

	assert.Same(t, first, second)

	first.WithLabelValues("bob").Inc()
	first.WithLabelValues("bob").Dec()
	assert.Equal(t, 0.0, testutil.ToFloat64(second.WithLabelValues("bob")))
}

func TestKindMismatchDoesNotPanic(t *testing.T) {
	r := NewRegistry()

	r.GetOrCreateCounter("mixed_name", "a counter", "user")
	gauge := r.GetOrCreateGauge("mixed_name", "now a gauge", "user")

	require.NotNil(t, gauge)
	gauge.WithLabelValues("u").Inc()
}

func TestNewPipelineMetricsReRegisters(t *testing.T) {
	r := NewRegistry()

	pm1 := NewPipelineMetrics(r)
	// The hosting process may execute the wiring twice; the second pass must
	// come back with the same handles instead of failing.
	pm2 := NewPipelineMetrics(r)

	assert.Same(t, pm1.QueriesTotal, pm2.QueriesTotal)
	assert.Same(t, pm1.ChunksUploaded, pm2.ChunksUploaded)
	assert.Same(t, pm1.LLMsInProgress, pm2.LLMsInProgress)
}

func TestConcurrentRegistration(t *testing.T) {
	r := NewRegistry()

	var wg sync.WaitGroup
	handles := make([]any, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			handles[i] = r.GetOrCreateCounter("racy_counter", "counted from many goroutines", "user")
		}(i)
	}
	wg.Wait()

	for i := 1; i < len(handles); i++ {
		assert.Same(t, handles[0], handles[i])
	}
}

func TestServeSwallowsBoundPort(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	addr := fmt.Sprintf("127.0.0.1:%d", ln.Addr().(*net.TCPAddr).Port)

	r := NewRegistry()
	// The port is taken; Serve must log and return instead of crashing.
	r.Serve(addr)
}

func TestUserLabel(t *testing.T) {
	assert.Equal(t, DefaultUser, UserLabel(""))
	assert.Equal(t, "carol", UserLabel("carol"))
}
