package node

import (
	"context"
	"net/http"
	"time"

	"github.com/gitzhang10/mysticeti/mysticeti"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// metrics holds the collectors of one node. Each node owns a registry so that
// several nodes can run in one process.
type metrics struct {
	registry        *prometheus.Registry
	round           prometheus.Gauge
	blocksReceived  prometheus.Counter
	blocksPending   prometheus.Gauge
	leadersDecided  *prometheus.GaugeVec
	committedBlocks prometheus.Counter
	commitLatency   prometheus.Histogram
}

func newMetrics(name string) *metrics {
	labels := prometheus.Labels{"node": name}
	m := &metrics{
		registry: prometheus.NewRegistry(),
		round: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "mysticeti_round",
			Help:        "Round the node proposes in",
			ConstLabels: labels,
		}),
		blocksReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "mysticeti_blocks_received_total",
			Help:        "Blocks added to the local DAG",
			ConstLabels: labels,
		}),
		blocksPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "mysticeti_blocks_pending",
			Help:        "Blocks waiting for parents or leader ranks",
			ConstLabels: labels,
		}),
		leadersDecided: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "mysticeti_slots",
			Help:        "Proposer slots of the local DAG by status",
			ConstLabels: labels,
		}, []string{"status"}),
		committedBlocks: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "mysticeti_committed_blocks_total",
			Help:        "Blocks appended to the committed sequence",
			ConstLabels: labels,
		}),
		commitLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "mysticeti_commit_latency_seconds",
			Help:        "Time from proposal to commit of a block",
			ConstLabels: labels,
			Buckets:     []float64{0.02, 0.05, 0.1, 0.2, 0.5, 1, 1.5, 2, 5},
		}),
	}
	m.registry.MustRegister(m.round, m.blocksReceived, m.blocksPending, m.leadersDecided,
		m.committedBlocks, m.commitLatency)
	return m
}

func (m *metrics) observeDecisions(decisions []mysticeti.Decision) {
	counts := map[mysticeti.Status]int{}
	for _, d := range decisions {
		counts[d.Status]++
	}
	for _, status := range []mysticeti.Status{mysticeti.Undecided, mysticeti.Commit, mysticeti.Skip} {
		m.leadersDecided.WithLabelValues(status.String()).Set(float64(counts[status]))
	}
}

// serve exposes the registry on addr until ctx is done.
func (m *metrics) serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}
