package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Metrics bundles Prometheus collectors for pipeline runs.
type Metrics struct {
	Registry            *prometheus.Registry
	CategoriesTotal     *prometheus.CounterVec
	ProductsScraped     prometheus.Counter
	AffiliateLinksTotal *prometheus.CounterVec
	ProductsStored      *prometheus.CounterVec
	ErrorsTotal         *prometheus.CounterVec
	RunDuration         *prometheus.HistogramVec
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	categories := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "servant_categories_total",
			Help: "Bestseller categories processed, by outcome.",
		},
		[]string{"outcome"},
	)
	scraped := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "servant_products_scraped_total",
			Help: "Products extracted from bestseller listings.",
		},
	)
	links := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "servant_affiliate_links_total",
			Help: "Affiliate link lookups, by result.",
		},
		[]string{"result"},
	)
	stored := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "servant_products_stored_total",
			Help: "Products written to the record store, by operation.",
		},
		[]string{"operation"},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "servant_errors_total",
			Help: "Per-item failures, by stage.",
		},
		[]string{"stage"},
	)
	runDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "servant_run_duration_seconds",
			Help:    "Wall time of a pipeline run.",
			Buckets: []float64{30, 60, 300, 600, 1800, 3600, 7200},
		},
		[]string{"mode"},
	)

	registry.MustRegister(categories, scraped, links, stored, errorsTotal, runDuration)

	return &Metrics{
		Registry:            registry,
		CategoriesTotal:     categories,
		ProductsScraped:     scraped,
		AffiliateLinksTotal: links,
		ProductsStored:      stored,
		ErrorsTotal:         errorsTotal,
		RunDuration:         runDuration,
	}
}

func (m *Metrics) IncCategory(outcome string) {
	if m == nil {
		return
	}
	m.CategoriesTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) AddScraped(n int) {
	if m == nil {
		return
	}
	m.ProductsScraped.Add(float64(n))
}

// IncAffiliate counts one lookup: "generated", "cached" or "failed".
func (m *Metrics) IncAffiliate(result string) {
	if m == nil {
		return
	}
	m.AffiliateLinksTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) IncStored(operation string) {
	if m == nil {
		return
	}
	m.ProductsStored.WithLabelValues(operation).Inc()
}

func (m *Metrics) IncError(stage string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(stage).Inc()
}

func (m *Metrics) ObserveRun(mode string, d time.Duration) {
	if m == nil {
		return
	}
	m.RunDuration.WithLabelValues(mode).Observe(d.Seconds())
}

// ExportOptions names where a finished run's metrics go. Empty fields are
// skipped.
type ExportOptions struct {
	// Dir receives servant_<mode>.prom for a node_exporter textfile collector.
	Dir     string
	PushURL string
	Job     string
	Client  push.HTTPDoer
}

// TextfilePath is the file Export writes for mode under dir.
func TextfilePath(dir, mode string) string {
	return filepath.Join(dir, "servant_"+mode+".prom")
}

// Export hands the registry to the configured sinks once a run is over.
func (m *Metrics) Export(ctx context.Context, mode string, opts ExportOptions) error {
	if m == nil {
		return nil
	}

	var errs []error
	if opts.Dir != "" {
		if err := m.writeTextfile(TextfilePath(opts.Dir, mode)); err != nil {
			errs = append(errs, err)
		}
	}
	if opts.PushURL != "" {
		job := opts.Job
		if job == "" {
			job = "servant"
		}
		pusher := push.New(opts.PushURL, job).Gatherer(m.Registry).Grouping("mode", mode)
		if opts.Client != nil {
			pusher = pusher.Client(opts.Client)
		}
		if err := pusher.PushContext(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to push metrics: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (m *Metrics) writeTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create metrics dir: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, m.Registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
