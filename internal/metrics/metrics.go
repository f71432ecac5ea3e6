package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics for the compliance engine.
type Metrics struct {
	ImportsTotal          prometheus.Counter
	ImportErrorsTotal     prometheus.Counter
	FindingsResolvedTotal prometheus.Counter
	FindingsUnmappedTotal prometheus.Counter
	DeterminationsTotal   prometheus.Counter
}

// NewMetrics creates a Metrics instance registered on the default registry.
func NewMetrics() *Metrics {
	return &Metrics{
		ImportsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "catalog_imports_total",
			Help: "Total number of catalog import runs",
		}),
		ImportErrorsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "catalog_import_errors_total",
			Help: "Total number of non-fatal errors recorded across import runs",
		}),
		FindingsResolvedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "findings_resolved_total",
			Help: "Total number of findings resolved to at least one control",
		}),
		FindingsUnmappedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "findings_unmapped_total",
			Help: "Total number of findings that resolved to no control",
		}),
		DeterminationsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "determinations_computed_total",
			Help: "Total number of compliance determinations computed",
		}),
	}
}

// IncImports increments the catalog_imports_total counter.
func (m *Metrics) IncImports() {
	m.ImportsTotal.Inc()
}

// AddImportErrors adds to the catalog_import_errors_total counter.
func (m *Metrics) AddImportErrors(n int) {
	m.ImportErrorsTotal.Add(float64(n))
}

// IncResolved increments the findings_resolved_total counter.
func (m *Metrics) IncResolved() {
	m.FindingsResolvedTotal.Inc()
}

// IncUnmapped increments the findings_unmapped_total counter.
func (m *Metrics) IncUnmapped() {
	m.FindingsUnmappedTotal.Inc()
}

// IncDeterminations increments the determinations_computed_total counter.
func (m *Metrics) IncDeterminations() {
	m.DeterminationsTotal.Inc()
}
