package service

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/FACorreiaa/benefactor-dues/internal/domain/debits/normalizer"
	"github.com/FACorreiaa/benefactor-dues/internal/domain/debits/parser"
)

// Import outcomes used as metric labels.
const (
	OutcomeSuccess        = "success"
	OutcomeDuplicate      = "duplicate"
	OutcomeSchema         = "schema_error"
	OutcomeUnreadable     = "unreadable"
	OutcomeNoDates        = "no_valid_dates"
	OutcomeReconciliation = "reconciliation_error"
	OutcomeError          = "error"
)

// Metrics holds the Prometheus collectors for the import pipeline.
type Metrics struct {
	Imports  *prometheus.CounterVec
	Rows     *prometheus.CounterVec
	Duration prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Imports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "debits_imports_total",
			Help: "Debit workbook imports by outcome.",
		}, []string{"outcome"}),
		Rows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "debits_rows_total",
			Help: "Debit rows processed by result.",
		}, []string{"result"}),
		Duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "debits_import_duration_seconds",
			Help:    "Time spent importing a debit workbook.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(m.Imports, m.Rows, m.Duration)
	return m
}

func (m *Metrics) observeImport(err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Imports.WithLabelValues(outcomeOf(err)).Inc()
	m.Duration.Observe(elapsed.Seconds())
}

func (m *Metrics) observeRows(succeeded, failed int) {
	if m == nil {
		return
	}
	m.Rows.WithLabelValues("loaded").Add(float64(succeeded))
	m.Rows.WithLabelValues("failed").Add(float64(failed))
}

func outcomeOf(err error) string {
	var (
		dup    *DuplicateImportError
		schema *normalizer.SchemaError
		dates  *NoValidDatesError
		recon  *ReconciliationError
	)
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.As(err, &dup):
		return OutcomeDuplicate
	case errors.As(err, &schema):
		return OutcomeSchema
	case errors.Is(err, parser.ErrUnreadableWorkbook):
		return OutcomeUnreadable
	case errors.As(err, &dates):
		return OutcomeNoDates
	case errors.As(err, &recon):
		return OutcomeReconciliation
	default:
		return OutcomeError
	}
}
