package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	GraphsFinalized = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lattice_graphs_finalized_total",
		Help: "Graphs that completed FinishBuilding",
	})

	GraphOperands = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "lattice_graph_operands",
		Help:    "Operand count of finalized graphs",
		Buckets: []float64{1, 10, 100, 500, 1000, 5000, 10000},
	})

	GraphOperations = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "lattice_graph_operations",
		Help:    "Operation count of finalized graphs",
		Buckets: []float64{1, 10, 100, 500, 1000, 5000},
	})

	OperandsSwept = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lattice_garbage_operands_swept_total",
		Help: "Unreferenced operands removed by FinishBuilding",
	})

	ModelLoadErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lattice_model_load_errors_total",
		Help: "Graphs or packages rejected as structurally invalid",
	}, []string{"reason"})

	PlannedBytes = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "lattice_planned_memory_bytes",
		Help: "Bytes allocated by the last planning pass per tensor category",
	}, []string{"category"})

	OpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lattice_op_duration_seconds",
		Help:    "Histogram of operation execution times",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	ExecutorRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lattice_executor_runs_total",
		Help: "Executor runs by outcome",
	}, []string{"outcome"})

	ExecutorDuration = promauto.NewSummary(prometheus.SummaryOpts{
		Name: "lattice_executor_duration_seconds",
		Help: "Duration of whole executor runs",
	})

	MinMaxDumps = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lattice_minmax_dumps_total",
		Help: "Min/max calibration runs appended to a dump file",
	})

	MinMaxDumpErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lattice_minmax_dump_errors_total",
		Help: "Failed min/max dump attempts",
	})

	PackageCompileDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "lattice_package_compile_duration_seconds",
		Help:    "Time to lower, plan and compile every graph of a package",
		Buckets: prometheus.DefBuckets,
	})
)

func RecordGraphFinalized(operands, operations int) {
	GraphsFinalized.Inc()
	GraphOperands.Observe(float64(operands))
	GraphOperations.Observe(float64(operations))
}

func RecordOperandsSwept(n int) {
	if n > 0 {
		OperandsSwept.Add(float64(n))
	}
}

func RecordModelLoadError(reason string) {
	ModelLoadErrors.WithLabelValues(reason).Inc()
}

func RecordPlannedBytes(category string, bytes int) {
	PlannedBytes.WithLabelValues(category).Set(float64(bytes))
}

func RecordOpDuration(op string, duration time.Duration) {
	OpDuration.WithLabelValues(op).Observe(duration.Seconds())
}

func RecordExecutorRun(duration time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	ExecutorRuns.WithLabelValues(outcome).Inc()
	ExecutorDuration.Observe(duration.Seconds())
}

func RecordMinMaxDump(err error) {
	if err != nil {
		MinMaxDumpErrors.Inc()
		return
	}
	MinMaxDumps.Inc()
}

func RecordPackageCompile(duration time.Duration) {
	PackageCompileDuration.Observe(duration.Seconds())
}
