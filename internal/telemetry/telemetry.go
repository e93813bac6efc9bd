// Package telemetry exposes the OpenTelemetry tracer and instruments shared
// by the engine and the services. Without an installed SDK both are no-ops.
package telemetry

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/hitlflow/hitlflow"

// Tracer returns the package-wide tracer.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// Metrics holds the counters recorded across a request.
type Metrics struct {
	Runs       metric.Int64Counter
	Interrupts metric.Int64Counter
	Attempts   metric.Int64Counter
	Cost       metric.Float64Counter
}

var (
	once     sync.Once
	instance *Metrics
)

// Default returns the process-wide instruments, built from the global meter
// provider on first use. Creation failures fall back to no-op instruments.
func Default() *Metrics {
	once.Do(func() {
		m, err := New(otel.Meter(instrumentationName))
		if err != nil {
			m, _ = New(noop.NewMeterProvider().Meter(instrumentationName))
		}
		instance = m
	})
	return instance
}

// New builds the instruments on a specific meter.
func New(meter metric.Meter) (*Metrics, error) {
	runs, err := meter.Int64Counter("hitlflow.workflow.runs",
		metric.WithDescription("Workflow runs and resumes by terminal status"))
	if err != nil {
		return nil, err
	}
	interrupts, err := meter.Int64Counter("hitlflow.interrupts",
		metric.WithDescription("Approval interrupts raised"))
	if err != nil {
		return nil, err
	}
	attempts, err := meter.Int64Counter("hitlflow.usage.attempts",
		metric.WithDescription("Billable attempts recorded in the usage ledger"))
	if err != nil {
		return nil, err
	}
	cost, err := meter.Float64Counter("hitlflow.usage.cost",
		metric.WithDescription("Credits charged"), metric.WithUnit("USD"))
	if err != nil {
		return nil, err
	}
	return &Metrics{Runs: runs, Interrupts: interrupts, Attempts: attempts, Cost: cost}, nil
}
