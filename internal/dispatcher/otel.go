package dispatcher

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/chiwar/encounter/internal/dispatcher"

// Metric names, all tagged with the command attribute.
const (
	MetricQueueSize = "dispatcher.queue.size"
	MetricProcessed = "dispatcher.events.processed"
	MetricDropped   = "dispatcher.events.dropped"
	MetricFailed    = "dispatcher.events.failed"
)

// initMetrics creates the dispatcher instruments on the global meter
// provider. They are no-ops until one is installed.
func (d *Dispatcher) initMetrics() error {
	m := otel.Meter(instrumentationName)

	var err error
	d.queueSize, err = m.Int64ObservableGauge(MetricQueueSize,
		metric.WithDescription("Events waiting in a buffered command queue"))
	if err != nil {
		return fmt.Errorf("creating queue size gauge: %w", err)
	}
	if _, err = m.RegisterCallback(d.observeQueues, d.queueSize); err != nil {
		return fmt.Errorf("registering queue callback: %w", err)
	}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&d.processed, MetricProcessed, "Commands handled"},
		{&d.dropped, MetricDropped, "Commands dropped because their queue was full"},
		{&d.failed, MetricFailed, "Commands whose handler returned an error"},
	}
	for _, c := range counters {
		if *c.dst, err = m.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return fmt.Errorf("creating %s counter: %w", c.name, err)
		}
	}
	return nil
}

func (d *Dispatcher) observeQueues(_ context.Context, o metric.Observer) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for cmd, buf := range d.buffers {
		o.ObserveInt64(d.queueSize, int64(len(buf)), metric.WithAttributes(attribute.String("command", cmd)))
	}
	return nil
}
