package world

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"colonysim.ai/internal/sim/jobs"
)

// MeterName is the instrumentation scope name for world metrics.
const MeterName = "colonysim.ai/internal/sim/world"

// WorldMetrics is the last tick's summary, readable from any goroutine.
type WorldMetrics struct {
	Tick      uint64             `json:"tick"`
	Jobs      map[jobs.State]int `json:"jobs"`
	Agents    int                `json:"agents"`
	Observers int                `json:"observers"`
	StepMS    float64            `json:"step_ms"`
}

type worldMetrics struct {
	ticks         metric.Int64Counter
	stepDuration  metric.Float64Histogram
	notifications metric.Int64Counter
	errors        metric.Int64Counter
	jobs          metric.Int64Gauge
}

// newWorldMetrics creates the instruments on meter; a nil meter records nothing.
func newWorldMetrics(meter metric.Meter) (*worldMetrics, error) {
	if meter == nil {
		meter = noop.NewMeterProvider().Meter(MeterName)
	}
	var (
		m   worldMetrics
		err error
	)
	if m.ticks, err = meter.Int64Counter("colonysim.world.ticks",
		metric.WithDescription("Ticks simulated"),
		metric.WithUnit("{tick}"),
	); err != nil {
		return nil, err
	}
	if m.stepDuration, err = meter.Float64Histogram("colonysim.world.step.duration",
		metric.WithDescription("Wall time of one tick in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if m.notifications, err = meter.Int64Counter("colonysim.jobs.notifications",
		metric.WithDescription("Job notifications published, by kind"),
		metric.WithUnit("{notification}"),
	); err != nil {
		return nil, err
	}
	if m.errors, err = meter.Int64Counter("colonysim.world.errors",
		metric.WithDescription("Errors logged by the tick loop, by stage"),
		metric.WithUnit("{error}"),
	); err != nil {
		return nil, err
	}
	if m.jobs, err = meter.Int64Gauge("colonysim.jobs.current",
		metric.WithDescription("Jobs per state after the last tick"),
		metric.WithUnit("{job}"),
	); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *worldMetrics) recordStep(d time.Duration) {
	ctx := context.Background()
	m.ticks.Add(ctx, 1)
	m.stepDuration.Record(ctx, d.Seconds())
}

func (m *worldMetrics) recordNotifications(batch []jobs.Notification) {
	ctx := context.Background()
	for _, n := range batch {
		m.notifications.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(n.Kind))))
	}
}

func (m *worldMetrics) recordJobs(counts map[jobs.State]int) {
	ctx := context.Background()
	for _, st := range jobs.States() {
		m.jobs.Record(ctx, int64(counts[st]), metric.WithAttributes(attribute.String("state", string(st))))
	}
}

func (m *worldMetrics) recordError(stage string) {
	m.errors.Add(context.Background(), 1, metric.WithAttributes(attribute.String("stage", stage)))
}
