package combat

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/chiwar/encounter/internal/combat"

func meter() metric.Meter {
	return otel.Meter(instrumentationName)
}

// Stats receives per-operation measurements for offline analysis.
// internal/influx implements it.
type Stats interface {
	RecordAction(ctx context.Context, fightID uint, applied, skipped int, took time.Duration)
	RecordUpCheck(ctx context.Context, fightID, characterID uint, success bool)
}

type instruments struct {
	applied        metric.Int64Counter
	skipped        metric.Int64Counter
	commitFailures metric.Int64Counter
	upChecks       metric.Int64Counter
}

func newInstruments() (*instruments, error) {
	m := meter()
	var (
		in  instruments
		err error
	)

	in.applied, err = m.Int64Counter(
		"combat.updates.applied",
		metric.WithDescription("Shot updates applied by combat actions"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating applied counter: %w", err)
	}

	in.skipped, err = m.Int64Counter(
		"combat.updates.skipped",
		metric.WithDescription("Shot updates skipped because they could not be matched to a shot"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating skipped counter: %w", err)
	}

	in.commitFailures, err = m.Int64Counter(
		"combat.commit.failures",
		metric.WithDescription("Combat transactions rolled back"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating commit failure counter: %w", err)
	}

	in.upChecks, err = m.Int64Counter(
		"combat.upchecks",
		metric.WithDescription("Up-checks resolved"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating up-check counter: %w", err)
	}

	return &in, nil
}

func (in *instruments) skip(ctx context.Context, reason string) {
	in.skipped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (in *instruments) commitFailure(ctx context.Context, op string) {
	in.commitFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
}

func (in *instruments) upCheck(ctx context.Context, success bool) {
	in.upChecks.Add(ctx, 1, metric.WithAttributes(attribute.Bool("success", success)))
}
