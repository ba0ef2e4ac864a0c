package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNoopBundleIsSafeToCallAndNeverPanics(t *testing.T) {
	t.Parallel()
	b := Noop()
	ctx := context.Background()

	assert.NotPanics(t, func() {
		b.Logger.Debug(ctx, "msg", "k", "v")
		b.Logger.Info(ctx, "msg")
		b.Logger.Warn(ctx, "msg")
		b.Logger.Error(ctx, "msg")
		b.Metrics.IncCounter("counter", 1, "tag")
		b.Metrics.RecordTimer("timer", 0)
		b.Metrics.RecordGauge("gauge", 1)
		spanCtx, span := b.Tracer.Start(ctx, "op")
		span.AddEvent("event")
		span.SetStatus(0, "ok")
		span.RecordError(nil)
		span.End()
		_ = b.Tracer.Span(spanCtx)
	})
}
