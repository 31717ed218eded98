package observability

import (
	"context"
	"testing"
)

func TestTracerDisabled(t *testing.T) {
	InitTracer(false, "")
	defer ShutdownTracer()

	ctx, span := Tracer("test").Start(context.Background(), "noop")
	defer span.End()

	if ctx == nil {
		t.Fatal("expected a context")
	}
	if span.SpanContext().IsValid() {
		t.Error("expected a no-op span while tracing is disabled")
	}
}
