package tracing_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"

	"github.com/afn-amd/Clapgrow-Salasar-Lombard-Reconciliation/pkg/tracing"
	"github.com/afn-amd/Clapgrow-Salasar-Lombard-Reconciliation/pkg/tracing/exporters"
)

func TestStartSpan_WithoutTracer(t *testing.T) {
	tracing.SetTracer(nil)
	ctx, span := tracing.StartSpan(context.Background(), "test.NoTracer")
	defer span.End()

	assert.Nil(t, tracing.GetActiveSpan(ctx))
	assert.Empty(t, tracing.GetTraceID(ctx))
	tracing.SetAttributes(ctx, attribute.String("stage", "Done"))
	tracing.RecordError(nil, errors.New("ignored"))
}

func TestSetup(t *testing.T) {
	shutdown := tracing.Setup("reconcile-test", exporters.NewDiscardExporter())
	t.Cleanup(func() {
		tracing.SetTracer(nil)
	})

	ctx, span := tracing.StartSpan(context.Background(), "test.Setup")
	traceID := tracing.GetTraceID(ctx)
	assert.Len(t, traceID, 32)
	assert.NotNil(t, tracing.GetActiveSpan(ctx))

	_, child := tracing.StartSpan(ctx, "test.Child")
	assert.Equal(t, traceID, child.SpanContext().TraceID().String())
	tracing.RecordError(child, errors.New("boom"))
	child.End()
	span.End()

	require.NoError(t, shutdown(context.Background()))
}

func TestNewOTLPExporter_UnsupportedProtocol(t *testing.T) {
	cfg := exporters.DefaultOTLPConfig()
	cfg.Protocol = "zipkin"
	_, err := exporters.NewOTLPExporter(context.Background(), cfg)
	assert.Error(t, err)
}
