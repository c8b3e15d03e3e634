package otelhelper_test

import (
	"context"
	"errors"
	"testing"

	"github.com/dukex/processflow/pkg/otelhelper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestNewTracer_Disabled(t *testing.T) {
	tracer, shutdown, err := otelhelper.NewTracer(context.Background(), "processflow-test", false)
	require.NoError(t, err)
	require.NotNil(t, tracer)

	ctx, span := otelhelper.StartSpan(context.Background(), tracer, "flow.put",
		attribute.Int64(otelhelper.FlowIDKey, 42))
	otelhelper.SetError(span, errors.New("version conflict"))
	span.End()

	assert.NotNil(t, ctx)
	assert.NoError(t, shutdown(context.Background()))
}
