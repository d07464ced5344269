package tracing_test

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/momentics/hioload-evloop/tracing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestSpansAreExported(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	shutdown, err := tracing.InitWithExporter("test", "v0", exp)
	require.NoError(t, err)
	defer shutdown(context.Background())

	ctx, parent := tracing.StartSpan(context.Background(), "parent")
	_, child := tracing.StartSpan(ctx, "child")
	child.WithAttributes(map[string]string{"customer": "c1"}).WithInt("log", 7)
	child.Event("retry")
	tracing.EndSpan(child, errors.New("boom"))
	tracing.EndSpan(parent, nil)

	spans := exp.GetSpans()
	require.Len(t, spans, 2)
	assert.Equal(t, "child", spans[0].Name)
	assert.Equal(t, codes.Error, spans[0].Status.Code)
	assert.Equal(t, spans[1].SpanContext.SpanID(), spans[0].Parent.SpanID())
	assert.Len(t, spans[0].Attributes, 2)
	assert.Equal(t, codes.Ok, spans[1].Status.Code)
}

func TestStdoutExporter(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := tracing.Init("test", "v0", &buf)
	require.NoError(t, err)
	_, sp := tracing.StartSpan(context.Background(), "stdout")
	tracing.EndSpan(sp, nil)
	require.NoError(t, shutdown(context.Background()))
	assert.Contains(t, buf.String(), `"Name": "stdout"`)
}

func TestNilSpanIsSafe(t *testing.T) {
	var sp *tracing.Span
	assert.Nil(t, sp.WithAttributes(map[string]string{"a": "b"}))
	sp.Event("x")
	tracing.EndSpan(nil, nil)
}
