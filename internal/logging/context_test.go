package logging

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextKeys(t *testing.T) {
	ctx := context.Background()

	// Initially empty.
	assert.Equal(t, "", GraphID(ctx))
	assert.Equal(t, "", RunID(ctx))
	assert.Equal(t, "", NodeID(ctx))

	// Set values.
	ctx = WithGraphID(ctx, "support-triage")
	ctx = WithRunID(ctx, "run-123")
	ctx = WithNodeID(ctx, "router")

	// Round-trip.
	assert.Equal(t, "support-triage", GraphID(ctx))
	assert.Equal(t, "run-123", RunID(ctx))
	assert.Equal(t, "router", NodeID(ctx))
}

func TestLogWith(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	ctx := context.Background()
	ctx = WithGraphID(ctx, "support-triage")
	ctx = WithRunID(ctx, "run-abc")
	ctx = WithNodeID(ctx, "research")

	enriched := LogWith(ctx, logger)
	enriched.Info("test message")

	output := buf.String()
	assert.Contains(t, output, "graph_id=support-triage")
	assert.Contains(t, output, "run_id=run-abc")
	assert.Contains(t, output, "node_id=research")
	assert.Contains(t, output, "test message")
}

func TestLogWithMissingKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	// Only set graph ID; run and node should not appear.
	ctx := WithGraphID(context.Background(), "only-graph")

	enriched := LogWith(ctx, logger)
	enriched.Info("partial context")

	output := buf.String()
	assert.Contains(t, output, "graph_id=only-graph")
	assert.NotContains(t, output, "run_id")
	assert.NotContains(t, output, "node_id")
}

func TestWithIDs(t *testing.T) {
	ctx := WithIDs(context.Background(), "g-1", "r-2", "n-3")
	assert.Equal(t, "g-1", GraphID(ctx))
	assert.Equal(t, "r-2", RunID(ctx))
	assert.Equal(t, "n-3", NodeID(ctx))
}

func TestCorrelationHandler(t *testing.T) {
	var buf bytes.Buffer
	inner := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := slog.New(NewCorrelationHandler(inner))

	ctx := WithIDs(context.Background(), "support-triage", "run-9", "router")
	logger.InfoContext(ctx, "auto correlation")

	output := buf.String()
	assert.Contains(t, output, `"graph_id":"support-triage"`)
	assert.Contains(t, output, `"run_id":"run-9"`)
	assert.Contains(t, output, `"node_id":"router"`)
}

func TestCorrelationHandlerEmptyContext(t *testing.T) {
	var buf bytes.Buffer
	inner := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := slog.New(NewCorrelationHandler(inner))

	logger.InfoContext(context.Background(), "bare record")

	output := buf.String()
	assert.NotContains(t, output, "graph_id")
	assert.NotContains(t, output, "run_id")
	assert.NotContains(t, output, "node_id")
	assert.Contains(t, output, "bare record")
}
