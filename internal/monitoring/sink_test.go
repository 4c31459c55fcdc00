package monitoring

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/vmcpmesh/gateway/pkg/mesh"
)

type fakeMonitoringStore struct {
	records []mesh.MonitoringRecord
	fail    bool
}

func (f *fakeMonitoringStore) Log(_ context.Context, record mesh.MonitoringRecord) error {
	if f.fail {
		return errors.New("write failed")
	}
	f.records = append(f.records, record)
	return nil
}

func newTestSink(t *testing.T, opts ...Option) *OTelSink {
	t.Helper()
	sink, err := NewOTelSink(tracenoop.NewTracerProvider().Tracer("test"), noop.NewMeterProvider().Meter("test"), opts...)
	require.NoError(t, err)
	return sink
}

func TestOTelSink_FinishWritesRecordWhenEnabled(t *testing.T) {
	t.Parallel()

	store := &fakeMonitoringStore{}
	sink := newTestSink(t, WithStorage(store), WithEnabled(true))

	ctx, span := sink.Start(context.Background(), Call{
		ConnectionID:   "conn_1",
		ToolName:       "search",
		OrganizationID: "org_1",
		Input:          map[string]any{"query": "x", "_meta": map[string]any{"trace": "abc"}},
		Properties:     map[string]any{"source": "cli"},
	})

	sink.Finish(ctx, span, map[string]any{"ok": true}, nil)

	require.Len(t, store.records, 1)
	rec := store.records[0]
	assert.Equal(t, "conn_1", rec.ConnectionID)
	assert.False(t, rec.IsError)
	assert.Equal(t, "cli", rec.Properties["source"])
	assert.Equal(t, "abc", rec.Properties["trace"])
}

func TestOTelSink_FinishSkipsWriteWhenDisabled(t *testing.T) {
	t.Parallel()

	store := &fakeMonitoringStore{}
	sink := newTestSink(t, WithStorage(store), WithEnabled(false))

	ctx, span := sink.Start(context.Background(), Call{ConnectionID: "conn_1", ToolName: "search", OrganizationID: "org_1"})
	sink.Finish(ctx, span, nil, nil)

	assert.Empty(t, store.records)
}

func TestOTelSink_FinishToleratesStorageFailure(t *testing.T) {
	t.Parallel()

	store := &fakeMonitoringStore{fail: true}
	sink := newTestSink(t, WithStorage(store), WithEnabled(true))

	ctx, span := sink.Start(context.Background(), Call{ConnectionID: "conn_1", ToolName: "search", OrganizationID: "org_1"})

	assert.NotPanics(t, func() {
		sink.Finish(ctx, span, nil, errors.New("boom"))
	})
}

func TestOTelSink_FinishRecordsErrorMessage(t *testing.T) {
	t.Parallel()

	store := &fakeMonitoringStore{}
	sink := newTestSink(t, WithStorage(store), WithEnabled(true))

	ctx, span := sink.Start(context.Background(), Call{ConnectionID: "conn_1", ToolName: "search", OrganizationID: "org_1"})
	sink.Finish(ctx, span, nil, errors.New("downstream failed"))

	require.Len(t, store.records, 1)
	assert.True(t, store.records[0].IsError)
	assert.Equal(t, "downstream failed", store.records[0].ErrorMessage)
}

func TestOTelSink_FinishNilSpanIsNoop(t *testing.T) {
	t.Parallel()

	sink := newTestSink(t)
	assert.NotPanics(t, func() {
		sink.Finish(context.Background(), nil, nil, nil)
	})
}

func TestCloseOpen_NilSpanIsNoop(t *testing.T) {
	t.Parallel()
	assert.NotPanics(t, func() {
		CloseOpen(nil)
	})
}

func TestCloseOpen_EndsSpan(t *testing.T) {
	t.Parallel()

	sink := newTestSink(t)
	_, span := sink.Start(context.Background(), Call{ConnectionID: "conn_1", ToolName: "search"})

	assert.NotPanics(t, func() {
		CloseOpen(span)
	})
}
