package recording

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/edgecomet/imposter/pkg/types"
)

func sig(method, path string) types.RequestSignature {
	return types.RequestSignature{Method: method, Path: path}
}

func TestProxyOnceRecordsFirstAndReplaysEveryTime(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(filepath.Join(dir, "recordings.json"), "", 0, zap.NewNop())
	require.NoError(t, store.Load(context.Background()))

	engine := NewEngine(types.ProxyOnce, store)
	ctx := context.Background()
	s := sig("GET", "/widgets/1")

	_, replay, err := engine.ShouldReplay(ctx, s)
	require.NoError(t, err)
	require.False(t, replay, "no recording yet")

	first := types.RecordedResponse{Status: 200, Body: []byte("first"), TimestampSecs: 1}
	require.NoError(t, engine.Record(ctx, s, first))

	second := types.RecordedResponse{Status: 500, Body: []byte("second"), TimestampSecs: 2}
	require.NoError(t, engine.Record(ctx, s, second))

	resp, replay, err := engine.ShouldReplay(ctx, s)
	require.NoError(t, err)
	require.True(t, replay)
	require.Equal(t, "first", string(resp.Body), "proxyOnce always replays the first recorded response")
}

func TestProxyAlwaysNeverReplays(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(filepath.Join(dir, "recordings.json"), "", 0, zap.NewNop())
	require.NoError(t, store.Load(context.Background()))

	engine := NewEngine(types.ProxyAlways, store)
	ctx := context.Background()
	s := sig("GET", "/widgets/2")

	require.NoError(t, engine.Record(ctx, s, types.RecordedResponse{Status: 200, Body: []byte("a")}))
	require.NoError(t, engine.Record(ctx, s, types.RecordedResponse{Status: 200, Body: []byte("b")}))

	_, replay, err := engine.ShouldReplay(ctx, s)
	require.NoError(t, err)
	require.False(t, replay)

	records, err := store.All(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Len(t, records[0].Responses, 2, "proxyAlways appends every response")
}

func TestProxyTransparentNeverRecords(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(filepath.Join(dir, "recordings.json"), "", 0, zap.NewNop())
	require.NoError(t, store.Load(context.Background()))

	engine := NewEngine(types.ProxyTransparent, store)
	ctx := context.Background()
	s := sig("GET", "/widgets/3")

	require.NoError(t, engine.Record(ctx, s, types.RecordedResponse{Status: 200, Body: []byte("ignored")}))

	records, err := store.All(ctx)
	require.NoError(t, err)
	require.Len(t, records, 0)
}

func TestFileStorePersistsAndReloadsWithCompression(t *testing.T) {
	path := filepath.Join(t.TempDir(), "recordings.json")
	store := NewFileStore(path, types.CompressionSnappy, 1, zap.NewNop())
	require.NoError(t, store.Load(context.Background()))

	ctx := context.Background()
	s := sig("POST", "/orders")
	body := []byte("a fairly repetitive response body used to exercise compression paths")
	require.NoError(t, store.Append(ctx, s, types.RecordedResponse{Status: 201, Body: body, TimestampSecs: 42}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NotEmpty(t, data)

	reloaded := NewFileStore(path, types.CompressionSnappy, 1, zap.NewNop())
	require.NoError(t, reloaded.Load(ctx))

	got, ok, err := reloaded.Get(ctx, s)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, body, got.Body)
	require.Equal(t, 201, got.Status)
}

func TestExportStubsBuildsMountebankShapedPredicates(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(filepath.Join(dir, "recordings.json"), "", 0, zap.NewNop())
	require.NoError(t, store.Load(context.Background()))

	ctx := context.Background()
	s := types.RequestSignature{
		Method:          "GET",
		Path:            "/api/widgets",
		HasQuery:        true,
		QueryRaw:        "color=red",
		FilteredHeaders: []types.KV{{Key: "x-tenant", Value: "acme"}},
	}
	latency := int64(50)
	require.NoError(t, store.Append(ctx, s, types.RecordedResponse{
		Status:    200,
		Body:      []byte(`{"ok":true}`),
		LatencyMS: &latency,
	}))

	stubs, err := ExportStubs(ctx, store, true)
	require.NoError(t, err)
	require.Len(t, stubs, 1)

	and := stubs[0].Predicates[0].And
	require.Equal(t, "GET", and.Method)
	require.Equal(t, "/api/widgets", and.Path)
	require.Equal(t, "red", and.Query["color"])
	require.Equal(t, "acme", and.Headers["x-tenant"])

	require.Len(t, stubs[0].Responses, 1)
	require.Equal(t, 200, stubs[0].Responses[0].Is.StatusCode)
	require.NotNil(t, stubs[0].Responses[0].Is.Behaviors)
	require.Equal(t, int64(50), stubs[0].Responses[0].Is.Behaviors.Wait)
}
