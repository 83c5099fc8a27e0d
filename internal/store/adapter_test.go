package store

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campaignmaster/campaignmaster/pkg/errors"
	"github.com/campaignmaster/campaignmaster/pkg/retry"
	"github.com/campaignmaster/campaignmaster/pkg/utils"
)

type snapshot struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// flakyBackend fails the first failures calls of each kind with err.
type flakyBackend struct {
	*FileBackend
	mu       sync.Mutex
	failures int
	err      error
	calls    int
}

func (f *flakyBackend) fail() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failures > 0 {
		f.failures--
		return f.err
	}
	return nil
}

func (f *flakyBackend) Read(ctx context.Context, key string) ([]byte, error) {
	if err := f.fail(); err != nil {
		return nil, err
	}
	return f.FileBackend.Read(ctx, key)
}

func (f *flakyBackend) Write(ctx context.Context, key string, data []byte) error {
	if err := f.fail(); err != nil {
		return err
	}
	return f.FileBackend.Write(ctx, key, data)
}

type recordedOp struct {
	op      string
	success bool
}

type opRecorder struct {
	mu  sync.Mutex
	ops []recordedOp
}

func (r *opRecorder) RecordStoreOperation(op string, success bool, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, recordedOp{op, success})
}

func testLogger(buf *bytes.Buffer) *utils.StructuredLogger {
	return utils.NewStructuredLogger(&utils.StructuredLoggerConfig{Level: utils.DEBUG, Output: buf})
}

func fastRetry(attempts int) retry.Config {
	return retry.Config{MaxAttempts: attempts, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}
}

func TestAdapter_SaveLoadRoundTrip(t *testing.T) {
	a := NewAdapter(NewMemoryBackend(), nil, WithLogger(utils.NewNopLogger()))

	require.True(t, a.Save("app-cache", snapshot{Name: "campaigns", Count: 3}))

	var got snapshot
	require.True(t, a.Load("app-cache", &got))
	assert.Equal(t, snapshot{Name: "campaigns", Count: 3}, got)
}

func TestAdapter_LoadMissingIsSilent(t *testing.T) {
	var buf bytes.Buffer
	rec := &opRecorder{}
	a := NewAdapter(NewMemoryBackend(), nil, WithLogger(testLogger(&buf)), WithRecorder(rec))

	var got snapshot
	assert.False(t, a.Load("missing", &got))
	assert.Empty(t, buf.String())
	assert.Equal(t, []recordedOp{{"load", true}}, rec.ops)
}

func TestAdapter_LoadOr(t *testing.T) {
	a := NewAdapter(NewMemoryBackend(), nil, WithLogger(utils.NewNopLogger()))

	def := map[string]int{"default": 1}
	assert.Equal(t, def, LoadOr(a, "missing", def))

	require.True(t, a.Save("present", map[string]int{"stored": 2}))
	assert.Equal(t, map[string]int{"stored": 2}, LoadOr(a, "present", def))
}

func TestAdapter_CorruptSnapshotReturnsDefault(t *testing.T) {
	var buf bytes.Buffer
	backend := NewMemoryBackend()
	require.NoError(t, backend.Write(context.Background(), "app-cache", []byte("{not json")))

	a := NewAdapter(backend, nil, WithLogger(testLogger(&buf)))

	assert.Equal(t, 7, LoadOr(a, "app-cache", 7))
	assert.Contains(t, buf.String(), "failed to decode snapshot")
}

func TestAdapter_UnserializableValue(t *testing.T) {
	var buf bytes.Buffer
	a := NewAdapter(NewMemoryBackend(), nil, WithLogger(testLogger(&buf)))

	assert.False(t, a.Save("app-cache", map[string]any{"ch": make(chan int)}))
	assert.Contains(t, buf.String(), "failed to encode snapshot")
}

func TestAdapter_Compression(t *testing.T) {
	backend := NewMemoryBackend()
	compressed := NewAdapter(backend, &Config{Compress: true}, WithLogger(utils.NewNopLogger()))

	value := map[string]string{"payload": strings.Repeat("campaign ", 200)}
	require.True(t, compressed.Save("app-cache", value))

	raw, err := backend.Read(context.Background(), "app-cache")
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(raw, gzipMagic), "snapshot should be gzip encoded")
	assert.Less(t, len(raw), len(value["payload"]))

	// A reader configured without compression still understands the snapshot.
	plain := NewAdapter(backend, nil, WithLogger(utils.NewNopLogger()))
	var got map[string]string
	require.True(t, plain.Load("app-cache", &got))
	assert.Equal(t, value, got)
}

func TestAdapter_RetriesTransientFailures(t *testing.T) {
	backend := &flakyBackend{
		FileBackend: NewMemoryBackend(),
		failures:    2,
		err:         errors.NewError(errors.ErrCodeSnapshotWrite, "throttled"),
	}
	a := NewAdapter(backend, &Config{Retry: fastRetry(3)}, WithLogger(utils.NewNopLogger()))

	assert.True(t, a.Save("app-cache", snapshot{Name: "x"}))
	assert.Equal(t, 3, backend.calls)
}

func TestAdapter_SaveFailureIsReported(t *testing.T) {
	var buf bytes.Buffer
	rec := &opRecorder{}
	backend := &flakyBackend{
		FileBackend: NewMemoryBackend(),
		failures:    10,
		err:         errors.NewError(errors.ErrCodeSnapshotWrite, "quota exceeded").WithRetryable(false),
	}
	a := NewAdapter(backend, &Config{Retry: fastRetry(3)}, WithLogger(testLogger(&buf)), WithRecorder(rec))

	assert.False(t, a.Save("app-cache", snapshot{Name: "x"}))
	assert.Equal(t, 1, backend.calls, "non-retryable errors are not retried")
	assert.Contains(t, buf.String(), "failed to save snapshot")
	assert.Equal(t, []recordedOp{{"save", false}}, rec.ops)
}

func TestAdapter_MultipleRecorders(t *testing.T) {
	first, second := &opRecorder{}, &opRecorder{}
	a := NewAdapter(NewMemoryBackend(), nil,
		WithLogger(utils.NewNopLogger()),
		WithRecorder(first),
		WithRecorder(nil),
		WithRecorder(second),
	)

	require.True(t, a.Save("app-cache", 1))
	assert.Equal(t, []recordedOp{{"save", true}}, first.ops)
	assert.Equal(t, first.ops, second.ops)
}

func TestAdapter_InvalidKey(t *testing.T) {
	a := NewAdapter(NewMemoryBackend(), nil, WithLogger(utils.NewNopLogger()))

	for _, key := range []string{"", "../escape", "a/b", `a\b`, ".hidden"} {
		assert.False(t, a.Save(key, 1), "key %q", key)
	}
}

func TestAdapter_Remove(t *testing.T) {
	a := NewAdapter(NewMemoryBackend(), nil, WithLogger(utils.NewNopLogger()))

	require.True(t, a.Save("app-cache", 1))
	a.Remove("app-cache")
	a.Remove("app-cache")

	var v int
	assert.False(t, a.Load("app-cache", &v))
}

func TestNew_SelectsBackend(t *testing.T) {
	ctx := context.Background()

	a, err := New(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, BackendMemory, a.Backend().Name())

	a, err = New(ctx, &Config{Backend: BackendFile, Dir: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, BackendFile, a.Backend().Name())

	_, err = New(ctx, &Config{Backend: "floppy"})
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidConfig))

	_, err = New(ctx, &Config{Backend: BackendS3})
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidConfig), "s3 without bucket")

	_, err = New(ctx, &Config{Backend: BackendMinIO})
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidConfig), "minio without endpoint")
}
