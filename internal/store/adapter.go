package store

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/campaignmaster/campaignmaster/pkg/errors"
	"github.com/campaignmaster/campaignmaster/pkg/retry"
	"github.com/campaignmaster/campaignmaster/pkg/utils"
)

// Recorder receives one observation per adapter operation.
type Recorder interface {
	RecordStoreOperation(op string, success bool, duration time.Duration)
}

type recorders []Recorder

func (rs recorders) RecordStoreOperation(op string, success bool, duration time.Duration) {
	for _, r := range rs {
		r.RecordStoreOperation(op, success, duration)
	}
}

// Adapter stores JSON values in a Backend and never fails loudly.
type Adapter struct {
	backend  Backend
	logger   *utils.StructuredLogger
	retryer  *retry.Retryer
	recorder recorders
	timeout  time.Duration
	compress bool
}

// AdapterOption configures an Adapter.
type AdapterOption func(*Adapter)

// WithLogger sets the adapter logger.
func WithLogger(logger *utils.StructuredLogger) AdapterOption {
	return func(a *Adapter) {
		if logger != nil {
			a.logger = logger.WithComponent("store")
		}
	}
}

// WithRecorder reports operation outcomes to r. Repeated options add
// recorders.
func WithRecorder(r Recorder) AdapterOption {
	return func(a *Adapter) {
		if r != nil {
			a.recorder = append(a.recorder, r)
		}
	}
}

// NewAdapter wraps backend. Only Timeout, Compress and Retry are read from cfg.
func NewAdapter(backend Backend, cfg *Config, opts ...AdapterOption) *Adapter {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	retryCfg := cfg.Retry
	retryCfg.ShouldRetry = func(err error) bool {
		if IsNotFound(err) || errors.HasCode(err, errors.ErrCodeInvalidKey) {
			return false
		}
		cmErr, ok := errors.As(err)
		return !ok || cmErr.Retryable
	}

	a := &Adapter{
		backend:  backend,
		logger:   utils.OrDefault(nil).WithComponent("store"),
		retryer:  retry.New(retryCfg),
		timeout:  cfg.Timeout,
		compress: cfg.Compress,
	}
	if a.timeout <= 0 {
		a.timeout = 5 * time.Second
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Backend returns the wrapped backend.
func (a *Adapter) Backend() Backend {
	return a.backend
}

// Load decodes the value stored at key into v. It returns false when the
// key is missing, unreadable, or does not decode; only the last two are logged.
func (a *Adapter) Load(key string, v any) bool {
	start := time.Now()
	var data []byte
	err := a.do("load", func(ctx context.Context) error {
		var readErr error
		data, readErr = a.backend.Read(ctx, key)
		return readErr
	})
	if err != nil {
		if IsNotFound(err) {
			a.recorder.RecordStoreOperation("load", true, time.Since(start))
			return false
		}
		a.logger.Warn("failed to load snapshot", map[string]interface{}{
			"key":     key,
			"backend": a.backend.Name(),
			"error":   err,
		})
		a.recorder.RecordStoreOperation("load", false, time.Since(start))
		return false
	}

	if err := decode(data, v); err != nil {
		a.logger.Warn("failed to decode snapshot", map[string]interface{}{
			"key":   key,
			"bytes": len(data),
			"error": err,
		})
		a.recorder.RecordStoreOperation("load", false, time.Since(start))
		return false
	}

	a.recorder.RecordStoreOperation("load", true, time.Since(start))
	return true
}

// LoadOr returns the value stored at key, or def when nothing usable is stored.
func LoadOr[T any](a *Adapter, key string, def T) T {
	var v T
	if !a.Load(key, &v) {
		return def
	}
	return v
}

// Save encodes v and writes it at key, reporting whether it was stored.
func (a *Adapter) Save(key string, v any) bool {
	start := time.Now()

	data, err := encode(v, a.compress)
	if err != nil {
		a.logger.Warn("failed to encode snapshot", map[string]interface{}{
			"key":   key,
			"error": err,
		})
		a.recorder.RecordStoreOperation("save", false, time.Since(start))
		return false
	}

	err = a.do("save", func(ctx context.Context) error {
		return a.backend.Write(ctx, key, data)
	})
	if err != nil {
		a.logger.Warn("failed to save snapshot", map[string]interface{}{
			"key":     key,
			"backend": a.backend.Name(),
			"bytes":   len(data),
			"error":   err,
		})
		a.recorder.RecordStoreOperation("save", false, time.Since(start))
		return false
	}

	a.recorder.RecordStoreOperation("save", true, time.Since(start))
	return true
}

// Remove deletes key. Failures are logged and otherwise ignored.
func (a *Adapter) Remove(key string) {
	start := time.Now()
	err := a.do("remove", func(ctx context.Context) error {
		return a.backend.Delete(ctx, key)
	})
	if err != nil {
		a.logger.Warn("failed to remove snapshot", map[string]interface{}{
			"key":     key,
			"backend": a.backend.Name(),
			"error":   err,
		})
	}
	a.recorder.RecordStoreOperation("remove", err == nil, time.Since(start))
}

func (a *Adapter) do(op string, fn func(ctx context.Context) error) error {
	if a.backend == nil {
		return errors.NewError(errors.ErrCodeComponentStopped, "no backend configured").
			WithComponent("store").
			WithOperation(op)
	}

	return a.retryer.DoWithContext(context.Background(), func(ctx context.Context) error {
		opCtx, cancel := context.WithTimeout(ctx, a.timeout)
		defer cancel()
		return fn(opCtx)
	})
}

var gzipMagic = []byte{0x1f, 0x8b}

func encode(v any, compress bool) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSnapshotEncode, "value is not serializable")
	}
	if !compress {
		return data, nil
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSnapshotEncode, "gzip write failed")
	}
	if err := zw.Close(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSnapshotEncode, "gzip close failed")
	}
	return buf.Bytes(), nil
}

// decode accepts plain or gzip compressed JSON regardless of the current
// Compress setting.
func decode(data []byte, v any) error {
	if bytes.HasPrefix(data, gzipMagic) {
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeSnapshotDecode, "invalid gzip header")
		}
		defer zr.Close()

		data, err = io.ReadAll(zr)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeSnapshotDecode, "gzip read failed")
		}
	}

	if err := json.Unmarshal(data, v); err != nil {
		return errors.Wrap(err, errors.ErrCodeSnapshotDecode, "invalid snapshot JSON")
	}
	return nil
}
