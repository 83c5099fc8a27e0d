package store

import (
	"context"
	stderrors "errors"
	"os"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"

	"github.com/campaignmaster/campaignmaster/pkg/errors"
)

const snapshotExt = ".json"

// FileBackend keeps one file per key on a billy filesystem.
type FileBackend struct {
	fs   billy.Filesystem
	name string
}

// NewFileBackend stores snapshots on fs.
func NewFileBackend(fs billy.Filesystem, name string) *FileBackend {
	return &FileBackend{fs: fs, name: name}
}

// NewOSBackend stores snapshots as files under dir, creating it if needed.
func NewOSBackend(dir string) (*FileBackend, error) {
	if dir == "" {
		return nil, errors.NewError(errors.ErrCodeInvalidConfig, "file store requires a directory").
			WithComponent("store")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInvalidConfig, "failed to create store directory").
			WithComponent("store").
			WithContext("dir", dir)
	}
	return NewFileBackend(osfs.New(dir), BackendFile), nil
}

// NewMemoryBackend keeps snapshots in process memory.
func NewMemoryBackend() *FileBackend {
	return NewFileBackend(memfs.New(), BackendMemory)
}

// Name implements Backend.
func (b *FileBackend) Name() string {
	return b.name
}

// Filesystem exposes the underlying billy filesystem.
func (b *FileBackend) Filesystem() billy.Filesystem {
	return b.fs
}

// Read implements Backend.
func (b *FileBackend) Read(ctx context.Context, key string) ([]byte, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeOperationCanceled, "read canceled")
	}

	data, err := util.ReadFile(b.fs, key+snapshotExt)
	if err != nil {
		if stderrors.Is(err, os.ErrNotExist) {
			return nil, notFound(b.name, key)
		}
		return nil, errors.Wrap(err, errors.ErrCodeSnapshotRead, "failed to read snapshot").
			WithComponent("store").
			WithContext("key", key)
	}
	return data, nil
}

// Write implements Backend. The data is written to a temporary file that
// then replaces the snapshot, so readers never see a partial file.
func (b *FileBackend) Write(ctx context.Context, key string, data []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, errors.ErrCodeOperationCanceled, "write canceled")
	}

	writeErr := func(err error, msg string) error {
		return errors.Wrap(err, errors.ErrCodeSnapshotWrite, msg).
			WithComponent("store").
			WithContext("key", key)
	}

	tmp, err := b.fs.TempFile("", "."+key+".tmp-")
	if err != nil {
		return writeErr(err, "failed to create temp file")
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = b.fs.Remove(tmpName)
		return writeErr(err, "failed to write temp file")
	}
	if err := tmp.Close(); err != nil {
		_ = b.fs.Remove(tmpName)
		return writeErr(err, "failed to close temp file")
	}

	target := key + snapshotExt
	if err := b.fs.Rename(tmpName, target); err != nil {
		// Some filesystems refuse to rename over an existing file.
		_ = b.fs.Remove(target)
		if err := b.fs.Rename(tmpName, target); err != nil {
			_ = b.fs.Remove(tmpName)
			return writeErr(err, "failed to replace snapshot")
		}
	}
	return nil
}

// Delete implements Backend.
func (b *FileBackend) Delete(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, errors.ErrCodeOperationCanceled, "delete canceled")
	}

	if err := b.fs.Remove(key + snapshotExt); err != nil && !stderrors.Is(err, os.ErrNotExist) {
		return errors.Wrap(err, errors.ErrCodeSnapshotDelete, "failed to delete snapshot").
			WithComponent("store").
			WithContext("key", key)
	}
	return nil
}
