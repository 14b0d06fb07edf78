package storage

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"

	"github.com/spf13/afero"
)

// LocalStore keeps files in a directory tree.
type LocalStore struct {
	fs afero.Fs
}

// NewLocalStore roots a store at dir on the host filesystem, creating it if needed.
func NewLocalStore(dir string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return NewLocalStoreFs(afero.NewBasePathFs(afero.NewOsFs(), dir)), nil
}

func NewLocalStoreFs(fsys afero.Fs) *LocalStore {
	return &LocalStore{fs: fsys}
}

func (s *LocalStore) Put(ctx context.Context, originalName string, r io.Reader) (Object, error) {
	clean, ext, handle, err := prepare(originalName)
	if err != nil {
		return Object{}, err
	}
	if err := ctx.Err(); err != nil {
		return Object{}, err
	}
	f, err := s.fs.OpenFile(handle, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return Object{}, err
	}
	n, copyErr := io.Copy(f, io.LimitReader(r, MaxUploadBytes+1))
	closeErr := f.Close()
	fail := func(err error) (Object, error) {
		_ = s.fs.Remove(handle)
		return Object{}, err
	}
	switch {
	case copyErr != nil:
		return fail(copyErr)
	case closeErr != nil:
		return fail(closeErr)
	case n > MaxUploadBytes:
		return fail(ErrTooLarge)
	case n == 0:
		return fail(ErrEmpty)
	}
	return Object{Handle: handle, OriginalName: clean, ContentType: ContentType(ext), Size: n}, nil
}

func (s *LocalStore) Open(_ context.Context, handle string) (io.ReadCloser, error) {
	if !validHandle(handle) {
		return nil, ErrNotFound
	}
	f, err := s.fs.Open(handle)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	return f, err
}

func (s *LocalStore) Size(_ context.Context, handle string) (int64, error) {
	if !validHandle(handle) {
		return 0, ErrNotFound
	}
	info, err := s.fs.Stat(handle)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (s *LocalStore) Delete(_ context.Context, handle string) error {
	if !validHandle(handle) {
		return ErrNotFound
	}
	err := s.fs.Remove(handle)
	if errors.Is(err, fs.ErrNotExist) {
		return ErrNotFound
	}
	return err
}
