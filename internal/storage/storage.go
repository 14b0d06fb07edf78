// Package storage keeps uploaded file content under opaque, unique handles.
// Stored files are never overwritten.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"
	"path/filepath"
	"strings"

	"github.com/oklog/ulid/v2"
)

// MaxUploadBytes is the global ceiling for one stored file.
const MaxUploadBytes int64 = 50 << 20

var (
	ErrNotFound            = errors.New("stored file not found")
	ErrTooLarge            = fmt.Errorf("file exceeds %d bytes", MaxUploadBytes)
	ErrEmpty               = errors.New("file is empty")
	ErrExtensionNotAllowed = errors.New("file extension not allowed")
)

var allowedExtensions = map[string]struct{}{
	"pdf": {}, "doc": {}, "docx": {}, "txt": {}, "rtf": {}, "odt": {},
	"png": {}, "jpg": {}, "jpeg": {}, "gif": {},
}

// AllowedExtensions lists the accepted extensions without dots.
func AllowedExtensions() []string {
	return []string{"pdf", "doc", "docx", "txt", "rtf", "odt", "png", "jpg", "jpeg", "gif"}
}

// Object describes stored content.
type Object struct {
	Handle       string
	OriginalName string
	ContentType  string
	Size         int64
}

type Store interface {
	Put(ctx context.Context, originalName string, r io.Reader) (Object, error)
	Open(ctx context.Context, handle string) (io.ReadCloser, error)
	Size(ctx context.Context, handle string) (int64, error)
	Delete(ctx context.Context, handle string) error
}

// CleanName strips directories and control characters from a client-supplied name.
func CleanName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Base(strings.TrimSpace(name))
	name = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, name)
	if name == "." || name == "/" {
		return ""
	}
	return name
}

// Extension returns the lower-cased extension of name when it is on the allow-list.
func Extension(name string) (string, error) {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
	if ext == "" {
		return "", fmt.Errorf("%w: %q has no extension", ErrExtensionNotAllowed, name)
	}
	if _, ok := allowedExtensions[ext]; !ok {
		return "", fmt.Errorf("%w: .%s", ErrExtensionNotAllowed, ext)
	}
	return ext, nil
}

// NewHandle generates a unique, time-sortable handle keeping the extension.
func NewHandle(ext string) string {
	return strings.ToLower(ulid.Make().String()) + "." + ext
}

func ContentType(ext string) string {
	if ct := mime.TypeByExtension("." + ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// prepare validates name and returns the cleaned name, extension and a fresh handle.
func prepare(originalName string) (string, string, string, error) {
	clean := CleanName(originalName)
	if clean == "" {
		return "", "", "", fmt.Errorf("%w: missing file name", ErrExtensionNotAllowed)
	}
	ext, err := Extension(clean)
	if err != nil {
		return "", "", "", err
	}
	return clean, ext, NewHandle(ext), nil
}

// validHandle rejects handles that could escape the storage root.
func validHandle(handle string) bool {
	return handle != "" && !strings.ContainsAny(handle, `/\`) && !strings.HasPrefix(handle, ".")
}
