// Package storage persists screenshots in an object store and maps object
// keys to the public URLs stored on analysis records.
package storage

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	// ErrUploadFailed wraps a failed object write.
	ErrUploadFailed = errors.New("failed to upload object")
	// ErrDeleteFailed wraps a failed object delete.
	ErrDeleteFailed = errors.New("failed to delete object")
	// ErrUnknownURL reports a URL outside the store's public base.
	ErrUnknownURL = errors.New("url does not belong to this store")
)

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// ObjectStore is the minimal blob API the service needs.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
	// URL returns the public URL for key.
	URL(key string) string
	// KeyFromURL inverts URL.
	KeyFromURL(url string) (string, bool)
}

// urlMapper implements URL and KeyFromURL for a fixed public base.
type urlMapper struct {
	base string
}

func newURLMapper(base string) urlMapper {
	return urlMapper{base: strings.TrimRight(base, "/")}
}

func (m urlMapper) URL(key string) string { return m.base + "/" + key }

func (m urlMapper) KeyFromURL(u string) (string, bool) {
	prefix := m.base + "/"
	if !strings.HasPrefix(u, prefix) || len(u) == len(prefix) {
		return "", false
	}
	return strings.TrimPrefix(u, prefix), true
}
