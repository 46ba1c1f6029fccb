// Package storage – ImageStore
//
// This file implements the screenshot-specific layer on top of an
// ObjectStore: content sniffing (PNG/JPEG/WebP via mimetype), the object
// key layout "{userID}/{requestID}_{index}{ext}" and its parser, and the
// batch upload/delete used by the analysis pipeline.
//
// UploadAll fans out with an errgroup and cleans up its own partial writes
// on failure. DeleteAll is the compensation step for a failed request; it
// attempts every URL and reports per-URL failures instead of stopping at
// the first one.

package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// ErrUnsupportedType reports a payload that is not an accepted image format.
var ErrUnsupportedType = errors.New("unsupported image type")

var allowedImageTypes = map[string]struct{}{
	"image/png":  {},
	"image/jpeg": {},
	"image/webp": {},
	"image/gif":  {},
}

// SniffImage detects the content type and file extension of an image from
// its bytes. Only PNG, JPEG, WebP and GIF are accepted.
func SniffImage(data []byte) (contentType, ext string, err error) {
	m := mimetype.Detect(data)
	ct := m.String()
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	if _, ok := allowedImageTypes[ct]; !ok {
		return "", "", fmt.Errorf("%w: %s", ErrUnsupportedType, ct)
	}
	return ct, m.Extension(), nil
}

// ObjectKey builds "{userID}/{requestID}_{index}{ext}".
func ObjectKey(userID, requestID string, index int, ext string) string {
	return fmt.Sprintf("%s/%s_%d%s", userID, requestID, index, ext)
}

// ParseObjectKey splits a key built by ObjectKey.
func ParseObjectKey(key string) (userID, requestID string, index int, ok bool) {
	dir, file := path.Split(key)
	userID = strings.TrimSuffix(dir, "/")
	if userID == "" || strings.Contains(userID, "/") {
		return "", "", 0, false
	}
	file = strings.TrimSuffix(file, path.Ext(file))
	us := strings.LastIndexByte(file, '_')
	if us <= 0 {
		return "", "", 0, false
	}
	index, err := strconv.Atoi(file[us+1:])
	if err != nil || index < 0 {
		return "", "", 0, false
	}
	return userID, file[:us], index, true
}

// ImageStore uploads the screenshots of one request and removes them on
// rollback.
type ImageStore struct {
	Store ObjectStore
}

// NewImageStore wraps an ObjectStore.
func NewImageStore(s ObjectStore) *ImageStore { return &ImageStore{Store: s} }

// UploadAll stores every image concurrently and returns their URLs in input
// order. If any upload fails, the objects this call already wrote are
// deleted before the error is returned.
func (s *ImageStore) UploadAll(ctx context.Context, userID, requestID string, images [][]byte) ([]string, error) {
	keys := make([]string, len(images))
	done := make([]bool, len(images))

	g, gctx := errgroup.WithContext(ctx)
	for i, img := range images {
		i, img := i, img
		g.Go(func() error {
			ct, ext, err := SniffImage(img)
			if err != nil {
				return fmt.Errorf("image %d: %w", i, err)
			}
			key := ObjectKey(userID, requestID, i, ext)
			if err := s.Store.Put(gctx, key, img, ct); err != nil {
				return fmt.Errorf("image %d: %w", i, err)
			}
			keys[i] = key
			done[i] = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		cleanup := context.WithoutCancel(ctx)
		for i, ok := range done {
			if !ok {
				continue
			}
			if derr := s.Store.Delete(cleanup, keys[i]); derr != nil {
				zerolog.Ctx(ctx).Warn().Err(derr).Str("key", keys[i]).Msg("partial upload cleanup failed")
			}
		}
		return nil, err
	}

	urls := make([]string, len(keys))
	for i, k := range keys {
		urls[i] = s.Store.URL(k)
	}
	return urls, nil
}

// DeleteAll removes the objects behind urls. It tries every URL, logs each
// failure and returns them; it never stops early.
func (s *ImageStore) DeleteAll(ctx context.Context, urls []string) []error {
	var errs []error
	for _, u := range urls {
		key, ok := s.Store.KeyFromURL(u)
		if !ok {
			err := fmt.Errorf("%w: %s", ErrUnknownURL, u)
			zerolog.Ctx(ctx).Warn().Err(err).Msg("image rollback skipped")
			errs = append(errs, err)
			continue
		}
		if err := s.Store.Delete(ctx, key); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("image rollback failed")
			errs = append(errs, err)
		}
	}
	return errs
}
