package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore keeps objects in process memory. It backs local development
// and tests.
type MemoryStore struct {
	urlMapper
	mu      sync.RWMutex
	objects map[string]memObject
	now     func() time.Time
}

type memObject struct {
	data        []byte
	contentType string
	modified    time.Time
}

// NewMemoryStore returns an empty store whose URLs start with publicBase
// ("memory://screenshots" when empty).
func NewMemoryStore(publicBase string) *MemoryStore {
	if publicBase == "" {
		publicBase = "memory://screenshots"
	}
	return &MemoryStore{urlMapper: newURLMapper(publicBase), objects: map[string]memObject{}, now: time.Now}
}

// Put implements ObjectStore.
func (s *MemoryStore) Put(_ context.Context, key string, data []byte, contentType string) error {
	cp := append([]byte(nil), data...)
	s.mu.Lock()
	s.objects[key] = memObject{data: cp, contentType: contentType, modified: s.now().UTC()}
	s.mu.Unlock()
	return nil
}

// Delete implements ObjectStore.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.objects, key)
	s.mu.Unlock()
	return nil
}

// List implements ObjectStore. Keys are returned sorted.
func (s *MemoryStore) List(_ context.Context, prefix string) ([]ObjectInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ObjectInfo, 0, len(s.objects))
	for k, o := range s.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, ObjectInfo{Key: k, Size: int64(len(o.data)), LastModified: o.modified})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Get returns a stored object and its content type.
func (s *MemoryStore) Get(key string) ([]byte, string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.objects[key]
	return o.data, o.contentType, ok
}

// Len reports the number of stored objects.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
