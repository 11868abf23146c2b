package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

type memObject struct {
	data        []byte
	contentType string
	tags        map[string]string
}

// MemoryStore is an in-memory ObjectStore for tests and local development.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]memObject
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]memObject)}
}

func (s *MemoryStore) Put(ctx context.Context, key string, data []byte, opts PutOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tagsCopy := make(map[string]string, len(opts.Tags))
	for k, v := range opts.Tags {
		tagsCopy[k] = v
	}
	dataCopy := make([]byte, len(data))
	copy(dataCopy, data)

	s.objects[key] = memObject{data: dataCopy, contentType: opts.ContentType, tags: tagsCopy}
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	obj, ok := s.objects[key]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", key, ErrNotFound)
	}
	return obj.data, nil
}

func (s *MemoryStore) List(ctx context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var keys []string
	for key := range s.objects {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

func (s *MemoryStore) Move(ctx context.Context, src, dst string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	obj, ok := s.objects[src]
	if !ok {
		return fmt.Errorf("move %s: %w", src, ErrNotFound)
	}
	s.objects[dst] = obj
	delete(s.objects, src)
	return nil
}

func (s *MemoryStore) Tags(ctx context.Context, key string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	obj, ok := s.objects[key]
	if !ok {
		return nil, fmt.Errorf("tags %s: %w", key, ErrNotFound)
	}
	out := make(map[string]string, len(obj.tags))
	for k, v := range obj.tags {
		out[k] = v
	}
	return out, nil
}

func (s *MemoryStore) SetTags(ctx context.Context, key string, tagMap map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	obj, ok := s.objects[key]
	if !ok {
		return fmt.Errorf("set tags %s: %w", key, ErrNotFound)
	}
	obj.tags = make(map[string]string, len(tagMap))
	for k, v := range tagMap {
		obj.tags[k] = v
	}
	s.objects[key] = obj
	return nil
}
