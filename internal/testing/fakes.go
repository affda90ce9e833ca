package testing

import (
	"context"
	"fmt"
	"maps"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/desertthunder/ytaudio/internal/models"
	"github.com/desertthunder/ytaudio/internal/shared"
)

// MemoryObjectStore is an in-memory [models.ObjectStore]. The error fields, when set, are
// returned by the matching method; SizeSkew is added to sizes reported by Stat.
type MemoryObjectStore struct {
	mu       sync.Mutex
	objects  map[string]models.ObjectInfo
	puts     int
	ExistsErr error
	PutErr    error
	StatErr   error
	SizeSkew  int64
}

func NewMemoryObjectStore() *MemoryObjectStore {
	return &MemoryObjectStore{objects: make(map[string]models.ObjectInfo)}
}

// Seed stores an object without counting it as a Put.
func (s *MemoryObjectStore) Seed(key string, size int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = models.ObjectInfo{Key: key, Size: size, LastModified: time.Now()}
}

func (s *MemoryObjectStore) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
}

func (s *MemoryObjectStore) Exists(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ExistsErr != nil {
		return false, s.ExistsErr
	}
	_, ok := s.objects[key]
	return ok, nil
}

func (s *MemoryObjectStore) Put(ctx context.Context, key, path string, metadata map[string]string) (models.ObjectInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.PutErr != nil {
		return models.ObjectInfo{}, s.PutErr
	}

	info, err := os.Stat(path)
	if err != nil {
		return models.ObjectInfo{}, fmt.Errorf("%w: %w", shared.ErrUploadFailed, err)
	}

	obj := models.ObjectInfo{Key: key, Size: info.Size(), LastModified: time.Now(), Metadata: maps.Clone(metadata)}
	s.objects[key] = obj
	s.puts++
	return obj, nil
}

func (s *MemoryObjectStore) Stat(ctx context.Context, key string) (models.ObjectInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.StatErr != nil {
		return models.ObjectInfo{}, s.StatErr
	}
	obj, ok := s.objects[key]
	if !ok {
		return models.ObjectInfo{}, fmt.Errorf("%w: %s", shared.ErrObjectMissing, key)
	}
	obj.Size += s.SizeSkew
	return obj, nil
}

// Puts returns the number of successful uploads.
func (s *MemoryObjectStore) Puts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.puts
}

// Keys returns the stored keys, sorted.
func (s *MemoryObjectStore) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Sorted(maps.Keys(s.objects))
}

// callCounter counts calls per item id.
type callCounter struct {
	mu    sync.Mutex
	calls map[string]int
	total int
}

func (c *callCounter) inc(id string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.calls == nil {
		c.calls = make(map[string]int)
	}
	c.calls[id]++
	c.total++
	return c.calls[id]
}

// CallsFor returns how many times id was seen.
func (c *callCounter) CallsFor(id string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[id]
}

// Calls returns the total number of calls.
func (c *callCounter) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

// FakePrimary resolves items with Fn, which receives the 1-based call number for that item.
// A nil Fn resolves every item to "https://cdn.test/<id>.mp3".
type FakePrimary struct {
	callCounter
	Fn func(call int, item models.Item) (models.Resolution, error)
}

func (f *FakePrimary) Resolve(ctx context.Context, item models.Item) (models.Resolution, error) {
	call := f.inc(item.ID)
	if f.Fn == nil {
		return models.Resolution{URL: "https://cdn.test/" + item.ID + ".mp3", Title: item.Title}, nil
	}
	return f.Fn(call, item)
}

// FakeFallback writes Body to Dir/<id>.mp3, or returns Err.
type FakeFallback struct {
	callCounter
	Dir  string
	Body []byte
	Err  error
}

func (f *FakeFallback) Acquire(ctx context.Context, item models.Item) (string, error) {
	f.inc(item.ID)
	if f.Err != nil {
		return "", f.Err
	}
	path := f.Dir + string(os.PathSeparator) + item.ID + ".mp3"
	if err := os.WriteFile(path, f.Body, 0644); err != nil {
		return "", err
	}
	return path, nil
}

// FakeFetcher writes Body to dest, or fails with Fn's error when Fn is set.
type FakeFetcher struct {
	callCounter
	Body []byte
	Fn   func(call int, url string) error
}

func (f *FakeFetcher) Download(ctx context.Context, url, dest string) (int64, error) {
	call := f.inc(url)
	if f.Fn != nil {
		if err := f.Fn(call, url); err != nil {
			return 0, err
		}
	}
	if err := os.WriteFile(dest, f.Body, 0644); err != nil {
		return 0, err
	}
	return int64(len(f.Body)), nil
}
