package mocks

import (
	"context"

	"github.com/brettbedarf/blobtree"
	"github.com/stretchr/testify/mock"
)

// MockBlobStore implements blobtree.BlobStore for testing across packages
type MockBlobStore struct {
	mock.Mock
}

func (m *MockBlobStore) List(ctx context.Context, prefix string) ([]blobtree.Entry, error) {
	args := m.Called(ctx, prefix)

	// Handle function return types (for complex tests)
	if fn, ok := args.Get(0).(func(context.Context, string) []blobtree.Entry); ok {
		return fn(ctx, prefix), args.Error(1)
	}

	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]blobtree.Entry), args.Error(1)
}

func (m *MockBlobStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	args := m.Called(ctx, key, data, contentType)
	return args.Error(0)
}

func (m *MockBlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	args := m.Called(ctx, key)

	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockBlobStore) Remove(ctx context.Context, keys []string) []blobtree.RemoveResult {
	args := m.Called(ctx, keys)

	// Handle function return types (for per-key outcomes)
	if fn, ok := args.Get(0).(func(context.Context, []string) []blobtree.RemoveResult); ok {
		return fn(ctx, keys)
	}

	if args.Get(0) == nil {
		results := make([]blobtree.RemoveResult, len(keys))
		for i, k := range keys {
			results[i].Key = k
		}
		return results
	}
	return args.Get(0).([]blobtree.RemoveResult)
}

func (m *MockBlobStore) PublicURL(key string) string {
	args := m.Called(key)
	return args.String(0)
}

var _ blobtree.BlobStore = (*MockBlobStore)(nil)

// MockMoverStore adds a native Move to MockBlobStore
type MockMoverStore struct {
	MockBlobStore
}

func (m *MockMoverStore) Move(ctx context.Context, src, dst string) error {
	args := m.Called(ctx, src, dst)
	return args.Error(0)
}

var _ blobtree.Mover = (*MockMoverStore)(nil)

// Entries builds listing entries for tests: names ending in "/" become
// folders, everything else a file with metadata.
func Entries(prefix string, names ...string) []blobtree.Entry {
	entries := make([]blobtree.Entry, 0, len(names))
	base := prefix
	if base != "" {
		base += "/"
	}
	for _, n := range names {
		if len(n) > 0 && n[len(n)-1] == '/' {
			name := n[:len(n)-1]
			entries = append(entries, blobtree.Entry{Key: base + name, Name: name})
			continue
		}
		id, ct, size := "id-"+n, "application/octet-stream", int64(len(n))
		entries = append(entries, blobtree.Entry{
			Key:         base + n,
			Name:        n,
			ID:          &id,
			ContentType: &ct,
			Size:        &size,
		})
	}
	return entries
}
