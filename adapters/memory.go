package adapters

import (
	"context"
	"encoding/json"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/brettbedarf/blobtree"
	"github.com/brettbedarf/blobtree/internal/util"
	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v4"
)

// Store operation names passed to a [FailFunc] and counted by
// [MemoryStore.Calls].
const (
	OpList   = "list"
	OpPut    = "put"
	OpGet    = "get"
	OpRemove = "remove"
	OpMove   = "move"
	OpCopy   = "copy"
)

// FailFunc lets tests inject an error for a store call. Returning nil lets
// the call proceed.
type FailFunc func(op, key string) error

// MemoryStoreConfig is the JSON config for type "memory".
type MemoryStoreConfig struct {
	Type           string `json:"type"`
	BaseURL        string `json:"base_url,omitempty"`
	MaxBatchRemove int    `json:"max_batch_remove,omitempty"`
	NativeMove     bool   `json:"native_move,omitempty"`
}

type memObject struct {
	id          string
	data        []byte
	contentType string
	modified    time.Time
}

// MemoryStore is a process-local [blobtree.BlobStore]. It has no native
// rename; wrap it with [MemoryStore.WithMove] to get one.
type MemoryStore struct {
	objects  *xsync.Map[string, *memObject]
	baseURL  string
	maxBatch int
	fail     FailFunc

	mu    sync.Mutex // serializes compound mutations
	calls map[string]int
	cmu   sync.Mutex
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithFailFunc installs a fault injection hook.
func WithFailFunc(f FailFunc) MemoryOption {
	return func(m *MemoryStore) { m.fail = f }
}

// WithMaxBatchRemove caps keys per Remove call as reported by MaxBatchRemove.
func WithMaxBatchRemove(n int) MemoryOption {
	return func(m *MemoryStore) { m.maxBatch = n }
}

// WithBaseURL sets the prefix used by PublicURL.
func WithBaseURL(u string) MemoryOption {
	return func(m *MemoryStore) { m.baseURL = strings.TrimSuffix(u, "/") }
}

func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	m := &MemoryStore{
		objects: xsync.NewMap[string, *memObject](),
		baseURL: "mem://",
		calls:   map[string]int{},
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// SetFailFunc replaces the fault injection hook.
func (m *MemoryStore) SetFailFunc(f FailFunc) {
	m.mu.Lock()
	m.fail = f
	m.mu.Unlock()
}

// Calls returns how many times op was invoked (per key for remove).
func (m *MemoryStore) Calls(op string) int {
	m.cmu.Lock()
	defer m.cmu.Unlock()
	return m.calls[op]
}

// Writes returns the number of mutating calls made so far.
func (m *MemoryStore) Writes() int {
	m.cmu.Lock()
	defer m.cmu.Unlock()
	return m.calls[OpPut] + m.calls[OpRemove] + m.calls[OpMove] + m.calls[OpCopy]
}

// Keys returns every stored key, sorted.
func (m *MemoryStore) Keys() []string {
	keys := make([]string, 0, m.objects.Size())
	m.objects.Range(func(k string, _ *memObject) bool {
		keys = append(keys, k)
		return true
	})
	slices.Sort(keys)
	return keys
}

// Has reports whether key is stored.
func (m *MemoryStore) Has(key string) bool {
	_, ok := m.objects.Load(key)
	return ok
}

func (m *MemoryStore) record(op, key string) error {
	m.cmu.Lock()
	m.calls[op]++
	m.cmu.Unlock()

	m.mu.Lock()
	fail := m.fail
	m.mu.Unlock()
	if fail == nil {
		return nil
	}
	return fail(op, key)
}

func (m *MemoryStore) List(ctx context.Context, prefix string) ([]blobtree.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := m.record(OpList, prefix); err != nil {
		return nil, err
	}

	p := listPrefix(prefix)
	seen := map[string]bool{}
	var entries []blobtree.Entry
	m.objects.Range(func(key string, obj *memObject) bool {
		if !strings.HasPrefix(key, p) || key == p {
			return true
		}
		name, isFolder := splitChild(p, key)
		if isFolder {
			if !seen[name] {
				seen[name] = true
				entries = append(entries, folderEntry(p, name))
			}
			return true
		}
		entries = append(entries, blobtree.Entry{
			Key:         key,
			Name:        name,
			ID:          util.Pointer(obj.id),
			Size:        util.Pointer(int64(len(obj.data))),
			ContentType: util.Pointer(obj.contentType),
			ModifiedAt:  obj.modified,
		})
		return true
	})
	sortEntries(entries)
	return entries, nil
}

func (m *MemoryStore) newObject(data []byte, contentType string) *memObject {
	return &memObject{
		id:          uuid.NewString(),
		data:        append([]byte(nil), data...),
		contentType: contentType,
		modified:    time.Now(),
	}
}

func (m *MemoryStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := m.record(OpPut, key); err != nil {
		return err
	}
	m.objects.Store(key, m.newObject(data, contentType))
	return nil
}

// PutIfAbsent implements [blobtree.ConditionalPutter].
func (m *MemoryStore) PutIfAbsent(ctx context.Context, key string, data []byte, contentType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := m.record(OpPut, key); err != nil {
		return err
	}
	if _, loaded := m.objects.LoadOrStore(key, m.newObject(data, contentType)); loaded {
		return blobtree.NewStoreError(OpPut, key, blobtree.ErrConflict, nil)
	}
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := m.record(OpGet, key); err != nil {
		return nil, err
	}
	obj, ok := m.objects.Load(key)
	if !ok {
		return nil, blobtree.NewStoreError(OpGet, key, blobtree.ErrNotFound, nil)
	}
	return append([]byte(nil), obj.data...), nil
}

// Remove deletes keys one by one; a missing key counts as removed.
func (m *MemoryStore) Remove(ctx context.Context, keys []string) []blobtree.RemoveResult {
	results := make([]blobtree.RemoveResult, len(keys))
	for i, key := range keys {
		results[i].Key = key
		if err := ctx.Err(); err != nil {
			results[i].Err = err
			continue
		}
		if err := m.record(OpRemove, key); err != nil {
			results[i].Err = err
			continue
		}
		m.objects.Delete(key)
	}
	return results
}

func (m *MemoryStore) PublicURL(key string) string {
	if strings.HasSuffix(m.baseURL, "//") {
		return m.baseURL + key
	}
	return m.baseURL + "/" + key
}

// MaxBatchRemove implements [blobtree.BatchLimiter]. Zero means unlimited.
func (m *MemoryStore) MaxBatchRemove() int { return m.maxBatch }

// WithMove returns a view of m that also implements [blobtree.Mover] and
// [blobtree.Copier].
func (m *MemoryStore) WithMove() *MemoryMoverStore {
	return &MemoryMoverStore{MemoryStore: m}
}

// MemoryMoverStore is a [MemoryStore] with native single-key rename and copy.
type MemoryMoverStore struct {
	*MemoryStore
}

func (m *MemoryMoverStore) Move(ctx context.Context, src, dst string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := m.record(OpMove, src); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects.Load(src)
	if !ok {
		return blobtree.NewStoreError(OpMove, src, blobtree.ErrNotFound, nil)
	}
	if _, loaded := m.objects.LoadOrStore(dst, obj); loaded {
		return blobtree.NewStoreError(OpMove, dst, blobtree.ErrConflict, nil)
	}
	m.objects.Delete(src)
	return nil
}

func (m *MemoryMoverStore) Copy(ctx context.Context, src, dst string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := m.record(OpCopy, src); err != nil {
		return err
	}
	obj, ok := m.objects.Load(src)
	if !ok {
		return blobtree.NewStoreError(OpCopy, src, blobtree.ErrNotFound, nil)
	}
	cp := m.newObject(obj.data, obj.contentType)
	if _, loaded := m.objects.LoadOrStore(dst, cp); loaded {
		return blobtree.NewStoreError(OpCopy, dst, blobtree.ErrConflict, nil)
	}
	return nil
}

// RegisterMemory registers the "memory" store type.
func RegisterMemory() {
	Register(MemoryStoreType, func(raw []byte) (blobtree.BlobStore, error) {
		var cfg MemoryStoreConfig
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, err
		}
		opts := []MemoryOption{WithMaxBatchRemove(cfg.MaxBatchRemove)}
		if cfg.BaseURL != "" {
			opts = append(opts, WithBaseURL(cfg.BaseURL))
		}
		m := NewMemoryStore(opts...)
		if cfg.NativeMove {
			return m.WithMove(), nil
		}
		return m, nil
	})
}

var (
	_ blobtree.BlobStore         = (*MemoryStore)(nil)
	_ blobtree.ConditionalPutter = (*MemoryStore)(nil)
	_ blobtree.BatchLimiter      = (*MemoryStore)(nil)
	_ blobtree.Mover             = (*MemoryMoverStore)(nil)
	_ blobtree.Copier            = (*MemoryMoverStore)(nil)
)
