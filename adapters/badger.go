package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/brettbedarf/blobtree"
	"github.com/brettbedarf/blobtree/internal/util"
)

// Key layout: metadata and data are kept under separate prefixes so listing
// never has to load blob bodies.
const (
	badgerMetaPrefix = "m/"
	badgerDataPrefix = "d/"
)

// BadgerStoreConfig is the JSON config for type "badger".
type BadgerStoreConfig struct {
	Type     string `json:"type"`
	Path     string `json:"path,omitempty"`
	InMemory bool   `json:"in_memory,omitempty"`
	BaseURL  string `json:"base_url,omitempty"`
}

type badgerMeta struct {
	ID          string    `json:"id"`
	Size        int64     `json:"size"`
	ContentType string    `json:"content_type"`
	Modified    time.Time `json:"modified"`
}

// BadgerStore is an embedded [blobtree.BlobStore] backed by BadgerDB. Single
// key Move and Copy run in one transaction, so renames are atomic.
type BadgerStore struct {
	db      *badger.DB
	baseURL string
	logger  zerolog.Logger
}

// badgerLogger routes badger's internal logging through zerolog.
type badgerLogger struct {
	logger zerolog.Logger
}

func (l badgerLogger) Errorf(f string, v ...any)   { l.logger.Error().Msgf(strings.TrimSpace(f), v...) }
func (l badgerLogger) Warningf(f string, v ...any) { l.logger.Warn().Msgf(strings.TrimSpace(f), v...) }
func (l badgerLogger) Infof(f string, v ...any)    { l.logger.Debug().Msgf(strings.TrimSpace(f), v...) }
func (l badgerLogger) Debugf(f string, v ...any)   { l.logger.Trace().Msgf(strings.TrimSpace(f), v...) }

func NewBadgerStore(cfg BadgerStoreConfig) (*BadgerStore, error) {
	logger := util.GetLogger("BadgerStore")

	var opts badger.Options
	switch {
	case cfg.InMemory:
		opts = badger.DefaultOptions("").WithInMemory(true)
	case cfg.Path != "":
		opts = badger.DefaultOptions(cfg.Path)
	default:
		return nil, errors.New("badger store requires path or in_memory")
	}
	opts = opts.WithLogger(badgerLogger{logger: logger})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger store: %w", err)
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "badger://"
	}
	logger.Debug().Str("path", cfg.Path).Bool("inMemory", cfg.InMemory).Msg("Badger store opened")
	return &BadgerStore{db: db, baseURL: baseURL, logger: logger}, nil
}

// Close releases the database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func metaKey(key string) []byte { return []byte(badgerMetaPrefix + key) }
func dataKey(key string) []byte { return []byte(badgerDataPrefix + key) }

// classifyBadger maps badger errors onto the blobtree error kinds.
func classifyBadger(op, key string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, badger.ErrKeyNotFound):
		return blobtree.NewStoreError(op, key, blobtree.ErrNotFound, nil)
	case errors.Is(err, badger.ErrConflict):
		return blobtree.NewStoreError(op, key, blobtree.ErrTransient, err)
	case errors.Is(err, blobtree.ErrConflict), errors.Is(err, blobtree.ErrNotFound):
		return err
	}
	return blobtree.NewStoreError(op, key, nil, err)
}

func (s *BadgerStore) List(ctx context.Context, prefix string) ([]blobtree.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p := listPrefix(prefix)
	mp := []byte(badgerMetaPrefix + p)

	var entries []blobtree.Entry
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = mp

		it := txn.NewIterator(opts)
		defer it.Close()

		it.Seek(mp)
		for it.ValidForPrefix(mp) {
			item := it.Item()
			key := string(item.Key()[len(badgerMetaPrefix):])
			name, isFolder := splitChild(p, key)
			if isFolder {
				entries = append(entries, folderEntry(p, name))
				// '0' sorts right after the separator, skipping the whole subtree
				it.Seek([]byte(badgerMetaPrefix + p + name + "0"))
				continue
			}
			var meta badgerMeta
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &meta)
			}); err != nil {
				return err
			}
			entries = append(entries, blobtree.Entry{
				Key:         key,
				Name:        name,
				ID:          util.Pointer(meta.ID),
				Size:        util.Pointer(meta.Size),
				ContentType: util.Pointer(meta.ContentType),
				ModifiedAt:  meta.Modified,
			})
			it.Next()
		}
		return nil
	})
	if err != nil {
		return nil, classifyBadger(OpList, prefix, err)
	}
	sortEntries(entries)
	return entries, nil
}

func setBlob(txn *badger.Txn, key string, meta badgerMeta, data []byte) error {
	raw, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	if err := txn.Set(metaKey(key), raw); err != nil {
		return err
	}
	return txn.Set(dataKey(key), data)
}

func newBadgerMeta(size int, contentType string) badgerMeta {
	return badgerMeta{
		ID:          uuid.NewString(),
		Size:        int64(size),
		ContentType: contentType,
		Modified:    time.Now().UTC(),
	}
}

func (s *BadgerStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return setBlob(txn, key, newBadgerMeta(len(data), contentType), data)
	})
	return classifyBadger(OpPut, key, err)
}

// PutIfAbsent implements [blobtree.ConditionalPutter].
func (s *BadgerStore) PutIfAbsent(ctx context.Context, key string, data []byte, contentType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		if err := absent(txn, OpPut, key); err != nil {
			return err
		}
		return setBlob(txn, key, newBadgerMeta(len(data), contentType), data)
	})
	return classifyBadger(OpPut, key, err)
}

func absent(txn *badger.Txn, op, key string) error {
	_, err := txn.Get(metaKey(key))
	switch {
	case err == nil:
		return blobtree.NewStoreError(op, key, blobtree.ErrConflict, nil)
	case errors.Is(err, badger.ErrKeyNotFound):
		return nil
	}
	return err
}

func (s *BadgerStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(dataKey(key))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, classifyBadger(OpGet, key, err)
	}
	return data, nil
}

// Remove deletes each key in its own transaction so results are per key.
// Missing keys count as removed.
func (s *BadgerStore) Remove(ctx context.Context, keys []string) []blobtree.RemoveResult {
	results := make([]blobtree.RemoveResult, len(keys))
	for i, key := range keys {
		results[i].Key = key
		if err := ctx.Err(); err != nil {
			results[i].Err = err
			continue
		}
		err := s.db.Update(func(txn *badger.Txn) error {
			if err := txn.Delete(metaKey(key)); err != nil {
				return err
			}
			return txn.Delete(dataKey(key))
		})
		results[i].Err = classifyBadger(OpRemove, key, err)
	}
	return results
}

// Move implements [blobtree.Mover] in a single transaction.
func (s *BadgerStore) Move(ctx context.Context, src, dst string) error {
	return s.transfer(ctx, OpMove, src, dst, true)
}

// Copy implements [blobtree.Copier].
func (s *BadgerStore) Copy(ctx context.Context, src, dst string) error {
	return s.transfer(ctx, OpCopy, src, dst, false)
}

func (s *BadgerStore) transfer(ctx context.Context, op, src, dst string, removeSrc bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		metaItem, err := txn.Get(metaKey(src))
		if err != nil {
			return err
		}
		var meta badgerMeta
		if err := metaItem.Value(func(val []byte) error {
			return json.Unmarshal(val, &meta)
		}); err != nil {
			return err
		}
		dataItem, err := txn.Get(dataKey(src))
		if err != nil {
			return err
		}
		data, err := dataItem.ValueCopy(nil)
		if err != nil {
			return err
		}
		if err := absent(txn, op, dst); err != nil {
			return err
		}
		if removeSrc {
			if err := txn.Delete(metaKey(src)); err != nil {
				return err
			}
			if err := txn.Delete(dataKey(src)); err != nil {
				return err
			}
		} else {
			meta.ID = uuid.NewString()
		}
		meta.Modified = time.Now().UTC()
		return setBlob(txn, dst, meta, data)
	})
	if err != nil {
		s.logger.Debug().Err(err).Str("op", op).Str("src", src).Str("dst", dst).Msg("Transfer failed")
	}
	return classifyBadger(op, src, err)
}

func (s *BadgerStore) PublicURL(key string) string {
	return strings.TrimSuffix(s.baseURL, "/") + "/" + key
}

// RegisterBadger registers the "badger" store type.
func RegisterBadger() {
	Register(BadgerStoreType, func(raw []byte) (blobtree.BlobStore, error) {
		var cfg BadgerStoreConfig
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, err
		}
		return NewBadgerStore(cfg)
	})
}

var (
	_ blobtree.BlobStore         = (*BadgerStore)(nil)
	_ blobtree.Mover             = (*BadgerStore)(nil)
	_ blobtree.Copier            = (*BadgerStore)(nil)
	_ blobtree.ConditionalPutter = (*BadgerStore)(nil)
)
