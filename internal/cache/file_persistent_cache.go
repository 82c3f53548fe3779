package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
)

// FilePersistentCache is a JSON-file-backed cache so extractions survive restarts.
// Values must be JSON-encodable; the extractor stores strings.
type FilePersistentCache struct {
	store    map[string]cacheItem
	mutex    sync.RWMutex
	ttl      time.Duration
	filePath string
	logger   *slog.Logger
}

// NewFilePersistentCache loads filePath if it exists.
func NewFilePersistentCache(defaultTTL time.Duration, filePath string, logger *slog.Logger) (*FilePersistentCache, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &FilePersistentCache{
		store:    make(map[string]cacheItem),
		ttl:      defaultTTL,
		filePath: filePath,
		logger:   logger,
	}
	if err := c.loadFromFile(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *FilePersistentCache) loadFromFile() error {
	data, err := os.ReadFile(c.filePath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errbuilder.GenericErr("failed to read cache file", err)
	}
	if err := json.Unmarshal(data, &c.store); err != nil {
		return errbuilder.GenericErr("failed to decode cache file", err)
	}

	now := time.Now()
	for key, item := range c.store {
		if item.expired(now) {
			delete(c.store, key)
		}
	}
	c.logger.Debug("persistent cache loaded", "path", c.filePath, "items", len(c.store))
	return nil
}

// saveToFile writes through a temp file so a crash never leaves a torn cache. Caller holds the lock.
func (c *FilePersistentCache) saveToFile() error {
	data, err := json.Marshal(c.store)
	if err != nil {
		return errbuilder.GenericErr("failed to encode cache", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(c.filePath), ".cache-*")
	if err != nil {
		return errbuilder.GenericErr("failed to create cache file", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return errbuilder.GenericErr("failed to write cache file", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return errbuilder.GenericErr("failed to write cache file", err)
	}
	return os.Rename(tmp.Name(), c.filePath)
}

// Get retrieves an item from the cache.
func (c *FilePersistentCache) Get(ctx context.Context, key string) (interface{}, error) {
	if err := errbuilder.WrapIfContextDone(ctx, nil); err != nil {
		return nil, err
	}

	c.mutex.RLock()
	item, found := c.store[key]
	c.mutex.RUnlock()
	if !found || item.expired(time.Now()) {
		return nil, errbuilder.NotFoundErr(errbuilder.GenericErr("cache item not found", nil))
	}
	return item.Value, nil
}

// Set adds or updates an item and persists the cache.
func (c *FilePersistentCache) Set(ctx context.Context, key string, value interface{}) error {
	if err := errbuilder.WrapIfContextDone(ctx, nil); err != nil {
		return err
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.store[key] = cacheItem{
		Value:      value,
		Expiration: time.Now().Add(c.ttl).UnixNano(),
	}
	if err := c.saveToFile(); err != nil {
		c.logger.Error("failed to persist cache", "path", c.filePath, "error", err)
		return err
	}
	return nil
}
