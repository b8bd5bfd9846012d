// Package compile deduplicates identical compiles and keeps their binary
// directories in a refcounted, weight-based LRU cache on disk.
package compile

import (
	"container/list"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
)

// Binary is a successful compile result. Each holder owns one reference; the
// directory is deleted once the cache has evicted the entry and the last
// reference is released.
type Binary struct {
	TaskHash string
	// Owned binary directory inside the cache store.
	Dir  string
	Size int64
	// Compiler message, untruncated.
	Message string
	// Language-supplied opaque payload.
	ExtraInfo string

	cache   *Cache
	refs    int
	evicted bool
}

// Release drops the holder's reference.
func (b *Binary) Release() {
	b.cache.release(b)
}

type inflightCompile struct {
	done chan struct{}
	bin  *Binary
	err  error
}

type Cache struct {
	mu        sync.Mutex
	dir       string
	maxSize   int64
	totalSize int64
	entries   map[string]*list.Element
	lru       *list.List // front = most recently used

	inflight *xsync.MapOf[string, *inflightCompile]

	compiler *Compiler
	logger   *slog.Logger
}

// NewCache empties the store directory and builds the cache over it.
func NewCache(dir string, maxSize int64, compiler *Compiler) (*Cache, error) {
	if err := os.RemoveAll(dir); err != nil {
		return nil, fmt.Errorf("failed to empty binary cache store: %w", err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create binary cache store: %w", err)
	}
	return &Cache{
		dir:      dir,
		maxSize:  maxSize,
		entries:  make(map[string]*list.Element),
		lru:      list.New(),
		inflight: xsync.NewMapOf[string, *inflightCompile](),
		compiler: compiler,
		logger:   slog.With("comp", "compile-cache"),
	}, nil
}

// Compile returns a referenced binary for the task, compiling at most once
// per hash no matter how many callers arrive concurrently. A failed compile
// returns a *Failure error carrying the compiler message.
func (c *Cache) Compile(ctx context.Context, task *Task) (*Binary, error) {
	hash := task.Hash()

	if bin := c.lookup(hash); bin != nil {
		return bin, nil
	}

	flight := &inflightCompile{done: make(chan struct{})}
	actual, loaded := c.inflight.LoadOrStore(hash, flight)
	if loaded {
		select {
		case <-actual.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if actual.err != nil {
			return nil, actual.err
		}
		c.mu.Lock()
		actual.bin.refs++
		c.mu.Unlock()
		return actual.bin, nil
	}

	bin, err := c.runCompile(ctx, task, hash)
	flight.bin, flight.err = bin, err
	close(flight.done)
	c.inflight.Delete(hash)
	if err != nil {
		return nil, err
	}
	return bin, nil
}

func (c *Cache) runCompile(ctx context.Context, task *Task, hash string) (*Binary, error) {
	// UUID, not the hash: an older directory for the same hash may still be
	// referenced by a live testcase.
	dest := filepath.Join(c.dir, uuid.NewString())
	built, err := c.compiler.compile(ctx, task, c.maxSize, dest)
	if err != nil {
		return nil, err
	}

	bin := &Binary{
		TaskHash:  hash,
		Dir:       dest,
		Size:      built.size,
		Message:   built.message,
		ExtraInfo: built.extraInfo,
		cache:     c,
	}
	c.insert(bin)
	return bin, nil
}

// lookup returns a fresh reference when the hash is cached.
func (c *Cache) lookup(hash string) *Binary {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[hash]
	if !ok {
		return nil
	}
	c.lru.MoveToFront(el)
	bin := el.Value.(*Binary)
	bin.refs++
	return bin
}

// insert stores a just-compiled binary. The cache holds one reference, the
// caller another. An older entry for the same hash may still be referenced
// elsewhere, which is why directories are named by random UUID.
func (c *Cache) insert(bin *Binary) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.entries[bin.TaskHash]; ok {
		c.evictLocked(old)
	}

	bin.refs = 2 // cache + caller
	c.entries[bin.TaskHash] = c.lru.PushFront(bin)
	c.totalSize += bin.Size

	// soft limit: evicted entries with live references are deleted later
	for c.totalSize > c.maxSize && c.lru.Len() > 1 {
		c.evictLocked(c.lru.Back())
	}
}

func (c *Cache) evictLocked(el *list.Element) {
	bin := el.Value.(*Binary)
	c.lru.Remove(el)
	delete(c.entries, bin.TaskHash)
	c.totalSize -= bin.Size
	bin.evicted = true
	c.releaseLocked(bin)
}

func (c *Cache) release(bin *Binary) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.releaseLocked(bin)
}

func (c *Cache) releaseLocked(bin *Binary) {
	bin.refs--
	if bin.refs > 0 || !bin.evicted {
		return
	}
	if err := os.RemoveAll(bin.Dir); err != nil {
		c.logger.Warn("failed to delete evicted binary directory",
			"dir", bin.Dir, "err", err)
	}
}
