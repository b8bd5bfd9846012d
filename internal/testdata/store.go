// Package testdata is the SHA-256-keyed local store for problem files.
// Downloads are deduplicated per content id, written to a temp file and
// renamed into place once the integrity hash matches.
package testdata

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/sync/semaphore"
)

// ErrUnavailable means a content id could not be fetched after all retries;
// fatal for the submission that needed it.
var ErrUnavailable = errors.New("testdata unavailable")

type download struct {
	done chan struct{}
	err  error
}

type Store struct {
	dir    string
	tmpDir string

	fetcher Fetcher

	// Resolves content ids to download URLs, normally the dispatcher's
	// requestFiles RPC.
	resolveURLs func(ctx context.Context, ids []string) ([]string, error)

	sem      *semaphore.Weighted
	inflight *xsync.MapOf[string, *download]

	retry   int
	timeout time.Duration

	logger *slog.Logger
}

func New(
	dir string,
	maxConcurrent int,
	retry int,
	timeout time.Duration,
	fetcher Fetcher,
	resolveURLs func(ctx context.Context, ids []string) ([]string, error),
) (*Store, error) {
	s := &Store{
		dir:         dir,
		tmpDir:      filepath.Join(dir, "tmp"),
		fetcher:     fetcher,
		resolveURLs: resolveURLs,
		sem:         semaphore.NewWeighted(int64(maxConcurrent)),
		inflight:    xsync.NewMapOf[string, *download](),
		retry:       retry,
		timeout:     timeout,
		logger:      slog.With("comp", "testdata"),
	}
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data store directory: %w", err)
	}
	if err := os.MkdirAll(s.tmpDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data store tmp directory: %w", err)
	}
	return s, nil
}

// Path returns where the file for a content id lives once present.
func (s *Store) Path(id string) string {
	return filepath.Join(s.dir, id)
}

func (s *Store) Has(id string) bool {
	_, err := os.Stat(s.Path(id))
	return err == nil
}

// Read returns the contents for an already ensured id.
func (s *Store) Read(id string) ([]byte, error) {
	return os.ReadFile(s.Path(id))
}

// Ensure makes every id locally present, downloading missing ones. Many
// callers may ensure overlapping sets; each file downloads at most once.
func (s *Store) Ensure(ctx context.Context, ids []string) error {
	missing := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if !s.Has(id) {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	urls, err := s.resolveURLs(ctx, missing)
	if err != nil {
		return fmt.Errorf("failed to resolve download urls: %w", err)
	}
	if len(urls) != len(missing) {
		return fmt.Errorf("%w: dispatcher returned %d urls for %d files",
			ErrUnavailable, len(urls), len(missing))
	}

	for i, id := range missing {
		if err := s.ensureOne(ctx, id, urls[i]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) ensureOne(ctx context.Context, id string, url string) error {
	d := &download{done: make(chan struct{})}
	actual, loaded := s.inflight.LoadOrStore(id, d)
	if loaded {
		select {
		case <-actual.done:
			return actual.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	d.err = s.download(ctx, id, url)
	close(d.done)
	s.inflight.Delete(id)
	return d.err
}

func (s *Store) download(ctx context.Context, id string, url string) error {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer s.sem.Release(1)

	if s.Has(id) {
		return nil
	}

	var lastErr error
	for attempt := 0; attempt <= s.retry; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		attemptCtx, cancel := context.WithTimeout(ctx, s.timeout)
		lastErr = s.downloadOnce(attemptCtx, id, url)
		cancel()
		if lastErr == nil {
			return nil
		}
		s.logger.Warn("download attempt failed",
			"id", id, "attempt", attempt, "err", lastErr)
	}
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, id, lastErr)
}

func (s *Store) downloadOnce(ctx context.Context, id string, url string) error {
	tmp, err := os.CreateTemp(s.tmpDir, id+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	hash := sha256.New()
	err = s.fetcher.Fetch(ctx, url, io.MultiWriter(tmp, hash))
	closeErr := tmp.Close()
	if err != nil {
		return err
	}
	if closeErr != nil {
		return closeErr
	}

	if sum := fmt.Sprintf("%x", hash.Sum(nil)); sum != id {
		return fmt.Errorf("integrity mismatch: expected %s, got %s", id, sum)
	}

	if err := os.Rename(tmpPath, s.Path(id)); err != nil {
		return fmt.Errorf("failed to move file into store: %w", err)
	}
	return nil
}
