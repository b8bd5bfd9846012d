package slots_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/lyrio-dev/judge/internal/slots"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tempDirs(t *testing.T, n int) []string {
	t.Helper()
	dirs := make([]string, n)
	for i := range dirs {
		dirs[i] = t.TempDir()
	}
	return dirs
}

func TestRunQueuedCleansSlot(t *testing.T) {
	dirs := tempDirs(t, 1)
	leftover := filepath.Join(dirs[0], "stale.txt")
	require.NoError(t, os.WriteFile(leftover, []byte("x"), 0644))

	s := slots.New(dirs, 1)
	err := s.RunQueued(context.Background(), func(dir string, d *slots.Disposer) error {
		_, statErr := os.Stat(leftover)
		assert.True(t, os.IsNotExist(statErr))
		return nil
	})
	require.NoError(t, err)
}

func TestRunQueuedBoundsConcurrency(t *testing.T) {
	dirs := tempDirs(t, 4)
	s := slots.New(dirs, 2)

	var current, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.RunQueued(context.Background(), func(dir string, d *slots.Disposer) error {
				n := current.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				current.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestDisposerRunsOnError(t *testing.T) {
	dirs := tempDirs(t, 1)
	s := slots.New(dirs, 1)

	disposed := false
	wantErr := errors.New("boom")
	err := s.RunQueued(context.Background(), func(dir string, d *slots.Disposer) error {
		d.Add(func() { disposed = true })
		return wantErr
	})
	assert.ErrorIs(t, err, wantErr)
	assert.True(t, disposed)
}

func TestPermitReturnsOnCancel(t *testing.T) {
	dirs := tempDirs(t, 1)
	s := slots.New(dirs, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := s.RunQueued(ctx, func(dir string, d *slots.Disposer) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)

	// the permit must be available again
	err = s.RunQueued(context.Background(), func(dir string, d *slots.Disposer) error { return nil })
	assert.NoError(t, err)
}
