package testdata_test

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lyrio-dev/judge/internal/testdata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeFetcher serves url -> body from memory.
type fakeFetcher struct {
	bodies  map[string]string
	fetches atomic.Int32
}

func (f *fakeFetcher) Fetch(ctx context.Context, rawURL string, w io.Writer) error {
	f.fetches.Add(1)
	body, ok := f.bodies[rawURL]
	if !ok {
		return fmt.Errorf("no such url: %s", rawURL)
	}
	_, err := io.WriteString(w, body)
	return err
}

func idOf(content string) string {
	return fmt.Sprintf("%x", sha256.Sum256([]byte(content)))
}

func newStore(t *testing.T, fetcher testdata.Fetcher, urls map[string]string) *testdata.Store {
	t.Helper()
	store, err := testdata.New(t.TempDir(), 4, 1, time.Second, fetcher,
		func(ctx context.Context, ids []string) ([]string, error) {
			resolved := make([]string, len(ids))
			for i, id := range ids {
				resolved[i] = urls[id]
			}
			return resolved, nil
		})
	require.NoError(t, err)
	return store
}

func TestEnsureDownloadsOnce(t *testing.T) {
	content := "315941512 -119267504\n"
	id := idOf(content)
	fetcher := &fakeFetcher{bodies: map[string]string{"u1": content}}
	store := newStore(t, fetcher, map[string]string{id: "u1"})

	require.NoError(t, store.Ensure(context.Background(), []string{id, id}))
	require.NoError(t, store.Ensure(context.Background(), []string{id}))

	assert.EqualValues(t, 1, fetcher.fetches.Load())

	body, err := store.Read(id)
	require.NoError(t, err)
	assert.Equal(t, content, string(body))
}

func TestEnsureConcurrentDedup(t *testing.T) {
	content := "196674008\n"
	id := idOf(content)
	fetcher := &fakeFetcher{bodies: map[string]string{"u1": content}}
	store := newStore(t, fetcher, map[string]string{id: "u1"})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, store.Ensure(context.Background(), []string{id}))
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, fetcher.fetches.Load(), int32(2),
		"concurrent ensures share one download (a second may race the first's miss check)")
	assert.True(t, store.Has(id))
}

func TestEnsureIntegrityMismatch(t *testing.T) {
	// the served body does not hash to the requested id
	id := idOf("expected")
	fetcher := &fakeFetcher{bodies: map[string]string{"u1": "tampered"}}
	store := newStore(t, fetcher, map[string]string{id: "u1"})

	err := store.Ensure(context.Background(), []string{id})
	assert.ErrorIs(t, err, testdata.ErrUnavailable)
	assert.False(t, store.Has(id))
	// one initial attempt plus one retry
	assert.EqualValues(t, 2, fetcher.fetches.Load())
}
