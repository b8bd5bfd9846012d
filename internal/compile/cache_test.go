package compile_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lyrio-dev/judge/internal/compile"
	"github.com/lyrio-dev/judge/internal/lang"
	"github.com/lyrio-dev/judge/internal/sandbox"
	"github.com/lyrio-dev/judge/internal/slots"
	"github.com/lyrio-dev/judge/internal/testdata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBackend pretends to be the isolation primitive: it "compiles" by
// writing a binary into the binary mount and a message into the working
// mount.
type fakeBackend struct {
	starts   atomic.Int32
	exitCode int
	delay    time.Duration
}

func (b *fakeBackend) Start(p *sandbox.Params) (sandbox.Process, error) {
	b.starts.Add(1)
	var workDir, binDir string
	for _, m := range p.Mounts {
		switch m.Inside {
		case lang.WorkingDir:
			workDir = m.Outside
		case lang.BinaryDir:
			binDir = m.Outside
		}
	}
	return &fakeProcess{backend: b, workDir: workDir, binDir: binDir}, nil
}

type fakeProcess struct {
	backend *fakeBackend
	workDir string
	binDir  string
	stopped atomic.Bool
}

func (p *fakeProcess) Wait() (sandbox.Result, error) {
	time.Sleep(p.backend.delay)
	if p.backend.exitCode == 0 {
		if err := os.WriteFile(filepath.Join(p.binDir, "main"), []byte("\x7fELF fake"), 0755); err != nil {
			return sandbox.Result{Status: sandbox.StatusUnknown}, err
		}
	}
	if err := os.WriteFile(filepath.Join(p.workDir, "message.txt"), []byte("compiler says hi"), 0644); err != nil {
		return sandbox.Result{Status: sandbox.StatusUnknown}, err
	}
	return sandbox.Result{Status: sandbox.StatusOK, ExitCode: p.backend.exitCode}, nil
}

func (p *fakeProcess) Stop() { p.stopped.Store(true) }

func newTestCache(t *testing.T, backend sandbox.Backend, maxSize int64) *compile.Cache {
	t.Helper()
	inv := sandbox.NewWithBackend(backend, t.TempDir())
	sched := slots.New([]string{t.TempDir(), t.TempDir()}, 2)
	store, err := testdata.New(t.TempDir(), 1, 0, time.Second, nil, nil)
	require.NoError(t, err)
	compiler := compile.NewCompiler(inv, sched, lang.Defaults(), store)
	cache, err := compile.NewCache(t.TempDir(), maxSize, compiler)
	require.NoError(t, err)
	return cache
}

func cppTask(code string) *compile.Task {
	return &compile.Task{Language: "cpp", Code: code}
}

func TestConcurrentIdenticalCompilesDedupe(t *testing.T) {
	backend := &fakeBackend{delay: 20 * time.Millisecond}
	cache := newTestCache(t, backend, 1<<30)

	const callers = 8
	results := make([]*compile.Binary, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bin, err := cache.Compile(context.Background(), cppTask("int main() {}"))
			require.NoError(t, err)
			results[i] = bin
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, backend.starts.Load(), "exactly one underlying compile")
	for _, bin := range results {
		require.NotNil(t, bin)
		assert.Equal(t, results[0].Dir, bin.Dir)
	}
	_, err := os.Stat(results[0].Dir)
	assert.NoError(t, err)

	for _, bin := range results {
		bin.Release()
	}
	// still cached, so the directory survives all user releases
	_, err = os.Stat(results[0].Dir)
	assert.NoError(t, err)
}

func TestCacheHitSkipsCompile(t *testing.T) {
	backend := &fakeBackend{}
	cache := newTestCache(t, backend, 1<<30)

	first, err := cache.Compile(context.Background(), cppTask("int main() {}"))
	require.NoError(t, err)
	second, err := cache.Compile(context.Background(), cppTask("int main() {}"))
	require.NoError(t, err)

	assert.EqualValues(t, 1, backend.starts.Load())
	assert.Equal(t, first.Dir, second.Dir)
	assert.Equal(t, "compiler says hi", second.Message)

	first.Release()
	second.Release()
}

func TestEvictionDefersDeletionUntilRelease(t *testing.T) {
	backend := &fakeBackend{}
	// the fake binary is 9 bytes; a 10-byte cap holds one, so each insert
	// evicts the previous entry
	cache := newTestCache(t, backend, 10)

	a, err := cache.Compile(context.Background(), cppTask("int main() { return 1; }"))
	require.NoError(t, err)
	_, err = os.Stat(a.Dir)
	require.NoError(t, err)

	b, err := cache.Compile(context.Background(), cppTask("int main() { return 2; }"))
	require.NoError(t, err)
	defer b.Release()

	// a is evicted but still referenced, so its directory must survive
	_, err = os.Stat(a.Dir)
	assert.NoError(t, err)

	a.Release()
	_, err = os.Stat(a.Dir)
	assert.True(t, os.IsNotExist(err), "deletion deferred until the last release")
}

func TestCompileFailureCarriesMessage(t *testing.T) {
	backend := &fakeBackend{exitCode: 1}
	cache := newTestCache(t, backend, 1<<30)

	_, err := cache.Compile(context.Background(), cppTask("int main() {"))
	var failure *compile.Failure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, "compiler says hi", failure.Message)
}

func TestUncompiledLanguageSkipsSandbox(t *testing.T) {
	backend := &fakeBackend{}
	cache := newTestCache(t, backend, 1<<30)

	bin, err := cache.Compile(context.Background(), &compile.Task{
		Language: "python",
		Code:     "print(40 + 2)",
	})
	require.NoError(t, err)
	defer bin.Release()

	assert.EqualValues(t, 0, backend.starts.Load())
	content, err := os.ReadFile(filepath.Join(bin.Dir, "main.py"))
	require.NoError(t, err)
	assert.Equal(t, "print(40 + 2)", string(content))
}
