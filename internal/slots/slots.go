// Package slots bounds concurrent testcase executions to the configured
// working directories. A slot is an exclusively leased directory plus a
// concurrency permit; the permit returns on every exit path, including
// cancellation.
package slots

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sync/semaphore"
)

// Disposer collects cleanup closures a slot user appends (pipe ends, shared
// memory handles). They run unconditionally when the slot is returned, last
// added first.
type Disposer struct {
	fns []func()
}

func (d *Disposer) Add(fn func()) {
	d.fns = append(d.fns, fn)
}

func (d *Disposer) run() {
	for i := len(d.fns) - 1; i >= 0; i-- {
		d.fns[i]()
	}
	d.fns = nil
}

type Scheduler struct {
	sem  *semaphore.Weighted
	dirs chan string
}

// New builds a scheduler with min(len(dirs), maxConcurrent) permits.
func New(dirs []string, maxConcurrent int) *Scheduler {
	permits := len(dirs)
	if maxConcurrent > 0 && maxConcurrent < permits {
		permits = maxConcurrent
	}
	dirChan := make(chan string, len(dirs))
	for _, dir := range dirs {
		dirChan <- dir
	}
	return &Scheduler{
		sem:  semaphore.NewWeighted(int64(permits)),
		dirs: dirChan,
	}
}

// RunQueued acquires a permit and a free working directory, empties the
// directory and invokes fn. FIFO, no work stealing.
func (s *Scheduler) RunQueued(ctx context.Context, fn func(dir string, d *Disposer) error) error {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer s.sem.Release(1)

	dir := <-s.dirs
	defer func() { s.dirs <- dir }()

	d := &Disposer{}
	defer d.run()

	if err := emptyDir(dir); err != nil {
		return fmt.Errorf("failed to clean task slot %s: %w", dir, err)
	}

	return fn(dir, d)
}

func emptyDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return os.MkdirAll(dir, 0755)
		}
		return err
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			return err
		}
	}
	return nil
}
