// Package sandbox wraps the low-level isolation primitive: it prepares bind
// mounts and inline scripts, preserves inherited descriptors, classifies the
// primitive's result and binds cancellation.
package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/lyrio-dev/judge/internal/config"
)

type Invoker struct {
	backend Backend
	rootfs  string
	logger  *slog.Logger
}

func New(cfg config.SandboxConfig, affinity config.CPUAffinity) *Invoker {
	return &Invoker{
		backend: newExecBackend(cfg, affinity),
		rootfs:  cfg.RootFS,
		logger:  slog.With("comp", "sandbox"),
	}
}

// NewWithBackend builds an invoker over a caller-supplied backend.
func NewWithBackend(backend Backend, rootfs string) *Invoker {
	return &Invoker{
		backend: backend,
		rootfs:  rootfs,
		logger:  slog.With("comp", "sandbox"),
	}
}

// Handle is a started run, for dual-process setups that stop one side after
// the other exits.
type Handle struct {
	proc    Process
	cleanup func()
	done    chan waitOutcome
}

type waitOutcome struct {
	res Result
	err error
}

// Run executes the params to completion. A canceled context stops the sandbox
// and returns the context's error with a Cancelled result.
func (inv *Invoker) Run(ctx context.Context, p *Params) (Result, error) {
	h, err := inv.Start(ctx, p)
	if err != nil {
		return Result{Status: StatusUnknown}, err
	}
	return h.WaitForStop()
}

// Start launches the params and returns a handle. The context keeps guarding
// the run until WaitForStop returns.
func (inv *Invoker) Start(ctx context.Context, p *Params) (*Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	prepared := *p
	cleanup := func() {}

	if p.Script != "" {
		scriptDir, err := os.MkdirTemp("", "sandbox-script-*")
		if err != nil {
			return nil, fmt.Errorf("failed to create script dir: %w", err)
		}
		scriptPath := filepath.Join(scriptDir, "run.sh")
		if err := os.WriteFile(scriptPath, []byte(p.Script), 0755); err != nil {
			_ = os.RemoveAll(scriptDir)
			return nil, fmt.Errorf("failed to write script: %w", err)
		}
		cleanup = func() { _ = os.RemoveAll(scriptDir) }

		prepared.Mounts = append(append([]MountPoint{}, p.Mounts...), MountPoint{
			Outside: scriptDir,
			Inside:  "/tmp",
		})
		prepared.Executable = "/bin/sh"
		prepared.Args = []string{"/tmp/run.sh"}
	}

	if err := inv.prepareMounts(prepared.Mounts); err != nil {
		cleanup()
		return nil, err
	}

	proc, err := inv.backend.Start(&prepared)
	if err != nil {
		cleanup()
		return nil, err
	}

	h := &Handle{proc: proc, cleanup: cleanup, done: make(chan waitOutcome, 1)}

	go func() {
		res, werr := proc.Wait()
		if ctx.Err() != nil {
			res = Result{Status: StatusCancelled}
			werr = ctx.Err()
		}
		h.done <- waitOutcome{res: res, err: werr}
	}()
	stopOnCancel := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			proc.Stop()
		case <-stopOnCancel:
		}
	}()
	h.cleanup = func() {
		close(stopOnCancel)
		cleanup()
	}

	return h, nil
}

// WaitForStop blocks until the run finishes or is canceled.
func (h *Handle) WaitForStop() (Result, error) {
	out := <-h.done
	// re-queue for repeated waiters
	h.done <- out
	h.cleanupOnce()
	return out.res, out.err
}

// Stop kills the sandbox; WaitForStop still reports the final result.
func (h *Handle) Stop() {
	h.proc.Stop()
}

func (h *Handle) cleanupOnce() {
	if h.cleanup != nil {
		h.cleanup()
		h.cleanup = nil
	}
}

// prepareMounts makes sure every inside path exists in the rootfs and the
// sandboxed user can access the outside path iff the mount is writable.
func (inv *Invoker) prepareMounts(mounts []MountPoint) error {
	for _, m := range mounts {
		insideInRoot := filepath.Join(inv.rootfs, m.Inside)
		if err := os.MkdirAll(insideInRoot, 0755); err != nil {
			return fmt.Errorf("failed to create mount target %s: %w", m.Inside, err)
		}
		mode := os.FileMode(0755)
		if !m.ReadOnly {
			mode = 0777
		}
		if err := os.Chmod(m.Outside, mode); err != nil {
			return fmt.Errorf("failed to set permissions on %s: %w", m.Outside, err)
		}
	}
	return nil
}
