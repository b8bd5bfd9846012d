package sandbox

import (
	"os"
	"time"
)

// Status classifies how a sandboxed run ended.
type Status string

const (
	StatusOK                  Status = "OK"
	StatusTimeLimitExceeded   Status = "TimeLimitExceeded"
	StatusMemoryLimitExceeded Status = "MemoryLimitExceeded"
	StatusOutputLimitExceeded Status = "OutputLimitExceeded"
	StatusRuntimeError        Status = "RuntimeError"
	StatusCancelled           Status = "Cancelled"
	StatusUnknown             Status = "Unknown"
)

type Result struct {
	Status   Status
	ExitCode int
	WallTime time.Duration
	// Peak memory in bytes.
	Memory int64
}

// MountPoint binds an outside directory into the sandbox rootfs.
type MountPoint struct {
	Outside  string
	Inside   string
	ReadOnly bool
}

// Redirect names either a file (path inside the sandbox, relative to the
// working directory) or an inherited file descriptor. The zero value leaves
// the stream at /dev/null.
type Redirect struct {
	File string
	FD   *os.File
}

func (r Redirect) IsSet() bool { return r.File != "" || r.FD != nil }

// AffinityClass selects a CPU set from the cpuAffinity configuration.
type AffinityClass string

const (
	AffinityCompiler    AffinityClass = "compiler"
	AffinityUserProgram AffinityClass = "userProgram"
	AffinityInteractor  AffinityClass = "interactor"
	AffinityChecker     AffinityClass = "checker"
)

// Params aggregates everything one sandboxed run needs. Time limits are
// milliseconds, memory limits MiB.
type Params struct {
	// Cancellation key, informational only; cancellation itself is bound via
	// the context passed to Run/Start.
	TaskID string

	// Either Executable (+Args) or an inline Script. A script is written into
	// a temp dir mounted as /tmp inside and invoked through a shell.
	Executable string
	Script     string
	Args       []string

	Stdin  Redirect
	Stdout Redirect
	Stderr Redirect

	Mounts []MountPoint

	// Inside path.
	WorkingDir string

	TimeLimit   int64
	MemoryLimit int64
	// 0 means same as MemoryLimit.
	StackSize int64

	MaxProcesses int

	Env map[string]string

	Affinity AffinityClass

	// Descriptors to keep open across the fork; the n-th one becomes fd 3+n
	// in the child.
	PreservedFDs []*os.File
}

func (p *Params) EffectiveStackSize() int64 {
	if p.StackSize > 0 {
		return p.StackSize
	}
	return p.MemoryLimit
}
