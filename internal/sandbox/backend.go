package sandbox

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/lyrio-dev/judge/internal/config"
)

// Process is one sandboxed run in flight.
type Process interface {
	// Wait blocks until the process exits and returns its classified result.
	Wait() (Result, error)
	// Stop kills the whole sandbox. Safe to call more than once and after
	// exit.
	Stop()
}

// Backend executes a fully prepared Params against the isolation primitive.
// The production backend shells out to the configured sandbox binary; tests
// substitute fakes.
type Backend interface {
	Start(p *Params) (Process, error)
}

// execBackend drives the external sandbox binary. The primitive applies the
// cgroup/namespace/chroot isolation and reports metrics through a meta file,
// one "key:value" per line: status, exitcode, walltime-ns, memory-bytes.
type execBackend struct {
	cfg      config.SandboxConfig
	affinity config.CPUAffinity
}

func newExecBackend(cfg config.SandboxConfig, affinity config.CPUAffinity) *execBackend {
	return &execBackend{cfg: cfg, affinity: affinity}
}

func (b *execBackend) cpuSet(class AffinityClass) []int {
	switch class {
	case AffinityCompiler:
		return b.affinity.Compiler
	case AffinityUserProgram:
		return b.affinity.UserProgram
	case AffinityInteractor:
		return b.affinity.Interactor
	case AffinityChecker:
		return b.affinity.Checker
	}
	return nil
}

func (b *execBackend) Start(p *Params) (Process, error) {
	metaFile, err := os.CreateTemp("", "sandbox-meta-*.txt")
	if err != nil {
		return nil, fmt.Errorf("failed to create meta file: %w", err)
	}
	if err := metaFile.Close(); err != nil {
		return nil, err
	}

	args := []string{
		"--rootfs", b.cfg.RootFS,
		"--user", b.cfg.User,
		"--hostname", b.cfg.Hostname,
		"--meta", metaFile.Name(),
		"--time", strconv.FormatInt(p.TimeLimit, 10),
		"--memory", strconv.FormatInt(p.MemoryLimit, 10),
		"--stack", strconv.FormatInt(p.EffectiveStackSize(), 10),
	}
	if p.WorkingDir != "" {
		args = append(args, "--chdir", p.WorkingDir)
	}
	if p.MaxProcesses > 0 {
		args = append(args, "--processes", strconv.Itoa(p.MaxProcesses))
	}
	for _, m := range p.Mounts {
		mode := "rw"
		if m.ReadOnly {
			mode = "ro"
		}
		args = append(args, "--mount", fmt.Sprintf("%s:%s:%s", m.Outside, m.Inside, mode))
	}
	for k, v := range b.cfg.Environments {
		args = append(args, "--env", k+"="+v)
	}
	for k, v := range p.Env {
		args = append(args, "--env", k+"="+v)
	}
	if cpus := b.cpuSet(p.Affinity); len(cpus) > 0 {
		strs := make([]string, len(cpus))
		for i, c := range cpus {
			strs[i] = strconv.Itoa(c)
		}
		args = append(args, "--cpu", strings.Join(strs, ","))
	}
	if p.Stdin.File != "" {
		args = append(args, "--stdin", p.Stdin.File)
	}
	if p.Stdout.File != "" {
		args = append(args, "--stdout", p.Stdout.File)
	}
	if p.Stderr.File != "" {
		args = append(args, "--stderr", p.Stderr.File)
	}

	args = append(args, "--", p.Executable)
	args = append(args, p.Args...)

	cmd := exec.Command(b.cfg.Executable, args...)
	if p.Stdin.FD != nil {
		cmd.Stdin = p.Stdin.FD
	}
	if p.Stdout.FD != nil {
		cmd.Stdout = p.Stdout.FD
	}
	if p.Stderr.FD != nil {
		cmd.Stderr = p.Stderr.FD
	}
	// ExtraFiles clears close-on-exec for the fork and leaves the parent's
	// descriptors untouched, which is exactly the preserve-restore contract.
	cmd.ExtraFiles = p.PreservedFDs

	if err := cmd.Start(); err != nil {
		_ = os.Remove(metaFile.Name())
		return nil, fmt.Errorf("failed to start sandbox: %w", err)
	}

	return &execProcess{cmd: cmd, metaFilePath: metaFile.Name()}, nil
}

type execProcess struct {
	cmd          *exec.Cmd
	metaFilePath string
	stopped      atomic.Bool
}

func (p *execProcess) Wait() (Result, error) {
	defer os.Remove(p.metaFilePath)

	if err := p.cmd.Wait(); err != nil {
		if _, ok := err.(*exec.ExitError); !ok {
			return Result{Status: StatusUnknown}, err
		}
	}

	metaBytes, err := os.ReadFile(p.metaFilePath)
	if err != nil {
		return Result{Status: StatusUnknown}, fmt.Errorf("failed to read meta file: %w", err)
	}
	res, err := parseMetaFile(metaBytes)
	// a sandbox killed through Stop never writes its status
	if err == nil && p.stopped.Load() && res.Status == StatusUnknown {
		res.Status = StatusCancelled
	}
	return res, err
}

func (p *execProcess) Stop() {
	p.stopped.Store(true)
	if p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
}

func parseMetaFile(data []byte) (Result, error) {
	res := Result{Status: StatusUnknown}
	for _, line := range strings.Split(string(data), "\n") {
		key, value, found := strings.Cut(strings.TrimSpace(line), ":")
		if !found {
			continue
		}
		switch key {
		case "status":
			res.Status = metaStatus(value)
		case "exitcode":
			code, err := strconv.Atoi(value)
			if err != nil {
				return res, fmt.Errorf("bad exitcode in meta file: %q", value)
			}
			res.ExitCode = code
		case "walltime-ns":
			ns, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return res, fmt.Errorf("bad walltime in meta file: %q", value)
			}
			res.WallTime = time.Duration(ns)
		case "memory-bytes":
			bytes, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return res, fmt.Errorf("bad memory in meta file: %q", value)
			}
			res.Memory = bytes
		}
	}
	return res, nil
}

func metaStatus(value string) Status {
	switch value {
	case "OK":
		return StatusOK
	case "TLE":
		return StatusTimeLimitExceeded
	case "MLE":
		return StatusMemoryLimitExceeded
	case "OLE":
		return StatusOutputLimitExceeded
	case "RE", "SG":
		return StatusRuntimeError
	case "XX":
		return StatusUnknown
	}
	return StatusUnknown
}
