package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/lyrio-dev/judge/api"
	"github.com/lyrio-dev/judge/internal/checkers"
	"github.com/lyrio-dev/judge/internal/lang"
	"github.com/lyrio-dev/judge/internal/sandbox"
	"github.com/lyrio-dev/judge/internal/slots"
	"github.com/lyrio-dev/judge/internal/trunc"
	"golang.org/x/sync/errgroup"
)

// Environment variables announcing the conversation interface to both sides.
const (
	envInteractorInterface = "INTERACTOR_INTERFACE"
	envSharedMemoryFD      = "INTERACTOR_SHARED_MEMORY_FD"
)

// RunInteractive judges one interactive testcase: the interactor and the
// user program run in parallel sandboxes wired together through pipes and,
// optionally, a shared memory object.
func RunInteractive(ctx context.Context, env *Env, tc *Testcase) (*api.TestcaseResult, error) {
	res := &api.TestcaseResult{}
	interactor := tc.Plan.Interactor

	err := env.Slots.RunQueued(ctx, func(slot string, d *slots.Disposer) error {
		workDir := filepath.Join(slot, "working")
		tempDir := filepath.Join(slot, "temp")
		for _, dir := range []string{workDir, tempDir} {
			if err := os.MkdirAll(dir, 0777); err != nil {
				return err
			}
		}

		inputPath := filepath.Join(workDir, defaultInputName)
		if _, err := tc.materializeInput(env, inputPath); err != nil {
			return err
		}
		res.Input = tc.dataPreview(env, readWorkFile(workDir, defaultInputName))

		// user -> interactor and interactor -> user
		userToInterR, userToInterW, err := os.Pipe()
		if err != nil {
			return err
		}
		closeOnce(d, userToInterR, userToInterW)
		interToUserR, interToUserW, err := os.Pipe()
		if err != nil {
			return err
		}
		closeOnce(d, interToUserR, interToUserW)

		commonEnv := map[string]string{
			envInteractorInterface: string(interactor.Interface),
		}
		var shm *os.File
		if interactor.Interface == api.InteractorShm {
			shm, err = os.CreateTemp("/dev/shm", "judge-shm-"+uuid.NewString())
			if err != nil {
				return fmt.Errorf("failed to create shared memory object: %w", err)
			}
			closeOnce(d, shm)
			d.Add(func() { _ = os.Remove(shm.Name()) })
			if err := shm.Truncate(interactor.SharedMemorySize * 1024 * 1024); err != nil {
				return fmt.Errorf("failed to size shared memory object: %w", err)
			}
			// preserved descriptors surface as fd 3 in both children
			commonEnv[envSharedMemoryFD] = strconv.Itoa(3)
		}

		interLang, err := env.Langs.Get(interactor.Language)
		if err != nil {
			return err
		}
		userLang, err := env.Langs.Get(tc.Task.Content.Language)
		if err != nil {
			return err
		}

		interactorTimeLimit := tc.Limits.TimeLimit
		if interactor.TimeLimit > interactorTimeLimit {
			interactorTimeLimit = interactor.TimeLimit
		}
		interactorMemoryLimit := tc.Limits.MemoryLimit
		if interactor.MemoryLimit > 0 {
			interactorMemoryLimit = interactor.MemoryLimit
		}

		interParams := &sandbox.Params{
			TaskID: tc.Task.TaskID,
			Script: interLang.Expand(interLang.RunCommand, interactor.CompileAndRunOptions) +
				" " + defaultInputName + " 2>" + interactorMsgName,
			Mounts: []sandbox.MountPoint{
				{Outside: tc.InteractorBinary.Dir, Inside: lang.BinaryDir, ReadOnly: true},
				{Outside: workDir, Inside: lang.WorkingDir},
			},
			WorkingDir:   lang.WorkingDir,
			TimeLimit:    interactorTimeLimit,
			MemoryLimit:  interactorMemoryLimit,
			MaxProcesses: userProcesses,
			Affinity:     sandbox.AffinityInteractor,
			Stdin:        sandbox.Redirect{FD: userToInterR},
			Stdout:       sandbox.Redirect{FD: interToUserW},
			Env:          commonEnv,
		}
		userParams := &sandbox.Params{
			TaskID: tc.Task.TaskID,
			Script: userLang.Expand(userLang.RunCommand, tc.Task.Content.CompileAndRunOptions),
			Mounts: []sandbox.MountPoint{
				{Outside: tc.UserBinary.Dir, Inside: lang.BinaryDir, ReadOnly: true},
				{Outside: tempDir, Inside: lang.WorkingDir},
			},
			WorkingDir:   lang.WorkingDir,
			TimeLimit:    tc.Limits.TimeLimit,
			MemoryLimit:  tc.Limits.MemoryLimit,
			MaxProcesses: userProcesses,
			Affinity:     sandbox.AffinityUserProgram,
			Stdin:        sandbox.Redirect{FD: interToUserR},
			Stdout:       sandbox.Redirect{FD: userToInterW},
			Stderr:       sandbox.Redirect{File: userStderrName},
			Env:          commonEnv,
		}
		if shm != nil {
			interParams.PreservedFDs = []*os.File{shm}
			userParams.PreservedFDs = []*os.File{shm}
		}

		var interHandle, userHandle *sandbox.Handle
		var group errgroup.Group
		group.Go(func() error {
			h, err := env.Sandbox.Start(ctx, interParams)
			if err != nil {
				return err
			}
			interHandle = h
			return nil
		})
		group.Go(func() error {
			h, err := env.Sandbox.Start(ctx, userParams)
			if err != nil {
				return err
			}
			userHandle = h
			return nil
		})
		if err := group.Wait(); err != nil {
			if interHandle != nil {
				interHandle.Stop()
			}
			if userHandle != nil {
				userHandle.Stop()
			}
			return err
		}

		// the children hold their own duplicates now
		userToInterR.Close()
		userToInterW.Close()
		interToUserR.Close()
		interToUserW.Close()

		interRes, interErr := interHandle.WaitForStop()
		userHandle.Stop()
		userRes, userErr := userHandle.WaitForStop()
		if interErr != nil {
			return interErr
		}
		if userErr != nil {
			return userErr
		}

		fillUsage(res, userRes)
		res.UserStderr = stderrPreview(env, readWorkFile(tempDir, userStderrName))
		interactorMessage := readWorkFile(workDir, interactorMsgName)

		switch {
		case interRes.Status == sandbox.StatusTimeLimitExceeded ||
			userRes.Status == sandbox.StatusTimeLimitExceeded:
			res.Status = api.TestcaseTimeLimitExceeded
		case interRes.Status != sandbox.StatusOK:
			res.Status = api.TestcaseJudgementFailed
			res.SystemMessage = trunc.Prefix(fmt.Sprintf(
				"Interactor encountered %s\n%s", interRes.Status, interactorMessage),
				env.Limits.StderrDisplay)
		case userRes.Status == sandbox.StatusOutputLimitExceeded:
			res.Status = api.TestcaseOutputLimitExceeded
		case userRes.Status == sandbox.StatusMemoryLimitExceeded:
			res.Status = api.TestcaseMemoryLimitExceeded
		case userRes.Status == sandbox.StatusRuntimeError:
			res.Status = api.TestcaseRuntimeError
			res.SystemMessage = trunc.Prefix(
				fmt.Sprintf("Exit code: %d", userRes.ExitCode), env.Limits.StderrDisplay)
		// a user sandbox stopped after the interactor exited is not a crash
		case userRes.Status != sandbox.StatusOK && userRes.Status != sandbox.StatusCancelled:
			res.Status = api.TestcaseRuntimeError
			res.SystemMessage = trunc.Prefix(
				fmt.Sprintf("Sandbox reported %s", userRes.Status), env.Limits.StderrDisplay)
		default:
			outcome := checkers.ParseMessage(interactorMessage)
			outcomeResult(res, outcome, env.Limits.StderrDisplay)
			return nil
		}
		res.Score = 0
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// closeOnce registers idempotent closes with the slot disposer.
func closeOnce(d *slots.Disposer, files ...*os.File) {
	for _, f := range files {
		var once sync.Once
		d.Add(func() {
			once.Do(func() { _ = f.Close() })
		})
	}
}
