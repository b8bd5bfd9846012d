package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/lyrio-dev/judge/api"
	"github.com/lyrio-dev/judge/internal/lang"
	"github.com/lyrio-dev/judge/internal/sandbox"
	"github.com/lyrio-dev/judge/internal/slots"
	"github.com/lyrio-dev/judge/internal/trunc"
)

// RunBatch judges one batch testcase: a single sandboxed run of the compiled
// user program followed by the checker.
func RunBatch(ctx context.Context, env *Env, tc *Testcase) (*api.TestcaseResult, error) {
	res := &api.TestcaseResult{}

	err := env.Slots.RunQueued(ctx, func(slot string, d *slots.Disposer) error {
		workDir := filepath.Join(slot, "working")
		tempDir := filepath.Join(slot, "temp")
		for _, dir := range []string{workDir, tempDir} {
			if err := os.MkdirAll(dir, 0777); err != nil {
				return err
			}
		}

		inputName := tc.inputName()
		inputPath := filepath.Join(workDir, inputName)
		if _, err := tc.materializeInput(env, inputPath); err != nil {
			return err
		}
		inputSize := fileSize(inputPath)

		language, err := env.Langs.Get(tc.Task.Content.Language)
		if err != nil {
			return err
		}
		runCmd := language.Expand(language.RunCommand, tc.Task.Content.CompileAndRunOptions)

		params := &sandbox.Params{
			TaskID: tc.Task.TaskID,
			Script: runCmd,
			Mounts: []sandbox.MountPoint{
				{Outside: tc.UserBinary.Dir, Inside: lang.BinaryDir, ReadOnly: true},
				{Outside: workDir, Inside: lang.WorkingDir},
			},
			WorkingDir:   lang.WorkingDir,
			TimeLimit:    tc.Limits.TimeLimit,
			MemoryLimit:  tc.Limits.MemoryLimit,
			MaxProcesses: userProcesses,
			Affinity:     sandbox.AffinityUserProgram,
			Stderr:       sandbox.Redirect{File: userStderrName},
		}
		if tc.Plan.FileIO == nil {
			params.Stdin = sandbox.Redirect{File: inputName}
			params.Stdout = sandbox.Redirect{File: userOutputName}
		}

		sres, err := env.Sandbox.Run(ctx, params)
		if err != nil {
			return err
		}

		res.Input = tc.dataPreview(env, readWorkFile(workDir, inputName))
		res.UserStderr = stderrPreview(env, readWorkFile(workDir, userStderrName))

		if size := workDirOutputSize(workDir, inputSize); size > env.Limits.OutputSize {
			res.Status = api.TestcaseOutputLimitExceeded
			res.Score = 0
			fillUsage(res, sres)
			return nil
		}

		if _, stop := sandboxStatusResult(res, sres, env.Limits.StderrDisplay); stop {
			return nil
		}

		outputName := tc.outputName()
		outputPath := filepath.Join(workDir, outputName)
		if _, err := os.Stat(outputPath); err != nil {
			res.Status = api.TestcaseFileError
			res.Score = 0
			res.SystemMessage = trunc.Prefix(
				fmt.Sprintf("Couldn't find user output file %q", outputName),
				env.Limits.StderrDisplay)
			return nil
		}
		res.UserOutput = tc.dataPreview(env, readWorkFile(workDir, outputName))

		if _, err := tc.materializeAnswer(env, filepath.Join(workDir, answerName)); err != nil {
			return err
		}
		res.Output = tc.dataPreview(env, readWorkFile(workDir, answerName))

		// The user program may have rewritten its input; custom checkers
		// receive the input path, so restore the original first.
		if tc.Plan.Checker.Type == api.CheckerCustom {
			if _, err := tc.materializeInput(env, inputPath); err != nil {
				return err
			}
		}

		outcome, err := runChecker(ctx, env, tc, workDir, inputName, outputName)
		if err != nil {
			return err
		}
		outcomeResult(res, outcome, env.Limits.StderrDisplay)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}
