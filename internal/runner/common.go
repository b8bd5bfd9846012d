// Package runner executes one testcase per problem type: batch, interactive
// and submit-answer. Every runner leases a task slot, materializes the
// testcase files, drives the sandbox and grades the outcome.
package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/lyrio-dev/judge/api"
	"github.com/lyrio-dev/judge/internal/checkers"
	"github.com/lyrio-dev/judge/internal/compile"
	"github.com/lyrio-dev/judge/internal/lang"
	"github.com/lyrio-dev/judge/internal/sandbox"
	"github.com/lyrio-dev/judge/internal/scoring"
	"github.com/lyrio-dev/judge/internal/slots"
	"github.com/lyrio-dev/judge/internal/testdata"
	"github.com/lyrio-dev/judge/internal/trunc"
)

const (
	defaultInputName  = "input"
	userOutputName    = "user_out"
	answerName        = "answer"
	userStderrName    = "user_err"
	interactorMsgName = "interactor_message"

	userProcesses = 1
)

// Env bundles the long-lived services a runner needs.
type Env struct {
	Sandbox *sandbox.Invoker
	Slots   *slots.Scheduler
	Langs   *lang.Registry
	Data    *testdata.Store
	Limits  api.ServerLimits
}

// Testcase is one execution assembled by the orchestrator.
type Testcase struct {
	Task *api.SubmissionTask
	Plan *api.JudgingPlan
	Case *api.Testcase

	Limits scoring.Limits

	// Compiled user program; nil for submit-answer.
	UserBinary *compile.Binary
	// Compiled custom checker, when the plan has one.
	CheckerBinary *compile.Binary
	// Compiled interactor, interactive only.
	InteractorBinary *compile.Binary

	// When set, the testcase judges an in-statement sample instead of
	// testdata files.
	Sample *api.SampleData

	// Path of the user's submitted archive, submit-answer only.
	SubmittedArchive string
}

func (tc *Testcase) dataDisplayLimit(env *Env) int64 {
	if tc.Task.Type == api.ProblemTypeSubmitAnswer {
		return env.Limits.DataDisplayForSubmitAnswer
	}
	return env.Limits.DataDisplay
}

// dataPreview clips testdata and user-output previews to the display byte
// cap and the preview rectangle.
func (tc *Testcase) dataPreview(env *Env, s string) api.OmittableString {
	return trunc.Preview(s, tc.dataDisplayLimit(env),
		env.Limits.PreviewHeight, env.Limits.PreviewWidth)
}

func stderrPreview(env *Env, s string) api.OmittableString {
	return trunc.Preview(s, env.Limits.StderrDisplay,
		env.Limits.PreviewHeight, env.Limits.PreviewWidth)
}

// materializeInput writes the testcase input (testdata file or inline sample
// data) to destPath. Returns false when the testcase has no input.
func (tc *Testcase) materializeInput(env *Env, destPath string) (bool, error) {
	if tc.Sample != nil {
		return true, os.WriteFile(destPath, []byte(tc.Sample.Input), 0644)
	}
	if tc.Case.InputFile == "" {
		return false, nil
	}
	return true, tc.copyData(env, tc.Case.InputFile, destPath)
}

// materializeAnswer writes the expected output next to the user's.
func (tc *Testcase) materializeAnswer(env *Env, destPath string) (bool, error) {
	if tc.Sample != nil {
		return true, os.WriteFile(destPath, []byte(tc.Sample.Output), 0644)
	}
	if tc.Case.OutputFile == "" {
		return false, nil
	}
	return true, tc.copyData(env, tc.Case.OutputFile, destPath)
}

func (tc *Testcase) copyData(env *Env, logicalName string, destPath string) error {
	contentID, ok := tc.Task.Testdata[logicalName]
	if !ok {
		return fmt.Errorf("testdata file %q is not in the manifest", logicalName)
	}
	data, err := env.Data.Read(contentID)
	if err != nil {
		return fmt.Errorf("failed to read testdata %q: %w", logicalName, err)
	}
	return os.WriteFile(destPath, data, 0644)
}

func (tc *Testcase) inputName() string {
	if tc.Plan.FileIO != nil {
		return tc.Plan.FileIO.InputFilename
	}
	return defaultInputName
}

func (tc *Testcase) outputName() string {
	if tc.Plan.FileIO != nil {
		return tc.Plan.FileIO.OutputFilename
	}
	return userOutputName
}

// statusFromScore maps a checker score onto the testcase verdict.
func statusFromScore(score float64) api.TestcaseStatus {
	switch {
	case score >= 100:
		return api.TestcaseAccepted
	case score <= 0:
		return api.TestcaseWrongAnswer
	}
	return api.TestcasePartiallyCorrect
}

// outcomeResult folds a checker outcome into the testcase result.
func outcomeResult(res *api.TestcaseResult, outcome checkers.Outcome, limit int64) *api.TestcaseResult {
	if !outcome.OK {
		res.Status = api.TestcaseJudgementFailed
		res.Score = 0
		res.SystemMessage = trunc.Prefix(outcome.Message, limit)
		return res
	}
	if outcome.Score < 0 || outcome.Score > 100 {
		res.Status = api.TestcaseJudgementFailed
		res.Score = 0
		res.SystemMessage = trunc.Prefix(
			fmt.Sprintf("Checker score %v out of range", outcome.Score), limit)
		return res
	}
	res.Status = statusFromScore(outcome.Score)
	res.Score = outcome.Score
	res.CheckerMessage = trunc.Prefix(outcome.Message, limit)
	return res
}

// sandboxStatusResult maps a non-OK sandbox status onto a runtime-category
// result; ok=false when the status is OK and judging should continue.
func sandboxStatusResult(res *api.TestcaseResult, sres sandbox.Result, limit int64) (*api.TestcaseResult, bool) {
	fillUsage(res, sres)
	switch sres.Status {
	case sandbox.StatusOK:
		return res, false
	case sandbox.StatusTimeLimitExceeded:
		res.Status = api.TestcaseTimeLimitExceeded
	case sandbox.StatusMemoryLimitExceeded:
		res.Status = api.TestcaseMemoryLimitExceeded
	case sandbox.StatusOutputLimitExceeded:
		res.Status = api.TestcaseOutputLimitExceeded
	case sandbox.StatusRuntimeError:
		res.Status = api.TestcaseRuntimeError
		res.SystemMessage = trunc.Prefix(
			fmt.Sprintf("Exit code: %d", sres.ExitCode), limit)
	default:
		res.Status = api.TestcaseJudgementFailed
		res.SystemMessage = trunc.Prefix(
			fmt.Sprintf("Sandbox reported %s", sres.Status), limit)
	}
	res.Score = 0
	return res, true
}

func fillUsage(res *api.TestcaseResult, sres sandbox.Result) {
	timeMS := sres.WallTime.Milliseconds()
	memKiB := sres.Memory / 1024
	res.Time = &timeMS
	res.Memory = &memKiB
}

func readWorkFile(workDir, name string) string {
	data, err := os.ReadFile(filepath.Join(workDir, name))
	if err != nil {
		return ""
	}
	return string(data)
}

// workDirOutputSize sums the working directory contents minus the
// materialized input, the value compared against the output-size limit.
func workDirOutputSize(workDir string, inputSize int64) int64 {
	var total int64
	_ = filepath.WalkDir(workDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if info, err := d.Info(); err == nil && !d.IsDir() {
			total += info.Size()
		}
		return nil
	})
	return total - inputSize
}

// runChecker dispatches to the configured checker family.
func runChecker(
	ctx context.Context,
	env *Env,
	tc *Testcase,
	workDir string,
	inputFile string,
	userOutFile string,
) (checkers.Outcome, error) {
	cfg := tc.Plan.Checker
	if cfg.Type != api.CheckerCustom {
		return checkers.RunBuiltin(cfg,
			filepath.Join(workDir, userOutFile),
			filepath.Join(workDir, answerName)), nil
	}
	return checkers.RunCustom(ctx, &checkers.CustomRun{
		Sandbox:        env.Sandbox,
		Langs:          env.Langs,
		Config:         cfg,
		Binary:         tc.CheckerBinary,
		WorkDir:        workDir,
		InputName:      inputFile,
		UserOutputName: userOutFile,
		AnswerName:     answerName,
		Code:           tc.Task.Content.Code,
	})
}
