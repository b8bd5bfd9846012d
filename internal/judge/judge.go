// Package judge orchestrates one submission: validate, compile, walk the
// judging plan and report progress snapshots along the way.
package judge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lyrio-dev/judge/api"
	"github.com/lyrio-dev/judge/internal/compile"
	"github.com/lyrio-dev/judge/internal/runner"
	"github.com/lyrio-dev/judge/internal/scoring"
	"github.com/lyrio-dev/judge/internal/trunc"
	"golang.org/x/sync/errgroup"
)

type Judge struct {
	env    *runner.Env
	cache  *compile.Cache
	logger *slog.Logger
}

func New(env *runner.Env, cache *compile.Cache) *Judge {
	return &Judge{
		env:    env,
		cache:  cache,
		logger: slog.With("comp", "judge"),
	}
}

// Judge drives a submission to a terminal progress snapshot. A canceled
// context exits quietly without further reporting; any other error has
// already been reported as a terminal status.
func (j *Judge) Judge(ctx context.Context, task *api.SubmissionTask, reporter Reporter) error {
	p := newProgressState(task, reporter)
	p.reportPhase(api.ProgressPreparing)

	err := j.run(ctx, task, p)
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	var configErr *ConfigError
	var compileFailure *compile.Failure
	switch {
	case errors.As(err, &configErr):
		p.finish(api.StatusConfigurationError, 0,
			trunc.Prefix(configErr.Message, j.env.Limits.StderrDisplay))
	case errors.As(err, &compileFailure):
		p.setCompile(&api.CompileInfo{
			Success: false,
			Message: trunc.Prefix(compileFailure.Message, j.env.Limits.CompilerMessage),
		})
		p.finish(api.StatusCompilationError, 0, api.OmittableString{})
	default:
		j.logger.Error("submission failed", "task", task.TaskID, "err", err)
		p.finish(api.StatusSystemError, 0,
			trunc.Prefix(err.Error(), j.env.Limits.StderrDisplay))
	}
	return nil
}

func (j *Judge) run(ctx context.Context, task *api.SubmissionTask, p *progressState) error {
	if err := validateTask(task, j.env.Langs); err != nil {
		return err
	}

	binaries, err := j.prepare(ctx, task, p)
	if err != nil {
		return err
	}
	defer binaries.release()

	weights := subtaskWeights(&task.Plan)
	p.setSubtaskFullScores(weights)
	p.reportPhase(api.ProgressRunning)

	checkerHash, interactorHash := "", ""
	if binaries.checker != nil {
		checkerHash = binaries.checker.TaskHash
	}
	if binaries.interactor != nil {
		interactorHash = binaries.interactor.TaskHash
	}

	hashOf := func(testcase *api.Testcase, limits scoring.Limits, sample *api.SampleData) string {
		return testcaseHash(task, testcase, limits, sample, checkerHash, interactorHash)
	}

	engine := &scoring.Engine{
		Plan:         &task.Plan,
		SubmitAnswer: task.Type == api.ProblemTypeSubmitAnswer,
		Run: func(ctx context.Context, subtask, index int, limits scoring.Limits) (*api.TestcaseResult, error) {
			testcase := &task.Plan.Subtasks[subtask].Testcases[index]
			return j.runTestcase(ctx, task, binaries, testcase, limits, nil)
		},
		Hooks: scoring.Hooks{
			OnTestcaseStart: p.testcaseRunning,
			OnTestcaseFinish: func(subtask, index int, res *api.TestcaseResult) {
				testcase := &task.Plan.Subtasks[subtask].Testcases[index]
				limits := scoring.EffectiveLimits(&task.Plan, &task.Plan.Subtasks[subtask], testcase)
				p.testcaseFinished(subtask, index, hashOf(testcase, limits, nil), res)
			},
			OnTestcaseSkip:  p.testcaseSkipped,
			OnSubtaskFinish: p.subtaskFinished,
			OnSampleStart:   p.sampleRunning,
			OnSampleSkip:    p.sampleSkipped,
		},
	}

	if len(p.samples) > 0 {
		sampleLimits := scoring.Limits{
			TimeLimit:   task.Plan.TimeLimit,
			MemoryLimit: task.Plan.MemoryLimit,
		}
		engine.SampleCount = len(task.Samples)
		engine.RunSample = func(ctx context.Context, index int) (*api.TestcaseResult, error) {
			sample := &task.Samples[index]
			res, err := j.runTestcase(ctx, task, binaries, &api.Testcase{}, sampleLimits, sample)
			if err != nil {
				return nil, err
			}
			p.sampleFinished(index, hashOf(&api.Testcase{}, sampleLimits, sample), res)
			return res, nil
		}
	}

	result, err := engine.Evaluate(ctx)
	if err != nil {
		return err
	}

	p.finish(result.Status, result.Score, api.OmittableString{})
	return nil
}

// binariesInUse are the one or two compile-result references a submission
// owns while running.
type binariesInUse struct {
	user       *compile.Binary
	checker    *compile.Binary
	interactor *compile.Binary

	// Local path of the submitted archive, submit-answer only.
	archive string
}

func (b *binariesInUse) release() {
	for _, bin := range []*compile.Binary{b.user, b.checker, b.interactor} {
		if bin != nil {
			bin.Release()
		}
	}
}

// prepare downloads everything the task references and compiles the helper
// program and the user program. For submit-answer the checker compile runs
// in parallel with the submitted-file download.
func (j *Judge) prepare(ctx context.Context, task *api.SubmissionTask, p *progressState) (*binariesInUse, error) {
	binaries := &binariesInUse{}
	ok := false
	defer func() {
		if !ok {
			binaries.release()
		}
	}()

	manifestIDs := make([]string, 0, len(task.Testdata))
	for _, id := range task.Testdata {
		manifestIDs = append(manifestIDs, id)
	}
	for _, files := range task.Plan.ExtraSourceFiles {
		for _, id := range files {
			manifestIDs = append(manifestIDs, id)
		}
	}

	switch task.Type {
	case api.ProblemTypeSubmitAnswer:
		group, groupCtx := errgroup.WithContext(ctx)
		group.Go(func() error {
			id := *task.Content.SubmittedFileID
			if err := j.env.Data.Ensure(groupCtx, []string{id}); err != nil {
				return err
			}
			binaries.archive = j.env.Data.Path(id)
			return nil
		})
		group.Go(func() error {
			if err := j.env.Data.Ensure(groupCtx, manifestIDs); err != nil {
				return err
			}
			var err error
			binaries.checker, err = j.compileChecker(groupCtx, task)
			return err
		})
		if err := group.Wait(); err != nil {
			return nil, err
		}

	case api.ProblemTypeInteractive:
		if err := j.env.Data.Ensure(ctx, manifestIDs); err != nil {
			return nil, err
		}
		interactor := task.Plan.Interactor
		source, err := j.env.Data.Read(task.Testdata[interactor.Filename])
		if err != nil {
			return nil, err
		}
		binaries.interactor, err = j.compileHelper(ctx, &compile.Task{
			Language:   interactor.Language,
			Code:       string(source),
			Options:    interactor.CompileAndRunOptions,
			ExtraFiles: task.Plan.ExtraSourceFiles[interactor.Language],
		}, "interactor")
		if err != nil {
			return nil, err
		}
		if err := j.compileUser(ctx, task, p, binaries); err != nil {
			return nil, err
		}

	default: // batch
		if err := j.env.Data.Ensure(ctx, manifestIDs); err != nil {
			return nil, err
		}
		var err error
		binaries.checker, err = j.compileChecker(ctx, task)
		if err != nil {
			return nil, err
		}
		if err := j.compileUser(ctx, task, p, binaries); err != nil {
			return nil, err
		}
	}

	ok = true
	return binaries, nil
}

// compileChecker compiles the plan's custom checker, when it has one.
func (j *Judge) compileChecker(ctx context.Context, task *api.SubmissionTask) (*compile.Binary, error) {
	checker := task.Plan.Checker
	if checker == nil || checker.Type != api.CheckerCustom {
		return nil, nil
	}
	source, err := j.env.Data.Read(task.Testdata[checker.Filename])
	if err != nil {
		return nil, err
	}
	return j.compileHelper(ctx, &compile.Task{
		Language:   checker.Language,
		Code:       string(source),
		Options:    checker.CompileAndRunOptions,
		ExtraFiles: task.Plan.ExtraSourceFiles[checker.Language],
	}, "checker")
}

// compileHelper compiles a problem-supplied program; its failure is a
// configuration error, not the user's.
func (j *Judge) compileHelper(ctx context.Context, ct *compile.Task, what string) (*compile.Binary, error) {
	bin, err := j.cache.Compile(ctx, ct)
	var failure *compile.Failure
	if errors.As(err, &failure) {
		return nil, &ConfigError{Message: fmt.Sprintf(
			"Failed to compile the %s:\n\n%s", what, failure.Message)}
	}
	if err != nil {
		return nil, err
	}
	return bin, nil
}

func (j *Judge) compileUser(ctx context.Context, task *api.SubmissionTask, p *progressState, binaries *binariesInUse) error {
	p.reportPhase(api.ProgressCompiling)

	bin, err := j.cache.Compile(ctx, &compile.Task{
		Language:   task.Content.Language,
		Code:       task.Content.Code,
		Options:    task.Content.CompileAndRunOptions,
		ExtraFiles: task.Plan.ExtraSourceFiles[task.Content.Language],
	})
	if err != nil {
		return err
	}
	binaries.user = bin
	p.setCompile(&api.CompileInfo{
		Success: true,
		Message: trunc.Prefix(bin.Message, j.env.Limits.CompilerMessage),
	})
	return nil
}

func (j *Judge) runTestcase(
	ctx context.Context,
	task *api.SubmissionTask,
	binaries *binariesInUse,
	testcase *api.Testcase,
	limits scoring.Limits,
	sample *api.SampleData,
) (*api.TestcaseResult, error) {
	tc := &runner.Testcase{
		Task:             task,
		Plan:             &task.Plan,
		Case:             testcase,
		Limits:           limits,
		UserBinary:       binaries.user,
		CheckerBinary:    binaries.checker,
		InteractorBinary: binaries.interactor,
		Sample:           sample,
		SubmittedArchive: binaries.archive,
	}
	switch task.Type {
	case api.ProblemTypeInteractive:
		return runner.RunInteractive(ctx, j.env, tc)
	case api.ProblemTypeSubmitAnswer:
		return runner.RunSubmitAnswer(ctx, j.env, tc)
	}
	return runner.RunBatch(ctx, j.env, tc)
}

func subtaskWeights(plan *api.JudgingPlan) []float64 {
	points := make([]*float64, len(plan.Subtasks))
	for i := range plan.Subtasks {
		points[i] = plan.Subtasks[i].Points
	}
	weights, err := scoring.DistributeWeights(points)
	if err != nil {
		// validateTask already accepted the weights
		panic(err)
	}
	return weights
}
