package judge

import (
	"fmt"

	"github.com/lyrio-dev/judge/api"
	"github.com/lyrio-dev/judge/internal/checkers"
	"github.com/lyrio-dev/judge/internal/lang"
	"github.com/lyrio-dev/judge/internal/scoring"
)

// ConfigError is an invalid judging plan or submission; the message is
// user-visible and terminal for the submission.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string { return e.Message }

func configErrorf(format string, args ...any) error {
	return &ConfigError{Message: fmt.Sprintf(format, args...)}
}

// validateTask rejects malformed tasks before anything is downloaded or
// compiled.
func validateTask(task *api.SubmissionTask, langs *lang.Registry) error {
	plan := &task.Plan

	if !langs.Has(task.Content.Language) && task.Type != api.ProblemTypeSubmitAnswer {
		return configErrorf("unsupported language: %s", task.Content.Language)
	}
	if len(plan.Subtasks) == 0 {
		return configErrorf("the judging plan has no subtasks")
	}

	points := make([]*float64, len(plan.Subtasks))
	for i := range plan.Subtasks {
		points[i] = plan.Subtasks[i].Points
	}
	if _, err := scoring.DistributeWeights(points); err != nil {
		return configErrorf("invalid subtask weights: %v", err)
	}
	if _, err := scoring.TopologicalOrder(plan.Subtasks); err != nil {
		return configErrorf("invalid subtask dependencies: %v", err)
	}

	for i := range plan.Subtasks {
		subtask := &plan.Subtasks[i]
		if len(subtask.Testcases) == 0 {
			return configErrorf("subtask %d has no testcases", i)
		}
		casePoints := make([]*float64, len(subtask.Testcases))
		for j := range subtask.Testcases {
			casePoints[j] = subtask.Testcases[j].Points
		}
		if _, err := scoring.DistributeWeights(casePoints); err != nil {
			return configErrorf("invalid testcase weights in subtask %d: %v", i, err)
		}

		for j := range subtask.Testcases {
			testcase := &subtask.Testcases[j]
			if err := validateTestcase(task, plan, subtask, testcase, i, j); err != nil {
				return err
			}
		}
	}

	switch task.Type {
	case api.ProblemTypeBatch, api.ProblemTypeSubmitAnswer:
		if err := checkers.Validate(plan.Checker, langs); err != nil {
			return configErrorf("invalid checker config: %v", err)
		}
		if plan.Checker.Type == api.CheckerCustom {
			if _, ok := task.Testdata[plan.Checker.Filename]; !ok {
				return configErrorf("custom checker file %q is not in the testdata manifest",
					plan.Checker.Filename)
			}
		}
	case api.ProblemTypeInteractive:
		if err := validateInteractor(task, plan.Interactor, langs); err != nil {
			return err
		}
	default:
		return configErrorf("unknown problem type %q", task.Type)
	}

	if task.Type == api.ProblemTypeSubmitAnswer {
		if task.Content.SubmittedFileID == nil {
			return configErrorf("submit-answer submission carries no file")
		}
	}

	if plan.RunSamples && task.Type != api.ProblemTypeSubmitAnswer && len(task.Samples) == 0 {
		return configErrorf("runSamples is set but the task has no samples")
	}

	for language, files := range plan.ExtraSourceFiles {
		for dst, contentID := range files {
			if contentID == "" {
				return configErrorf("extra source file %q for %s has no content id", dst, language)
			}
		}
	}

	return nil
}

func validateTestcase(
	task *api.SubmissionTask,
	plan *api.JudgingPlan,
	subtask *api.Subtask,
	testcase *api.Testcase,
	subtaskIdx, caseIdx int,
) error {
	limits := scoring.EffectiveLimits(plan, subtask, testcase)
	if task.Type != api.ProblemTypeSubmitAnswer {
		if limits.TimeLimit <= 0 {
			return configErrorf("testcase %d of subtask %d has no positive time limit", caseIdx, subtaskIdx)
		}
		if limits.MemoryLimit <= 0 {
			return configErrorf("testcase %d of subtask %d has no positive memory limit", caseIdx, subtaskIdx)
		}
	}

	switch task.Type {
	case api.ProblemTypeBatch:
		if testcase.InputFile == "" || testcase.OutputFile == "" {
			return configErrorf("testcase %d of subtask %d is missing input or output", caseIdx, subtaskIdx)
		}
	case api.ProblemTypeInteractive:
		if testcase.InputFile == "" {
			return configErrorf("testcase %d of subtask %d is missing input", caseIdx, subtaskIdx)
		}
	case api.ProblemTypeSubmitAnswer:
		if testcase.OutputFile == "" {
			return configErrorf("testcase %d of subtask %d is missing output", caseIdx, subtaskIdx)
		}
	}

	for _, name := range []string{testcase.InputFile, testcase.OutputFile} {
		if name == "" {
			continue
		}
		if _, ok := task.Testdata[name]; !ok {
			return configErrorf("testdata file %q is not in the manifest", name)
		}
	}
	return nil
}

func validateInteractor(task *api.SubmissionTask, interactor *api.InteractorConfig, langs *lang.Registry) error {
	if interactor == nil {
		return configErrorf("interactive problem has no interactor")
	}
	switch interactor.Interface {
	case api.InteractorStdio:
	case api.InteractorShm:
		if interactor.SharedMemorySize <= 0 || interactor.SharedMemorySize > 128 {
			return configErrorf("invalid shared memory size %d", interactor.SharedMemorySize)
		}
	default:
		return configErrorf("unknown interactor interface %q", interactor.Interface)
	}
	if !langs.Has(interactor.Language) {
		return configErrorf("interactor language %q is not supported", interactor.Language)
	}
	if _, ok := task.Testdata[interactor.Filename]; !ok {
		return configErrorf("interactor file %q is not in the testdata manifest", interactor.Filename)
	}
	return nil
}
