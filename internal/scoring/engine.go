package scoring

import (
	"context"
	"fmt"
	"math"

	"github.com/lyrio-dev/judge/api"
	"golang.org/x/sync/errgroup"
)

// Limits are the effective per-testcase limits, testcase over subtask over
// plan.
type Limits struct {
	TimeLimit   int64
	MemoryLimit int64
}

// EffectiveLimits resolves a testcase's limits against its subtask and plan
// defaults.
func EffectiveLimits(plan *api.JudgingPlan, subtask *api.Subtask, testcase *api.Testcase) Limits {
	limits := Limits{TimeLimit: plan.TimeLimit, MemoryLimit: plan.MemoryLimit}
	if subtask.TimeLimit > 0 {
		limits.TimeLimit = subtask.TimeLimit
	}
	if subtask.MemoryLimit > 0 {
		limits.MemoryLimit = subtask.MemoryLimit
	}
	if testcase.TimeLimit > 0 {
		limits.TimeLimit = testcase.TimeLimit
	}
	if testcase.MemoryLimit > 0 {
		limits.MemoryLimit = testcase.MemoryLimit
	}
	return limits
}

// TestcaseRunner executes one testcase and returns its graded result.
type TestcaseRunner func(ctx context.Context, subtask int, index int, limits Limits) (*api.TestcaseResult, error)

// SampleRunner executes one in-statement sample.
type SampleRunner func(ctx context.Context, index int) (*api.TestcaseResult, error)

// Hooks let the orchestrator move progress matrix cells as the walk
// proceeds. Any hook may be nil.
type Hooks struct {
	OnTestcaseStart  func(subtask, index int)
	OnTestcaseFinish func(subtask, index int, res *api.TestcaseResult)
	OnTestcaseSkip   func(subtask, index int)
	OnSubtaskFinish  func(subtask int, score float64)

	OnSampleStart  func(index int)
	OnSampleFinish func(index int, res *api.TestcaseResult)
	OnSampleSkip   func(index int)
}

type Engine struct {
	Plan *api.JudgingPlan

	Run         TestcaseRunner
	RunSample   SampleRunner
	SampleCount int

	// Submit-answer plans ignore the sample gate.
	SubmitAnswer bool

	Hooks Hooks
}

// Result is the aggregated outcome of the plan walk.
type Result struct {
	// Rounded, clamped to 100.
	Score  int
	Status api.SubmissionStatus
}

type subtaskOutcome struct {
	score   float64
	results []*api.TestcaseResult
	skipped bool
}

// Evaluate walks the plan: samples first when requested, then subtasks in
// topological order, applying each subtask's scoring mode and dependency
// gating.
func (e *Engine) Evaluate(ctx context.Context) (*Result, error) {
	subtaskWeights, err := e.subtaskWeights()
	if err != nil {
		return nil, err
	}
	order, err := TopologicalOrder(e.Plan.Subtasks)
	if err != nil {
		return nil, err
	}

	samplesFailed, sampleStatus, err := e.runSamples(ctx)
	if err != nil {
		return nil, err
	}

	outcomes := make([]*subtaskOutcome, len(e.Plan.Subtasks))
	for _, idx := range order {
		subtask := &e.Plan.Subtasks[idx]

		skip := samplesFailed && !e.SubmitAnswer
		if !skip {
			for _, dep := range subtask.Dependencies {
				if outcomes[dep] == nil || math.Round(outcomes[dep].score) == 0 {
					skip = true
					break
				}
			}
		}
		if skip {
			outcomes[idx] = e.skipSubtask(idx, subtask)
			continue
		}

		outcome, err := e.runSubtask(ctx, idx, subtask)
		if err != nil {
			return nil, err
		}
		outcomes[idx] = outcome
	}

	return e.aggregate(outcomes, subtaskWeights, samplesFailed, sampleStatus)
}

func (e *Engine) subtaskWeights() ([]float64, error) {
	points := make([]*float64, len(e.Plan.Subtasks))
	for i := range e.Plan.Subtasks {
		points[i] = e.Plan.Subtasks[i].Points
	}
	return DistributeWeights(points)
}

// runSamples returns whether the sample gate failed and the first failing
// status.
func (e *Engine) runSamples(ctx context.Context) (bool, api.TestcaseStatus, error) {
	if !e.Plan.RunSamples || e.SampleCount == 0 || e.RunSample == nil {
		return false, "", nil
	}

	failed := false
	var firstStatus api.TestcaseStatus
	for i := 0; i < e.SampleCount; i++ {
		if failed {
			if e.Hooks.OnSampleSkip != nil {
				e.Hooks.OnSampleSkip(i)
			}
			continue
		}
		if e.Hooks.OnSampleStart != nil {
			e.Hooks.OnSampleStart(i)
		}
		res, err := e.RunSample(ctx, i)
		if err != nil {
			return false, "", err
		}
		if e.Hooks.OnSampleFinish != nil {
			e.Hooks.OnSampleFinish(i, res)
		}
		if res.Status != api.TestcaseAccepted {
			failed = true
			firstStatus = res.Status
		}
	}
	return failed, firstStatus, nil
}

func (e *Engine) skipSubtask(idx int, subtask *api.Subtask) *subtaskOutcome {
	for i := range subtask.Testcases {
		if e.Hooks.OnTestcaseSkip != nil {
			e.Hooks.OnTestcaseSkip(idx, i)
		}
	}
	if e.Hooks.OnSubtaskFinish != nil {
		e.Hooks.OnSubtaskFinish(idx, 0)
	}
	return &subtaskOutcome{score: 0, skipped: true, results: make([]*api.TestcaseResult, len(subtask.Testcases))}
}

func (e *Engine) runSubtask(ctx context.Context, idx int, subtask *api.Subtask) (*subtaskOutcome, error) {
	points := make([]*float64, len(subtask.Testcases))
	for i := range subtask.Testcases {
		points[i] = subtask.Testcases[i].Points
	}
	weights, err := DistributeWeights(points)
	if err != nil {
		return nil, err
	}

	outcome := &subtaskOutcome{results: make([]*api.TestcaseResult, len(subtask.Testcases))}

	run := func(i int) (*api.TestcaseResult, error) {
		limits := EffectiveLimits(e.Plan, subtask, &subtask.Testcases[i])
		if e.Hooks.OnTestcaseStart != nil {
			e.Hooks.OnTestcaseStart(idx, i)
		}
		res, err := e.Run(ctx, idx, i, limits)
		if err != nil {
			return nil, err
		}
		if e.Hooks.OnTestcaseFinish != nil {
			e.Hooks.OnTestcaseFinish(idx, i, res)
		}
		return res, nil
	}

	switch subtask.ScoringType {
	case api.ScoringSum:
		// order-independent, bounded by the task-slot scheduler
		var group errgroup.Group
		for i := range subtask.Testcases {
			group.Go(func() error {
				res, err := run(i)
				if err != nil {
					return err
				}
				outcome.results[i] = res
				return nil
			})
		}
		if err := group.Wait(); err != nil {
			return nil, err
		}
		for i, res := range outcome.results {
			outcome.score += res.Score * weights[i] / 100
		}

	case api.ScoringGroupMin, api.ScoringGroupMul:
		outcome.score = 100
		for i := range subtask.Testcases {
			if math.Round(outcome.score) == 0 {
				if e.Hooks.OnTestcaseSkip != nil {
					e.Hooks.OnTestcaseSkip(idx, i)
				}
				continue
			}
			res, err := run(i)
			if err != nil {
				return nil, err
			}
			outcome.results[i] = res
			if subtask.ScoringType == api.ScoringGroupMin {
				outcome.score = math.Min(outcome.score, res.Score)
			} else {
				outcome.score = outcome.score * res.Score / 100
			}
		}

	default:
		return nil, fmt.Errorf("unknown scoring type %q", subtask.ScoringType)
	}

	if e.Hooks.OnSubtaskFinish != nil {
		e.Hooks.OnSubtaskFinish(idx, outcome.score)
	}
	return outcome, nil
}

func (e *Engine) aggregate(
	outcomes []*subtaskOutcome,
	weights []float64,
	samplesFailed bool,
	sampleStatus api.TestcaseStatus,
) (*Result, error) {
	total := 0.0
	for i, outcome := range outcomes {
		total += outcome.score * weights[i] / 100
	}
	score := int(math.Round(total))
	if score > 100 {
		score = 100
	}

	// first non-Accepted by declaration order
	for _, outcome := range outcomes {
		for _, res := range outcome.results {
			if res == nil {
				continue
			}
			if res.Status != api.TestcaseAccepted {
				return &Result{Score: score, Status: api.StatusOfTestcase(res.Status)}, nil
			}
		}
	}

	if samplesFailed && !e.SubmitAnswer {
		return &Result{Score: score, Status: api.StatusOfTestcase(sampleStatus)}, nil
	}

	if score != 100 {
		return nil, fmt.Errorf("every testcase accepted but total score is %d", score)
	}
	return &Result{Score: score, Status: api.StatusAccepted}, nil
}
