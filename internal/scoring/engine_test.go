package scoring_test

import (
	"context"
	"testing"

	"github.com/lyrio-dev/judge/api"
	"github.com/lyrio-dev/judge/internal/scoring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func accepted() *api.TestcaseResult {
	return &api.TestcaseResult{Status: api.TestcaseAccepted, Score: 100}
}

func wrong() *api.TestcaseResult {
	return &api.TestcaseResult{Status: api.TestcaseWrongAnswer, Score: 0}
}

func tle() *api.TestcaseResult {
	return &api.TestcaseResult{Status: api.TestcaseTimeLimitExceeded, Score: 0}
}

func TestEvaluateAllAccepted(t *testing.T) {
	plan := &api.JudgingPlan{
		TimeLimit:   1000,
		MemoryLimit: 256,
		Subtasks: []api.Subtask{
			{ScoringType: api.ScoringSum, Testcases: []api.Testcase{{}, {}}},
		},
	}
	engine := &scoring.Engine{
		Plan: plan,
		Run: func(ctx context.Context, subtask, index int, limits scoring.Limits) (*api.TestcaseResult, error) {
			assert.Equal(t, int64(1000), limits.TimeLimit)
			return accepted(), nil
		},
	}
	res, err := engine.Evaluate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 100, res.Score)
	assert.Equal(t, api.StatusAccepted, res.Status)
}

func TestEvaluateGroupMinShortCircuits(t *testing.T) {
	plan := &api.JudgingPlan{
		TimeLimit:   1000,
		MemoryLimit: 256,
		Subtasks: []api.Subtask{
			{ScoringType: api.ScoringGroupMin, Testcases: []api.Testcase{{}, {}}},
		},
	}
	ran := 0
	skipped := 0
	engine := &scoring.Engine{
		Plan: plan,
		Run: func(ctx context.Context, subtask, index int, limits scoring.Limits) (*api.TestcaseResult, error) {
			ran++
			return tle(), nil
		},
		Hooks: scoring.Hooks{
			OnTestcaseSkip: func(subtask, index int) { skipped++ },
		},
	}
	res, err := engine.Evaluate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, ran)
	assert.Equal(t, 1, skipped)
	assert.Equal(t, 0, res.Score)
	assert.Equal(t, api.StatusTimeLimitExceeded, res.Status)
}

func TestEvaluateGroupMulMultiplies(t *testing.T) {
	plan := &api.JudgingPlan{
		TimeLimit:   1000,
		MemoryLimit: 256,
		Subtasks: []api.Subtask{
			{ScoringType: api.ScoringGroupMul, Testcases: []api.Testcase{{}, {}}},
		},
	}
	engine := &scoring.Engine{
		Plan: plan,
		Run: func(ctx context.Context, subtask, index int, limits scoring.Limits) (*api.TestcaseResult, error) {
			return &api.TestcaseResult{Status: api.TestcasePartiallyCorrect, Score: 50}, nil
		},
	}
	res, err := engine.Evaluate(context.Background())
	require.NoError(t, err)
	// 100 * 0.5 * 0.5 = 25
	assert.Equal(t, 25, res.Score)
	assert.Equal(t, api.StatusPartiallyCorrect, res.Status)
}

func TestEvaluateDependencySkip(t *testing.T) {
	plan := &api.JudgingPlan{
		TimeLimit:   1000,
		MemoryLimit: 256,
		Subtasks: []api.Subtask{
			{ScoringType: api.ScoringSum, Testcases: []api.Testcase{{}}},
			{ScoringType: api.ScoringSum, Testcases: []api.Testcase{{}}, Dependencies: []int{0}},
		},
	}
	skippedCells := 0
	engine := &scoring.Engine{
		Plan: plan,
		Run: func(ctx context.Context, subtask, index int, limits scoring.Limits) (*api.TestcaseResult, error) {
			require.Equal(t, 0, subtask, "dependent subtask must not run")
			return wrong(), nil
		},
		Hooks: scoring.Hooks{
			OnTestcaseSkip: func(subtask, index int) {
				assert.Equal(t, 1, subtask)
				skippedCells++
			},
		},
	}
	res, err := engine.Evaluate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, skippedCells)
	assert.Equal(t, 0, res.Score)
	assert.Equal(t, api.StatusWrongAnswer, res.Status)
}

func TestEvaluateSampleGate(t *testing.T) {
	plan := &api.JudgingPlan{
		TimeLimit:   1000,
		MemoryLimit: 256,
		RunSamples:  true,
		Subtasks: []api.Subtask{
			{ScoringType: api.ScoringSum, Testcases: []api.Testcase{{}}},
		},
	}
	engine := &scoring.Engine{
		Plan:        plan,
		SampleCount: 2,
		RunSample: func(ctx context.Context, index int) (*api.TestcaseResult, error) {
			if index == 0 {
				return wrong(), nil
			}
			t.Fatal("second sample must be skipped after a failure")
			return nil, nil
		},
		Run: func(ctx context.Context, subtask, index int, limits scoring.Limits) (*api.TestcaseResult, error) {
			t.Fatal("subtasks must be skipped after a sample failure")
			return nil, nil
		},
	}
	res, err := engine.Evaluate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Score)
	assert.Equal(t, api.StatusWrongAnswer, res.Status)
}

func TestEvaluateWeightedPartial(t *testing.T) {
	plan := &api.JudgingPlan{
		TimeLimit:   1000,
		MemoryLimit: 256,
		Subtasks: []api.Subtask{
			{ScoringType: api.ScoringSum, Points: ptr(60), Testcases: []api.Testcase{{}}},
			{ScoringType: api.ScoringSum, Points: ptr(40), Testcases: []api.Testcase{{}}},
		},
	}
	engine := &scoring.Engine{
		Plan: plan,
		Run: func(ctx context.Context, subtask, index int, limits scoring.Limits) (*api.TestcaseResult, error) {
			if subtask == 0 {
				return accepted(), nil
			}
			return wrong(), nil
		},
	}
	res, err := engine.Evaluate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 60, res.Score)
	assert.Equal(t, api.StatusWrongAnswer, res.Status)
}

func TestEffectiveLimits(t *testing.T) {
	plan := &api.JudgingPlan{TimeLimit: 1000, MemoryLimit: 256}
	subtask := &api.Subtask{TimeLimit: 2000}
	testcase := &api.Testcase{MemoryLimit: 512}

	limits := scoring.EffectiveLimits(plan, subtask, testcase)
	assert.Equal(t, int64(2000), limits.TimeLimit)
	assert.Equal(t, int64(512), limits.MemoryLimit)
}
