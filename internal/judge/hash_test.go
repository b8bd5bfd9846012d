package judge

import (
	"testing"

	"github.com/lyrio-dev/judge/api"
	"github.com/lyrio-dev/judge/internal/scoring"
	"github.com/stretchr/testify/assert"
)

func hashTask(taskID string, checker *api.CheckerConfig) *api.SubmissionTask {
	return &api.SubmissionTask{
		TaskID: taskID,
		Type:   api.ProblemTypeBatch,
		Plan:   api.JudgingPlan{Checker: checker},
		Testdata: map[string]string{
			"t1.in":  "aaaa",
			"t1.ans": "bbbb",
		},
	}
}

func TestTestcaseHashIndependentOfSubmission(t *testing.T) {
	checker := &api.CheckerConfig{Type: api.CheckerLines, CaseSensitive: true}
	testcase := &api.Testcase{InputFile: "t1.in", OutputFile: "t1.ans"}
	limits := scoring.Limits{TimeLimit: 1000, MemoryLimit: 256}

	h1 := testcaseHash(hashTask("submission-1", checker), testcase, limits, nil, "", "")
	h2 := testcaseHash(hashTask("submission-2", checker), testcase, limits, nil, "", "")
	assert.Equal(t, h1, h2, "equal executions hash equally across submissions")
}

func TestTestcaseHashSensitivity(t *testing.T) {
	checker := &api.CheckerConfig{Type: api.CheckerLines, CaseSensitive: true}
	testcase := &api.Testcase{InputFile: "t1.in", OutputFile: "t1.ans"}
	limits := scoring.Limits{TimeLimit: 1000, MemoryLimit: 256}

	base := testcaseHash(hashTask("s", checker), testcase, limits, nil, "", "")

	differentLimits := testcaseHash(hashTask("s", checker), testcase,
		scoring.Limits{TimeLimit: 2000, MemoryLimit: 256}, nil, "", "")
	assert.NotEqual(t, base, differentLimits)

	otherChecker := testcaseHash(
		hashTask("s", &api.CheckerConfig{Type: api.CheckerIntegers}),
		testcase, limits, nil, "", "")
	assert.NotEqual(t, base, otherChecker)

	differentData := hashTask("s", checker)
	differentData.Testdata["t1.in"] = "cccc"
	assert.NotEqual(t, base, testcaseHash(differentData, testcase, limits, nil, "", ""))
}

func TestTestcaseHashSample(t *testing.T) {
	checker := &api.CheckerConfig{Type: api.CheckerLines}
	limits := scoring.Limits{TimeLimit: 1000, MemoryLimit: 256}
	sample := &api.SampleData{Input: "1 2\n", Output: "3\n"}

	h1 := testcaseHash(hashTask("a", checker), &api.Testcase{}, limits, sample, "", "")
	h2 := testcaseHash(hashTask("b", checker), &api.Testcase{}, limits, sample, "", "")
	assert.Equal(t, h1, h2)
}
