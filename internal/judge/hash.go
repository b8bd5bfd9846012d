package judge

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"

	"github.com/lyrio-dev/judge/api"
	"github.com/lyrio-dev/judge/internal/scoring"
)

// testcaseHashInput is everything that makes two testcase executions
// equivalent: effective limits, the content hashes of the files involved and
// the stable metadata of the grading side. Filenames are deliberately left
// out.
type testcaseHashInput struct {
	TimeLimit   int64 `json:"time_limit"`
	MemoryLimit int64 `json:"memory_limit"`

	InputHash  string `json:"input_hash,omitempty"`
	OutputHash string `json:"output_hash,omitempty"`

	Checker    *checkerMeta    `json:"checker,omitempty"`
	Interactor *interactorMeta `json:"interactor,omitempty"`
}

type checkerMeta struct {
	Type          api.CheckerType      `json:"type"`
	Precision     int                  `json:"precision,omitempty"`
	CaseSensitive bool                 `json:"case_sensitive,omitempty"`
	Interface     api.CheckerInterface `json:"interface,omitempty"`
	Language      string               `json:"language,omitempty"`
	// Compile-task hash of the custom checker binary.
	CompileHash string `json:"compile_hash,omitempty"`
}

type interactorMeta struct {
	Interface        api.InteractorInterface `json:"interface"`
	SharedMemorySize int64                   `json:"shared_memory_size,omitempty"`
	Language         string                  `json:"language"`
	CompileHash      string                  `json:"compile_hash"`
}

func hashString(s string) string {
	return fmt.Sprintf("%x", sha256.Sum256([]byte(s)))
}

// testcaseHash keys a testcase result in the shared result map of the
// progress snapshot, independent of the surrounding submission.
func testcaseHash(
	task *api.SubmissionTask,
	testcase *api.Testcase,
	limits scoring.Limits,
	sample *api.SampleData,
	checkerCompileHash string,
	interactorCompileHash string,
) string {
	input := testcaseHashInput{
		TimeLimit:   limits.TimeLimit,
		MemoryLimit: limits.MemoryLimit,
	}

	if sample != nil {
		input.InputHash = hashString(sample.Input)
		input.OutputHash = hashString(sample.Output)
	} else {
		// the manifest's content ids are the files' SHA-256
		if testcase.InputFile != "" {
			input.InputHash = task.Testdata[testcase.InputFile]
		}
		if testcase.OutputFile != "" {
			input.OutputHash = task.Testdata[testcase.OutputFile]
		}
	}

	if checker := task.Plan.Checker; checker != nil {
		input.Checker = &checkerMeta{
			Type:          checker.Type,
			Precision:     checker.Precision,
			CaseSensitive: checker.CaseSensitive,
			Interface:     checker.Interface,
			Language:      checker.Language,
			CompileHash:   checkerCompileHash,
		}
	}
	if interactor := task.Plan.Interactor; interactor != nil {
		input.Interactor = &interactorMeta{
			Interface:        interactor.Interface,
			SharedMemorySize: interactor.SharedMemorySize,
			Language:         interactor.Language,
			CompileHash:      interactorCompileHash,
		}
	}

	data, err := json.Marshal(input)
	if err != nil {
		panic(fmt.Sprintf("testcase hash input not serializable: %v", err))
	}
	return fmt.Sprintf("%x", sha256.Sum256(data))
}
