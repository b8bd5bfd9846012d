package api

// ProgressType is the submission orchestration phase a snapshot belongs to.
type ProgressType string

const (
	ProgressPreparing ProgressType = "Preparing"
	ProgressCompiling ProgressType = "Compiling"
	ProgressRunning   ProgressType = "Running"
	ProgressFinished  ProgressType = "Finished"
)

// TestcaseRefState tags what a progress matrix cell currently points at.
type TestcaseRefState string

const (
	RefWaiting TestcaseRefState = "waiting"
	RefRunning TestcaseRefState = "running"
	RefDone    TestcaseRefState = "done"
	// A skipped cell is the zero TestcaseRef.
	RefSkipped TestcaseRefState = ""
)

// TestcaseRef is one cell of the {subtasks x testcases} progress matrix.
// Done cells reference a shared result by testcase hash so the dispatcher can
// dedupe identical executions. The zero value means Skipped.
type TestcaseRef struct {
	State        TestcaseRefState `json:"state,omitempty"`
	TestcaseHash string           `json:"testcase_hash,omitempty"`
}

func (r TestcaseRef) Skipped() bool { return r.State == RefSkipped }

type CompileInfo struct {
	Success bool            `json:"success"`
	Message OmittableString `json:"message"`
}

type SubtaskProgress struct {
	// Nil until the subtask finishes.
	Score     *float64      `json:"score,omitempty"`
	FullScore float64       `json:"full_score"`
	Testcases []TestcaseRef `json:"testcases"`
}

// ProgressSnapshot is the dispatcher-facing view of a submission in flight.
// Status and Score are only meaningful when Type is Finished.
type ProgressSnapshot struct {
	TaskID string       `json:"task_id"`
	Type   ProgressType `json:"type"`

	Status SubmissionStatus `json:"status,omitempty"`
	Score  int              `json:"score,omitempty"`

	Compile *CompileInfo `json:"compile,omitempty"`

	// testcase hash -> result, shared by matrix cells.
	TestcaseResults map[string]*TestcaseResult `json:"testcase_results,omitempty"`

	Samples  []TestcaseRef     `json:"samples,omitempty"`
	Subtasks []SubtaskProgress `json:"subtasks,omitempty"`

	SystemMessage OmittableString `json:"system_message,omitempty"`
}

// ServerLimits are the dispatcher-announced byte caps applied to every large
// user-visible string before it leaves the worker, plus the rectangle the
// stdin/stdout/stderr previews are trimmed to.
type ServerLimits struct {
	CompilerMessage            int64 `json:"compiler_message"`
	OutputSize                 int64 `json:"output_size"`
	DataDisplay                int64 `json:"data_display"`
	DataDisplayForSubmitAnswer int64 `json:"data_display_for_submit_answer"`
	StderrDisplay              int64 `json:"stderr_display"`

	// Lines and columns of a preview; 0 disables the rectangle trim.
	PreviewHeight int `json:"preview_height,omitempty"`
	PreviewWidth  int `json:"preview_width,omitempty"`
}

// DefaultServerLimits keep previews sane when the dispatcher leaves a cap
// unset.
func DefaultServerLimits() ServerLimits {
	return ServerLimits{
		CompilerMessage:            5 * 1024,
		OutputSize:                 104857600,
		DataDisplay:                128,
		DataDisplayForSubmitAnswer: 128,
		StderrDisplay:              5 * 1024,
		PreviewHeight:              40,
		PreviewWidth:               80,
	}
}
