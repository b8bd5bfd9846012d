package api

// ProblemType selects the per-testcase execution strategy.
type ProblemType string

const (
	ProblemTypeBatch        ProblemType = "batch"
	ProblemTypeInteractive  ProblemType = "interactive"
	ProblemTypeSubmitAnswer ProblemType = "submit-answer"
)

// SubmissionTask is one judging job received from the dispatcher.
type SubmissionTask struct {
	TaskID string      `json:"task_id"`
	Type   ProblemType `json:"type"`

	Plan JudgingPlan `json:"plan"`

	// In-statement samples, judged before the subtasks when the plan asks for it.
	Samples []SampleData `json:"samples,omitempty"`

	// Logical filename -> content id (the SHA-256 of the file).
	Testdata map[string]string `json:"testdata"`

	Content SubmissionContent `json:"content"`
}

type SampleData struct {
	Input  string `json:"input"`
	Output string `json:"output"`
}

type SubmissionContent struct {
	Language string `json:"language"`
	Code     string `json:"code"`

	CompileAndRunOptions map[string]string `json:"compile_and_run_options,omitempty"`

	// Content id of the submitted archive, submit-answer only.
	SubmittedFileID *string `json:"submitted_file_id,omitempty"`

	SkipSamples bool `json:"skip_samples,omitempty"`
}

// ScoringType selects how testcase scores aggregate into a subtask score.
type ScoringType string

const (
	ScoringSum      ScoringType = "Sum"
	ScoringGroupMin ScoringType = "GroupMin"
	ScoringGroupMul ScoringType = "GroupMul"
)

// JudgingPlan is the problem's judging configuration, shared by all problem
// types. Time limits are milliseconds, memory limits are MiB.
type JudgingPlan struct {
	TimeLimit   int64 `json:"time_limit"`
	MemoryLimit int64 `json:"memory_limit"`

	RunSamples bool `json:"run_samples,omitempty"`

	Subtasks []Subtask `json:"subtasks"`

	// Batch and submit-answer.
	Checker *CheckerConfig `json:"checker,omitempty"`
	// Interactive.
	Interactor *InteractorConfig `json:"interactor,omitempty"`
	// Batch: the user program reads and writes named files instead of stdio.
	FileIO *FileIOConfig `json:"file_io,omitempty"`

	// language -> destination filename -> content id
	ExtraSourceFiles map[string]map[string]string `json:"extra_source_files,omitempty"`
}

type FileIOConfig struct {
	InputFilename  string `json:"input_filename"`
	OutputFilename string `json:"output_filename"`
}

type Subtask struct {
	TimeLimit   int64 `json:"time_limit,omitempty"`
	MemoryLimit int64 `json:"memory_limit,omitempty"`

	ScoringType ScoringType `json:"scoring_type"`

	// Weight out of 100. Unset weights share the residual equally.
	Points *float64 `json:"points,omitempty"`

	// Indices of prerequisite subtasks.
	Dependencies []int `json:"dependencies,omitempty"`

	Testcases []Testcase `json:"testcases"`
}

type Testcase struct {
	InputFile  string `json:"input_file,omitempty"`
	OutputFile string `json:"output_file,omitempty"`

	// Submit-answer: the wanted entry inside the user's archive. Defaults to
	// OutputFile when empty.
	UserOutputFilename string `json:"user_output_filename,omitempty"`

	TimeLimit   int64 `json:"time_limit,omitempty"`
	MemoryLimit int64 `json:"memory_limit,omitempty"`

	Points *float64 `json:"points,omitempty"`
}

// CheckerType names a built-in comparison mode or the custom flavor.
type CheckerType string

const (
	CheckerIntegers CheckerType = "integers"
	CheckerFloats   CheckerType = "floats"
	CheckerLines    CheckerType = "lines"
	CheckerBinary   CheckerType = "binary"
	CheckerCustom   CheckerType = "custom"
)

// CheckerInterface is the calling convention of a custom checker.
type CheckerInterface string

const (
	CheckerInterfaceTestlib  CheckerInterface = "testlib"
	CheckerInterfaceLegacy   CheckerInterface = "legacy"
	CheckerInterfaceLemon    CheckerInterface = "lemon"
	CheckerInterfaceHustoj   CheckerInterface = "hustoj"
	CheckerInterfaceQduoj    CheckerInterface = "qduoj"
	CheckerInterfaceDomjudge CheckerInterface = "domjudge"
)

type CheckerConfig struct {
	Type CheckerType `json:"type"`

	// floats
	Precision int `json:"precision,omitempty"`
	// lines
	CaseSensitive bool `json:"case_sensitive,omitempty"`

	// custom
	Interface            CheckerInterface  `json:"interface,omitempty"`
	Language             string            `json:"language,omitempty"`
	Filename             string            `json:"filename,omitempty"`
	CompileAndRunOptions map[string]string `json:"compile_and_run_options,omitempty"`
	TimeLimit            int64             `json:"time_limit,omitempty"`
	MemoryLimit          int64             `json:"memory_limit,omitempty"`
}

// InteractorInterface is how the interactor and the user program converse.
type InteractorInterface string

const (
	InteractorStdio InteractorInterface = "stdio"
	InteractorShm   InteractorInterface = "shm"
)

type InteractorConfig struct {
	Interface InteractorInterface `json:"interface"`

	// MiB, shm interface only.
	SharedMemorySize int64 `json:"shared_memory_size,omitempty"`

	Language             string            `json:"language"`
	Filename             string            `json:"filename"`
	CompileAndRunOptions map[string]string `json:"compile_and_run_options,omitempty"`
	TimeLimit            int64             `json:"time_limit,omitempty"`
	MemoryLimit          int64             `json:"memory_limit,omitempty"`
}
