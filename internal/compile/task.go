package compile

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
)

// Task identifies one equivalence class of compiles. Two tasks with the same
// hash share a cached binary.
type Task struct {
	Language string            `json:"language"`
	Code     string            `json:"code"`
	Options  map[string]string `json:"options,omitempty"`

	// Destination filename -> content id. The content id is the SHA-256 of
	// the referenced file, so folding it into the hash covers the content.
	ExtraFiles map[string]string `json:"extra_files,omitempty"`
}

// Hash is the content hash keying the compile cache.
func (t *Task) Hash() string {
	// json.Marshal sorts map keys, so the encoding is canonical.
	data, err := json.Marshal(t)
	if err != nil {
		panic(fmt.Sprintf("compile task not serializable: %v", err))
	}
	return fmt.Sprintf("%x", sha256.Sum256(data))
}

// Failure is a compile that ran but did not produce a usable binary. The
// message is user-visible.
type Failure struct {
	Message string
}

func (f *Failure) Error() string {
	return "compilation failed"
}
