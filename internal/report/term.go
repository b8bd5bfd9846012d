package report

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/lyrio-dev/judge/api"
)

// Terminal renders progress for local runs.
type Terminal struct {
	startedAt time.Time
}

func NewTerminal() *Terminal {
	return &Terminal{startedAt: time.Now()}
}

var (
	headerColor   = color.New(color.FgCyan, color.Bold)
	acceptedColor = color.New(color.FgGreen, color.Bold)
	rejectedColor = color.New(color.FgRed, color.Bold)
	dimColor      = color.New(color.Faint)
)

// Report implements judge.Reporter.
func (t *Terminal) Report(snapshot *api.ProgressSnapshot) {
	switch snapshot.Type {
	case api.ProgressPreparing:
		headerColor.Println("== Preparing ==")
	case api.ProgressCompiling:
		headerColor.Println("== Compiling ==")
	case api.ProgressRunning:
		t.printMatrix(snapshot)
	case api.ProgressFinished:
		t.printFinished(snapshot)
	}
}

func (t *Terminal) printMatrix(snapshot *api.ProgressSnapshot) {
	for i, subtask := range snapshot.Subtasks {
		fmt.Printf("subtask %d [%.0f pts]:", i, subtask.FullScore)
		for _, ref := range subtask.Testcases {
			fmt.Printf(" %s", cellGlyph(snapshot, ref))
		}
		if subtask.Score != nil {
			fmt.Printf("  -> %.1f", *subtask.Score)
		}
		fmt.Println()
	}
}

func cellGlyph(snapshot *api.ProgressSnapshot, ref api.TestcaseRef) string {
	switch ref.State {
	case api.RefWaiting:
		return dimColor.Sprint(".")
	case api.RefRunning:
		return "*"
	case api.RefDone:
		res := snapshot.TestcaseResults[ref.TestcaseHash]
		if res != nil && res.Status == api.TestcaseAccepted {
			return acceptedColor.Sprint("A")
		}
		return rejectedColor.Sprint("X")
	}
	return dimColor.Sprint("-")
}

func (t *Terminal) printFinished(snapshot *api.ProgressSnapshot) {
	dur := time.Since(t.startedAt).Round(time.Millisecond)
	if snapshot.Compile != nil && !snapshot.Compile.Message.IsEmpty() {
		dimColor.Println(snapshot.Compile.Message.Data)
	}
	line := fmt.Sprintf("== %s, score %d, in %s ==", snapshot.Status, snapshot.Score, dur)
	if snapshot.Status == api.StatusAccepted {
		acceptedColor.Println(line)
	} else {
		rejectedColor.Println(line)
	}
	if !snapshot.SystemMessage.IsEmpty() {
		dimColor.Println(snapshot.SystemMessage.Data)
	}
}
