package judge

import (
	"sync"

	"github.com/lyrio-dev/judge/api"
)

// Reporter receives progress snapshots. The worker wraps it in a debouncer;
// the orchestrator just calls Report on every transition.
type Reporter interface {
	Report(snapshot *api.ProgressSnapshot)
}

// progressState is the mutable progress matrix of one submission. Hooks fire
// from concurrent testcase goroutines, so every mutation locks.
type progressState struct {
	mu sync.Mutex

	taskID  string
	compile *api.CompileInfo

	samples  []api.TestcaseRef
	subtasks []api.SubtaskProgress
	results  map[string]*api.TestcaseResult

	reporter Reporter
}

func newProgressState(task *api.SubmissionTask, reporter Reporter) *progressState {
	p := &progressState{
		taskID:   task.TaskID,
		results:  make(map[string]*api.TestcaseResult),
		reporter: reporter,
	}

	if task.Plan.RunSamples && len(task.Samples) > 0 && !task.Content.SkipSamples {
		p.samples = make([]api.TestcaseRef, len(task.Samples))
		for i := range p.samples {
			p.samples[i] = api.TestcaseRef{State: api.RefWaiting}
		}
	}

	p.subtasks = make([]api.SubtaskProgress, len(task.Plan.Subtasks))
	for i, subtask := range task.Plan.Subtasks {
		p.subtasks[i] = api.SubtaskProgress{
			Testcases: make([]api.TestcaseRef, len(subtask.Testcases)),
		}
		for j := range p.subtasks[i].Testcases {
			p.subtasks[i].Testcases[j] = api.TestcaseRef{State: api.RefWaiting}
		}
	}
	return p
}

func (p *progressState) setSubtaskFullScores(weights []float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.subtasks {
		p.subtasks[i].FullScore = weights[i]
	}
}

func (p *progressState) reportPhase(phase api.ProgressType) {
	p.mu.Lock()
	snapshot := p.snapshotLocked(phase)
	p.mu.Unlock()
	p.reporter.Report(snapshot)
}

func (p *progressState) testcaseRunning(subtask, index int) {
	p.update(func() {
		p.subtasks[subtask].Testcases[index] = api.TestcaseRef{State: api.RefRunning}
	})
}

func (p *progressState) testcaseFinished(subtask, index int, hash string, res *api.TestcaseResult) {
	p.update(func() {
		p.results[hash] = res
		p.subtasks[subtask].Testcases[index] = api.TestcaseRef{State: api.RefDone, TestcaseHash: hash}
	})
}

func (p *progressState) testcaseSkipped(subtask, index int) {
	p.update(func() {
		p.subtasks[subtask].Testcases[index] = api.TestcaseRef{}
	})
}

func (p *progressState) subtaskFinished(subtask int, score float64) {
	p.update(func() {
		s := score
		p.subtasks[subtask].Score = &s
	})
}

func (p *progressState) sampleRunning(index int) {
	p.update(func() {
		p.samples[index] = api.TestcaseRef{State: api.RefRunning}
	})
}

func (p *progressState) sampleFinished(index int, hash string, res *api.TestcaseResult) {
	p.update(func() {
		p.results[hash] = res
		p.samples[index] = api.TestcaseRef{State: api.RefDone, TestcaseHash: hash}
	})
}

func (p *progressState) sampleSkipped(index int) {
	p.update(func() {
		p.samples[index] = api.TestcaseRef{}
	})
}

func (p *progressState) setCompile(info *api.CompileInfo) {
	p.mu.Lock()
	p.compile = info
	p.mu.Unlock()
}

// update applies a mutation and reports a Running snapshot.
func (p *progressState) update(fn func()) {
	p.mu.Lock()
	fn()
	snapshot := p.snapshotLocked(api.ProgressRunning)
	p.mu.Unlock()
	p.reporter.Report(snapshot)
}

func (p *progressState) finish(status api.SubmissionStatus, score int, sysMsg api.OmittableString) {
	p.mu.Lock()
	snapshot := p.snapshotLocked(api.ProgressFinished)
	snapshot.Status = status
	snapshot.Score = score
	snapshot.SystemMessage = sysMsg
	p.mu.Unlock()
	p.reporter.Report(snapshot)
}

// snapshotLocked deep-copies the matrix so the debounced reporter can
// serialize it without racing the walk.
func (p *progressState) snapshotLocked(phase api.ProgressType) *api.ProgressSnapshot {
	snapshot := &api.ProgressSnapshot{
		TaskID:  p.taskID,
		Type:    phase,
		Compile: p.compile,
	}
	if len(p.samples) > 0 {
		snapshot.Samples = append([]api.TestcaseRef(nil), p.samples...)
	}
	snapshot.Subtasks = make([]api.SubtaskProgress, len(p.subtasks))
	for i, subtask := range p.subtasks {
		copied := api.SubtaskProgress{
			FullScore: subtask.FullScore,
			Testcases: append([]api.TestcaseRef(nil), subtask.Testcases...),
		}
		if subtask.Score != nil {
			s := *subtask.Score
			copied.Score = &s
		}
		snapshot.Subtasks[i] = copied
	}
	if len(p.results) > 0 {
		snapshot.TestcaseResults = make(map[string]*api.TestcaseResult, len(p.results))
		for k, v := range p.results {
			snapshot.TestcaseResults[k] = v
		}
	}
	return snapshot
}
