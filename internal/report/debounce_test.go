package report_test

import (
	"sync"
	"testing"
	"time"

	"github.com/lyrio-dev/judge/api"
	"github.com/lyrio-dev/judge/internal/report"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capture struct {
	mu    sync.Mutex
	snaps []*api.ProgressSnapshot
}

func (c *capture) sink(s *api.ProgressSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snaps = append(c.snaps, s)
}

func (c *capture) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.snaps)
}

func TestDebouncerCoalesces(t *testing.T) {
	c := &capture{}
	d := report.NewDebouncer(c.sink, 30*time.Millisecond)

	for i := 0; i < 10; i++ {
		d.Report(&api.ProgressSnapshot{Type: api.ProgressRunning, Score: i})
	}

	require.Eventually(t, func() bool { return c.count() == 1 }, time.Second, 5*time.Millisecond)
	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Equal(t, 9, c.snaps[0].Score, "only the newest snapshot survives")
}

func TestDebouncerFinishedFlushesImmediately(t *testing.T) {
	c := &capture{}
	d := report.NewDebouncer(c.sink, time.Hour)

	d.Report(&api.ProgressSnapshot{Type: api.ProgressRunning})
	d.Report(&api.ProgressSnapshot{Type: api.ProgressFinished, Status: api.StatusAccepted})

	assert.Equal(t, 1, c.count())
	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Equal(t, api.ProgressFinished, c.snaps[0].Type)
}

func TestDebouncerStopSuppresses(t *testing.T) {
	c := &capture{}
	d := report.NewDebouncer(c.sink, 10*time.Millisecond)

	d.Report(&api.ProgressSnapshot{Type: api.ProgressRunning})
	d.Stop()
	d.Report(&api.ProgressSnapshot{Type: api.ProgressFinished})

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, c.count())
}
