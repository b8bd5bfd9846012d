// Package worker runs the consumer threads against the dispatcher: consume
// a task, bind its cancellation, debounce its progress, judge it,
// acknowledge it.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/lyrio-dev/judge/api"
	"github.com/lyrio-dev/judge/internal/dispatch"
	"github.com/lyrio-dev/judge/internal/judge"
	"github.com/lyrio-dev/judge/internal/report"
	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/sync/errgroup"
)

// ErrDispatcherLost tells the caller to exit with the restart code.
var ErrDispatcherLost = dispatch.ErrConnectionLost

const progressDebounce = 100 * time.Millisecond

// Judger decouples the worker loop from the orchestrator for testing.
type Judger interface {
	Judge(ctx context.Context, task *api.SubmissionTask, reporter judge.Reporter) error
}

// Mirror optionally receives a copy of every outgoing snapshot.
type Mirror interface {
	Send(snapshot *api.ProgressSnapshot)
}

type Worker struct {
	client  dispatch.Client
	judger  Judger
	threads int
	mirror  Mirror

	cancels *xsync.MapOf[string, context.CancelFunc]
	logger  *slog.Logger
}

func New(client dispatch.Client, judger Judger, threads int, mirror Mirror) *Worker {
	return &Worker{
		client:  client,
		judger:  judger,
		threads: threads,
		mirror:  mirror,
		cancels: xsync.NewMapOf[string, context.CancelFunc](),
		logger:  slog.With("comp", "worker"),
	}
}

// Run blocks until the context is canceled or the dispatcher is lost. On
// dispatcher loss every in-flight task is canceled first and
// ErrDispatcherLost is returned; the process then restarts for a clean
// slate instead of reconciling partial state.
func (w *Worker) Run(ctx context.Context) error {
	ctx, cancelAll := context.WithCancel(ctx)
	defer cancelAll()

	go w.watchCancellations(ctx)
	go func() {
		select {
		case <-w.client.Closed():
			cancelAll()
		case <-ctx.Done():
		}
	}()

	group, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < w.threads; i++ {
		group.Go(func() error {
			return w.consumeLoop(groupCtx, i)
		})
	}
	err := group.Wait()

	select {
	case <-w.client.Closed():
		return ErrDispatcherLost
	default:
	}
	return err
}

func (w *Worker) watchCancellations(ctx context.Context) {
	for {
		select {
		case taskID := <-w.client.Cancellations():
			if cancel, ok := w.cancels.Load(taskID); ok {
				w.logger.Info("canceling task", "task", taskID)
				cancel()
			}
		case <-ctx.Done():
			return
		}
	}
}

func (w *Worker) consumeLoop(ctx context.Context, thread int) error {
	logger := w.logger.With("thread", thread)
	for {
		envelope, err := w.client.Consume(ctx, thread)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		w.handle(ctx, envelope, logger)
	}
}

func (w *Worker) handle(ctx context.Context, envelope *dispatch.TaskEnvelope, logger *slog.Logger) {
	task := envelope.Task
	logger.Info("judging task", "task", task.TaskID, "type", task.Type)

	taskCtx, cancel := context.WithCancel(ctx)
	w.cancels.Store(task.TaskID, cancel)
	defer func() {
		w.cancels.Delete(task.TaskID)
		cancel()
	}()

	debouncer := report.NewDebouncer(func(snapshot *api.ProgressSnapshot) {
		if err := w.client.Progress(ctx, snapshot); err != nil {
			logger.Warn("failed to report progress", "task", task.TaskID, "err", err)
		}
		if w.mirror != nil {
			w.mirror.Send(snapshot)
		}
	}, progressDebounce)

	err := w.judger.Judge(taskCtx, task, debouncer)
	if errors.Is(err, context.Canceled) {
		// no progress after cancellation takes effect
		debouncer.Stop()
		logger.Info("task canceled", "task", task.TaskID)
	} else if err != nil {
		logger.Error("judging failed", "task", task.TaskID, "err", err)
	}

	if err := envelope.Ack(); err != nil {
		// the dispatcher redelivers unacknowledged tasks
		logger.Warn("failed to acknowledge task", "task", task.TaskID, "err", err)
	}
}
