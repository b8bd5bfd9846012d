// Package dispatch is the worker's side of the dispatcher channel: announce
// readiness, receive tasks with one-shot acks, stream progress, resolve file
// download URLs and receive cancellations.
package dispatch

import (
	"context"
	"errors"

	"github.com/lyrio-dev/judge/api"
)

// ErrAuthFailed means the dispatcher rejected the worker's key.
var ErrAuthFailed = errors.New("dispatcher rejected the authorization key")

// ErrConnectionLost means the channel is gone; the worker restarts.
var ErrConnectionLost = errors.New("dispatcher connection lost")

// Authorized carries the dispatcher's response to a successful
// authorization.
type Authorized struct {
	Name   string           `json:"name"`
	Limits api.ServerLimits `json:"limits"`
}

// TaskEnvelope is one delivered task plus its acknowledgment callback. The
// ack is one-shot; duplicate or late acks are discarded server-side.
type TaskEnvelope struct {
	Task *api.SubmissionTask
	Ack  func() error
}

// Client is the dispatcher channel. Implementations are message-oriented
// and safe for concurrent use by the consumer threads.
type Client interface {
	// Authorize identifies the worker and fetches the server-side limits.
	Authorize(ctx context.Context) (*Authorized, error)

	// Consume announces readiness for the given consumer thread and blocks
	// until a task is assigned to it.
	Consume(ctx context.Context, thread int) (*TaskEnvelope, error)

	// Progress delivers a snapshot for the task named inside it.
	Progress(ctx context.Context, snapshot *api.ProgressSnapshot) error

	// RequestFiles resolves content ids to download URLs, index-aligned.
	RequestFiles(ctx context.Context, contentIDs []string) ([]string, error)

	// SystemInfo reports the worker's hardware summary.
	SystemInfo(ctx context.Context, info string) error

	// Cancellations streams task ids the dispatcher wants aborted.
	Cancellations() <-chan string

	// Closed is closed when the connection is lost for good.
	Closed() <-chan struct{}

	Close()
}
