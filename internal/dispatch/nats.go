package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lyrio-dev/judge/api"
	"github.com/nats-io/nats.go"
)

// Subject layout of the dispatcher channel.
const (
	subjectAuthorize = "judge.authorize"
	subjectReady     = "judge.ready"
	subjectProgress  = "judge.progress"
	subjectFiles     = "judge.files"
	subjectSysInfo   = "judge.sysinfo"
)

type natsClient struct {
	nc         *nats.Conn
	name       string
	rpcTimeout time.Duration

	mu       sync.Mutex
	taskSubs map[int]*nats.Subscription

	cancels chan string
	closed  chan struct{}

	logger *slog.Logger
}

// NewNATSClient connects to the dispatcher endpoint, authenticating with the
// configured key.
func NewNATSClient(serverURL string, key string, rpcTimeout time.Duration) (Client, error) {
	closed := make(chan struct{})
	nc, err := nats.Connect(serverURL,
		nats.Token(key),
		nats.MaxReconnects(2),
		nats.ClosedHandler(func(*nats.Conn) {
			close(closed)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to dispatcher: %w", err)
	}
	return &natsClient{
		nc:         nc,
		rpcTimeout: rpcTimeout,
		taskSubs:   make(map[int]*nats.Subscription),
		cancels:    make(chan string, 16),
		closed:     closed,
		logger:     slog.With("comp", "dispatch"),
	}, nil
}

type authorizeRequest struct {
	Version string `json:"version"`
}

type authorizeResponse struct {
	OK     bool             `json:"ok"`
	Name   string           `json:"name"`
	Limits api.ServerLimits `json:"limits"`
}

func (c *natsClient) Authorize(ctx context.Context) (*Authorized, error) {
	ctx, cancel := context.WithTimeout(ctx, c.rpcTimeout)
	defer cancel()

	payload, _ := json.Marshal(authorizeRequest{Version: "1"})
	msg, err := c.nc.RequestWithContext(ctx, subjectAuthorize, payload)
	if err != nil {
		return nil, fmt.Errorf("authorization request failed: %w", err)
	}
	var resp authorizeResponse
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		return nil, fmt.Errorf("malformed authorization response: %w", err)
	}
	if !resp.OK {
		return nil, ErrAuthFailed
	}
	c.name = resp.Name

	if _, err := c.nc.Subscribe(fmt.Sprintf("judge.cancel.%s", c.name), func(msg *nats.Msg) {
		select {
		case c.cancels <- string(msg.Data):
		default:
			c.logger.Warn("cancellation channel full, dropping", "task", string(msg.Data))
		}
	}); err != nil {
		return nil, fmt.Errorf("failed to subscribe to cancellations: %w", err)
	}

	return &Authorized{Name: resp.Name, Limits: resp.Limits}, nil
}

func (c *natsClient) taskSubscription(thread int) (*nats.Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sub, ok := c.taskSubs[thread]; ok {
		return sub, nil
	}
	sub, err := c.nc.SubscribeSync(fmt.Sprintf("judge.task.%s.%d", c.name, thread))
	if err != nil {
		return nil, err
	}
	c.taskSubs[thread] = sub
	return sub, nil
}

func (c *natsClient) Consume(ctx context.Context, thread int) (*TaskEnvelope, error) {
	sub, err := c.taskSubscription(thread)
	if err != nil {
		return nil, err
	}

	ready, _ := json.Marshal(map[string]int{"thread": thread})
	if err := c.nc.Publish(fmt.Sprintf("%s.%s", subjectReady, c.name), ready); err != nil {
		return nil, fmt.Errorf("failed to announce readiness: %w", err)
	}

	msg, err := sub.NextMsgWithContext(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrConnectionLost, err)
	}

	task := &api.SubmissionTask{}
	if err := json.Unmarshal(msg.Data, task); err != nil {
		return nil, fmt.Errorf("malformed task message: %w", err)
	}

	acked := false
	return &TaskEnvelope{
		Task: task,
		Ack: func() error {
			if acked {
				return nil
			}
			acked = true
			return msg.Respond([]byte("ok"))
		},
	}, nil
}

func (c *natsClient) Progress(ctx context.Context, snapshot *api.ProgressSnapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal progress snapshot: %w", err)
	}
	return c.nc.Publish(fmt.Sprintf("%s.%s", subjectProgress, c.name), data)
}

type filesRequest struct {
	ContentIDs []string `json:"content_ids"`
}

type filesResponse struct {
	URLs []string `json:"urls"`
}

func (c *natsClient) RequestFiles(ctx context.Context, contentIDs []string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.rpcTimeout)
	defer cancel()

	payload, _ := json.Marshal(filesRequest{ContentIDs: contentIDs})
	msg, err := c.nc.RequestWithContext(ctx, subjectFiles, payload)
	if err != nil {
		return nil, fmt.Errorf("requestFiles failed: %w", err)
	}
	var resp filesResponse
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		return nil, fmt.Errorf("malformed requestFiles response: %w", err)
	}
	return resp.URLs, nil
}

func (c *natsClient) SystemInfo(ctx context.Context, info string) error {
	data, _ := json.Marshal(map[string]string{"info": info})
	return c.nc.Publish(fmt.Sprintf("%s.%s", subjectSysInfo, c.name), data)
}

func (c *natsClient) Cancellations() <-chan string {
	return c.cancels
}

func (c *natsClient) Closed() <-chan struct{} {
	return c.closed
}

func (c *natsClient) Close() {
	c.nc.Close()
}
