package report

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/lyrio-dev/judge/api"
)

// SQSMirror publishes every snapshot to an audit queue. Send failures are
// logged and dropped so the mirror never stalls judging.
type SQSMirror struct {
	client   *sqs.Client
	queueURL string
	logger   *slog.Logger
}

func NewSQSMirror(ctx context.Context, queueURL string, region string) (*SQSMirror, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("unable to load AWS config: %w", err)
	}
	return &SQSMirror{
		client:   sqs.NewFromConfig(cfg),
		queueURL: queueURL,
		logger:   slog.With("comp", "sqs-mirror"),
	}, nil
}

func (m *SQSMirror) Send(snapshot *api.ProgressSnapshot) {
	body, err := json.Marshal(snapshot)
	if err != nil {
		m.logger.Warn("failed to marshal snapshot", "err", err)
		return
	}
	_, err = m.client.SendMessage(context.Background(), &sqs.SendMessageInput{
		QueueUrl:    aws.String(m.queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		m.logger.Warn("failed to mirror snapshot", "task", snapshot.TaskID, "err", err)
	}
}
