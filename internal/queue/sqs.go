// Package queue publishes per-request usage events to SQS for offline
// billing and analytics. Publishing is best-effort; a queue outage never
// fails a chat request.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// UsageEvent records one completed chat stream.
type UsageEvent struct {
	RequestID  string    `json:"request_id"`
	Store      string    `json:"store,omitempty"`
	Provider   string    `json:"provider"`
	Model      string    `json:"model"`
	Tokens     int       `json:"tokens"`
	DurationMs int64     `json:"duration_ms"`
	Outcome    string    `json:"outcome"`
	CreatedAt  time.Time `json:"created_at"`
}

type UsagePublisher interface {
	Publish(ctx context.Context, ev UsageEvent) error
}

type SQSPublisher struct {
	client   *sqs.Client
	queueURL string
}

func NewSQSPublisher(ctx context.Context, region, queueURL string) (*SQSPublisher, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewSQSPublisherWithConfig(cfg, queueURL), nil
}

func NewSQSPublisherWithConfig(cfg aws.Config, queueURL string) *SQSPublisher {
	return &SQSPublisher{
		client:   sqs.NewFromConfig(cfg),
		queueURL: queueURL,
	}
}

func (p *SQSPublisher) Publish(ctx context.Context, ev UsageEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal usage event: %w", err)
	}

	_, err = p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"Provider": {
				DataType:    aws.String("String"),
				StringValue: aws.String(ev.Provider),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("send usage event: %w", err)
	}
	return nil
}

// LogPublisher writes usage events to the log when no queue is configured.
type LogPublisher struct{}

func (LogPublisher) Publish(ctx context.Context, ev UsageEvent) error {
	slog.Info("usage",
		"request_id", ev.RequestID,
		"store", ev.Store,
		"provider", ev.Provider,
		"model", ev.Model,
		"tokens", ev.Tokens,
		"duration_ms", ev.DurationMs,
		"outcome", ev.Outcome,
	)
	return nil
}
