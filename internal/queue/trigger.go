// Package queue provides the SQS-based producer that chains downstream
// explanation generation onto successful processing runs.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/google/uuid"

	"vitalwatch/internal/types"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// ExplanationJob is the message enqueued for the explanation worker. It
// carries only the record's address; the worker re-reads the processed
// record from the store.
type ExplanationJob struct {
	PatientID string `json:"patient_id"`
	Date      string `json:"date"`
	TraceID   string `json:"trace_id"`
}

// ExplanationTrigger enqueues ExplanationJobs to the explanations queue.
// An empty queue URL disables the trigger (the constructor returns nil),
// which the processor treats as "no chaining configured".
type ExplanationTrigger struct {
	client   SQSSender
	queueURL string
	logger   *slog.Logger
}

// NewExplanationTrigger creates an ExplanationTrigger, or nil when no queue
// is configured.
func NewExplanationTrigger(client SQSSender, queueURL string, logger *slog.Logger) *ExplanationTrigger {
	if queueURL == "" {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ExplanationTrigger{client: client, queueURL: queueURL, logger: logger}
}

// TriggerExplanation enqueues one explanation job for a processed day.
func (t *ExplanationTrigger) TriggerExplanation(ctx context.Context, patientID string, day types.Date) error {
	job := ExplanationJob{
		PatientID: patientID,
		Date:      day.String(),
		TraceID:   uuid.New().String(),
	}

	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal explanation job: %w", err)
	}

	_, err = t.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(t.queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return fmt.Errorf("SQS SendMessage failed: %w", err)
	}

	t.logger.InfoContext(ctx, "enqueued explanation job",
		"patient_id", patientID,
		"date", day.String(),
		"trace_id", job.TraceID,
	)
	return nil
}
