// Package telemetry publishes pipeline observability metrics to CloudWatch.
// Metric publication is always best-effort: the processor logs failures and
// carries on, so a CloudWatch outage can never fail a processing run.
package telemetry

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwTypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// DefaultNamespace is the CloudWatch namespace when none is configured.
const DefaultNamespace = "VitalWatch"

// cloudwatchAPI is the subset of the CloudWatch SDK client used here.
type cloudwatchAPI interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// Publisher emits per-run pipeline metrics dimensioned by patient:
// AnomalySeverity (the day's flag count) and HistoryDays (how much of the
// look-back window was actually on hand). HistoryDays doubles as a
// data-quality signal; a patient whose window keeps coming up short has a
// sync problem upstream.
type Publisher struct {
	client    cloudwatchAPI
	namespace string
}

// NewPublisher creates a Publisher over the given CloudWatch client.
func NewPublisher(client cloudwatchAPI, namespace string) *Publisher {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return &Publisher{client: client, namespace: namespace}
}

// PublishProcessed emits the metrics for one completed processing run.
func (p *Publisher) PublishProcessed(ctx context.Context, patientID string, severity int, historyDays int) error {
	dims := []cwTypes.Dimension{
		{
			Name:  aws.String("PatientID"),
			Value: aws.String(patientID),
		},
	}

	_, err := p.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(p.namespace),
		MetricData: []cwTypes.MetricDatum{
			{
				MetricName: aws.String("AnomalySeverity"),
				Value:      aws.Float64(float64(severity)),
				Unit:       cwTypes.StandardUnitCount,
				Dimensions: dims,
			},
			{
				MetricName: aws.String("HistoryDays"),
				Value:      aws.Float64(float64(historyDays)),
				Unit:       cwTypes.StandardUnitCount,
				Dimensions: dims,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to publish pipeline metrics: %w", err)
	}
	return nil
}
