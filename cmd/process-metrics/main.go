// Package main is the entrypoint for the process-metrics Lambda function.
//
// The function reads one day of raw vendor data from S3, extracts the daily
// metrics, assembles the trailing history window, computes rolling-median
// baselines and anomaly flags, and writes the enriched record back to S3.
// On success it optionally enqueues an explanation job and publishes
// CloudWatch metrics.
//
// This file handles dependency wiring (cold start) and delegates the
// pipeline logic to internal/pipeline. Outside the Lambda runtime the
// binary reads a single invocation event from stdin, which is the local
// development mode.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"vitalwatch/internal/config"
	"vitalwatch/internal/pipeline"
	"vitalwatch/internal/queue"
	"vitalwatch/internal/storage"
	"vitalwatch/internal/telemetry"
	"vitalwatch/internal/types"
)

func main() {
	ctx := context.Background()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: loading AWS SDK config: %v\n", err)
		os.Exit(1)
	}

	var resolver config.SecretProvider
	if os.Getenv("APP_ENV") != "local" {
		resolver = config.NewSSMSecretProvider(ssm.NewFromConfig(awsCfg))
	}

	cfg, err := config.Load(ctx, resolver)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: loading configuration: %v\n", err)
		os.Exit(1)
	}

	logger := config.NewLogger(cfg)
	logger.Info("process-metrics initializing (cold start)",
		"raw_bucket", cfg.AWS.RawBucket,
		"processed_bucket", cfg.AWS.ProcessedBucket,
		"window_days", cfg.Pipeline.WindowDays,
		"baseline_days", cfg.Pipeline.BaselineDays,
	)

	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.AWS.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
			o.UsePathStyle = true
		}
	})
	store := storage.NewStore(s3Client, storage.Buckets{
		Raw:       cfg.AWS.RawBucket,
		Processed: cfg.AWS.ProcessedBucket,
	}, cfg.AWS.CompressObjects, logger)

	trigger := queue.NewExplanationTrigger(
		sqs.NewFromConfig(awsCfg),
		cfg.AWS.ExplanationQueueURL,
		logger,
	)

	publisher := telemetry.NewPublisher(cloudwatch.NewFromConfig(awsCfg), cfg.AWS.MetricNamespace)

	processor := &pipeline.Processor{
		Raw:   store,
		Store: store,
		Assembler: &pipeline.Assembler{
			Store:       store,
			WindowDays:  cfg.Pipeline.WindowDays,
			Concurrency: cfg.Pipeline.HistoryConcurrency,
			Log:         logger,
		},
		Engine: &pipeline.Engine{
			BaselineDays: cfg.Pipeline.BaselineDays,
		},
		Telemetry:        publisher,
		DefaultPatientID: cfg.Vendor.DefaultPatientID,
		Log:              logger,
	}
	if trigger != nil {
		processor.Trigger = trigger
	}

	handler := newHandler(processor)

	if !isLambdaEnvironment() {
		runLocal(ctx, handler)
		return
	}
	lambda.Start(handler)
}

// newHandler wraps the processor into a Lambda handler. The event is kept
// as raw JSON so both bare invocations and API Gateway proxy envelopes
// decode uniformly.
func newHandler(processor *pipeline.Processor) func(ctx context.Context, event json.RawMessage) (types.LambdaResponse, error) {
	return func(ctx context.Context, event json.RawMessage) (types.LambdaResponse, error) {
		inv, err := types.DecodeInvocation(event)
		if err != nil {
			return types.NewLambdaResponse(types.ResultFromError(err, inv.PatientID, inv.Date)), nil
		}
		return types.NewLambdaResponse(processor.Process(ctx, inv)), nil
	}
}

// isLambdaEnvironment reports whether the process runs inside the AWS
// Lambda runtime.
func isLambdaEnvironment() bool {
	_, hasRuntimeAPI := os.LookupEnv("AWS_LAMBDA_RUNTIME_API")
	_, hasServerPort := os.LookupEnv("_LAMBDA_SERVER_PORT")
	return hasRuntimeAPI || hasServerPort
}

// runLocal reads one event from stdin, invokes the handler, and prints the
// response body.
func runLocal(ctx context.Context, handler func(context.Context, json.RawMessage) (types.LambdaResponse, error)) {
	event, err := io.ReadAll(os.Stdin)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: reading event from stdin: %v\n", err)
		os.Exit(1)
	}
	if len(event) == 0 {
		event = []byte(`{}`)
	}
	resp, err := handler(ctx, event)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(resp.Body)
	if resp.StatusCode >= 500 {
		os.Exit(1)
	}
}
