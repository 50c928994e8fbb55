// Package main is the entrypoint for the generate-explanation Lambda
// function.
//
// The function loads a processed day record, builds a prompt from its
// metrics, baselines and flags, invokes the Bedrock proxy Lambda for a
// plain-language explanation, and stores the result in the explanations
// bucket. It is triggered two ways: by SQS messages enqueued after
// processing, and by direct invocation for ad-hoc regeneration.
//
// Dependency wiring happens here; the generation logic lives in
// internal/explain. Outside the Lambda runtime the binary reads a single
// invocation event from stdin.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awslambda "github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"vitalwatch/internal/config"
	"vitalwatch/internal/explain"
	"vitalwatch/internal/storage"
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
	logger.Info("generate-explanation initializing (cold start)",
		"processed_bucket", cfg.AWS.ProcessedBucket,
		"explanations_bucket", cfg.AWS.ExplanationsBucket,
		"proxy_function", cfg.Explain.ProxyFunctionName,
	)

	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.AWS.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
			o.UsePathStyle = true
		}
	})
	store := storage.NewStore(s3Client, storage.Buckets{
		Processed:    cfg.AWS.ProcessedBucket,
		Explanations: cfg.AWS.ExplanationsBucket,
	}, cfg.AWS.CompressObjects, logger)

	service := &explain.Service{
		Source: store,
		Sink:   store,
		Generator: &explain.Generator{
			Invoker:      awslambda.NewFromConfig(awsCfg),
			FunctionName: cfg.Explain.ProxyFunctionName,
			Log:          logger,
		},
		DefaultPatientID: cfg.Vendor.DefaultPatientID,
		Log:              logger,
	}

	handler := newHandler(service)

	if !isLambdaEnvironment() {
		runLocal(ctx, handler)
		return
	}
	lambda.Start(handler)
}

// newHandler wraps the explanation service into a Lambda handler that
// accepts both SQS batch events and direct invocations. For SQS batches a
// failed record fails the whole handler so the queue redrives it.
func newHandler(service *explain.Service) func(ctx context.Context, event json.RawMessage) (types.LambdaResponse, error) {
	return func(ctx context.Context, event json.RawMessage) (types.LambdaResponse, error) {
		if isSQSEvent(event) {
			return handleSQSBatch(ctx, service, event)
		}

		inv, err := types.DecodeInvocation(event)
		if err != nil {
			return types.NewLambdaResponse(types.ResultFromError(err, inv.PatientID, inv.Date)), nil
		}
		return types.NewLambdaResponse(service.Explain(ctx, inv)), nil
	}
}

// isSQSEvent probes the raw event for the SQS Records envelope.
func isSQSEvent(event json.RawMessage) bool {
	var probe struct {
		Records []json.RawMessage `json:"Records"`
	}
	return json.Unmarshal(event, &probe) == nil && len(probe.Records) > 0
}

func handleSQSBatch(ctx context.Context, service *explain.Service, event json.RawMessage) (types.LambdaResponse, error) {
	var sqsEvent events.SQSEvent
	if err := json.Unmarshal(event, &sqsEvent); err != nil {
		return types.LambdaResponse{}, fmt.Errorf("decoding SQS event: %w", err)
	}

	var last types.InvocationResult
	for _, record := range sqsEvent.Records {
		inv, err := types.DecodeInvocation([]byte(record.Body))
		if err != nil {
			return types.LambdaResponse{}, fmt.Errorf("decoding SQS message %s: %w", record.MessageId, err)
		}
		last = service.Explain(ctx, inv)
		if last.Status == types.StatusInternalError {
			return types.LambdaResponse{}, fmt.Errorf("explanation failed for message %s: %s", record.MessageId, last.Error)
		}
	}
	return types.NewLambdaResponse(last), nil
}

func isLambdaEnvironment() bool {
	_, hasRuntimeAPI := os.LookupEnv("AWS_LAMBDA_RUNTIME_API")
	_, hasServerPort := os.LookupEnv("_LAMBDA_SERVER_PORT")
	return hasRuntimeAPI || hasServerPort
}

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
