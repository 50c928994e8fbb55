// Package main is the entrypoint for the fetch-raw Lambda function.
//
// The function calls the wearable vendor API for one patient-day, stamps
// the payload with fetch metadata, and stores it unmodified in the raw
// data bucket. It runs on an EventBridge schedule shortly after midnight
// UTC so each day's payload lands before processing starts.
//
// Dependency wiring happens here; the fetch logic lives in
// internal/pipeline. Outside the Lambda runtime the binary reads a single
// invocation event from stdin.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"vitalwatch/internal/config"
	"vitalwatch/internal/external"
	"vitalwatch/internal/pipeline"
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
	logger.Info("fetch-raw initializing (cold start)",
		"vendor_base_url", cfg.Vendor.APIBaseURL,
		"raw_bucket", cfg.AWS.RawBucket,
	)

	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.AWS.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
			o.UsePathStyle = true
		}
	})
	store := storage.NewStore(s3Client, storage.Buckets{
		Raw: cfg.AWS.RawBucket,
	}, cfg.AWS.CompressObjects, logger)

	vendor := external.NewVendorClient(&http.Client{Timeout: 30 * time.Second}, external.VendorConfig{
		BaseURL: cfg.Vendor.APIBaseURL,
		APIKey:  cfg.Vendor.APIKey,
		Logger:  logger,
	})

	fetcher := &pipeline.Fetcher{
		Source:           vendor,
		Store:            store,
		DefaultPatientID: cfg.Vendor.DefaultPatientID,
		Log:              logger,
	}

	handler := newHandler(fetcher)

	if !isLambdaEnvironment() {
		runLocal(ctx, handler)
		return
	}
	lambda.Start(handler)
}

func newHandler(fetcher *pipeline.Fetcher) func(ctx context.Context, event json.RawMessage) (types.LambdaResponse, error) {
	return func(ctx context.Context, event json.RawMessage) (types.LambdaResponse, error) {
		inv, err := types.DecodeInvocation(event)
		if err != nil {
			return types.NewLambdaResponse(types.ResultFromError(err, inv.PatientID, inv.Date)), nil
		}
		return types.NewLambdaResponse(fetcher.Fetch(ctx, inv)), nil
	}
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
