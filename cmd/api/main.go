// Package main is the entrypoint for the VitalWatch dev API server.
//
// The deployed pipeline runs as Lambda functions; this server exposes the
// same three operations over HTTP for local development and smoke testing:
//
//	POST /v1/fetch    fetch a day of raw vendor data into S3
//	POST /v1/process  extract, baseline and flag one day
//	POST /v1/explain  generate the plain-language explanation
//
// Graceful shutdown is handled via OS signal interception (SIGINT,
// SIGTERM).
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	awslambda "github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"vitalwatch/internal/api"
	"vitalwatch/internal/config"
	"vitalwatch/internal/explain"
	"vitalwatch/internal/external"
	"vitalwatch/internal/pipeline"
	"vitalwatch/internal/queue"
	"vitalwatch/internal/storage"
	"vitalwatch/internal/telemetry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so main can cleanly exit on error.
func run() error {
	ctx := context.Background()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return fmt.Errorf("loading AWS SDK config: %w", err)
	}

	var resolver config.SecretProvider
	if os.Getenv("APP_ENV") != "local" {
		resolver = config.NewSSMSecretProvider(ssm.NewFromConfig(awsCfg))
	}

	cfg, err := config.Load(ctx, resolver)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := config.NewLogger(cfg)
	logger.Info("vitalwatch API starting",
		"environment", cfg.Environment,
		"port", cfg.Server.Port,
	)

	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.AWS.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
			o.UsePathStyle = true
		}
	})
	store := storage.NewStore(s3Client, storage.Buckets{
		Raw:          cfg.AWS.RawBucket,
		Processed:    cfg.AWS.ProcessedBucket,
		Explanations: cfg.AWS.ExplanationsBucket,
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
		Telemetry:        telemetry.NewPublisher(cloudwatch.NewFromConfig(awsCfg), cfg.AWS.MetricNamespace),
		DefaultPatientID: cfg.Vendor.DefaultPatientID,
		Log:              logger,
	}
	if trigger := queue.NewExplanationTrigger(sqs.NewFromConfig(awsCfg), cfg.AWS.ExplanationQueueURL, logger); trigger != nil {
		processor.Trigger = trigger
	}

	explainer := &explain.Service{
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

	handler := api.NewHandler(fetcher, processor, explainer, logger)
	server := api.NewServer(handler, logger)

	return serveHTTP(server, cfg, logger)
}

// serveHTTP runs the server with graceful shutdown.
func serveHTTP(server *api.Server, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      90 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped cleanly")
	return nil
}
