// Package config defines the process configuration for the VitalWatch
// pipeline. Configuration is loaded once at process initialization (Lambda
// cold start) and is immutable thereafter; components receive only the
// config subsets they need through their constructors, never via global
// reads.
//
// Values resolve through a priority chain:
//
//	OS Environment (highest) -> Dotenv file -> AWS SSM Parameter Store (lowest)
//
// A missing required value or invalid format fails startup immediately.
package config

import (
	"vitalwatch/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type
// used for sensitive configuration values.
type SecretString = types.SecretString

// Config is the top-level configuration struct.
type Config struct {
	Environment string `envconfig:"APP_ENV" default:"local" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"vitalwatch"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	Vendor   VendorConfig
	AWS      AWSConfig
	Pipeline PipelineConfig
	Explain  ExplainConfig
	Server   ServerConfig
}

// VendorConfig holds the wearable vendor API settings. The vendor
// identifies patients by email; DefaultPatientID backs invocations that
// omit the patient.
type VendorConfig struct {
	APIBaseURL       string       `envconfig:"VENDOR_API_BASE_URL" default:"https://partner.ultrahuman.com/api/v1/metrics" validate:"required,url"`
	APIKey           SecretString `envconfig:"VENDOR_API_KEY"`
	DefaultPatientID string       `envconfig:"DEFAULT_PATIENT_ID"`
}

// AWSConfig holds AWS resource identifiers and regional configuration.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"us-east-1"`

	RawBucket          string `envconfig:"RAW_DATA_BUCKET" default:"vitalwatch-raw-data"`
	ProcessedBucket    string `envconfig:"PROCESSED_DATA_BUCKET" default:"vitalwatch-processed"`
	ExplanationsBucket string `envconfig:"EXPLANATIONS_BUCKET" default:"vitalwatch-explanations"`

	// ExplanationQueueURL chains explanation generation onto processing.
	// Empty disables chaining.
	ExplanationQueueURL string `envconfig:"SQS_EXPLANATIONS" validate:"omitempty,url"`

	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"VitalWatch"`

	// CompressObjects enables zstd content encoding for stored documents.
	CompressObjects bool `envconfig:"STORE_COMPRESS" default:"false"`

	// EndpointURL supports LocalStack/MinIO in local dev. Empty in prod.
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// PipelineConfig tunes the core pipeline.
type PipelineConfig struct {
	// WindowDays is the full look-back window W: W-1 days of history plus
	// the target day.
	WindowDays int `envconfig:"WINDOW_DAYS" default:"30" validate:"min=1"`

	// BaselineDays is the trailing rolling-median window.
	BaselineDays int `envconfig:"BASELINE_DAYS" default:"7" validate:"min=1"`

	// HistoryConcurrency bounds the parallel store reads during window
	// assembly.
	HistoryConcurrency int `envconfig:"HISTORY_CONCURRENCY" default:"8" validate:"min=1"`
}

// ExplainConfig holds the explanation generation settings.
type ExplainConfig struct {
	// ProxyFunctionName is the Bedrock proxy Lambda invoked for model
	// completions. Empty disables the explanation operation.
	ProxyFunctionName string `envconfig:"BEDROCK_LAMBDA_NAME"`
}

// ServerConfig holds the local/dev HTTP boundary settings.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8080"`
}

// ConfigErrorType categorizes configuration loading failures.
type ConfigErrorType string

const (
	// ErrSSMResolution indicates a failure when fetching secrets from SSM.
	ErrSSMResolution ConfigErrorType = "SSM_FAILURE"
	// ErrValidation indicates the configuration failed validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure parsing environment values into their
	// target types.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
