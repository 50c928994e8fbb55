// Package main implements the backfill CLI tool for reprocessing a range
// of historical days through the pipeline state machine.
//
// For each date in [--start, --end] it starts one Step Functions execution
// of the fetch/process/explain workflow, oldest date first so that rolling
// baselines are computed over already-backfilled history. Execution names
// are deterministic per patient-day, so rerunning the tool skips days that
// already have an execution instead of duplicating work.
//
// Usage:
//
//	go run ./cmd/tools/backfill --start=2026-07-01 --end=2026-07-31
//	go run ./cmd/tools/backfill --patient=user@example.com --start=2026-07-01 --end=2026-07-31 --dry-run
//
// The state machine ARN is read from --state-machine or the
// PIPELINE_STATE_MACHINE_ARN environment variable.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	sfnTypes "github.com/aws/aws-sdk-go-v2/service/sfn/types"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/joho/godotenv"

	"vitalwatch/internal/config"
	"vitalwatch/internal/types"
)

// startDelay spaces out execution starts so concurrent runs do not race on
// overlapping history windows.
const startDelay = 500 * time.Millisecond

// sfnStarter is the subset of the Step Functions client used by the tool.
type sfnStarter interface {
	StartExecution(ctx context.Context, params *sfn.StartExecutionInput, optFns ...func(*sfn.Options)) (*sfn.StartExecutionOutput, error)
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		patientID       = flag.String("patient", "", "patient identifier (defaults to DEFAULT_PATIENT_ID)")
		startStr        = flag.String("start", "", "first date to backfill (YYYY-MM-DD, required)")
		endStr          = flag.String("end", "", "last date to backfill (YYYY-MM-DD, inclusive, required)")
		stateMachineARN = flag.String("state-machine", "", "pipeline state machine ARN (defaults to PIPELINE_STATE_MACHINE_ARN)")
		dryRun          = flag.Bool("dry-run", false, "print planned executions without starting them")
	)
	flag.Parse()

	_ = godotenv.Load()

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

	patient := *patientID
	if patient == "" {
		patient = cfg.Vendor.DefaultPatientID
	}
	if patient == "" {
		return errors.New("no patient: pass --patient or set DEFAULT_PATIENT_ID")
	}

	arn := *stateMachineARN
	if arn == "" {
		arn = os.Getenv("PIPELINE_STATE_MACHINE_ARN")
	}
	if arn == "" && !*dryRun {
		return errors.New("no state machine: pass --state-machine or set PIPELINE_STATE_MACHINE_ARN")
	}

	if *startStr == "" || *endStr == "" {
		flag.Usage()
		return errors.New("--start and --end are required")
	}
	start, err := types.ParseDate(*startStr)
	if err != nil {
		return fmt.Errorf("invalid --start: %w", err)
	}
	end, err := types.ParseDate(*endStr)
	if err != nil {
		return fmt.Errorf("invalid --end: %w", err)
	}
	if end.Before(start) {
		return fmt.Errorf("--end %s precedes --start %s", end, start)
	}

	client := sfn.NewFromConfig(awsCfg)

	started, skipped := 0, 0
	for day := start; !end.Before(day); day = day.AddDays(1) {
		name := executionName(patient, day)
		input, err := json.Marshal(types.Invocation{PatientID: patient, Date: day.String()})
		if err != nil {
			return fmt.Errorf("encoding input for %s: %w", day, err)
		}

		if *dryRun {
			fmt.Printf("would start %s input=%s\n", name, input)
			continue
		}

		ok, err := startExecution(ctx, client, arn, name, string(input))
		if err != nil {
			return fmt.Errorf("starting execution for %s: %w", day, err)
		}
		if ok {
			fmt.Printf("started %s\n", name)
			started++
		} else {
			fmt.Printf("skipped %s (already exists)\n", name)
			skipped++
		}

		time.Sleep(startDelay)
	}

	if !*dryRun {
		fmt.Printf("backfill complete: %d started, %d skipped\n", started, skipped)
	}
	return nil
}

// startExecution starts one execution, treating an already-existing
// execution with the same name as a successful skip.
func startExecution(ctx context.Context, client sfnStarter, arn, name, input string) (bool, error) {
	_, err := client.StartExecution(ctx, &sfn.StartExecutionInput{
		StateMachineArn: aws.String(arn),
		Name:            aws.String(name),
		Input:           aws.String(input),
	})
	if err != nil {
		var exists *sfnTypes.ExecutionAlreadyExists
		if errors.As(err, &exists) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// executionName builds a deterministic, SFN-safe execution name for a
// patient-day. Step Functions allows [a-zA-Z0-9-_] and at most 80 chars.
func executionName(patientID string, day types.Date) string {
	sanitized := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '-'
		}
	}, patientID)

	name := fmt.Sprintf("backfill-%s-%s", sanitized, day)
	if len(name) > 80 {
		name = name[:80]
	}
	return name
}
