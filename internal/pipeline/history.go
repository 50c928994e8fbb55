package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"golang.org/x/sync/errgroup"

	"vitalwatch/internal/types"
)

// DefaultWindowDays is the full look-back window (history plus target day).
const DefaultWindowDays = 30

// defaultHistoryConcurrency bounds the parallel store reads issued by the
// assembler. Each read is independent and idempotent, so ordering is
// restored by sorting afterward.
const defaultHistoryConcurrency = 8

// ProcessedReader is the store collaborator the assembler reads previously
// persisted day records from. A day with no stored record reports
// found=false with a nil error; errors are reserved for transport and
// decode failures.
type ProcessedReader interface {
	GetProcessed(ctx context.Context, patientID string, day types.Date) (*types.DailyMetricRecord, bool, error)
}

// Assembler collects the bounded history window preceding a target day.
// It is a pure read-and-filter over the store: days with no stored record
// are silently skipped, never padded with placeholders, and nothing is
// recomputed.
type Assembler struct {
	Store       ProcessedReader
	WindowDays  int // full window size W; history covers W-1 prior days
	Concurrency int
	Log         *slog.Logger
}

func (a *Assembler) windowDays() int {
	if a.WindowDays > 0 {
		return a.WindowDays
	}
	return DefaultWindowDays
}

func (a *Assembler) concurrency() int {
	if a.Concurrency > 0 {
		return a.Concurrency
	}
	return defaultHistoryConcurrency
}

// Assemble returns the stored records for [target-(W-1), target-1],
// strictly ascending by date. The engine's rolling computation depends on
// chronological order, so sorting here is mandatory regardless of the
// order reads complete in.
func (a *Assembler) Assemble(ctx context.Context, patientID string, target types.Date) ([]types.DailyMetricRecord, error) {
	if target.IsZero() {
		return nil, types.NewAppError(types.ErrCodeValidationMissingDate, "target date is required", nil)
	}

	days := a.windowDays() - 1
	slots := make([]*types.DailyMetricRecord, days)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency())

	for i := 1; i <= days; i++ {
		day := target.AddDays(-i)
		slot := &slots[i-1]
		g.Go(func() error {
			rec, found, err := a.Store.GetProcessed(gctx, patientID, day)
			if err != nil {
				return fmt.Errorf("history read for %s: %w", day, err)
			}
			if !found {
				return nil
			}
			// History rows only feed the baseline computation; the retained
			// raw payload is dead weight here.
			rec.RawSource = nil
			*slot = rec
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	history := make([]types.DailyMetricRecord, 0, days)
	for _, rec := range slots {
		if rec != nil {
			history = append(history, *rec)
		}
	}
	sort.SliceStable(history, func(i, j int) bool {
		return history[i].Date.Before(history[j].Date)
	})

	if a.Log != nil {
		a.Log.InfoContext(ctx, "assembled history window",
			"patient_id", patientID,
			"target_date", target.String(),
			"days_found", len(history),
			"days_requested", days,
		)
	}

	return history, nil
}
