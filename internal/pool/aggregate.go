package pool

import (
	"time"

	"github.com/stratus-tools/paceline/internal/model"
)

// Merge folds per-item results into a single aggregate. The four status
// counts partition the results exactly; an unrecognized status is counted as
// an error so the partition invariant holds regardless of input. Failures
// keep completion order. Duration is the wall-clock span of the whole run,
// not the sum of item durations.
func Merge(results []model.WorkerResult, wallClock time.Duration) *model.AggregateResult {
	agg := &model.AggregateResult{
		TotalCount: len(results),
		DurationMS: wallClock.Milliseconds(),
		Failures:   []model.Failure{},
		PerItem:    results,
	}
	if agg.PerItem == nil {
		agg.PerItem = []model.WorkerResult{}
	}

	for _, r := range results {
		switch r.Status {
		case model.StatusPassed:
			agg.PassedCount++
		case model.StatusFailed:
			agg.FailedCount++
			agg.Failures = append(agg.Failures, model.Failure{WorkItemID: r.WorkItemID, Message: r.Message})
		case model.StatusSkipped:
			agg.SkippedCount++
		default:
			agg.ErrorCount++
			agg.Failures = append(agg.Failures, model.Failure{WorkItemID: r.WorkItemID, Message: r.Message})
		}
	}

	return agg
}
