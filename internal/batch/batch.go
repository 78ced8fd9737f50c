// Package batch runs one worker cycle over a batch of items with bounded
// concurrency and tallies the outcomes.
package batch

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// Outcome is the result of handling one item
type Outcome int

const (
	Succeeded Outcome = iota
	Failed
	Skipped
)

// Summary reports what one cycle did
type Summary struct {
	Cycle     string        `json:"cycle"`
	Processed int           `json:"processed"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	Duration  time.Duration `json:"duration"`
}

// Run calls fn for every item, at most limit at a time. fn owns its error
// handling, so one failing item never stops the others. Items not yet
// started when ctx is done are counted as skipped.
func Run[T any](ctx context.Context, name string, items []T, limit int, fn func(context.Context, T) Outcome) Summary {
	started := time.Now()
	if limit < 1 {
		limit = 1
	}

	var succeeded, failed, skipped atomic.Int64
	var g errgroup.Group
	g.SetLimit(limit)

	for _, item := range items {
		g.Go(func() error {
			if ctx.Err() != nil {
				skipped.Add(1)
				return nil
			}
			switch fn(ctx, item) {
			case Succeeded:
				succeeded.Add(1)
			case Failed:
				failed.Add(1)
			default:
				skipped.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	return Summary{
		Cycle:     name,
		Processed: len(items),
		Succeeded: int(succeeded.Load()),
		Failed:    int(failed.Load()),
		Skipped:   int(skipped.Load()),
		Duration:  time.Since(started),
	}
}
