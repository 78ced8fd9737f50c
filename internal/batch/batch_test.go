package batch

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRunTalliesOutcomes(t *testing.T) {
	items := []int{1, 2, 3, 4, 5, 6}

	s := Run(context.Background(), "test", items, 2, func(_ context.Context, n int) Outcome {
		switch n % 3 {
		case 0:
			return Skipped
		case 1:
			return Succeeded
		default:
			return Failed
		}
	})

	assert.Equal(t, "test", s.Cycle)
	assert.Equal(t, 6, s.Processed)
	assert.Equal(t, 2, s.Succeeded)
	assert.Equal(t, 2, s.Failed)
	assert.Equal(t, 2, s.Skipped)
}

func TestRunRespectsLimit(t *testing.T) {
	var running, peak atomic.Int32
	items := make([]int, 20)

	Run(context.Background(), "test", items, 3, func(context.Context, int) Outcome {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		running.Add(-1)
		return Succeeded
	})

	assert.LessOrEqual(t, peak.Load(), int32(3))
	assert.GreaterOrEqual(t, peak.Load(), int32(1))
}

func TestRunSkipsAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	s := Run(ctx, "test", []int{1, 2}, 1, func(context.Context, int) Outcome {
		calls++
		return Succeeded
	})

	assert.Equal(t, 0, calls)
	assert.Equal(t, 2, s.Skipped)
}
