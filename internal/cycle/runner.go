// Package cycle maps cycle names to the workers that run them, so the HTTP
// API, the CLI and the cron trigger share a single entry point.
package cycle

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"smart-event-relay/internal/batch"
)

// All runs every registered cycle in registration order
const All = "all"

// ErrUnknown is returned for a cycle name that was never registered
var ErrUnknown = errors.New("unknown cycle")

// Cycle is one stateless worker pass over persisted state
type Cycle interface {
	RunCycle(ctx context.Context) (batch.Summary, error)
}

// Runner runs cycles by name and remembers the last summary of each
type Runner struct {
	order  []string
	cycles map[string]Cycle

	mu   sync.RWMutex
	last map[string]batch.Summary
}

// NewRunner creates an empty Runner
func NewRunner() *Runner {
	return &Runner{
		cycles: make(map[string]Cycle),
		last:   make(map[string]batch.Summary),
	}
}

// Register adds a cycle under name. Registering a name twice replaces the cycle.
func (r *Runner) Register(name string, c Cycle) *Runner {
	if _, ok := r.cycles[name]; !ok {
		r.order = append(r.order, name)
	}
	r.cycles[name] = c
	return r
}

// Names returns the registered cycle names in order
func (r *Runner) Names() []string {
	return append([]string(nil), r.order...)
}

// Has reports whether name is a registered cycle or All
func (r *Runner) Has(name string) bool {
	if name == All {
		return true
	}
	_, ok := r.cycles[name]
	return ok
}

// Run runs the named cycle, or every cycle for All. With All, a failing
// cycle does not stop the ones after it; their errors are joined.
func (r *Runner) Run(ctx context.Context, name string) ([]batch.Summary, error) {
	names := []string{name}
	if name == All {
		names = r.order
	} else if !r.Has(name) {
		return nil, fmt.Errorf("%w: %s", ErrUnknown, name)
	}

	var summaries []batch.Summary
	var errs []error
	for _, n := range names {
		summary, err := r.cycles[n].RunCycle(ctx)
		summary.Cycle = n
		if err != nil {
			logrus.WithError(err).WithField("cycle", n).Error("Cycle failed")
			errs = append(errs, fmt.Errorf("%s cycle: %w", n, err))
			continue
		}
		r.mu.Lock()
		r.last[n] = summary
		r.mu.Unlock()
		summaries = append(summaries, summary)
	}
	return summaries, errors.Join(errs...)
}

// Last returns the most recent successful summary of a cycle
func (r *Runner) Last(name string) (batch.Summary, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.last[name]
	return s, ok
}
