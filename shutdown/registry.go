package shutdown

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"devoid_client/core"
)

// Stage priorities used by the generator client. Lower runs first.
const (
	// StageClient stops the gateway run loop and drains handlers.
	StageClient = 10
	// StageDownloads removes partially written result files.
	StageDownloads = 20
	// StageJournal flushes and closes the generation journal.
	StageJournal = 30
	// StageMetrics stops the metrics HTTP listener.
	StageMetrics = 40
	// StageLogger flushes buffered log output. Always last.
	StageLogger = 90
)

type stage struct {
	name     string
	priority int
	seq      int
	fn       core.ShutdownFunc
}

// Registry holds named cleanup stages and runs them once, in priority order.
// Stages with equal priority run in registration order.
type Registry struct {
	mu     sync.Mutex
	stages []stage
	closed bool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a stage. Registrations after Run are ignored.
func (r *Registry) Register(name string, priority int, fn core.ShutdownFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.stages = append(r.stages, stage{name: name, priority: priority, seq: len(r.stages), fn: fn})
}

// Run executes every stage even when earlier ones fail and returns one
// error per failed stage.
func (r *Registry) Run(ctx context.Context) []error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	ordered := r.sortedLocked()
	r.mu.Unlock()

	var errs []error
	for _, s := range ordered {
		if err := s.fn(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
		}
	}
	return errs
}

// Names lists stage names in execution order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ordered := r.sortedLocked()
	names := make([]string, len(ordered))
	for i, s := range ordered {
		names[i] = s.name
	}
	return names
}

func (r *Registry) sortedLocked() []stage {
	ordered := slices.Clone(r.stages)
	slices.SortFunc(ordered, func(a, b stage) int {
		if a.priority != b.priority {
			return a.priority - b.priority
		}
		return a.seq - b.seq
	})
	return ordered
}
