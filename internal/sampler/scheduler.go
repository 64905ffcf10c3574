package sampler

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/blikh/wg-traffic-panel/internal/store"
)

// Scheduler runs one Runner per enabled source. Sources tick fully
// independently of each other; only runs for the same source are
// serialized.
type Scheduler struct {
	runners map[store.Source]*Runner
	logger  *slog.Logger
}

// New creates an empty scheduler.
func New(logger *slog.Logger) *Scheduler {
	return &Scheduler{
		runners: make(map[store.Source]*Runner),
		logger:  logger,
	}
}

// Add registers a runner. Must be called before Run.
func (s *Scheduler) Add(r *Runner) {
	s.runners[r.Source()] = r
}

// Run starts all runners and blocks until ctx is cancelled and every
// in-flight tick has drained.
func (s *Scheduler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, r := range s.runners {
		g.Go(func() error { return r.Run(ctx) })
	}
	return g.Wait()
}

func (s *Scheduler) runner(source store.Source) (*Runner, error) {
	r, ok := s.runners[source]
	if !ok {
		return nil, fmt.Errorf("sampler: source %q is not scheduled", source)
	}
	return r, nil
}

// RunNow triggers (or joins) an execution for source and returns its result.
func (s *Scheduler) RunNow(source store.Source) (RunResult, error) {
	r, err := s.runner(source)
	if err != nil {
		return RunResult{}, err
	}
	return r.RunNow()
}

// Pause suspends the ticker for source.
func (s *Scheduler) Pause(source store.Source) error {
	r, err := s.runner(source)
	if err != nil {
		return err
	}
	return r.Pause()
}

// Resume re-enables the ticker for source.
func (s *Scheduler) Resume(source store.Source) error {
	r, err := s.runner(source)
	if err != nil {
		return err
	}
	return r.Resume()
}

// Sources lists the scheduled sources.
func (s *Scheduler) Sources() []store.Source {
	var out []store.Source
	for _, src := range store.Sources {
		if _, ok := s.runners[src]; ok {
			out = append(out, src)
		}
	}
	return out
}
