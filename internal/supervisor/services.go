package supervisor

import (
	"context"
	"fmt"
)

// Runner is a component whose Run blocks until ctx is cancelled
type Runner interface {
	Run(ctx context.Context) error
}

// RunnerService adapts a Runner to suture.Service
type RunnerService struct {
	runner Runner
	name   string
}

func NewRunnerService(name string, runner Runner) *RunnerService {
	return &RunnerService{
		runner: runner,
		name:   name,
	}
}

// Serve runs the component. An error before cancellation makes suture
// restart it with backoff.
func (s *RunnerService) Serve(ctx context.Context) error {
	err := s.runner.Run(ctx)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		return fmt.Errorf("%s failed: %w", s.name, err)
	}
	return fmt.Errorf("%s exited unexpectedly", s.name)
}

func (s *RunnerService) String() string {
	return s.name
}
