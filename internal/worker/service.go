// internal/worker/service.go
package worker

import (
	"context"
	"fmt"

	"github.com/sauliuspr-reya/reya-workers/pkg/service"
)

// Pinger checks connectivity to a backend the worker depends on.
type Pinger func(ctx context.Context) error

// Service wraps the Worker as a managed service. Its health check probes the
// queue and RPC backends, which gates startup: a worker whose backends are
// unreachable never reports healthy and the process exits non-zero.
type Service struct {
	worker  *Worker
	pingers map[string]Pinger
	status  service.Status
	cancel  context.CancelFunc
}

// NewService creates a worker service. pingers maps backend names to their
// connectivity probes.
func NewService(worker *Worker, pingers map[string]Pinger) *Service {
	return &Service{
		worker:  worker,
		pingers: pingers,
		status:  service.StatusStopped,
	}
}

// Name returns the service name.
func (s *Service) Name() string {
	return "trade-worker"
}

// Start launches the worker slots.
func (s *Service) Start(ctx context.Context) error {
	s.status = service.StatusStarting

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.worker.Run(runCtx)

	s.status = service.StatusRunning
	return nil
}

// Stop cancels consumption and waits for in-flight jobs to drain, bounded by
// ctx's deadline.
func (s *Service) Stop(ctx context.Context) error {
	s.status = service.StatusStopping

	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.worker.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.status = service.StatusError
		return fmt.Errorf("timed out draining worker slots: %w", ctx.Err())
	}

	s.status = service.StatusStopped
	return nil
}

// Status returns the current service status.
func (s *Service) Status() service.Status {
	return s.status
}

// Health probes the worker's backends.
func (s *Service) Health() error {
	if s.status != service.StatusRunning {
		return fmt.Errorf("service not running")
	}

	ctx := context.Background()
	for name, ping := range s.pingers {
		if err := ping(ctx); err != nil {
			return fmt.Errorf("%s unreachable: %w", name, err)
		}
	}

	return nil
}

// Dependencies returns a list of services this service depends on.
func (s *Service) Dependencies() []string {
	return []string{}
}
