// internal/gateway/service.go
package gateway

import (
	"context"
	"fmt"

	"github.com/sauliuspr-reya/reya-workers/internal/relay"
	"github.com/sauliuspr-reya/reya-workers/internal/respond"
	"github.com/sauliuspr-reya/reya-workers/pkg/service"
)

// Pinger checks connectivity to a backend the gateway depends on.
type Pinger func(ctx context.Context) error

// Service wraps the gateway server and its response consumer as a managed
// service. Health gates startup: if the store or queue backend is
// unreachable the process exits non-zero.
type Service struct {
	server   *Server
	receiver *respond.KafkaReceiver
	relay    *relay.Relay
	pingers  map[string]Pinger
	status   service.Status
	cancel   context.CancelFunc
}

// NewService creates the gateway service.
func NewService(server *Server, receiver *respond.KafkaReceiver, rly *relay.Relay,
	pingers map[string]Pinger) *Service {
	return &Service{
		server:   server,
		receiver: receiver,
		relay:    rly,
		pingers:  pingers,
		status:   service.StatusStopped,
	}
}

// Name returns the service name.
func (s *Service) Name() string {
	return "trade-gateway"
}

// Start launches the HTTP server and the response consumer feeding the relay.
func (s *Service) Start(ctx context.Context) error {
	s.status = service.StatusStarting

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	go func() {
		if err := s.receiver.Run(runCtx, s.relay.Deliver); err != nil {
			s.server.logger.Error("Response consumer exited", "error", err)
		}
	}()

	go s.server.Start()

	s.status = service.StatusRunning
	return nil
}

// Stop shuts the HTTP server down gracefully and stops the consumer.
func (s *Service) Stop(ctx context.Context) error {
	s.status = service.StatusStopping

	s.server.Shutdown(ctx)
	if s.cancel != nil {
		s.cancel()
	}

	s.status = service.StatusStopped
	return nil
}

// Status returns the current service status.
func (s *Service) Status() service.Status {
	return s.status
}

// Health probes the gateway's backends.
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
