package service

import (
	"context"
	"sync"
	"testing"

	"github.com/sauliuspr-reya/reya-workers/pkg/logging"
)

type recordingService struct {
	name string
	deps []string

	mu      *sync.Mutex
	events  *[]string
	healthy bool
}

func (s *recordingService) Name() string { return s.name }

func (s *recordingService) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	*s.events = append(*s.events, "start:"+s.name)
	s.healthy = true
	return nil
}

func (s *recordingService) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	*s.events = append(*s.events, "stop:"+s.name)
	return nil
}

func (s *recordingService) Status() Status { return StatusRunning }

func (s *recordingService) Health() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.healthy {
		return context.DeadlineExceeded
	}
	return nil
}

func (s *recordingService) Dependencies() []string { return s.deps }

func TestStartAllRespectsDependencies(t *testing.T) {
	var mu sync.Mutex
	var events []string

	queue := &recordingService{name: "queue", mu: &mu, events: &events}
	worker := &recordingService{name: "worker", deps: []string{"queue"}, mu: &mu, events: &events}
	api := &recordingService{name: "api", deps: []string{"queue", "worker"}, mu: &mu, events: &events}

	r := NewRegistry(logging.Discard())
	for _, s := range []Service{api, worker, queue} {
		if err := r.Register(s); err != nil {
			t.Fatalf("register %s: %v", s.Name(), err)
		}
	}

	if err := r.StartAll(context.Background()); err != nil {
		t.Fatalf("StartAll: %v", err)
	}

	pos := make(map[string]int)
	for i, e := range events {
		pos[e] = i
	}
	if pos["start:queue"] > pos["start:worker"] {
		t.Error("queue must start before worker")
	}
	if pos["start:worker"] > pos["start:api"] {
		t.Error("worker must start before api")
	}

	if err := r.StopAll(context.Background()); err != nil {
		t.Fatalf("StopAll: %v", err)
	}

	for i, e := range events {
		pos[e] = i
	}
	if pos["stop:api"] > pos["stop:worker"] {
		t.Error("api must stop before worker")
	}
	if pos["stop:worker"] > pos["stop:queue"] {
		t.Error("worker must stop before queue")
	}
}

func TestRegisterDuplicate(t *testing.T) {
	var mu sync.Mutex
	var events []string

	r := NewRegistry(logging.Discard())
	svc := &recordingService{name: "dup", mu: &mu, events: &events}

	if err := r.Register(svc); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := r.Register(svc); err == nil {
		t.Error("duplicate registration must fail")
	}
}

func TestStartAllDetectsCycle(t *testing.T) {
	var mu sync.Mutex
	var events []string

	a := &recordingService{name: "a", deps: []string{"b"}, mu: &mu, events: &events}
	b := &recordingService{name: "b", deps: []string{"a"}, mu: &mu, events: &events}

	r := NewRegistry(logging.Discard())
	r.Register(a)
	r.Register(b)

	if err := r.StartAll(context.Background()); err == nil {
		t.Error("expected cycle detection error")
	}
}
