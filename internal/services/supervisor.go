package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"gridframe/server/pkg/logger"
)

// Service is a named long-running worker ticked on its own interval.
// Services run under the SYSTEM principal.
type Service interface {
	Name() string
	Interval() time.Duration
	Update(ctx context.Context) error
	Cleanup(ctx context.Context) error
}

// State is a supervisor lifecycle state
type State int

const (
	Stopped State = iota
	Running
	Paused
	Failed
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Running:
		return "running"
	case Paused:
		return "paused"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

var (
	tickCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "service_ticks_total",
		Help: "Service update ticks by service and outcome",
	}, []string{"service", "outcome"})
	failureGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "service_consecutive_failures",
		Help: "Current consecutive failure count per service",
	}, []string{"service"})
)

func init() {
	prometheus.MustRegister(tickCounter, failureGauge)
}

const (
	defaultMaxFailures = 3
	defaultRetryDelay  = time.Second
)

// Option configures a supervisor
type Option func(*Supervisor)

// WithMaxFailures sets how many consecutive update failures stop the service
func WithMaxFailures(n int) Option {
	return func(s *Supervisor) { s.maxFailures = n }
}

// WithRetryDelay sets the sleep after a failed update
func WithRetryDelay(d time.Duration) Option {
	return func(s *Supervisor) { s.retryDelay = d }
}

// Supervisor manages one service's lifecycle: periodic update, failure
// accounting, pause/resume, and exactly-once cleanup.
type Supervisor struct {
	svc         Service
	maxFailures int
	retryDelay  time.Duration
	log         *logger.Logger

	mu       sync.Mutex
	state    State
	failures int
	paused   bool
	cancel   context.CancelFunc
	done     chan struct{}
	cleanup  *sync.Once
}

// NewSupervisor wraps a service
func NewSupervisor(svc Service, opts ...Option) *Supervisor {
	s := &Supervisor{
		svc:         svc,
		maxFailures: defaultMaxFailures,
		retryDelay:  defaultRetryDelay,
		log:         logger.Default().WithFields(logger.String("service", svc.Name())),
		state:       Stopped,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the current lifecycle state
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Running && s.paused {
		return Paused
	}
	return s.state
}

// Failures returns the consecutive failure count
func (s *Supervisor) Failures() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failures
}

// Start moves Stopped → Running and launches the tick loop
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != Stopped {
		s.mu.Unlock()
		return fmt.Errorf("service %s is %s, not stopped", s.svc.Name(), s.state)
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.state = Running
	s.paused = false
	s.failures = 0
	s.cancel = cancel
	s.done = make(chan struct{})
	s.cleanup = &sync.Once{}
	done := s.done
	once := s.cleanup
	s.mu.Unlock()

	s.log.Info("service starting")
	go s.run(runCtx, done, once)
	return nil
}

// Stop gracefully cancels the loop and waits for cleanup
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if s.state != Running {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	cancel()
	<-done
}

// Pause suspends ticking without stopping the loop
func (s *Supervisor) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Running {
		return fmt.Errorf("service %s is %s, cannot pause", s.svc.Name(), s.state)
	}
	s.paused = true
	return nil
}

// Resume continues a paused service
func (s *Supervisor) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Running || !s.paused {
		return fmt.Errorf("service %s is not paused", s.svc.Name())
	}
	s.paused = false
	return nil
}

func (s *Supervisor) run(ctx context.Context, done chan struct{}, once *sync.Once) {
	defer close(done)
	defer s.finish(once)

	ticker := time.NewTicker(s.svc.Interval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			paused := s.paused
			s.mu.Unlock()
			if paused {
				continue
			}

			if err := s.svc.Update(ctx); err != nil {
				tickCounter.WithLabelValues(s.svc.Name(), "error").Inc()
				s.mu.Lock()
				s.failures++
				failures := s.failures
				s.mu.Unlock()
				failureGauge.WithLabelValues(s.svc.Name()).Set(float64(failures))
				s.log.Error("service update failed", err, logger.Int("failures", failures))

				if failures >= s.maxFailures {
					s.mu.Lock()
					s.state = Failed
					s.mu.Unlock()
					s.log.Error("service exceeded max failures, stopping", nil,
						logger.Int("max_failures", s.maxFailures))
					return
				}

				select {
				case <-ctx.Done():
					return
				case <-time.After(s.retryDelay):
				}
				continue
			}

			tickCounter.WithLabelValues(s.svc.Name(), "ok").Inc()
			s.mu.Lock()
			s.failures = 0
			s.mu.Unlock()
			failureGauge.WithLabelValues(s.svc.Name()).Set(0)
		}
	}
}

// finish transitions to Stopped and runs cleanup exactly once, last.
func (s *Supervisor) finish(once *sync.Once) {
	once.Do(func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.svc.Cleanup(cleanupCtx); err != nil {
			s.log.Error("service cleanup failed", err)
		}
	})
	s.mu.Lock()
	s.state = Stopped
	s.paused = false
	s.mu.Unlock()
	s.log.Info("service stopped")
}
