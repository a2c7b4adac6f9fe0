package scheduler

import (
	"context"
	"sync"
	"time"

	"mlm/internal/domain"
	"mlm/pkg/logger"
)

// Auditor runs one integrity pass over the placement tree.
type Auditor interface {
	AuditIntegrity(ctx context.Context) (*domain.IntegrityReport, error)
}

// Scheduler periodically audits the placement tree.
type Scheduler struct {
	auditor  Auditor
	interval time.Duration
	timeout  time.Duration
	logger   logger.Logger

	mu      sync.Mutex
	last    *domain.IntegrityReport
	stop    chan struct{}
	done    chan struct{}
	running bool
}

func NewScheduler(auditor Auditor, interval time.Duration, log logger.Logger) *Scheduler {
	timeout := interval / 2
	if timeout <= 0 || timeout > time.Minute {
		timeout = time.Minute
	}
	return &Scheduler{
		auditor:  auditor,
		interval: interval,
		timeout:  timeout,
		logger:   log,
	}
}

// Start launches the audit loop. A non-positive interval disables it.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running || s.interval <= 0 {
		return
	}
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	s.running = true

	go s.loop(s.stop, s.done)
	s.logger.Info("Integrity scheduler started", map[string]interface{}{
		"interval": s.interval.String(),
	})
}

// Stop halts the loop and waits for an in-flight audit to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	close(s.stop)
	done := s.done
	s.running = false
	s.mu.Unlock()

	<-done
}

// LastReport returns the most recent audit result, or nil before the first.
func (s *Scheduler) LastReport() *domain.IntegrityReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func (s *Scheduler) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.RunOnce(context.Background())
		case <-stop:
			return
		}
	}
}

// RunOnce performs a single audit and records its report.
func (s *Scheduler) RunOnce(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	report, err := s.auditor.AuditIntegrity(ctx)
	if err != nil {
		s.logger.Error("Scheduled integrity audit failed", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	s.mu.Lock()
	s.last = report
	s.mu.Unlock()

	s.logger.Debug("Scheduled integrity audit finished", map[string]interface{}{
		"nodes":      report.NodeCount,
		"violations": len(report.Violations),
		"healthy":    report.Healthy(),
	})
}
