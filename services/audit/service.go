package audit

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/memcrypt/console-gateway/middleware"
	"github.com/memcrypt/console-gateway/models"
	"github.com/memcrypt/console-gateway/repositories"
	"go.uber.org/zap"
)

// AuditService writes audit entries asynchronously through a pool of workers
type AuditService struct {
	auditRepo    repositories.AuditRepository
	logger       *zap.Logger
	eventChan    chan *models.AuditLog
	workerCount  int
	bufferSize   int
	writeTimeout time.Duration
	wg           sync.WaitGroup
	ctx          context.Context
	cancel       context.CancelFunc
	started      bool
	stopped      bool
	mu           sync.RWMutex
	dropped      atomic.Int64
	written      atomic.Int64
}

// Config holds configuration for the AuditService
type Config struct {
	BufferSize   int           // Size of the event buffer channel
	WorkerCount  int           // Number of concurrent workers
	WriteTimeout time.Duration // Per-entry insert deadline
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		BufferSize:   10000,
		WorkerCount:  5,
		WriteTimeout: 5 * time.Second,
	}
}

// NewAuditService creates a new AuditService instance
func NewAuditService(auditRepo repositories.AuditRepository, logger *zap.Logger, config Config) *AuditService {
	defaults := DefaultConfig()
	if config.BufferSize <= 0 {
		config.BufferSize = defaults.BufferSize
	}
	if config.WorkerCount <= 0 {
		config.WorkerCount = defaults.WorkerCount
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = defaults.WriteTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &AuditService{
		auditRepo:    auditRepo,
		logger:       logger,
		eventChan:    make(chan *models.AuditLog, config.BufferSize),
		workerCount:  config.WorkerCount,
		bufferSize:   config.BufferSize,
		writeTimeout: config.WriteTimeout,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start starts the background workers
func (s *AuditService) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("audit service already started")
	}

	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.started = true
	s.logger.Info("started audit service",
		zap.Int("worker_count", s.workerCount),
		zap.Int("buffer_size", s.bufferSize))

	return nil
}

// Stop stops accepting entries and waits up to timeout for the queue to drain
func (s *AuditService) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.mu.Unlock()
		return fmt.Errorf("audit service not running")
	}
	s.stopped = true
	close(s.eventChan)
	s.mu.Unlock()

	s.logger.Info("stopping audit service", zap.Int("pending_events", len(s.eventChan)))

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("audit service stopped gracefully")
		s.cancel()
		return nil
	case <-time.After(timeout):
		s.cancel()
		return fmt.Errorf("audit service stop timeout after %v", timeout)
	}
}

// LogEvent queues an entry without blocking. A full buffer drops the entry.
func (s *AuditService) LogEvent(log *models.AuditLog) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.started || s.stopped {
		return fmt.Errorf("audit service not running")
	}

	select {
	case s.eventChan <- log:
		return nil
	default:
		s.dropped.Add(1)
		s.logger.Warn("audit event channel full, dropping event",
			zap.String("reason", log.Reason),
			zap.String("path", log.Path))
		return fmt.Errorf("audit event buffer full")
	}
}

// RecordDenial queues an audit entry for a request refused by the gate
func (s *AuditService) RecordDenial(ctx context.Context, event middleware.DenialEvent) {
	log := models.NewDenialAuditLog(event.Method, event.Path, event.Reason, event.Status).
		WithPrincipal(event.SubjectID, event.OrgID).
		WithRequest(event.RequestID, event.RemoteAddr)

	// LogEvent already reports a full buffer
	_ = s.LogEvent(log)
}

func (s *AuditService) worker(id int) {
	defer s.wg.Done()

	s.logger.Debug("audit worker started", zap.Int("worker_id", id))

	for log := range s.eventChan {
		if err := s.processEvent(log); err != nil {
			s.logger.Error("failed to process audit event",
				zap.Int("worker_id", id),
				zap.Error(err),
				zap.String("reason", log.Reason),
				zap.String("request_id", log.RequestID))
		}
	}

	s.logger.Debug("audit worker stopped", zap.Int("worker_id", id))
}

func (s *AuditService) processEvent(log *models.AuditLog) error {
	ctx, cancel := context.WithTimeout(s.ctx, s.writeTimeout)
	defer cancel()

	if err := s.auditRepo.Insert(ctx, log); err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}
	s.written.Add(1)

	return nil
}

// GetStats returns statistics about the audit service
func (s *AuditService) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Stats{
		BufferSize:    s.bufferSize,
		PendingEvents: len(s.eventChan),
		WorkerCount:   s.workerCount,
		Started:       s.started && !s.stopped,
		Written:       s.written.Load(),
		Dropped:       s.dropped.Load(),
	}
}

// Stats represents audit service statistics
type Stats struct {
	BufferSize    int
	PendingEvents int
	WorkerCount   int
	Started       bool
	Written       int64
	Dropped       int64
}
