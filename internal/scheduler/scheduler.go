package scheduler

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/alcaldia/chatrelay/internal/config"
	"github.com/alcaldia/chatrelay/internal/domain/models"
	"github.com/alcaldia/chatrelay/internal/metrics"
	"github.com/alcaldia/chatrelay/pkg/clients/n8n"
)

// Scheduler periodically probes n8n and keeps the latest result.
type Scheduler struct {
	cron    *cron.Cron
	client  n8n.Client
	metrics *metrics.Metrics
	cfg     config.ProbeConfig
	logger  *zap.Logger
	now     func() time.Time

	wg   sync.WaitGroup
	mu   sync.RWMutex
	last models.UpstreamStatus
}

// NewScheduler creates a new scheduler instance. metrics may be nil.
func NewScheduler(cfg config.ProbeConfig, client n8n.Client, m *metrics.Metrics, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Scheduler{
		cron:    cron.New(),
		client:  client,
		metrics: m,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
		last:    models.UpstreamStatus{Status: models.ProbeUnknown},
	}
}

// Start schedules the probe and fires a first one right away. An empty
// schedule leaves the probe disabled.
func (s *Scheduler) Start() error {
	if s.cfg.Schedule == "" {
		s.logger.Info("upstream probe disabled")
		return nil
	}

	if _, err := s.cron.AddFunc(s.cfg.Schedule, s.probeUpstream); err != nil {
		return fmt.Errorf("schedule upstream probe %q: %w", s.cfg.Schedule, err)
	}

	s.logger.Info("starting scheduler", zap.String("schedule", s.cfg.Schedule))
	s.cron.Start()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.probeUpstream()
	}()

	return nil
}

// Stop stops the scheduler and waits for running probes to finish.
func (s *Scheduler) Stop() {
	s.logger.Info("stopping scheduler")
	<-s.cron.Stop().Done()
	s.wg.Wait()
}

// UpstreamStatus returns the latest probe result.
func (s *Scheduler) UpstreamStatus() models.UpstreamStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

func (s *Scheduler) probeUpstream() {
	code, err := s.client.Ping(context.Background())
	checkedAt := s.now().UTC()

	result := models.UpstreamStatus{
		Status:     models.ProbeOK,
		HTTPStatus: code,
		CheckedAt:  &checkedAt,
	}

	switch {
	case err != nil:
		result.Status = models.ProbeDown
		result.Error = err.Error()
	case code >= http.StatusInternalServerError:
		result.Status = models.ProbeDown
		result.Error = fmt.Sprintf("n8n health responded %d", code)
	}

	s.mu.Lock()
	previous := s.last.Status
	s.last = result
	s.mu.Unlock()

	s.metrics.SetUpstreamUp(result.Status == models.ProbeOK)

	if result.Status != previous {
		fields := []zap.Field{
			zap.String("status", string(result.Status)),
			zap.String("previous", string(previous)),
			zap.Int("http_status", code),
		}
		if result.Status == models.ProbeDown {
			s.logger.Warn("n8n unreachable", append(fields, zap.String("error", result.Error))...)
			return
		}
		s.logger.Info("n8n reachability changed", fields...)
	}
}
