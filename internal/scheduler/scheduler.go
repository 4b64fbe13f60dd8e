package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/rs/zerolog"

	"github.com/i474232898/ski-conditions/internal/alerts"
	"github.com/i474232898/ski-conditions/internal/metrics"
)

// ErrRunInProgress is returned when a run is requested while the same kind
// of run is still going.
var ErrRunInProgress = errors.New("run already in progress")

// AlertChecker runs the batch alert check.
type AlertChecker interface {
	CheckAll(ctx context.Context) (alerts.BatchResult, error)
}

// Config controls the periodic jobs.
type Config struct {
	RefreshEnabled   bool
	RefreshOnStartup bool
	StartupDelay     time.Duration
	RefreshInterval  time.Duration
	MaxResorts       int
	Delay            time.Duration
	AlertInterval    time.Duration
	// DiscoveryRegions, when set, are discovered before every scheduled sweep.
	DiscoveryRegions []string
}

// Scheduler runs refresh sweeps and alert checks on a fixed interval. Manual
// triggers go through the same routines and are rejected while a run of the
// same kind is in progress.
type Scheduler struct {
	scheduler *gocron.Scheduler
	orch      *Orchestrator
	alerts    AlertChecker
	cfg       Config
	log       zerolog.Logger
	metrics   *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc

	refreshing  atomic.Bool
	discovering atomic.Bool
	checking    atomic.Bool
}

// New creates a Scheduler. alerts may be nil to disable the alert job.
func New(orch *Orchestrator, alerts AlertChecker, cfg Config, log zerolog.Logger, m *metrics.Metrics) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		scheduler: gocron.NewScheduler(time.UTC),
		orch:      orch,
		alerts:    alerts,
		cfg:       cfg,
		log:       log,
		metrics:   m,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start schedules the periodic jobs and starts the underlying scheduler.
func (s *Scheduler) Start() error {
	if s.cfg.RefreshEnabled {
		interval := s.cfg.RefreshInterval
		if interval <= 0 {
			interval = 6 * time.Hour
		}

		job := s.scheduler.Every(interval).SingletonMode()
		switch {
		case s.cfg.RefreshOnStartup && s.cfg.StartupDelay > 0:
			job = job.StartAt(time.Now().Add(s.cfg.StartupDelay))
		case s.cfg.RefreshOnStartup:
			job = job.StartImmediately()
		default:
			job = job.WaitForSchedule()
		}
		if _, err := job.Do(s.refreshJob); err != nil {
			return fmt.Errorf("schedule refresh: %w", err)
		}
		s.log.Info().
			Dur("interval", interval).
			Bool("on_startup", s.cfg.RefreshOnStartup).
			Dur("startup_delay", s.cfg.StartupDelay).
			Msg("refresh job scheduled")
	} else {
		s.log.Info().Msg("scheduler: refresh disabled; nothing to schedule")
	}

	if s.alerts != nil && s.cfg.AlertInterval > 0 {
		if _, err := s.scheduler.Every(s.cfg.AlertInterval).SingletonMode().WaitForSchedule().Do(s.alertJob); err != nil {
			return fmt.Errorf("schedule alert check: %w", err)
		}
		s.log.Info().Dur("interval", s.cfg.AlertInterval).Msg("alert job scheduled")
	}

	s.scheduler.StartAsync()
	return nil
}

// Stop cancels running jobs between resorts and stops future ones.
func (s *Scheduler) Stop() {
	s.cancel()
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}

// Jobs reports how many periodic jobs are scheduled.
func (s *Scheduler) Jobs() int {
	return s.scheduler.Len()
}

func (s *Scheduler) refreshJob() {
	s.log.Info().Msg("scheduler: running refresh job")
	var err error
	if len(s.cfg.DiscoveryRegions) > 0 {
		_, err = s.RunDiscoverAndRefresh(s.ctx, s.cfg.DiscoveryRegions, s.cfg.MaxResorts, s.cfg.Delay)
	} else {
		_, err = s.RunRefresh(s.ctx, s.cfg.MaxResorts, s.cfg.Delay)
	}
	if err != nil {
		s.log.Error().Err(err).Msg("scheduler: refresh job failed")
	}
}

func (s *Scheduler) alertJob() {
	if _, err := s.RunAlerts(s.ctx); err != nil {
		s.log.Error().Err(err).Msg("scheduler: alert job failed")
	}
}

// RunRefresh runs one refresh sweep now.
func (s *Scheduler) RunRefresh(ctx context.Context, limit int, delay time.Duration) (Result, error) {
	if !s.refreshing.CompareAndSwap(false, true) {
		return Result{}, ErrRunInProgress
	}
	defer s.refreshing.Store(false)

	s.metrics.SetRefreshRunning(true)
	defer s.metrics.SetRefreshRunning(false)

	return s.orch.RefreshAll(ctx, limit, delay)
}

// RunDiscoverAndRefresh discovers regions and then runs a refresh sweep that
// includes the resorts just added. It shares the refresh guard.
func (s *Scheduler) RunDiscoverAndRefresh(ctx context.Context, regions []string, limit int, delay time.Duration) (Result, error) {
	if !s.refreshing.CompareAndSwap(false, true) {
		return Result{}, ErrRunInProgress
	}
	defer s.refreshing.Store(false)

	s.metrics.SetRefreshRunning(true)
	defer s.metrics.SetRefreshRunning(false)

	return s.orch.DiscoverAndRefresh(ctx, regions, limit, delay)
}

// RunDiscovery runs catalog discovery for regions now.
func (s *Scheduler) RunDiscovery(ctx context.Context, regions []string) (DiscoveryResult, error) {
	if !s.discovering.CompareAndSwap(false, true) {
		return DiscoveryResult{}, ErrRunInProgress
	}
	defer s.discovering.Store(false)

	return s.orch.Discover(ctx, regions)
}

// RunAlerts runs the batch alert check now.
func (s *Scheduler) RunAlerts(ctx context.Context) (alerts.BatchResult, error) {
	if s.alerts == nil {
		return alerts.BatchResult{}, errors.New("alert checks not configured")
	}
	if !s.checking.CompareAndSwap(false, true) {
		return alerts.BatchResult{}, ErrRunInProgress
	}
	defer s.checking.Store(false)

	return s.alerts.CheckAll(ctx)
}
