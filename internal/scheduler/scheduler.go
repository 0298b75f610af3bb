package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"ssl-monitor/internal/config"
	"ssl-monitor/internal/metrics"
	"ssl-monitor/internal/models"
	"ssl-monitor/internal/services"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

var (
	// ErrInvalidCron is returned for expressions that are not five-field cron specs
	ErrInvalidCron = errors.New("invalid cron expression")
	// ErrSweepRunning is returned by TriggerNow while another sweep is in flight
	ErrSweepRunning = errors.New("a sweep is already running")
)

// ValidateCron checks that expr is a standard five-field cron expression
func ValidateCron(expr string) error {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return fmt.Errorf("%w: %q: expected 5 fields, found %d", ErrInvalidCron, expr, len(fields))
	}
	if _, err := cron.ParseStandard(strings.Join(fields, " ")); err != nil {
		return fmt.Errorf("%w: %q: %w", ErrInvalidCron, expr, err)
	}
	return nil
}

// Sweeper runs one full sweep
type Sweeper interface {
	Sweep(ctx context.Context) (*services.SweepReport, error)
}

// CronStore persists the active sweep schedule
type CronStore interface {
	EnsureActiveCron(ctx context.Context, def string) (*models.CronSchedule, error)
	ActivateCron(ctx context.Context, expression string) (*models.CronSchedule, error)
}

// Options configures a Scheduler
type Options struct {
	DefaultSpec  string
	Location     *time.Location
	SweepTimeout time.Duration
	Metrics      *metrics.Metrics
	Logger       *logrus.Entry
}

// Scheduler fires sweeps on a persisted cron expression that can be changed at runtime
type Scheduler struct {
	cron    *cron.Cron
	sweeper Sweeper
	store   CronStore
	opts    Options
	log     *logrus.Entry

	mu      sync.Mutex
	spec    string
	entryID cron.EntryID

	running atomic.Bool
	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewScheduler creates a new scheduler
func NewScheduler(sweeper Sweeper, store CronStore, opts Options) *Scheduler {
	if opts.DefaultSpec == "" {
		opts.DefaultSpec = config.DefaultCron
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewUnregistered()
	}
	if opts.Logger == nil {
		opts.Logger = logrus.NewEntry(logrus.StandardLogger())
	}

	cronLog := cron.PrintfLogger(opts.Logger.WithField("source", "cron"))
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(opts.Location),
			cron.WithLogger(cronLog),
			cron.WithChain(cron.Recover(cronLog)),
		),
		sweeper: sweeper,
		store:   store,
		opts:    opts,
		log:     opts.Logger,
	}
}

// Start loads the active expression, creating the default when none exists, and starts the cron.
// An invalid persisted expression is replaced by the default for this run.
func (s *Scheduler) Start(ctx context.Context) error {
	stored, err := s.store.EnsureActiveCron(ctx, s.opts.DefaultSpec)
	if err != nil {
		return fmt.Errorf("failed to load cron schedule: %w", err)
	}

	spec := stored.Expression
	if err := ValidateCron(spec); err != nil {
		s.log.WithError(err).Warnf("Persisted cron schedule is invalid, falling back to %s", s.opts.DefaultSpec)
		spec = s.opts.DefaultSpec
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.baseCtx, s.cancel = context.WithCancel(context.Background())
	if err := s.arm(spec); err != nil {
		return err
	}

	s.cron.Start()
	s.log.Infof("Scheduler started with schedule: %s", spec)
	return nil
}

// Reschedule validates and persists expr, then swaps the cron entry. On any error the
// previous schedule stays in effect.
func (s *Scheduler) Reschedule(ctx context.Context, expr string) (string, error) {
	if err := ValidateCron(expr); err != nil {
		return "", err
	}
	spec := strings.Join(strings.Fields(expr), " ")

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.store.ActivateCron(ctx, spec); err != nil {
		return "", err
	}
	if err := s.arm(spec); err != nil {
		return "", err
	}

	s.log.Infof("Sweep schedule changed to: %s", spec)
	return spec, nil
}

// arm adds the new entry before removing the old one; callers hold mu
func (s *Scheduler) arm(spec string) error {
	id, err := s.cron.AddFunc(spec, s.fire)
	if err != nil {
		return fmt.Errorf("%w: %q: %w", ErrInvalidCron, spec, err)
	}
	if s.entryID != 0 {
		s.cron.Remove(s.entryID)
	}
	s.entryID = id
	s.spec = spec
	return nil
}

// Current returns the expression currently armed
func (s *Scheduler) Current() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.spec
}

// Running reports whether a sweep is in flight
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

// TriggerNow starts a sweep in the background, or returns ErrSweepRunning
func (s *Scheduler) TriggerNow() error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrSweepRunning
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.running.Store(false)
		defer func() {
			if r := recover(); r != nil {
				s.log.Errorf("Manual sweep panicked: %v", r)
			}
		}()
		s.runSweep("manual")
	}()
	return nil
}

// fire is the cron job; a fire that finds a sweep in flight is skipped
func (s *Scheduler) fire() {
	if !s.running.CompareAndSwap(false, true) {
		s.opts.Metrics.Sweeps.WithLabelValues("skipped").Inc()
		s.log.Warn("Previous sweep still running, skipping scheduled sweep")
		return
	}
	s.wg.Add(1)
	defer s.wg.Done()
	defer s.running.Store(false)
	s.runSweep("scheduled")
}

func (s *Scheduler) runSweep(trigger string) {
	ctx := s.context()
	if s.opts.SweepTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.SweepTimeout)
		defer cancel()
	}

	log := s.log.WithField("trigger", trigger)
	report, err := s.sweeper.Sweep(ctx)
	if err != nil {
		if report != nil {
			log = log.WithField("sweep_id", report.ID)
		}
		log.WithError(err).Error("Sweep failed")
		return
	}
	log.WithField("sweep_id", report.ID).Debugf("Sweep finished in %s", report.Duration.Round(time.Millisecond))
}

func (s *Scheduler) context() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.baseCtx == nil {
		return context.Background()
	}
	return s.baseCtx
}

// Stop stops the cron, cancels an in-flight sweep and waits for it to return
func (s *Scheduler) Stop() {
	stopped := s.cron.Stop()
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()
	<-stopped.Done()
	s.wg.Wait()
	s.log.Info("Scheduler stopped")
}
