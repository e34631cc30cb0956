package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/michaelpento.lv/dualarb/orchestrator"
	"github.com/michaelpento.lv/dualarb/store"
	"github.com/michaelpento.lv/dualarb/types"
)

// ErrAlreadyRunning is returned by Start on a running scheduler
var ErrAlreadyRunning = errors.New("scheduler already running")

// Scanner is the detector surface the scheduler drives
type Scanner interface {
	Pairs() []types.Pair
	Scan(ctx context.Context, pairID string) (types.ArbitrageOpportunity, error)
	ExecuteArbitrage(ctx context.Context, pairID string, execType types.ExecutionType) (types.ExecutionRecord, error)
}

// Config controls the recurring scan
type Config struct {
	Interval    time.Duration `yaml:"interval"`
	Concurrency int           `yaml:"concurrency"`
	ScanTimeout time.Duration `yaml:"scanTimeout"`
}

// DefaultConfig scans every 10s, four pairs at a time
func DefaultConfig() Config {
	return Config{
		Interval:    10 * time.Second,
		Concurrency: 4,
		ScanTimeout: 8 * time.Second,
	}
}

// Report summarizes one pass over all pairs
type Report struct {
	Scanned    int
	Profitable int
	Executed   int
	Errors     int
}

// Scheduler owns the cron entry that scans every pair on an interval
type Scheduler struct {
	cfg      Config
	scanner  Scanner
	settings store.SettingsSource
	logger   *zap.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	cancel  context.CancelFunc
	running bool
}

// New creates a stopped scheduler. Concurrency below 1 is treated as 1.
func New(cfg Config, scanner Scanner, settings store.SettingsSource, logger *zap.Logger) *Scheduler {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Scheduler{
		cfg:      cfg,
		scanner:  scanner,
		settings: settings,
		logger:   logger.With(zap.String("component", "scheduler")),
	}
}

// Start registers the scan job and starts the cron runner. It does not block.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrAlreadyRunning
	}
	if s.cfg.Interval < time.Second {
		return fmt.Errorf("scan interval %s is below one second", s.cfg.Interval)
	}

	ctx, cancel := context.WithCancel(context.Background())
	log := cronLogger{log: s.logger.Sugar()}
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(log),
		cron.WithChain(cron.Recover(log), cron.SkipIfStillRunning(log)),
	)
	spec := "@every " + s.cfg.Interval.String()
	if _, err := c.AddFunc(spec, func() { s.RunOnce(ctx) }); err != nil {
		cancel()
		return fmt.Errorf("failed to schedule scan: %w", err)
	}
	c.Start()

	s.cron = c
	s.cancel = cancel
	s.running = true
	s.logger.Info("Scheduler started",
		zap.Duration("interval", s.cfg.Interval),
		zap.Int("pairs", len(s.scanner.Pairs())))
	return nil
}

// Stop cancels in-flight scans and waits for the running job to return
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	c, cancel := s.cron, s.cancel
	s.running = false
	s.cron = nil
	s.cancel = nil
	s.mu.Unlock()

	done := c.Stop()
	cancel()
	<-done.Done()
	s.logger.Info("Scheduler stopped")
}

// Running reports whether the cron runner is active
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// RunOnce scans every pair once and auto-executes profitable ones when enabled
func (s *Scheduler) RunOnce(ctx context.Context) Report {
	pairs := s.scanner.Pairs()

	autoExecute := false
	if settings, err := s.settings.Settings(ctx); err != nil {
		s.logger.Warn("Failed to load settings, auto-execution disabled for this pass", zap.Error(err))
	} else {
		autoExecute = settings.AutoExecute
	}

	var (
		mu     sync.Mutex
		report Report
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)

	for _, pair := range pairs {
		pair := pair
		g.Go(func() error {
			scanned, profitable, executed, failed := s.scanPair(gctx, pair.ID, autoExecute)
			mu.Lock()
			defer mu.Unlock()
			if scanned {
				report.Scanned++
			}
			if profitable {
				report.Profitable++
			}
			if executed {
				report.Executed++
			}
			if failed {
				report.Errors++
			}
			return nil
		})
	}
	_ = g.Wait()

	s.logger.Debug("Scan pass complete",
		zap.Int("scanned", report.Scanned),
		zap.Int("profitable", report.Profitable),
		zap.Int("executed", report.Executed),
		zap.Int("errors", report.Errors))
	return report
}

func (s *Scheduler) scanPair(ctx context.Context, pairID string, autoExecute bool) (scanned, profitable, executed, failed bool) {
	scanCtx := ctx
	if s.cfg.ScanTimeout > 0 {
		var cancel context.CancelFunc
		scanCtx, cancel = context.WithTimeout(ctx, s.cfg.ScanTimeout)
		defer cancel()
	}

	opp, err := s.scanner.Scan(scanCtx, pairID)
	if err != nil {
		s.logger.Warn("Scan failed", zap.String("pair", pairID), zap.Error(err))
		return false, false, false, true
	}
	if !opp.Profitable || !autoExecute {
		return true, opp.Profitable, false, false
	}

	record, err := s.scanner.ExecuteArbitrage(ctx, pairID, types.ExecutionAuto)
	if err != nil {
		if orchestrator.IsRejection(err) {
			s.logger.Info("Auto-execution skipped", zap.String("pair", pairID), zap.Error(err))
			return true, true, false, false
		}
		s.logger.Error("Auto-execution failed", zap.String("pair", pairID), zap.Error(err))
		return true, true, false, true
	}
	s.logger.Info("Auto-executed opportunity",
		zap.String("pair", pairID),
		zap.String("record", record.ID),
		zap.String("total_profit", record.TotalProfit.String()))
	return true, true, true, false
}

type cronLogger struct {
	log *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw(msg, append(keysAndValues, "error", err)...)
}
