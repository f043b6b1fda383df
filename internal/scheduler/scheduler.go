package scheduler

import (
	"PredictLedger/internal/core"
	"PredictLedger/internal/observability"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Submitter applies one command and waits for the result.
type Submitter interface {
	Submit(ctx context.Context, cmd core.Command) (core.Result, error)
}

// Config controls the tick job.
type Config struct {
	Spec     string        // cron spec with seconds, e.g. "@every 5s"
	Operator string        // sender of the ExecuteRound commands
	LockKey  string        // Redis key of the leader lock
	LockTTL  time.Duration // longer than a tick takes
	Timeout  time.Duration // per tick
}

func (c *Config) applyDefaults() {
	if c.Spec == "" {
		c.Spec = "@every 5s"
	}
	if c.LockKey == "" {
		c.LockKey = "predictledger:scheduler:tick"
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 30 * time.Second
	}
	if c.Timeout <= 0 {
		c.Timeout = 20 * time.Second
	}
}

// TickScheduler fires ExecuteRound on a cron schedule. With a lock, only the
// replica holding it ticks; the others skip that firing.
type TickScheduler struct {
	cron      *cron.Cron
	cfg       Config
	submitter Submitter
	lock      *LeaderLock
	logger    zerolog.Logger
	metrics   *observability.Metrics

	ctx    context.Context
	cancel context.CancelFunc
}

// New builds a scheduler. lock may be nil for a single replica.
func New(cfg Config, submitter Submitter, lock *LeaderLock, logger zerolog.Logger, metrics *observability.Metrics) (*TickScheduler, error) {
	cfg.applyDefaults()
	if cfg.Operator == "" {
		return nil, errors.New("scheduler: operator is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &TickScheduler{
		cron:      cron.New(cron.WithSeconds(), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		cfg:       cfg,
		submitter: submitter,
		lock:      lock,
		logger:    logger.With().Str("component", "scheduler").Logger(),
		metrics:   metrics,
		ctx:       ctx,
		cancel:    cancel,
	}

	if _, err := s.cron.AddFunc(cfg.Spec, s.runTick); err != nil {
		cancel()
		return nil, fmt.Errorf("scheduler: add tick job %q: %w", cfg.Spec, err)
	}
	return s, nil
}

func (s *TickScheduler) Start() {
	s.cron.Start()
	s.logger.Info().Str("spec", s.cfg.Spec).Str("operator", s.cfg.Operator).Msg("scheduler started")
}

// Stop cancels a running tick and waits for it to return.
func (s *TickScheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	s.logger.Info().Msg("scheduler stopped")
}

func (s *TickScheduler) runTick() {
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.Timeout)
	defer cancel()

	action, err := s.Tick(ctx)
	switch {
	case errors.Is(err, ErrLockHeld):
		s.logger.Debug().Str("key", s.lock.Key()).Msg("tick skipped, lock held elsewhere")
	case err != nil:
		s.logger.Warn().Err(err).Msg("tick failed")
	case action != core.ActionNoActionNeeded:
		s.logger.Info().Str("action", action).Msg("tick")
	}
}

// Tick submits one ExecuteRound and returns the engine's action.
func (s *TickScheduler) Tick(ctx context.Context) (string, error) {
	if s.lock != nil {
		release, err := s.lock.TryLock(ctx)
		if err != nil {
			s.record("skipped")
			return "", err
		}
		defer release()
	}

	cmd := core.Command{ID: uuid.New(), Kind: core.KindExecuteRound, Sender: s.cfg.Operator}
	res, err := s.submitter.Submit(ctx, cmd)
	if err != nil {
		s.record("error")
		return "", err
	}
	if res.Err != nil {
		s.record("rejected")
		return "", res.Err
	}

	s.record("ok")
	if res.Response == nil {
		return "", nil
	}
	return res.Response.Action, nil
}

func (s *TickScheduler) record(result string) {
	if s.metrics != nil {
		s.metrics.SchedulerTicks.WithLabelValues(result).Inc()
	}
}
