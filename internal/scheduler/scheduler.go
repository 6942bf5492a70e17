// Package scheduler drives the periodic detection pass. One job, one cron
// entry; overlapping ticks are skipped rather than queued so a slow pass
// never stacks up behind itself.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"ipuwatch/pkg/logx"
)

type Config struct {
	Enabled bool
	// Spec is a standard 5-field cron expression.
	Spec     string
	Timezone string
	// PassTimeout bounds one pass; a pass exceeding it abandons remaining
	// sources rather than stalling the next tick.
	PassTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.Spec) == "" {
		c.Spec = "*/2 * * * *"
	}
	if strings.TrimSpace(c.Timezone) == "" {
		c.Timezone = "Asia/Kolkata"
	}
	if c.PassTimeout <= 0 {
		c.PassTimeout = 2 * time.Minute
	}
	return c
}

type Service struct {
	cfg Config
	log logx.Logger
	job func(ctx context.Context)

	mu      sync.Mutex
	c       *cron.Cron
	running bool
	runCtx  context.Context
	cancel  context.CancelFunc
}

// New builds the scheduler around job. The job receives a context bounded
// by PassTimeout.
func New(cfg Config, log logx.Logger, job func(ctx context.Context)) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg.withDefaults(), log: log, job: job}
}

func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.cfg.Enabled {
		s.log.Info("scheduler disabled")
		return nil
	}
	if s.c != nil {
		return nil
	}

	loc, err := time.LoadLocation(s.cfg.Timezone)
	if err != nil {
		return fmt.Errorf("scheduler timezone %q: %w", s.cfg.Timezone, err)
	}

	s.runCtx, s.cancel = context.WithCancel(ctx)
	s.c = cron.New(cron.WithLocation(loc))

	if _, err := s.c.AddFunc(s.cfg.Spec, s.tick); err != nil {
		s.c = nil
		s.cancel()
		return fmt.Errorf("scheduler spec %q: %w", s.cfg.Spec, err)
	}

	s.c.Start()
	s.log.Info("scheduler started",
		logx.String("spec", s.cfg.Spec),
		logx.String("tz", loc.String()),
		logx.Duration("pass_timeout", s.cfg.PassTimeout))
	return nil
}

func (s *Service) tick() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		// Previous pass still going; partial passes are safe, overlapping
		// ones would race the per-source compare-and-set for no benefit.
		s.log.Warn("tick skipped, previous pass still running")
		return
	}
	s.running = true
	runCtx := s.runCtx
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(runCtx, s.cfg.PassTimeout)
	defer cancel()
	s.job(ctx)
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	cancel := s.cancel
	s.c = nil
	s.cancel = nil
	s.mu.Unlock()

	if c == nil {
		return
	}
	if cancel != nil {
		cancel()
	}
	// cron.Stop returns a context that is done when running jobs finish.
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		s.log.Warn("scheduler stop timed out")
	}
	s.log.Info("scheduler stopped")
}
