// Package pacing spaces out page visits with a randomized pause after every
// work item.
package pacing

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/pagecount-runner/internal/metrics"
)

// Default delay bounds in whole seconds, both inclusive.
const (
	DefaultMinSeconds = 10
	DefaultMaxSeconds = 40
)

// Config bounds the delay drawn after each item.
type Config struct {
	MinSeconds int
	MaxSeconds int
}

// Sleeper blocks for a duration.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// Pacer draws a uniformly random whole number of seconds in
// [MinSeconds, MaxSeconds] and sleeps for it. The draw does not depend on
// the outcome of previous items.
type Pacer struct {
	cfg     Config
	sleeper Sleeper
	intN    func(int) int
	logger  *zap.Logger
}

// New validates cfg and builds a Pacer.
func New(cfg Config, sleeper Sleeper, logger *zap.Logger) (*Pacer, error) {
	if cfg.MinSeconds < 0 {
		return nil, fmt.Errorf("pacing min seconds must be >= 0, got %d", cfg.MinSeconds)
	}
	if cfg.MaxSeconds < cfg.MinSeconds {
		return nil, fmt.Errorf("pacing max seconds (%d) must be >= min seconds (%d)", cfg.MaxSeconds, cfg.MinSeconds)
	}
	if sleeper == nil {
		return nil, fmt.Errorf("pacing sleeper is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pacer{
		cfg:     cfg,
		sleeper: sleeper,
		intN:    rand.IntN,
		logger:  logger,
	}, nil
}

// Next draws the next delay.
func (p *Pacer) Next() time.Duration {
	seconds := p.cfg.MinSeconds + p.intN(p.cfg.MaxSeconds-p.cfg.MinSeconds+1)
	return time.Duration(seconds) * time.Second
}

// Wait draws a delay, logs it and sleeps. It returns the drawn delay even
// when the sleep is interrupted.
func (p *Pacer) Wait(ctx context.Context) (time.Duration, error) {
	delay := p.Next()
	p.logger.Info("sleeping", zap.Int("seconds", int(delay/time.Second)))
	metrics.ObservePacingDelay(delay)
	if err := p.sleeper.Sleep(ctx, delay); err != nil {
		return delay, fmt.Errorf("pacing wait: %w", err)
	}
	return delay, nil
}
