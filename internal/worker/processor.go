// Package worker runs the periodic loops of the worker binary.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"time"

	"fleet-dashboard/internal/telemetry"
)

// TickFunc is one unit of periodic work.
type TickFunc func(ctx context.Context) error

type loop struct {
	name     string
	interval time.Duration
	fn       TickFunc
}

// Options configures a Processor.
type Options struct {
	Logger *slog.Logger
	// TickTimeout bounds a single tick.
	TickTimeout time.Duration
	// MaxBackoff caps the delay after consecutive failures.
	MaxBackoff time.Duration
}

// Processor drives every registered loop until its context is cancelled.
// Ticks of one loop never overlap; different loops run concurrently.
type Processor struct {
	logger      *slog.Logger
	tickTimeout time.Duration
	maxBackoff  time.Duration
	loops       []loop
}

func NewProcessor(opts Options) *Processor {
	p := &Processor{
		logger:      opts.Logger,
		tickTimeout: opts.TickTimeout,
		maxBackoff:  opts.MaxBackoff,
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.tickTimeout <= 0 {
		p.tickTimeout = 10 * time.Second
	}
	if p.maxBackoff <= 0 {
		p.maxBackoff = 5 * time.Minute
	}
	return p
}

// RegisterTick binds fn to run every interval under name.
func (p *Processor) RegisterTick(name string, interval time.Duration, fn TickFunc) {
	if name == "" || fn == nil || interval <= 0 {
		return
	}
	p.loops = append(p.loops, loop{name: name, interval: interval, fn: fn})
}

// Run starts every loop and blocks until ctx is cancelled and all in-flight ticks return.
func (p *Processor) Run(ctx context.Context) error {
	if len(p.loops) == 0 {
		return errors.New("worker: no loops registered")
	}
	var wg sync.WaitGroup
	for _, l := range p.loops {
		wg.Add(1)
		go func(l loop) {
			defer wg.Done()
			p.runLoop(ctx, l)
		}(l)
	}
	wg.Wait()
	return ctx.Err()
}

func (p *Processor) runLoop(ctx context.Context, l loop) {
	logger := p.logger.With("loop", l.name)
	logger.Info("loop started", "interval", l.interval)
	failures := 0
	for {
		wait := l.interval
		if err := p.runTick(ctx, l); err != nil {
			if ctx.Err() != nil {
				break
			}
			failures++
			wait = backoffWithJitter(l.interval, p.maxBackoff, failures)
			if wait < l.interval {
				wait = l.interval
			}
			logger.Warn("tick failed", "error", err, "consecutive_failures", failures, "next_in", wait)
		} else {
			failures = 0
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			logger.Info("loop stopped")
			return
		case <-timer.C:
		}
	}
	logger.Info("loop stopped")
}

// runTick applies the tick timeout and turns a panic into an error.
func (p *Processor) runTick(ctx context.Context, l loop) (err error) {
	tickCtx, cancel := context.WithTimeout(ctx, p.tickTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			telemetry.TickFailures.WithLabelValues(l.name, "panic").Inc()
			err = fmt.Errorf("tick %s panicked: %v", l.name, r)
		}
	}()

	err = l.fn(tickCtx)
	switch {
	case err == nil:
	case ctx.Err() != nil:
		// shutdown, not a failure
	case errors.Is(err, context.DeadlineExceeded) || tickCtx.Err() != nil:
		telemetry.TickFailures.WithLabelValues(l.name, "timeout").Inc()
	default:
		telemetry.TickFailures.WithLabelValues(l.name, "error").Inc()
	}
	return err
}

func backoffWithJitter(base, max time.Duration, attempt int) time.Duration {
	if attempt <= 0 {
		return base
	}
	wait := max
	if exp := float64(base) * math.Pow(2, float64(attempt-1)); exp < float64(max) {
		wait = time.Duration(exp)
	}
	if wait < 2 {
		return wait
	}
	jitter := time.Duration(rand.Int63n(int64(wait / 2)))
	return wait/2 + jitter
}
