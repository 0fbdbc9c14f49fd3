package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonesrussell/north-cloud/blog-crawler/internal/logger"
	"github.com/robfig/cron/v3"
)

// Substrate runs periodic callbacks. The scheduler depends only on this
// interface, not on a particular execution engine.
type Substrate interface {
	Schedule(interval time.Duration, fn func(ctx context.Context)) error
	Start()
	Stop(ctx context.Context) error
}

// ErrInvalidInterval is returned by Schedule for a non-positive interval.
var ErrInvalidInterval = errors.New("schedule interval must be positive")

// CronSubstrate runs callbacks on robfig/cron. A callback that is still
// running when its next tick fires is skipped, and panics are recovered.
type CronSubstrate struct {
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
}

// NewCronSubstrate creates a CronSubstrate logging through log.
func NewCronSubstrate(log logger.Logger) *CronSubstrate {
	cl := cronLogger{log: log}
	ctx, cancel := context.WithCancel(context.Background())
	return &CronSubstrate{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Schedule registers fn to run every interval. Sub-second intervals are
// rounded up to one second by cron.
func (s *CronSubstrate) Schedule(interval time.Duration, fn func(ctx context.Context)) error {
	if interval <= 0 {
		return ErrInvalidInterval
	}
	if _, err := s.cron.AddFunc("@every "+interval.String(), func() { fn(s.ctx) }); err != nil {
		return fmt.Errorf("add cron func: %w", err)
	}
	return nil
}

// Start begins firing callbacks.
func (s *CronSubstrate) Start() {
	s.cron.Start()
}

// Stop cancels the callback context and waits for running callbacks.
func (s *CronSubstrate) Stop(ctx context.Context) error {
	s.cancel()
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// cronLogger adapts logger.Logger to cron.Logger.
type cronLogger struct {
	log logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug("cron: "+msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error("cron: "+msg, append(kvFields(keysAndValues), logger.Error(err))...)
}

func kvFields(kv []any) []logger.Field {
	fields := make([]logger.Field, 0, len(kv)/2+1)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			key = fmt.Sprint(kv[i])
		}
		fields = append(fields, logger.Any(key, kv[i+1]))
	}
	return fields
}

// ManualSubstrate fires callbacks only when Fire is called. Tests and the
// one-shot CLI use it.
type ManualSubstrate struct {
	mu        sync.Mutex
	callbacks []func(ctx context.Context)
	started   bool
}

// NewManualSubstrate creates an empty ManualSubstrate.
func NewManualSubstrate() *ManualSubstrate {
	return &ManualSubstrate{}
}

// Schedule records fn; interval is only validated.
func (s *ManualSubstrate) Schedule(interval time.Duration, fn func(ctx context.Context)) error {
	if interval <= 0 {
		return ErrInvalidInterval
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callbacks = append(s.callbacks, fn)
	return nil
}

// Start marks the substrate started.
func (s *ManualSubstrate) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = true
}

// Stop marks the substrate stopped.
func (s *ManualSubstrate) Stop(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = false
	return nil
}

// Fire runs every registered callback synchronously if started.
func (s *ManualSubstrate) Fire(ctx context.Context) {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	callbacks := append([]func(context.Context){}, s.callbacks...)
	s.mu.Unlock()

	for _, fn := range callbacks {
		fn(ctx)
	}
}
