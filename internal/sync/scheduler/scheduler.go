// Package scheduler owns the replay trigger policy: one replay pass on
// every offline-to-online transition, plus a periodic pass while online to
// catch operations enqueued after the last pass.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/quickmart/poscore/internal/errors"
	"github.com/quickmart/poscore/internal/logging"
	"github.com/quickmart/poscore/internal/sync/queue"
)

// Replayer is the queue surface the scheduler drives.
type Replayer interface {
	Replay(ctx context.Context, submit queue.SubmitFunc) (*queue.ReplayResult, error)
	Count() int
}

// ConnectivitySource is the monitor surface the scheduler subscribes to.
type ConnectivitySource interface {
	Online() bool
	OnChange(handler func(online bool)) func()
}

// Config holds scheduler configuration.
type Config struct {
	// ReplayInterval is how often to replay while online (default: 1 minute).
	ReplayInterval time.Duration
}

// DefaultConfig returns default scheduler configuration.
func DefaultConfig() *Config {
	return &Config{
		ReplayInterval: 1 * time.Minute,
	}
}

// Scheduler triggers replay passes. Overlapping triggers are harmless: the
// queue's own replay guard turns the second pass into a skip.
type Scheduler struct {
	queue    Replayer
	submit   queue.SubmitFunc
	source   ConnectivitySource
	interval time.Duration

	mu          sync.Mutex
	isRunning   bool
	lastReplay  time.Time
	unsubscribe func()
	triggerCh   chan struct{}
	stopCh      chan struct{}
	wg          sync.WaitGroup
}

// New creates a Scheduler.
func New(q Replayer, submit queue.SubmitFunc, source ConnectivitySource, config *Config) *Scheduler {
	if config == nil {
		config = DefaultConfig()
	}
	interval := config.ReplayInterval
	if interval <= 0 {
		interval = DefaultConfig().ReplayInterval
	}
	return &Scheduler{
		queue:     q,
		submit:    submit,
		source:    source,
		interval:  interval,
		triggerCh: make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
	}
}

// Start starts the scheduler. Idempotent.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.mu.Unlock()

	s.unsubscribe = s.source.OnChange(func(online bool) {
		if online {
			// Reconnect edge: replay whatever accumulated while offline.
			s.TriggerNow()
		}
	})

	s.wg.Add(1)
	go s.loop(ctx)

	logging.Info("Replay scheduler started", map[string]interface{}{
		"interval_seconds": s.interval.Seconds(),
	})
}

// Stop stops the scheduler gracefully and unsubscribes from connectivity
// events.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	s.mu.Unlock()

	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	close(s.stopCh)
	s.wg.Wait()

	logging.Info("Replay scheduler stopped", nil)
}

// TriggerNow requests an immediate replay pass. Non-blocking; if a trigger
// is already pending the request is coalesced into it.
func (s *Scheduler) TriggerNow() {
	select {
	case s.triggerCh <- struct{}{}:
	default:
	}
}

// LastReplay returns when the last replay pass finished, zero if none ran.
func (s *Scheduler) LastReplay() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastReplay
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-s.triggerCh:
			s.runReplay(ctx)
		case <-ticker.C:
			if !s.source.Online() {
				continue
			}
			if s.queue.Count() == 0 {
				continue
			}
			s.runReplay(ctx)
		}
	}
}

func (s *Scheduler) runReplay(ctx context.Context) {
	result, err := s.queue.Replay(ctx, s.submit)
	if err != nil {
		if errors.Is(err, errors.ErrReplayInProgress) {
			logging.Debug("Replay already in progress, skipping", nil)
			return
		}
		logging.ErrorWithCode("Replay pass failed", string(errors.CodeOf(err)), err, nil)
		return
	}

	s.mu.Lock()
	s.lastReplay = time.Now()
	s.mu.Unlock()

	if result.Attempted > 0 {
		logging.Info("Scheduled replay finished", map[string]interface{}{
			"delivered": result.Delivered,
			"retained":  result.Retained,
			"dropped":   result.Dropped,
		})
	}
}
