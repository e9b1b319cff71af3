package harvest

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/stakemesh/harvester/internal/lib/ledger"
	"github.com/stakemesh/harvester/internal/lib/misc"
)

// SchedState is the observable scheduler state.
type SchedState int32

const (
	StateIdle SchedState = iota
	StateWaiting
	StateRunning
	StateTerminated
)

func (s SchedState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWaiting:
		return "waiting"
	case StateRunning:
		return "running"
	case StateTerminated:
		return "terminated"
	}
	return "unknown"
}

// CycleFunc runs one full cycle to completion.  There is no mid-flight
// cancellation; the only bounded wait inside is the per-submission inclusion
// timeout.
type CycleFunc func(ctx context.Context) error

// SubscribeFunc opens the era-paid event stream.
type SubscribeFunc func(ctx context.Context) (<-chan ledger.EraID, error)

// Scheduler decides when a cycle executes: on era-paid events, on a fixed
// interval, or exactly once.  At most one cycle runs at a time; events
// arriving while a cycle is Running coalesce into a single pending trigger.
type Scheduler struct {
	logger *slog.Logger

	mode               TriggerMode
	interval           time.Duration
	firstWakeJitterMax time.Duration
	eraEventJitterMax  time.Duration
	errorInterval      time.Duration
	maxFailures        int

	subscribe SubscribeFunc

	state atomic.Int32
}

func NewScheduler(logger *slog.Logger, cfg Config, subscribe SubscribeFunc) *Scheduler {
	return &Scheduler{
		logger:             logger,
		mode:               cfg.Mode,
		interval:           cfg.Interval,
		firstWakeJitterMax: cfg.FirstWakeJitterMax,
		eraEventJitterMax:  cfg.EraEventJitterMax,
		errorInterval:      cfg.ErrorInterval,
		maxFailures:        cfg.MaxCycleFailures,
		subscribe:          subscribe,
	}
}

func (s *Scheduler) State() SchedState {
	return SchedState(s.state.Load())
}

func (s *Scheduler) setState(st SchedState) {
	s.state.Store(int32(st))
}

// Run drives the state machine until the mode terminates, the consecutive
// failure threshold trips, or ctx is cancelled (a clean shutdown).  The
// consecutive-failure count is an explicit local threaded through the loop -
// it resets on success, and once the threshold is exceeded the scheduler
// waits one error-interval, attempts exactly one final cycle and terminates
// on that attempt's outcome.  Never a tight retry loop.
func (s *Scheduler) Run(ctx context.Context, cycle CycleFunc) error {
	defer s.setState(StateTerminated)
	s.setState(StateWaiting)

	failures := 0
	runOnce := func() error {
		s.setState(StateRunning)
		err := cycle(ctx)
		if s.mode == TriggerSingleShot {
			// Single shot never re-enters Waiting.
			s.setState(StateTerminated)
		} else {
			s.setState(StateWaiting)
		}
		if err != nil {
			failures++
			promCycleFailures.Inc()
			misc.Warnf(s.logger, "cycle failed (%d consecutive): %v", failures, err)
		} else {
			failures = 0
		}
		return err
	}

	// lastChance waits one error-interval then attempts exactly one final
	// cycle.  The scheduler terminates afterwards either way.
	lastChance := func() error {
		misc.Warnf(s.logger, "%d consecutive cycle failures, final attempt in %v", failures, s.errorInterval)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(s.errorInterval):
		}
		if err := runOnce(); err != nil {
			return fmt.Errorf("terminating after final cycle attempt: %w", err)
		}
		return nil
	}

	switch s.mode {
	case TriggerSingleShot:
		// Exactly one Running phase, then Terminated regardless of outcome.
		return runOnce()

	case TriggerFixedInterval:
		// The first cycle runs after the jitter alone, not after a full
		// interval: a freshly started daemon claims whatever is already
		// pending instead of sitting idle for hours.  Only that first wake
		// is jittered, so independently operated instances don't all submit
		// at the same instant after a restart.
		wake := randomJitter(s.firstWakeJitterMax)
		misc.Infof(s.logger, "first cycle in %v, then every %v", wake.Round(time.Second), s.interval)
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(wake):
			}
			if runOnce(); failures > s.maxFailures {
				return lastChance()
			}
			wake = s.interval
		}

	case TriggerEraEvent:
		return s.runEraEvent(ctx, runOnce, func() bool { return failures > s.maxFailures }, lastChance)
	}
	return fmt.Errorf("unknown trigger mode %d", s.mode)
}

func (s *Scheduler) runEraEvent(ctx context.Context, runOnce func() error, tripped func() bool, lastChance func() error) error {
	events, err := s.subscribe(ctx)
	if err != nil {
		return fmt.Errorf("era event subscription: %w", err)
	}

	// Run once up front - rewards may already be waiting from before the
	// process started.
	if runOnce(); tripped() {
		return lastChance()
	}

	pending := false
	for {
		if !pending {
			select {
			case <-ctx.Done():
				return nil
			case era, ok := <-events:
				if !ok {
					events, err = s.subscribe(ctx)
					if err != nil {
						return fmt.Errorf("era event resubscription: %w", err)
					}
					continue
				}
				misc.Infof(s.logger, "era %d paid", era)
			}
		}
		pending = false

		// Spread independently operated instances out after the shared era
		// boundary.
		if wait := randomJitter(s.eraEventJitterMax); wait > 0 {
			misc.Infof(s.logger, "waiting %v before running cycle", wait.Round(time.Second))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(wait):
			}
		}

		if runOnce(); tripped() {
			return lastChance()
		}

		// Coalesce: anything that arrived while Running collapses to one
		// pending trigger, never a concurrent cycle.
		for drained := false; !drained; {
			select {
			case _, ok := <-events:
				if !ok {
					events, err = s.subscribe(ctx)
					if err != nil {
						return fmt.Errorf("era event resubscription: %w", err)
					}
					drained = true
					continue
				}
				pending = true
			default:
				drained = true
			}
		}
	}
}

func randomJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(max)))
}
