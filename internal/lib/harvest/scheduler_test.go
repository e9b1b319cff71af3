package harvest

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stakemesh/harvester/internal/lib/ledger"
)

func schedulerConfig(mode TriggerMode) Config {
	return Config{
		Mode:               mode,
		Interval:           5 * time.Millisecond,
		FirstWakeJitterMax: -1, // no jitter in tests
		EraEventJitterMax:  -1,
		ErrorInterval:      time.Millisecond,
		MaxCycleFailures:   2,
	}
}

func staticSubscribe(events chan ledger.EraID) SubscribeFunc {
	return func(ctx context.Context) (<-chan ledger.EraID, error) {
		return events, nil
	}
}

func TestSchedulerSingleShot(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		s := NewScheduler(slog.Default(), schedulerConfig(TriggerSingleShot), nil)
		runs := 0
		err := s.Run(context.Background(), func(ctx context.Context) error {
			runs++
			assert.Equal(t, StateRunning, s.State())
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 1, runs)
		assert.Equal(t, StateTerminated, s.State(), "single shot terminates without re-entering Waiting")
	})

	t.Run("failure propagates", func(t *testing.T) {
		s := NewScheduler(slog.Default(), schedulerConfig(TriggerSingleShot), nil)
		wantErr := errors.New("cycle burst")
		err := s.Run(context.Background(), func(ctx context.Context) error { return wantErr })
		assert.ErrorIs(t, err, wantErr)
		assert.Equal(t, StateTerminated, s.State())
	})
}

func TestSchedulerFixedIntervalCancelledCleanly(t *testing.T) {
	s := NewScheduler(slog.Default(), schedulerConfig(TriggerFixedInterval), nil)
	ctx, cancel := context.WithCancel(context.Background())

	ran := make(chan struct{})
	var once bool
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, func(ctx context.Context) error {
			if !once {
				once = true
				close(ran)
			}
			return nil
		})
	}()

	<-ran
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err, "cancellation is a clean shutdown, not a failure")
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop on cancellation")
	}
	assert.Equal(t, StateTerminated, s.State())
}

func TestSchedulerFixedIntervalFirstCycleIsImmediate(t *testing.T) {
	cfg := schedulerConfig(TriggerFixedInterval)
	cfg.Interval = time.Hour
	s := NewScheduler(slog.Default(), cfg, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ran := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, func(ctx context.Context) error {
			close(ran)
			return nil
		})
	}()

	// The first wake is jitter only, never a full interval.
	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("first cycle did not run promptly after startup")
	}
	cancel()
	require.NoError(t, <-done)
}

func TestSchedulerFailureThresholdFinalAttempt(t *testing.T) {
	t.Run("final attempt fails", func(t *testing.T) {
		s := NewScheduler(slog.Default(), schedulerConfig(TriggerFixedInterval), nil)
		attempts := 0
		err := s.Run(context.Background(), func(ctx context.Context) error {
			attempts++
			return errors.New("node unreachable")
		})
		// threshold of 2 tolerated failures: the third consecutive failure
		// trips it, leaving exactly one post-hold final attempt.
		assert.Error(t, err)
		assert.Equal(t, 4, attempts, "threshold attempts plus exactly one final attempt")
		assert.Equal(t, StateTerminated, s.State())
	})

	t.Run("final attempt succeeds", func(t *testing.T) {
		s := NewScheduler(slog.Default(), schedulerConfig(TriggerFixedInterval), nil)
		attempts := 0
		err := s.Run(context.Background(), func(ctx context.Context) error {
			attempts++
			if attempts == 4 {
				return nil
			}
			return errors.New("node unreachable")
		})
		assert.NoError(t, err, "a successful final attempt terminates cleanly")
		assert.Equal(t, 4, attempts)
		assert.Equal(t, StateTerminated, s.State())
	})
}

func TestSchedulerEraEventsCoalesce(t *testing.T) {
	events := make(chan ledger.EraID, 16)
	s := NewScheduler(slog.Default(), schedulerConfig(TriggerEraEvent), staticSubscribe(events))

	started := make(chan struct{})
	proceed := make(chan struct{})
	runs := 0
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, func(ctx context.Context) error {
			runs++
			started <- struct{}{}
			<-proceed
			return nil
		})
	}()

	// The scheduler runs once up front; queue several era events while that
	// first cycle is still Running.
	<-started
	events <- 100
	events <- 101
	events <- 102
	proceed <- struct{}{}

	// All three queued events must collapse into exactly one follow-up cycle.
	<-started
	proceed <- struct{}{}

	select {
	case <-started:
		t.Fatal("queued events must coalesce into a single pending cycle")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, 2, runs)
	assert.Equal(t, StateWaiting, s.State())

	// A fresh event after the drain triggers a fresh cycle.
	events <- 103
	<-started
	proceed <- struct{}{}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop on cancellation")
	}
	assert.Equal(t, 3, runs)
}

func TestSchedulerResubscribesOnClosedStream(t *testing.T) {
	first := make(chan ledger.EraID)
	second := make(chan ledger.EraID, 1)
	subscriptions := 0
	subscribe := func(ctx context.Context) (<-chan ledger.EraID, error) {
		subscriptions++
		if subscriptions == 1 {
			return first, nil
		}
		return second, nil
	}
	s := NewScheduler(slog.Default(), schedulerConfig(TriggerEraEvent), subscribe)

	runs := make(chan int, 8)
	count := 0
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, func(ctx context.Context) error {
			count++
			runs <- count
			return nil
		})
	}()

	require.Equal(t, 1, <-runs, "up-front cycle")
	close(first) // dropped subscription
	second <- 42
	require.Equal(t, 2, <-runs, "cycle from the replacement subscription")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop on cancellation")
	}
	assert.Equal(t, 2, subscriptions)
}
