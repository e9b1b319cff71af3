package harvest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ssgreg/repeat"

	"github.com/stakemesh/harvester/internal/lib/ledger"
	"github.com/stakemesh/harvester/internal/lib/misc"
	"github.com/stakemesh/harvester/internal/lib/signer"
)

// Submitter signs batches, submits them, and waits for a terminal status.
// Retryable failures (transient connectivity, inclusion timeout) are retried
// with full-jitter backoff up to a bound before escalating; terminal
// failures surface immediately.  Submissions for the same signing address
// are strictly serialized to keep nonce ordering; independent signers may
// submit concurrently.
type Submitter struct {
	logger   *slog.Logger
	client   ledger.Client
	keystore signer.MultipleKeySigner

	signerAddr       string
	tip              uint64
	mortalPeriod     uint64
	maxRetries       int
	inclusionTimeout time.Duration

	mu          sync.Mutex
	signerLocks map[string]*sync.Mutex
}

func NewSubmitter(logger *slog.Logger, client ledger.Client, keystore signer.MultipleKeySigner,
	signerAddr string, netCfg ledger.NetworkConfig, maxRetries int, inclusionTimeout time.Duration) *Submitter {
	return &Submitter{
		logger:           logger,
		client:           client,
		keystore:         keystore,
		signerAddr:       signerAddr,
		tip:              netCfg.Tip,
		mortalPeriod:     netCfg.MortalPeriod,
		maxRetries:       maxRetries,
		inclusionTimeout: inclusionTimeout,
		signerLocks:      map[string]*sync.Mutex{},
	}
}

func (s *Submitter) lockFor(addr string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.signerLocks[addr]
	if !ok {
		l = &sync.Mutex{}
		s.signerLocks[addr] = l
	}
	return l
}

// Submit signs and submits one ordered task slice as a single batch.  The
// returned error, when non-nil, is already classified: retryable classes
// were exhausted here and escalate to the caller; overweight and other
// terminal conditions come through untouched for the planner to act on.
func (s *Submitter) Submit(ctx context.Context, tasks []ledger.ClaimTask) (*BatchResult, error) {
	batch := &ledger.SignedBatch{
		Tasks:        tasks,
		Tip:          s.tip,
		MortalPeriod: s.mortalPeriod,
	}
	if err := s.keystore.SignBatch(ctx, batch, s.signerAddr); err != nil {
		return nil, err
	}

	lock := s.lockFor(s.signerAddr)
	lock.Lock()
	defer lock.Unlock()

	var (
		result  *BatchResult
		lastErr error
	)
	err := repeat.Repeat(
		repeat.Fn(func() error {
			res, err := s.attempt(ctx, batch)
			if err != nil {
				lastErr = err
				if ledger.Retryable(err) {
					return repeat.HintTemporary(err)
				}
				return repeat.HintStop(err)
			}
			lastErr = nil
			result = res
			return nil
		}),
		repeat.StopOnSuccess(),
		repeat.LimitMaxTries(s.maxRetries+1),
		repeat.FnOnError(func(err error) error {
			misc.Warnf(s.logger, "retrying submission of %d calls, error:%v", len(tasks), err)
			return err
		}),
		repeat.WithDelay(
			repeat.SetContextHintStop(),
			(&repeat.FullJitterBackoffBuilder{
				BaseDelay: 5 * time.Second,
				MaxDelay:  30 * time.Second,
			}).Set(),
		),
	)
	if lastErr != nil {
		return nil, lastErr
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

// attempt performs one submission and waits for a terminal status only -
// intermediate broadcast states are ignored.  A bounded inclusion wait
// converts to a retryable failure.
func (s *Submitter) attempt(ctx context.Context, batch *ledger.SignedBatch) (*BatchResult, error) {
	statusCh, err := s.client.Submit(ctx, batch)
	if err != nil {
		return nil, err
	}

	timeout := time.NewTimer(s.inclusionTimeout)
	defer timeout.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("submission interrupted: %w", ledger.ErrTransient)
		case <-timeout.C:
			return nil, fmt.Errorf("after %v: %w", s.inclusionTimeout, ledger.ErrInclusionTimeout)
		case status, ok := <-statusCh:
			if !ok {
				return nil, fmt.Errorf("status stream closed before terminal status: %w", ledger.ErrTransient)
			}
			if !status.State.Terminal() {
				continue
			}
			switch status.State {
			case ledger.StateFinalized:
				return &BatchResult{Block: status.Block, Items: status.Items}, nil
			case ledger.StateDropped:
				if status.Err != nil {
					return nil, status.Err
				}
				return nil, fmt.Errorf("transaction dropped: %w", ledger.ErrTransient)
			case ledger.StateInvalid:
				if status.Err != nil && errors.Is(status.Err, ledger.ErrOverweight) {
					return nil, status.Err
				}
				if status.Err != nil {
					return nil, fmt.Errorf("%v: %w", status.Err, ledger.ErrSubmissionRejected)
				}
				return nil, fmt.Errorf("transaction invalid: %w", ledger.ErrSubmissionRejected)
			}
		}
	}
}
