package harvest

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stakemesh/harvester/internal/lib/ledger"
)

const testSigner = "0xsigner"

func newTestSubmitter(fl *fakeLedger, maxRetries int, inclusionTimeout time.Duration) *Submitter {
	netCfg := ledger.NetworkConfig{Tip: 3, MortalPeriod: 32}
	return NewSubmitter(slog.Default(), fl, newFakeSigner(testSigner), testSigner, netCfg, maxRetries, inclusionTimeout)
}

func TestSubmitterFinalized(t *testing.T) {
	fl := newFakeLedger(10)
	fl.statusScript = func(batch *ledger.SignedBatch) []ledger.SubmissionStatus {
		// Intermediate states must be waited through, not acted on.
		return []ledger.SubmissionStatus{
			{State: ledger.StateBroadcast},
			{State: ledger.StateInBlock, Block: 900},
			{State: ledger.StateFinalized, Block: 901, Items: []ledger.ItemResult{{Index: 0}}},
		}
	}
	s := newTestSubmitter(fl, 3, time.Minute)

	res, err := s.Submit(context.Background(), payoutTasks(5))
	require.NoError(t, err)
	assert.EqualValues(t, 901, res.Block)
	assert.Len(t, res.Items, 1)
	require.Len(t, fl.submittedBatches(), 1)

	batch := fl.submittedBatches()[0]
	assert.Equal(t, ledger.EraID(5), batch[0].Era)
}

func TestSubmitterSignsBeforeSubmit(t *testing.T) {
	fl := newFakeLedger(10)
	signer := newFakeSigner(testSigner)
	signer.signErr = fmt.Errorf("locked keystore: %w", ledger.ErrSigning)
	s := NewSubmitter(slog.Default(), fl, signer, testSigner, ledger.NetworkConfig{}, 3, time.Minute)

	_, err := s.Submit(context.Background(), payoutTasks(5))
	assert.ErrorIs(t, err, ledger.ErrSigning)
	assert.Empty(t, fl.submittedBatches(), "a batch that cannot be signed is never submitted")
}

func TestSubmitterTerminalRejectionsDoNotRetry(t *testing.T) {
	testCases := []struct {
		name    string
		status  ledger.SubmissionStatus
		wantErr error
	}{
		{
			name:    "overweight passes through for the planner",
			status:  ledger.SubmissionStatus{State: ledger.StateInvalid, Err: fmt.Errorf("too heavy: %w", ledger.ErrOverweight)},
			wantErr: ledger.ErrOverweight,
		},
		{
			name:    "invalid without detail",
			status:  ledger.SubmissionStatus{State: ledger.StateInvalid},
			wantErr: ledger.ErrSubmissionRejected,
		},
		{
			name:    "invalid with chain detail",
			status:  ledger.SubmissionStatus{State: ledger.StateInvalid, Err: fmt.Errorf("stale nonce")},
			wantErr: ledger.ErrSubmissionRejected,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			fl := newFakeLedger(10)
			fl.statusScript = func(*ledger.SignedBatch) []ledger.SubmissionStatus {
				return []ledger.SubmissionStatus{tc.status}
			}
			s := newTestSubmitter(fl, 3, time.Minute)

			_, err := s.Submit(context.Background(), payoutTasks(5))
			assert.ErrorIs(t, err, tc.wantErr)
			assert.Len(t, fl.submittedBatches(), 1, "terminal rejections must not burn retries")
		})
	}
}

func TestSubmitterInclusionTimeout(t *testing.T) {
	fl := newFakeLedger(10)
	fl.hangSubmission = true
	s := newTestSubmitter(fl, 0, 20*time.Millisecond)

	start := time.Now()
	_, err := s.Submit(context.Background(), payoutTasks(5))
	assert.ErrorIs(t, err, ledger.ErrInclusionTimeout)
	assert.Less(t, time.Since(start), time.Second)
	assert.Len(t, fl.submittedBatches(), 1)
}

func TestSubmitterDroppedIsRetryable(t *testing.T) {
	fl := newFakeLedger(10)
	fl.statusScript = func(*ledger.SignedBatch) []ledger.SubmissionStatus {
		return []ledger.SubmissionStatus{{State: ledger.StateDropped}}
	}
	// Zero extra retries so the test doesn't sit in backoff.
	s := newTestSubmitter(fl, 0, time.Minute)

	_, err := s.Submit(context.Background(), payoutTasks(5))
	assert.ErrorIs(t, err, ledger.ErrTransient)
	assert.True(t, ledger.Retryable(err))
}

func TestSubmitterStreamClosedIsRetryable(t *testing.T) {
	fl := newFakeLedger(10)
	fl.statusScript = func(*ledger.SignedBatch) []ledger.SubmissionStatus {
		return nil // closed with no terminal status
	}
	s := newTestSubmitter(fl, 0, time.Minute)

	_, err := s.Submit(context.Background(), payoutTasks(5))
	assert.ErrorIs(t, err, ledger.ErrTransient)
}

func TestSubmitterPerSignerLocks(t *testing.T) {
	s := newTestSubmitter(newFakeLedger(10), 0, time.Minute)

	lockA := s.lockFor("addr-a")
	assert.Same(t, lockA, s.lockFor("addr-a"), "same signer must serialize on one lock")
	assert.NotSame(t, lockA, s.lockFor("addr-b"), "independent signers must not share a lock")
}
