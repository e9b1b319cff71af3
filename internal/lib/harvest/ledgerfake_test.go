package harvest

import (
	"context"
	"fmt"
	"sync"

	"github.com/stakemesh/harvester/internal/lib/ledger"
)

// fakeLedger is an in-memory ledger.Client with a configurable executable
// weight ceiling and scriptable submission outcomes.
type fakeLedger struct {
	mu sync.Mutex

	activeEra    ledger.EraID
	activeEraErr error
	historyDepth uint32
	records      map[string]*ledger.RewardRecord
	activeStake  func(stash string, era ledger.EraID) bool

	// weightLimit is the true executable ceiling: batches larger than this
	// are rejected overweight.  0 means every batch fits.
	weightLimit int

	// statusScript, when set, overrides the default submission behavior.
	statusScript func(batch *ledger.SignedBatch) []ledger.SubmissionStatus
	// hangSubmission returns a status stream that never emits.
	hangSubmission bool
	// markClaimedOnSuccess appends finalized payout eras to the stash record
	// so a repeat cycle sees them as claimed.
	markClaimedOnSuccess bool

	submissions [][]ledger.ClaimTask

	freeBalance  uint64
	existential  uint64
	identities   map[string]string
	nominees     map[uint32]*ledger.PoolNominees
	compoundable map[uint32][]string
	commission   map[uint32]uint64

	eraCh chan ledger.EraID
}

func newFakeLedger(activeEra ledger.EraID) *fakeLedger {
	return &fakeLedger{
		activeEra:    activeEra,
		historyDepth: 84,
		records:      map[string]*ledger.RewardRecord{},
		activeStake:  func(string, ledger.EraID) bool { return true },
		identities:   map[string]string{},
		nominees:     map[uint32]*ledger.PoolNominees{},
		compoundable: map[uint32][]string{},
		commission:   map[uint32]uint64{},
	}
}

func (f *fakeLedger) setRecord(stash string, claimed ...ledger.EraID) {
	f.records[stash] = &ledger.RewardRecord{Encoding: ledger.EncodingList, ClaimedEras: claimed}
}

func (f *fakeLedger) submittedBatches() [][]ledger.ClaimTask {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submissions
}

func (f *fakeLedger) ActiveEra(ctx context.Context) (ledger.EraID, error) {
	if f.activeEraErr != nil {
		return 0, f.activeEraErr
	}
	return f.activeEra, nil
}

func (f *fakeLedger) HistoryDepth(ctx context.Context) (uint32, error) {
	return f.historyDepth, nil
}

func (f *fakeLedger) RewardState(ctx context.Context, stash string) (*ledger.RewardRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[stash]
	if !ok {
		return nil, fmt.Errorf("no reward state for %s: %w", stash, ledger.ErrQueryUnsupported)
	}
	cp := *rec
	cp.ClaimedEras = append([]ledger.EraID(nil), rec.ClaimedEras...)
	return &cp, nil
}

func (f *fakeLedger) StakeActive(ctx context.Context, stash string, era ledger.EraID) (bool, error) {
	return f.activeStake(stash, era), nil
}

func (f *fakeLedger) SubscribeEraPaid(ctx context.Context) (<-chan ledger.EraID, error) {
	if f.eraCh == nil {
		f.eraCh = make(chan ledger.EraID, 16)
	}
	return f.eraCh, nil
}

func (f *fakeLedger) Submit(ctx context.Context, batch *ledger.SignedBatch) (<-chan ledger.SubmissionStatus, error) {
	f.mu.Lock()
	f.submissions = append(f.submissions, append([]ledger.ClaimTask(nil), batch.Tasks...))
	f.mu.Unlock()

	if f.hangSubmission {
		return make(chan ledger.SubmissionStatus), nil
	}

	var statuses []ledger.SubmissionStatus
	switch {
	case f.statusScript != nil:
		statuses = f.statusScript(batch)
	case f.weightLimit > 0 && len(batch.Tasks) > f.weightLimit:
		statuses = []ledger.SubmissionStatus{{
			State: ledger.StateInvalid,
			Err:   fmt.Errorf("exceeds block weight: %w", ledger.ErrOverweight),
		}}
	default:
		statuses = []ledger.SubmissionStatus{
			{State: ledger.StateBroadcast},
			{State: ledger.StateFinalized, Block: 1000},
		}
		if f.markClaimedOnSuccess {
			f.markClaimed(batch.Tasks)
		}
	}

	ch := make(chan ledger.SubmissionStatus, len(statuses))
	for _, st := range statuses {
		ch <- st
	}
	close(ch)
	return ch, nil
}

func (f *fakeLedger) markClaimed(tasks []ledger.ClaimTask) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range tasks {
		if t.Kind != ledger.TaskEraPayout {
			continue
		}
		if rec, ok := f.records[t.Stash]; ok {
			rec.ClaimedEras = append(rec.ClaimedEras, t.Era)
		}
	}
}

func (f *fakeLedger) FreeBalance(ctx context.Context, account string) (uint64, error) {
	return f.freeBalance, nil
}

func (f *fakeLedger) ExistentialDeposit(ctx context.Context) (uint64, error) {
	return f.existential, nil
}

func (f *fakeLedger) Identity(ctx context.Context, account string) (string, bool, error) {
	name, ok := f.identities[account]
	return name, ok, nil
}

func (f *fakeLedger) PoolNominees(ctx context.Context, poolID uint32) (*ledger.PoolNominees, error) {
	n, ok := f.nominees[poolID]
	if !ok {
		return nil, fmt.Errorf("pool %d: %w", poolID, ledger.ErrQueryUnsupported)
	}
	return n, nil
}

func (f *fakeLedger) PoolMembersForCompound(ctx context.Context, poolID uint32, threshold uint64) ([]string, error) {
	return f.compoundable[poolID], nil
}

func (f *fakeLedger) PoolPendingCommission(ctx context.Context, poolID uint32) (uint64, error) {
	return f.commission[poolID], nil
}

// fakeSigner signs for a fixed set of addresses without real key material.
type fakeSigner struct {
	addresses map[string]bool
	signErr   error
}

func newFakeSigner(addresses ...string) *fakeSigner {
	m := map[string]bool{}
	for _, a := range addresses {
		m[a] = true
	}
	return &fakeSigner{addresses: m}
}

func (s *fakeSigner) HasAccount(publicAddress string) bool {
	return s.addresses[publicAddress]
}

func (s *fakeSigner) SignBatch(ctx context.Context, batch *ledger.SignedBatch, publicAddress string) error {
	if s.signErr != nil {
		return s.signErr
	}
	if !s.addresses[publicAddress] {
		return fmt.Errorf("no key for %s: %w", publicAddress, ledger.ErrSigning)
	}
	batch.Signer = publicAddress
	batch.Payload = []byte("signed")
	return nil
}

func (s *fakeSigner) FindFirstSigner(addresses []string) (string, error) {
	for _, a := range addresses {
		if s.addresses[a] {
			return a, nil
		}
	}
	return "", fmt.Errorf("no signing key present: %w", ledger.ErrSigning)
}
