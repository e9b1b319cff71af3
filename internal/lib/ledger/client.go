package ledger

import (
	"context"
)

// Client is the ledger collaborator boundary: storage queries, the era-paid
// event stream, and transaction submission.  The payout engine depends only
// on this interface; tests substitute an in-memory ledger and production
// wires the sidecar gateway from this package.
//
// All methods must wrap connectivity failures in ErrTransient so callers can
// classify without knowing the transport.
type Client interface {
	// ActiveEra returns the era currently accumulating rewards.
	ActiveEra(ctx context.Context) (EraID, error)

	// HistoryDepth returns how many past eras the chain retains reward state
	// for.  Anything older is unclaimable.
	HistoryDepth(ctx context.Context) (uint32, error)

	// RewardState returns the raw claimed-record for a stash.
	RewardState(ctx context.Context, stash string) (*RewardRecord, error)

	// StakeActive reports whether the stash had active stake in the given
	// era.  Eras before the account existed or after it exited are inactive.
	StakeActive(ctx context.Context, stash string, era EraID) (bool, error)

	// SubscribeEraPaid delivers the era index each time an era's payout
	// event lands in a finalized block.  The channel closes when ctx is done
	// or the subscription drops; subscribers are expected to resubscribe.
	SubscribeEraPaid(ctx context.Context) (<-chan EraID, error)

	// Submit broadcasts a signed batch and streams status until terminal.
	// The channel is closed after the first terminal status.
	Submit(ctx context.Context, batch *SignedBatch) (<-chan SubmissionStatus, error)

	// FreeBalance returns the transferable balance of an account, used only
	// to warn when the signer runs low.
	FreeBalance(ctx context.Context, account string) (uint64, error)

	// ExistentialDeposit returns the chain's minimum viable balance.
	ExistentialDeposit(ctx context.Context) (uint64, error)

	// Identity returns a display name for an account and whether one is
	// registered on chain.  Informational only.
	Identity(ctx context.Context, account string) (string, bool, error)

	// PoolNominees returns the stashes nominated by a pool.
	PoolNominees(ctx context.Context, poolID uint32) (*PoolNominees, error)

	// PoolMembersForCompound returns pool member accounts with permissionless
	// compounding enabled and pending rewards above the threshold.
	PoolMembersForCompound(ctx context.Context, poolID uint32, threshold uint64) ([]string, error)

	// PoolPendingCommission returns the claimable commission for a pool.
	PoolPendingCommission(ctx context.Context, poolID uint32) (uint64, error)
}
