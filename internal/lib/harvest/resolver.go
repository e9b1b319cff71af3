package harvest

import (
	"context"
	"fmt"

	"github.com/stakemesh/harvester/internal/lib/ledger"
)

// Resolver computes the unclaimed eras for a stash within a bounded lookback
// window.  It depends only on the ledger client and the claimed-record codec
// selected for the chain family - never on a cached copy of chain state, so
// every cycle re-derives the truth and the process is safely restartable.
type Resolver struct {
	client ledger.Client
	codec  ledger.RecordCodec

	maxHistoryEras uint32
	maxPayouts     int
}

func NewResolver(client ledger.Client, codec ledger.RecordCodec, maxHistoryEras uint32, maxPayouts int) *Resolver {
	return &Resolver{
		client:         client,
		codec:          codec,
		maxHistoryEras: maxHistoryEras,
		maxPayouts:     maxPayouts,
	}
}

// Unclaimed returns the oldest unclaimed eras for the stash, ascending,
// truncated to the maximum-payouts cap.  Only eras where the stash actually
// had active stake count - an era before the account existed or after it
// exited is not "unclaimed", there is simply nothing to claim.
func (r *Resolver) Unclaimed(ctx context.Context, stash string) ([]ledger.EraID, error) {
	activeEra, err := r.client.ActiveEra(ctx)
	if err != nil {
		return nil, fmt.Errorf("active era for %s: %w", stash, err)
	}
	historyDepth, err := r.client.HistoryDepth(ctx)
	if err != nil {
		return nil, fmt.Errorf("history depth for %s: %w", stash, err)
	}

	window := min(r.maxHistoryEras, historyDepth)
	start := ledger.EraID(0)
	if uint32(activeEra) > window {
		start = activeEra - ledger.EraID(window)
	}

	rec, err := r.client.RewardState(ctx, stash)
	if err != nil {
		return nil, fmt.Errorf("reward state for %s: %w", stash, err)
	}
	claimed, err := r.codec.Decode(rec)
	if err != nil {
		return nil, fmt.Errorf("reward record for %s: %w", stash, err)
	}

	var unclaimed []ledger.EraID
	for era := start; era < activeEra; era++ {
		if claimed.Claimed(era) {
			continue
		}
		active, err := r.client.StakeActive(ctx, stash, era)
		if err != nil {
			return nil, fmt.Errorf("exposure for %s era %d: %w", stash, era, err)
		}
		if !active {
			continue
		}
		unclaimed = append(unclaimed, era)
		if len(unclaimed) == r.maxPayouts {
			break
		}
	}
	return unclaimed, nil
}
