package harvest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stakemesh/harvester/internal/lib/ledger"
)

func listCodec(t *testing.T) ledger.RecordCodec {
	t.Helper()
	codec, err := ledger.CodecForFamily("relay-legacy")
	require.NoError(t, err)
	return codec
}

func TestResolverOldestFirstCapped(t *testing.T) {
	fl := newFakeLedger(14)
	fl.setRecord("stash1")
	fl.activeStake = func(_ string, era ledger.EraID) bool { return era >= 10 }

	testCases := []struct {
		name       string
		maxPayouts int
		expected   []ledger.EraID
	}{
		{"capped to two oldest", 2, []ledger.EraID{10, 11}},
		{"cap above available", 10, []ledger.EraID{10, 11, 12, 13}},
		{"cap of one", 1, []ledger.EraID{10}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			r := NewResolver(fl, listCodec(t), 84, tc.maxPayouts)
			unclaimed, err := r.Unclaimed(context.Background(), "stash1")
			require.NoError(t, err)
			assert.Equal(t, tc.expected, unclaimed)
		})
	}
}

func TestResolverSkipsClaimedEras(t *testing.T) {
	fl := newFakeLedger(14)
	fl.setRecord("stash1", 10, 12)
	fl.activeStake = func(_ string, era ledger.EraID) bool { return era >= 10 }

	r := NewResolver(fl, listCodec(t), 84, 10)
	unclaimed, err := r.Unclaimed(context.Background(), "stash1")
	require.NoError(t, err)
	assert.Equal(t, []ledger.EraID{11, 13}, unclaimed)
}

func TestResolverActiveEraNeverIncluded(t *testing.T) {
	fl := newFakeLedger(14)
	fl.setRecord("stash1")

	r := NewResolver(fl, listCodec(t), 84, 100)
	unclaimed, err := r.Unclaimed(context.Background(), "stash1")
	require.NoError(t, err)
	assert.NotContains(t, unclaimed, ledger.EraID(14), "the active era is still accumulating")
	assert.Contains(t, unclaimed, ledger.EraID(13))
}

func TestResolverWindowBounds(t *testing.T) {
	fl := newFakeLedger(100)
	fl.setRecord("stash1")

	t.Run("lookback narrower than history depth", func(t *testing.T) {
		r := NewResolver(fl, listCodec(t), 4, 100)
		unclaimed, err := r.Unclaimed(context.Background(), "stash1")
		require.NoError(t, err)
		assert.Equal(t, []ledger.EraID{96, 97, 98, 99}, unclaimed)
	})

	t.Run("history depth caps the lookback", func(t *testing.T) {
		fl.historyDepth = 3
		defer func() { fl.historyDepth = 84 }()
		r := NewResolver(fl, listCodec(t), 84, 100)
		unclaimed, err := r.Unclaimed(context.Background(), "stash1")
		require.NoError(t, err)
		assert.Equal(t, []ledger.EraID{97, 98, 99}, unclaimed)
	})
}

func TestResolverSkipsInactiveEras(t *testing.T) {
	fl := newFakeLedger(14)
	fl.setRecord("stash1")
	// Joined at era 12; earlier eras have nothing to claim.
	fl.activeStake = func(_ string, era ledger.EraID) bool { return era >= 12 }

	r := NewResolver(fl, listCodec(t), 84, 10)
	unclaimed, err := r.Unclaimed(context.Background(), "stash1")
	require.NoError(t, err)
	assert.Equal(t, []ledger.EraID{12, 13}, unclaimed)
}

func TestResolverUnknownStash(t *testing.T) {
	fl := newFakeLedger(14)
	r := NewResolver(fl, listCodec(t), 84, 10)
	_, err := r.Unclaimed(context.Background(), "nobody")
	assert.ErrorIs(t, err, ledger.ErrQueryUnsupported)
}
