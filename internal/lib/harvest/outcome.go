package harvest

import (
	"context"
	"time"

	"github.com/stakemesh/harvester/internal/lib/ledger"
)

// TargetOutcome is the per-stash result of one run cycle.
type TargetOutcome struct {
	Stash    string
	Identity string

	ClaimedEras      []ledger.EraID
	ValidatorAmount  uint64
	NominatorsAmount uint64

	// Failures holds terminal per-target failure reasons.  A populated list
	// never blocks other targets in the same cycle.
	Failures []string
}

// PoolOutcome is the per-pool result of one run cycle.
type PoolOutcome struct {
	PoolID             uint32
	MembersCompounded  int
	CommissionClaimed  bool
	CommissionAmount   uint64
	Failures           []string
}

// Outcome is the aggregated result of one run cycle, handed to the notifier
// collaborator with no presentation formatting.  All state here is transient;
// the ledger remains the only durable source of truth.
type Outcome struct {
	CycleID   string
	Network   string
	ActiveEra ledger.EraID

	StartedAt  time.Time
	FinishedAt time.Time

	Targets []TargetOutcome
	Pools   []PoolOutcome

	TotalCalls     int
	CallsSucceeded int
	CallsFailed    int
	Batches        int
	BatchSplits    int

	Warnings []string
}

// Failed reports whether any target or pool recorded a terminal failure.
func (o *Outcome) Failed() bool {
	if o.CallsFailed > 0 {
		return true
	}
	for _, t := range o.Targets {
		if len(t.Failures) > 0 {
			return true
		}
	}
	for _, p := range o.Pools {
		if len(p.Failures) > 0 {
			return true
		}
	}
	return false
}

// Notifier receives cycle outcomes.  Formatting and delivery live with the
// implementer.
type Notifier interface {
	Notify(ctx context.Context, outcome *Outcome) error
}

// NopNotifier discards outcomes.
type NopNotifier struct{}

func (NopNotifier) Notify(ctx context.Context, outcome *Outcome) error { return nil }
