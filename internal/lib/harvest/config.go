package harvest

import (
	"time"
)

type TriggerMode int

const (
	// TriggerEraEvent runs a cycle on every era-paid event.
	TriggerEraEvent TriggerMode = iota
	// TriggerFixedInterval runs a cycle every Interval.
	TriggerFixedInterval
	// TriggerSingleShot runs exactly one cycle and terminates.
	TriggerSingleShot
)

func (m TriggerMode) String() string {
	switch m {
	case TriggerEraEvent:
		return "era"
	case TriggerFixedInterval:
		return "interval"
	case TriggerSingleShot:
		return "once"
	}
	return "unknown"
}

// Config is the target set plus all knobs for one chain.  Values are
// immutable once the daemon starts; a restart re-derives everything else
// from the ledger.
type Config struct {
	Network string

	// Targets.
	Stashes []string
	// RemoteStashesURL optionally names an HTTP endpoint returning extra
	// stash addresses, one per line (comma also accepted).
	RemoteStashesURL string
	PoolIDs          []uint32

	// Resolver bounds.
	MaximumPayouts     int
	MaximumHistoryEras uint32

	// Batch ceiling M. The true executable ceiling is only discoverable by
	// rejection; the planner shrinks from here.
	MaximumCalls int

	// Trigger.
	Mode               TriggerMode
	Interval           time.Duration
	FirstWakeJitterMax time.Duration
	EraEventJitterMax  time.Duration
	ErrorInterval      time.Duration
	MaxCycleFailures   int

	// Submission.
	SignerAddress       string
	SubmitRetries       int
	InclusionTimeout    time.Duration
	SignerBalanceFactor uint64

	// Feature flags.
	UniqueStashes            bool
	PoolCompound             bool
	PoolOperatorCompoundOnly bool
	PoolCompoundThreshold    uint64
	PoolClaimCommission      bool
	PoolAllNominees          bool

	// Fan-out width for read-only reward-state resolution.
	ResolveWorkers int
}

// WithDefaults fills the zero values an operator rarely sets.
func (c Config) WithDefaults() Config {
	if c.MaximumPayouts == 0 {
		c.MaximumPayouts = 4
	}
	if c.MaximumHistoryEras == 0 {
		c.MaximumHistoryEras = 84
	}
	if c.MaximumCalls == 0 {
		c.MaximumCalls = 8
	}
	if c.Interval == 0 {
		c.Interval = 6 * time.Hour
	}
	if c.FirstWakeJitterMax == 0 {
		c.FirstWakeJitterMax = 4 * time.Minute
	}
	if c.EraEventJitterMax == 0 {
		c.EraEventJitterMax = 4 * time.Minute
	}
	if c.ErrorInterval == 0 {
		c.ErrorInterval = 30 * time.Minute
	}
	if c.MaxCycleFailures == 0 {
		c.MaxCycleFailures = 2
	}
	if c.SubmitRetries == 0 {
		c.SubmitRetries = 3
	}
	if c.InclusionTimeout == 0 {
		c.InclusionTimeout = 3 * time.Minute
	}
	if c.SignerBalanceFactor == 0 {
		c.SignerBalanceFactor = 2
	}
	if c.ResolveWorkers == 0 {
		c.ResolveWorkers = 8
	}
	return c
}
