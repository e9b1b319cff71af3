package ledger

// EraID identifies one reward-accounting period.  Monotonically increasing,
// owned entirely by the ledger - we only ever read it.
type EraID uint32

// PageIndex identifies one exposure page within an era on chains that split
// a validator's nominator set across pages.
type PageIndex uint32

type TaskKind int

const (
	TaskEraPayout TaskKind = iota
	TaskPoolCompound
	TaskPoolCommissionClaim
)

func (k TaskKind) String() string {
	switch k {
	case TaskEraPayout:
		return "era-payout"
	case TaskPoolCompound:
		return "pool-compound"
	case TaskPoolCommissionClaim:
		return "pool-commission-claim"
	}
	return "unknown"
}

// ClaimTask is one claim operation - a payout for a (stash, era) pair, a
// compound for one pool member, or a commission claim for one pool.  Tasks
// are owned by the run cycle that created them and never persisted.
type ClaimTask struct {
	Kind   TaskKind
	Stash  string // validator stash, or member account for compounds
	Era    EraID
	Page   PageIndex
	PoolID uint32
}

// SignedBatch is one signed transaction bundling the given tasks in order.
type SignedBatch struct {
	Signer       string
	Tasks        []ClaimTask
	Payload      []byte
	Tip          uint64
	MortalPeriod uint64
}

// DispatchSemantics tells the planner what an inner-item failure means for
// the rest of an included batch.  Whether a chain's batching primitive is
// all-or-nothing or best-effort cannot be probed, so it is configured per
// network.
type DispatchSemantics int

const (
	// DispatchBestEffort: remaining items still execute when one fails.
	DispatchBestEffort DispatchSemantics = iota
	// DispatchAllOrNothing: one inner failure reverts every item in the batch.
	DispatchAllOrNothing
)

type SubmissionState int

const (
	StateBroadcast SubmissionState = iota
	StateInBlock
	StateFinalized
	StateDropped
	StateInvalid
)

// Terminal reports whether no further status will follow.
func (s SubmissionState) Terminal() bool {
	return s == StateFinalized || s == StateDropped || s == StateInvalid
}

// SubmissionStatus is one element of the status stream returned by Submit.
// Items is populated only on StateFinalized; Err only on dropped/invalid.
type SubmissionStatus struct {
	State SubmissionState
	Block uint64
	Items []ItemResult
	Err   error
}

// ItemResult is the per-task completion outcome reported after a batch was
// included.  Envelope acceptance alone says nothing about individual tasks.
type ItemResult struct {
	Index  int
	Failed bool
	Reason string

	// Reward amounts decoded from the payout events, zero for non-payout
	// tasks and for failed items.
	ValidatorAmount    uint64
	NominatorsAmount   uint64
	NominatorsQuantity int
}

// RecordEncoding discriminates the on-chain claimed-record shape.
type RecordEncoding int

const (
	EncodingUnknown RecordEncoding = iota
	// EncodingList: an explicit list of already-claimed eras.
	EncodingList
	// EncodingBitmask: one bit per era starting at BitmaskStart.
	EncodingBitmask
	// EncodingPaged: per-era page counts with per-page claimed markers.
	EncodingPaged
)

// RewardRecord is the raw claimed/unclaimed reward state for one stash as
// returned by the ledger, before any codec interpretation.
type RewardRecord struct {
	Encoding RecordEncoding

	// EncodingList
	ClaimedEras []EraID

	// EncodingBitmask
	BitmaskStart EraID
	Bitmask      []byte

	// EncodingPaged
	Pages map[EraID]PagedEra
}

// PagedEra holds the exposure page state for one era of a paged record.
type PagedEra struct {
	PageCount    PageIndex
	ClaimedPages []PageIndex
}

// PoolNominees lists the validator stashes a nomination pool nominates, plus
// the subset that was actually active in the previous era.
type PoolNominees struct {
	All    []string
	Active []string
}
