package ledger

import (
	"errors"
)

// Failure taxonomy for everything the ledger collaborator can report back.
// The submitter and coordinator classify exclusively via errors.Is on these
// sentinels, so adapters must wrap them (%w) rather than invent new ones.
var (
	// ErrTransient covers connectivity drops, nonce races and any other
	// condition where an identical retry is reasonable.
	ErrTransient = errors.New("transient ledger connection failure")

	// ErrQueryUnsupported means the chain returned a claimed-record shape no
	// configured codec recognizes.  Terminal for that target - retrying the
	// same query cannot help.
	ErrQueryUnsupported = errors.New("reward record encoding not supported")

	// ErrOverweight is the only signal the planner reacts to by splitting:
	// the batch was rejected specifically for exceeding executable weight.
	ErrOverweight = errors.New("batch exceeds executable block weight")

	// ErrSubmissionRejected is a terminal rejection of a batch or task for
	// any reason other than weight (bad call, already claimed and chain
	// refuses, insufficient balance on submit).
	ErrSubmissionRejected = errors.New("submission rejected by ledger")

	// ErrInclusionTimeout converts a bounded wait for terminal status into a
	// retryable failure.
	ErrInclusionTimeout = errors.New("no terminal status before inclusion timeout")

	// ErrSigning is fatal for the whole process - without a key nothing is
	// processable.
	ErrSigning = errors.New("signing failure")
)

// Retryable reports whether the submitter may retry the same submission.
func Retryable(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrInclusionTimeout)
}
