package harvest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/stakemesh/harvester/internal/lib/ledger"
	"github.com/stakemesh/harvester/internal/lib/misc"
)

// BatchResult is what one included batch reported back: the block it landed
// in and the per-task completion outcomes.
type BatchResult struct {
	Block uint64
	Items []ledger.ItemResult
}

// SubmitFunc signs and submits one ordered slice of tasks as a single
// transaction, returning per-item results once a terminal status is known.
type SubmitFunc func(ctx context.Context, tasks []ledger.ClaimTask) (*BatchResult, error)

// TaskOutcome pairs an input task with its terminal result.
type TaskOutcome struct {
	Task ledger.ClaimTask
	Err  error
	Item ledger.ItemResult
}

// PlanResult reports the outcome of planning and submitting one task list.
// Outcomes preserves the input order exactly.
type PlanResult struct {
	Outcomes []TaskOutcome
	Batches  int
	Splits   int
}

// Planner packs claim tasks into weight-bounded batches.  The executable
// weight ceiling is unknown and only discoverable by rejection, so the
// planner starts at the configured maximum-calls and halves on an
// OverweightBatch signal, recursing on each half independently via an
// explicit worklist (bounded depth, no recursion).
type Planner struct {
	logger    *slog.Logger
	maxCalls  int
	semantics ledger.DispatchSemantics
	submit    SubmitFunc
}

func NewPlanner(logger *slog.Logger, maxCalls int, semantics ledger.DispatchSemantics, submit SubmitFunc) *Planner {
	return &Planner{
		logger:    logger,
		maxCalls:  maxCalls,
		semantics: semantics,
		submit:    submit,
	}
}

type taskRange struct {
	lo, hi int // half-open [lo, hi)
}

// Run partitions tasks into order-preserving batches of at most maxCalls,
// submits each, and shrinks on overweight rejection.  A rejection at size 1
// is terminal for that single task only.  A fatal signing error aborts the
// whole plan - nothing is processable without a key.
func (p *Planner) Run(ctx context.Context, tasks []ledger.ClaimTask) (*PlanResult, error) {
	res := &PlanResult{Outcomes: make([]TaskOutcome, len(tasks))}
	for i, t := range tasks {
		res.Outcomes[i].Task = t
	}
	if len(tasks) == 0 {
		return res, nil
	}

	// Seed the worklist with optimistic maximum-size chunks, pushed in
	// reverse so the stack pops them in input order.
	var work []taskRange
	for hi := len(tasks); hi > 0; {
		lo := hi - p.maxCalls
		if rem := len(tasks) % p.maxCalls; hi == len(tasks) && rem != 0 {
			lo = hi - rem
		}
		if lo < 0 {
			lo = 0
		}
		work = append(work, taskRange{lo, hi})
		hi = lo
	}

	for len(work) > 0 {
		rng := work[len(work)-1]
		work = work[:len(work)-1]
		size := rng.hi - rng.lo

		result, err := p.submit(ctx, tasks[rng.lo:rng.hi])
		switch {
		case err == nil:
			res.Batches++
			promBatchesSubmitted.Inc()
			p.applyItems(res, rng, result)

		case errors.Is(err, ledger.ErrOverweight):
			if size == 1 {
				// Can't shrink further - only this task is terminal, the
				// rest of the worklist proceeds untouched.
				misc.Warnf(p.logger, "single call still overweight, marking terminal: %s", describeTask(tasks[rng.lo]))
				res.Outcomes[rng.lo].Err = err
				promCallsFailed.Inc()
				continue
			}
			half := size / 2
			if half < 1 {
				half = 1
			}
			misc.Infof(p.logger, "batch of %d rejected overweight, splitting at %d", size, half)
			res.Splits++
			promBatchSplits.Inc()
			// Second half first so the first half pops next.
			work = append(work, taskRange{rng.lo + half, rng.hi})
			work = append(work, taskRange{rng.lo, rng.lo + half})

		case errors.Is(err, ledger.ErrSigning):
			return res, err

		default:
			// The submitter already exhausted retries for retryable classes.
			// Mark this range failed and continue with the remaining ranges -
			// one bad batch must not block other targets' tasks.
			misc.Warnf(p.logger, "batch of %d failed: %v", size, err)
			for i := rng.lo; i < rng.hi; i++ {
				res.Outcomes[i].Err = err
				promCallsFailed.Inc()
			}
		}
	}
	return res, nil
}

// applyItems maps per-item completion outcomes onto task outcomes.  Envelope
// inclusion does not imply every inner task succeeded: with best-effort
// dispatch each item stands alone, with all-or-nothing dispatch one inner
// failure reverts every task in the batch.
func (p *Planner) applyItems(res *PlanResult, rng taskRange, result *BatchResult) {
	failed := map[int]ledger.ItemResult{}
	byIndex := map[int]ledger.ItemResult{}
	for _, item := range result.Items {
		byIndex[item.Index] = item
		if item.Failed {
			failed[item.Index] = item
		}
	}

	if p.semantics == ledger.DispatchAllOrNothing && len(failed) > 0 {
		for i := rng.lo; i < rng.hi; i++ {
			idx := i - rng.lo
			if item, ok := failed[idx]; ok {
				res.Outcomes[i].Err = fmt.Errorf("%s: %w", item.Reason, ledger.ErrSubmissionRejected)
			} else {
				res.Outcomes[i].Err = fmt.Errorf("reverted by failing sibling call: %w", ledger.ErrSubmissionRejected)
			}
			promCallsFailed.Inc()
		}
		return
	}

	for i := rng.lo; i < rng.hi; i++ {
		idx := i - rng.lo
		item, reported := byIndex[idx]
		if reported && item.Failed {
			res.Outcomes[i].Err = fmt.Errorf("%s: %w", item.Reason, ledger.ErrSubmissionRejected)
			promCallsFailed.Inc()
			continue
		}
		// A chain that emits no per-item events reports nothing for a
		// succeeded item; inclusion plus no failure event is success there.
		res.Outcomes[i].Item = item
		res.Outcomes[i].Item.Index = idx
	}
}

func describeTask(t ledger.ClaimTask) string {
	switch t.Kind {
	case ledger.TaskEraPayout:
		return fmt.Sprintf("%s stash:%s era:%d", t.Kind, t.Stash, t.Era)
	case ledger.TaskPoolCompound:
		return fmt.Sprintf("%s member:%s pool:%d", t.Kind, t.Stash, t.PoolID)
	case ledger.TaskPoolCommissionClaim:
		return fmt.Sprintf("%s pool:%d", t.Kind, t.PoolID)
	}
	return t.Kind.String()
}
