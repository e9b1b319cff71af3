package harvest

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/mailgun/holster/v4/syncutil"

	"github.com/stakemesh/harvester/internal/lib/ledger"
	"github.com/stakemesh/harvester/internal/lib/misc"
	"github.com/stakemesh/harvester/internal/lib/signer"
)

// Coordinator owns one chain's run cycles: it enumerates targets, resolves
// unclaimed state, plans and submits batches, and aggregates the outcome.
// Exactly one cycle runs at a time per coordinator; everything a cycle
// produces is discarded after the outcome is reported.
type Coordinator struct {
	logger   *slog.Logger
	client   ledger.Client
	cfg      Config
	resolver *Resolver
	planner  *Planner
	notifier Notifier

	signerAddr string
}

func NewCoordinator(logger *slog.Logger, client ledger.Client, codec ledger.RecordCodec,
	keystore signer.MultipleKeySigner, netCfg ledger.NetworkConfig, cfg Config, notifier Notifier) (*Coordinator, error) {
	cfg = cfg.WithDefaults()

	signerAddr := cfg.SignerAddress
	if signerAddr == "" {
		return nil, fmt.Errorf("signer address not configured: %w", ErrNoSigner)
	}
	if _, err := keystore.FindFirstSigner([]string{signerAddr}); err != nil {
		return nil, fmt.Errorf("signer %s: %w", signerAddr, ErrNoSigner)
	}
	if notifier == nil {
		notifier = NopNotifier{}
	}

	submitter := NewSubmitter(logger, client, keystore, signerAddr, netCfg, cfg.SubmitRetries, cfg.InclusionTimeout)
	return &Coordinator{
		logger:     logger,
		client:     client,
		cfg:        cfg,
		resolver:   NewResolver(client, codec, cfg.MaximumHistoryEras, cfg.MaximumPayouts),
		planner:    NewPlanner(logger, cfg.MaximumCalls, netCfg.Semantics, submitter.Submit),
		notifier:   notifier,
		signerAddr: signerAddr,
	}, nil
}

// resolvedTarget is the per-stash result of the concurrent resolution phase.
type resolvedTarget struct {
	stash     string
	identity  string
	unclaimed []ledger.EraID
	err       error
}

// RunCycle executes one full cycle: enumerate targets, resolve, plan, submit,
// aggregate.  A terminal failure for one target never blocks the rest.  The
// returned error is reserved for cycle-level conditions (ledger unreachable,
// signing fatal); per-target failures live in the outcome.
func (c *Coordinator) RunCycle(ctx context.Context) (*Outcome, error) {
	outcome := &Outcome{
		CycleID:   uuid.NewString(),
		Network:   c.cfg.Network,
		StartedAt: time.Now().UTC(),
	}
	promCyclesRun.Inc()

	activeEra, err := c.client.ActiveEra(ctx)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, ErrActiveEraUnavailable)
	}
	outcome.ActiveEra = activeEra
	misc.Infof(c.logger, "starting cycle %s, active era %d", outcome.CycleID, activeEra)

	c.checkSignerBalance(ctx, outcome)

	stashes := c.gatherStashes(ctx, outcome)
	promTargetCount.Set(float64(len(stashes)))

	resolved := c.resolveAll(ctx, stashes)

	// Build the ordered task list: payout tasks in stable target order, then
	// pool compounds, then commission claims.  A stash listed more than once
	// (dedup off) maps to the first target entry, and each (stash, era) pair
	// is enqueued at most once per cycle - paying the same era twice would
	// just burn fees on a no-op extrinsic.
	var tasks []ledger.ClaimTask
	targetIdx := map[string]int{}
	type stashEra struct {
		stash string
		era   ledger.EraID
	}
	enqueued := map[stashEra]bool{}
	for _, rt := range resolved {
		to := TargetOutcome{Stash: rt.stash, Identity: rt.identity}
		if rt.err != nil {
			to.Failures = append(to.Failures, rt.err.Error())
		}
		outcome.Targets = append(outcome.Targets, to)
		if _, seen := targetIdx[rt.stash]; !seen {
			targetIdx[rt.stash] = len(outcome.Targets) - 1
		}
		if rt.err != nil {
			continue
		}
		for _, era := range rt.unclaimed {
			key := stashEra{stash: rt.stash, era: era}
			if enqueued[key] {
				continue
			}
			enqueued[key] = true
			tasks = append(tasks, ledger.ClaimTask{
				Kind:  ledger.TaskEraPayout,
				Stash: rt.stash,
				Era:   era,
			})
		}
	}
	tasks = append(tasks, c.poolTasks(ctx, outcome)...)
	outcome.TotalCalls = len(tasks)

	if len(tasks) == 0 {
		misc.Infof(c.logger, "nothing to claim in cycle %s", outcome.CycleID)
		return c.finish(ctx, outcome), nil
	}

	plan, err := c.planner.Run(ctx, tasks)
	if err != nil {
		// Only signing failures abort a plan, and no target is processable
		// without a key.
		return nil, err
	}
	outcome.Batches = plan.Batches
	outcome.BatchSplits = plan.Splits

	poolIdx := map[uint32]int{}
	for i, p := range outcome.Pools {
		poolIdx[p.PoolID] = i
	}
	for _, to := range plan.Outcomes {
		c.applyTaskOutcome(outcome, targetIdx, poolIdx, to)
	}

	return c.finish(ctx, outcome), nil
}

func (c *Coordinator) finish(ctx context.Context, outcome *Outcome) *Outcome {
	outcome.FinishedAt = time.Now().UTC()
	promLastCycleUnix.Set(float64(outcome.FinishedAt.Unix()))
	if err := c.notifier.Notify(ctx, outcome); err != nil {
		misc.Warnf(c.logger, "notifier error (outcome still valid): %v", err)
	}
	misc.Infof(c.logger, "cycle %s finished: %d calls, %d succeeded, %d failed, %d batches (%d splits)",
		outcome.CycleID, outcome.TotalCalls, outcome.CallsSucceeded, outcome.CallsFailed, outcome.Batches, outcome.BatchSplits)
	return outcome
}

// checkSignerBalance warns when the signer funds drop near the existential
// deposit - payouts would start failing on fees soon after.
func (c *Coordinator) checkSignerBalance(ctx context.Context, outcome *Outcome) {
	free, err := c.client.FreeBalance(ctx, c.signerAddr)
	if err != nil {
		misc.Debugf(c.logger, "signer balance check skipped: %v", err)
		return
	}
	ed, err := c.client.ExistentialDeposit(ctx)
	if err != nil {
		misc.Debugf(c.logger, "existential deposit check skipped: %v", err)
		return
	}
	if free <= c.cfg.SignerBalanceFactor*ed {
		warning := fmt.Sprintf("signer %s is running low on funds (%d free)", c.signerAddr, free)
		misc.Warnf(c.logger, "%s", warning)
		outcome.Warnings = append(outcome.Warnings, warning)
	}
}

// gatherStashes merges the configured stash list, the remote list, and pool
// nominees, optionally de-duplicated.  Remote or nominee fetch problems are
// warnings - the static list still gets processed.
func (c *Coordinator) gatherStashes(ctx context.Context, outcome *Outcome) []string {
	stashes := slices.Clone(c.cfg.Stashes)
	misc.Infof(c.logger, "%d stashes loaded from config", len(stashes))

	if c.cfg.RemoteStashesURL != "" {
		remotes, err := fetchRemoteStashes(ctx, c.cfg.RemoteStashesURL)
		if err != nil {
			warning := fmt.Sprintf("remote stash list unavailable: %v", err)
			misc.Warnf(c.logger, "%s", warning)
			outcome.Warnings = append(outcome.Warnings, warning)
		} else {
			misc.Infof(c.logger, "%d stashes loaded from %s", len(remotes), c.cfg.RemoteStashesURL)
			stashes = append(stashes, remotes...)
		}
	}

	for _, poolID := range c.cfg.PoolIDs {
		nominees, err := c.client.PoolNominees(ctx, poolID)
		if err != nil {
			warning := fmt.Sprintf("pool %d nominees unavailable: %v", poolID, err)
			misc.Warnf(c.logger, "%s", warning)
			outcome.Warnings = append(outcome.Warnings, warning)
			continue
		}
		// By default only nominees active in the previous era are triggered;
		// they are the ones pool members earned on.
		picked := nominees.Active
		if c.cfg.PoolAllNominees {
			picked = nominees.All
		}
		misc.Infof(c.logger, "%d nominee stashes loaded from pool %d", len(picked), poolID)
		stashes = append(stashes, picked...)
	}

	if c.cfg.UniqueStashes {
		slices.Sort(stashes)
		stashes = slices.Compact(stashes)
	}
	return stashes
}

// resolveAll fans read-only reward-state resolution out across stashes.
// Results come back in input order so batch planning stays deterministic.
func (c *Coordinator) resolveAll(ctx context.Context, stashes []string) []resolvedTarget {
	resolved := make([]resolvedTarget, len(stashes))
	fanOut := syncutil.NewFanOut(c.cfg.ResolveWorkers)
	for i, stash := range stashes {
		fanOut.Run(func(_ any) error {
			rt := resolvedTarget{stash: stash}
			if name, ok, err := c.client.Identity(ctx, stash); err == nil && ok {
				rt.identity = name
			} else {
				rt.identity = shortAddress(stash)
			}
			rt.unclaimed, rt.err = c.resolver.Unclaimed(ctx, stash)
			resolved[i] = rt
			return nil
		}, nil)
	}
	fanOut.Wait()
	return resolved
}

// poolTasks builds compound and commission-claim tasks for the configured
// pools, appending pool outcomes as it goes.
func (c *Coordinator) poolTasks(ctx context.Context, outcome *Outcome) []ledger.ClaimTask {
	var tasks []ledger.ClaimTask
	if len(c.cfg.PoolIDs) == 0 {
		return nil
	}
	for _, poolID := range c.cfg.PoolIDs {
		po := PoolOutcome{PoolID: poolID}

		if c.cfg.PoolCompound {
			members, err := c.client.PoolMembersForCompound(ctx, poolID, c.cfg.PoolCompoundThreshold)
			if err != nil {
				po.Failures = append(po.Failures, fmt.Sprintf("compoundable members: %v", err))
			}
			if c.cfg.PoolOperatorCompoundOnly && len(members) > 1 {
				// The operator (depositor) is reported first by the gateway.
				members = members[:1]
			}
			for _, member := range members {
				tasks = append(tasks, ledger.ClaimTask{
					Kind:   ledger.TaskPoolCompound,
					Stash:  member,
					PoolID: poolID,
				})
			}
		}

		if c.cfg.PoolClaimCommission {
			pending, err := c.client.PoolPendingCommission(ctx, poolID)
			if err != nil {
				po.Failures = append(po.Failures, fmt.Sprintf("pending commission: %v", err))
			} else if pending > 0 {
				tasks = append(tasks, ledger.ClaimTask{
					Kind:   ledger.TaskPoolCommissionClaim,
					PoolID: poolID,
				})
			}
		}

		outcome.Pools = append(outcome.Pools, po)
	}
	return tasks
}

// applyTaskOutcome folds one task's terminal result into the aggregate.
func (c *Coordinator) applyTaskOutcome(outcome *Outcome, targetIdx map[string]int, poolIdx map[uint32]int, to TaskOutcome) {
	switch to.Task.Kind {
	case ledger.TaskEraPayout:
		idx, ok := targetIdx[to.Task.Stash]
		if !ok {
			return
		}
		t := &outcome.Targets[idx]
		if to.Err != nil {
			outcome.CallsFailed++
			t.Failures = append(t.Failures, fmt.Sprintf("era %d: %v", to.Task.Era, to.Err))
			return
		}
		outcome.CallsSucceeded++
		promErasClaimed.Inc()
		t.ClaimedEras = append(t.ClaimedEras, to.Task.Era)
		t.ValidatorAmount += to.Item.ValidatorAmount
		t.NominatorsAmount += to.Item.NominatorsAmount

	case ledger.TaskPoolCompound:
		idx, ok := poolIdx[to.Task.PoolID]
		if !ok {
			return
		}
		p := &outcome.Pools[idx]
		if to.Err != nil {
			outcome.CallsFailed++
			p.Failures = append(p.Failures, fmt.Sprintf("compound %s: %v", to.Task.Stash, to.Err))
			return
		}
		outcome.CallsSucceeded++
		p.MembersCompounded++

	case ledger.TaskPoolCommissionClaim:
		idx, ok := poolIdx[to.Task.PoolID]
		if !ok {
			return
		}
		p := &outcome.Pools[idx]
		if to.Err != nil {
			outcome.CallsFailed++
			p.Failures = append(p.Failures, fmt.Sprintf("commission: %v", to.Err))
			return
		}
		outcome.CallsSucceeded++
		p.CommissionClaimed = true
		p.CommissionAmount += to.Item.ValidatorAmount
	}
}

func shortAddress(addr string) string {
	if len(addr) <= 12 {
		return addr
	}
	return addr[:6] + "..." + addr[len(addr)-6:]
}
