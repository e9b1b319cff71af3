package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/urfave/cli/v3"

	"github.com/stakemesh/harvester/internal/lib/harvest"
	"github.com/stakemesh/harvester/internal/lib/misc"
)

func GetPoolCmdOpts() *cli.Command {
	poolFlag := &cli.UintFlag{
		Name:     "pool",
		Usage:    "Nomination pool id",
		Required: true,
	}
	return &cli.Command{
		Name:    "pool",
		Aliases: []string{"p"},
		Usage:   "Inspect and service nomination pools",
		Commands: []*cli.Command{
			{
				Name:    "nominees",
				Aliases: []string{"n"},
				Usage:   "List the validators a pool nominates, flagging the ones active last era",
				Action:  PoolNomineesList,
				Flags:   []cli.Flag{poolFlag},
			},
			{
				Name:   "compound",
				Usage:  "Compound pending rewards for pool members with permissionless compounding enabled",
				Action: PoolCompoundOnce,
				Flags: []cli.Flag{
					poolFlag,
					&cli.BoolFlag{
						Name:  "operator-only",
						Usage: "Compound only the pool operator's rewards",
					},
				},
			},
			{
				Name:   "commission",
				Usage:  "Claim any pending pool commission",
				Action: PoolCommissionOnce,
				Flags:  []cli.Flag{poolFlag},
			},
		},
	}
}

func PoolNomineesList(ctx context.Context, cmd *cli.Command) error {
	poolID := uint32(cmd.Uint("pool"))
	nominees, err := App.gateway.PoolNominees(ctx, poolID)
	if err != nil {
		return fmt.Errorf("failed to get nominees for pool %d: %w", poolID, err)
	}
	active := map[string]bool{}
	for _, stash := range nominees.Active {
		active[stash] = true
	}

	out := new(strings.Builder)
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "Nominee (*=Active)\tIdentity\t")
	for _, stash := range nominees.All {
		var isActive string
		if active[stash] {
			isActive = " (*)"
		}
		identity := ""
		if name, ok, err := App.gateway.Identity(ctx, stash); err == nil && ok {
			identity = name
		}
		fmt.Fprintf(tw, "%s%s\t%s\t\n", stash, isActive, identity)
	}
	tw.Flush()
	fmt.Print(out.String())
	return nil
}

// PoolCompoundOnce runs a single cycle scoped to one pool's member
// compounding, skipping era payouts entirely.
func PoolCompoundOnce(ctx context.Context, cmd *cli.Command) error {
	cfg := App.cfg
	cfg.Stashes = nil
	cfg.RemoteStashesURL = ""
	cfg.PoolIDs = []uint32{uint32(cmd.Uint("pool"))}
	cfg.PoolCompound = true
	cfg.PoolOperatorCompoundOnly = cmd.Bool("operator-only")
	cfg.PoolClaimCommission = false
	return runPoolCycle(ctx, cfg)
}

// PoolCommissionOnce runs a single cycle scoped to claiming one pool's
// pending commission.
func PoolCommissionOnce(ctx context.Context, cmd *cli.Command) error {
	cfg := App.cfg
	cfg.Stashes = nil
	cfg.RemoteStashesURL = ""
	cfg.PoolIDs = []uint32{uint32(cmd.Uint("pool"))}
	cfg.PoolCompound = false
	cfg.PoolClaimCommission = true
	return runPoolCycle(ctx, cfg)
}

func runPoolCycle(ctx context.Context, cfg harvest.Config) error {
	coordinator, err := App.newCoordinator(cfg, harvest.NopNotifier{})
	if err != nil {
		return err
	}
	outcome, err := coordinator.RunCycle(ctx)
	if err != nil {
		return err
	}
	for _, p := range outcome.Pools {
		misc.Infof(App.logger, "pool %d: compounded %d members, commission claimed:%v %s",
			p.PoolID, p.MembersCompounded, p.CommissionClaimed, formatTokenAmount(p.CommissionAmount, App.netCfg))
		for _, failure := range p.Failures {
			misc.Warnf(App.logger, "pool %d: %s", p.PoolID, failure)
		}
	}
	if outcome.Failed() {
		return fmt.Errorf("cycle %s completed with %d failed calls", outcome.CycleID, outcome.CallsFailed)
	}
	return nil
}
