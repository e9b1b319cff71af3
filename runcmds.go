package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/urfave/cli/v3"

	"github.com/stakemesh/harvester/internal/lib/harvest"
	"github.com/stakemesh/harvester/internal/lib/ledger"
	"github.com/stakemesh/harvester/internal/lib/misc"
)

func GetRewardsCmdOpts() *cli.Command {
	return &cli.Command{
		Name:    "rewards",
		Aliases: []string{"r"},
		Usage:   "Claim or inspect pending staking rewards",
		Commands: []*cli.Command{
			{
				Name:    "once",
				Aliases: []string{"o"},
				Usage:   "Run a single claim cycle and exit",
				Action:  RewardsOnce,
			},
			{
				Name:    "view",
				Aliases: []string{"v"},
				Usage:   "Show claimed/unclaimed eras per stash without submitting anything",
				Action:  RewardsView,
			},
		},
	}
}

func RewardsOnce(ctx context.Context, _ *cli.Command) error {
	coordinator, err := App.newCoordinator(App.cfg, &logNotifier{logger: App.logger, netCfg: App.netCfg})
	if err != nil {
		return err
	}
	scheduler := harvest.NewScheduler(App.logger, withSingleShot(App.cfg), App.gateway.SubscribeEraPaid)
	return scheduler.Run(ctx, func(ctx context.Context) error {
		outcome, err := coordinator.RunCycle(ctx)
		if err != nil {
			return err
		}
		if outcome.Failed() {
			return fmt.Errorf("cycle %s completed with %d failed calls", outcome.CycleID, outcome.CallsFailed)
		}
		return nil
	})
}

func withSingleShot(cfg harvest.Config) harvest.Config {
	cfg.Mode = harvest.TriggerSingleShot
	// One-off runs are interactive; no reason to delay the wake.
	cfg.FirstWakeJitterMax = 0
	cfg.EraEventJitterMax = 0
	return cfg
}

// RewardsView walks the same lookback window a claim cycle would, but only
// reads.  Useful to sanity check stash configuration before funding a signer.
func RewardsView(ctx context.Context, _ *cli.Command) error {
	activeEra, err := App.gateway.ActiveEra(ctx)
	if err != nil {
		return fmt.Errorf("failed to get active era: %w", err)
	}
	historyDepth, err := App.gateway.HistoryDepth(ctx)
	if err != nil {
		return fmt.Errorf("failed to get history depth: %w", err)
	}
	window := min(App.cfg.MaximumHistoryEras, historyDepth)
	start := ledger.EraID(0)
	if uint32(activeEra) > window {
		start = activeEra - ledger.EraID(window)
	}
	misc.Infof(App.logger, "active era:%d, inspecting eras %d..%d", activeEra, start, activeEra-1)

	out := new(strings.Builder)
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "Stash\tUnclaimed Eras\tClaimed Eras\tInactive Eras\t")
	for _, stash := range App.cfg.Stashes {
		rec, err := App.gateway.RewardState(ctx, stash)
		if err != nil {
			fmt.Fprintf(tw, "%s\terror: %v\t\t\t\n", stash, err)
			continue
		}
		claimedRec, err := App.gateway.Codec().Decode(rec)
		if err != nil {
			fmt.Fprintf(tw, "%s\terror: %v\t\t\t\n", stash, err)
			continue
		}
		var unclaimed, claimed, inactive []ledger.EraID
		for era := start; era < activeEra; era++ {
			if claimedRec.Claimed(era) {
				claimed = append(claimed, era)
				continue
			}
			active, err := App.gateway.StakeActive(ctx, stash, era)
			if err != nil {
				return fmt.Errorf("stake check for %s era %d: %w", stash, era, err)
			}
			if !active {
				inactive = append(inactive, era)
				continue
			}
			unclaimed = append(unclaimed, era)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t\n", stash, formatEras(unclaimed), formatEras(claimed), formatEras(inactive))
	}
	tw.Flush()
	fmt.Print(out.String())
	return nil
}

func formatEras(eras []ledger.EraID) string {
	if len(eras) == 0 {
		return "-"
	}
	parts := make([]string, len(eras))
	for i, era := range eras {
		parts[i] = fmt.Sprintf("%d", era)
	}
	return strings.Join(parts, ",")
}

// formatTokenAmount renders a planck-denominated amount in whole tokens using
// the network's decimals, eg 12345678901234 -> "1,234.5678 DOT".
func formatTokenAmount(amount uint64, cfg ledger.NetworkConfig) string {
	divisor := uint64(1)
	for i := uint8(0); i < cfg.TokenDecimals; i++ {
		divisor *= 10
	}
	whole := amount / divisor
	frac := amount % divisor
	fracStr := fmt.Sprintf("%0*d", cfg.TokenDecimals, frac)
	if len(fracStr) > 4 {
		fracStr = fracStr[:4]
	}
	return fmt.Sprintf("%s.%s %s", groupDigits(whole), fracStr, cfg.TokenSymbol)
}

func groupDigits(v uint64) string {
	s := fmt.Sprintf("%d", v)
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	lead := len(s) % 3
	if lead > 0 {
		b.WriteString(s[:lead])
	}
	for i := lead; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}
