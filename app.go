package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/stakemesh/harvester/internal/lib/harvest"
	"github.com/stakemesh/harvester/internal/lib/ledger"
	"github.com/stakemesh/harvester/internal/lib/misc"
	"github.com/stakemesh/harvester/internal/lib/signer"
)

var logLevel = new(slog.LevelVar) // Info by default

func initApp() *HarvesterApp {
	log.SetFlags(0)
	var logger *slog.Logger
	if term.IsTerminal(int(os.Stdout.Fd())) {
		// Output is a tty - we're being run as CLI rather than as a daemon
		logger = slog.New(misc.NewMinimalHandler(os.Stdout,
			misc.MinimalHandlerOptions{SlogOpts: slog.HandlerOptions{Level: logLevel, AddSource: true}}))
	} else {
		// not on console - output as json, but change json key names to be more
		// compatible w/ what google logging expects
		opts := &slog.HandlerOptions{
			AddSource: true,
			Level:     logLevel,
			ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
				if a.Key == slog.MessageKey {
					a.Key = "message"
				} else if a.Key == slog.LevelKey && len(groups) == 0 {
					a.Key = "severity"
				}
				return a
			},
		}
		logger = slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	slog.SetDefault(logger)
	if os.Getenv("DEBUG") == "1" {
		logLevel.Set(slog.LevelDebug)
	}

	misc.LoadEnvSettings()

	// We initialize our wrapper instance first, so we can call its methods in
	// the 'Before' lambda func in initialization of the cli Command instance.
	// The keystore and gateway are set in the initClients method.
	appConfig := &HarvesterApp{logger: logger}

	appConfig.cliCmd = &cli.Command{
		Name:    "harvester",
		Usage:   "Staking payout bot: claims pending era rewards for configured stashes and pools",
		Version: misc.GetVersionInfo(),
		Before: func(ctx context.Context, cmd *cli.Command) error {
			// Further bootstrap of the 'app' but within context of 'cli' helper
			// as it has access to flags and options (network for eg) already set.
			return appConfig.initClients(ctx, cmd)
		},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "envfile",
				Usage:   "env file to load",
				Sources: cli.EnvVars("HARVESTER_ENVFILE"),
				Aliases: []string{"e"},
			},
			&cli.StringFlag{
				Name:    "network",
				Usage:   "Network to claim rewards on",
				Value:   "polkadot",
				Aliases: []string{"n"},
				Sources: cli.EnvVars("HARVESTER_NETWORK"),
			},
			&cli.StringFlag{
				Name:        "signer",
				Usage:       "Address of the account submitting payout transactions.  Its seed must be present in the environment.",
				Sources:     cli.EnvVars("HARVESTER_SIGNER"),
				Destination: &appConfig.signerAddr,
				OnlyOnce:    true,
			},
			&cli.StringSliceFlag{
				Name:    "stashes",
				Usage:   "Stash addresses to claim payouts for",
				Sources: cli.EnvVars("HARVESTER_STASHES"),
			},
			&cli.StringFlag{
				Name:    "stashes-url",
				Usage:   "Remote URL serving extra stash addresses, one per line",
				Sources: cli.EnvVars("HARVESTER_STASHES_URL"),
			},
			&cli.StringSliceFlag{
				Name:    "pools",
				Usage:   "Nomination pool ids to process",
				Sources: cli.EnvVars("HARVESTER_POOL_IDS"),
			},
			&cli.UintFlag{
				Name:        "maximum-payouts",
				Usage:       "Claim at most this many eras per stash per cycle (oldest first)",
				Sources:     cli.EnvVars("HARVESTER_MAX_PAYOUTS"),
				Value:       4,
				Destination: &appConfig.maxPayouts,
				OnlyOnce:    true,
			},
			&cli.UintFlag{
				Name:        "maximum-history-eras",
				Usage:       "Look back at most this many eras (capped by the chain's history depth)",
				Sources:     cli.EnvVars("HARVESTER_MAX_HISTORY_ERAS"),
				Value:       84,
				Destination: &appConfig.maxHistoryEras,
				OnlyOnce:    true,
			},
			&cli.UintFlag{
				Name:        "maximum-calls",
				Usage:       "Initial ceiling on calls per batch; halved on overweight rejection",
				Sources:     cli.EnvVars("HARVESTER_MAX_CALLS"),
				Value:       8,
				Destination: &appConfig.maxCalls,
				OnlyOnce:    true,
			},
			&cli.BoolFlag{
				Name:    "unique-stashes",
				Usage:   "De-duplicate the merged stash list before processing",
				Sources: cli.EnvVars("HARVESTER_UNIQUE_STASHES"),
			},
		},
		Commands: []*cli.Command{
			GetDaemonCmdOpts(),
			GetRewardsCmdOpts(),
			GetPoolCmdOpts(),
			GetSetupCmdOpts(),
		},
	}
	return appConfig
}

type HarvesterApp struct {
	cliCmd   *cli.Command
	logger   *slog.Logger
	keystore signer.MultipleKeySigner
	gateway  *ledger.Gateway
	netCfg   ledger.NetworkConfig
	cfg      harvest.Config

	// just here for flag bootstrapping destination
	signerAddr     string
	maxPayouts     uint64
	maxHistoryEras uint64
	maxCalls       uint64
}

// initClients validates the network, dials the ledger gateway (testing
// connectivity), loads signing keys from the environment and assembles the
// harvest config from flags plus environment overrides.
func (ha *HarvesterApp) initClients(ctx context.Context, cmd *cli.Command) error {
	network := cmd.String("network")

	if envfile := cmd.String("envfile"); envfile != "" {
		err := loadNamedEnvFile(envfile)
		if err != nil {
			return err
		}
	}
	// quick validity check on possible network names...
	switch network {
	case "sandbox", "westend", "kusama", "polkadot":
	default:
		return fmt.Errorf("unknown network:%s", network)
	}

	// Now load .env.{network} overrides -ie: .env.sandbox containing generated
	// seeds by bootstrap testing script
	misc.LoadEnvForNetwork(ha.logger, network)

	ha.netCfg = ledger.GetNetworkConfig(network)
	gateway, err := ledger.Dial(ctx, ha.logger, ha.netCfg)
	if err != nil {
		return err
	}
	ha.gateway = gateway

	// This loads and initializes seeds from the environment - and handles all
	// 'local' signing for the app
	ha.keystore = signer.NewLocalKeyStore(ha.logger)

	if ha.signerAddr == "" {
		ha.signerAddr = misc.GetSecret("HARVESTER_SIGNER")
	}

	poolIDs, err := parsePoolIDs(cmd.StringSlice("pools"))
	if err != nil {
		return err
	}

	ha.cfg = harvest.Config{
		Network:             network,
		Stashes:             cmd.StringSlice("stashes"),
		RemoteStashesURL:    cmd.String("stashes-url"),
		PoolIDs:             poolIDs,
		MaximumPayouts:      int(ha.maxPayouts),
		MaximumHistoryEras:  uint32(ha.maxHistoryEras),
		MaximumCalls:        int(ha.maxCalls),
		SignerAddress:       ha.signerAddr,
		UniqueStashes:       cmd.Bool("unique-stashes"),
		SignerBalanceFactor: envUint("HARVESTER_SIGNER_BALANCE_FACTOR"),
		SubmitRetries:       int(envUint("HARVESTER_SUBMIT_RETRIES")),
		InclusionTimeout:    envDuration("HARVESTER_INCLUSION_TIMEOUT"),
		ResolveWorkers:      int(envUint("HARVESTER_RESOLVE_WORKERS")),

		PoolCompound:             envBool("HARVESTER_POOL_COMPOUND"),
		PoolOperatorCompoundOnly: envBool("HARVESTER_POOL_OPERATOR_COMPOUND_ONLY"),
		PoolCompoundThreshold:    envUint("HARVESTER_POOL_COMPOUND_THRESHOLD"),
		PoolClaimCommission:      envBool("HARVESTER_POOL_CLAIM_COMMISSION"),
		PoolAllNominees:          envBool("HARVESTER_POOL_ALL_NOMINEES"),
	}.WithDefaults()
	return nil
}

// newCoordinator wires a run coordinator from the app's already-initialized
// clients plus any per-command config adjustments applied by the caller.
func (ha *HarvesterApp) newCoordinator(cfg harvest.Config, notifier harvest.Notifier) (*harvest.Coordinator, error) {
	return harvest.NewCoordinator(ha.logger, ha.gateway, ha.gateway.Codec(),
		ha.keystore, ha.netCfg, cfg, notifier)
}

func parsePoolIDs(vals []string) ([]uint32, error) {
	var ids []uint32
	for _, v := range vals {
		id, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid pool id %q: %w", v, err)
		}
		ids = append(ids, uint32(id))
	}
	return ids, nil
}

func envUint(envName string) uint64 {
	strVal := os.Getenv(envName)
	if strVal == "" {
		return 0
	}
	intVal, err := strconv.ParseUint(strVal, 10, 64)
	if err != nil {
		return 0
	}
	return intVal
}

func envBool(envName string) bool {
	boolVal, err := strconv.ParseBool(os.Getenv(envName))
	return err == nil && boolVal
}

func envDuration(envName string) time.Duration {
	strVal := os.Getenv(envName)
	if strVal == "" {
		return 0
	}
	d, err := time.ParseDuration(strVal)
	if err != nil {
		return 0
	}
	return d
}

func loadNamedEnvFile(envFile string) error {
	misc.Infof(App.logger, "loading env file:%s", envFile)
	return godotenv.Load(envFile)
}
