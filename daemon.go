package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/stakemesh/harvester/internal/lib/harvest"
	"github.com/stakemesh/harvester/internal/lib/ledger"
	"github.com/stakemesh/harvester/internal/lib/misc"
)

func GetDaemonCmdOpts() *cli.Command {
	return &cli.Command{
		Name:    "daemon",
		Aliases: []string{"d"},
		Usage:   "Run the payout bot as a daemon, claiming on era events or a fixed interval",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "mode",
				Usage:   "Trigger mode: 'era' (claim after each era-paid event) or 'interval'",
				Value:   "era",
				Sources: cli.EnvVars("HARVESTER_MODE"),
			},
			&cli.DurationFlag{
				Name:    "interval",
				Usage:   "Cycle interval when mode is 'interval'",
				Value:   6 * time.Hour,
				Sources: cli.EnvVars("HARVESTER_INTERVAL"),
			},
			&cli.DurationFlag{
				Name:    "error-interval",
				Usage:   "Hold-off before the final attempt after repeated cycle failures",
				Value:   30 * time.Minute,
				Sources: cli.EnvVars("HARVESTER_ERROR_INTERVAL"),
			},
			&cli.UintFlag{
				Name:    "max-cycle-failures",
				Usage:   "Consecutive cycle failures tolerated before the final attempt",
				Value:   2,
				Sources: cli.EnvVars("HARVESTER_MAX_CYCLE_FAILURES"),
			},
			&cli.DurationFlag{
				Name:    "jitter-max",
				Usage:   "Upper bound of the random wait applied before triggered cycles",
				Value:   4 * time.Minute,
				Sources: cli.EnvVars("HARVESTER_JITTER_MAX"),
			},
			&cli.UintFlag{
				Name:    "port",
				Usage:   "Port to expose prometheus metrics on",
				Value:   8080,
				Sources: cli.EnvVars("HARVESTER_METRICS_PORT"),
			},
		},
		Action: runAsDaemon,
	}
}

func runAsDaemon(ctx context.Context, cmd *cli.Command) error {
	switch cmd.String("mode") {
	case "era":
		App.cfg.Mode = harvest.TriggerEraEvent
	case "interval":
		App.cfg.Mode = harvest.TriggerFixedInterval
	default:
		return fmt.Errorf("unknown mode:%s", cmd.String("mode"))
	}
	App.cfg.Interval = cmd.Duration("interval")
	App.cfg.ErrorInterval = cmd.Duration("error-interval")
	App.cfg.MaxCycleFailures = int(cmd.Uint("max-cycle-failures"))
	App.cfg.FirstWakeJitterMax = cmd.Duration("jitter-max")
	App.cfg.EraEventJitterMax = cmd.Duration("jitter-max")

	coordinator, err := App.newCoordinator(App.cfg, &logNotifier{logger: App.logger, netCfg: App.netCfg})
	if err != nil {
		return err
	}
	scheduler := harvest.NewScheduler(App.logger, App.cfg, App.gateway.SubscribeEraPaid)

	misc.Infof(App.logger, "starting harvester daemon, network:%s mode:%s", App.cfg.Network, App.cfg.Mode)

	// Create channel used by both the signal handler and the worker group
	// to notify the main goroutine when to stop.
	errc := make(chan error)

	// Setup interrupt handler so that SIGINT and SIGTERM cause a graceful stop.
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return serveMetrics(gctx, cmd.Uint("port"))
	})
	g.Go(func() error {
		return scheduler.Run(gctx, func(ctx context.Context) (err error) {
			_, err = coordinator.RunCycle(ctx)
			return err
		})
	})
	go func() {
		errc <- g.Wait()
	}()

	err = <-errc // wait for termination signal or scheduler termination
	misc.Infof(App.logger, "exiting (%v)", err)

	// Send cancellation signal to the goroutines and wait them out.
	cancel()
	_ = g.Wait()

	misc.Infof(App.logger, "exited")
	if err != nil && !isSignal(err) {
		return err
	}
	return nil
}

func isSignal(err error) bool {
	return err != nil && (err.Error() == syscall.SIGINT.String() || err.Error() == syscall.SIGTERM.String())
}

func serveMetrics(ctx context.Context, port uint64) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	misc.Infof(App.logger, "metrics available at :%d/metrics", port)
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// logNotifier reports cycle outcomes through the process logger.  A real
// deployment can swap in a webhook notifier; the coordinator treats notify
// errors as warnings either way.
type logNotifier struct {
	logger *slog.Logger
	netCfg ledger.NetworkConfig
}

func (n *logNotifier) Notify(_ context.Context, outcome *harvest.Outcome) error {
	for _, t := range outcome.Targets {
		if len(t.ClaimedEras) > 0 {
			misc.Infof(n.logger, "%s (%s): claimed eras %v, validator:%s nominators:%s",
				t.Identity, t.Stash, t.ClaimedEras,
				formatTokenAmount(t.ValidatorAmount, n.netCfg), formatTokenAmount(t.NominatorsAmount, n.netCfg))
		}
		for _, failure := range t.Failures {
			misc.Warnf(n.logger, "%s (%s): %s", t.Identity, t.Stash, failure)
		}
	}
	for _, p := range outcome.Pools {
		if p.MembersCompounded > 0 || p.CommissionClaimed {
			misc.Infof(n.logger, "pool %d: compounded %d members, commission claimed:%v",
				p.PoolID, p.MembersCompounded, p.CommissionClaimed)
		}
		for _, failure := range p.Failures {
			misc.Warnf(n.logger, "pool %d: %s", p.PoolID, failure)
		}
	}
	return nil
}
