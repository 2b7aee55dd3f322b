package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	txv1alpha1 "buf.build/gen/go/astria/protocol-apis/protocolbuffers/go/astria/protocol/transactions/v1alpha1"
	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/astriaorg/conductor/collector"
	"github.com/astriaorg/conductor/config"
	"github.com/astriaorg/conductor/flags"
)

var (
	Version   = ""
	GitCommit = ""
	GitDate   = ""
)

func main() {
	app := cli.NewApp()
	app.Name = "collector"
	app.Usage = "Collects pending rollup transactions and wraps them as sequence actions for the searcher"
	app.Version = fmt.Sprintf("%s-%s-%s", Version, GitCommit, GitDate)
	app.Flags = flags.CollectorFlags
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		log.Crit("collector failed", "err", err)
	}
}

func run(cliCtx *cli.Context) error {
	cfg, err := config.NewCollectorConfig(cliCtx)
	if err != nil {
		return err
	}

	lvl, err := log.LvlFromString(cfg.LogLevel)
	if err != nil {
		return err
	}
	log.SetDefault(log.NewLogger(log.NewTerminalHandlerWithLevel(os.Stderr, lvl, true)))

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("caught signal; requesting shutdown", "signal", sig)
		stop()
	}()

	bundles := make(chan *txv1alpha1.SequenceAction, cfg.BundleChannelSize)
	c := collector.New(cfg.ChainName, cfg.RollupWebsocketURL, bundles)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.RunUntilStopped(gctx)
	})
	g.Go(func() error {
		// The searcher consumes this channel in the full composer; until it
		// is wired in, drain it and report throughput so collected
		// transactions are observable.
		var forwarded uint64
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case action := <-bundles:
				forwarded++
				log.Debug("received sequence action", "data_len", len(action.GetData()))
			case <-ticker.C:
				log.Info("collector throughput", "sequence_actions", forwarded)
			}
		}
	})
	return g.Wait()
}
