package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/astriaorg/conductor/config"
	"github.com/astriaorg/conductor/executor"
	"github.com/astriaorg/conductor/flags"
)

var (
	Version   = ""
	GitCommit = ""
	GitDate   = ""
)

func main() {
	app := cli.NewApp()
	app.Name = "conductor"
	app.Usage = "Drives a rollup execution node from sequencer and DA block streams"
	app.Version = fmt.Sprintf("%s-%s-%s", Version, GitCommit, GitDate)
	app.Flags = flags.Flags
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		log.Crit("conductor failed", "err", err)
	}
}

func run(cliCtx *cli.Context) error {
	cfg, err := config.NewConfig(cliCtx)
	if err != nil {
		return err
	}

	lvl, err := log.LvlFromString(cfg.LogLevel)
	if err != nil {
		return err
	}
	log.SetDefault(log.NewLogger(log.NewTerminalHandlerWithLevel(os.Stderr, lvl, true)))

	shutdown := make(chan struct{}, 1)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("caught signal; requesting shutdown", "signal", sig)
		shutdown <- struct{}{}
	}()

	exec, handle, err := executor.Builder{
		RollupAddress:            cfg.ExecutionRPCURL,
		Shutdown:                 shutdown,
		ConsiderCommitmentSpread: cfg.ConsiderCommitmentSpread,
		FirmBlocksChannelSize:    cfg.FirmBlocksChannelSize,
		SoftBlocksChannelSize:    cfg.SoftBlocksChannelSize,
	}.Build()
	if err != nil {
		return fmt.Errorf("failed to build executor: %w", err)
	}

	g, ctx := errgroup.WithContext(context.Background())
	g.Go(func() error {
		return exec.RunUntilStopped(ctx)
	})
	g.Go(func() error {
		// The sequencer and DA readers attach to the executor through this
		// handle; until they are wired in, report commitment progress so
		// operators can watch the node being driven.
		initialized, err := handle.WaitForInit(ctx)
		if err != nil {
			return nil
		}
		log.Info(
			"executor initialized",
			"rollup_id", common.BytesToHash(initialized.RollupID().GetInner()),
			"next_firm_sequencer_height", initialized.NextExpectedFirmSequencerHeight(),
			"next_soft_sequencer_height", initialized.NextExpectedSoftSequencerHeight(),
		)
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				log.Info(
					"commitment progress",
					"next_firm_sequencer_height", initialized.NextExpectedFirmSequencerHeight(),
					"next_soft_sequencer_height", initialized.NextExpectedSoftSequencerHeight(),
				)
			}
		}
	})
	return g.Wait()
}
