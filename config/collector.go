package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"

	"github.com/astriaorg/conductor/flags"
)

type CollectorConfig struct {
	// ChainName is the name of the rollup chain transactions are collected
	// from. The rollup id routing the collected transactions is derived from
	// it.
	ChainName string

	// RollupWebsocketURL is the websocket endpoint of the rollup node,
	// including scheme.
	RollupWebsocketURL string

	BundleChannelSize int

	LogLevel string
}

// NewCollectorConfig builds a validated CollectorConfig from the cli context.
func NewCollectorConfig(ctx *cli.Context) (CollectorConfig, error) {
	if err := flags.CheckCollectorRequired(ctx); err != nil {
		return CollectorConfig{}, err
	}
	cfg := CollectorConfig{
		ChainName:          ctx.String(flags.ChainNameFlag.Name),
		RollupWebsocketURL: ctx.String(flags.RollupWebsocketURLFlag.Name),
		BundleChannelSize:  ctx.Int(flags.BundleChannelSizeFlag.Name),
		LogLevel:           ctx.String(flags.CollectorLogLevelFlag.Name),
	}
	if err := cfg.Check(); err != nil {
		return CollectorConfig{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c CollectorConfig) Check() error {
	if c.ChainName == "" {
		return errors.New("chain name must not be empty")
	}
	if !strings.HasPrefix(c.RollupWebsocketURL, "ws://") && !strings.HasPrefix(c.RollupWebsocketURL, "wss://") {
		return fmt.Errorf("rollup websocket url %q must use the ws or wss scheme", c.RollupWebsocketURL)
	}
	if c.BundleChannelSize <= 0 {
		return errors.New("bundle channel size must be positive")
	}
	if _, err := log.LvlFromString(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	return nil
}
