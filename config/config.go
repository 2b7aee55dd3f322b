// Package config resolves the conductor's configuration from the command
// line and the process environment.
package config

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"

	"github.com/astriaorg/conductor/flags"
)

type Config struct {
	// ExecutionRPCURL is the gRPC endpoint of the rollup node's execution
	// service.
	ExecutionRPCURL string

	// ConsiderCommitmentSpread pauses soft block execution while soft
	// commitments run too far ahead of firm commitments.
	ConsiderCommitmentSpread bool

	FirmBlocksChannelSize int
	SoftBlocksChannelSize int

	LogLevel string
}

// NewConfig builds a validated Config from the cli context.
func NewConfig(ctx *cli.Context) (Config, error) {
	if err := flags.CheckRequired(ctx); err != nil {
		return Config{}, err
	}
	cfg := Config{
		ExecutionRPCURL:          ctx.String(flags.ExecutionRPCURLFlag.Name),
		ConsiderCommitmentSpread: ctx.Bool(flags.ConsiderCommitmentSpreadFlag.Name),
		FirmBlocksChannelSize:    ctx.Int(flags.FirmBlocksChannelSizeFlag.Name),
		SoftBlocksChannelSize:    ctx.Int(flags.SoftBlocksChannelSizeFlag.Name),
		LogLevel:                 ctx.String(flags.LogLevelFlag.Name),
	}
	if err := cfg.Check(); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c Config) Check() error {
	if c.ExecutionRPCURL == "" {
		return errors.New("execution rpc url must not be empty")
	}
	if c.FirmBlocksChannelSize <= 0 {
		return errors.New("firm blocks channel size must be positive")
	}
	if c.SoftBlocksChannelSize <= 0 {
		return errors.New("soft blocks channel size must be positive")
	}
	if _, err := log.LvlFromString(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	return nil
}
