// Package flags holds the command line flags of the conductor and collector
// binaries.
package flags

import (
	"fmt"

	"github.com/urfave/cli/v2"
)

const EnvVarPrefix = "ASTRIA_CONDUCTOR"

func prefixEnvVars(name string) []string {
	return []string{fmt.Sprintf("%s_%s", EnvVarPrefix, name)}
}

var (
	ExecutionRPCURLFlag = &cli.StringFlag{
		Name:    "execution-rpc-url",
		Usage:   "gRPC endpoint of the rollup node's execution service",
		EnvVars: prefixEnvVars("EXECUTION_RPC_URL"),
	}
	ConsiderCommitmentSpreadFlag = &cli.BoolFlag{
		Name:    "consider-commitment-spread",
		Usage:   "Pause soft block execution while soft commitments run too far ahead of firm commitments",
		EnvVars: prefixEnvVars("CONSIDER_COMMITMENT_SPREAD"),
		Value:   true,
	}
	FirmBlocksChannelSizeFlag = &cli.IntFlag{
		Name:    "firm-blocks-channel-size",
		Usage:   "Capacity of the queue buffering blocks reconstructed from Celestia",
		EnvVars: prefixEnvVars("FIRM_BLOCKS_CHANNEL_SIZE"),
		Value:   16,
	}
	SoftBlocksChannelSizeFlag = &cli.IntFlag{
		Name:    "soft-blocks-channel-size",
		Usage:   "Capacity of the queue buffering blocks gossiped by the sequencer",
		EnvVars: prefixEnvVars("SOFT_BLOCKS_CHANNEL_SIZE"),
		Value:   16,
	}
	LogLevelFlag = &cli.StringFlag{
		Name:    "log-level",
		Usage:   "The lowest log level that will be output: trace|debug|info|warn|error|crit",
		EnvVars: prefixEnvVars("LOG_LEVEL"),
		Value:   "info",
	}
)

var requiredFlags = []cli.Flag{
	ExecutionRPCURLFlag,
}

var optionalFlags = []cli.Flag{
	ConsiderCommitmentSpreadFlag,
	FirmBlocksChannelSizeFlag,
	SoftBlocksChannelSizeFlag,
	LogLevelFlag,
}

// Flags contains the list of configuration options available to the binary.
var Flags = append(requiredFlags, optionalFlags...)

// CheckRequired returns an error if any required flag is unset.
func CheckRequired(ctx *cli.Context) error {
	return checkRequired(ctx, requiredFlags)
}

func checkRequired(ctx *cli.Context, required []cli.Flag) error {
	for _, f := range required {
		flag := f.(*cli.StringFlag)
		if !ctx.IsSet(flag.Name) {
			return fmt.Errorf("flag %s is required", flag.Name)
		}
	}
	return nil
}
