package flags

import (
	"fmt"

	"github.com/urfave/cli/v2"
)

const ComposerEnvVarPrefix = "ASTRIA_COMPOSER"

func prefixComposerEnvVars(name string) []string {
	return []string{fmt.Sprintf("%s_%s", ComposerEnvVarPrefix, name)}
}

var (
	ChainNameFlag = &cli.StringFlag{
		Name:    "chain-name",
		Usage:   "Name of the rollup chain transactions are collected from; the rollup id is derived from it",
		EnvVars: prefixComposerEnvVars("CHAIN_NAME"),
	}
	RollupWebsocketURLFlag = &cli.StringFlag{
		Name:    "rollup-websocket-url",
		Usage:   "Websocket URL of the rollup node to subscribe to pending transactions on, including scheme",
		EnvVars: prefixComposerEnvVars("ROLLUP_WEBSOCKET_URL"),
	}
	BundleChannelSizeFlag = &cli.IntFlag{
		Name:    "bundle-channel-size",
		Usage:   "Capacity of the queue buffering sequence actions handed to the searcher",
		EnvVars: prefixComposerEnvVars("BUNDLE_CHANNEL_SIZE"),
		Value:   256,
	}
	CollectorLogLevelFlag = &cli.StringFlag{
		Name:    "log-level",
		Usage:   "The lowest log level that will be output: trace|debug|info|warn|error|crit",
		EnvVars: prefixComposerEnvVars("LOG_LEVEL"),
		Value:   "info",
	}
)

var collectorRequiredFlags = []cli.Flag{
	ChainNameFlag,
	RollupWebsocketURLFlag,
}

var collectorOptionalFlags = []cli.Flag{
	BundleChannelSizeFlag,
	CollectorLogLevelFlag,
}

// CollectorFlags contains the configuration options of the collector binary.
var CollectorFlags = append(collectorRequiredFlags, collectorOptionalFlags...)

// CheckCollectorRequired returns an error if any required collector flag is
// unset.
func CheckCollectorRequired(ctx *cli.Context) error {
	return checkRequired(ctx, collectorRequiredFlags)
}
