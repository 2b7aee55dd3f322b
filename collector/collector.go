// Package collector funnels pending transactions from a rollup node's
// mempool to the searcher.
//
// A collector is a sub-actor interfacing with one rollup chain: it subscribes
// to the node's pending-transaction firehose over websocket, wraps each
// transaction as a sequence action, and hands it downstream. A searcher can
// run several collectors at once, one per rollup.
package collector

import (
	"context"
	"crypto/sha256"
	"fmt"
	"time"

	primitivev1 "buf.build/gen/go/astria/primitives/protocolbuffers/go/astria/primitive/v1"
	txv1alpha1 "buf.build/gen/go/astria/protocol-apis/protocolbuffers/go/astria/protocol/transactions/v1alpha1"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient/gethclient"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/astriaorg/conductor/watch"
)

const (
	dialRetryBaseDelay = 500 * time.Millisecond
	dialRetryMaxDelay  = 60 * time.Second
	dialMaxAttempts    = 1024

	// How long a send to the searcher may block before the transaction is
	// dropped to preserve liveness of the stream.
	bundleSendTimeout = 500 * time.Millisecond

	defaultNativeAssetDenom = "nria"
)

var (
	txCollectedCount = metrics.GetOrRegisterCounter("astria/composer/collector/tx_collected", nil)
	txDroppedCount   = metrics.GetOrRegisterCounter("astria/composer/collector/tx_dropped", nil)
)

// Status reports whether the collector currently holds a live mempool
// subscription. Published on a watch channel; subscribers observe the latest
// value.
type Status struct {
	IsConnected bool
}

// Collector collects transactions submitted to a rollup node and passes them
// downstream for the searcher to process.
type Collector struct {
	// Identifies in the sequencer block which rollup a serialized sequence
	// action belongs to. Derived from chainName.
	rollupID *primitivev1.RollupId

	chainName string
	url       string

	newBundles chan<- *txv1alpha1.SequenceAction

	status *watch.Channel[Status]
}

// New creates a collector for the chain named chainName whose node is
// reachable at url (a full websocket URL including scheme). Wrapped
// transactions are delivered to newBundles.
func New(chainName, url string, newBundles chan<- *txv1alpha1.SequenceAction) *Collector {
	return &Collector{
		rollupID:   RollupIDFromChainName(chainName),
		chainName:  chainName,
		url:        url,
		newBundles: newBundles,
		status:     watch.NewChannel(Status{}),
	}
}

// RollupIDFromChainName derives the 32-byte rollup id from the chain name
// using the sequencer's canonical derivation.
func RollupIDFromChainName(chainName string) *primitivev1.RollupId {
	hash := sha256.Sum256([]byte(chainName))
	return &primitivev1.RollupId{Inner: hash[:]}
}

// Subscribe returns a receiver observing the collector's connection status.
func (c *Collector) Subscribe() *watch.Receiver[Status] {
	return c.status.Subscribe()
}

// RunUntilStopped connects to the rollup node (retrying with exponential
// backoff), subscribes to full pending transactions, and forwards them until
// ctx is cancelled or the subscription fails. A subscription failure after a
// successful connect is fatal for the collector.
func (c *Collector) RunUntilStopped(ctx context.Context) error {
	client, err := c.dialWithRetry(ctx)
	if err != nil {
		return fmt.Errorf("failed connecting to rollup node after several retries; giving up: %w", err)
	}
	defer client.Close()

	pendingTxs := make(chan *types.Transaction, 256)
	sub, err := gethclient.New(client).SubscribeFullPendingTransactions(ctx, pendingTxs)
	if err != nil {
		return fmt.Errorf("failed to subscribe to full pending transactions: %w", err)
	}
	defer sub.Unsubscribe()

	c.status.Modify(func(s *Status) { s.IsConnected = true })
	defer c.status.Modify(func(s *Status) { s.IsConnected = false })
	log.Info("collector connected to rollup node", "chain_name", c.chainName, "url", c.url)

	for {
		select {
		case <-ctx.Done():
			log.Info("collector received stop signal; exiting", "chain_name", c.chainName)
			return nil

		case err := <-sub.Err():
			if err == nil {
				// Subscription torn down locally; treat like a stop.
				return nil
			}
			return fmt.Errorf("pending transaction subscription failed: %w", err)

		case tx := <-pendingTxs:
			c.forward(ctx, tx)
		}
	}
}

func (c *Collector) forward(ctx context.Context, tx *types.Transaction) {
	txHash := tx.Hash()
	log.Debug("collected transaction from rollup", "transaction_hash", txHash, "chain_name", c.chainName)

	data, err := tx.MarshalBinary()
	if err != nil {
		log.Warn("failed to serialize collected transaction; dropping tx", "transaction_hash", txHash, "err", err)
		txDroppedCount.Inc(1)
		return
	}
	seqAction := &txv1alpha1.SequenceAction{
		RollupId: c.rollupID,
		Data:     data,
		FeeAsset: defaultNativeAssetDenom,
	}

	timeout := time.NewTimer(bundleSendTimeout)
	defer timeout.Stop()
	select {
	case c.newBundles <- seqAction:
		txCollectedCount.Inc(1)
	case <-timeout.C:
		log.Warn(
			"timed out sending new transaction to searcher after 500ms; dropping tx",
			"transaction_hash", txHash,
		)
		txDroppedCount.Inc(1)
	case <-ctx.Done():
		log.Warn(
			"searcher gone while sending transaction; dropping tx",
			"transaction_hash", txHash,
		)
		txDroppedCount.Inc(1)
	}
}

func (c *Collector) dialWithRetry(ctx context.Context) (*rpc.Client, error) {
	delay := dialRetryBaseDelay
	var lastErr error
	for attempt := 1; attempt <= dialMaxAttempts; attempt++ {
		client, err := rpc.DialWebsocket(ctx, c.url, "")
		if err == nil {
			return client, nil
		}
		lastErr = err
		if attempt == dialMaxAttempts {
			break
		}
		log.Warn(
			"attempt to connect to rollup node failed; retrying after backoff",
			"attempt", attempt,
			"wait_duration", delay,
			"err", err,
		)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > dialRetryMaxDelay {
			delay = dialRetryMaxDelay
		}
	}
	return nil, lastErr
}
