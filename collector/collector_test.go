package collector

import (
	"context"
	"crypto/sha256"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	txv1alpha1 "buf.build/gen/go/astria/protocol-apis/protocolbuffers/go/astria/protocol/transactions/v1alpha1"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/require"
)

const testChainName = "test-rollup"

// mockEthService serves the eth_subscribe("newPendingTransactions", true)
// firehose the collector consumes, replaying canned transactions.
type mockEthService struct {
	txs []*types.Transaction
}

func (s *mockEthService) NewPendingTransactions(ctx context.Context, fullTx bool) (*rpc.Subscription, error) {
	notifier, ok := rpc.NotifierFromContext(ctx)
	if !ok {
		return nil, rpc.ErrNotificationsUnsupported
	}
	sub := notifier.CreateSubscription()
	go func() {
		for _, tx := range s.txs {
			if err := notifier.Notify(sub.ID, tx); err != nil {
				return
			}
			time.Sleep(50 * time.Millisecond)
		}
	}()
	return sub, nil
}

func signedTestTxs(t *testing.T, count int) []*types.Transaction {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	signer := types.LatestSignerForChainID(big.NewInt(1337))
	to := common.HexToAddress("0x0000000000000000000000000000000000001234")

	txs := make([]*types.Transaction, 0, count)
	for i := 0; i < count; i++ {
		tx, err := types.SignNewTx(key, signer, &types.DynamicFeeTx{
			ChainID:   big.NewInt(1337),
			Nonce:     uint64(i),
			GasTipCap: big.NewInt(1),
			GasFeeCap: big.NewInt(1000000000),
			Gas:       21000,
			To:        &to,
			Value:     big.NewInt(1),
		})
		require.NoError(t, err)
		txs = append(txs, tx)
	}
	return txs
}

// newMempoolServer serves the rollup node's websocket endpoint, rejecting the
// first rejectConnects upgrade attempts.
func newMempoolServer(t *testing.T, txs []*types.Transaction, rejectConnects int) string {
	t.Helper()

	rpcServer := rpc.NewServer()
	require.NoError(t, rpcServer.RegisterName("eth", &mockEthService{txs: txs}))
	t.Cleanup(rpcServer.Stop)
	wsHandler := rpcServer.WebsocketHandler([]string{"*"})

	var attempts atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) <= int64(rejectConnects) {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		wsHandler.ServeHTTP(w, r)
	}))
	t.Cleanup(server.Close)

	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestCollectorForwardsPendingTransactions(t *testing.T) {
	txs := signedTestTxs(t, 2)
	url := newMempoolServer(t, txs, 0)

	bundles := make(chan *txv1alpha1.SequenceAction, 4)
	c := New(testChainName, url, bundles)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- c.RunUntilStopped(ctx) }()

	statusRx := c.Subscribe()
	waitCtx, waitCancel := context.WithTimeout(ctx, 10*time.Second)
	defer waitCancel()
	_, err := statusRx.Wait(waitCtx, func(s Status) bool { return s.IsConnected })
	require.NoError(t, err, "collector never connected")

	expectedRollupID := sha256.Sum256([]byte(testChainName))
	for _, tx := range txs {
		select {
		case action := <-bundles:
			require.Equal(t, expectedRollupID[:], action.GetRollupId().GetInner())
			wire, err := tx.MarshalBinary()
			require.NoError(t, err)
			require.Equal(t, wire, action.GetData())
			require.Equal(t, defaultNativeAssetDenom, action.GetFeeAsset())
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for forwarded transaction")
		}
	}

	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err, "collector must exit cleanly on stop")
	case <-time.After(5 * time.Second):
		t.Fatal("collector did not exit")
	}
}

func TestCollectorDropsTransactionsOnBackpressure(t *testing.T) {
	txs := signedTestTxs(t, 3)
	url := newMempoolServer(t, txs, 0)

	// Zero capacity and a sleeping receiver: every send must time out.
	bundles := make(chan *txv1alpha1.SequenceAction)
	c := New(testChainName, url, bundles)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- c.RunUntilStopped(ctx) }()

	statusRx := c.Subscribe()
	waitCtx, waitCancel := context.WithTimeout(ctx, 10*time.Second)
	defer waitCancel()
	_, err := statusRx.Wait(waitCtx, func(s Status) bool { return s.IsConnected })
	require.NoError(t, err, "collector never connected")

	// Three transactions at 500ms send timeout each.
	time.Sleep(2 * time.Second)

	select {
	case err := <-errCh:
		t.Fatalf("collector must stay alive while dropping transactions, exited with: %v", err)
	default:
	}
	require.True(t, statusRx.Get().IsConnected, "collector must remain connected while dropping")
	require.Empty(t, bundles)

	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("collector did not exit")
	}
}

func TestCollectorReconnectsWithBackoff(t *testing.T) {
	txs := signedTestTxs(t, 1)
	// Reject the first two connection attempts; backoffs of ~500ms and ~1s
	// are expected before the third succeeds.
	url := newMempoolServer(t, txs, 2)

	bundles := make(chan *txv1alpha1.SequenceAction, 1)
	c := New(testChainName, url, bundles)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- c.RunUntilStopped(ctx) }()

	start := time.Now()
	statusRx := c.Subscribe()
	waitCtx, waitCancel := context.WithTimeout(ctx, 30*time.Second)
	defer waitCancel()
	_, err := statusRx.Wait(waitCtx, func(s Status) bool { return s.IsConnected })
	require.NoError(t, err, "collector never connected")
	require.GreaterOrEqual(t, time.Since(start), 1500*time.Millisecond,
		"two rejected attempts must incur the 500ms and 1s backoffs")

	select {
	case action := <-bundles:
		wire, err := txs[0].MarshalBinary()
		require.NoError(t, err)
		require.Equal(t, wire, action.GetData())
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for forwarded transaction after reconnect")
	}

	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("collector did not exit")
	}
}

func TestRollupIDFromChainName(t *testing.T) {
	expected := sha256.Sum256([]byte("astria"))
	require.Equal(t, expected[:], RollupIDFromChainName("astria").GetInner())
}
