package executor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDepositHookPassesThroughWhenNoDeposits(t *testing.T) {
	hook := NewDepositHook(make(chan []byte))
	txs := [][]byte{[]byte("a"), []byte("b")}

	got, err := hook.Populate(context.Background(), txs)
	require.NoError(t, err)
	require.Equal(t, txs, got)
}

func TestDepositHookPrependsAvailableDeposits(t *testing.T) {
	deposits := make(chan []byte, 3)
	deposits <- []byte("d1")
	deposits <- []byte("d2")
	hook := NewDepositHook(deposits)

	got, err := hook.Populate(context.Background(), [][]byte{[]byte("a")})
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("d1"), []byte("d2"), []byte("a")}, got)

	// Later deposits surface on the next call; earlier ones are not replayed.
	deposits <- []byte("d3")
	got, err = hook.Populate(context.Background(), [][]byte{[]byte("b")})
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("d3"), []byte("b")}, got)
}

func TestDepositHookSurvivesClosedSource(t *testing.T) {
	deposits := make(chan []byte, 1)
	deposits <- []byte("d1")
	close(deposits)
	hook := NewDepositHook(deposits)

	got, err := hook.Populate(context.Background(), [][]byte{[]byte("a")})
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("d1"), []byte("a")}, got)

	got, err = hook.Populate(context.Background(), [][]byte{[]byte("b")})
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("b")}, got)
}
