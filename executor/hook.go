package executor

import (
	"context"
)

// PreExecutionHook modifies the transaction list of a block right before it
// is sent to the execution layer via ExecuteBlock.
//
// Implementations may keep state across calls (for instance a cursor into a
// settlement-layer event log), and may prepend transactions of their own, but
// must not reorder or drop the transactions they were given.
type PreExecutionHook interface {
	Populate(ctx context.Context, transactions [][]byte) ([][]byte, error)
}

// DepositHook injects settlement-layer deposit transactions ahead of the
// rollup's user transactions. Deposits are drained from a channel fed by an
// external bridge watcher; whatever is available at call time is included, in
// arrival order, before the block's own transactions.
type DepositHook struct {
	deposits <-chan []byte

	// Number of deposits injected so far, across all calls.
	injected uint64
}

func NewDepositHook(deposits <-chan []byte) *DepositHook {
	return &DepositHook{deposits: deposits}
}

func (h *DepositHook) Populate(_ context.Context, transactions [][]byte) ([][]byte, error) {
	var pending [][]byte
	for {
		select {
		case deposit, ok := <-h.deposits:
			if !ok {
				// Source gone; serve what was drained and fall through to
				// plain pass-through on future calls.
				h.deposits = nil
				goto done
			}
			pending = append(pending, deposit)
		default:
			goto done
		}
	}
done:
	if len(pending) == 0 {
		return transactions, nil
	}
	h.injected += uint64(len(pending))
	return append(pending, transactions...), nil
}
