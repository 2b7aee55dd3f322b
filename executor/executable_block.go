package executor

import (
	"bytes"

	primitivev1 "buf.build/gen/go/astria/primitives/protocolbuffers/go/astria/primitive/v1"
	sequencerblockv1 "buf.build/gen/go/astria/sequencerblock-apis/protocolbuffers/go/astria/sequencerblock/v1"
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/astriaorg/conductor/celestia"
)

// executableBlock is the normalized form a block takes right before being
// sent to the execution layer, regardless of whether it arrived from the
// sequencer or was reconstructed from Celestia.
type executableBlock struct {
	// Hash of the originating sequencer block, NOT of any rollup block.
	hash         []byte
	height       uint64
	timestamp    *timestamppb.Timestamp
	transactions [][]byte
}

func executableBlockFromReconstructed(block *celestia.ReconstructedBlock) *executableBlock {
	return &executableBlock{
		hash:         block.BlockHash,
		height:       block.Header.GetHeight(),
		timestamp:    block.Header.GetTime(),
		transactions: block.Transactions,
	}
}

// executableBlockFromSequencer filters the sequencer block's transactions
// down to those belonging to rollupID. A sequencer block that carries no data
// for the rollup still produces an (empty) executable block, so that rollup
// heights track sequencer heights one to one.
func executableBlockFromSequencer(
	block *sequencerblockv1.SequencerBlock,
	rollupID *primitivev1.RollupId,
) *executableBlock {
	var transactions [][]byte
	for _, rollupTxs := range block.GetRollupTransactions() {
		if bytes.Equal(rollupTxs.GetRollupId().GetInner(), rollupID.GetInner()) {
			transactions = rollupTxs.GetTransactions()
			break
		}
	}
	return &executableBlock{
		hash:         block.GetBlockHash(),
		height:       block.GetHeader().GetHeight(),
		timestamp:    block.GetHeader().GetTime(),
		transactions: transactions,
	}
}
