// Package celestia holds the types shared with the data availability reader.
// The reader itself runs as a separate task; the executor only consumes the
// blocks it reconstructs from Celestia blobs.
package celestia

import (
	sequencerblockv1 "buf.build/gen/go/astria/sequencerblock-apis/protocolbuffers/go/astria/sequencerblock/v1"
)

// ReconstructedBlock is a sequencer block rebuilt from blobs posted to
// Celestia. Its transactions are already filtered to a single rollup and are
// passed to the execution layer verbatim.
type ReconstructedBlock struct {
	// Hash of the sequencer block the rollup data was included in.
	BlockHash []byte

	Header *sequencerblockv1.SequencerBlockHeader

	Transactions [][]byte

	// The Celestia height the blobs were retrieved from. Reported back to the
	// rollup node so it can persist the DA scan floor across restarts.
	CelestiaHeight uint64
}

// Height is the sequencer height the block was proposed at.
func (b *ReconstructedBlock) Height() uint64 {
	return b.Header.GetHeight()
}
