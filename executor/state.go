package executor

import (
	"bytes"

	astriaPb "buf.build/gen/go/astria/execution-apis/protocolbuffers/go/astria/execution/v1"
	primitivev1 "buf.build/gen/go/astria/primitives/protocolbuffers/go/astria/primitive/v1"
)

// State tracks the SOFT and FIRM commitments on the execution chain together
// with the genesis parameters required to map rollup block numbers to
// sequencer heights.
//
// It starts uninitialized; the executor initializes it exactly once after
// fetching genesis info and the current commitment state from the rollup
// node. It has a single writer (the executor) and is distributed to readers
// via a watch channel, so its accessors operate on value copies; only the
// executor's mutators (init, updateCommitmentStateIfChanged) take a pointer.
type State struct {
	initialized bool

	rollupID                    *primitivev1.RollupId
	sequencerGenesisBlockHeight uint32
	celestiaBlockVariance       uint64
	baseCelestiaHeight          uint64

	firm *astriaPb.Block
	soft *astriaPb.Block
}

func (s State) IsInit() bool {
	return s.initialized
}

func (s *State) init(genesisInfo *astriaPb.GenesisInfo, commitmentState *astriaPb.CommitmentState) {
	s.initialized = true
	s.rollupID = genesisInfo.GetRollupId()
	s.sequencerGenesisBlockHeight = genesisInfo.GetSequencerGenesisBlockHeight()
	s.celestiaBlockVariance = genesisInfo.GetCelestiaBlockVariance()
	s.baseCelestiaHeight = commitmentState.GetBaseCelestiaHeight()
	s.firm = commitmentState.GetFirm()
	s.soft = commitmentState.GetSoft()
}

// updateCommitmentStateIfChanged replaces the tracked commitment state with
// the node's canonicalized response and reports whether anything changed.
func (s *State) updateCommitmentStateIfChanged(commitmentState *astriaPb.CommitmentState) bool {
	changed := !blocksEqual(s.firm, commitmentState.GetFirm()) ||
		!blocksEqual(s.soft, commitmentState.GetSoft()) ||
		s.baseCelestiaHeight != commitmentState.GetBaseCelestiaHeight()
	s.firm = commitmentState.GetFirm()
	s.soft = commitmentState.GetSoft()
	s.baseCelestiaHeight = commitmentState.GetBaseCelestiaHeight()
	return changed
}

func (s State) RollupID() *primitivev1.RollupId {
	return s.rollupID
}

func (s State) Firm() *astriaPb.Block {
	return s.firm
}

func (s State) Soft() *astriaPb.Block {
	return s.soft
}

func (s State) CelestiaBaseBlockHeight() uint64 {
	return s.baseCelestiaHeight
}

func (s State) CelestiaBlockVariance() uint64 {
	return s.celestiaBlockVariance
}

// FirmParentHash is the hash the next firm block must be executed on top of.
func (s State) FirmParentHash() []byte {
	return s.firm.GetHash()
}

// SoftParentHash is the hash the next soft block must be executed on top of.
func (s State) SoftParentHash() []byte {
	return s.soft.GetHash()
}

// NextFirmSequencerHeight is the sequencer height of the only firm block the
// executor will accept next.
func (s State) NextFirmSequencerHeight() uint64 {
	return mapRollupNumberToSequencerHeight(s.sequencerGenesisBlockHeight, s.firm.GetNumber()+1)
}

// NextSoftSequencerHeight is the sequencer height of the only soft block the
// executor will accept next.
func (s State) NextSoftSequencerHeight() uint64 {
	return mapRollupNumberToSequencerHeight(s.sequencerGenesisBlockHeight, s.soft.GetNumber()+1)
}

// mapRollupNumberToSequencerHeight maps a rollup block number to the
// sequencer height its block data came from. The rollup genesis block
// (number 0) precedes all sequencer blocks: the sequencer block at the
// genesis height produces rollup block 1.
func mapRollupNumberToSequencerHeight(genesisHeight uint32, rollupNumber uint32) uint64 {
	return uint64(genesisHeight) + uint64(rollupNumber) - 1
}

func blocksEqual(a, b *astriaPb.Block) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.GetNumber() == b.GetNumber() && bytes.Equal(a.GetHash(), b.GetHash())
}
