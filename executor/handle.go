package executor

import (
	"context"
	"fmt"

	primitivev1 "buf.build/gen/go/astria/primitives/protocolbuffers/go/astria/primitive/v1"
	sequencerblockv1 "buf.build/gen/go/astria/sequencerblock-apis/protocolbuffers/go/astria/sequencerblock/v1"

	"github.com/astriaorg/conductor/celestia"
	"github.com/astriaorg/conductor/watch"
)

// Handle is the entry point handed to block producers before the executor has
// primed its state. It exposes nothing but WaitForInit: the rollup id and DA
// scan parameters producers need only exist once genesis info has been
// fetched, so sending earlier would corrupt the height bookkeeping. The split
// into two types makes that ordering a compile-time contract.
type Handle struct {
	firmBlocks chan<- *celestia.ReconstructedBlock
	softBlocks chan<- *sequencerblockv1.SequencerBlock
	state      *watch.Receiver[State]
}

// WaitForInit blocks until the executor has published its initialized state
// and returns the handle producers actually use.
func (h *Handle) WaitForInit(ctx context.Context) (*InitializedHandle, error) {
	if _, err := h.state.Wait(ctx, State.IsInit); err != nil {
		return nil, fmt.Errorf("executor state could not be observed as initialized: %w", err)
	}
	return &InitializedHandle{
		firmBlocks: h.firmBlocks,
		softBlocks: h.softBlocks,
		state:      h.state,
	}, nil
}

// InitializedHandle is a handle to an executor whose state is known to be
// initialized. It is safe to send blocks through it.
type InitializedHandle struct {
	firmBlocks chan<- *celestia.ReconstructedBlock
	softBlocks chan<- *sequencerblockv1.SequencerBlock
	state      *watch.Receiver[State]
}

func (h *InitializedHandle) SendFirmBlock(ctx context.Context, block *celestia.ReconstructedBlock) error {
	select {
	case h.firmBlocks <- block:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *InitializedHandle) SendSoftBlock(ctx context.Context, block *sequencerblockv1.SequencerBlock) error {
	select {
	case h.softBlocks <- block:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *InitializedHandle) NextExpectedFirmSequencerHeight() uint64 {
	return h.state.Get().NextFirmSequencerHeight()
}

func (h *InitializedHandle) NextExpectedSoftSequencerHeight() uint64 {
	return h.state.Get().NextSoftSequencerHeight()
}

// NextExpectedSoftHeightIfChanged blocks until the executor publishes a state
// change and returns the then-expected soft sequencer height.
func (h *InitializedHandle) NextExpectedSoftHeightIfChanged(ctx context.Context) (uint64, error) {
	if err := h.state.Changed(ctx); err != nil {
		return 0, err
	}
	return h.state.Get().NextSoftSequencerHeight(), nil
}

func (h *InitializedHandle) RollupID() *primitivev1.RollupId {
	return h.state.Get().RollupID()
}

func (h *InitializedHandle) CelestiaBaseBlockHeight() uint64 {
	return h.state.Get().CelestiaBaseBlockHeight()
}

func (h *InitializedHandle) CelestiaBlockVariance() uint64 {
	return h.state.Get().CelestiaBlockVariance()
}
