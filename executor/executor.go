// Package executor drives the rollup execution node forward from two racing
// block streams: soft blocks gossiped by the sequencer and firm blocks
// reconstructed from Celestia. It is the single writer of the conductor's
// commitment state.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	astriaPb "buf.build/gen/go/astria/execution-apis/protocolbuffers/go/astria/execution/v1"
	sequencerblockv1 "buf.build/gen/go/astria/sequencerblock-apis/protocolbuffers/go/astria/sequencerblock/v1"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/astriaorg/conductor/celestia"
	"github.com/astriaorg/conductor/execution"
	"github.com/astriaorg/conductor/watch"
)

const (
	// Soft commitments may run at most this many sequencer heights ahead of
	// firm commitments before the soft arm is masked. Keeps the optimistic
	// branch within what the execution engine can efficiently roll back.
	maxSpread = 16

	// Soft blocks stop being drained once this many executed soft blocks are
	// waiting for firm confirmation. Only reachable when the commitment
	// spread is not considered; entries are never dropped.
	maxBlocksPendingFinalization = 128
)

var (
	executeFirmCount       = metrics.GetOrRegisterCounter("astria/conductor/execute_firm", nil)
	executeSoftCount       = metrics.GetOrRegisterCounter("astria/conductor/execute_soft", nil)
	staleSoftDroppedCount  = metrics.GetOrRegisterCounter("astria/conductor/stale_soft_dropped", nil)
	softCommitmentHeight   = metrics.GetOrRegisterGauge("astria/conductor/soft_commitment_height", nil)
	firmCommitmentHeight   = metrics.GetOrRegisterGauge("astria/conductor/firm_commitment_height", nil)
	executeBlockTimer      = metrics.GetOrRegisterTimer("astria/conductor/execute_block_time", nil)
	commitmentUpdateTimer  = metrics.GetOrRegisterTimer("astria/conductor/commitment_update_time", nil)
	executedTxCount        = metrics.GetOrRegisterCounter("astria/conductor/executed_tx", nil)
	pendingFinalizationLen = metrics.GetOrRegisterGauge("astria/conductor/blocks_pending_finalization", nil)
)

// Builder assembles an Executor and its Handle.
type Builder struct {
	// Address of the rollup node's execution gRPC endpoint.
	RollupAddress string

	// One-shot shutdown signal. A received value is a clean shutdown request;
	// a closed channel is treated as an abnormal shutdown and reported.
	Shutdown <-chan struct{}

	// If set, the spread between firm and soft commitments is taken into
	// account before executing soft blocks.
	ConsiderCommitmentSpread bool

	// Optional hook modifying the transaction list right before ExecuteBlock.
	PreExecutionHook PreExecutionHook

	FirmBlocksChannelSize int
	SoftBlocksChannelSize int

	// Extra gRPC dial options, appended after the defaults. Used by tests to
	// dial an in-process server.
	DialOptions []grpc.DialOption
}

func (b Builder) Build() (*Executor, *Handle, error) {
	if b.RollupAddress == "" {
		return nil, nil, errors.New("rollup address must be set")
	}
	if b.Shutdown == nil {
		return nil, nil, errors.New("shutdown channel must be set")
	}
	firmSize := b.FirmBlocksChannelSize
	if firmSize <= 0 {
		firmSize = 16
	}
	softSize := b.SoftBlocksChannelSize
	if softSize <= 0 {
		softSize = 16
	}

	firmBlocks := make(chan *celestia.ReconstructedBlock, firmSize)
	softBlocks := make(chan *sequencerblockv1.SequencerBlock, softSize)
	state := watch.NewChannel(State{})

	executor := &Executor{
		rollupAddress:             b.RollupAddress,
		shutdown:                  b.Shutdown,
		firmBlocks:                firmBlocks,
		softBlocks:                softBlocks,
		state:                     state,
		considerCommitmentSpread:  b.ConsiderCommitmentSpread,
		blocksPendingFinalization: make(map[string]*astriaPb.Block),
		preExecutionHook:          b.PreExecutionHook,
		dialOptions:               b.DialOptions,
	}
	handle := &Handle{
		firmBlocks: firmBlocks,
		softBlocks: softBlocks,
		state:      state.Subscribe(),
	}
	return executor, handle, nil
}

// Executor owns all mutable conductor state. It must not be shared; run it
// with RunUntilStopped and talk to it through its Handle.
type Executor struct {
	rollupAddress string
	shutdown      <-chan struct{}

	firmBlocks chan *celestia.ReconstructedBlock
	softBlocks chan *sequencerblockv1.SequencerBlock

	// Tracks SOFT and FIRM on the execution chain.
	state *watch.Channel[State]

	considerCommitmentSpread bool

	// Blocks executed as soft commitments, keyed by sequencer block hash.
	// Needed to mark firm blocks arriving from Celestia as executed without
	// re-executing them on the rollup node.
	blocksPendingFinalization map[string]*astriaPb.Block

	// Set once the pending-finalization limit has been reported, so sustained
	// DA starvation logs a single warning per episode.
	warnedPendingFinalizationFull bool

	preExecutionHook PreExecutionHook

	dialOptions []grpc.DialOption
}

// RunUntilStopped connects to the rollup node, initializes the commitment
// state, and services the firm and soft streams until shut down or until a
// block fails to execute. Firm blocks always take priority over soft blocks.
//
// On shutdown the remaining contents of the block channels are dropped;
// producers are expected to observe the same signal and stop on their own.
func (e *Executor) RunUntilStopped(ctx context.Context) error {
	client, err := execution.NewClient(e.rollupAddress, e.dialOptions...)
	if err != nil {
		return fmt.Errorf("failed connecting to rollup node: %w", err)
	}
	defer client.Close()

	if err := e.setInitialNodeState(ctx, client); err != nil {
		return fmt.Errorf("failed setting initial rollup node state: %w", err)
	}

	for {
		// Shutdown takes precedence over all pending work.
		select {
		case _, ok := <-e.shutdown:
			return e.exitOnShutdown(ok)
		default:
		}

		// Firm blocks take precedence over soft blocks.
		select {
		case block, ok := <-e.firmBlocks:
			if !ok {
				e.firmBlocks = nil
				continue
			}
			if err := e.handleFirmBlock(ctx, client, block); err != nil {
				return err
			}
			continue
		default:
		}

		softBlocks := e.softBlocks
		if e.softArmMasked() {
			softBlocks = nil
		}

		select {
		case _, ok := <-e.shutdown:
			return e.exitOnShutdown(ok)

		case block, ok := <-e.firmBlocks:
			if !ok {
				e.firmBlocks = nil
				continue
			}
			if err := e.handleFirmBlock(ctx, client, block); err != nil {
				return err
			}

		case block, ok := <-softBlocks:
			if !ok {
				e.softBlocks = nil
				continue
			}
			// A firm block that became ready while the loop was parked keeps
			// its priority over the soft block just received. Servicing it
			// first may render the held soft block stale, in which case the
			// soft arm drops it below.
			select {
			case firmBlock, firmOk := <-e.firmBlocks:
				if !firmOk {
					e.firmBlocks = nil
				} else if err := e.handleFirmBlock(ctx, client, firmBlock); err != nil {
					return err
				}
			default:
			}
			if err := e.handleSoftBlock(ctx, client, block); err != nil {
				return err
			}
		}
	}
}

func (e *Executor) exitOnShutdown(signalReceived bool) error {
	if signalReceived {
		log.Info("received shutdown signal; shutting down")
		return nil
	}
	err := errors.New("shutdown channel closed unexpectedly")
	log.Error("shutting down", "err", err)
	return err
}

func (e *Executor) handleFirmBlock(ctx context.Context, client *execution.Client, block *celestia.ReconstructedBlock) error {
	log.Debug(
		"received block from celestia reader",
		"block_height", block.Height(),
		"block_hash", common.BytesToHash(block.BlockHash),
	)
	if err := e.executeFirm(ctx, client, block); err != nil {
		log.Error("failed executing firm block; shutting down", "err", err)
		return fmt.Errorf("failed executing firm block: %w", err)
	}
	return nil
}

func (e *Executor) handleSoftBlock(ctx context.Context, client *execution.Client, block *sequencerblockv1.SequencerBlock) error {
	log.Debug(
		"received block from sequencer reader",
		"block_height", block.GetHeader().GetHeight(),
		"block_hash", common.BytesToHash(block.GetBlockHash()),
	)
	if err := e.executeSoft(ctx, client, block); err != nil {
		log.Error("failed executing soft block; shutting down", "err", err)
		return fmt.Errorf("failed executing soft block: %w", err)
	}
	return nil
}

// softArmMasked reports whether soft blocks must be left on the channel for
// now, exerting backpressure on the sequencer reader.
func (e *Executor) softArmMasked() bool {
	if len(e.blocksPendingFinalization) >= maxBlocksPendingFinalization {
		// Warn on the transition only; the loop re-evaluates this on every
		// wake while masked.
		if !e.warnedPendingFinalizationFull {
			log.Warn(
				"too many executed soft blocks await firm confirmation; pausing soft blocks until the DA reader catches up",
				"pending", len(e.blocksPendingFinalization),
			)
			e.warnedPendingFinalizationFull = true
		}
		return true
	}
	e.warnedPendingFinalizationFull = false
	return e.isSpreadTooLarge()
}

func (e *Executor) isSpreadTooLarge() bool {
	if !e.considerCommitmentSpread {
		return false
	}
	state := e.state.Peek()
	nextFirm := state.NextFirmSequencerHeight()
	nextSoft := state.NextSoftSequencerHeight()
	isTooFarAhead := nextSoft >= nextFirm && nextSoft-nextFirm >= maxSpread
	if isTooFarAhead {
		log.Debug("soft blocks are too far ahead of firm; skipping soft blocks")
	}
	return isTooFarAhead
}

func (e *Executor) executeSoft(ctx context.Context, client *execution.Client, block *sequencerblockv1.SequencerBlock) error {
	executable := executableBlockFromSequencer(block, e.state.Peek().RollupID())

	expectedHeight := e.state.Peek().NextSoftSequencerHeight()
	switch {
	case executable.height < expectedHeight:
		log.Info(
			"block received was stale because firm blocks were executed first; dropping",
			"block_height", executable.height,
			"expected_height", expectedHeight,
		)
		staleSoftDroppedCount.Inc(1)
		return nil
	case executable.height > expectedHeight:
		return fmt.Errorf(
			"block received was out-of-order; was a block skipped? expected: %d, actual: %d",
			expectedHeight, executable.height,
		)
	}

	blockHash := executable.hash
	parentHash := e.state.Peek().SoftParentHash()
	executedBlock, err := e.executeBlock(ctx, client, parentHash, executable)
	if err != nil {
		return fmt.Errorf("failed to execute block: %w", err)
	}

	if err := e.updateCommitmentState(ctx, client, update{kind: onlySoft, block: executedBlock}); err != nil {
		return fmt.Errorf("failed to update soft commitment state: %w", err)
	}

	e.blocksPendingFinalization[string(blockHash)] = executedBlock
	pendingFinalizationLen.Update(int64(len(e.blocksPendingFinalization)))
	executeSoftCount.Inc(1)
	return nil
}

func (e *Executor) executeFirm(ctx context.Context, client *execution.Client, block *celestia.ReconstructedBlock) error {
	executable := executableBlockFromReconstructed(block)

	expectedHeight := e.state.Peek().NextFirmSequencerHeight()
	if executable.height != expectedHeight {
		return fmt.Errorf(
			"expected block at sequencer height %d, but got %d",
			expectedHeight, executable.height,
		)
	}

	var stateUpdate update
	if pending, ok := e.blocksPendingFinalization[string(executable.hash)]; ok {
		// The block was already executed optimistically; only finalize it.
		delete(e.blocksPendingFinalization, string(executable.hash))
		pendingFinalizationLen.Update(int64(len(e.blocksPendingFinalization)))
		stateUpdate = update{kind: onlyFirm, block: pending, celestiaHeight: block.CelestiaHeight}
	} else {
		parentHash := e.state.Peek().FirmParentHash()
		executedBlock, err := e.executeBlock(ctx, client, parentHash, executable)
		if err != nil {
			return fmt.Errorf("failed to execute block: %w", err)
		}
		stateUpdate = update{kind: toSame, block: executedBlock, celestiaHeight: block.CelestiaHeight}
	}

	if err := e.updateCommitmentState(ctx, client, stateUpdate); err != nil {
		return fmt.Errorf("failed setting firm commitment state: %w", err)
	}
	executeFirmCount.Inc(1)
	return nil
}

// executeBlock executes block on top of parentHash on the rollup node. Called
// from executeFirm and executeSoft only.
func (e *Executor) executeBlock(
	ctx context.Context,
	client *execution.Client,
	parentHash []byte,
	block *executableBlock,
) (*astriaPb.Block, error) {
	transactions := block.transactions
	if e.preExecutionHook != nil {
		var err error
		transactions, err = e.preExecutionHook.Populate(ctx, transactions)
		if err != nil {
			return nil, fmt.Errorf("failed to populate rollup transactions with pre execution hook: %w", err)
		}
	}

	executionStart := time.Now()
	executedBlock, err := client.ExecuteBlock(ctx, parentHash, transactions, block.timestamp)
	if err != nil {
		return nil, err
	}
	executeBlockTimer.UpdateSince(executionStart)

	log.Info(
		"executed block",
		"block_hash", common.BytesToHash(executedBlock.GetHash()),
		"block_num", executedBlock.GetNumber(),
		"tx_count", len(transactions),
	)
	executedTxCount.Inc(int64(len(transactions)))
	return executedBlock, nil
}

// setInitialNodeState fetches genesis info and the current commitment state
// concurrently and publishes the initialized state atomically.
func (e *Executor) setInitialNodeState(ctx context.Context, client *execution.Client) error {
	var (
		genesisInfo     *astriaPb.GenesisInfo
		commitmentState *astriaPb.CommitmentState
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if genesisInfo, err = client.GetGenesisInfo(gctx); err != nil {
			return fmt.Errorf("failed getting genesis info: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		if commitmentState, err = client.GetCommitmentState(gctx); err != nil {
			return fmt.Errorf("failed getting commitment state: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	e.state.Modify(func(s *State) { s.init(genesisInfo, commitmentState) })

	state := e.state.Peek()
	log.Info(
		"initialized executor state from rollup node",
		"rollup_id", common.BytesToHash(state.RollupID().GetInner()),
		"firm_height", state.Firm().GetNumber(),
		"soft_height", state.Soft().GetNumber(),
		"next_firm_sequencer_height", state.NextFirmSequencerHeight(),
		"next_soft_sequencer_height", state.NextSoftSequencerHeight(),
		"base_celestia_height", state.CelestiaBaseBlockHeight(),
	)
	return nil
}

func (e *Executor) updateCommitmentState(ctx context.Context, client *execution.Client, u update) error {
	state := e.state.Peek()

	var firm, soft *astriaPb.Block
	switch u.kind {
	case onlyFirm:
		firm, soft = u.block, state.Soft()
	case onlySoft:
		firm, soft = state.Firm(), u.block
	case toSame:
		firm, soft = u.block, u.block
	}

	baseCelestiaHeight := state.CelestiaBaseBlockHeight()
	if u.celestiaHeight > baseCelestiaHeight {
		baseCelestiaHeight = u.celestiaHeight
	}

	commitmentStart := time.Now()
	newState, err := client.UpdateCommitmentState(ctx, &astriaPb.CommitmentState{
		Firm:               firm,
		Soft:               soft,
		BaseCelestiaHeight: baseCelestiaHeight,
	})
	if err != nil {
		return fmt.Errorf("failed updating remote commitment state: %w", err)
	}
	commitmentUpdateTimer.UpdateSince(commitmentStart)

	log.Info(
		"updated commitment state",
		"firm_num", newState.GetFirm().GetNumber(),
		"firm_hash", common.BytesToHash(newState.GetFirm().GetHash()),
		"soft_num", newState.GetSoft().GetNumber(),
		"soft_hash", common.BytesToHash(newState.GetSoft().GetHash()),
	)
	firmCommitmentHeight.Update(int64(newState.GetFirm().GetNumber()))
	softCommitmentHeight.Update(int64(newState.GetSoft().GetNumber()))

	e.state.ModifyIf(func(s *State) bool { return s.updateCommitmentStateIfChanged(newState) })
	return nil
}

type updateKind int

const (
	onlyFirm updateKind = iota
	onlySoft
	toSame
)

// update describes a commitment transition. celestiaHeight is only set on
// firm-bearing updates and raises the node's DA scan floor, never lowers it.
type update struct {
	kind           updateKind
	block          *astriaPb.Block
	celestiaHeight uint64
}
