// Package execution provides the gRPC client for the rollup node's execution
// layer.
//
// Its procedures drive the rollup node forward: blocks are derived from
// ordered sequencer transactions via ExecuteBlock, and the node's view of
// finality is advanced via UpdateCommitmentState.
package execution

import (
	"context"
	"fmt"

	astriaGrpc "buf.build/gen/go/astria/execution-apis/grpc/go/astria/execution/v1/executionv1grpc"
	astriaPb "buf.build/gen/go/astria/execution-apis/protocolbuffers/go/astria/execution/v1"
	sequencerblockv1 "buf.build/gen/go/astria/sequencerblock-apis/protocolbuffers/go/astria/sequencerblock/v1"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// Client is a thin typed wrapper over the execution API. It is safe for
// concurrent use; all calls share one underlying connection.
type Client struct {
	conn   *grpc.ClientConn
	client astriaGrpc.ExecutionServiceClient
}

// NewClient sets up a long-lived connection to the execution service at addr.
// Extra dial options are appended after the defaults, so tests can inject an
// in-process dialer.
func NewClient(addr string, opts ...grpc.DialOption) (*Client, error) {
	dialOpts := append(
		[]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())},
		opts...,
	)
	conn, err := grpc.NewClient(addr, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed creating execution service client for %q: %w", addr, err)
	}
	return &Client{
		conn:   conn,
		client: astriaGrpc.NewExecutionServiceClient(conn),
	}, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// GetGenesisInfo returns the rollup id and the sequencer/Celestia genesis
// parameters the rollup node was configured with.
func (c *Client) GetGenesisInfo(ctx context.Context) (*astriaPb.GenesisInfo, error) {
	genesisInfo, err := c.client.GetGenesisInfo(ctx, &astriaPb.GetGenesisInfoRequest{})
	if err != nil {
		return nil, fmt.Errorf("failed to run GetGenesisInfo RPC: %w", err)
	}
	return genesisInfo, nil
}

// GetCommitmentState returns the pair of blocks the rollup node currently
// advertises as its soft and firm heads.
func (c *Client) GetCommitmentState(ctx context.Context) (*astriaPb.CommitmentState, error) {
	commitmentState, err := c.client.GetCommitmentState(ctx, &astriaPb.GetCommitmentStateRequest{})
	if err != nil {
		return nil, fmt.Errorf("failed to run GetCommitmentState RPC: %w", err)
	}
	return commitmentState, nil
}

// ExecuteBlock derives a rollup block from the ordered transactions on top of
// prevBlockHash and returns the resulting block.
func (c *Client) ExecuteBlock(
	ctx context.Context,
	prevBlockHash []byte,
	transactions [][]byte,
	timestamp *timestamppb.Timestamp,
) (*astriaPb.Block, error) {
	rollupData := make([]*sequencerblockv1.RollupData, 0, len(transactions))
	for _, tx := range transactions {
		rollupData = append(rollupData, &sequencerblockv1.RollupData{
			Value: &sequencerblockv1.RollupData_SequencedData{SequencedData: tx},
		})
	}
	req := &astriaPb.ExecuteBlockRequest{
		PrevBlockHash: prevBlockHash,
		Transactions:  rollupData,
		Timestamp:     timestamp,
	}
	block, err := c.client.ExecuteBlock(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to run ExecuteBlock RPC: %w", err)
	}
	return block, nil
}

// UpdateCommitmentState replaces the rollup node's commitment state. The
// returned state is the node's canonicalized view and is authoritative.
func (c *Client) UpdateCommitmentState(
	ctx context.Context,
	commitmentState *astriaPb.CommitmentState,
) (*astriaPb.CommitmentState, error) {
	req := &astriaPb.UpdateCommitmentStateRequest{CommitmentState: commitmentState}
	newState, err := c.client.UpdateCommitmentState(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to run UpdateCommitmentState RPC: %w", err)
	}
	return newState, nil
}
