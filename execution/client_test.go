package execution

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	astriaGrpc "buf.build/gen/go/astria/execution-apis/grpc/go/astria/execution/v1/executionv1grpc"
	astriaPb "buf.build/gen/go/astria/execution-apis/protocolbuffers/go/astria/execution/v1"
	primitivev1 "buf.build/gen/go/astria/primitives/protocolbuffers/go/astria/primitive/v1"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// recordingServer records the requests it receives and replays canned
// responses.
type recordingServer struct {
	astriaGrpc.UnimplementedExecutionServiceServer

	mu                    sync.Mutex
	executeBlockRequest   *astriaPb.ExecuteBlockRequest
	updateCommitmentState *astriaPb.CommitmentState
	failExecute           bool
}

func (s *recordingServer) GetGenesisInfo(context.Context, *astriaPb.GetGenesisInfoRequest) (*astriaPb.GenesisInfo, error) {
	return &astriaPb.GenesisInfo{
		RollupId:                    &primitivev1.RollupId{Inner: make([]byte, 32)},
		SequencerGenesisBlockHeight: 10,
		CelestiaBlockVariance:       100,
	}, nil
}

func (s *recordingServer) GetCommitmentState(context.Context, *astriaPb.GetCommitmentStateRequest) (*astriaPb.CommitmentState, error) {
	block := &astriaPb.Block{Number: 0, Hash: make([]byte, 32)}
	return &astriaPb.CommitmentState{Soft: block, Firm: block, BaseCelestiaHeight: 1}, nil
}

func (s *recordingServer) ExecuteBlock(_ context.Context, req *astriaPb.ExecuteBlockRequest) (*astriaPb.Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failExecute {
		return nil, status.Error(codes.Internal, "execution failed")
	}
	s.executeBlockRequest = req
	return &astriaPb.Block{
		Number:          1,
		Hash:            []byte("executed"),
		ParentBlockHash: req.PrevBlockHash,
		Timestamp:       req.Timestamp,
	}, nil
}

func (s *recordingServer) UpdateCommitmentState(_ context.Context, req *astriaPb.UpdateCommitmentStateRequest) (*astriaPb.CommitmentState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Canonicalize: the node may return a normalized state.
	normalized := req.GetCommitmentState()
	normalized.BaseCelestiaHeight++
	s.updateCommitmentState = normalized
	return normalized, nil
}

func setupClientTest(t *testing.T, server *recordingServer) *Client {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	grpcServer := grpc.NewServer()
	astriaGrpc.RegisterExecutionServiceServer(grpcServer, server)
	go grpcServer.Serve(lis)
	t.Cleanup(grpcServer.Stop)

	client, err := NewClient(
		"passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
	)
	require.NoError(t, err, "failed to create client")
	t.Cleanup(func() { client.Close() })
	return client
}

func TestClientFetchesGenesisAndCommitmentState(t *testing.T) {
	client := setupClientTest(t, &recordingServer{})
	ctx := context.Background()

	genesisInfo, err := client.GetGenesisInfo(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 10, genesisInfo.GetSequencerGenesisBlockHeight())

	commitmentState, err := client.GetCommitmentState(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 0, commitmentState.GetSoft().GetNumber())
	require.EqualValues(t, 1, commitmentState.GetBaseCelestiaHeight())
}

func TestClientWrapsTransactionsAsSequencedData(t *testing.T) {
	server := &recordingServer{}
	client := setupClientTest(t, server)

	parentHash := []byte("parent")
	timestamp := timestamppb.New(time.Unix(1710000000, 0))
	block, err := client.ExecuteBlock(context.Background(), parentHash, [][]byte{[]byte("tx1"), []byte("tx2")}, timestamp)
	require.NoError(t, err)
	require.EqualValues(t, 1, block.GetNumber())
	require.Equal(t, parentHash, block.GetParentBlockHash())

	server.mu.Lock()
	req := server.executeBlockRequest
	server.mu.Unlock()
	require.Equal(t, parentHash, req.GetPrevBlockHash())
	require.Len(t, req.GetTransactions(), 2)
	require.Equal(t, []byte("tx1"), req.GetTransactions()[0].GetSequencedData())
	require.Equal(t, []byte("tx2"), req.GetTransactions()[1].GetSequencedData())
}

func TestClientReturnsServerNormalizedCommitmentState(t *testing.T) {
	client := setupClientTest(t, &recordingServer{})

	block := &astriaPb.Block{Number: 1, Hash: []byte("h")}
	newState, err := client.UpdateCommitmentState(context.Background(), &astriaPb.CommitmentState{
		Soft:               block,
		Firm:               block,
		BaseCelestiaHeight: 5,
	})
	require.NoError(t, err)
	require.EqualValues(t, 6, newState.GetBaseCelestiaHeight(),
		"the server-normalized state is authoritative")
}

func TestClientSurfacesRPCErrors(t *testing.T) {
	client := setupClientTest(t, &recordingServer{failExecute: true})

	_, err := client.ExecuteBlock(context.Background(), []byte("parent"), nil, timestamppb.Now())
	require.Error(t, err)
	require.Equal(t, codes.Internal, status.Code(err))
	require.Contains(t, err.Error(), "failed to run ExecuteBlock RPC")
}
