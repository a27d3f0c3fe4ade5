package chain_test

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/TilepMony-Project/engine/pkg/chain"
	"github.com/TilepMony-Project/engine/pkg/failure"
	"github.com/TilepMony-Project/engine/pkg/mocks"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testKey = "b71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291"

var token = common.HexToAddress("0x2000000000000000000000000000000000000010")

func TestWorkflowDataReceived_LogRoundTrip(t *testing.T) {
	event := chain.WorkflowDataReceived{
		MessageID:    common.HexToHash("0xaa"),
		Recipient:    common.HexToHash("0xbb"),
		Amount:       big.NewInt(1_000_000),
		WorkflowData: []byte{0x01, 0x02},
		Token:        token,
		BlockNumber:  42,
		TxHash:       common.HexToHash("0xcc"),
	}

	log, err := chain.NewWorkflowDataReceivedLog(event)
	require.NoError(t, err)

	decoded, err := chain.DecodeWorkflowDataReceived(log)
	require.NoError(t, err)
	assert.Equal(t, event, *decoded)
}

func TestDecodeWorkflowDataReceived_MessageIDInData(t *testing.T) {
	newType := func(name string) abi.Type {
		typ, err := abi.NewType(name, "", nil)
		require.NoError(t, err)

		return typ
	}

	args := abi.Arguments{
		{Name: "messageId", Type: newType("bytes32")},
		{Name: "recipient", Type: newType("bytes32")},
		{Name: "amount", Type: newType("uint256")},
		{Name: "workflowData", Type: newType("bytes")},
	}

	data, err := args.Pack([32]byte(common.HexToHash("0xaa")), [32]byte(common.HexToHash("0xbb")), big.NewInt(7), []byte{0x03})
	require.NoError(t, err)

	decoded, err := chain.DecodeWorkflowDataReceived(types.Log{
		Address:     token,
		Topics:      []common.Hash{chain.WorkflowDataReceivedTopic},
		Data:        data,
		BlockNumber: 9,
	})
	require.NoError(t, err)

	assert.Equal(t, common.HexToHash("0xaa"), decoded.MessageID)
	assert.Equal(t, common.HexToHash("0xbb"), decoded.Recipient)
	assert.Equal(t, big.NewInt(7), decoded.Amount)
	assert.Equal(t, []byte{0x03}, decoded.WorkflowData)
	assert.Equal(t, token, decoded.Token)
	assert.Equal(t, uint64(9), decoded.BlockNumber)
}

func TestDecodeWorkflowDataReceived_Rejected(t *testing.T) {
	_, err := chain.DecodeWorkflowDataReceived(types.Log{})
	assert.Error(t, err)

	_, err = chain.DecodeWorkflowDataReceived(types.Log{Topics: []common.Hash{chain.WorkflowDataReceivedTopic}})
	assert.Error(t, err)

	_, err = chain.DecodeWorkflowDataReceived(types.Log{Topics: []common.Hash{{}, {}}})
	assert.Error(t, err)

	_, err = chain.DecodeWorkflowDataReceived(types.Log{Topics: []common.Hash{chain.WorkflowDataReceivedTopic, {}}, Data: []byte{0x01}})
	assert.Error(t, err)
}

func TestClient_WorkflowEventsSkipsBadLogs(t *testing.T) {
	backend := &mocks.MockBackend{}
	client := chain.NewClient(backend, 4202, slog.Default())

	good, err := chain.NewWorkflowDataReceivedLog(chain.WorkflowDataReceived{
		MessageID: common.HexToHash("0x01"), Amount: big.NewInt(5), Token: token, BlockNumber: 11,
	})
	require.NoError(t, err)

	removed := good
	removed.Removed = true

	broken := types.Log{Address: token, Topics: []common.Hash{chain.WorkflowDataReceivedTopic}}

	backend.On("FilterLogs", mock.Anything, mock.MatchedBy(func(q ethereum.FilterQuery) bool {
		return q.FromBlock.Uint64() == 10 && q.ToBlock.Uint64() == 20 && q.Addresses[0] == token
	})).Return([]types.Log{good, removed, broken}, nil)

	events, err := client.WorkflowEvents(context.Background(), token, 10, 20)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, common.HexToHash("0x01"), events[0].MessageID)
}

func TestClient_NetworkErrors(t *testing.T) {
	backend := &mocks.MockBackend{}
	client := chain.NewClient(backend, 4202, slog.Default())

	backend.On("BlockNumber", mock.Anything).Return(uint64(0), errors.New("connection refused"))
	backend.On("FilterLogs", mock.Anything, mock.Anything).Return(nil, errors.New("timeout"))

	_, err := client.HeadBlock(context.Background())
	assert.ErrorIs(t, err, failure.ErrNetwork)

	_, err = client.WorkflowEvents(context.Background(), token, 1, 2)
	assert.ErrorIs(t, err, failure.ErrNetwork)
}

func TestClient_TokenBalance(t *testing.T) {
	backend := &mocks.MockBackend{}
	client := chain.NewClient(backend, 4202, slog.Default())

	output := math.U256Bytes(big.NewInt(7_000_000))
	backend.On("CallContract", mock.Anything, mock.MatchedBy(func(call ethereum.CallMsg) bool {
		return *call.To == token
	}), (*big.Int)(nil)).Return(output, nil)

	balance, err := client.TokenBalance(context.Background(), token, common.HexToAddress("0x01"))
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(7_000_000), balance)
}

func TestClient_SimulateRevertIsSimulationError(t *testing.T) {
	backend := &mocks.MockBackend{}
	client := chain.NewClient(backend, 4202, slog.Default())

	backend.On("CallContract", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("execution reverted"))

	err := client.Simulate(context.Background(), token, []byte{0x01})
	assert.ErrorIs(t, err, failure.ErrSimulation)
}

func TestClient_SendSignsForChain(t *testing.T) {
	key, err := chain.ParseKey("0x" + testKey)
	require.NoError(t, err)

	backend := &mocks.MockBackend{}
	client := chain.NewClient(backend, 4202, slog.Default(), chain.WithSigner(key))

	backend.On("PendingNonceAt", mock.Anything, client.From()).Return(uint64(3), nil)
	backend.On("SuggestGasPrice", mock.Anything).Return(big.NewInt(1_000), nil)

	var sent *types.Transaction

	backend.On("SendTransaction", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		sent = args.Get(1).(*types.Transaction)
	}).Return(nil)

	hash, err := client.Send(context.Background(), token, []byte{0x01}, 21_000)
	require.NoError(t, err)
	require.NotNil(t, sent)

	assert.Equal(t, sent.Hash(), hash)
	assert.Equal(t, uint64(3), sent.Nonce())
	assert.Equal(t, uint64(21_000), sent.Gas())

	sender, err := types.Sender(types.LatestSignerForChainID(big.NewInt(4202)), sent)
	require.NoError(t, err)
	assert.Equal(t, client.From(), sender)
}

// txPool is a backend whose pending nonce counts the transactions it accepted.
type txPool struct {
	*mocks.MockBackend

	mu     sync.Mutex
	nonces []uint64
}

func (p *txPool) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	p.mu.Lock()
	pending := uint64(len(p.nonces))
	p.mu.Unlock()

	// Leave room for a concurrent sender to read the same nonce.
	time.Sleep(5 * time.Millisecond)

	return pending, nil
}

func (p *txPool) SuggestGasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(1_000), nil
}

func (p *txPool) SendTransaction(_ context.Context, tx *types.Transaction) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if tx.Nonce() != uint64(len(p.nonces)) {
		return errors.New("nonce too low")
	}

	p.nonces = append(p.nonces, tx.Nonce())

	return nil
}

func TestClient_ConcurrentSendsUseDistinctNonces(t *testing.T) {
	key, err := chain.ParseKey(testKey)
	require.NoError(t, err)

	pool := &txPool{MockBackend: &mocks.MockBackend{}}
	client := chain.NewClient(pool, 4202, slog.Default(), chain.WithSigner(key))

	const senders = 4

	var wg sync.WaitGroup

	errs := make(chan error, senders)

	for range senders {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, err := client.Send(context.Background(), token, []byte{0x01}, 21_000)
			errs <- err
		}()
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}

	assert.Equal(t, []uint64{0, 1, 2, 3}, pool.nonces)
}

func TestClient_SendWithoutKey(t *testing.T) {
	client := chain.NewClient(&mocks.MockBackend{}, 4202, slog.Default())

	_, err := client.Send(context.Background(), token, nil, 21_000)
	assert.ErrorIs(t, err, failure.ErrConfiguration)
}

func TestClient_WaitReceiptPollsUntilFound(t *testing.T) {
	backend := &mocks.MockBackend{}
	client := chain.NewClient(backend, 4202, slog.Default(), chain.WithReceiptInterval(time.Millisecond))

	hash := common.HexToHash("0x01")
	receipt := &types.Receipt{Status: types.ReceiptStatusSuccessful, TxHash: hash}

	backend.On("TransactionReceipt", mock.Anything, hash).Return(nil, ethereum.NotFound).Twice()
	backend.On("TransactionReceipt", mock.Anything, hash).Return(receipt, nil).Once()

	got, err := client.WaitReceipt(context.Background(), hash)
	require.NoError(t, err)
	assert.Equal(t, receipt, got)
	backend.AssertNumberOfCalls(t, "TransactionReceipt", 3)
}

func TestClient_WaitReceiptHonoursContext(t *testing.T) {
	backend := &mocks.MockBackend{}
	client := chain.NewClient(backend, 4202, slog.Default(), chain.WithReceiptInterval(time.Hour))

	backend.On("TransactionReceipt", mock.Anything, mock.Anything).Return(nil, ethereum.NotFound)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.WaitReceipt(ctx, common.Hash{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParseKey_Invalid(t *testing.T) {
	_, err := chain.ParseKey("not-hex")
	assert.ErrorIs(t, err, failure.ErrConfiguration)
}
