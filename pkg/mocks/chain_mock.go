package mocks

import (
	"context"
	"math/big"

	"github.com/TilepMony-Project/engine/pkg/chain"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/mock"
)

// MockBackend is a mock implementation of chain.Backend interface.
type MockBackend struct {
	mock.Mock
}

func (m *MockBackend) BlockNumber(ctx context.Context) (uint64, error) {
	args := m.Called(ctx)

	return args.Get(0).(uint64), args.Error(1)
}

func (m *MockBackend) FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
	args := m.Called(ctx, query)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]types.Log), args.Error(1)
}

func (m *MockBackend) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	args := m.Called(ctx, call, blockNumber)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockBackend) EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error) {
	args := m.Called(ctx, call)

	return args.Get(0).(uint64), args.Error(1)
}

func (m *MockBackend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*big.Int), args.Error(1)
}

func (m *MockBackend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	args := m.Called(ctx, account)

	return args.Get(0).(uint64), args.Error(1)
}

func (m *MockBackend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	args := m.Called(ctx, tx)

	return args.Error(0)
}

func (m *MockBackend) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	args := m.Called(ctx, txHash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*types.Receipt), args.Error(1)
}

// MockEventSource is a mock implementation of bridge.EventSource interface.
type MockEventSource struct {
	mock.Mock
}

func (m *MockEventSource) HeadBlock(ctx context.Context) (uint64, error) {
	args := m.Called(ctx)

	return args.Get(0).(uint64), args.Error(1)
}

func (m *MockEventSource) WorkflowEvents(ctx context.Context, token common.Address, from, to uint64) ([]chain.WorkflowDataReceived, error) {
	args := m.Called(ctx, token, from, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]chain.WorkflowDataReceived), args.Error(1)
}

// MockChain is a mock implementation of settlement.Chain interface.
type MockChain struct {
	mock.Mock
}

func (m *MockChain) TokenBalance(ctx context.Context, token, holder common.Address) (*big.Int, error) {
	args := m.Called(ctx, token, holder)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*big.Int), args.Error(1)
}

func (m *MockChain) Simulate(ctx context.Context, to common.Address, calldata []byte) error {
	args := m.Called(ctx, to, calldata)

	return args.Error(0)
}

func (m *MockChain) EstimateGas(ctx context.Context, to common.Address, calldata []byte) (uint64, error) {
	args := m.Called(ctx, to, calldata)

	return args.Get(0).(uint64), args.Error(1)
}

func (m *MockChain) Send(ctx context.Context, to common.Address, calldata []byte, gasLimit uint64) (common.Hash, error) {
	args := m.Called(ctx, to, calldata, gasLimit)

	return args.Get(0).(common.Hash), args.Error(1)
}

func (m *MockChain) WaitReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	args := m.Called(ctx, hash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*types.Receipt), args.Error(1)
}
