package settlement_test

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/TilepMony-Project/engine/pkg/actions"
	"github.com/TilepMony-Project/engine/pkg/chain"
	"github.com/TilepMony-Project/engine/pkg/events"
	"github.com/TilepMony-Project/engine/pkg/failure"
	"github.com/TilepMony-Project/engine/pkg/mocks"
	"github.com/TilepMony-Project/engine/pkg/models"
	"github.com/TilepMony-Project/engine/pkg/persistence/memory"
	"github.com/TilepMony-Project/engine/pkg/settlement"
	"github.com/TilepMony-Project/engine/pkg/testutil"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var (
	_ settlement.Chain = (*chain.Client)(nil)

	controller = common.HexToAddress(testutil.DestinationController)
	usdx       = common.HexToAddress(testutil.DestinationUSDX)
	sentTx     = common.HexToHash("0xfeed")
)

type fixture struct {
	store    *memory.Persistence
	chain    *mocks.MockChain
	bus      *mocks.MockEventBus
	executor *settlement.Executor
	data     []byte
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	data, err := actions.EncodeWorkflowData([]actions.Action{{
		Type:                  actions.TypeTransfer,
		TargetContract:        usdx,
		Data:                  common.LeftPadBytes(usdx.Bytes(), 32),
		InputAmountPercentage: actions.MaxPercentage,
	}})
	require.NoError(t, err)

	bus := &mocks.MockEventBus{}
	bus.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	f := &fixture{
		store: memory.NewPersistence(),
		chain: &mocks.MockChain{},
		bus:   bus,
		data:  data,
	}

	f.executor = settlement.NewExecutor(f.store, testutil.Chains(t),
		map[uint64]settlement.Chain{testutil.DestinationChainID: f.chain},
		slog.Default(),
		settlement.WithEventBus(bus),
		settlement.WithMaxGas(500_000),
	)

	return f
}

func (f *fixture) insert(t *testing.T, overrides ...func(*models.PendingSettlement)) *models.PendingSettlement {
	t.Helper()

	s := testutil.CreateTestSettlement(append([]func(*models.PendingSettlement){testutil.WithWorkflowData(f.data)}, overrides...)...)

	inserted, err := f.store.SettlementRepository().Insert(context.Background(), s)
	require.NoError(t, err)
	require.True(t, inserted)

	return s
}

func (f *fixture) stored(t *testing.T, messageID string) *models.PendingSettlement {
	t.Helper()

	s, err := f.store.SettlementRepository().GetByMessageID(context.Background(), messageID)
	require.NoError(t, err)

	return s
}

func (f *fixture) calldata(t *testing.T, amount *big.Int) []byte {
	t.Helper()

	list, err := actions.DecodeWorkflowData(f.data)
	require.NoError(t, err)

	calldata, err := actions.ControllerCalldata(list, usdx, amount, true)
	require.NoError(t, err)

	return calldata
}

func (f *fixture) happyPath(t *testing.T, amount *big.Int) {
	t.Helper()

	calldata := f.calldata(t, amount)

	f.chain.On("TokenBalance", mock.Anything, usdx, controller).Return(big.NewInt(5_000_000), nil)
	f.chain.On("Simulate", mock.Anything, controller, calldata).Return(nil)
	f.chain.On("EstimateGas", mock.Anything, controller, calldata).Return(uint64(100_000), nil)
	f.chain.On("Send", mock.Anything, controller, calldata, uint64(120_000)).Return(sentTx, nil)
	f.chain.On("WaitReceipt", mock.Anything, sentTx).Return(&types.Receipt{Status: types.ReceiptStatusSuccessful}, nil)
}

func TestExecute_Completes(t *testing.T) {
	f := newFixture(t)
	s := f.insert(t)
	f.happyPath(t, s.Amount)

	result := f.executor.Execute(context.Background(), s.MessageID)

	assert.Equal(t, settlement.Result{Success: true, TxHash: sentTx.Hex()}, result)

	stored := f.stored(t, s.MessageID)
	assert.Equal(t, models.SettlementStatusCompleted, stored.Status)
	assert.Equal(t, sentTx.Hex(), stored.ExecutionTxHash)
	assert.NotNil(t, stored.ExecutedAt)
	assert.Empty(t, stored.Error)

	f.chain.AssertExpectations(t)
	f.bus.AssertCalled(t, "Publish", mock.Anything, s.MessageID, mock.MatchedBy(func(e events.SettlementCompleted) bool {
		return e.ExecutionTxHash == sentTx.Hex() && e.ChainID == testutil.DestinationChainID
	}))
}

func TestExecute_GasEstimateFallsBackToCeiling(t *testing.T) {
	f := newFixture(t)
	s := f.insert(t)
	calldata := f.calldata(t, s.Amount)

	f.chain.On("TokenBalance", mock.Anything, usdx, controller).Return(big.NewInt(5_000_000), nil)
	f.chain.On("Simulate", mock.Anything, controller, calldata).Return(nil)
	f.chain.On("EstimateGas", mock.Anything, controller, calldata).Return(uint64(0), failure.Network("estimate gas", errors.New("rpc down")))
	f.chain.On("Send", mock.Anything, controller, calldata, uint64(500_000)).Return(sentTx, nil)
	f.chain.On("WaitReceipt", mock.Anything, sentTx).Return(&types.Receipt{Status: types.ReceiptStatusSuccessful}, nil)

	result := f.executor.Execute(context.Background(), s.MessageID)

	assert.True(t, result.Success)
	f.chain.AssertExpectations(t)
}

func TestExecute_Failures(t *testing.T) {
	tests := []struct {
		name      string
		override  func(*models.PendingSettlement)
		setup     func(f *fixture, calldata []byte)
		wantError string
		wantTx    string
		neverSent bool
	}{
		{
			name: "malformed workflow data",
			override: func(s *models.PendingSettlement) {
				s.WorkflowData = []byte{0x01, 0x02}
			},
			setup:     func(*fixture, []byte) {},
			wantError: "decode workflow data",
			neverSent: true,
		},
		{
			name: "controller balance too low",
			setup: func(f *fixture, _ []byte) {
				f.chain.On("TokenBalance", mock.Anything, usdx, controller).Return(big.NewInt(10), nil)
			},
			wantError: "controller holds 10, settlement needs 1000000",
			neverSent: true,
		},
		{
			name: "simulation predicts revert",
			setup: func(f *fixture, calldata []byte) {
				f.chain.On("TokenBalance", mock.Anything, usdx, controller).Return(big.NewInt(1_000_000), nil)
				f.chain.On("Simulate", mock.Anything, controller, calldata).Return(failure.Simulation("simulate", errors.New("execution reverted")))
			},
			wantError: "execution reverted",
			neverSent: true,
		},
		{
			name: "receipt reports revert",
			setup: func(f *fixture, calldata []byte) {
				f.chain.On("TokenBalance", mock.Anything, usdx, controller).Return(big.NewInt(1_000_000), nil)
				f.chain.On("Simulate", mock.Anything, controller, calldata).Return(nil)
				f.chain.On("EstimateGas", mock.Anything, controller, calldata).Return(uint64(100_000), nil)
				f.chain.On("Send", mock.Anything, controller, calldata, uint64(120_000)).Return(sentTx, nil)
				f.chain.On("WaitReceipt", mock.Anything, sentTx).Return(&types.Receipt{Status: types.ReceiptStatusFailed}, nil)
			},
			wantError: "transaction reverted",
			wantTx:    sentTx.Hex(),
		},
		{
			name: "chain without client",
			override: func(s *models.PendingSettlement) {
				s.ChainID = testutil.SourceChainID
			},
			setup:     func(*fixture, []byte) {},
			wantError: "no client for chain 5003",
			neverSent: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)

			var overrides []func(*models.PendingSettlement)
			if tt.override != nil {
				overrides = append(overrides, tt.override)
			}

			s := f.insert(t, overrides...)
			tt.setup(f, f.calldata(t, s.Amount))

			result := f.executor.Execute(context.Background(), s.MessageID)

			assert.False(t, result.Success)
			assert.Contains(t, result.Error, tt.wantError)
			assert.Equal(t, tt.wantTx, result.TxHash)

			stored := f.stored(t, s.MessageID)
			assert.Equal(t, models.SettlementStatusFailed, stored.Status)
			assert.Equal(t, result.Error, stored.Error)
			assert.Equal(t, tt.wantTx, stored.ExecutionTxHash)
			assert.Nil(t, stored.ExecutedAt)

			if tt.neverSent {
				f.chain.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
			}

			f.bus.AssertCalled(t, "Publish", mock.Anything, s.MessageID, mock.AnythingOfType("events.SettlementFailed"))
		})
	}
}

func TestExecute_ReceiptUnavailableStaysExecuting(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{name: "rpc error", err: failure.Network("transaction receipt", errors.New("rpc timeout"))},
		{name: "context cancelled", err: context.Canceled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			s := f.insert(t)
			calldata := f.calldata(t, s.Amount)

			f.chain.On("TokenBalance", mock.Anything, usdx, controller).Return(big.NewInt(5_000_000), nil)
			f.chain.On("Simulate", mock.Anything, controller, calldata).Return(nil)
			f.chain.On("EstimateGas", mock.Anything, controller, calldata).Return(uint64(100_000), nil)
			f.chain.On("Send", mock.Anything, controller, calldata, uint64(120_000)).Return(sentTx, nil)
			f.chain.On("WaitReceipt", mock.Anything, sentTx).Return(nil, tt.err)

			result := f.executor.Execute(context.Background(), s.MessageID)

			assert.False(t, result.Success)
			assert.Equal(t, sentTx.Hex(), result.TxHash)
			assert.Equal(t, "Transaction submitted, outcome unknown", result.Error)

			stored := f.stored(t, s.MessageID)
			assert.Equal(t, models.SettlementStatusExecuting, stored.Status)
			assert.Equal(t, sentTx.Hex(), stored.ExecutionTxHash)
			assert.Empty(t, stored.Error)
			assert.Nil(t, stored.ExecutedAt)

			f.bus.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.AnythingOfType("events.SettlementFailed"))

			// A second call cannot claim it again.
			assert.Equal(t, "Workflow already executing", f.executor.Execute(context.Background(), s.MessageID).Error)
			f.chain.AssertNumberOfCalls(t, "Send", 1)

			reconciler := settlement.NewReconciler(f.store, slog.Default(),
				settlement.WithStuckAfter(time.Minute),
				settlement.WithReconcilerClock(func() time.Time { return time.Now().Add(time.Hour) }),
			)

			stuck, err := reconciler.Check(context.Background())
			require.NoError(t, err)
			require.Len(t, stuck, 1)
			assert.Equal(t, sentTx.Hex(), stuck[0].ExecutionTxHash)
		})
	}
}

func TestExecute_Rejections(t *testing.T) {
	f := newFixture(t)
	done := f.insert(t, testutil.WithStatus(models.SettlementStatusCompleted))

	assert.Equal(t, settlement.Result{Error: "Settlement not found"}, f.executor.Execute(context.Background(), "0xmissing"))
	assert.Equal(t, settlement.Result{Error: "Workflow already completed"}, f.executor.Execute(context.Background(), done.MessageID))

	f.chain.AssertNotCalled(t, "TokenBalance", mock.Anything, mock.Anything, mock.Anything)
	assert.Equal(t, models.SettlementStatusCompleted, f.stored(t, done.MessageID).Status)
}

func TestExecute_ConcurrentCallsClaimOnce(t *testing.T) {
	f := newFixture(t)
	s := f.insert(t)
	calldata := f.calldata(t, s.Amount)
	release := make(chan struct{})

	f.chain.On("TokenBalance", mock.Anything, usdx, controller).Return(big.NewInt(5_000_000), nil)
	f.chain.On("Simulate", mock.Anything, controller, calldata).Run(func(mock.Arguments) { <-release }).Return(nil)
	f.chain.On("EstimateGas", mock.Anything, controller, calldata).Return(uint64(100_000), nil)
	f.chain.On("Send", mock.Anything, controller, calldata, uint64(120_000)).Return(sentTx, nil)
	f.chain.On("WaitReceipt", mock.Anything, sentTx).Return(&types.Receipt{Status: types.ReceiptStatusSuccessful}, nil)

	const callers = 8

	results := make(chan settlement.Result, callers)

	var wg sync.WaitGroup

	for range callers {
		wg.Add(1)

		go func() {
			defer wg.Done()
			results <- f.executor.Execute(context.Background(), s.MessageID)
		}()
	}

	for range callers - 1 {
		assert.Equal(t, settlement.Result{Error: "Workflow already executing"}, <-results)
	}

	close(release)
	wg.Wait()

	assert.Equal(t, settlement.Result{Success: true, TxHash: sentTx.Hex()}, <-results)
	f.chain.AssertNumberOfCalls(t, "Send", 1)
}

func TestProcessAll(t *testing.T) {
	f := newFixture(t)
	good := f.insert(t)
	f.insert(t, testutil.WithWorkflowData([]byte{0xff}))
	f.insert(t)
	f.insert(t, testutil.WithStatus(models.SettlementStatusCompleted))
	f.happyPath(t, good.Amount)

	summary, err := f.executor.ProcessAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, settlement.Summary{Processed: 3, Succeeded: 2, Failed: 1}, summary)

	pending, err := f.store.SettlementRepository().ListByStatus(context.Background(), models.SettlementStatusPending)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestProcessAll_NothingPending(t *testing.T) {
	f := newFixture(t)

	summary, err := f.executor.ProcessAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, settlement.Summary{}, summary)
}
