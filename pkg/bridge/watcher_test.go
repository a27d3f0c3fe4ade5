package bridge_test

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/TilepMony-Project/engine/pkg/bridge"
	"github.com/TilepMony-Project/engine/pkg/chain"
	"github.com/TilepMony-Project/engine/pkg/events"
	"github.com/TilepMony-Project/engine/pkg/failure"
	"github.com/TilepMony-Project/engine/pkg/metrics"
	"github.com/TilepMony-Project/engine/pkg/mocks"
	"github.com/TilepMony-Project/engine/pkg/models"
	"github.com/TilepMony-Project/engine/pkg/persistence/memory"
	"github.com/TilepMony-Project/engine/pkg/testutil"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var (
	usdx = common.HexToAddress(testutil.DestinationUSDX)
	idrx = common.HexToAddress("0x2000000000000000000000000000000000000011")
)

func received(id byte, block uint64) chain.WorkflowDataReceived {
	return chain.WorkflowDataReceived{
		MessageID:    common.BytesToHash([]byte{id}),
		Recipient:    common.HexToHash(testutil.DestinationController),
		Amount:       big.NewInt(1_000_000),
		WorkflowData: []byte{0xde, 0xad},
		Token:        usdx,
		BlockNumber:  block,
		TxHash:       common.BytesToHash([]byte{id, id}),
	}
}

func checkpoint(t *testing.T, store *memory.Persistence, chainID uint64) uint64 {
	t.Helper()

	cp, err := store.CheckpointRepository().Get(context.Background(), chainID)
	require.NoError(t, err)

	return cp.LastCheckedBlock
}

func TestPollOnce_FirstPollUsesLookback(t *testing.T) {
	store := memory.NewPersistence()
	source := &mocks.MockEventSource{}

	source.On("HeadBlock", mock.Anything).Return(uint64(1500), nil)
	source.On("WorkflowEvents", mock.Anything, usdx, uint64(500), uint64(1500)).
		Return([]chain.WorkflowDataReceived{received(1, 1400)}, nil)

	watcher := bridge.NewWatcher([]bridge.Target{{ChainID: 4202, Source: source, Tokens: []common.Address{usdx}}},
		store, slog.Default(), bridge.WithInitialLookback(1000))

	results, err := watcher.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[uint64]int{4202: 1}, results)
	assert.Equal(t, uint64(1501), checkpoint(t, store, 4202))

	settlement, err := store.SettlementRepository().GetByMessageID(context.Background(), common.BytesToHash([]byte{1}).Hex())
	require.NoError(t, err)
	assert.Equal(t, models.SettlementStatusPending, settlement.Status)
	assert.Equal(t, uint64(4202), settlement.ChainID)
	assert.Equal(t, usdx.Hex(), settlement.TokenAddress)
	assert.Equal(t, big.NewInt(1_000_000), settlement.Amount)
	assert.Equal(t, uint64(1400), settlement.BlockNumber)
}

func TestPollOnce_ShortChainStartsAtGenesis(t *testing.T) {
	store := memory.NewPersistence()
	source := &mocks.MockEventSource{}

	source.On("HeadBlock", mock.Anything).Return(uint64(20), nil)
	source.On("WorkflowEvents", mock.Anything, usdx, uint64(0), uint64(20)).Return([]chain.WorkflowDataReceived{}, nil)

	watcher := bridge.NewWatcher([]bridge.Target{{ChainID: 4202, Source: source, Tokens: []common.Address{usdx}}},
		store, slog.Default(), bridge.WithInitialLookback(1000))

	_, err := watcher.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(21), checkpoint(t, store, 4202))
	source.AssertExpectations(t)
}

func TestPollOnce_SameRangeTwiceIsIdempotent(t *testing.T) {
	store := memory.NewPersistence()
	source := &mocks.MockEventSource{}

	source.On("HeadBlock", mock.Anything).Return(uint64(100), nil)
	source.On("WorkflowEvents", mock.Anything, usdx, mock.Anything, mock.Anything).
		Return([]chain.WorkflowDataReceived{received(1, 90), received(1, 90), received(2, 95)}, nil)

	watcher := bridge.NewWatcher([]bridge.Target{{ChainID: 4202, Source: source, Tokens: []common.Address{usdx}}},
		store, slog.Default(), bridge.WithInitialLookback(50))

	first, err := watcher.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, first[4202])

	second, err := watcher.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, second[4202])

	all, err := store.SettlementRepository().List(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestPollOnce_CheckpointNeverDecreases(t *testing.T) {
	store := memory.NewPersistence()
	source := &mocks.MockEventSource{}

	source.On("HeadBlock", mock.Anything).Return(uint64(1000), nil).Once()
	source.On("HeadBlock", mock.Anything).Return(uint64(900), nil).Once()
	source.On("HeadBlock", mock.Anything).Return(uint64(1200), nil).Once()
	source.On("WorkflowEvents", mock.Anything, usdx, mock.Anything, mock.Anything).Return([]chain.WorkflowDataReceived{}, nil)

	watcher := bridge.NewWatcher([]bridge.Target{{ChainID: 4202, Source: source, Tokens: []common.Address{usdx}}},
		store, slog.Default(), bridge.WithInitialLookback(10))

	var seen []uint64

	for range 3 {
		_, err := watcher.PollOnce(context.Background())
		require.NoError(t, err)

		seen = append(seen, checkpoint(t, store, 4202))
	}

	assert.Equal(t, []uint64{1001, 1001, 1201}, seen)
	source.AssertCalled(t, "WorkflowEvents", mock.Anything, usdx, uint64(1001), uint64(1200))
	source.AssertNumberOfCalls(t, "WorkflowEvents", 2)
}

func TestPollOnce_FailuresAreIsolated(t *testing.T) {
	store := memory.NewPersistence()
	m := metrics.New()

	broken := &mocks.MockEventSource{}
	broken.On("HeadBlock", mock.Anything).Return(uint64(0), failure.Network("head block", errors.New("connection refused")))

	partial := &mocks.MockEventSource{}
	partial.On("HeadBlock", mock.Anything).Return(uint64(300), nil)
	partial.On("WorkflowEvents", mock.Anything, idrx, mock.Anything, mock.Anything).Return(nil, errors.New("timeout"))
	partial.On("WorkflowEvents", mock.Anything, usdx, mock.Anything, mock.Anything).
		Return([]chain.WorkflowDataReceived{received(7, 250)}, nil)

	watcher := bridge.NewWatcher([]bridge.Target{
		{ChainID: 4202, Source: partial, Tokens: []common.Address{idrx, usdx}},
		{ChainID: 5003, Source: broken, Tokens: []common.Address{usdx}},
	}, store, slog.Default(), bridge.WithInitialLookback(100), bridge.WithMetrics(m))

	results, err := watcher.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[uint64]int{4202: 1, 5003: 0}, results)

	assert.Equal(t, uint64(301), checkpoint(t, store, 4202), "checkpoint advances despite a failed token")

	_, err = store.CheckpointRepository().Get(context.Background(), 5003)
	assert.Error(t, err, "unreachable chain keeps no checkpoint")
}

func TestPollOnce_SelectsChain(t *testing.T) {
	store := memory.NewPersistence()

	lisk := &mocks.MockEventSource{}
	lisk.On("HeadBlock", mock.Anything).Return(uint64(10), nil)
	lisk.On("WorkflowEvents", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return([]chain.WorkflowDataReceived{}, nil)

	mantle := &mocks.MockEventSource{}

	watcher := bridge.NewWatcher([]bridge.Target{
		{ChainID: 5003, Source: mantle, Tokens: []common.Address{usdx}},
		{ChainID: 4202, Source: lisk, Tokens: []common.Address{usdx}},
	}, store, slog.Default())

	assert.Equal(t, []uint64{4202, 5003}, watcher.ChainIDs())

	results, err := watcher.PollOnce(context.Background(), 4202)
	require.NoError(t, err)
	assert.Equal(t, map[uint64]int{4202: 0}, results)
	mantle.AssertNotCalled(t, "HeadBlock", mock.Anything)

	_, err = watcher.PollOnce(context.Background(), 1)
	assert.ErrorIs(t, err, failure.ErrConfiguration)
}

func TestPollOnce_RejectsOverlappingCycles(t *testing.T) {
	store := memory.NewPersistence()
	release := make(chan struct{})
	entered := make(chan struct{})

	source := &mocks.MockEventSource{}
	source.On("HeadBlock", mock.Anything).Run(func(mock.Arguments) {
		close(entered)
		<-release
	}).Return(uint64(10), nil).Once()
	source.On("WorkflowEvents", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return([]chain.WorkflowDataReceived{}, nil)

	watcher := bridge.NewWatcher([]bridge.Target{{ChainID: 4202, Source: source, Tokens: []common.Address{usdx}}}, store, slog.Default())

	done := make(chan error, 1)

	go func() {
		_, err := watcher.PollOnce(context.Background())
		done <- err
	}()

	<-entered

	_, err := watcher.PollOnce(context.Background())
	assert.ErrorIs(t, err, bridge.ErrPollInProgress)

	close(release)
	require.NoError(t, <-done)
}

func TestPollOnce_PublishesDetectedSettlements(t *testing.T) {
	store := memory.NewPersistence()
	bus := &mocks.MockEventBus{}
	bus.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	source := &mocks.MockEventSource{}
	source.On("HeadBlock", mock.Anything).Return(uint64(10), nil)
	source.On("WorkflowEvents", mock.Anything, usdx, mock.Anything, mock.Anything).
		Return([]chain.WorkflowDataReceived{received(3, 9)}, nil)

	watcher := bridge.NewWatcher([]bridge.Target{{ChainID: 4202, Source: source, Tokens: []common.Address{usdx}}},
		store, slog.Default(), bridge.WithEventBus(bus))

	_, err := watcher.PollOnce(context.Background())
	require.NoError(t, err)

	messageID := common.BytesToHash([]byte{3}).Hex()

	bus.AssertCalled(t, "Publish", mock.Anything, messageID, mock.MatchedBy(func(event events.SettlementDetected) bool {
		return event.MessageID == messageID && event.ChainID == 4202 && event.Amount == "1000000" && event.BlockNumber == 9
	}))
	bus.AssertNumberOfCalls(t, "Publish", 1)
}

func TestWatcher_StartStop(t *testing.T) {
	store := memory.NewPersistence()
	polled := make(chan struct{}, 10)

	source := &mocks.MockEventSource{}
	source.On("HeadBlock", mock.Anything).Run(func(mock.Arguments) { polled <- struct{}{} }).Return(uint64(10), nil)
	source.On("WorkflowEvents", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return([]chain.WorkflowDataReceived{}, nil)

	watcher := bridge.NewWatcher([]bridge.Target{{ChainID: 4202, Source: source, Tokens: []common.Address{usdx}}},
		store, slog.Default(), bridge.WithInterval(time.Second))

	require.NoError(t, watcher.Start(context.Background()))

	select {
	case <-polled:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduled poll did not run")
	}

	watcher.Stop()
	watcher.Stop()
}
