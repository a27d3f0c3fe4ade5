package actions

import (
	"math/big"
	"testing"

	"github.com/TilepMony-Project/engine/pkg/failure"
	"github.com/TilepMony-Project/engine/pkg/models"
	"github.com/TilepMony-Project/engine/pkg/nodes"
	"github.com/TilepMony-Project/engine/pkg/testutil"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompile_Mint(t *testing.T) {
	compiler := NewCompiler(testutil.Chains(t))

	action, err := compiler.Compile(testutil.SourceChainID, nodes.Mint{
		Amount: decimal.NewFromInt(1000), Currency: "USD", Token: "USDX",
	})
	require.NoError(t, err)

	assert.Equal(t, TypeMint, action.Type)
	assert.Equal(t, common.HexToAddress(testutil.SourceUSDX), action.TargetContract)
	assert.Zero(t, action.InputAmountPercentage)

	payload, err := DecodePayload(*action)
	require.NoError(t, err)

	mint := payload.(*MintPayload)
	assert.Equal(t, common.HexToAddress(testutil.SourceUSDX), mint.Token)
	assert.Equal(t, big.NewInt(1_000_000_000), mint.Amount)
}

func TestCompile_SwapWithPreviousOutput(t *testing.T) {
	compiler := NewCompiler(testutil.Chains(t))
	half := 50.0

	action, err := compiler.Compile(testutil.SourceChainID, nodes.Swap{
		Share:    nodes.Share{Percentage: &half},
		Adapter:  "FusionX",
		TokenOut: "IDRX",
	})
	require.NoError(t, err)

	assert.Equal(t, TypeSwap, action.Type)
	assert.Equal(t, common.HexToAddress(testutil.SourceSwapAdapter), action.TargetContract)
	assert.Equal(t, uint64(5000), action.InputAmountPercentage)

	payload, err := DecodePayload(*action)
	require.NoError(t, err)

	swap := payload.(*SwapPayload)
	assert.Equal(t, common.Address{}, swap.TokenIn)
	assert.Equal(t, common.HexToAddress(testutil.SourceIDRX), swap.TokenOut)
	assert.Zero(t, swap.AmountIn.Sign())
	assert.Zero(t, swap.MinAmountOut.Sign())
	assert.Equal(t, common.Address{}, swap.Recipient)
}

func TestCompile_YieldWithdraw(t *testing.T) {
	compiler := NewCompiler(testutil.Chains(t))

	decoded, err := nodes.Decode(testutil.Node("y", models.NodeTypeYieldWithdraw, map[string]any{"adapter": "aave", "token": "USDX"}))
	require.NoError(t, err)

	action, err := compiler.Compile(testutil.SourceChainID, decoded)
	require.NoError(t, err)

	assert.Equal(t, TypeYieldWithdraw, action.Type)
	assert.Equal(t, uint64(MaxPercentage), action.InputAmountPercentage)

	payload, err := DecodePayload(*action)
	require.NoError(t, err)

	yield := payload.(*YieldPayload)
	assert.Equal(t, common.HexToAddress(testutil.SourceYieldAdapter), yield.Adapter)
	assert.Empty(t, yield.AdapterData)
}

func TestCompile_DynamicTransfer(t *testing.T) {
	compiler := NewCompiler(testutil.Chains(t))

	action, err := compiler.Compile(testutil.SourceChainID, nodes.Transfer{})
	require.NoError(t, err)

	assert.Equal(t, TypeTransfer, action.Type)
	assert.Equal(t, common.Address{}, action.TargetContract)
}

func TestCompile_OffChainNodes(t *testing.T) {
	compiler := NewCompiler(testutil.Chains(t))

	for _, properties := range []nodes.Properties{nodes.Deposit{}, nodes.Redeem{}, nodes.Wait{}, nodes.Partition{}} {
		action, err := compiler.Compile(testutil.SourceChainID, properties)
		require.NoError(t, err)
		assert.Nil(t, action, properties.NodeType())
	}
}

func TestCompile_ConfigurationErrors(t *testing.T) {
	compiler := NewCompiler(testutil.Chains(t))

	testCases := []struct {
		name       string
		chainID    uint64
		properties nodes.Properties
	}{
		{"unknown chain", 1, nodes.Transfer{}},
		{"unknown token", testutil.SourceChainID, nodes.Mint{Amount: decimal.NewFromInt(1), Currency: "USD", Token: "DOGE"}},
		{"unknown adapter", testutil.SourceChainID, nodes.Swap{Adapter: "uniswap", TokenOut: "USDX"}},
		{"unknown destination", testutil.SourceChainID, nodes.Bridge{Token: "USDX", DestinationChainID: 999}},
		{"no bridge adapter", testutil.DestinationChainID, nodes.Bridge{Token: "USDX", DestinationChainID: testutil.SourceChainID}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := compiler.Compile(tc.chainID, tc.properties)
			require.Error(t, err)
			assert.ErrorIs(t, err, failure.ErrConfiguration)
		})
	}
}

func TestCompilePlan_NestsActionsAfterBridge(t *testing.T) {
	compiler := NewCompiler(testutil.Chains(t))

	order := []models.ExecutionNode{
		testutil.Node("deposit", models.NodeTypeDeposit, map[string]any{"amount": 100, "currency": "USD"}),
		testutil.Node("mint", models.NodeTypeMint, map[string]any{"amount": 100, "currency": "USD", "token": "USDX"}),
		testutil.Node("bridge", models.NodeTypeBridge, map[string]any{"token": "USDX", "destination_chain_id": testutil.DestinationChainID}),
		testutil.Node("wait", models.NodeTypeWait, map[string]any{"value": 1, "unit": "minutes"}),
		testutil.Node("yield", models.NodeTypeYieldDeposit, map[string]any{"adapter": "compound", "token": "USDX"}),
	}

	plan, err := compiler.CompilePlan(testutil.SourceChainID, order)
	require.NoError(t, err)
	require.Len(t, plan, 2)

	assert.Equal(t, TypeMint, plan[0].Type)
	assert.Equal(t, TypeBridge, plan[1].Type)
	assert.Equal(t, common.HexToAddress(testutil.SourceBridgeAdapter), plan[1].TargetContract)

	bridge, err := DecodeBridgePayload(plan[1].Data)
	require.NoError(t, err)

	assert.Equal(t, common.HexToAddress(testutil.SourceUSDX), bridge.Token)
	assert.Equal(t, new(big.Int).SetUint64(testutil.DestinationChainID), bridge.DestinationChainID)
	assert.Equal(t, common.HexToHash(testutil.DestinationController), bridge.Recipient)

	nested, err := DecodeWorkflowData(bridge.AdditionalData)
	require.NoError(t, err)
	require.Len(t, nested, 1)

	assert.Equal(t, TypeYield, nested[0].Type)
	assert.Equal(t, common.HexToAddress(testutil.DestinationYield), nested[0].TargetContract)
}

func TestCompilePlan_InvalidNode(t *testing.T) {
	compiler := NewCompiler(testutil.Chains(t))

	_, err := compiler.CompilePlan(testutil.SourceChainID, []models.ExecutionNode{
		testutil.Node("mint", models.NodeTypeMint, map[string]any{"currency": "USD"}),
	})
	assert.ErrorIs(t, err, failure.ErrConfiguration)
}

func TestControllerCalldata(t *testing.T) {
	plan := []Action{{Type: TypeTransfer, Data: []byte{0x01}, InputAmountPercentage: MaxPercentage}}
	token := common.HexToAddress(testutil.SourceUSDX)

	for _, withReceived := range []bool{false, true} {
		calldata, err := ControllerCalldata(plan, token, big.NewInt(42), withReceived)
		require.NoError(t, err)

		controller := Controller()
		method, err := controller.MethodById(calldata[:4])
		require.NoError(t, err)

		expected := MethodExecuteWorkflow
		if withReceived {
			expected = MethodExecuteWorkflowWithReceivedTokens
		}

		assert.Equal(t, expected, method.Name)

		args, err := method.Inputs.Unpack(calldata[4:])
		require.NoError(t, err)
		assert.Equal(t, token, args[1])
		assert.Equal(t, big.NewInt(42), args[2])
	}
}
