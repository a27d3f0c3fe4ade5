package actions

import (
	"math/big"
	"testing"

	"github.com/TilepMony-Project/engine/pkg/failure"
	"github.com/TilepMony-Project/engine/pkg/models"
	"github.com/TilepMony-Project/engine/pkg/testutil"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompileGraph(t *testing.T) {
	compiler := NewCompiler(testutil.Chains(t))

	// Declared out of order; edges decide the plan.
	workflow := models.WorkflowGraph{
		Nodes: []models.ExecutionNode{
			testutil.Node("transfer", models.NodeTypeTransfer, map[string]any{"percentage": 100}),
			testutil.Node("deposit", models.NodeTypeDeposit, map[string]any{"amount": 10, "currency": "USD"}),
			testutil.Node("swap", models.NodeTypeSwap, map[string]any{"adapter": "fusionx", "token_in": "USDX", "token_out": "IDRX"}),
		},
		Edges: []models.Edge{
			{Source: "deposit", Target: "swap"},
			{Source: "swap", Target: "transfer"},
		},
	}

	compilation, err := compiler.CompileGraph(testutil.SourceChainID, workflow, "USDX", decimal.RequireFromString("12.5"))
	require.NoError(t, err)

	require.Len(t, compilation.Actions, 2)
	assert.Equal(t, TypeSwap, compilation.Actions[0].Type)
	assert.Equal(t, TypeTransfer, compilation.Actions[1].Type)
	assert.Equal(t, common.HexToAddress(testutil.SourceController), compilation.Controller)
	assert.Equal(t, common.HexToAddress(testutil.SourceUSDX), compilation.InitialToken)
	assert.Equal(t, big.NewInt(12_500_000), compilation.InitialAmount)
	assert.Empty(t, compilation.Leftover)

	decoded, err := DecodeWorkflowData(compilation.WorkflowData)
	require.NoError(t, err)
	assert.Equal(t, compilation.Actions, decoded)

	controller := Controller()
	method, err := controller.MethodById(compilation.Calldata[:4])
	require.NoError(t, err)
	assert.Equal(t, MethodExecuteWorkflow, method.Name)
}

func TestCompileGraph_WithoutInitialToken(t *testing.T) {
	compiler := NewCompiler(testutil.Chains(t))

	compilation, err := compiler.CompileGraph(testutil.SourceChainID, testutil.Chain(
		testutil.Node("mint", models.NodeTypeMint, map[string]any{"amount": 5, "currency": "USD", "token": "USDX"}),
	), "", decimal.Zero)
	require.NoError(t, err)

	assert.Equal(t, common.Address{}, compilation.InitialToken)
	assert.Zero(t, compilation.InitialAmount.Sign())
}

func TestCompileGraph_UnknownChainOrToken(t *testing.T) {
	compiler := NewCompiler(testutil.Chains(t))
	workflow := testutil.Chain(testutil.Node("wait", models.NodeTypeWait, map[string]any{"value": 1, "unit": "seconds"}))

	_, err := compiler.CompileGraph(1, workflow, "", decimal.Zero)
	assert.ErrorIs(t, err, failure.ErrConfiguration)

	_, err = compiler.CompileGraph(testutil.SourceChainID, workflow, "DOGE", decimal.NewFromInt(1))
	assert.ErrorIs(t, err, failure.ErrConfiguration)
}

func TestCompileGraph_DuplicateNodeIDs(t *testing.T) {
	compiler := NewCompiler(testutil.Chains(t))

	workflow := models.WorkflowGraph{Nodes: []models.ExecutionNode{
		testutil.Node("step", models.NodeTypeTransfer, map[string]any{"percentage": 50}),
		testutil.Node("step", models.NodeTypeTransfer, map[string]any{"percentage": 100}),
	}}

	_, err := compiler.CompileGraph(testutil.SourceChainID, workflow, "", decimal.Zero)
	assert.ErrorIs(t, err, failure.ErrConfiguration)
	assert.ErrorContains(t, err, "duplicate node id")
}
