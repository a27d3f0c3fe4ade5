package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/TilepMony-Project/engine/pkg/failure"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const chainsYAML = `
chains:
  - id: 5003
    name: mantle-sepolia
    rpc_url: ${TEST_MANTLE_RPC}
    controller: "0x1000000000000000000000000000000000000001"
    bridge_adapter: "0x1000000000000000000000000000000000000002"
    tokens:
      USDX: {address: "0x1000000000000000000000000000000000000010", decimals: 6}
      IDRX: {address: "0x1000000000000000000000000000000000000011", decimals: 2}
    adapters:
      FusionX: "0x1000000000000000000000000000000000000020"
    watch_tokens: [USDX]
  - id: 4202
    name: lisk-sepolia
    rpc_url: http://localhost:8546
    controller: "0x2000000000000000000000000000000000000001"
    tokens:
      USDX: {address: "0x2000000000000000000000000000000000000010", decimals: 6}
`

func TestLoadChains(t *testing.T) {
	t.Setenv("TEST_MANTLE_RPC", "https://rpc.sepolia.mantle.xyz")

	path := filepath.Join(t.TempDir(), "chains.yaml")
	require.NoError(t, os.WriteFile(path, []byte(chainsYAML), 0o600))

	chains, err := LoadChains(path)
	require.NoError(t, err)

	assert.Equal(t, []uint64{5003, 4202}, chains.IDs())

	mantle, err := chains.Chain(5003)
	require.NoError(t, err)
	assert.Equal(t, "https://rpc.sepolia.mantle.xyz", mantle.RPCURL)
	assert.Equal(t, common.HexToAddress("0x1000000000000000000000000000000000000001"), mantle.ControllerAddress())

	token, decimals, err := mantle.Token("usdx")
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress("0x1000000000000000000000000000000000000010"), token)
	assert.Equal(t, int32(6), decimals)

	adapter, err := mantle.Adapter("fusionx")
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress("0x1000000000000000000000000000000000000020"), adapter)

	assert.Equal(t, []common.Address{token}, mantle.WatchedTokens())

	symbol, _, ok := mantle.TokenByAddress(token)
	assert.True(t, ok)
	assert.Equal(t, "USDX", symbol)
}

func TestChains_LookupFailures(t *testing.T) {
	t.Setenv("TEST_MANTLE_RPC", "http://localhost:8545")

	chains, err := ParseChains([]byte(chainsYAML))
	require.NoError(t, err)

	_, err = chains.Chain(1)
	assert.ErrorIs(t, err, failure.ErrConfiguration)

	lisk, err := chains.Chain(4202)
	require.NoError(t, err)

	_, _, err = lisk.Token("IDRX")
	assert.ErrorIs(t, err, failure.ErrConfiguration)

	_, err = lisk.Adapter("FusionX")
	assert.ErrorIs(t, err, failure.ErrConfiguration)

	_, err = lisk.BridgeAdapterAddress()
	assert.ErrorIs(t, err, failure.ErrConfiguration)

	assert.Len(t, lisk.WatchedTokens(), 1)
}

func TestParseChains_Invalid(t *testing.T) {
	testCases := map[string]string{
		"empty":     `chains: []`,
		"bad yaml":  `chains: [`,
		"bad token": "chains:\n  - {id: 1, name: a, rpc_url: http://x, controller: \"0x1000000000000000000000000000000000000001\", tokens: {A: {address: nope}}}",
		"duplicate": "chains:\n  - {id: 1, name: a, rpc_url: http://x, controller: \"0x1000000000000000000000000000000000000001\"}\n  - {id: 1, name: b, rpc_url: http://y, controller: \"0x1000000000000000000000000000000000000001\"}",
		"watch":     "chains:\n  - {id: 1, name: a, rpc_url: http://x, controller: \"0x1000000000000000000000000000000000000001\", watch_tokens: [USDX]}",
		"no rpc":    "chains:\n  - {id: 1, name: a, controller: \"0x1000000000000000000000000000000000000001\"}",
	}

	for name, data := range testCases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseChains([]byte(data))
			assert.Error(t, err)
		})
	}
}

func TestDefaultSettings(t *testing.T) {
	settings := DefaultSettings()

	assert.Equal(t, uint64(DefaultInitialLookback), settings.InitialLookback)
	assert.Equal(t, uint64(DefaultMaxGas), settings.MaxGas)
	assert.False(t, settings.AutoExecute)
}
