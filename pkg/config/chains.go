// Package config provides the static chain table and runtime settings.
package config

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/TilepMony-Project/engine/pkg/failure"
	"github.com/ethereum/go-ethereum/common"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Token describes an ERC-20 token deployed on a chain.
type Token struct {
	Address  string `yaml:"address"  json:"address"  validate:"required,eth_addr"`
	Decimals int32  `yaml:"decimals" json:"decimals" validate:"min=0,max=36"`
}

// Chain is one entry of the chain table.
type Chain struct {
	ID            uint64            `yaml:"id"             json:"id"             validate:"required"`
	Name          string            `yaml:"name"           json:"name"           validate:"required"`
	RPCURL        string            `yaml:"rpc_url"        json:"rpc_url"        validate:"required,url"`
	Controller    string            `yaml:"controller"     json:"controller"     validate:"required,eth_addr"`
	BridgeAdapter string            `yaml:"bridge_adapter" json:"bridge_adapter" validate:"omitempty,eth_addr"`
	Tokens        map[string]Token  `yaml:"tokens"         json:"tokens"         validate:"dive"`
	Adapters      map[string]string `yaml:"adapters"       json:"adapters"       validate:"dive,eth_addr"`

	// WatchTokens limits event polling to these symbols. Empty means every token.
	WatchTokens []string `yaml:"watch_tokens" json:"watch_tokens"`
}

// Chains is the static chain table.
type Chains struct {
	Chains []Chain `yaml:"chains" json:"chains" validate:"required,min=1,dive"`
}

// LoadChains reads and validates a chain table from a YAML file.
func LoadChains(path string) (*Chains, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path comes from operator configuration
	if err != nil {
		return nil, fmt.Errorf("failed to read chain config %s: %w", path, err)
	}

	return ParseChains(data)
}

// ParseChains decodes and validates a YAML chain table. RPC URLs may
// reference environment variables with ${NAME}.
func ParseChains(data []byte) (*Chains, error) {
	var chains Chains
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &chains); err != nil {
		return nil, fmt.Errorf("failed to parse chain config: %w", err)
	}

	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(chains); err != nil {
		return nil, fmt.Errorf("invalid chain config: %w", err)
	}

	seen := make(map[uint64]bool, len(chains.Chains))
	for _, chain := range chains.Chains {
		if seen[chain.ID] {
			return nil, fmt.Errorf("invalid chain config: duplicate chain id %d", chain.ID)
		}

		seen[chain.ID] = true

		for _, symbol := range chain.WatchTokens {
			if _, ok := chain.Tokens[symbol]; !ok {
				return nil, fmt.Errorf("invalid chain config: chain %d watches unknown token %s", chain.ID, symbol)
			}
		}
	}

	return &chains, nil
}

// Chain returns the chain with the given id.
func (c *Chains) Chain(id uint64) (*Chain, error) {
	for i := range c.Chains {
		if c.Chains[i].ID == id {
			return &c.Chains[i], nil
		}
	}

	return nil, failure.Configuration("resolve", "unsupported chain %d", id)
}

// IDs returns the configured chain ids in table order.
func (c *Chains) IDs() []uint64 {
	ids := make([]uint64, 0, len(c.Chains))
	for _, chain := range c.Chains {
		ids = append(ids, chain.ID)
	}

	return ids
}

// Token resolves a token symbol (case-insensitive) to its address and decimals.
func (c *Chain) Token(symbol string) (common.Address, int32, error) {
	for name, token := range c.Tokens {
		if strings.EqualFold(name, symbol) {
			return common.HexToAddress(token.Address), token.Decimals, nil
		}
	}

	return common.Address{}, 0, failure.Configuration("resolve", "unknown token %q on chain %d", symbol, c.ID)
}

// TokenByAddress finds the symbol and decimals of a token address.
func (c *Chain) TokenByAddress(address common.Address) (string, int32, bool) {
	for name, token := range c.Tokens {
		if common.HexToAddress(token.Address) == address {
			return name, token.Decimals, true
		}
	}

	return "", 0, false
}

// Adapter resolves an adapter name (case-insensitive) to its address.
func (c *Chain) Adapter(name string) (common.Address, error) {
	for key, address := range c.Adapters {
		if strings.EqualFold(key, name) {
			return common.HexToAddress(address), nil
		}
	}

	return common.Address{}, failure.Configuration("resolve", "unknown adapter %q on chain %d", name, c.ID)
}

// BridgeAdapterAddress returns the bridge adapter of the chain.
func (c *Chain) BridgeAdapterAddress() (common.Address, error) {
	if c.BridgeAdapter == "" {
		return common.Address{}, failure.Configuration("resolve", "chain %d has no bridge adapter", c.ID)
	}

	return common.HexToAddress(c.BridgeAdapter), nil
}

// ControllerAddress returns the workflow controller contract of the chain.
func (c *Chain) ControllerAddress() common.Address {
	return common.HexToAddress(c.Controller)
}

// WatchedTokens returns the token contracts polled for bridge events, sorted
// by symbol for deterministic polling order.
func (c *Chain) WatchedTokens() []common.Address {
	symbols := c.WatchTokens
	if len(symbols) == 0 {
		for symbol := range c.Tokens {
			symbols = append(symbols, symbol)
		}
	}

	symbols = slices.Clone(symbols)
	slices.Sort(symbols)

	addresses := make([]common.Address, 0, len(symbols))
	for _, symbol := range symbols {
		addresses = append(addresses, common.HexToAddress(c.Tokens[symbol].Address))
	}

	return addresses
}

// Settings holds the environment-level knobs of the settlement pipeline and runner.
type Settings struct {
	ExecutorKey         string        // Hex private key used to sign settlement transactions
	AutoExecute         bool          // Execute settlements as soon as they are detected
	InitialLookback     uint64        // Blocks scanned behind the head on a chain's first poll
	MaxGas              uint64        // Gas ceiling used when estimation fails
	PollInterval        time.Duration // Interval between poll cycles
	WaitCap             time.Duration // Upper bound applied to wait nodes
	StuckAfter          time.Duration // Age after which an executing settlement is reported
	ReconcileInterval   time.Duration // Interval of the stuck settlement report
	ReceiptPollInterval time.Duration // Interval between receipt lookups
}

const (
	DefaultInitialLookback     = 1000
	DefaultMaxGas              = 3_000_000
	DefaultPollInterval        = 15 * time.Second
	DefaultWaitCap             = 5 * time.Second
	DefaultStuckAfter          = 10 * time.Minute
	DefaultReconcileInterval   = 5 * time.Minute
	DefaultReceiptPollInterval = 2 * time.Second
)

// DefaultSettings returns the settings used when nothing is configured.
func DefaultSettings() Settings {
	return Settings{
		InitialLookback:     DefaultInitialLookback,
		MaxGas:              DefaultMaxGas,
		PollInterval:        DefaultPollInterval,
		WaitCap:             DefaultWaitCap,
		StuckAfter:          DefaultStuckAfter,
		ReconcileInterval:   DefaultReconcileInterval,
		ReceiptPollInterval: DefaultReceiptPollInterval,
	}
}
