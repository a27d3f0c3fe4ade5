package cmd

import (
	"context"
	"crypto/ecdsa"
	"log/slog"

	"github.com/TilepMony-Project/engine/pkg/bridge"
	"github.com/TilepMony-Project/engine/pkg/chain"
	"github.com/TilepMony-Project/engine/pkg/config"
	"github.com/TilepMony-Project/engine/pkg/settlement"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Chains holds one RPC connection per configured chain.
type Chains struct {
	Targets []bridge.Target
	Clients map[uint64]settlement.Chain

	conns []*ethclient.Client
}

// DialChains connects to every chain of the table. Settlement clients sign
// with the executor key when one is set; without it they can still watch
// and simulate but Send fails.
func DialChains(ctx context.Context, logger *slog.Logger, chains *config.Chains, settings config.Settings) (*Chains, error) {
	var key *ecdsa.PrivateKey

	if settings.ExecutorKey != "" {
		parsed, err := chain.ParseKey(settings.ExecutorKey)
		if err != nil {
			return nil, err
		}

		key = parsed
	} else {
		logger.WarnContext(ctx, "No executor key configured, settlements cannot be submitted")
	}

	result := &Chains{Clients: make(map[uint64]settlement.Chain, len(chains.Chains))}

	for i := range chains.Chains {
		cfg := &chains.Chains[i]

		opts := []chain.Option{chain.WithReceiptInterval(settings.ReceiptPollInterval)}
		if key != nil {
			opts = append(opts, chain.WithSigner(key))
		}

		client, conn, err := chain.Dial(ctx, cfg.RPCURL, cfg.ID, logger, opts...)
		if err != nil {
			result.Close()

			return nil, err
		}

		logger.InfoContext(ctx, "Connected to chain", "chain_id", cfg.ID, "name", cfg.Name)

		result.conns = append(result.conns, conn)
		result.Clients[client.ChainID()] = client
		result.Targets = append(result.Targets, bridge.Target{
			ChainID: cfg.ID,
			Source:  client,
			Tokens:  cfg.WatchedTokens(),
		})
	}

	return result, nil
}

func (c *Chains) Close() {
	for _, conn := range c.conns {
		conn.Close()
	}
}
