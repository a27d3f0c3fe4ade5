package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/TilepMony-Project/engine/pkg/actions"
	"github.com/TilepMony-Project/engine/pkg/config"
	"github.com/TilepMony-Project/engine/pkg/log"
	"github.com/TilepMony-Project/engine/pkg/models"
	"github.com/TilepMony-Project/engine/pkg/persistence/memory"
	"github.com/TilepMony-Project/engine/pkg/runner"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v3"
)

func CompileCommand() *cli.Command {
	return &cli.Command{
		Name:      "compile",
		Aliases:   []string{"c"},
		Usage:     "Compile a workflow graph into controller calldata",
		ArgsUsage: "<graph.json>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "chains-file",
				Usage:    "Path to the YAML chain table",
				Required: true,
				Sources:  cli.EnvVars("CHAINS_FILE"),
			},
			&cli.Uint64Flag{
				Name:     "chain-id",
				Usage:    "Source chain the workflow starts on",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "initial-token",
				Usage: "Symbol of the token handed to the controller",
			},
			&cli.StringFlag{
				Name:  "initial-amount",
				Usage: "Amount of the initial token in whole units",
				Value: "0",
			},
		},
		Action: func(_ context.Context, command *cli.Command) error {
			amount, err := decimal.NewFromString(command.String("initial-amount"))
			if err != nil {
				return fmt.Errorf("invalid initial amount: %w", err)
			}

			return compileGraph(command.Root().Writer, command.String("chains-file"),
				command.Uint64("chain-id"), command.Args().First(),
				command.String("initial-token"), amount)
		},
	}
}

func SimulateCommand() *cli.Command {
	return &cli.Command{
		Name:      "simulate",
		Aliases:   []string{"s"},
		Usage:     "Run a workflow graph against an in-memory ledger",
		ArgsUsage: "<graph.json>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "workflow-id",
				Value: "local",
			},
			&cli.StringFlag{
				Name:  "user-id",
				Value: "local",
			},
			&cli.DurationFlag{
				Name:  "wait-cap",
				Usage: "Upper bound applied to wait nodes",
				Value: config.DefaultWaitCap,
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			return simulate(ctx, command.Root().Writer, command.Args().First(),
				command.String("workflow-id"), command.String("user-id"), command.Duration("wait-cap"))
		},
	}
}

func DecodeCommand() *cli.Command {
	return &cli.Command{
		Name:      "decode",
		Aliases:   []string{"d"},
		Usage:     "Decode hex workflow data into its actions",
		ArgsUsage: "<0x...>",
		Action: func(_ context.Context, command *cli.Command) error {
			return decode(command.Root().Writer, command.Args().First())
		},
	}
}

func readGraph(path string) (models.WorkflowGraph, error) {
	var workflow models.WorkflowGraph

	if path == "" {
		return workflow, fmt.Errorf("a graph file is required")
	}

	data, err := os.ReadFile(path) // #nosec G304 -- path is given by the operator
	if err != nil {
		return workflow, fmt.Errorf("failed to read graph %s: %w", path, err)
	}

	if err := json.Unmarshal(data, &workflow); err != nil {
		return workflow, fmt.Errorf("failed to parse graph %s: %w", path, err)
	}

	return workflow, nil
}

func writeJSON(w io.Writer, value any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")

	return encoder.Encode(value)
}

func compileGraph(w io.Writer, chainsFile string, chainID uint64, graphFile, initialToken string, initialAmount decimal.Decimal) error {
	chains, err := config.LoadChains(chainsFile)
	if err != nil {
		return err
	}

	workflow, err := readGraph(graphFile)
	if err != nil {
		return err
	}

	compilation, err := actions.NewCompiler(chains).CompileGraph(chainID, workflow, initialToken, initialAmount)
	if err != nil {
		return err
	}

	return writeJSON(w, compilation)
}

type simulation struct {
	Execution *models.Execution          `json:"execution"`
	Fiat      map[string]decimal.Decimal `json:"fiat"`
	Tokens    map[string]decimal.Decimal `json:"tokens"`
}

// simulate prints the finished execution even when the run fails, so the
// per-node log shows where it stopped.
func simulate(ctx context.Context, w io.Writer, graphFile, workflowID, userID string, waitCap time.Duration) error {
	workflow, err := readGraph(graphFile)
	if err != nil {
		return err
	}

	r := runner.New(memory.NewPersistence(), log.WithModule("runner"), runner.WithWaitCap(waitCap))

	execution, ledger, runErr := r.Run(ctx, workflowID, userID, workflow)
	if execution == nil {
		return runErr
	}

	result := simulation{Execution: execution}
	if ledger != nil {
		result.Fiat, result.Tokens = ledger.Snapshot()
	}

	if err := writeJSON(w, result); err != nil {
		return err
	}

	if runErr == nil && execution.Status != models.ExecutionStatusFinished {
		return fmt.Errorf("workflow %s at node %s", execution.Status, execution.CurrentNodeID)
	}

	return runErr
}

type decodedAction struct {
	actions.Action

	Payload any `json:"payload"`
}

func decode(w io.Writer, hexData string) error {
	data, err := hexutil.Decode(hexData)
	if err != nil {
		return fmt.Errorf("invalid hex workflow data: %w", err)
	}

	list, err := actions.DecodeWorkflowData(data)
	if err != nil {
		return err
	}

	decoded := make([]decodedAction, 0, len(list))
	for _, action := range list {
		payload, err := actions.DecodePayload(action)
		if err != nil {
			return err
		}

		decoded = append(decoded, decodedAction{Action: action, Payload: payload})
	}

	return writeJSON(w, decoded)
}
