package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/TilepMony-Project/engine/pkg/config"
	"github.com/TilepMony-Project/engine/pkg/log"
	cli "github.com/urfave/cli/v3"
)

const defaultPort = 8080

func main() {
	cmd := &cli.Command{
		Name:                  "tilepmony-api",
		Usage:                 "Run workflows and settle cross-chain bridge messages",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Database connection URL (memory://, postgres://, redis://)",
				Value:   "memory://",
				Sources: cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:     "chains-file",
				Usage:    "Path to the YAML chain table",
				Required: true,
				Sources:  cli.EnvVars("CHAINS_FILE"),
			},
			&cli.StringFlag{
				Name:    "executor-key",
				Usage:   "Hex private key used to sign settlement transactions",
				Sources: cli.EnvVars("EXECUTOR_PRIVATE_KEY"),
			},
			&cli.BoolFlag{
				Name:    "auto-execute",
				Usage:   "Execute settlements as soon as they are detected",
				Sources: cli.EnvVars("AUTO_EXECUTE"),
			},
			&cli.Uint64Flag{
				Name:    "initial-lookback",
				Usage:   "Blocks scanned behind the head on a chain's first poll",
				Value:   config.DefaultInitialLookback,
				Sources: cli.EnvVars("INITIAL_LOOKBACK"),
			},
			&cli.Uint64Flag{
				Name:    "max-gas",
				Usage:   "Gas ceiling used when estimation fails",
				Value:   config.DefaultMaxGas,
				Sources: cli.EnvVars("MAX_GAS"),
			},
			&cli.DurationFlag{
				Name:    "poll-interval",
				Usage:   "Interval between bridge poll cycles",
				Value:   config.DefaultPollInterval,
				Sources: cli.EnvVars("POLL_INTERVAL"),
			},
			&cli.DurationFlag{
				Name:    "wait-cap",
				Usage:   "Upper bound applied to wait nodes",
				Value:   config.DefaultWaitCap,
				Sources: cli.EnvVars("WAIT_CAP"),
			},
			&cli.DurationFlag{
				Name:    "stuck-after",
				Usage:   "Age after which an executing settlement is reported as stuck",
				Value:   config.DefaultStuckAfter,
				Sources: cli.EnvVars("STUCK_AFTER"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (gochannel, kafka)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "kafka-brokers",
				Usage:   "Comma separated Kafka brokers",
				Value:   "localhost:9092",
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "Log format (text, json)",
				Value:   "text",
				Sources: cli.EnvVars("LOG_FORMAT"),
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Export traces over OTLP/HTTP",
				Sources: cli.EnvVars("TRACING_ENABLED"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"), command.String("log-format"))

			return run(ctx, options{
				Port:        command.Int("port"),
				DatabaseURL: command.String("database-url"),
				ChainsFile:  command.String("chains-file"),
				EventBus:    command.String("event-bus"),
				Brokers:     command.String("kafka-brokers"),
				Tracing:     command.Bool("tracing"),
				Settings:    settingsFrom(command),
			})
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.Run(ctx, os.Args); err != nil {
		log.WithModule("api").Error("Engine stopped", "error", err)
		os.Exit(1)
	}
}

func settingsFrom(command *cli.Command) config.Settings {
	settings := config.DefaultSettings()
	settings.ExecutorKey = command.String("executor-key")
	settings.AutoExecute = command.Bool("auto-execute")
	settings.InitialLookback = command.Uint64("initial-lookback")
	settings.MaxGas = command.Uint64("max-gas")
	settings.PollInterval = command.Duration("poll-interval")
	settings.WaitCap = command.Duration("wait-cap")
	settings.StuckAfter = command.Duration("stuck-after")

	return settings
}
