package cmd

import (
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/TilepMony-Project/engine/pkg/channels/gochannel"
	"github.com/TilepMony-Project/engine/pkg/channels/kafka"
	"github.com/TilepMony-Project/engine/pkg/eventbus"
)

// NewEventBus creates the event bus of the given provider. brokers is only
// read by kafka.
func NewEventBus(provider, brokers string, logger *slog.Logger) (eventbus.EventBus, error) {
	wmLogger := watermill.NewSlogLogger(logger)

	switch provider {
	case "", "gochannel":
		pub, sub, err := gochannel.CreateChannel(wmLogger)
		if err != nil {
			return nil, fmt.Errorf("failed to create in-process pub/sub: %w", err)
		}

		return eventbus.NewWatermillEventBus(pub, sub, logger), nil
	case "kafka":
		pub, sub, err := kafka.CreateChannel(wmLogger, kafka.ParseBrokers(brokers), "tilepmony")
		if err != nil {
			return nil, fmt.Errorf("failed to create Kafka pub/sub: %w", err)
		}

		return eventbus.NewWatermillEventBus(pub, sub, logger), nil
	default:
		return nil, fmt.Errorf("unsupported event bus provider %q", provider)
	}
}
