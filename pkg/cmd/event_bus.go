package cmd

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/dukex/processflow/pkg/channels/gochannel"
	"github.com/dukex/processflow/pkg/channels/kafka"
)

// NewEventBus creates the publisher/subscriber pair that carries collaboration events
// between API instances. "gochannel" keeps everything in process.
func NewEventBus(provider string, kafkaBrokers string, logger *slog.Logger) (message.Publisher, message.Subscriber, error) {
	wmLogger := watermill.NewSlogLogger(logger)

	switch provider {
	case "kafka":
		pub, sub, err := kafka.CreateChannel(wmLogger, splitBrokers(kafkaBrokers), "processflow")
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create Kafka pub/sub: %w", err)
		}

		return pub, sub, nil
	case "gochannel", "":
		pub, sub := gochannel.CreateChannel(wmLogger)

		return pub, sub, nil
	default:
		return nil, nil, fmt.Errorf("unsupported event bus provider: %s", provider)
	}
}

func splitBrokers(brokers string) []string {
	var result []string

	for broker := range strings.SplitSeq(brokers, ",") {
		broker = strings.TrimSpace(broker)
		if broker != "" {
			result = append(result, broker)
		}
	}

	return result
}
