package notify

import (
	"context"
	"fmt"

	"github.com/engineerpark/cdulog/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("notify",
	fx.Provide(New),
)

// New returns an MQTT publisher when a broker is configured and Noop
// otherwise. The client connects on start and disconnects on stop.
func New(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) Publisher {
	log = log.Named("notify")
	if !cfg.MQTT.Enabled() {
		log.Info("mqtt broker not configured; status notifications disabled")
		return Noop{}
	}

	client := NewMQTTClient(cfg.MQTT, log)
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			token := client.Connect()
			select {
			case <-token.Done():
			case <-ctx.Done():
				return ctx.Err()
			}
			if err := token.Error(); err != nil {
				return fmt.Errorf("failed to connect to MQTT broker: %w", err)
			}
			return nil
		},
		OnStop: func(context.Context) error {
			client.Disconnect(250)
			return nil
		},
	})
	return newMQTTPublisher(client, cfg.MQTT, log)
}
