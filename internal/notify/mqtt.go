package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/engineerpark/cdulog/internal/config"
	"github.com/engineerpark/cdulog/pkg/telemetry/correlation"
	"go.uber.org/zap"
)

const publishTimeout = 5 * time.Second

type mqttPublisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTPublisher sends status changes to <prefix>/units/<id>/status as
// retained messages so late subscribers see the latest status.
type MQTTPublisher struct {
	client mqttPublisher
	prefix string
	qos    byte
	log    *zap.Logger
}

func newMQTTPublisher(client mqttPublisher, cfg config.MQTTConfig, log *zap.Logger) *MQTTPublisher {
	prefix := cfg.TopicPrefix
	if prefix == "" {
		prefix = "cdulog"
	}
	qos := cfg.QoS
	if qos > 2 {
		qos = 1
	}
	return &MQTTPublisher{client: client, prefix: prefix, qos: qos, log: log}
}

func NewMQTTClient(cfg config.MQTTConfig, log *zap.Logger) mqtt.Client {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warn("mqtt connection lost", zap.Error(err))
	})
	opts.SetOnConnectHandler(func(mqtt.Client) {
		log.Info("mqtt connected", zap.String("broker", cfg.Broker))
	})
	return mqtt.NewClient(opts)
}

func (p *MQTTPublisher) Topic(unitID string) string {
	return fmt.Sprintf("%s/units/%s/status", p.prefix, unitID)
}

func (p *MQTTPublisher) PublishStatusChange(ctx context.Context, event StatusChange) error {
	if event.Metadata.CorrelationID == "" {
		event.Metadata = correlation.MetadataFromContext(ctx)
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	topic := p.Topic(event.UnitID)
	token := p.client.Publish(topic, p.qos, true, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish to %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", topic, err)
	}
	p.log.Debug("status change published",
		zap.String("topic", topic),
		zap.String("from", event.From),
		zap.String("to", event.To),
	)
	return nil
}
