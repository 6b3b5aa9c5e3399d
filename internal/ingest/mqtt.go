// Package ingest bridges external telemetry into the core: an MQTT
// consumer writes entity values and publishes change events to a Redis
// stream; a stream consumer feeds those events to the realtime alert path.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"storeops-hvac/internal/config"
	"storeops-hvac/internal/repository"
)

// TelemetryMessage is the expected MQTT payload. A bare payload without
// JSON framing is treated as the raw value, with the entity id taken from
// the topic's last segment.
type TelemetryMessage struct {
	EntityID   string     `json:"entity_id"`
	Value      string     `json:"value"`
	ObservedAt *time.Time `json:"observed_at,omitempty"`
}

// MQTTBridge subscribes to the telemetry topic and lands readings in the
// entity-value table. Changed values are forwarded to the change stream.
type MQTTBridge struct {
	client   mqtt.Client
	cfg      *config.MQTTConfig
	entities repository.EntitiesRepository
	changes  *ChangePublisher
	logger   *zap.Logger
}

// NewMQTTBridge connects to the broker. A bridge with an empty broker URL
// is a configuration error; deployments without MQTT skip construction.
func NewMQTTBridge(cfg *config.MQTTConfig, entities repository.EntitiesRepository, changes *ChangePublisher, logger *zap.Logger) (*MQTTBridge, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("mqtt broker not configured")
	}

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

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	return &MQTTBridge{
		client:   client,
		cfg:      cfg,
		entities: entities,
		changes:  changes,
		logger:   logger,
	}, nil
}

// Start subscribes to the telemetry topic. Handler errors are logged and
// never interrupt the subscription.
func (b *MQTTBridge) Start(ctx context.Context) error {
	token := b.client.Subscribe(b.cfg.Topic, b.cfg.QoS, func(_ mqtt.Client, msg mqtt.Message) {
		if err := b.handle(ctx, msg.Topic(), msg.Payload()); err != nil {
			b.logger.Error("failed to handle telemetry message",
				zap.String("topic", msg.Topic()), zap.Error(err))
		}
	})
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %w", b.cfg.Topic, token.Error())
	}
	b.logger.Info("mqtt bridge subscribed", zap.String("topic", b.cfg.Topic))
	return nil
}

// Stop disconnects from the broker.
func (b *MQTTBridge) Stop() {
	b.client.Disconnect(250)
}

func (b *MQTTBridge) handle(ctx context.Context, topic string, payload []byte) error {
	msg, err := parseTelemetry(topic, payload)
	if err != nil {
		return err
	}

	seenAt := time.Now().UTC()
	if msg.ObservedAt != nil {
		seenAt = msg.ObservedAt.UTC()
	}

	existing, err := b.entities.GetEntity(ctx, msg.EntityID)
	if err != nil {
		return fmt.Errorf("failed to look up entity: %w", err)
	}
	if existing == nil {
		// Unregistered entities are dropped; registration is a data-model
		// action, not an ingest side effect.
		b.logger.Debug("dropping telemetry for unknown entity", zap.String("entity_id", msg.EntityID))
		return nil
	}

	changed := existing.LastValue == nil || *existing.LastValue != msg.Value

	if err := b.entities.UpsertEntityValue(ctx, msg.EntityID, msg.Value, seenAt); err != nil {
		return fmt.Errorf("failed to upsert entity value: %w", err)
	}

	if changed && b.changes != nil {
		if err := b.changes.Publish(ctx, msg.EntityID, msg.Value, seenAt); err != nil {
			b.logger.Error("failed to publish entity change",
				zap.String("entity_id", msg.EntityID), zap.Error(err))
		}
	}
	return nil
}

// parseTelemetry accepts either a JSON TelemetryMessage or a bare value
// payload addressed by topic.
func parseTelemetry(topic string, payload []byte) (*TelemetryMessage, error) {
	var msg TelemetryMessage
	if err := json.Unmarshal(payload, &msg); err == nil && msg.EntityID != "" {
		return &msg, nil
	}

	segments := strings.Split(topic, "/")
	entityID := segments[len(segments)-1]
	if entityID == "" {
		return nil, fmt.Errorf("cannot derive entity id from topic %q", topic)
	}
	return &TelemetryMessage{EntityID: entityID, Value: strings.TrimSpace(string(payload))}, nil
}
