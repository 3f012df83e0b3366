package telemetry

import (
	"context"
	"encoding/json"
	"time"

	"codeberg.org/mutker/ipmifanctl/internal/errors"
	"codeberg.org/mutker/ipmifanctl/internal/logger"
	"codeberg.org/mutker/ipmifanctl/internal/metrics"
	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTPublisher publishes every cycle snapshot as JSON to a broker topic
type MQTTPublisher struct {
	client  mqttClient
	topic   string
	timeout time.Duration
	log     logger.Logger
}

func NewMQTTPublisher(cfg MQTTConfig, log logger.Logger) (*MQTTPublisher, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = defaultClientID
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(clientID).
		SetConnectTimeout(connectTimeout).
		SetAutoReconnect(true).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.Warn().Err(err).Msg("MQTT connection lost")
		})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, errFactory.Wrap(ErrConnect, token.Error()).WithData(cfg.Broker)
	}

	log.Info().
		Str("broker", cfg.Broker).
		Str("topic", cfg.Topic).
		Msg("MQTT publisher connected")

	return newMQTTPublisher(client, cfg.Topic, log), nil
}

func newMQTTPublisher(client mqttClient, topic string, log logger.Logger) *MQTTPublisher {
	return &MQTTPublisher{
		client:  client,
		topic:   topic,
		timeout: publishTimeout,
		log:     log,
	}
}

// Record publishes snapshot and waits for the broker at most p.timeout.
func (p *MQTTPublisher) Record(ctx context.Context, snapshot *metrics.Snapshot) error {
	errFactory := errors.New()

	if snapshot == nil {
		return errFactory.New(metrics.ErrInvalidMetrics)
	}

	data, err := json.Marshal(newPayload(snapshot))
	if err != nil {
		return errFactory.Wrap(ErrEncode, err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	token := p.client.Publish(p.topic, 0, false, data)

	select {
	case <-token.Done():
	case <-ctx.Done():
		return errFactory.Wrap(errors.ErrTimeout, ctx.Err()).WithData(p.topic)
	}

	if err := token.Error(); err != nil {
		return errFactory.Wrap(ErrPublish, err).WithData(p.topic)
	}

	p.log.Debug().Str("topic", p.topic).Int("bytes", len(data)).Msg("Cycle published")

	return nil
}

func (p *MQTTPublisher) Close() error {
	p.client.Disconnect(disconnectQuiesce)
	return nil
}
