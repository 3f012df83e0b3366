package telemetry

import (
	"time"

	"codeberg.org/mutker/ipmifanctl/internal/errors"
)

const (
	defaultClientID   = "ipmifanctl"
	connectTimeout    = 10 * time.Second
	publishTimeout    = 5 * time.Second
	disconnectQuiesce = 250
)

type MQTTConfig struct {
	Broker   string
	ClientID string
	Topic    string
}

func (c MQTTConfig) Enabled() bool {
	return c.Broker != ""
}

func (c MQTTConfig) Validate() error {
	errFactory := errors.New()
	if c.Enabled() && c.Topic == "" {
		return errFactory.WithData(ErrInvalidConfig, "mqtt topic is required")
	}
	return nil
}

type TextfileConfig struct {
	Path string
}

func (c TextfileConfig) Enabled() bool {
	return c.Path != ""
}
