package telemetry

import (
	"time"

	"codeberg.org/mutker/ipmifanctl/internal/metrics"
	mqtt "github.com/eclipse/paho.mqtt.golang"
)

var (
	_ metrics.Collector = (*MQTTPublisher)(nil)
	_ metrics.Collector = (*TextfileExporter)(nil)
)

// mqttClient is the part of mqtt.Client used by the publisher
type mqttClient interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// Payload is the wire form of a cycle snapshot
type Payload struct {
	Timestamp       time.Time `json:"timestamp"`
	RunID           string    `json:"run_id"`
	Sensor          string    `json:"sensor"`
	Temperature     *int      `json:"temperature,omitempty"`
	Unit            string    `json:"unit,omitempty"`
	PreviousPercent int       `json:"previous_percent"`
	TargetPercent   int       `json:"target_percent"`
	Changed         bool      `json:"changed"`
	Monitor         bool      `json:"monitor"`
	ErrorCode       string    `json:"error_code,omitempty"`
	Error           string    `json:"error,omitempty"`
}

func newPayload(s *metrics.Snapshot) Payload {
	p := Payload{
		Timestamp:       s.Timestamp.UTC(),
		RunID:           s.RunID,
		Sensor:          s.Sensor,
		PreviousPercent: s.FanSpeed.Previous,
		TargetPercent:   s.FanSpeed.Target,
		Changed:         s.FanSpeed.Changed,
		Monitor:         s.SystemState.Monitor,
		ErrorCode:       s.Failure.Code,
		Error:           s.Failure.Message,
	}

	if s.Temperature.Valid {
		temp := s.Temperature.Value
		p.Temperature = &temp
		p.Unit = s.Temperature.Unit
	}

	return p
}
