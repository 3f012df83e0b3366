package metrics

import (
	"context"
	"time"
)

// Collector receives one snapshot per control cycle
type Collector interface {
	Record(ctx context.Context, snapshot *Snapshot) error
	Close() error
}

// Repository defines the interface for metrics data storage
type Repository interface {
	Record(snapshot *Snapshot) error
	Close() error
}

// Snapshot describes the outcome of one control cycle
type Snapshot struct {
	Timestamp   time.Time
	RunID       string
	Sensor      string
	Temperature TempMetrics
	FanSpeed    FanMetrics
	SystemState StateMetrics
	Failure     FailureMetrics
}

// Domain value objects
type TempMetrics struct {
	Value int
	Unit  string
	Valid bool
}

type FanMetrics struct {
	Previous int
	Target   int
	Changed  bool
}

type StateMetrics struct {
	Monitor bool
}

// FailureMetrics is empty for successful cycles
type FailureMetrics struct {
	Code    string
	Message string
}

// Failed reports whether the cycle ended in an error
func (s *Snapshot) Failed() bool {
	return s.Failure.Code != "" || s.Failure.Message != ""
}
