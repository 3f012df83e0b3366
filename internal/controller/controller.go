// Package controller runs the fan control loop: poll the chassis sensors,
// decide a duty cycle and drive the fans when it changes.
package controller

import (
	"context"
	"time"

	"codeberg.org/mutker/ipmifanctl/internal/errors"
	"codeberg.org/mutker/ipmifanctl/internal/ipmi"
	"codeberg.org/mutker/ipmifanctl/internal/logger"
	"codeberg.org/mutker/ipmifanctl/internal/metrics"
	"codeberg.org/mutker/ipmifanctl/internal/policy"
	"codeberg.org/mutker/ipmifanctl/internal/sensor"
	"github.com/google/uuid"
)

// State is the only state carried between iterations.
type State struct {
	ActivePercent int
}

type Config struct {
	Policy   policy.Config
	Sensor   string
	Interval time.Duration
	Monitor  bool
}

type Controller struct {
	channel   ipmi.Channel
	cfg       Config
	collector metrics.Collector
	log       logger.Logger
	runID     string
	now       func() time.Time
	state     State
}

// Option configures a Controller
type Option func(*Controller)

// WithCollector sets the destination of per-cycle snapshots
func WithCollector(c metrics.Collector) Option {
	return func(ctrl *Controller) {
		ctrl.collector = c
	}
}

// WithClock replaces time.Now, mainly for tests
func WithClock(now func() time.Time) Option {
	return func(ctrl *Controller) {
		ctrl.now = now
	}
}

func New(channel ipmi.Channel, cfg Config, log logger.Logger, opts ...Option) (*Controller, error) {
	errFactory := errors.New()

	if err := cfg.Policy.Validate(); err != nil {
		return nil, err
	}

	if cfg.Interval <= 0 {
		return nil, errFactory.WithData(errors.ErrInvalidInterval, cfg.Interval.String())
	}

	if cfg.Sensor == "" {
		cfg.Sensor = sensor.CPUTemperature
	}

	runID := uuid.NewString()
	c := &Controller{
		channel:   channel,
		cfg:       cfg,
		collector: metrics.Noop(),
		log:       log.With("run_id", runID),
		runID:     runID,
		now:       time.Now,
		state:     State{ActivePercent: cfg.Policy.DefaultPercent},
	}
	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// State returns a copy of the current fan state
func (c *Controller) State() State {
	return c.state
}

// RunID identifies this controller instance in logs and snapshots
func (c *Controller) RunID() string {
	return c.runID
}

// Start commands every fan to the default duty cycle, independent of any
// reading, so the chassis begins from a known state.
func (c *Controller) Start(ctx context.Context) error {
	c.state.ActivePercent = c.cfg.Policy.DefaultPercent

	c.log.Info().
		Int("default_percent", c.cfg.Policy.DefaultPercent).
		Int("step", c.cfg.Policy.Step).
		Int("max_percent", c.cfg.Policy.MaxPercent).
		Int("threshold", c.cfg.Policy.Threshold).
		Str("sensor", c.cfg.Sensor).
		Dur("interval", c.cfg.Interval).
		Bool("monitor", c.cfg.Monitor).
		Msg("Starting IPMI fan controller")

	if c.cfg.Monitor {
		c.log.Info().Msg("Monitor mode activated. Fans will not be changed")
		return nil
	}

	c.log.Info().Msgf("Setting starting fan percent to %d%%", c.state.ActivePercent)

	return ipmi.SetAllFans(ctx, c.channel, c.state.ActivePercent)
}

// Run calls Start and then, until ctx is done, sleeps a full interval before
// every Step. A slow Step delays the next one instead of shortening the pause.
// Step failures are logged and never end the loop.
func (c *Controller) Run(ctx context.Context) error {
	if err := c.Start(ctx); err != nil {
		return err
	}

	timer := time.NewTimer(c.cfg.Interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}

		if err := c.Step(ctx); err != nil {
			c.log.ErrorWithCode(err).
				Int("active_percent", c.state.ActivePercent).
				Msg("Control cycle failed")
		}

		timer.Reset(c.cfg.Interval)
	}
}

// Step runs one iteration: read, decide and, when the target changes,
// drive every fan channel.
//
// ActivePercent follows the decision, not the hardware: if a fan channel
// fails the remaining channels are skipped, ActivePercent keeps the new
// target and no command is reissued until the target changes again.
func (c *Controller) Step(ctx context.Context) error {
	snapshot := &metrics.Snapshot{
		Timestamp:   c.now(),
		RunID:       c.runID,
		Sensor:      c.cfg.Sensor,
		FanSpeed:    metrics.FanMetrics{Previous: c.state.ActivePercent, Target: c.state.ActivePercent},
		SystemState: metrics.StateMetrics{Monitor: c.cfg.Monitor},
	}

	err := c.step(ctx, snapshot)
	if err != nil {
		snapshot.Failure = metrics.FailureMetrics{
			Code:    string(errors.CodeOf(err)),
			Message: err.Error(),
		}
	}

	if recErr := c.collector.Record(ctx, snapshot); recErr != nil {
		c.log.Warn().Err(recErr).Msg("Failed to record cycle")
	}

	return err
}

func (c *Controller) step(ctx context.Context, snapshot *metrics.Snapshot) error {
	report, err := c.channel.FetchSensorReport(ctx)
	if err != nil {
		return err
	}

	readings, err := sensor.ParseReport(report)
	if err != nil {
		return err
	}

	reading, err := sensor.Find(readings, c.cfg.Sensor)
	if err != nil {
		return err
	}

	temperature, err := reading.Temperature()
	if err != nil {
		return err
	}
	snapshot.Temperature = metrics.TempMetrics{Value: temperature, Unit: reading.Unit, Valid: true}

	current := c.state.ActivePercent
	target := policy.Decide(current, temperature, c.cfg.Policy)

	if target == current {
		c.log.Info().Msgf("CPU temp is %d %s.", temperature, reading.Unit)
		return nil
	}

	event := c.log.Info()
	if target > current {
		event = c.log.Warn()
	}
	event.
		Int("temperature", temperature).
		Int("previous_percent", current).
		Int("target_percent", target).
		Msgf("CPU temp is %d %s. Setting fan percent to %d%%.", temperature, reading.Unit, target)

	c.state.ActivePercent = target
	snapshot.FanSpeed.Target = target
	snapshot.FanSpeed.Changed = true

	if c.cfg.Monitor {
		return nil
	}

	return ipmi.SetAllFans(ctx, c.channel, target)
}
