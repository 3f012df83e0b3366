// Package policy maps a temperature reading to a fan duty cycle using a
// step-up/reset-down rule.
package policy

import (
	"fmt"

	"codeberg.org/mutker/ipmifanctl/internal/errors"
)

// Step is the duty cycle increase applied per above-threshold reading.
const Step = 5

type Config struct {
	DefaultPercent int
	MaxPercent     int
	Step           int
	Threshold      int
}

func (c Config) Validate() error {
	errFactory := errors.New()

	if c.Step <= 0 {
		return errFactory.WithData(errors.ErrInvalidConfig, fmt.Sprintf("step must be positive, got %d", c.Step))
	}

	if c.DefaultPercent > c.MaxPercent {
		return errFactory.WithData(errors.ErrInvalidConfig,
			fmt.Sprintf("default percent %d exceeds max percent %d", c.DefaultPercent, c.MaxPercent))
	}

	return nil
}

// Decide returns the duty cycle to command given the current one and a
// temperature reading. The result is always within
// [DefaultPercent, MaxPercent].
//
// The step-up branch is checked first and must keep priority over the
// reset branch if the two conditions are ever made non-exclusive.
func Decide(current, temperature int, cfg Config) int {
	switch {
	case temperature > cfg.Threshold && current < cfg.MaxPercent:
		return clamp(current+cfg.Step, cfg.DefaultPercent, cfg.MaxPercent)
	case temperature < cfg.Threshold && current > cfg.DefaultPercent:
		return cfg.DefaultPercent
	default:
		return clamp(current, cfg.DefaultPercent, cfg.MaxPercent)
	}
}

func clamp(value, minValue, maxValue int) int {
	if value < minValue {
		return minValue
	}

	if value > maxValue {
		return maxValue
	}

	return value
}
