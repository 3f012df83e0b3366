package ipmi

import (
	"context"
	"time"
)

// Channel is the out-of-band management channel of a single chassis.
type Channel interface {
	// FetchSensorReport returns the raw text of the chassis sensor report
	FetchSensorReport(ctx context.Context, opts ...CallOption) (string, error)

	// SetFanPercent commands one physical fan channel to a duty cycle
	SetFanPercent(ctx context.Context, fan, percent int, opts ...CallOption) error
}

// FanSetter is the part of a Channel needed to drive the fans.
type FanSetter interface {
	SetFanPercent(ctx context.Context, fan, percent int, opts ...CallOption) error
}

// Runner executes an external command. env entries are appended to the
// current process environment.
type Runner interface {
	Run(ctx context.Context, env []string, name string, args ...string) (stdout, stderr []byte, err error)
}

// CallOption adjusts a single channel call
type CallOption func(*callOptions)

type callOptions struct {
	creds   Credentials
	timeout time.Duration
}

// WithCredentials overrides the configured credentials for one call. Empty
// fields fall back to the configured values.
func WithCredentials(creds Credentials) CallOption {
	return func(o *callOptions) {
		o.creds = creds
	}
}

// WithTimeout overrides the configured command timeout for one call
func WithTimeout(timeout time.Duration) CallOption {
	return func(o *callOptions) {
		o.timeout = timeout
	}
}

// ClientOption configures a Client
type ClientOption func(*Client)

// WithRunner replaces the command runner, mainly for tests
func WithRunner(r Runner) ClientOption {
	return func(c *Client) {
		c.runner = r
	}
}
