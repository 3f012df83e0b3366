// Package ipmi drives a chassis BMC through ipmitool.
package ipmi

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"codeberg.org/mutker/ipmifanctl/internal/errors"
	"codeberg.org/mutker/ipmifanctl/internal/logger"
)

const (
	MinFan = 2
	MaxFan = 6

	DefaultInterface     = "lanplus"
	DefaultBinary        = "ipmitool"
	DefaultSensorTimeout = 120 * time.Second
	DefaultFanTimeout    = 30 * time.Second

	passwordEnv = "IPMI_PASSWORD"

	// OEM raw command setting the duty cycle of one fan zone
	rawNetFn       = "0x3c"
	rawSetFanSpeed = "0x14"
)

type Config struct {
	Credentials   Credentials
	Interface     string
	Binary        string
	SensorTimeout time.Duration
	FanTimeout    time.Duration
}

var _ Channel = (*Client)(nil)

type Client struct {
	cfg    Config
	runner Runner
	log    logger.Logger
}

// FanChannels returns the physical fan channels, in the order they are
// driven.
func FanChannels() []int {
	fans := make([]int, 0, MaxFan-MinFan+1)
	for fan := MinFan; fan <= MaxFan; fan++ {
		fans = append(fans, fan)
	}

	return fans
}

func NewClient(cfg Config, log logger.Logger, opts ...ClientOption) *Client {
	if cfg.Interface == "" {
		cfg.Interface = DefaultInterface
	}
	if cfg.Binary == "" {
		cfg.Binary = DefaultBinary
	}
	if cfg.SensorTimeout <= 0 {
		cfg.SensorTimeout = DefaultSensorTimeout
	}
	if cfg.FanTimeout <= 0 {
		cfg.FanTimeout = DefaultFanTimeout
	}

	c := &Client{
		cfg:    cfg,
		runner: execRunner{},
		log:    log,
	}
	for _, opt := range opts {
		opt(c)
	}

	return c
}

func (c *Client) FetchSensorReport(ctx context.Context, opts ...CallOption) (string, error) {
	stdout, err := c.run(ctx, c.cfg.SensorTimeout, opts, "sensor")
	if err != nil {
		return "", err
	}

	return strings.ToValidUTF8(string(stdout), "\uFFFD"), nil
}

func (c *Client) SetFanPercent(ctx context.Context, fan, percent int, opts ...CallOption) error {
	errFactory := errors.New()

	if fan < MinFan || fan > MaxFan {
		return errFactory.WithData(errors.ErrInvalidArgument,
			fmt.Sprintf("fan must be between %d and %d, got %d", MinFan, MaxFan, fan))
	}

	if percent < 0 || percent >= 100 {
		return errFactory.WithData(errors.ErrInvalidArgument,
			fmt.Sprintf("percent must be between 0 and 99, got %d", percent))
	}

	_, err := c.run(ctx, c.cfg.FanTimeout, opts,
		"raw", rawNetFn, rawSetFanSpeed, strconv.Itoa(fan), strconv.Itoa(percent))
	if err != nil {
		return err
	}

	c.log.Debug().Int("fan", fan).Int("percent", percent).Msg("Fan duty cycle set")

	return nil
}

// SetAllFans commands every physical fan channel to percent, in order.
// The first failure aborts the remaining channels.
func SetAllFans(ctx context.Context, s FanSetter, percent int, opts ...CallOption) error {
	errFactory := errors.New()

	for _, fan := range FanChannels() {
		if err := s.SetFanPercent(ctx, fan, percent, opts...); err != nil {
			return errFactory.Wrap(errors.ErrSetFanSpeed, err).WithData(fmt.Sprintf("fan %d", fan))
		}
	}

	return nil
}

func (c *Client) run(ctx context.Context, timeout time.Duration, opts []CallOption, command ...string) ([]byte, error) {
	errFactory := errors.New()

	o := callOptions{timeout: timeout}
	for _, opt := range opts {
		opt(&o)
	}

	creds, err := o.creds.Resolve(c.cfg.Credentials)
	if err != nil {
		return nil, err
	}

	args := append([]string{
		"-I", c.cfg.Interface,
		"-H", creds.Host,
		"-U", creds.Username,
		"-E",
	}, command...)

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	start := time.Now()
	stdout, stderr, err := c.runner.Run(ctx, []string{passwordEnv + "=" + creds.Password}, c.cfg.Binary, args...)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, errFactory.Wrap(errors.ErrChannel, ctx.Err()).
				WithMessage(fmt.Sprintf("%s %s timed out after %s", c.cfg.Binary, command[0], o.timeout))
		}

		detail := strings.TrimSpace(string(stderr))
		if detail == "" {
			detail = command[0]
		}

		return nil, errFactory.Wrap(errors.ErrChannel, err).WithData(detail)
	}

	c.log.Debug().
		Str("host", creds.Host).
		Str("command", command[0]).
		Dur("elapsed", time.Since(start)).
		Msg("ipmitool command completed")

	return stdout, nil
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, env []string, name string, args ...string) ([]byte, []byte, error) {
	var stdout, stderr bytes.Buffer

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = append(os.Environ(), env...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	return stdout.Bytes(), stderr.Bytes(), err
}
