package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"codeberg.org/mutker/ipmifanctl/internal/errors"
	"codeberg.org/mutker/ipmifanctl/internal/ipmi"
	"codeberg.org/mutker/ipmifanctl/internal/policy"
	"codeberg.org/mutker/ipmifanctl/internal/sensor"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultInterval       = 60
	DefaultFanPercent     = 10
	DefaultMaxPercent     = 50
	DefaultThreshold      = 65
	DefaultLogLevel       = string(LogLevelInfo)
	DefaultMetricsDBPath  = "/var/lib/ipmifanctl/metrics.db"
	DefaultMQTTClientID   = "ipmifanctl"
	DefaultMQTTTopic      = "ipmifanctl/cycle"
	DefaultEnvPrefix      = "IPMIFANCTL"
	DefaultConfigName     = "ipmifanctl"
	DefaultConfigDir      = "/etc/ipmifanctl"
	defaultBatchSize      = 10
	defaultBatchTimeout   = 300
	defaultSensorTimeout  = int(ipmi.DefaultSensorTimeout / time.Second)
	defaultFanTimeout     = int(ipmi.DefaultFanTimeout / time.Second)
	configPathEnvVariable = "_CONFIG"
)

type Config struct {
	Interval       int            `mapstructure:"interval"`
	DefaultPercent int            `mapstructure:"default_percent"`
	MaxPercent     int            `mapstructure:"max_percent"`
	Threshold      int            `mapstructure:"threshold"`
	Sensor         string         `mapstructure:"sensor"`
	Monitor        bool           `mapstructure:"monitor"`
	LogLevel       string         `mapstructure:"log_level"`
	IPMI           IPMIConfig     `mapstructure:"ipmi"`
	Metrics        MetricsConfig  `mapstructure:"metrics"`
	MQTT           MQTTConfig     `mapstructure:"mqtt"`
	Textfile       TextfileConfig `mapstructure:"textfile"`
}

type IPMIConfig struct {
	Host          string `mapstructure:"host"`
	Username      string `mapstructure:"username"`
	Password      string `mapstructure:"password"`
	Interface     string `mapstructure:"interface"`
	Binary        string `mapstructure:"binary"`
	SensorTimeout int    `mapstructure:"sensor_timeout"`
	FanTimeout    int    `mapstructure:"fan_timeout"`
}

type MetricsConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	DBPath       string `mapstructure:"db_path"`
	BatchSize    int    `mapstructure:"batch_size"`
	BatchTimeout int    `mapstructure:"batch_timeout"`
}

type MQTTConfig struct {
	Broker   string `mapstructure:"broker"`
	ClientID string `mapstructure:"client_id"`
	Topic    string `mapstructure:"topic"`
}

type TextfileConfig struct {
	Path string `mapstructure:"path"`
}

// flagKeys maps command line flags to configuration keys
var flagKeys = map[string]string{
	"interval":        "interval",
	"default-percent": "default_percent",
	"max-percent":     "max_percent",
	"threshold":       "threshold",
	"sensor":          "sensor",
	"monitor":         "monitor",
	"log-level":       "log_level",
}

// legacyEnv lists unprefixed environment variables that are still honored
var legacyEnv = map[string]string{
	"interval":      "INTERVAL",
	"max_percent":   "MAX_PERCENT",
	"threshold":     "CPU_THRESHOLD",
	"ipmi.host":     "IPMI_HOST",
	"ipmi.username": "IPMI_USERNAME",
	"ipmi.password": "IPMI_PASSWORD",
}

// RegisterFlags defines the daemon tuning flags on fs
func RegisterFlags(fs *pflag.FlagSet) {
	fs.Int("interval", DefaultInterval, "Seconds between sensor polls")
	fs.Int("default-percent", DefaultFanPercent, "Baseline fan duty cycle")
	fs.Int("max-percent", DefaultMaxPercent, "Maximum fan duty cycle")
	fs.Int("threshold", DefaultThreshold, "CPU temperature threshold in degrees")
	fs.String("sensor", sensor.CPUTemperature, "Name of the sensor to watch")
	fs.Bool("monitor", false, "Only monitor temperature, never set fans")
}

// RegisterGlobalFlags defines the flags shared by every command on fs
func RegisterGlobalFlags(fs *pflag.FlagSet) {
	fs.StringP("config", "c", "", "Path to configuration file")
	fs.String("log-level", DefaultLogLevel, "Log level (debug, info, warning, error)")
}

// Load reads configuration from defaults, the config file, the environment
// and flags, in increasing order of precedence.
func Load(flags *pflag.FlagSet, opts ...Option) (*Config, error) {
	errFactory := errors.New()

	o := options{}
	for _, opt := range opts {
		if err := opt(&o); err != nil {
			return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
		}
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(DefaultEnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, legacy := range legacyEnv {
		prefixed := DefaultEnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, legacy); err != nil {
			return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
		}
	}

	if err := readConfigFile(v, configPath(flags, o)); err != nil {
		return nil, err
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, errFactory.Wrap(errors.ErrBindFlags, err)
				}
			}
		}
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("interval", DefaultInterval)
	v.SetDefault("default_percent", DefaultFanPercent)
	v.SetDefault("max_percent", DefaultMaxPercent)
	v.SetDefault("threshold", DefaultThreshold)
	v.SetDefault("sensor", sensor.CPUTemperature)
	v.SetDefault("monitor", false)
	v.SetDefault("log_level", DefaultLogLevel)

	v.SetDefault("ipmi.host", "")
	v.SetDefault("ipmi.username", "")
	v.SetDefault("ipmi.password", "")
	v.SetDefault("ipmi.interface", ipmi.DefaultInterface)
	v.SetDefault("ipmi.binary", ipmi.DefaultBinary)
	v.SetDefault("ipmi.sensor_timeout", defaultSensorTimeout)
	v.SetDefault("ipmi.fan_timeout", defaultFanTimeout)

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.db_path", DefaultMetricsDBPath)
	v.SetDefault("metrics.batch_size", defaultBatchSize)
	v.SetDefault("metrics.batch_timeout", defaultBatchTimeout)

	v.SetDefault("mqtt.broker", "")
	v.SetDefault("mqtt.client_id", DefaultMQTTClientID)
	v.SetDefault("mqtt.topic", DefaultMQTTTopic)

	v.SetDefault("textfile.path", "")
}

func configPath(flags *pflag.FlagSet, o options) string {
	if flags != nil {
		if f := flags.Lookup("config"); f != nil && f.Changed {
			return f.Value.String()
		}
	}

	if o.configPath != "" {
		return o.configPath
	}

	return os.Getenv(DefaultEnvPrefix + configPathEnvVariable)
}

func readConfigFile(v *viper.Viper, path string) error {
	errFactory := errors.New()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return errFactory.Wrap(errors.ErrReadConfig, err)
		}

		return nil
	}

	v.SetConfigName(DefaultConfigName)
	v.SetConfigType("toml")
	v.AddConfigPath(DefaultConfigDir)
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return errFactory.Wrap(errors.ErrReadConfig, err)
		}
	}

	return nil
}

// Validate checks ranges and cross-field constraints
func (c *Config) Validate() error {
	errFactory := errors.New()

	if c.Interval <= 0 {
		return errFactory.WithData(errors.ErrInvalidInterval, c.Interval)
	}

	if !LogLevel(c.LogLevel).IsValid() {
		return errFactory.WithData(errors.ErrInvalidLogLevel, c.LogLevel)
	}

	if c.DefaultPercent < 0 || c.MaxPercent >= 100 {
		return errFactory.WithData(errors.ErrInvalidConfig,
			fmt.Sprintf("fan percents must be within [0,100), got default=%d max=%d", c.DefaultPercent, c.MaxPercent))
	}

	if c.Sensor == "" {
		return errFactory.WithData(errors.ErrInvalidConfig, "sensor name is required")
	}

	if c.IPMI.SensorTimeout <= 0 || c.IPMI.FanTimeout <= 0 {
		return errFactory.WithData(errors.ErrInvalidConfig, "ipmi timeouts must be positive")
	}

	return c.Policy().Validate()
}

// Policy returns the fan policy parameters
func (c *Config) Policy() policy.Config {
	return policy.Config{
		DefaultPercent: c.DefaultPercent,
		MaxPercent:     c.MaxPercent,
		Step:           policy.Step,
		Threshold:      c.Threshold,
	}
}

// PollInterval returns the interval between sensor polls
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Interval) * time.Second
}

// Channel returns the ipmitool client configuration
func (c *Config) Channel() ipmi.Config {
	return ipmi.Config{
		Credentials: ipmi.Credentials{
			Host:     c.IPMI.Host,
			Username: c.IPMI.Username,
			Password: c.IPMI.Password,
		},
		Interface:     c.IPMI.Interface,
		Binary:        c.IPMI.Binary,
		SensorTimeout: time.Duration(c.IPMI.SensorTimeout) * time.Second,
		FanTimeout:    time.Duration(c.IPMI.FanTimeout) * time.Second,
	}
}
