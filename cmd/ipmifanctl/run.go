package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"codeberg.org/mutker/ipmifanctl/internal/config"
	"codeberg.org/mutker/ipmifanctl/internal/controller"
	"codeberg.org/mutker/ipmifanctl/internal/errors"
	"codeberg.org/mutker/ipmifanctl/internal/ipmi"
	"codeberg.org/mutker/ipmifanctl/internal/logger"
	"codeberg.org/mutker/ipmifanctl/internal/metrics"
	"codeberg.org/mutker/ipmifanctl/internal/pid"
	"codeberg.org/mutker/ipmifanctl/internal/telemetry"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the fan control loop",
	Long: `Run the fan control loop until interrupted (Ctrl+C) or SIGTERM.

On start every fan is set to the default percent. Each interval the CPU
temperature is read; above the threshold the fans step up by 5 percent to the
maximum, below it they return to the default at once.`,
	Args: cobra.NoArgs,
	RunE: runDaemon,
}

func init() {
	config.RegisterFlags(runCmd.Flags())
	rootCmd.AddCommand(runCmd)
}

func runDaemon(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	channelCfg := cfg.Channel()
	if err := channelCfg.Credentials.Validate(); err != nil {
		logger.FatalWithCode(err).Msg("IPMI credentials are incomplete")
	}

	pidFile := pid.New("")
	if err := pidFile.Write(); err != nil {
		return err
	}
	defer func() {
		if err := pidFile.Remove(); err != nil {
			logger.ErrorWithCode(err).Msg("Failed to remove PID file")
		}
	}()

	log := logger.Default()

	collector, err := newCollector(cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := collector.Close(); err != nil {
			logger.ErrorWithCode(err).Msg("Failed to close collectors")
		}
	}()

	ctrl, err := controller.New(ipmi.NewClient(channelCfg, log), controller.Config{
		Policy:   cfg.Policy(),
		Sensor:   cfg.Sensor,
		Interval: cfg.PollInterval(),
		Monitor:  cfg.Monitor,
	}, log, controller.WithCollector(collector))
	if err != nil {
		return errors.New().Wrap(errors.ErrInitApp, err)
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	go handleSignals(ctx, cancel)

	if err := ctrl.Run(ctx); err != nil {
		logger.ErrorWithCode(err).Msg("Failed to start fan control")
		return err
	}

	logger.Info().Msg("Exiting...")

	return nil
}

// newCollector assembles every enabled snapshot sink
func newCollector(cfg *config.Config, log logger.Logger) (metrics.Collector, error) {
	store, err := metrics.NewService(metrics.Config{
		Enabled:      cfg.Metrics.Enabled,
		DBPath:       cfg.Metrics.DBPath,
		BatchSize:    cfg.Metrics.BatchSize,
		BatchTimeout: cfg.Metrics.BatchTimeout,
	}, log)
	if err != nil {
		return nil, errors.New().Wrap(errors.ErrInitMetrics, err)
	}

	collectors := []metrics.Collector{store}

	mqttCfg := telemetry.MQTTConfig{
		Broker:   cfg.MQTT.Broker,
		ClientID: cfg.MQTT.ClientID,
		Topic:    cfg.MQTT.Topic,
	}
	if mqttCfg.Enabled() {
		publisher, err := telemetry.NewMQTTPublisher(mqttCfg, log)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		collectors = append(collectors, publisher)
	}

	textfileCfg := telemetry.TextfileConfig{Path: cfg.Textfile.Path}
	if textfileCfg.Enabled() {
		collectors = append(collectors, telemetry.NewTextfileExporter(textfileCfg, log))
	}

	return metrics.Multi(collectors...), nil
}

func handleSignals(ctx context.Context, cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)

	select {
	case <-sigs:
		logger.Info().Msg("Received termination signal.")
		cancel()
	case <-ctx.Done():
	}
}
