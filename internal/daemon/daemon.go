// Package daemon implements the relay daemon lifecycle.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"firestige.xyz/bcrelay/internal/capture"
	"firestige.xyz/bcrelay/internal/command"
	"firestige.xyz/bcrelay/internal/config"
	"firestige.xyz/bcrelay/internal/core"
	logpkg "firestige.xyz/bcrelay/internal/log"
	"firestige.xyz/bcrelay/internal/metrics"
	"firestige.xyz/bcrelay/internal/relay"
	"firestige.xyz/bcrelay/internal/sender"
	"firestige.xyz/bcrelay/internal/store"
)

// Version is reported in the startup log.
const Version = "0.1.0"

// Option customizes a Daemon.
type Option func(*Daemon)

// WithSender replaces the raw socket sender. The daemon does not close it.
func WithSender(s sender.Sender) Option {
	return func(d *Daemon) { d.sender = s }
}

// WithDeviceFactory replaces the configured capture backend.
func WithDeviceFactory(f DeviceFactory) Option {
	return func(d *Daemon) { d.newDevice = f }
}

// Daemon manages the broadcast-relay process lifecycle.
type Daemon struct {
	cfgMu      sync.RWMutex
	config     *config.GlobalConfig
	configPath string
	socketPath string
	pidFile    string

	sender      sender.Sender
	ownedSender *sender.RawSender // closed on Stop; nil when injected
	newDevice   DeviceFactory
	listDevices func() ([]capture.DeviceInfo, error)

	manager       *relay.Manager
	relay         *relayService
	cmdHandler    *command.CommandHandler
	udsServer     *command.UDSServer
	kafkaConsumer *command.KafkaCommandConsumer // nil if command channel disabled
	metricsServer *metrics.Server               // nil if metrics disabled

	ctx          context.Context
	cancel       context.CancelFunc
	shutdownChan chan struct{}
	sigChan      chan os.Signal
	stopOnce     sync.Once
	wg           sync.WaitGroup
}

// New loads the configuration at configPath. Empty socketPath or pidFile
// fall back to control.socket and control.pid_file.
func New(configPath, socketPath, pidFile string, opts ...Option) (*Daemon, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if socketPath == "" {
		socketPath = cfg.Control.Socket
	}
	if pidFile == "" {
		pidFile = cfg.Control.PIDFile
	}

	d := &Daemon{
		config:       cfg,
		configPath:   configPath,
		socketPath:   socketPath,
		pidFile:      pidFile,
		shutdownChan: make(chan struct{}, 1),
		listDevices:  capture.ListDevices,
	}
	d.newDevice = d.openInterface
	for _, opt := range opts {
		opt(d)
	}
	d.ctx, d.cancel = context.WithCancel(context.Background())
	return d, nil
}

// Start initializes and starts all daemon components. On failure the
// components already started are stopped again.
func (d *Daemon) Start() (err error) {
	if err := logpkg.Init(d.config.Log); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}

	slog.Info("starting broadcast-relay daemon",
		"version", Version,
		"hostname", d.config.Node.Hostname,
		"config", d.configPath,
		"socket", d.socketPath,
	)

	defer func() {
		if err != nil {
			d.Stop()
		}
	}()

	if err := WritePIDFile(d.pidFile); err != nil {
		return err
	}

	if err := d.startMetrics(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	if err := d.startRelay(); err != nil {
		return err
	}

	d.cmdHandler = command.NewCommandHandler(d.relay, d)
	d.cmdHandler.SetShutdownFunc(d.TriggerShutdown)

	d.udsServer = command.NewUDSServer(d.socketPath, d.cmdHandler)
	if err := d.udsServer.Listen(d.ctx); err != nil {
		return fmt.Errorf("failed to start uds server: %w", err)
	}

	if d.config.CommandChannel.Enabled {
		if err := d.startKafkaConsumer(); err != nil {
			// UDS control still works without the remote channel.
			slog.Error("failed to start kafka consumer", "error", err)
		}
	}

	d.startStatsLoop()

	slog.Info("daemon started successfully",
		"adapters", d.manager.Devices(),
		"destinations", len(d.manager.Destinations()),
	)
	return nil
}

func (d *Daemon) startRelay() error {
	local, err := d.localAddresses()
	if err != nil {
		return err
	}
	if local.Len() == 0 {
		slog.Warn("no local IPv4 addresses; nothing will be relayed")
	}

	if d.sender == nil {
		raw, err := sender.NewRawSender(sender.Options{Interface: d.config.Sender.Interface})
		if err != nil {
			return fmt.Errorf("failed to open sender: %w", err)
		}
		d.sender, d.ownedSender = raw, raw
	}

	d.manager, err = relay.NewManager(local, d.sender, relay.WithObserver(metrics.RelayObserver{}))
	if err != nil {
		return err
	}

	var p store.Persistence = store.NopStore{}
	if d.config.Persistence.Enabled {
		fs, err := store.NewFileStore(d.config.Persistence.Path)
		if err != nil {
			slog.Warn("failed to open selection store, persistence disabled",
				"path", d.config.Persistence.Path, "error", err)
		} else {
			p = fs
		}
	}

	d.relay = newRelayService(d.manager, p, d.newDevice)
	d.relay.restore(d.config.Relay.Adapters, d.config.Relay.Destinations)
	if d.config.Relay.AutoEnableSingleAdapter {
		d.relay.enableSoleInterface(d.listDevices)
	}
	return nil
}

// openInterface is the default DeviceFactory. Live backends only accept
// interfaces the host reports; the file backend takes any name as a label.
func (d *Daemon) openInterface(name string) (capture.Device, error) {
	cc := d.captureConfig()
	if cc.Backend != capture.BackendFile {
		if err := d.checkInterface(name); err != nil {
			return nil, err
		}
	}
	return capture.NewDevice(cc.Backend, name, cc.DeviceOptions())
}

func (d *Daemon) checkInterface(name string) error {
	devs, err := d.listDevices()
	if err != nil {
		slog.Warn("cannot list capture interfaces, skipping lookup", "interface", name, "error", err)
		return nil
	}
	for _, dev := range devs {
		if dev.Name == name {
			return nil
		}
	}
	return fmt.Errorf("interface %s: %w", name, core.ErrDeviceNotFound)
}

func (d *Daemon) captureConfig() config.CaptureConfig {
	d.cfgMu.RLock()
	defer d.cfgMu.RUnlock()
	return d.config.Capture
}

func (d *Daemon) localAddresses() (*relay.AddressSet, error) {
	if len(d.config.Relay.LocalAddresses) > 0 {
		return relay.ParseAddressSet(d.config.Relay.LocalAddresses)
	}
	return relay.LocalAddresses()
}

func (d *Daemon) startStatsLoop() {
	interval, err := d.config.Relay.StatsIntervalDuration()
	if err != nil {
		slog.Warn("invalid relay.stats_interval, capture stats disabled",
			"stats_interval", d.config.Relay.StatsInterval, "error", err)
		return
	}
	if interval <= 0 {
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				d.relay.collectStats()
			case <-d.ctx.Done():
				return
			}
		}
	}()
}

// Stop performs graceful shutdown of all daemon components. Safe to call
// more than once.
func (d *Daemon) Stop() {
	d.stopOnce.Do(d.stop)
}

func (d *Daemon) stop() {
	slog.Info("initiating graceful shutdown")

	// No new commands.
	d.cancel()
	d.wg.Wait()
	if d.kafkaConsumer != nil {
		if err := d.kafkaConsumer.Stop(); err != nil {
			slog.Error("error stopping kafka consumer", "error", err)
		}
	}
	if d.udsServer != nil {
		d.udsServer.Stop()
	}

	if d.relay != nil {
		d.relay.persist()
	}
	if d.manager != nil {
		d.manager.Close()
	}
	if d.ownedSender != nil {
		if err := d.ownedSender.Close(); err != nil {
			slog.Error("error closing sender", "error", err)
		}
	}

	if d.metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := d.metricsServer.Stop(shutdownCtx); err != nil {
			slog.Error("error stopping metrics server", "error", err)
		}
		cancel()
	}

	if d.sigChan != nil {
		signal.Stop(d.sigChan)
	}

	if err := RemovePIDFile(d.pidFile); err != nil {
		slog.Error("error removing PID file", "error", err)
	}

	slog.Info("daemon stopped gracefully")
	logpkg.Flush()
}

// Run blocks until SIGTERM/SIGINT, a daemon_shutdown command or a
// cancelled context, then stops the daemon. SIGHUP reloads the config.
func (d *Daemon) Run() error {
	d.sigChan = make(chan os.Signal, 1)
	signal.Notify(d.sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)

	slog.Info("daemon running, waiting for signals or commands")

	for {
		select {
		case sig := <-d.sigChan:
			switch sig {
			case syscall.SIGTERM, syscall.SIGINT:
				slog.Info("received shutdown signal", "signal", sig)
				d.Stop()
				return nil
			case syscall.SIGHUP:
				slog.Info("received reload signal")
				if err := d.Reload(); err != nil {
					slog.Error("failed to reload config", "error", err)
				}
			}

		case <-d.shutdownChan:
			slog.Info("shutdown triggered by command")
			d.Stop()
			return nil

		case <-d.ctx.Done():
			err := d.ctx.Err()
			d.Stop()
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
	}
}

// Reload re-reads the configuration. Logging is applied immediately; other
// changed sections are reported as needing a restart.
func (d *Daemon) Reload() error {
	slog.Info("reloading configuration", "path", d.configPath)

	newConfig, err := config.Load(d.configPath)
	if err != nil {
		return fmt.Errorf("failed to load new config: %w", err)
	}
	if err := logpkg.Init(newConfig.Log); err != nil {
		return fmt.Errorf("failed to reinitialize logging: %w", err)
	}

	d.cfgMu.RLock()
	old := *d.config
	d.cfgMu.RUnlock()

	var requiresRestart []string
	if newConfig.Node.Hostname != old.Node.Hostname {
		requiresRestart = append(requiresRestart, "node.hostname")
	}
	if newConfig.Metrics != old.Metrics {
		requiresRestart = append(requiresRestart, "metrics")
	}
	if newConfig.Sender != old.Sender {
		requiresRestart = append(requiresRestart, "sender")
	}
	if newConfig.Capture.Backend != old.Capture.Backend {
		requiresRestart = append(requiresRestart, "capture.backend")
	}

	// Capture settings apply to adapters enabled from now on.
	d.cfgMu.Lock()
	d.config.Log = newConfig.Log
	d.config.Capture = newConfig.Capture
	d.cfgMu.Unlock()

	slog.Info("configuration reloaded", "requires_restart", requiresRestart)
	return nil
}

// TriggerShutdown asks Run to stop the daemon.
func (d *Daemon) TriggerShutdown() {
	select {
	case d.shutdownChan <- struct{}{}:
	default:
	}
}

// Relay exposes the control surface used by the command channels.
func (d *Daemon) Relay() command.RelayController { return d.relay }

func (d *Daemon) startKafkaConsumer() error {
	consumer, err := command.NewKafkaCommandConsumer(
		d.config.CommandChannel,
		d.config.Node.Hostname,
		d.cmdHandler,
	)
	if err != nil {
		return fmt.Errorf("failed to create kafka consumer: %w", err)
	}
	d.kafkaConsumer = consumer

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := consumer.Start(d.ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("kafka consumer stopped with error", "error", err)
		}
	}()
	return nil
}

func (d *Daemon) startMetrics() error {
	if !d.config.Metrics.Enabled {
		slog.Info("metrics server disabled")
		return nil
	}

	srv := metrics.NewServer(d.config.Metrics.Listen, d.config.Metrics.Path)
	if err := srv.Start(d.ctx); err != nil {
		return err
	}
	d.metricsServer = srv
	slog.Info("metrics server started", "addr", srv.Addr(), "path", d.config.Metrics.Path)
	return nil
}
