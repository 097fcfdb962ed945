// Command relay-agent mirrors shared relay states onto GPIO outputs and sheds
// load automatically when the battery runs low.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/sweeney/relay-agent/internal/agent"
	"github.com/sweeney/relay-agent/internal/config"
	"github.com/sweeney/relay-agent/internal/forecast"
	"github.com/sweeney/relay-agent/internal/gpio"
	"github.com/sweeney/relay-agent/internal/journal"
	"github.com/sweeney/relay-agent/internal/logging"
	"github.com/sweeney/relay-agent/internal/logic"
	"github.com/sweeney/relay-agent/internal/mqtt"
	"github.com/sweeney/relay-agent/internal/relay"
	"github.com/sweeney/relay-agent/internal/status"
	"github.com/sweeney/relay-agent/internal/web"
)

const appName = "relay-agent"

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	envFile := flag.String("env", ".env", "Environment file to load (missing file is ignored)")
	printPins := flag.Bool("print-pins", false, "Print the relay to GPIO pin mapping and exit")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.New(cfg, version, appName)
	slog.SetDefault(logger)

	if *printPins {
		printPinMap(os.Stdout, cfg)
		return
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	driver, err := newDriver(cfg)
	if err != nil {
		return fmt.Errorf("init gpio: %w", err)
	}
	outputs := gpio.NewOutputs(driver, logger)
	defer outputs.Close()

	fc, closeCache, err := newForecast(cfg, logger)
	if err != nil {
		return err
	}
	defer closeCache()

	store, err := journal.Open(cfg.JournalPath)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer store.Close()

	client, err := mqtt.NewClient(mqtt.Options{
		Broker:   cfg.MQTTBroker,
		ClientID: cfg.MQTTClientID,
		Username: cfg.MQTTUsername,
		Password: cfg.MQTTPassword,
		Prefix:   cfg.MQTTPrefix,
	}, logger)
	if err != nil {
		return fmt.Errorf("init mqtt: %w", err)
	}
	defer client.Close()

	// Tracker before STARTUP so the snapshot is available.
	tracker := status.NewTracker(time.Now(), status.Config{
		Broker:      cfg.MQTTBroker,
		Prefix:      cfg.MQTTPrefix,
		HTTPAddr:    cfg.HTTPAddr,
		HeartbeatMs: cfg.Heartbeat.Milliseconds(),
		WriteMs:     cfg.WriteTimeout.Milliseconds(),
		RelayCount:  cfg.RelayCount,
		GPIOEnabled: cfg.GPIOEnabled,
		ActiveLow:   cfg.RelayActiveLow,
		ForecastURL: cfg.ForecastURL,
	})
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}

	ag, err := agent.New(agent.Options{
		Relays:       relay.NewSet(cfg.RelayCount),
		Threshold:    cfg.BatteryThreshold,
		WriteTimeout: cfg.WriteTimeout,
		Preferences:  cfg.Preferences,
		Store:        client,
		Forecast:     fc,
		Journal:      store,
		Events:       client,
		Outputs:      outputs,
		Tracker:      tracker,
		Logger:       logger,
	})
	if err != nil {
		return err
	}
	defer ag.Stop()

	client.SetHandler(ag)
	connectCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	err = client.Connect(connectCtx)
	cancel()
	if err != nil {
		// paho keeps retrying in the background; events are buffered meanwhile.
		logger.Warn("mqtt not connected yet", "broker", cfg.MQTTBroker, "error", err)
	}
	tracker.SetMQTTConnected(client.IsConnected())

	snap := tracker.Snapshot()
	startup := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      "STARTUP",
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
	}
	if err := client.PublishSystem(startup); err != nil {
		logger.Warn("failed to publish startup event", "error", err)
	}

	if cfg.HTTPAddr != "" {
		srv := web.New(web.Options{
			Addr:        cfg.HTTPAddr,
			Tracker:     tracker,
			Controller:  ag,
			CORSOrigins: cfg.CORSOrigins,
			Logger:      logger,
		})
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server error", "error", err)
			}
		}()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(ctx)
		}()
		logger.Info("http server listening", "addr", cfg.HTTPAddr)
	}

	logger.Info("started",
		"broker", cfg.MQTTBroker,
		"prefix", cfg.MQTTPrefix,
		"relays", cfg.RelayCount,
		"threshold", cfg.BatteryThreshold,
		"heartbeat", cfg.Heartbeat,
		"gpio", cfg.GPIOEnabled,
	)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	return runLoop(client, client, ag, tracker, cfg.Heartbeat, time.Now, ticker.C, sigCh, logger)
}

func newDriver(cfg config.Config) (gpio.Driver, error) {
	if !cfg.GPIOEnabled {
		return gpio.NewFakeDriver(), nil
	}
	d, err := gpio.NewRealDriver(cfg.GPIOChip, gpio.NewPinMap(cfg.Pins()), cfg.RelayActiveLow)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// newForecast builds the forecast service: an HTTP source when FORECAST_URL
// is set, otherwise a static forecast from the environment. The cache lives in
// redis when REDIS_ADDR is set.
func newForecast(cfg config.Config, logger *slog.Logger) (*forecast.Service, func(), error) {
	var source forecast.Source
	if cfg.ForecastURL != "" {
		source = forecast.NewHTTPSource(cfg.ForecastURL, cfg.ForecastTimeout)
	} else {
		source = forecast.Static{Forecast: forecast.Forecast{
			PredictedUsage:      cfg.ForecastUsage,
			UsagePatternSummary: cfg.ForecastSummary,
		}}
	}

	if cfg.RedisAddr == "" {
		return forecast.NewService(source, nil, logger), func() {}, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, nil, fmt.Errorf("connect redis %s: %w", cfg.RedisAddr, err)
	}
	cache := forecast.NewRedisCache(rdb, "")
	return forecast.NewService(source, cache, logger), func() { rdb.Close() }, nil
}

func printPinMap(w io.Writer, cfg config.Config) {
	if !cfg.GPIOEnabled {
		fmt.Fprintf(w, "gpio disabled, %d relays\n", cfg.RelayCount)
		return
	}
	pins := gpio.NewPinMap(cfg.Pins())
	polarity := "active high"
	if cfg.RelayActiveLow {
		polarity = "active low"
	}
	fmt.Fprintf(w, "%s (%s)\n", cfg.GPIOChip, polarity)
	for _, id := range pins.IDs() {
		fmt.Fprintf(w, "relay %d: GPIO%d\n", id, pins[id])
	}
}

// statusSource is the part of the agent the loop reports on.
type statusSource interface {
	Counts() logic.Counts
}

func runLoop(publisher mqtt.Publisher, mqttStatus mqtt.ConnectionStatus, ag statusSource, tracker *status.Tracker, heartbeat time.Duration, now func() time.Time, tick <-chan time.Time, sig <-chan os.Signal, logger *slog.Logger) error {
	hb := logic.NewHeartbeat(now())
	connected := mqttStatus.IsConnected()

	for {
		select {
		case s := <-sig:
			logger.Info("shutting down", "signal", s.String())
			signalName := "UNKNOWN"
			if s == syscall.SIGINT {
				signalName = "SIGINT"
			} else if s == syscall.SIGTERM {
				signalName = "SIGTERM"
			}
			tracker.SetMQTTConnected(mqttStatus.IsConnected())
			tracker.SetCounts(ag.Counts())
			snap := tracker.Snapshot()
			event := mqtt.SystemEvent{
				Timestamp:  now(),
				Event:      "SHUTDOWN",
				Reason:     signalName,
				Retained:   true,
				RawPayload: status.FormatStatusEvent(snap, "SHUTDOWN", signalName),
			}
			if err := publisher.PublishSystem(event); err != nil {
				logger.Warn("failed to publish shutdown event", "error", err)
			}
			return nil

		case <-tick:
			t := now()
			if c := mqttStatus.IsConnected(); c != connected {
				connected = c
				if c {
					logger.Info("mqtt connected")
				} else {
					logger.Warn("mqtt disconnected")
				}
			}
			tracker.SetMQTTConnected(connected)

			hbData := hb.Check(t, heartbeat, ag.Counts())
			if hbData == nil {
				continue
			}
			logger.Info("heartbeat",
				"uptime", hbData.Uptime,
				"automations", hbData.Counts.Automations,
				"toggles", hbData.Counts.Toggles,
				"dropped", hbData.Counts.Dropped,
				"deferred", hbData.Counts.Deferred,
				"write_failures", hbData.Counts.WriteFailures,
			)
			if net := readNetworkInfo(); net != nil {
				tracker.SetNetwork(net)
			}
			tracker.SetCounts(hbData.Counts)
			snap := tracker.Snapshot()
			event := mqtt.SystemEvent{
				Timestamp:  hbData.Timestamp,
				Event:      "HEARTBEAT",
				RawPayload: status.FormatStatusEvent(snap, "HEARTBEAT", ""),
			}
			if err := publisher.PublishSystem(event); err != nil {
				logger.Warn("heartbeat publish error", "error", err)
			}
		}
	}
}

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}
