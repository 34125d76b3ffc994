package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/dzungpv/mitsubishi2MQTT/internal/api"
	"github.com/dzungpv/mitsubishi2MQTT/internal/config"
	"github.com/dzungpv/mitsubishi2MQTT/internal/control"
	"github.com/dzungpv/mitsubishi2MQTT/internal/events"
	"github.com/dzungpv/mitsubishi2MQTT/internal/firmware"
	"github.com/dzungpv/mitsubishi2MQTT/internal/hvac"
	"github.com/dzungpv/mitsubishi2MQTT/internal/hvacsync"
	"github.com/dzungpv/mitsubishi2MQTT/internal/logger"
	"github.com/dzungpv/mitsubishi2MQTT/internal/mqtt"
	"github.com/dzungpv/mitsubishi2MQTT/internal/network"
	"github.com/dzungpv/mitsubishi2MQTT/internal/state"
	"github.com/dzungpv/mitsubishi2MQTT/internal/storage"
	"github.com/dzungpv/mitsubishi2MQTT/internal/system"
	"github.com/dzungpv/mitsubishi2MQTT/internal/telemetry"
)

// Device identity published in discovery
const (
	Model        = "HVAC MITSUBISHI"
	Manufacturer = "MITSUBISHI ELECTRIC"

	// EventCapacity is how many console events are kept
	EventCapacity = 100

	dbFile          = "mitsubishi2mqtt.db"
	shutdownTimeout = 5 * time.Second
)

// App is the assembled bridge
type App struct {
	cfg     *config.Config
	log     *logger.Logger
	version string

	storage  *storage.BoltStorage
	events   *events.Store
	store    *state.Store
	network  *network.Manager
	rebooter *system.Rebooter
	runtime  *Runtime
	server   *api.Server

	wifi    config.WifiRecord
	restart chan string
}

// New loads the persisted records and builds every component
func New(cfg *config.Config, version string, log *logger.Logger) (*App, error) {
	if err := os.MkdirAll(cfg.DataDir(), 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	st, err := storage.NewBoltStorage(filepath.Join(cfg.DataDir(), dbFile))
	if err != nil {
		return nil, err
	}

	a := &App{
		cfg:     cfg,
		log:     log,
		version: version,
		storage: st,
		store:   state.New(),
		restart: make(chan string, 1),
	}

	a.events, err = events.NewPersistentStore(EventCapacity, st)
	if err != nil {
		log.Warnw("console log not restored", "error", err)
	}

	wifi := loadRecord(log, "wifi", st.LoadWifi)
	mqttRec := loadRecord(log, "mqtt", st.LoadMqtt)
	unit := loadRecord(log, "unit", st.LoadUnit)
	others := loadRecord(log, "others", st.LoadOthers)
	a.wifi = wifi

	minTemp, maxTemp := cfg.TemperatureRange()
	a.store.SetTemperatureRange(minTemp, maxTemp)

	a.rebooter = system.NewRebooter(a.onReboot, st, log)
	hostInfo := system.NewHostInfo("")

	link := hvac.NewSimLink(cfg.SimRoomTemperature())
	engine := hvacsync.New(hvacsync.DefaultConfig(), link, a.store, log)
	controller := control.New(a.store, engine, unit.Fahrenheit(), log)

	a.network = network.NewManager(network.DefaultConfig(), network.HostStation{},
		network.LogAccessPoint{Log: log}, a.rebooter, network.LogIndicator{Log: log}, a.store, log)

	bridge, err := a.newBridge(mqttRec, unit, others, controller, link, hostInfo)
	switch {
	case errors.Is(err, mqtt.ErrNoBroker):
		log.Infow("no broker configured")
	case err != nil:
		log.Errorw("broker disabled", "error", err)
	}

	var exporter *telemetry.Exporter
	if influx := cfg.Influx(); influx.Enabled() {
		if exporter, err = telemetry.Connect(influx, mqttRec.FriendlyName, log); err != nil {
			log.Warnw("influxdb export disabled", "error", err)
			exporter = nil
		}
	}

	deps := RuntimeDeps{
		Store:      a.store,
		Link:       link,
		Engine:     engine,
		Controller: controller,
		Network:    a.network,
		Rebooter:   a.rebooter,
		Restart:    a.restart,
		Bridge:     bridge,
		Events:     a.events,
		Telemetry:  exporter,
		Log:        log,
	}
	a.runtime = NewRuntime(deps)

	if others.WebPanelOn() {
		stager, err := firmware.NewStager(filepath.Join(cfg.DataDir(), "firmware"), cfg.FirmwarePublicKey(), version, log)
		if err != nil {
			log.Warnw("firmware uploads disabled", "error", err)
			stager = nil
		}
		target, _ := os.Executable()
		a.server = api.NewServer(api.Deps{
			Store:          a.store,
			Storage:        st,
			Events:         a.events,
			Inbox:          a.runtime,
			Stats:          a.runtime,
			Rebooter:       a.rebooter,
			Info:           hostInfo,
			Firmware:       stager,
			FirmwareTarget: target,
			Fahrenheit:     unit.Fahrenheit(),
			Version:        version,
			JWTSecret:      cfg.JWTSecret(),
			JWTExpiration:  cfg.JWTExpiration(),
			Log:            log,
		})
		a.runtime.d.Hub = a.server.Hub()
	} else {
		log.Infow("web panel disabled")
	}

	return a, nil
}

// loadRecord logs unusable records; the loaders already fall back to defaults
func loadRecord[T any](log *logger.Logger, name string, load func() (T, error)) T {
	rec, err := load()
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		log.Warnw("record unusable, using defaults", "record", name, "error", err)
	}
	return rec
}

func (a *App) newBridge(rec config.MqttRecord, unit config.UnitRecord, others config.OthersRecord,
	controller *control.Controller, link hvac.DeviceLink, info *system.HostInfo) (*mqtt.Bridge, error) {
	if !rec.Configured() {
		return nil, mqtt.ErrNoBroker
	}

	topics := mqtt.NewTopics(rec.Topic, rec.FriendlyName, others.DiscoveryPrefix())
	client, err := mqtt.NewClient(mqtt.Config{
		Host:      rec.Host,
		Port:      rec.PortNumber(),
		Username:  rec.Username,
		Password:  rec.Password,
		CACert:    rec.RootCACert,
		WillTopic: topics.Availability,
	}, a.log)
	if err != nil {
		return nil, err
	}

	var discovery *mqtt.Discovery
	if others.DiscoveryEnabled() {
		minTemp, maxTemp := a.cfg.TemperatureRange()
		identity := mqtt.Identity{
			ID:           system.MACAddress(),
			Name:         rec.FriendlyName,
			Software:     a.version,
			Hardware:     "linux",
			Model:        Model,
			Manufacturer: Manufacturer,
		}
		if others.WebPanelOn() {
			identity.ConfigURL = a.configURL()
		}
		discovery = mqtt.NewDiscovery(topics, identity, mqtt.DiscoveryOptions{
			Fahrenheit:       unit.Fahrenheit(),
			TempStep:         unit.Step(),
			MinTemp:          minTemp,
			MaxTemp:          maxTemp,
			SupportHeatMode:  unit.SupportHeatMode(),
			SupportQuietMode: unit.SupportQuietMode(),
		})
	}

	return mqtt.NewBridge(mqtt.DefaultBridgeConfig(), mqtt.BridgeDeps{
		Conn:      client,
		Topics:    topics,
		Discovery: discovery,
		Store:     a.store,
		Commands:  controller,
		Link:      link,
		Rebooter:  a.rebooter,
		Info:      info,
		Options: mqtt.Options{
			DebugPackets: others.DebugPacketsOn(),
			DebugLogs:    others.DebugLogsOn(),
			WebPanel:     others.WebPanelOn(),
		},
		SaveOptions: a.saveOptions,
		NetworkUp:   func() bool { return a.store.Wifi() == state.WifiConnected },
		Log:         a.log,
	}), nil
}

// saveOptions persists toggles changed over the broker
func (a *App) saveOptions(o mqtt.Options) error {
	rec, _ := a.storage.LoadOthers()
	return a.storage.SaveOthers(rec.SetToggles(o.DebugPackets, o.DebugLogs, o.WebPanel))
}

func (a *App) configURL() string {
	host := a.network.LocalIP()
	if host == "" {
		host = "localhost"
	}
	_, port, err := net.SplitHostPort(a.cfg.Addr())
	if err != nil || port == "80" {
		return "http://" + host
	}
	return "http://" + net.JoinHostPort(host, port)
}

// credentials returns the network to join; with host networking the
// operating system's own link stands in when no SSID is stored
func (a *App) credentials() network.Credentials {
	creds := network.Credentials{
		SSID:     a.wifi.SSID,
		PSK:      a.wifi.PSK,
		Hostname: a.wifi.Hostname,
	}
	if a.wifi.HasStaticIP() {
		creds.Static = &network.StaticIP{
			IP:      a.wifi.StaticIP,
			Gateway: a.wifi.StaticGW,
			Subnet:  a.wifi.StaticSubnet,
			DNS:     a.wifi.StaticDNS,
		}
	}
	if !creds.Configured() && a.cfg.HostNetwork() {
		creds.SSID = network.HostSSID
	}
	return creds
}

// onReboot is the rebooter action; Run returns a RestartError once it fires
func (a *App) onReboot(reason string) {
	a.events.System(events.EventSystemReboot, true, reason)
	select {
	case a.restart <- reason:
	default:
	}
}

// Run joins the network, serves the web panel and runs the loop until ctx
// is done or a reboot is due
func (a *App) Run(ctx context.Context) error {
	a.events.System(events.EventSystemBoot, true, a.version)

	if !a.network.Start(ctx, a.credentials(), a.cfg.APSSID(), a.wifi.OTAPassword) {
		a.events.System(events.EventWifiFallback, false, a.cfg.APSSID())
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var srv *http.Server
	serveErr := make(chan error, 1)
	if a.server != nil {
		go a.server.RateLimiter().Run(ctx, time.Minute)
		go a.server.WSTokens().Run(ctx)

		srv = &http.Server{
			Addr:              a.cfg.Addr(),
			Handler:           a.server.Router(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			a.log.Infow("web panel listening", "addr", a.cfg.Addr(), "url", a.configURL())
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- err
			}
		}()
	}

	runErr := make(chan error, 1)
	go func() { runErr <- a.runtime.Run(ctx, a.cfg.TickInterval()) }()

	var err error
	select {
	case err = <-runErr:
	case err = <-serveErr:
		cancel()
		<-runErr
	}

	if srv != nil {
		shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
		defer done()
		if serr := srv.Shutdown(shutdownCtx); serr != nil {
			a.log.Warnw("web panel shutdown", "error", serr)
		}
		a.server.Hub().Close()
	}
	return err
}

// Close releases the database
func (a *App) Close() error {
	return a.storage.Close()
}
