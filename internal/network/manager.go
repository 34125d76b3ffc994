// Package network tracks the station link the bridge reaches its broker over,
// falls back to a local access point when it cannot associate, and restarts
// the process when a configured link stays down past its retry deadline.
package network

import (
	"context"
	"time"

	"github.com/dzungpv/mitsubishi2MQTT/internal/logger"
	"github.com/dzungpv/mitsubishi2MQTT/internal/state"
)

// Indicator blink periods
const (
	FastBlink = 200 * time.Millisecond
	BlinkOff  = time.Duration(0)
)

// StaticIP is an optional fixed address for the station link
type StaticIP struct {
	IP      string
	Gateway string
	Subnet  string
	DNS     string
}

// Credentials identify the network to join
type Credentials struct {
	SSID     string
	PSK      string
	Hostname string
	Static   *StaticIP
}

// Configured reports whether there is a network to join
func (c Credentials) Configured() bool {
	return c.SSID != ""
}

// Station is the client side of the link
type Station interface {
	// Associate starts joining the network; it may return before an address is acquired
	Associate(ctx context.Context, creds Credentials) error
	// Associated reports whether the link is up with an address
	Associated() bool
	// LocalIP returns the acquired address, empty when not associated
	LocalIP() string
}

// AccessPoint serves the local setup network
type AccessPoint interface {
	Start(ssid, psk string) error
}

// Restarter restarts the whole process
type Restarter interface {
	Restart(reason string)
}

// Indicator is a status light; a zero period turns it off
type Indicator interface {
	Blink(period time.Duration)
}

// Config holds manager timings
type Config struct {
	ConnectTimeout time.Duration // longest AttemptStationConnect blocks
	RetryTimeout   time.Duration // time a configured link may stay down before restart
	PollInterval   time.Duration // association poll period while connecting
}

// DefaultConfig returns the timings used when none are configured
func DefaultConfig() Config {
	return Config{
		ConnectTimeout: 30 * time.Second,
		RetryTimeout:   5 * time.Minute,
		PollInterval:   500 * time.Millisecond,
	}
}

// Manager owns the station link state in the store
type Manager struct {
	cfg       Config
	station   Station
	ap        AccessPoint
	restarter Restarter
	indicator Indicator
	store     *state.Store
	log       *logger.Logger
	now       func() time.Time

	configured bool
	deadline   time.Time
	restarting bool
}

// NewManager creates a connectivity manager
func NewManager(cfg Config, station Station, ap AccessPoint, restarter Restarter, indicator Indicator, store *state.Store, log *logger.Logger) *Manager {
	if log == nil {
		log = logger.Nop()
	}
	if indicator == nil {
		indicator = nopIndicator{}
	}
	return &Manager{
		cfg:       cfg,
		station:   station,
		ap:        ap,
		restarter: restarter,
		indicator: indicator,
		store:     store,
		log:       log.Named("wifi"),
		now:       time.Now,
	}
}

// AttemptStationConnect joins the network in creds, blocking until an address
// is acquired or ConnectTimeout passes.
func (m *Manager) AttemptStationConnect(ctx context.Context, creds Credentials) bool {
	if !creds.Configured() {
		return false
	}
	m.configured = true
	m.deadline = m.now().Add(m.cfg.RetryTimeout)
	m.store.SetWifi(state.WifiConnecting, m.deadline)
	m.indicator.Blink(FastBlink)

	ctx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	defer cancel()

	m.log.Infow("connecting", "ssid", creds.SSID, "hostname", creds.Hostname)
	if err := m.station.Associate(ctx, creds); err != nil {
		m.log.Warnw("association failed", "ssid", creds.SSID, "error", err)
		return false
	}

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()
	for {
		if m.station.Associated() {
			m.markConnected(m.now())
			return true
		}
		select {
		case <-ctx.Done():
			m.log.Warnw("connect timeout", "ssid", creds.SSID)
			return false
		case <-ticker.C:
		}
	}
}

// EnterAPFallback starts the local access point. Without credentials the
// manager stays here; with credentials the retry deadline still applies.
func (m *Manager) EnterAPFallback(ssid, psk string) error {
	m.deadline = m.now().Add(m.cfg.RetryTimeout)
	m.store.SetWifi(state.WifiAPFallback, m.deadline)
	m.indicator.Blink(FastBlink)
	m.log.Infow("starting access point", "ssid", ssid)
	return m.ap.Start(ssid, psk)
}

// Start connects with creds and falls back to the access point on failure
func (m *Manager) Start(ctx context.Context, creds Credentials, apSSID, apPSK string) bool {
	if m.AttemptStationConnect(ctx, creds) {
		return true
	}
	if err := m.EnterAPFallback(apSSID, apPSK); err != nil {
		m.log.Errorw("access point failed", "error", err)
	}
	return false
}

// OnTick checks the link without blocking
func (m *Manager) OnTick(now time.Time) {
	current := m.store.Wifi()
	associated := current != state.WifiAPFallback && m.station.Associated()

	if associated {
		if current != state.WifiConnected {
			m.markConnected(now)
			return
		}
		m.deadline = now.Add(m.cfg.RetryTimeout)
		m.store.SetWifi(state.WifiConnected, m.deadline)
		return
	}

	if current == state.WifiConnected {
		m.deadline = now.Add(m.cfg.RetryTimeout)
		m.store.SetWifi(state.WifiConnecting, m.deadline)
		m.indicator.Blink(FastBlink)
		m.log.Warnw("link lost", "restartAt", m.deadline)
	}

	if m.configured && !m.restarting && now.After(m.deadline) {
		m.restarting = true
		m.log.Errorw("link down past retry timeout, restarting", "deadline", m.deadline)
		m.restarter.Restart("wifi timeout")
	}
}

// LocalIP returns the station address
func (m *Manager) LocalIP() string {
	return m.station.LocalIP()
}

func (m *Manager) markConnected(now time.Time) {
	m.configured = true
	m.deadline = now.Add(m.cfg.RetryTimeout)
	m.store.SetWifi(state.WifiConnected, m.deadline)
	m.indicator.Blink(BlinkOff)
	m.log.Infow("connected", "ip", m.station.LocalIP())
}

type nopIndicator struct{}

func (nopIndicator) Blink(time.Duration) {}
