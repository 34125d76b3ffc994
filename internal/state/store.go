// Package state holds the bridge's single source of truth: what the unit
// should do, what it last reported, the remote temperature override and the
// connection states of every link.
package state

import (
	"sync"
	"time"

	"github.com/dzungpv/mitsubishi2MQTT/internal/hvac"
)

// WifiState is the station link state
type WifiState string

const (
	WifiAPFallback WifiState = "ap_fallback"
	WifiConnecting WifiState = "connecting"
	WifiConnected  WifiState = "connected"
)

// MqttState is the broker link state
type MqttState string

const (
	MqttDisconnected MqttState = "disconnected"
	MqttConnecting   MqttState = "connecting"
	MqttConnected    MqttState = "connected"
)

// RemoteTemp is an external room temperature feed overriding the unit's sensor
type RemoteTemp struct {
	Value      float64   `json:"value"`
	Active     bool      `json:"active"`
	LastUpdate time.Time `json:"lastUpdate"`
}

// MqttConnection describes the broker link
type MqttConnection struct {
	State            MqttState `json:"state"`
	Retries          int       `json:"retries"`
	NextAttempt      time.Time `json:"nextAttempt"`
	DisconnectReason string    `json:"disconnectReason,omitempty"`
}

// Snapshot is a consistent copy of the store
type Snapshot struct {
	Desired       hvac.Settings  `json:"desired"`
	Confirmed     hvac.Settings  `json:"confirmed"`
	Status        hvac.Status    `json:"status"`
	LinkConnected bool           `json:"linkConnected"`
	LinkRetries   uint64         `json:"linkRetries"`
	Remote        RemoteTemp     `json:"remoteTemperature"`
	Wifi          WifiState      `json:"wifi"`
	WifiDeadline  time.Time      `json:"wifiDeadline"`
	Mqtt          MqttConnection `json:"mqtt"`
}

// Mode returns the Home Assistant mode for the confirmed settings
func (s Snapshot) Mode() string {
	return hvac.DeriveMode(s.Confirmed)
}

// Action returns the Home Assistant action for the confirmed settings and status
func (s Snapshot) Action() string {
	return hvac.DeriveAction(s.Status, s.Confirmed)
}

// Store is guarded by a single mutex; every setter compares before writing
// and reports whether anything changed.
type Store struct {
	mu sync.RWMutex

	desired       hvac.Settings
	confirmed     hvac.Settings
	status        hvac.Status
	linkConnected bool
	linkRetries   uint64
	remote        RemoteTemp
	wifi          WifiState
	wifiDeadline  time.Time
	mqtt          MqttConnection

	minTemp float64
	maxTemp float64
}

// New creates a store seeded with the unit's defaults
func New() *Store {
	return &Store{
		desired:   hvac.DefaultSettings(),
		confirmed: hvac.DefaultSettings(),
		wifi:      WifiConnecting,
		mqtt:      MqttConnection{State: MqttDisconnected},
		minTemp:   hvac.MinTemperature,
		maxTemp:   hvac.MaxTemperature,
	}
}

// Snapshot returns a copy of the whole store
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		Desired:       s.desired,
		Confirmed:     s.confirmed,
		Status:        s.status,
		LinkConnected: s.linkConnected,
		LinkRetries:   s.linkRetries,
		Remote:        s.remote,
		Wifi:          s.wifi,
		WifiDeadline:  s.wifiDeadline,
		Mqtt:          s.mqtt,
	}
}

// Desired settings

// Desired returns the desired settings
func (s *Store) Desired() hvac.Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.desired
}

// SetDesired replaces the desired settings
func (s *Store) SetDesired(v hvac.Settings) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.desired == v {
		return false
	}
	s.desired = v
	return true
}

// SetPower sets the desired power
func (s *Store) SetPower(power string) bool {
	return s.updateDesired(func(d *hvac.Settings) { d.Power = power })
}

// SetMode sets the desired unit mode
func (s *Store) SetMode(mode string) bool {
	return s.updateDesired(func(d *hvac.Settings) { d.Mode = mode })
}

// SetTemperature sets the desired temperature in °C, clamped to the unit range
func (s *Store) SetTemperature(c float64) bool {
	c = s.ClampTemperature(c)
	return s.updateDesired(func(d *hvac.Settings) { d.Temperature = c })
}

// SetFan sets the desired unit fan speed
func (s *Store) SetFan(fan string) bool {
	return s.updateDesired(func(d *hvac.Settings) { d.Fan = fan })
}

// SetVane sets the desired vertical vane
func (s *Store) SetVane(vane string) bool {
	return s.updateDesired(func(d *hvac.Settings) { d.Vane = vane })
}

// SetWideVane sets the desired horizontal vane
func (s *Store) SetWideVane(vane string) bool {
	return s.updateDesired(func(d *hvac.Settings) { d.WideVane = vane })
}

func (s *Store) updateDesired(fn func(*hvac.Settings)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.desired
	fn(&next)
	if next == s.desired {
		return false
	}
	s.desired = next
	return true
}

// SetTemperatureRange configures the clamp range in °C
func (s *Store) SetTemperatureRange(min, max float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if min >= max {
		return
	}
	s.minTemp, s.maxTemp = min, max
}

// ClampTemperature returns c when inside the configured range, otherwise the default temperature
func (s *Store) ClampTemperature(c float64) float64 {
	s.mu.RLock()
	min, max := s.minTemp, s.maxTemp
	s.mu.RUnlock()
	if c < min || c > max {
		return hvac.DefaultTemperature
	}
	return c
}

// Confirmed settings and status

// Confirmed returns the last settings reported by the unit
func (s *Store) Confirmed() hvac.Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.confirmed
}

// SetConfirmed stores settings reported by the unit
func (s *Store) SetConfirmed(v hvac.Settings) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.confirmed == v {
		return false
	}
	s.confirmed = v
	return true
}

// Status returns the last status reported by the unit
func (s *Store) Status() hvac.Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// SetStatus stores status reported by the unit
func (s *Store) SetStatus(v hvac.Status) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == v {
		return false
	}
	s.status = v
	return true
}

// SetLink records the device link state and its diagnostic retry total
func (s *Store) SetLink(connected bool, totalRetries uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.linkConnected == connected && s.linkRetries == totalRetries {
		return false
	}
	s.linkConnected = connected
	s.linkRetries = totalRetries
	return true
}

// LinkConnected reports whether the unit answers
func (s *Store) LinkConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.linkConnected
}

// Remote temperature

// RemoteTemp returns the remote temperature override
func (s *Store) RemoteTemp() RemoteTemp {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.remote
}

// ActivateRemoteTemp sets the override value and restarts its TTL clock
func (s *Store) ActivateRemoteTemp(c float64, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remote = RemoteTemp{Value: c, Active: true, LastUpdate: now}
}

// ClearRemoteTemp disables the override; returns false when it was not active
func (s *Store) ClearRemoteTemp() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.remote.Active {
		return false
	}
	s.remote = RemoteTemp{LastUpdate: s.remote.LastUpdate}
	return true
}

// Connection states

// Wifi returns the station link state
func (s *Store) Wifi() WifiState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.wifi
}

// SetWifi records the station link state and its retry deadline
func (s *Store) SetWifi(st WifiState, deadline time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := s.wifi != st
	s.wifi = st
	s.wifiDeadline = deadline
	return changed
}

// Mqtt returns the broker link description
func (s *Store) Mqtt() MqttConnection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mqtt
}

// SetMqtt records the broker link description
func (s *Store) SetMqtt(c MqttConnection) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mqtt == c {
		return false
	}
	s.mqtt = c
	return true
}
