package hvac

import (
	"math"
	"sync"
)

// Simulation constants
const (
	simDriftPerSync = 0.1 // °C the room moves towards the set point per sync
	simDeadband     = 0.5 // °C around the set point where the compressor idles
	simEventBuffer  = 32
)

// SimLink is an in-memory unit used when no serial port is configured.
// It answers every sync, drifts the room temperature towards the set point
// and reports changes on its event channel.
type SimLink struct {
	mu        sync.Mutex
	connected bool
	settings  Settings
	status    Status
	remote    float64
	events    chan Event
}

// NewSimLink creates a simulated unit at the given room temperature
func NewSimLink(room float64) *SimLink {
	return &SimLink{
		settings: DefaultSettings(),
		status:   Status{RoomTemperature: room},
		events:   make(chan Event, simEventBuffer),
	}
}

// Connected implements DeviceLink
func (l *SimLink) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connected
}

// Sync implements DeviceLink
func (l *SimLink) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.connected {
		// first sync "connects" and reports the current settings
		l.connected = true
		l.emit(Event{Kind: EventSettingsChanged, Settings: l.settings})
	}

	next := l.status
	if l.remote == 0 {
		next.RoomTemperature = l.drift(next.RoomTemperature)
	} else {
		next.RoomTemperature = l.remote
	}
	next.Operating = l.settings.IsOn() && math.Abs(next.RoomTemperature-l.settings.Temperature) > simDeadband
	next.CompressorFrequency = 0
	if next.Operating && l.settings.Mode != ModeFan {
		next.CompressorFrequency = 30 + int(math.Abs(next.RoomTemperature-l.settings.Temperature)*10)
	}

	if next != l.status {
		l.status = next
		l.emit(Event{Kind: EventStatusChanged, Status: next})
	}
	return nil
}

// drift moves the room temperature one step towards the set point while running
func (l *SimLink) drift(room float64) float64 {
	if !l.settings.IsOn() || l.settings.Mode == ModeFan {
		return room
	}
	diff := l.settings.Temperature - room
	if math.Abs(diff) <= simDriftPerSync {
		return l.settings.Temperature
	}
	return math.Round((room+math.Copysign(simDriftPerSync, diff))*10) / 10
}

// Settings implements DeviceLink
func (l *SimLink) Settings() Settings {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.settings
}

// Status implements DeviceLink
func (l *SimLink) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.status
}

// Apply implements DeviceLink
func (l *SimLink) Apply(s Settings) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.connected {
		return ErrNotConnected
	}
	if s != l.settings {
		l.settings = s
		l.emit(Event{Kind: EventSettingsChanged, Settings: s})
	}
	return nil
}

// SetRemoteTemperature implements DeviceLink
func (l *SimLink) SetRemoteTemperature(c float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.remote = c
	return nil
}

// SendCustomPacket implements DeviceLink
func (l *SimLink) SendCustomPacket(packet []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.connected {
		return ErrNotConnected
	}
	l.emit(Event{Kind: EventPacket, Packet: append([]byte(nil), packet...), Direction: "packetSent"})
	return nil
}

// Events implements DeviceLink
func (l *SimLink) Events() <-chan Event {
	return l.events
}

// emit delivers ev without blocking; a full buffer drops the event. Caller holds mu.
func (l *SimLink) emit(ev Event) {
	select {
	case l.events <- ev:
	default:
	}
}
