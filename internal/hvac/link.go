package hvac

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrNotConnected is returned when the unit does not answer on the link
	ErrNotConnected = errors.New("hvac: device link not connected")

	// ErrPacketTooLong is returned for custom packets over MaxCustomPacket bytes
	ErrPacketTooLong = errors.New("hvac: custom packet too long")
)

// MaxCustomPacket is the largest raw packet accepted on the custom send topic
const MaxCustomPacket = 20

// EventKind identifies what changed on the device link
type EventKind int

const (
	// EventSettingsChanged is delivered when the unit reports new settings
	EventSettingsChanged EventKind = iota
	// EventStatusChanged is delivered when the unit reports new status
	EventStatusChanged
	// EventPacket is delivered for every raw packet when packet debugging is wanted
	EventPacket
)

// String returns the event kind name
func (k EventKind) String() string {
	switch k {
	case EventSettingsChanged:
		return "settings_changed"
	case EventStatusChanged:
		return "status_changed"
	case EventPacket:
		return "packet"
	default:
		return "unknown"
	}
}

// Event is a change notification from the device link
type Event struct {
	Kind     EventKind
	Settings Settings
	Status   Status

	// Packet and Direction are set for EventPacket
	Packet    []byte
	Direction string
}

// DeviceLink is the serial driver for the unit. The wire protocol lives behind it.
//
// Implementations deliver change notifications on Events instead of calling back
// into the bridge, so the sync engine decides when to look at them.
type DeviceLink interface {
	// Connected reports whether the unit answered recently
	Connected() bool

	// Sync runs one read cycle against the unit
	Sync() error

	// Settings returns the last settings read from the unit
	Settings() Settings

	// Status returns the last status read from the unit
	Status() Status

	// Apply writes settings to the unit
	Apply(s Settings) error

	// SetRemoteTemperature feeds an external room temperature in °C; 0 reverts to the internal sensor
	SetRemoteTemperature(c float64) error

	// SendCustomPacket writes raw bytes to the unit
	SendCustomPacket(packet []byte) error

	// Events returns the channel change notifications are delivered on
	Events() <-chan Event
}

// ParseCustomPacket parses space separated hex bytes ("fc 42 01 30 10").
// Input beyond MaxCustomPacket bytes is dropped.
func ParseCustomPacket(s string) ([]byte, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return nil, fmt.Errorf("hvac: empty custom packet")
	}
	if len(fields) > MaxCustomPacket {
		fields = fields[:MaxCustomPacket]
	}

	packet := make([]byte, 0, len(fields))
	for _, f := range fields {
		b, err := strconv.ParseUint(f, 16, 8)
		if err != nil {
			return nil, fmt.Errorf("hvac: invalid packet byte %q: %w", f, err)
		}
		packet = append(packet, byte(b))
	}
	return packet, nil
}

// FormatPacket renders a packet as zero padded lowercase hex bytes separated by spaces
func FormatPacket(packet []byte) string {
	var b strings.Builder
	for i, c := range packet {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%02x", c)
	}
	return b.String()
}
