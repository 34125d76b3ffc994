package storage

import (
	"errors"
	"time"

	"github.com/dzungpv/mitsubishi2MQTT/internal/config"
)

var (
	// ErrNotFound is returned when a record has never been saved
	ErrNotFound = errors.New("record not found")

	// ErrCorrupt is returned when a stored record is oversized or unreadable
	ErrCorrupt = errors.New("record corrupt")
)

// Record keys
const (
	KeyWifi   = "wifi"
	KeyMqtt   = "mqtt"
	KeyUnit   = "unit"
	KeyOthers = "others"
)

// Storage persists the device records and the console log.
// Every Load method returns usable defaults alongside any error.
type Storage interface {
	// LoadWifi returns the wifi record; ErrNotFound when never saved
	LoadWifi() (config.WifiRecord, error)
	SaveWifi(r config.WifiRecord) error

	// LoadMqtt returns the broker record; ErrNotFound when never saved
	LoadMqtt() (config.MqttRecord, error)
	SaveMqtt(r config.MqttRecord) error

	LoadUnit() (config.UnitRecord, error)
	SaveUnit(r config.UnitRecord) error

	LoadOthers() (config.OthersRecord, error)
	SaveOthers(r config.OthersRecord) error

	// DeleteAll removes every record, used by factory reset
	DeleteAll() error

	// AppendConsole stores one console entry keyed by time
	AppendConsole(ts time.Time, entry []byte) error

	// Console returns up to limit entries, oldest first
	Console(limit int) ([][]byte, error)

	// TrimConsole keeps only the newest max entries
	TrimConsole(max int) error

	// Close closes the storage
	Close() error
}
