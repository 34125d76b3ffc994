// Package hvac describes the heat pump as seen through its device link:
// raw settings and status, the Home Assistant vocabulary they map to,
// and the events a link delivers when either changes.
package hvac

import (
	"math"
	"strings"
)

// Power values used by the unit
const (
	PowerOn  = "ON"
	PowerOff = "OFF"
)

// Raw unit modes
const (
	ModeHeat = "HEAT"
	ModeDry  = "DRY"
	ModeCool = "COOL"
	ModeFan  = "FAN"
	ModeAuto = "AUTO"
)

// Home Assistant climate modes
const (
	HAModeOff      = "off"
	HAModeHeat     = "heat"
	HAModeCool     = "cool"
	HAModeDry      = "dry"
	HAModeFanOnly  = "fan_only"
	HAModeHeatCool = "heat_cool"
)

// Home Assistant climate actions
const (
	ActionOff     = "off"
	ActionIdle    = "idle"
	ActionHeating = "heating"
	ActionCooling = "cooling"
	ActionDrying  = "drying"
	ActionFan     = "fan"
)

// Temperature limits of the unit, in °C
const (
	MinTemperature     = 16.0
	MaxTemperature     = 31.0
	DefaultTemperature = 23.0
)

// Settings is what the unit is told to do. Temperature is always °C.
// Settings is comparable so desired/pushed/confirmed values can be checked with ==.
type Settings struct {
	Power       string  `json:"power"`
	Mode        string  `json:"mode"`
	Temperature float64 `json:"temperature"`
	Fan         string  `json:"fan"`
	Vane        string  `json:"vane"`
	WideVane    string  `json:"wideVane"`
}

// IsOn reports whether the settings have the unit powered
func (s Settings) IsOn() bool {
	return strings.EqualFold(s.Power, PowerOn)
}

// Status is what the unit reports about itself
type Status struct {
	RoomTemperature     float64 `json:"roomTemperature"`
	Operating           bool    `json:"operating"`
	CompressorFrequency int     `json:"compressorFrequency"`
}

// DefaultSettings are used until the unit reports its own settings
func DefaultSettings() Settings {
	return Settings{
		Power:       PowerOff,
		Mode:        ModeAuto,
		Temperature: DefaultTemperature,
		Fan:         "AUTO",
		Vane:        "AUTO",
		WideVane:    "|",
	}
}

// VaneModes are the vertical vane positions the unit accepts
var VaneModes = []string{"AUTO", "1", "2", "3", "4", "5", "SWING"}

// WideVaneModes are the horizontal vane positions the unit accepts
var WideVaneModes = []string{"<<", "<", "|", ">", ">>", "<>", "SWING"}

// fanHPToHA maps unit fan speeds to Home Assistant fan modes
var fanHPToHA = map[string]string{
	"QUIET": "diffuse",
	"1":     "low",
	"2":     "medium",
	"3":     "middle",
	"4":     "high",
	"AUTO":  "auto",
}

// FanToHA converts a unit fan speed to a Home Assistant fan mode. Unknown values map to "auto".
func FanToHA(fan string) string {
	if v, ok := fanHPToHA[strings.ToUpper(fan)]; ok {
		return v
	}
	return "auto"
}

// FanFromHA converts a Home Assistant fan mode to a unit fan speed. Unknown values map to "AUTO".
func FanFromHA(fan string) string {
	needle := strings.ToLower(strings.TrimSpace(fan))
	for hp, ha := range fanHPToHA {
		if ha == needle {
			return hp
		}
	}
	return "AUTO"
}

// ModeFromHA converts a Home Assistant mode (other than "off") to the unit mode.
// The second result is false for unknown modes.
func ModeFromHA(mode string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case HAModeHeatCool:
		return ModeAuto, true
	case HAModeHeat:
		return ModeHeat, true
	case HAModeCool:
		return ModeCool, true
	case HAModeDry:
		return ModeDry, true
	case HAModeFanOnly:
		return ModeFan, true
	default:
		return "", false
	}
}

// ValidVane reports whether v is a known vertical vane position
func ValidVane(v string) bool {
	return contains(VaneModes, v)
}

// ValidWideVane reports whether v is a known horizontal vane position
func ValidWideVane(v string) bool {
	return contains(WideVaneModes, v)
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// ToFahrenheit converts °C to °F
func ToFahrenheit(c float64) float64 {
	return math.Round((c*1.8+32)*10) / 10
}

// ToCelsius converts °F to °C, rounded to the unit's half degree resolution
func ToCelsius(f float64) float64 {
	return math.Round((f-32)/1.8*2) / 2
}

// ToLocalUnit converts a °C value for display
func ToLocalUnit(c float64, fahrenheit bool) float64 {
	if fahrenheit {
		return ToFahrenheit(c)
	}
	return c
}

// FromLocalUnit converts a displayed value back to °C
func FromLocalUnit(v float64, fahrenheit bool) float64 {
	if fahrenheit {
		return ToCelsius(v)
	}
	return v
}
