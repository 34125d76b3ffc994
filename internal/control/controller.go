// Package control turns user commands, from MQTT or the web UI, into desired
// setting changes and a debounced push to the unit.
package control

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dzungpv/mitsubishi2MQTT/internal/hvac"
	"github.com/dzungpv/mitsubishi2MQTT/internal/logger"
	"github.com/dzungpv/mitsubishi2MQTT/internal/state"
)

var (
	// ErrUnknownCommand is returned for a command kind the controller does not handle
	ErrUnknownCommand = errors.New("control: unknown command")

	// ErrInvalidValue is returned when a command value cannot be used
	ErrInvalidValue = errors.New("control: invalid value")
)

// Kind is the setting a command changes
type Kind string

const (
	KindPower             Kind = "power"
	KindMode              Kind = "mode"
	KindTemperature       Kind = "temperature"
	KindFan               Kind = "fan"
	KindVane              Kind = "vane"
	KindWideVane          Kind = "wideVane"
	KindRemoteTemperature Kind = "remoteTemperature"
)

// Command is a single user request in Home Assistant vocabulary.
// Temperatures are in the configured display unit.
type Command struct {
	Kind  Kind   `json:"kind"`
	Value string `json:"value"`
}

// Patch holds the fields a command changes in the published state, so
// the UI can show intent before the unit confirms it
type Patch struct {
	Mode        string
	Action      string
	Temperature *float64
	Fan         string
	Vane        string
	WideVane    string
}

// Empty reports whether the patch changes nothing
func (p Patch) Empty() bool {
	return p == Patch{}
}

// Pusher schedules writes to the unit
type Pusher interface {
	RequestDesired(now time.Time)
	SetRemoteTemperature(c float64, now time.Time) error
}

// Controller applies commands to the store. Like the engine it feeds, it
// must only be called from the goroutine that owns the tick.
type Controller struct {
	store      *state.Store
	pusher     Pusher
	fahrenheit bool
	log        *logger.Logger
}

// New creates a controller
func New(store *state.Store, pusher Pusher, fahrenheit bool, log *logger.Logger) *Controller {
	if log == nil {
		log = logger.Nop()
	}
	return &Controller{
		store:      store,
		pusher:     pusher,
		fahrenheit: fahrenheit,
		log:        log.Named("control"),
	}
}

// Fahrenheit reports whether command temperatures are in °F
func (c *Controller) Fahrenheit() bool {
	return c.fahrenheit
}

// Apply runs cmd and returns the optimistic state patch for it
func (c *Controller) Apply(cmd Command, now time.Time) (Patch, error) {
	value := strings.TrimSpace(cmd.Value)

	var (
		patch Patch
		err   error
	)
	switch cmd.Kind {
	case KindPower:
		patch, err = c.power(value)
	case KindMode:
		patch, err = c.mode(value)
	case KindTemperature:
		patch, err = c.temperature(value)
	case KindFan:
		c.store.SetFan(hvac.FanFromHA(value))
		patch = Patch{Fan: value}
	case KindVane:
		if !hvac.ValidVane(value) {
			return Patch{}, fmt.Errorf("%w: vane %q", ErrInvalidValue, value)
		}
		c.store.SetVane(value)
		patch = Patch{Vane: value}
	case KindWideVane:
		if !hvac.ValidWideVane(value) {
			return Patch{}, fmt.Errorf("%w: wide vane %q", ErrInvalidValue, value)
		}
		c.store.SetWideVane(value)
		patch = Patch{WideVane: value}
	case KindRemoteTemperature:
		return Patch{}, c.remoteTemperature(value, now)
	default:
		return Patch{}, fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Kind)
	}
	if err != nil {
		return Patch{}, err
	}

	c.pusher.RequestDesired(now)
	c.log.Debugw("command applied", "kind", cmd.Kind, "value", value)
	return patch, nil
}

func (c *Controller) power(value string) (Patch, error) {
	switch strings.ToUpper(value) {
	case hvac.PowerOff:
		c.store.SetPower(hvac.PowerOff)
		return Patch{Mode: hvac.HAModeOff, Action: hvac.ActionOff}, nil
	case hvac.PowerOn:
		// turning on also re-sends mode and a usable set point
		desired := c.store.Desired()
		temp := c.store.ClampTemperature(desired.Temperature)
		c.store.SetTemperature(temp)
		c.store.SetPower(hvac.PowerOn)

		mode := hvac.DeriveMode(c.store.Desired())
		local := hvac.ToLocalUnit(temp, c.fahrenheit)
		return Patch{Mode: mode, Action: hvac.OptimisticAction(mode), Temperature: &local}, nil
	default:
		return Patch{}, fmt.Errorf("%w: power %q", ErrInvalidValue, value)
	}
}

func (c *Controller) mode(value string) (Patch, error) {
	haMode := strings.ToLower(value)
	if haMode == hvac.HAModeOff {
		c.store.SetPower(hvac.PowerOff)
		return Patch{Mode: hvac.HAModeOff, Action: hvac.ActionOff}, nil
	}

	mode, ok := hvac.ModeFromHA(haMode)
	if !ok {
		return Patch{}, fmt.Errorf("%w: mode %q", ErrInvalidValue, value)
	}
	c.store.SetPower(hvac.PowerOn)
	c.store.SetMode(mode)
	return Patch{Mode: haMode, Action: hvac.OptimisticAction(haMode)}, nil
}

func (c *Controller) temperature(value string) (Patch, error) {
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return Patch{}, fmt.Errorf("%w: temperature %q", ErrInvalidValue, value)
	}
	celsius := c.store.ClampTemperature(hvac.FromLocalUnit(v, c.fahrenheit))
	c.store.SetTemperature(celsius)

	local := hvac.ToLocalUnit(celsius, c.fahrenheit)
	return Patch{Temperature: &local}, nil
}

func (c *Controller) remoteTemperature(value string, now time.Time) error {
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("%w: remote temperature %q", ErrInvalidValue, value)
	}
	if v == 0 {
		return c.pusher.SetRemoteTemperature(0, now)
	}
	return c.pusher.SetRemoteTemperature(hvac.FromLocalUnit(v, c.fahrenheit), now)
}
