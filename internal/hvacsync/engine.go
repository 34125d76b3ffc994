// Package hvacsync keeps the unit in step with the state store: it pushes
// desired settings to the device link after a short debounce, polls the link
// with backoff while it is down, folds reported changes back into the store
// and expires the remote temperature override.
package hvacsync

import (
	"errors"
	"time"

	"github.com/dzungpv/mitsubishi2MQTT/internal/hvac"
	"github.com/dzungpv/mitsubishi2MQTT/internal/logger"
	"github.com/dzungpv/mitsubishi2MQTT/internal/state"
)

// Config holds the engine timings
type Config struct {
	DebounceDelay time.Duration // quiet period before a push is written
	GraceWindow   time.Duration // reported changes after a push are not re-broadcast within this window
	RetryBase     time.Duration // first sync interval while the link is down
	RetryCap      time.Duration // longest sync interval while the link is down
	MaxRetries    int
	RemoteTempTTL time.Duration
}

// DefaultConfig returns the timings used when none are configured
func DefaultConfig() Config {
	return Config{
		DebounceDelay: 10 * time.Millisecond,
		GraceWindow:   time.Second,
		RetryBase:     time.Second,
		RetryCap:      2 * time.Minute,
		MaxRetries:    8,
		RemoteTempTTL: 5 * time.Minute,
	}
}

// TickResult reports what a PollOnTick call did
type TickResult struct {
	Pushed        bool // desired settings were written to the unit
	RemoteExpired bool // the remote temperature override timed out
	LinkChanged   bool // link connected flag or retry total changed
}

// Stats are diagnostic counters
type Stats struct {
	Pushes       uint64 `json:"pushes"`
	PushErrors   uint64 `json:"pushErrors"`
	Retries      int    `json:"retries"`
	TotalRetries uint64 `json:"totalRetries"`
	Pending      bool   `json:"pending"`
}

// Engine must be driven from a single goroutine; it is not safe for concurrent use.
type Engine struct {
	cfg     Config
	link    hvac.DeviceLink
	store   *state.Store
	log     *logger.Logger
	backoff *Backoff

	lastPushed hvac.Settings
	pending    bool
	deadline   time.Time
	lastPush   time.Time
	lastSync   time.Time

	pushes     uint64
	pushErrors uint64
}

// New creates an engine; the store's current desired settings count as already pushed
func New(cfg Config, link hvac.DeviceLink, store *state.Store, log *logger.Logger) *Engine {
	if log == nil {
		log = logger.Nop()
	}
	return &Engine{
		cfg:        cfg,
		link:       link,
		store:      store,
		log:        log.Named("hvac"),
		backoff:    NewBackoff(cfg.RetryBase, cfg.RetryCap, cfg.MaxRetries),
		lastPushed: store.Desired(),
	}
}

// RequestPush stores s as desired and schedules a write DebounceDelay from now.
// A later request before the deadline replaces both the value and the deadline.
func (e *Engine) RequestPush(s hvac.Settings, now time.Time) {
	e.store.SetDesired(s)
	e.pending = true
	e.deadline = now.Add(e.cfg.DebounceDelay)
}

// RequestDesired schedules a push of whatever the store currently holds as desired
func (e *Engine) RequestDesired(now time.Time) {
	e.RequestPush(e.store.Desired(), now)
}

// PollOnTick runs one engine step: remote temperature expiry, the debounced
// push, then a link sync (gated by backoff while the link is down).
func (e *Engine) PollOnTick(now time.Time) TickResult {
	var res TickResult

	res.RemoteExpired = e.expireRemoteTemp(now)
	res.Pushed = e.flushPush(now)

	if e.link.Connected() {
		e.backoff.Reset()
		if err := e.link.Sync(); err != nil {
			e.log.Debugw("sync failed", "error", err)
		}
	} else if e.lastSync.IsZero() || now.Sub(e.lastSync) >= e.backoff.Interval() {
		e.lastSync = now
		e.backoff.Attempt()
		if err := e.link.Sync(); err != nil {
			e.log.Debugw("sync failed", "error", err)
		}
		if e.link.Connected() {
			e.backoff.Reset()
			e.log.Infow("device link connected", "attempts", e.backoff.Total())
		} else {
			e.backoff.Fail()
			e.log.Debugw("device link not connected", "retries", e.backoff.Retries(), "next", e.backoff.Interval())
		}
	}

	res.LinkChanged = e.store.SetLink(e.link.Connected(), e.backoff.Total())
	return res
}

// flushPush writes desired settings once the debounce deadline has passed
func (e *Engine) flushPush(now time.Time) bool {
	if !e.pending || now.Before(e.deadline) {
		return false
	}

	desired := e.store.Desired()
	if desired == e.lastPushed {
		e.pending = false
		return false
	}
	if !e.link.Connected() {
		// written as soon as the link comes back
		return false
	}

	if err := e.link.Apply(desired); err != nil {
		e.pushErrors++
		e.deadline = now.Add(e.cfg.RetryBase)
		if !errors.Is(err, hvac.ErrNotConnected) {
			e.log.Warnw("push failed", "error", err)
		}
		return false
	}

	e.lastPushed = desired
	e.pending = false
	e.lastPush = now
	e.pushes++
	e.log.Debugw("pushed settings",
		"power", desired.Power,
		"mode", desired.Mode,
		"temperature", desired.Temperature,
		"fan", desired.Fan,
		"vane", desired.Vane,
		"wideVane", desired.WideVane,
	)
	return true
}

// HandleEvent folds a device link event into the store. It returns true when
// the change should be broadcast; changes inside the grace window after a
// push are stored but not broadcast.
func (e *Engine) HandleEvent(ev hvac.Event, now time.Time) bool {
	switch ev.Kind {
	case hvac.EventSettingsChanged:
		changed := e.store.SetConfirmed(ev.Settings)
		if e.inGrace(now) {
			return false
		}
		if !e.pending {
			// changed at the unit itself (remote control); adopt as the new baseline
			e.store.SetDesired(ev.Settings)
			e.lastPushed = ev.Settings
		}
		return changed

	case hvac.EventStatusChanged:
		changed := e.store.SetStatus(ev.Status)
		if e.inGrace(now) || ev.Status.RoomTemperature == 0 {
			return false
		}
		return changed

	default:
		return false
	}
}

func (e *Engine) inGrace(now time.Time) bool {
	return !e.lastPush.IsZero() && now.Sub(e.lastPush) < e.cfg.GraceWindow
}

// SetRemoteTemperature feeds an external room temperature in °C. Zero
// disables the override; any other value activates it and restarts its TTL.
func (e *Engine) SetRemoteTemperature(c float64, now time.Time) error {
	if c == 0 {
		e.store.ClearRemoteTemp()
		return e.link.SetRemoteTemperature(0)
	}
	e.store.ActivateRemoteTemp(c, now)
	return e.link.SetRemoteTemperature(c)
}

// expireRemoteTemp clears an override that has not been refreshed within the TTL
func (e *Engine) expireRemoteTemp(now time.Time) bool {
	r := e.store.RemoteTemp()
	if !r.Active || now.Sub(r.LastUpdate) <= e.cfg.RemoteTempTTL {
		return false
	}
	e.store.ClearRemoteTemp()
	if err := e.link.SetRemoteTemperature(0); err != nil {
		e.log.Warnw("failed to restore internal sensor", "error", err)
	}
	e.log.Infow("remote temperature expired", "value", r.Value, "lastUpdate", r.LastUpdate)
	return true
}

// Stats returns the diagnostic counters
func (e *Engine) Stats() Stats {
	return Stats{
		Pushes:       e.pushes,
		PushErrors:   e.pushErrors,
		Retries:      e.backoff.Retries(),
		TotalRetries: e.backoff.Total(),
		Pending:      e.pending,
	}
}
