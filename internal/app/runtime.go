// Package app wires the bridge together and runs the loop that owns the
// sync engine, the broker bridge and the connectivity manager.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dzungpv/mitsubishi2MQTT/internal/api"
	"github.com/dzungpv/mitsubishi2MQTT/internal/control"
	"github.com/dzungpv/mitsubishi2MQTT/internal/events"
	"github.com/dzungpv/mitsubishi2MQTT/internal/hvac"
	"github.com/dzungpv/mitsubishi2MQTT/internal/hvacsync"
	"github.com/dzungpv/mitsubishi2MQTT/internal/logger"
	"github.com/dzungpv/mitsubishi2MQTT/internal/mqtt"
	"github.com/dzungpv/mitsubishi2MQTT/internal/state"
	"github.com/dzungpv/mitsubishi2MQTT/internal/telemetry"
)

// InboxSize is how many commands may wait for the next tick
const InboxSize = 32

// RestartError is returned by Run when a reboot request fell due
type RestartError struct {
	Reason string
}

func (e *RestartError) Error() string {
	return fmt.Sprintf("restart requested: %s", e.Reason)
}

// StateBroadcaster pushes state documents to live UI clients
type StateBroadcaster interface {
	BroadcastState(p mqtt.StatePayload)
}

// Ticker is a component stepped once per tick
type Ticker interface {
	OnTick(now time.Time)
}

// RebootChecker fires due reboot requests
type RebootChecker interface {
	Check(now time.Time) bool
}

// RuntimeDeps are the components the loop drives. Bridge, Network,
// Telemetry and Hub may be nil.
type RuntimeDeps struct {
	Store      *state.Store
	Link       hvac.DeviceLink
	Engine     *hvacsync.Engine
	Controller *control.Controller
	Bridge     *mqtt.Bridge
	Network    Ticker
	Rebooter   RebootChecker
	Restart    <-chan string // receives the reason when the reboot action runs
	Events     *events.Store
	Telemetry  *telemetry.Exporter
	Hub        StateBroadcaster
	Log        *logger.Logger
}

// Runtime is the single owner of engine, controller and bridge state.
// Other goroutines reach it only through Submit and Stats.
type Runtime struct {
	d     RuntimeDeps
	log   *logger.Logger
	inbox chan control.Command

	statsMu sync.RWMutex
	stats   hvacsync.Stats

	linkUp    bool
	mqttState state.MqttState
}

// NewRuntime creates a runtime
func NewRuntime(d RuntimeDeps) *Runtime {
	if d.Log == nil {
		d.Log = logger.Nop()
	}
	if d.Events == nil {
		d.Events = events.NewStore(100)
	}
	return &Runtime{
		d:         d,
		log:       d.Log.Named("runtime"),
		inbox:     make(chan control.Command, InboxSize),
		mqttState: state.MqttDisconnected,
	}
}

// Submit queues a command for the next tick without blocking
func (r *Runtime) Submit(cmd control.Command) error {
	select {
	case r.inbox <- cmd:
		return nil
	default:
		return api.ErrInboxFull
	}
}

// Stats returns the engine counters as of the last tick
func (r *Runtime) Stats() hvacsync.Stats {
	r.statsMu.RLock()
	defer r.statsMu.RUnlock()
	return r.stats
}

// Run ticks every interval until ctx is done or a reboot falls due
func (r *Runtime) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.log.Infow("runtime started", "tick", interval)
	for {
		select {
		case <-ctx.Done():
			r.shutdown()
			return ctx.Err()
		case reason := <-r.d.Restart:
			r.shutdown()
			return &RestartError{Reason: reason}
		case now := <-ticker.C:
			r.Tick(now)
		}
	}
}

// Tick runs one step. Inbound commands are applied before the engine
// decides whether to push, so a command is written in the tick it arrives
// once its debounce has passed.
func (r *Runtime) Tick(now time.Time) {
	r.drainInbox(now)

	if r.d.Bridge != nil {
		r.d.Bridge.Tick(now)
	}

	res := r.d.Engine.PollOnTick(now)
	if res.RemoteExpired {
		r.notify()
	}
	r.drainLink(now)
	r.trackConnections()

	if r.d.Network != nil {
		r.d.Network.OnTick(now)
	}
	if r.d.Rebooter != nil {
		r.d.Rebooter.Check(now)
	}

	stats := r.d.Engine.Stats()
	r.statsMu.Lock()
	r.stats = stats
	r.statsMu.Unlock()

	if r.d.Telemetry != nil {
		r.d.Telemetry.Observe(now, r.d.Store.Snapshot())
	}
}

func (r *Runtime) drainInbox(now time.Time) {
	for {
		select {
		case cmd := <-r.inbox:
			patch, err := r.d.Controller.Apply(cmd, now)
			if err != nil {
				r.log.Warnw("command rejected", "kind", cmd.Kind, "value", cmd.Value, "error", err)
				continue
			}
			if r.d.Hub != nil && !patch.Empty() {
				p := mqtt.NewStatePayload(r.d.Store.Snapshot(), r.d.Controller.Fahrenheit())
				r.d.Hub.BroadcastState(p.WithPatch(patch))
			}
		default:
			return
		}
	}
}

func (r *Runtime) drainLink(now time.Time) {
	for {
		select {
		case ev := <-r.d.Link.Events():
			if ev.Kind == hvac.EventPacket {
				if r.d.Bridge != nil {
					r.d.Bridge.PublishPacket(ev.Direction, ev.Packet)
				}
				continue
			}
			if r.d.Engine.HandleEvent(ev, now) {
				r.notify()
			}
		default:
			return
		}
	}
}

// notify publishes the confirmed state to the broker and the UI
func (r *Runtime) notify() {
	if r.d.Bridge != nil {
		r.d.Bridge.PublishState()
	}
	if r.d.Hub != nil {
		r.d.Hub.BroadcastState(mqtt.NewStatePayload(r.d.Store.Snapshot(), r.d.Controller.Fahrenheit()))
	}
}

// trackConnections records link and broker transitions in the console log
func (r *Runtime) trackConnections() {
	snap := r.d.Store.Snapshot()

	if snap.LinkConnected != r.linkUp {
		r.linkUp = snap.LinkConnected
		if r.linkUp {
			r.d.Events.System(events.EventLinkConnected, true, fmt.Sprintf("after %d attempts", snap.LinkRetries))
		} else {
			r.d.Events.System(events.EventLinkLost, false, "")
		}
	}

	if st := snap.Mqtt.State; st != r.mqttState {
		prev := r.mqttState
		r.mqttState = st
		switch {
		case st == state.MqttConnected:
			r.d.Events.System(events.EventMqttConnected, true, "")
		case prev == state.MqttConnected:
			r.d.Events.System(events.EventMqttDisconnected, false, snap.Mqtt.DisconnectReason)
		}
	}
}

func (r *Runtime) shutdown() {
	if r.d.Bridge != nil {
		r.d.Bridge.Close()
	}
	if r.d.Telemetry != nil {
		r.d.Telemetry.Close()
	}
	r.log.Infow("runtime stopped")
}
