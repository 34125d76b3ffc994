package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dzungpv/mitsubishi2MQTT/internal/control"
	"github.com/dzungpv/mitsubishi2MQTT/internal/events"
	"github.com/dzungpv/mitsubishi2MQTT/internal/hvac"
	"github.com/dzungpv/mitsubishi2MQTT/internal/hvacsync"
	"github.com/dzungpv/mitsubishi2MQTT/internal/mqtt"
	"github.com/dzungpv/mitsubishi2MQTT/internal/state"
)

// ErrInboxFull is returned by an Inbox that cannot take more commands
var ErrInboxFull = errors.New("command queue full")

// maxCommands bounds one control request
const maxCommands = 8

var commandKinds = map[control.Kind]bool{
	control.KindPower:             true,
	control.KindMode:              true,
	control.KindTemperature:       true,
	control.KindFan:               true,
	control.KindVane:              true,
	control.KindWideVane:          true,
	control.KindRemoteTemperature: true,
}

// StatusHandler serves the unit state and accepts control commands
type StatusHandler struct {
	store      *state.Store
	inbox      Inbox
	stats      StatsSource
	rebooter   Rebooter
	info       mqtt.InfoSource
	events     *events.Store
	fahrenheit bool
	version    string
	started    time.Time
}

// NewStatusHandler creates a status handler
func NewStatusHandler(deps Deps) *StatusHandler {
	return &StatusHandler{
		store:      deps.Store,
		inbox:      deps.Inbox,
		stats:      deps.Stats,
		rebooter:   deps.Rebooter,
		info:       deps.Info,
		events:     deps.Events,
		fahrenheit: deps.Fahrenheit,
		version:    deps.Version,
		started:    time.Now(),
	}
}

// StatusResponse is the full diagnostic view of the bridge
type StatusResponse struct {
	Version       string               `json:"version"`
	Fahrenheit    bool                 `json:"fahrenheit"`
	State         mqtt.StatePayload    `json:"state"`
	Desired       hvac.Settings        `json:"desired"`
	Remote        state.RemoteTemp     `json:"remoteTemperature"`
	LinkConnected bool                 `json:"linkConnected"`
	LinkRetries   uint64               `json:"linkRetries"`
	Wifi          state.WifiState      `json:"wifi"`
	Mqtt          state.MqttConnection `json:"mqtt"`
	Info          mqtt.InfoPayload     `json:"info"`
	Engine        hvacsync.Stats       `json:"engine"`
	RebootPending bool                 `json:"rebootPending"`
}

func (h *StatusHandler) statePayload() mqtt.StatePayload {
	return mqtt.NewStatePayload(h.store.Snapshot(), h.fahrenheit)
}

// Status handles GET /api/status
func (h *StatusHandler) Status(w http.ResponseWriter, r *http.Request) {
	snap := h.store.Snapshot()
	resp := StatusResponse{
		Version:       h.version,
		Fahrenheit:    h.fahrenheit,
		State:         mqtt.NewStatePayload(snap, h.fahrenheit),
		Desired:       snap.Desired,
		Remote:        snap.Remote,
		LinkConnected: snap.LinkConnected,
		LinkRetries:   snap.LinkRetries,
		Wifi:          snap.Wifi,
		Mqtt:          snap.Mqtt,
		Info:          mqtt.NewInfoPayload(snap.LinkConnected, h.info, true),
	}
	if h.stats != nil {
		resp.Engine = h.stats.Stats()
	}
	if h.rebooter != nil {
		resp.RebootPending = h.rebooter.Pending()
	}
	writeJSON(w, http.StatusOK, resp)
}

// Control handles GET /api/control
func (h *StatusHandler) Control(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.statePayload())
}

// ControlRequest carries one command, or several in Commands
type ControlRequest struct {
	Kind     control.Kind      `json:"kind,omitempty"`
	Value    string            `json:"value,omitempty"`
	Commands []control.Command `json:"commands,omitempty"`
}

// Submit handles POST /api/control. Commands are applied by the runtime
// loop on its next tick.
func (h *StatusHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req ControlRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	cmds := req.Commands
	if req.Kind != "" {
		cmds = append([]control.Command{{Kind: req.Kind, Value: req.Value}}, cmds...)
	}
	if len(cmds) == 0 || len(cmds) > maxCommands {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("between 1 and %d commands required", maxCommands))
		return
	}
	for _, cmd := range cmds {
		if !commandKinds[cmd.Kind] {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown command %q", cmd.Kind))
			return
		}
	}

	queued := 0
	for _, cmd := range cmds {
		if err := h.inbox.Submit(cmd); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
				"error":  err.Error(),
				"queued": queued,
			})
			return
		}
		queued++
		h.events.Add(events.EventCommand, username(r), getClientIP(r), true,
			fmt.Sprintf("%s=%s", cmd.Kind, cmd.Value))
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"success": true,
		"queued":  queued,
	})
}

// Metrics handles GET /metrics in the Prometheus text format
func (h *StatusHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	snap := h.store.Snapshot()
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	room := snap.Status.RoomTemperature
	if snap.Remote.Active {
		room = snap.Remote.Value
	}
	gauge(w, "m2m_room_temperature_celsius", "Room temperature used by the unit.", room)
	gauge(w, "m2m_target_temperature_celsius", "Confirmed set point.", snap.Confirmed.Temperature)
	gauge(w, "m2m_compressor_frequency_hertz", "Compressor frequency.", float64(snap.Status.CompressorFrequency))
	gauge(w, "m2m_operating", "Whether the unit reports it is operating.", boolValue(snap.Status.Operating))
	gauge(w, "m2m_power_on", "Whether the unit is powered on.", boolValue(snap.Confirmed.IsOn()))
	gauge(w, "m2m_remote_temperature_active", "Whether a remote temperature override is active.", boolValue(snap.Remote.Active))
	gauge(w, "m2m_link_connected", "Whether the unit link is up.", boolValue(snap.LinkConnected))
	counter(w, "m2m_link_retries_total", "Unit link connection attempts.", float64(snap.LinkRetries))
	gauge(w, "m2m_mqtt_connected", "Whether the broker link is up.", boolValue(snap.Mqtt.State == state.MqttConnected))
	gauge(w, "m2m_mqtt_retries", "Broker connect attempts since the last success.", float64(snap.Mqtt.Retries))
	gauge(w, "m2m_wifi_connected", "Whether the station link is up.", boolValue(snap.Wifi == state.WifiConnected))

	if h.stats != nil {
		st := h.stats.Stats()
		counter(w, "m2m_pushes_total", "Settings writes to the unit.", float64(st.Pushes))
		counter(w, "m2m_push_errors_total", "Failed settings writes.", float64(st.PushErrors))
		gauge(w, "m2m_push_pending", "Whether a settings write is waiting for its debounce.", boolValue(st.Pending))
	}
	if h.info != nil {
		gauge(w, "m2m_free_memory_percent", "Available memory.", h.info.FreeMemoryPercent())
		gauge(w, "m2m_boot_time_seconds", "Host boot time.", float64(h.info.BootTime().Unix()))
	}
	gauge(w, "m2m_uptime_seconds", "Bridge process uptime.", time.Since(h.started).Seconds())
}

func gauge(w io.Writer, name, help string, v float64) {
	metric(w, name, help, "gauge", v)
}

func counter(w io.Writer, name, help string, v float64) {
	metric(w, name, help, "counter", v)
}

func metric(w io.Writer, name, help, kind string, v float64) {
	fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s %s\n%s %g\n", name, help, name, kind, name, v)
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
