package api

import (
	"net/http"

	"github.com/dzungpv/mitsubishi2MQTT/internal/events"
	"github.com/dzungpv/mitsubishi2MQTT/internal/mqtt"
)

// SystemHandler handles reboot and factory reset
type SystemHandler struct {
	rebooter Rebooter
	events   *events.Store
}

// NewSystemHandler creates new system handler
func NewSystemHandler(rebooter Rebooter, eventStore *events.Store) *SystemHandler {
	return &SystemHandler{rebooter: rebooter, events: eventStore}
}

// Reboot handles POST /api/system/reboot
func (h *SystemHandler) Reboot(w http.ResponseWriter, r *http.Request) {
	if !h.rebooter.RequestReboot(mqtt.RestartDelay, "web restart") {
		writeError(w, http.StatusConflict, "Reboot already pending")
		return
	}
	h.events.Add(events.EventSystemReboot, username(r), getClientIP(r), true, "")
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"success": true,
		"delay":   mqtt.RestartDelay.Seconds(),
	})
}

// FactoryReset handles POST /api/system/factory-reset. Settings are erased
// now and the bridge reboots into setup mode.
func (h *SystemHandler) FactoryReset(w http.ResponseWriter, r *http.Request) {
	if h.rebooter.Pending() {
		writeError(w, http.StatusConflict, "Reboot already pending")
		return
	}
	if err := h.rebooter.FactoryReset(); err != nil {
		h.events.Add(events.EventFactoryReset, username(r), getClientIP(r), false, err.Error())
		writeError(w, http.StatusInternalServerError, "Factory reset failed")
		return
	}
	h.rebooter.RequestReboot(mqtt.FactoryResetDelay, "web factory reset")
	h.events.Add(events.EventFactoryReset, username(r), getClientIP(r), true, "")
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"success": true,
		"delay":   mqtt.FactoryResetDelay.Seconds(),
	})
}
