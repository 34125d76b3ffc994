package api

import (
	"net/http"

	"github.com/dzungpv/mitsubishi2MQTT/internal/auth"
	"github.com/dzungpv/mitsubishi2MQTT/internal/events"
	"github.com/dzungpv/mitsubishi2MQTT/internal/mqtt"
	"github.com/dzungpv/mitsubishi2MQTT/internal/storage"
)

// SettingsHandler reads and writes the persisted records. Saved settings
// take effect after the reboot every save schedules.
type SettingsHandler struct {
	storage  storage.Storage
	rebooter Rebooter
	events   *events.Store
}

// NewSettingsHandler creates a settings handler
func NewSettingsHandler(s storage.Storage, rebooter Rebooter, eventStore *events.Store) *SettingsHandler {
	return &SettingsHandler{storage: s, rebooter: rebooter, events: eventStore}
}

// saved logs the change, schedules the reboot and writes the response
func (h *SettingsHandler) saved(w http.ResponseWriter, r *http.Request, ev events.EventType, err error) {
	if err != nil {
		h.events.Add(ev, username(r), getClientIP(r), false, err.Error())
		writeError(w, http.StatusInternalServerError, "Failed to save settings")
		return
	}
	h.events.Add(ev, username(r), getClientIP(r), true, "")

	rebooting := false
	if h.rebooter != nil {
		rebooting = h.rebooter.RequestReboot(mqtt.RestartDelay, string(ev))
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true, "rebooting": rebooting})
}

// GetWifi handles GET /api/settings/wifi
func (h *SettingsHandler) GetWifi(w http.ResponseWriter, r *http.Request) {
	rec, _ := h.storage.LoadWifi()
	rec.PSK = mask(rec.PSK)
	rec.OTAPassword = mask(rec.OTAPassword)
	writeJSON(w, http.StatusOK, rec)
}

// SaveWifi handles POST /api/settings/wifi
func (h *SettingsHandler) SaveWifi(w http.ResponseWriter, r *http.Request) {
	stored, _ := h.storage.LoadWifi()
	rec := stored
	if err := decodeJSON(r, &rec); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	rec.PSK = unmask(rec.PSK, stored.PSK)
	rec.OTAPassword = unmask(rec.OTAPassword, stored.OTAPassword)

	h.saved(w, r, events.EventSettingsWifi, h.storage.SaveWifi(rec))
}

// GetMqtt handles GET /api/settings/mqtt
func (h *SettingsHandler) GetMqtt(w http.ResponseWriter, r *http.Request) {
	rec, _ := h.storage.LoadMqtt()
	rec.Password = mask(rec.Password)
	writeJSON(w, http.StatusOK, rec)
}

// SaveMqtt handles POST /api/settings/mqtt
func (h *SettingsHandler) SaveMqtt(w http.ResponseWriter, r *http.Request) {
	stored, _ := h.storage.LoadMqtt()
	rec := stored
	if err := decodeJSON(r, &rec); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	rec.Password = unmask(rec.Password, stored.Password)

	h.saved(w, r, events.EventSettingsMqtt, h.storage.SaveMqtt(rec))
}

// GetUnit handles GET /api/settings/unit
func (h *SettingsHandler) GetUnit(w http.ResponseWriter, r *http.Request) {
	rec, _ := h.storage.LoadUnit()
	rec.LoginPassword = mask(rec.LoginPassword)
	writeJSON(w, http.StatusOK, rec)
}

// SaveUnit handles POST /api/settings/unit. The login password is posted in
// clear and stored as a bcrypt hash; an empty one opens the panel.
func (h *SettingsHandler) SaveUnit(w http.ResponseWriter, r *http.Request) {
	stored, _ := h.storage.LoadUnit()
	rec := stored
	if err := decodeJSON(r, &rec); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if rec.LoginPassword == maskedSecret {
		rec.LoginPassword = stored.LoginPassword
	} else {
		hash, err := auth.HashPassword(rec.LoginPassword)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid password")
			return
		}
		rec.LoginPassword = hash
	}

	h.saved(w, r, events.EventSettingsUnit, h.storage.SaveUnit(rec))
}

// GetOthers handles GET /api/settings/others
func (h *SettingsHandler) GetOthers(w http.ResponseWriter, r *http.Request) {
	rec, _ := h.storage.LoadOthers()
	writeJSON(w, http.StatusOK, rec)
}

// SaveOthers handles POST /api/settings/others
func (h *SettingsHandler) SaveOthers(w http.ResponseWriter, r *http.Request) {
	rec, _ := h.storage.LoadOthers()
	if err := decodeJSON(r, &rec); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	h.saved(w, r, events.EventSettingsOthers, h.storage.SaveOthers(rec))
}

