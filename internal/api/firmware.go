package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"

	"github.com/dzungpv/mitsubishi2MQTT/internal/events"
	"github.com/dzungpv/mitsubishi2MQTT/internal/firmware"
	"github.com/dzungpv/mitsubishi2MQTT/internal/mqtt"
)

// maxSignatureSize bounds the uploaded .minisig text
const maxSignatureSize = 4 << 10

// FirmwareHandler accepts signed firmware uploads
type FirmwareHandler struct {
	stager   *firmware.Stager
	target   string
	rebooter Rebooter
	events   *events.Store

	// one upload at a time
	mu        sync.Mutex
	uploading bool
}

// NewFirmwareHandler creates a firmware handler installing over target
func NewFirmwareHandler(stager *firmware.Stager, target string, rebooter Rebooter, eventStore *events.Store) *FirmwareHandler {
	return &FirmwareHandler{stager: stager, target: target, rebooter: rebooter, events: eventStore}
}

// Version handles GET /api/system/version
func (h *FirmwareHandler) Version(w http.ResponseWriter, r *http.Request) {
	if h.stager == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"version":        "unknown",
			"isDev":          true,
			"uploadsEnabled": false,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"version":        h.stager.CurrentVersion(),
		"isDev":          firmware.IsDev(h.stager.CurrentVersion()),
		"uploadsEnabled": h.stager.Enabled(),
	})
}

// Upload handles POST /api/firmware as multipart/form-data with the image in
// "firmware", the minisign signature text in "signature" and optional
// "version" and "force" fields. A verified image is installed and the bridge
// reboots.
func (h *FirmwareHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if h.stager == nil || !h.stager.Enabled() {
		writeError(w, http.StatusServiceUnavailable, "Firmware uploads are not configured")
		return
	}

	h.mu.Lock()
	if h.uploading {
		h.mu.Unlock()
		writeError(w, http.StatusConflict, "Upload already in progress")
		return
	}
	h.uploading = true
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		h.uploading = false
		h.mu.Unlock()
	}()

	user, clientIP := username(r), getClientIP(r)
	fail := func(status int, msg string, err error) {
		detail := msg
		if err != nil {
			detail = err.Error()
		}
		h.events.Add(events.EventFirmwareUpload, user, clientIP, false, detail)
		writeError(w, status, msg)
	}

	r.Body = http.MaxBytesReader(w, r.Body, firmware.MaxImageSize+maxSignatureSize+64<<10)
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		fail(http.StatusBadRequest, "Invalid upload", err)
		return
	}
	defer r.MultipartForm.RemoveAll()

	sig, err := formText(r, "signature")
	if err != nil || sig == "" {
		fail(http.StatusBadRequest, "Signature is required", err)
		return
	}
	file, _, err := r.FormFile("firmware")
	if err != nil {
		fail(http.StatusBadRequest, "Firmware file is required", err)
		return
	}
	defer file.Close()

	force, _ := strconv.ParseBool(r.FormValue("force"))
	img, err := h.stager.Stage(file, sig, r.FormValue("version"), force)
	switch {
	case errors.Is(err, firmware.ErrInvalidSignature):
		fail(http.StatusUnprocessableEntity, "Invalid signature", err)
		return
	case errors.Is(err, firmware.ErrNotNewer):
		fail(http.StatusConflict, "Version is not newer than the running one", err)
		return
	case errors.Is(err, firmware.ErrTooLarge):
		fail(http.StatusRequestEntityTooLarge, "Image too large", err)
		return
	case err != nil:
		fail(http.StatusBadRequest, "Upload failed", err)
		return
	}

	if err := h.stager.Install(h.target); err != nil {
		fail(http.StatusInternalServerError, "Install failed", err)
		return
	}
	h.events.Add(events.EventFirmwareUpload, user, clientIP, true, img.SHA256)

	rebooting := false
	if h.rebooter != nil {
		rebooting = h.rebooter.RequestReboot(mqtt.RestartDelay, "firmware upload")
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"image":     img,
		"rebooting": rebooting,
	})
}

// formText reads a form field that may be sent as a value or as a file
func formText(r *http.Request, name string) (string, error) {
	if v := r.FormValue(name); v != "" {
		return v, nil
	}
	f, _, err := r.FormFile(name)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return "", nil
		}
		return "", err
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxSignatureSize))
	return string(data), err
}
