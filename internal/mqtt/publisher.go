package mqtt

import (
	"encoding/json"
	"time"

	"github.com/dzungpv/mitsubishi2MQTT/internal/control"
	"github.com/dzungpv/mitsubishi2MQTT/internal/hvac"
	"github.com/dzungpv/mitsubishi2MQTT/internal/state"
)

// Publisher sends a payload to a topic
type Publisher interface {
	Publish(topic string, payload []byte, retain bool) error
}

// StatePayload is the climate state document on the state topic.
// Temperatures are in the configured display unit.
type StatePayload struct {
	RoomTemperature     float64 `json:"room_temperature"`
	Temperature         float64 `json:"temperature"`
	Fan                 string  `json:"fan,omitempty"`
	Vane                string  `json:"vane,omitempty"`
	WideVane            string  `json:"wideVane,omitempty"`
	Mode                string  `json:"mode"`
	Action              string  `json:"action"`
	CompressorFrequency int     `json:"compressor_freq"`
}

// NewStatePayload builds the state document from what the unit last reported
func NewStatePayload(snap state.Snapshot, fahrenheit bool) StatePayload {
	s := snap.Confirmed
	p := StatePayload{
		RoomTemperature:     hvac.ToLocalUnit(snap.Status.RoomTemperature, fahrenheit),
		Temperature:         hvac.ToLocalUnit(s.Temperature, fahrenheit),
		Vane:                s.Vane,
		WideVane:            s.WideVane,
		Mode:                snap.Mode(),
		Action:              snap.Action(),
		CompressorFrequency: snap.Status.CompressorFrequency,
	}
	if s.Fan != "" {
		p.Fan = hvac.FanToHA(s.Fan)
	}
	return p
}

// WithPatch returns p with the fields of an optimistic patch applied
func (p StatePayload) WithPatch(patch control.Patch) StatePayload {
	if patch.Mode != "" {
		p.Mode = patch.Mode
	}
	if patch.Action != "" {
		p.Action = patch.Action
	}
	if patch.Temperature != nil {
		p.Temperature = *patch.Temperature
	}
	if patch.Fan != "" {
		p.Fan = patch.Fan
	}
	if patch.Vane != "" {
		p.Vane = patch.Vane
	}
	if patch.WideVane != "" {
		p.WideVane = patch.WideVane
	}
	return p
}

// InfoPayload is the diagnostics document on the system info topic
type InfoPayload struct {
	ConnectionState string `json:"connection_state"`
	FreeHeap        string `json:"free_heap"`
	RSSI            string `json:"rssi"`
	BSSI            string `json:"bssi"`
	UpTime          int64  `json:"up_time"`
	WebPanel        string `json:"webpanel"`
}

// InfoSource reports host diagnostics
type InfoSource interface {
	FreeMemoryPercent() float64
	RSSI() int
	BSSID() string
	BootTime() time.Time
}

// NewInfoPayload builds the diagnostics document
func NewInfoPayload(linkConnected bool, src InfoSource, webPanel bool) InfoPayload {
	p := InfoPayload{
		ConnectionState: PayloadOffline,
		WebPanel:        onOff(webPanel),
	}
	if linkConnected {
		p.ConnectionState = PayloadOnline
	}
	if src != nil {
		p.FreeHeap = formatFloat(src.FreeMemoryPercent())
		p.RSSI = formatFloat(float64(src.RSSI()))
		p.BSSI = src.BSSID()
		p.UpTime = src.BootTime().Unix()
	}
	return p
}

// PacketPayload is a raw packet dump keyed by direction ("packetSent", "packetRecv", "customPacket")
type PacketPayload map[string]string

// publishJSON marshals v and publishes it
func publishJSON(pub Publisher, topic string, v interface{}, retain bool) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return pub.Publish(topic, payload, retain)
}

func onOff(v bool) string {
	if v {
		return "On"
	}
	return "Off"
}
