package config

import (
	"net"
	"strconv"
	"strings"
)

// Record defaults
const (
	DefaultMQTTPort     = 1883
	DefaultFriendlyName = "mitsubishi2mqtt"
	DefaultTopic        = "mitsubishi2mqtt"
	DefaultTempStep     = "1"
	DefaultHostname     = "HVAC"
	// MaxRecordSize is the largest stored record accepted; larger blobs load as defaults
	MaxRecordSize = 5000
)

// Temperature unit values of UnitRecord.TempUnit
const (
	UnitCelsius    = "cel"
	UnitFahrenheit = "fah"
)

// WifiRecord is the station and access point configuration
type WifiRecord struct {
	Hostname     string `json:"hostname"`
	SSID         string `json:"ap_ssid"`
	PSK          string `json:"ap_pwd"`
	OTAPassword  string `json:"ota_pwd"`
	StaticIP     string `json:"static_ip,omitempty"`
	StaticGW     string `json:"static_gw_ip,omitempty"`
	StaticSubnet string `json:"static_subnet,omitempty"`
	StaticDNS    string `json:"static_dns_ip,omitempty"`
}

// DefaultWifi returns an unconfigured wifi record
func DefaultWifi() WifiRecord {
	return WifiRecord{Hostname: DefaultHostname}
}

// Configured reports whether station credentials are present
func (w WifiRecord) Configured() bool {
	return w.SSID != ""
}

// HasStaticIP reports whether a complete static address is configured
func (w WifiRecord) HasStaticIP() bool {
	return w.StaticIP != "" && w.StaticGW != "" && w.StaticSubnet != ""
}

// Normalize fills defaults and drops malformed static addresses.
// The ip, gateway and subnet are kept only as a complete well-formed set; dns is optional.
func (w WifiRecord) Normalize() WifiRecord {
	w.Hostname = strings.TrimSpace(w.Hostname)
	if w.Hostname == "" {
		w.Hostname = DefaultHostname
	}
	if !validIPv4(w.StaticIP) || !validIPv4(w.StaticGW) || !validIPv4(w.StaticSubnet) {
		w.StaticIP, w.StaticGW, w.StaticSubnet, w.StaticDNS = "", "", "", ""
	}
	if !validIPv4(w.StaticDNS) {
		w.StaticDNS = ""
	}
	return w
}

func validIPv4(s string) bool {
	ip := net.ParseIP(strings.TrimSpace(s))
	return ip != nil && ip.To4() != nil
}

// MqttRecord is the broker endpoint
type MqttRecord struct {
	FriendlyName string `json:"mqtt_fn"`
	Host         string `json:"mqtt_host"`
	Port         string `json:"mqtt_port"`
	Username     string `json:"mqtt_user"`
	Password     string `json:"mqtt_pwd"`
	Topic        string `json:"mqtt_topic"`
	RootCACert   string `json:"mqtt_root_ca_cert,omitempty"`
}

// DefaultMqtt returns an unconfigured broker record
func DefaultMqtt() MqttRecord {
	return MqttRecord{
		FriendlyName: DefaultFriendlyName,
		Port:         strconv.Itoa(DefaultMQTTPort),
		Topic:        DefaultTopic,
	}
}

// Configured reports whether a broker host is set
func (m MqttRecord) Configured() bool {
	return m.Host != ""
}

// PortNumber returns the port, or DefaultMQTTPort when unset or malformed
func (m MqttRecord) PortNumber() int {
	p, err := strconv.Atoi(strings.TrimSpace(m.Port))
	if err != nil || p < 1 || p > 65535 {
		return DefaultMQTTPort
	}
	return p
}

// Normalize fills defaults for missing keys
func (m MqttRecord) Normalize() MqttRecord {
	m.Host = strings.TrimSpace(m.Host)
	if strings.TrimSpace(m.FriendlyName) == "" {
		m.FriendlyName = DefaultFriendlyName
	}
	m.Port = strconv.Itoa(m.PortNumber())
	return m
}

// UnitRecord holds the unit's display and capability options
type UnitRecord struct {
	TempUnit      string `json:"unit_tempUnit"`
	TempStep      string `json:"temp_step"`
	SupportMode   string `json:"support_mode"` // "nht" disables heat mode
	QuietMode     string `json:"quiet_mode"`   // "nqm" disables the quiet fan speed
	LoginPassword string `json:"login_password"`
	LanguageIndex int    `json:"language_index"`
}

// DefaultUnit returns the unit record used when none is stored
func DefaultUnit() UnitRecord {
	return UnitRecord{TempUnit: UnitCelsius, TempStep: DefaultTempStep}
}

// Fahrenheit reports whether temperatures are shown in °F
func (u UnitRecord) Fahrenheit() bool {
	return u.TempUnit == UnitFahrenheit
}

// SupportHeatMode reports whether heat is advertised
func (u UnitRecord) SupportHeatMode() bool {
	return u.SupportMode != "nht"
}

// SupportQuietMode reports whether the quiet fan speed is advertised
func (u UnitRecord) SupportQuietMode() bool {
	return u.QuietMode != "nqm"
}

// Step returns the temperature step, defaulting to 1
func (u UnitRecord) Step() float64 {
	s, err := strconv.ParseFloat(strings.TrimSpace(u.TempStep), 64)
	if err != nil || s <= 0 {
		return 1
	}
	return s
}

// Normalize fills defaults for missing keys
func (u UnitRecord) Normalize() UnitRecord {
	if u.TempUnit != UnitFahrenheit {
		u.TempUnit = UnitCelsius
	}
	u.TempStep = strconv.FormatFloat(u.Step(), 'f', -1, 64)
	if u.LanguageIndex < 0 {
		u.LanguageIndex = 0
	}
	return u
}

// OthersRecord holds integration and debug options
type OthersRecord struct {
	HAEnabled    string `json:"haa"`  // "ON" or "OFF"
	HATopic      string `json:"haat"` // discovery prefix
	DebugPackets string `json:"debugPckts"`
	DebugLogs    string `json:"debugLogs"`
	WebPanel     string `json:"webPanel"`
}

// DefaultOthers returns the options used when none are stored
func DefaultOthers() OthersRecord {
	return OthersRecord{
		HAEnabled:    "ON",
		HATopic:      "homeassistant",
		DebugPackets: "OFF",
		DebugLogs:    "OFF",
		WebPanel:     "ON",
	}
}

// DiscoveryPrefix returns the discovery prefix, or homeassistant when discovery is off or unset
func (o OthersRecord) DiscoveryPrefix() string {
	if o.HAEnabled == "OFF" || strings.TrimSpace(o.HATopic) == "" {
		return "homeassistant"
	}
	return strings.TrimSpace(o.HATopic)
}

// DiscoveryEnabled reports whether discovery documents are published
func (o OthersRecord) DiscoveryEnabled() bool { return o.HAEnabled != "OFF" }

// DebugPacketsOn reports whether packet dumps are published
func (o OthersRecord) DebugPacketsOn() bool { return o.DebugPackets == "ON" }

// DebugLogsOn reports whether diagnostics are published
func (o OthersRecord) DebugLogsOn() bool { return o.DebugLogs == "ON" }

// WebPanelOn reports whether the HTTP panel is served
func (o OthersRecord) WebPanelOn() bool { return o.WebPanel != "OFF" }

// SetToggles writes the runtime toggles back into the record
func (o OthersRecord) SetToggles(debugPackets, debugLogs, webPanel bool) OthersRecord {
	o.DebugPackets = onOff(debugPackets)
	o.DebugLogs = onOff(debugLogs)
	o.WebPanel = onOff(webPanel)
	return o
}

// Normalize fills defaults for missing keys
func (o OthersRecord) Normalize() OthersRecord {
	d := DefaultOthers()
	if o.HAEnabled != "OFF" {
		o.HAEnabled = d.HAEnabled
	}
	if strings.TrimSpace(o.HATopic) == "" {
		o.HATopic = d.HATopic
	}
	if o.DebugPackets != "ON" {
		o.DebugPackets = d.DebugPackets
	}
	if o.DebugLogs != "ON" {
		o.DebugLogs = d.DebugLogs
	}
	if o.WebPanel != "OFF" {
		o.WebPanel = d.WebPanel
	}
	return o
}

func onOff(v bool) string {
	if v {
		return "ON"
	}
	return "OFF"
}
