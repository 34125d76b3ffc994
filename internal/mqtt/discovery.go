package mqtt

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/dzungpv/mitsubishi2MQTT/internal/hvac"
)

// Entity tags, also the keys of the state and info documents
const (
	TagRoomTemperature = "room_temperature"
	TagConnectionState = "connection_state"
	TagUpTime          = "up_time"
	TagFreeHeap        = "free_heap"
	TagRSSI            = "rssi"
	TagBSSI            = "bssi"
	TagCompressorFreq  = "compressor_freq"
	TagRestart         = "restart"
	TagWebPanel        = "webpanel"
)

// Identity is the device block shared by every discovery document
type Identity struct {
	ID           string // MAC without separators
	Name         string // friendly name
	Software     string
	Hardware     string
	Model        string
	Manufacturer string
	ConfigURL    string // set only while the web panel is enabled
}

// DiscoveryOptions shape the climate entity
type DiscoveryOptions struct {
	Fahrenheit       bool
	TempStep         float64
	MinTemp          float64 // °C
	MaxTemp          float64 // °C
	SupportHeatMode  bool
	SupportQuietMode bool
}

type deviceBlock struct {
	Identifiers  []string   `json:"ids"`
	Connections  [][]string `json:"cns"`
	Name         string     `json:"name"`
	Software     string     `json:"sw"`
	Hardware     string     `json:"hw"`
	Model        string     `json:"mdl"`
	Manufacturer string     `json:"mf"`
	ConfigURL    string     `json:"cu,omitempty"`
}

type availability struct {
	Device       deviceBlock `json:"dev"`
	Topic        string      `json:"avty_t"`
	PayloadAvail string      `json:"pl_avail"`
	PayloadNot   string      `json:"pl_not_avail"`
}

type climateConfig struct {
	Name     *string  `json:"name"`
	UniqueID string   `json:"unique_id"`
	Modes    []string `json:"modes"`

	ModeCommandTopic  string `json:"mode_cmd_t"`
	ModeStateTopic    string `json:"mode_stat_t"`
	ModeStateTemplate string `json:"mode_stat_tpl"`
	TempCommandTopic  string `json:"temp_cmd_t"`
	TempStateTopic    string `json:"temp_stat_t"`
	PowerCommandTopic string `json:"pow_cmd_t"`
	TempStateTemplate string `json:"temp_stat_tpl"`
	CurrTempTopic     string `json:"curr_temp_t"`
	CurrTempTemplate  string `json:"curr_temp_tpl"`

	MinTemp         float64 `json:"min_temp"`
	MaxTemp         float64 `json:"max_temp"`
	TempStep        float64 `json:"temp_step"`
	TemperatureUnit string  `json:"temperature_unit"`

	FanModes             []string `json:"fan_modes"`
	FanModeCommandTopic  string   `json:"fan_mode_cmd_t"`
	FanModeStateTopic    string   `json:"fan_mode_stat_t"`
	FanModeStateTemplate string   `json:"fan_mode_stat_tpl"`

	SwingModes             []string `json:"swing_modes"`
	SwingModeCommandTopic  string   `json:"swing_mode_cmd_t"`
	SwingModeStateTopic    string   `json:"swing_mode_stat_t"`
	SwingModeStateTemplate string   `json:"swing_mode_stat_tpl"`

	SwingHModes             []string `json:"swing_h_modes"`
	SwingHModeCommandTopic  string   `json:"swing_h_mode_cmd_t"`
	SwingHModeStateTopic    string   `json:"swing_h_mode_stat_t"`
	SwingHModeStateTemplate string   `json:"swing_h_mode_stat_tpl"`

	ActionTopic    string `json:"action_topic"`
	ActionTemplate string `json:"action_template"`

	availability
}

type sensorConfig struct {
	Icon              string `json:"icon"`
	Name              string `json:"name"`
	UniqueID          string `json:"unique_id"`
	ValueTemplate     string `json:"val_tpl"`
	DeviceClass       string `json:"dev_cla,omitempty"`
	Unit              string `json:"unit_of_meas,omitempty"`
	StateTopic        string `json:"stat_t"`
	PayloadOn         string `json:"payload_on,omitempty"`
	PayloadOff        string `json:"payload_off,omitempty"`
	SuggestedDecimals *int   `json:"sug_dsp_prc,omitempty"`
	EntityCategory    string `json:"ent_cat,omitempty"`

	availability
}

type buttonConfig struct {
	Icon           string `json:"icon"`
	Name           string `json:"name"`
	UniqueID       string `json:"unique_id"`
	DeviceClass    string `json:"dev_cla"`
	PayloadPress   string `json:"payload_press"`
	CommandTopic   string `json:"command_topic"`
	EntityCategory string `json:"ent_cat"`

	availability
}

type selectConfig struct {
	Icon            string   `json:"icon"`
	Name            string   `json:"name"`
	UniqueID        string   `json:"unique_id"`
	CommandTemplate string   `json:"command_template"`
	CommandTopic    string   `json:"command_topic"`
	Options         []string `json:"options"`
	StateTopic      string   `json:"state_topic"`
	ValueTemplate   string   `json:"value_template"`
	EntityCategory  string   `json:"entity_category"`

	availability
}

// DiscoveryDoc is one retained discovery publish
type DiscoveryDoc struct {
	Topic   string
	Payload []byte
}

// Discovery builds the Home Assistant discovery documents for one unit.
// It holds no state beyond its inputs, so publishing twice yields identical documents.
type Discovery struct {
	topics   Topics
	identity Identity
	opts     DiscoveryOptions
}

// NewDiscovery creates a discovery publisher
func NewDiscovery(topics Topics, identity Identity, opts DiscoveryOptions) *Discovery {
	if opts.TempStep == 0 {
		opts.TempStep = 1
	}
	if opts.MinTemp == 0 && opts.MaxTemp == 0 {
		opts.MinTemp, opts.MaxTemp = hvac.MinTemperature, hvac.MaxTemperature
	}
	return &Discovery{topics: topics, identity: identity, opts: opts}
}

// PublishAll publishes every discovery document, retained
func (d *Discovery) PublishAll(pub Publisher) error {
	docs, err := d.Documents()
	if err != nil {
		return err
	}
	var firstErr error
	for _, doc := range docs {
		if err := pub.Publish(doc.Topic, doc.Payload, true); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("publish %s: %w", doc.Topic, err)
		}
	}
	return firstErr
}

// Documents encodes all discovery documents in publish order
func (d *Discovery) Documents() ([]DiscoveryDoc, error) {
	type entry struct {
		component string
		tag       string
		doc       interface{}
	}

	entries := []entry{
		{"climate", "", d.climate()},
		{"button", TagRestart, d.button(TagRestart, "Restart", "restart", "mdi:restart")},
		{"sensor", TagRoomTemperature, d.roomTemperature()},
		{"sensor", TagCompressorFreq, d.compressorFrequency()},
		{"sensor", TagUpTime, d.upTime()},
		{"binary_sensor", TagConnectionState, d.connectionState()},
		{"sensor", TagFreeHeap, d.freeHeap()},
		{"sensor", TagRSSI, d.diagnostic(TagRSSI, "RSSI", "dBm", "mdi:network-strength-1")},
		{"sensor", TagBSSI, d.diagnostic(TagBSSI, "BSSI", "", "mdi:router-wireless")},
		{"select", TagWebPanel, d.webPanel()},
	}

	docs := make([]DiscoveryDoc, 0, len(entries))
	for _, e := range entries {
		payload, err := json.Marshal(e.doc)
		if err != nil {
			return nil, fmt.Errorf("encode %s discovery: %w", e.component, err)
		}
		docs = append(docs, DiscoveryDoc{
			Topic:   d.topics.DiscoveryTopic(e.component, d.identity.Name, e.tag),
			Payload: payload,
		})
	}
	return docs, nil
}

func (d *Discovery) availability() availability {
	id := d.identity
	return availability{
		Device: deviceBlock{
			Identifiers:  []string{id.Name + "_" + id.ID},
			Connections:  [][]string{{"mac", id.ID}},
			Name:         id.Name,
			Software:     id.Software,
			Hardware:     id.Hardware,
			Model:        id.Model,
			Manufacturer: id.Manufacturer,
			ConfigURL:    id.ConfigURL,
		},
		Topic:        d.topics.Availability,
		PayloadAvail: PayloadOnline,
		PayloadNot:   PayloadOffline,
	}
}

func (d *Discovery) local(c float64) string {
	return formatFloat(hvac.ToLocalUnit(c, d.opts.Fahrenheit))
}

func (d *Discovery) climate() climateConfig {
	t := d.topics

	modes := []string{hvac.HAModeHeatCool, hvac.HAModeCool, hvac.HAModeDry}
	if d.opts.SupportHeatMode {
		modes = append(modes, hvac.HAModeHeat)
	}
	modes = append(modes, hvac.HAModeFanOnly, hvac.HAModeOff)

	fanModes := []string{"auto"}
	if d.opts.SupportQuietMode {
		fanModes = append(fanModes, "diffuse")
	}
	fanModes = append(fanModes, "low", "medium", "middle", "high")

	min, max := d.local(d.opts.MinTemp), d.local(d.opts.MaxTemp)
	tempTpl := "{% if (value_json is defined and value_json.temperature is defined) %}" +
		"{% if (value_json.temperature|int >= " + min + " and value_json.temperature|int <= " + max + ") %}{{ value_json.temperature }}" +
		"{% elif (value_json.temperature|int < " + min + ") %}" + min +
		"{% elif (value_json.temperature|int > " + max + ") %}" + max +
		"{% endif %}{% else %}" + d.local(22) + "{% endif %}"

	unit := "C"
	if d.opts.Fahrenheit {
		unit = "F"
	}

	return climateConfig{
		Name:     nil,
		UniqueID: d.identity.ID,
		Modes:    modes,

		ModeCommandTopic:  t.ModeSet,
		ModeStateTopic:    t.State,
		ModeStateTemplate: jsonDefault("mode", "off"),
		TempCommandTopic:  t.TempSet,
		TempStateTopic:    t.State,
		PowerCommandTopic: t.PowerSet,
		TempStateTemplate: tempTpl,
		CurrTempTopic:     t.State,
		CurrTempTemplate: "{{ value_json.room_temperature if (value_json is defined and value_json.room_temperature is defined and value_json.room_temperature|int > " +
			d.local(1) + ") }}",

		MinTemp:         hvac.ToLocalUnit(d.opts.MinTemp, d.opts.Fahrenheit),
		MaxTemp:         hvac.ToLocalUnit(d.opts.MaxTemp, d.opts.Fahrenheit),
		TempStep:        d.opts.TempStep,
		TemperatureUnit: unit,

		FanModes:             fanModes,
		FanModeCommandTopic:  t.FanSet,
		FanModeStateTopic:    t.State,
		FanModeStateTemplate: jsonDefault("fan", "auto"),

		SwingModes:             hvac.VaneModes,
		SwingModeCommandTopic:  t.VaneSet,
		SwingModeStateTopic:    t.State,
		SwingModeStateTemplate: jsonDefault("vane", "AUTO"),

		SwingHModes:             hvac.WideVaneModes,
		SwingHModeCommandTopic:  t.WideVaneSet,
		SwingHModeStateTopic:    t.State,
		SwingHModeStateTemplate: jsonDefault("wideVane", "SWING"),

		ActionTopic:    t.State,
		ActionTemplate: jsonDefault("action", "idle"),

		availability: d.availability(),
	}
}

// jsonDefault renders a template reading key from the state document with a fallback
func jsonDefault(key, fallback string) string {
	return "{{ value_json." + key + " if (value_json is defined and value_json." + key +
		" is defined and value_json." + key + "|length) else '" + fallback + "' }}"
}

func (d *Discovery) sensor(tag, name, icon string) sensorConfig {
	return sensorConfig{
		Icon:          icon,
		Name:          name,
		UniqueID:      d.identity.ID + "_" + tag,
		ValueTemplate: "{{ value_json." + tag + " }}",
		availability:  d.availability(),
	}
}

func (d *Discovery) roomTemperature() sensorConfig {
	s := d.sensor(TagRoomTemperature, "Room Temperature", "mdi:thermometer")
	s.DeviceClass = "temperature"
	s.Unit = "°C"
	if d.opts.Fahrenheit {
		s.Unit = "°F"
	}
	s.StateTopic = d.topics.State
	return s
}

func (d *Discovery) compressorFrequency() sensorConfig {
	s := d.sensor(TagCompressorFreq, "Compressor Freq", "mdi:sine-wave")
	s.DeviceClass = "frequency"
	s.Unit = "Hz"
	s.StateTopic = d.topics.State
	return s
}

func (d *Discovery) upTime() sensorConfig {
	s := d.sensor(TagUpTime, "Up Time", "mdi:clock")
	s.DeviceClass = "timestamp"
	s.ValueTemplate = "{{ as_datetime(value_json." + TagUpTime + ") }}"
	s.StateTopic = d.topics.SystemInfo
	s.EntityCategory = "diagnostic"
	return s
}

func (d *Discovery) connectionState() sensorConfig {
	s := d.sensor(TagConnectionState, "Connection state", "mdi:check-network")
	s.DeviceClass = "connectivity"
	s.PayloadOn = PayloadOnline
	s.PayloadOff = PayloadOffline
	s.StateTopic = d.topics.SystemInfo
	s.EntityCategory = "diagnostic"
	return s
}

func (d *Discovery) freeHeap() sensorConfig {
	s := d.sensor(TagFreeHeap, "Free Heap", "mdi:memory")
	s.Unit = "%"
	zero := 0
	s.SuggestedDecimals = &zero
	s.StateTopic = d.topics.SystemInfo
	s.EntityCategory = "diagnostic"
	return s
}

func (d *Discovery) diagnostic(tag, name, unit, icon string) sensorConfig {
	s := d.sensor(tag, name, icon)
	s.Unit = unit
	s.StateTopic = d.topics.SystemInfo
	s.EntityCategory = "diagnostic"
	return s
}

func (d *Discovery) button(tag, name, press, icon string) buttonConfig {
	return buttonConfig{
		Icon:           icon,
		Name:           name,
		UniqueID:       d.identity.ID + "_" + tag,
		DeviceClass:    press,
		PayloadPress:   press,
		CommandTopic:   d.topics.SystemSet,
		EntityCategory: "config",
		availability:   d.availability(),
	}
}

func (d *Discovery) webPanel() selectConfig {
	return selectConfig{
		Icon:            "mdi:cog",
		Name:            "WebPanel",
		UniqueID:        d.identity.ID + "_" + TagWebPanel,
		CommandTemplate: `{"options": {"` + TagWebPanel + `": "{{ value }}" } }`,
		CommandTopic:    d.topics.OptionRequest,
		Options:         []string{"On", "Off"},
		StateTopic:      d.topics.SystemInfo,
		ValueTemplate:   "{{ value_json." + TagWebPanel + " }}",
		EntityCategory:  "config",
		availability:    d.availability(),
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
