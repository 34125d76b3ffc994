package mqtt

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dzungpv/mitsubishi2MQTT/internal/control"
	"github.com/dzungpv/mitsubishi2MQTT/internal/hvac"
	"github.com/dzungpv/mitsubishi2MQTT/internal/logger"
	"github.com/dzungpv/mitsubishi2MQTT/internal/state"
)

// Reboot delays requested over MQTT
const (
	RestartDelay      = 3 * time.Second
	FactoryResetDelay = 5 * time.Second
	OptionRebootDelay = 5 * time.Second
)

// Conn is the broker connection the bridge drives
type Conn interface {
	Connect() error
	Disconnect()
	IsConnected() bool
	Subscribe(topics []string) error
	Publish(topic string, payload []byte, retain bool) error
	Messages() <-chan Message
	Lost() <-chan error
}

// Commander applies climate commands
type Commander interface {
	Apply(cmd control.Command, now time.Time) (control.Patch, error)
	Fahrenheit() bool
}

// Rebooter schedules restarts
type Rebooter interface {
	RequestReboot(after time.Duration, reason string) bool
	Pending() bool
	FactoryReset() error
}

// PacketSender writes raw packets to the unit
type PacketSender interface {
	SendCustomPacket(packet []byte) error
}

// Options are the runtime toggles the broker can change
type Options struct {
	DebugPackets bool
	DebugLogs    bool
	WebPanel     bool
}

// BridgeConfig holds bridge timings
type BridgeConfig struct {
	ReconnectInterval time.Duration // fixed wait between connect attempts
	KeepAliveInterval time.Duration // availability, info and state republish period
}

// DefaultBridgeConfig returns the timings used when none are configured
func DefaultBridgeConfig() BridgeConfig {
	return BridgeConfig{
		ReconnectInterval: 5 * time.Second,
		KeepAliveInterval: 60 * time.Second,
	}
}

// BridgeDeps are the collaborators of a bridge
type BridgeDeps struct {
	Conn        Conn
	Topics      Topics
	Discovery   *Discovery
	Store       *state.Store
	Commands    Commander
	Link        PacketSender
	Rebooter    Rebooter
	Info        InfoSource
	Options     Options
	SaveOptions func(Options) error
	NetworkUp   func() bool
	Log         *logger.Logger
}

// Bridge maps broker traffic to commands and publishes state. Tick must be
// called from the goroutine that owns the engine; paho callbacks only feed
// channels that Tick drains.
type Bridge struct {
	cfg BridgeDeps
	bc  BridgeConfig
	log *logger.Logger

	options       Options
	connecting    bool
	connectResult chan error
	nextAttempt   time.Time
	lastKeepAlive time.Time

	lastState StatePayload
	hasState  bool
}

// NewBridge creates a bridge
func NewBridge(bc BridgeConfig, deps BridgeDeps) *Bridge {
	if deps.Log == nil {
		deps.Log = logger.Nop()
	}
	if deps.NetworkUp == nil {
		deps.NetworkUp = func() bool { return true }
	}
	if deps.SaveOptions == nil {
		deps.SaveOptions = func(Options) error { return nil }
	}
	return &Bridge{
		cfg:           deps,
		bc:            bc,
		log:           deps.Log.Named("bridge"),
		options:       deps.Options,
		connectResult: make(chan error, 1),
	}
}

// Options returns the current runtime toggles
func (b *Bridge) Options() Options {
	return b.options
}

// Topics returns the topic layout
func (b *Bridge) Topics() Topics {
	return b.cfg.Topics
}

// Connected reports whether the broker link is up
func (b *Bridge) Connected() bool {
	return b.cfg.Conn.IsConnected()
}

// Tick runs one bridge step: connection results, loss, reconnect, inbound
// messages and the keep-alive.
func (b *Bridge) Tick(now time.Time) {
	select {
	case err := <-b.connectResult:
		b.connecting = false
		if err != nil {
			b.setConn(state.MqttDisconnected, err.Error(), false)
			b.log.Warnw("connect failed", "error", err, "next", b.nextAttempt)
		} else {
			b.onConnected(now)
		}
	default:
	}

	select {
	case err := <-b.cfg.Conn.Lost():
		reason := "connection lost"
		if err != nil {
			reason = err.Error()
		}
		b.nextAttempt = now.Add(b.bc.ReconnectInterval)
		b.setConn(state.MqttDisconnected, reason, false)
	default:
	}

	if !b.connecting && !b.cfg.Conn.IsConnected() && b.cfg.NetworkUp() && !now.Before(b.nextAttempt) {
		b.startConnect(now)
	}

drain:
	for {
		select {
		case msg := <-b.cfg.Conn.Messages():
			b.HandleMessage(msg.Topic, msg.Payload, now)
		default:
			break drain
		}
	}

	b.keepAlive(now, false)
}

func (b *Bridge) startConnect(now time.Time) {
	b.connecting = true
	b.nextAttempt = now.Add(b.bc.ReconnectInterval)
	b.setConn(state.MqttConnecting, "", true)

	conn, topics := b.cfg.Conn, b.cfg.Topics.Subscriptions()
	go func() {
		err := conn.Connect()
		if err == nil {
			if err = conn.Subscribe(topics); err != nil {
				conn.Disconnect()
			}
		}
		b.connectResult <- err
	}()
}

func (b *Bridge) setConn(st state.MqttState, reason string, attempt bool) {
	c := b.cfg.Store.Mqtt()
	c.State = st
	c.NextAttempt = b.nextAttempt
	if reason != "" {
		c.DisconnectReason = reason
	}
	if attempt {
		c.Retries++
	}
	if st == state.MqttConnected {
		c.Retries = 0
		c.DisconnectReason = ""
	}
	b.cfg.Store.SetMqtt(c)
}

func (b *Bridge) onConnected(now time.Time) {
	b.setConn(state.MqttConnected, "", false)
	b.log.Infow("connected, publishing availability and discovery", "topic", b.cfg.Topics.Main)

	if err := b.cfg.Conn.Publish(b.cfg.Topics.Availability, []byte(PayloadOnline), true); err != nil {
		b.log.Warnw("availability publish failed", "error", err)
	}
	b.publishDiscovery()
	b.keepAlive(now, true)
}

func (b *Bridge) publishDiscovery() {
	if b.cfg.Discovery == nil {
		return
	}
	if err := b.cfg.Discovery.PublishAll(b.cfg.Conn); err != nil {
		b.log.Warnw("discovery publish failed", "error", err)
	}
}

// keepAlive republishes availability, info and state every KeepAliveInterval
func (b *Bridge) keepAlive(now time.Time, force bool) {
	if !b.cfg.Conn.IsConnected() {
		return
	}
	if !force && now.Sub(b.lastKeepAlive) < b.bc.KeepAliveInterval {
		return
	}
	b.lastKeepAlive = now

	if err := b.cfg.Conn.Publish(b.cfg.Topics.Availability, []byte(PayloadOnline), true); err != nil {
		b.debugLog("Failed to publish available status")
	}
	b.PublishInfo()
	if b.cfg.Store.LinkConnected() {
		b.PublishState()
	}
}

// PublishState publishes the confirmed state
func (b *Bridge) PublishState() {
	snap := b.cfg.Store.Snapshot()
	p := NewStatePayload(snap, b.cfg.Commands.Fahrenheit())
	b.lastState, b.hasState = p, true
	if !b.cfg.Conn.IsConnected() {
		return
	}
	if err := publishJSON(b.cfg.Conn, b.cfg.Topics.State, p, false); err != nil {
		b.debugLog("Failed to publish hp status change")
	}
}

// PublishInfo publishes the diagnostics document
func (b *Bridge) PublishInfo() {
	if !b.cfg.Conn.IsConnected() {
		return
	}
	p := NewInfoPayload(b.cfg.Store.LinkConnected(), b.cfg.Info, b.options.WebPanel)
	if err := publishJSON(b.cfg.Conn, b.cfg.Topics.SystemInfo, p, false); err != nil {
		b.log.Warnw("info publish failed", "error", err)
	}
}

// PublishPacket publishes a raw packet dump when packet debugging is on
func (b *Bridge) PublishPacket(direction string, packet []byte) {
	if !b.options.DebugPackets || !b.cfg.Conn.IsConnected() {
		return
	}
	p := PacketPayload{direction: hvac.FormatPacket(packet)}
	if err := publishJSON(b.cfg.Conn, b.cfg.Topics.DebugPackets, p, false); err != nil {
		b.debugLog("Failed to publish to heatpump/debug topic")
	}
}

// publishOptimistic shows a command's effect before the unit confirms it
func (b *Bridge) publishOptimistic(patch control.Patch) {
	if patch.Empty() {
		return
	}
	base := b.lastState
	if !b.hasState {
		base = NewStatePayload(b.cfg.Store.Snapshot(), b.cfg.Commands.Fahrenheit())
	}
	b.lastState, b.hasState = base.WithPatch(patch), true

	if !b.cfg.Conn.IsConnected() {
		return
	}
	payload, err := json.Marshal(b.lastState)
	if err != nil {
		return
	}
	if b.options.DebugPackets {
		_ = b.cfg.Conn.Publish(b.cfg.Topics.DebugPackets, payload, false)
	}
	if err := b.cfg.Conn.Publish(b.cfg.Topics.State, payload, false); err != nil {
		b.debugLog("Failed to publish dummy hp status change")
	}
}

// debugLog publishes msg on the debug logs topic when log debugging is on
func (b *Bridge) debugLog(msg string) {
	b.log.Debugw(msg)
	if !b.options.DebugLogs || !b.cfg.Conn.IsConnected() {
		return
	}
	_ = b.cfg.Conn.Publish(b.cfg.Topics.DebugLogs, []byte(msg), false)
}

// HandleMessage decodes one inbound publish
func (b *Bridge) HandleMessage(topic string, payload []byte, now time.Time) {
	t := b.cfg.Topics
	msg := strings.TrimSpace(string(payload))

	switch topic {
	case t.PowerSet:
		b.applyClimate(control.KindPower, msg, now, true)
	case t.ModeSet:
		b.applyClimate(control.KindMode, msg, now, true)
	case t.TempSet:
		b.applyClimate(control.KindTemperature, msg, now, true)
	case t.FanSet:
		b.applyClimate(control.KindFan, msg, now, true)
	case t.VaneSet:
		b.applyClimate(control.KindVane, msg, now, true)
	case t.WideVaneSet:
		b.applyClimate(control.KindWideVane, msg, now, true)
	case t.RemoteTempSet:
		b.applyClimate(control.KindRemoteTemperature, msg, now, false)

	case t.DebugPacketsSet:
		b.setDebug(msg, &b.options.DebugPackets, t.DebugPackets, "Debug packets mode")
	case t.DebugLogsSet:
		b.setDebug(msg, &b.options.DebugLogs, t.DebugLogs, "Debug mode")

	case t.SystemSet:
		b.systemCommand(msg)
	case t.OptionRequest:
		b.optionRequest(payload)
	case t.CustomSend:
		b.customPacket(msg)

	case t.Birth:
		if msg == PayloadOnline {
			b.log.Infow("home assistant came online, republishing")
			b.publishDiscovery()
			b.keepAlive(now, true)
		}

	default:
		b.log.Infow("unhandled topic", "topic", topic)
		b.debugLog("heatpump: wrong mqtt topic: " + topic)
	}
}

func (b *Bridge) applyClimate(kind control.Kind, value string, now time.Time, optimistic bool) {
	patch, err := b.cfg.Commands.Apply(control.Command{Kind: kind, Value: value}, now)
	if err != nil {
		b.log.Warnw("command rejected", "kind", kind, "value", value, "error", err)
		b.debugLog(fmt.Sprintf("heatpump: %v", err))
		return
	}
	if optimistic {
		b.publishOptimistic(patch)
	}
}

func (b *Bridge) setDebug(msg string, flag *bool, topic, label string) {
	var enabled bool
	switch msg {
	case "on":
		enabled = true
	case "off":
		enabled = false
	default:
		return
	}

	*flag = enabled
	if err := b.cfg.SaveOptions(b.options); err != nil {
		b.log.Warnw("failed to save options", "error", err)
	}

	status := label + " disabled"
	if enabled {
		status = label + " enabled"
	}
	if b.cfg.Conn.IsConnected() {
		_ = b.cfg.Conn.Publish(topic, []byte(status), false)
	}
}

func (b *Bridge) systemCommand(msg string) {
	if b.cfg.Rebooter == nil || b.cfg.Rebooter.Pending() {
		return
	}
	switch msg {
	case "restart":
		b.cfg.Rebooter.RequestReboot(RestartDelay, "mqtt restart")
	case "factory":
		b.cfg.Rebooter.RequestReboot(FactoryResetDelay, "mqtt factory reset")
		if err := b.cfg.Rebooter.FactoryReset(); err != nil {
			b.log.Errorw("factory reset failed", "error", err)
		}
	}
}

// optionRequest is the body of the option request topic
type optionRequest struct {
	Options *struct {
		WebPanel *string `json:"webpanel"`
	} `json:"options"`
}

func (b *Bridge) optionRequest(payload []byte) {
	var req optionRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		b.log.Warnw("invalid option request", "error", err)
		return
	}
	if req.Options == nil || req.Options.WebPanel == nil {
		return
	}

	var enabled bool
	switch *req.Options.WebPanel {
	case "On":
		enabled = true
	case "Off":
		enabled = false
	default:
		b.log.Warnw("invalid web panel option", "value", *req.Options.WebPanel)
		return
	}
	if enabled == b.options.WebPanel {
		b.log.Debugw("web panel option unchanged")
		return
	}

	b.options.WebPanel = enabled
	if err := b.cfg.SaveOptions(b.options); err != nil {
		b.log.Warnw("failed to save options", "error", err)
	}
	if b.cfg.Rebooter != nil {
		b.cfg.Rebooter.RequestReboot(OptionRebootDelay, "web panel option")
	}
	if b.cfg.Conn.IsConnected() {
		_ = b.cfg.Conn.Publish(b.cfg.Topics.OptionRespond, payload, false)
	}
}

func (b *Bridge) customPacket(msg string) {
	packet, err := hvac.ParseCustomPacket(msg)
	if err != nil {
		b.log.Warnw("invalid custom packet", "error", err)
		return
	}
	b.PublishPacket("customPacket", packet)
	if b.cfg.Link == nil {
		return
	}
	if err := b.cfg.Link.SendCustomPacket(packet); err != nil && !errors.Is(err, hvac.ErrNotConnected) {
		b.log.Warnw("custom packet failed", "error", err)
	}
}

// Close publishes offline and disconnects
func (b *Bridge) Close() {
	if b.cfg.Conn.IsConnected() {
		_ = b.cfg.Conn.Publish(b.cfg.Topics.Availability, []byte(PayloadOffline), true)
	}
	b.cfg.Conn.Disconnect()
}
