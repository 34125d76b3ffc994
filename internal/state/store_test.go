package state

import (
	"sync"
	"testing"
	"time"

	"github.com/dzungpv/mitsubishi2MQTT/internal/hvac"
)

func TestSettersReportChange(t *testing.T) {
	s := New()

	if !s.SetPower(hvac.PowerOn) {
		t.Error("first SetPower should report a change")
	}
	if s.SetPower(hvac.PowerOn) {
		t.Error("repeating SetPower should not report a change")
	}
	if !s.SetMode(hvac.ModeCool) || s.SetMode(hvac.ModeCool) {
		t.Error("SetMode change detection mismatch")
	}
	if !s.SetFan("2") || s.SetFan("2") {
		t.Error("SetFan change detection mismatch")
	}
	if !s.SetVane("SWING") || s.SetVane("SWING") {
		t.Error("SetVane change detection mismatch")
	}
	if !s.SetWideVane("<<") || s.SetWideVane("<<") {
		t.Error("SetWideVane change detection mismatch")
	}

	st := hvac.Status{RoomTemperature: 21, Operating: true}
	if !s.SetStatus(st) || s.SetStatus(st) {
		t.Error("SetStatus change detection mismatch")
	}
	if !s.SetLink(true, 3) || s.SetLink(true, 3) {
		t.Error("SetLink change detection mismatch")
	}
	mc := MqttConnection{State: MqttConnected}
	if !s.SetMqtt(mc) || s.SetMqtt(mc) {
		t.Error("SetMqtt change detection mismatch")
	}
}

func TestTemperatureClamp(t *testing.T) {
	s := New()

	tests := []struct {
		in   float64
		want float64
	}{
		{21.5, 21.5},
		{hvac.MinTemperature, hvac.MinTemperature},
		{hvac.MaxTemperature, hvac.MaxTemperature},
		{10, hvac.DefaultTemperature},
		{40, hvac.DefaultTemperature},
	}
	for _, tt := range tests {
		s.SetTemperature(tt.in)
		if got := s.Desired().Temperature; got != tt.want {
			t.Errorf("SetTemperature(%v) stored %v, want %v", tt.in, got, tt.want)
		}
	}

	s.SetTemperatureRange(18, 26)
	if got := s.ClampTemperature(17); got != hvac.DefaultTemperature {
		t.Errorf("clamp with custom range = %v", got)
	}
	s.SetTemperatureRange(30, 20) // ignored
	if got := s.ClampTemperature(25); got != 25 {
		t.Errorf("invalid range should be ignored, got %v", got)
	}
}

func TestRemoteTemp(t *testing.T) {
	s := New()
	now := time.Unix(1000, 0)

	if s.ClearRemoteTemp() {
		t.Error("clearing inactive override should report no change")
	}

	s.ActivateRemoteTemp(19, now)
	r := s.RemoteTemp()
	if !r.Active || r.Value != 19 || !r.LastUpdate.Equal(now) {
		t.Errorf("unexpected override: %+v", r)
	}

	if !s.ClearRemoteTemp() {
		t.Error("clearing active override should report a change")
	}
	if s.RemoteTemp().Active {
		t.Error("override still active")
	}
}

func TestSnapshotDerivesModeAndAction(t *testing.T) {
	s := New()
	s.SetConfirmed(hvac.Settings{Power: hvac.PowerOn, Mode: hvac.ModeAuto, Temperature: 22})
	s.SetStatus(hvac.Status{RoomTemperature: 24, Operating: true})

	snap := s.Snapshot()
	if snap.Mode() != hvac.HAModeHeatCool {
		t.Errorf("mode = %q", snap.Mode())
	}
	if snap.Action() != hvac.ActionCooling {
		t.Errorf("action = %q", snap.Action())
	}
	if snap.Wifi != WifiConnecting || snap.Mqtt.State != MqttDisconnected {
		t.Errorf("unexpected initial connection states: %v %v", snap.Wifi, snap.Mqtt.State)
	}
}

func TestConcurrentAccess(t *testing.T) {
	s := New()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s.SetTemperature(float64(16 + (i+j)%15))
				_ = s.Snapshot()
			}
		}(i)
	}
	wg.Wait()
}
