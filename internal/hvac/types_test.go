package hvac

import (
	"bytes"
	"errors"
	"testing"
)

func TestFanMapping(t *testing.T) {
	pairs := []struct{ hp, ha string }{
		{"QUIET", "diffuse"},
		{"1", "low"},
		{"2", "medium"},
		{"3", "middle"},
		{"4", "high"},
		{"AUTO", "auto"},
	}
	for _, p := range pairs {
		if got := FanToHA(p.hp); got != p.ha {
			t.Errorf("FanToHA(%q) = %q, want %q", p.hp, got, p.ha)
		}
		if got := FanFromHA(p.ha); got != p.hp {
			t.Errorf("FanFromHA(%q) = %q, want %q", p.ha, got, p.hp)
		}
	}

	if got := FanFromHA("turbo"); got != "AUTO" {
		t.Errorf("unknown fan should map to AUTO, got %q", got)
	}
	if got := FanToHA("9"); got != "auto" {
		t.Errorf("unknown speed should map to auto, got %q", got)
	}
}

func TestModeFromHA(t *testing.T) {
	tests := []struct {
		in     string
		want   string
		wantOK bool
	}{
		{"heat_cool", ModeAuto, true},
		{"heat", ModeHeat, true},
		{"cool", ModeCool, true},
		{"dry", ModeDry, true},
		{"fan_only", ModeFan, true},
		{" COOL ", ModeCool, true},
		{"off", "", false},
		{"boost", "", false},
	}
	for _, tt := range tests {
		got, ok := ModeFromHA(tt.in)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("ModeFromHA(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestVaneValidation(t *testing.T) {
	if !ValidVane("SWING") || !ValidVane("3") || ValidVane("6") {
		t.Error("vertical vane validation mismatch")
	}
	if !ValidWideVane("<>") || !ValidWideVane("|") || ValidWideVane("<<<") {
		t.Error("horizontal vane validation mismatch")
	}
}

func TestTemperatureConversion(t *testing.T) {
	if got := ToFahrenheit(22); got != 71.6 {
		t.Errorf("ToFahrenheit(22) = %v", got)
	}
	if got := ToCelsius(72); got != 22 {
		t.Errorf("ToCelsius(72) = %v, want 22", got)
	}
	if got := ToCelsius(73); got != 23 {
		t.Errorf("ToCelsius(73) = %v, want 23", got)
	}
	if got := FromLocalUnit(21.5, false); got != 21.5 {
		t.Errorf("FromLocalUnit celsius passthrough = %v", got)
	}
	if got := ToLocalUnit(0, true); got != 32 {
		t.Errorf("ToLocalUnit(0, true) = %v", got)
	}
}

func TestParseCustomPacket(t *testing.T) {
	got, err := ParseCustomPacket("fc 42 01 30 10 a")
	if err != nil {
		t.Fatalf("ParseCustomPacket: %v", err)
	}
	want := []byte{0xfc, 0x42, 0x01, 0x30, 0x10, 0x0a}
	if !bytes.Equal(got, want) {
		t.Errorf("got % x, want % x", got, want)
	}
	if s := FormatPacket(got); s != "fc 42 01 30 10 0a" {
		t.Errorf("FormatPacket = %q", s)
	}

	if _, err := ParseCustomPacket("zz"); err == nil {
		t.Error("expected error for non-hex byte")
	}
	if _, err := ParseCustomPacket("   "); err == nil {
		t.Error("expected error for empty packet")
	}

	long := ""
	for i := 0; i < 30; i++ {
		long += "01 "
	}
	got, err = ParseCustomPacket(long)
	if err != nil {
		t.Fatalf("ParseCustomPacket(long): %v", err)
	}
	if len(got) != MaxCustomPacket {
		t.Errorf("long packet length = %d, want %d", len(got), MaxCustomPacket)
	}
}

func TestSimLink(t *testing.T) {
	l := NewSimLink(20)

	if err := l.Apply(DefaultSettings()); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Apply before sync = %v, want ErrNotConnected", err)
	}

	if err := l.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if !l.Connected() {
		t.Fatal("expected connected after first sync")
	}
	if ev := <-l.Events(); ev.Kind != EventSettingsChanged {
		t.Fatalf("first event = %v, want settings_changed", ev.Kind)
	}

	s := DefaultSettings()
	s.Power = PowerOn
	s.Mode = ModeHeat
	s.Temperature = 22
	if err := l.Apply(s); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if ev := <-l.Events(); ev.Kind != EventSettingsChanged || ev.Settings != s {
		t.Fatalf("unexpected event after apply: %+v", ev)
	}

	if err := l.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	st := l.Status()
	if st.RoomTemperature != 20.1 {
		t.Errorf("room temperature = %v, want 20.1", st.RoomTemperature)
	}
	if !st.Operating || st.CompressorFrequency == 0 {
		t.Errorf("expected unit running: %+v", st)
	}

	if err := l.SetRemoteTemperature(25); err != nil {
		t.Fatal(err)
	}
	_ = l.Sync()
	if got := l.Status().RoomTemperature; got != 25 {
		t.Errorf("remote temperature not used: %v", got)
	}

	if err := l.SendCustomPacket([]byte{0xfc}); err != nil {
		t.Fatalf("SendCustomPacket: %v", err)
	}
}
