package network

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dzungpv/mitsubishi2MQTT/internal/state"
)

type fakeStation struct {
	mu         sync.Mutex
	associated bool
	joinAfter  int // Associated calls until the link comes up, -1 never
	calls      int
}

func (f *fakeStation) Associate(ctx context.Context, creds Credentials) error { return nil }

func (f *fakeStation) Associated() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.joinAfter >= 0 && f.calls > f.joinAfter {
		f.associated = true
	}
	return f.associated
}

func (f *fakeStation) set(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.associated = v
	f.joinAfter = -1
}

func (f *fakeStation) LocalIP() string { return "192.168.1.20" }

type fakeAP struct{ ssid string }

func (a *fakeAP) Start(ssid, psk string) error {
	a.ssid = ssid
	return nil
}

type fakeRestarter struct{ reasons []string }

func (r *fakeRestarter) Restart(reason string) { r.reasons = append(r.reasons, reason) }

type fakeIndicator struct{ periods []time.Duration }

func (i *fakeIndicator) Blink(p time.Duration) { i.periods = append(i.periods, p) }

func (i *fakeIndicator) last() time.Duration {
	if len(i.periods) == 0 {
		return -1
	}
	return i.periods[len(i.periods)-1]
}

func testConfig() Config {
	return Config{
		ConnectTimeout: 200 * time.Millisecond,
		RetryTimeout:   time.Minute,
		PollInterval:   5 * time.Millisecond,
	}
}

type fixture struct {
	m         *Manager
	station   *fakeStation
	ap        *fakeAP
	restarter *fakeRestarter
	indicator *fakeIndicator
	store     *state.Store
	clock     time.Time
}

func newFixture(joinAfter int) *fixture {
	f := &fixture{
		station:   &fakeStation{joinAfter: joinAfter},
		ap:        &fakeAP{},
		restarter: &fakeRestarter{},
		indicator: &fakeIndicator{},
		store:     state.New(),
		clock:     time.Unix(1000, 0),
	}
	f.m = NewManager(testConfig(), f.station, f.ap, f.restarter, f.indicator, f.store, nil)
	f.m.now = func() time.Time { return f.clock }
	return f
}

var creds = Credentials{SSID: "home", PSK: "secret", Hostname: "hvac-living"}

func TestAttemptStationConnectSuccess(t *testing.T) {
	f := newFixture(2)

	if !f.m.AttemptStationConnect(context.Background(), creds) {
		t.Fatal("expected connect to succeed")
	}
	if got := f.store.Wifi(); got != state.WifiConnected {
		t.Errorf("wifi state = %v, want connected", got)
	}
	if f.indicator.last() != BlinkOff {
		t.Errorf("indicator should be off when connected, got %v", f.indicator.last())
	}
}

func TestAttemptStationConnectTimeout(t *testing.T) {
	f := newFixture(-1)

	start := time.Now()
	if f.m.AttemptStationConnect(context.Background(), creds) {
		t.Fatal("expected connect to fail")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("connect blocked for %v, longer than its timeout", elapsed)
	}
	if got := f.store.Wifi(); got != state.WifiConnecting {
		t.Errorf("wifi state = %v, want connecting", got)
	}
}

func TestNoCredentialsStaysInAPFallback(t *testing.T) {
	f := newFixture(-1)

	if f.m.Start(context.Background(), Credentials{}, "hvac-setup", "") {
		t.Fatal("expected no connection without credentials")
	}
	if f.ap.ssid != "hvac-setup" {
		t.Errorf("access point not started, ssid = %q", f.ap.ssid)
	}
	if got := f.store.Wifi(); got != state.WifiAPFallback {
		t.Fatalf("wifi state = %v, want ap_fallback", got)
	}
	if f.indicator.last() != FastBlink {
		t.Errorf("indicator should blink fast in AP mode")
	}

	f.m.OnTick(f.clock.Add(time.Hour))
	if len(f.restarter.reasons) != 0 {
		t.Error("unconfigured AP fallback must not restart")
	}
	if got := f.store.Wifi(); got != state.WifiAPFallback {
		t.Errorf("wifi state = %v, want ap_fallback", got)
	}
}

func TestConfiguredAPFallbackRestartsAfterTimeout(t *testing.T) {
	f := newFixture(-1)

	f.m.Start(context.Background(), creds, "hvac-setup", "pw")
	if got := f.store.Wifi(); got != state.WifiAPFallback {
		t.Fatalf("wifi state = %v, want ap_fallback", got)
	}

	f.m.OnTick(f.clock.Add(30 * time.Second))
	if len(f.restarter.reasons) != 0 {
		t.Fatal("restarted before retry timeout")
	}
	f.m.OnTick(f.clock.Add(2 * time.Minute))
	if len(f.restarter.reasons) != 1 {
		t.Fatalf("expected one restart, got %v", f.restarter.reasons)
	}
	f.m.OnTick(f.clock.Add(3 * time.Minute))
	if len(f.restarter.reasons) != 1 {
		t.Error("restart requested more than once")
	}
}

func TestLinkLossAndRecovery(t *testing.T) {
	f := newFixture(0)
	if !f.m.AttemptStationConnect(context.Background(), creds) {
		t.Fatal("expected connect to succeed")
	}

	now := f.clock.Add(10 * time.Second)
	f.station.set(false)
	f.m.OnTick(now)
	if got := f.store.Wifi(); got != state.WifiConnecting {
		t.Fatalf("wifi state after loss = %v, want connecting", got)
	}
	if f.indicator.last() != FastBlink {
		t.Error("indicator should blink fast after link loss")
	}

	f.m.OnTick(now.Add(30 * time.Second))
	if len(f.restarter.reasons) != 0 {
		t.Fatal("restarted inside retry window")
	}

	f.station.set(true)
	f.m.OnTick(now.Add(40 * time.Second))
	if got := f.store.Wifi(); got != state.WifiConnected {
		t.Errorf("wifi state after recovery = %v, want connected", got)
	}

	// deadline is pushed forward while connected
	f.m.OnTick(now.Add(5 * time.Minute))
	if len(f.restarter.reasons) != 0 {
		t.Error("restarted while connected")
	}
}

func TestLinkLossRestartsAfterTimeout(t *testing.T) {
	f := newFixture(0)
	f.m.AttemptStationConnect(context.Background(), creds)

	lost := f.clock.Add(10 * time.Second)
	f.station.set(false)
	f.m.OnTick(lost)
	f.m.OnTick(lost.Add(61 * time.Second))
	if len(f.restarter.reasons) != 1 || f.restarter.reasons[0] != "wifi timeout" {
		t.Errorf("expected wifi timeout restart, got %v", f.restarter.reasons)
	}
}
