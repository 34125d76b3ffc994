package system

import (
	"testing"
	"time"
)

type fakeWiper struct{ calls int }

func (w *fakeWiper) DeleteAll() error { w.calls++; return nil }

func newTestRebooter(now *time.Time) (*Rebooter, *[]string) {
	var fired []string
	r := NewRebooter(func(reason string) { fired = append(fired, reason) }, &fakeWiper{}, nil)
	r.now = func() time.Time { return *now }
	return r, &fired
}

func TestRebootFiresOnceAfterDelay(t *testing.T) {
	now := time.Unix(1000, 0)
	r, fired := newTestRebooter(&now)

	if !r.RequestReboot(3*time.Second, "mqtt restart") {
		t.Fatal("first request rejected")
	}
	if r.RequestReboot(time.Second, "second") {
		t.Error("second request accepted while pending")
	}
	if !r.Pending() {
		t.Error("not pending")
	}

	if r.Check(now.Add(2 * time.Second)) {
		t.Error("fired before deadline")
	}
	if !r.Check(now.Add(3 * time.Second)) {
		t.Error("did not fire at deadline")
	}
	if r.Check(now.Add(4 * time.Second)) {
		t.Error("fired twice")
	}
	if len(*fired) != 1 || (*fired)[0] != "mqtt restart" {
		t.Errorf("fired = %v", *fired)
	}
}

func TestRestartOverridesLaterRequest(t *testing.T) {
	now := time.Unix(1000, 0)
	r, fired := newTestRebooter(&now)

	r.RequestReboot(5*time.Second, "option change")
	r.Restart("wifi timeout")
	if !r.Check(now) {
		t.Fatal("restart did not fire immediately")
	}
	if (*fired)[0] != "wifi timeout" {
		t.Errorf("fired = %v", *fired)
	}
}

func TestFactoryReset(t *testing.T) {
	w := &fakeWiper{}
	r := NewRebooter(nil, w, nil)
	if err := r.FactoryReset(); err != nil {
		t.Fatal(err)
	}
	if w.calls != 1 {
		t.Errorf("wiper calls = %d", w.calls)
	}
	if r.Pending() {
		t.Error("factory reset alone should not schedule a reboot")
	}
}
