package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dzungpv/mitsubishi2MQTT/internal/auth"
	"github.com/dzungpv/mitsubishi2MQTT/internal/config"
	"github.com/dzungpv/mitsubishi2MQTT/internal/control"
	"github.com/dzungpv/mitsubishi2MQTT/internal/events"
	"github.com/dzungpv/mitsubishi2MQTT/internal/hvac"
	"github.com/dzungpv/mitsubishi2MQTT/internal/hvacsync"
	"github.com/dzungpv/mitsubishi2MQTT/internal/mqtt"
	"github.com/dzungpv/mitsubishi2MQTT/internal/state"
	"github.com/dzungpv/mitsubishi2MQTT/internal/storage"
	"github.com/dzungpv/mitsubishi2MQTT/internal/system"
)

type fakeInbox struct {
	mu   sync.Mutex
	cmds []control.Command
	max  int
}

func (f *fakeInbox) Submit(cmd control.Command) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.max > 0 && len(f.cmds) >= f.max {
		return ErrInboxFull
	}
	f.cmds = append(f.cmds, cmd)
	return nil
}

type fakeStats struct{}

func (fakeStats) Stats() hvacsync.Stats { return hvacsync.Stats{Pushes: 3, TotalRetries: 2} }

type fixture struct {
	server   *Server
	store    *state.Store
	storage  *storage.BoltStorage
	inbox    *fakeInbox
	rebooter *system.Rebooter
	events   *events.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := storage.NewBoltStorage(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	f := &fixture{
		store:    state.New(),
		storage:  st,
		inbox:    &fakeInbox{},
		rebooter: system.NewRebooter(nil, st, nil),
		events:   events.NewStore(50),
	}
	f.server = NewServer(Deps{
		Store:         f.store,
		Storage:       st,
		Events:        f.events,
		Inbox:         f.inbox,
		Stats:         fakeStats{},
		Rebooter:      f.rebooter,
		Version:       "1.2.0",
		JWTSecret:     "test-secret-test-secret-test-secret",
		JWTExpiration: time.Hour,
	})
	return f
}

func (f *fixture) do(method, path, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	f.server.Router().ServeHTTP(rec, req)
	return rec
}

func (f *fixture) setPassword(t *testing.T, password string) {
	t.Helper()
	hash, err := auth.HashPassword(password)
	if err != nil {
		t.Fatal(err)
	}
	u := config.DefaultUnit()
	u.LoginPassword = hash
	if err := f.storage.SaveUnit(u); err != nil {
		t.Fatal(err)
	}
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func TestOpenPanel(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/api/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp StatusResponse
	decode(t, rec, &resp)
	if resp.Version != "1.2.0" || resp.Engine.Pushes != 3 || resp.Wifi != state.WifiConnecting {
		t.Errorf("status = %+v", resp)
	}

	rec = f.do(http.MethodGet, "/api/auth/me", "")
	var me struct {
		User          auth.User `json:"user"`
		LoginRequired bool      `json:"loginRequired"`
	}
	decode(t, rec, &me)
	if me.User.Username != auth.DefaultUsername || me.LoginRequired {
		t.Errorf("me = %+v", me)
	}
}

func TestLoginFlow(t *testing.T) {
	f := newFixture(t)
	f.setPassword(t, "hunter2")

	if rec := f.do(http.MethodGet, "/api/status", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("status without cookie = %d", rec.Code)
	}

	rec := f.do(http.MethodPost, "/api/auth/login", `{"password":"wrong"}`)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong password = %d", rec.Code)
	}

	rec = f.do(http.MethodPost, "/api/auth/login", `{"password":"hunter2"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("login = %d %s", rec.Code, rec.Body.String())
	}
	var cookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == auth.CookieName {
			cookie = c
		}
	}
	if cookie == nil {
		t.Fatal("no auth cookie set")
	}

	if rec := f.do(http.MethodGet, "/api/status", "", cookie); rec.Code != http.StatusOK {
		t.Errorf("status with cookie = %d", rec.Code)
	}

	types := map[events.EventType]bool{}
	for _, e := range f.events.GetAll() {
		types[e.Type] = true
	}
	if !types[events.EventLogin] || !types[events.EventLoginFailed] {
		t.Errorf("events = %v", f.events.GetAll())
	}
}

func TestLoginRateLimited(t *testing.T) {
	f := newFixture(t)
	f.setPassword(t, "hunter2")

	var last int
	for i := 0; i < auth.DefaultMaxAttempts+1; i++ {
		last = f.do(http.MethodPost, "/api/auth/login", `{"password":"nope"}`).Code
	}
	if last != http.StatusTooManyRequests {
		t.Errorf("attempt past the limit = %d", last)
	}
}

func TestControlSubmit(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/api/control", `{"kind":"mode","value":"cool"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("submit = %d %s", rec.Code, rec.Body.String())
	}
	rec = f.do(http.MethodPost, "/api/control",
		`{"commands":[{"kind":"temperature","value":"21"},{"kind":"fan","value":"high"}]}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("batch = %d", rec.Code)
	}

	want := []control.Command{
		{Kind: control.KindMode, Value: "cool"},
		{Kind: control.KindTemperature, Value: "21"},
		{Kind: control.KindFan, Value: "high"},
	}
	if len(f.inbox.cmds) != len(want) {
		t.Fatalf("inbox = %v", f.inbox.cmds)
	}
	for i := range want {
		if f.inbox.cmds[i] != want[i] {
			t.Errorf("cmd %d = %v, want %v", i, f.inbox.cmds[i], want[i])
		}
	}

	if rec := f.do(http.MethodPost, "/api/control", `{"kind":"reboot","value":"now"}`); rec.Code != http.StatusBadRequest {
		t.Errorf("unknown kind = %d", rec.Code)
	}
	if rec := f.do(http.MethodPost, "/api/control", `{}`); rec.Code != http.StatusBadRequest {
		t.Errorf("empty request = %d", rec.Code)
	}

	f.inbox.max = len(f.inbox.cmds)
	if rec := f.do(http.MethodPost, "/api/control", `{"kind":"power","value":"ON"}`); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("full inbox = %d", rec.Code)
	}
}

func TestControlState(t *testing.T) {
	f := newFixture(t)
	f.store.SetConfirmed(hvac.Settings{Power: hvac.PowerOn, Mode: hvac.ModeHeat, Temperature: 22, Fan: "QUIET", Vane: "AUTO", WideVane: "|"})

	var p mqtt.StatePayload
	decode(t, f.do(http.MethodGet, "/api/control", ""), &p)
	if p.Mode != hvac.HAModeHeat || p.Fan != "diffuse" || p.Temperature != 22 {
		t.Errorf("state = %+v", p)
	}
}

func TestSettingsMaskSecrets(t *testing.T) {
	f := newFixture(t)

	body := `{"mqtt_host":"broker.lan","mqtt_port":"1883","mqtt_user":"u","mqtt_pwd":"secret"}`
	if rec := f.do(http.MethodPost, "/api/settings/mqtt", body); rec.Code != http.StatusOK {
		t.Fatalf("save = %d %s", rec.Code, rec.Body.String())
	}
	if !f.rebooter.Pending() {
		t.Error("saving settings did not schedule a reboot")
	}

	var got config.MqttRecord
	decode(t, f.do(http.MethodGet, "/api/settings/mqtt", ""), &got)
	if got.Password != maskedSecret || got.Host != "broker.lan" || got.FriendlyName != config.DefaultFriendlyName {
		t.Errorf("mqtt = %+v", got)
	}

	// posting the placeholder back keeps the stored password
	f.do(http.MethodPost, "/api/settings/mqtt", `{"mqtt_host":"other.lan","mqtt_pwd":"********"}`)
	stored, err := f.storage.LoadMqtt()
	if err != nil {
		t.Fatal(err)
	}
	if stored.Password != "secret" || stored.Host != "other.lan" || stored.Username != "u" {
		t.Errorf("stored = %+v", stored)
	}
}

func TestSettingsUnitPassword(t *testing.T) {
	f := newFixture(t)

	if rec := f.do(http.MethodPost, "/api/settings/unit", `{"unit_tempUnit":"fah","login_password":"hunter2"}`); rec.Code != http.StatusOK {
		t.Fatalf("save = %d", rec.Code)
	}
	u, _ := f.storage.LoadUnit()
	if !u.Fahrenheit() || u.LoginPassword == "hunter2" || u.LoginPassword == "" {
		t.Errorf("unit = %+v", u)
	}
	if _, err := auth.NewPasswordAuth(func() string { return u.LoginPassword }).Authenticate("admin", "hunter2"); err != nil {
		t.Errorf("stored hash does not verify: %v", err)
	}
}

// corruptibleStorage fails LoadUnit on demand, as a damaged record would
type corruptibleStorage struct {
	*storage.BoltStorage
	corrupt bool
}

func (c *corruptibleStorage) LoadUnit() (config.UnitRecord, error) {
	if c.corrupt {
		return config.DefaultUnit(), storage.ErrCorrupt
	}
	return c.BoltStorage.LoadUnit()
}

func TestCorruptUnitRecordKeepsPanelLocked(t *testing.T) {
	f := newFixture(t)
	f.setPassword(t, "hunter2")
	cs := &corruptibleStorage{BoltStorage: f.storage}
	f.server = NewServer(Deps{
		Store:         f.store,
		Storage:       cs,
		Events:        f.events,
		Inbox:         f.inbox,
		Stats:         fakeStats{},
		Rebooter:      f.rebooter,
		JWTSecret:     "test-secret-test-secret-test-secret",
		JWTExpiration: time.Hour,
	})

	if rec := f.do(http.MethodGet, "/api/status", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("status without session = %d", rec.Code)
	}

	cs.corrupt = true
	if rec := f.do(http.MethodGet, "/api/status", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("corrupt record opened the panel: status = %d", rec.Code)
	}
	if rec := f.do(http.MethodPost, "/api/auth/login", `{"username":"admin","password":"hunter2"}`); rec.Code != http.StatusOK {
		t.Errorf("login with last good password = %d", rec.Code)
	}
}

func TestFactoryReset(t *testing.T) {
	f := newFixture(t)
	if err := f.storage.SaveOthers(config.DefaultOthers().SetToggles(true, true, true)); err != nil {
		t.Fatal(err)
	}

	if rec := f.do(http.MethodPost, "/api/system/factory-reset", ""); rec.Code != http.StatusAccepted {
		t.Fatalf("factory reset = %d", rec.Code)
	}
	if _, err := f.storage.LoadOthers(); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("others survived: %v", err)
	}
	if !f.rebooter.Pending() {
		t.Error("no reboot scheduled")
	}
	if rec := f.do(http.MethodPost, "/api/system/reboot", ""); rec.Code != http.StatusConflict {
		t.Errorf("second reboot = %d", rec.Code)
	}
}

func TestMetrics(t *testing.T) {
	f := newFixture(t)
	f.store.SetStatus(hvac.Status{RoomTemperature: 24.5, Operating: true, CompressorFrequency: 30})

	rec := f.do(http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics = %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{
		"# TYPE m2m_room_temperature_celsius gauge\nm2m_room_temperature_celsius 24.5\n",
		"m2m_compressor_frequency_hertz 30\n",
		"m2m_link_connected 0\n",
		"# TYPE m2m_pushes_total counter\nm2m_pushes_total 3\n",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}

func TestEventsList(t *testing.T) {
	f := newFixture(t)
	f.events.System(events.EventSystemBoot, true, "")
	f.events.System(events.EventMqttConnected, true, "")

	var resp struct {
		Events []events.Event `json:"events"`
		LastID int64          `json:"lastId"`
	}
	decode(t, f.do(http.MethodGet, "/api/events?since=1", ""), &resp)
	if len(resp.Events) != 1 || resp.Events[0].Type != events.EventMqttConnected || resp.LastID != 2 {
		t.Errorf("events = %+v", resp)
	}

	f.events.System(events.EventLinkLost, false, "")
	var filtered EventsResponse
	decode(t, f.do(http.MethodGet, "/api/events?type=system_boot", ""), &filtered)
	if len(filtered.Events) != 1 || filtered.Events[0].Type != events.EventSystemBoot || filtered.LastID != 3 {
		t.Errorf("filtered events = %+v", filtered)
	}
}

func TestFirmwareNotConfigured(t *testing.T) {
	f := newFixture(t)

	var body bytes.Buffer
	req := httptest.NewRequest(http.MethodPost, "/api/firmware", &body)
	rec := httptest.NewRecorder()
	f.server.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("upload without key = %d", rec.Code)
	}
}

func TestWebSocketPush(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(f.server.Router())
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws"

	if _, resp, err := websocket.DefaultDialer.Dial(wsURL, nil); err == nil {
		t.Fatal("dial without token succeeded")
	} else if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("dial without token: %v", err)
	}

	var tok map[string]string
	decode(t, f.do(http.MethodGet, "/api/auth/ws-token", ""), &tok)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?ws_token="+tok["token"], nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var msg struct {
		Type    string            `json:"type"`
		Payload mqtt.StatePayload `json:"payload"`
	}
	if err := conn.ReadJSON(&msg); err != nil || msg.Type != WSTypeState {
		t.Fatalf("initial message = %+v, %v", msg, err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for f.server.Hub().ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	f.server.Hub().BroadcastState(mqtt.StatePayload{Mode: hvac.HAModeCool, Temperature: 19})
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatal(err)
	}
	if msg.Payload.Mode != hvac.HAModeCool || msg.Payload.Temperature != 19 {
		t.Errorf("pushed = %+v", msg.Payload)
	}

	// tokens are single use
	if _, _, err := websocket.DefaultDialer.Dial(wsURL+"?ws_token="+tok["token"], nil); err == nil {
		t.Error("token reused")
	}
}
