package management

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/chrissnell/drynomore/internal/protocol"
	"github.com/chrissnell/drynomore/internal/session"
	"github.com/chrissnell/drynomore/internal/storage"
	"github.com/chrissnell/drynomore/internal/supervisor"
	"github.com/chrissnell/drynomore/internal/types"
	"github.com/chrissnell/drynomore/pkg/config"
)

const testToken = "test-token"

type fakeHistory struct {
	readings []types.PlantReading
	alerts   []types.Alert
	err      error

	lastPlant, lastLimit int
}

func (f *fakeHistory) PlantHistory(_ context.Context, plant, limit int) ([]types.PlantReading, error) {
	f.lastPlant, f.lastLimit = plant, limit
	if f.err != nil {
		return nil, f.err
	}
	var out []types.PlantReading
	for _, r := range f.readings {
		if plant == 0 || r.Plant == plant {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeHistory) Alerts(_ context.Context, limit int) ([]types.Alert, error) {
	f.lastLimit = limit
	return f.alerts, f.err
}

type fixture struct {
	store   *supervisor.Store
	subs    *supervisor.Subscribers
	history *fakeHistory
	health  *storage.HealthManager
	server  *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:   supervisor.NewStore(),
		subs:    supervisor.NewSubscribers([]int64{10, 20}, nil),
		history: &fakeHistory{},
		health:  storage.NewHealthManager(),
	}
	logger := zap.NewNop().Sugar()
	ctrl, err := NewController(context.Background(), &sync.WaitGroup{},
		config.ManagementAPIData{AuthToken: testToken},
		Deps{
			Store:       f.store,
			Queue:       supervisor.NewQueue(4),
			Sessions:    session.NewManager(f.store, logger),
			Subscribers: f.subs,
			History:     f.history,
			Health:      f.health,
		}, logger)
	if err != nil {
		t.Fatal(err)
	}
	f.server = httptest.NewServer(ctrl.Router())
	t.Cleanup(f.server.Close)
	return f
}

// do sends an authenticated request and decodes a JSON response into out
// when out is not nil.
func (f *fixture) do(t *testing.T, method, path string, body interface{}, out interface{}) int {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, f.server.URL+path, rd)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Authorization", "Bearer "+testToken)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("%s %s: decoding response: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func TestAuthentication(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Get(f.server.URL + "/api/settings")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("no token: status %d", resp.StatusCode)
	}

	req, _ := http.NewRequest("GET", f.server.URL+"/api/settings", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("wrong token: status %d", resp.StatusCode)
	}

	resp, err = http.Post(f.server.URL+"/login", "application/json", strings.NewReader(`{"token":"`+testToken+`"}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	var cookie *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == sessionCookie {
			cookie = c
		}
	}
	if cookie == nil {
		t.Fatal("login did not set a session cookie")
	}
	req, _ = http.NewRequest("GET", f.server.URL+"/api/subscribers", nil)
	req.AddCookie(cookie)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("cookie auth: status %d", resp.StatusCode)
	}
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Get(f.server.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz status %d", resp.StatusCode)
	}

	f.health.UpdateHealth("sqlite", storage.CreateHealthData("unhealthy", "ping failed", errors.New("disk gone")))
	resp, err = http.Get(f.server.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("degraded healthz status %d", resp.StatusCode)
	}
}

func TestStatusAndSettings(t *testing.T) {
	f := newFixture(t)

	if code := f.do(t, "GET", "/api/status", nil, nil); code != http.StatusNotFound {
		t.Errorf("status before any report: %d", code)
	}
	if code := f.do(t, "GET", "/api/settings", nil, nil); code != http.StatusNotFound {
		t.Errorf("settings before sync: %d", code)
	}

	f.store.Bootstrap(protocol.DefaultSettings())
	st := protocol.NewStatus()
	st.NumPlants = 1
	st.NumWaterSensors = 1
	st.BeforeMoisture[0], st.AfterMoisture[0] = 20, 60
	f.store.OfferStatus(st, time.Now())

	var status statusResponse
	if code := f.do(t, "GET", "/api/status", nil, &status); code != http.StatusOK {
		t.Fatalf("status: %d", code)
	}
	if status.Status.AfterMoisture[0] != 60 || !status.Unpublished {
		t.Errorf("status = %+v", status)
	}

	var settings settingsResponse
	if code := f.do(t, "GET", "/api/settings", nil, &settings); code != http.StatusOK {
		t.Fatalf("settings: %d", code)
	}
	if settings.Revision != 1 || settings.Settings.NumPlants != protocol.MaxPlants {
		t.Errorf("settings = %+v", settings)
	}

	req, _ := http.NewRequest("GET", f.server.URL+"/api/status/table", nil)
	req.Header.Set("Authorization", "Bearer "+testToken)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	buf.ReadFrom(resp.Body)
	if !strings.HasPrefix(resp.Header.Get("Content-Type"), "text/plain") || !strings.Contains(buf.String(), "Plant Status") {
		t.Errorf("status table: %s\n%s", resp.Header.Get("Content-Type"), buf.String())
	}
}

func TestMsgPackNegotiation(t *testing.T) {
	f := newFixture(t)
	f.store.Bootstrap(protocol.DefaultSettings())

	req, _ := http.NewRequest("GET", f.server.URL+"/api/settings?format=msgpack", nil)
	req.Header.Set("Authorization", "Bearer "+testToken)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "application/x-msgpack" {
		t.Errorf("content type = %q", ct)
	}
}

func TestSessionFlow(t *testing.T) {
	f := newFixture(t)

	if code := f.do(t, "POST", "/api/sessions", map[string]int64{"user": 99}, nil); code != http.StatusForbidden {
		t.Errorf("unlisted user: %d", code)
	}
	if code := f.do(t, "POST", "/api/sessions", map[string]int64{"user": 10}, nil); code != http.StatusConflict {
		t.Errorf("begin without settings: %d", code)
	}

	f.store.Bootstrap(protocol.DefaultSettings())

	var s sessionResponse
	if code := f.do(t, "POST", "/api/sessions", map[string]int64{"user": 10}, &s); code != http.StatusCreated {
		t.Fatalf("begin: %d", code)
	}
	if s.ID == "" || !strings.Contains(s.Table, "Moisture Sensor Settings") {
		t.Errorf("session = %+v", s)
	}

	edits := map[string]interface{}{"edits": []session.Edit{
		{Op: session.OpTargetMoisture, Plant: 1, Value: 70},
		{Op: session.OpToggleSkip, Plant: 1},
	}}
	if code := f.do(t, "POST", "/api/sessions/"+s.ID+"/edits", edits, &s); code != http.StatusOK {
		t.Fatalf("edits: %d", code)
	}
	if s.Settings.TargetMoisture[0] != 70 || s.Settings.Skip.Has(0) {
		t.Errorf("edited settings = %+v", s.Settings)
	}

	bad := map[string]interface{}{"edits": []session.Edit{{Op: "paint_it_blue"}}}
	if code := f.do(t, "POST", "/api/sessions/"+s.ID+"/edits", bad, nil); code != http.StatusBadRequest {
		t.Errorf("bad edit: %d", code)
	}

	var commit map[string]interface{}
	if code := f.do(t, "POST", "/api/sessions/"+s.ID+"/commit", nil, &commit); code != http.StatusOK {
		t.Fatalf("commit: %d", code)
	}
	set, rev, _ := f.store.Settings()
	if set.TargetMoisture[0] != 70 || rev != 2 {
		t.Errorf("store settings after commit: target %d rev %d", set.TargetMoisture[0], rev)
	}

	if code := f.do(t, "GET", "/api/sessions/"+s.ID, nil, nil); code != http.StatusNotFound {
		t.Errorf("committed session still exists: %d", code)
	}
}

func TestStaleCommitNeedsForce(t *testing.T) {
	f := newFixture(t)
	f.store.Bootstrap(protocol.DefaultSettings())

	var s sessionResponse
	if code := f.do(t, "POST", "/api/sessions", map[string]int64{"user": 20}, &s); code != http.StatusCreated {
		t.Fatalf("begin: %d", code)
	}
	f.store.MarkHardwareFailure()

	if code := f.do(t, "POST", "/api/sessions/"+s.ID+"/commit", nil, nil); code != http.StatusConflict {
		t.Errorf("stale commit: %d", code)
	}
	if code := f.do(t, "POST", "/api/sessions/"+s.ID+"/commit?force=true", nil, nil); code != http.StatusOK {
		t.Errorf("forced commit: %d", code)
	}
	if set, _, _ := f.store.Settings(); set.HardwareFailure {
		t.Error("forced commit did not overwrite the failure flag")
	}
}

func TestInvalidCommitAndAbort(t *testing.T) {
	f := newFixture(t)
	f.store.Bootstrap(protocol.DefaultSettings())

	var s sessionResponse
	f.do(t, "POST", "/api/sessions", map[string]int64{"user": 10}, &s)
	edits := map[string]interface{}{"edits": []session.Edit{{Op: session.OpPlantMin, Plant: 1, Value: 600}}}
	if code := f.do(t, "POST", "/api/sessions/"+s.ID+"/edits", edits, nil); code != http.StatusOK {
		t.Fatalf("edit: %d", code)
	}
	if code := f.do(t, "POST", "/api/sessions/"+s.ID+"/commit", nil, nil); code != http.StatusUnprocessableEntity {
		t.Errorf("invalid commit: %d", code)
	}
	if code := f.do(t, "DELETE", "/api/sessions/"+s.ID, nil, nil); code != http.StatusNoContent {
		t.Errorf("abort: %d", code)
	}
	if code := f.do(t, "DELETE", "/api/sessions/"+s.ID, nil, nil); code != http.StatusNotFound {
		t.Errorf("second abort: %d", code)
	}
}

func TestSubscriberEndpoints(t *testing.T) {
	f := newFixture(t)

	if code := f.do(t, "POST", "/api/subscribers", map[string]int64{"user": 99}, nil); code != http.StatusForbidden {
		t.Errorf("unlisted subscribe: %d", code)
	}
	if code := f.do(t, "POST", "/api/subscribers", map[string]int64{"user": 10}, nil); code != http.StatusCreated {
		t.Errorf("subscribe: %d", code)
	}
	var list struct {
		Subscribers []int64 `json:"subscribers"`
	}
	f.do(t, "GET", "/api/subscribers", nil, &list)
	if len(list.Subscribers) != 1 || list.Subscribers[0] != 10 {
		t.Errorf("subscribers = %v", list.Subscribers)
	}
	if code := f.do(t, "DELETE", "/api/subscribers/10", nil, nil); code != http.StatusNoContent {
		t.Errorf("unsubscribe: %d", code)
	}
	if code := f.do(t, "DELETE", "/api/subscribers/10", nil, nil); code != http.StatusNotFound {
		t.Errorf("second unsubscribe: %d", code)
	}
}

func TestHistoryEndpoints(t *testing.T) {
	f := newFixture(t)
	t0 := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	f.history.readings = []types.PlantReading{
		{Timestamp: t0, Plant: 1, BeforeMoisture: 30, AfterMoisture: 60},
		{Timestamp: t0.Add(24 * time.Hour), Plant: 1, TicksSinceIrrigation: 1, BeforeMoisture: 50, AfterMoisture: protocol.UndefinedLevel},
		{Timestamp: t0, Plant: 2, BeforeMoisture: 80, AfterMoisture: 80, TicksSinceIrrigation: 2},
	}
	f.history.alerts = []types.Alert{{Timestamp: t0, Tag: protocol.TagWarn, Text: "low"}}

	if code := f.do(t, "GET", "/api/history?plant=9", nil, nil); code != http.StatusBadRequest {
		t.Errorf("plant 9: %d", code)
	}

	var hist struct {
		Count    int                  `json:"count"`
		Readings []types.PlantReading `json:"readings"`
	}
	if code := f.do(t, "GET", "/api/history?plant=1&limit=5", nil, &hist); code != http.StatusOK {
		t.Fatalf("history: %d", code)
	}
	if hist.Count != 2 || f.history.lastPlant != 1 || f.history.lastLimit != 5 {
		t.Errorf("history count %d plant %d limit %d", hist.Count, f.history.lastPlant, f.history.lastLimit)
	}

	var stats struct {
		Plants []PlantStats `json:"plants"`
	}
	if code := f.do(t, "GET", "/api/history/stats", nil, &stats); code != http.StatusOK {
		t.Fatalf("stats: %d", code)
	}
	if len(stats.Plants) != 2 || stats.Plants[0].Plant != 1 || stats.Plants[1].Plant != 2 {
		t.Fatalf("stats = %+v", stats.Plants)
	}
	if f.history.lastLimit != storage.MaxHistoryLimit {
		t.Errorf("stats queried with limit %d", f.history.lastLimit)
	}

	var alerts struct {
		Count int `json:"count"`
	}
	if code := f.do(t, "GET", "/api/alerts?limit=3", nil, &alerts); code != http.StatusOK || alerts.Count != 1 {
		t.Errorf("alerts: %d %+v", code, alerts)
	}

	f.history.err = errors.New("db down")
	if code := f.do(t, "GET", "/api/alerts", nil, nil); code != http.StatusInternalServerError {
		t.Errorf("failing history: %d", code)
	}
}

func TestComputeStats(t *testing.T) {
	t0 := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	readings := []types.PlantReading{
		{Timestamp: t0, Plant: 3, TicksSinceIrrigation: 0, BeforeMoisture: 20, AfterMoisture: 60},
		{Timestamp: t0.Add(24 * time.Hour), Plant: 3, TicksSinceIrrigation: 1, BeforeMoisture: 40, AfterMoisture: protocol.UndefinedLevel},
		{Timestamp: t0.Add(48 * time.Hour), Plant: 3, TicksSinceIrrigation: 0, BeforeMoisture: 60, AfterMoisture: 70},
	}
	got := ComputeStats(readings)
	if len(got) != 1 {
		t.Fatalf("got %d groups", len(got))
	}
	s := got[0]
	if s.Samples != 3 || s.Irrigations != 2 {
		t.Errorf("samples %d irrigations %d", s.Samples, s.Irrigations)
	}
	if s.MeanBefore != 40 || math.Abs(s.StdDevBefore-20) > 1e-9 {
		t.Errorf("before mean %v stddev %v", s.MeanBefore, s.StdDevBefore)
	}
	if s.MeanAfter != 65 {
		t.Errorf("after mean %v", s.MeanAfter)
	}
	if math.Abs(s.TrendPerDay-20) > 1e-9 {
		t.Errorf("trend %v, want 20 per day", s.TrendPerDay)
	}
	if !s.First.Equal(t0) || !s.Last.Equal(t0.Add(48*time.Hour)) {
		t.Errorf("range %v .. %v", s.First, s.Last)
	}
}

func TestNoHistoryConfigured(t *testing.T) {
	logger := zap.NewNop().Sugar()
	store := supervisor.NewStore()
	ctrl, err := NewController(context.Background(), &sync.WaitGroup{},
		config.ManagementAPIData{AuthToken: testToken},
		Deps{Store: store, Sessions: session.NewManager(store, logger), Subscribers: supervisor.NewSubscribers(nil, nil)},
		logger)
	if err != nil {
		t.Fatal(err)
	}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/history", nil)
	req.Header.Set("Authorization", "Bearer "+testToken)
	ctrl.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status %d", rec.Code)
	}
}
