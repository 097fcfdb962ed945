package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sweeney/relay-agent/internal/forecast"
	"github.com/sweeney/relay-agent/internal/journal"
	"github.com/sweeney/relay-agent/internal/logic"
	"github.com/sweeney/relay-agent/internal/reconcile"
	"github.com/sweeney/relay-agent/internal/relay"
	"github.com/sweeney/relay-agent/internal/status"
)

type fakeController struct {
	mu          sync.Mutex
	relays      relay.Set
	toggles     []relay.State
	failRemote  bool
	prefs       string
	forecast    forecast.Forecast
	forecastErr error
	decisions   []journal.Entry
	lastLimit   int
}

func (c *fakeController) Toggle(_ context.Context, id relay.ID, on bool) (reconcile.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.relays.Check(id); err != nil {
		return reconcile.Result{}, err
	}
	if c.failRemote {
		res := reconcile.Result{Failed: map[relay.ID]error{id: errors.New("broker down")}}
		return res, fmt.Errorf("%w: relay %d", reconcile.ErrRemoteWrite, id)
	}
	c.toggles = append(c.toggles, relay.State{ID: id, On: on})
	return reconcile.Result{Applied: []relay.ID{id}}, nil
}

func (c *fakeController) SetPreferences(p string) {
	c.mu.Lock()
	c.prefs = p
	c.mu.Unlock()
}

func (c *fakeController) RefreshForecast(context.Context) (forecast.Forecast, error) {
	return c.forecast, c.forecastErr
}

func (c *fakeController) Decisions(_ context.Context, limit int) ([]journal.Entry, error) {
	c.mu.Lock()
	c.lastLimit = limit
	c.mu.Unlock()
	return c.decisions, nil
}

func newTestServer(t *testing.T) (*httptest.Server, *status.Tracker, *fakeController) {
	t.Helper()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := status.Config{
		Broker:      "tcp://192.168.1.200:1883",
		Prefix:      "solaris",
		HTTPAddr:    ":8080",
		HeartbeatMs: 900000,
		WriteMs:     5000,
		RelayCount:  5,
	}
	tr := status.NewTracker(start, cfg)
	ctrl := &fakeController{relays: relay.NewSet(5)}
	srv := New(Options{Addr: ":0", Tracker: tr, Controller: ctrl})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, tr, ctrl
}

func post(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestJSONEndpoint(t *testing.T) {
	ts, tr, _ := newTestServer(t)
	tr.SetRelays([]relay.State{{ID: 1, Name: "Fridge", On: true}, {ID: 2, Name: "Switch 2"}})
	battery := 42.0
	tr.SetTelemetry(logic.Snapshot{BatteryLevel: &battery})
	tr.SetAutomation(status.Automation{Guard: logic.GuardArmed, Threshold: 30})
	tr.SetCounts(logic.Counts{Automations: 3, Dropped: 1})
	tr.SetMQTTConnected(true)

	resp, err := http.Get(ts.URL + "/index.json")
	if err != nil {
		t.Fatalf("GET /index.json: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Errorf("status: got %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type: got %q, want application/json", ct)
	}

	var sj status.StatusJSON
	if err := json.NewDecoder(resp.Body).Decode(&sj); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if len(sj.Status.Relays) != 2 || sj.Status.Relays[0].State != "ON" || sj.Status.Relays[0].Name != "Fridge" {
		t.Errorf("relays: got %+v", sj.Status.Relays)
	}
	if sj.Status.Telemetry == nil || *sj.Status.Telemetry.BatteryLevel != 42 {
		t.Errorf("telemetry: got %+v", sj.Status.Telemetry)
	}
	if sj.Status.Automation.Guard != "ARMED" {
		t.Errorf("guard: got %q, want ARMED", sj.Status.Automation.Guard)
	}
	if sj.Status.Counts.Automations != 3 || sj.Status.Counts.Dropped != 1 {
		t.Errorf("counts: got %+v", sj.Status.Counts)
	}
	if !sj.Status.MQTT.Connected {
		t.Error("mqtt should be connected")
	}
}

func TestHTMLEndpoints(t *testing.T) {
	ts, tr, _ := newTestServer(t)
	tr.SetRelays([]relay.State{{ID: 3, Name: "Water Pump", On: true}})
	tr.SetNetwork(&status.NetworkInfo{Type: "wifi", IP: "192.168.1.50", Status: "connected", SSID: "home"})

	for _, path := range []string{"/", "/index.html"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode != 200 {
			t.Errorf("%s status: got %d, want 200", path, resp.StatusCode)
		}
		if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
			t.Errorf("%s Content-Type: got %q", path, ct)
		}
		for _, want := range []string{"Relay Agent", "Water Pump", "192.168.1.50", "no telemetry yet"} {
			if !strings.Contains(string(body), want) {
				t.Errorf("%s body missing %q", path, want)
			}
		}
	}
}

func TestHealthz(t *testing.T) {
	ts, _, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Errorf("status: got %d, want 200", resp.StatusCode)
	}
}

func TestNotFoundForUnknownPath(t *testing.T) {
	ts, _, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/nope")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != 404 {
		t.Errorf("status: got %d, want 404", resp.StatusCode)
	}
}

func TestToggle(t *testing.T) {
	ts, _, ctrl := newTestServer(t)
	resp := post(t, ts.URL+"/api/relays/2", `{"on":true}`)
	if resp.StatusCode != 200 {
		t.Fatalf("status: got %d, want 200", resp.StatusCode)
	}
	var got relayResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.ID != 2 || got.State != "ON" || got.Name != "Switch 2" {
		t.Errorf("response: got %+v", got)
	}
	if len(ctrl.toggles) != 1 || ctrl.toggles[0] != (relay.State{ID: 2, On: true}) {
		t.Errorf("toggles: got %+v", ctrl.toggles)
	}
}

func TestToggleUnknownRelay(t *testing.T) {
	ts, _, ctrl := newTestServer(t)
	resp := post(t, ts.URL+"/api/relays/9", `{"on":true}`)
	if resp.StatusCode != 404 {
		t.Errorf("status: got %d, want 404", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "9") {
		t.Errorf("error should name the relay: %s", body)
	}
	if len(ctrl.toggles) != 0 {
		t.Errorf("no toggle expected, got %+v", ctrl.toggles)
	}
}

func TestToggleRemoteFailure(t *testing.T) {
	ts, _, ctrl := newTestServer(t)
	ctrl.failRemote = true
	resp := post(t, ts.URL+"/api/relays/1", `{"on":false}`)
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status: got %d, want 502", resp.StatusCode)
	}
	var er errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		t.Fatal(err)
	}
	if !er.Retryable || len(er.Failed) != 1 || er.Failed[0] != 1 {
		t.Errorf("error response: got %+v", er)
	}
}

func TestToggleBadBody(t *testing.T) {
	ts, _, _ := newTestServer(t)
	for _, body := range []string{`nope`, `{}`, `{"on":"yes"}`} {
		resp := post(t, ts.URL+"/api/relays/1", body)
		if resp.StatusCode != 400 {
			t.Errorf("body %s: got %d, want 400", body, resp.StatusCode)
		}
	}
}

func TestToggleWrongMethod(t *testing.T) {
	ts, _, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/api/relays/1")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status: got %d, want 405", resp.StatusCode)
	}
}

func TestPreferences(t *testing.T) {
	ts, _, ctrl := newTestServer(t)
	req, _ := http.NewRequest(http.MethodPut, ts.URL+"/api/preferences", strings.NewReader(`{"preferences":"fridge first"}`))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Errorf("status: got %d, want 200", resp.StatusCode)
	}
	if ctrl.prefs != "fridge first" {
		t.Errorf("prefs: got %q", ctrl.prefs)
	}

	req, _ = http.NewRequest(http.MethodPut, ts.URL+"/api/preferences", strings.NewReader(`{}`))
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != 400 {
		t.Errorf("missing field: got %d, want 400", resp.StatusCode)
	}
}

func TestForecastRefresh(t *testing.T) {
	ts, _, ctrl := newTestServer(t)
	ctrl.forecast = forecast.Forecast{PredictedUsage: 12.5, UsagePatternSummary: "pump at noon"}

	resp := post(t, ts.URL+"/api/forecast/refresh", "")
	if resp.StatusCode != 200 {
		t.Fatalf("status: got %d, want 200", resp.StatusCode)
	}
	var f forecast.Forecast
	if err := json.NewDecoder(resp.Body).Decode(&f); err != nil {
		t.Fatal(err)
	}
	if f.PredictedUsage != 12.5 || f.UsagePatternSummary != "pump at noon" {
		t.Errorf("forecast: got %+v", f)
	}

	ctrl.forecastErr = forecast.ErrUnavailable
	resp = post(t, ts.URL+"/api/forecast/refresh", "")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("failed refresh: got %d, want 503", resp.StatusCode)
	}
}

func TestDecisions(t *testing.T) {
	ts, _, ctrl := newTestServer(t)
	ctrl.decisions = []journal.Entry{{ID: "a", Trigger: "automation", Band: "low", OnCount: 1}}

	resp, err := http.Get(ts.URL + "/api/decisions?limit=5")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var body struct {
		Decisions []journal.Entry `json:"decisions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if len(body.Decisions) != 1 || body.Decisions[0].Band != "low" {
		t.Errorf("decisions: got %+v", body.Decisions)
	}
	if ctrl.lastLimit != 5 {
		t.Errorf("limit: got %d, want 5", ctrl.lastLimit)
	}

	bad, err := http.Get(ts.URL + "/api/decisions?limit=abc")
	if err != nil {
		t.Fatal(err)
	}
	bad.Body.Close()
	if bad.StatusCode != 400 {
		t.Errorf("bad limit: got %d, want 400", bad.StatusCode)
	}
}

func TestDecisionsDefaultLimit(t *testing.T) {
	ts, _, ctrl := newTestServer(t)
	resp, err := http.Get(ts.URL + "/api/decisions")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if ctrl.lastLimit != journal.DefaultLimit {
		t.Errorf("limit: got %d, want %d", ctrl.lastLimit, journal.DefaultLimit)
	}
	if !strings.Contains(string(body), `"decisions":[]`) {
		t.Errorf("empty list expected, got %s", body)
	}
}

func TestCORSPreflight(t *testing.T) {
	ts, _, _ := newTestServer(t)
	req, _ := http.NewRequest(http.MethodOptions, ts.URL+"/api/relays/1", nil)
	req.Header.Set("Origin", "http://dashboard.local")
	req.Header.Set("Access-Control-Request-Method", "POST")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Allow-Origin: got %q, want *", got)
	}
}
