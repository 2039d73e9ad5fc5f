package web

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/teslashibe/go-trackables/internal/metrics"
	"github.com/teslashibe/go-trackables/pkg/camera"
	"github.com/teslashibe/go-trackables/pkg/changes"
	"github.com/teslashibe/go-trackables/pkg/frameloop"
	"github.com/teslashibe/go-trackables/pkg/subsystem"
	"github.com/teslashibe/go-trackables/pkg/trackable"
	"github.com/teslashibe/go-trackables/pkg/tracking/sim"
)

type fixture struct {
	server *Server
	loop   *frameloop.Loop
	sub    *subsystem.Subsystem[sim.Marker]
	scene  *sim.Scene[sim.Marker]
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	metrics.Register()

	scene := sim.NewScene(sim.MarkerEqual)
	sub := subsystem.New(subsystem.Descriptor{ID: "markers", Kind: "sim"}, subsystem.Provider[sim.Marker](scene), subsystem.DefaultConfig())
	loop := frameloop.New(frameloop.DefaultConfig())
	server := NewServer(Config{Addr: ":0"}, loop)
	if err := loop.Add(frameloop.Bind(sub, changes.Temp, EventHandler[sim.Marker](server.Changes()), frameloop.BindOptions{})); err != nil {
		t.Fatalf("Add: %v", err)
	}
	return &fixture{server: server, loop: loop, sub: sub, scene: scene}
}

func (f *fixture) do(t *testing.T, method, path, body string) (int, []byte) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := f.server.app.Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, data
}

func TestSubsystemLifecycle(t *testing.T) {
	f := newFixture(t)

	code, body := f.do(t, "GET", "/api/subsystems", "")
	if code != http.StatusOK {
		t.Fatalf("list: got %d", code)
	}
	var list []SubsystemStatus
	if err := json.Unmarshal(body, &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list) != 1 || list[0].ID != "markers" || list[0].Kind != "sim" || list[0].Running {
		t.Errorf("list: got %+v", list)
	}

	code, body = f.do(t, "POST", "/api/subsystems/markers/start", "")
	if code != http.StatusOK {
		t.Fatalf("start: got %d %s", code, body)
	}
	if !f.sub.Running() {
		t.Error("subsystem should be running after start")
	}

	f.scene.Put(sim.Marker{ID: trackable.NewID(), Label: "A", State: trackable.Tracking})
	if err := f.loop.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	code, body = f.do(t, "GET", "/api/subsystems/markers/live", "")
	if code != http.StatusOK {
		t.Fatalf("live: got %d", code)
	}
	var live []sim.Marker
	if err := json.Unmarshal(body, &live); err != nil {
		t.Fatalf("decode live: %v", err)
	}
	if len(live) != 1 || live[0].Label != "A" {
		t.Errorf("live: got %+v", live)
	}

	code, body = f.do(t, "GET", "/api/subsystems/markers/live?format=msgpack", "")
	if code != http.StatusOK {
		t.Fatalf("live msgpack: got %d", code)
	}
	dec := msgpack.NewDecoder(bytes.NewReader(body))
	dec.SetCustomStructTag("json")
	var packed []sim.Marker
	if err := dec.Decode(&packed); err != nil {
		t.Fatalf("decode live msgpack: %v", err)
	}
	if len(packed) != 1 || packed[0] != live[0] {
		t.Errorf("live msgpack: got %+v, want %+v", packed, live)
	}

	code, body = f.do(t, "GET", "/api/subsystems/markers", "")
	var st SubsystemStatus
	json.Unmarshal(body, &st)
	if code != http.StatusOK || !st.Running || st.Live != 1 || st.Stats.Polls != 1 || st.Stats.Added != 1 {
		t.Errorf("status: got %d %+v", code, st)
	}

	if code, _ := f.do(t, "POST", "/api/subsystems/markers/stop", ""); code != http.StatusOK {
		t.Errorf("stop: got %d", code)
	}
	if f.sub.Running() {
		t.Error("subsystem should be stopped")
	}
}

func TestUnknownSubsystem(t *testing.T) {
	f := newFixture(t)
	for _, tc := range []struct{ method, path string }{
		{"GET", "/api/subsystems/nope"},
		{"POST", "/api/subsystems/nope/start"},
		{"POST", "/api/subsystems/nope/stop"},
		{"GET", "/api/subsystems/nope/live"},
	} {
		if code, _ := f.do(t, tc.method, tc.path, ""); code != http.StatusNotFound {
			t.Errorf("%s %s: got %d, want 404", tc.method, tc.path, code)
		}
	}
}

func TestStartDestroyedSubsystem(t *testing.T) {
	f := newFixture(t)
	f.sub.Destroy()
	if code, _ := f.do(t, "POST", "/api/subsystems/markers/start", ""); code != http.StatusConflict {
		t.Errorf("got %d, want 409", code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.sub.Start(context.Background())
	f.loop.Tick(context.Background())

	code, body := f.do(t, "GET", "/metrics", "")
	if code != http.StatusOK {
		t.Fatalf("got %d", code)
	}
	if !strings.Contains(string(body), "trackables_polls_total") {
		t.Error("metrics output missing trackables_polls_total")
	}
}

func TestCameraEndpoints(t *testing.T) {
	f := newFixture(t)
	if code, _ := f.do(t, "GET", "/api/camera", ""); code != http.StatusNotFound {
		t.Errorf("no camera: got %d, want 404", code)
	}

	f.server.Camera = camera.NewManager(camera.DefaultConfig())
	code, body := f.do(t, "PUT", "/api/camera", `{"preset":"low"}`)
	if code != http.StatusOK {
		t.Fatalf("put: got %d %s", code, body)
	}
	var cfg camera.Config
	json.Unmarshal(body, &cfg)
	if cfg.Width != 640 {
		t.Errorf("Width: got %d, want 640", cfg.Width)
	}

	if code, _ := f.do(t, "PUT", "/api/camera", `{"quality":500}`); code != http.StatusBadRequest {
		t.Errorf("invalid: got %d, want 400", code)
	}
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	code, body := f.do(t, "GET", "/api/health", "")
	if code != http.StatusOK || !strings.Contains(string(body), `"status":"ok"`) {
		t.Errorf("got %d %s", code, body)
	}
}

func TestWebSocketRequiresUpgrade(t *testing.T) {
	f := newFixture(t)
	if code, _ := f.do(t, "GET", "/ws/changes", ""); code != http.StatusUpgradeRequired {
		t.Errorf("got %d, want 426", code)
	}
}

func TestChangesStream(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go f.server.Serve(ctx, ln)
	defer f.server.Shutdown(context.Background())

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+ln.Addr().String()+"/ws/changes", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for f.server.Changes().ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(time.Millisecond)
	}

	f.sub.Start(ctx)
	a := sim.Marker{ID: trackable.NewID(), Label: "A", State: trackable.Tracking}
	f.scene.Put(a)
	f.loop.Tick(ctx)
	// A quiet frame produces no event
	f.loop.Tick(ctx)
	f.scene.Remove(a.ID)
	f.loop.Tick(ctx)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var events []Event[sim.Marker]
	for len(events) < 2 {
		var ev Event[sim.Marker]
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("read: %v", err)
		}
		events = append(events, ev)
	}

	if events[0].Seq != 1 || events[0].Subsystem != "markers" || len(events[0].Added) != 1 || events[0].Added[0].ID != a.ID {
		t.Errorf("first event: got %+v", events[0])
	}
	if events[1].Seq != 2 || len(events[1].Removed) != 1 || len(events[1].Added) != 0 {
		t.Errorf("second event: got %+v", events[1])
	}
}
