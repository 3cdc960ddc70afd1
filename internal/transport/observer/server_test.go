package observer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"colonysim.ai/internal/observerproto"
	"colonysim.ai/internal/sim/scenario"
	"colonysim.ai/internal/sim/tuning"
	"colonysim.ai/internal/sim/worldtest"
)

func newTestServer(t *testing.T) (*worldtest.Harness, *httptest.Server) {
	t.Helper()
	sc, err := scenario.Load(filepath.Join(worldtest.ConfigDir, "scenario.yaml"))
	if err != nil {
		t.Fatalf("scenario: %v", err)
	}
	h := worldtest.NewHarnessFromScenario(t, sc, func(tu *tuning.Tuning) { tu.TickRateHz = 50 })
	s := NewServer(h.W, nil)
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/observe/bootstrap", s.BootstrapHandler())
	mux.HandleFunc("/v1/observe/ws", s.WSHandler())
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return h, srv
}

func TestBootstrap(t *testing.T) {
	_, srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/v1/observe/bootstrap")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	var boot observerproto.BootstrapResponse
	if err := json.NewDecoder(resp.Body).Decode(&boot); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if boot.ProtocolVersion != observerproto.Version || boot.WorldID != "test" || boot.Tick != 0 {
		t.Fatalf("bootstrap=%+v", boot)
	}
	if boot.WorldParams.Width != 16 || boot.WorldParams.TickRateHz != 50 || boot.WorldParams.BoardPolicy != "priority" {
		t.Fatalf("params=%+v", boot.WorldParams)
	}
	if len(boot.JobTypes) != 5 {
		t.Fatalf("job types=%v", boot.JobTypes)
	}

	post, err := http.Post(srv.URL+"/v1/observe/bootstrap", "application/json", strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	post.Body.Close()
	if post.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("POST status=%d", post.StatusCode)
	}
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/observe/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil returns the first message whose "type" is want.
func readUntil(t *testing.T, conn *websocket.Conn, want string) []byte {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for %s: %v", want, err)
		}
		var head struct {
			Type string `json:"type"`
		}
		if json.Unmarshal(msg, &head) == nil && head.Type == want {
			return msg
		}
	}
}

func TestWS_TicksAndControls(t *testing.T) {
	h, srv := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.W.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	conn := dial(t, srv)
	sub := observerproto.SubscribeMsg{Type: observerproto.TypeSubscribe, ProtocolVersion: observerproto.Version, BoardTop: 2}
	if err := conn.WriteJSON(sub); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	var tick observerproto.TickMsg
	if err := json.Unmarshal(readUntil(t, conn, observerproto.TypeTick), &tick); err != nil {
		t.Fatalf("decode tick: %v", err)
	}
	if !strings.HasPrefix(tick.SessionID, "O") || len(tick.Jobs) == 0 || len(tick.Board) > 2 {
		t.Fatalf("tick=%+v", tick)
	}

	control := func(op string, id uint64) observerproto.ControlResultMsg {
		t.Helper()
		msg := observerproto.ControlMsg{Type: observerproto.TypeControl, ProtocolVersion: observerproto.Version, Op: op, JobID: id}
		if err := conn.WriteJSON(msg); err != nil {
			t.Fatalf("control: %v", err)
		}
		var res observerproto.ControlResultMsg
		if err := json.Unmarshal(readUntil(t, conn, observerproto.TypeControlResult), &res); err != nil {
			t.Fatalf("decode result: %v", err)
		}
		return res
	}

	if res := control("PAUSE", uint64(h.Names["supper"])); !res.OK {
		t.Fatalf("pause: %+v", res)
	}
	if res := control("CANCEL", 9999); res.OK || res.Error != "no such job" {
		t.Fatalf("cancel unknown: %+v", res)
	}
	if res := control("EXPLODE", uint64(h.Names["supper"])); res.OK || !strings.Contains(res.Error, "unknown op") {
		t.Fatalf("unknown op: %+v", res)
	}
}

func TestWS_RejectsBadSubscribe(t *testing.T) {
	_, srv := newTestServer(t)
	conn := dial(t, srv)
	if err := conn.WriteJSON(observerproto.SubscribeMsg{Type: observerproto.TypeSubscribe, ProtocolVersion: "9.9"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("err=%v want policy violation close", err)
	}
}

func TestIsLoopbackRemote(t *testing.T) {
	cases := map[string]bool{
		"127.0.0.1:5000": true,
		"[::1]:5000":     true,
		"::1":            true,
		"10.0.0.2:5000":  false,
		"example:80":     false,
		"":               false,
	}
	for addr, want := range cases {
		if got := isLoopbackRemote(addr); got != want {
			t.Fatalf("isLoopbackRemote(%q)=%v want %v", addr, got, want)
		}
	}
}
