package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/runframe/agentrelay/internal/auth"
	"github.com/runframe/agentrelay/internal/database"
	"github.com/runframe/agentrelay/internal/events"
	"github.com/runframe/agentrelay/internal/logger"
	"github.com/runframe/agentrelay/internal/mockagent"
	"github.com/runframe/agentrelay/internal/relay"
)

func init() {
	logger.SetOutput(io.Discard)
}

func newTestServer(t *testing.T, cfg Config) (*Server, *httptest.Server) {
	t.Helper()
	s := New(cfg)
	ts := httptest.NewServer(s)
	t.Cleanup(s.Close)
	t.Cleanup(ts.Close)
	return s, ts
}

func getJSON(t *testing.T, url string, header http.Header, out interface{}) int {
	t.Helper()
	req, _ := http.NewRequest(http.MethodGet, url, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func dialRelay(t *testing.T, ts *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+path, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readEvent(t *testing.T, ws *websocket.Conn) events.Event {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	ev, err := events.Parse(data)
	if err != nil {
		t.Fatal(err)
	}
	return ev
}

func identify(t *testing.T, ws *websocket.Conn, role events.Role) {
	t.Helper()
	data, _ := events.Transport(events.Identify{Role: role}).Marshal()
	if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatal(err)
	}
}

func TestHealth(t *testing.T) {
	_, ts := newTestServer(t, Config{})
	var body map[string]string
	if code := getJSON(t, ts.URL+"/health", nil, &body); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if body["status"] != "ok" {
		t.Errorf("unexpected body %v", body)
	}
}

func TestRelayStatus_ReflectsConnections(t *testing.T) {
	_, ts := newTestServer(t, Config{Path: "/agent"})

	ui := dialRelay(t, ts, "/agent")
	readEvent(t, ui)
	identify(t, ui, events.RoleUI)
	agent := dialRelay(t, ts, "/agent")
	readEvent(t, agent)
	identify(t, agent, events.RoleAgent)
	if ev := readEvent(t, ui); ev.Type != events.TypeAgentConnected {
		t.Fatalf("expected AGENT_CONNECTED, got %s", ev.Type)
	}

	var st struct {
		UIClients      int  `json:"ui_clients"`
		AgentConnected bool `json:"agent_connected"`
		Connections    int  `json:"connections"`
		Journal        bool `json:"journal"`
	}
	if code := getJSON(t, ts.URL+"/api/relay/status", nil, &st); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if st.UIClients != 1 || !st.AgentConnected || st.Connections != 2 || st.Journal {
		t.Errorf("unexpected status %+v", st)
	}
}

func TestAPI_RequiresTokenWhenAuthEnabled(t *testing.T) {
	svc := auth.NewService("server-test-secret-server-test-secret")
	_, ts := newTestServer(t, Config{Auth: svc})

	if code := getJSON(t, ts.URL+"/api/relay/status", nil, nil); code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", code)
	}
	token, _ := svc.GenerateToken("ops")
	header := http.Header{"Authorization": []string{"Bearer " + token}}
	if code := getJSON(t, ts.URL+"/api/relay/status", header, nil); code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", code)
	}
	// Health stays public for load balancers.
	if code := getJSON(t, ts.URL+"/health", nil, nil); code != http.StatusOK {
		t.Errorf("expected public health, got %d", code)
	}
}

func TestMetricsExposed(t *testing.T) {
	_, ts := newTestServer(t, Config{})
	ws := dialRelay(t, ts, "/")
	readEvent(t, ws)

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "agentrelay_connections") {
		t.Error("expected agentrelay_connections in /metrics output")
	}
}

func TestJournalEndpoint(t *testing.T) {
	db, err := database.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	_, ts := newTestServer(t, Config{DB: db})

	ws := dialRelay(t, ts, "/")
	readEvent(t, ws)
	identify(t, ws, events.RoleUI)
	data, _ := events.MustNew(events.SourceRuntime, "", events.HumanInput{Text: "hi"}).Marshal()
	ws.WriteMessage(websocket.TextMessage, data)
	if ev := readEvent(t, ws); ev.Type != events.TypeError {
		t.Fatalf("expected ERROR, got %s", ev.Type)
	}

	type entry struct {
		Action    string `json:"action"`
		Role      string `json:"role"`
		EventType string `json:"event_type"`
	}
	// Entries are written asynchronously.
	want := []string{"connect", "identify", "reject"}
	deadline := time.Now().Add(2 * time.Second)
	for {
		var entries []entry
		if code := getJSON(t, ts.URL+"/api/relay/journal?limit=10", nil, &entries); code != http.StatusOK {
			t.Fatalf("expected 200, got %d", code)
		}
		actions := map[string]bool{}
		for _, e := range entries {
			actions[e.Action] = true
		}
		missing := 0
		for _, a := range want {
			if !actions[a] {
				missing++
			}
		}
		if missing == 0 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected %v in journal, got %+v", want, entries)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestJournalEndpoint_Disabled(t *testing.T) {
	_, ts := newTestServer(t, Config{})
	if code := getJSON(t, ts.URL+"/api/relay/journal", nil, nil); code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", code)
	}
}

func TestMockFactory(t *testing.T) {
	_, ts := newTestServer(t, Config{Factory: mockagent.NewFactory(mockagent.NewResponder(), 0)})
	ws := dialRelay(t, ts, "/")
	if ev := readEvent(t, ws); ev.Type != events.TypeAgentConnected {
		t.Fatalf("mock mode should report an agent, got %s", ev.Type)
	}
	data, _ := events.MustNew(events.SourceRuntime, "", events.ListProjects{}).Marshal()
	ws.WriteMessage(websocket.TextMessage, data)
	if ev := readEvent(t, ws); ev.Type != events.TypeProjectsList {
		t.Errorf("expected PROJECTS_LIST, got %s", ev.Type)
	}
}

func TestJournalFor(t *testing.T) {
	if JournalFor(nil) != nil {
		t.Fatal("expected a nil journal without a writer")
	}

	db, err := database.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	w := database.NewJournalWriter(db, 4)
	JournalFor(w)(relay.Record{ConnectionID: "c1", Role: events.RoleUI, Action: relay.ActionConnect})
	w.Close()

	entries, err := db.Recent(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].ConnectionID != "c1" || entries[0].Role != "ui" {
		t.Errorf("unexpected entries %+v", entries)
	}
}
