package mockagent

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/gorilla/websocket"

	"github.com/runframe/agentrelay/internal/events"
	"github.com/runframe/agentrelay/internal/logger"
	"github.com/runframe/agentrelay/internal/relay"
	"github.com/runframe/agentrelay/internal/session"
	"github.com/runframe/agentrelay/internal/wsclient"
)

func init() {
	logger.SetOutput(io.Discard)
}

func uiEvent(artifact string, p events.Payload) events.Event {
	return events.MustNew(events.SourceRuntime, artifact, p)
}

func types(evs []events.Event) []events.Type {
	out := make([]events.Type, len(evs))
	for i, ev := range evs {
		out[i] = ev.Type
	}
	return out
}

func TestRespond_HumanInputScript(t *testing.T) {
	r := NewResponder()
	got := r.Respond(uiEvent("art-1", events.HumanInput{Text: "blink"}))

	want := []events.Type{
		events.TypeStateTransition,
		events.TypeEvaluationUpdate,
		events.TypeArtifactUpdated,
		events.TypeStateTransition,
	}
	if diff := cmp.Diff(want, types(got)); diff != "" {
		t.Fatalf("script (-want +got):\n%s", diff)
	}
	for _, ev := range got {
		if ev.Artifact() != "art-1" || ev.Source != events.SourceBackend {
			t.Errorf("reply %s: artifact=%q source=%q", ev.Type, ev.Artifact(), ev.Source)
		}
	}
	p, _ := got[2].Decode()
	if msg := p.(events.ArtifactUpdated).Message; msg != "Successfully processed: blink" {
		t.Errorf("unexpected message %q", msg)
	}
}

func TestRespond_NewArtifactWhenNoneGiven(t *testing.T) {
	r := NewResponder()
	got := r.Respond(uiEvent("", events.HumanInput{Text: "x"}))
	if id := got[0].Artifact(); !strings.HasPrefix(id, "art-") {
		t.Errorf("expected generated artifact id, got %q", id)
	}
}

func TestRespond_Interrupt(t *testing.T) {
	got := NewResponder().Respond(uiEvent("", events.InterruptRequest{}))
	if len(got) != 1 || got[0].Type != events.TypeError {
		t.Fatalf("expected one ERROR, got %v", types(got))
	}
	p, _ := got[0].Decode()
	if p.(events.Error).Message != MsgCancelled {
		t.Errorf("unexpected message %+v", p)
	}
}

func TestRespond_ProjectCatalog(t *testing.T) {
	r := NewResponder()

	created := r.Respond(uiEvent("", events.CreateProject{ProjectName: "LED Blinker"}))
	want := []events.Type{events.TypeProjectCreated, events.TypeVHLWorkspaceReady, events.TypeDevServerReady}
	if diff := cmp.Diff(want, types(created)); diff != "" {
		t.Fatalf("create (-want +got):\n%s", diff)
	}
	p, _ := created[0].Decode()
	if pc := p.(events.ProjectCreated); pc.ProjectID != "led-blinker" || pc.ProjectName != "LED Blinker" {
		t.Errorf("unexpected project %+v", pc)
	}

	dup := r.Respond(uiEvent("", events.CreateProject{ProjectName: "led blinker"}))
	if len(dup) != 1 || dup[0].Type != events.TypeError {
		t.Errorf("expected duplicate to fail, got %v", types(dup))
	}

	r.Respond(uiEvent("", events.CreateProject{ProjectName: "amp"}))
	list := r.Respond(uiEvent("", events.ListProjects{}))
	lp, _ := list[0].Decode()
	if diff := cmp.Diff([]string{"amp", "led-blinker"}, lp.(events.ProjectsList).Projects); diff != "" {
		t.Errorf("projects (-want +got):\n%s", diff)
	}

	missing := r.Respond(uiEvent("", events.LoadProject{ProjectID: "nope"}))
	if missing[0].Type != events.TypeError {
		t.Errorf("expected ERROR for unknown project, got %s", missing[0].Type)
	}

	loaded := r.Respond(uiEvent("", events.LoadProject{ProjectID: "led-blinker"}))
	if loaded[0].Type != events.TypeProjectLoaded {
		t.Fatalf("expected PROJECT_LOADED, got %s", loaded[0].Type)
	}

	state := r.Respond(uiEvent("", events.GetSystemState{}))
	sp, _ := state[0].Decode()
	st := sp.(events.SystemState)
	if st.ProjectState != "PROJECT_INITIALIZED" || st.ProjectID != "led-blinker" || len(st.AvailableProjects) != 2 {
		t.Errorf("unexpected system state %+v", st)
	}
}

func TestRespond_SynthesizeNeedsProject(t *testing.T) {
	r := NewResponder()
	got := r.Respond(uiEvent("", events.SynthesizeCircuit{}))
	if got[0].Type != events.TypeError {
		t.Fatalf("expected ERROR, got %s", got[0].Type)
	}
	r.Respond(uiEvent("", events.CreateProject{ProjectName: "psu"}))
	got = r.Respond(uiEvent("", events.SynthesizeCircuit{ProjectID: "psu"}))
	if diff := cmp.Diff([]events.Type{events.TypeEvaluationUpdate, events.TypeEvaluationUpdate}, types(got)); diff != "" {
		t.Errorf("synthesis (-want +got):\n%s", diff)
	}
}

func TestRespond_IgnoresTransport(t *testing.T) {
	if got := NewResponder().Respond(events.Transport(events.AgentConnected{})); got != nil {
		t.Errorf("expected nil, got %v", types(got))
	}
}

type sink struct {
	ch chan events.Event
}

func newSink() *sink { return &sink{ch: make(chan events.Event, 64)} }

func (s *sink) send(ev events.Event) { s.ch <- ev }

func (s *sink) next(t *testing.T) events.Event {
	t.Helper()
	select {
	case ev := <-s.ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reply")
		return events.Event{}
	}
}

func TestPlayer_InterruptAbandonsScript(t *testing.T) {
	out := newSink()
	p := newPlayer(NewResponder(), time.Hour, out.send)
	p.start()
	defer p.stop()

	p.submit(uiEvent("a", events.HumanInput{Text: "slow"}))
	if ev := out.next(t); ev.Type != events.TypeStateTransition {
		t.Fatalf("expected first step, got %s", ev.Type)
	}

	p.submit(uiEvent("a", events.InterruptRequest{}))
	if ev := out.next(t); ev.Type != events.TypeError {
		t.Fatalf("expected ERROR, got %s", ev.Type)
	}

	// The next script starts right away instead of waiting out the hour.
	p.submit(uiEvent("b", events.InterruptRequest{}))
	out.next(t)
	p.submit(uiEvent("", events.ListProjects{}))
	if ev := out.next(t); ev.Type != events.TypeProjectsList {
		t.Fatalf("expected PROJECTS_LIST, got %s", ev.Type)
	}
}

// watch collects session snapshots and waits for a condition.
type watch struct {
	mu   sync.Mutex
	last session.State
	ch   chan struct{}
}

func newWatch() *watch { return &watch{ch: make(chan struct{}, 1)} }

func (w *watch) onChange(st session.State) {
	w.mu.Lock()
	w.last = st
	w.mu.Unlock()
	select {
	case w.ch <- struct{}{}:
	default:
	}
}

func (w *watch) until(t *testing.T, what string, cond func(session.State) bool) session.State {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		w.mu.Lock()
		st := w.last
		w.mu.Unlock()
		if cond(st) {
			return st
		}
		select {
		case <-w.ch:
		case <-deadline:
			t.Fatalf("timed out waiting for %s; last state %+v", what, st)
		}
	}
}

func connectUI(t *testing.T, url string) (*session.Session, *watch) {
	t.Helper()
	w := newWatch()
	s := session.New(session.Options{OnChange: w.onChange})
	c := wsclient.Connect(url, s.ClientOptions())
	t.Cleanup(func() {
		c.Close()
		<-c.Done()
	})
	return s, w
}

func lastMessage(st session.State) session.Message {
	if len(st.Messages) == 0 {
		return session.Message{}
	}
	return st.Messages[len(st.Messages)-1]
}

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func TestRunAgent_EndToEnd(t *testing.T) {
	relaySrv := relay.NewServer(relay.NewRelayFactory(relay.NewRegistry(), relay.RelayOptions{}), relay.Options{})
	ts := httptest.NewServer(relaySrv)
	defer ts.Close()

	ui, w := connectUI(t, wsURL(ts))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- RunAgent(ctx, wsURL(ts), NewResponder(), AgentOptions{}) }()

	w.until(t, "agent presence", func(st session.State) bool { return st.AgentConnected })

	if err := ui.CreateProject("led-blinker"); err != nil {
		t.Fatal(err)
	}
	st := w.until(t, "VHL workspace", func(st session.State) bool { return st.ProjectState == session.VHLReady })
	if st.ProjectID != "led-blinker" {
		t.Errorf("expected project led-blinker, got %q", st.ProjectID)
	}

	if err := ui.SendPrompt("make it blink at 2Hz", ""); err != nil {
		t.Fatal(err)
	}
	st = w.until(t, "artifact update", func(st session.State) bool {
		last := lastMessage(st)
		return last.Status == session.MessageCompleted && strings.Contains(last.Content, "2Hz")
	})
	if st.ArtifactID == "" {
		t.Error("expected artifact id to be tracked")
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("RunAgent returned %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("RunAgent did not stop")
	}
	w.until(t, "agent gone", func(st session.State) bool { return !st.AgentConnected })
}

func TestHandler_ServesUIDirectly(t *testing.T) {
	srv := relay.NewServer(NewFactory(NewResponder(), 0), relay.Options{})
	ts := httptest.NewServer(srv)
	defer ts.Close()

	ui, w := connectUI(t, wsURL(ts))
	w.until(t, "presence", func(st session.State) bool { return st.AgentConnected })

	if err := ui.SendPrompt("hello", ""); err != nil {
		t.Fatal(err)
	}
	w.until(t, "reply", func(st session.State) bool {
		return st.AgentStatus == session.StatusIdle && lastMessage(st).Status == session.MessageCompleted
	})

	if err := ui.Interrupt(""); err != nil {
		t.Fatal(err)
	}
	st := w.until(t, "cancel", func(st session.State) bool {
		return lastMessage(st).Content == MsgCancelled
	})
	if last := lastMessage(st); last.Status != session.MessageError {
		t.Errorf("expected error status, got %+v", last)
	}
}

func TestRunAgent_SurvivesForgedError(t *testing.T) {
	relaySrv := relay.NewServer(relay.NewRelayFactory(relay.NewRegistry(), relay.RelayOptions{}), relay.Options{})
	ts := httptest.NewServer(relaySrv)
	defer ts.Close()

	ui, w := connectUI(t, wsURL(ts))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- RunAgent(ctx, wsURL(ts), NewResponder(), AgentOptions{}) }()
	w.until(t, "agent presence", func(st session.State) bool { return st.AgentConnected })

	// A second UI forwards an id-less ERROR whose payload does not decode.
	raw, _, err := websocket.DefaultDialer.Dial(wsURL(ts), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer raw.Close()
	raw.WriteMessage(websocket.TextMessage, []byte(`{"type":"IDENTIFY","payload":{"role":"ui"}}`))
	raw.WriteMessage(websocket.TextMessage, []byte(`{"type":"ERROR","payload":{"message":5}}`))
	raw.WriteMessage(websocket.TextMessage, []byte(`{"type":"ERROR","payload":"boom"}`))

	raw.WriteMessage(websocket.TextMessage, []byte(`{"type":"LIST_PROJECTS","payload":{}}`))

	// The agent handles this UI's frames in order, so a reply to the last
	// one means it got past the forged ones.
	deadline := time.Now().Add(3 * time.Second)
	for {
		raw.SetReadDeadline(deadline)
		_, data, err := raw.ReadMessage()
		if err != nil {
			t.Fatalf("no PROJECTS_LIST after forged ERROR frames: %v", err)
		}
		ev, err := events.Parse(data)
		if err == nil && ev.Type == events.TypeProjectsList {
			break
		}
	}

	if err := ui.RequestSystemState(); err != nil {
		t.Fatal(err)
	}
	if st := w.until(t, "agent presence", func(st session.State) bool { return st.AgentConnected }); !st.AgentConnected {
		t.Error("expected agent to stay connected")
	}
	select {
	case err := <-errCh:
		t.Fatalf("RunAgent exited early: %v", err)
	default:
	}
}
