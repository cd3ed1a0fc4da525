package wsclient

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/runframe/agentrelay/internal/events"
	"github.com/runframe/agentrelay/internal/logger"
	"github.com/runframe/agentrelay/internal/relay"
)

func init() {
	logger.SetOutput(io.Discard)
}

type statusLog struct {
	mu  sync.Mutex
	seq []Status
}

func (l *statusLog) add(s Status) {
	l.mu.Lock()
	l.seq = append(l.seq, s)
	l.mu.Unlock()
}

func (l *statusLog) get() []Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Status(nil), l.seq...)
}

type inbox struct {
	ch chan events.Event
}

func newInbox() *inbox { return &inbox{ch: make(chan events.Event, 64)} }

func (b *inbox) push(ev events.Event) { b.ch <- ev }

func (b *inbox) next(t *testing.T) events.Event {
	t.Helper()
	select {
	case ev := <-b.ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return events.Event{}
	}
}

func relayURL(t *testing.T) string {
	t.Helper()
	srv := relay.NewServer(relay.NewRelayFactory(relay.NewRegistry(), relay.RelayOptions{}), relay.Options{})
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func waitDone(t *testing.T, c *Conn) {
	t.Helper()
	select {
	case <-c.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("connection did not finish")
	}
}

func TestConnect_OpenFiresOnce(t *testing.T) {
	url := relayURL(t)
	var opens int
	var mu sync.Mutex
	statuses := &statusLog{}
	in := newInbox()

	c := Connect(url, Options{
		OnMessage: in.push,
		OnStatus:  statuses.add,
		OnOpen: func(send SendFunc) {
			mu.Lock()
			opens++
			mu.Unlock()
			if err := send(events.Transport(events.Identify{Role: events.RoleUI})); err != nil {
				t.Errorf("identify: %v", err)
			}
		},
	})

	if ev := in.next(t); ev.Type != events.TypeAgentDisconnected {
		t.Fatalf("expected presence frame, got %s", ev.Type)
	}
	if c.Status() != StatusOpen {
		t.Fatalf("expected open, got %s", c.Status())
	}

	// The relay now routes us as a UI with no agent.
	if err := c.Send(events.MustNew(events.SourceRuntime, "", events.HumanInput{Text: "hi"})); err != nil {
		t.Fatal(err)
	}
	ev := in.next(t)
	if ev.Type != events.TypeError {
		t.Fatalf("expected ERROR, got %s", ev.Type)
	}

	c.Close()
	waitDone(t, c)

	mu.Lock()
	defer mu.Unlock()
	if opens != 1 {
		t.Errorf("expected OnOpen once, got %d", opens)
	}
	got := statuses.get()
	want := []Status{StatusConnecting, StatusOpen, StatusClosed}
	if len(got) != len(want) {
		t.Fatalf("expected statuses %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("status %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestSend_NotOpen(t *testing.T) {
	// Nothing listens on port 1.
	c := Connect("ws://127.0.0.1:1/", Options{HandshakeTimeout: time.Second})
	err := c.Send(events.Transport(events.GetSystemState{}))
	if !errors.Is(err, ErrNotOpen) {
		t.Fatalf("expected ErrNotOpen while connecting, got %v", err)
	}

	waitDone(t, c)
	if c.Status() != StatusError {
		t.Fatalf("expected error status, got %s", c.Status())
	}
	if err := c.Send(events.Transport(events.GetSystemState{})); !errors.Is(err, ErrNotOpen) {
		t.Errorf("expected ErrNotOpen after failure, got %v", err)
	}
}

func scriptedServer(t *testing.T, frames []string, closeCode int) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		for _, f := range frames {
			ws.WriteMessage(websocket.TextMessage, []byte(f))
		}
		if closeCode != 0 {
			ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(closeCode, ""))
			ws.SetReadDeadline(time.Now().Add(time.Second))
			ws.ReadMessage()
		}
	}))
	t.Cleanup(ts.Close)
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func TestInbound_UnparseableFramesDropped(t *testing.T) {
	url := scriptedServer(t, []string{
		`not json`,
		`{"payload":{}}`,
		`{"type":"STATE_TRANSITION","payload":{"from":"IDLE","to":"THINKING"}}`,
	}, websocket.CloseNormalClosure)

	in := newInbox()
	c := Connect(url, Options{OnMessage: in.push})

	ev := in.next(t)
	if ev.Type != events.TypeStateTransition {
		t.Fatalf("expected first delivered event to be STATE_TRANSITION, got %s", ev.Type)
	}
	waitDone(t, c)
	if c.Status() != StatusClosed {
		t.Errorf("expected closed after normal close, got %s", c.Status())
	}
	select {
	case extra := <-in.ch:
		t.Errorf("unexpected extra event %s", extra.Type)
	default:
	}
}

func TestAbnormalClose_IsError(t *testing.T) {
	url := scriptedServer(t, nil, websocket.CloseInternalServerErr)
	c := Connect(url, Options{})
	waitDone(t, c)
	if c.Status() != StatusError {
		t.Errorf("expected error status, got %s", c.Status())
	}
}

func TestClose_Idempotent(t *testing.T) {
	c := Connect(relayURL(t), Options{})
	deadline := time.Now().Add(2 * time.Second)
	for c.Status() == StatusConnecting && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	waitDone(t, c)
	if c.Status() != StatusClosed {
		t.Errorf("expected closed, got %s", c.Status())
	}
}
