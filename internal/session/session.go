// Package session is the UI-side view of a relay conversation: agent
// presence, activity status, the chat transcript and the project lifecycle,
// all driven by inbound events.
package session

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/runframe/agentrelay/internal/events"
	"github.com/runframe/agentrelay/internal/logger"
	"github.com/runframe/agentrelay/internal/wsclient"
)

var (
	ErrNotSynthesizable = errors.New("project is not ready for synthesis")
	ErrUploadTooLarge   = errors.New("reference upload exceeds size limit")
	ErrEmptyPrompt      = errors.New("prompt is empty")
	ErrEmptyProject     = errors.New("project name or id is empty")
)

const (
	DefaultMaxUploadBytes = 8 << 20

	thinkingText     = "Thinking..."
	workspaceReady   = "Agent workspace ready."
	vhlReady         = "VHL workspace ready."
	disconnectedText = "Disconnected from the agent relay. Reload to reconnect."
	unreadableError  = "The agent reported an error."
)

type Options struct {
	// OnChange receives a snapshot after every mutation. It is called
	// without the session lock held.
	OnChange func(State)
	// MaxUploadBytes caps raw reference files before base64 encoding.
	MaxUploadBytes int
}

// State is an immutable snapshot of a Session.
type State struct {
	Messages          []Message       `json:"messages"`
	AgentStatus       AgentStatus     `json:"agent_status"`
	AgentConnected    bool            `json:"agent_connected"`
	ProjectState      ProjectState    `json:"project_state"`
	ProjectID         string          `json:"project_id,omitempty"`
	ProjectName       string          `json:"project_name,omitempty"`
	AvailableProjects []string        `json:"available_projects,omitempty"`
	DevServerURL      string          `json:"dev_server_url,omitempty"`
	ArtifactID        string          `json:"artifact_id,omitempty"`
	Connection        wsclient.Status `json:"connection"`
}

type Session struct {
	opts Options

	mu         sync.Mutex
	presence   Presence
	activity   Activity
	transcript *Transcript
	project    Project
	artifactID string

	connection   wsclient.Status
	wasOpen      bool
	notifiedDown bool
	send         wsclient.SendFunc
}

func New(opts Options) *Session {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = DefaultMaxUploadBytes
	}
	return &Session{
		opts:       opts,
		activity:   NewActivity(),
		transcript: NewTranscript(),
		project:    NewProject(),
		connection: wsclient.StatusClosed,
	}
}

// ClientOptions wires the session to a relay connection.
func (s *Session) ClientOptions() wsclient.Options {
	return wsclient.Options{
		OnMessage: s.Handle,
		OnOpen:    s.OnOpen,
		OnStatus:  s.OnStatus,
	}
}

// update runs fn under the lock and publishes a snapshot if it reports a
// change.
func (s *Session) update(fn func() bool) {
	s.mu.Lock()
	changed := fn()
	var st State
	if changed {
		st = s.snapshotLocked()
	}
	s.mu.Unlock()
	if changed && s.opts.OnChange != nil {
		s.opts.OnChange(st)
	}
}

func (s *Session) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() State {
	return State{
		Messages:          s.transcript.Messages(),
		AgentStatus:       s.activity.Status(),
		AgentConnected:    s.presence.Connected(),
		ProjectState:      s.project.State,
		ProjectID:         s.project.ID,
		ProjectName:       s.project.Name,
		AvailableProjects: append([]string(nil), s.project.Available...),
		DevServerURL:      s.project.DevServerURL,
		ArtifactID:        s.artifactID,
		Connection:        s.connection,
	}
}

// OnOpen identifies as a UI and asks the agent for a full state snapshot.
func (s *Session) OnOpen(send wsclient.SendFunc) {
	s.mu.Lock()
	s.send = send
	s.mu.Unlock()

	if err := send(events.Transport(events.Identify{Role: events.RoleUI})); err != nil {
		logger.Warn("Identify failed: %v", err)
		return
	}
	if err := s.RequestSystemState(); err != nil {
		logger.Warn("System state request failed: %v", err)
	}
}

// OnStatus records the connection status. The first drop after a
// successful open is surfaced once in the transcript.
func (s *Session) OnStatus(status wsclient.Status) {
	s.update(func() bool {
		s.connection = status
		switch status {
		case wsclient.StatusOpen:
			s.wasOpen = true
			s.notifiedDown = false
		case wsclient.StatusClosed, wsclient.StatusError:
			s.send = nil
			s.presence.Apply(events.TypeAgentDisconnected)
			if s.wasOpen && !s.notifiedDown {
				s.notifiedDown = true
				s.transcript.SetError(disconnectedText)
			}
		}
		return true
	})
}

// Handle applies one inbound event.
func (s *Session) Handle(ev events.Event) {
	// Rules keyed on the type alone still apply when the payload is bad.
	payload, err := ev.Decode()
	if err != nil {
		logger.Warn("Bad %s payload: %v", ev.Type, err)
		payload = nil
		if ev.Type == events.TypeError {
			payload = events.Error{Message: unreadableError}
		}
	}

	s.update(func() bool {
		changed := false
		if id := ev.Artifact(); id != "" && id != s.artifactID {
			s.artifactID = id
			changed = true
		}
		if s.presence.Apply(ev.Type) {
			changed = true
		}
		if s.activity.Apply(payload) {
			changed = true
		}
		if s.project.Apply(ev, payload) {
			changed = true
		}
		if s.chat(ev, payload) {
			changed = true
		}
		return changed
	})
}

func (s *Session) chat(ev events.Event, payload events.Payload) bool {
	t := s.transcript
	switch v := payload.(type) {
	case events.StateTransition:
		if v.To != events.StateThinking {
			return false
		}
		t.AddAssistantMessage(thinkingText, MessageThinking)

	case events.EvaluationUpdate:
		content, status := evaluationMessage(v)
		t.UpdateLastAssistantMessage(content, status, ev.Artifact())

	case events.ArtifactUpdated:
		content := v.Message
		if content == "" {
			content = "Artifact updated."
		}
		t.UpdateLastAssistantMessage(content, MessageCompleted, ev.Artifact())

	case events.AuthorityRequired:
		t.AddAssistantMessage(v.Message, "")

	case events.HILRequest:
		content := v.Message
		if len(v.Options) > 0 {
			content += "\n" + strings.Join(v.Options, " / ")
		}
		t.AddAssistantMessage(content, "")

	case events.Error:
		t.SetError(v.Message)

	case events.ProjectCreated:
		t.AddAssistantMessage(workspaceReady, "")

	case events.ProjectLoaded:
		name := v.ProjectName
		if name == "" {
			name = v.ProjectID
		}
		t.AddAssistantMessage(fmt.Sprintf("Project %s loaded.", name), "")

	case events.VHLWorkspaceReady:
		t.AddAssistantMessage(vhlReady, "")

	case events.DevServerReady:
		t.AddAssistantMessage("Dev server ready at "+v.URL, "")

	default:
		return false
	}
	return true
}

func evaluationMessage(v events.EvaluationUpdate) (string, MessageStatus) {
	status := MessageEvaluating
	fallback := "Evaluating..."
	switch v.Status {
	case events.EvaluationPass:
		status, fallback = MessageCompleted, "Evaluation passed."
	case events.EvaluationFail:
		status, fallback = MessageError, "Evaluation failed."
	}
	if v.Message != "" {
		return v.Message, status
	}
	return fallback, status
}

// emit sends a runtime event tagged with the current artifact.
func (s *Session) emit(p events.Payload) error {
	s.mu.Lock()
	send, artifact := s.send, s.artifactID
	s.mu.Unlock()
	if send == nil {
		logger.Warn("Relay not connected, cannot send %s", p.EventType())
		return wsclient.ErrNotOpen
	}
	ev, err := events.New(events.SourceRuntime, artifact, p)
	if err != nil {
		return err
	}
	return send(ev)
}

// SendPrompt records the user's message and forwards it as HUMAN_INPUT.
func (s *Session) SendPrompt(text, image string) error {
	text = strings.TrimSpace(text)
	if text == "" && image == "" {
		return ErrEmptyPrompt
	}
	s.update(func() bool {
		s.transcript.AddUserMessage(text, image)
		return true
	})
	return s.emit(events.HumanInput{Text: text, Image: image})
}

// UploadReference sends a file inline as base64. Files larger than the
// configured cap are refused before encoding.
func (s *Session) UploadReference(fileName, mimeType string, data []byte) error {
	if len(data) > s.opts.MaxUploadBytes {
		return fmt.Errorf("%s is %d bytes, limit %d: %w", fileName, len(data), s.opts.MaxUploadBytes, ErrUploadTooLarge)
	}
	s.update(func() bool {
		s.transcript.AddUserMessage("Uploaded "+fileName, "")
		return true
	})
	return s.emit(events.ReferenceUploaded{
		FileName: fileName,
		MimeType: mimeType,
		Kind:     referenceKind(mimeType),
		Size:     len(data),
		Data:     base64.StdEncoding.EncodeToString(data),
	})
}

func referenceKind(mimeType string) string {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return "image"
	case mimeType == "application/pdf":
		return "pdf"
	}
	return "document"
}

func (s *Session) Interrupt(reason string) error {
	return s.emit(events.InterruptRequest{Reason: reason})
}

// CreateProject moves to CREATING_PROJECT and asks the agent for a new
// workspace. The state is rolled back only if the request never left.
func (s *Session) CreateProject(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrEmptyProject
	}
	return s.beginProject(func(p *Project) { p.BeginCreate(name) }, events.CreateProject{ProjectName: name})
}

func (s *Session) LoadProject(id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return ErrEmptyProject
	}
	return s.beginProject(func(p *Project) { p.BeginLoad(id) }, events.LoadProject{ProjectID: id})
}

func (s *Session) beginProject(begin func(*Project), p events.Payload) error {
	var prev Project
	s.update(func() bool {
		prev = s.project
		begin(&s.project)
		return true
	})
	if err := s.emit(p); err != nil {
		s.update(func() bool {
			s.project = prev
			return true
		})
		return err
	}
	return nil
}

func (s *Session) ListProjects() error {
	return s.emit(events.ListProjects{})
}

// Synthesize asks the agent to synthesize the current project.
func (s *Session) Synthesize() error {
	s.mu.Lock()
	ok, id := s.project.Synthesizable(), s.project.ID
	state := s.project.State
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%s: %w", state, ErrNotSynthesizable)
	}
	return s.emit(events.SynthesizeCircuit{ProjectID: id})
}

func (s *Session) RequestSystemState() error {
	return s.emit(events.GetSystemState{})
}
