package events

import (
	"encoding/json"
	"fmt"
)

// Payload is implemented by every typed event body.
type Payload interface {
	EventType() Type
}

type HumanInput struct {
	Text  string `json:"text"`
	Image string `json:"image,omitempty"`
}

// ReferenceUploaded carries a file inline as base64; there is no separate
// upload channel.
type ReferenceUploaded struct {
	FileName string `json:"file_name"`
	MimeType string `json:"mime_type,omitempty"`
	Kind     string `json:"kind,omitempty"`
	Size     int    `json:"size"`
	Data     string `json:"data"`
}

type InterruptRequest struct {
	Reason string `json:"reason,omitempty"`
}

type Identify struct {
	Role Role   `json:"role"`
	Key  string `json:"key,omitempty"`
}

type GetSystemState struct{}

type CreateProject struct {
	ProjectName string `json:"project_name"`
}

type LoadProject struct {
	ProjectID string `json:"project_id"`
}

type ListProjects struct{}

type SynthesizeCircuit struct {
	ProjectID string `json:"project_id,omitempty"`
}

// Agent states named in STATE_TRANSITION payloads.
const (
	StateThinking = "THINKING"
	StateIdle     = "IDLE"
)

type StateTransition struct {
	From string `json:"from,omitempty"`
	To   string `json:"to"`
}

// Evaluation statuses named in EVALUATION_UPDATE payloads.
const (
	EvaluationRunning = "running"
	EvaluationPass    = "pass"
	EvaluationFail    = "fail"
)

type EvaluationUpdate struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type ArtifactUpdated struct {
	Message string `json:"message,omitempty"`
	Path    string `json:"path,omitempty"`
}

type AuthorityRequired struct {
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
}

type HILRequest struct {
	Message string   `json:"message"`
	Options []string `json:"options,omitempty"`
}

type Error struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type ProjectCreated struct {
	ProjectID   string `json:"project_id"`
	ProjectName string `json:"project_name"`
}

type ProjectLoaded struct {
	ProjectID   string `json:"project_id"`
	ProjectName string `json:"project_name"`
}

type ProjectsList struct {
	Projects []string `json:"projects"`
}

type DevServerReady struct {
	URL string `json:"url"`
}

type VHLWorkspaceReady struct {
	ProjectID string `json:"project_id,omitempty"`
	Path      string `json:"path,omitempty"`
}

// SystemState is a full snapshot the agent sends so a reloaded tab can
// resynchronize without replaying history.
type SystemState struct {
	ProjectState      string   `json:"project_state"`
	ProjectID         string   `json:"project_id,omitempty"`
	ProjectName       string   `json:"project_name,omitempty"`
	ArtifactID        string   `json:"artifact_id,omitempty"`
	AgentStatus       string   `json:"agent_status,omitempty"`
	DevServerURL      string   `json:"dev_server_url,omitempty"`
	AvailableProjects []string `json:"available_projects,omitempty"`
}

type AgentConnected struct{}

type AgentDisconnected struct{}

// Unknown holds a frame whose type is outside the taxonomy. It is forwarded
// untouched.
type Unknown struct {
	Type Type
	Raw  json.RawMessage
}

func (HumanInput) EventType() Type        { return TypeHumanInput }
func (ReferenceUploaded) EventType() Type { return TypeReferenceUploaded }
func (InterruptRequest) EventType() Type  { return TypeInterruptRequest }
func (Identify) EventType() Type          { return TypeIdentify }
func (GetSystemState) EventType() Type    { return TypeGetSystemState }
func (CreateProject) EventType() Type     { return TypeCreateProject }
func (LoadProject) EventType() Type       { return TypeLoadProject }
func (ListProjects) EventType() Type      { return TypeListProjects }
func (SynthesizeCircuit) EventType() Type { return TypeSynthesizeCircuit }
func (StateTransition) EventType() Type   { return TypeStateTransition }
func (EvaluationUpdate) EventType() Type  { return TypeEvaluationUpdate }
func (ArtifactUpdated) EventType() Type   { return TypeArtifactUpdated }
func (AuthorityRequired) EventType() Type { return TypeAuthorityRequired }
func (HILRequest) EventType() Type        { return TypeHILRequest }
func (Error) EventType() Type             { return TypeError }
func (ProjectCreated) EventType() Type    { return TypeProjectCreated }
func (ProjectLoaded) EventType() Type     { return TypeProjectLoaded }
func (ProjectsList) EventType() Type      { return TypeProjectsList }
func (DevServerReady) EventType() Type    { return TypeDevServerReady }
func (VHLWorkspaceReady) EventType() Type { return TypeVHLWorkspaceReady }
func (SystemState) EventType() Type       { return TypeSystemState }
func (AgentConnected) EventType() Type    { return TypeAgentConnected }
func (AgentDisconnected) EventType() Type { return TypeAgentDisconnected }
func (u Unknown) EventType() Type         { return u.Type }

// MarshalJSON emits the raw payload unchanged.
func (u Unknown) MarshalJSON() ([]byte, error) {
	if len(u.Raw) == 0 {
		return []byte("null"), nil
	}
	return u.Raw, nil
}

var constructors = map[Type]func() Payload{
	TypeHumanInput:        func() Payload { return &HumanInput{} },
	TypeReferenceUploaded: func() Payload { return &ReferenceUploaded{} },
	TypeInterruptRequest:  func() Payload { return &InterruptRequest{} },
	TypeIdentify:          func() Payload { return &Identify{} },
	TypeGetSystemState:    func() Payload { return &GetSystemState{} },
	TypeCreateProject:     func() Payload { return &CreateProject{} },
	TypeLoadProject:       func() Payload { return &LoadProject{} },
	TypeListProjects:      func() Payload { return &ListProjects{} },
	TypeSynthesizeCircuit: func() Payload { return &SynthesizeCircuit{} },
	TypeStateTransition:   func() Payload { return &StateTransition{} },
	TypeEvaluationUpdate:  func() Payload { return &EvaluationUpdate{} },
	TypeArtifactUpdated:   func() Payload { return &ArtifactUpdated{} },
	TypeAuthorityRequired: func() Payload { return &AuthorityRequired{} },
	TypeHILRequest:        func() Payload { return &HILRequest{} },
	TypeError:             func() Payload { return &Error{} },
	TypeProjectCreated:    func() Payload { return &ProjectCreated{} },
	TypeProjectLoaded:     func() Payload { return &ProjectLoaded{} },
	TypeProjectsList:      func() Payload { return &ProjectsList{} },
	TypeDevServerReady:    func() Payload { return &DevServerReady{} },
	TypeVHLWorkspaceReady: func() Payload { return &VHLWorkspaceReady{} },
	TypeSystemState:       func() Payload { return &SystemState{} },
	TypeAgentConnected:    func() Payload { return &AgentConnected{} },
	TypeAgentDisconnected: func() Payload { return &AgentDisconnected{} },
}

// Decode returns the typed payload for the event. Known types decode into
// their struct (by value); unknown types yield Unknown. A missing payload on
// a known type decodes to the zero struct.
func (e Event) Decode() (Payload, error) {
	ctor, ok := constructors[e.Type]
	if !ok {
		return Unknown{Type: e.Type, Raw: e.Payload}, nil
	}
	p := ctor()
	if len(e.Payload) > 0 {
		if err := json.Unmarshal(e.Payload, p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", e.Type, err)
		}
	}
	return deref(p), nil
}

func deref(p Payload) Payload {
	switch v := p.(type) {
	case *HumanInput:
		return *v
	case *ReferenceUploaded:
		return *v
	case *InterruptRequest:
		return *v
	case *Identify:
		return *v
	case *GetSystemState:
		return *v
	case *CreateProject:
		return *v
	case *LoadProject:
		return *v
	case *ListProjects:
		return *v
	case *SynthesizeCircuit:
		return *v
	case *StateTransition:
		return *v
	case *EvaluationUpdate:
		return *v
	case *ArtifactUpdated:
		return *v
	case *AuthorityRequired:
		return *v
	case *HILRequest:
		return *v
	case *Error:
		return *v
	case *ProjectCreated:
		return *v
	case *ProjectLoaded:
		return *v
	case *ProjectsList:
		return *v
	case *DevServerReady:
		return *v
	case *VHLWorkspaceReady:
		return *v
	case *SystemState:
		return *v
	case *AgentConnected:
		return *v
	case *AgentDisconnected:
		return *v
	}
	return p
}
