package session

import "github.com/runframe/agentrelay/internal/events"

type ProjectState string

const (
	NoProject          ProjectState = "NO_PROJECT"
	CreatingProject    ProjectState = "CREATING_PROJECT"
	LoadingProject     ProjectState = "LOADING_PROJECT"
	AgentReady         ProjectState = "AGENT_READY"
	VHLReady           ProjectState = "VHL_READY"
	ProjectInitialized ProjectState = "PROJECT_INITIALIZED"
)

func (s ProjectState) valid() bool {
	switch s {
	case NoProject, CreatingProject, LoadingProject, AgentReady, VHLReady, ProjectInitialized:
		return true
	}
	return false
}

// Project is the project lifecycle as seen by one UI.
type Project struct {
	State        ProjectState
	ID           string
	Name         string
	Available    []string
	DevServerURL string
}

func NewProject() Project {
	return Project{State: NoProject}
}

// Synthesizable reports whether the workspace is far enough along to accept
// SYNTHESIZE_CIRCUIT.
func (p *Project) Synthesizable() bool {
	return p.State == VHLReady || p.State == ProjectInitialized
}

// Pending reports whether a create or load request awaits its answer.
func (p *Project) Pending() bool {
	return p.State == CreatingProject || p.State == LoadingProject
}

func (p *Project) BeginCreate(name string) {
	p.State = CreatingProject
	p.ID = ""
	p.Name = name
}

func (p *Project) BeginLoad(id string) {
	p.State = LoadingProject
	p.ID = id
	p.Name = ""
}

// Apply advances the lifecycle for ev and reports whether anything changed.
// A pending request stays pending until the agent answers; there is no
// timeout.
func (p *Project) Apply(ev events.Event, payload events.Payload) bool {
	switch v := payload.(type) {
	case events.ProjectCreated:
		p.State = AgentReady
		p.ID = v.ProjectID
		p.Name = v.ProjectName
		return true

	case events.ProjectLoaded:
		p.State = ProjectInitialized
		p.ID = v.ProjectID
		if v.ProjectName != "" {
			p.Name = v.ProjectName
		}
		return true

	case events.VHLWorkspaceReady:
		if p.State != ProjectInitialized {
			p.State = VHLReady
		}
		if v.ProjectID != "" {
			p.ID = v.ProjectID
		}
		return true

	case events.ProjectsList:
		p.Available = append([]string(nil), v.Projects...)
		return true

	case events.DevServerReady:
		p.DevServerURL = v.URL
		return true

	case events.SystemState:
		if s := ProjectState(v.ProjectState); s.valid() {
			p.State = s
		}
		p.ID = v.ProjectID
		p.Name = v.ProjectName
		p.DevServerURL = v.DevServerURL
		p.Available = append([]string(nil), v.AvailableProjects...)
		return true

	case events.Error:
		// Relay routing errors say nothing about the agent's work.
		if ev.FromRelay() || !p.Pending() {
			return false
		}
		p.State = NoProject
		p.ID = ""
		p.Name = ""
		return true
	}
	return false
}
