// Package mockagent is a scripted stand-in for the circuit design agent,
// used to exercise the relay and UI without a real backend.
package mockagent

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/runframe/agentrelay/internal/events"
	"github.com/runframe/agentrelay/internal/logger"
)

const (
	MsgCancelled       = "Task cancelled by user"
	DefaultDevServer   = "http://localhost:3020"
	DefaultDelay       = 400 * time.Millisecond
	msgValidating      = "Validating your request..."
	msgSynthesizing    = "Synthesizing circuit..."
	msgSynthesisPassed = "Synthesis complete"
)

type project struct {
	id   string
	name string
}

// Responder maps one inbound event to the sequence of replies the agent
// would emit for it. It keeps a small in-memory project catalog.
type Responder struct {
	DevServerURL string

	mu       sync.Mutex
	projects map[string]project
	current  *project
	artifact string
}

func NewResponder() *Responder {
	return &Responder{
		DevServerURL: DefaultDevServer,
		projects:     make(map[string]project),
	}
}

var slugRe = regexp.MustCompile(`[^a-z0-9]+`)

func slug(name string) string {
	return strings.Trim(slugRe.ReplaceAllString(strings.ToLower(name), "-"), "-")
}

func reply(artifact string, p events.Payload) events.Event {
	return events.MustNew(events.SourceBackend, artifact, p)
}

// Respond returns the scripted replies for ev. Types the agent does not act
// on yield nil.
func (r *Responder) Respond(ev events.Event) []events.Event {
	p, err := ev.Decode()
	if err != nil {
		return []events.Event{reply(ev.Artifact(), events.Error{Message: fmt.Sprintf("Bad %s payload: %v", ev.Type, err)})}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	switch v := p.(type) {
	case events.HumanInput:
		art := r.artifactFor(ev)
		return []events.Event{
			reply(art, events.StateTransition{From: events.StateIdle, To: events.StateThinking}),
			reply(art, events.EvaluationUpdate{Status: events.EvaluationRunning, Message: msgValidating}),
			reply(art, events.ArtifactUpdated{Message: "Successfully processed: " + v.Text}),
			reply(art, events.StateTransition{From: events.StateThinking, To: events.StateIdle}),
		}

	case events.ReferenceUploaded:
		art := r.artifactFor(ev)
		return []events.Event{
			reply(art, events.StateTransition{From: events.StateIdle, To: events.StateThinking}),
			reply(art, events.ArtifactUpdated{Message: fmt.Sprintf("Document processed: %s (%d bytes)", v.FileName, v.Size)}),
			reply(art, events.StateTransition{From: events.StateThinking, To: events.StateIdle}),
		}

	case events.InterruptRequest:
		return []events.Event{reply(ev.Artifact(), events.Error{Message: MsgCancelled})}

	case events.CreateProject:
		id := slug(v.ProjectName)
		if id == "" {
			return []events.Event{reply("", events.Error{Message: "Project name is required"})}
		}
		if _, ok := r.projects[id]; ok {
			return []events.Event{reply("", events.Error{Message: fmt.Sprintf("Project %s already exists", v.ProjectName)})}
		}
		pr := project{id: id, name: v.ProjectName}
		r.projects[id] = pr
		r.current = &pr
		return []events.Event{
			reply("", events.ProjectCreated{ProjectID: pr.id, ProjectName: pr.name}),
			reply("", events.VHLWorkspaceReady{ProjectID: pr.id, Path: "projects/" + pr.id}),
			reply("", events.DevServerReady{URL: r.DevServerURL}),
		}

	case events.LoadProject:
		pr, ok := r.projects[v.ProjectID]
		if !ok {
			return []events.Event{reply("", events.Error{Message: fmt.Sprintf("Project %s not found", v.ProjectID)})}
		}
		r.current = &pr
		return []events.Event{
			reply("", events.ProjectLoaded{ProjectID: pr.id, ProjectName: pr.name}),
			reply("", events.DevServerReady{URL: r.DevServerURL}),
		}

	case events.ListProjects:
		return []events.Event{reply("", events.ProjectsList{Projects: r.projectIDs()})}

	case events.GetSystemState:
		st := events.SystemState{
			ProjectState:      "NO_PROJECT",
			ArtifactID:        r.artifact,
			AgentStatus:       "idle",
			AvailableProjects: r.projectIDs(),
		}
		if r.current != nil {
			st.ProjectState = "PROJECT_INITIALIZED"
			st.ProjectID = r.current.id
			st.ProjectName = r.current.name
			st.DevServerURL = r.DevServerURL
		}
		return []events.Event{reply(r.artifact, st)}

	case events.SynthesizeCircuit:
		if r.current == nil {
			return []events.Event{reply("", events.Error{Message: "No project loaded"})}
		}
		art := r.artifactFor(ev)
		return []events.Event{
			reply(art, events.EvaluationUpdate{Status: events.EvaluationRunning, Message: msgSynthesizing}),
			reply(art, events.EvaluationUpdate{Status: events.EvaluationPass, Message: msgSynthesisPassed}),
		}
	}

	if !ev.Type.Transport() {
		logger.Warn("Mock agent ignoring %s", ev.Type)
	}
	return nil
}

// artifactFor keeps the caller's artifact or starts a new one.
func (r *Responder) artifactFor(ev events.Event) string {
	if id := ev.Artifact(); id != "" {
		r.artifact = id
	} else {
		r.artifact = "art-" + uuid.New().String()[:8]
	}
	return r.artifact
}

func (r *Responder) projectIDs() []string {
	ids := make([]string, 0, len(r.projects))
	for id := range r.projects {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
