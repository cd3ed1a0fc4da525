// Package events defines the wire envelope and the closed event taxonomy
// shared by the relay server, UI clients, and the agent backend.
package events

// Type is the discriminator carried in every frame's "type" field.
type Type string

const (
	// Runtime -> Backend (observation)
	TypeHumanInput        Type = "HUMAN_INPUT"
	TypeReferenceUploaded Type = "REFERENCE_UPLOADED"
	TypeInterruptRequest  Type = "INTERRUPT_REQUEST"

	// Runtime -> Backend (session control)
	TypeIdentify          Type = "IDENTIFY"
	TypeGetSystemState    Type = "GET_SYSTEM_STATE"
	TypeCreateProject     Type = "CREATE_PROJECT"
	TypeLoadProject       Type = "LOAD_PROJECT"
	TypeListProjects      Type = "LIST_PROJECTS"
	TypeSynthesizeCircuit Type = "SYNTHESIZE_CIRCUIT"

	// Backend -> Runtime (system)
	TypeStateTransition   Type = "STATE_TRANSITION"
	TypeEvaluationUpdate  Type = "EVALUATION_UPDATE"
	TypeArtifactUpdated   Type = "ARTIFACT_UPDATED"
	TypeAuthorityRequired Type = "AUTHORITY_REQUIRED"
	TypeHILRequest        Type = "HIL_REQUEST"
	TypeError             Type = "ERROR"
	TypeProjectCreated    Type = "PROJECT_CREATED"
	TypeProjectLoaded     Type = "PROJECT_LOADED"
	TypeProjectsList      Type = "PROJECTS_LIST"
	TypeDevServerReady    Type = "DEV_SERVER_READY"
	TypeVHLWorkspaceReady Type = "VHL_WORKSPACE_READY"
	TypeSystemState       Type = "SYSTEM_STATE"

	// Relay layer only
	TypeAgentConnected    Type = "AGENT_CONNECTED"
	TypeAgentDisconnected Type = "AGENT_DISCONNECTED"
)

// Direction describes which side of the relay normally emits a type.
type Direction int

const (
	DirectionUnknown Direction = iota
	DirectionRuntime
	DirectionBackend
	DirectionTransport
)

func (d Direction) String() string {
	switch d {
	case DirectionRuntime:
		return "runtime"
	case DirectionBackend:
		return "backend"
	case DirectionTransport:
		return "transport"
	}
	return "unknown"
}

var directions = map[Type]Direction{
	TypeHumanInput:        DirectionRuntime,
	TypeReferenceUploaded: DirectionRuntime,
	TypeInterruptRequest:  DirectionRuntime,
	TypeIdentify:          DirectionTransport,
	TypeGetSystemState:    DirectionRuntime,
	TypeCreateProject:     DirectionRuntime,
	TypeLoadProject:       DirectionRuntime,
	TypeListProjects:      DirectionRuntime,
	TypeSynthesizeCircuit: DirectionRuntime,
	TypeStateTransition:   DirectionBackend,
	TypeEvaluationUpdate:  DirectionBackend,
	TypeArtifactUpdated:   DirectionBackend,
	TypeAuthorityRequired: DirectionBackend,
	TypeHILRequest:        DirectionBackend,
	TypeError:             DirectionBackend,
	TypeProjectCreated:    DirectionBackend,
	TypeProjectLoaded:     DirectionBackend,
	TypeProjectsList:      DirectionBackend,
	TypeDevServerReady:    DirectionBackend,
	TypeVHLWorkspaceReady: DirectionBackend,
	TypeSystemState:       DirectionBackend,
	TypeAgentConnected:    DirectionTransport,
	TypeAgentDisconnected: DirectionTransport,
}

// Known reports whether t belongs to the closed taxonomy.
func (t Type) Known() bool {
	_, ok := directions[t]
	return ok
}

// Transport reports whether t is a relay-layer message that does not follow
// the mandatory event schema.
func (t Type) Transport() bool {
	return directions[t] == DirectionTransport
}

// Direction returns the side that emits t, or DirectionUnknown.
func (t Type) Direction() Direction {
	return directions[t]
}

// Source identifies the producer of a schema event.
type Source string

const (
	SourceRuntime Source = "runtime"
	SourceBackend Source = "backend"
)

// Role is what a relay connection declares itself to be via IDENTIFY.
type Role string

const (
	RoleUI    Role = "ui"
	RoleAgent Role = "agent"
)

// Valid reports whether r is one of the two accepted roles.
func (r Role) Valid() bool {
	return r == RoleUI || r == RoleAgent
}
