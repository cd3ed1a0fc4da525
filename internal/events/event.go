package events

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	ErrMissingType = errors.New("event has no type")
	ErrNotAnObject = errors.New("frame is not a JSON object")
)

// Event is one wire frame. Payload is kept raw so the relay can forward it
// without reshaping; use Decode to obtain the typed variant.
type Event struct {
	ID         string          `json:"id,omitempty"`
	Type       Type            `json:"type"`
	ArtifactID *string         `json:"artifact_id"`
	Timestamp  string          `json:"timestamp,omitempty"`
	Source     Source          `json:"source,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`

	// Raw is the frame exactly as received. Marshal returns it unchanged,
	// so forwarded frames keep fields this package does not model. Clear it
	// before editing a parsed event that will be sent again.
	Raw json.RawMessage `json:"-"`
}

// envelope has Event's fields without its methods.
type envelope Event

// transportFrame is the shape of relay-layer messages: no id, timestamp or
// source, and artifact_id only when set.
type transportFrame struct {
	Type       Type            `json:"type"`
	ArtifactID *string         `json:"artifact_id,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// New builds a schema event with a fresh id and timestamp.
func New(source Source, artifactID string, p Payload) (Event, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", p.EventType(), err)
	}
	ev := Event{
		ID:        uuid.New().String(),
		Type:      p.EventType(),
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Source:    source,
		Payload:   raw,
	}
	if artifactID != "" {
		ev.ArtifactID = &artifactID
	}
	return ev, nil
}

// MustNew is New for payloads that cannot fail to marshal.
func MustNew(source Source, artifactID string, p Payload) Event {
	ev, err := New(source, artifactID, p)
	if err != nil {
		panic(err)
	}
	return ev
}

// Transport builds a relay-originated message. These carry no id, timestamp
// or source.
func Transport(p Payload) Event {
	ev := Event{Type: p.EventType()}
	if raw, err := json.Marshal(p); err == nil && !bytes.Equal(raw, []byte("{}")) {
		ev.Payload = raw
	}
	return ev
}

// ErrorReply is the relay's protocol-level ERROR frame.
func ErrorReply(message string) Event {
	return Transport(Error{Message: message})
}

// Parse decodes a single frame. Only type must be a non-empty string; the
// other envelope fields are read when they are strings and otherwise kept
// as their JSON text. The original bytes are kept in Raw.
func Parse(data []byte) (Event, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Event{}, ErrNotAnObject
	}
	var ev Event
	if err := json.Unmarshal(trimmed, &ev); err != nil {
		return Event{}, fmt.Errorf("parse frame: %w", err)
	}
	if ev.Type == "" {
		return Event{}, ErrMissingType
	}
	return ev, nil
}

func (e *Event) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	var typ string
	if raw, ok := fields["type"]; ok && !isNull(raw) {
		if err := json.Unmarshal(raw, &typ); err != nil {
			return fmt.Errorf("type is not a string: %s", raw)
		}
	}

	*e = Event{
		Type:      Type(typ),
		ID:        looseString(fields["id"]),
		Timestamp: looseString(fields["timestamp"]),
		Source:    Source(looseString(fields["source"])),
		Raw:       append(json.RawMessage(nil), data...),
	}
	if raw, ok := fields["artifact_id"]; ok && !isNull(raw) {
		id := looseString(raw)
		e.ArtifactID = &id
	}
	if raw, ok := fields["payload"]; ok && !isNull(raw) {
		e.Payload = raw
	}
	return nil
}

func (e Event) MarshalJSON() ([]byte, error) {
	if len(e.Raw) > 0 {
		return e.Raw, nil
	}
	if e.FromRelay() && e.Timestamp == "" {
		return json.Marshal(transportFrame{Type: e.Type, ArtifactID: e.ArtifactID, Payload: e.Payload})
	}
	return json.Marshal(envelope(e))
}

// Marshal encodes the event as a single JSON frame. A parsed event comes
// back byte for byte.
func (e Event) Marshal() ([]byte, error) {
	if len(e.Raw) > 0 {
		return e.Raw, nil
	}
	return json.Marshal(e)
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

// looseString reads a JSON string, or returns any other value as its JSON
// text.
func looseString(raw json.RawMessage) string {
	if isNull(raw) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// Artifact returns the artifact id or "".
func (e Event) Artifact() string {
	if e.ArtifactID == nil {
		return ""
	}
	return *e.ArtifactID
}

// FromRelay reports whether the frame was produced by the relay itself
// rather than by a peer; relay frames carry neither id nor source.
func (e Event) FromRelay() bool {
	return e.ID == "" && e.Source == ""
}
