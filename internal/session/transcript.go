package session

// Greeting is the first message of every transcript.
const Greeting = "Hello! How can I help you with your circuit design today?"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type MessageStatus string

const (
	MessageThinking   MessageStatus = "thinking"
	MessageEvaluating MessageStatus = "evaluating"
	MessageCompleted  MessageStatus = "completed"
	MessageError      MessageStatus = "error"
)

type Message struct {
	Role       Role          `json:"role"`
	Content    string        `json:"content"`
	Status     MessageStatus `json:"status,omitempty"`
	Image      string        `json:"image,omitempty"`
	ArtifactID string        `json:"artifact_id,omitempty"`
}

// Transcript is the chat history. It only grows, except that progress
// updates may rewrite the trailing assistant message in place.
type Transcript struct {
	messages []Message
}

func NewTranscript() *Transcript {
	return &Transcript{messages: []Message{{Role: RoleAssistant, Content: Greeting}}}
}

func (t *Transcript) AddUserMessage(content, image string) {
	t.messages = append(t.messages, Message{Role: RoleUser, Content: content, Image: image})
}

func (t *Transcript) AddAssistantMessage(content string, status MessageStatus) {
	t.messages = append(t.messages, Message{Role: RoleAssistant, Content: content, Status: status})
}

// UpdateLastAssistantMessage rewrites the trailing message when it belongs
// to the assistant and is not tied to a different artifact. Otherwise a new
// assistant message is appended.
func (t *Transcript) UpdateLastAssistantMessage(content string, status MessageStatus, artifactID string) {
	if n := len(t.messages); n > 0 {
		last := &t.messages[n-1]
		if last.Role == RoleAssistant && sameArtifact(last.ArtifactID, artifactID) {
			last.Content = content
			last.Status = status
			if artifactID != "" {
				last.ArtifactID = artifactID
			}
			return
		}
	}
	t.messages = append(t.messages, Message{Role: RoleAssistant, Content: content, Status: status, ArtifactID: artifactID})
}

// SetError appends an error message. Errors are never coalesced.
func (t *Transcript) SetError(content string) {
	t.AddAssistantMessage(content, MessageError)
}

func (t *Transcript) Len() int {
	return len(t.messages)
}

// Messages returns a copy of the history.
func (t *Transcript) Messages() []Message {
	return append([]Message(nil), t.messages...)
}

func sameArtifact(a, b string) bool {
	return a == "" || b == "" || a == b
}
