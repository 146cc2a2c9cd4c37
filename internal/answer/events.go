package answer

import "github.com/knowbase/knowbase/internal/retrieval"

// Event types, in emission order during a normal answer.
const (
	EventChatID         = "chat_id"
	EventStatus         = "status"
	EventOptimizedQuery = "optimized_query"
	EventSources        = "sources"
	EventResponse       = "response"
	EventError          = "error"
)

// Status payloads of EventStatus frames.
const (
	StatusMessageSaved       = "message saved"
	StatusEmbeddingGenerated = "embedding generated"
	StatusReady              = "ready"
)

// Event is one frame of the answer stream. Sources is a pointer so a
// sources frame can carry an explicit empty list while other frames
// omit the field entirely.
type Event struct {
	Type    string                 `json:"type"`
	ChatID  string                 `json:"chat_id,omitempty"`
	Status  string                 `json:"status,omitempty"`
	Content string                 `json:"content,omitempty"`
	Sources *[]retrieval.SourceRef `json:"sources,omitempty"`
	Error   string                 `json:"error,omitempty"`
}

func sourcesEvent(refs []retrieval.SourceRef) Event {
	if refs == nil {
		refs = []retrieval.SourceRef{}
	}
	return Event{Type: EventSources, Sources: &refs}
}

// Emitter receives events in order. An error return aborts the stream;
// the transport writer (SSE) and test recorders implement this.
type Emitter interface {
	Emit(event Event) error
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(event Event) error

func (f EmitterFunc) Emit(event Event) error { return f(event) }
