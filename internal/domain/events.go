package domain

// EventKind tags a canonical stream event.
type EventKind string

const (
	EventToken EventKind = "token"
	EventError EventKind = "error"
	EventDone  EventKind = "done"
)

// StreamEvent is the unified event emitted to callers regardless of which
// upstream produced it. Every stream is terminated by exactly one done or
// error event; nothing follows termination.
type StreamEvent struct {
	Kind    EventKind `json:"kind"`
	Text    string    `json:"text,omitempty"`
	Message string    `json:"message,omitempty"`
}

func TokenEvent(text string) StreamEvent {
	return StreamEvent{Kind: EventToken, Text: text}
}

func ErrorEvent(message string) StreamEvent {
	return StreamEvent{Kind: EventError, Message: message}
}

func DoneEvent() StreamEvent {
	return StreamEvent{Kind: EventDone}
}

// Terminal reports whether the event ends the stream.
func (e StreamEvent) Terminal() bool {
	return e.Kind == EventDone || e.Kind == EventError
}
