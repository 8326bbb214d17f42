package domain

import "errors"

// EventKind is the closed set of answer stream events.
type EventKind string

const (
	EventTextDelta EventKind = "text_delta"
	EventSources   EventKind = "sources"
	EventStatus    EventKind = "status"
	EventMetadata  EventKind = "metadata"
	EventError     EventKind = "error"
)

// Event is one element of the answer stream. Only the field matching Kind is set.
type Event struct {
	Kind     EventKind      `json:"type"`
	Text     string         `json:"text,omitempty"`
	Sources  []Source       `json:"sources,omitempty"`
	Status   string         `json:"status,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Error    string         `json:"error,omitempty"`
	Code     string         `json:"code,omitempty"`
}

// Terminal reports whether no further events follow this one.
func (e Event) Terminal() bool {
	return e.Kind == EventError
}

func TextDelta(text string) Event {
	return Event{Kind: EventTextDelta, Text: text}
}

func SourcesEvent(sources []Source) Event {
	if sources == nil {
		sources = []Source{}
	}
	return Event{Kind: EventSources, Sources: sources}
}

func StatusEvent(status string) Event {
	return Event{Kind: EventStatus, Status: status}
}

func MetadataEvent(md map[string]any) Event {
	return Event{Kind: EventMetadata, Metadata: md}
}

// ErrorEvent builds the terminal error event for err.
func ErrorEvent(err error) Event {
	ev := Event{Kind: EventError, Error: UserMessage(err), Code: ErrCodeInternalError}
	var de *DomainError
	if errors.As(err, &de) {
		ev.Code = de.Code
	}
	return ev
}
