package hub

import (
	"encoding/json"
	"fmt"

	"github.com/you/chatdeck/internal/core"
)

type EventType string

const (
	EventHistory EventType = "chat_history"
	EventMessage EventType = "chat_message"
)

// Event is the envelope pushed to subscribers. History events carry the
// replay batch, message events a single live message.
type Event struct {
	Type    EventType
	History []core.ChatMessage
	Message core.ChatMessage
}

type wireEvent struct {
	Type EventType       `json:"type"`
	Data json.RawMessage `json:"data"`
}

func (e Event) MarshalJSON() ([]byte, error) {
	var (
		data []byte
		err  error
	)
	switch e.Type {
	case EventHistory:
		history := e.History
		if history == nil {
			history = []core.ChatMessage{}
		}
		data, err = json.Marshal(history)
	case EventMessage:
		data, err = json.Marshal(e.Message)
	default:
		return nil, fmt.Errorf("hub: unknown event type %q", e.Type)
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireEvent{Type: e.Type, Data: data})
}

func (e *Event) UnmarshalJSON(b []byte) error {
	var w wireEvent
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*e = Event{Type: w.Type}
	switch w.Type {
	case EventHistory:
		return json.Unmarshal(w.Data, &e.History)
	case EventMessage:
		return json.Unmarshal(w.Data, &e.Message)
	default:
		return fmt.Errorf("hub: unknown event type %q", w.Type)
	}
}
