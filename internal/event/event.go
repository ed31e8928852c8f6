package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Well-known event types. The vocabulary is open; only SessionEnd and
// Connected carry meaning inside the relay.
const (
	TypeToolStart  = "tool_start"
	TypeToolEnd    = "tool_end"
	TypeSessionEnd = "session_end"
	TypeConnected  = "connected"
)

var (
	ErrMalformedPayload = errors.New("malformed payload")
	ErrMissingType      = fmt.Errorf("%w: missing type", ErrMalformedPayload)
)

// Event is one unit of tool activity reported by a producer.
//
// Tool, SessionID and Title are opaque: a non-string value is kept as its JSON
// text. Events decoded from JSON re-encode to exactly the known keys that were
// submitted, in submission order, with their submitted values.
type Event struct {
	Type      string `json:"type"`
	Tool      string `json:"tool,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	Title     string `json:"title,omitempty"`

	wire string
}

// Connected is the acknowledgment sent to a subscriber as soon as it registers.
func Connected() Event {
	return Event{Type: TypeConnected}
}

// Parse decodes a submission. Unknown fields are ignored. A payload that is not
// a JSON object, or whose type is not a non-empty string, is malformed.
func Parse(raw []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(raw, &e); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if e.Type == "" {
		return Event{}, ErrMissingType
	}
	return e, nil
}

func (e Event) Suppressed() bool {
	return e.Type == TypeSessionEnd
}

// MarshalJSON emits the submitted form of a decoded event. Events built in
// code encode their non-empty fields.
func (e Event) MarshalJSON() ([]byte, error) {
	if e.wire != "" {
		return []byte(e.wire), nil
	}
	type plain Event
	return json.Marshal(plain(e))
}

// UnmarshalJSON keeps the four known keys and drops everything else. JSON null
// is a no-op.
func (e *Event) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	if tok, err := dec.Token(); err != nil {
		return err
	} else if tok != json.Delim('{') {
		return errors.New("event must be a JSON object")
	}

	values := make(map[string]json.RawMessage)
	var order []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := tok.(string)
		var v json.RawMessage
		if err := dec.Decode(&v); err != nil {
			return err
		}
		if !knownField(key) {
			continue
		}
		// A repeated key keeps its first position and its last value.
		if _, seen := values[key]; !seen {
			order = append(order, key)
		}
		values[key] = v
	}

	var out Event
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, key := range order {
		v := values[key]
		if key == "type" {
			if err := json.Unmarshal(v, &out.Type); err != nil {
				return fmt.Errorf("type must be a string: %w", err)
			}
		} else {
			*out.field(key) = opaqueText(v)
		}

		if i > 0 {
			buf.WriteByte(',')
		}
		name, _ := json.Marshal(key)
		buf.Write(name)
		buf.WriteByte(':')
		if err := json.Compact(&buf, v); err != nil {
			return err
		}
	}
	buf.WriteByte('}')

	out.wire = buf.String()
	*e = out
	return nil
}

func knownField(key string) bool {
	switch key {
	case "type", "tool", "sessionId", "title":
		return true
	}
	return false
}

func (e *Event) field(key string) *string {
	switch key {
	case "tool":
		return &e.Tool
	case "sessionId":
		return &e.SessionID
	default:
		return &e.Title
	}
}

// opaqueText renders a field value for logs and history: strings as their
// content, null as empty, anything else as its JSON text.
func opaqueText(v json.RawMessage) string {
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return s
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, v); err != nil || buf.String() == "null" {
		return ""
	}
	return buf.String()
}
