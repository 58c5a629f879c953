package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
)

// Client to server events
const (
	EventGetDocument       = "get-document"
	EventChanges           = "changes"
	EventDrawing           = "drawing"
	EventSaveDocument      = "save-document"
	EventPencilColorChange = "pencil-color-change"
	EventJoinRoom          = "join-room"
	EventToggled           = "toggled"
)

// Server to client events. drawing and pencil-color-change are relayed
// under their inbound names.
const (
	EventLoadDocument          = "load-document"
	EventReceiveChanges        = "receive-changes"
	EventUserConnected         = "user-connected"
	EventUserDisconnected      = "user-disconnected"
	EventReceivedToggledEvents = "received-toggled-events"
)

var (
	ErrEmptyMessage = errors.New("empty message")
	ErrMissingEvent = errors.New("missing event name")
)

// Message is one socket frame: an event name with positional arguments.
// Arguments stay raw so opaque payloads are relayed byte for byte.
type Message struct {
	Event string
	Args  []json.RawMessage
}

// Parse reads a frame of the form {"event": "...", "args": [...]}.
func Parse(data []byte) (Message, error) {
	if len(data) == 0 {
		return Message{}, ErrEmptyMessage
	}
	if !gjson.ValidBytes(data) {
		return Message{}, fmt.Errorf("invalid json frame")
	}

	event := gjson.GetBytes(data, "event")
	if event.Type != gjson.String || event.Str == "" {
		return Message{}, ErrMissingEvent
	}

	msg := Message{Event: event.Str}
	args := gjson.GetBytes(data, "args")
	switch {
	case !args.Exists() || args.Type == gjson.Null:
	case args.IsArray():
		args.ForEach(func(_, value gjson.Result) bool {
			msg.Args = append(msg.Args, json.RawMessage(value.Raw))
			return true
		})
	default:
		// A lone value is treated as the single argument
		msg.Args = []json.RawMessage{json.RawMessage(args.Raw)}
	}
	return msg, nil
}

// Arg returns the i-th argument, or JSON null when absent.
func (m Message) Arg(i int) json.RawMessage {
	if i < 0 || i >= len(m.Args) || len(m.Args[i]) == 0 {
		return json.RawMessage("null")
	}
	return m.Args[i]
}

// StringArg reads the i-th argument as a string. Null, missing and
// non-string arguments yield "".
func (m Message) StringArg(i int) string {
	result := gjson.ParseBytes(m.Arg(i))
	switch result.Type {
	case gjson.String:
		return result.Str
	case gjson.Number:
		return result.Raw
	default:
		return ""
	}
}

// Encode builds an outbound frame. json.RawMessage arguments are embedded
// byte for byte; other values are marshaled without HTML escaping.
func Encode(event string, args ...any) ([]byte, error) {
	name, err := marshal(event)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.WriteString(`{"event":`)
	buf.Write(name)
	buf.WriteString(`,"args":[`)
	for i, arg := range args {
		if i > 0 {
			buf.WriteByte(',')
		}
		if raw, ok := arg.(json.RawMessage); ok {
			if len(raw) == 0 {
				raw = json.RawMessage("null")
			}
			buf.Write(raw)
			continue
		}
		value, err := marshal(arg)
		if err != nil {
			return nil, fmt.Errorf("encode %s arg %d: %w", event, i, err)
		}
		buf.Write(value)
	}
	buf.WriteString("]}")
	return buf.Bytes(), nil
}

func marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
