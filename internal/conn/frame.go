package conn

import (
	"encoding/json"
	"fmt"
)

// EventConnect is dispatched locally after every successful (re)connection.
// It never travels on the wire.
const EventConnect = "connect"

// Frame is one event on the wire: {"event": "...", "data": ...}.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func encodeFrame(event string, payload any) ([]byte, error) {
	if event == "" {
		return nil, fmt.Errorf("encode frame: empty event name")
	}
	var data json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", event, err)
		}
		data = b
	}
	return json.Marshal(Frame{Event: event, Data: data})
}

func decodeFrame(b []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(b, &f); err != nil {
		return Frame{}, err
	}
	if f.Event == "" {
		return Frame{}, fmt.Errorf("frame without event name")
	}
	return f, nil
}
