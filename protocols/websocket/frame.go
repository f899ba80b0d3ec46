package websocket

import (
	"encoding/json"
	"fmt"
)

// Frame kinds of the channel protocol.
const (
	KindOpen  = "open"
	KindReady = "ready"
	KindData  = "data"
	KindClose = "close"
)

// Frame is one JSON text message on the shared socket.
type Frame struct {
	Kind    string `json:"kind"`
	ID      int    `json:"id"`
	Path    string `json:"path,omitempty"`
	Content string `json:"content,omitempty"`
	Code    int    `json:"code,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

func EncodeFrame(f Frame) ([]byte, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s frame: %w", f.Kind, err)
	}
	return data, nil
}

func DecodeFrame(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("failed to unmarshal frame: %w", err)
	}
	switch f.Kind {
	case KindOpen, KindReady, KindData, KindClose:
		return f, nil
	default:
		return Frame{}, fmt.Errorf("unknown frame kind %q", f.Kind)
	}
}
