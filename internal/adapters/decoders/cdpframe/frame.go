// Package cdpframe decodes and encodes the JSON frames exchanged with a browser's
// remote-debugging websocket.
//
// Outbound commands are {id, method, params}. Inbound frames are either replies
// ({id, result} or {id, error}) or events ({method, params}).
package cdpframe

import (
	"encoding/json"
	"errors"
	"fmt"
)

type Kind int

const (
	KindInvalid Kind = iota
	KindReply
	KindEvent
)

func (k Kind) String() string {
	switch k {
	case KindReply:
		return "reply"
	case KindEvent:
		return "event"
	default:
		return "invalid"
	}
}

// ErrorPayload is the structured error object of a failed command.
type ErrorPayload struct {
	Code    int64           `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Frame is a decoded inbound message. Only the fields relevant to its Kind are set.
type Frame struct {
	Kind      Kind
	ID        int64
	Method    string
	Params    json.RawMessage
	Result    json.RawMessage
	Error     *ErrorPayload
}

type wireIn struct {
	ID        *int64          `json:"id"`
	Method    string          `json:"method"`
	Params    json.RawMessage `json:"params"`
	Result    json.RawMessage `json:"result"`
	Error     *ErrorPayload   `json:"error"`
}

type wireOut struct {
	ID     int64  `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

var ErrMalformed = errors.New("malformed cdp frame")

// Parse classifies a raw text frame. A frame carrying an id is a reply even if it
// also names a method; a frame without id must name a method to be an event.
func Parse(data []byte) (Frame, error) {
	var in wireIn
	if err := json.Unmarshal(data, &in); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	switch {
	case in.ID != nil:
		return Frame{Kind: KindReply, ID: *in.ID, Result: in.Result, Error: in.Error}, nil
	case in.Method != "":
		return Frame{Kind: KindEvent, Method: in.Method, Params: in.Params}, nil
	default:
		return Frame{}, fmt.Errorf("%w: neither id nor method", ErrMalformed)
	}
}

// EncodeCommand renders an outbound command. Nil params are omitted.
func EncodeCommand(id int64, method string, params any) ([]byte, error) {
	if method == "" {
		return nil, errors.New("cdp command: empty method")
	}
	if raw, ok := params.(json.RawMessage); ok && len(raw) == 0 {
		params = nil
	}
	return json.Marshal(wireOut{ID: id, Method: method, Params: params})
}
