package cdp

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrTimeout means no reply arrived in time. The browser may still execute the command.
	ErrTimeout = errors.New("cdp: command timed out")
	// ErrConnectionLost means the transport failed; the connection is dead and will be retired.
	ErrConnectionLost = errors.New("cdp: connection lost")
	// ErrPoolExhausted means no connection became free within the acquire timeout.
	ErrPoolExhausted = errors.New("cdp: connection pool exhausted")
	// ErrPoolClosed is returned to acquirers once the pool has been shut down.
	ErrPoolClosed = errors.New("cdp: connection pool closed")
	// ErrNotHeld is returned when releasing a connection that is not checked out.
	ErrNotHeld = errors.New("cdp: connection not held")
	// ErrInvalidURL means the debugger URL can never be dialed; the pool does not retry it.
	ErrInvalidURL = errors.New("cdp: invalid debugger url")
)

// ProtocolError is the structured error a browser returns for a failed command.
// It is delivered as data in Reply.Error, never as the error result of SendCommand.
type ProtocolError struct {
	Method  string          `json:"-"`
	Code    int64           `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *ProtocolError) Error() string {
	if e.Method == "" {
		return fmt.Sprintf("cdp: protocol error %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("cdp: %s: protocol error %d: %s", e.Method, e.Code, e.Message)
}

// Reply is the browser's answer to one command.
type Reply struct {
	ID     int64           `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ProtocolError  `json:"error,omitempty"`
}

// Err returns the protocol error as an error value, or nil.
func (r *Reply) Err() error {
	if r == nil || r.Error == nil {
		return nil
	}
	return r.Error
}

// Outcome names the result class of a command for metrics and logs.
func Outcome(r *Reply, err error) string {
	var pe *ProtocolError
	switch {
	case err == nil && r.Err() == nil:
		return "ok"
	case err == nil, errors.As(err, &pe):
		return "protocol_error"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrConnectionLost):
		return "connection_lost"
	default:
		return "error"
	}
}
