package kissio

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownNamespace is sent as is to peers connecting to a namespace
	// that is not mounted.
	ErrUnknownNamespace = errors.New("Invalid namespace")
	ErrTransportClosed  = errors.New("transport closed")
	ErrNotConnected     = errors.New("socket not connected")
	ErrBroadcastAck     = errors.New("callbacks are not supported when broadcasting")
	ErrReservedEvent    = errors.New("event name is reserved")
)

// MiddlewareError rejects a socket during admission. Data, when set, is
// sent to the client in the ERROR packet instead of Message.
type MiddlewareError struct {
	Message string
	Data    any
}

// NewMiddlewareError returns a MiddlewareError carrying msg and data.
func NewMiddlewareError(msg string, data any) *MiddlewareError {
	return &MiddlewareError{Message: msg, Data: data}
}

func (e *MiddlewareError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("middleware rejected socket: %v", e.Data)
	}
	return e.Message
}

// errorPayload is what an ERROR packet carries for err.
func errorPayload(err error) any {
	var me *MiddlewareError
	if errors.As(err, &me) && me.Data != nil {
		return me.Data
	}
	return err.Error()
}
