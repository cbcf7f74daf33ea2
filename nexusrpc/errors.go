package nexusrpc

import (
	"errors"
	"fmt"
)

// Error types carried in RpcError.Type.
const (
	ErrorTypeConnectionAborted = "ConnectionAborted"
	ErrorTypeProtocolViolation = "ProtocolViolation"
	ErrorTypeMarshal           = "MarshalError"
	ErrorTypeDomain            = "DomainError"
)

// RpcError is an error raised by the protocol layer or reported by the peer.
type RpcError struct {
	Type         string
	Message      string
	InvocationID string
	Err          error
}

func (e *RpcError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *RpcError) Unwrap() error {
	return e.Err
}

// Is matches another *RpcError of the same Type. A target with an empty Type
// matches any *RpcError.
func (e *RpcError) Is(target error) bool {
	t, ok := target.(*RpcError)
	if !ok {
		return false
	}
	return t.Type == "" || t.Type == e.Type
}

// Sentinels for errors.Is.
var (
	ErrRpc               = &RpcError{}
	ErrConnectionAborted = &RpcError{Type: ErrorTypeConnectionAborted, Message: "The connection aborted unexpectedly."}
	ErrProtocolViolation = &RpcError{Type: ErrorTypeProtocolViolation}
	ErrMarshal           = &RpcError{Type: ErrorTypeMarshal}
	ErrDomain            = &RpcError{Type: ErrorTypeDomain}
)

func protocolErrorf(format string, args ...any) *RpcError {
	return &RpcError{Type: ErrorTypeProtocolViolation, Message: fmt.Sprintf(format, args...)}
}

func marshalErrorf(format string, args ...any) *RpcError {
	return &RpcError{Type: ErrorTypeMarshal, Message: fmt.Sprintf(format, args...)}
}

// toRpcError classifies a handler error for the wire. Anything that is not
// already an *RpcError, datamodel validation failures included, is reported
// as a DomainError.
func toRpcError(err error) *RpcError {
	var rpcErr *RpcError
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	return &RpcError{Type: ErrorTypeDomain, Message: err.Error(), Err: err}
}

// remoteError rebuilds an error reported by the peer.
func remoteError(errType, message, invocationID string) *RpcError {
	if errType == "" {
		errType = ErrorTypeDomain
	}
	return &RpcError{Type: errType, Message: message, InvocationID: invocationID}
}
