package electrum

import (
	"errors"
	"fmt"
)

var (
	// ErrClientShutdown fails calls made on, or pending at, Close.
	ErrClientShutdown = errors.New("client shut down")
	// ErrRPC is what every *RPCError unwraps to.
	ErrRPC = errors.New("server error")
	// ErrBadResponse means a result didn't decode into what the method
	// returns.
	ErrBadResponse = errors.New("bad server response")
)

// RPCError is an error object returned by the server.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("%d: %s", e.Code, e.Message)
}

func (e *RPCError) Unwrap() error {
	return ErrRPC
}

func errBadResponse(method string, s error) error {
	return fmt.Errorf("%w: %s: %v", ErrBadResponse, method, s)
}
