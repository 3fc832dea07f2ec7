package proxy

import (
	"errors"
	"fmt"
)

// ErrServerClosed is returned by Serve after Close.
var ErrServerClosed = errors.New("proxy: server closed")

var (
	// errIdle and errLifetimeExceeded stop a tunnel's pumps. Neither is
	// reported to callers as a failure.
	errIdle             = errors.New("tunnel idle")
	errLifetimeExceeded = errors.New("tunnel lifetime exceeded")
)

// ConnectError reports that the origin could not be reached.
type ConnectError struct {
	Addr string
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Addr, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}
