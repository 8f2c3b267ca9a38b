package core

import (
	"context"
	"errors"
)

// Error classes shared by every adapter. Wrap them with fmt.Errorf("...: %w")
// and classify with errors.Is.
var (
	ErrTransport       = errors.New("transport error")
	ErrProtocol        = errors.New("protocol error")
	ErrAuth            = errors.New("authorization error")
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrNotLive         = errors.New("no active live chat")
	ErrPermission      = errors.New("permission denied")
	ErrCapacity        = errors.New("capacity exceeded")
	ErrNotRunning      = errors.New("adapter not running")
)

// Terminal reports whether an adapter error should stop its retry loop until
// the configuration changes or a manual reconnect is requested.
func Terminal(err error) bool {
	return errors.Is(err, ErrUnauthenticated) || errors.Is(err, ErrNotLive)
}

// Canceled reports whether err stems from context cancellation.
func Canceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
