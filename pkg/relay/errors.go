package relay

import "errors"

var (
    ErrNotStarted      = errors.New("relay: not started")
    ErrStopped         = errors.New("relay: stopped")
    ErrConnClosed      = errors.New("relay: connection closed")
    ErrBacklogFull     = errors.New("relay: connection backlog full")
    ErrUnknownListener = errors.New("relay: unknown listener")
)
