package transport

import "context"

// StatusFunc returns a JSON-encoded status payload for management /status.
// Using []byte avoids import cycles on relay types.
type StatusFunc func(ctx context.Context) ([]byte, error)

// RosterFunc returns the JSON-encoded peer list of one listener, or of all
// listeners when name is empty.
type RosterFunc func(ctx context.Context, name string) ([]byte, error)

// RPCServer exposes management endpoints (status, roster, health, metrics).
type RPCServer interface {
    Start(ctx context.Context, status StatusFunc, roster RosterFunc) error
    Addr() string
    Stop(ctx context.Context) error
}

// RPCClient queries a relay's management endpoint using the chosen protocol
// (HTTP/JSON or gRPC JSON codec).
type RPCClient interface {
    GetStatus(ctx context.Context, addr string) ([]byte, error)
    GetRoster(ctx context.Context, addr string, listener string) ([]byte, error)
}

// RosterRequest selects a listener for GetRoster.
type RosterRequest struct {
    Listener string `json:"listener,omitempty"`
}
