package relay

import (
    "time"

    "github.com/amirimatin/go-relay/pkg/registry"
)

// RelayStatus is a JSON-serializable snapshot of the relay suitable for
// management endpoints and tooling.
type RelayStatus struct {
    // Healthy is true while the relay is started and every listener is bound.
    Healthy   bool
    Started   time.Time
    Listeners []ListenerStatus
    Pools     []PoolStatus
    // Uploads and Downloads count transfers currently in progress.
    Uploads   int
    Downloads int
    // Warnings contains any non-fatal observations (e.g., saturated pools).
    Warnings  []string
}

// ListenerStatus describes one listening socket and its roster.
type ListenerStatus struct {
    Name  string
    Addr  string
    Peers []registry.PeerInfo
}

// PoolStatus describes one worker pool.
type PoolStatus struct {
    Name    string
    Workers int
    Running int
    Queued  int
    Panics  int64
}
