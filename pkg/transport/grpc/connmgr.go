package grpc

import (
    "context"
    "sync"
    "time"

    "google.golang.org/grpc"

    obsmetrics "github.com/amirimatin/go-relay/pkg/observability/metrics"
)

type dialFunc func(ctx context.Context, target string) (*grpc.ClientConn, error)

// ConnManager caches management connections per relay address and closes the
// ones left idle longer than ttl.
type ConnManager struct {
    mu     sync.Mutex
    conns  map[string]*cached
    ttl    time.Duration
    dial   dialFunc
    stop   chan struct{}
    closed bool
}

type cached struct {
    cc    *grpc.ClientConn
    users int
    used  time.Time
}

// NewConnManager creates a manager with the given idle TTL and dialer.
func NewConnManager(ttl time.Duration, dial dialFunc) *ConnManager {
    if ttl <= 0 { ttl = 30 * time.Second }
    m := &ConnManager{ttl: ttl, dial: dial, conns: make(map[string]*cached), stop: make(chan struct{})}
    go m.evictLoop()
    return m
}

// Get returns a connection for target and a release func to call when done.
func (m *ConnManager) Get(ctx context.Context, target string) (*grpc.ClientConn, func(), error) {
    if cc, ok := m.take(target); ok {
        return cc, func() { m.release(target) }, nil
    }
    cc, err := m.dial(ctx, target)
    if err != nil { return nil, func() {}, err }

    m.mu.Lock()
    defer m.mu.Unlock()
    if c, ok := m.conns[target]; ok {
        // lost the race; keep the cached one
        _ = cc.Close()
        c.users++
        c.used = time.Now()
        obsmetrics.GRPCConnReuse.Inc()
        return c.cc, func() { m.release(target) }, nil
    }
    m.conns[target] = &cached{cc: cc, users: 1, used: time.Now()}
    obsmetrics.GRPCConnDials.Inc()
    obsmetrics.GRPCConnActive.Inc()
    return cc, func() { m.release(target) }, nil
}

func (m *ConnManager) take(target string) (*grpc.ClientConn, bool) {
    m.mu.Lock()
    defer m.mu.Unlock()
    c, ok := m.conns[target]
    if !ok { return nil, false }
    c.users++
    c.used = time.Now()
    return c.cc, true
}

func (m *ConnManager) release(target string) {
    m.mu.Lock()
    if c, ok := m.conns[target]; ok {
        if c.users > 0 { c.users-- }
        c.used = time.Now()
    }
    m.mu.Unlock()
}

// Len reports how many connections are cached.
func (m *ConnManager) Len() int {
    m.mu.Lock(); defer m.mu.Unlock()
    return len(m.conns)
}

// Close closes every cached connection. It is safe to call more than once.
func (m *ConnManager) Close() {
    m.mu.Lock()
    defer m.mu.Unlock()
    if m.closed { return }
    m.closed = true
    close(m.stop)
    for k, c := range m.conns {
        _ = c.cc.Close()
        obsmetrics.GRPCConnActive.Dec()
        delete(m.conns, k)
    }
}

func (m *ConnManager) evictLoop() {
    ticker := time.NewTicker(m.ttl / 2)
    defer ticker.Stop()
    for {
        select {
        case <-m.stop:
            return
        case now := <-ticker.C:
            m.evict(now)
        }
    }
}

func (m *ConnManager) evict(now time.Time) int {
    cutoff := now.Add(-m.ttl)
    m.mu.Lock()
    defer m.mu.Unlock()
    n := 0
    for addr, c := range m.conns {
        if c.users > 0 || !c.used.Before(cutoff) { continue }
        _ = c.cc.Close()
        obsmetrics.GRPCConnEvictions.Inc()
        obsmetrics.GRPCConnActive.Dec()
        delete(m.conns, addr)
        n++
    }
    return n
}
