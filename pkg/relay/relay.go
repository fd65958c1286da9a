package relay

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "sync"
    "time"

    "github.com/google/uuid"
    "github.com/oxtoacart/bpool"
    "go.uber.org/zap"
    "golang.org/x/time/rate"

    "github.com/amirimatin/go-relay/pkg/internal/logutil"
    obsmetrics "github.com/amirimatin/go-relay/pkg/observability/metrics"
    "github.com/amirimatin/go-relay/pkg/protocol"
    "github.com/amirimatin/go-relay/pkg/registry"
    "github.com/amirimatin/go-relay/pkg/reliability"
    "github.com/amirimatin/go-relay/pkg/transfer"
    "github.com/amirimatin/go-relay/pkg/transport"
    "github.com/amirimatin/go-relay/pkg/workers"
)

// Relay is the chat and file relay service. It owns the worker pools, the
// file store and one roster per listener; listeners feed it connections.
type Relay struct {
    opts Options
    log  *zap.Logger
    mu   sync.RWMutex
    run  struct {
        started bool
        closed  bool
        at      time.Time
    }
    ctx    context.Context
    cancel context.CancelFunc

    scopes   map[string]*scope
    handlers map[protocol.Command]handlerFunc
    general  *workers.Pool
    files    *workers.Pool
    store    *transfer.Store
    chunks   *bpool.BytePool
    eb       eventBus

    // connections whose next frame found its pool queue full
    stallMu sync.Mutex
    stalled []*Conn

    // throttle noisy per-frame warnings
    dropLog   rate.Sometimes
    resyncLog rate.Sometimes
}

// New constructs a Relay from validated options. It performs no network
// activity; call Start to begin serving.
func New(opts Options) (*Relay, error) {
    if err := opts.Validate(); err != nil {
        return nil, err
    }
    opts = opts.withDefaults()
    r := &Relay{
        opts:      opts,
        log:       logutil.OrNop(opts.Logger),
        scopes:    make(map[string]*scope, len(opts.Listeners)),
        dropLog:   rate.Sometimes{First: 5, Interval: 5 * time.Second},
        resyncLog: rate.Sometimes{First: 5, Interval: 5 * time.Second},
    }
    r.ctx, r.cancel = context.WithCancel(context.Background())
    for _, l := range opts.Listeners {
        r.scopes[l.Name()] = &scope{name: l.Name(), addr: l.Addr(), reg: registry.New[*Conn]()}
    }
    r.handlers = r.routes()
    return r, nil
}

// Close is a convenience alias for Stop with a background context.
func (r *Relay) Close() error {
    return r.Stop(context.Background())
}

// Start prepares the file store and worker pools, then binds every listener
// and the management endpoint. A bind failure stops whatever was started.
func (r *Relay) Start(ctx context.Context) error {
    r.mu.Lock()
    defer r.mu.Unlock()
    if r.run.closed { return ErrStopped }
    if r.run.started {
        return nil
    }
    obsmetrics.Register()

    store, err := transfer.NewStore(r.opts.Dir)
    if err != nil { return err }
    r.store = store
    r.chunks = transfer.NewChunkPool(r.opts.ChunkSize, r.opts.FileWorkers*4)

    r.general, err = workers.New(workers.Options{Name: "general", Workers: r.opts.GeneralWorkers, Queue: r.opts.QueueSize, Logger: r.log})
    if err != nil { return err }
    r.files, err = workers.New(workers.Options{Name: "file", Workers: r.opts.FileWorkers, Queue: r.opts.QueueSize, Logger: r.log})
    if err != nil {
        _ = r.general.Stop(ctx, workers.Discard)
        return err
    }

    var bound []transport.Listener
    for _, l := range r.opts.Listeners {
        if err := l.Serve(r.ctx, r); err != nil {
            for _, b := range bound { _ = b.Stop(ctx) }
            r.stopPools(ctx, workers.Discard)
            return fmt.Errorf("relay: listen %s on %s: %w", l.Name(), l.Addr(), err)
        }
        bound = append(bound, l)
        r.scopes[l.Name()].addr = l.Addr()
        logutil.Infof(r.log, "listener %s accepting on %s", l.Name(), l.Addr())
    }

    if r.opts.RPCServer != nil {
        status := func(ctx context.Context) ([]byte, error) { return r.statusJSON(ctx) }
        roster := func(ctx context.Context, name string) ([]byte, error) { return r.rosterJSON(name) }
        if err := r.opts.RPCServer.Start(r.ctx, status, roster); err != nil {
            for _, b := range bound { _ = b.Stop(ctx) }
            r.stopPools(ctx, workers.Discard)
            return fmt.Errorf("relay: management endpoint: %w", err)
        }
        logutil.Infof(r.log, "management endpoint listening at %s (status/roster/metrics/healthz)", r.opts.RPCServer.Addr())
    }

    go r.janitorLoop(r.ctx)
    r.run.started = true
    r.run.at = time.Now()
    return nil
}

// Stop closes the listeners, tears down every connection and stops the pools
// according to the drain policy.
func (r *Relay) Stop(ctx context.Context) error {
    r.mu.Lock()
    defer r.mu.Unlock()
    if r.run.closed {
        return nil
    }
    r.run.closed = true
    if !r.run.started {
        r.cancel()
        return nil
    }
    var errs []error
    for _, l := range r.opts.Listeners {
        if err := l.Stop(ctx); err != nil { errs = append(errs, fmt.Errorf("stop %s: %w", l.Name(), err)) }
    }
    if r.opts.RPCServer != nil {
        _ = r.opts.RPCServer.Stop(ctx)
    }
    for _, s := range r.scopes {
        var conns []*Conn
        s.reg.Broadcast(0, func(e registry.Entry[*Conn]) { conns = append(conns, e.Peer) })
        for _, c := range conns { r.closeConn(c, ErrStopped) }
    }
    r.cancel()
    if err := r.stopPools(ctx, r.opts.DrainPolicy); err != nil { errs = append(errs, err) }
    r.stallMu.Lock()
    for _, c := range r.stalled { c.idle() }
    r.stalled = nil
    r.stallMu.Unlock()
    return errors.Join(errs...)
}

func (r *Relay) stopPools(ctx context.Context, policy workers.Policy) error {
    var errs []error
    for _, p := range []*workers.Pool{r.general, r.files} {
        if p == nil { continue }
        if err := p.Stop(ctx, policy); err != nil { errs = append(errs, err) }
    }
    return errors.Join(errs...)
}

func (r *Relay) runCtx() context.Context { return r.ctx }

// Open admits a new connection on the named listener.
func (r *Relay) Open(listener string, peer transport.Peer) (transport.Session, error) {
    s, ok := r.scopes[listener]
    if !ok { return nil, fmt.Errorf("%w: %s", ErrUnknownListener, listener) }
    if r.ctx.Err() != nil { return nil, ErrStopped }
    c, err := s.reg.Admit(peer.RemoteAddr(), func(id uint16) *Conn {
        session := uuid.NewString()
        return &Conn{
            id:      id,
            session: session,
            addr:    peer.RemoteAddr(),
            relay:   r,
            scope:   s,
            out:     peer,
            log:     r.log.With(zap.String("listener", listener), zap.Uint16("conn", id), zap.String("session", session)),
            reasm:   protocol.NewReassembler(r.opts.MaxPayload),
            recv:    reliability.NewReceiver(r.opts.SkewWindow),
            sender:  reliability.NewSender(r.opts.ReplayCapacity),
        }
    })
    if err != nil {
        logutil.Warnf(r.log, "refusing %s on %s: %v", peer.RemoteAddr(), listener, err)
        return nil, err
    }
    obsmetrics.ConnectionsActive.WithLabelValues(listener).Inc()
    obsmetrics.ConnectionsTotal.WithLabelValues(listener).Inc()
    logutil.Infof(c.log, "connection opened from %s", c.addr)
    return c, nil
}

// closeConn tears c down and closes its socket.
func (r *Relay) closeConn(c *Conn, cause error) {
    r.teardown(c, cause)
    _ = c.out.Close()
}

// teardown removes c from its roster, drops its transfers and tells the
// remaining peers a named peer has left. It runs once per connection.
func (r *Relay) teardown(c *Conn, cause error) {
    c.sendMu.Lock()
    first := c.closed.CompareAndSwap(false, true)
    c.sendMu.Unlock()
    if !first { return }
    e, ok := c.scope.reg.Remove(c.id)
    r.dropTransfers(c, "aborted")
    obsmetrics.ConnectionsActive.WithLabelValues(c.scope.name).Dec()
    if cause != nil && !errors.Is(cause, ErrStopped) {
        logutil.Infof(c.log, "connection closed: %v", cause)
    } else {
        logutil.Infof(c.log, "connection closed")
    }
    if !ok || e.Name == "" { return }
    r.broadcast(c, protocol.CmdDisconnect, c.id, protocol.LeaveNotice(e.Name))
    r.eb.publish(Event{Type: EventLeave, Listener: c.scope.name, PeerID: c.id, Name: e.Name})
}

func (r *Relay) noteDrop(c *Conn, reason string, err error) {
    obsmetrics.FramesDropped.WithLabelValues(reason).Inc()
    r.dropLog.Do(func() {
        if err != nil {
            logutil.Warnf(c.log, "dropped frame (%s): %v", reason, err)
        } else {
            logutil.Debugf(c.log, "dropped frame (%s)", reason)
        }
    })
}

func (r *Relay) noteResync(c *Conn, skipped int) {
    obsmetrics.ResyncBytes.Add(float64(skipped))
    r.resyncLog.Do(func() {
        logutil.Warnf(c.log, "resync: discarded %d bytes before frame boundary", skipped)
    })
}

// Roster lists the named peers of one listener.
func (r *Relay) Roster(listener string) ([]protocol.Peer, error) {
    s, ok := r.scopes[listener]
    if !ok { return nil, fmt.Errorf("%w: %s", ErrUnknownListener, listener) }
    return s.reg.Roster(), nil
}

// Status returns a snapshot of listeners, rosters, pools and transfers.
func (r *Relay) Status(ctx context.Context) (*RelayStatus, error) {
    r.mu.RLock()
    defer r.mu.RUnlock()
    st := &RelayStatus{Healthy: r.run.started && !r.run.closed, Started: r.run.at}
    for _, l := range r.opts.Listeners {
        s := r.scopes[l.Name()]
        st.Listeners = append(st.Listeners, ListenerStatus{Name: s.name, Addr: s.addr, Peers: s.reg.Peers()})
        s.reg.Broadcast(0, func(e registry.Entry[*Conn]) {
            e.Peer.xferMu.Lock()
            if e.Peer.upload != nil { st.Uploads++ }
            if e.Peer.download != nil { st.Downloads++ }
            e.Peer.xferMu.Unlock()
        })
    }
    for _, p := range []*workers.Pool{r.general, r.files} {
        if p == nil { continue }
        ps := PoolStatus{Name: p.Name(), Workers: p.Workers(), Running: p.Running(), Queued: p.Queued(), Panics: p.Panics()}
        if ps.Queued >= r.opts.QueueSize {
            st.Warnings = append(st.Warnings, fmt.Sprintf("%s pool queue full", p.Name()))
        }
        st.Pools = append(st.Pools, ps)
    }
    return st, nil
}

func (r *Relay) statusJSON(ctx context.Context) ([]byte, error) {
    st, err := r.Status(ctx)
    if err != nil { return nil, err }
    return json.Marshal(st)
}

func (r *Relay) rosterJSON(name string) ([]byte, error) {
    if name != "" {
        s, ok := r.scopes[name]
        if !ok { return nil, fmt.Errorf("%w: %s", ErrUnknownListener, name) }
        return s.reg.Snapshot()
    }
    out := make(map[string][]registry.PeerInfo, len(r.scopes))
    for n, s := range r.scopes { out[n] = s.reg.Peers() }
    return json.Marshal(out)
}

var _ transport.ConnHandler = (*Relay)(nil)
var _ transport.Session = (*Conn)(nil)
