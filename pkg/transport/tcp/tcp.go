package tcp

import (
    "context"
    "errors"
    "fmt"
    "sync"
    "time"

    "github.com/panjf2000/gnet/v2"
    "go.uber.org/zap"

    "github.com/amirimatin/go-relay/pkg/internal/logutil"
    "github.com/amirimatin/go-relay/pkg/transport"
)

var ErrNotServing = errors.New("tcp: listener not serving")

// Options configures a Listener.
type Options struct {
    // Multicore runs one event loop per CPU. Frames of one connection are
    // always read by the same loop either way.
    Multicore bool
    Logger    *zap.Logger
}

// Listener accepts TCP connections on an event loop and hands their bytes to
// a transport.ConnHandler. Writes are queued to the loop and never block the
// caller.
type Listener struct {
    gnet.BuiltinEventEngine

    name string
    addr string
    opts Options
    log  *zap.Logger

    h      transport.ConnHandler
    eng    gnet.Engine
    booted chan struct{}
    done   chan error

    mu      sync.Mutex
    serving bool
    stopped bool
}

// New returns a listener named name bound to addr once Serve is called.
func New(name, addr string, opts Options) *Listener {
    log := logutil.OrNop(opts.Logger).With(zap.String("listener", name))
    return &Listener{name: name, addr: addr, opts: opts, log: log}
}

func (l *Listener) Name() string { return l.name }
func (l *Listener) Addr() string { return l.addr }

// Serve binds the socket and returns once it accepts connections. The event
// loop is stopped when ctx ends or Stop is called.
func (l *Listener) Serve(ctx context.Context, h transport.ConnHandler) error {
    l.mu.Lock()
    if l.serving || l.stopped {
        l.mu.Unlock()
        return fmt.Errorf("tcp: %s already used", l.name)
    }
    l.h = h
    l.booted = make(chan struct{})
    l.done = make(chan error, 1)
    l.serving = true
    l.mu.Unlock()

    go func() {
        l.done <- gnet.Run(l, "tcp://"+l.addr,
            gnet.WithMulticore(l.opts.Multicore),
            gnet.WithTCPNoDelay(gnet.TCPNoDelay),
            gnet.WithReusePort(false),
            gnet.WithLogger(l.log.Sugar()),
        )
    }()

    select {
    case <-l.booted:
    case err := <-l.done:
        l.mu.Lock()
        l.serving = false
        l.mu.Unlock()
        if err == nil { err = ErrNotServing }
        return err
    case <-ctx.Done():
        return ctx.Err()
    }
    go func() {
        <-ctx.Done()
        sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
        defer cancel()
        _ = l.Stop(sctx)
    }()
    return nil
}

// Stop closes the socket and every connection, then waits for the event loop
// to exit.
func (l *Listener) Stop(ctx context.Context) error {
    l.mu.Lock()
    if !l.serving || l.stopped {
        l.stopped = true
        l.mu.Unlock()
        return nil
    }
    l.stopped = true
    eng := l.eng
    l.mu.Unlock()

    if err := eng.Stop(ctx); err != nil { return fmt.Errorf("tcp: stop %s: %w", l.name, err) }
    select {
    case err := <-l.done:
        if err != nil { logutil.Debugf(l.log, "event loop exited: %v", err) }
        return nil
    case <-ctx.Done():
        return ctx.Err()
    }
}

func (l *Listener) OnBoot(eng gnet.Engine) gnet.Action {
    l.mu.Lock()
    l.eng = eng
    l.mu.Unlock()
    close(l.booted)
    return gnet.None
}

func (l *Listener) OnOpen(c gnet.Conn) ([]byte, gnet.Action) {
    p := &peer{c: c, addr: c.RemoteAddr().String()}
    sess, err := l.h.Open(l.name, p)
    if err != nil {
        logutil.Warnf(l.log, "rejecting %s: %v", p.addr, err)
        return nil, gnet.Close
    }
    c.SetContext(sess)
    return nil, gnet.None
}

func (l *Listener) OnTraffic(c gnet.Conn) gnet.Action {
    sess, ok := c.Context().(transport.Session)
    if !ok { return gnet.Close }
    buf, err := c.Next(-1)
    if err != nil {
        logutil.Debugf(l.log, "read %s: %v", c.RemoteAddr(), err)
        return gnet.Close
    }
    sess.Ingest(buf)
    return gnet.None
}

func (l *Listener) OnClose(c gnet.Conn, err error) gnet.Action {
    if sess, ok := c.Context().(transport.Session); ok {
        c.SetContext(nil)
        sess.Closed(err)
    }
    return gnet.None
}

// peer is the write side of one gnet connection.
type peer struct {
    c    gnet.Conn
    addr string
}

func (p *peer) Write(frame []byte) error {
    return p.c.AsyncWrite(frame, nil)
}

func (p *peer) Close() error { return p.c.Close() }

func (p *peer) RemoteAddr() string { return p.addr }

var _ transport.Listener = (*Listener)(nil)
