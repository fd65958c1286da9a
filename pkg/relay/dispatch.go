package relay

import (
    "context"
    "errors"

    "github.com/amirimatin/go-relay/pkg/internal/logutil"
    obsmetrics "github.com/amirimatin/go-relay/pkg/observability/metrics"
    "github.com/amirimatin/go-relay/pkg/observability/tracing"
    "github.com/amirimatin/go-relay/pkg/protocol"
    "github.com/amirimatin/go-relay/pkg/workers"
)

type handlerFunc func(ctx context.Context, c *Conn, m protocol.Message)

func (r *Relay) routes() map[protocol.Command]handlerFunc {
    return map[protocol.Command]handlerFunc{
        protocol.CmdConnect:         r.handleConnect,
        protocol.CmdChatMessage:     r.handleChat,
        protocol.CmdFileAnnounce:    r.handleAnnounce,
        protocol.CmdDisconnect:      r.handleDisconnect,
        protocol.CmdRosterSnapshot:  r.handleRosterRequest,
        protocol.CmdDownloadRequest: r.handleDownloadRequest,
        protocol.CmdFileStart:       r.handleFileStart,
        protocol.CmdFileData:        r.handleFileData,
        protocol.CmdFileEnd:         r.handleFileEnd,
        protocol.CmdFileAck:         r.handleFileAck,
    }
}

// poolFor keeps file transfer work off the pool that serves chat.
func (r *Relay) poolFor(cmd protocol.Command) *workers.Pool {
    if cmd.IsFile() { return r.files }
    return r.general
}

// enqueue queues an in-order frame for c without blocking the caller, which
// is the listener's event loop. When the pool queue is full the frame stays
// in c's mailbox and c waits on the stall list until a worker frees a slot.
func (r *Relay) enqueue(c *Conn, m protocol.Message) error {
    first, schedule, err := c.push(m, r.opts.MaxBacklog)
    if err != nil || !schedule { return err }
    r.stallMu.Lock()
    defer r.stallMu.Unlock()
    err = r.poolFor(first.Command).TrySubmit(func() { r.drain(c, first) })
    switch {
    case err == nil:
        return nil
    case errors.Is(err, workers.ErrQueueFull):
        c.unshift(first)
        r.stalled = append(r.stalled, c)
        obsmetrics.FramesStalled.Inc()
        return nil
    default:
        c.idle()
        return ErrStopped
    }
}

// kick resubmits stalled connections while the pools have room. Every
// finished task calls it, so a connection stalled behind a full queue is
// picked up once that queue moves.
func (r *Relay) kick() {
    r.stallMu.Lock()
    defer r.stallMu.Unlock()
    if len(r.stalled) == 0 { return }
    waiting := r.stalled
    r.stalled = nil
    for _, c := range waiting {
        next, ok := c.next()
        if !ok { continue }
        if c.closed.Load() {
            c.idle()
            continue
        }
        err := r.poolFor(next.Command).TrySubmit(func() { r.drain(c, next) })
        if errors.Is(err, workers.ErrQueueFull) {
            c.unshift(next)
            r.stalled = append(r.stalled, c)
        } else if err != nil {
            c.idle()
        }
    }
}

// drain runs m and hands the connection's next frame to the matching pool.
// A worker never blocks on a full queue; it runs the frame itself instead.
func (r *Relay) drain(c *Conn, m protocol.Message) {
    defer r.kick()
    panicked := true
    defer func() {
        if panicked { r.resume(c) }
    }()
    for {
        r.dispatch(c, m)
        next, ok := c.next()
        if !ok { break }
        err := r.poolFor(next.Command).TrySubmit(func() { r.drain(c, next) })
        if err == nil { break }
        if errors.Is(err, workers.ErrPoolClosed) {
            c.idle()
            break
        }
        m = next
    }
    panicked = false
}

// resume keeps c moving after one of its handlers panicked; the pool itself
// recovers and logs the panic. The next frame goes on the stall list and the
// deferred kick in drain submits it.
func (r *Relay) resume(c *Conn) {
    next, ok := c.next()
    if !ok { return }
    c.unshift(next)
    r.stallMu.Lock()
    r.stalled = append(r.stalled, c)
    r.stallMu.Unlock()
}

// dispatch runs the handler for one frame. Frames for a connection that has
// already gone away are skipped.
func (r *Relay) dispatch(c *Conn, m protocol.Message) {
    if c.closed.Load() {
        obsmetrics.FramesDropped.WithLabelValues("closed").Inc()
        return
    }
    h, ok := r.handlers[m.Command]
    if !ok {
        logutil.Warnf(c.log, "ignoring unknown command %v (%d bytes)", m.Command, len(m.Body))
        obsmetrics.FramesDropped.WithLabelValues("unknown").Inc()
        return
    }
    obsmetrics.FramesTotal.WithLabelValues(m.Command.String(), "in").Inc()
    ctx, end := tracing.FrameSpan(r.runCtx(), m.Command.String(), c.id, c.session)
    defer end()
    h(ctx, c, m)
}

func countOut(cmd protocol.Command) {
    obsmetrics.FramesTotal.WithLabelValues(cmd.String(), "out").Inc()
}
