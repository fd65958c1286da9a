package relay

import (
    "sync"
    "sync/atomic"

    "go.uber.org/zap"

    "github.com/amirimatin/go-relay/pkg/protocol"
    "github.com/amirimatin/go-relay/pkg/registry"
    "github.com/amirimatin/go-relay/pkg/reliability"
    "github.com/amirimatin/go-relay/pkg/transfer"
    "github.com/amirimatin/go-relay/pkg/transport"
)

// scope is the roster of one listener.
type scope struct {
    name string
    addr string
    reg  *registry.Registry[*Conn]
}

// Conn is the relay's state for one peer connection.
type Conn struct {
    id      uint16
    session string
    addr    string
    relay   *Relay
    scope   *scope
    out     transport.Peer
    log     *zap.Logger
    closed  atomic.Bool

    // inbound, touched only by the listener's event loop
    inMu  sync.Mutex
    reasm *protocol.Reassembler
    recv  *reliability.Receiver

    // outbound; held across seal and write so wire order is sequence order
    sendMu sync.Mutex
    sender *reliability.Sender

    // frames waiting for this connection's handler; at most one runs at a time
    mbMu      sync.Mutex
    mailbox   []protocol.Message
    scheduled bool

    xferMu   sync.Mutex
    upload   *transfer.Upload
    download *transfer.Download
}

func (c *Conn) ID() uint16       { return c.id }
func (c *Conn) Session() string  { return c.session }
func (c *Conn) Listener() string { return c.scope.name }

// Name is the display name announced with Connect, or empty.
func (c *Conn) Name() string {
    e, ok := c.scope.reg.Get(c.id)
    if !ok { return "" }
    return e.Name
}

// Ingest feeds bytes read from the socket. Frames are decoded and put back in
// sequence order here; handlers run later on the worker pools.
func (c *Conn) Ingest(chunk []byte) {
    if c.closed.Load() { return }
    c.inMu.Lock()
    defer c.inMu.Unlock()
    frames, skipped := c.reasm.Feed(chunk)
    if skipped > 0 { c.relay.noteResync(c, skipped) }
    for _, raw := range frames {
        f, err := protocol.Decode(raw)
        if err != nil {
            c.relay.noteDrop(c, "decode", err)
            continue
        }
        m, err := protocol.Parse(f)
        if err != nil {
            c.relay.noteDrop(c, "sequence", err)
            continue
        }
        if !m.Command.Sequenced() {
            c.relay.handleRetransmitRequest(c, m)
            continue
        }
        res := c.recv.Accept(m)
        if res.Dropped {
            c.relay.noteDrop(c, "window", nil)
            continue
        }
        if res.Gap != nil { c.relay.requestRetransmit(c, *res.Gap) }
        for _, ready := range res.Ready {
            if err := c.relay.enqueue(c, ready); err != nil {
                c.relay.closeConn(c, err)
                return
            }
        }
    }
}

// Closed is called by the listener once the socket is gone.
func (c *Conn) Closed(err error) { c.relay.teardown(c, err) }

// Send stamps and writes one frame to this peer.
func (c *Conn) Send(cmd protocol.Command, userID uint16, body []byte) error {
    c.sendMu.Lock()
    defer c.sendMu.Unlock()
    if c.closed.Load() { return ErrConnClosed }
    _, frame := c.sender.Seal(cmd, userID, body)
    countOut(cmd)
    return c.out.Write(frame)
}

// writeRaw writes already encoded frames (control frames and replays).
func (c *Conn) writeRaw(frames ...[]byte) error {
    c.sendMu.Lock()
    defer c.sendMu.Unlock()
    if c.closed.Load() { return ErrConnClosed }
    for _, f := range frames {
        if err := c.out.Write(f); err != nil { return err }
    }
    return nil
}

// push appends m to the mailbox. It reports whether the caller must schedule
// the connection because no frame of it is in flight.
func (c *Conn) push(m protocol.Message, limit int) (protocol.Message, bool, error) {
    c.mbMu.Lock()
    defer c.mbMu.Unlock()
    if c.scheduled {
        if limit > 0 && len(c.mailbox) >= limit { return m, false, ErrBacklogFull }
        c.mailbox = append(c.mailbox, m)
        return m, false, nil
    }
    c.scheduled = true
    return m, true, nil
}

// next pops the following frame, or marks the connection idle.
func (c *Conn) next() (protocol.Message, bool) {
    c.mbMu.Lock()
    defer c.mbMu.Unlock()
    if len(c.mailbox) == 0 {
        c.scheduled = false
        return protocol.Message{}, false
    }
    m := c.mailbox[0]
    c.mailbox[0] = protocol.Message{}
    c.mailbox = c.mailbox[1:]
    return m, true
}

// unshift puts m back at the head of the mailbox after it could not be
// submitted. The connection stays marked in flight.
func (c *Conn) unshift(m protocol.Message) {
    c.mbMu.Lock()
    c.mailbox = append([]protocol.Message{m}, c.mailbox...)
    c.mbMu.Unlock()
}

// idle clears the in-flight mark after a submit failed.
func (c *Conn) idle() {
    c.mbMu.Lock()
    c.scheduled = false
    c.mailbox = nil
    c.mbMu.Unlock()
}
