// Package client speaks the relay protocol from the peer side. It keeps its
// own sequencing state, answers retransmit requests and surfaces chat,
// roster and transfer progress through callbacks.
package client

import (
    "context"
    "errors"
    "fmt"
    "io"
    "net"
    "sync"
    "time"

    "go.uber.org/zap"

    "github.com/amirimatin/go-relay/pkg/internal/logutil"
    "github.com/amirimatin/go-relay/pkg/protocol"
    "github.com/amirimatin/go-relay/pkg/reliability"
    "github.com/amirimatin/go-relay/pkg/transfer"
)

var (
    ErrClosed   = errors.New("client: connection closed")
    ErrNotFound = errors.New("client: file not found on relay")
    ErrProtocol = errors.New("client: unexpected frame")
)

// Progress reports how far a transfer has come.
type Progress struct {
    Kind  string // upload or download
    Name  string
    Done  int64
    Total int64
}

// Options configures a Client. All callbacks are optional and run on the
// read goroutine, so they should return quickly.
type Options struct {
    Name        string
    Logger      *zap.Logger
    DialTimeout time.Duration
    ChunkSize   int

    OnChat     func(from uint16, text string)
    OnJoin     func(id uint16, notice string)
    OnLeave    func(id uint16, notice string)
    OnRoster   func(peers []protocol.Peer)
    OnAnnounce func(from uint16, meta protocol.FileMeta)
    OnProgress func(p Progress)
}

// Client is one protocol connection to a relay.
type Client struct {
    opts Options
    log  *zap.Logger
    conn net.Conn

    wmu    sync.Mutex
    sender *reliability.Sender

    reasm *protocol.Reassembler
    recv  *reliability.Receiver

    rmu    sync.RWMutex
    roster []protocol.Peer

    // one transfer at a time; its frames arrive on xfer
    xferMu sync.Mutex
    xfer   chan protocol.Message

    done    chan struct{}
    closeMu sync.Once
    err     error
}

// Dial connects to addr and announces opts.Name.
func Dial(ctx context.Context, addr string, opts Options) (*Client, error) {
    if opts.DialTimeout <= 0 { opts.DialTimeout = 5 * time.Second }
    if opts.ChunkSize <= 0 { opts.ChunkSize = transfer.DefaultChunkSize }
    d := net.Dialer{Timeout: opts.DialTimeout}
    conn, err := d.DialContext(ctx, "tcp", addr)
    if err != nil { return nil, fmt.Errorf("client: dial %s: %w", addr, err) }
    c := newClient(conn, opts)
    go c.readLoop()
    if err := c.send(protocol.CmdConnect, []byte(opts.Name)); err != nil {
        c.Close()
        return nil, err
    }
    return c, nil
}

func newClient(conn net.Conn, opts Options) *Client {
    return &Client{
        opts:   opts,
        log:    logutil.OrNop(opts.Logger).With(zap.String("relay", conn.RemoteAddr().String())),
        conn:   conn,
        sender: reliability.NewSender(0),
        reasm:  protocol.NewReassembler(0),
        recv:   reliability.NewReceiver(0),
        xfer:   make(chan protocol.Message, 64),
        done:   make(chan struct{}),
    }
}

// Done is closed once the connection is gone.
func (c *Client) Done() <-chan struct{} { return c.done }

// Err returns why the connection ended, if it has.
func (c *Client) Err() error {
    select {
    case <-c.done:
        return c.err
    default:
        return nil
    }
}

// Roster returns the last roster the relay sent.
func (c *Client) Roster() []protocol.Peer {
    c.rmu.RLock(); defer c.rmu.RUnlock()
    return append([]protocol.Peer(nil), c.roster...)
}

// RequestRoster asks the relay to send the roster again.
func (c *Client) RequestRoster() error { return c.send(protocol.CmdRosterSnapshot, nil) }

// Chat sends text to every other peer.
func (c *Client) Chat(text string) error { return c.send(protocol.CmdChatMessage, []byte(text)) }

// Announce tells the other peers a file is available.
func (c *Client) Announce(meta protocol.FileMeta) error {
    return c.send(protocol.CmdFileAnnounce, meta.Bytes())
}

// Disconnect says goodbye and closes the connection.
func (c *Client) Disconnect() error {
    err := c.send(protocol.CmdDisconnect, nil)
    c.Close()
    return err
}

// Close drops the connection without notice.
func (c *Client) Close() error {
    c.shutdown(ErrClosed)
    return nil
}

func (c *Client) shutdown(err error) {
    c.closeMu.Do(func() {
        c.err = err
        _ = c.conn.Close()
        close(c.done)
    })
}

func (c *Client) send(cmd protocol.Command, body []byte) error {
    c.wmu.Lock()
    defer c.wmu.Unlock()
    select {
    case <-c.done:
        return ErrClosed
    default:
    }
    _, frame := c.sender.Seal(cmd, 0, body)
    if _, err := c.conn.Write(frame); err != nil { return fmt.Errorf("client: write %v: %w", cmd, err) }
    return nil
}

func (c *Client) writeRaw(frames ...[]byte) error {
    c.wmu.Lock()
    defer c.wmu.Unlock()
    for _, f := range frames {
        if _, err := c.conn.Write(f); err != nil { return err }
    }
    return nil
}

func (c *Client) readLoop() {
    buf := make([]byte, 64<<10)
    for {
        n, err := c.conn.Read(buf)
        if n > 0 { c.ingest(buf[:n]) }
        if err != nil {
            if !errors.Is(err, net.ErrClosed) && !errors.Is(err, io.EOF) {
                logutil.Debugf(c.log, "read: %v", err)
            }
            c.shutdown(ErrClosed)
            return
        }
    }
}

func (c *Client) ingest(chunk []byte) {
    frames, skipped := c.reasm.Feed(chunk)
    if skipped > 0 { logutil.Debugf(c.log, "resync skipped %d bytes", skipped) }
    for _, raw := range frames {
        f, err := protocol.Decode(raw)
        if err != nil {
            logutil.Debugf(c.log, "drop frame: %v", err)
            continue
        }
        m, err := protocol.Parse(f)
        if err != nil { continue }
        if !m.Command.Sequenced() {
            c.replay(m)
            continue
        }
        res := c.recv.Accept(m)
        if res.Gap != nil {
            if err := c.writeRaw(reliability.RetransmitRequest(*res.Gap)); err != nil {
                logutil.Debugf(c.log, "retransmit request: %v", err)
            }
        }
        for _, ready := range res.Ready { c.handle(ready) }
    }
}

func (c *Client) replay(m protocol.Message) {
    rng, err := protocol.ParseRange(m.Body)
    if err != nil { return }
    frames, missing := c.sender.Replay(rng)
    if missing > 0 { logutil.Warnf(c.log, "relay asked for %v, %d frames gone", rng, missing) }
    if err := c.writeRaw(frames...); err != nil { logutil.Debugf(c.log, "replay: %v", err) }
}

func (c *Client) handle(m protocol.Message) {
    switch m.Command {
    case protocol.CmdChatMessage:
        if c.opts.OnChat != nil { c.opts.OnChat(m.UserID, string(m.Body)) }
    case protocol.CmdConnect:
        if c.opts.OnJoin != nil { c.opts.OnJoin(m.UserID, string(m.Body)) }
    case protocol.CmdDisconnect:
        if c.opts.OnLeave != nil { c.opts.OnLeave(m.UserID, string(m.Body)) }
    case protocol.CmdRosterSnapshot:
        peers, err := protocol.ParseRoster(m.Body)
        if err != nil {
            logutil.Warnf(c.log, "bad roster: %v", err)
            return
        }
        c.rmu.Lock()
        c.roster = peers
        c.rmu.Unlock()
        if c.opts.OnRoster != nil { c.opts.OnRoster(peers) }
    case protocol.CmdFileAnnounce:
        meta, err := protocol.ParseFileMeta(m.Body)
        if err != nil { return }
        if c.opts.OnAnnounce != nil { c.opts.OnAnnounce(m.UserID, meta) }
    case protocol.CmdFileAck, protocol.CmdFileStart, protocol.CmdFileData, protocol.CmdFileEnd:
        m.Body = append([]byte(nil), m.Body...)
        select {
        case c.xfer <- m:
        default:
            logutil.Warnf(c.log, "transfer frame %v dropped, nobody waiting", m.Command)
        }
    default:
        logutil.Debugf(c.log, "ignoring %v", m.Command)
    }
}

func (c *Client) await(ctx context.Context) (protocol.Message, error) {
    select {
    case m := <-c.xfer:
        return m, nil
    case <-c.done:
        return protocol.Message{}, ErrClosed
    case <-ctx.Done():
        return protocol.Message{}, ctx.Err()
    }
}

// discard throws away transfer frames left over from an aborted transfer.
func (c *Client) discard() {
    for {
        select {
        case <-c.xfer:
        default:
            return
        }
    }
}

func (c *Client) progress(kind, name string, done, total int64) {
    if c.opts.OnProgress != nil { c.opts.OnProgress(Progress{Kind: kind, Name: name, Done: done, Total: total}) }
}
