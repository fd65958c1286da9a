package relay

import (
    "context"
    "strconv"
    "strings"
    "unicode/utf8"

    "github.com/amirimatin/go-relay/pkg/internal/logutil"
    obsmetrics "github.com/amirimatin/go-relay/pkg/observability/metrics"
    "github.com/amirimatin/go-relay/pkg/protocol"
    "github.com/amirimatin/go-relay/pkg/registry"
    "github.com/amirimatin/go-relay/pkg/reliability"
)

const maxNameLen = 64

func cleanName(body []byte, id uint16) string {
    name := strings.TrimSpace(string(body))
    name = strings.Map(func(r rune) rune {
        if r == '\n' || r == '\r' || r == '|' { return -1 }
        return r
    }, name)
    for len(name) > maxNameLen {
        _, size := utf8.DecodeLastRuneInString(name)
        name = name[:len(name)-size]
    }
    if name == "" { name = "peer-" + strconv.Itoa(int(id)) }
    return name
}

// handleConnect names the peer, tells everyone else and sends the roster.
func (r *Relay) handleConnect(ctx context.Context, c *Conn, m protocol.Message) {
    name := cleanName(m.Body, c.id)
    prev, err := c.scope.reg.SetName(c.id, name)
    if err != nil {
        logutil.Warnf(c.log, "connect after removal: %v", err)
        return
    }
    if prev == "" {
        r.broadcast(c, protocol.CmdConnect, c.id, protocol.JoinNotice(name))
        r.eb.publish(Event{Type: EventJoin, Listener: c.scope.name, PeerID: c.id, Name: name})
        logutil.Infof(c.log, "%s joined (%d peers)", name, c.scope.reg.Len())
    } else if prev != name {
        logutil.Infof(c.log, "%s renamed to %s", prev, name)
    }
    r.sendRoster(c)
}

func (r *Relay) sendRoster(c *Conn) {
    body := protocol.FormatRoster(c.scope.reg.Roster())
    if err := c.Send(protocol.CmdRosterSnapshot, 0, body); err != nil {
        logutil.Warnf(c.log, "send roster: %v", err)
    }
}

// handleRosterRequest answers a peer asking for the roster again.
func (r *Relay) handleRosterRequest(ctx context.Context, c *Conn, m protocol.Message) {
    r.sendRoster(c)
}

// handleChat relays text to every other peer on the same listener.
func (r *Relay) handleChat(ctx context.Context, c *Conn, m protocol.Message) {
    n := r.broadcast(c, protocol.CmdChatMessage, c.id, m.Body)
    r.eb.publish(Event{Type: EventChat, Listener: c.scope.name, PeerID: c.id, Text: string(m.Body)})
    logutil.Debugf(c.log, "chat %d bytes to %d peers", len(m.Body), n)
}

// handleAnnounce relays file metadata; no file bytes move until a peer asks.
func (r *Relay) handleAnnounce(ctx context.Context, c *Conn, m protocol.Message) {
    meta, err := protocol.ParseFileMeta(m.Body)
    if err != nil {
        logutil.Warnf(c.log, "bad file announce: %v", err)
        return
    }
    n := r.broadcast(c, protocol.CmdFileAnnounce, c.id, meta.Bytes())
    logutil.Infof(c.log, "announced %s (%d bytes) to %d peers", meta.Name, meta.Size, n)
}

func (r *Relay) handleDisconnect(ctx context.Context, c *Conn, m protocol.Message) {
    r.closeConn(c, nil)
}

// broadcast sends to every peer of c's listener except c.
func (r *Relay) broadcast(c *Conn, cmd protocol.Command, userID uint16, body []byte) int {
    obsmetrics.FramesTotal.WithLabelValues(cmd.String(), "broadcast").Inc()
    return c.scope.reg.Broadcast(c.id, func(e registry.Entry[*Conn]) {
        if err := e.Peer.Send(cmd, userID, body); err != nil {
            logutil.Debugf(c.log, "broadcast %v to %d: %v", cmd, e.ID, err)
        }
    })
}

// handleRetransmitRequest writes cached frames again. It runs on the event
// loop so replays are not held up behind queued handlers.
func (r *Relay) handleRetransmitRequest(c *Conn, m protocol.Message) {
    rng, err := protocol.ParseRange(m.Body)
    if err != nil {
        r.noteDrop(c, "retransmit", err)
        return
    }
    obsmetrics.RetransmitRequests.WithLabelValues("received").Inc()
    frames, missing := c.sender.Replay(rng)
    if missing > 0 {
        obsmetrics.RetransmitMissing.Add(float64(missing))
        logutil.Warnf(c.log, "retransmit %v: %d frames no longer cached", rng, missing)
    }
    if len(frames) == 0 { return }
    if err := c.writeRaw(frames...); err != nil {
        logutil.Warnf(c.log, "retransmit %v: %v", rng, err)
        return
    }
    obsmetrics.RetransmitFrames.Add(float64(len(frames)))
}

// requestRetransmit asks the peer to resend a missing range.
func (r *Relay) requestRetransmit(c *Conn, gap protocol.Range) {
    obsmetrics.RetransmitRequests.WithLabelValues("sent").Inc()
    logutil.Debugf(c.log, "gap %v, requesting retransmit", gap)
    if err := c.writeRaw(reliability.RetransmitRequest(gap)); err != nil {
        logutil.Debugf(c.log, "retransmit request: %v", err)
    }
}
