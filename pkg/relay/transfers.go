package relay

import (
    "context"
    "errors"
    "time"

    "github.com/amirimatin/go-relay/pkg/internal/logutil"
    obsmetrics "github.com/amirimatin/go-relay/pkg/observability/metrics"
    "github.com/amirimatin/go-relay/pkg/protocol"
    "github.com/amirimatin/go-relay/pkg/registry"
    "github.com/amirimatin/go-relay/pkg/transfer"
)

func (r *Relay) ack(c *Conn, kind string) {
    if err := c.Send(protocol.CmdFileAck, 0, []byte(kind)); err != nil {
        logutil.Debugf(c.log, "ack %s: %v", kind, err)
    }
}

// handleFileStart begins an upload, replacing any unfinished one.
func (r *Relay) handleFileStart(ctx context.Context, c *Conn, m protocol.Message) {
    meta, err := protocol.ParseFileMeta(m.Body)
    if err != nil {
        logutil.Warnf(c.log, "bad file start: %v", err)
        return
    }
    name, err := transfer.SafeName(meta.Name)
    if err != nil {
        logutil.Warnf(c.log, "rejecting upload: %v", err)
        return
    }
    meta.Name = name
    up := transfer.NewUpload(meta)

    c.xferMu.Lock()
    if old := c.upload; old != nil {
        logutil.Warnf(c.log, "upload %s replaced after %d/%d bytes", old.Name, old.Received(), old.Total)
        r.endUpload(old, "replaced")
    }
    c.upload = up
    c.xferMu.Unlock()
    obsmetrics.TransfersActive.WithLabelValues("upload").Inc()

    logutil.Infof(c.log, "upload %s started (%d bytes)", meta.Name, meta.Size)
    r.ack(c, protocol.AckStart)
}

// handleFileData appends one chunk to the active upload.
func (r *Relay) handleFileData(ctx context.Context, c *Conn, m protocol.Message) {
    c.xferMu.Lock()
    up := c.upload
    c.xferMu.Unlock()
    if up == nil {
        logutil.Warnf(c.log, "file data without an upload, %d bytes ignored", len(m.Body))
        return
    }
    n, complete := up.Append(m.Body)
    if n < len(m.Body) {
        logutil.Debugf(c.log, "upload %s: dropped %d bytes past declared size", up.Name, len(m.Body)-n)
    }
    obsmetrics.TransferBytes.WithLabelValues("upload").Add(float64(n))
    r.ack(c, protocol.AckData)
    if complete && up.Ended() { r.finishUpload(c, up) }
}

// handleFileEnd stores a complete upload. If bytes are still missing the end
// is recorded and the FileData that completes the upload stores it, so no
// worker waits; an upload that never completes is reaped by the janitor.
func (r *Relay) handleFileEnd(ctx context.Context, c *Conn, m protocol.Message) {
    c.xferMu.Lock()
    up := c.upload
    c.xferMu.Unlock()
    if up == nil {
        logutil.Warnf(c.log, "file end without an upload")
        return
    }
    if up.End() {
        r.finishUpload(c, up)
        return
    }
    logutil.Debugf(c.log, "upload %s: end at %d/%d bytes, storing once the rest arrives", up.Name, up.Received(), up.Total)
}

func (r *Relay) finishUpload(c *Conn, up *transfer.Upload) {
    if !r.takeUpload(c, up) { return }
    n, err := r.store.Write(up.Name, up.Chunks(), up.Total)
    if err != nil {
        logutil.Errorf(c.log, "store upload %s: %v", up.Name, err)
        r.endUpload(up, "error")
        return
    }
    r.endUpload(up, "ok")
    logutil.Infof(c.log, "upload %s stored (%d bytes)", up.Name, n)
    r.ack(c, protocol.AckEnd)
    r.eb.publish(Event{Type: EventUploadComplete, Listener: c.scope.name, PeerID: c.id, File: up.Name, Size: n})
}

// takeUpload detaches up from c if it is still the active upload.
func (r *Relay) takeUpload(c *Conn, up *transfer.Upload) bool {
    c.xferMu.Lock()
    defer c.xferMu.Unlock()
    if c.upload != up { return false }
    c.upload = nil
    return true
}

func (r *Relay) endUpload(up *transfer.Upload, result string) {
    up.Abort()
    obsmetrics.TransfersActive.WithLabelValues("upload").Dec()
    obsmetrics.TransfersTotal.WithLabelValues("upload", result).Inc()
}

// handleDownloadRequest opens a stored file and announces it with FileStart.
// A missing file is reported to the requester only.
func (r *Relay) handleDownloadRequest(ctx context.Context, c *Conn, m protocol.Message) {
    name := string(m.Body)
    f, size, err := r.store.Open(name)
    if err != nil {
        if !errors.Is(err, transfer.ErrNotFound) && !errors.Is(err, transfer.ErrBadName) {
            logutil.Errorf(c.log, "open %s: %v", name, err)
        }
        logutil.Infof(c.log, "download %q refused: %v", name, err)
        obsmetrics.TransfersTotal.WithLabelValues("download", "not_found").Inc()
        if err := c.Send(protocol.CmdFileAck, 0, protocol.FileNotFound(name)); err != nil {
            logutil.Debugf(c.log, "file not found reply: %v", err)
        }
        return
    }
    safe, _ := transfer.SafeName(name)
    d := transfer.NewDownload(safe, f, size, r.chunks)

    c.xferMu.Lock()
    if old := c.download; old != nil {
        logutil.Warnf(c.log, "download %s replaced at %d/%d bytes", old.Name, old.Sent(), old.Total)
        r.endDownload(old, "replaced")
    }
    c.download = d
    start := d.Start()
    err = c.Send(start.Command, 0, start.Body)
    c.xferMu.Unlock()
    obsmetrics.TransfersActive.WithLabelValues("download").Inc()
    if err != nil {
        logutil.Debugf(c.log, "file start: %v", err)
        return
    }
    logutil.Infof(c.log, "download %s started (%d bytes)", safe, size)
}

// handleFileAck advances the active download by one step.
func (r *Relay) handleFileAck(ctx context.Context, c *Conn, m protocol.Message) {
    kind := string(m.Body)
    c.xferMu.Lock()
    defer c.xferMu.Unlock()
    d := c.download
    if d == nil {
        logutil.Warnf(c.log, "ack %q without a download", kind)
        return
    }
    out, send, err := d.Advance(kind)
    if errors.Is(err, transfer.ErrUnexpectedAck) {
        logutil.Warnf(c.log, "download %s: %v", d.Name, err)
        return
    }
    if err != nil {
        logutil.Errorf(c.log, "download %s: %v", d.Name, err)
        c.download = nil
        r.endDownload(d, "error")
        return
    }
    if send {
        err := c.Send(out.Command, 0, out.Body)
        if out.Command == protocol.CmdFileData {
            obsmetrics.TransferBytes.WithLabelValues("download").Add(float64(len(out.Body)))
        }
        d.Release(out)
        if err != nil { logutil.Debugf(c.log, "download %s: %v", d.Name, err) }
    }
    if d.Step() == transfer.Done {
        c.download = nil
        r.endDownload(d, "ok")
        logutil.Infof(c.log, "download %s complete (%d bytes)", d.Name, d.Sent())
        r.eb.publish(Event{Type: EventDownloadComplete, Listener: c.scope.name, PeerID: c.id, File: d.Name, Size: d.Sent()})
    }
}

func (r *Relay) endDownload(d *transfer.Download, result string) {
    _ = d.Close()
    obsmetrics.TransfersActive.WithLabelValues("download").Dec()
    obsmetrics.TransfersTotal.WithLabelValues("download", result).Inc()
}

// dropTransfers discards whatever c had in progress.
func (r *Relay) dropTransfers(c *Conn, result string) {
    c.xferMu.Lock()
    up, d := c.upload, c.download
    c.upload, c.download = nil, nil
    c.xferMu.Unlock()
    if up != nil { r.endUpload(up, result) }
    if d != nil { r.endDownload(d, result) }
}

// janitorLoop discards transfers that have been idle longer than the
// transfer timeout.
func (r *Relay) janitorLoop(ctx context.Context) {
    every := r.opts.TransferTimeout / 2
    if every < 10*time.Millisecond { every = 10 * time.Millisecond }
    ticker := time.NewTicker(every)
    defer ticker.Stop()
    for {
        select {
        case <-ctx.Done():
            return
        case now := <-ticker.C:
            r.reapIdle(now)
            r.kick()
        }
    }
}

func (r *Relay) reapIdle(now time.Time) int {
    var stale []*Conn
    for _, s := range r.scopes {
        s.reg.Broadcast(0, func(e registry.Entry[*Conn]) {
            c := e.Peer
            c.xferMu.Lock()
            if (c.upload != nil && c.upload.Idle(now) > r.opts.TransferTimeout) ||
                (c.download != nil && c.download.Idle(now) > r.opts.TransferTimeout) {
                stale = append(stale, c)
            }
            c.xferMu.Unlock()
        })
    }
    reaped := 0
    for _, c := range stale {
        c.xferMu.Lock()
        if up := c.upload; up != nil && up.Idle(now) > r.opts.TransferTimeout {
            logutil.Warnf(c.log, "upload %s idle, discarding at %d/%d bytes", up.Name, up.Received(), up.Total)
            c.upload = nil
            r.endUpload(up, "timeout")
            reaped++
        }
        if d := c.download; d != nil && d.Idle(now) > r.opts.TransferTimeout {
            logutil.Warnf(c.log, "download %s idle, discarding at %d/%d bytes", d.Name, d.Sent(), d.Total)
            c.download = nil
            r.endDownload(d, "timeout")
            reaped++
        }
        c.xferMu.Unlock()
    }
    return reaped
}
