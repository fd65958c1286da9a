package relay

import (
    "errors"
    "fmt"
    "time"

    "go.uber.org/zap"

    "github.com/amirimatin/go-relay/pkg/protocol"
    "github.com/amirimatin/go-relay/pkg/reliability"
    "github.com/amirimatin/go-relay/pkg/transfer"
    "github.com/amirimatin/go-relay/pkg/transport"
    "github.com/amirimatin/go-relay/pkg/workers"
)

// Options carries dependency-injected components and runtime configuration
// used to assemble the relay. Instances are typically produced from
// bootstrap.Config.
type Options struct {
    // Listeners accept peer connections. Each listener has its own roster, so
    // a message port and a file port do not see each other's peers.
    Listeners []transport.Listener
    // Logger is used by the relay to report operational messages.
    Logger *zap.Logger

    // Optional management RPC (status, roster, metrics).
    RPCServer transport.RPCServer

    // Dir holds uploaded files and serves downloads.
    Dir string

    // Worker pools. File transfer frames run on their own pool so disk work
    // cannot hold up chat delivery.
    GeneralWorkers int
    FileWorkers    int
    QueueSize      int
    DrainPolicy    workers.Policy

    // Reliability tuning
    ReplayCapacity int // cached frames per connection for retransmission
    SkewWindow     int // how far ahead a frame may arrive and be buffered

    // Transfer tuning
    ChunkSize       int           // FileData body size for downloads
    TransferTimeout time.Duration // idle limit for uploads and downloads

    // MaxPayload bounds a single frame; MaxBacklog bounds frames waiting for
    // one connection's handler before the connection is dropped.
    MaxPayload int
    MaxBacklog int
}

const (
    DefaultGeneralWorkers  = 8
    DefaultFileWorkers     = 4
    DefaultQueueSize       = 1024
    DefaultTransferTimeout = 2 * time.Minute
    DefaultMaxPayload      = protocol.MaxPayload
    DefaultMaxBacklog      = 4096
)

// Validate performs a minimal validation of Options. It does not start any
// network activity and is safe to call before New.
func (o Options) Validate() error {
    if len(o.Listeners) == 0 {
        return errors.New("relay: no listeners")
    }
    seen := make(map[string]bool, len(o.Listeners))
    for _, l := range o.Listeners {
        if l == nil { return errors.New("relay: nil listener") }
        if seen[l.Name()] { return fmt.Errorf("relay: duplicate listener %q", l.Name()) }
        seen[l.Name()] = true
    }
    if o.GeneralWorkers < 0 || o.FileWorkers < 0 || o.QueueSize < 0 {
        return errors.New("relay: negative pool size")
    }
    if o.ChunkSize < 0 || o.ReplayCapacity < 0 || o.SkewWindow < 0 || o.MaxBacklog < 0 {
        return errors.New("relay: negative tuning value")
    }
    if o.MaxPayload < 0 || o.TransferTimeout < 0 {
        return errors.New("relay: negative limit")
    }
    if o.ChunkSize > 0 && o.MaxPayload > 0 && o.ChunkSize > o.MaxPayload {
        return fmt.Errorf("relay: chunk size %d exceeds max payload %d", o.ChunkSize, o.MaxPayload)
    }
    return nil
}

func (o Options) withDefaults() Options {
    if o.Dir == "" { o.Dir = transfer.DefaultDir }
    if o.GeneralWorkers == 0 { o.GeneralWorkers = DefaultGeneralWorkers }
    if o.FileWorkers == 0 { o.FileWorkers = DefaultFileWorkers }
    if o.QueueSize == 0 { o.QueueSize = DefaultQueueSize }
    if o.ReplayCapacity == 0 { o.ReplayCapacity = reliability.DefaultCacheCapacity }
    if o.SkewWindow == 0 { o.SkewWindow = reliability.DefaultSkewWindow }
    if o.ChunkSize == 0 { o.ChunkSize = transfer.DefaultChunkSize }
    if o.TransferTimeout == 0 { o.TransferTimeout = DefaultTransferTimeout }
    if o.MaxPayload == 0 { o.MaxPayload = DefaultMaxPayload }
    if o.MaxBacklog == 0 { o.MaxBacklog = DefaultMaxBacklog }
    return o
}
