package bootstrap

import (
    "context"
    "fmt"
    "time"

    "go.uber.org/zap"

    "github.com/amirimatin/go-relay/pkg/internal/logutil"
    "github.com/amirimatin/go-relay/pkg/relay"
    "github.com/amirimatin/go-relay/pkg/transport"
    mgmtgrpc "github.com/amirimatin/go-relay/pkg/transport/grpc"
    httpjson "github.com/amirimatin/go-relay/pkg/transport/httpjson"
    "github.com/amirimatin/go-relay/pkg/transport/tcp"
    "github.com/amirimatin/go-relay/pkg/workers"
)

const (
    ModeSingle = "single"
    ModeDual   = "dual"

    DefaultAddr     = ":9000"
    DefaultFileAddr = ":9001"
)

// Config defines high-level inputs to assemble a relay with sensible
// defaults. Applications embed the relay by providing this structure and
// calling Build/Run.
type Config struct {
    // Listening sockets. In dual mode chat runs on Addr and file transfers on
    // FileAddr, each with its own roster.
    Addr      string
    Mode      string // "single" (default) or "dual"
    FileAddr  string
    Multicore bool

    // Management API (status/roster/metrics); empty disables it.
    MgmtAddr  string
    MgmtProto string // "http" (default) or "grpc"

    // Storage for uploads
    Dir string

    // Pools
    GeneralWorkers int
    FileWorkers    int
    QueueSize      int
    DiscardOnStop  bool // skip queued frames on shutdown instead of draining

    // Protocol tuning (zero keeps the relay defaults)
    ChunkSize       int
    ReplayCapacity  int
    SkewWindow      int
    TransferTimeout time.Duration
    MaxPayload      int

    // Logger (optional). If nil, a no-op logger is used.
    Logger *zap.Logger
}

func (cfg Config) withDefaults() Config {
    if cfg.Mode == "" { cfg.Mode = ModeSingle }
    if cfg.Addr == "" { cfg.Addr = DefaultAddr }
    if cfg.Mode == ModeDual && cfg.FileAddr == "" { cfg.FileAddr = DefaultFileAddr }
    if cfg.MgmtProto == "" { cfg.MgmtProto = "http" }
    cfg.Logger = logutil.OrNop(cfg.Logger)
    return cfg
}

// Listeners returns the reactor listeners for the configured mode.
func (cfg Config) Listeners() ([]transport.Listener, error) {
    cfg = cfg.withDefaults()
    topts := tcp.Options{Multicore: cfg.Multicore, Logger: cfg.Logger}
    switch cfg.Mode {
    case ModeSingle:
        return []transport.Listener{tcp.New("msg", cfg.Addr, topts)}, nil
    case ModeDual:
        if cfg.FileAddr == cfg.Addr { return nil, fmt.Errorf("bootstrap: dual mode needs two addresses, both are %s", cfg.Addr) }
        return []transport.Listener{tcp.New("msg", cfg.Addr, topts), tcp.New("file", cfg.FileAddr, topts)}, nil
    }
    return nil, fmt.Errorf("bootstrap: unknown mode %q", cfg.Mode)
}

// Build assembles a relay.Relay from Config without starting it.
func Build(cfg Config) (*relay.Relay, error) {
    cfg = cfg.withDefaults()
    listeners, err := cfg.Listeners()
    if err != nil { return nil, err }

    // Management API
    var srv transport.RPCServer
    if cfg.MgmtAddr != "" {
        switch cfg.MgmtProto {
        case "grpc":
            srv = mgmtgrpc.NewServer(cfg.MgmtAddr, cfg.Logger)
        case "http":
            srv = httpjson.NewServer(cfg.MgmtAddr, cfg.Logger)
        default:
            return nil, fmt.Errorf("bootstrap: unknown management protocol %q", cfg.MgmtProto)
        }
    }

    policy := workers.Drain
    if cfg.DiscardOnStop { policy = workers.Discard }
    opts := relay.Options{
        Listeners:       listeners,
        Logger:          cfg.Logger,
        RPCServer:       srv,
        Dir:             cfg.Dir,
        GeneralWorkers:  cfg.GeneralWorkers,
        FileWorkers:     cfg.FileWorkers,
        QueueSize:       cfg.QueueSize,
        DrainPolicy:     policy,
        ReplayCapacity:  cfg.ReplayCapacity,
        SkewWindow:      cfg.SkewWindow,
        ChunkSize:       cfg.ChunkSize,
        TransferTimeout: cfg.TransferTimeout,
        MaxPayload:      cfg.MaxPayload,
    }
    return relay.New(opts)
}

// Run builds and starts the relay, returning the instance for lifecycle
// control. The caller is responsible for calling Close() when finished.
func Run(ctx context.Context, cfg Config) (*relay.Relay, error) {
    r, err := Build(cfg)
    if err != nil { return nil, err }
    if err := r.Start(ctx); err != nil { return nil, err }
    return r, nil
}
