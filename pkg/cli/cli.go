package cli

import (
    "bufio"
    "context"
    "fmt"
    "io"
    "os"
    "os/signal"
    "strings"
    "syscall"
    "time"

    "github.com/spf13/cobra"
    "go.uber.org/zap"

    "github.com/amirimatin/go-relay/pkg/bootstrap"
    "github.com/amirimatin/go-relay/pkg/client"
    "github.com/amirimatin/go-relay/pkg/internal/logutil"
    tracing "github.com/amirimatin/go-relay/pkg/observability/tracing"
    "github.com/amirimatin/go-relay/pkg/protocol"
    "github.com/amirimatin/go-relay/pkg/relay"
    "github.com/amirimatin/go-relay/pkg/transfer"
    "github.com/amirimatin/go-relay/pkg/transport"
    mgmtgrpc "github.com/amirimatin/go-relay/pkg/transport/grpc"
    httpjson "github.com/amirimatin/go-relay/pkg/transport/httpjson"
)

// AddAll attaches the relay subcommands (serve/status/roster/chat/send/fetch)
// to the provided root command.
func AddAll(root *cobra.Command) {
    root.AddCommand(NewServeCmd())
    root.AddCommand(NewStatusCmd())
    root.AddCommand(NewRosterCmd())
    root.AddCommand(NewChatCmd())
    root.AddCommand(NewSendCmd())
    root.AddCommand(NewFetchCmd())
}

// NewRelayCommand returns a parent command "relay" holding every subcommand,
// for services that embed the CLI under their own root.
func NewRelayCommand() *cobra.Command {
    parent := &cobra.Command{Use: "relay", Short: "chat and file relay commands"}
    AddAll(parent)
    return parent
}

// NewServeCmd returns the "serve" command used to run a relay.
func NewServeCmd() *cobra.Command {
    var (
        cfg                         bootstrap.Config
        logLevel                    string
        logJSON, traceEnable, multi bool
    )
    cmd := &cobra.Command{
        Use:   "serve",
        Short: "Run a relay",
        RunE: func(cmd *cobra.Command, args []string) error {
            logger, err := logutil.New(logutil.Options{Level: logLevel, JSON: logJSON})
            if err != nil { return fmt.Errorf("logger: %w", err) }
            defer func() { _ = logger.Sync() }()
            ctx, cancel := signalContext()
            defer cancel()

            if traceEnable {
                shutdown, err := tracing.Setup(true)
                if err != nil {
                    logutil.Warnf(logger, "tracing setup error: %v", err)
                } else {
                    defer func() { _ = shutdown(context.Background()) }()
                }
            }

            cfg.Logger = logger
            cfg.Multicore = multi
            r, err := bootstrap.Run(ctx, cfg)
            if err != nil { return err }
            defer r.Close()

            go logEvents(ctx, r, logger)
            logutil.Infof(logger, "relay running (%s mode), press Ctrl+C to exit", cfg.Mode)
            <-ctx.Done()
            return nil
        },
    }
    f := cmd.Flags()
    f.StringVar(&cfg.Addr, "addr", bootstrap.DefaultAddr, "message listener address (host:port)")
    f.StringVar(&cfg.Mode, "mode", bootstrap.ModeSingle, "deployment mode: single|dual")
    f.StringVar(&cfg.FileAddr, "file-addr", bootstrap.DefaultFileAddr, "file listener address in dual mode")
    f.StringVar(&cfg.Dir, "dir", transfer.DefaultDir, "directory for uploaded files")
    f.IntVar(&cfg.GeneralWorkers, "general-workers", relay.DefaultGeneralWorkers, "workers for chat and control frames")
    f.IntVar(&cfg.FileWorkers, "file-workers", relay.DefaultFileWorkers, "workers for file transfer frames")
    f.IntVar(&cfg.QueueSize, "queue", relay.DefaultQueueSize, "queued frames per pool before readers block")
    f.BoolVar(&cfg.DiscardOnStop, "discard-on-stop", false, "drop queued frames on shutdown instead of draining")
    f.IntVar(&cfg.ChunkSize, "chunk-size", transfer.DefaultChunkSize, "download chunk size in bytes")
    f.IntVar(&cfg.ReplayCapacity, "replay-capacity", 0, "sent frames kept per connection for retransmission (0 = default)")
    f.IntVar(&cfg.SkewWindow, "skew-window", 0, "how far ahead a frame may arrive and still be buffered (0 = default)")
    f.DurationVar(&cfg.TransferTimeout, "transfer-timeout", relay.DefaultTransferTimeout, "idle limit for uploads and downloads")
    f.StringVar(&cfg.MgmtAddr, "mgmt-addr", "", "management address (tcp); empty disables it")
    f.StringVar(&cfg.MgmtProto, "mgmt-proto", "http", "management RPC protocol: http|grpc")
    f.BoolVar(&multi, "multicore", false, "one event loop per CPU")
    f.BoolVar(&traceEnable, "trace", false, "enable OpenTelemetry stdout tracing (dev)")
    f.BoolVar(&logJSON, "log-json", false, "log as JSON lines")
    f.StringVar(&logLevel, "log-level", "info", "log level: debug|info|warn|error")
    return cmd
}

func logEvents(ctx context.Context, r *relay.Relay, logger *zap.Logger) {
    for ev := range r.Subscribe(ctx) {
        switch ev.Type {
        case relay.EventUploadComplete, relay.EventDownloadComplete:
            logutil.Infof(logger, "%s: %s (%d bytes) peer %d on %s", ev.Type, ev.File, ev.Size, ev.PeerID, ev.Listener)
        case relay.EventChat:
            logutil.Debugf(logger, "chat from %d on %s: %d bytes", ev.PeerID, ev.Listener, len(ev.Text))
        default:
            logutil.Debugf(logger, "%s: %s (%d) on %s", ev.Type, ev.Name, ev.PeerID, ev.Listener)
        }
    }
}

func mgmtClient(proto string, timeout time.Duration) (transport.RPCClient, error) {
    switch proto {
    case "grpc":
        return mgmtgrpc.NewClient(timeout), nil
    case "http", "":
        return httpjson.NewClient(timeout), nil
    }
    return nil, fmt.Errorf("unknown management protocol %q", proto)
}

func writeJSON(w io.Writer, data []byte) {
    _, _ = w.Write(data)
    if len(data) == 0 || data[len(data)-1] != '\n' { _, _ = w.Write([]byte("\n")) }
}

// NewStatusCmd returns the "status" command.
func NewStatusCmd() *cobra.Command {
    var (
        addr, mgmtProto string
        timeout         time.Duration
    )
    cmd := &cobra.Command{
        Use:   "status",
        Short: "Fetch relay status as JSON",
        RunE: func(cmd *cobra.Command, args []string) error {
            ctx, cancel := context.WithTimeout(context.Background(), timeout)
            defer cancel()
            c, err := mgmtClient(mgmtProto, timeout)
            if err != nil { return err }
            data, err := c.GetStatus(ctx, addr)
            if err != nil { return fmt.Errorf("status error: %w", err) }
            writeJSON(cmd.OutOrStdout(), data)
            return nil
        },
    }
    cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:17946", "management address of a relay (host:port)")
    cmd.Flags().StringVar(&mgmtProto, "mgmt-proto", "http", "management RPC protocol: http|grpc")
    cmd.Flags().DurationVar(&timeout, "timeout", 3*time.Second, "request timeout")
    return cmd
}

// NewRosterCmd returns the "roster" command.
func NewRosterCmd() *cobra.Command {
    var (
        addr, mgmtProto, listener string
        timeout                   time.Duration
    )
    cmd := &cobra.Command{
        Use:   "roster",
        Short: "List connected peers as JSON",
        RunE: func(cmd *cobra.Command, args []string) error {
            ctx, cancel := context.WithTimeout(context.Background(), timeout)
            defer cancel()
            c, err := mgmtClient(mgmtProto, timeout)
            if err != nil { return err }
            data, err := c.GetRoster(ctx, addr, listener)
            if err != nil { return fmt.Errorf("roster error: %w", err) }
            writeJSON(cmd.OutOrStdout(), data)
            return nil
        },
    }
    cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:17946", "management address of a relay (host:port)")
    cmd.Flags().StringVar(&mgmtProto, "mgmt-proto", "http", "management RPC protocol: http|grpc")
    cmd.Flags().StringVar(&listener, "listener", "", "listener name (msg|file); empty lists all")
    cmd.Flags().DurationVar(&timeout, "timeout", 3*time.Second, "request timeout")
    return cmd
}

// NewChatCmd returns the interactive "chat" command. Lines read from stdin
// are sent as chat messages; "/quit" disconnects.
func NewChatCmd() *cobra.Command {
    var addr, name string
    cmd := &cobra.Command{
        Use:   "chat",
        Short: "Join a relay and chat from the terminal",
        RunE: func(cmd *cobra.Command, args []string) error {
            ctx, cancel := signalContext()
            defer cancel()
            out := cmd.OutOrStdout()
            c, err := client.Dial(ctx, addr, client.Options{
                Name:       name,
                OnChat:     func(from uint16, text string) { fmt.Fprintf(out, "[%d] %s\n", from, text) },
                OnJoin:     func(id uint16, notice string) { fmt.Fprintf(out, "* %s\n", notice) },
                OnLeave:    func(id uint16, notice string) { fmt.Fprintf(out, "* %s\n", notice) },
                OnRoster:   func(peers []protocol.Peer) { fmt.Fprintf(out, "* %d peers online\n", len(peers)) },
                OnAnnounce: func(from uint16, m protocol.FileMeta) { fmt.Fprintf(out, "* [%d] shares %s (%d bytes)\n", from, m.Name, m.Size) },
            })
            if err != nil { return err }
            defer c.Close()
            return chatLoop(ctx, c, cmd.InOrStdin())
        },
    }
    cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:9000", "relay address (host:port)")
    cmd.Flags().StringVar(&name, "name", "", "display name")
    return cmd
}

func chatLoop(ctx context.Context, c *client.Client, in io.Reader) error {
    lines := make(chan string)
    go func() {
        defer close(lines)
        sc := bufio.NewScanner(in)
        for sc.Scan() { lines <- sc.Text() }
    }()
    for {
        select {
        case <-ctx.Done():
            return c.Disconnect()
        case <-c.Done():
            return fmt.Errorf("relay closed the connection")
        case ln, ok := <-lines:
            if !ok || strings.TrimSpace(ln) == "/quit" { return c.Disconnect() }
            if strings.TrimSpace(ln) == "/who" {
                if err := c.RequestRoster(); err != nil { return err }
                continue
            }
            if err := c.Chat(ln); err != nil { return err }
        }
    }
}

// NewSendCmd returns the "send" command, which uploads a file and announces it.
func NewSendCmd() *cobra.Command {
    var (
        addr, name string
        timeout    time.Duration
    )
    cmd := &cobra.Command{
        Use:   "send FILE",
        Short: "Upload a file to a relay and announce it",
        Args:  cobra.ExactArgs(1),
        RunE: func(cmd *cobra.Command, args []string) error {
            ctx, cancel := context.WithTimeout(context.Background(), timeout)
            defer cancel()
            out := cmd.OutOrStdout()
            c, err := client.Dial(ctx, addr, client.Options{Name: name, OnProgress: printProgress(out)})
            if err != nil { return err }
            defer c.Disconnect()
            if err := c.UploadFile(ctx, args[0]); err != nil { return fmt.Errorf("upload: %w", err) }
            st, err := os.Stat(args[0])
            if err != nil { return err }
            meta := protocol.FileMeta{Name: st.Name(), Size: st.Size()}
            if err := c.Announce(meta); err != nil { return err }
            fmt.Fprintf(out, "\nsent %s (%d bytes)\n", meta.Name, meta.Size)
            return nil
        },
    }
    cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:9000", "relay address; the file port in dual mode")
    cmd.Flags().StringVar(&name, "name", "", "display name")
    cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Minute, "overall transfer timeout")
    return cmd
}

// NewFetchCmd returns the "fetch" command, which downloads a stored file.
func NewFetchCmd() *cobra.Command {
    var (
        addr, name, dir string
        timeout         time.Duration
    )
    cmd := &cobra.Command{
        Use:   "fetch NAME",
        Short: "Download a file stored on a relay",
        Args:  cobra.ExactArgs(1),
        RunE: func(cmd *cobra.Command, args []string) error {
            ctx, cancel := context.WithTimeout(context.Background(), timeout)
            defer cancel()
            out := cmd.OutOrStdout()
            c, err := client.Dial(ctx, addr, client.Options{Name: name, OnProgress: printProgress(out)})
            if err != nil { return err }
            defer c.Disconnect()
            path, err := c.DownloadFile(ctx, args[0], dir)
            if err != nil { return fmt.Errorf("fetch: %w", err) }
            fmt.Fprintf(out, "\nsaved %s\n", path)
            return nil
        },
    }
    cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:9000", "relay address; the file port in dual mode")
    cmd.Flags().StringVar(&name, "name", "", "display name")
    cmd.Flags().StringVar(&dir, "out", ".", "directory to save into")
    cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Minute, "overall transfer timeout")
    return cmd
}

func printProgress(w io.Writer) func(client.Progress) {
    return func(p client.Progress) {
        pct := 100.0
        if p.Total > 0 { pct = float64(p.Done) * 100 / float64(p.Total) }
        fmt.Fprintf(w, "\r%s %s: %d/%d bytes (%.0f%%)", p.Kind, p.Name, p.Done, p.Total, pct)
    }
}

func signalContext() (context.Context, context.CancelFunc) {
    ctx, cancel := context.WithCancel(context.Background())
    go func() {
        ch := make(chan os.Signal, 1)
        signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
        select {
        case <-ch:
            cancel()
        case <-ctx.Done():
        }
        signal.Stop(ch)
    }()
    return ctx, cancel
}
