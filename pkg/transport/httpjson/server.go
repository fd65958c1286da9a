package httpjson

import (
    "context"
    "errors"
    "fmt"
    "net"
    "net/http"
    "time"

    "github.com/prometheus/client_golang/prometheus/promhttp"
    "go.uber.org/zap"

    "github.com/amirimatin/go-relay/pkg/internal/logutil"
    "github.com/amirimatin/go-relay/pkg/observability/tracing"
    "github.com/amirimatin/go-relay/pkg/transport"
)

// Server is a minimal HTTP server exposing the management endpoints: status,
// roster, metrics and healthz. It is intended for operators and tooling.
type Server struct {
    bind   string
    addr   string
    srv    *http.Server
    logger *zap.Logger
}

// NewServer binds to the given TCP address (e.g., ":17946").
func NewServer(bind string, logger *zap.Logger) *Server {
    return &Server{bind: bind, logger: logutil.OrNop(logger)}
}

// Start launches the HTTP server and registers handlers backed by the provided
// functions. The server is shut down when the context is canceled.
func (s *Server) Start(ctx context.Context, status transport.StatusFunc, roster transport.RosterFunc) error {
    mux := http.NewServeMux()
    mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
        if r.Method != http.MethodGet { http.Error(w, "method not allowed", http.StatusMethodNotAllowed); return }
        ctx, end := tracing.StartSpan(r.Context(), "http.status")
        defer end()
        data, err := status(ctx)
        if err != nil { http.Error(w, fmt.Sprintf("status error: %v", err), http.StatusInternalServerError); return }
        w.Header().Set("Content-Type", "application/json")
        _, _ = w.Write(data)
    })
    mux.HandleFunc("/roster", func(w http.ResponseWriter, r *http.Request) {
        if r.Method != http.MethodGet { http.Error(w, "method not allowed", http.StatusMethodNotAllowed); return }
        if roster == nil { http.Error(w, "roster not supported", http.StatusNotImplemented); return }
        ctx, end := tracing.StartSpan(r.Context(), "http.roster")
        defer end()
        data, err := roster(ctx, r.URL.Query().Get("listener"))
        if err != nil { http.Error(w, fmt.Sprintf("roster error: %v", err), http.StatusNotFound); return }
        w.Header().Set("Content-Type", "application/json")
        _, _ = w.Write(data)
    })
    mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
        if r.Method != http.MethodGet { http.Error(w, "method not allowed", http.StatusMethodNotAllowed); return }
        w.WriteHeader(http.StatusOK)
        _, _ = w.Write([]byte("ok"))
    })
    // Prometheus metrics
    mux.Handle("/metrics", promhttp.Handler())

    s.srv = &http.Server{Addr: s.bind, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

    ln, err := net.Listen("tcp", s.bind)
    if err != nil { return err }
    s.addr = ln.Addr().String()

    go func() {
        <-ctx.Done()
        _ = s.Stop(context.Background())
    }()
    srv := s.srv
    go func() {
        if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
            logutil.Errorf(s.logger, "httpjson: server error: %v", err)
        }
    }()
    return nil
}

// Addr returns the bound address once started, else the configured one.
func (s *Server) Addr() string {
    if s.addr != "" { return s.addr }
    return s.bind
}

// Stop attempts a graceful shutdown with a short timeout.
func (s *Server) Stop(ctx context.Context) error {
    if s.srv == nil { return nil }
    c, cancel := context.WithTimeout(ctx, 2*time.Second)
    defer cancel()
    err := s.srv.Shutdown(c)
    s.srv = nil
    return err
}

var _ transport.RPCServer = (*Server)(nil)
