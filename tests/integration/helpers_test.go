//go:build integration

package integration

import (
    "context"
    "encoding/json"
    "net"
    "strconv"
    "testing"
    "time"

    "github.com/amirimatin/go-relay/pkg/bootstrap"
    "github.com/amirimatin/go-relay/pkg/relay"
    "github.com/amirimatin/go-relay/pkg/transport"
)

type status struct {
    Healthy   bool `json:"Healthy"`
    Listeners []struct {
        Name  string `json:"Name"`
        Peers []struct {
            ID   uint16 `json:"id"`
            Name string `json:"name"`
        } `json:"Peers"`
    } `json:"Listeners"`
    Uploads   int `json:"Uploads"`
    Downloads int `json:"Downloads"`
}

func freePort(t *testing.T) string {
    t.Helper()
    ln, err := net.Listen("tcp", "127.0.0.1:0")
    if err != nil { t.Fatalf("listen: %v", err) }
    defer ln.Close()
    return "127.0.0.1:" + strconv.Itoa(ln.Addr().(*net.TCPAddr).Port)
}

// mustStartRelay runs a relay on free ports. cfg fields left empty get a
// fresh address; Dir defaults to a temp dir.
func mustStartRelay(t *testing.T, ctx context.Context, cfg bootstrap.Config) (*relay.Relay, bootstrap.Config) {
    t.Helper()
    if cfg.Addr == "" { cfg.Addr = freePort(t) }
    if cfg.Mode == bootstrap.ModeDual && cfg.FileAddr == "" { cfg.FileAddr = freePort(t) }
    if cfg.MgmtAddr == "" { cfg.MgmtAddr = freePort(t) }
    if cfg.Dir == "" { cfg.Dir = t.TempDir() }
    r, err := bootstrap.Run(ctx, cfg)
    if err != nil { t.Fatalf("relay: %v", err) }
    t.Cleanup(func() { _ = r.Close() })
    return r, cfg
}

var errNotYet = &temporaryError{}
type temporaryError struct{}
func (e *temporaryError) Error() string { return "not yet" }

func waitUntil(t *testing.T, timeout time.Duration, fn func() error) {
    t.Helper()
    deadline := time.Now().Add(timeout)
    var last error
    for time.Now().Before(deadline) {
        if err := fn(); err == nil {
            return
        } else {
            last = err
        }
        time.Sleep(100 * time.Millisecond)
    }
    t.Fatalf("timeout waiting for condition: %v", last)
}

func fetchStatus(ctx context.Context, cli transport.RPCClient, addr string) (status, error) {
    var s status
    b, err := cli.GetStatus(ctx, addr)
    if err != nil { return s, err }
    if err := json.Unmarshal(b, &s); err != nil { return s, err }
    return s, nil
}

func peerCount(s status, listener string) int {
    for _, l := range s.Listeners {
        if l.Name == listener { return len(l.Peers) }
    }
    return -1
}
