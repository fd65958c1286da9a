package grpc

import (
    "context"
    "time"

    "google.golang.org/grpc"
    "google.golang.org/grpc/backoff"
    "google.golang.org/grpc/credentials/insecure"
    "google.golang.org/grpc/keepalive"

    "github.com/amirimatin/go-relay/pkg/transport"
)

// Client queries the management service of one or more relays. Connections
// are cached per address.
type Client struct {
    timeout time.Duration
    cm      *ConnManager
}

func NewClient(timeout time.Duration) *Client {
    if timeout <= 0 { timeout = 3 * time.Second }
    c := &Client{timeout: timeout}
    c.cm = NewConnManager(30*time.Second, c.dial)
    return c
}

func (c *Client) dial(ctx context.Context, target string) (*grpc.ClientConn, error) {
    return grpc.NewClient(target,
        grpc.WithDefaultCallOptions(grpc.ForceCodec(jsonCodec{}), grpc.CallContentSubtype("json")),
        grpc.WithConnectParams(grpc.ConnectParams{Backoff: backoff.DefaultConfig, MinConnectTimeout: 500 * time.Millisecond}),
        grpc.WithKeepaliveParams(keepalive.ClientParameters{Time: 20 * time.Second, Timeout: 5 * time.Second, PermitWithoutStream: true}),
        grpc.WithTransportCredentials(insecure.NewCredentials()),
    )
}

func (c *Client) invoke(ctx context.Context, addr, method string, in any) ([]byte, error) {
    cctx, cancel := context.WithTimeout(ctx, c.timeout)
    defer cancel()
    cc, rel, err := c.cm.Get(cctx, addr)
    if err != nil { return nil, err }
    defer rel()
    out := new(blob)
    if err := cc.Invoke(cctx, method, in, out, grpc.WaitForReady(true)); err != nil { return nil, err }
    return out.Data, nil
}

func (c *Client) GetStatus(ctx context.Context, addr string) ([]byte, error) {
    return c.invoke(ctx, addr, methodGetStatus, &empty{})
}

func (c *Client) GetRoster(ctx context.Context, addr string, listener string) ([]byte, error) {
    return c.invoke(ctx, addr, methodGetRoster, &transport.RosterRequest{Listener: listener})
}

// Close drops every cached connection.
func (c *Client) Close() { c.cm.Close() }

var _ transport.RPCClient = (*Client)(nil)
