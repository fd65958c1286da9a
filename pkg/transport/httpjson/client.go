package httpjson

import (
    "context"
    "fmt"
    "io"
    "net/http"
    "net/url"
    "time"

    "github.com/amirimatin/go-relay/pkg/transport"
)

// Client is a thin HTTP client for the management API with simple retry and
// backoff for robustness.
type Client struct {
    httpc *http.Client
}

// NewClient constructs a new Client with the given timeout.
func NewClient(timeout time.Duration) *Client {
    if timeout <= 0 { timeout = 3 * time.Second }
    return &Client{httpc: &http.Client{Timeout: timeout, Transport: &http.Transport{}}}
}

func (c *Client) GetStatus(ctx context.Context, addr string) ([]byte, error) {
    return c.get(ctx, fmt.Sprintf("http://%s/status", addr))
}

// GetRoster fetches the peers of one listener, or of all when listener is
// empty.
func (c *Client) GetRoster(ctx context.Context, addr string, listener string) ([]byte, error) {
    u := fmt.Sprintf("http://%s/roster", addr)
    if listener != "" { u += "?listener=" + url.QueryEscape(listener) }
    return c.get(ctx, u)
}

func (c *Client) get(ctx context.Context, u string) ([]byte, error) {
    var lastErr error
    for attempt := 0; attempt < 3; attempt++ {
        req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
        if err != nil { return nil, err }
        resp, err := c.httpc.Do(req)
        if err != nil {
            lastErr = err
        } else {
            b, rerr := io.ReadAll(resp.Body)
            resp.Body.Close()
            switch {
            case rerr != nil:
                lastErr = rerr
            case resp.StatusCode == http.StatusOK:
                return b, nil
            case resp.StatusCode < 500:
                // the server answered; retrying will not change its mind
                return nil, fmt.Errorf("status %d: %s", resp.StatusCode, string(b))
            default:
                lastErr = fmt.Errorf("status %d: %s", resp.StatusCode, string(b))
            }
        }
        // backoff unless context is done
        select {
        case <-ctx.Done():
            return nil, ctx.Err()
        case <-time.After(time.Duration(100*(1<<attempt)) * time.Millisecond):
        }
    }
    return nil, lastErr
}

var _ transport.RPCClient = (*Client)(nil)
