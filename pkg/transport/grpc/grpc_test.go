package grpc

import (
    "context"
    "errors"
    "strings"
    "testing"
    "time"

    "google.golang.org/grpc/codes"
    "google.golang.org/grpc/status"
)

func TestManagement_StatusAndRoster(t *testing.T) {
    ctx, cancel := context.WithCancel(context.Background())
    defer cancel()
    s := NewServer("127.0.0.1:0", nil)
    statusFn := func(ctx context.Context) ([]byte, error) { return []byte(`{"Healthy":true}`), nil }
    roster := func(ctx context.Context, name string) ([]byte, error) {
        if name == "nope" { return nil, errors.New("unknown listener") }
        return []byte(`["` + name + `"]`), nil
    }
    if err := s.Start(ctx, statusFn, roster); err != nil { t.Fatalf("start: %v", err) }
    defer s.Stop(context.Background())

    c := NewClient(2 * time.Second)
    defer c.Close()
    b, err := c.GetStatus(ctx, s.Addr())
    if err != nil { t.Fatalf("status: %v", err) }
    if string(b) != `{"Healthy":true}` { t.Fatalf("status=%s", b) }

    b, err = c.GetRoster(ctx, s.Addr(), "file")
    if err != nil { t.Fatalf("roster: %v", err) }
    if !strings.Contains(string(b), "file") { t.Fatalf("roster=%s", b) }
    if c.cm.Len() != 1 { t.Fatalf("cached conns=%d want=1", c.cm.Len()) }

    _, err = c.GetRoster(ctx, s.Addr(), "nope")
    if status.Code(err) != codes.NotFound { t.Fatalf("unknown listener err=%v", err) }
}

func TestConnManager_EvictsIdle(t *testing.T) {
    c := NewClient(time.Second)
    defer c.Close()
    cc, rel, err := c.cm.Get(context.Background(), "127.0.0.1:1")
    if err != nil || cc == nil { t.Fatalf("get: %v", err) }
    if n := c.cm.evict(time.Now().Add(time.Hour)); n != 0 { t.Fatalf("evicted a conn in use") }
    rel()
    if n := c.cm.evict(time.Now().Add(time.Hour)); n != 1 { t.Fatalf("evicted=%d want=1", n) }
    if c.cm.Len() != 0 { t.Fatalf("cache not empty") }
}
