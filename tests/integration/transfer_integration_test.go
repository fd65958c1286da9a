//go:build integration

package integration

import (
    "bytes"
    "context"
    "crypto/rand"
    "errors"
    "os"
    "path/filepath"
    "testing"
    "time"

    "github.com/amirimatin/go-relay/pkg/bootstrap"
    "github.com/amirimatin/go-relay/pkg/client"
    "github.com/amirimatin/go-relay/pkg/relay"
)

func TestTransfer_UploadThenDownload(t *testing.T) {
    ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
    defer cancel()
    r, cfg := mustStartRelay(t, ctx, bootstrap.Config{Mode: bootstrap.ModeDual})
    events := r.Subscribe(ctx)

    data := make([]byte, 50_000)
    if _, err := rand.Read(data); err != nil { t.Fatalf("rand: %v", err) }
    src := filepath.Join(t.TempDir(), "blob.bin")
    if err := os.WriteFile(src, data, 0o644); err != nil { t.Fatalf("write: %v", err) }

    up, err := client.Dial(ctx, cfg.FileAddr, client.Options{Name: "up", ChunkSize: 4096})
    if err != nil { t.Fatalf("dial: %v", err) }
    defer up.Close()
    if err := up.UploadFile(ctx, src); err != nil { t.Fatalf("upload: %v", err) }

    stored, err := os.ReadFile(filepath.Join(cfg.Dir, "blob.bin"))
    if err != nil { t.Fatalf("stored: %v", err) }
    if !bytes.Equal(stored, data) { t.Fatalf("stored file differs (%d bytes)", len(stored)) }

    var last int64
    down, err := client.Dial(ctx, cfg.FileAddr, client.Options{Name: "down", OnProgress: func(p client.Progress) { last = p.Done }})
    if err != nil { t.Fatalf("dial: %v", err) }
    defer down.Close()
    var out bytes.Buffer
    n, err := down.Download(ctx, "blob.bin", &out)
    if err != nil { t.Fatalf("download: %v", err) }
    if n != int64(len(data)) || !bytes.Equal(out.Bytes(), data) { t.Fatalf("download got %d bytes", n) }
    if last != int64(len(data)) { t.Fatalf("progress stopped at %d", last) }

    seen := map[relay.EventType]bool{}
    waitUntil(t, 5*time.Second, func() error {
        for {
            select {
            case ev := <-events:
                seen[ev.Type] = true
            default:
                if seen[relay.EventUploadComplete] && seen[relay.EventDownloadComplete] { return nil }
                return errNotYet
            }
        }
    })
}

func TestTransfer_DownloadMissingFile(t *testing.T) {
    ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
    defer cancel()
    _, cfg := mustStartRelay(t, ctx, bootstrap.Config{})

    c, err := client.Dial(ctx, cfg.Addr, client.Options{Name: "curious"})
    if err != nil { t.Fatalf("dial: %v", err) }
    defer c.Close()
    if _, err := c.Download(ctx, "nope.txt", &bytes.Buffer{}); !errors.Is(err, client.ErrNotFound) {
        t.Fatalf("err=%v", err)
    }
    // connection survives
    if err := c.Chat("still here"); err != nil { t.Fatalf("chat: %v", err) }
}
