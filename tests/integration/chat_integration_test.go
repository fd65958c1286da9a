//go:build integration

package integration

import (
    "context"
    "strings"
    "sync"
    "testing"
    "time"

    "github.com/amirimatin/go-relay/pkg/bootstrap"
    "github.com/amirimatin/go-relay/pkg/client"
)

type inbox struct {
    mu    sync.Mutex
    chats []string
    notes []string
}

func (b *inbox) opts(name string) client.Options {
    return client.Options{
        Name: name,
        OnChat: func(from uint16, text string) {
            b.mu.Lock(); b.chats = append(b.chats, text); b.mu.Unlock()
        },
        OnJoin: func(id uint16, notice string) {
            b.mu.Lock(); b.notes = append(b.notes, notice); b.mu.Unlock()
        },
        OnLeave: func(id uint16, notice string) {
            b.mu.Lock(); b.notes = append(b.notes, notice); b.mu.Unlock()
        },
    }
}

func (b *inbox) has(list func(*inbox) []string, sub string) error {
    b.mu.Lock(); defer b.mu.Unlock()
    for _, s := range list(b) {
        if strings.Contains(s, sub) { return nil }
    }
    return errNotYet
}

func chats(b *inbox) []string { return b.chats }
func notes(b *inbox) []string { return b.notes }

func TestChat_FanOutJoinAndLeave(t *testing.T) {
    ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
    defer cancel()
    _, cfg := mustStartRelay(t, ctx, bootstrap.Config{})

    var ia, ib, ic inbox
    a, err := client.Dial(ctx, cfg.Addr, ia.opts("alice"))
    if err != nil { t.Fatalf("alice: %v", err) }
    defer a.Close()
    b, err := client.Dial(ctx, cfg.Addr, ib.opts("bob"))
    if err != nil { t.Fatalf("bob: %v", err) }
    defer b.Close()

    waitUntil(t, 5*time.Second, func() error { return ia.has(notes, "bob") })
    waitUntil(t, 5*time.Second, func() error {
        if len(b.Roster()) != 2 { return errNotYet }
        return nil
    })

    c, err := client.Dial(ctx, cfg.Addr, ic.opts("carol"))
    if err != nil { t.Fatalf("carol: %v", err) }
    waitUntil(t, 5*time.Second, func() error { return ib.has(notes, "carol") })

    if err := a.Chat("hello everyone"); err != nil { t.Fatalf("chat: %v", err) }
    waitUntil(t, 5*time.Second, func() error { return ib.has(chats, "hello everyone") })
    waitUntil(t, 5*time.Second, func() error { return ic.has(chats, "hello everyone") })
    if ia.has(chats, "hello everyone") == nil { t.Fatalf("sender received its own message") }

    if err := c.Disconnect(); err != nil { t.Fatalf("disconnect: %v", err) }
    waitUntil(t, 5*time.Second, func() error { return ia.has(notes, "carol left") })
}

func TestChat_ManyMessagesArriveInOrder(t *testing.T) {
    ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
    defer cancel()
    _, cfg := mustStartRelay(t, ctx, bootstrap.Config{})

    var ia, ib inbox
    a, err := client.Dial(ctx, cfg.Addr, ia.opts("alice"))
    if err != nil { t.Fatalf("alice: %v", err) }
    defer a.Close()
    b, err := client.Dial(ctx, cfg.Addr, ib.opts("bob"))
    if err != nil { t.Fatalf("bob: %v", err) }
    defer b.Close()
    waitUntil(t, 5*time.Second, func() error { return ia.has(notes, "bob") })

    const n = 200
    for i := 0; i < n; i++ {
        if err := a.Chat(strings.Repeat("x", i%50) + "#"); err != nil { t.Fatalf("chat %d: %v", i, err) }
    }
    waitUntil(t, 10*time.Second, func() error {
        ib.mu.Lock(); defer ib.mu.Unlock()
        if len(ib.chats) < n { return errNotYet }
        return nil
    })
    ib.mu.Lock(); defer ib.mu.Unlock()
    for i, s := range ib.chats {
        if len(s) != i%50+1 { t.Fatalf("message %d out of order: len %d", i, len(s)) }
    }
}

func TestDual_ListenersKeepSeparateRosters(t *testing.T) {
    ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
    defer cancel()
    _, cfg := mustStartRelay(t, ctx, bootstrap.Config{Mode: bootstrap.ModeDual})

    var im, iff inbox
    m, err := client.Dial(ctx, cfg.Addr, im.opts("chatter"))
    if err != nil { t.Fatalf("msg: %v", err) }
    defer m.Close()
    f, err := client.Dial(ctx, cfg.FileAddr, iff.opts("mover"))
    if err != nil { t.Fatalf("file: %v", err) }
    defer f.Close()

    waitUntil(t, 5*time.Second, func() error {
        if len(m.Roster()) != 1 || len(f.Roster()) != 1 { return errNotYet }
        return nil
    })
    got := f.Roster()
    if got[0].Name != "mover" { t.Fatalf("file roster=%+v", got) }
    if err := im.has(notes, "mover"); err == nil { t.Fatalf("join crossed listeners") }
}
