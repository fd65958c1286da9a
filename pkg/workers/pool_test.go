package workers

import (
    "context"
    "errors"
    "sync/atomic"
    "testing"
    "time"
)

func newPool(t *testing.T, workers, queue int) *Pool {
    t.Helper()
    p, err := New(Options{Name: t.Name(), Workers: workers, Queue: queue})
    if err != nil { t.Fatalf("new pool: %v", err) }
    return p
}

func TestPool_RunsTasksAndDrains(t *testing.T) {
    p := newPool(t, 2, 16)
    var n atomic.Int32
    for i := 0; i < 50; i++ {
        if err := p.Submit(context.Background(), func() { n.Add(1) }); err != nil {
            t.Fatalf("submit %d: %v", i, err)
        }
    }
    ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
    defer cancel()
    if err := p.Stop(ctx, Drain); err != nil { t.Fatalf("stop: %v", err) }
    if n.Load() != 50 { t.Fatalf("ran %d tasks, want 50", n.Load()) }
    if err := p.Submit(context.Background(), func() {}); !errors.Is(err, ErrPoolClosed) {
        t.Fatalf("want ErrPoolClosed, got %v", err)
    }
}

func TestPool_PanicDoesNotKillPool(t *testing.T) {
    p := newPool(t, 1, 4)
    defer p.Stop(context.Background(), Drain)
    _ = p.Submit(context.Background(), func() { panic("boom") })
    done := make(chan struct{})
    if err := p.Submit(context.Background(), func() { close(done) }); err != nil {
        t.Fatalf("submit after panic: %v", err)
    }
    select {
    case <-done:
    case <-time.After(3 * time.Second):
        t.Fatalf("task after panic never ran")
    }
    deadline := time.Now().Add(time.Second)
    for p.Panics() != 1 && time.Now().Before(deadline) { time.Sleep(5 * time.Millisecond) }
    if p.Panics() != 1 { t.Fatalf("panics %d, want 1", p.Panics()) }
}

func TestPool_DiscardSkipsQueued(t *testing.T) {
    p := newPool(t, 1, 8)
    release := make(chan struct{})
    started := make(chan struct{})
    _ = p.Submit(context.Background(), func() { close(started); <-release })
    <-started
    var ran atomic.Int32
    for i := 0; i < 5; i++ {
        _ = p.Submit(context.Background(), func() { ran.Add(1) })
    }
    stopped := make(chan error, 1)
    go func() { stopped <- p.Stop(context.Background(), Discard) }()
    time.Sleep(20 * time.Millisecond)
    close(release)
    if err := <-stopped; err != nil { t.Fatalf("stop: %v", err) }
    if ran.Load() != 0 { t.Fatalf("%d queued tasks ran after discard", ran.Load()) }
}

func TestPool_TrySubmitNeverBlocks(t *testing.T) {
    p := newPool(t, 1, 2)
    release := make(chan struct{})
    defer func() { close(release); p.Stop(context.Background(), Drain) }()
    _ = p.Submit(context.Background(), func() { <-release })

    accepted := 0
    var err error
    for i := 0; i < 10; i++ {
        if err = p.TrySubmit(func() {}); err != nil { break }
        accepted++
        time.Sleep(10 * time.Millisecond)
    }
    if !errors.Is(err, ErrQueueFull) {
        t.Fatalf("want ErrQueueFull, got %v after %d", err, accepted)
    }
    // the queue plus the one task the feeder holds
    if accepted > 3 { t.Fatalf("accepted %d tasks beyond capacity", accepted) }
}

func TestPool_SubmitHonoursContext(t *testing.T) {
    p := newPool(t, 1, 1)
    release := make(chan struct{})
    defer func() { close(release); p.Stop(context.Background(), Drain) }()
    for i := 0; i < 3; i++ {
        _ = p.TrySubmit(func() { <-release })
        time.Sleep(10 * time.Millisecond)
    }
    ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
    defer cancel()
    if err := p.Submit(ctx, func() {}); !errors.Is(err, context.DeadlineExceeded) {
        t.Fatalf("want deadline exceeded, got %v", err)
    }
}
