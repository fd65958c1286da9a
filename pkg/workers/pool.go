package workers

import (
    "context"
    "errors"
    "fmt"
    "runtime/debug"
    "sync"
    "sync/atomic"

    "github.com/panjf2000/ants/v2"
    "go.uber.org/zap"

    "github.com/amirimatin/go-relay/pkg/internal/logutil"
    obsmetrics "github.com/amirimatin/go-relay/pkg/observability/metrics"
)

var (
    ErrPoolClosed = errors.New("workers: pool closed")
    ErrQueueFull  = errors.New("workers: queue full")
)

// Policy selects what Stop does with queued tasks.
type Policy int

const (
    // Drain runs every queued task before Stop returns.
    Drain Policy = iota
    // Discard skips queued tasks that have not started.
    Discard
)

// Options configures a Pool.
type Options struct {
    Name    string
    Workers int // fixed worker count, default 4
    Queue   int // bounded backlog, default 256
    Logger  *zap.Logger
}

// Pool runs tasks on a fixed set of workers fed from a bounded queue.
// Submit blocks while the queue is full; a panicking task is logged and the
// pool keeps serving.
type Pool struct {
    name   string
    log    *zap.Logger
    ap     *ants.Pool
    tasks  chan func()
    feedWG sync.WaitGroup
    taskWG sync.WaitGroup

    mu      sync.RWMutex
    closed  bool
    discard atomic.Bool
    panics  atomic.Int64
}

func New(o Options) (*Pool, error) {
    if o.Workers <= 0 { o.Workers = 4 }
    if o.Queue <= 0 { o.Queue = 256 }
    if o.Name == "" { o.Name = "pool" }
    p := &Pool{name: o.Name, log: logutil.OrNop(o.Logger).With(zap.String("pool", o.Name)), tasks: make(chan func(), o.Queue)}
    ap, err := ants.NewPool(o.Workers,
        ants.WithPanicHandler(p.onPanic),
        ants.WithLogger(zap.NewStdLog(p.log)),
    )
    if err != nil { return nil, fmt.Errorf("workers: new %s pool: %w", o.Name, err) }
    p.ap = ap
    p.feedWG.Add(1)
    go p.feed()
    return p, nil
}

// feed hands queued tasks to idle workers; ants blocks it while all workers
// are busy, which is what keeps the queue bounded.
func (p *Pool) feed() {
    defer p.feedWG.Done()
    for t := range p.tasks {
        if err := p.ap.Submit(t); err != nil {
            // released under us; account for the task we could not start
            logutil.Errorf(p.log, "submit to workers: %v", err)
            p.taskWG.Done()
        }
        p.observe()
    }
}

func (p *Pool) wrap(task func()) func() {
    return func() {
        defer p.taskWG.Done()
        defer p.observe()
        if p.discard.Load() { return }
        task()
    }
}

func (p *Pool) onPanic(v any) {
    p.panics.Add(1)
    obsmetrics.PoolPanics.WithLabelValues(p.name).Inc()
    logutil.Errorf(p.log, "task panic recovered: %v\n%s", v, debug.Stack())
}

func (p *Pool) observe() {
    obsmetrics.PoolRunning.WithLabelValues(p.name).Set(float64(p.ap.Running()))
    obsmetrics.PoolWaiting.WithLabelValues(p.name).Set(float64(len(p.tasks)))
}

// Submit queues task, blocking while the queue is full or until ctx ends.
func (p *Pool) Submit(ctx context.Context, task func()) error {
    p.mu.RLock()
    defer p.mu.RUnlock()
    if p.closed { return ErrPoolClosed }
    p.taskWG.Add(1)
    select {
    case p.tasks <- p.wrap(task):
        return nil
    case <-ctx.Done():
        p.taskWG.Done()
        return ctx.Err()
    }
}

// TrySubmit queues task only if that does not block.
func (p *Pool) TrySubmit(task func()) error {
    p.mu.RLock()
    defer p.mu.RUnlock()
    if p.closed { return ErrPoolClosed }
    p.taskWG.Add(1)
    select {
    case p.tasks <- p.wrap(task):
        return nil
    default:
        p.taskWG.Done()
        return ErrQueueFull
    }
}

func (p *Pool) Name() string { return p.name }
func (p *Pool) Running() int { return p.ap.Running() }
func (p *Pool) Queued() int { return len(p.tasks) }
func (p *Pool) Panics() int64 { return p.panics.Load() }
func (p *Pool) Workers() int { return p.ap.Cap() }

// Stop refuses new tasks and, per policy, drains or discards the queue. It
// returns once running tasks finish or ctx ends.
func (p *Pool) Stop(ctx context.Context, policy Policy) error {
    p.mu.Lock()
    if p.closed {
        p.mu.Unlock()
        return nil
    }
    p.closed = true
    if policy == Discard { p.discard.Store(true) }
    close(p.tasks)
    p.mu.Unlock()

    done := make(chan struct{})
    go func() {
        p.feedWG.Wait()
        p.taskWG.Wait()
        close(done)
    }()
    select {
    case <-done:
        p.ap.Release()
        p.observe()
        return nil
    case <-ctx.Done():
        p.ap.Release()
        return fmt.Errorf("workers: stop %s: %w", p.name, ctx.Err())
    }
}
