package transfer

import (
    "sync"
    "time"

    "github.com/amirimatin/go-relay/pkg/protocol"
)

// Upload collects the chunks of one inbound file. The sender may send FileEnd
// before the last chunk has been handled; the upload then remembers the end
// and is finished by whichever FileData completes it.
type Upload struct {
    Name  string
    Total int64

    mu       sync.Mutex
    received int64
    chunks   [][]byte
    complete bool
    ended    bool
    aborted  bool
    touched  time.Time
}

// NewUpload starts an upload for meta. A zero byte upload is complete at once.
func NewUpload(meta protocol.FileMeta) *Upload {
    return &Upload{Name: meta.Name, Total: meta.Size, complete: meta.Size == 0, touched: time.Now()}
}

// Append stores p, clamped to the bytes still expected, and reports how many
// bytes were kept and whether the upload is now complete. An aborted upload
// keeps nothing.
func (u *Upload) Append(p []byte) (int, bool) {
    u.mu.Lock()
    defer u.mu.Unlock()
    if u.aborted { return 0, false }
    u.touched = time.Now()
    rem := u.Total - u.received
    if int64(len(p)) > rem { p = p[:rem] }
    if len(p) > 0 {
        u.chunks = append(u.chunks, append([]byte(nil), p...))
        u.received += int64(len(p))
    }
    if u.received == u.Total { u.complete = true }
    return len(p), u.complete
}

// End records that the sender has sent FileEnd and reports whether every
// byte has already arrived.
func (u *Upload) End() bool {
    u.mu.Lock()
    defer u.mu.Unlock()
    u.ended = true
    u.touched = time.Now()
    return u.complete && !u.aborted
}

// Ended reports whether FileEnd has been seen.
func (u *Upload) Ended() bool {
    u.mu.Lock()
    defer u.mu.Unlock()
    return u.ended
}

// Abort drops the collected chunks. Later Appends are ignored.
func (u *Upload) Abort() {
    u.mu.Lock()
    defer u.mu.Unlock()
    u.aborted = true
    u.chunks = nil
}

func (u *Upload) Aborted() bool {
    u.mu.Lock()
    defer u.mu.Unlock()
    return u.aborted
}

func (u *Upload) Received() int64 {
    u.mu.Lock()
    defer u.mu.Unlock()
    return u.received
}

func (u *Upload) Complete() bool {
    u.mu.Lock()
    defer u.mu.Unlock()
    return u.complete
}

// Chunks returns the stored chunks in arrival order.
func (u *Upload) Chunks() [][]byte {
    u.mu.Lock()
    defer u.mu.Unlock()
    return append([][]byte(nil), u.chunks...)
}

// Idle is how long the upload has gone without data.
func (u *Upload) Idle(now time.Time) time.Duration {
    u.mu.Lock()
    defer u.mu.Unlock()
    return now.Sub(u.touched)
}
