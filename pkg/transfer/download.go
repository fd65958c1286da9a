package transfer

import (
    "errors"
    "fmt"
    "io"
    "os"
    "time"

    "github.com/oxtoacart/bpool"

    "github.com/amirimatin/go-relay/pkg/protocol"
)

// DefaultChunkSize is the largest FileData body a download sends.
const DefaultChunkSize = 8192

var ErrUnexpectedAck = errors.New("transfer: unexpected acknowledgement")

// Step is the position of a download in its stop-and-wait exchange.
type Step int

const (
    AwaitStartAck Step = iota
    Sending
    AwaitEndAck
    Done
)

func (s Step) String() string {
    switch s {
    case AwaitStartAck:
        return "await_start_ack"
    case Sending:
        return "sending"
    case AwaitEndAck:
        return "await_end_ack"
    case Done:
        return "done"
    }
    return fmt.Sprintf("step(%d)", int(s))
}

// NewChunkPool returns a buffer pool sized for chunk byte reads.
func NewChunkPool(chunk, keep int) *bpool.BytePool {
    if chunk <= 0 { chunk = DefaultChunkSize }
    if keep <= 0 { keep = 64 }
    return bpool.NewBytePool(keep, chunk)
}

// Outgoing is the frame a download wants sent next. Body may be backed by a
// pooled buffer; pass it to Release once it has been encoded.
type Outgoing struct {
    Command protocol.Command
    Body    []byte
    buf     []byte
}

// Download serves one stored file, one chunk per acknowledgement.
type Download struct {
    Name  string
    Total int64

    f       *os.File
    sent    int64
    step    Step
    pool    *bpool.BytePool
    touched time.Time
}

// NewDownload takes ownership of f. The caller sends FileStart itself.
func NewDownload(name string, f *os.File, total int64, pool *bpool.BytePool) *Download {
    if pool == nil { pool = NewChunkPool(DefaultChunkSize, 0) }
    return &Download{Name: name, Total: total, f: f, pool: pool, touched: time.Now()}
}

// Start returns the FileStart frame announcing this download.
func (d *Download) Start() Outgoing {
    return Outgoing{Command: protocol.CmdFileStart, Body: protocol.FileMeta{Name: d.Name, Size: d.Total}.Bytes()}
}

func (d *Download) Step() Step  { return d.step }
func (d *Download) Sent() int64 { return d.sent }

// Advance applies one acknowledgement from the peer. When the returned bool
// is false nothing is to be sent. An ack that does not fit the current step
// returns ErrUnexpectedAck and leaves the download unchanged.
func (d *Download) Advance(ack string) (Outgoing, bool, error) {
    d.touched = time.Now()
    switch {
    case d.step == AwaitStartAck && ack == protocol.AckStart,
        d.step == Sending && ack == protocol.AckData:
        if d.sent >= d.Total {
            d.step = AwaitEndAck
            return Outgoing{Command: protocol.CmdFileEnd}, true, nil
        }
        out, err := d.readChunk()
        if err != nil { return Outgoing{}, false, err }
        d.step = Sending
        return out, true, nil
    case d.step == AwaitEndAck && ack == protocol.AckEnd:
        d.step = Done
        d.Close()
        return Outgoing{}, false, nil
    }
    return Outgoing{}, false, fmt.Errorf("%w: %q while %s", ErrUnexpectedAck, ack, d.step)
}

func (d *Download) readChunk() (Outgoing, error) {
    buf := d.pool.Get()
    n := int64(len(buf))
    if rem := d.Total - d.sent; rem < n { n = rem }
    read, err := io.ReadFull(d.f, buf[:n])
    if err != nil {
        d.pool.Put(buf)
        return Outgoing{}, fmt.Errorf("transfer: read %s at %d: %w", d.Name, d.sent, err)
    }
    d.sent += int64(read)
    return Outgoing{Command: protocol.CmdFileData, Body: buf[:read], buf: buf}, nil
}

// Release returns o's buffer to the pool.
func (d *Download) Release(o Outgoing) {
    if o.buf != nil { d.pool.Put(o.buf) }
}

// Close releases the file. It is safe to call more than once.
func (d *Download) Close() error {
    if d.f == nil { return nil }
    err := d.f.Close()
    d.f = nil
    return err
}

func (d *Download) Idle(now time.Time) time.Duration { return now.Sub(d.touched) }
