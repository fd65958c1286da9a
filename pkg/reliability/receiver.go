package reliability

import "github.com/amirimatin/go-relay/pkg/protocol"

// DefaultSkewWindow is how far ahead of the expected sequence a frame may
// arrive and still be buffered.
const DefaultSkewWindow = 10

// Result describes what Accept did with a frame.
type Result struct {
    // Ready holds frames now deliverable in sequence order.
    Ready []protocol.Message
    // Gap is the missing range to request when a frame was buffered.
    Gap *protocol.Range
    // Dropped is set for duplicates and frames beyond the window.
    Dropped bool
}

// Receiver restores sequence order for frames from one source. It is not safe
// for concurrent use.
type Receiver struct {
    expected uint16
    window   uint16
    pending  map[uint16]protocol.Message
}

func NewReceiver(window int) *Receiver {
    if window <= 0 { window = DefaultSkewWindow }
    if window > 1<<14 { window = 1 << 14 }
    return &Receiver{window: uint16(window), pending: make(map[uint16]protocol.Message)}
}

// Accept applies one sequenced message.
func (r *Receiver) Accept(m protocol.Message) Result {
    d := m.Seq - r.expected
    switch {
    case d == 0:
        ready := []protocol.Message{m}
        r.expected++
        for {
            next, ok := r.pending[r.expected]
            if !ok { break }
            delete(r.pending, r.expected)
            ready = append(ready, next)
            r.expected++
        }
        return Result{Ready: ready}
    case d <= r.window:
        if _, dup := r.pending[m.Seq]; dup {
            return Result{Dropped: true}
        }
        r.pending[m.Seq] = m
        return Result{Gap: &protocol.Range{From: r.expected, To: m.Seq - 1}}
    default:
        return Result{Dropped: true}
    }
}

// Expected is the next in-order sequence.
func (r *Receiver) Expected() uint16 { return r.expected }

// Pending is the number of buffered out-of-order frames.
func (r *Receiver) Pending() int { return len(r.pending) }
