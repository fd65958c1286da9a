package protocol

import (
    "bytes"
    "encoding/binary"
)

var magicBytes = []byte{byte(Magic >> 8), byte(Magic & 0xFF)}

// Reassembler extracts complete frames from an arbitrarily chunked byte
// stream. It is not safe for concurrent use; each connection owns one.
type Reassembler struct {
    buf        []byte
    maxPayload int
    skipped    uint64
}

// NewReassembler returns a reassembler that treats any declared payload above
// maxPayload as a false magic match. maxPayload <= 0 selects MaxPayload.
func NewReassembler(maxPayload int) *Reassembler {
    if maxPayload <= 0 { maxPayload = MaxPayload }
    return &Reassembler{maxPayload: maxPayload}
}

// Feed appends chunk and returns every complete frame now buffered, in
// arrival order, along with the number of bytes discarded while resyncing.
// Returned frames are owned by the caller.
func (r *Reassembler) Feed(chunk []byte) (frames [][]byte, skipped int) {
    r.buf = append(r.buf, chunk...)
    off := 0
    for {
        rest := r.buf[off:]
        i := bytes.Index(rest, magicBytes)
        if i < 0 {
            // keep a trailing first magic byte, its partner may be next
            keep := 0
            if n := len(rest); n > 0 && rest[n-1] == magicBytes[0] { keep = 1 }
            skipped += len(rest) - keep
            off += len(rest) - keep
            break
        }
        if i > 0 {
            skipped += i
            off += i
            rest = rest[i:]
        }
        if len(rest) < 6 { break }
        length := binary.BigEndian.Uint32(rest[2:6])
        if length < lengthBias || int64(length)-lengthBias > int64(r.maxPayload) {
            // not a real header; step past this magic and rescan
            skipped++
            off++
            continue
        }
        total := 6 + int(length) + TrailerSize
        if len(rest) < total { break }
        frames = append(frames, append([]byte(nil), rest[:total]...))
        off += total
    }
    if off > 0 {
        r.buf = append(r.buf[:0], r.buf[off:]...)
    }
    r.skipped += uint64(skipped)
    return frames, skipped
}

// Buffered is the number of bytes held waiting for the rest of a frame.
func (r *Reassembler) Buffered() int { return len(r.buf) }

// Skipped is the total number of bytes discarded while resyncing.
func (r *Reassembler) Skipped() uint64 { return r.skipped }

// Reset drops any buffered bytes.
func (r *Reassembler) Reset() { r.buf = r.buf[:0] }
