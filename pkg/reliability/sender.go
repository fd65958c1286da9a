package reliability

import (
    "sync"

    "github.com/amirimatin/go-relay/pkg/protocol"
)

// Sender stamps outgoing frames for one destination with consecutive
// sequence numbers and remembers them for retransmission.
type Sender struct {
    mu    sync.Mutex
    next  uint16
    cache *ReplayCache
}

func NewSender(cacheCapacity int) *Sender {
    return &Sender{cache: NewReplayCache(cacheCapacity)}
}

// Seal stamps body with the next sequence, encodes the frame and caches it.
// Callers that need wire order to match sequence order must write the
// returned bytes before sealing the next frame.
func (s *Sender) Seal(cmd protocol.Command, userID uint16, body []byte) (uint16, []byte) {
    if !cmd.Sequenced() {
        return 0, Control(cmd, userID, body)
    }
    s.mu.Lock()
    defer s.mu.Unlock()
    seq := s.next
    s.next++
    frame := protocol.Message{Command: cmd, UserID: userID, Seq: seq, Body: body}.Encode()
    s.cache.Put(seq, frame)
    return seq, frame
}

// Replay returns the cached frames in r, oldest first, and the number of
// sequences in r that were no longer cached.
func (s *Sender) Replay(r protocol.Range) (frames [][]byte, missing int) {
    s.mu.Lock()
    defer s.mu.Unlock()
    n := r.Len()
    // never replay sequences that were not sent yet
    sent := int(s.next - r.From)
    if sent > maxCacheCapacity { return nil, n }
    if n > sent { n = sent }
    for i := 0; i < n; i++ {
        if f, ok := s.cache.Get(r.From + uint16(i)); ok {
            frames = append(frames, f)
        } else {
            missing++
        }
    }
    return frames, missing
}

// Next is the sequence the next sealed frame will carry.
func (s *Sender) Next() uint16 {
    s.mu.Lock()
    defer s.mu.Unlock()
    return s.next
}

// Control encodes an unsequenced frame. Its prefix is zero and it is never
// cached.
func Control(cmd protocol.Command, userID uint16, body []byte) []byte {
    return protocol.Message{Command: cmd, UserID: userID, Body: body}.Encode()
}

// RetransmitRequest encodes a request for the inclusive range r.
func RetransmitRequest(r protocol.Range) []byte {
    return Control(protocol.CmdRetransmitRequest, 0, r.Bytes())
}
