package reliability

// DefaultCacheCapacity is the number of sent frames kept for retransmission.
const DefaultCacheCapacity = 1000

// maxCacheCapacity keeps every cached sequence unique across wraparound.
const maxCacheCapacity = 1 << 15

type cacheEntry struct {
    seq   uint16
    frame []byte
}

// ReplayCache holds the most recent encoded frames keyed by sequence. When
// full, the oldest entry is evicted first. It is not safe for concurrent use.
type ReplayCache struct {
    ring []cacheEntry
    head int
    n    int
    idx  map[uint16]int
}

func NewReplayCache(capacity int) *ReplayCache {
    if capacity <= 0 { capacity = DefaultCacheCapacity }
    if capacity > maxCacheCapacity { capacity = maxCacheCapacity }
    return &ReplayCache{ring: make([]cacheEntry, capacity), idx: make(map[uint16]int, capacity)}
}

// Put stores frame under seq, evicting the oldest entry if needed.
func (c *ReplayCache) Put(seq uint16, frame []byte) {
    if pos, ok := c.idx[seq]; ok {
        c.ring[pos].frame = frame
        return
    }
    if c.n == len(c.ring) {
        old := c.ring[c.head]
        delete(c.idx, old.seq)
        c.ring[c.head] = cacheEntry{}
        c.head = (c.head + 1) % len(c.ring)
        c.n--
    }
    pos := (c.head + c.n) % len(c.ring)
    c.ring[pos] = cacheEntry{seq: seq, frame: frame}
    c.idx[seq] = pos
    c.n++
}

func (c *ReplayCache) Get(seq uint16) ([]byte, bool) {
    pos, ok := c.idx[seq]
    if !ok { return nil, false }
    return c.ring[pos].frame, true
}

func (c *ReplayCache) Len() int { return c.n }

func (c *ReplayCache) Cap() int { return len(c.ring) }
