package registry

import (
    "encoding/json"
    "errors"
    "sort"
    "sync"
    "time"

    "github.com/amirimatin/go-relay/pkg/protocol"
)

var (
    ErrFull    = errors.New("registry: no free connection id")
    ErrUnknown = errors.New("registry: unknown connection id")
    ErrNoName  = errors.New("registry: empty name")
)

// Entry is one registered connection. Name stays empty until the peer
// announces itself with Connect.
type Entry[P any] struct {
    ID    uint16
    Name  string
    Addr  string
    Since time.Time
    Peer  P
}

// Registry maps connection ids to peers. A single RWMutex covers both
// broadcast iteration and insert/erase, so a broadcast never observes a
// half-removed peer.
type Registry[P any] struct {
    mu      sync.RWMutex
    entries map[uint16]*Entry[P]
    last    uint16
}

func New[P any]() *Registry[P] { return &Registry[P]{entries: make(map[uint16]*Entry[P])} }

// Admit allocates a fresh id (never 0, never one in use), builds the peer
// with mk and registers it atomically.
func (r *Registry[P]) Admit(addr string, mk func(id uint16) P) (P, error) {
    r.mu.Lock(); defer r.mu.Unlock()
    var zero P
    if len(r.entries) >= 1<<16-1 { return zero, ErrFull }
    id := r.last
    for {
        id++
        if id == 0 { continue }
        if _, used := r.entries[id]; !used { break }
    }
    r.last = id
    p := mk(id)
    r.entries[id] = &Entry[P]{ID: id, Addr: addr, Since: time.Now(), Peer: p}
    return p, nil
}

// SetName records the display name announced by a peer and returns the
// previous one.
func (r *Registry[P]) SetName(id uint16, name string) (string, error) {
    if name == "" { return "", ErrNoName }
    r.mu.Lock(); defer r.mu.Unlock()
    e, ok := r.entries[id]
    if !ok { return "", ErrUnknown }
    prev := e.Name
    e.Name = name
    return prev, nil
}

// Remove erases id and returns the removed entry.
func (r *Registry[P]) Remove(id uint16) (Entry[P], bool) {
    r.mu.Lock(); defer r.mu.Unlock()
    e, ok := r.entries[id]
    if !ok { return Entry[P]{}, false }
    delete(r.entries, id)
    return *e, true
}

func (r *Registry[P]) Get(id uint16) (Entry[P], bool) {
    r.mu.RLock(); defer r.mu.RUnlock()
    e, ok := r.entries[id]
    if !ok { return Entry[P]{}, false }
    return *e, true
}

func (r *Registry[P]) Contains(id uint16) bool {
    r.mu.RLock(); defer r.mu.RUnlock()
    _, ok := r.entries[id]
    return ok
}

func (r *Registry[P]) Len() int {
    r.mu.RLock(); defer r.mu.RUnlock()
    return len(r.entries)
}

// Broadcast calls fn for every entry except the one with id exclude (0
// excludes nobody). fn runs under the read lock and must not call back into
// the registry's write methods.
func (r *Registry[P]) Broadcast(exclude uint16, fn func(Entry[P])) int {
    r.mu.RLock(); defer r.mu.RUnlock()
    n := 0
    for id, e := range r.entries {
        if id == exclude { continue }
        fn(*e)
        n++
    }
    return n
}

// Roster lists named peers sorted by id.
func (r *Registry[P]) Roster() []protocol.Peer {
    r.mu.RLock(); defer r.mu.RUnlock()
    out := make([]protocol.Peer, 0, len(r.entries))
    for _, e := range r.entries {
        if e.Name == "" { continue }
        out = append(out, protocol.Peer{ID: e.ID, Name: e.Name})
    }
    sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
    return out
}

// PeerInfo is the JSON view of one entry.
type PeerInfo struct {
    ID    uint16    `json:"id"`
    Name  string    `json:"name,omitempty"`
    Addr  string    `json:"addr"`
    Since time.Time `json:"since"`
}

// Peers lists every entry, named or not, sorted by id.
func (r *Registry[P]) Peers() []PeerInfo {
    r.mu.RLock(); defer r.mu.RUnlock()
    arr := make([]PeerInfo, 0, len(r.entries))
    for _, e := range r.entries {
        arr = append(arr, PeerInfo{ID: e.ID, Name: e.Name, Addr: e.Addr, Since: e.Since})
    }
    sort.Slice(arr, func(i, j int) bool { return arr[i].ID < arr[j].ID })
    return arr
}

// Snapshot encodes the registry as stable JSON for status endpoints.
func (r *Registry[P]) Snapshot() ([]byte, error) {
    return json.Marshal(struct{
        Version int        `json:"version"`
        Peers   []PeerInfo `json:"peers"`
    }{Version: 1, Peers: r.Peers()})
}
