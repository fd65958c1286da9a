package registry

import (
    "encoding/json"
    "errors"
    "testing"
)

type fakePeer struct{ id uint16 }

func admit(t *testing.T, r *Registry[*fakePeer], addr string) *fakePeer {
    t.Helper()
    p, err := r.Admit(addr, func(id uint16) *fakePeer { return &fakePeer{id: id} })
    if err != nil { t.Fatalf("admit %s: %v", addr, err) }
    return p
}

func TestRegistry_AdmitNameRemove(t *testing.T) {
    r := New[*fakePeer]()
    a := admit(t, r, "127.0.0.1:1001")
    b := admit(t, r, "127.0.0.1:1002")
    if a.id == 0 || b.id == 0 || a.id == b.id {
        t.Fatalf("bad ids %d %d", a.id, b.id)
    }
    if _, err := r.SetName(b.id, "bob"); err != nil { t.Fatalf("set name: %v", err) }

    roster := r.Roster()
    if len(roster) != 1 || roster[0].Name != "bob" {
        t.Fatalf("roster should only list named peers: %+v", roster)
    }
    e, ok := r.Remove(b.id)
    if !ok || e.Name != "bob" || e.Peer != b {
        t.Fatalf("remove returned %+v %v", e, ok)
    }
    if r.Contains(b.id) || r.Len() != 1 {
        t.Fatalf("entry still present")
    }
    if _, err := r.SetName(b.id, "bob"); !errors.Is(err, ErrUnknown) {
        t.Fatalf("want ErrUnknown, got %v", err)
    }
    if _, err := r.SetName(a.id, ""); !errors.Is(err, ErrNoName) {
        t.Fatalf("want ErrNoName, got %v", err)
    }
}

func TestRegistry_IDsSkipZeroAndInUse(t *testing.T) {
    r := New[*fakePeer]()
    r.last = 65534
    p1 := admit(t, r, "a")
    p2 := admit(t, r, "b")
    if p1.id != 65535 || p2.id != 1 {
        t.Fatalf("ids %d %d, want 65535 1", p1.id, p2.id)
    }
    r.last = 0
    if p3 := admit(t, r, "c"); p3.id != 2 {
        t.Fatalf("id %d, want 2 (1 in use)", p3.id)
    }
}

func TestRegistry_BroadcastExcludesSender(t *testing.T) {
    r := New[*fakePeer]()
    a := admit(t, r, "a")
    admit(t, r, "b")
    admit(t, r, "c")
    var seen []uint16
    n := r.Broadcast(a.id, func(e Entry[*fakePeer]) { seen = append(seen, e.ID) })
    if n != 2 || len(seen) != 2 {
        t.Fatalf("broadcast reached %d peers, want 2", n)
    }
    for _, id := range seen {
        if id == a.id { t.Fatalf("sender included in broadcast") }
    }
}

func TestRegistry_Snapshot(t *testing.T) {
    r := New[*fakePeer]()
    a := admit(t, r, "127.0.0.1:1")
    _, _ = r.SetName(a.id, "alice")
    admit(t, r, "127.0.0.1:2")
    b, err := r.Snapshot()
    if err != nil { t.Fatalf("snapshot: %v", err) }
    var out struct {
        Version int        `json:"version"`
        Peers   []PeerInfo `json:"peers"`
    }
    if err := json.Unmarshal(b, &out); err != nil { t.Fatalf("unmarshal: %v", err) }
    if out.Version != 1 || len(out.Peers) != 2 || out.Peers[0].Name != "alice" {
        t.Fatalf("unexpected snapshot %s", b)
    }
}
