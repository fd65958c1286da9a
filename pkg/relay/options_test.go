package relay

import (
    "strings"
    "testing"
    "time"

    "github.com/amirimatin/go-relay/pkg/protocol"
    "github.com/amirimatin/go-relay/pkg/reliability"
    "github.com/amirimatin/go-relay/pkg/transfer"
    "github.com/amirimatin/go-relay/pkg/transport"
)

func TestOptions_Validate(t *testing.T) {
    msg := &fakeListener{name: "msg"}
    cases := []struct {
        name string
        opts Options
        want string
    }{
        {"no listeners", Options{}, "no listeners"},
        {"nil listener", Options{Listeners: []transport.Listener{nil}}, "nil listener"},
        {"duplicate", Options{Listeners: []transport.Listener{msg, &fakeListener{name: "msg"}}}, "duplicate"},
        {"negative pool", Options{Listeners: []transport.Listener{msg}, FileWorkers: -1}, "negative pool"},
        {"negative window", Options{Listeners: []transport.Listener{msg}, SkewWindow: -1}, "negative tuning"},
        {"chunk too big", Options{Listeners: []transport.Listener{msg}, ChunkSize: 4096, MaxPayload: 1024}, "exceeds max payload"},
    }
    for _, tc := range cases {
        err := tc.opts.Validate()
        if err == nil || !strings.Contains(err.Error(), tc.want) {
            t.Fatalf("%s: err=%v want containing %q", tc.name, err, tc.want)
        }
    }
    if err := (Options{Listeners: []transport.Listener{msg}}).Validate(); err != nil {
        t.Fatalf("minimal options: %v", err)
    }
}

func TestOptions_Defaults(t *testing.T) {
    o := Options{}.withDefaults()
    if o.Dir != transfer.DefaultDir || o.ChunkSize != transfer.DefaultChunkSize {
        t.Fatalf("transfer defaults: dir=%q chunk=%d", o.Dir, o.ChunkSize)
    }
    if o.ReplayCapacity != reliability.DefaultCacheCapacity || o.SkewWindow != reliability.DefaultSkewWindow {
        t.Fatalf("reliability defaults: cache=%d window=%d", o.ReplayCapacity, o.SkewWindow)
    }
    if o.TransferTimeout != 2*time.Minute || o.MaxBacklog != DefaultMaxBacklog {
        t.Fatalf("limits: timeout=%v backlog=%d", o.TransferTimeout, o.MaxBacklog)
    }
    if o.MaxPayload != protocol.MaxPayload || o.MaxPayload != 16<<20 {
        t.Fatalf("max payload=%d want %d", o.MaxPayload, protocol.MaxPayload)
    }
}
