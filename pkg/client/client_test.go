package client

import (
    "bytes"
    "context"
    "errors"
    "net"
    "testing"
    "time"

    "github.com/amirimatin/go-relay/pkg/protocol"
    "github.com/amirimatin/go-relay/pkg/reliability"
)

// fakeRelay is the far end of a net.Pipe.
type fakeRelay struct {
    conn   net.Conn
    sender *reliability.Sender
    in     chan protocol.Message
}

func newPair(t *testing.T, opts Options) (*Client, *fakeRelay) {
    t.Helper()
    a, b := net.Pipe()
    c := newClient(a, opts)
    if c.opts.ChunkSize == 0 { c.opts.ChunkSize = 4 }
    go c.readLoop()
    r := &fakeRelay{conn: b, sender: reliability.NewSender(0), in: make(chan protocol.Message, 64)}
    go func() {
        re := protocol.NewReassembler(0)
        buf := make([]byte, 4096)
        for {
            n, err := b.Read(buf)
            frames, _ := re.Feed(buf[:n])
            for _, raw := range frames {
                f, derr := protocol.Decode(raw)
                if derr != nil { continue }
                m, _ := protocol.Parse(f)
                m.Body = append([]byte(nil), m.Body...)
                r.in <- m
            }
            if err != nil {
                close(r.in)
                return
            }
        }
    }()
    t.Cleanup(func() { c.Close(); b.Close() })
    return c, r
}

func (r *fakeRelay) send(t *testing.T, cmd protocol.Command, user uint16, body string) {
    t.Helper()
    _, f := r.sender.Seal(cmd, user, []byte(body))
    if _, err := r.conn.Write(f); err != nil { t.Fatalf("relay write: %v", err) }
}

func (r *fakeRelay) next(t *testing.T) protocol.Message {
    t.Helper()
    select {
    case m, ok := <-r.in:
        if !ok { t.Fatalf("client closed") }
        return m
    case <-time.After(2 * time.Second):
        t.Fatalf("no frame from client")
    }
    return protocol.Message{}
}

func TestClient_CallbacksAndRoster(t *testing.T) {
    chats := make(chan string, 1)
    joins := make(chan string, 1)
    c, r := newPair(t, Options{
        OnChat: func(from uint16, text string) { chats <- text },
        OnJoin: func(id uint16, notice string) { joins <- notice },
    })
    r.send(t, protocol.CmdRosterSnapshot, 0, "1|alice\n2|bob")
    r.send(t, protocol.CmdConnect, 3, "carol joined")
    r.send(t, protocol.CmdChatMessage, 1, "hi")

    if got := <-joins; got != "carol joined" { t.Fatalf("join=%q", got) }
    if got := <-chats; got != "hi" { t.Fatalf("chat=%q", got) }
    peers := c.Roster()
    if len(peers) != 2 || peers[1].Name != "bob" { t.Fatalf("roster=%+v", peers) }
}

func TestClient_AnswersRetransmitRequest(t *testing.T) {
    c, r := newPair(t, Options{})
    if err := c.Chat("one"); err != nil { t.Fatalf("chat: %v", err) }
    first := r.next(t)
    if first.Seq != 0 || string(first.Body) != "one" { t.Fatalf("first=%+v", first) }

    if _, err := r.conn.Write(reliability.RetransmitRequest(protocol.Range{From: 0, To: 0})); err != nil { t.Fatalf("write: %v", err) }
    again := r.next(t)
    if again.Seq != 0 || !bytes.Equal(again.Body, first.Body) { t.Fatalf("replay=%+v", again) }
}

func TestClient_RequestsMissingRange(t *testing.T) {
    _, r := newPair(t, Options{})
    _, f0 := r.sender.Seal(protocol.CmdChatMessage, 1, []byte("a"))
    _, _ = r.sender.Seal(protocol.CmdChatMessage, 1, []byte("b"))
    _, f2 := r.sender.Seal(protocol.CmdChatMessage, 1, []byte("c"))
    if _, err := r.conn.Write(append(f0, f2...)); err != nil { t.Fatalf("write: %v", err) }

    req := r.next(t)
    if req.Command != protocol.CmdRetransmitRequest { t.Fatalf("got %v", req.Command) }
    rng, err := protocol.ParseRange(req.Body)
    if err != nil || rng.From != 1 || rng.To != 1 { t.Fatalf("range=%v err=%v", rng, err) }
}

func TestClient_UploadWaitsForAcks(t *testing.T) {
    var seen []Progress
    c, r := newPair(t, Options{ChunkSize: 4, OnProgress: func(p Progress) { seen = append(seen, p) }})
    errc := make(chan error, 1)
    go func() { errc <- c.Upload(context.Background(), "n.txt", bytes.NewReader([]byte("0123456789")), 10) }()

    if m := r.next(t); m.Command != protocol.CmdFileStart || string(m.Body) != "n.txt|10" { t.Fatalf("start=%v %q", m.Command, m.Body) }
    r.send(t, protocol.CmdFileAck, 0, protocol.AckStart)
    for _, want := range []string{"0123", "4567", "89"} {
        m := r.next(t)
        if m.Command != protocol.CmdFileData || string(m.Body) != want { t.Fatalf("data=%q want=%q", m.Body, want) }
        r.send(t, protocol.CmdFileAck, 0, protocol.AckData)
    }
    if m := r.next(t); m.Command != protocol.CmdFileEnd { t.Fatalf("end=%v", m.Command) }
    r.send(t, protocol.CmdFileAck, 0, protocol.AckEnd)
    if err := <-errc; err != nil { t.Fatalf("upload: %v", err) }
    if len(seen) != 3 || seen[2].Done != 10 { t.Fatalf("progress=%+v", seen) }
}

func TestClient_DownloadNotFound(t *testing.T) {
    c, r := newPair(t, Options{})
    errc := make(chan error, 1)
    go func() {
        _, err := c.Download(context.Background(), "gone.txt", &bytes.Buffer{})
        errc <- err
    }()
    if m := r.next(t); m.Command != protocol.CmdDownloadRequest { t.Fatalf("got %v", m.Command) }
    r.send(t, protocol.CmdFileAck, 0, string(protocol.FileNotFound("gone.txt")))
    if err := <-errc; !errors.Is(err, ErrNotFound) { t.Fatalf("err=%v", err) }
}

func TestClient_DownloadAcksEachChunk(t *testing.T) {
    c, r := newPair(t, Options{})
    var out bytes.Buffer
    errc := make(chan error, 1)
    go func() {
        _, err := c.Download(context.Background(), "d.bin", &out)
        errc <- err
    }()
    r.next(t)
    r.send(t, protocol.CmdFileStart, 0, "d.bin|5")
    if m := r.next(t); string(m.Body) != protocol.AckStart { t.Fatalf("ack=%q", m.Body) }
    r.send(t, protocol.CmdFileData, 0, "abc")
    if m := r.next(t); string(m.Body) != protocol.AckData { t.Fatalf("ack=%q", m.Body) }
    r.send(t, protocol.CmdFileData, 0, "de")
    r.next(t)
    r.send(t, protocol.CmdFileEnd, 0, "")
    if m := r.next(t); string(m.Body) != protocol.AckEnd { t.Fatalf("ack=%q", m.Body) }
    if err := <-errc; err != nil { t.Fatalf("download: %v", err) }
    if out.String() != "abcde" { t.Fatalf("got %q", out.String()) }
}

func TestClient_DoneAfterClose(t *testing.T) {
    c, _ := newPair(t, Options{})
    c.Close()
    select {
    case <-c.Done():
    case <-time.After(time.Second):
        t.Fatalf("done not closed")
    }
    if err := c.Chat("late"); !errors.Is(err, ErrClosed) { t.Fatalf("err=%v", err) }
}
