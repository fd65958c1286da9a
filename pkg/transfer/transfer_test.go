package transfer

import (
    "bytes"
    "errors"
    "os"
    "path/filepath"
    "testing"

    "github.com/amirimatin/go-relay/pkg/protocol"
)

func TestUpload_FiveChunksStoresTenBytes(t *testing.T) {
    st, err := NewStore(t.TempDir())
    if err != nil { t.Fatalf("store: %v", err) }
    meta, err := protocol.ParseFileMeta([]byte("a.txt|10"))
    if err != nil { t.Fatalf("meta: %v", err) }
    u := NewUpload(meta)
    for i := 0; i < 5; i++ {
        n, done := u.Append([]byte{byte('a' + i), byte('a' + i)})
        if n != 2 { t.Fatalf("chunk %d kept %d bytes", i, n) }
        if done != (i == 4) { t.Fatalf("chunk %d: complete=%v", i, done) }
    }
    if !u.End() { t.Fatalf("end after last chunk should report complete") }
    n, err := st.Write(u.Name, u.Chunks(), u.Total)
    if err != nil || n != 10 { t.Fatalf("write n=%d err=%v", n, err) }
    got, err := os.ReadFile(filepath.Join(st.Dir(), "a.txt"))
    if err != nil { t.Fatalf("read back: %v", err) }
    if string(got) != "aabbccddee" { t.Fatalf("stored %q", got) }
}

func TestUpload_ClampsExcess(t *testing.T) {
    u := NewUpload(protocol.FileMeta{Name: "x", Size: 3})
    if n, done := u.Append([]byte("abcdef")); n != 3 || !done {
        t.Fatalf("n=%d done=%v", n, done)
    }
    if n, _ := u.Append([]byte("zz")); n != 0 {
        t.Fatalf("accepted %d bytes past total", n)
    }
    if u.Received() != 3 { t.Fatalf("received %d", u.Received()) }
}

func TestUpload_EndBeforeLastChunk(t *testing.T) {
    u := NewUpload(protocol.FileMeta{Name: "x", Size: 4})
    u.Append([]byte("ab"))
    if u.End() { t.Fatalf("end reported complete at 2/4 bytes") }
    if !u.Ended() { t.Fatalf("end not recorded") }
    if _, done := u.Append([]byte("cd")); !done { t.Fatalf("last chunk did not complete the upload") }
    if got := bytes.Join(u.Chunks(), nil); string(got) != "abcd" { t.Fatalf("chunks=%q", got) }
    if !NewUpload(protocol.FileMeta{Name: "empty", Size: 0}).Complete() {
        t.Fatalf("zero byte upload should be complete at start")
    }
}

func TestUpload_AbortDropsChunks(t *testing.T) {
    u := NewUpload(protocol.FileMeta{Name: "x", Size: 4})
    u.Append([]byte("ab"))
    u.End()
    u.Abort()
    if !u.Aborted() || len(u.Chunks()) != 0 { t.Fatalf("aborted=%v chunks=%d", u.Aborted(), len(u.Chunks())) }
    if n, done := u.Append([]byte("cd")); n != 0 || done { t.Fatalf("append after abort kept %d done=%v", n, done) }
    if u.End() { t.Fatalf("aborted upload reported complete") }
}

func writeFile(t *testing.T, st *Store, name string, n int) []byte {
    t.Helper()
    data := bytes.Repeat([]byte("0123456789abcdef"), n/16+1)[:n]
    if err := os.WriteFile(filepath.Join(st.Dir(), name), data, 0o644); err != nil {
        t.Fatalf("write fixture: %v", err)
    }
    return data
}

func TestDownload_ChunksGatedByAcks(t *testing.T) {
    st, _ := NewStore(t.TempDir())
    data := writeFile(t, st, "big.bin", 20000)
    f, size, err := st.Open("big.bin")
    if err != nil { t.Fatalf("open: %v", err) }
    d := NewDownload("big.bin", f, size, NewChunkPool(8192, 4))
    if s := string(d.Start().Body); s != "big.bin|20000" {
        t.Fatalf("start body %q", s)
    }

    var got []byte
    var sizes []int
    ack := protocol.AckStart
    for {
        out, send, err := d.Advance(ack)
        if err != nil { t.Fatalf("advance %s: %v", ack, err) }
        if !send { t.Fatalf("nothing to send after %s", ack) }
        if out.Command == protocol.CmdFileEnd { break }
        if out.Command != protocol.CmdFileData { t.Fatalf("unexpected %v", out.Command) }
        sizes = append(sizes, len(out.Body))
        got = append(got, out.Body...)
        d.Release(out)
        ack = protocol.AckData
    }
    if len(sizes) != 3 || sizes[0] != 8192 || sizes[1] != 8192 || sizes[2] != 3616 {
        t.Fatalf("chunk sizes %v", sizes)
    }
    if !bytes.Equal(got, data) { t.Fatalf("content mismatch") }
    if d.Step() != AwaitEndAck { t.Fatalf("step %v", d.Step()) }
    if _, send, err := d.Advance(protocol.AckEnd); err != nil || send {
        t.Fatalf("end ack: send=%v err=%v", send, err)
    }
    if d.Step() != Done { t.Fatalf("step %v", d.Step()) }
}

func TestDownload_EmptyFileAndWrongAck(t *testing.T) {
    st, _ := NewStore(t.TempDir())
    writeFile(t, st, "empty", 0)
    f, size, err := st.Open("empty")
    if err != nil { t.Fatalf("open: %v", err) }
    d := NewDownload("empty", f, size, nil)
    defer d.Close()
    if _, _, err := d.Advance(protocol.AckData); !errors.Is(err, ErrUnexpectedAck) {
        t.Fatalf("want ErrUnexpectedAck, got %v", err)
    }
    out, send, err := d.Advance(protocol.AckStart)
    if err != nil || !send || out.Command != protocol.CmdFileEnd {
        t.Fatalf("empty file should end at once: %v %v %v", out.Command, send, err)
    }
}

func TestStore_NamesAndMissingFiles(t *testing.T) {
    st, _ := NewStore(t.TempDir())
    if _, _, err := st.Open("nope.txt"); !errors.Is(err, ErrNotFound) {
        t.Fatalf("want ErrNotFound, got %v", err)
    }
    for in, want := range map[string]string{"../../etc/passwd": "passwd", "a/b.txt": "b.txt", `c:\x\y.txt`: "y.txt"} {
        got, err := SafeName(in)
        if err != nil || got != want { t.Fatalf("SafeName(%q) = %q, %v", in, got, err) }
    }
    for _, bad := range []string{"", "..", "/", "."} {
        if _, err := SafeName(bad); !errors.Is(err, ErrBadName) {
            t.Fatalf("SafeName(%q) accepted", bad)
        }
    }
}
