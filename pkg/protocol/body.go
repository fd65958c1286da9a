package protocol

import (
    "errors"
    "fmt"
    "sort"
    "strconv"
    "strings"
)

var ErrMalformedBody = errors.New("protocol: malformed body")

// Acknowledgement bodies sent with CmdFileAck.
const (
    AckStart = "START"
    AckData  = "DATA"
    AckEnd   = "END"

    fileNotFoundPrefix = "FILE_NOT_FOUND|"
)

// FileNotFound builds the error acknowledgement sent when a requested file
// does not exist.
func FileNotFound(name string) []byte { return []byte(fileNotFoundPrefix + name) }

// ParseFileNotFound reports whether body is a missing-file error and returns
// the file name it names.
func ParseFileNotFound(body []byte) (string, bool) {
    s := string(body)
    if !strings.HasPrefix(s, fileNotFoundPrefix) { return "", false }
    return s[len(fileNotFoundPrefix):], true
}

// FileMeta is the "name|size" body of FileStart and FileAnnounce.
type FileMeta struct {
    Name string
    Size int64
}

func (m FileMeta) Bytes() []byte { return []byte(m.Name + "|" + strconv.FormatInt(m.Size, 10)) }

// ParseFileMeta splits on the last separator so only the size is numeric.
func ParseFileMeta(body []byte) (FileMeta, error) {
    s := string(body)
    i := strings.LastIndexByte(s, '|')
    if i <= 0 {
        return FileMeta{}, fmt.Errorf("%w: file meta %q", ErrMalformedBody, s)
    }
    size, err := strconv.ParseInt(s[i+1:], 10, 64)
    if err != nil || size < 0 {
        return FileMeta{}, fmt.Errorf("%w: file size %q", ErrMalformedBody, s[i+1:])
    }
    return FileMeta{Name: s[:i], Size: size}, nil
}

// Range is an inclusive span of sequence numbers. From may be numerically
// greater than To when the span wraps past 65535.
type Range struct {
    From uint16
    To   uint16
}

// Len is the number of sequences covered.
func (r Range) Len() int { return int(r.To-r.From) + 1 }

// Contains reports whether seq falls in r, honouring wraparound.
func (r Range) Contains(seq uint16) bool { return seq-r.From <= r.To-r.From }

func (r Range) String() string { return fmt.Sprintf("[%d,%d]", r.From, r.To) }

// Bytes renders the RetransmitRequest body "from,to".
func (r Range) Bytes() []byte {
    return []byte(strconv.Itoa(int(r.From)) + "," + strconv.Itoa(int(r.To)))
}

func ParseRange(body []byte) (Range, error) {
    from, to, ok := strings.Cut(string(body), ",")
    if !ok {
        return Range{}, fmt.Errorf("%w: range %q", ErrMalformedBody, body)
    }
    f, err := strconv.ParseUint(strings.TrimSpace(from), 10, 16)
    if err != nil { return Range{}, fmt.Errorf("%w: range start: %v", ErrMalformedBody, err) }
    t, err := strconv.ParseUint(strings.TrimSpace(to), 10, 16)
    if err != nil { return Range{}, fmt.Errorf("%w: range end: %v", ErrMalformedBody, err) }
    return Range{From: uint16(f), To: uint16(t)}, nil
}

// Peer is one roster line.
type Peer struct {
    ID   uint16
    Name string
}

// FormatRoster renders "id|name" lines sorted by id.
func FormatRoster(peers []Peer) []byte {
    sorted := append([]Peer(nil), peers...)
    sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
    var b strings.Builder
    for i, p := range sorted {
        if i > 0 { b.WriteByte('\n') }
        b.WriteString(strconv.Itoa(int(p.ID)))
        b.WriteByte('|')
        b.WriteString(p.Name)
    }
    return []byte(b.String())
}

func ParseRoster(body []byte) ([]Peer, error) {
    if len(body) == 0 { return nil, nil }
    lines := strings.Split(string(body), "\n")
    out := make([]Peer, 0, len(lines))
    for _, ln := range lines {
        if ln == "" { continue }
        id, name, ok := strings.Cut(ln, "|")
        if !ok { return nil, fmt.Errorf("%w: roster line %q", ErrMalformedBody, ln) }
        n, err := strconv.ParseUint(id, 10, 16)
        if err != nil { return nil, fmt.Errorf("%w: roster id %q", ErrMalformedBody, id) }
        out = append(out, Peer{ID: uint16(n), Name: name})
    }
    return out, nil
}

// JoinNotice and LeaveNotice are the bodies broadcast when a named peer
// arrives or goes away.
func JoinNotice(name string) []byte  { return []byte(name + " joined") }
func LeaveNotice(name string) []byte { return []byte(name + " left") }
