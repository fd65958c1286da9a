package protocol

import (
    "encoding/binary"
    "errors"
    "fmt"
)

const (
    // Magic marks the start of every frame.
    Magic uint16 = 0xFEFF
    // HeaderSize covers magic, length, command and user id.
    HeaderSize = 10
    // TrailerSize is the checksum.
    TrailerSize = 2
    // Overhead is the number of bytes a frame adds around its payload.
    Overhead = HeaderSize + TrailerSize
    // SeqSize is the sequence prefix carried at the front of every payload.
    SeqSize = 2
    // MaxPayload bounds the payload a single frame may declare.
    MaxPayload = 16 << 20

    // lengthBias is added to the payload size in the length field; it
    // accounts for the command and user id fields.
    lengthBias = 4
)

var (
    ErrTruncatedHeader  = errors.New("protocol: truncated header")
    ErrBadMagic         = errors.New("protocol: bad magic")
    ErrLengthMismatch   = errors.New("protocol: length mismatch")
    ErrChecksumMismatch = errors.New("protocol: checksum mismatch")
    ErrNoSequence       = errors.New("protocol: payload shorter than sequence prefix")
)

// Frame is one decoded wire unit. Payload includes the sequence prefix.
type Frame struct {
    Command Command
    UserID  uint16
    Payload []byte
}

// Checksum returns the low 16 bits of the byte sum of p.
func Checksum(p []byte) uint16 {
    var sum uint32
    for _, b := range p {
        sum += uint32(b)
    }
    return uint16(sum)
}

// Size returns the encoded size of a frame carrying n payload bytes.
func Size(n int) int { return Overhead + n }

// Encode serializes a frame field by field in big-endian order.
func Encode(cmd Command, userID uint16, payload []byte) []byte {
    out := make([]byte, Size(len(payload)))
    binary.BigEndian.PutUint16(out[0:2], Magic)
    binary.BigEndian.PutUint32(out[2:6], uint32(len(payload)+lengthBias))
    binary.BigEndian.PutUint16(out[6:8], uint16(cmd))
    binary.BigEndian.PutUint16(out[8:10], userID)
    copy(out[HeaderSize:], payload)
    binary.BigEndian.PutUint16(out[HeaderSize+len(payload):], Checksum(payload))
    return out
}

// Decode parses exactly one frame. The checksum is verified before the frame
// is returned; the returned payload aliases b.
func Decode(b []byte) (Frame, error) {
    if len(b) < Overhead {
        return Frame{}, ErrTruncatedHeader
    }
    if binary.BigEndian.Uint16(b[0:2]) != Magic {
        return Frame{}, ErrBadMagic
    }
    length := binary.BigEndian.Uint32(b[2:6])
    if length < lengthBias || int64(length)-lengthBias != int64(len(b)-Overhead) {
        return Frame{}, fmt.Errorf("%w: declared %d, have %d", ErrLengthMismatch, length, len(b)-Overhead+lengthBias)
    }
    payload := b[HeaderSize : len(b)-TrailerSize]
    want := binary.BigEndian.Uint16(b[len(b)-TrailerSize:])
    if got := Checksum(payload); got != want {
        return Frame{}, fmt.Errorf("%w: got %#04x want %#04x", ErrChecksumMismatch, got, want)
    }
    return Frame{
        Command: Command(binary.BigEndian.Uint16(b[6:8])),
        UserID:  binary.BigEndian.Uint16(b[8:10]),
        Payload: payload,
    }, nil
}

// Message is a frame with its sequence prefix split from the command body.
type Message struct {
    Command Command
    UserID  uint16
    Seq     uint16
    Body    []byte
}

// Encode serializes m with its sequence prefix.
func (m Message) Encode() []byte {
    return Encode(m.Command, m.UserID, WithSeq(m.Seq, m.Body))
}

// Parse splits the sequence prefix off f's payload.
func Parse(f Frame) (Message, error) {
    seq, body, err := SplitSeq(f.Payload)
    if err != nil { return Message{}, err }
    return Message{Command: f.Command, UserID: f.UserID, Seq: seq, Body: body}, nil
}

// WithSeq returns body prefixed by the 2-byte big-endian sequence.
func WithSeq(seq uint16, body []byte) []byte {
    out := make([]byte, SeqSize+len(body))
    binary.BigEndian.PutUint16(out, seq)
    copy(out[SeqSize:], body)
    return out
}

// SplitSeq returns the sequence prefix and the remaining body.
func SplitSeq(payload []byte) (uint16, []byte, error) {
    if len(payload) < SeqSize {
        return 0, nil, ErrNoSequence
    }
    return binary.BigEndian.Uint16(payload), payload[SeqSize:], nil
}
