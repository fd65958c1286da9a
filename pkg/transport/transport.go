package transport

import "context"

// Peer is the write side of one accepted socket. Write must not block on the
// network and must preserve call order on the wire.
type Peer interface {
    Write(frame []byte) error
    Close() error
    RemoteAddr() string
}

// Session receives the traffic of one connection. Ingest is called from the
// listener's event loop and must return quickly.
type Session interface {
    Ingest(chunk []byte)
    Closed(err error)
}

// ConnHandler accepts connections on behalf of the relay.
type ConnHandler interface {
    Open(listener string, peer Peer) (Session, error)
}

// Listener is a stream socket that feeds a ConnHandler. Serve returns once the
// socket is bound; bind failures are returned rather than logged.
type Listener interface {
    Name() string
    Addr() string
    Serve(ctx context.Context, h ConnHandler) error
    Stop(ctx context.Context) error
}
