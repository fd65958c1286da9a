package client

import (
    "context"
    "fmt"
    "io"
    "os"
    "path/filepath"

    "github.com/amirimatin/go-relay/pkg/protocol"
)

func (c *Client) expectAck(ctx context.Context, want string) error {
    m, err := c.await(ctx)
    if err != nil { return err }
    if m.Command != protocol.CmdFileAck || string(m.Body) != want {
        return fmt.Errorf("%w: %v %q while waiting for %s", ErrProtocol, m.Command, m.Body, want)
    }
    return nil
}

// Upload sends size bytes from r to the relay, stored as name. Each chunk
// waits for its DATA ack.
func (c *Client) Upload(ctx context.Context, name string, r io.Reader, size int64) error {
    c.xferMu.Lock()
    defer c.xferMu.Unlock()
    c.discard()

    if err := c.send(protocol.CmdFileStart, protocol.FileMeta{Name: name, Size: size}.Bytes()); err != nil { return err }
    if err := c.expectAck(ctx, protocol.AckStart); err != nil { return err }

    buf := make([]byte, c.opts.ChunkSize)
    var sent int64
    for sent < size {
        n := int64(len(buf))
        if rem := size - sent; rem < n { n = rem }
        read, err := io.ReadFull(r, buf[:n])
        if err != nil { return fmt.Errorf("client: read %s at %d: %w", name, sent, err) }
        if err := c.send(protocol.CmdFileData, buf[:read]); err != nil { return err }
        if err := c.expectAck(ctx, protocol.AckData); err != nil { return err }
        sent += int64(read)
        c.progress("upload", name, sent, size)
    }
    if err := c.send(protocol.CmdFileEnd, nil); err != nil { return err }
    return c.expectAck(ctx, protocol.AckEnd)
}

// UploadFile uploads a local file under its base name.
func (c *Client) UploadFile(ctx context.Context, path string) error {
    f, err := os.Open(path)
    if err != nil { return err }
    defer f.Close()
    st, err := f.Stat()
    if err != nil { return err }
    return c.Upload(ctx, filepath.Base(path), f, st.Size())
}

// Download fetches name from the relay into w and returns the byte count.
func (c *Client) Download(ctx context.Context, name string, w io.Writer) (int64, error) {
    c.xferMu.Lock()
    defer c.xferMu.Unlock()
    c.discard()

    if err := c.send(protocol.CmdDownloadRequest, []byte(name)); err != nil { return 0, err }
    m, err := c.await(ctx)
    if err != nil { return 0, err }
    if m.Command == protocol.CmdFileAck {
        if missing, ok := protocol.ParseFileNotFound(m.Body); ok {
            return 0, fmt.Errorf("%w: %s", ErrNotFound, missing)
        }
    }
    if m.Command != protocol.CmdFileStart {
        return 0, fmt.Errorf("%w: %v while waiting for file start", ErrProtocol, m.Command)
    }
    meta, err := protocol.ParseFileMeta(m.Body)
    if err != nil { return 0, err }
    if err := c.send(protocol.CmdFileAck, []byte(protocol.AckStart)); err != nil { return 0, err }

    var got int64
    for {
        m, err := c.await(ctx)
        if err != nil { return got, err }
        switch m.Command {
        case protocol.CmdFileData:
            if _, err := w.Write(m.Body); err != nil { return got, err }
            got += int64(len(m.Body))
            c.progress("download", meta.Name, got, meta.Size)
            if err := c.send(protocol.CmdFileAck, []byte(protocol.AckData)); err != nil { return got, err }
        case protocol.CmdFileEnd:
            if err := c.send(protocol.CmdFileAck, []byte(protocol.AckEnd)); err != nil { return got, err }
            if got != meta.Size { return got, fmt.Errorf("client: %s: got %d of %d bytes", meta.Name, got, meta.Size) }
            return got, nil
        default:
            return got, fmt.Errorf("%w: %v during download", ErrProtocol, m.Command)
        }
    }
}

// DownloadFile saves name into dir.
func (c *Client) DownloadFile(ctx context.Context, name, dir string) (string, error) {
    path := filepath.Join(dir, filepath.Base(name))
    f, err := os.Create(path)
    if err != nil { return "", err }
    _, err = c.Download(ctx, name, f)
    if cerr := f.Close(); err == nil { err = cerr }
    if err != nil {
        _ = os.Remove(path)
        return "", err
    }
    return path, nil
}
