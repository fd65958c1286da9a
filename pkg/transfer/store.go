package transfer

import (
    "errors"
    "fmt"
    "io/fs"
    "os"
    "path/filepath"
    "strings"
)

// DefaultDir is where uploads land and downloads are served from.
const DefaultDir = "received_files"

var (
    ErrBadName  = errors.New("transfer: invalid file name")
    ErrNotFound = errors.New("transfer: file not found")
)

// Store is the directory shared by uploads and downloads.
type Store struct {
    dir string
}

// NewStore creates dir if needed.
func NewStore(dir string) (*Store, error) {
    if dir == "" { dir = DefaultDir }
    if err := os.MkdirAll(dir, 0o755); err != nil {
        return nil, fmt.Errorf("transfer: create store: %w", err)
    }
    return &Store{dir: dir}, nil
}

func (s *Store) Dir() string { return s.dir }

// SafeName reduces a peer supplied name to a single path element.
func SafeName(name string) (string, error) {
    name = strings.ReplaceAll(name, "\\", "/")
    base := filepath.Base(filepath.Clean("/" + name))
    if base == "/" || base == "." || base == ".." || base == "" {
        return "", fmt.Errorf("%w: %q", ErrBadName, name)
    }
    return base, nil
}

func (s *Store) path(name string) (string, error) {
    base, err := SafeName(name)
    if err != nil { return "", err }
    return filepath.Join(s.dir, base), nil
}

// Open opens a stored regular file for reading and returns its size.
func (s *Store) Open(name string) (*os.File, int64, error) {
    p, err := s.path(name)
    if err != nil { return nil, 0, err }
    st, err := os.Stat(p)
    if errors.Is(err, fs.ErrNotExist) || (err == nil && !st.Mode().IsRegular()) {
        return nil, 0, fmt.Errorf("%w: %s", ErrNotFound, name)
    }
    if err != nil { return nil, 0, err }
    f, err := os.Open(p)
    if err != nil { return nil, 0, err }
    return f, st.Size(), nil
}

// Write stores chunks in order, truncated to limit bytes, replacing any file
// with the same name only once the content is complete on disk.
func (s *Store) Write(name string, chunks [][]byte, limit int64) (int64, error) {
    p, err := s.path(name)
    if err != nil { return 0, err }
    tmp, err := os.CreateTemp(s.dir, ".upload-*")
    if err != nil { return 0, err }
    defer os.Remove(tmp.Name())

    var written int64
    for _, c := range chunks {
        if rem := limit - written; int64(len(c)) > rem { c = c[:rem] }
        if len(c) == 0 { break }
        n, err := tmp.Write(c)
        written += int64(n)
        if err != nil {
            tmp.Close()
            return written, err
        }
    }
    if err := tmp.Close(); err != nil { return written, err }
    if err := os.Rename(tmp.Name(), p); err != nil { return written, err }
    return written, nil
}

// Size reports the size of a stored file.
func (s *Store) Size(name string) (int64, error) {
    p, err := s.path(name)
    if err != nil { return 0, err }
    st, err := os.Stat(p)
    if errors.Is(err, fs.ErrNotExist) { return 0, fmt.Errorf("%w: %s", ErrNotFound, name) }
    if err != nil { return 0, err }
    return st.Size(), nil
}
