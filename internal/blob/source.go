// Package blob provides the external byte providers tensors are loaded from:
// flat, header-less files of native-endian float32 values.
package blob

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/samcharles93/tinycnn/internal/tensor"
)

var (
	ErrNotFound     = errors.New("blob: tensor not found")
	ErrSizeMismatch = errors.New("blob: size mismatch")
)

// Dir reads tensors from files under a root directory. Relative names are
// resolved against the root; absolute names are used as-is.
type Dir struct {
	Root string
	// NoMmap forces ReadAt-based loading even where mmap is available.
	NoMmap bool
}

// NewDir returns a Dir rooted at root.
func NewDir(root string) *Dir {
	return &Dir{Root: root}
}

// Path resolves name to a file path.
func (d *Dir) Path(name string) string {
	if filepath.IsAbs(name) || d.Root == "" {
		return filepath.Clean(name)
	}
	return filepath.Join(d.Root, name)
}

// ReadTensor fills dst with the contents of the named file. The file length
// must equal len(dst) exactly.
func (d *Dir) ReadTensor(name string, dst []byte) error {
	path := d.Path(name)
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return tensor.IOError("read", name, fmt.Errorf("%w: %s", ErrNotFound, path))
		}
		return tensor.IOError("read", name, err)
	}
	defer func() { _ = f.Close() }()

	stat, err := f.Stat()
	if err != nil {
		return tensor.IOError("read", name, err)
	}
	if stat.Size() != int64(len(dst)) {
		return tensor.IOError("read", name, fmt.Errorf("%w: %s has %d bytes, want %d", ErrSizeMismatch, path, stat.Size(), len(dst)))
	}
	if len(dst) == 0 {
		return nil
	}

	// Prefer mmap where available; fall back to positioned reads.
	if !d.NoMmap {
		if data, unmap, err := mapFile(f, len(dst)); err == nil {
			copy(dst, data)
			if err := unmap(); err != nil {
				return tensor.IOError("read", name, err)
			}
			return nil
		}
	}
	if err := readFullAt(f, dst); err != nil {
		return tensor.IOError("read", name, err)
	}
	return nil
}

func readFullAt(r io.ReaderAt, dst []byte) error {
	var off int64
	for off < int64(len(dst)) {
		n, err := r.ReadAt(dst[off:], off)
		off += int64(n)
		if err == nil {
			continue
		}
		if err == io.EOF && off == int64(len(dst)) {
			break
		}
		if err == io.EOF {
			return io.ErrUnexpectedEOF
		}
		return err
	}
	return nil
}

// Memory is an in-process Source keyed by tensor name. It is safe for
// concurrent use.
type Memory struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemory returns an empty Memory source.
func NewMemory() *Memory {
	return &Memory{blobs: make(map[string][]byte)}
}

// Put stores a copy of data under name.
func (m *Memory) Put(name string, data []float32) {
	m.PutBytes(name, tensor.FloatBytes(data))
}

// PutBytes stores a copy of raw under name.
func (m *Memory) PutBytes(name string, raw []byte) {
	m.mu.Lock()
	m.blobs[name] = append([]byte(nil), raw...)
	m.mu.Unlock()
}

// ReadTensor implements tensor.Source.
func (m *Memory) ReadTensor(name string, dst []byte) error {
	m.mu.RLock()
	raw, ok := m.blobs[name]
	m.mu.RUnlock()
	if !ok {
		return tensor.IOError("read", name, ErrNotFound)
	}
	if len(raw) != len(dst) {
		return tensor.IOError("read", name, fmt.Errorf("%w: have %d bytes, want %d", ErrSizeMismatch, len(raw), len(dst)))
	}
	copy(dst, raw)
	return nil
}
