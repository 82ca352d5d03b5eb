package blob

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/samcharles93/tinycnn/internal/tensor"
)

// WriteFloats writes data as a raw native-endian float32 blob. The file is
// written to a temporary sibling and renamed into place.
func WriteFloats(path string, data []float32) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	cleanup := func(err error) error {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if _, err := tmp.Write(tensor.FloatBytes(data)); err != nil {
		return cleanup(err)
	}
	if err := tmp.Close(); err != nil {
		return cleanup(err)
	}
	return os.Rename(tmp.Name(), path)
}

// ReadFloats reads a whole raw float32 blob.
func ReadFloats(path string) ([]float32, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(raw)%tensor.ElemSize != 0 {
		return nil, fmt.Errorf("%w: %s has %d bytes, not a multiple of %d", ErrSizeMismatch, path, len(raw), tensor.ElemSize)
	}
	out := make([]float32, len(raw)/tensor.ElemSize)
	copy(tensor.FloatBytes(out), raw)
	return out, nil
}
