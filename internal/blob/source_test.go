package blob

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/samcharles93/tinycnn/internal/tensor"
)

func TestDirRoundTrip(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	want := []float32{0, 1.5, -3, 1e-7, 42}
	if err := WriteFloats(filepath.Join(root, "model", "w.bin"), want); err != nil {
		t.Fatalf("write: %v", err)
	}

	for _, noMmap := range []bool{false, true} {
		d := &Dir{Root: root, NoMmap: noMmap}
		buf := tensor.NewBuffer(tensor.NewParams(tensor.Shape{5}, "model/w.bin"))
		if err := buf.Allocate(); err != nil {
			t.Fatalf("allocate: %v", err)
		}
		if err := buf.Load(d); err != nil {
			t.Fatalf("load (noMmap=%v): %v", noMmap, err)
		}
		if diff := cmp.Diff(want, buf.Data()); diff != "" {
			t.Fatalf("loaded data mismatch (noMmap=%v) (-want +got):\n%s", noMmap, diff)
		}
	}
}

func TestDirErrors(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	if err := WriteFloats(filepath.Join(root, "short.bin"), []float32{1, 2}); err != nil {
		t.Fatalf("write: %v", err)
	}
	d := NewDir(root)

	tests := []struct {
		name    string
		target  error
		tensor  string
		dstSize int
	}{
		{name: "missing", target: ErrNotFound, tensor: "nope.bin", dstSize: 8},
		{name: "short", target: ErrSizeMismatch, tensor: "short.bin", dstSize: 12},
		{name: "long", target: ErrSizeMismatch, tensor: "short.bin", dstSize: 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := d.ReadTensor(tt.tensor, make([]byte, tt.dstSize))
			if !errors.Is(err, tensor.ErrIO) {
				t.Fatalf("expected ErrIO, got %v", err)
			}
			if !errors.Is(err, tt.target) {
				t.Fatalf("expected %v, got %v", tt.target, err)
			}
		})
	}
}

func TestDirAbsolutePath(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "abs.bin")
	if err := WriteFloats(path, []float32{3}); err != nil {
		t.Fatalf("write: %v", err)
	}
	dst := make([]byte, 4)
	if err := NewDir("/does/not/matter").ReadTensor(path, dst); err != nil {
		t.Fatalf("read: %v", err)
	}
}

func TestMemory(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	src := []float32{1, 2, 3}
	m.Put("x", src)
	src[0] = 9

	dst := make([]float32, 3)
	if err := m.ReadTensor("x", tensor.FloatBytes(dst)); err != nil {
		t.Fatalf("read: %v", err)
	}
	if diff := cmp.Diff([]float32{1, 2, 3}, dst); diff != "" {
		t.Fatalf("memory source aliases caller data (-want +got):\n%s", diff)
	}
	if err := m.ReadTensor("x", make([]byte, 4)); !errors.Is(err, ErrSizeMismatch) {
		t.Fatalf("expected ErrSizeMismatch, got %v", err)
	}
	if err := m.ReadTensor("y", make([]byte, 4)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestReadFloatsRejectsPartialElement(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "odd.bin")
	if err := os.WriteFile(path, []byte{1, 2, 3}, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := ReadFloats(path); !errors.Is(err, ErrSizeMismatch) {
		t.Fatalf("expected ErrSizeMismatch, got %v", err)
	}
}
