package scenario

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"path/filepath"

	"github.com/samcharles93/tinycnn/internal/blob"
	"github.com/samcharles93/tinycnn/internal/layer"
	"github.com/samcharles93/tinycnn/internal/model"
	"github.com/samcharles93/tinycnn/internal/tensor"
)

// Generate writes a complete synthetic data directory for spec: random
// parameters under model/, a random input image, and golden outputs produced
// by the naive strategy. Weights are drawn uniformly from +-sqrt(6/fanIn) so
// activations stay bounded through deep networks.
func Generate(ctx context.Context, spec *model.Spec, dataDir string, seed int64, h model.Hooks) error {
	rng := rand.New(rand.NewSource(seed))
	modelDir := filepath.Join(dataDir, ModelDir)
	for _, p := range spec.Tensors() {
		data := make([]float32, p.Elems())
		scale := float32(0.05)
		if p.Rank() > 1 {
			fanIn := p.Elems() / p.Dim(p.Rank()-1)
			scale = float32(math.Sqrt(6 / float64(fanIn)))
		}
		for i := range data {
			data[i] = (rng.Float32()*2 - 1) * scale
		}
		if err := blob.WriteFloats(filepath.Join(modelDir, p.Source()), data); err != nil {
			return err
		}
	}

	inP := spec.InputParams()
	img := make([]float32, inP.Elems())
	for i := range img {
		img[i] = rng.Float32()
	}
	if err := blob.WriteFloats(filepath.Join(dataDir, ImageFile), img); err != nil {
		return err
	}

	m, err := spec.Build(h)
	if err != nil {
		return err
	}
	golden := spec.GoldenIndex()
	return m.WithAllocated(blob.NewDir(modelDir), func(m *model.Model) error {
		cur, err := tensor.FromSlice(inP, img)
		if err != nil {
			return err
		}
		for i := 0; i < m.Len(); i++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			if cur, err = m.RunLayer(cur, i, layer.Naive); err != nil {
				return err
			}
			switch {
			case i < golden:
				err = blob.WriteFloats(filepath.Join(dataDir, LayerOutputFile(i)), cur.Data())
			case i == m.Len()-1:
				err = blob.WriteFloats(filepath.Join(dataDir, LayerOutputFile(golden)), cur.Data())
			}
			if err != nil {
				return fmt.Errorf("write golden %d: %w", i, err)
			}
		}
		return nil
	})
}
