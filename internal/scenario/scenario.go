// Package scenario checks a model against golden reference tensors stored in
// a data directory laid out as
//
//	<data>/model/<parameter blobs>
//	<data>/image_0.bin
//	<data>/image_0_data/layer_<N>_output.bin
package scenario

import (
	"context"
	"fmt"
	"math"
	"path"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/samcharles93/tinycnn/internal/blob"
	"github.com/samcharles93/tinycnn/internal/layer"
	"github.com/samcharles93/tinycnn/internal/logger"
	"github.com/samcharles93/tinycnn/internal/model"
	"github.com/samcharles93/tinycnn/internal/tensor"
)

// DefaultEpsilon is the tolerance used when Config.Epsilon is zero.
const DefaultEpsilon = 1e-3

const (
	ModelDir  = "model"
	ImageFile = "image_0.bin"
	GoldenDir = "image_0_data"
)

// LayerOutputFile is the data-relative name of layer n's golden output.
func LayerOutputFile(n int) string {
	return path.Join(GoldenDir, fmt.Sprintf("layer_%d_output.bin", n))
}

// Config controls a Runner.
type Config struct {
	Epsilon float32
	// Golden is the golden file index holding the final output.
	Golden int
	Logger logger.Logger
}

// Result is the outcome of one comparison.
type Result struct {
	Name     string         `json:"name"`
	Strategy layer.Strategy `json:"strategy"`
	MaxDiff  float32        `json:"max_diff"`
	Epsilon  float32        `json:"epsilon"`
	Within   bool           `json:"within"`
	Pass     bool           `json:"pass"`
	Elapsed  time.Duration  `json:"elapsed"`
}

func (r Result) String() string {
	status := "PASS"
	if !r.Pass {
		status = "FAIL"
	}
	return fmt.Sprintf("%s %s [%s] max diff %g (eps %g) in %s", status, r.Name, r.Strategy, r.MaxDiff, r.Epsilon, r.Elapsed)
}

// Runner executes scenarios against an allocated model.
type Runner struct {
	m    *model.Model
	data tensor.Source
	cfg  Config
	log  logger.Logger
}

// New returns a Runner reading golden data from the data directory root.
// m must already be allocated.
func New(m *model.Model, data tensor.Source, cfg Config) *Runner {
	if cfg.Epsilon == 0 {
		cfg.Epsilon = DefaultEpsilon
	}
	if cfg.Golden <= 0 {
		cfg.Golden = m.Len() - 1
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Discard()
	}
	return &Runner{m: m, data: data, cfg: cfg, log: log}
}

// NewDir is New over a blob.Dir rooted at dataDir.
func NewDir(m *model.Model, dataDir string, cfg Config) *Runner {
	return New(m, blob.NewDir(dataDir), cfg)
}

func (r *Runner) load(p tensor.Params, name string) (*tensor.Buffer, error) {
	b := tensor.NewBuffer(p.WithSource(name))
	if err := b.Allocate(); err != nil {
		return nil, err
	}
	if err := b.Load(r.data); err != nil {
		return nil, err
	}
	return b, nil
}

// loadPair fetches an input and its expected output concurrently.
func (r *Runner) loadPair(ctx context.Context, inP tensor.Params, inName string, wantP tensor.Params, wantName string) (in, want *tensor.Buffer, err error) {
	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		in, err = r.load(inP, inName)
		return err
	})
	g.Go(func() error {
		var err error
		want, err = r.load(wantP, wantName)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return in, want, nil
}

func (r *Runner) inputName(n int) string {
	if n == 0 {
		return ImageFile
	}
	return LayerOutputFile(n - 1)
}

func (r *Runner) result(name string, s layer.Strategy, got, want *tensor.Buffer, elapsed time.Duration) (Result, error) {
	d, err := got.MaxAbsDiff(want)
	if err != nil {
		return Result{}, fmt.Errorf("%s: %w", name, err)
	}
	res := Result{
		Name:     name,
		Strategy: s,
		MaxDiff:  d,
		Epsilon:  r.cfg.Epsilon,
		Within:   d <= r.cfg.Epsilon,
		Elapsed:  elapsed,
	}
	res.Pass = res.Within
	r.log.Info("scenario", "name", name, "strategy", s, "max_diff", d, "pass", res.Pass, "elapsed", elapsed)
	return res, nil
}

// Basic exercises the comparison primitives on the input image: the image
// against itself, then against a copy whose first element is raised by 0.1
// and by 0.2.
func (r *Runner) Basic(ctx context.Context) ([]Result, error) {
	p, err := r.m.InputParams()
	if err != nil {
		return nil, err
	}
	img, err := r.load(p, ImageFile)
	if err != nil {
		return nil, fmt.Errorf("basic: %w", err)
	}
	res, err := r.result("basic/self", layer.Naive, img, img, 0)
	if err != nil {
		return nil, err
	}
	res.Pass = res.MaxDiff == 0 && res.Within
	out := []Result{res}

	cp := img.Clone()
	for step := 1; step <= 2; step++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cp.Set(0, cp.At(0)+0.1)
		res, err := r.result(fmt.Sprintf("basic/perturb-%d", step), layer.Naive, img, cp, 0)
		if err != nil {
			return nil, err
		}
		want := float64(cp.At(0)) - float64(img.At(0))
		res.Pass = math.Abs(float64(res.MaxDiff)-want) < 1e-6 && !res.Within
		out = append(out, res)
	}
	return out, nil
}

// Layer runs layer n alone from its golden input and compares the result to
// its golden output.
func (r *Runner) Layer(ctx context.Context, n int, s layer.Strategy) (Result, error) {
	l, err := r.m.LayerInfo(n)
	if err != nil {
		return Result{}, err
	}
	in, want, err := r.loadPair(ctx, l.Input, r.inputName(n), l.Output, LayerOutputFile(n))
	if err != nil {
		return Result{}, fmt.Errorf("layer %d: %w", n, err)
	}
	start := time.Now()
	got, err := r.m.RunLayer(in, n, s)
	if err != nil {
		return Result{}, err
	}
	return r.result(fmt.Sprintf("layer/%d", n), s, got, want, time.Since(start))
}

// LastLayer runs every layer from the golden index onwards, starting from
// the previous golden output, and compares the final output to the golden
// file.
func (r *Runner) LastLayer(ctx context.Context, s layer.Strategy) (Result, error) {
	first := r.cfg.Golden
	if first < 1 || first >= r.m.Len() {
		return Result{}, tensor.IndexErrorf("last layer", "golden index %d out of range [1, %d)", first, r.m.Len())
	}
	l, _ := r.m.LayerInfo(first)
	last, _ := r.m.LayerInfo(r.m.Len() - 1)
	in, want, err := r.loadPair(ctx, l.Input, LayerOutputFile(first-1), last.Output, LayerOutputFile(first))
	if err != nil {
		return Result{}, fmt.Errorf("last layer: %w", err)
	}
	start := time.Now()
	cur := in
	for i := first; i < r.m.Len(); i++ {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		if cur, err = r.m.RunLayer(cur, i, s); err != nil {
			return Result{}, err
		}
	}
	return r.result(fmt.Sprintf("last/%d-%d", first, r.m.Len()-1), s, cur, want, time.Since(start))
}

// Inference runs the full pipeline on the input image.
func (r *Runner) Inference(ctx context.Context, s layer.Strategy) (Result, error) {
	inP, err := r.m.InputParams()
	if err != nil {
		return Result{}, err
	}
	last, _ := r.m.LayerInfo(r.m.Len() - 1)
	in, want, err := r.loadPair(ctx, inP, ImageFile, last.Output, LayerOutputFile(r.cfg.Golden))
	if err != nil {
		return Result{}, fmt.Errorf("inference: %w", err)
	}
	start := time.Now()
	got, err := r.m.RunInference(in, s)
	if err != nil {
		return Result{}, err
	}
	return r.result("inference", s, got, want, time.Since(start))
}

// All runs Basic once, then for each strategy every per-layer scenario up to
// the golden index, LastLayer and Inference. It stops at the first error;
// numeric mismatches are reported through Result.Pass.
func (r *Runner) All(ctx context.Context, strategies []layer.Strategy) ([]Result, error) {
	out, err := r.Basic(ctx)
	if err != nil {
		return out, err
	}
	for _, s := range strategies {
		for n := 0; n < r.cfg.Golden; n++ {
			res, err := r.Layer(ctx, n, s)
			if err != nil {
				return out, err
			}
			out = append(out, res)
		}
		for _, run := range []func(context.Context, layer.Strategy) (Result, error){r.LastLayer, r.Inference} {
			res, err := run(ctx, s)
			if err != nil {
				return out, err
			}
			out = append(out, res)
		}
	}
	return out, nil
}

// Passed reports whether every result passed.
func Passed(results []Result) bool {
	for _, r := range results {
		if !r.Pass {
			return false
		}
	}
	return true
}
