package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/tinycnn/internal/blob"
	"github.com/samcharles93/tinycnn/internal/kernel"
	"github.com/samcharles93/tinycnn/internal/layer"
	"github.com/samcharles93/tinycnn/internal/logger"
	"github.com/samcharles93/tinycnn/internal/model"
	"github.com/samcharles93/tinycnn/internal/scenario"
	"github.com/samcharles93/tinycnn/internal/tensor"
)

// setup runs before every subcommand once its flags are parsed: config file
// defaults first, then the logger built from the final flag values.
func setup(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	applyConfig(cmd, LoadConfig())
	level := logLevel
	if debug {
		level = "debug"
	}
	log, err := logger.Setup(os.Stderr, logFormat, level)
	if err != nil {
		return ctx, err
	}
	return logger.WithContext(ctx, log), nil
}

func stdout(cmd *cli.Command) io.Writer {
	return cmd.Root().Writer
}

// parseTiles reads an RxCxK blocking such as "4x8x16". Empty selects per shape.
func parseTiles(s string) (kernel.Tiles, error) {
	if s == "" {
		return kernel.Tiles{}, nil
	}
	parts := strings.Split(s, "x")
	if len(parts) != 3 {
		return kernel.Tiles{}, fmt.Errorf("tiles %q: want RxCxK", s)
	}
	var dims [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 1 {
			return kernel.Tiles{}, fmt.Errorf("tiles %q: %q is not a positive integer", s, p)
		}
		dims[i] = n
	}
	return kernel.Tiles{Rows: dims[0], Cols: dims[1], Chans: dims[2]}, nil
}

func execOptions() (layer.Options, error) {
	tiles, err := parseTiles(tileSpec)
	if err != nil {
		return layer.Options{}, err
	}
	opts := layer.Options{
		Workers:       int(workers),
		Tiles:         tiles,
		StableSoftmax: stableSoftmax,
	}
	if tune {
		opts.Tuner = kernel.NewAutotuner()
	}
	return opts, nil
}

// parseStrategies accepts "all" or a comma separated list.
func parseStrategies(s string) ([]layer.Strategy, error) {
	if s == "" || s == "all" {
		return layer.Strategies(), nil
	}
	var out []layer.Strategy
	for _, name := range strings.Split(s, ",") {
		st, err := layer.ParseStrategy(strings.TrimSpace(name))
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

func timingHooks(log logger.Logger) model.Hooks {
	return model.Hooks{
		Logger: log,
		Timer: func(name string, d time.Duration) {
			log.Debug("timing", "stage", name, "elapsed", d)
		},
	}
}

// loadModel builds the selected network with the execution options applied.
// The returned model is not allocated.
func loadModel(ctx context.Context) (*model.Spec, *model.Model, error) {
	spec, err := model.LoadSpec(network)
	if err != nil {
		return nil, nil, err
	}
	m, err := spec.Build(timingHooks(logger.FromContext(ctx)))
	if err != nil {
		return nil, nil, err
	}
	opts, err := execOptions()
	if err != nil {
		return nil, nil, err
	}
	m.SetOptions(opts)
	return spec, m, nil
}

func modelSource() tensor.Source {
	return blob.NewDir(filepath.Join(dataDir, scenario.ModelDir))
}

// readBlob loads the raw float32 file at path as a tensor described by p.
func readBlob(path string, p tensor.Params) (*tensor.Buffer, error) {
	b := tensor.NewBuffer(p.WithSource(filepath.Base(path)))
	if err := b.Allocate(); err != nil {
		return nil, err
	}
	if err := b.Load(blob.NewDir(filepath.Dir(path))); err != nil {
		return nil, err
	}
	return b, nil
}
