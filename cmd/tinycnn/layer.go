package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/tinycnn/internal/blob"
	"github.com/samcharles93/tinycnn/internal/layer"
	"github.com/samcharles93/tinycnn/internal/logger"
	"github.com/samcharles93/tinycnn/internal/model"
	"github.com/samcharles93/tinycnn/internal/scenario"
)

func layerCmd() *cli.Command {
	var (
		index   int64
		input   string
		expect  string
		output  string
		compare bool
	)

	flags := append([]cli.Flag{}, commonModelFlags()...)
	flags = append(flags, strategyFlag())
	flags = append(flags, execFlags()...)
	flags = append(flags, epsilonFlag(),
		&cli.Int64Flag{
			Name:        "index",
			Aliases:     []string{"l"},
			Usage:       "layer index",
			Required:    true,
			Destination: &index,
		},
		&cli.StringFlag{
			Name:        "input",
			Aliases:     []string{"i"},
			Usage:       "input blob (default: the golden input for the layer)",
			Destination: &input,
		},
		&cli.StringFlag{
			Name:        "expect",
			Usage:       "expected output blob (default: the layer's golden output)",
			Destination: &expect,
		},
		&cli.BoolFlag{
			Name:        "compare",
			Usage:       "compare the result with the expected blob",
			Destination: &compare,
		},
		&cli.StringFlag{
			Name:        "output",
			Aliases:     []string{"o"},
			Usage:       "write the layer output to this blob",
			Destination: &output,
		},
	)

	return &cli.Command{
		Name:  "layer",
		Usage: "Run a single layer on an input blob",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			strategy, err := layer.ParseStrategy(strategyName)
			if err != nil {
				return err
			}
			_, m, err := loadModel(ctx)
			if err != nil {
				return err
			}
			idx := int(index)
			l, err := m.LayerInfo(idx)
			if err != nil {
				return err
			}
			if input == "" {
				name := scenario.ImageFile
				if idx > 0 {
					name = scenario.LayerOutputFile(idx - 1)
				}
				input = filepath.Join(dataDir, name)
			}
			in, err := readBlob(input, l.Input)
			if err != nil {
				return fmt.Errorf("read input: %w", err)
			}

			return m.WithAllocated(modelSource(), func(m *model.Model) error {
				start := time.Now()
				out, err := m.RunLayer(in, idx, strategy)
				if err != nil {
					return err
				}
				elapsed := time.Since(start)
				w := stdout(cmd)
				fmt.Fprintf(w, "layer %d %s %s -> %s in %s\n", idx, l.Kind, l.Input.Dims(), out.Shape(), elapsed)

				if output != "" {
					if err := blob.WriteFloats(output, out.Data()); err != nil {
						return fmt.Errorf("write output: %w", err)
					}
					log.Info("wrote output", "path", output)
				}
				if !compare {
					return nil
				}
				if expect == "" {
					expect = filepath.Join(dataDir, scenario.LayerOutputFile(idx))
				}
				want, err := readBlob(expect, l.Output)
				if err != nil {
					return fmt.Errorf("read expected: %w", err)
				}
				d, err := out.MaxAbsDiff(want)
				if err != nil {
					return err
				}
				within := d <= float32(epsilon)
				fmt.Fprintf(w, "max diff %g (eps %g) within=%t\n", d, epsilon, within)
				if !within {
					return fmt.Errorf("layer %d differs from %s by %g", idx, expect, d)
				}
				return nil
			})
		},
	}
}
