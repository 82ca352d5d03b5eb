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

func runCmd() *cli.Command {
	var (
		input  string
		output string
		top    int64
	)

	flags := append([]cli.Flag{}, commonModelFlags()...)
	flags = append(flags, strategyFlag())
	flags = append(flags, execFlags()...)
	flags = append(flags,
		&cli.StringFlag{
			Name:        "input",
			Aliases:     []string{"i"},
			Usage:       "input blob (default <data-dir>/image_0.bin)",
			Destination: &input,
		},
		&cli.StringFlag{
			Name:        "output",
			Aliases:     []string{"o"},
			Usage:       "write the output vector to this blob",
			Destination: &output,
		},
		&cli.Int64Flag{
			Name:        "top",
			Aliases:     []string{"k"},
			Usage:       "number of classes to print",
			Value:       5,
			Destination: &top,
		},
	)

	return &cli.Command{
		Name:  "run",
		Usage: "Run full inference on an input blob",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			strategy, err := layer.ParseStrategy(strategyName)
			if err != nil {
				return err
			}
			spec, m, err := loadModel(ctx)
			if err != nil {
				return err
			}
			if input == "" {
				input = filepath.Join(dataDir, scenario.ImageFile)
			}
			in, err := readBlob(input, spec.InputParams())
			if err != nil {
				return fmt.Errorf("read input: %w", err)
			}

			return m.WithAllocated(modelSource(), func(m *model.Model) error {
				start := time.Now()
				out, err := m.RunInference(in, strategy)
				if err != nil {
					return err
				}
				log.Info("inference complete", "network", spec.Name, "strategy", strategy, "elapsed", time.Since(start))

				w := stdout(cmd)
				for _, p := range model.Top(out.Data(), int(top)) {
					fmt.Fprintf(w, "class %4d  %.6f\n", p.Class, p.Score)
				}
				if output != "" {
					if err := blob.WriteFloats(output, out.Data()); err != nil {
						return fmt.Errorf("write output: %w", err)
					}
					log.Info("wrote output", "path", output, "elems", len(out.Data()))
				}
				return nil
			})
		},
	}
}
