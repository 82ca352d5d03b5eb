package main

import (
	"context"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/tinycnn/internal/logger"
	"github.com/samcharles93/tinycnn/internal/model"
	"github.com/samcharles93/tinycnn/internal/scenario"
)

func genCmd() *cli.Command {
	var seed int64

	flags := append([]cli.Flag{}, commonModelFlags()...)
	flags = append(flags,
		&cli.Int64Flag{
			Name:        "seed",
			Usage:       "random seed for weights and the input image",
			Value:       1,
			Destination: &seed,
		},
	)

	return &cli.Command{
		Name:  "gen",
		Usage: "Write random weights, an input image and golden outputs into a data directory",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			spec, err := model.LoadSpec(network)
			if err != nil {
				return err
			}
			log.Info("generating data", "network", spec.Name, "dir", dataDir, "seed", seed)
			if err := scenario.Generate(ctx, spec, dataDir, seed, timingHooks(log)); err != nil {
				return err
			}
			log.Info("data written", "dir", dataDir, "tensors", len(spec.Tensors()), "golden", spec.GoldenIndex())
			return nil
		},
	}
}
