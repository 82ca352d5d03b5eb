package main

import (
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/tinycnn/internal/scenario"
)

var (
	dataDir       string
	network       string
	strategyName  string
	workers       int64
	tileSpec      string
	tune          bool
	stableSoftmax bool
	epsilon       float64
	logLevel      string
	logFormat     string
	debug         bool
)

func commonModelFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "data-dir",
			Aliases:     []string{"d"},
			Usage:       "data directory holding model/, image_0.bin and image_0_data/",
			Value:       "data",
			Destination: &dataDir,
		},
		&cli.StringFlag{
			Name:        "network",
			Aliases:     []string{"n"},
			Usage:       "network description: \"toy\" or a path to a YAML file",
			Value:       "toy",
			Destination: &network,
		},
	}
}

func strategyFlag() cli.Flag {
	return &cli.StringFlag{
		Name:        "strategy",
		Aliases:     []string{"s"},
		Usage:       "execution strategy (naive, threaded, tiled, simd)",
		Value:       "naive",
		Destination: &strategyName,
	}
}

// execFlags tune how strategies execute.
func execFlags() []cli.Flag {
	return []cli.Flag{
		&cli.Int64Flag{
			Name:        "workers",
			Usage:       "goroutines used by the threaded strategy (0 = all)",
			Destination: &workers,
		},
		&cli.StringFlag{
			Name:        "tiles",
			Usage:       "fixed RxCxK blocking for the tiled strategy, e.g. 4x8x16",
			Destination: &tileSpec,
		},
		&cli.BoolFlag{
			Name:        "tune",
			Usage:       "autotune tiled blocking per layer shape",
			Destination: &tune,
		},
		&cli.BoolFlag{
			Name:        "stable-softmax",
			Usage:       "subtract the input maximum before exponentiation",
			Destination: &stableSoftmax,
		},
	}
}

func epsilonFlag() cli.Flag {
	return &cli.Float64Flag{
		Name:        "epsilon",
		Aliases:     []string{"eps"},
		Usage:       "tolerance for golden comparisons",
		Value:       scenario.DefaultEpsilon,
		Destination: &epsilon,
	}
}

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       "pretty",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}
