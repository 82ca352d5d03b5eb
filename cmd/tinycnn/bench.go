package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/tinycnn/internal/kernel"
	"github.com/samcharles93/tinycnn/internal/layer"
	"github.com/samcharles93/tinycnn/internal/logger"
	"github.com/samcharles93/tinycnn/internal/model"
	"github.com/samcharles93/tinycnn/internal/scenario"
	"github.com/samcharles93/tinycnn/internal/tensor"
)

type benchResult struct {
	Strategy layer.Strategy `json:"strategy"`
	Runs     int            `json:"runs"`
	Mean     time.Duration  `json:"mean_ns"`
	Min      time.Duration  `json:"min_ns"`
	Max      time.Duration  `json:"max_ns"`
	Speedup  float64        `json:"speedup"`
}

type benchReport struct {
	ID        string        `json:"id"`
	Network   string        `json:"network"`
	CPU       string        `json:"cpu"`
	Workers   int           `json:"workers"`
	Tuned     bool          `json:"tuned"`
	StartedAt time.Time     `json:"started_at"`
	Results   []benchResult `json:"results"`
}

func benchCmd() *cli.Command {
	var (
		warmupRuns int64
		benchRuns  int64
		strategies string
		input      string
		asJSON     bool
	)

	flags := append([]cli.Flag{}, commonModelFlags()...)
	flags = append(flags, execFlags()...)
	flags = append(flags,
		&cli.Int64Flag{
			Name:        "warmup",
			Usage:       "number of warmup runs",
			Value:       1,
			Destination: &warmupRuns,
		},
		&cli.Int64Flag{
			Name:        "runs",
			Usage:       "number of benchmark runs",
			Value:       5,
			Destination: &benchRuns,
		},
		&cli.StringFlag{
			Name:        "strategies",
			Usage:       "comma separated strategies to time, or \"all\"",
			Value:       "all",
			Destination: &strategies,
		},
		&cli.StringFlag{
			Name:        "input",
			Aliases:     []string{"i"},
			Usage:       "input blob (default <data-dir>/image_0.bin)",
			Destination: &input,
		},
		&cli.BoolFlag{
			Name:        "json",
			Usage:       "print a JSON report",
			Destination: &asJSON,
		},
	)

	return &cli.Command{
		Name:  "bench",
		Usage: "Time full inference under each strategy",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			if benchRuns < 1 {
				return fmt.Errorf("--runs must be at least 1")
			}
			list, err := parseStrategies(strategies)
			if err != nil {
				return err
			}
			spec, m, err := loadModel(ctx)
			if err != nil {
				return err
			}
			// Drop the per-layer timer.
			m.SetHooks(model.Hooks{Logger: log})
			if input == "" {
				input = filepath.Join(dataDir, scenario.ImageFile)
			}
			in, err := readBlob(input, spec.InputParams())
			if err != nil {
				return fmt.Errorf("read input: %w", err)
			}

			report := benchReport{
				ID:        uuid.NewString(),
				Network:   spec.Name,
				CPU:       kernel.CPU.String(),
				Workers:   kernel.PoolSize(),
				Tuned:     tune,
				StartedAt: time.Now().UTC(),
			}
			if workers > 0 {
				report.Workers = min(int(workers), kernel.PoolSize())
			}
			log.Info("benchmark", "id", report.ID, "network", spec.Name, "warmup", warmupRuns, "runs", benchRuns)

			err = m.WithAllocated(modelSource(), func(m *model.Model) error {
				for _, s := range list {
					res, err := benchStrategy(ctx, m, in, s, int(warmupRuns), int(benchRuns))
					if err != nil {
						return err
					}
					log.Debug("strategy timed", "strategy", s, "mean", res.Mean)
					report.Results = append(report.Results, res)
				}
				return nil
			})
			if err != nil {
				return err
			}
			if len(report.Results) > 0 {
				base := report.Results[0].Mean
				for i := range report.Results {
					if mean := report.Results[i].Mean; mean > 0 {
						report.Results[i].Speedup = float64(base) / float64(mean)
					}
				}
			}

			w := stdout(cmd)
			if asJSON {
				return writeJSON(w, report)
			}
			rows := make([][]string, 0, len(report.Results))
			for _, r := range report.Results {
				rows = append(rows, []string{
					r.Strategy.String(),
					fmt.Sprint(r.Runs),
					r.Mean.Round(time.Microsecond).String(),
					r.Min.Round(time.Microsecond).String(),
					r.Max.Round(time.Microsecond).String(),
					fmt.Sprintf("%.2fx", r.Speedup),
				})
			}
			fmt.Fprintf(w, "run %s  network %s  cpu %s  workers %d\n", report.ID, report.Network, report.CPU, report.Workers)
			writeTable(w, []string{"STRATEGY", "RUNS", "MEAN", "MIN", "MAX", "SPEEDUP"}, rows)
			return nil
		},
	}
}

func benchStrategy(ctx context.Context, m *model.Model, in *tensor.Buffer, s layer.Strategy, warmup, runs int) (benchResult, error) {
	for i := 0; i < warmup; i++ {
		if _, err := m.RunInference(in, s); err != nil {
			return benchResult{}, err
		}
	}
	res := benchResult{Strategy: s, Runs: runs}
	var total time.Duration
	for i := 0; i < runs; i++ {
		if err := ctx.Err(); err != nil {
			return benchResult{}, err
		}
		start := time.Now()
		if _, err := m.RunInference(in, s); err != nil {
			return benchResult{}, err
		}
		d := time.Since(start)
		total += d
		if i == 0 || d < res.Min {
			res.Min = d
		}
		res.Max = max(res.Max, d)
	}
	res.Mean = total / time.Duration(runs)
	return res, nil
}
