package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/tinycnn/internal/logger"
	"github.com/samcharles93/tinycnn/internal/model"
	"github.com/samcharles93/tinycnn/internal/scenario"
)

type verifyReport struct {
	ID      string            `json:"id"`
	Network string            `json:"network"`
	DataDir string            `json:"data_dir"`
	Passed  bool              `json:"passed"`
	Results []scenario.Result `json:"results"`
}

func verifyCmd() *cli.Command {
	var (
		strategies string
		golden     int64
		asJSON     bool
	)

	flags := append([]cli.Flag{}, commonModelFlags()...)
	flags = append(flags, execFlags()...)
	flags = append(flags, epsilonFlag(),
		&cli.StringFlag{
			Name:        "strategies",
			Usage:       "comma separated strategies to check, or \"all\"",
			Value:       "all",
			Destination: &strategies,
		},
		&cli.Int64Flag{
			Name:        "golden",
			Usage:       "golden file index of the final output (default from the network)",
			Destination: &golden,
		},
		&cli.BoolFlag{
			Name:        "json",
			Usage:       "print a JSON report",
			Destination: &asJSON,
		},
	)

	return &cli.Command{
		Name:  "verify",
		Usage: "Check every strategy against the golden outputs in a data directory",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			list, err := parseStrategies(strategies)
			if err != nil {
				return err
			}
			spec, m, err := loadModel(ctx)
			if err != nil {
				return err
			}
			cfg := scenario.Config{
				Epsilon: float32(epsilon),
				Golden:  spec.GoldenIndex(),
				Logger:  log,
			}
			if golden > 0 {
				cfg.Golden = int(golden)
			}

			report := verifyReport{ID: uuid.NewString(), Network: spec.Name, DataDir: dataDir}
			err = m.WithAllocated(modelSource(), func(m *model.Model) error {
				var err error
				report.Results, err = scenario.NewDir(m, dataDir, cfg).All(ctx, list)
				return err
			})
			if err != nil {
				return err
			}
			report.Passed = scenario.Passed(report.Results)

			w := stdout(cmd)
			if asJSON {
				if err := writeJSON(w, report); err != nil {
					return err
				}
			} else {
				rows := make([][]string, 0, len(report.Results))
				for _, r := range report.Results {
					status := "PASS"
					if !r.Pass {
						status = "FAIL"
					}
					rows = append(rows, []string{
						r.Name,
						r.Strategy.String(),
						strconv.FormatFloat(float64(r.MaxDiff), 'g', 4, 32),
						strconv.FormatBool(r.Within),
						status,
						r.Elapsed.String(),
					})
				}
				writeTable(w, []string{"SCENARIO", "STRATEGY", "MAX DIFF", "WITHIN", "RESULT", "ELAPSED"}, rows)
			}
			if !report.Passed {
				return fmt.Errorf("verify %s: some scenarios failed", report.ID)
			}
			log.Info("all scenarios passed", "count", len(report.Results))
			return nil
		},
	}
}
