package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/tinycnn/internal/kernel"
	"github.com/samcharles93/tinycnn/internal/model"
)

func inspectCmd() *cli.Command {
	var showSpec bool

	return &cli.Command{
		Name:  "inspect",
		Usage: "Print the network's layers and the detected CPU features",
		Flags: []cli.Flag{
			commonModelFlags()[1],
			&cli.BoolFlag{
				Name:        "yaml",
				Usage:       "print the network description as YAML",
				Destination: &showSpec,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			spec, err := model.LoadSpec(network)
			if err != nil {
				return err
			}
			w := stdout(cmd)
			if showSpec {
				data, err := spec.Marshal()
				if err != nil {
					return err
				}
				_, err = w.Write(data)
				return err
			}
			m, err := spec.Build(model.Hooks{})
			if err != nil {
				return err
			}

			rows := make([][]string, 0, m.Len())
			for i := 0; i < m.Len(); i++ {
				l, _ := m.LayerInfo(i)
				weight, bias, act := "-", "-", "-"
				if l.Kind.HasParams() {
					weight = l.Weight.Dims().String()
					bias = l.Bias.Dims().String()
					act = strconv.FormatBool(l.Activation)
				}
				rows = append(rows, []string{
					strconv.Itoa(i),
					l.Kind.String(),
					l.Input.Dims().String(),
					l.Output.Dims().String(),
					weight,
					bias,
					act,
					formatBytes(l.ParamBytes),
				})
			}
			fmt.Fprintf(w, "network %s: %d layers, %s of parameters, golden index %d\n",
				spec.Name, m.Len(), formatBytes(m.ParamBytes()), spec.GoldenIndex())
			writeTable(w, []string{"#", "KIND", "INPUT", "OUTPUT", "WEIGHT", "BIAS", "RELU", "PARAMS"}, rows)
			fmt.Fprintf(w, "cpu: %s  workers: %d  lanes: %d (vectorized=%t)\n",
				kernel.CPU, kernel.PoolSize(), kernel.Lanes, kernel.Vectorized())
			return nil
		},
	}
}

func formatBytes(n int) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := unit, 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGT"[exp])
}
