package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/tinycnn/internal/version"
)

func newApp() *cli.Command {
	cmds := []*cli.Command{
		runCmd(),
		layerCmd(),
		verifyCmd(),
		benchCmd(),
		inspectCmd(),
		genCmd(),
		diffCmd(),
		serveCmd(),
		versionCmd(),
	}
	for _, c := range cmds {
		c.Before = setup
	}
	return &cli.Command{
		Name:    "tinycnn",
		Usage:   "Small convolutional network inference engine",
		Version: version.String(),
		Flags:   loggingFlags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return cli.ShowAppHelp(cmd)
		},
		Commands: cmds,
	}
}

func main() {
	if err := newApp().Run(context.Background(), os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
