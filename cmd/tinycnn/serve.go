package main

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/tinycnn/internal/api"
	"github.com/samcharles93/tinycnn/internal/layer"
	"github.com/samcharles93/tinycnn/internal/logger"
	"github.com/samcharles93/tinycnn/internal/model"
)

func serveCmd() *cli.Command {
	var (
		addr        string
		readTimeout time.Duration
		rateLimit   float64
		burst       int64
		maxBody     int64
	)

	flags := append([]cli.Flag{}, commonModelFlags()...)
	flags = append(flags, strategyFlag())
	flags = append(flags, execFlags()...)
	flags = append(flags,
		&cli.StringFlag{
			Name:        "addr",
			Usage:       "listen address",
			Value:       "127.0.0.1:8080",
			Destination: &addr,
		},
		&cli.DurationFlag{
			Name:        "read-timeout",
			Usage:       "read timeout",
			Value:       30 * time.Second,
			Destination: &readTimeout,
		},
		&cli.Float64Flag{
			Name:        "rate-limit",
			Usage:       "sustained inference requests per second (0 = unlimited)",
			Destination: &rateLimit,
		},
		&cli.Int64Flag{
			Name:        "burst",
			Usage:       "inference requests allowed in a burst",
			Value:       4,
			Destination: &burst,
		},
		&cli.Int64Flag{
			Name:        "max-body",
			Usage:       "maximum request body in bytes",
			Value:       api.DefaultMaxBodyBytes,
			Destination: &maxBody,
		},
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the HTTP inference API",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			applyServeConfig(cmd, LoadConfig(), &addr, &rateLimit)

			strategy, err := layer.ParseStrategy(strategyName)
			if err != nil {
				return err
			}
			spec, m, err := loadModel(ctx)
			if err != nil {
				return err
			}
			m.SetHooks(model.Hooks{Logger: log})

			return m.WithAllocated(modelSource(), func(m *model.Model) error {
				server := api.NewServer(m, api.Config{
					Name:         spec.Name,
					Strategy:     strategy,
					RateLimit:    rateLimit,
					Burst:        int(burst),
					MaxBodyBytes: maxBody,
					Logger:       log,
				})
				e := echo.New()
				e.Use(middleware.RequestLogger())
				e.Use(middleware.Recover())
				server.Register(e)
				log.Info("starting server", "address", addr, "network", spec.Name, "strategy", strategy)
				sc := echo.StartConfig{
					Address: addr,
					BeforeServeFunc: func(srv *http.Server) error {
						srv.ReadHeaderTimeout = readTimeout
						return nil
					},
				}
				return sc.Start(ctx, e)
			})
		},
	}
}
