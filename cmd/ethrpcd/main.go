// Command ethrpcd serves an in-memory Ethereum chain over webthree-rpc.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"webthree-rpc/config"
	"webthree-rpc/logging"
)

func main() {
	app := &cli.App{
		Name:  "ethrpcd",
		Usage: "serve an in-memory Ethereum chain over webthree-rpc",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to a .toml or .yaml config file",
				EnvVars: []string{"ETHRPCD_CONFIG"},
			},
			&cli.StringFlag{Name: "listen", Usage: "override the listen address"},
			&cli.StringFlag{Name: "advertise", Usage: "override the address published to the registry"},
			&cli.StringFlag{Name: "metrics", Usage: "override the metrics address, empty disables"},
			&cli.StringSliceFlag{Name: "etcd", Usage: "etcd endpoints, enables registration"},
		},
		Action: func(c *cli.Context) error {
			cfg, err := config.LoadServerConfig(c.String("config"))
			if err != nil {
				return err
			}
			if c.IsSet("listen") {
				cfg.Listen = c.String("listen")
			}
			if c.IsSet("advertise") {
				cfg.Advertise = c.String("advertise")
			}
			if c.IsSet("metrics") {
				cfg.MetricsAddr = c.String("metrics")
			}
			if c.IsSet("etcd") {
				cfg.Registry.Endpoints = c.StringSlice("etcd")
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			logging.Init(cfg.Log)
			d, err := newDaemon(cfg)
			if err != nil {
				return err
			}
			return d.run(c.Context)
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := app.RunContext(ctx, os.Args); err != nil {
		log.Fatal().Err(err).Msg("ethrpcd")
	}
}
