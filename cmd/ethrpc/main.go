// Command ethrpc queries and drives a webthree-rpc server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"webthree-rpc/client"
	"webthree-rpc/codec"
	"webthree-rpc/config"
	"webthree-rpc/ethrpc"
	"webthree-rpc/loadbalance"
	"webthree-rpc/logging"
	"webthree-rpc/protocol"
	"webthree-rpc/registry"
)

func main() {
	app := newApp()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := app.RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "ethrpc:", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "ethrpc",
		Usage: "query and drive a webthree-rpc server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to a .toml or .yaml config file",
				EnvVars: []string{"ETHRPC_CONFIG"},
			},
			&cli.StringSliceFlag{Name: "addr", Aliases: []string{"a"}, Usage: "server address, repeatable"},
			&cli.StringSliceFlag{Name: "etcd", Usage: "etcd endpoints to discover servers from"},
			&cli.DurationFlag{Name: "timeout", Usage: "per-request timeout"},
		},
		Commands: commands(),
	}
}

// connect builds a client from the config file and global flags.
func connect(c *cli.Context) (*client.Client, error) {
	cfg, err := config.LoadClientConfig(c.String("config"))
	if err != nil {
		return nil, err
	}
	if c.IsSet("addr") {
		cfg.Addrs = c.StringSlice("addr")
	}
	if c.IsSet("etcd") {
		cfg.Registry.Endpoints = c.StringSlice("etcd")
	}
	if c.IsSet("timeout") {
		cfg.CallTimeout = config.Duration(c.Duration("timeout"))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logging.InitWriter(cfg.Log, c.App.ErrWriter)

	var reg registry.Registry
	if cfg.Registry.Enabled() {
		etcd, err := registry.NewEtcdRegistry(cfg.Registry.Endpoints, cfg.Registry.DialTimeout.Std())
		if err != nil {
			return nil, err
		}
		reg = etcd
	} else {
		reg = registry.NewStaticRegistryFromAddrs(cfg.Service, cfg.Addrs)
	}
	bal, err := loadbalance.New(cfg.Balancer)
	if err != nil {
		return nil, err
	}
	ct, err := codec.ParseCodecType(cfg.Codec)
	if err != nil {
		return nil, err
	}

	return client.NewClient(reg, bal, cfg.Service, client.Options{
		Codec:       codec.GetCodec(ct),
		Limits:      protocol.DefaultLimits(),
		DialTimeout: cfg.DialTimeout.Std(),
		CallTimeout: cfg.CallTimeout.Std(),
		Heartbeat:   cfg.Heartbeat.Std(),
		MaxRetries:  cfg.MaxRetries,
		RetryDelay:  cfg.RetryDelay.Std(),
		BalanceKey:  cfg.BalanceKey,
	}), nil
}

// withEth runs fn against a picked server and closes the client afterwards.
func withEth(fn func(c *cli.Context, api *ethrpc.Client) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		cl, err := connect(c)
		if err != nil {
			return err
		}
		defer cl.Close()
		api, err := cl.Eth(c.Context)
		if err != nil {
			return err
		}
		return fn(c, api)
	}
}
