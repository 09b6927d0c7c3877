package main

import (
	"context"
	"errors"
	"math/big"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"webthree-rpc/codec"
	"webthree-rpc/config"
	"webthree-rpc/eth"
	"webthree-rpc/ethrpc"
	"webthree-rpc/metrics"
	"webthree-rpc/middleware"
	"webthree-rpc/protocol"
	"webthree-rpc/registry"
	"webthree-rpc/server"
)

type daemon struct {
	cfg      config.ServerConfig
	backend  *eth.Memory
	server   *server.Server
	registry *registry.EtcdRegistry // nil without endpoints
	metrics  *http.Server           // nil when disabled
	ready    chan net.Addr
}

func newDaemon(cfg config.ServerConfig) (*daemon, error) {
	alloc, err := cfg.GenesisAlloc()
	if err != nil {
		return nil, err
	}
	ct, err := codec.ParseCodecType(cfg.Codec)
	if err != nil {
		return nil, err
	}
	metrics.RegisterMetrics()

	d := &daemon{
		cfg:     cfg,
		backend: eth.NewMemory(big.NewInt(cfg.ChainID), alloc),
		ready:   make(chan net.Addr, 1),
	}

	d.server = server.NewServer(
		server.WithCodec(codec.GetCodec(ct)),
		server.WithLimits(protocol.Limits{MaxPayloadSize: cfg.MaxPayloadSize}),
		server.WithRegistry(cfg.Registry.TTL, cfg.Registry.Weight, cfg.Registry.Version),
	)
	// outermost first: rejected and timed-out requests are still logged and counted
	d.server.Use(middleware.LoggingMiddleware())
	d.server.Use(middleware.MetricsMiddleware("server"))
	if cfg.RateLimit > 0 {
		d.server.Use(middleware.RateLimitMiddleware(cfg.RateLimit, cfg.RateBurst))
	}
	if cfg.RequestTimeout > 0 {
		d.server.Use(middleware.TimeOutMiddleware(cfg.RequestTimeout.Std()))
	}

	ethSvc, err := ethrpc.NewEthereumService(d.backend)
	if err != nil {
		return nil, err
	}
	ctlSvc, err := ethrpc.NewControlService(d.backend)
	if err != nil {
		return nil, err
	}
	if err := d.server.Register(ethSvc); err != nil {
		return nil, err
	}
	if err := d.server.Register(ctlSvc); err != nil {
		return nil, err
	}

	if cfg.Registry.Enabled() {
		d.registry, err = registry.NewEtcdRegistry(cfg.Registry.Endpoints, cfg.Registry.DialTimeout.Std())
		if err != nil {
			return nil, err
		}
	}
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		d.metrics = &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	}
	return d, nil
}

// run serves until ctx ends or a listener fails, then shuts everything down.
func (d *daemon) run(ctx context.Context) error {
	ln, err := net.Listen("tcp", d.cfg.Listen)
	if err != nil {
		return err
	}
	d.ready <- ln.Addr()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var reg registry.Registry
		if d.registry != nil {
			reg = d.registry
		}
		return d.server.ServeListener(ln, d.cfg.Advertise, reg)
	})

	if d.metrics != nil {
		g.Go(func() error {
			log.Info().Str("addr", d.metrics.Addr).Msg("serving metrics")
			if err := d.metrics.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")

		err := d.server.Shutdown(d.cfg.ShutdownTimeout.Std())
		if d.metrics != nil {
			sctx, cancel := context.WithTimeout(context.Background(), d.cfg.ShutdownTimeout.Std())
			defer cancel()
			err = errors.Join(err, d.metrics.Shutdown(sctx))
		}
		if d.registry != nil {
			err = errors.Join(err, d.registry.Close())
		}
		return err
	})

	return g.Wait()
}
