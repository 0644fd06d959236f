package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/lattice-edge/brokercore/internal/auth"
	"github.com/lattice-edge/brokercore/internal/bridge"
	"github.com/lattice-edge/brokercore/internal/broker"
	"github.com/lattice-edge/brokercore/internal/config"
	"github.com/lattice-edge/brokercore/internal/metrics"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a new broker instance",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStart()
	},
}

func runStart() error {
	if err := writePIDFile(); err != nil {
		return err
	}
	defer removePIDFile()

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	authenticator, err := buildAuthenticator(cfg)
	if err != nil {
		return fmt.Errorf("load auth: %w", err)
	}

	reg := prometheus.NewRegistry()
	met := metrics.New(reg)

	b := broker.New(broker.Options{
		NumTaskQThread:   cfg.NumTaskQThread,
		MaxTaskQThread:   cfg.MaxTaskQThread,
		Parallel:         cfg.Parallel,
		PropertySize:     cfg.PropertySize,
		MsqLen:           cfg.MsqLen,
		QoSDuration:      cfg.QoSDuration,
		AllowAnonymous:   cfg.AllowAnonymous,
		Authenticator:    authenticator,
		SysEventsEnabled: true,
		Log:              log,
		Metrics:          met,
	})
	defer b.Stop()

	closeListener, err := b.Listen(cfg.URL)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.URL, err)
	}
	defer closeListener()
	log.WithField("url", cfg.URL).Info("broker: listening")

	if cfg.Websocket.Enable {
		closeWS, err := b.Listen(cfg.Websocket.URL)
		if err != nil {
			return fmt.Errorf("listen %s: %w", cfg.Websocket.URL, err)
		}
		defer closeWS()
		log.WithField("url", cfg.Websocket.URL).Info("broker: websocket listening")
	}

	var br *bridge.Bridge
	if cfg.BridgeConfPath != "" {
		bcfg, err := config.LoadBridge(cfg.BridgeConfPath)
		if err != nil {
			return fmt.Errorf("load bridge config: %w", err)
		}
		if bcfg != nil {
			br = bridge.New(bcfg, b, log, met)
			if err := br.Start(); err != nil {
				return fmt.Errorf("start bridge: %w", err)
			}
			b.SetBridge(br)
			defer br.Stop()
			log.WithField("address", bcfg.Address).Info("bridge: connected upstream")
		}
	}

	var httpSrv *http.Server
	if cfg.HTTPServer.Enable {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		httpSrv = &http.Server{Addr: fmt.Sprintf(":%d", cfg.HTTPServer.Port), Handler: mux}
		go func() {
			if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.WithError(err).Error("metrics http server failed")
			}
		}()
		log.WithField("port", cfg.HTTPServer.Port).Info("broker: metrics endpoint listening")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("broker: shutting down")
	if httpSrv != nil {
		_ = httpSrv.Shutdown(context.Background())
	}
	return nil
}

func buildAuthenticator(cfg *config.Config) (auth.Authenticator, error) {
	var chain auth.Chain
	if cfg.AllowAnonymous {
		chain = append(chain, auth.AllowAnonymous{})
	}
	if cfg.AuthConfPath != "" {
		fa, err := auth.LoadFile(cfg.AuthConfPath)
		if err != nil {
			return nil, err
		}
		chain = append(chain, fa)
	}
	return chain, nil
}
