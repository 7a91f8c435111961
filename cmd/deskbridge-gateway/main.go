package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/deskbridge/deskbridge-gateway/internal/changeset"
	"github.com/deskbridge/deskbridge-gateway/internal/config"
	"github.com/deskbridge/deskbridge-gateway/internal/events"
	"github.com/deskbridge/deskbridge-gateway/internal/httpserver"
	"github.com/deskbridge/deskbridge-gateway/internal/logging"
	"github.com/deskbridge/deskbridge-gateway/internal/plugins"
	"github.com/deskbridge/deskbridge-gateway/internal/reloader"
	"github.com/deskbridge/deskbridge-gateway/internal/sections"
	"go.uber.org/zap"
)

func main() {
	cfgPath := os.Getenv("DESKBRIDGE_CONFIG")
	if cfgPath == "" {
		cfgPath = "/etc/deskbridge/config.yaml"
	}

	cfg, err := config.Load(cfgPath)
	if errors.Is(err, os.ErrNotExist) {
		cfg, err = config.Default(), nil
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	logger, err := logging.New(logging.Cfg{
		Level: cfg.Logging.Level,
		JSON:  cfg.Logging.JSON,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logging:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	fmt.Println(`
deskbridge gateway: UI changesets to the desktop inspector
----------------------------------------------------------
Config:  ` + cfgPath + `
`)

	bus := events.NewBus()
	source := changeset.NewDebug()

	pluginMgr := plugins.NewManager(cfg, logger.Logger, bus)
	if err := pluginMgr.Register(
		sections.New(source),
	); err != nil {
		logger.Fatal("register plugins", zap.Error(err))
	}

	srv, err := httpserver.New(cfg, logger.Logger, bus, pluginMgr, source)
	if err != nil {
		logger.Fatal("http server", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())

	sim := changeset.NewSimulator(source, logger.Named("simulator"), cfg.Source.Interval)
	if cfg.Source.Simulate {
		go sim.Run(ctx)
		logger.Info("changeset simulator running", zap.Duration("interval", sim.Interval()))
	}

	reloader.OnSIGHUP(ctx, func() {
		newCfg, err := config.Load(cfgPath)
		if err != nil {
			logger.Warn("config reload failed", zap.Error(err))
			return
		}
		if err := logger.SetLevel(newCfg.Logging.Level); err != nil {
			logger.Warn("log level reload failed", zap.Error(err))
		}
		if err := srv.Reload(newCfg); err != nil {
			logger.Warn("auth reload failed", zap.Error(err))
		}
		sim.SetInterval(newCfg.Source.Interval)
		logger.Info("reloaded config")
	})

	addr := fmt.Sprintf("%s:%d", cfg.HTTP.Bind, cfg.HTTP.Port)
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("listening", zap.String("addr", addr), zap.Bool("tls", cfg.HTTP.TLS.Enabled))
		var err error
		if cfg.HTTP.TLS.Enabled {
			err = httpSrv.ListenAndServeTLS(cfg.HTTP.TLS.Cert, cfg.HTTP.TLS.Key)
		} else {
			err = httpSrv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down...")
	cancel()

	ctxTimeout, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = httpSrv.Shutdown(ctxTimeout)
	srv.Close()
	pluginMgr.Shutdown()
	logger.Info("bye")
}
