package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/voronovmaksim88/modbus-tcp-slave-sim/catalog"
	"github.com/voronovmaksim88/modbus-tcp-slave-sim/common"
	"github.com/voronovmaksim88/modbus-tcp-slave-sim/config"
	"github.com/voronovmaksim88/modbus-tcp-slave-sim/control"
	"github.com/voronovmaksim88/modbus-tcp-slave-sim/logging"
	"github.com/voronovmaksim88/modbus-tcp-slave-sim/metrics"
	"github.com/voronovmaksim88/modbus-tcp-slave-sim/model"
	"github.com/voronovmaksim88/modbus-tcp-slave-sim/server"
	"github.com/voronovmaksim88/modbus-tcp-slave-sim/telemetry"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func newServeCommand(v *viper.Viper, cfgFile *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Modbus TCP slave simulator",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(v, cfgFile)
			if err != nil {
				return err
			}
			return runServe(cmd, cfg)
		},
	}
	// Flags must be registered at construction time, before cobra parses
	// the command line.
	config.BindFlags(v, cmd.Flags())
	return cmd
}

func runServe(cmd *cobra.Command, cfg *config.Config) error {
	logger := logging.NewLogger(logging.WithLevel(cfg.LogLevelValue()))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := telemetry.NewHub(logger)
	defer hub.Close()

	reg := prometheus.NewRegistry()
	metricsBundle := metrics.New(reg)
	hub.SetDropHook(metricsBundle.TelemetryDroppedTotal.Inc)

	var vars []model.Variable
	profile := model.ConnectionProfile{Host: cfg.Host, Port: uint16(cfg.Port), UnitID: cfg.UnitID}

	if cfg.CatalogFile != "" {
		doc, err := catalog.Load(cfg.CatalogFile)
		if err != nil {
			return err
		}
		vars = doc.Variables
		if doc.Profile != nil {
			profile = *doc.Profile
		}
	} else if cfg.Preload {
		vars = sampleVariables()
	}

	controller := control.New(logger, hub,
		server.WithServerMetrics(metricsBundle),
	)

	if cfg.WatchFile && cfg.CatalogFile != "" {
		err := catalog.Watch(ctx, cfg.CatalogFile,
			func(doc *catalog.Document) {
				if err := controller.ReloadVariables(doc.Variables); err != nil {
					logger.Error(ctx, "reload_variables failed: %v", err)
					return
				}
				logger.Info(ctx, "reloaded %d variables from %s", len(doc.Variables), cfg.CatalogFile)
			},
			func(err error) { logger.Error(ctx, "catalog watch error: %v", err) },
		)
		if err != nil {
			return err
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	go func() {
		for sig := range sigChan {
			if sig == syscall.SIGHUP && cfg.CatalogFile != "" {
				doc, err := catalog.Load(cfg.CatalogFile)
				if err != nil {
					logger.Error(ctx, "SIGHUP reload failed: %v", err)
					continue
				}
				if err := controller.ReloadVariables(doc.Variables); err != nil {
					logger.Error(ctx, "SIGHUP reload_variables failed: %v", err)
				}
				continue
			}
			logger.Info(ctx, "received shutdown signal, stopping server...")
			if _, err := controller.StopServer(ctx); err != nil {
				logger.Error(ctx, "error stopping server: %v", err)
			}
			cancel()
			return
		}
	}()

	if _, err := controller.StartServer(ctx, profile, vars); err != nil {
		return err
	}

	var httpServer *http.Server
	if cfg.HTTPAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/", control.NewFrontEnd(controller).Handler())
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		httpServer = &http.Server{Addr: cfg.HTTPAddr, Handler: mux}
		go func() {
			logger.Info(ctx, "control-surface HTTP front end listening on %s", cfg.HTTPAddr)
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error(ctx, "control-surface HTTP server error: %v", err)
			}
		}()
	}

	if cfg.LogLevelValue() <= common.LevelDebug {
		go debugDumpTicker(ctx, logger, controller)
	}

	<-ctx.Done()
	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)
	}
	logger.Info(ctx, "server shutdown complete")
	return nil
}

func debugDumpTicker(ctx context.Context, logger common.LoggerInterface, controller *control.Controller) {
	tick := time.NewTicker(10 * time.Second)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			vars := controller.GetVariables()
			logger.Debug(ctx, "current catalog has %d variables", len(vars))
		}
	}
}

// sampleVariables mirrors the teacher's preloadSampleData, reimagined over
// the variable catalog instead of raw register pokes.
func sampleVariables() []model.Variable {
	return []model.Variable{
		{ID: "coil0", Name: "Sample Coil 0", Area: model.AreaCoil, Address: 0, DataType: model.DataTypeBool, Value: model.BoolValue(true)},
		{ID: "coil1", Name: "Sample Coil 1", Area: model.AreaCoil, Address: 1, DataType: model.DataTypeBool, Value: model.BoolValue(false)},
		{ID: "di0", Name: "Sample Discrete Input 0", Area: model.AreaDiscreteInput, Address: 0, DataType: model.DataTypeBool, Value: model.BoolValue(false)},
		{ID: "hr0", Name: "Sample Holding Register 0", Area: model.AreaHoldingRegister, Address: 0, DataType: model.DataTypeUint16, Value: model.NumberValue(1000)},
		{ID: "hr1", Name: "Sample Counter", Area: model.AreaHoldingRegister, Address: 1, DataType: model.DataTypeUint32, Value: model.NumberValue(0)},
		{ID: "ir0", Name: "Sample Input Register 0", Area: model.AreaInputRegister, Address: 0, DataType: model.DataTypeUint16, Value: model.NumberValue(100)},
		{ID: "temp", Name: "Sample Temperature", Area: model.AreaHoldingRegister, Address: 10, DataType: model.DataTypeFloat32, Value: model.NumberValue(72.5)},
	}
}
