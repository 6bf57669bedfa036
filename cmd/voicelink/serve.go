package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ent0n29/voicelink/internal/httpapi"
	"github.com/ent0n29/voicelink/internal/voice"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the local voice control API",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if cmd.Flags().Changed("addr") {
			cfg.BindAddr = serveAddr
		}
		log := logger

		reporter := voice.ReporterFunc(func(message string) {
			log.Warn("voice session error", "message", message)
		})
		st, err := buildStack(context.Background(), cfg, log, reporter)
		if err != nil {
			return err
		}

		api := httpapi.New(st.manager, st.journal, st.metrics, log)
		httpServer := &http.Server{
			Addr:    cfg.BindAddr,
			Handler: api.Router(),
		}

		serveErr := make(chan error, 1)
		go func() {
			log.Info("control API listening", "addr", cfg.BindAddr, "realtime_server", cfg.ServerURL)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- err
			}
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)

		var runErr error
		select {
		case <-sigCh:
			log.Info("shutdown signal received")
		case runErr = <-serveErr:
			log.Error("listen error", "error", runErr)
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Warn("graceful shutdown failed", "error", err)
			_ = httpServer.Close()
		}
		if err := st.Close(shutdownCtx); err != nil {
			log.Warn("voice shutdown incomplete", "error", err)
		}
		log.Info("shutdown complete")
		return runErr
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides VOICELINK_BIND_ADDR)")
}
