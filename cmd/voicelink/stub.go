package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ent0n29/voicelink/internal/stubserver"
)

var (
	stubAddr        string
	stubThresholdDB float64
	stubHold        time.Duration
	stubFailAfter   int
)

var stubCmd = &cobra.Command{
	Use:   "stub",
	Short: "Run a stand-in realtime server that echoes each utterance",
	RunE: func(_ *cobra.Command, _ []string) error {
		srv := newStubServer()
		ln, err := net.Listen("tcp", stubAddr)
		if err != nil {
			return err
		}
		httpServer := &http.Server{Handler: srv.Router()}

		serveErr := make(chan error, 1)
		go func() {
			logger.Info("stub realtime server listening", "addr", ln.Addr().String())
			if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- err
			}
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)

		var runErr error
		select {
		case <-sigCh:
		case runErr = <-serveErr:
		}
		ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			_ = httpServer.Close()
		}
		return runErr
	},
}

func newStubServer() *stubserver.Server {
	return stubserver.New(stubserver.Options{
		ThresholdDB: stubThresholdDB,
		SilenceHold: stubHold,
		FailAfter:   stubFailAfter,
		Logger:      logger.With("component", "stub"),
	})
}

func init() {
	stubCmd.Flags().StringVar(&stubAddr, "addr", "127.0.0.1:8080", "Listen address")
	stubCmd.Flags().Float64Var(&stubThresholdDB, "threshold-db", stubserver.DefaultThresholdDB, "RMS level in dBFS that counts as speech")
	stubCmd.Flags().DurationVar(&stubHold, "silence-hold", stubserver.DefaultSilenceHold, "Silence that ends an utterance")
	stubCmd.Flags().IntVar(&stubFailAfter, "fail-after", 0, "Answer the Nth utterance with a failure frame (0 disables)")
}
