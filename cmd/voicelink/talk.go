package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ent0n29/voicelink/internal/voice"
)

var (
	talkDocument string
	talkThread   string
	talkAuthor   string
	talkStub     bool
)

var talkCmd = &cobra.Command{
	Use:   "talk",
	Short: "Hold one voice session in the terminal until interrupted",
	RunE: func(_ *cobra.Command, _ []string) error {
		log := logger

		if talkStub {
			stop, url, err := startInProcessStub()
			if err != nil {
				return err
			}
			defer stop()
			cfg.ServerURL = url
		}

		errCh := make(chan string, 8)
		reporter := voice.ReporterFunc(func(message string) {
			select {
			case errCh <- message:
			default:
			}
		})
		st, err := buildStack(context.Background(), cfg, log, reporter)
		if err != nil {
			return err
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()
			if err := st.Close(ctx); err != nil {
				log.Warn("voice shutdown incomplete", "error", err)
			}
		}()

		var refreshes int
		refreshCh := make(chan struct{}, 16)
		err = st.manager.Connect(context.Background(), voice.ConnectParams{
			DocumentID: talkDocument,
			ThreadID:   talkThread,
			AuthorID:   talkAuthor,
			RefreshMessages: func() {
				select {
				case refreshCh <- struct{}{}:
				default:
				}
			},
		})
		if err != nil {
			return err
		}

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)

		ticker := time.NewTicker(200 * time.Millisecond)
		defer ticker.Stop()

		last := voice.State("")
		var lastErr string
		for {
			select {
			case <-sigCh:
				fmt.Println(dateStyle.Render("disconnecting"))
				return st.manager.Disconnect()
			case msg := <-errCh:
				lastErr = msg
				fmt.Println(errorStyle.Render(msg))
			case <-refreshCh:
				refreshes++
				fmt.Println(dateStyle.Render(fmt.Sprintf("thread updated (%d)", refreshes)))
			case <-ticker.C:
				snap := st.manager.Snapshot()
				if snap.State != last {
					fmt.Println(renderState(snap))
					last = snap.State
				}
				if snap.State == voice.StateIdle {
					// The reporter runs after teardown, so its message may trail the state.
					select {
					case msg := <-errCh:
						lastErr = msg
						fmt.Println(errorStyle.Render(msg))
					case <-time.After(100 * time.Millisecond):
					}
					if lastErr != "" {
						return errors.New(lastErr)
					}
					return nil
				}
			}
		}
	},
}

func renderState(s voice.Snapshot) string {
	switch s.State {
	case voice.StateStreaming:
		return okStyle.Render("● streaming") + " " + idStyle.Render(s.SessionID)
	case voice.StateConnecting:
		return warnStyle.Render("○ connecting") + " " + idStyle.Render(s.SessionID)
	default:
		return dateStyle.Render("idle")
	}
}

// startInProcessStub serves the stand-in realtime server on a free loopback
// port and returns its ws:// base URL.
func startInProcessStub() (func(), string, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, "", err
	}
	srv := &http.Server{Handler: newStubServer().Router()}
	go func() { _ = srv.Serve(ln) }()
	stop := func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
	return stop, "ws://" + ln.Addr().String(), nil
}

func init() {
	talkCmd.Flags().StringVarP(&talkDocument, "document", "d", "", "Document id")
	talkCmd.Flags().StringVarP(&talkThread, "thread", "t", "", "Thread id")
	talkCmd.Flags().StringVarP(&talkAuthor, "author", "a", "", "Author id")
	talkCmd.Flags().BoolVar(&talkStub, "stub", false, "Talk to an in-process stand-in server")
	for _, name := range []string{"document", "thread", "author"} {
		_ = talkCmd.MarkFlagRequired(name)
	}
}
