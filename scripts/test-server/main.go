// Command test-server serves an HTTP endpoint with a fixed capacity so
// flywheel findmax has something real to search against:
//
//	go run ./scripts/test-server --capacity 1500 --addr :8080
//	flywheel findmax --url http://localhost:8080/work --threads 64
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

	"github.com/spf13/cobra"

	"github.com/wesleyorama2/flywheel/internal/flywheel"
	"github.com/wesleyorama2/flywheel/internal/logging"
)

func main() {
	if err := newCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newCmd() *cobra.Command {
	var (
		addr     string
		capacity float64
		latency  time.Duration
	)

	cmd := &cobra.Command{
		Use:          "test-server",
		Short:        "Serve /work at a fixed capacity and /health unconditionally",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := logging.New(logging.Options{Writer: cmd.ErrOrStderr()})
			if err != nil {
				return err
			}

			slots := int(capacity*latency.Seconds() + 0.5)
			op, err := flywheel.NewSyntheticOp(slots, latency, 5*latency)
			if err != nil {
				return err
			}

			mux := http.NewServeMux()
			mux.HandleFunc("/work", func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				if err := op.Do(r.Context()); err != nil {
					w.WriteHeader(http.StatusServiceUnavailable)
					fmt.Fprint(w, `{"status":"overloaded"}`)
					return
				}
				fmt.Fprint(w, `{"status":"ok"}`)
			})
			mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
				fmt.Fprint(w, "healthy")
			})

			server := &http.Server{
				Addr:              addr,
				Handler:           mux,
				ReadTimeout:       5 * time.Second,
				WriteTimeout:      5 * time.Second,
				IdleTimeout:       120 * time.Second,
				MaxHeaderBytes:    1 << 20,
				ReadHeaderTimeout: 2 * time.Second,
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = server.Shutdown(shutdownCtx)
			}()

			logger.Info("test server listening", "addr", addr, "capacity", op.Capacity(), "latency", latency)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8080", "Listen address")
	cmd.Flags().Float64Var(&capacity, "capacity", 1000, "Requests per second /work sustains")
	cmd.Flags().DurationVar(&latency, "latency", 10*time.Millisecond, "Service time of one /work request")
	return cmd
}
