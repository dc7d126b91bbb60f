package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"expensifyos/internal/expensify/stub"
	"expensifyos/internal/ratelimit"
)

func main() {
	var (
		addr      string
		userID    string
		secret    string
		unlimited bool
	)
	cmd := &cobra.Command{
		Use:          "expensify-stub",
		Short:        "In-memory Expensify Integration Server for local runs",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := slog.New(slog.NewTextHandler(os.Stderr, nil))
			var limiter *ratelimit.Limiter
			if !unlimited {
				limiter = ratelimit.NewDefault()
			}
			srv := &http.Server{
				Addr:              addr,
				Handler:           stub.New(userID, secret, limiter, log),
				ReadHeaderTimeout: 10 * time.Second,
			}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(ctx)
			}()
			log.Info("expensify stub listening", "addr", addr)
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address")
	cmd.Flags().StringVar(&userID, "partner-user-id", "stub", "accepted partnerUserID")
	cmd.Flags().StringVar(&secret, "partner-user-secret", "stub", "accepted partnerUserSecret")
	cmd.Flags().BoolVar(&unlimited, "unlimited", false, "disable the 5/10s and 20/60s request limits")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
