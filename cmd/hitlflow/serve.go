package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/hitlflow/hitlflow/internal/guard"
	"github.com/hitlflow/hitlflow/internal/ipc"
	"github.com/hitlflow/hitlflow/internal/persistence"
	"github.com/hitlflow/hitlflow/internal/store"
)

const sweepInterval = time.Minute

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := opts.open()
			if err != nil {
				return err
			}
			defer e.Close()

			if _, err := maxprocs.Set(maxprocs.Logger(func(format string, args ...any) {
				e.logger.Debug(fmt.Sprintf(format, args...))
			})); err != nil {
				e.logger.Warn("set GOMAXPROCS", slog.Any("error", err))
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, e)
		},
	}
}

func serve(ctx context.Context, e *env) error {
	rt, err := buildRuntime(ctx, e)
	if err != nil {
		return err
	}
	defer rt.Close()

	auth := &ipc.Authenticator{DB: e.db, Members: &store.MemberRepo{}}
	if issuer := e.cfg.Auth.OIDCIssuer; issuer != "" {
		auth.Verifier, err = ipc.NewVerifier(ctx, issuer, e.cfg.Auth.OIDCClientID)
		if err != nil {
			return err
		}
	}

	g := guard.NewGuard(e.cfg.RateLimitPerMinute)
	handler := &ipc.Handler{
		Agents:  rt.agents,
		Content: rt.content,
		Ledger:  rt.ledger,
		Logger:  e.logger,
	}
	srv := ipc.NewServer(handler, auth, g, ipc.ServerConfig{
		ListenAddr:   e.cfg.Server.ListenAddr,
		BodyLimit:    e.cfg.Server.BodyLimit,
		AllowOrigins: e.cfg.Server.AllowOrigins,
	})

	go sweep(ctx, e.logger, g, rt.parked, rt.historyKV)

	errCh := make(chan error, 1)
	go func() {
		e.logger.Info("hitlflow listening",
			slog.String("addr", e.cfg.Server.ListenAddr),
			slog.String("persistence", e.cfg.Persistence.Driver),
			slog.String("version", version))
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	e.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), e.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}

type sweeper interface {
	Sweep(ctx context.Context) (int64, error)
}

// sweep drops closed rate-limit windows and, for backends that keep expired
// rows around, expired interrupts and chat transcripts.
func sweep(ctx context.Context, logger *slog.Logger, g *guard.Guard, stores ...persistence.Store) {
	t := time.NewTicker(sweepInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		g.Sweep()
		sweepStores(ctx, logger, stores...)
	}
}

// sweepStores runs one eviction pass over every store that needs it.
func sweepStores(ctx context.Context, logger *slog.Logger, stores ...persistence.Store) int64 {
	var total int64
	for _, st := range stores {
		s, ok := st.(sweeper)
		if !ok {
			continue
		}
		n, err := s.Sweep(ctx)
		if err != nil {
			logger.Warn("sweep expired records", slog.Any("error", err))
			continue
		}
		total += n
	}
	if total > 0 {
		logger.Debug("swept expired records", slog.Int64("count", total))
	}
	return total
}
