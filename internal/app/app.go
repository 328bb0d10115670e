package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/you-humble/apsplot/internal/domain"
	"github.com/you-humble/apsplot/internal/transport"
)

type App struct {
	di *dependencyInjector
}

// New loads the configuration at cfgPath (empty means defaults plus
// environment) and sets up logging. Everything else is built on first use.
func New(cfgPath string) *App {
	di := newDI(cfgPath)
	di.Logger()
	return &App{di: di}
}

// Convert runs the full plot workflow for one drawing.
func (a *App) Convert(ctx context.Context, sourcePath string) (domain.Run, error) {
	defer a.close()
	return a.di.Workflow(ctx).Convert(ctx, sourcePath)
}

// Run returns the journal entry of a past run.
func (a *App) Run(ctx context.Context, id string) (domain.Run, error) {
	defer a.close()
	return a.di.Runs(ctx).Get(ctx, id)
}

// Serve runs the viewer front end, the health server and the retention loop
// until ctx is done.
func (a *App) Serve(ctx context.Context) error {
	defer a.close()
	cfg := a.di.Config()

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           a.di.Router(ctx),
		ReadHeaderTimeout: 10 * time.Second,
	}
	grpcSrv, hs := a.di.GRPCServer()
	retention := a.di.Retention(ctx)

	var grpcLis net.Listener
	if cfg.GRPC.Addr != "" {
		lis, err := net.Listen("tcp", cfg.GRPC.Addr)
		if err != nil {
			return fmt.Errorf("grpc listen %s: %w", cfg.GRPC.Addr, err)
		}
		grpcLis = lis
	}

	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		slog.Info("starting http server", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if grpcLis != nil {
		eg.Go(func() error {
			slog.Info("starting grpc health server", slog.String("addr", grpcLis.Addr().String()))
			hs.SetServingStatus(transport.ServiceName, healthpb.HealthCheckResponse_SERVING)
			return grpcSrv.Serve(grpcLis)
		})
	}

	eg.Go(func() error {
		return retention.Run(egCtx)
	})

	eg.Go(func() error {
		<-egCtx.Done()
		slog.Info("shutdown signal received")
		hs.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()

		grpcSrv.GracefulStop()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", slog.String("error", err.Error()))
			return err
		}
		slog.Info("server gracefully stopped")
		return nil
	})

	return eg.Wait()
}

// Watch prints run events as they are published until ctx is done.
func (a *App) Watch(ctx context.Context, durable string, w io.Writer) error {
	defer a.close()
	c, err := a.di.EventConsumer(durable)
	if err != nil {
		return err
	}
	return c.Run(ctx, func(_ context.Context, ev domain.Event) error {
		_, err := fmt.Fprintln(w, FormatEvent(ev))
		return err
	})
}

// FormatEvent renders one event as a single log-like line.
func FormatEvent(ev domain.Event) string {
	line := fmt.Sprintf("%s %-14s run=%s", ev.At.Format(time.RFC3339), ev.Type, ev.RunID)
	if ev.Track != "" {
		line += " track=" + ev.Track
	}
	if ev.Status != "" {
		line += " status=" + ev.Status
	}
	if ev.Error != "" {
		line += fmt.Sprintf(" error=%q", ev.Error)
	}
	return line
}

func (a *App) close() {
	if err := a.di.Close(a.di.Config().HTTP.ShutdownTimeout); err != nil {
		slog.Warn("release resources", slog.String("error", err.Error()))
	}
}
