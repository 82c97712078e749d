package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/repnlab/labstore/cmd/labstore/container"
	appmw "github.com/repnlab/labstore/cmd/labstore/middleware"
	"github.com/repnlab/labstore/cmd/labstore/repository"
	"github.com/repnlab/labstore/cmd/labstore/routes"
	"github.com/repnlab/labstore/common/bootstrap"
	"github.com/repnlab/labstore/common/db"
	"github.com/repnlab/labstore/common/server"
)

const serviceName = "labstore"

// multipart framing on top of the file itself
const uploadOverheadKB = 1024

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Bootstrap common components (config, logger, metrics, locks, sessions, telemetry)
	components, err := bootstrap.Setup(ctx, serviceName, bootstrap.WithDBInitHook(func(database *db.DB) error {
		return repository.Migrate(ctx, database)
	}))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap %s: %v\n", serviceName, err)
		os.Exit(1)
	}
	defer components.Shutdown(context.Background())

	// Initialize service container (singleton pattern - all services created once)
	serviceContainer, err := container.NewContainer(ctx, components)
	if err != nil {
		components.Logger.Error("failed to initialize service container", "error", err)
		components.Shutdown(context.Background())
		os.Exit(1)
	}
	defer serviceContainer.Close()

	// Initialize Echo server
	e := setupEcho()

	// Setup middleware
	setupMiddleware(e, components)

	// Setup health check
	setupHealthCheck(e, components)

	// Register all routes
	registerRoutes(e, serviceContainer)

	if err := run(ctx, e, components); err != nil {
		components.Logger.Error("server error", "error", err)
		serviceContainer.Close()
		components.Shutdown(context.Background())
		os.Exit(1)
	}
}

// setupEcho initializes the Echo server with basic configuration
func setupEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	return e
}

// setupMiddleware configures all middleware for the Echo server
func setupMiddleware(e *echo.Echo, components *bootstrap.Components) {
	log := components.Logger

	e.Use(middleware.RequestID())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			level := slog.LevelInfo
			switch {
			case v.Status >= http.StatusInternalServerError:
				level = slog.LevelError
			case v.Status >= http.StatusBadRequest:
				level = slog.LevelWarn
			}

			attrs := []slog.Attr{
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
				slog.String("request_id", v.RequestID),
			}
			if actor := appmw.GetActor(c); actor != "" {
				attrs = append(attrs, slog.String("actor", actor))
			}
			if v.Error != nil {
				attrs = append(attrs, slog.String("error", v.Error.Error()))
			}
			log.LogAttrs(c.Request().Context(), level, "request", attrs...)
			return nil
		},
	}))
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.BodyLimit(fmt.Sprintf("%dK", components.Config.Upload.MaxBytes/1024+uploadOverheadKB)))
	e.Use(appmw.RequestContext())
	e.Use(appmw.Metrics(components.Metrics))
}

// setupHealthCheck registers the health check endpoint
func setupHealthCheck(e *echo.Echo, components *bootstrap.Components) {
	e.GET("/health", func(c echo.Context) error {
		if err := components.Health(c.Request().Context()); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{
				"status":  "unhealthy",
				"service": serviceName,
				"error":   err.Error(),
			})
		}
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"service": serviceName,
		})
	})
}

// registerRoutes registers all application routes using the service container
func registerRoutes(e *echo.Echo, serviceContainer *container.Container) {
	routes.RegisterAuthRoutes(e, serviceContainer)
	routes.RegisterCategoryRoutes(e, serviceContainer)
	routes.RegisterFileRoutes(e, serviceContainer)
	routes.RegisterNoteRoutes(e, serviceContainer)
	routes.RegisterLogRoutes(e, serviceContainer)
}

// run serves the API and, when enabled, the static file server until ctx
// is cancelled. File server failures are logged and never stop the API.
func run(ctx context.Context, e *echo.Echo, components *bootstrap.Components) error {
	cfg := components.Config
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return server.New("api", cfg.Service.Port, e, components.Logger).Run(gctx)
	})

	if cfg.FileServer.Enabled {
		g.Go(func() error {
			exclude := server.Excludes(cfg.Storage.Root,
				filepath.Join(cfg.Storage.Root, cfg.Storage.ArchiveDir),
				cfg.Storage.LocalMirrorRoot,
				cfg.Upload.LogPath,
			)
			handler := server.FileHandler(cfg.Storage.Root, components.Logger, exclude...)
			files := server.New("file server", cfg.FileServer.Port, handler, components.Logger)
			if err := files.Run(gctx); err != nil {
				components.Logger.Warn("file server stopped", "addr", files.Addr(), "error", err)
			}
			return nil
		})
	}

	return g.Wait()
}
