package container

import (
	"context"
	"fmt"

	"github.com/repnlab/labstore/cmd/labstore/middleware"
	"github.com/repnlab/labstore/cmd/labstore/repository"
	"github.com/repnlab/labstore/cmd/labstore/roster"
	"github.com/repnlab/labstore/cmd/labstore/service"
	"github.com/repnlab/labstore/common/bootstrap"
)

// Container holds all initialized services and repositories (singleton pattern)
type Container struct {
	// Components
	Components *bootstrap.Components

	// Repositories
	UploadLog repository.UploadLog
	Roster    *roster.Roster
	Sessions  *middleware.SessionStore

	// Services
	Paths      *service.PathResolver
	FileStore  *service.FileStore
	Inventory  *service.Inventory
	Notes      *service.NoteStore
	Policy     *service.UploadPolicy
	Reconciler *service.Reconciler
}

// NewContainer initializes all services and repositories once
func NewContainer(ctx context.Context, components *bootstrap.Components) (*Container, error) {
	cfg := components.Config
	log := components.Logger

	// Initialize repositories
	uploads, err := repository.New(cfg, components.DB, components.Metrics, log)
	if err != nil {
		return nil, fmt.Errorf("failed to open upload log: %w", err)
	}

	var employees *roster.Roster
	if cfg.Auth.Mode == "roster" {
		employees = roster.New(cfg.Roster, components.Metrics, log)
		if err := employees.Start(ctx); err != nil {
			uploads.Close()
			return nil, fmt.Errorf("failed to start roster: %w", err)
		}
	}

	policy, err := service.NewUploadPolicy(cfg.Upload.Rule, cfg.Upload.MaxBytes)
	if err != nil {
		uploads.Close()
		if employees != nil {
			employees.Stop()
		}
		return nil, fmt.Errorf("invalid upload rule: %w", err)
	}

	// Initialize services (bottom-up: dependencies first)
	paths := service.NewPathResolver(cfg.Storage, cfg.Categories)
	fileStore := service.NewFileStore(paths, components.Locker, service.FileStoreOptions{
		LockTTL:       cfg.Lock.TTL,
		LockWait:      cfg.Lock.Wait,
		RemoveCascade: cfg.Storage.RemoveCascade,
	}, components.Metrics, log)
	inventory := service.NewInventory(paths)
	notes := service.NewNoteStore(paths, components.Locker, cfg.Lock.TTL, cfg.Lock.Wait, log)

	var logReader service.LogReader
	if cfg.Upload.LogBackend != "none" {
		logReader = uploads
	}
	reconciler := service.NewReconciler(logReader, inventory, fileStore, notes, log)

	return &Container{
		Components: components,
		UploadLog:  uploads,
		Roster:     employees,
		Sessions:   middleware.NewSessionStore(components.Sessions, cfg.Auth.SessionTTL),
		Paths:      paths,
		FileStore:  fileStore,
		Inventory:  inventory,
		Notes:      notes,
		Policy:     policy,
		Reconciler: reconciler,
	}, nil
}

// Close releases resources owned by the container
func (c *Container) Close() error {
	if c.Roster != nil {
		if err := c.Roster.Stop(); err != nil {
			c.Components.Logger.Warn("failed to stop roster watcher", "error", err)
		}
	}
	return c.UploadLog.Close()
}
