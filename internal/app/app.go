// Package app builds the grocery list components from a validated config.
package app

import (
	"context"
	"fmt"

	"grocery_list/internal/appscript"
	"grocery_list/internal/cache"
	"grocery_list/internal/config"
	"grocery_list/internal/coordinator"
	"grocery_list/internal/grocery"
	"grocery_list/internal/imagehost"
	"grocery_list/internal/notifications"
	"grocery_list/internal/sheets"

	"github.com/rs/zerolog/log"
)

type App struct {
	Config    *config.Config
	Cache     *cache.Cache
	Groceries *coordinator.Coordinator
	Images    *imagehost.Pipeline
	Notifier  *notifications.Client
}

// New wires the store, cache, image pipeline and notifier selected by cfg.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	log.Debug().Msg("Initializing clients")

	store, err := initializeStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	storage, err := initializeStorage(cfg)
	if err != nil {
		return nil, err
	}
	c := cache.New(storage)

	notifier := InitializeNotificationClient(cfg)
	groceries := coordinator.New(store, c, coordinator.WithWarner(syncWarner{notifier: notifier}))

	uploader := imagehost.NewUploader(cfg.ImgBBAPIKey, cfg.ImgBBUploadURL, cfg.HTTPTimeout)
	if !cfg.ImageUploadConfigured() {
		log.Debug().Msg("Image host key not configured; uploads will fail")
	}

	log.Debug().Msg("Clients initialized successfully")
	return &App{
		Config:    cfg,
		Cache:     c,
		Groceries: groceries,
		Images:    imagehost.NewPipeline(uploader),
		Notifier:  notifier,
	}, nil
}

func (a *App) Close() error {
	if a.Notifier.Enabled() {
		sent, failed := a.Notifier.GetMetrics()
		log.Debug().
			Int64("sent", sent).
			Int64("failed", failed).
			Msg("Notification summary")
	}
	return a.Cache.Close()
}

func initializeStore(ctx context.Context, cfg *config.Config) (grocery.Store, error) {
	switch cfg.StoreBackend {
	case config.BackendSheets:
		client, err := sheets.NewClient(ctx, cfg.CredentialsFile)
		if err != nil {
			return nil, err
		}
		log.Debug().
			Str("spreadsheet_id", cfg.SpreadsheetID).
			Str("sheet", cfg.SheetName).
			Msg("Using Google Sheets store")
		return sheets.NewStore(client, cfg.SpreadsheetID, cfg.SheetName, cfg.Targeting).WithTimeout(cfg.HTTPTimeout), nil
	case config.BackendAppScript:
		log.Debug().Str("targeting", string(cfg.Targeting)).Msg("Using Apps Script store")
		return appscript.NewClient(cfg.AppsScriptURL, cfg.Targeting, cfg.HTTPTimeout), nil
	default:
		return nil, &config.Error{Key: "STORE_BACKEND", Reason: fmt.Sprintf("has unknown value %q", cfg.StoreBackend)}
	}
}

func initializeStorage(cfg *config.Config) (cache.Storage, error) {
	switch cfg.CacheBackend {
	case config.CacheSQLite:
		return cache.NewSQLiteStorage(cfg.CachePath)
	case config.CacheFile:
		return cache.NewFileStorage(cfg.CachePath)
	default:
		return nil, &config.Error{Key: "CACHE_BACKEND", Reason: fmt.Sprintf("has unknown value %q", cfg.CacheBackend)}
	}
}

// InitializeNotificationClient creates the ntfy client used for sync warnings.
func InitializeNotificationClient(cfg *config.Config) *notifications.Client {
	log.Debug().
		Bool("enabled", cfg.Ntfy.Enabled).
		Str("base_url", cfg.Ntfy.URL).
		Str("topic", cfg.Ntfy.Topic).
		Msg("Initializing notification client")

	client := notifications.NewClient(cfg.Ntfy.URL, cfg.Ntfy.Topic, cfg.Ntfy.Enabled, cfg.Ntfy.Priority, cfg.HTTPTimeout)

	if cfg.Ntfy.Enabled {
		log.Info().Str("topic", cfg.Ntfy.Topic).Msg("Notifications enabled")
	} else {
		log.Debug().Msg("Notifications disabled")
	}

	return client
}

// syncWarner logs rollback warnings and forwards them to ntfy when enabled.
type syncWarner struct {
	notifier *notifications.Client
}

func (w syncWarner) Warn(ctx context.Context, message string) {
	log.Warn().Str("warning", message).Msg("Sync warning")
	if w.notifier != nil && w.notifier.Enabled() {
		w.notifier.Warn(ctx, message)
	}
}
