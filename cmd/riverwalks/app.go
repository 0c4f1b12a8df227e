package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/lukejkirsten91/riverwalks-sub003/internal/config"
	"github.com/lukejkirsten91/riverwalks-sub003/internal/connectivity"
	"github.com/lukejkirsten91/riverwalks-sub003/internal/engine"
	"github.com/lukejkirsten91/riverwalks-sub003/internal/photos"
	"github.com/lukejkirsten91/riverwalks-sub003/internal/queue"
	"github.com/lukejkirsten91/riverwalks-sub003/internal/remote"
	"github.com/lukejkirsten91/riverwalks-sub003/internal/store"
)

// app bundles the wired components behind every command.
type app struct {
	cfg     *config.Config
	store   *store.DB
	queue   *queue.Queue
	monitor *connectivity.Monitor
	engine  *engine.Engine
	blobs   *photos.BlobStore
}

// openApp wires store, queue, connectivity, remote client, and engine
// from configuration. Commands must call close when done.
func openApp(logger *log.Logger) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if cfg.Remote.BaseURL == "" {
		return nil, fmt.Errorf("remote.base_url is not configured (set RIVERWALKS_REMOTE_BASE_URL or riverwalks.yaml)")
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	db, err := store.Open(cfg.StorePath())
	if err != nil {
		return nil, err
	}

	q, err := queue.New(db.RawDB())
	if err != nil {
		db.Close()
		return nil, err
	}

	blobs, err := photos.NewBlobStore(cfg.BlobDir())
	if err != nil {
		db.Close()
		return nil, err
	}

	httpClient := &http.Client{Timeout: cfg.Remote.Timeout}
	token := func(ctx context.Context) (string, error) { return cfg.Remote.Token, nil }
	rs, err := remote.NewHTTPStore(cfg.Remote.BaseURL, token, httpClient)
	if err != nil {
		db.Close()
		return nil, err
	}

	identity := remote.NewCachedIdentity(remote.TokenFunc(func(ctx context.Context) (string, error) {
		return cfg.Remote.UserID, nil
	}))

	monitor, err := connectivity.New(
		connectivity.HTTPProbe(cfg.Remote.BaseURL+"/health", httpClient),
		&connectivity.Config{
			HeartbeatInterval: cfg.Sync.HeartbeatInterval,
			SettleDelay:       cfg.Sync.SettleDelay,
			Logger:            log.New(logger.Writer(), "[connectivity] ", log.LstdFlags),
		},
	)
	if err != nil {
		db.Close()
		return nil, err
	}

	eng, err := engine.New(db, q, monitor, rs, identity, blobs, &engine.Config{
		SyncInterval:       cfg.Sync.Interval,
		OrphanScanInterval: cfg.Sync.OrphanScanInterval,
		Logger:             log.New(logger.Writer(), "[engine] ", log.LstdFlags),
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &app{
		cfg:     cfg,
		store:   db,
		queue:   q,
		monitor: monitor,
		engine:  eng,
		blobs:   blobs,
	}, nil
}

func (a *app) close() {
	a.monitor.Stop()
	if err := a.store.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to close store: %v\n", err)
	}
}
