package main

import (
	"fmt"
	"log"
	"os"

	"github.com/Yheng/CropGuard-sub000/internal/config"
	"github.com/Yheng/CropGuard-sub000/internal/netmon"
	"github.com/Yheng/CropGuard-sub000/internal/store"
	"github.com/Yheng/CropGuard-sub000/internal/sync"
	"github.com/Yheng/CropGuard-sub000/internal/transport"
)

// runtime bundles the wired collaborators a command needs. Close releases
// the database and stops the network monitor.
type runtime struct {
	cfg     *config.Config
	db      *store.DB
	monitor *netmon.Monitor
	engine  *sync.Engine
}

// openRuntime wires the store, transport, network monitor and engine from
// the resolved configuration.
func openRuntime(cfg *config.Config, logger *log.Logger) (*runtime, error) {
	db, err := store.Open(cfg.DB.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open queue database: %w", err)
	}

	client, err := transport.New(cfg.API.BaseURL, cfg.API.Token, nil)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	monitor := netmon.New(cfg.Net.ProbeURL, cfg.Net.Interval, logger)

	engineCfg := cfg.EngineConfig()
	engineCfg.Logger = logger

	return &runtime{
		cfg:     cfg,
		db:      db,
		monitor: monitor,
		engine:  sync.New(db, db, client, monitor, engineCfg),
	}, nil
}

func (r *runtime) Close() {
	r.monitor.Stop()
	if err := r.db.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to close database: %v\n", err)
	}
}
