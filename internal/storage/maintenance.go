package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/parley-org/parley/internal/logger"
	"github.com/parley-org/parley/internal/models"
)

// MaintenanceConfig wires the periodic jobs: auto-save of active
// discussions, cache purges and optional scheduled backups.
type MaintenanceConfig struct {
	Store *Store

	// AutoSaveInterval between persists of active discussions.
	AutoSaveInterval time.Duration

	// ActiveDiscussions returns the discussions to auto-save.
	ActiveDiscussions func() []*models.Discussion

	// CachePurgeInterval between purges; PurgeCaches drops derived
	// caches (contexts, token estimates).
	CachePurgeInterval time.Duration
	PurgeCaches        func()

	// MemoryReleaseInterval between registry sweeps; ReleaseIdle evicts
	// terminal discussions from memory and reports how many it dropped.
	MemoryReleaseInterval time.Duration
	ReleaseIdle           func() int

	// BackupSchedule is a cron expression; empty disables scheduled
	// backups.
	BackupSchedule string
}

// Maintenance runs the store's periodic jobs on a cron scheduler.
type Maintenance struct {
	cron *cron.Cron
}

// NewMaintenance registers the configured jobs. Call Start to run
// them.
func NewMaintenance(ctx context.Context, cfg MaintenanceConfig) (*Maintenance, error) {
	c := cron.New()

	if cfg.AutoSaveInterval > 0 && cfg.ActiveDiscussions != nil {
		spec := fmt.Sprintf("@every %s", cfg.AutoSaveInterval)
		if _, err := c.AddFunc(spec, func() {
			cfg.Store.AutoSave(ctx, cfg.ActiveDiscussions())
		}); err != nil {
			return nil, fmt.Errorf("failed to schedule auto-save: %w", err)
		}
	}

	if cfg.CachePurgeInterval > 0 && cfg.PurgeCaches != nil {
		spec := fmt.Sprintf("@every %s", cfg.CachePurgeInterval)
		if _, err := c.AddFunc(spec, func() {
			cfg.PurgeCaches()
			logger.Debug(ctx, "Purged derived caches")
		}); err != nil {
			return nil, fmt.Errorf("failed to schedule cache purge: %w", err)
		}
	}

	if cfg.MemoryReleaseInterval > 0 && cfg.ReleaseIdle != nil {
		spec := fmt.Sprintf("@every %s", cfg.MemoryReleaseInterval)
		if _, err := c.AddFunc(spec, func() {
			if released := cfg.ReleaseIdle(); released > 0 {
				logger.Debug(ctx, "Released idle discussions from memory", "count", released)
			}
		}); err != nil {
			return nil, fmt.Errorf("failed to schedule memory release: %w", err)
		}
	}

	if cfg.BackupSchedule != "" {
		if _, err := c.AddFunc(cfg.BackupSchedule, func() {
			if _, err := cfg.Store.Backup(ctx); err != nil {
				logger.Error(ctx, "Scheduled backup failed", "err", err)
			}
		}); err != nil {
			return nil, fmt.Errorf("invalid backup schedule %q: %w", cfg.BackupSchedule, err)
		}
	}

	return &Maintenance{cron: c}, nil
}

// Start launches the scheduler goroutine.
func (m *Maintenance) Start() {
	m.cron.Start()
}

// Stop halts the scheduler and waits for running jobs.
func (m *Maintenance) Stop() {
	<-m.cron.Stop().Done()
}
