package routing

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/ksred/klear-mf/internal/metrics"
)

const (
	ReloadApplied   = "applied"
	ReloadUnchanged = "unchanged"
	ReloadFailed    = "failed"

	reloadTimeout = 5 * time.Second
)

// Reloader polls the stored routing config and swaps it into the hub when
// its revision changes.
type Reloader struct {
	hub      *Hub
	db       *Database
	metrics  *metrics.Metrics
	cron     *cron.Cron
	logger   zerolog.Logger
	mu       sync.Mutex
	revision int64
}

func NewReloader(hub *Hub, db *Database, m *metrics.Metrics) *Reloader {
	return &Reloader{
		hub:     hub,
		db:      db,
		metrics: m,
		cron:    cron.New(),
		logger:  hub.logger.With().Str("component", "routing_reloader").Logger(),
	}
}

// Reload applies the stored config if its revision differs from the last one
// applied. It returns ReloadApplied, ReloadUnchanged or ReloadFailed.
func (r *Reloader) Reload(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cfg, revision, err := r.db.LoadConfig(ctx)
	if err != nil {
		r.metrics.ObserveConfigReload(ReloadFailed)
		return ReloadFailed, err
	}
	if revision == 0 || revision == r.revision {
		r.metrics.ObserveConfigReload(ReloadUnchanged)
		return ReloadUnchanged, nil
	}

	version, err := r.hub.UpdateConfig(cfg)
	if err != nil {
		r.metrics.ObserveConfigReload(ReloadFailed)
		return ReloadFailed, err
	}
	r.revision = revision
	r.metrics.ObserveConfigReload(ReloadApplied)

	r.logger.Info().
		Int64("revision", revision).
		Int64("config_version", version).
		Msg("routing config reloaded")
	return ReloadApplied, nil
}

// Save stores cfg and applies it immediately.
func (r *Reloader) Save(ctx context.Context, cfg *Config) (*Config, error) {
	// Validate before touching storage.
	if _, err := NewConfig(cfg.Rules, cfg.DefaultConnector); err != nil {
		return nil, err
	}
	if _, err := r.db.SaveConfig(ctx, cfg); err != nil {
		return nil, err
	}
	if _, err := r.Reload(ctx); err != nil {
		return nil, err
	}
	return r.hub.Config(), nil
}

// Start schedules Reload using a cron spec such as "@every 30s".
func (r *Reloader) Start(schedule string) error {
	_, err := r.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), reloadTimeout)
		defer cancel()
		if _, err := r.Reload(ctx); err != nil {
			r.logger.Error().Err(err).Msg("routing config reload failed")
		}
	})
	if err != nil {
		return err
	}

	r.cron.Start()
	r.logger.Info().Str("schedule", schedule).Msg("routing config reloader started")
	return nil
}

func (r *Reloader) Stop() {
	<-r.cron.Stop().Done()
	r.logger.Info().Msg("routing config reloader stopped")
}
