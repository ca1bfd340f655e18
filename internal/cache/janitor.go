package cache

import (
	"context"
	"log/slog"
	"time"
)

// Janitor periodically sweeps expired entries and enforces the size ceiling.
type Janitor struct {
	engine   *Engine
	logger   *slog.Logger
	interval time.Duration
	resets   chan time.Duration
}

// NewJanitor returns a janitor for engine. Non-positive intervals default to 15m.
func NewJanitor(engine *Engine, interval time.Duration, logger *slog.Logger) *Janitor {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Janitor{
		engine:   engine,
		logger:   logger.With(slog.String("component", "janitor")),
		interval: interval,
		resets:   make(chan time.Duration, 1),
	}
}

// SetInterval changes the sweep period of a running janitor.
func (j *Janitor) SetInterval(interval time.Duration) {
	if interval <= 0 {
		return
	}
	select {
	case <-j.resets:
	default:
	}
	select {
	case j.resets <- interval:
	default:
	}
}

// Run sweeps once immediately and then on every tick until ctx ends.
func (j *Janitor) Run(ctx context.Context) error {
	j.sweep(ctx)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case interval := <-j.resets:
			j.interval = interval
			ticker.Reset(interval)
			j.logger.Info("janitor interval updated", slog.Duration("interval", interval))
		case <-ticker.C:
			j.sweep(ctx)
		}
	}
}

func (j *Janitor) sweep(ctx context.Context) {
	expired := j.engine.ClearExpired(ctx)
	evicted := j.engine.Cleanup(ctx)
	if expired > 0 || evicted > 0 {
		j.logger.Info("janitor sweep complete",
			slog.Int("expired", expired),
			slog.Int("evicted", evicted),
			slog.Int64("size_bytes", j.engine.Size(ctx)),
		)
	}
}
