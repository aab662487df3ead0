package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// StatsSource is satisfied by every Manager instantiation.
type StatsSource interface {
	Stats() []Stats
}

// Exporter periodically copies session snapshots into a StatsStore.
type Exporter struct {
	source   StatsSource
	store    StatsStore
	interval time.Duration
}

func NewExporter(source StatsSource, store StatsStore, interval time.Duration) *Exporter {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Exporter{source: source, store: store, interval: interval}
}

// ExportOnce saves every snapshot and returns the joined save errors.
func (e *Exporter) ExportOnce(ctx context.Context) error {
	var errs []error
	for _, st := range e.source.Stats() {
		if err := e.store.Save(ctx, st); err != nil {
			errs = append(errs, fmt.Errorf("export %s: %w", st.Key, err))
		}
	}
	return errors.Join(errs...)
}

// Run exports on every tick until ctx is done.
func (e *Exporter) Run(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.ExportOnce(ctx); err != nil {
				log.Warn().Err(err).Msg("session stats export failed")
			}
		}
	}
}
