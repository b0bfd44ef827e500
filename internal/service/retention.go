// Package service holds background services that run alongside the HTTP
// server.
package service

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
	registrystore "github.com/chatstack/messaging-service/internal/registry/store"
	"github.com/chatstack/messaging-service/internal/security"
)

// RetentionSweeper periodically deletes read notifications older than the
// configured retention window. Deletion happens in small batches to keep
// transactions short.
type RetentionSweeper struct {
	store     registrystore.MessagingStore
	retention time.Duration
	interval  time.Duration
	batchSize int
}

// NewRetentionSweeper creates a sweeper. A zero retention disables it.
func NewRetentionSweeper(store registrystore.MessagingStore, retention, interval time.Duration, batchSize int) *RetentionSweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	if batchSize <= 0 {
		batchSize = 1000
	}
	return &RetentionSweeper{
		store:     store,
		retention: retention,
		interval:  interval,
		batchSize: batchSize,
	}
}

// Start runs the sweep loop until the context is cancelled.
func (s *RetentionSweeper) Start(ctx context.Context) {
	if s.retention <= 0 {
		log.Info("Notification retention sweeper disabled")
		return
	}
	log.Info("Notification retention sweeper started",
		"retention", s.retention,
		"interval", s.interval,
		"batchSize", s.batchSize,
	)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *RetentionSweeper) sweep(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.retention)
	var total int64
	for {
		purged, err := s.store.PurgeReadNotifications(ctx, cutoff, s.batchSize)
		if err != nil {
			log.Error("Notification sweep failed", "err", err)
			return
		}
		total += purged
		if security.NotificationsPurgedTotal != nil && purged > 0 {
			security.NotificationsPurgedTotal.Add(float64(purged))
		}
		if purged < int64(s.batchSize) {
			break
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
	if total > 0 {
		log.Info("Notification sweep complete", "purged", total, "cutoff", cutoff)
	}
}
