package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"hostguard/internal/config"
	"hostguard/internal/policy"
)

// runIngestion periodically refreshes every configured blacklist source.
// It is independent of the reconciliation tick: a stuck fetch never
// stalls enforcement.
func (e *Engine) runIngestion(ctx context.Context) {
	logrus.WithFields(logrus.Fields{
		"sources":  len(e.cfg.Blacklist.Sources),
		"interval": e.cfg.Blacklist.UpdateInterval,
	}).Info("Blacklist ingestion started")

	// First run happens immediately so a fresh install gets its lists.
	if err := e.IngestOnce(ctx); err != nil {
		logrus.WithError(err).Warn("Initial blacklist ingestion incomplete")
	}

	ticker := time.NewTicker(e.cfg.Blacklist.UpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logrus.Info("Blacklist ingestion stopped")
			return
		case <-ticker.C:
			if err := e.IngestOnce(ctx); err != nil {
				logrus.WithError(err).Warn("Blacklist ingestion incomplete")
			}
		}
	}
}

// IngestOnce fetches every configured source once. A failed fetch leaves
// the previous category contents untouched; the last error is returned
// after all sources have been attempted.
func (e *Engine) IngestOnce(ctx context.Context) error {
	var lastErr error

	for i := range e.cfg.Blacklist.Sources {
		src := &e.cfg.Blacklist.Sources[i]

		domains, err := e.ingester.Fetch(ctx, src)
		if err != nil {
			lastErr = err
			logrus.WithError(err).WithField("url", src.URL).
				Warn("Blocklist fetch failed, keeping previous category contents")
			continue
		}

		if err := e.mergeCategory(src, domains); err != nil {
			lastErr = err
			continue
		}

		logrus.WithFields(logrus.Fields{
			"category": src.Category,
			"domains":  len(domains),
		}).Info("Refreshed category from blocklist")
	}

	return lastErr
}

// mergeCategory swaps in the fetched domains as the category's new
// contents in a single policy write.
func (e *Engine) mergeCategory(src *config.SourceConfig, domains []string) error {
	now := time.Now()

	e.mu.Lock()
	defer e.mu.Unlock()

	e.pol.ReplaceCategory(src.Category, domains)
	e.upsertSourceLocked(src, len(domains), now)

	if err := e.saveLocked(now); err != nil {
		return err
	}

	e.notify()
	return nil
}

// upsertSourceLocked records fetch bookkeeping for a source, creating
// the record on first successful fetch. Caller holds e.mu.
func (e *Engine) upsertSourceLocked(src *config.SourceConfig, count int, now time.Time) {
	for i := range e.pol.Sources {
		if e.pol.Sources[i].URL == src.URL {
			e.pol.Sources[i].LastFetch = now
			e.pol.Sources[i].DomainCount = count
			return
		}
	}
	e.pol.Sources = append(e.pol.Sources, policy.Source{
		ID:          uuid.NewString(),
		URL:         src.URL,
		Category:    src.Category,
		Format:      src.Format,
		LastFetch:   now,
		DomainCount: count,
	})
}
