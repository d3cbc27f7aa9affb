// Package pipeline reconciles remote channel listings with the local store
// and drives analysis of videos that don't have a recommendation yet.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"stocksight/internal/storage"
	"stocksight/internal/youtube"
)

// DefaultMinDuration is the threshold below which a video counts as a
// short-form clip and is skipped for analysis.
const DefaultMinDuration = 300

// Lister fetches the full upload listing of a channel.
type Lister interface {
	ListChannelVideos(ctx context.Context, channel string) ([]youtube.Video, error)
}

// DurationProvider resolves raw duration strings for video ids.
type DurationProvider interface {
	VideoDurations(ctx context.Context, ids []string) (map[string]string, error)
}

// Analyzer produces a recommendation for a video URL.
type Analyzer interface {
	AnalyzeVideo(ctx context.Context, url string) (*storage.Recommendation, error)
}

// Store is the subset of storage operations the syncer needs.
type Store interface {
	UpsertVideos(channelID string, videos []storage.Video) error
	ListUnanalyzed(channelID string) ([]storage.Video, error)
	SetRecommendation(id string, rec storage.Recommendation) error
}

// Config tunes a Syncer. Zero values select the defaults.
type Config struct {
	MinDuration   int // seconds; videos shorter than this are not analyzed
	EnrichWorkers int // concurrent analysis requests per channel
}

// ChannelStats summarizes one channel's sync pass.
type ChannelStats struct {
	Channel  string
	Fetched  int // entries in the remote listing
	Shorts   int // persisted but below the duration threshold
	Queued   int // analysis candidates after this pass's persist
	Analyzed int // recommendations stored this pass
	Failed   int // analysis attempts that failed this pass
}

// Syncer runs the listing/classify/persist/analyze cycle for channels.
type Syncer struct {
	source    Lister
	durations DurationProvider
	analyzer  Analyzer
	store     Store
	cfg       Config
	logger    *slog.Logger
}

// New creates a Syncer wired to its collaborators.
func New(source Lister, durations DurationProvider, analyzer Analyzer, store Store, cfg Config) *Syncer {
	if cfg.MinDuration <= 0 {
		cfg.MinDuration = DefaultMinDuration
	}
	if cfg.EnrichWorkers <= 0 {
		cfg.EnrichWorkers = 1
	}
	return &Syncer{
		source:    source,
		durations: durations,
		analyzer:  analyzer,
		store:     store,
		cfg:       cfg,
		logger:    slog.Default(),
	}
}

// Run syncs every channel in order. A channel that fails to list is logged
// and skipped; a store failure aborts the run, since nothing later can be
// trusted. The returned stats cover the channels that were attempted.
func (s *Syncer) Run(ctx context.Context, channels []string) ([]ChannelStats, error) {
	logger := s.logger.With("run_id", uuid.NewString())
	logger.Info("starting sync run", "channels", len(channels))

	var results []ChannelStats
	for _, channel := range channels {
		stats, err := s.syncChannel(ctx, logger.With("channel", channel), channel)
		results = append(results, stats)
		if err != nil {
			return results, fmt.Errorf("syncing %s: %w", channel, err)
		}
	}

	logger.Info("sync run complete")
	return results, nil
}

// syncChannel runs one channel's pass. Collaborator failures (listing,
// durations, analysis) are handled here; only store errors are returned.
func (s *Syncer) syncChannel(ctx context.Context, logger *slog.Logger, channel string) (ChannelStats, error) {
	stats := ChannelStats{Channel: channel}

	listing, err := s.source.ListChannelVideos(ctx, channel)
	if err != nil {
		if errors.Is(err, youtube.ErrChannelNotFound) {
			logger.Warn("channel not found, skipping")
		} else {
			logger.Error("listing failed, skipping channel", "error", err)
		}
		return stats, nil
	}
	stats.Fetched = len(listing)

	if len(listing) == 0 {
		logger.Info("empty listing, nothing to do")
		return stats, nil
	}

	videos, shorts, err := s.classify(ctx, channel, listing)
	if err != nil {
		logger.Error("resolving durations failed, skipping channel", "error", err)
		return stats, nil
	}
	stats.Shorts = shorts

	if err := s.store.UpsertVideos(channel, videos); err != nil {
		return stats, fmt.Errorf("persisting listing: %w", err)
	}

	// The store, not this pass's listing, decides what still needs
	// analysis: anything analyzed on a previous run stays analyzed even
	// if it reappears in the listing.
	unanalyzed, err := s.store.ListUnanalyzed(channel)
	if err != nil {
		return stats, fmt.Errorf("selecting analysis targets: %w", err)
	}

	var targets []storage.Video
	for _, v := range unanalyzed {
		if v.Duration >= s.cfg.MinDuration {
			targets = append(targets, v)
		}
	}
	stats.Queued = len(targets)

	logger.Info("listing persisted",
		"fetched", stats.Fetched,
		"shorts", stats.Shorts,
		"queued", stats.Queued,
	)

	analyzed, failed, err := s.analyze(ctx, logger, targets)
	stats.Analyzed = analyzed
	stats.Failed = failed
	if err != nil {
		return stats, err
	}

	logger.Info("channel sync complete", "analyzed", stats.Analyzed, "failed", stats.Failed)
	return stats, nil
}

// classify resolves durations for the listing and marks entries below the
// threshold. Every entry is returned for persistence; shorts counts how
// many fell under the threshold. Durations the provider can't resolve, or
// that don't parse, classify as zero.
func (s *Syncer) classify(ctx context.Context, channel string, listing []youtube.Video) ([]storage.Video, int, error) {
	ids := make([]string, len(listing))
	for i, v := range listing {
		ids[i] = v.ID
	}

	raw, err := s.durations.VideoDurations(ctx, ids)
	if err != nil {
		return nil, 0, err
	}

	videos := make([]storage.Video, 0, len(listing))
	shorts := 0
	for _, v := range listing {
		duration := youtube.ParseDuration(raw[v.ID])
		if duration < s.cfg.MinDuration {
			shorts++
		}
		videos = append(videos, storage.Video{
			ID:          v.ID,
			ChannelID:   channel,
			URL:         v.URL,
			Title:       v.Title,
			PublishedAt: v.PublishedAt,
			Duration:    duration,
		})
	}
	return videos, shorts, nil
}

// analyze requests a recommendation for each target, newest first. A failed
// analysis is logged and the loop moves on; the record stays unanalyzed and
// the next run retries it. Store failures abort.
func (s *Syncer) analyze(ctx context.Context, logger *slog.Logger, targets []storage.Video) (int, int, error) {
	var analyzed, failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.EnrichWorkers)

	for _, v := range targets {
		v := v
		g.Go(func() error {
			rec, err := s.analyzer.AnalyzeVideo(gctx, v.URL)
			if err != nil {
				logger.Warn("analysis failed", "video_id", v.ID, "error", err)
				failed.Add(1)
				return nil
			}
			if err := s.store.SetRecommendation(v.ID, *rec); err != nil {
				return fmt.Errorf("storing recommendation for %s: %w", v.ID, err)
			}
			logger.Debug("video analyzed", "video_id", v.ID, "title", v.Title)
			analyzed.Add(1)
			return nil
		})
	}

	err := g.Wait()
	return int(analyzed.Load()), int(failed.Load()), err
}
