package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"stocksight/internal/api"
	"stocksight/internal/gemini"
	"stocksight/internal/pipeline"
	"stocksight/internal/stats"
	"stocksight/internal/storage"
	"stocksight/internal/youtube"
)

// --- sync ---

var syncCmd = &cobra.Command{
	Use:   "sync [channel ...]",
	Short: "Sync channel listings and analyze new videos",
	Long: `Sync channel listings and analyze new videos.

Channels default to the ones in the config file; pass handles or channel
ids as arguments to sync a different set.

Examples:
  stocksight sync
  stocksight sync @EverythingMoney`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := cfg.RequireSyncKeys(); err != nil {
			return err
		}

		channels := cfg.Channels
		if len(args) > 0 {
			channels = args
		}
		if len(channels) == 0 {
			return fmt.Errorf("no channels configured; add them to %s or pass them as arguments", cfgFile)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		store, err := storage.Open(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("opening storage: %w", err)
		}
		defer store.Close()

		source, err := youtube.NewClient(ctx, cfg.YouTubeAPIKey, cfg.MaxPages)
		if err != nil {
			return err
		}
		analyzer := gemini.NewClient(cfg.GeminiAPIKey, cfg.GeminiModel)

		syncer := pipeline.New(source, source, analyzer, store, pipeline.Config{
			MinDuration:   cfg.MinDuration,
			EnrichWorkers: cfg.EnrichWorkers,
		})

		results, err := syncer.Run(ctx, channels)
		for _, st := range results {
			printStatus(st.Channel, "fetched %d, shorts %d, queued %d, analyzed %d, failed %d",
				st.Fetched, st.Shorts, st.Queued, st.Analyzed, st.Failed)
		}
		if err != nil {
			return err
		}

		printSuccess("Synced %d channels", len(results))
		return nil
	},
}

// --- serve ---

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the read-only stats API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		store, err := storage.Open(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("opening storage: %w", err)
		}
		defer store.Close()

		handler := api.NewHandler(api.Deps{
			Store: store,
			Stats: stats.New(store),
		})

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		addr := fmt.Sprintf("127.0.0.1:%d", cfg.Port)
		srv := &http.Server{
			Addr:         addr,
			Handler:      handler,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			fmt.Fprintf(os.Stdout, "stocksight listening on %s\n", addr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case <-ctx.Done():
			fmt.Fprintln(os.Stdout, "shutting down...")
		case err := <-errCh:
			if err != nil {
				return fmt.Errorf("server error: %w", err)
			}
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}

// --- analyze ---

var analyzeCmd = &cobra.Command{
	Use:   "analyze <video-id>",
	Short: "Analyze (or re-analyze) one stored video",
	Long: `Analyze one stored video and overwrite any existing recommendation.

This is the explicit way to force re-analysis; the sync pipeline never
replaces a recommendation it already stored.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.GeminiAPIKey == "" {
			return fmt.Errorf("missing required config: GEMINI_API_KEY")
		}

		store, err := storage.Open(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("opening storage: %w", err)
		}
		defer store.Close()

		video, err := store.GetVideo(args[0])
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("video %s is not in the store; sync its channel first", args[0])
		}
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		analyzer := gemini.NewClient(cfg.GeminiAPIKey, cfg.GeminiModel)
		rec, err := analyzer.AnalyzeVideo(ctx, video.URL)
		if err != nil {
			return fmt.Errorf("analyzing %s: %w", video.ID, err)
		}
		if err := store.SetRecommendation(video.ID, *rec); err != nil {
			return fmt.Errorf("storing recommendation: %w", err)
		}

		printSuccess("Analyzed %s (%s)", video.ID, video.Title)
		printStatus("Buy", "%s", tickers(rec.BuyStocks))
		printStatus("Sell", "%s", tickers(rec.SellStocks))
		printStatus("Hold", "%s", tickers(rec.HoldStocks))
		printStatus("Sentiment", "%s", rec.KeyInsights.MarketSentiment)
		printStatus("Top picks", "%s", rec.KeyInsights.TopPicks)
		return nil
	},
}

func tickers(mentions []storage.StockMention) string {
	if len(mentions) == 0 {
		return "-"
	}
	names := make([]string, len(mentions))
	for i, m := range mentions {
		names[i] = m.TickerSymbol
	}
	return strings.Join(names, ", ")
}

// --- export / import ---

var exportCmd = &cobra.Command{
	Use:   "export [file]",
	Short: "Export all videos to a JSON file, grouped by channel",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		path := "videos_export.json"
		if len(args) == 1 {
			path = args[0]
		}

		store, err := storage.Open(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("opening storage: %w", err)
		}
		defer store.Close()

		all, err := store.ExportAll()
		if err != nil {
			return err
		}

		data, err := json.MarshalIndent(all, "", "    ")
		if err != nil {
			return err
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}

		total := 0
		for _, videos := range all {
			total += len(videos)
		}
		printSuccess("Exported %d videos across %d channels to %s", total, len(all), path)
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import videos from a JSON export",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading %s: %w", args[0], err)
		}

		store, err := storage.Open(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("opening storage: %w", err)
		}
		defer store.Close()

		count, err := importVideos(store, data)
		if err != nil {
			return err
		}
		printSuccess("Imported %d videos from %s", count, args[0])
		return nil
	},
}

// importVideos accepts either the export format (channel id -> videos) or a
// bare video array; bare entries land under the "unknown" channel.
func importVideos(store *storage.Store, data []byte) (int, error) {
	var byChannel map[string][]storage.Video
	if err := json.Unmarshal(data, &byChannel); err == nil {
		count := 0
		for channel, videos := range byChannel {
			if err := store.UpsertVideos(channel, videos); err != nil {
				return count, err
			}
			count += len(videos)
		}
		return count, nil
	}

	var flat []storage.Video
	if err := json.Unmarshal(data, &flat); err != nil {
		return 0, fmt.Errorf("unrecognized import format: %w", err)
	}
	if err := store.UpsertVideos("unknown", flat); err != nil {
		return 0, err
	}
	return len(flat), nil
}

// --- status ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show per-channel video and analysis counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		store, err := storage.Open(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("opening storage: %w", err)
		}
		defer store.Close()

		channels, err := store.ListChannels()
		if err != nil {
			return err
		}
		if len(channels) == 0 {
			printWarning("No videos stored yet; run `stocksight sync` first")
			return nil
		}

		for _, ch := range channels {
			printStatus(ch.ChannelID, "%d videos, %d analyzed, %d pending",
				ch.VideoCount, ch.AnalyzedCount, ch.VideoCount-ch.AnalyzedCount)
		}
		return nil
	},
}
