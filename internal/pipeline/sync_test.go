package pipeline

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"stocksight/internal/storage"
	"stocksight/internal/youtube"
)

type mockLister struct {
	listings map[string][]youtube.Video
	errs     map[string]error
}

func (m *mockLister) ListChannelVideos(ctx context.Context, channel string) ([]youtube.Video, error) {
	if err := m.errs[channel]; err != nil {
		return nil, err
	}
	return m.listings[channel], nil
}

type mockDurations struct {
	durations map[string]string
	err       error
}

func (m *mockDurations) VideoDurations(ctx context.Context, ids []string) (map[string]string, error) {
	if m.err != nil {
		return nil, m.err
	}
	out := make(map[string]string)
	for _, id := range ids {
		if d, ok := m.durations[id]; ok {
			out[id] = d
		}
	}
	return out, nil
}

type mockAnalyzer struct {
	mu    sync.Mutex
	calls []string
	errs  map[string]error // keyed by URL
}

func (m *mockAnalyzer) AnalyzeVideo(ctx context.Context, url string) (*storage.Recommendation, error) {
	m.mu.Lock()
	m.calls = append(m.calls, url)
	m.mu.Unlock()
	if err := m.errs[url]; err != nil {
		return nil, err
	}
	return &storage.Recommendation{
		BuyStocks: []storage.StockMention{{CompanyName: "Apple Inc", TickerSymbol: "AAPL"}},
		KeyInsights: storage.KeyInsights{
			MarketSentiment: "bullish",
			TopPicks:        "AAPL",
			Reasoning:       "test",
		},
	}, nil
}

func (m *mockAnalyzer) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func listingVideo(id string, published time.Time) youtube.Video {
	return youtube.Video{
		ID:          id,
		URL:         "https://www.youtube.com/watch?v=" + id,
		Title:       "Video " + id,
		PublishedAt: published,
	}
}

func TestSyncPersistsAndAnalyzes(t *testing.T) {
	store := openTestStore(t)
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	lister := &mockLister{listings: map[string][]youtube.Video{
		"@ch": {
			listingVideo("long1", base.Add(2*time.Hour)),
			listingVideo("short1", base.Add(time.Hour)),
			listingVideo("long2", base),
		},
	}}
	durations := &mockDurations{durations: map[string]string{
		"long1":  "PT33M8S",
		"short1": "PT45S",
		"long2":  "PT10M",
	}}
	analyzer := &mockAnalyzer{}

	s := New(lister, durations, analyzer, store, Config{})
	stats, err := s.Run(context.Background(), []string{"@ch"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(stats) != 1 {
		t.Fatalf("got %d stats entries, want 1", len(stats))
	}
	got := stats[0]
	if got.Fetched != 3 || got.Shorts != 1 || got.Queued != 2 || got.Analyzed != 2 || got.Failed != 0 {
		t.Errorf("stats = %+v", got)
	}

	// The short is persisted, just never analyzed.
	short, err := store.GetVideo("short1")
	if err != nil {
		t.Fatalf("GetVideo(short1): %v", err)
	}
	if short.Duration != 45 || short.Analyzed() {
		t.Errorf("short video = %+v", short)
	}

	long, err := store.GetVideo("long1")
	if err != nil {
		t.Fatalf("GetVideo(long1): %v", err)
	}
	if long.Duration != 1988 || !long.Analyzed() {
		t.Errorf("long video = %+v", long)
	}

	// Newest first.
	if analyzer.calls[0] != "https://www.youtube.com/watch?v=long1" {
		t.Errorf("analysis order = %v", analyzer.calls)
	}
}

func TestSyncEmptyListing(t *testing.T) {
	store := openTestStore(t)
	lister := &mockLister{listings: map[string][]youtube.Video{"@ch": nil}}
	analyzer := &mockAnalyzer{}

	s := New(lister, &mockDurations{}, analyzer, store, Config{})
	stats, err := s.Run(context.Background(), []string{"@ch"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats[0].Fetched != 0 {
		t.Errorf("stats = %+v", stats[0])
	}
	if analyzer.callCount() != 0 {
		t.Errorf("analyzer called %d times for empty listing", analyzer.callCount())
	}

	channels, err := store.ListChannels()
	if err != nil {
		t.Fatalf("ListChannels: %v", err)
	}
	if len(channels) != 0 {
		t.Errorf("store not empty: %+v", channels)
	}
}

// TestSyncSecondRunIsIdempotent verifies an unchanged listing leaves the
// store identical and triggers no re-analysis.
func TestSyncSecondRunIsIdempotent(t *testing.T) {
	store := openTestStore(t)
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	lister := &mockLister{listings: map[string][]youtube.Video{
		"@ch": {listingVideo("v1", base)},
	}}
	durations := &mockDurations{durations: map[string]string{"v1": "PT20M"}}
	analyzer := &mockAnalyzer{}
	s := New(lister, durations, analyzer, store, Config{})

	if _, err := s.Run(context.Background(), []string{"@ch"}); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	first, err := store.ListByChannel("@ch")
	if err != nil {
		t.Fatalf("ListByChannel: %v", err)
	}

	if _, err := s.Run(context.Background(), []string{"@ch"}); err != nil {
		t.Fatalf("second Run: %v", err)
	}
	second, err := store.ListByChannel("@ch")
	if err != nil {
		t.Fatalf("ListByChannel: %v", err)
	}

	if !reflect.DeepEqual(first, second) {
		t.Errorf("store changed on second run:\nfirst:  %+v\nsecond: %+v", first, second)
	}
	if analyzer.callCount() != 1 {
		t.Errorf("analyzer called %d times, want 1 (no re-analysis)", analyzer.callCount())
	}
}

// TestSyncRetriesFailedAnalysis covers resumability: a video whose analysis
// failed is retried on the next run, one that succeeded is not.
func TestSyncRetriesFailedAnalysis(t *testing.T) {
	store := openTestStore(t)
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	urlA := "https://www.youtube.com/watch?v=a"
	lister := &mockLister{listings: map[string][]youtube.Video{
		"@ch": {
			listingVideo("a", base.Add(time.Hour)),
			listingVideo("b", base),
		},
	}}
	durations := &mockDurations{durations: map[string]string{"a": "PT10M", "b": "PT10M"}}
	analyzer := &mockAnalyzer{errs: map[string]error{urlA: fmt.Errorf("quota exceeded")}}
	s := New(lister, durations, analyzer, store, Config{})

	stats, err := s.Run(context.Background(), []string{"@ch"})
	if err != nil {
		t.Fatalf("first Run: %v", err)
	}
	if stats[0].Analyzed != 1 || stats[0].Failed != 1 {
		t.Errorf("first run stats = %+v", stats[0])
	}

	analyzer.errs = nil
	stats, err = s.Run(context.Background(), []string{"@ch"})
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if stats[0].Analyzed != 1 || stats[0].Failed != 0 {
		t.Errorf("second run stats = %+v", stats[0])
	}

	// Three calls total: a+b on the first run, a again on the second.
	if analyzer.callCount() != 3 {
		t.Errorf("analyzer called %d times, want 3", analyzer.callCount())
	}
}

func TestSyncDurationThreshold(t *testing.T) {
	store := openTestStore(t)
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	lister := &mockLister{listings: map[string][]youtube.Video{
		"@ch": {
			listingVideo("edge", base.Add(time.Hour)),
			listingVideo("under", base),
		},
	}}
	durations := &mockDurations{durations: map[string]string{
		"edge":  "PT5M",    // exactly 300s, included
		"under": "PT4M59S", // 299s, excluded
	}}
	analyzer := &mockAnalyzer{}
	s := New(lister, durations, analyzer, store, Config{})

	stats, err := s.Run(context.Background(), []string{"@ch"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats[0].Queued != 1 || stats[0].Analyzed != 1 {
		t.Errorf("stats = %+v", stats[0])
	}
	if analyzer.callCount() != 1 || analyzer.calls[0] != "https://www.youtube.com/watch?v=edge" {
		t.Errorf("analyzer calls = %v", analyzer.calls)
	}
}

func TestSyncUnresolvedDurationIsShort(t *testing.T) {
	store := openTestStore(t)
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	lister := &mockLister{listings: map[string][]youtube.Video{
		"@ch": {listingVideo("mystery", base)},
	}}
	// Duration provider returns nothing for the id; it parses to 0 and the
	// video is treated as a short.
	analyzer := &mockAnalyzer{}
	s := New(lister, &mockDurations{}, analyzer, store, Config{})

	stats, err := s.Run(context.Background(), []string{"@ch"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats[0].Shorts != 1 || stats[0].Queued != 0 {
		t.Errorf("stats = %+v", stats[0])
	}
	if analyzer.callCount() != 0 {
		t.Errorf("analyzer called for unresolvable duration")
	}
}

func TestSyncSkipsMissingChannel(t *testing.T) {
	store := openTestStore(t)
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	lister := &mockLister{
		listings: map[string][]youtube.Video{
			"@good": {listingVideo("v1", base)},
		},
		errs: map[string]error{
			"@gone": fmt.Errorf("@gone: %w", youtube.ErrChannelNotFound),
		},
	}
	durations := &mockDurations{durations: map[string]string{"v1": "PT10M"}}
	analyzer := &mockAnalyzer{}
	s := New(lister, durations, analyzer, store, Config{})

	stats, err := s.Run(context.Background(), []string{"@gone", "@good"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(stats) != 2 {
		t.Fatalf("got %d stats entries, want 2", len(stats))
	}
	if stats[0].Fetched != 0 {
		t.Errorf("missing channel stats = %+v", stats[0])
	}
	if stats[1].Analyzed != 1 {
		t.Errorf("good channel stats = %+v", stats[1])
	}
}

func TestSyncListingFailureSkipsChannel(t *testing.T) {
	store := openTestStore(t)
	lister := &mockLister{errs: map[string]error{"@flaky": errors.New("connection reset")}}
	analyzer := &mockAnalyzer{}
	s := New(lister, &mockDurations{}, analyzer, store, Config{})

	if _, err := s.Run(context.Background(), []string{"@flaky"}); err != nil {
		t.Errorf("listing failure should not fail the run: %v", err)
	}
}

// failingStore wraps a real store but refuses writes, standing in for an
// unreachable database.
type failingStore struct {
	*storage.Store
}

func (f *failingStore) UpsertVideos(channelID string, videos []storage.Video) error {
	return errors.New("database is locked")
}

func TestSyncStoreFailureAbortsRun(t *testing.T) {
	store := openTestStore(t)
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	lister := &mockLister{listings: map[string][]youtube.Video{
		"@first":  {listingVideo("v1", base)},
		"@second": {listingVideo("v2", base)},
	}}
	durations := &mockDurations{durations: map[string]string{"v1": "PT10M", "v2": "PT10M"}}
	analyzer := &mockAnalyzer{}
	s := New(lister, durations, analyzer, &failingStore{store}, Config{})

	_, err := s.Run(context.Background(), []string{"@first", "@second"})
	if err == nil {
		t.Fatal("expected store failure to abort the run")
	}
	if analyzer.callCount() != 0 {
		t.Errorf("analyzer called despite persist failure")
	}
}

func TestSyncConcurrentAnalysis(t *testing.T) {
	store := openTestStore(t)
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	var listing []youtube.Video
	durations := map[string]string{}
	for i := 0; i < 8; i++ {
		id := fmt.Sprintf("v%d", i)
		listing = append(listing, listingVideo(id, base.Add(time.Duration(i)*time.Hour)))
		durations[id] = "PT10M"
	}

	lister := &mockLister{listings: map[string][]youtube.Video{"@ch": listing}}
	analyzer := &mockAnalyzer{}
	s := New(lister, &mockDurations{durations: durations}, analyzer, store, Config{EnrichWorkers: 4})

	stats, err := s.Run(context.Background(), []string{"@ch"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats[0].Analyzed != 8 {
		t.Errorf("stats = %+v", stats[0])
	}

	remaining, err := store.ListUnanalyzed("@ch")
	if err != nil {
		t.Fatalf("ListUnanalyzed: %v", err)
	}
	if len(remaining) != 0 {
		t.Errorf("%d videos left unanalyzed", len(remaining))
	}
}
