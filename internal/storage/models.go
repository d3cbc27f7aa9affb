package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// RecommendationSchemaVersion is written into every serialized
// recommendation blob. Readers must tolerate older versions; bump it only
// when a field changes meaning or shape.
const RecommendationSchemaVersion = 1

// Video is one piece of channel content tracked by the store. ID is the
// platform video id and is the merge key for upserts. ChannelID is set on
// first insert and never changes afterwards.
type Video struct {
	ID             string          `json:"id"`
	ChannelID      string          `json:"channel_id"`
	URL            string          `json:"url"`
	Title          string          `json:"title"`
	PublishedAt    time.Time       `json:"published_at"`
	Duration       int             `json:"duration"` // seconds, 0 until resolved
	Recommendation *Recommendation `json:"recommendation,omitempty"`
}

// Analyzed reports whether the video already carries a recommendation.
func (v Video) Analyzed() bool {
	return v.Recommendation != nil
}

// Recommendation is the structured analysis payload attached to a video.
// It is stored as a JSON blob in a single column; the json tags below are
// the serialization contract the read side depends on.
type Recommendation struct {
	SchemaVersion int            `json:"schema_version,omitempty"`
	BuyStocks     []StockMention `json:"buy_stocks"`
	SellStocks    []StockMention `json:"sell_stocks"`
	HoldStocks    []StockMention `json:"hold_stocks"`
	KeyInsights   KeyInsights    `json:"key_insights"`
}

// StockMention names one stock referenced in a video.
type StockMention struct {
	CompanyName  string `json:"company_name"`
	TickerSymbol string `json:"ticker_symbol"`
}

// KeyInsights summarizes the overall take of a video.
type KeyInsights struct {
	MarketSentiment string `json:"market_sentiment"`
	TopPicks        string `json:"top_picks"`
	Reasoning       string `json:"reasoning"`
}

// ChannelStats holds per-channel counters for the read API.
type ChannelStats struct {
	ChannelID     string `json:"channel_id"`
	VideoCount    int    `json:"video_count"`
	AnalyzedCount int    `json:"analyzed_count"`
}

// VideoFilter narrows ListVideos results. Analyzed selects videos with
// (true) or without (false) a recommendation when non-nil.
type VideoFilter struct {
	ChannelID string
	Analyzed  *bool
	Limit     int
	Offset    int
}
