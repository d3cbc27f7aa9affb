// Package stats derives read-only summaries from stored recommendations.
package stats

import (
	"sort"
	"strings"
	"time"

	"stocksight/internal/storage"
)

// topN caps the ranked ticker lists in a Summary.
const topN = 20

// VideoReader is the read-side store dependency. Implementations must never
// be mutated through this package.
type VideoReader interface {
	ListAnalyzed() ([]storage.Video, error)
}

// Aggregator computes summaries over analyzed videos.
type Aggregator struct {
	store VideoReader
}

// New creates an Aggregator reading from store.
func New(store VideoReader) *Aggregator {
	return &Aggregator{store: store}
}

// TickerCount is a ticker and how many videos mention it in one category.
type TickerCount struct {
	Ticker string `json:"ticker"`
	Count  int    `json:"count"`
}

// Summary aggregates every analyzed video.
type Summary struct {
	TotalVideos           int            `json:"total_videos"`
	TopBuys               []TickerCount  `json:"top_buys"`
	TopSells              []TickerCount  `json:"top_sells"`
	TopHolds              []TickerCount  `json:"top_holds"`
	SentimentDistribution map[string]int `json:"sentiment_distribution"`
}

// Mention records one video referencing a ticker.
type Mention struct {
	VideoID     string    `json:"video_id"`
	Title       string    `json:"title"`
	PublishedAt time.Time `json:"published_at"`
	ChannelID   string    `json:"channel_id"`
	Action      string    `json:"action"` // "buy", "sell" or "hold"
	CompanyName string    `json:"company_name"`
}

// TickerReport lists every mention of one ticker across analyzed videos.
type TickerReport struct {
	Ticker        string    `json:"ticker"`
	TotalMentions int       `json:"total_mentions"`
	Mentions      []Mention `json:"mentions"`
}

// Summary scans all analyzed videos and ranks ticker mentions per category.
// Videos without a market sentiment count under "unknown".
func (a *Aggregator) Summary() (*Summary, error) {
	videos, err := a.store.ListAnalyzed()
	if err != nil {
		return nil, err
	}

	buys := newCounter()
	sells := newCounter()
	holds := newCounter()
	sentiments := make(map[string]int)

	for _, v := range videos {
		rec := v.Recommendation
		for _, m := range rec.BuyStocks {
			buys.add(m.TickerSymbol)
		}
		for _, m := range rec.SellStocks {
			sells.add(m.TickerSymbol)
		}
		for _, m := range rec.HoldStocks {
			holds.add(m.TickerSymbol)
		}

		sentiment := rec.KeyInsights.MarketSentiment
		if sentiment == "" {
			sentiment = "unknown"
		}
		sentiments[sentiment]++
	}

	return &Summary{
		TotalVideos:           len(videos),
		TopBuys:               buys.top(topN),
		TopSells:              sells.top(topN),
		TopHolds:              holds.top(topN),
		SentimentDistribution: sentiments,
	}, nil
}

// TickerMentions returns every mention of the given ticker, matched
// case-insensitively, across all three categories, newest video first.
func (a *Aggregator) TickerMentions(ticker string) (*TickerReport, error) {
	videos, err := a.store.ListAnalyzed()
	if err != nil {
		return nil, err
	}

	upper := strings.ToUpper(ticker)
	report := &TickerReport{Ticker: upper, Mentions: []Mention{}}

	for _, v := range videos {
		rec := v.Recommendation
		for action, list := range map[string][]storage.StockMention{
			"buy":  rec.BuyStocks,
			"sell": rec.SellStocks,
			"hold": rec.HoldStocks,
		} {
			for _, m := range list {
				if strings.ToUpper(m.TickerSymbol) != upper {
					continue
				}
				report.Mentions = append(report.Mentions, Mention{
					VideoID:     v.ID,
					Title:       v.Title,
					PublishedAt: v.PublishedAt,
					ChannelID:   v.ChannelID,
					Action:      action,
					CompanyName: m.CompanyName,
				})
			}
		}
	}

	// Map iteration above scrambles per-video ordering; restore newest first.
	sort.SliceStable(report.Mentions, func(i, j int) bool {
		return report.Mentions[i].PublishedAt.After(report.Mentions[j].PublishedAt)
	})
	report.TotalMentions = len(report.Mentions)
	return report, nil
}

// counter counts tickers while remembering first-seen order so ranking ties
// stay stable.
type counter struct {
	counts map[string]int
	order  []string
}

func newCounter() *counter {
	return &counter{counts: make(map[string]int)}
}

func (c *counter) add(ticker string) {
	if _, seen := c.counts[ticker]; !seen {
		c.order = append(c.order, ticker)
	}
	c.counts[ticker]++
}

func (c *counter) top(n int) []TickerCount {
	ranked := make([]TickerCount, 0, len(c.order))
	for _, ticker := range c.order {
		ranked = append(ranked, TickerCount{Ticker: ticker, Count: c.counts[ticker]})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Count > ranked[j].Count
	})
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}
