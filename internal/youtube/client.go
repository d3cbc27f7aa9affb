// Package youtube lists channel uploads and resolves video durations via
// the YouTube Data API v3.
package youtube

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"
)

// ErrChannelNotFound is returned when a channel handle or id does not resolve.
var ErrChannelNotFound = errors.New("channel not found")

// durationBatchSize is the API limit on ids per videos.list call.
const durationBatchSize = 50

// Video is one entry of a channel's upload listing. Duration is not part of
// the listing response and is resolved separately via VideoDurations.
type Video struct {
	ID          string
	URL         string
	Title       string
	PublishedAt time.Time
}

// Client wraps the YouTube Data API service.
type Client struct {
	svc      *youtube.Service
	maxPages int
}

// NewClient creates a Client authenticated with the given API key.
// maxPages caps how many 50-item listing pages are fetched per channel;
// 0 means no cap.
func NewClient(ctx context.Context, apiKey string, maxPages int) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("api key required")
	}

	svc, err := youtube.NewService(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating youtube service: %w", err)
	}
	return &Client{svc: svc, maxPages: maxPages}, nil
}

// ListChannelVideos returns the uploads of a channel as one flat slice.
// channel is either an "@handle" or a raw channel id. A handle or id that
// does not resolve returns ErrChannelNotFound.
func (c *Client) ListChannelVideos(ctx context.Context, channel string) ([]Video, error) {
	uploads, err := c.uploadsPlaylistID(ctx, channel)
	if err != nil {
		return nil, err
	}

	var videos []Video
	pageToken := ""
	for page := 0; ; page++ {
		if c.maxPages > 0 && page >= c.maxPages {
			break
		}

		call := c.svc.PlaylistItems.List([]string{"snippet"}).
			PlaylistId(uploads).
			MaxResults(durationBatchSize).
			PageToken(pageToken)
		resp, err := call.Context(ctx).Do()
		if err != nil {
			return nil, fmt.Errorf("listing uploads for %s: %w", channel, err)
		}

		for _, item := range resp.Items {
			videoID := item.Snippet.ResourceId.VideoId
			published, err := time.Parse(time.RFC3339, item.Snippet.PublishedAt)
			if err != nil {
				return nil, fmt.Errorf("parsing published date for %s: %w", videoID, err)
			}
			videos = append(videos, Video{
				ID:          videoID,
				URL:         "https://www.youtube.com/watch?v=" + videoID,
				Title:       item.Snippet.Title,
				PublishedAt: published,
			})
		}

		pageToken = resp.NextPageToken
		if pageToken == "" {
			break
		}
	}

	return videos, nil
}

// VideoDurations resolves raw ISO-8601 duration strings for the given video
// ids, batching requests at the API limit of 50 ids per call. Ids the API
// does not return are absent from the result map.
func (c *Client) VideoDurations(ctx context.Context, ids []string) (map[string]string, error) {
	durations := make(map[string]string, len(ids))

	for _, batch := range chunkIDs(ids, durationBatchSize) {
		call := c.svc.Videos.List([]string{"contentDetails"}).Id(batch...)
		resp, err := call.Context(ctx).Do()
		if err != nil {
			return nil, fmt.Errorf("fetching durations: %w", err)
		}
		for _, item := range resp.Items {
			durations[item.Id] = item.ContentDetails.Duration
		}
	}

	return durations, nil
}

// uploadsPlaylistID resolves a channel handle or id to its uploads playlist.
func (c *Client) uploadsPlaylistID(ctx context.Context, channel string) (string, error) {
	call := c.svc.Channels.List([]string{"contentDetails"})
	if strings.HasPrefix(channel, "@") {
		call = call.ForHandle(channel)
	} else {
		call = call.Id(channel)
	}

	resp, err := call.Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("resolving channel %s: %w", channel, err)
	}
	if len(resp.Items) == 0 {
		return "", fmt.Errorf("%s: %w", channel, ErrChannelNotFound)
	}
	return resp.Items[0].ContentDetails.RelatedPlaylists.Uploads, nil
}

// chunkIDs splits ids into slices of at most size elements.
func chunkIDs(ids []string, size int) [][]string {
	var chunks [][]string
	for len(ids) > size {
		chunks = append(chunks, ids[:size])
		ids = ids[size:]
	}
	if len(ids) > 0 {
		chunks = append(chunks, ids)
	}
	return chunks
}
