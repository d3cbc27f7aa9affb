package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"stocksight/internal/storage"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

func handleChannels(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		channels, err := deps.Store.ListChannels()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "listing channels: %v", err)
			return
		}
		if channels == nil {
			channels = []storage.ChannelStats{}
		}
		writeJSON(w, http.StatusOK, channels)
	}
}

func handleVideos(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		analyzed, err := parseBool(q.Get("analyzed"))
		if err != nil {
			httpError(w, http.StatusBadRequest, "analyzed: %v", err)
			return
		}

		limit := defaultPageSize
		if s := q.Get("limit"); s != "" {
			limit, err = strconv.Atoi(s)
			if err != nil || limit < 1 || limit > maxPageSize {
				httpError(w, http.StatusBadRequest, "limit must be between 1 and %d", maxPageSize)
				return
			}
		}

		offset := 0
		if s := q.Get("offset"); s != "" {
			offset, err = strconv.Atoi(s)
			if err != nil || offset < 0 {
				httpError(w, http.StatusBadRequest, "offset must be >= 0")
				return
			}
		}

		videos, total, err := deps.Store.ListVideos(storage.VideoFilter{
			ChannelID: q.Get("channel_id"),
			Analyzed:  analyzed,
			Limit:     limit,
			Offset:    offset,
		})
		if err != nil {
			httpError(w, http.StatusInternalServerError, "listing videos: %v", err)
			return
		}
		if videos == nil {
			videos = []storage.Video{}
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"total":  total,
			"videos": videos,
		})
	}
}

func handleVideo(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		video, err := deps.Store.GetVideo(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "video not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "fetching video: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, video)
	}
}

func handleStats(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		summary, err := deps.Stats.Summary()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "computing stats: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, summary)
	}
}

func handleStockMentions(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ticker := chi.URLParam(r, "ticker")

		report, err := deps.Stats.TickerMentions(ticker)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "collecting mentions: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}
