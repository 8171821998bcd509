package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/Avi18971911/Swarmtrace/internal/query_server/service/peer_events"
	"github.com/Avi18971911/Swarmtrace/pkg/trace/model"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// RecentEventsHandler creates a handler for the entries of a peer held in memory.
// @Summary Get the most recent log entries of a peer.
// @Tags events
// @Produce json
// @Param peerId path string true "The hex identity of the peer"
// @Success 200 {array} model.LogEntry "Entries oldest first"
// @Failure 404 {object} ErrorMessage "No recent entries for the peer"
// @Router /peers/{peerId}/events [get]
func RecentEventsHandler(
	pes peer_events.PeerEventsQueryService,
	logger *zap.Logger,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		peerId := mux.Vars(r)["peerId"]
		entries, err := pes.Recent(peerId)
		if err != nil {
			if errors.Is(err, peer_events.ErrPeerNotFound) {
				HttpError(w, "Peer not found", http.StatusNotFound, logger)
				return
			}
			logger.Error("Error encountered when getting recent events", zap.Error(err))
			HttpError(w, "Internal server error", http.StatusInternalServerError, logger)
			return
		}
		writeJson(w, entries, logger)
	}
}

// HistoryHandler creates a handler searching the Elasticsearch mirror for the entries of a peer.
// @Summary Search the persisted log entries of a peer.
// @Tags events
// @Produce json
// @Param peerId path string true "The hex identity of the peer"
// @Param size query int false "The maximum number of entries"
// @Success 200 {array} model.LogEntry "Entries newest first, the X-Total-Count header holds the total"
// @Failure 400 {object} ErrorMessage "Invalid size"
// @Failure 503 {object} ErrorMessage "No search backend configured"
// @Failure 500 {object} ErrorMessage "Internal server error"
// @Router /peers/{peerId}/history [get]
func HistoryHandler(
	ctx context.Context,
	pes peer_events.PeerEventsQueryService,
	logger *zap.Logger,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		peerId := mux.Vars(r)["peerId"]
		size := 0
		if rawSize := r.URL.Query().Get("size"); rawSize != "" {
			parsed, err := strconv.Atoi(rawSize)
			if err != nil || parsed <= 0 {
				HttpError(w, "Invalid size", http.StatusBadRequest, logger)
				return
			}
			size = parsed
		}

		entries, err := pes.History(ctx, peerId, size)
		if err != nil {
			if errors.Is(err, peer_events.ErrHistoryUnavailable) {
				HttpError(w, "History unavailable", http.StatusServiceUnavailable, logger)
				return
			}
			logger.Error("Error encountered when searching peer history", zap.Error(err))
			HttpError(w, "Internal server error", http.StatusInternalServerError, logger)
			return
		}
		if entries == nil {
			entries = []model.LogEntry{}
		}
		total, err := pes.Count(ctx, peerId)
		if err != nil {
			logger.Warn("Error encountered when counting peer history", zap.Error(err))
		} else {
			w.Header().Set("X-Total-Count", strconv.FormatInt(total, 10))
		}
		writeJson(w, entries, logger)
	}
}
