package handler

import (
	"net/http"

	"github.com/Avi18971911/Swarmtrace/internal/tracer_server/session"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// SessionsHandler creates a handler listing the resume cursor of every peer seen so far.
// @Summary List peer sessions.
// @Tags sessions
// @Produce json
// @Success 200 {array} session.Session "Sessions sorted by peer id"
// @Router /sessions [get]
func SessionsHandler(
	sessions session.SessionStore,
	logger *zap.Logger,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJson(w, sessions.List(), logger)
	}
}

// SessionHandler creates a handler for the session of a single peer.
// @Summary Get a peer session.
// @Tags sessions
// @Produce json
// @Param peerId path string true "The hex identity of the peer"
// @Success 200 {object} session.Session "The peer session"
// @Failure 404 {object} ErrorMessage "Unknown peer"
// @Router /sessions/{peerId} [get]
func SessionHandler(
	sessions session.SessionStore,
	logger *zap.Logger,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		peerId := mux.Vars(r)["peerId"]
		s, ok := sessions.Get(peerId)
		if !ok {
			HttpError(w, "Peer not found", http.StatusNotFound, logger)
			return
		}
		writeJson(w, s, logger)
	}
}
