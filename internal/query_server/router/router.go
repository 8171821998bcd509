package router

import (
	"context"
	"net/http"

	"github.com/Avi18971911/Swarmtrace/internal/graph/service"
	"github.com/Avi18971911/Swarmtrace/internal/query_server/handler"
	"github.com/Avi18971911/Swarmtrace/internal/query_server/service/peer_events"
	"github.com/Avi18971911/Swarmtrace/internal/tracer_server/session"
	"github.com/benbjohnson/clock"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func CreateRouter(
	ctx context.Context,
	engine service.GraphEngine,
	sessions session.SessionStore,
	peerEventsQueryService peer_events.PeerEventsQueryService,
	clk clock.Clock,
	logger *zap.Logger,
) http.Handler {
	r := mux.NewRouter()

	r.Handle(
		"/graph", handler.GraphHandler(
			engine,
			clk,
			logger,
		),
	).Methods("GET")

	r.Handle(
		"/sessions", handler.SessionsHandler(
			sessions,
			logger,
		),
	).Methods("GET")

	r.Handle(
		"/sessions/{peerId}", handler.SessionHandler(
			sessions,
			logger,
		),
	).Methods("GET")

	r.Handle(
		"/peers/{peerId}/events", handler.RecentEventsHandler(
			peerEventsQueryService,
			logger,
		),
	).Methods("GET")

	r.Handle(
		"/peers/{peerId}/history", handler.HistoryHandler(
			ctx,
			peerEventsQueryService,
			logger,
		),
	).Methods("GET")

	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	return r
}
