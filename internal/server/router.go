package server

import (
	"net/http"

	"github.com/watzon/docwebhooks/internal/auth"
	"github.com/watzon/docwebhooks/internal/metrics"
	"github.com/watzon/docwebhooks/internal/server/handlers"
)

type Router struct {
	server      *Server
	mux         *http.ServeMux
	middlewares []Middleware
	api         Middleware
}

func NewRouter(srv *Server) *Router {
	r := &Router{
		server: srv,
		mux:    http.NewServeMux(),
	}

	r.setupMiddleware()
	r.setupRoutes()

	return r
}

func (r *Router) setupMiddleware() {
	r.Use(RecoveryMiddleware)
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware)
	r.Use(MetricsMiddleware)

	cfg := r.server.cfg
	authMW := auth.Middleware(auth.NewJWTService(cfg.Auth.JWT), cfg.Auth.JWT.Required)
	bodyMW := MaxBodySizeMiddleware(cfg.Server.MaxBodySize)
	r.api = func(next http.Handler) http.Handler {
		return authMW(bodyMW(next))
	}
}

func (r *Router) Use(mw Middleware) {
	r.middlewares = append(r.middlewares, mw)
}

func (r *Router) setupRoutes() {
	e := r.server.engine

	health := handlers.NewHealthHandlers(e.DB, e.Queue, e.Hub, e.Config.Dispatch.QueueSize, r.server.version)
	r.mux.HandleFunc("GET /health", health.Health)
	r.mux.HandleFunc("GET /health/live", health.Liveness)
	r.mux.HandleFunc("GET /health/ready", health.Readiness)
	r.mux.HandleFunc("GET /health/stats", health.Stats)
	r.mux.Handle("GET /metrics", metrics.Handler())

	events := handlers.NewEventHandlers(e.DocTypes, e.Trigger)
	r.handleAPI("POST /api/events", events.Dispatch)
	r.handleAPI("POST /api/events/batch", events.DispatchBatch)

	hooks := handlers.NewWebhookHandlers(e.Webhooks, e.Logs)
	r.handleAPI("GET /api/webhooks", hooks.List)
	r.handleAPI("POST /api/webhooks", hooks.Create)
	r.handleAPI("GET /api/webhooks/{id}", hooks.Get)
	r.handleAPI("PUT /api/webhooks/{id}", hooks.Update)
	r.handleAPI("DELETE /api/webhooks/{id}", hooks.Delete)
	r.handleAPI("POST /api/webhooks/{id}/enable", hooks.Enable)
	r.handleAPI("POST /api/webhooks/{id}/disable", hooks.Disable)
	r.handleAPI("POST /api/webhooks/{id}/test", hooks.Test)
	r.handleAPI("GET /api/webhooks/{id}/logs", hooks.Logs)

	logs := handlers.NewLogsHandlers(e.Logs)
	r.handleAPI("GET /api/request-logs", logs.List)
	r.handleAPI("GET /api/request-logs/{id}", logs.Get)

	if e.Hub != nil {
		r.mux.Handle("GET /api/realtime", r.api(e.Hub))
	}
}

func (r *Router) handleAPI(pattern string, fn http.HandlerFunc) {
	r.mux.Handle(pattern, r.api(fn))
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	handler := http.Handler(r.mux)

	for i := len(r.middlewares) - 1; i >= 0; i-- {
		handler = r.middlewares[i](handler)
	}

	handler.ServeHTTP(w, req)
}
