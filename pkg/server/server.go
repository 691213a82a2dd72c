// Package server is the HTTP surface: the five device endpoints the
// e-ink clients poll, and the JSON API the dashboard reads.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/webink/webink/pkg/config"
	"github.com/webink/webink/pkg/registry"
	"github.com/webink/webink/pkg/scheduler"
	"github.com/webink/webink/pkg/sleep"
	"github.com/webink/webink/pkg/snapshot"
	"github.com/webink/webink/pkg/system"
)

// WebInkServer routes device and dashboard requests to the store, the
// registry and the schedule. It owns no state of its own.
type WebInkServer struct {
	cfg     config.ServerConfig
	app     *config.AppConfig
	store   *snapshot.Store
	reg     *registry.Registry
	planner *sleep.Planner
	sched   *scheduler.Scheduler
	enqueue scheduler.EnqueueFunc
	router  *mux.Router
}

// NewServer wires the HTTP surface. enqueue hands manual render requests
// to the render queue.
func NewServer(
	cfg config.ServerConfig,
	app *config.AppConfig,
	store *snapshot.Store,
	reg *registry.Registry,
	planner *sleep.Planner,
	sched *scheduler.Scheduler,
	enqueue scheduler.EnqueueFunc,
) (*WebInkServer, error) {
	if app.APIKey == "" {
		return nil, fmt.Errorf("api key is required")
	}
	apiServer := &WebInkServer{
		cfg:     cfg,
		app:     app,
		store:   store,
		reg:     reg,
		planner: planner,
		sched:   sched,
		enqueue: enqueue,
	}
	apiServer.router = apiServer.registerRoutes()
	return apiServer, nil
}

func matchAllRoutes(*http.Request, *mux.RouteMatch) bool {
	return true
}

func (apiServer *WebInkServer) registerRoutes() *mux.Router {
	router := mux.NewRouter()

	// device endpoints all require the api_key query parameter
	deviceRouter := router.MatcherFunc(matchAllRoutes).Subrouter()
	deviceRouter.Use(apiServer.apiKeyMiddleware)
	deviceRouter.HandleFunc("/get_hash", system.Wrapper(apiServer.getHash)).Methods(http.MethodGet)
	deviceRouter.HandleFunc("/get_image", apiServer.getImage).Methods(http.MethodGet)
	deviceRouter.HandleFunc("/get_sleep", system.Wrapper(apiServer.getSleep)).Methods(http.MethodGet)
	deviceRouter.HandleFunc("/post_log", system.Wrapper(apiServer.postLog)).Methods(http.MethodPost)
	deviceRouter.HandleFunc("/post_metrics", system.Wrapper(apiServer.postMetrics)).Methods(http.MethodPost)

	// dashboard API, deployed on a trusted network, no auth
	router.HandleFunc("/api/config", system.Wrapper(apiServer.dashboardConfig)).Methods(http.MethodGet)
	router.HandleFunc("/api/clients", system.Wrapper(apiServer.dashboardClients)).Methods(http.MethodGet)
	router.HandleFunc("/api/preview/{page_id}", apiServer.dashboardPreview).Methods(http.MethodGet)
	router.HandleFunc("/api/page_status", system.Wrapper(apiServer.dashboardPageStatus)).Methods(http.MethodGet)
	router.HandleFunc("/api/update_page", system.Wrapper(apiServer.dashboardUpdatePage)).Methods(http.MethodPost)
	router.HandleFunc("/api/toggle_sleep", system.Wrapper(apiServer.dashboardToggleSleep)).Methods(http.MethodPost)

	return router
}

// Router exposes the handler tree, mainly for tests.
func (apiServer *WebInkServer) Router() http.Handler {
	return apiServer.router
}

// ListenAndServe blocks serving HTTP until ctx is cancelled or the
// listener fails.
func (apiServer *WebInkServer) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", apiServer.cfg.Host, apiServer.cfg.HTTPPort),
		WriteTimeout:      30 * time.Second,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       time.Minute,
		Handler:           apiServer.router,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("http shutdown")
		}
	}()
	log.Info().Str("addr", srv.Addr).Msg("http server listening")
	err := srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// apiKeyMiddleware rejects device requests whose api_key query parameter
// does not match the configured key.
func (apiServer *WebInkServer) apiKeyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(res http.ResponseWriter, req *http.Request) {
		if req.URL.Query().Get("api_key") != apiServer.app.APIKey {
			system.WriteError(res, http.StatusUnauthorized, "Invalid API key")
			return
		}
		next.ServeHTTP(res, req)
	})
}
