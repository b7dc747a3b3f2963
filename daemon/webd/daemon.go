package webd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/event"
	"github.com/gorilla/mux"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/olahol/melody"
	"github.com/rotblauer/catfuse/conceptual"
	"github.com/rotblauer/catfuse/fusion/estimator"
	"github.com/rotblauer/catfuse/params"
	"github.com/rotblauer/catfuse/stream"
)

const recentBroadcastsSize = 100

type WebDaemon struct {
	Config  *params.WebDaemonConfig
	logger  *slog.Logger
	started time.Time

	factory estimator.Factory

	// sessionsMu serializes session creation; the cache is itself safe for concurrent use.
	sessionsMu sync.Mutex
	sessions   *lru.Cache[conceptual.DeviceID, *device]

	melodyInstance *melody.Melody
	feedBroadcast  event.FeedOf[broadcast]
	broadcastSub   event.Subscription
	recent         *stream.RingBuffer[broadcast]
}

func NewWebDaemon(config *params.WebDaemonConfig) (*WebDaemon, error) {
	if config == nil {
		config = params.DefaultWebDaemonConfig()
	}
	if config.Fusion == nil {
		config.Fusion = params.DefaultFusionConfig()
	}
	factory, err := estimator.NewFactory(config.Fusion)
	if err != nil {
		return nil, err
	}
	s := &WebDaemon{
		Config:  config,
		logger:  slog.With("d", "web"),
		started: time.Now(),
		factory: factory,
		recent:  stream.NewRingBuffer[broadcast](recentBroadcastsSize),
	}
	maxSessions := config.MaxSessions
	if maxSessions < 1 {
		maxSessions = 1
	}
	s.sessions, err = lru.NewWithEvict[conceptual.DeviceID, *device](maxSessions, s.onEvict)
	if err != nil {
		return nil, err
	}
	s.initMelody()
	return s, nil
}

// Run serves HTTP on the configured listener until ctx is canceled,
// then stops every live session.
func (s *WebDaemon) Run(ctx context.Context) error {
	listener, err := net.Listen(s.Config.Network, s.Config.Address)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.Config.ListenerConfig, err)
	}
	server := &http.Server{
		Handler:           s.NewRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errs := make(chan error, 1)
	go func() {
		s.logger.Info("Starting web daemon", "listener", s.Config.ListenerConfig, "address", listener.Addr())
		errs <- server.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err = server.Shutdown(shutdownCtx)
	case err = <-errs:
	}
	s.Close()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Close stops every live session and the websocket hub.
func (s *WebDaemon) Close() {
	s.sessions.Purge()
	s.broadcastSub.Unsubscribe()
	_ = s.melodyInstance.Close()
	s.logger.Info("Web daemon closed", "uptime", time.Since(s.started).Round(time.Second))
}

func (s *WebDaemon) NewRouter() *mux.Router {
	router := mux.NewRouter().StrictSlash(false)

	// The websocket upgrade bypasses the logging middleware's response wrapper.
	router.Path("/socket").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = s.melodyInstance.HandleRequest(w, r)
	})

	apiRoutes := router.NewRoute().Subrouter()
	apiRoutes.Use(s.loggingMiddleware)
	apiRoutes.Use(permissiveCorsMiddleware)

	// /ping is a simple server healthcheck endpoint
	apiRoutes.Path("/ping").HandlerFunc(pingPong)

	apiJSONRoutes := apiRoutes.NewRoute().Subrouter()
	apiJSONRoutes.Use(contentTypeMiddlewareFunc("application/json"))

	apiJSONRoutes.Path("/status").HandlerFunc(s.statusReport).Methods(http.MethodGet)
	apiJSONRoutes.Path("/devices/{device}/last").HandlerFunc(s.handleLast).Methods(http.MethodGet)
	apiJSONRoutes.Path("/devices/{device}/stats").HandlerFunc(s.handleStats).Methods(http.MethodGet)

	authenticatedAPIRoutes := apiJSONRoutes.NewRoute().Subrouter()
	authenticatedAPIRoutes.Use(tokenAuthenticationMiddleware)
	authenticatedAPIRoutes.Path("/devices/{device}/events").HandlerFunc(s.handleEvents).Methods(http.MethodPost)

	return router
}
