package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/temirov/caravan/internal/coordinator"
	"github.com/temirov/caravan/internal/notify"
	"github.com/temirov/caravan/internal/state"
)

const (
	DefaultListenAddressConstant         = "127.0.0.1:7531"
	healthRouteConstant                  = "/healthz"
	repositoriesRouteConstant            = "/api/repositories"
	summaryRouteConstant                 = "/api/summary"
	retryRouteConstant                   = "/api/repositories/:name/retry"
	eventsRouteConstant                  = "/api/events"
	metricsRouteConstant                 = "/metrics"
	repositoryNameParameterConstant      = "name"
	eventStreamNameConstant              = "migration"
	summaryEventNameConstant             = "summary"
	heartbeatCommentConstant             = ": heartbeat\n\n"
	defaultHeartbeatIntervalConstant     = 15 * time.Second
	healthStatusValueConstant            = "ok"
	cacheControlHeaderNameConstant       = "Cache-Control"
	cacheControlNoCacheValueConstant     = "no-cache"
	readHeaderTimeoutConstant            = 10 * time.Second
	idleTimeoutConstant                  = 60 * time.Second
	shutdownLogMessageConstant           = "http server shut down"
	listenFailedLogMessageConstant       = "http server stopped unexpectedly"
	listeningLogMessageConstant          = "http server listening"
	addressLogFieldNameConstant          = "address"
	serverLoggerNotConfiguredMessage     = "logger not configured"
	serverStoreNotConfiguredMessage      = "state store not configured"
	serverRetrierNotConfiguredMessage    = "retry executor not configured"
	serverSubscriberNotConfiguredMessage = "event subscriber not configured"
)

// ErrLoggerNotConfigured indicates the server was constructed without a logger.
var ErrLoggerNotConfigured = errors.New(serverLoggerNotConfiguredMessage)

// ErrStoreNotConfigured indicates the server was constructed without a state store.
var ErrStoreNotConfigured = errors.New(serverStoreNotConfiguredMessage)

// ErrRetrierNotConfigured indicates the server was constructed without a retry executor.
var ErrRetrierNotConfigured = errors.New(serverRetrierNotConfiguredMessage)

// ErrSubscriberNotConfigured indicates the server was constructed without an event subscriber.
var ErrSubscriberNotConfigured = errors.New(serverSubscriberNotConfiguredMessage)

// RepositoryReader is the read-only subset of the state store the API serves.
type RepositoryReader interface {
	Labels() state.Labels
	ListAll() []state.RepositoryRecord
	CountsByStatus() map[state.Status]int
}

// RetryExecutor re-queues a failed repository by name.
type RetryExecutor interface {
	Retry(executionContext context.Context, repositoryName string) error
}

// EventSubscriber hands out event channels with matching cancel functions.
type EventSubscriber interface {
	Subscribe() (<-chan notify.Event, func())
}

// Dependencies carries the collaborators required by NewServer. The metrics
// handler is optional; without it the metrics route is not registered. An
// empty address falls back to the default loopback address, a zero heartbeat
// interval to the default.
type Dependencies struct {
	Logger            *zap.Logger
	Store             RepositoryReader
	Retrier           RetryExecutor
	Subscriber        EventSubscriber
	MetricsHandler    http.Handler
	Address           string
	HeartbeatInterval time.Duration
}

// Server exposes the migration state over HTTP: liveness, the repository
// list, per-status summary, the retry action, a live event stream, and
// Prometheus metrics.
type Server struct {
	logger            *zap.Logger
	store             RepositoryReader
	retrier           RetryExecutor
	subscriber        EventSubscriber
	metricsHandler    http.Handler
	address           string
	heartbeatInterval time.Duration
	httpServer        *http.Server
}

// NewServer validates the dependencies and constructs a Server.
func NewServer(dependencies Dependencies) (*Server, error) {
	if dependencies.Logger == nil {
		return nil, ErrLoggerNotConfigured
	}
	if dependencies.Store == nil {
		return nil, ErrStoreNotConfigured
	}
	if dependencies.Retrier == nil {
		return nil, ErrRetrierNotConfigured
	}
	if dependencies.Subscriber == nil {
		return nil, ErrSubscriberNotConfigured
	}
	listenAddress := dependencies.Address
	if len(listenAddress) == 0 {
		listenAddress = DefaultListenAddressConstant
	}
	heartbeatInterval := dependencies.HeartbeatInterval
	if heartbeatInterval <= 0 {
		heartbeatInterval = defaultHeartbeatIntervalConstant
	}
	return &Server{
		logger:            dependencies.Logger,
		store:             dependencies.Store,
		retrier:           dependencies.Retrier,
		subscriber:        dependencies.Subscriber,
		metricsHandler:    dependencies.MetricsHandler,
		address:           listenAddress,
		heartbeatInterval: heartbeatInterval,
	}, nil
}

type healthResponse struct {
	Status string `json:"status"`
}

type repositoriesResponse struct {
	Repositories []state.RepositoryRecord `json:"repositories"`
}

type summaryResponse struct {
	Source state.OrganizationCoordinates `json:"source"`
	Target state.OrganizationCoordinates `json:"target"`
	Total  int                           `json:"total"`
	Counts map[string]int                `json:"counts"`
}

type retryResponse struct {
	Repository string `json:"repository"`
	Accepted   bool   `json:"accepted"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Handler builds the route tree. It is exposed so tests can drive the API
// without a listening socket.
func (server *Server) Handler() http.Handler {
	engine := gin.New()
	engine.Use(gin.Recovery())

	engine.GET(healthRouteConstant, server.handleHealth)
	engine.GET(repositoriesRouteConstant, server.handleRepositories)
	engine.GET(summaryRouteConstant, server.handleSummary)
	engine.POST(retryRouteConstant, server.handleRetry)
	engine.GET(eventsRouteConstant, server.handleEvents)
	if server.metricsHandler != nil {
		engine.GET(metricsRouteConstant, gin.WrapH(server.metricsHandler))
	}
	return engine
}

// Start begins serving on the configured address without blocking. Listen
// failures other than a clean shutdown are logged.
func (server *Server) Start() error {
	gin.SetMode(gin.ReleaseMode)
	server.httpServer = &http.Server{
		Addr:              server.address,
		Handler:           server.Handler(),
		ReadHeaderTimeout: readHeaderTimeoutConstant,
		IdleTimeout:       idleTimeoutConstant,
	}
	server.logger.Info(listeningLogMessageConstant, zap.String(addressLogFieldNameConstant, server.address))
	go func() {
		listenError := server.httpServer.ListenAndServe()
		if listenError != nil && !errors.Is(listenError, http.ErrServerClosed) {
			server.logger.Error(listenFailedLogMessageConstant, zap.Error(listenError))
			return
		}
		server.logger.Info(shutdownLogMessageConstant)
	}()
	return nil
}

// Shutdown drains in-flight requests and stops the listener.
func (server *Server) Shutdown(executionContext context.Context) error {
	if server.httpServer == nil {
		return nil
	}
	return server.httpServer.Shutdown(executionContext)
}

func (server *Server) handleHealth(requestContext *gin.Context) {
	requestContext.JSON(http.StatusOK, healthResponse{Status: healthStatusValueConstant})
}

func (server *Server) handleRepositories(requestContext *gin.Context) {
	requestContext.JSON(http.StatusOK, repositoriesResponse{Repositories: server.store.ListAll()})
}

func (server *Server) handleSummary(requestContext *gin.Context) {
	requestContext.JSON(http.StatusOK, server.summaryPayload())
}

func (server *Server) summaryPayload() summaryResponse {
	labels := server.store.Labels()
	statusCounts := server.store.CountsByStatus()

	countsByName := map[string]int{}
	totalCount := 0
	for _, recognizedStatus := range state.AllStatuses() {
		statusCount := statusCounts[recognizedStatus]
		countsByName[string(recognizedStatus)] = statusCount
		totalCount += statusCount
	}
	return summaryResponse{
		Source: labels.Source,
		Target: labels.Target,
		Total:  totalCount,
		Counts: countsByName,
	}
}

func (server *Server) handleRetry(requestContext *gin.Context) {
	repositoryName := requestContext.Param(repositoryNameParameterConstant)
	retryError := server.retrier.Retry(requestContext.Request.Context(), repositoryName)
	switch {
	case retryError == nil:
		requestContext.JSON(http.StatusAccepted, retryResponse{Repository: repositoryName, Accepted: true})
	case errors.Is(retryError, coordinator.ErrRepositoryNotTracked):
		requestContext.JSON(http.StatusNotFound, errorResponse{Error: retryError.Error()})
	case errors.Is(retryError, coordinator.ErrRetryNotAllowed):
		requestContext.JSON(http.StatusConflict, errorResponse{Error: retryError.Error()})
	default:
		requestContext.JSON(http.StatusInternalServerError, errorResponse{Error: retryError.Error()})
	}
}

// handleEvents streams lifecycle events as server-sent events until the
// client disconnects or the broker closes the subscription. The stream opens
// with a summary event and writes heartbeat comments while idle.
func (server *Server) handleEvents(requestContext *gin.Context) {
	eventsChannel, cancelSubscription := server.subscriber.Subscribe()
	defer cancelSubscription()

	requestContext.Header(cacheControlHeaderNameConstant, cacheControlNoCacheValueConstant)
	requestContext.SSEvent(summaryEventNameConstant, server.summaryPayload())
	requestContext.Writer.Flush()

	heartbeatTicker := time.NewTicker(server.heartbeatInterval)
	defer heartbeatTicker.Stop()

	clientContext := requestContext.Request.Context()
	requestContext.Stream(func(streamWriter io.Writer) bool {
		select {
		case <-clientContext.Done():
			return false
		case receivedEvent, channelOpen := <-eventsChannel:
			if !channelOpen {
				return false
			}
			requestContext.SSEvent(eventStreamNameConstant, receivedEvent)
			return true
		case <-heartbeatTicker.C:
			_, writeError := io.WriteString(streamWriter, heartbeatCommentConstant)
			return writeError == nil
		}
	})
}
