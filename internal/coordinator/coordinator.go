package coordinator

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/temirov/caravan/internal/state"
)

const (
	coordinatorLoggerNotConfiguredMessage      = "coordinator logger not configured"
	coordinatorLoaderNotConfiguredMessage      = "state loader not configured"
	coordinatorStoreNotConfiguredMessage       = "coordinator state store not configured"
	coordinatorSeederNotConfiguredMessage      = "seeder not configured"
	coordinatorPersistenceNotConfiguredMessage = "state persistence not configured"
	reconcileLoopNotConfiguredMessage          = "reconcile loop not configured"
	dispatchLoopNotConfiguredMessage           = "dispatch loop not configured"
	progressLoopNotConfiguredMessage           = "progress loop not configured"

	stateLoadFailedTemplateConstant    = "state load failed: %w"
	stateRestoreFailedTemplateConstant = "state restore failed: %w"
	seedFailedTemplateConstant         = "initial discovery failed: %w"
	serverStartFailedTemplateConstant  = "http server start failed: %w"
	finalSaveFailedTemplateConstant    = "final state save failed: %w"

	stateRestoredLogMessageConstant        = "state restored"
	storeSeededLogMessageConstant          = "source organization seeded"
	coordinatorStartedLogMessageConstant   = "coordinator started"
	coordinatorStoppedLogMessageConstant   = "coordinator stopped"
	serverShutdownFailedLogMessageConstant = "http server shutdown failed"
	repositoryCountLogFieldNameConstant    = "repository_count"
)

// Sentinel errors returned by NewCoordinator.
var (
	ErrLoggerNotConfigured        = errors.New(coordinatorLoggerNotConfiguredMessage)
	ErrStateLoaderNotConfigured   = errors.New(coordinatorLoaderNotConfiguredMessage)
	ErrStoreNotConfigured         = errors.New(coordinatorStoreNotConfiguredMessage)
	ErrSeederNotConfigured        = errors.New(coordinatorSeederNotConfiguredMessage)
	ErrPersistenceNotConfigured   = errors.New(coordinatorPersistenceNotConfiguredMessage)
	ErrReconcileLoopNotConfigured = errors.New(reconcileLoopNotConfiguredMessage)
	ErrDispatchLoopNotConfigured  = errors.New(dispatchLoopNotConfiguredMessage)
	ErrProgressLoopNotConfigured  = errors.New(progressLoopNotConfiguredMessage)
)

// StateLoader reads the persisted state document. *state.DocumentFile
// satisfies it.
type StateLoader interface {
	Load() (state.StateDocument, bool, error)
}

// CoordinatorStateStore is the subset of the state store the lifecycle uses.
type CoordinatorStateStore interface {
	RestoreSnapshot(document state.StateDocument) error
	ListAll() []state.RepositoryRecord
}

// Seeder registers the source organization's repositories in an empty store.
type Seeder interface {
	Seed(executionContext context.Context) (int, error)
}

// WorkerLoop is the lifecycle surface of a recurring worker. *worker.Loop
// satisfies it.
type WorkerLoop interface {
	Start(executionContext context.Context)
	Kick()
	Stop()
}

// StatePersistence is the save scheduler surface the lifecycle drives. Close
// performs the final save and reports its error.
type StatePersistence interface {
	Start()
	Close(closeContext context.Context) error
}

// EventBroker is the broker surface the lifecycle owns at shutdown.
type EventBroker interface {
	Close()
}

// APIServer is the HTTP server surface the lifecycle drives.
type APIServer interface {
	Start() error
	Shutdown(executionContext context.Context) error
}

// CoordinatorDependencies carries the collaborators required by
// NewCoordinator. Server and Broker are optional; without a server the
// coordinator runs headless.
type CoordinatorDependencies struct {
	Logger        *zap.Logger
	Loader        StateLoader
	Store         CoordinatorStateStore
	Seeder        Seeder
	Persistence   StatePersistence
	ReconcileLoop WorkerLoop
	DispatchLoop  WorkerLoop
	ProgressLoop  WorkerLoop
	Server        APIServer
	Broker        EventBroker
}

// Coordinator sequences the migration machinery: restore persisted state,
// seed an empty store, run the reconcile, dispatch, and progress loops, and
// serve the HTTP API. Stop unwinds everything and performs the final save.
type Coordinator struct {
	logger        *zap.Logger
	loader        StateLoader
	store         CoordinatorStateStore
	seeder        Seeder
	persistence   StatePersistence
	reconcileLoop WorkerLoop
	dispatchLoop  WorkerLoop
	progressLoop  WorkerLoop
	server        APIServer
	broker        EventBroker
}

// NewCoordinator validates the dependencies and constructs a Coordinator.
func NewCoordinator(dependencies CoordinatorDependencies) (*Coordinator, error) {
	if dependencies.Logger == nil {
		return nil, ErrLoggerNotConfigured
	}
	if dependencies.Loader == nil {
		return nil, ErrStateLoaderNotConfigured
	}
	if dependencies.Store == nil {
		return nil, ErrStoreNotConfigured
	}
	if dependencies.Seeder == nil {
		return nil, ErrSeederNotConfigured
	}
	if dependencies.Persistence == nil {
		return nil, ErrPersistenceNotConfigured
	}
	if dependencies.ReconcileLoop == nil {
		return nil, ErrReconcileLoopNotConfigured
	}
	if dependencies.DispatchLoop == nil {
		return nil, ErrDispatchLoopNotConfigured
	}
	if dependencies.ProgressLoop == nil {
		return nil, ErrProgressLoopNotConfigured
	}
	return &Coordinator{
		logger:        dependencies.Logger,
		loader:        dependencies.Loader,
		store:         dependencies.Store,
		seeder:        dependencies.Seeder,
		persistence:   dependencies.Persistence,
		reconcileLoop: dependencies.ReconcileLoop,
		dispatchLoop:  dependencies.DispatchLoop,
		progressLoop:  dependencies.ProgressLoop,
		server:        dependencies.Server,
		broker:        dependencies.Broker,
	}, nil
}

// Start restores persisted state when a document exists, seeds the store when
// it is empty, starts the persistence goroutine and the worker loops, kicks an
// immediate reconciliation, and brings the HTTP server up. Errors before the
// loops are running abort the start; once everything runs, worker failures
// mark records instead of stopping the process.
func (coordinator *Coordinator) Start(executionContext context.Context) error {
	persistedDocument, documentFound, loadError := coordinator.loader.Load()
	if loadError != nil {
		return fmt.Errorf(stateLoadFailedTemplateConstant, loadError)
	}
	if documentFound {
		if restoreError := coordinator.store.RestoreSnapshot(persistedDocument); restoreError != nil {
			return fmt.Errorf(stateRestoreFailedTemplateConstant, restoreError)
		}
		coordinator.logger.Info(stateRestoredLogMessageConstant,
			zap.Int(repositoryCountLogFieldNameConstant, len(persistedDocument.Repositories)),
		)
	}

	coordinator.persistence.Start()

	if len(coordinator.store.ListAll()) == 0 {
		discoveredCount, seedError := coordinator.seeder.Seed(executionContext)
		if seedError != nil {
			return fmt.Errorf(seedFailedTemplateConstant, seedError)
		}
		coordinator.logger.Info(storeSeededLogMessageConstant,
			zap.Int(repositoryCountLogFieldNameConstant, discoveredCount),
		)
	}

	coordinator.reconcileLoop.Start(executionContext)
	coordinator.dispatchLoop.Start(executionContext)
	coordinator.progressLoop.Start(executionContext)
	coordinator.reconcileLoop.Kick()

	if coordinator.server != nil {
		if serverError := coordinator.server.Start(); serverError != nil {
			return fmt.Errorf(serverStartFailedTemplateConstant, serverError)
		}
	}
	coordinator.logger.Info(coordinatorStartedLogMessageConstant)
	return nil
}

// Stop halts the worker loops, ends the event streams, drains the HTTP
// server, and closes the persistence layer. The final save's error is
// returned; everything else is logged and shutdown continues.
func (coordinator *Coordinator) Stop(shutdownContext context.Context) error {
	coordinator.reconcileLoop.Stop()
	coordinator.dispatchLoop.Stop()
	coordinator.progressLoop.Stop()

	// Closing the broker ends the event streams so the server can drain.
	if coordinator.broker != nil {
		coordinator.broker.Close()
	}
	if coordinator.server != nil {
		if shutdownError := coordinator.server.Shutdown(shutdownContext); shutdownError != nil {
			coordinator.logger.Warn(serverShutdownFailedLogMessageConstant, zap.Error(shutdownError))
		}
	}

	if closeError := coordinator.persistence.Close(shutdownContext); closeError != nil {
		return fmt.Errorf(finalSaveFailedTemplateConstant, closeError)
	}
	coordinator.logger.Info(coordinatorStoppedLogMessageConstant)
	return nil
}
