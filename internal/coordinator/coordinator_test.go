package coordinator_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/temirov/caravan/internal/coordinator"
	"github.com/temirov/caravan/internal/discovery"
	"github.com/temirov/caravan/internal/dispatch"
	"github.com/temirov/caravan/internal/geicli"
	"github.com/temirov/caravan/internal/githubcli"
	"github.com/temirov/caravan/internal/notify"
	"github.com/temirov/caravan/internal/progress"
	"github.com/temirov/caravan/internal/reconcile"
	"github.com/temirov/caravan/internal/state"
)

const (
	testSourceHostConstant              = "ghe.example.com"
	testSourceOrganizationConstant      = "legacy"
	testTargetHostConstant              = "github.com"
	testTargetOrganizationConstant      = "modern"
	seededRepositoryNameConstant        = "seeded-service"
	restoredRepositoryNameConstant      = "alpha-service"
	pipelineRepositoryNameConstant      = "widget-service"
	pipelineMigrationIdentifierConstant = "42"
)

func testLabels() state.Labels {
	return state.Labels{
		Source: state.OrganizationCoordinates{Host: testSourceHostConstant, Organization: testSourceOrganizationConstant},
		Target: state.OrganizationCoordinates{Host: testTargetHostConstant, Organization: testTargetOrganizationConstant},
	}
}

type testClock struct {
	clockMutex  sync.Mutex
	currentTime time.Time
}

func (clock *testClock) Now() time.Time {
	clock.clockMutex.Lock()
	defer clock.clockMutex.Unlock()
	return clock.currentTime
}

func (clock *testClock) Advance(step time.Duration) {
	clock.clockMutex.Lock()
	defer clock.clockMutex.Unlock()
	clock.currentTime = clock.currentTime.Add(step)
}

type stubStateLoader struct {
	document      state.StateDocument
	documentFound bool
	loadError     error
}

func (loader stubStateLoader) Load() (state.StateDocument, bool, error) {
	return loader.document, loader.documentFound, loader.loadError
}

type recordingSeeder struct {
	store      *state.Store
	seededName string
	seedError  error
	seedCalls  int
}

func (seeder *recordingSeeder) Seed(context.Context) (int, error) {
	seeder.seedCalls++
	if seeder.seedError != nil {
		return 0, seeder.seedError
	}
	seeder.store.Upsert(state.RecordUpdate{Name: seeder.seededName})
	return 1, nil
}

type recordingWorkerLoop struct {
	startCount int
	kickCount  int
	stopCount  int
}

func (loop *recordingWorkerLoop) Start(context.Context) { loop.startCount++ }
func (loop *recordingWorkerLoop) Kick()                 { loop.kickCount++ }
func (loop *recordingWorkerLoop) Stop()                 { loop.stopCount++ }

type recordingPersistence struct {
	startCount int
	closeCount int
	closeError error
}

func (persistence *recordingPersistence) Start() { persistence.startCount++ }

func (persistence *recordingPersistence) Close(context.Context) error {
	persistence.closeCount++
	return persistence.closeError
}

type recordingAPIServer struct {
	startCount    int
	shutdownCount int
	startError    error
}

func (server *recordingAPIServer) Start() error {
	server.startCount++
	return server.startError
}

func (server *recordingAPIServer) Shutdown(context.Context) error {
	server.shutdownCount++
	return nil
}

type recordingBrokerCloser struct {
	closeCount int
}

func (broker *recordingBrokerCloser) Close() { broker.closeCount++ }

type lifecycleFixture struct {
	store       *state.Store
	seeder      *recordingSeeder
	persistence *recordingPersistence
	reconcile   *recordingWorkerLoop
	dispatch    *recordingWorkerLoop
	progress    *recordingWorkerLoop
	server      *recordingAPIServer
	broker      *recordingBrokerCloser
	coordinator *coordinator.Coordinator
}

func newLifecycleFixture(testInstance *testing.T, loader stubStateLoader) *lifecycleFixture {
	testInstance.Helper()

	stateStore := state.NewStore(nil, testLabels())
	fixture := &lifecycleFixture{
		store:       stateStore,
		seeder:      &recordingSeeder{store: stateStore, seededName: seededRepositoryNameConstant},
		persistence: &recordingPersistence{},
		reconcile:   &recordingWorkerLoop{},
		dispatch:    &recordingWorkerLoop{},
		progress:    &recordingWorkerLoop{},
		server:      &recordingAPIServer{},
		broker:      &recordingBrokerCloser{},
	}

	coordinatorInstance, creationError := coordinator.NewCoordinator(coordinator.CoordinatorDependencies{
		Logger:        zap.NewNop(),
		Loader:        loader,
		Store:         stateStore,
		Seeder:        fixture.seeder,
		Persistence:   fixture.persistence,
		ReconcileLoop: fixture.reconcile,
		DispatchLoop:  fixture.dispatch,
		ProgressLoop:  fixture.progress,
		Server:        fixture.server,
		Broker:        fixture.broker,
	})
	require.NoError(testInstance, creationError)
	fixture.coordinator = coordinatorInstance
	return fixture
}

func TestNewCoordinatorValidatesDependencies(testInstance *testing.T) {
	validDependencies := func() coordinator.CoordinatorDependencies {
		stateStore := state.NewStore(nil, testLabels())
		return coordinator.CoordinatorDependencies{
			Logger:        zap.NewNop(),
			Loader:        stubStateLoader{},
			Store:         stateStore,
			Seeder:        &recordingSeeder{store: stateStore, seededName: seededRepositoryNameConstant},
			Persistence:   &recordingPersistence{},
			ReconcileLoop: &recordingWorkerLoop{},
			DispatchLoop:  &recordingWorkerLoop{},
			ProgressLoop:  &recordingWorkerLoop{},
		}
	}

	testCases := []struct {
		name          string
		mutate        func(*coordinator.CoordinatorDependencies)
		expectedError error
	}{
		{
			name:          "missing_logger",
			mutate:        func(dependencies *coordinator.CoordinatorDependencies) { dependencies.Logger = nil },
			expectedError: coordinator.ErrLoggerNotConfigured,
		},
		{
			name:          "missing_loader",
			mutate:        func(dependencies *coordinator.CoordinatorDependencies) { dependencies.Loader = nil },
			expectedError: coordinator.ErrStateLoaderNotConfigured,
		},
		{
			name:          "missing_store",
			mutate:        func(dependencies *coordinator.CoordinatorDependencies) { dependencies.Store = nil },
			expectedError: coordinator.ErrStoreNotConfigured,
		},
		{
			name:          "missing_seeder",
			mutate:        func(dependencies *coordinator.CoordinatorDependencies) { dependencies.Seeder = nil },
			expectedError: coordinator.ErrSeederNotConfigured,
		},
		{
			name:          "missing_persistence",
			mutate:        func(dependencies *coordinator.CoordinatorDependencies) { dependencies.Persistence = nil },
			expectedError: coordinator.ErrPersistenceNotConfigured,
		},
		{
			name:          "missing_reconcile_loop",
			mutate:        func(dependencies *coordinator.CoordinatorDependencies) { dependencies.ReconcileLoop = nil },
			expectedError: coordinator.ErrReconcileLoopNotConfigured,
		},
		{
			name:          "missing_dispatch_loop",
			mutate:        func(dependencies *coordinator.CoordinatorDependencies) { dependencies.DispatchLoop = nil },
			expectedError: coordinator.ErrDispatchLoopNotConfigured,
		},
		{
			name:          "missing_progress_loop",
			mutate:        func(dependencies *coordinator.CoordinatorDependencies) { dependencies.ProgressLoop = nil },
			expectedError: coordinator.ErrProgressLoopNotConfigured,
		},
	}

	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(subtestInstance *testing.T) {
			dependencies := validDependencies()
			testCase.mutate(&dependencies)

			constructedCoordinator, creationError := coordinator.NewCoordinator(dependencies)
			require.Nil(subtestInstance, constructedCoordinator)
			require.ErrorIs(subtestInstance, creationError, testCase.expectedError)
		})
	}
}

func TestCoordinatorStartRestoresPersistedState(testInstance *testing.T) {
	persistedLoader := stubStateLoader{
		document: state.StateDocument{
			Version: state.DocumentVersion,
			Source:  testLabels().Source,
			Target:  testLabels().Target,
			Repositories: map[string]state.RepositoryRecord{
				restoredRepositoryNameConstant: {
					Name:       restoredRepositoryNameConstant,
					Visibility: state.VisibilityPrivate,
					Status:     state.StatusNeedsSync,
				},
			},
		},
		documentFound: true,
	}
	fixture := newLifecycleFixture(testInstance, persistedLoader)

	startError := fixture.coordinator.Start(context.Background())

	require.NoError(testInstance, startError)
	restoredRecord, recordFound := fixture.store.Get(restoredRepositoryNameConstant)
	require.True(testInstance, recordFound)
	require.Equal(testInstance, state.StatusNeedsSync, restoredRecord.Status)
	require.Equal(testInstance, 0, fixture.seeder.seedCalls)
	require.Equal(testInstance, 1, fixture.persistence.startCount)
	require.Equal(testInstance, 1, fixture.reconcile.startCount)
	require.Equal(testInstance, 1, fixture.dispatch.startCount)
	require.Equal(testInstance, 1, fixture.progress.startCount)
	require.Equal(testInstance, 1, fixture.reconcile.kickCount)
	require.Equal(testInstance, 0, fixture.dispatch.kickCount)
	require.Equal(testInstance, 1, fixture.server.startCount)
}

func TestCoordinatorStartSeedsEmptyStore(testInstance *testing.T) {
	fixture := newLifecycleFixture(testInstance, stubStateLoader{})

	startError := fixture.coordinator.Start(context.Background())

	require.NoError(testInstance, startError)
	require.Equal(testInstance, 1, fixture.seeder.seedCalls)
	_, recordFound := fixture.store.Get(seededRepositoryNameConstant)
	require.True(testInstance, recordFound)
}

func TestCoordinatorStartPropagatesLoadFailure(testInstance *testing.T) {
	loadFailure := errors.New("state file unreadable")
	fixture := newLifecycleFixture(testInstance, stubStateLoader{loadError: loadFailure})

	startError := fixture.coordinator.Start(context.Background())

	require.ErrorIs(testInstance, startError, loadFailure)
	require.Equal(testInstance, 0, fixture.persistence.startCount)
	require.Equal(testInstance, 0, fixture.reconcile.startCount)
	require.Equal(testInstance, 0, fixture.server.startCount)
}

func TestCoordinatorStartPropagatesSeedFailure(testInstance *testing.T) {
	fixture := newLifecycleFixture(testInstance, stubStateLoader{})
	seedFailure := errors.New("source listing failed")
	fixture.seeder.seedError = seedFailure

	startError := fixture.coordinator.Start(context.Background())

	require.ErrorIs(testInstance, startError, seedFailure)
	require.Equal(testInstance, 0, fixture.reconcile.startCount)
	require.Equal(testInstance, 0, fixture.dispatch.startCount)
	require.Equal(testInstance, 0, fixture.progress.startCount)
	require.Equal(testInstance, 0, fixture.server.startCount)
}

func TestCoordinatorStopUnwindsEverything(testInstance *testing.T) {
	fixture := newLifecycleFixture(testInstance, stubStateLoader{})
	require.NoError(testInstance, fixture.coordinator.Start(context.Background()))

	stopError := fixture.coordinator.Stop(context.Background())

	require.NoError(testInstance, stopError)
	require.Equal(testInstance, 1, fixture.reconcile.stopCount)
	require.Equal(testInstance, 1, fixture.dispatch.stopCount)
	require.Equal(testInstance, 1, fixture.progress.stopCount)
	require.Equal(testInstance, 1, fixture.broker.closeCount)
	require.Equal(testInstance, 1, fixture.server.shutdownCount)
	require.Equal(testInstance, 1, fixture.persistence.closeCount)
}

func TestCoordinatorStopPropagatesFinalSaveFailure(testInstance *testing.T) {
	fixture := newLifecycleFixture(testInstance, stubStateLoader{})
	require.NoError(testInstance, fixture.coordinator.Start(context.Background()))
	finalSaveFailure := errors.New("disk full")
	fixture.persistence.closeError = finalSaveFailure

	stopError := fixture.coordinator.Stop(context.Background())

	require.ErrorIs(testInstance, stopError, finalSaveFailure)
	require.Equal(testInstance, 1, fixture.broker.closeCount)
	require.Equal(testInstance, 1, fixture.server.shutdownCount)
}

type stubMigrationBackend struct {
	backendMutex    sync.Mutex
	sourceListings  []githubcli.RepositoryListing
	sourcePushedAt  time.Time
	targetExists    bool
	migrationHandle geicli.MigrationHandle
	migrationPhase  string
	startedRequests []geicli.StartMigrationRequest
}

func (backend *stubMigrationBackend) ListOrganizationRepositories(_ context.Context, _ string, _ string) ([]githubcli.RepositoryListing, error) {
	backend.backendMutex.Lock()
	defer backend.backendMutex.Unlock()
	return append([]githubcli.RepositoryListing(nil), backend.sourceListings...), nil
}

func (backend *stubMigrationBackend) InspectRepository(_ context.Context, host string, _ string, _ string) (githubcli.RepositoryInspection, error) {
	backend.backendMutex.Lock()
	defer backend.backendMutex.Unlock()
	if host == testSourceHostConstant {
		pushedAt := backend.sourcePushedAt
		return githubcli.RepositoryInspection{Exists: true, PushedAt: &pushedAt}, nil
	}
	return githubcli.RepositoryInspection{Exists: backend.targetExists}, nil
}

func (backend *stubMigrationBackend) StartMigration(_ context.Context, request geicli.StartMigrationRequest) (geicli.MigrationHandle, error) {
	backend.backendMutex.Lock()
	defer backend.backendMutex.Unlock()
	backend.startedRequests = append(backend.startedRequests, request)
	return backend.migrationHandle, nil
}

func (backend *stubMigrationBackend) MigrationStatus(_ context.Context, _ string, _ string) (githubcli.MigrationStatusReport, error) {
	backend.backendMutex.Lock()
	defer backend.backendMutex.Unlock()
	return githubcli.MigrationStatusReport{Phase: backend.migrationPhase}, nil
}

func (backend *stubMigrationBackend) setMigrationPhase(phase string) {
	backend.backendMutex.Lock()
	defer backend.backendMutex.Unlock()
	backend.migrationPhase = phase
}

func (backend *stubMigrationBackend) recordedStartRequests() []geicli.StartMigrationRequest {
	backend.backendMutex.Lock()
	defer backend.backendMutex.Unlock()
	return append([]geicli.StartMigrationRequest(nil), backend.startedRequests...)
}

// TestMigrationPipelineEndToEnd walks one repository through the full worker
// chain against a stubbed remote side: discovery registers it, reconciliation
// classifies it as needing sync, dispatch starts the migration, and the
// progress worker applies the importing and imported phases.
func TestMigrationPipelineEndToEnd(testInstance *testing.T) {
	pipelineStart := time.Date(2024, time.June, 1, 10, 0, 0, 0, time.UTC)
	pipelineClock := &testClock{currentTime: pipelineStart}
	stateStore := state.NewStore(pipelineClock, testLabels())
	eventBroker := notify.NewBroker(32)
	defer eventBroker.Close()
	eventsChannel, cancelSubscription := eventBroker.Subscribe()
	defer cancelSubscription()

	backend := &stubMigrationBackend{
		sourceListings:  []githubcli.RepositoryListing{{Name: pipelineRepositoryNameConstant, Visibility: "private"}},
		sourcePushedAt:  pipelineStart.Add(-time.Hour),
		migrationHandle: geicli.MigrationHandle{Identifier: pipelineMigrationIdentifierConstant},
	}

	discoveryService, discoveryError := discovery.NewService(discovery.ServiceDependencies{
		Logger: zap.NewNop(), Store: stateStore, Lister: backend, Publisher: eventBroker, Clock: pipelineClock,
	})
	require.NoError(testInstance, discoveryError)
	reconcileService, reconcileError := reconcile.NewService(reconcile.ServiceDependencies{
		Logger: zap.NewNop(), Store: stateStore, Inspector: backend, Publisher: eventBroker, Clock: pipelineClock,
	})
	require.NoError(testInstance, reconcileError)
	dispatchService, dispatchError := dispatch.NewService(dispatch.ServiceDependencies{
		Logger: zap.NewNop(), Store: stateStore, Starter: backend, Publisher: eventBroker, Clock: pipelineClock,
	})
	require.NoError(testInstance, dispatchError)
	progressService, progressError := progress.NewService(progress.ServiceDependencies{
		Logger: zap.NewNop(), Store: stateStore, Monitor: backend, Publisher: eventBroker, Clock: pipelineClock,
	})
	require.NoError(testInstance, progressError)

	executionContext := context.Background()

	discoveredCount, seedError := discoveryService.Seed(executionContext)
	require.NoError(testInstance, seedError)
	require.Equal(testInstance, 1, discoveredCount)
	seededRecord, seededFound := stateStore.Get(pipelineRepositoryNameConstant)
	require.True(testInstance, seededFound)
	require.Equal(testInstance, state.StatusUnclassified, seededRecord.Status)
	require.Equal(testInstance, state.VisibilityPrivate, seededRecord.Visibility)

	require.NoError(testInstance, reconcileService.Execute(executionContext))
	reconciledRecord, _ := stateStore.Get(pipelineRepositoryNameConstant)
	require.Equal(testInstance, state.StatusNeedsSync, reconciledRecord.Status)

	require.Equal(testInstance, dispatch.OutcomeStarted, dispatchService.Dispatch(executionContext))
	queuedRecord, _ := stateStore.Get(pipelineRepositoryNameConstant)
	require.Equal(testInstance, state.StatusQueued, queuedRecord.Status)
	require.Equal(testInstance, pipelineMigrationIdentifierConstant, queuedRecord.MigrationIdentifier)
	require.NotNil(testInstance, queuedRecord.StartedAt)

	startedRequests := backend.recordedStartRequests()
	require.Len(testInstance, startedRequests, 1)
	require.Equal(testInstance, testSourceOrganizationConstant, startedRequests[0].SourceOrganization)
	require.Equal(testInstance, testTargetOrganizationConstant, startedRequests[0].TargetOrganization)
	require.Equal(testInstance, pipelineRepositoryNameConstant, startedRequests[0].RepositoryName)

	backend.setMigrationPhase("importing")
	require.NoError(testInstance, progressService.Execute(executionContext))
	migratingRecord, _ := stateStore.Get(pipelineRepositoryNameConstant)
	require.Equal(testInstance, state.StatusMigrating, migratingRecord.Status)

	pipelineClock.Advance(5 * time.Minute)
	backend.setMigrationPhase("imported")
	require.NoError(testInstance, progressService.Execute(executionContext))
	completedRecord, _ := stateStore.Get(pipelineRepositoryNameConstant)
	require.Equal(testInstance, state.StatusInSync, completedRecord.Status)
	require.NotNil(testInstance, completedRecord.EndedAt)
	require.NotNil(testInstance, completedRecord.ElapsedSeconds)
	require.Equal(testInstance, int64(300), *completedRecord.ElapsedSeconds)
	require.Equal(testInstance, 5*time.Minute, completedRecord.EndedAt.Sub(*completedRecord.StartedAt))

	receivedReasons := []notify.Reason{}
drainLoop:
	for {
		select {
		case receivedEvent := <-eventsChannel:
			receivedReasons = append(receivedReasons, receivedEvent.Reason)
		default:
			break drainLoop
		}
	}
	require.Equal(testInstance, []notify.Reason{
		notify.ReasonDiscovered,
		notify.ReasonReconciled,
		notify.ReasonQueued,
		notify.ReasonPhaseChanged,
		notify.ReasonPhaseChanged,
	}, receivedReasons)
}
