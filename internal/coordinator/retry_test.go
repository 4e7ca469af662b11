package coordinator_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/temirov/caravan/internal/coordinator"
	"github.com/temirov/caravan/internal/notify"
	"github.com/temirov/caravan/internal/state"
)

const (
	failedRepositoryNameConstant     = "broken-service"
	untrackedRepositoryNameConstant  = "ghost-service"
	staleMigrationIdentifierConstant = "1042"
	failedAttemptMessageConstant     = "import rejected"
)

type recordingRepositoryDeleter struct {
	store              *state.Store
	deletionError      error
	recordedHosts      []string
	recordedOrgs       []string
	recordedNames      []string
	statusesAtDeletion []state.Status
}

func (deleter *recordingRepositoryDeleter) DeleteRepository(_ context.Context, host string, organization string, repositoryName string) error {
	deleter.recordedHosts = append(deleter.recordedHosts, host)
	deleter.recordedOrgs = append(deleter.recordedOrgs, organization)
	deleter.recordedNames = append(deleter.recordedNames, repositoryName)
	if sampledRecord, recordFound := deleter.store.Get(repositoryName); recordFound {
		deleter.statusesAtDeletion = append(deleter.statusesAtDeletion, sampledRecord.Status)
	}
	return deleter.deletionError
}

type recordingEventPublisher struct {
	publishedEvents []notify.Event
}

func (publisher *recordingEventPublisher) Publish(event notify.Event) {
	publisher.publishedEvents = append(publisher.publishedEvents, event)
}

type recordingSaveRequester struct {
	saveRequests int
}

func (requester *recordingSaveRequester) RequestSave() { requester.saveRequests++ }

type recordingDispatchPrioritizer struct {
	prioritizedNames []string
}

func (prioritizer *recordingDispatchPrioritizer) Prioritize(repositoryName string) {
	prioritizer.prioritizedNames = append(prioritizer.prioritizedNames, repositoryName)
}

type retryFixture struct {
	retryTime       time.Time
	store           *state.Store
	deleter         *recordingRepositoryDeleter
	publisher       *recordingEventPublisher
	saver           *recordingSaveRequester
	prioritizer     *recordingDispatchPrioritizer
	dispatchKicker  *recordingWorkerLoop
	reconcileKicker *recordingWorkerLoop
	service         *coordinator.RetryService
}

func newRetryFixture(testInstance *testing.T) *retryFixture {
	testInstance.Helper()

	retryTime := time.Date(2024, time.June, 1, 10, 0, 0, 0, time.UTC)
	retryClock := &testClock{currentTime: retryTime}
	stateStore := state.NewStore(retryClock, testLabels())
	fixture := &retryFixture{
		retryTime:       retryTime,
		store:           stateStore,
		deleter:         &recordingRepositoryDeleter{store: stateStore},
		publisher:       &recordingEventPublisher{},
		saver:           &recordingSaveRequester{},
		prioritizer:     &recordingDispatchPrioritizer{},
		dispatchKicker:  &recordingWorkerLoop{},
		reconcileKicker: &recordingWorkerLoop{},
	}

	retryService, creationError := coordinator.NewRetryService(coordinator.RetryServiceDependencies{
		Logger:              zap.NewNop(),
		Store:               stateStore,
		Deleter:             fixture.deleter,
		Publisher:           fixture.publisher,
		Saver:               fixture.saver,
		Clock:               retryClock,
		DispatchPrioritizer: fixture.prioritizer,
		DispatchKicker:      fixture.dispatchKicker,
		ReconcileKicker:     fixture.reconcileKicker,
	})
	require.NoError(testInstance, creationError)
	fixture.service = retryService
	return fixture
}

func (fixture *retryFixture) trackFailedRepository(repositoryName string) {
	fixture.store.Upsert(state.RecordUpdate{Name: repositoryName})
	migrationIdentifier := staleMigrationIdentifierConstant
	fixture.store.SetStatus(repositoryName, state.StatusQueued, state.StatusDetails{MigrationIdentifier: &migrationIdentifier})
	failureMessage := failedAttemptMessageConstant
	fixture.store.SetStatus(repositoryName, state.StatusFailed, state.StatusDetails{ErrorMessage: &failureMessage})
}

func TestNewRetryServiceValidatesDependencies(testInstance *testing.T) {
	_, missingLoggerError := coordinator.NewRetryService(coordinator.RetryServiceDependencies{
		Store: state.NewStore(nil, testLabels()),
	})
	require.ErrorIs(testInstance, missingLoggerError, coordinator.ErrRetryLoggerNotConfigured)

	_, missingStoreError := coordinator.NewRetryService(coordinator.RetryServiceDependencies{
		Logger: zap.NewNop(),
	})
	require.ErrorIs(testInstance, missingStoreError, coordinator.ErrRetryStoreNotConfigured)
}

func TestRetryRequeuesFailedRepository(testInstance *testing.T) {
	fixture := newRetryFixture(testInstance)
	fixture.trackFailedRepository(failedRepositoryNameConstant)

	retryError := fixture.service.Retry(context.Background(), failedRepositoryNameConstant)

	require.NoError(testInstance, retryError)
	retriedRecord, recordFound := fixture.store.Get(failedRepositoryNameConstant)
	require.True(testInstance, recordFound)
	require.Equal(testInstance, state.StatusNeedsSync, retriedRecord.Status)
	require.Empty(testInstance, retriedRecord.MigrationIdentifier)
	require.Empty(testInstance, retriedRecord.ErrorMessage)
	require.Nil(testInstance, retriedRecord.QueuedAt)
	require.Nil(testInstance, retriedRecord.StartedAt)
	require.Nil(testInstance, retriedRecord.EndedAt)
	require.Nil(testInstance, retriedRecord.ElapsedSeconds)

	require.Len(testInstance, fixture.publisher.publishedEvents, 1)
	retriedEvent := fixture.publisher.publishedEvents[0]
	require.Equal(testInstance, failedRepositoryNameConstant, retriedEvent.Repository)
	require.Equal(testInstance, state.StatusNeedsSync, retriedEvent.Status)
	require.Equal(testInstance, notify.ReasonRetried, retriedEvent.Reason)
	require.Equal(testInstance, fixture.retryTime, retriedEvent.OccurredAt)
	require.Equal(testInstance, 1, fixture.saver.saveRequests)

	require.Equal(testInstance, []string{testTargetHostConstant}, fixture.deleter.recordedHosts)
	require.Equal(testInstance, []string{testTargetOrganizationConstant}, fixture.deleter.recordedOrgs)
	require.Equal(testInstance, []string{failedRepositoryNameConstant}, fixture.deleter.recordedNames)
	require.Equal(testInstance, []state.Status{state.StatusNeedsSync}, fixture.deleter.statusesAtDeletion)

	require.Equal(testInstance, []string{failedRepositoryNameConstant}, fixture.prioritizer.prioritizedNames)
	require.Equal(testInstance, 1, fixture.dispatchKicker.kickCount)
	require.Equal(testInstance, 1, fixture.reconcileKicker.kickCount)
}

func TestRetryRejectsUntrackedRepository(testInstance *testing.T) {
	fixture := newRetryFixture(testInstance)

	retryError := fixture.service.Retry(context.Background(), untrackedRepositoryNameConstant)

	require.ErrorIs(testInstance, retryError, coordinator.ErrRepositoryNotTracked)
	require.Contains(testInstance, retryError.Error(), untrackedRepositoryNameConstant)
	require.Empty(testInstance, fixture.deleter.recordedNames)
	require.Empty(testInstance, fixture.publisher.publishedEvents)
	require.Equal(testInstance, 0, fixture.saver.saveRequests)
	require.Empty(testInstance, fixture.prioritizer.prioritizedNames)
	require.Equal(testInstance, 0, fixture.dispatchKicker.kickCount)
}

func TestRetryRejectsRepositoryNotFailed(testInstance *testing.T) {
	fixture := newRetryFixture(testInstance)
	fixture.store.Upsert(state.RecordUpdate{Name: failedRepositoryNameConstant})
	migrationIdentifier := staleMigrationIdentifierConstant
	fixture.store.SetStatus(failedRepositoryNameConstant, state.StatusQueued, state.StatusDetails{MigrationIdentifier: &migrationIdentifier})

	retryError := fixture.service.Retry(context.Background(), failedRepositoryNameConstant)

	require.ErrorIs(testInstance, retryError, coordinator.ErrRetryNotAllowed)
	require.Contains(testInstance, retryError.Error(), string(state.StatusQueued))
	unchangedRecord, _ := fixture.store.Get(failedRepositoryNameConstant)
	require.Equal(testInstance, state.StatusQueued, unchangedRecord.Status)
	require.Equal(testInstance, staleMigrationIdentifierConstant, unchangedRecord.MigrationIdentifier)
	require.Empty(testInstance, fixture.deleter.recordedNames)
	require.Empty(testInstance, fixture.publisher.publishedEvents)
}

func TestRetryToleratesTargetCleanupFailure(testInstance *testing.T) {
	fixture := newRetryFixture(testInstance)
	fixture.trackFailedRepository(failedRepositoryNameConstant)
	fixture.deleter.deletionError = errors.New("delete rejected")

	retryError := fixture.service.Retry(context.Background(), failedRepositoryNameConstant)

	require.NoError(testInstance, retryError)
	retriedRecord, _ := fixture.store.Get(failedRepositoryNameConstant)
	require.Equal(testInstance, state.StatusNeedsSync, retriedRecord.Status)
	require.Equal(testInstance, 1, fixture.dispatchKicker.kickCount)
	require.Equal(testInstance, 1, fixture.reconcileKicker.kickCount)
}
