package reconcile_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/temirov/caravan/internal/githubcli"
	"github.com/temirov/caravan/internal/notify"
	"github.com/temirov/caravan/internal/reconcile"
	"github.com/temirov/caravan/internal/state"
)

const (
	testSourceHostConstant              = "ghe.example.com"
	testSourceOrganizationConstant      = "legacy"
	testTargetHostConstant              = "github.com"
	testTargetOrganizationConstant      = "modern"
	testRepositoryNameConstant          = "widget-service"
	testTargetAbsentCaseNameConstant    = "target_absent"
	testSourceNewerCaseNameConstant     = "source_strictly_newer"
	testTimestampsEqualCaseNameConstant = "timestamps_equal"
	testTargetNewerCaseNameConstant     = "target_newer"
	testSourceTimeMissingCaseName       = "source_timestamp_missing"
	testTargetTimeMissingCaseName       = "target_timestamp_missing"
)

func testLabels() state.Labels {
	return state.Labels{
		Source: state.OrganizationCoordinates{Host: testSourceHostConstant, Organization: testSourceOrganizationConstant},
		Target: state.OrganizationCoordinates{Host: testTargetHostConstant, Organization: testTargetOrganizationConstant},
	}
}

type stubRepositoryInspector struct {
	inspectionsByKey  map[string]githubcli.RepositoryInspection
	defaultInspection githubcli.RepositoryInspection
	inspectionError   error
	recordedNames     []string
}

func (inspector *stubRepositoryInspector) InspectRepository(_ context.Context, host string, _ string, repositoryName string) (githubcli.RepositoryInspection, error) {
	inspector.recordedNames = append(inspector.recordedNames, repositoryName)
	if inspector.inspectionError != nil {
		return githubcli.RepositoryInspection{}, inspector.inspectionError
	}
	if inspection, inspectionKnown := inspector.inspectionsByKey[host+"/"+repositoryName]; inspectionKnown {
		return inspection, nil
	}
	return inspector.defaultInspection, nil
}

type recordingEventPublisher struct {
	publishedEvents []notify.Event
}

func (publisher *recordingEventPublisher) Publish(event notify.Event) {
	publisher.publishedEvents = append(publisher.publishedEvents, event)
}

type recordingSaveRequester struct {
	saveRequestCount int
}

func (requester *recordingSaveRequester) RequestSave() {
	requester.saveRequestCount++
}

type stubServiceClock struct {
	currentTime time.Time
}

func (clock stubServiceClock) Now() time.Time {
	return clock.currentTime
}

func uniqueOrderedNames(recordedNames []string) []string {
	orderedNames := make([]string, 0, len(recordedNames))
	seenNames := map[string]struct{}{}
	for _, recordedName := range recordedNames {
		if _, nameSeen := seenNames[recordedName]; nameSeen {
			continue
		}
		seenNames[recordedName] = struct{}{}
		orderedNames = append(orderedNames, recordedName)
	}
	return orderedNames
}

func TestNewServiceValidatesDependencies(testInstance *testing.T) {
	testInstance.Parallel()

	testCases := []struct {
		name          string
		mutate        func(dependencies *reconcile.ServiceDependencies)
		expectedError error
	}{
		{
			name:          "missing_logger",
			mutate:        func(dependencies *reconcile.ServiceDependencies) { dependencies.Logger = nil },
			expectedError: reconcile.ErrLoggerNotConfigured,
		},
		{
			name:          "missing_store",
			mutate:        func(dependencies *reconcile.ServiceDependencies) { dependencies.Store = nil },
			expectedError: reconcile.ErrStoreNotConfigured,
		},
		{
			name:          "missing_inspector",
			mutate:        func(dependencies *reconcile.ServiceDependencies) { dependencies.Inspector = nil },
			expectedError: reconcile.ErrInspectorNotConfigured,
		},
	}

	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(subtestInstance *testing.T) {
			subtestInstance.Parallel()

			dependencies := reconcile.ServiceDependencies{
				Logger:    zap.NewNop(),
				Store:     state.NewStore(nil, testLabels()),
				Inspector: &stubRepositoryInspector{},
			}
			testCase.mutate(&dependencies)

			serviceInstance, creationError := reconcile.NewService(dependencies)
			require.Nil(subtestInstance, serviceInstance)
			require.ErrorIs(subtestInstance, creationError, testCase.expectedError)
		})
	}
}

func TestServiceExecuteClassifiesRepositories(testInstance *testing.T) {
	testInstance.Parallel()

	earlierPush := time.Date(2024, time.May, 20, 9, 0, 0, 0, time.UTC)
	laterPush := earlierPush.Add(time.Hour)
	checkTime := time.Date(2024, time.June, 1, 10, 0, 0, 0, time.UTC)

	testCases := []struct {
		name           string
		sourcePushedAt *time.Time
		targetExists   bool
		targetPushedAt *time.Time
		expectedStatus state.Status
	}{
		{
			name:           testTargetAbsentCaseNameConstant,
			sourcePushedAt: &earlierPush,
			targetExists:   false,
			expectedStatus: state.StatusNeedsSync,
		},
		{
			name:           testSourceNewerCaseNameConstant,
			sourcePushedAt: &laterPush,
			targetExists:   true,
			targetPushedAt: &earlierPush,
			expectedStatus: state.StatusNeedsSync,
		},
		{
			name:           testTimestampsEqualCaseNameConstant,
			sourcePushedAt: &earlierPush,
			targetExists:   true,
			targetPushedAt: &earlierPush,
			expectedStatus: state.StatusInSync,
		},
		{
			name:           testTargetNewerCaseNameConstant,
			sourcePushedAt: &earlierPush,
			targetExists:   true,
			targetPushedAt: &laterPush,
			expectedStatus: state.StatusInSync,
		},
		{
			name:           testSourceTimeMissingCaseName,
			sourcePushedAt: nil,
			targetExists:   true,
			targetPushedAt: &earlierPush,
			expectedStatus: state.StatusNeedsSync,
		},
		{
			name:           testTargetTimeMissingCaseName,
			sourcePushedAt: &earlierPush,
			targetExists:   true,
			targetPushedAt: nil,
			expectedStatus: state.StatusNeedsSync,
		},
	}

	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(subtestInstance *testing.T) {
			subtestInstance.Parallel()

			storeInstance := state.NewStore(nil, testLabels())
			storeInstance.Upsert(state.RecordUpdate{Name: testRepositoryNameConstant})

			inspectorInstance := &stubRepositoryInspector{inspectionsByKey: map[string]githubcli.RepositoryInspection{
				testSourceHostConstant + "/" + testRepositoryNameConstant: {Exists: true, PushedAt: testCase.sourcePushedAt},
				testTargetHostConstant + "/" + testRepositoryNameConstant: {Exists: testCase.targetExists, PushedAt: testCase.targetPushedAt},
			}}
			publisherInstance := &recordingEventPublisher{}
			saveRequesterInstance := &recordingSaveRequester{}

			serviceInstance, creationError := reconcile.NewService(reconcile.ServiceDependencies{
				Logger:    zap.NewNop(),
				Store:     storeInstance,
				Inspector: inspectorInstance,
				Publisher: publisherInstance,
				Saver:     saveRequesterInstance,
				Clock:     stubServiceClock{currentTime: checkTime},
			})
			require.NoError(subtestInstance, creationError)
			require.NoError(subtestInstance, serviceInstance.Execute(context.Background()))

			reconciledRecord, recordExists := storeInstance.Get(testRepositoryNameConstant)
			require.True(subtestInstance, recordExists)
			require.Equal(subtestInstance, testCase.expectedStatus, reconciledRecord.Status)
			require.NotNil(subtestInstance, reconciledRecord.LastChecked)
			require.Equal(subtestInstance, checkTime, *reconciledRecord.LastChecked)
			if testCase.sourcePushedAt != nil {
				require.NotNil(subtestInstance, reconciledRecord.LastPushed)
				require.Equal(subtestInstance, *testCase.sourcePushedAt, *reconciledRecord.LastPushed)
			} else {
				require.Nil(subtestInstance, reconciledRecord.LastPushed)
			}

			require.Len(subtestInstance, publisherInstance.publishedEvents, 1)
			require.Equal(subtestInstance, notify.ReasonReconciled, publisherInstance.publishedEvents[0].Reason)
			require.Equal(subtestInstance, testCase.expectedStatus, publisherInstance.publishedEvents[0].Status)
			require.Equal(subtestInstance, 1, saveRequesterInstance.saveRequestCount)
		})
	}
}

func TestServiceExecuteSelectsUnclassifiedThenStalestRecords(testInstance *testing.T) {
	testInstance.Parallel()

	stalePush := time.Date(2024, time.May, 1, 8, 0, 0, 0, time.UTC)
	staleCheck := time.Date(2024, time.May, 10, 8, 0, 0, 0, time.UTC)
	recentCheck := staleCheck.Add(48 * time.Hour)

	storeInstance := state.NewStore(nil, testLabels())
	storeInstance.Upsert(state.RecordUpdate{Name: "alpha-service"})
	storeInstance.Upsert(state.RecordUpdate{Name: "beta-tool", LastChecked: &staleCheck})
	storeInstance.SetStatus("beta-tool", state.StatusInSync, state.StatusDetails{})
	storeInstance.Upsert(state.RecordUpdate{Name: "gamma-worker", LastChecked: &recentCheck})
	storeInstance.SetStatus("gamma-worker", state.StatusNeedsSync, state.StatusDetails{})
	storeInstance.Upsert(state.RecordUpdate{Name: "delta-api"})
	storeInstance.SetStatus("delta-api", state.StatusQueued, state.StatusDetails{})
	storeInstance.Upsert(state.RecordUpdate{Name: "epsilon-cache"})
	failureMessage := "organization not found"
	storeInstance.SetStatus("epsilon-cache", state.StatusFailed, state.StatusDetails{ErrorMessage: &failureMessage})

	inspectorInstance := &stubRepositoryInspector{defaultInspection: githubcli.RepositoryInspection{Exists: true, PushedAt: &stalePush}}
	publisherInstance := &recordingEventPublisher{}
	saveRequesterInstance := &recordingSaveRequester{}

	serviceInstance, creationError := reconcile.NewService(reconcile.ServiceDependencies{
		Logger:    zap.NewNop(),
		Store:     storeInstance,
		Inspector: inspectorInstance,
		Publisher: publisherInstance,
		Saver:     saveRequesterInstance,
		Settings:  reconcile.ServiceSettings{BatchSize: 1},
	})
	require.NoError(testInstance, creationError)
	require.NoError(testInstance, serviceInstance.Execute(context.Background()))

	require.Equal(testInstance, []string{"alpha-service", "beta-tool"}, uniqueOrderedNames(inspectorInstance.recordedNames))
	require.Len(testInstance, publisherInstance.publishedEvents, 2)
	require.Equal(testInstance, 1, saveRequesterInstance.saveRequestCount)

	untouchedRecord, untouchedRecordExists := storeInstance.Get("gamma-worker")
	require.True(testInstance, untouchedRecordExists)
	require.Equal(testInstance, recentCheck, *untouchedRecord.LastChecked)
}

func TestServiceExecuteReclassifiesLostRecordClearingMigrationState(testInstance *testing.T) {
	testInstance.Parallel()

	sourcePush := time.Date(2024, time.May, 20, 9, 0, 0, 0, time.UTC)
	storeInstance := state.NewStore(nil, testLabels())
	storeInstance.Upsert(state.RecordUpdate{Name: testRepositoryNameConstant})
	migrationIdentifier := "RM_12345"
	storeInstance.SetStatus(testRepositoryNameConstant, state.StatusQueued, state.StatusDetails{MigrationIdentifier: &migrationIdentifier})
	lostMessage := "migration no longer resolvable"
	storeInstance.SetStatus(testRepositoryNameConstant, state.StatusLost, state.StatusDetails{ErrorMessage: &lostMessage})

	inspectorInstance := &stubRepositoryInspector{inspectionsByKey: map[string]githubcli.RepositoryInspection{
		testSourceHostConstant + "/" + testRepositoryNameConstant: {Exists: true, PushedAt: &sourcePush},
		testTargetHostConstant + "/" + testRepositoryNameConstant: {Exists: false},
	}}
	publisherInstance := &recordingEventPublisher{}

	serviceInstance, creationError := reconcile.NewService(reconcile.ServiceDependencies{
		Logger:    zap.NewNop(),
		Store:     storeInstance,
		Inspector: inspectorInstance,
		Publisher: publisherInstance,
	})
	require.NoError(testInstance, creationError)
	require.NoError(testInstance, serviceInstance.Execute(context.Background()))

	reclassifiedRecord, recordExists := storeInstance.Get(testRepositoryNameConstant)
	require.True(testInstance, recordExists)
	require.Equal(testInstance, state.StatusNeedsSync, reclassifiedRecord.Status)
	require.Empty(testInstance, reclassifiedRecord.MigrationIdentifier)
	require.Empty(testInstance, reclassifiedRecord.ErrorMessage)
	require.Nil(testInstance, reclassifiedRecord.QueuedAt)
	require.Nil(testInstance, reclassifiedRecord.StartedAt)

	require.Len(testInstance, publisherInstance.publishedEvents, 1)
	require.Equal(testInstance, state.StatusNeedsSync, publisherInstance.publishedEvents[0].Status)
}

func TestServiceExecuteReclassifiesDriftedInSyncRecordClearingMigrationState(testInstance *testing.T) {
	testInstance.Parallel()

	earlierPush := time.Date(2024, time.May, 20, 9, 0, 0, 0, time.UTC)
	laterPush := earlierPush.Add(time.Hour)
	storeInstance := state.NewStore(nil, testLabels())
	storeInstance.Upsert(state.RecordUpdate{Name: testRepositoryNameConstant})
	migrationIdentifier := "RM_12345"
	storeInstance.SetStatus(testRepositoryNameConstant, state.StatusQueued, state.StatusDetails{MigrationIdentifier: &migrationIdentifier})
	storeInstance.SetStatus(testRepositoryNameConstant, state.StatusMigrating, state.StatusDetails{})
	completedRecord, _ := storeInstance.SetStatus(testRepositoryNameConstant, state.StatusInSync, state.StatusDetails{})
	require.NotNil(testInstance, completedRecord.EndedAt)
	require.NotNil(testInstance, completedRecord.ElapsedSeconds)

	inspectorInstance := &stubRepositoryInspector{inspectionsByKey: map[string]githubcli.RepositoryInspection{
		testSourceHostConstant + "/" + testRepositoryNameConstant: {Exists: true, PushedAt: &laterPush},
		testTargetHostConstant + "/" + testRepositoryNameConstant: {Exists: true, PushedAt: &earlierPush},
	}}
	publisherInstance := &recordingEventPublisher{}

	serviceInstance, creationError := reconcile.NewService(reconcile.ServiceDependencies{
		Logger:    zap.NewNop(),
		Store:     storeInstance,
		Inspector: inspectorInstance,
		Publisher: publisherInstance,
	})
	require.NoError(testInstance, creationError)
	require.NoError(testInstance, serviceInstance.Execute(context.Background()))

	driftedRecord, recordExists := storeInstance.Get(testRepositoryNameConstant)
	require.True(testInstance, recordExists)
	require.Equal(testInstance, state.StatusNeedsSync, driftedRecord.Status)
	require.Empty(testInstance, driftedRecord.MigrationIdentifier)
	require.Nil(testInstance, driftedRecord.QueuedAt)
	require.Nil(testInstance, driftedRecord.StartedAt)
	require.Nil(testInstance, driftedRecord.EndedAt)
	require.Nil(testInstance, driftedRecord.ElapsedSeconds)

	require.Len(testInstance, publisherInstance.publishedEvents, 1)
	require.Equal(testInstance, state.StatusNeedsSync, publisherInstance.publishedEvents[0].Status)
}

func TestServiceExecuteLeavesRecordUntouchedOnInspectionFailure(testInstance *testing.T) {
	testInstance.Parallel()

	storeInstance := state.NewStore(nil, testLabels())
	storeInstance.Upsert(state.RecordUpdate{Name: testRepositoryNameConstant})

	inspectorInstance := &stubRepositoryInspector{inspectionError: errors.New("rate limited")}
	publisherInstance := &recordingEventPublisher{}
	saveRequesterInstance := &recordingSaveRequester{}

	serviceInstance, creationError := reconcile.NewService(reconcile.ServiceDependencies{
		Logger:    zap.NewNop(),
		Store:     storeInstance,
		Inspector: inspectorInstance,
		Publisher: publisherInstance,
		Saver:     saveRequesterInstance,
	})
	require.NoError(testInstance, creationError)
	require.NoError(testInstance, serviceInstance.Execute(context.Background()))

	untouchedRecord, recordExists := storeInstance.Get(testRepositoryNameConstant)
	require.True(testInstance, recordExists)
	require.Equal(testInstance, state.StatusUnclassified, untouchedRecord.Status)
	require.Nil(testInstance, untouchedRecord.LastChecked)
	require.Empty(testInstance, publisherInstance.publishedEvents)
	require.Zero(testInstance, saveRequesterInstance.saveRequestCount)
}
