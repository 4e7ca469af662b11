package reconcile

import (
	"context"
	"errors"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/temirov/caravan/internal/githubcli"
	"github.com/temirov/caravan/internal/notify"
	"github.com/temirov/caravan/internal/state"
)

const (
	defaultBatchSizeConstant              = 20
	loggerNotConfiguredMessageConstant    = "logger not configured"
	storeNotConfiguredMessageConstant     = "state store not configured"
	inspectorNotConfiguredMessageConstant = "repository inspector not configured"
	inspectionFailedLogMessageConstant    = "repository inspection failed"
	passCompletedLogMessageConstant       = "reconciliation pass completed"
	repositoryLogFieldNameConstant        = "repository"
	inspectionSideLogFieldNameConstant    = "side"
	inspectionSideSourceConstant          = "source"
	inspectionSideTargetConstant          = "target"
	checkedCountLogFieldNameConstant      = "checked"
	transitionedCountLogFieldNameConstant = "transitioned"
)

// ErrLoggerNotConfigured indicates the service was constructed without a logger.
var ErrLoggerNotConfigured = errors.New(loggerNotConfiguredMessageConstant)

// ErrStoreNotConfigured indicates the service was constructed without a state store.
var ErrStoreNotConfigured = errors.New(storeNotConfiguredMessageConstant)

// ErrInspectorNotConfigured indicates the service was constructed without an inspector.
var ErrInspectorNotConfigured = errors.New(inspectorNotConfiguredMessageConstant)

// RepositoryInspector answers existence and last-push questions for one
// repository on one host.
type RepositoryInspector interface {
	InspectRepository(executionContext context.Context, host string, organization string, repositoryName string) (githubcli.RepositoryInspection, error)
}

// StateStore is the subset of the state store used during reconciliation.
type StateStore interface {
	Labels() state.Labels
	ListAll() []state.RepositoryRecord
	Upsert(update state.RecordUpdate) state.RepositoryRecord
	SetStatus(repositoryName string, nextStatus state.Status, details state.StatusDetails) (state.RepositoryRecord, bool)
}

// SaveRequester schedules persistence after state mutations.
type SaveRequester interface {
	RequestSave()
}

// ServiceSettings carries the tunable batch size. Non-positive values fall
// back to the default.
type ServiceSettings struct {
	BatchSize int
}

// ServiceDependencies carries the collaborators required by NewService.
type ServiceDependencies struct {
	Logger    *zap.Logger
	Store     StateStore
	Inspector RepositoryInspector
	Publisher notify.Publisher
	Saver     SaveRequester
	Clock     state.Clock
	Settings  ServiceSettings
}

// Service classifies tracked repositories by comparing the source and target
// sides. Records mid-migration belong to the progress worker and failed
// records wait for a manual retry; neither is ever selected here.
type Service struct {
	logger    *zap.Logger
	store     StateStore
	inspector RepositoryInspector
	publisher notify.Publisher
	saver     SaveRequester
	clock     state.Clock
	batchSize int
}

// NewService validates the dependencies and constructs a reconciliation
// Service.
func NewService(dependencies ServiceDependencies) (*Service, error) {
	if dependencies.Logger == nil {
		return nil, ErrLoggerNotConfigured
	}
	if dependencies.Store == nil {
		return nil, ErrStoreNotConfigured
	}
	if dependencies.Inspector == nil {
		return nil, ErrInspectorNotConfigured
	}
	publisher := dependencies.Publisher
	if publisher == nil {
		publisher = notify.NoopPublisher{}
	}
	clock := dependencies.Clock
	if clock == nil {
		clock = state.SystemClock{}
	}
	batchSize := dependencies.Settings.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSizeConstant
	}
	return &Service{
		logger:    dependencies.Logger,
		store:     dependencies.Store,
		inspector: dependencies.Inspector,
		publisher: publisher,
		saver:     dependencies.Saver,
		clock:     clock,
		batchSize: batchSize,
	}, nil
}

// Tick implements the worker tick contract by running one reconciliation
// pass at the loop's base cadence.
func (service *Service) Tick(executionContext context.Context) (time.Duration, error) {
	return 0, service.Execute(executionContext)
}

// Execute processes one reconciliation batch: every unclassified record plus
// the stalest eligible records up to the batch size. Each checked record gets
// its lastChecked (and, when the source reports one, lastPushed) stamped and
// a reconciled event published; a single save is requested per pass that
// checked anything. Inspection failures leave the record untouched for the
// next pass. A canceled context stops the batch between records.
func (service *Service) Execute(executionContext context.Context) error {
	selectedRecords := service.selectBatch()

	checkedCount := 0
	transitionedCount := 0
	for _, selectedRecord := range selectedRecords {
		if executionContext.Err() != nil {
			break
		}
		recordChecked, statusTransitioned := service.reconcileRecord(executionContext, selectedRecord)
		if recordChecked {
			checkedCount++
		}
		if statusTransitioned {
			transitionedCount++
		}
	}

	if checkedCount > 0 && service.saver != nil {
		service.saver.RequestSave()
	}
	service.logger.Info(passCompletedLogMessageConstant,
		zap.Int(checkedCountLogFieldNameConstant, checkedCount),
		zap.Int(transitionedCountLogFieldNameConstant, transitionedCount),
	)
	return nil
}

// selectBatch returns every unclassified record followed by up to batchSize
// additional eligible records ordered longest since their last check, with
// never-checked records first.
func (service *Service) selectBatch() []state.RepositoryRecord {
	allRecords := service.store.ListAll()

	unclassifiedRecords := make([]state.RepositoryRecord, 0, len(allRecords))
	agedCandidates := make([]state.RepositoryRecord, 0, len(allRecords))
	for _, candidateRecord := range allRecords {
		switch candidateRecord.Status {
		case state.StatusUnclassified:
			unclassifiedRecords = append(unclassifiedRecords, candidateRecord)
		case state.StatusLost, state.StatusNeedsSync, state.StatusInSync:
			agedCandidates = append(agedCandidates, candidateRecord)
		}
	}

	sort.SliceStable(agedCandidates, func(firstIndex int, secondIndex int) bool {
		return checkedEarlier(agedCandidates[firstIndex].LastChecked, agedCandidates[secondIndex].LastChecked)
	})
	if len(agedCandidates) > service.batchSize {
		agedCandidates = agedCandidates[:service.batchSize]
	}

	return append(unclassifiedRecords, agedCandidates...)
}

// reconcileRecord inspects both sides of one repository and applies the
// classification. The first return reports whether the record was checked,
// the second whether its status changed.
func (service *Service) reconcileRecord(executionContext context.Context, selectedRecord state.RepositoryRecord) (bool, bool) {
	labels := service.store.Labels()

	sourceInspection, sourceError := service.inspector.InspectRepository(executionContext, labels.Source.Host, labels.Source.Organization, selectedRecord.Name)
	if sourceError != nil {
		service.logger.Warn(inspectionFailedLogMessageConstant,
			zap.String(repositoryLogFieldNameConstant, selectedRecord.Name),
			zap.String(inspectionSideLogFieldNameConstant, inspectionSideSourceConstant),
			zap.Error(sourceError),
		)
		return false, false
	}
	targetInspection, targetError := service.inspector.InspectRepository(executionContext, labels.Target.Host, labels.Target.Organization, selectedRecord.Name)
	if targetError != nil {
		service.logger.Warn(inspectionFailedLogMessageConstant,
			zap.String(repositoryLogFieldNameConstant, selectedRecord.Name),
			zap.String(inspectionSideLogFieldNameConstant, inspectionSideTargetConstant),
			zap.Error(targetError),
		)
		return false, false
	}

	classification := classifyRepository(sourceInspection, targetInspection)

	checkTimestamp := service.clock.Now()
	recordUpdate := state.RecordUpdate{Name: selectedRecord.Name, LastChecked: &checkTimestamp}
	if sourceInspection.PushedAt != nil {
		recordUpdate.LastPushed = sourceInspection.PushedAt
	}
	updatedRecord := service.store.Upsert(recordUpdate)

	statusTransitioned := false
	if updatedRecord.Status != classification {
		transitionDetails := state.StatusDetails{}
		// Lost records and drifted in-sync records shed the previous
		// migration's identifier and timing when re-entering the pipeline,
		// so the next attempt stamps a fresh cycle.
		if updatedRecord.Status == state.StatusLost || updatedRecord.Status == state.StatusInSync {
			transitionDetails.ClearMigrationState = true
		}
		updatedRecord, statusTransitioned = service.store.SetStatus(selectedRecord.Name, classification, transitionDetails)
	}

	service.publisher.Publish(notify.Event{
		Repository: updatedRecord.Name,
		Status:     updatedRecord.Status,
		Reason:     notify.ReasonReconciled,
		OccurredAt: checkTimestamp,
	})
	return true, statusTransitioned
}

// classifyRepository applies the decision rule: a repository is in sync only
// when the target exists, both sides report a last-push timestamp, and the
// source is not strictly newer. Everything else needs a sync, so missing
// repositories and missing timestamps fail toward migrating.
func classifyRepository(sourceInspection githubcli.RepositoryInspection, targetInspection githubcli.RepositoryInspection) state.Status {
	if !targetInspection.Exists {
		return state.StatusNeedsSync
	}
	if sourceInspection.PushedAt == nil || targetInspection.PushedAt == nil {
		return state.StatusNeedsSync
	}
	if sourceInspection.PushedAt.After(*targetInspection.PushedAt) {
		return state.StatusNeedsSync
	}
	return state.StatusInSync
}

// checkedEarlier orders last-checked timestamps with nil (never checked)
// first.
func checkedEarlier(firstChecked *time.Time, secondChecked *time.Time) bool {
	if firstChecked == nil {
		return secondChecked != nil
	}
	if secondChecked == nil {
		return false
	}
	return firstChecked.Before(*secondChecked)
}
