package progress

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/temirov/caravan/internal/githubcli"
	"github.com/temirov/caravan/internal/notify"
	"github.com/temirov/caravan/internal/state"
)

const (
	defaultPollConcurrencyConstant      = 10
	defaultGracePeriodConstant          = 60 * time.Second
	loggerNotConfiguredMessageConstant  = "logger not configured"
	storeNotConfiguredMessageConstant   = "state store not configured"
	monitorNotConfiguredMessageConstant = "migration monitor not configured"
	pollFailedLogMessageConstant        = "migration status poll failed"
	passCompletedLogMessageConstant     = "progress pass completed"
	migrationLostLogMessageConstant     = "migration lost"
	phaseChangedLogMessageConstant      = "migration phase changed"
	repositoryLogFieldNameConstant      = "repository"
	migrationIdentifierLogFieldName     = "migration_id"
	statusLogFieldNameConstant          = "status"
	polledCountLogFieldNameConstant     = "polled"
	changedCountLogFieldNameConstant    = "changed"
	missingIdentifierMessageConstant    = "migration identifier was never recorded"
	migrationGoneTemplateConstant       = "migration %s can no longer be found"
	migrationFailedFallbackConstant     = "migration reported failed"
)

// ErrLoggerNotConfigured indicates the service was constructed without a logger.
var ErrLoggerNotConfigured = errors.New(loggerNotConfiguredMessageConstant)

// ErrStoreNotConfigured indicates the service was constructed without a state store.
var ErrStoreNotConfigured = errors.New(storeNotConfiguredMessageConstant)

// ErrMonitorNotConfigured indicates the service was constructed without a monitor.
var ErrMonitorNotConfigured = errors.New(monitorNotConfiguredMessageConstant)

// MigrationMonitor reports the current phase of a migration by identifier.
type MigrationMonitor interface {
	MigrationStatus(executionContext context.Context, host string, migrationIdentifier string) (githubcli.MigrationStatusReport, error)
}

// StateStore is the subset of the state store used while polling migrations.
type StateStore interface {
	Labels() state.Labels
	ListActive() []state.RepositoryRecord
	Upsert(update state.RecordUpdate) state.RepositoryRecord
	SetStatus(repositoryName string, nextStatus state.Status, details state.StatusDetails) (state.RepositoryRecord, bool)
}

// SaveRequester schedules persistence after state mutations.
type SaveRequester interface {
	RequestSave()
}

// ServiceSettings carries the poll concurrency bound and the grace period a
// migration may stay unresolvable before it is declared lost. Non-positive
// values fall back to the defaults.
type ServiceSettings struct {
	PollConcurrency int
	GracePeriod     time.Duration
}

// ServiceDependencies carries the collaborators required by NewService.
type ServiceDependencies struct {
	Logger    *zap.Logger
	Store     StateStore
	Monitor   MigrationMonitor
	Publisher notify.Publisher
	Saver     SaveRequester
	Clock     state.Clock
	Settings  ServiceSettings
}

// Service polls every active migration and applies the reported phase to the
// tracked record. Migrations the importer no longer knows about move to lost
// once the grace period has passed.
type Service struct {
	logger          *zap.Logger
	store           StateStore
	monitor         MigrationMonitor
	publisher       notify.Publisher
	saver           SaveRequester
	clock           state.Clock
	pollConcurrency int
	gracePeriod     time.Duration
}

// NewService validates the dependencies and constructs a progress Service.
func NewService(dependencies ServiceDependencies) (*Service, error) {
	if dependencies.Logger == nil {
		return nil, ErrLoggerNotConfigured
	}
	if dependencies.Store == nil {
		return nil, ErrStoreNotConfigured
	}
	if dependencies.Monitor == nil {
		return nil, ErrMonitorNotConfigured
	}
	publisher := dependencies.Publisher
	if publisher == nil {
		publisher = notify.NoopPublisher{}
	}
	clock := dependencies.Clock
	if clock == nil {
		clock = state.SystemClock{}
	}
	pollConcurrency := dependencies.Settings.PollConcurrency
	if pollConcurrency <= 0 {
		pollConcurrency = defaultPollConcurrencyConstant
	}
	gracePeriod := dependencies.Settings.GracePeriod
	if gracePeriod <= 0 {
		gracePeriod = defaultGracePeriodConstant
	}
	return &Service{
		logger:          dependencies.Logger,
		store:           dependencies.Store,
		monitor:         dependencies.Monitor,
		publisher:       publisher,
		saver:           dependencies.Saver,
		clock:           clock,
		pollConcurrency: pollConcurrency,
		gracePeriod:     gracePeriod,
	}, nil
}

// Tick implements the worker tick contract by polling once at the loop's
// base cadence.
func (service *Service) Tick(executionContext context.Context) (time.Duration, error) {
	return 0, service.Execute(executionContext)
}

// Execute polls every queued or migrating record in bounded concurrent
// batches. Unchanged phases only refresh the poll timestamps; changed phases
// transition the record and publish an event. Transient poll failures leave
// the record untouched. One save is requested per pass that mutated anything.
func (service *Service) Execute(executionContext context.Context) error {
	activeRecords := service.store.ListActive()
	if len(activeRecords) == 0 {
		return nil
	}

	var mutatedCount atomic.Int64
	var changedCount atomic.Int64

	pollGroup, groupContext := errgroup.WithContext(executionContext)
	pollGroup.SetLimit(service.pollConcurrency)
	for _, activeRecord := range activeRecords {
		pollGroup.Go(func() error {
			if groupContext.Err() != nil {
				return nil
			}
			recordMutated, statusChanged := service.pollRecord(groupContext, activeRecord)
			if recordMutated {
				mutatedCount.Add(1)
			}
			if statusChanged {
				changedCount.Add(1)
			}
			return nil
		})
	}
	_ = pollGroup.Wait()

	if mutatedCount.Load() > 0 && service.saver != nil {
		service.saver.RequestSave()
	}
	service.logger.Info(passCompletedLogMessageConstant,
		zap.Int(polledCountLogFieldNameConstant, len(activeRecords)),
		zap.Int64(changedCountLogFieldNameConstant, changedCount.Load()),
	)
	return nil
}

// pollRecord fetches and applies the reported phase for one record. The first
// return reports whether the record was mutated, the second whether its
// status changed.
func (service *Service) pollRecord(executionContext context.Context, activeRecord state.RepositoryRecord) (bool, bool) {
	if len(activeRecord.MigrationIdentifier) == 0 {
		return service.handleUnresolvable(activeRecord, missingIdentifierMessageConstant)
	}

	labels := service.store.Labels()
	statusReport, pollError := service.monitor.MigrationStatus(executionContext, labels.Target.Host, activeRecord.MigrationIdentifier)
	if pollError != nil {
		if errors.Is(pollError, githubcli.ErrMigrationNotFound) {
			goneMessage := fmt.Sprintf(migrationGoneTemplateConstant, activeRecord.MigrationIdentifier)
			return service.handleUnresolvable(activeRecord, goneMessage)
		}
		service.logger.Warn(pollFailedLogMessageConstant,
			zap.String(repositoryLogFieldNameConstant, activeRecord.Name),
			zap.String(migrationIdentifierLogFieldName, activeRecord.MigrationIdentifier),
			zap.Error(pollError),
		)
		return false, false
	}

	mappedStatus, phaseRecognized := state.StatusForMigrationPhase(statusReport.Phase)
	if !phaseRecognized {
		goneMessage := fmt.Sprintf(migrationGoneTemplateConstant, activeRecord.MigrationIdentifier)
		return service.handleUnresolvable(activeRecord, goneMessage)
	}

	pollTimestamp := service.clock.Now()
	service.store.Upsert(state.RecordUpdate{Name: activeRecord.Name, LastChecked: &pollTimestamp, LastPolledAt: &pollTimestamp})
	if mappedStatus == activeRecord.Status {
		return true, false
	}

	transitionDetails := state.StatusDetails{}
	if mappedStatus == state.StatusFailed {
		failureMessage := statusReport.FailureReason
		if len(failureMessage) == 0 {
			failureMessage = migrationFailedFallbackConstant
		}
		transitionDetails.ErrorMessage = &failureMessage
	}
	updatedRecord, _ := service.store.SetStatus(activeRecord.Name, mappedStatus, transitionDetails)
	service.logger.Info(phaseChangedLogMessageConstant,
		zap.String(repositoryLogFieldNameConstant, activeRecord.Name),
		zap.String(statusLogFieldNameConstant, string(updatedRecord.Status)),
	)
	service.publisher.Publish(notify.Event{
		Repository: updatedRecord.Name,
		Status:     updatedRecord.Status,
		Reason:     notify.ReasonPhaseChanged,
		OccurredAt: pollTimestamp,
	})
	return true, true
}

// handleUnresolvable applies the grace period to a record whose migration
// cannot be observed. Within the grace window the record is left untouched so
// a late-registering migration can still be picked up; past it the record
// moves to lost with an explanatory message.
func (service *Service) handleUnresolvable(activeRecord state.RepositoryRecord, explanatoryMessage string) (bool, bool) {
	pollTimestamp := service.clock.Now()
	if activeRecord.StartedAt != nil && pollTimestamp.Sub(*activeRecord.StartedAt) <= service.gracePeriod {
		return false, false
	}

	service.store.Upsert(state.RecordUpdate{Name: activeRecord.Name, LastChecked: &pollTimestamp, LastPolledAt: &pollTimestamp})
	lostRecord, statusChanged := service.store.SetStatus(activeRecord.Name, state.StatusLost, state.StatusDetails{ErrorMessage: &explanatoryMessage})
	if !statusChanged {
		return true, false
	}
	service.logger.Warn(migrationLostLogMessageConstant,
		zap.String(repositoryLogFieldNameConstant, activeRecord.Name),
		zap.String(migrationIdentifierLogFieldName, activeRecord.MigrationIdentifier),
	)
	service.publisher.Publish(notify.Event{
		Repository: lostRecord.Name,
		Status:     lostRecord.Status,
		Reason:     notify.ReasonLost,
		OccurredAt: pollTimestamp,
	})
	return true, true
}
