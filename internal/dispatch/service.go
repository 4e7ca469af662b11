package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/temirov/caravan/internal/geicli"
	"github.com/temirov/caravan/internal/notify"
	"github.com/temirov/caravan/internal/state"
)

const (
	defaultQueueCeilingConstant         = 10
	defaultBusyIntervalConstant         = 3 * time.Second
	defaultIdleIntervalConstant         = 30 * time.Second
	loggerNotConfiguredMessageConstant  = "logger not configured"
	storeNotConfiguredMessageConstant   = "state store not configured"
	starterNotConfiguredMessageConstant = "migration starter not configured"
	atCapacityLogMessageConstant        = "active migrations at ceiling"
	noEligibleWorkLogMessageConstant    = "no repositories awaiting migration"
	migrationQueuedLogMessageConstant   = "migration queued"
	migrationRejectedLogMessageConstant = "migration start rejected"
	repositoryLogFieldNameConstant      = "repository"
	migrationIdentifierLogFieldName     = "migration_id"
	activeCountLogFieldNameConstant     = "active"
	outcomeStartedStringConstant        = "started"
	outcomeAtCapacityStringConstant     = "at-capacity"
	outcomeIdleStringConstant           = "idle"
	outcomeFailedStringConstant         = "failed"
)

// ErrLoggerNotConfigured indicates the service was constructed without a logger.
var ErrLoggerNotConfigured = errors.New(loggerNotConfiguredMessageConstant)

// ErrStoreNotConfigured indicates the service was constructed without a state store.
var ErrStoreNotConfigured = errors.New(storeNotConfiguredMessageConstant)

// ErrStarterNotConfigured indicates the service was constructed without a migration starter.
var ErrStarterNotConfigured = errors.New(starterNotConfiguredMessageConstant)

// TickOutcome describes what a dispatch pass accomplished and drives the
// adaptive cadence between passes.
type TickOutcome string

// Dispatch outcomes.
const (
	OutcomeStarted    TickOutcome = TickOutcome(outcomeStartedStringConstant)
	OutcomeAtCapacity TickOutcome = TickOutcome(outcomeAtCapacityStringConstant)
	OutcomeIdle       TickOutcome = TickOutcome(outcomeIdleStringConstant)
	OutcomeFailed     TickOutcome = TickOutcome(outcomeFailedStringConstant)
)

// MigrationStarter requests a repository migration from the importer.
type MigrationStarter interface {
	StartMigration(executionContext context.Context, request geicli.StartMigrationRequest) (geicli.MigrationHandle, error)
}

// StateStore is the subset of the state store used while queueing migrations.
type StateStore interface {
	Labels() state.Labels
	CountActive() int
	Get(repositoryName string) (state.RepositoryRecord, bool)
	FirstWithStatus(requestedStatus state.Status) (state.RepositoryRecord, bool)
	SetStatus(repositoryName string, nextStatus state.Status, details state.StatusDetails) (state.RepositoryRecord, bool)
}

// SaveRequester schedules persistence after state mutations.
type SaveRequester interface {
	RequestSave()
}

// ServiceSettings carries the queue ceiling and the adaptive intervals.
// Non-positive values fall back to the defaults.
type ServiceSettings struct {
	QueueCeiling int
	BusyInterval time.Duration
	IdleInterval time.Duration
}

// ServiceDependencies carries the collaborators required by NewService.
type ServiceDependencies struct {
	Logger    *zap.Logger
	Store     StateStore
	Starter   MigrationStarter
	Publisher notify.Publisher
	Saver     SaveRequester
	Clock     state.Clock
	Settings  ServiceSettings
}

// Service starts at most one migration per pass, keeping the number of
// active migrations at or below the configured ceiling. Repositories named
// through Prioritize are served ahead of the name-order backlog.
type Service struct {
	logger           *zap.Logger
	store            StateStore
	starter          MigrationStarter
	publisher        notify.Publisher
	saver            SaveRequester
	clock            state.Clock
	queueCeiling     int
	busyInterval     time.Duration
	idleInterval     time.Duration
	prioritizedMutex sync.Mutex
	prioritizedNames []string
}

// NewService validates the dependencies and constructs a dispatch Service.
func NewService(dependencies ServiceDependencies) (*Service, error) {
	if dependencies.Logger == nil {
		return nil, ErrLoggerNotConfigured
	}
	if dependencies.Store == nil {
		return nil, ErrStoreNotConfigured
	}
	if dependencies.Starter == nil {
		return nil, ErrStarterNotConfigured
	}
	publisher := dependencies.Publisher
	if publisher == nil {
		publisher = notify.NoopPublisher{}
	}
	clock := dependencies.Clock
	if clock == nil {
		clock = state.SystemClock{}
	}
	queueCeiling := dependencies.Settings.QueueCeiling
	if queueCeiling <= 0 {
		queueCeiling = defaultQueueCeilingConstant
	}
	busyInterval := dependencies.Settings.BusyInterval
	if busyInterval <= 0 {
		busyInterval = defaultBusyIntervalConstant
	}
	idleInterval := dependencies.Settings.IdleInterval
	if idleInterval <= 0 {
		idleInterval = defaultIdleIntervalConstant
	}
	return &Service{
		logger:       dependencies.Logger,
		store:        dependencies.Store,
		starter:      dependencies.Starter,
		publisher:    publisher,
		saver:        dependencies.Saver,
		clock:        clock,
		queueCeiling: queueCeiling,
		busyInterval: busyInterval,
		idleInterval: idleInterval,
	}, nil
}

// Tick implements the worker tick contract. Passes that started or failed a
// migration reschedule after the short busy interval to drain the backlog;
// idle and at-capacity passes wait the longer idle interval.
func (service *Service) Tick(executionContext context.Context) (time.Duration, error) {
	tickOutcome := service.Dispatch(executionContext)
	switch tickOutcome {
	case OutcomeStarted, OutcomeFailed:
		return service.busyInterval, nil
	default:
		return service.idleInterval, nil
	}
}

// Prioritize places the named repository at the front of the dispatch order
// for the next pass with free capacity. Duplicate names collapse into one
// entry; a name that no longer awaits migration by then is skipped.
func (service *Service) Prioritize(repositoryName string) {
	if len(repositoryName) == 0 {
		return
	}
	service.prioritizedMutex.Lock()
	defer service.prioritizedMutex.Unlock()

	for _, pinnedName := range service.prioritizedNames {
		if pinnedName == repositoryName {
			return
		}
	}
	service.prioritizedNames = append(service.prioritizedNames, repositoryName)
}

// Dispatch performs one queueing pass. When the active count is below the
// ceiling and a needs-sync record exists, it asks the importer to migrate the
// next candidate: a prioritized repository when one still awaits migration,
// otherwise the first needs-sync record in name order. A successful start
// stores the returned identifier and moves the record to queued; a rejected
// start moves it to failed with the captured error text so it is never left
// without an identifier after an attempt.
func (service *Service) Dispatch(executionContext context.Context) TickOutcome {
	activeCount := service.store.CountActive()
	if activeCount >= service.queueCeiling {
		service.logger.Debug(atCapacityLogMessageConstant, zap.Int(activeCountLogFieldNameConstant, activeCount))
		return OutcomeAtCapacity
	}

	candidateRecord, candidateFound := service.nextCandidate()
	if !candidateFound {
		service.logger.Debug(noEligibleWorkLogMessageConstant)
		return OutcomeIdle
	}

	labels := service.store.Labels()
	migrationHandle, startError := service.starter.StartMigration(executionContext, geicli.StartMigrationRequest{
		SourceHost:         labels.Source.Host,
		SourceOrganization: labels.Source.Organization,
		TargetHost:         labels.Target.Host,
		TargetOrganization: labels.Target.Organization,
		RepositoryName:     candidateRecord.Name,
		Visibility:         string(candidateRecord.Visibility),
	})

	transitionTimestamp := service.clock.Now()
	if startError != nil {
		failureText := startError.Error()
		failedRecord, _ := service.store.SetStatus(candidateRecord.Name, state.StatusFailed, state.StatusDetails{ErrorMessage: &failureText})
		service.logger.Warn(migrationRejectedLogMessageConstant,
			zap.String(repositoryLogFieldNameConstant, candidateRecord.Name),
			zap.Error(startError),
		)
		service.publishEvent(failedRecord, notify.ReasonFailed, transitionTimestamp)
		service.requestSave()
		return OutcomeFailed
	}

	queuedRecord, _ := service.store.SetStatus(candidateRecord.Name, state.StatusQueued, state.StatusDetails{MigrationIdentifier: &migrationHandle.Identifier})
	service.logger.Info(migrationQueuedLogMessageConstant,
		zap.String(repositoryLogFieldNameConstant, candidateRecord.Name),
		zap.String(migrationIdentifierLogFieldName, migrationHandle.Identifier),
	)
	service.publishEvent(queuedRecord, notify.ReasonQueued, transitionTimestamp)
	service.requestSave()
	return OutcomeStarted
}

// nextCandidate consumes prioritized names until one still awaits migration,
// then falls back to the first needs-sync record in name order. Prioritized
// names survive at-capacity passes because Dispatch checks the ceiling before
// consuming them.
func (service *Service) nextCandidate() (state.RepositoryRecord, bool) {
	service.prioritizedMutex.Lock()
	defer service.prioritizedMutex.Unlock()

	for len(service.prioritizedNames) > 0 {
		pinnedName := service.prioritizedNames[0]
		service.prioritizedNames = service.prioritizedNames[1:]
		pinnedRecord, recordExists := service.store.Get(pinnedName)
		if recordExists && pinnedRecord.Status == state.StatusNeedsSync {
			return pinnedRecord, true
		}
	}
	return service.store.FirstWithStatus(state.StatusNeedsSync)
}

func (service *Service) publishEvent(updatedRecord state.RepositoryRecord, reason notify.Reason, occurredAt time.Time) {
	service.publisher.Publish(notify.Event{
		Repository: updatedRecord.Name,
		Status:     updatedRecord.Status,
		Reason:     reason,
		OccurredAt: occurredAt,
	})
}

func (service *Service) requestSave() {
	if service.saver != nil {
		service.saver.RequestSave()
	}
}
