package coordinator

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/temirov/caravan/internal/notify"
	"github.com/temirov/caravan/internal/state"
)

const (
	repositoryNotTrackedMessageConstant   = "repository is not tracked"
	retryNotAllowedMessageConstant        = "repository is not in the failed status"
	retryLoggerNotConfiguredMessage       = "logger not configured"
	retryStoreNotConfiguredMessage        = "state store not configured"
	retryRejectedTemplateConstant         = "%s: %w"
	retryWrongStatusTemplateConstant      = "%s is %s: %w"
	retryAcceptedLogMessageConstant       = "retry accepted"
	targetCleanupFailedLogMessageConstant = "target repository cleanup failed"
	retryRepositoryLogFieldNameConstant   = "repository"
)

// ErrRepositoryNotTracked indicates a retry was requested for an unknown
// repository.
var ErrRepositoryNotTracked = errors.New(repositoryNotTrackedMessageConstant)

// ErrRetryNotAllowed indicates a retry was requested for a repository that is
// not in the failed status.
var ErrRetryNotAllowed = errors.New(retryNotAllowedMessageConstant)

// ErrRetryLoggerNotConfigured indicates the retry service was constructed without a logger.
var ErrRetryLoggerNotConfigured = errors.New(retryLoggerNotConfiguredMessage)

// ErrRetryStoreNotConfigured indicates the retry service was constructed without a state store.
var ErrRetryStoreNotConfigured = errors.New(retryStoreNotConfiguredMessage)

// RepositoryDeleter removes a repository from the target organization.
type RepositoryDeleter interface {
	DeleteRepository(executionContext context.Context, host string, organization string, repositoryName string) error
}

// RetryStateStore is the subset of the state store used by the retry action.
type RetryStateStore interface {
	Labels() state.Labels
	Get(repositoryName string) (state.RepositoryRecord, bool)
	SetStatus(repositoryName string, nextStatus state.Status, details state.StatusDetails) (state.RepositoryRecord, bool)
}

// SaveRequester schedules persistence after state mutations.
type SaveRequester interface {
	RequestSave()
}

// LoopKicker wakes a worker loop for an immediate pass.
type LoopKicker interface {
	Kick()
}

// DispatchPrioritizer places a repository at the front of the dispatch order.
type DispatchPrioritizer interface {
	Prioritize(repositoryName string)
}

// RetryServiceDependencies carries the collaborators required by
// NewRetryService. Deleter, Publisher, Saver, the prioritizer, and the
// kickers are optional.
type RetryServiceDependencies struct {
	Logger              *zap.Logger
	Store               RetryStateStore
	Deleter             RepositoryDeleter
	Publisher           notify.Publisher
	Saver               SaveRequester
	Clock               state.Clock
	DispatchPrioritizer DispatchPrioritizer
	DispatchKicker      LoopKicker
	ReconcileKicker     LoopKicker
}

// RetryService re-queues a failed repository for another migration attempt.
type RetryService struct {
	logger              *zap.Logger
	store               RetryStateStore
	deleter             RepositoryDeleter
	publisher           notify.Publisher
	saver               SaveRequester
	clock               state.Clock
	dispatchPrioritizer DispatchPrioritizer
	dispatchKicker      LoopKicker
	reconcileKicker     LoopKicker
}

// NewRetryService validates the dependencies and constructs a RetryService.
func NewRetryService(dependencies RetryServiceDependencies) (*RetryService, error) {
	if dependencies.Logger == nil {
		return nil, ErrRetryLoggerNotConfigured
	}
	if dependencies.Store == nil {
		return nil, ErrRetryStoreNotConfigured
	}
	publisher := dependencies.Publisher
	if publisher == nil {
		publisher = notify.NoopPublisher{}
	}
	clock := dependencies.Clock
	if clock == nil {
		clock = state.SystemClock{}
	}
	return &RetryService{
		logger:              dependencies.Logger,
		store:               dependencies.Store,
		deleter:             dependencies.Deleter,
		publisher:           publisher,
		saver:               dependencies.Saver,
		clock:               clock,
		dispatchPrioritizer: dependencies.DispatchPrioritizer,
		dispatchKicker:      dependencies.DispatchKicker,
		reconcileKicker:     dependencies.ReconcileKicker,
	}, nil
}

// Retry moves a failed repository back to needs-sync, wiping the migration
// bookkeeping of the failed attempt. The transition is applied synchronously
// before any remote work so callers observe it immediately. Afterwards the
// target-side repository is deleted best-effort to clear partial migration
// debris. The repository is then placed at the front of the dispatch order
// before the dispatch and reconcile loops are woken for a fresh attempt.
func (service *RetryService) Retry(executionContext context.Context, repositoryName string) error {
	failedRecord, recordExists := service.store.Get(repositoryName)
	if !recordExists {
		return fmt.Errorf(retryRejectedTemplateConstant, repositoryName, ErrRepositoryNotTracked)
	}
	if failedRecord.Status != state.StatusFailed {
		return fmt.Errorf(retryWrongStatusTemplateConstant, repositoryName, failedRecord.Status, ErrRetryNotAllowed)
	}

	retriedRecord, _ := service.store.SetStatus(repositoryName, state.StatusNeedsSync, state.StatusDetails{ClearMigrationState: true})
	service.logger.Info(retryAcceptedLogMessageConstant, zap.String(retryRepositoryLogFieldNameConstant, repositoryName))
	service.publisher.Publish(notify.Event{
		Repository: retriedRecord.Name,
		Status:     retriedRecord.Status,
		Reason:     notify.ReasonRetried,
		OccurredAt: service.clock.Now(),
	})
	if service.saver != nil {
		service.saver.RequestSave()
	}

	if service.deleter != nil {
		labels := service.store.Labels()
		deletionError := service.deleter.DeleteRepository(executionContext, labels.Target.Host, labels.Target.Organization, repositoryName)
		if deletionError != nil {
			service.logger.Warn(targetCleanupFailedLogMessageConstant,
				zap.String(retryRepositoryLogFieldNameConstant, repositoryName),
				zap.Error(deletionError),
			)
		}
	}

	if service.dispatchPrioritizer != nil {
		service.dispatchPrioritizer.Prioritize(repositoryName)
	}
	if service.dispatchKicker != nil {
		service.dispatchKicker.Kick()
	}
	if service.reconcileKicker != nil {
		service.reconcileKicker.Kick()
	}
	return nil
}
