package discovery

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/temirov/caravan/internal/githubcli"
	"github.com/temirov/caravan/internal/notify"
	"github.com/temirov/caravan/internal/state"
)

const (
	loggerNotConfiguredMessageConstant     = "logger not configured"
	storeNotConfiguredMessageConstant      = "state store not configured"
	listerNotConfiguredMessageConstant     = "repository lister not configured"
	listingFailureTemplateConstant         = "source repository listing failed: %w"
	discoveryCompletedLogMessageConstant   = "discovery completed"
	discoveredCountLogFieldNameConstant    = "discovered"
	listedCountLogFieldNameConstant        = "listed"
	sourceOrganizationLogFieldNameConstant = "source_organization"
	repositoryDiscoveredLogMessageConstant = "repository discovered"
	repositoryLogFieldNameConstant         = "repository"
)

// ErrLoggerNotConfigured indicates the service was constructed without a logger.
var ErrLoggerNotConfigured = errors.New(loggerNotConfiguredMessageConstant)

// ErrStoreNotConfigured indicates the service was constructed without a state store.
var ErrStoreNotConfigured = errors.New(storeNotConfiguredMessageConstant)

// ErrListerNotConfigured indicates the service was constructed without a repository lister.
var ErrListerNotConfigured = errors.New(listerNotConfiguredMessageConstant)

// RepositoryLister enumerates the repositories of a source organization.
type RepositoryLister interface {
	ListOrganizationRepositories(executionContext context.Context, host string, organization string) ([]githubcli.RepositoryListing, error)
}

// StateStore is the subset of the state store consulted during discovery.
type StateStore interface {
	Labels() state.Labels
	Get(repositoryName string) (state.RepositoryRecord, bool)
	Upsert(update state.RecordUpdate) state.RepositoryRecord
}

// SaveRequester schedules persistence after state mutations.
type SaveRequester interface {
	RequestSave()
}

// ServiceDependencies carries the collaborators required by NewService.
type ServiceDependencies struct {
	Logger    *zap.Logger
	Store     StateStore
	Lister    RepositoryLister
	Publisher notify.Publisher
	Saver     SaveRequester
	Clock     state.Clock
}

// Service seeds the migration state with repositories found in the source
// organization. Repositories already tracked keep their existing records.
type Service struct {
	logger    *zap.Logger
	store     StateStore
	lister    RepositoryLister
	publisher notify.Publisher
	saver     SaveRequester
	clock     state.Clock
}

// NewService validates the dependencies and constructs a discovery Service.
func NewService(dependencies ServiceDependencies) (*Service, error) {
	if dependencies.Logger == nil {
		return nil, ErrLoggerNotConfigured
	}
	if dependencies.Store == nil {
		return nil, ErrStoreNotConfigured
	}
	if dependencies.Lister == nil {
		return nil, ErrListerNotConfigured
	}
	publisher := dependencies.Publisher
	if publisher == nil {
		publisher = notify.NoopPublisher{}
	}
	clock := dependencies.Clock
	if clock == nil {
		clock = state.SystemClock{}
	}
	return &Service{
		logger:    dependencies.Logger,
		store:     dependencies.Store,
		lister:    dependencies.Lister,
		publisher: publisher,
		saver:     dependencies.Saver,
		clock:     clock,
	}, nil
}

// Seed lists the source organization and registers repositories that are not
// yet tracked. It returns the number of newly registered repositories.
func (service *Service) Seed(executionContext context.Context) (int, error) {
	labels := service.store.Labels()
	listings, listingError := service.lister.ListOrganizationRepositories(executionContext, labels.Source.Host, labels.Source.Organization)
	if listingError != nil {
		return 0, fmt.Errorf(listingFailureTemplateConstant, listingError)
	}

	sort.Slice(listings, func(firstIndex int, secondIndex int) bool {
		return listings[firstIndex].Name < listings[secondIndex].Name
	})

	discoveredCount := 0
	for _, listing := range listings {
		repositoryName := strings.TrimSpace(listing.Name)
		if len(repositoryName) == 0 {
			continue
		}
		if _, alreadyTracked := service.store.Get(repositoryName); alreadyTracked {
			continue
		}

		visibility := state.NormalizeVisibility(listing.Visibility)
		record := service.store.Upsert(state.RecordUpdate{Name: repositoryName, Visibility: &visibility})
		discoveredCount++

		service.logger.Debug(repositoryDiscoveredLogMessageConstant, zap.String(repositoryLogFieldNameConstant, repositoryName))
		service.publisher.Publish(notify.Event{
			Repository: record.Name,
			Status:     record.Status,
			Reason:     notify.ReasonDiscovered,
			OccurredAt: service.clock.Now(),
		})
	}

	service.logger.Info(discoveryCompletedLogMessageConstant,
		zap.String(sourceOrganizationLogFieldNameConstant, labels.Source.Organization),
		zap.Int(listedCountLogFieldNameConstant, len(listings)),
		zap.Int(discoveredCountLogFieldNameConstant, discoveredCount),
	)

	if discoveredCount > 0 && service.saver != nil {
		service.saver.RequestSave()
	}
	return discoveredCount, nil
}
