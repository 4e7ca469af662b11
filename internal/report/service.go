package report

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"go.uber.org/zap"

	"github.com/temirov/caravan/internal/state"
)

const (
	loggerNotConfiguredMessageConstant = "logger not configured"
	loaderNotConfiguredMessageConstant = "document loader not configured"
	outputNotConfiguredMessageConstant = "output writer not configured"

	stateLoadFailureTemplateConstant    = "state load failed: %w"
	stateFileMissingTemplateConstant    = "No migration state found at %s.\n"
	migrationHeaderTemplateConstant     = "Migration %s/%s -> %s/%s\n"
	stateFileLineTemplateConstant       = "State file: %s\n"
	repositoriesTotalTemplateConstant   = "Repositories: %d\n"
	statusCountRowTemplateConstant      = "  %s\t%d\n"
	noRepositoriesMessageConstant       = "No repositories tracked yet.\n"
	tableHeaderRowConstant              = "NAME\tSTATUS\tMIGRATION\tLAST CHECKED\tERROR"
	tableDividerRowConstant             = "----\t------\t---------\t------------\t-----"
	tableRowTemplateConstant            = "%s\t%s\t%s\t%s\t%s\n"
	missingCellPlaceholderConstant      = "-"
	tablePaddingConstant                = 2
	reportRenderedLogMessageConstant    = "state report rendered"
	repositoryCountLogFieldNameConstant = "repository_count"
)

// ErrLoggerNotConfigured indicates the service was constructed without a logger.
var ErrLoggerNotConfigured = errors.New(loggerNotConfiguredMessageConstant)

// ErrLoaderNotConfigured indicates the service was constructed without a document loader.
var ErrLoaderNotConfigured = errors.New(loaderNotConfiguredMessageConstant)

// ErrOutputNotConfigured indicates the service was constructed without an output writer.
var ErrOutputNotConfigured = errors.New(outputNotConfiguredMessageConstant)

// DocumentLoader reads the persisted migration state. *state.DocumentFile
// satisfies it.
type DocumentLoader interface {
	Path() string
	Load() (state.StateDocument, bool, error)
}

// ServiceDependencies carries the collaborators required by NewService.
type ServiceDependencies struct {
	Logger *zap.Logger
	Loader DocumentLoader
	Output io.Writer
}

// Service renders a read-only report of the migration state document. It
// never mutates the state file and needs no running coordinator.
type Service struct {
	logger *zap.Logger
	loader DocumentLoader
	output io.Writer
}

// NewService validates the dependencies and constructs a report Service.
func NewService(dependencies ServiceDependencies) (*Service, error) {
	if dependencies.Logger == nil {
		return nil, ErrLoggerNotConfigured
	}
	if dependencies.Loader == nil {
		return nil, ErrLoaderNotConfigured
	}
	if dependencies.Output == nil {
		return nil, ErrOutputNotConfigured
	}
	return &Service{
		logger: dependencies.Logger,
		loader: dependencies.Loader,
		output: dependencies.Output,
	}, nil
}

// Run loads the state document and writes the status summary and the
// per-repository table to the output writer.
func (service *Service) Run() error {
	document, documentFound, loadError := service.loader.Load()
	if loadError != nil {
		return fmt.Errorf(stateLoadFailureTemplateConstant, loadError)
	}
	if !documentFound {
		fmt.Fprintf(service.output, stateFileMissingTemplateConstant, service.loader.Path())
		return nil
	}

	fmt.Fprintf(service.output, migrationHeaderTemplateConstant,
		document.Source.Host, document.Source.Organization,
		document.Target.Host, document.Target.Organization,
	)
	fmt.Fprintf(service.output, stateFileLineTemplateConstant, service.loader.Path())
	fmt.Fprintln(service.output)

	fmt.Fprintf(service.output, repositoriesTotalTemplateConstant, len(document.Repositories))
	if summaryError := service.writeStatusCounts(document); summaryError != nil {
		return summaryError
	}
	fmt.Fprintln(service.output)

	if len(document.Repositories) == 0 {
		fmt.Fprint(service.output, noRepositoriesMessageConstant)
		return nil
	}
	if tableError := service.writeRepositoryTable(document); tableError != nil {
		return tableError
	}

	service.logger.Debug(reportRenderedLogMessageConstant, zap.Int(repositoryCountLogFieldNameConstant, len(document.Repositories)))
	return nil
}

func (service *Service) writeStatusCounts(document state.StateDocument) error {
	countsByStatus := make(map[state.Status]int, len(state.AllStatuses()))
	for _, documentRecord := range document.Repositories {
		countsByStatus[documentRecord.Status]++
	}

	summaryWriter := tabwriter.NewWriter(service.output, 0, 0, tablePaddingConstant, ' ', 0)
	for _, knownStatus := range state.AllStatuses() {
		fmt.Fprintf(summaryWriter, statusCountRowTemplateConstant, knownStatus, countsByStatus[knownStatus])
		delete(countsByStatus, knownStatus)
	}
	for _, unknownStatus := range sortedStatusKeys(countsByStatus) {
		fmt.Fprintf(summaryWriter, statusCountRowTemplateConstant, unknownStatus, countsByStatus[unknownStatus])
	}
	return summaryWriter.Flush()
}

func (service *Service) writeRepositoryTable(document state.StateDocument) error {
	repositoryNames := make([]string, 0, len(document.Repositories))
	for repositoryName := range document.Repositories {
		repositoryNames = append(repositoryNames, repositoryName)
	}
	sort.Strings(repositoryNames)

	tableWriter := tabwriter.NewWriter(service.output, 0, 0, tablePaddingConstant, ' ', 0)
	fmt.Fprintln(tableWriter, tableHeaderRowConstant)
	fmt.Fprintln(tableWriter, tableDividerRowConstant)
	for _, repositoryName := range repositoryNames {
		documentRecord := document.Repositories[repositoryName]
		fmt.Fprintf(tableWriter, tableRowTemplateConstant,
			repositoryName,
			documentRecord.Status,
			cellOrPlaceholder(documentRecord.MigrationIdentifier),
			timestampCell(documentRecord.LastChecked),
			cellOrPlaceholder(compactWhitespace(documentRecord.ErrorMessage)),
		)
	}
	return tableWriter.Flush()
}

func sortedStatusKeys(countsByStatus map[state.Status]int) []state.Status {
	statusKeys := make([]state.Status, 0, len(countsByStatus))
	for statusKey := range countsByStatus {
		statusKeys = append(statusKeys, statusKey)
	}
	sort.Slice(statusKeys, func(firstIndex int, secondIndex int) bool {
		return statusKeys[firstIndex] < statusKeys[secondIndex]
	})
	return statusKeys
}

func cellOrPlaceholder(cellValue string) string {
	if len(strings.TrimSpace(cellValue)) == 0 {
		return missingCellPlaceholderConstant
	}
	return cellValue
}

func timestampCell(timestampValue *time.Time) string {
	if timestampValue == nil {
		return missingCellPlaceholderConstant
	}
	return timestampValue.UTC().Format(time.RFC3339)
}

// compactWhitespace collapses runs of whitespace so multi-line tool output
// cannot break the table layout.
func compactWhitespace(messageValue string) string {
	return strings.Join(strings.Fields(messageValue), " ")
}
