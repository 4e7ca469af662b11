package githubcli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/temirov/caravan/internal/execshell"
	"github.com/temirov/caravan/internal/githubauth"
)

const (
	repoSubcommandConstant                   = "repo"
	viewSubcommandConstant                   = "view"
	listSubcommandConstant                   = "list"
	deleteSubcommandConstant                 = "delete"
	apiSubcommandConstant                    = "api"
	graphQLEndpointConstant                  = "graphql"
	jsonFlagConstant                         = "--json"
	limitFlagConstant                        = "--limit"
	yesFlagConstant                          = "--yes"
	rawFieldFlagConstant                     = "-f"
	typedFieldFlagConstant                   = "-F"
	hostEnvironmentVariableConstant          = "GH_HOST"
	inspectionJSONFieldsConstant             = "name,pushedAt"
	listingJSONFieldsConstant                = "name,visibility"
	repositoryListLimitConstant              = 1000
	qualifiedRepositoryTemplateConstant      = "%s/%s"
	graphQLQueryFieldTemplateConstant        = "query=%s"
	migrationIdentifierFieldTemplateConstant = "id=%s"
	hostFieldNameConstant                    = "host"
	organizationFieldNameConstant            = "organization"
	repositoryFieldNameConstant              = "repository"
	migrationIdentifierFieldNameConstant     = "migration_id"
	requiredValueMessageConstant             = "value required"
	executorNotConfiguredMessageConstant     = "github cli executor not configured"
	migrationNotFoundMessageConstant         = "migration not found"
	operationErrorMessageTemplateConstant    = "%s operation failed"
	operationErrorWithCauseTemplateConstant  = "%s operation failed: %s"
	responseDecodingErrorTemplateConstant    = "%s response decoding failed: %s"
	invalidInputErrorTemplateConstant        = "%s: %s"
	repositoryNotFoundMarkerConstant         = "could not resolve to a repository"
	nodeNotFoundMarkerConstant               = "could not resolve to a node"
	notFoundStatusMarkerConstant             = "http 404"
	inspectRepositoryOperationNameConstant   = OperationName("InspectRepository")
	listRepositoriesOperationNameConstant    = OperationName("ListOrganizationRepositories")
	deleteRepositoryOperationNameConstant    = OperationName("DeleteRepository")
	migrationStatusOperationNameConstant     = OperationName("MigrationStatus")
)

const migrationStatusQueryConstant = "query ($id: ID!) { node(id: $id) { ... on Migration { state failureReason } } }"

// OperationName describes a named GitHub CLI workflow supported by the client.
type OperationName string

// RepositoryInspection reports whether a repository exists and when it last received a push.
type RepositoryInspection struct {
	Exists   bool
	PushedAt *time.Time
}

// RepositoryListing identifies one repository returned by an organization listing.
type RepositoryListing struct {
	Name       string
	Visibility string
}

// MigrationStatusReport carries the phase reported for a migration and any failure reason.
type MigrationStatusReport struct {
	Phase         string
	FailureReason string
}

// GitHubCommandExecutor is the minimal interface required from execshell.ShellExecutor.
type GitHubCommandExecutor interface {
	ExecuteGitHubCLI(executionContext context.Context, details execshell.CommandDetails) (execshell.ExecutionResult, error)
}

// Client coordinates GitHub CLI invocations through execshell.
type Client struct {
	executor GitHubCommandExecutor
}

var (
	// ErrExecutorNotConfigured indicates the client was constructed without an executor.
	ErrExecutorNotConfigured = errors.New(executorNotConfiguredMessageConstant)
	// ErrMigrationNotFound indicates the queried migration identifier is unknown to the host.
	ErrMigrationNotFound = errors.New(migrationNotFoundMessageConstant)
)

// InvalidInputError surfaces validation issues for operation inputs.
type InvalidInputError struct {
	FieldName string
	Message   string
}

// Error describes the invalid input.
func (inputError InvalidInputError) Error() string {
	return fmt.Sprintf(invalidInputErrorTemplateConstant, inputError.FieldName, inputError.Message)
}

// OperationError wraps execution issues for GitHub CLI operations.
type OperationError struct {
	Operation OperationName
	Cause     error
}

// Error describes the operation failure.
func (operationError OperationError) Error() string {
	if operationError.Cause == nil {
		return fmt.Sprintf(operationErrorMessageTemplateConstant, operationError.Operation)
	}
	return fmt.Sprintf(operationErrorWithCauseTemplateConstant, operationError.Operation, operationError.Cause)
}

// Unwrap exposes the underlying cause.
func (operationError OperationError) Unwrap() error {
	return operationError.Cause
}

// ResponseDecodingError indicates JSON decoding failures.
type ResponseDecodingError struct {
	Operation OperationName
	Cause     error
}

// Error describes the decoding failure.
func (decodingError ResponseDecodingError) Error() string {
	return fmt.Sprintf(responseDecodingErrorTemplateConstant, decodingError.Operation, decodingError.Cause)
}

// Unwrap exposes the underlying JSON error.
func (decodingError ResponseDecodingError) Unwrap() error {
	return decodingError.Cause
}

// NewClient constructs a GitHub CLI client.
func NewClient(executor GitHubCommandExecutor) (*Client, error) {
	if executor == nil {
		return nil, ErrExecutorNotConfigured
	}
	return &Client{executor: executor}, nil
}

// InspectRepository looks up a repository with gh repo view. A repository the
// host cannot resolve is reported through RepositoryInspection.Exists rather
// than as an error.
func (client *Client) InspectRepository(executionContext context.Context, host string, organization string, repositoryName string) (RepositoryInspection, error) {
	trimmedHost := strings.TrimSpace(host)
	if len(trimmedHost) == 0 {
		return RepositoryInspection{}, InvalidInputError{FieldName: hostFieldNameConstant, Message: requiredValueMessageConstant}
	}
	qualifiedRepository, qualificationError := qualifyRepository(organization, repositoryName)
	if qualificationError != nil {
		return RepositoryInspection{}, qualificationError
	}

	commandDetails := execshell.CommandDetails{
		Arguments: []string{
			repoSubcommandConstant,
			viewSubcommandConstant,
			qualifiedRepository,
			jsonFlagConstant,
			inspectionJSONFieldsConstant,
		},
		EnvironmentVariables: hostEnvironment(trimmedHost),
	}

	executionResult, executionError := client.executor.ExecuteGitHubCLI(executionContext, commandDetails)
	if executionError != nil {
		if matchesFailureMarker(executionError, repositoryNotFoundMarkerConstant, notFoundStatusMarkerConstant) {
			return RepositoryInspection{Exists: false}, nil
		}
		return RepositoryInspection{}, OperationError{Operation: inspectRepositoryOperationNameConstant, Cause: executionError}
	}

	var response struct {
		Name     string `json:"name"`
		PushedAt string `json:"pushedAt"`
	}
	decodingError := json.Unmarshal([]byte(executionResult.StandardOutput), &response)
	if decodingError != nil {
		return RepositoryInspection{}, ResponseDecodingError{Operation: inspectRepositoryOperationNameConstant, Cause: decodingError}
	}

	inspection := RepositoryInspection{Exists: true}
	if len(strings.TrimSpace(response.PushedAt)) > 0 {
		pushedAt, parseError := time.Parse(time.RFC3339, response.PushedAt)
		if parseError != nil {
			return RepositoryInspection{}, ResponseDecodingError{Operation: inspectRepositoryOperationNameConstant, Cause: parseError}
		}
		inspection.PushedAt = &pushedAt
	}
	return inspection, nil
}

// ListOrganizationRepositories enumerates repositories with gh repo list.
func (client *Client) ListOrganizationRepositories(executionContext context.Context, host string, organization string) ([]RepositoryListing, error) {
	trimmedHost := strings.TrimSpace(host)
	if len(trimmedHost) == 0 {
		return nil, InvalidInputError{FieldName: hostFieldNameConstant, Message: requiredValueMessageConstant}
	}
	trimmedOrganization := strings.TrimSpace(organization)
	if len(trimmedOrganization) == 0 {
		return nil, InvalidInputError{FieldName: organizationFieldNameConstant, Message: requiredValueMessageConstant}
	}

	commandDetails := execshell.CommandDetails{
		Arguments: []string{
			repoSubcommandConstant,
			listSubcommandConstant,
			trimmedOrganization,
			jsonFlagConstant,
			listingJSONFieldsConstant,
			limitFlagConstant,
			strconv.Itoa(repositoryListLimitConstant),
		},
		EnvironmentVariables: hostEnvironment(trimmedHost),
	}

	executionResult, executionError := client.executor.ExecuteGitHubCLI(executionContext, commandDetails)
	if executionError != nil {
		return nil, OperationError{Operation: listRepositoriesOperationNameConstant, Cause: executionError}
	}

	var response []struct {
		Name       string `json:"name"`
		Visibility string `json:"visibility"`
	}
	decodingError := json.Unmarshal([]byte(executionResult.StandardOutput), &response)
	if decodingError != nil {
		return nil, ResponseDecodingError{Operation: listRepositoriesOperationNameConstant, Cause: decodingError}
	}

	listings := make([]RepositoryListing, 0, len(response))
	for _, listingEntry := range response {
		listings = append(listings, RepositoryListing{
			Name:       listingEntry.Name,
			Visibility: listingEntry.Visibility,
		})
	}
	return listings, nil
}

// DeleteRepository removes a repository with gh repo delete.
func (client *Client) DeleteRepository(executionContext context.Context, host string, organization string, repositoryName string) error {
	trimmedHost := strings.TrimSpace(host)
	if len(trimmedHost) == 0 {
		return InvalidInputError{FieldName: hostFieldNameConstant, Message: requiredValueMessageConstant}
	}
	qualifiedRepository, qualificationError := qualifyRepository(organization, repositoryName)
	if qualificationError != nil {
		return qualificationError
	}

	commandDetails := execshell.CommandDetails{
		Arguments: []string{
			repoSubcommandConstant,
			deleteSubcommandConstant,
			qualifiedRepository,
			yesFlagConstant,
		},
		EnvironmentVariables: hostEnvironment(trimmedHost),
	}

	_, executionError := client.executor.ExecuteGitHubCLI(executionContext, commandDetails)
	if executionError != nil {
		return OperationError{Operation: deleteRepositoryOperationNameConstant, Cause: executionError}
	}
	return nil
}

// MigrationStatus queries the phase of a migration through the GraphQL API.
// Unknown identifiers are reported as ErrMigrationNotFound.
func (client *Client) MigrationStatus(executionContext context.Context, host string, migrationIdentifier string) (MigrationStatusReport, error) {
	trimmedHost := strings.TrimSpace(host)
	if len(trimmedHost) == 0 {
		return MigrationStatusReport{}, InvalidInputError{FieldName: hostFieldNameConstant, Message: requiredValueMessageConstant}
	}
	trimmedIdentifier := strings.TrimSpace(migrationIdentifier)
	if len(trimmedIdentifier) == 0 {
		return MigrationStatusReport{}, InvalidInputError{FieldName: migrationIdentifierFieldNameConstant, Message: requiredValueMessageConstant}
	}

	commandDetails := execshell.CommandDetails{
		Arguments: []string{
			apiSubcommandConstant,
			graphQLEndpointConstant,
			rawFieldFlagConstant,
			fmt.Sprintf(graphQLQueryFieldTemplateConstant, migrationStatusQueryConstant),
			typedFieldFlagConstant,
			fmt.Sprintf(migrationIdentifierFieldTemplateConstant, trimmedIdentifier),
		},
		EnvironmentVariables: hostEnvironment(trimmedHost),
	}

	executionResult, executionError := client.executor.ExecuteGitHubCLI(executionContext, commandDetails)
	if executionError != nil {
		if matchesFailureMarker(executionError, nodeNotFoundMarkerConstant) {
			return MigrationStatusReport{}, ErrMigrationNotFound
		}
		return MigrationStatusReport{}, OperationError{Operation: migrationStatusOperationNameConstant, Cause: executionError}
	}

	var response struct {
		Data struct {
			Node *struct {
				State         string `json:"state"`
				FailureReason string `json:"failureReason"`
			} `json:"node"`
		} `json:"data"`
	}
	decodingError := json.Unmarshal([]byte(executionResult.StandardOutput), &response)
	if decodingError != nil {
		return MigrationStatusReport{}, ResponseDecodingError{Operation: migrationStatusOperationNameConstant, Cause: decodingError}
	}
	if response.Data.Node == nil {
		return MigrationStatusReport{}, ErrMigrationNotFound
	}

	return MigrationStatusReport{
		Phase:         response.Data.Node.State,
		FailureReason: response.Data.Node.FailureReason,
	}, nil
}

func qualifyRepository(organization string, repositoryName string) (string, error) {
	trimmedOrganization := strings.TrimSpace(organization)
	if len(trimmedOrganization) == 0 {
		return "", InvalidInputError{FieldName: organizationFieldNameConstant, Message: requiredValueMessageConstant}
	}
	trimmedRepositoryName := strings.TrimSpace(repositoryName)
	if len(trimmedRepositoryName) == 0 {
		return "", InvalidInputError{FieldName: repositoryFieldNameConstant, Message: requiredValueMessageConstant}
	}
	return fmt.Sprintf(qualifiedRepositoryTemplateConstant, trimmedOrganization, trimmedRepositoryName), nil
}

// hostEnvironment pins GH_HOST for the invocation and re-exports a resolved
// authentication token under the variable gh consults for that host class.
func hostEnvironment(host string) map[string]string {
	environment := map[string]string{hostEnvironmentVariableConstant: host}
	if hostToken, tokenFound := githubauth.ResolveHostToken(host, nil); tokenFound {
		environment[githubauth.TokenVariableForHost(host)] = hostToken
	}
	return environment
}

// matchesFailureMarker reports whether a command failure's output contains one
// of the supplied lower-case markers.
func matchesFailureMarker(executionError error, markers ...string) bool {
	failedError := execshell.CommandFailedError{}
	if !errors.As(executionError, &failedError) {
		return false
	}
	combinedOutput := strings.ToLower(failedError.Result.StandardError + "\n" + failedError.Result.StandardOutput)
	for _, marker := range markers {
		if strings.Contains(combinedOutput, marker) {
			return true
		}
	}
	return false
}
