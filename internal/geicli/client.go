package geicli

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/temirov/caravan/internal/execshell"
	"github.com/temirov/caravan/internal/githubauth"
)

const (
	migrateRepoSubcommandConstant               = "migrate-repo"
	sourceOrganizationFlagConstant              = "--github-source-org"
	sourceRepositoryFlagConstant                = "--source-repo"
	targetOrganizationFlagConstant              = "--github-target-org"
	targetRepositoryFlagConstant                = "--target-repo"
	targetVisibilityFlagConstant                = "--target-repo-visibility"
	sourceAPIURLFlagConstant                    = "--ghes-api-url"
	targetAPIURLFlagConstant                    = "--target-api-url"
	enterpriseAPIURLTemplateConstant            = "https://%s/api/v3"
	githubDotComHostConstant                    = "github.com"
	sourceHostFieldNameConstant                 = "source_host"
	sourceOrganizationFieldNameConstant         = "source_organization"
	targetOrganizationFieldNameConstant         = "target_organization"
	repositoryFieldNameConstant                 = "repository"
	requiredValueMessageConstant                = "value required"
	executorNotConfiguredMessageConstant        = "importer executor not configured"
	migrationIdentifierMissingMessageConstant   = "migration identifier missing from importer output"
	startMigrationErrorTemplateConstant         = "migration start failed for %s: %s"
	invalidInputErrorTemplateConstant           = "%s: %s"
	missingCredentialsTemplateConstant          = "importer credentials missing: %s"
	credentialListSeparatorConstant             = ", "
	migrationIdentifierExpressionConstant       = `\(ID: ([^)]+)\)`
	migrationIdentifierSubmatchCountConstant    = 2
	migrationIdentifierSubmatchPositionConstant = 1
)

var migrationIdentifierExpression = regexp.MustCompile(migrationIdentifierExpressionConstant)

var (
	// ErrExecutorNotConfigured indicates the client was constructed without an executor.
	ErrExecutorNotConfigured = errors.New(executorNotConfiguredMessageConstant)
	// ErrMigrationIdentifierMissing indicates the importer accepted the request but
	// printed no recognizable migration identifier.
	ErrMigrationIdentifierMissing = errors.New(migrationIdentifierMissingMessageConstant)
)

// StartMigrationRequest describes one repository migration to queue on the importer.
type StartMigrationRequest struct {
	SourceHost         string
	SourceOrganization string
	TargetHost         string
	TargetOrganization string
	RepositoryName     string
	Visibility         string
}

// MigrationHandle identifies a migration accepted by the importer.
type MigrationHandle struct {
	Identifier string
}

// ImporterCommandExecutor is the minimal interface required from execshell.ShellExecutor.
type ImporterCommandExecutor interface {
	ExecuteImporter(executionContext context.Context, details execshell.CommandDetails) (execshell.ExecutionResult, error)
}

// InvalidInputError surfaces validation issues for migration requests.
type InvalidInputError struct {
	FieldName string
	Message   string
}

// Error describes the invalid input.
func (inputError InvalidInputError) Error() string {
	return fmt.Sprintf(invalidInputErrorTemplateConstant, inputError.FieldName, inputError.Message)
}

// MissingCredentialsError reports importer credential variables absent from
// the environment. The importer needs GH_PAT and GH_SOURCE_PAT before any
// migration can start.
type MissingCredentialsError struct {
	VariableNames []string
}

// Error names the absent variables.
func (credentialsError MissingCredentialsError) Error() string {
	return fmt.Sprintf(missingCredentialsTemplateConstant, strings.Join(credentialsError.VariableNames, credentialListSeparatorConstant))
}

// StartMigrationError wraps failures observed while queueing a migration.
type StartMigrationError struct {
	RepositoryName string
	Cause          error
}

// Error describes the failed migration start.
func (startError StartMigrationError) Error() string {
	return fmt.Sprintf(startMigrationErrorTemplateConstant, startError.RepositoryName, startError.Cause)
}

// Unwrap exposes the underlying cause.
func (startError StartMigrationError) Unwrap() error {
	return startError.Cause
}

// Client drives the GitHub Enterprise Importer CLI through execshell.
type Client struct {
	executor ImporterCommandExecutor
}

// NewClient constructs an importer client.
func NewClient(executor ImporterCommandExecutor) (*Client, error) {
	if executor == nil {
		return nil, ErrExecutorNotConfigured
	}
	return &Client{executor: executor}, nil
}

// StartMigration queues a repository migration with gei migrate-repo and
// returns the migration identifier parsed from the importer output.
func (client *Client) StartMigration(executionContext context.Context, request StartMigrationRequest) (MigrationHandle, error) {
	if validationError := validateStartMigrationRequest(request); validationError != nil {
		return MigrationHandle{}, validationError
	}
	if missingVariables := githubauth.MissingImporterVariables(nil); len(missingVariables) > 0 {
		return MigrationHandle{}, StartMigrationError{
			RepositoryName: request.RepositoryName,
			Cause:          MissingCredentialsError{VariableNames: missingVariables},
		}
	}

	commandDetails := execshell.CommandDetails{Arguments: buildMigrateRepoArguments(request)}
	executionResult, executionError := client.executor.ExecuteImporter(executionContext, commandDetails)
	if executionError != nil {
		return MigrationHandle{}, StartMigrationError{RepositoryName: request.RepositoryName, Cause: executionError}
	}

	migrationIdentifier, identifierFound := parseMigrationIdentifier(executionResult.StandardOutput)
	if !identifierFound {
		return MigrationHandle{}, StartMigrationError{RepositoryName: request.RepositoryName, Cause: ErrMigrationIdentifierMissing}
	}
	return MigrationHandle{Identifier: migrationIdentifier}, nil
}

func validateStartMigrationRequest(request StartMigrationRequest) error {
	if len(strings.TrimSpace(request.SourceHost)) == 0 {
		return InvalidInputError{FieldName: sourceHostFieldNameConstant, Message: requiredValueMessageConstant}
	}
	if len(strings.TrimSpace(request.SourceOrganization)) == 0 {
		return InvalidInputError{FieldName: sourceOrganizationFieldNameConstant, Message: requiredValueMessageConstant}
	}
	if len(strings.TrimSpace(request.TargetOrganization)) == 0 {
		return InvalidInputError{FieldName: targetOrganizationFieldNameConstant, Message: requiredValueMessageConstant}
	}
	if len(strings.TrimSpace(request.RepositoryName)) == 0 {
		return InvalidInputError{FieldName: repositoryFieldNameConstant, Message: requiredValueMessageConstant}
	}
	return nil
}

func buildMigrateRepoArguments(request StartMigrationRequest) []string {
	arguments := []string{
		migrateRepoSubcommandConstant,
		sourceOrganizationFlagConstant, strings.TrimSpace(request.SourceOrganization),
		sourceRepositoryFlagConstant, strings.TrimSpace(request.RepositoryName),
		targetOrganizationFlagConstant, strings.TrimSpace(request.TargetOrganization),
		targetRepositoryFlagConstant, strings.TrimSpace(request.RepositoryName),
	}
	trimmedVisibility := strings.TrimSpace(request.Visibility)
	if len(trimmedVisibility) > 0 {
		arguments = append(arguments, targetVisibilityFlagConstant, strings.ToLower(trimmedVisibility))
	}
	if apiURL, required := enterpriseAPIURL(request.SourceHost); required {
		arguments = append(arguments, sourceAPIURLFlagConstant, apiURL)
	}
	if apiURL, required := enterpriseAPIURL(request.TargetHost); required {
		arguments = append(arguments, targetAPIURLFlagConstant, apiURL)
	}
	return arguments
}

// enterpriseAPIURL derives the REST endpoint for hosts other than github.com.
func enterpriseAPIURL(host string) (string, bool) {
	trimmedHost := strings.TrimSpace(strings.ToLower(host))
	if len(trimmedHost) == 0 || trimmedHost == githubDotComHostConstant {
		return "", false
	}
	return fmt.Sprintf(enterpriseAPIURLTemplateConstant, trimmedHost), true
}

func parseMigrationIdentifier(importerOutput string) (string, bool) {
	submatches := migrationIdentifierExpression.FindStringSubmatch(importerOutput)
	if len(submatches) < migrationIdentifierSubmatchCountConstant {
		return "", false
	}
	migrationIdentifier := strings.TrimSpace(submatches[migrationIdentifierSubmatchPositionConstant])
	if len(migrationIdentifier) == 0 {
		return "", false
	}
	return migrationIdentifier, true
}
