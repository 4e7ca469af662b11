package execshell

import (
	"fmt"
	"strings"
)

type messageStage int

const (
	messageStageStart messageStage = iota
	messageStageSuccess
	messageStageFailure
	messageStageExecutionFailure
)

const (
	genericStartTemplateConstant            = "Running %s"
	genericSuccessTemplateConstant          = "Completed %s"
	genericFailureTemplateConstant          = "%s failed with exit code %d%s"
	genericExecutionFailureTemplateConstant = "%s failed: %s"
	commandLabelTemplateConstant            = "%s%s"
	workingDirectorySuffixTemplateConstant  = " (in %s)"
	commandArgumentsJoinSeparatorConstant   = " "
	standardErrorSuffixTemplateConstant     = ": %s"
	unknownFailureMessageConstant           = "unknown error"
	emptyStringConstant                     = ""
	fallbackUnknownValueLabelConstant       = "unknown"
)

const (
	githubRepoSubcommandNameConstant          = "repo"
	githubRepoViewSubcommandNameConstant      = "view"
	githubRepoListSubcommandNameConstant      = "list"
	githubRepoDeleteSubcommandNameConstant    = "delete"
	githubAPISubcommandNameConstant           = "api"
	githubGraphQLEndpointNameConstant         = "graphql"
	githubTypedFieldFlagConstant              = "-F"
	migrationIdentifierFieldPrefixConstant    = "id="
	importerMigrateRepoSubcommandNameConstant = "migrate-repo"
	importerSourceRepositoryFlagConstant      = "--source-repo"
	subcommandArgumentPositionConstant        = 1
	repositoryArgumentPositionConstant        = 2
)

const (
	repositoryInspectionStartTemplateConstant            = "Inspecting repository %s"
	repositoryInspectionSuccessTemplateConstant          = "Inspected repository %s"
	repositoryInspectionFailureTemplateConstant          = "Failed to inspect repository %s (exit code %d%s)"
	repositoryInspectionExecutionFailureTemplateConstant = "Unable to inspect repository %s: %s"
	repositoryListingStartTemplateConstant               = "Listing repositories in %s"
	repositoryListingSuccessTemplateConstant             = "Listed repositories in %s"
	repositoryListingFailureTemplateConstant             = "Failed to list repositories in %s (exit code %d%s)"
	repositoryListingExecutionFailureTemplateConstant    = "Unable to list repositories in %s: %s"
	repositoryDeletionStartTemplateConstant              = "Deleting repository %s"
	repositoryDeletionSuccessTemplateConstant            = "Deleted repository %s"
	repositoryDeletionFailureTemplateConstant            = "Failed to delete repository %s (exit code %d%s)"
	repositoryDeletionExecutionFailureTemplateConstant   = "Unable to delete repository %s: %s"
	migrationStatusStartTemplateConstant                 = "Checking migration %s"
	migrationStatusSuccessTemplateConstant               = "Checked migration %s"
	migrationStatusFailureTemplateConstant               = "Failed to check migration %s (exit code %d%s)"
	migrationStatusExecutionFailureTemplateConstant      = "Unable to check migration %s: %s"
	migrationStartStartTemplateConstant                  = "Starting migration for %s"
	migrationStartSuccessTemplateConstant                = "Migration request accepted for %s"
	migrationStartFailureTemplateConstant                = "Failed to start migration for %s (exit code %d%s)"
	migrationStartExecutionFailureTemplateConstant       = "Unable to start migration for %s: %s"
)

// CommandMessageFormatter builds human-readable messages for command lifecycle events.
type CommandMessageFormatter struct{}

// BuildStartedMessage formats the message describing a command about to run.
func (formatter CommandMessageFormatter) BuildStartedMessage(command ShellCommand) string {
	return formatter.buildMessage(command, ExecutionResult{}, nil, messageStageStart)
}

// BuildSuccessMessage formats the message describing a completed command with a zero exit code.
func (formatter CommandMessageFormatter) BuildSuccessMessage(command ShellCommand) string {
	return formatter.buildMessage(command, ExecutionResult{}, nil, messageStageSuccess)
}

// BuildFailureMessage formats the message describing a command that returned a non-zero exit code.
func (formatter CommandMessageFormatter) BuildFailureMessage(command ShellCommand, result ExecutionResult) string {
	return formatter.buildMessage(command, result, nil, messageStageFailure)
}

// BuildExecutionFailureMessage formats the message describing an unexpected execution failure.
func (formatter CommandMessageFormatter) BuildExecutionFailureMessage(command ShellCommand, failure error) string {
	return formatter.buildMessage(command, ExecutionResult{}, failure, messageStageExecutionFailure)
}

func (formatter CommandMessageFormatter) buildMessage(command ShellCommand, result ExecutionResult, failure error, stage messageStage) string {
	switch command.Name {
	case CommandGitHub:
		return formatter.describeGitHubMessage(command, result, failure, stage)
	case CommandImporter:
		return formatter.describeImporterMessage(command, result, failure, stage)
	default:
		return formatter.buildGenericMessage(command, result, failure, stage)
	}
}

func (formatter CommandMessageFormatter) describeGitHubMessage(command ShellCommand, result ExecutionResult, failure error, stage messageStage) string {
	arguments := command.Details.Arguments
	if len(arguments) == 0 {
		return formatter.buildGenericMessage(command, result, failure, stage)
	}

	primary := strings.TrimSpace(arguments[0])
	switch primary {
	case githubRepoSubcommandNameConstant:
		return formatter.describeGitHubRepoMessage(command, result, failure, stage)
	case githubAPISubcommandNameConstant:
		return formatter.describeGitHubAPIMessage(command, result, failure, stage)
	default:
		return formatter.buildGenericMessage(command, result, failure, stage)
	}
}

func (formatter CommandMessageFormatter) describeGitHubRepoMessage(command ShellCommand, result ExecutionResult, failure error, stage messageStage) string {
	arguments := command.Details.Arguments
	if len(arguments) <= subcommandArgumentPositionConstant {
		return formatter.buildGenericMessage(command, result, failure, stage)
	}
	subcommand := strings.TrimSpace(arguments[subcommandArgumentPositionConstant])
	subject := formatter.ensureValue(formatter.argumentAtIndex(arguments, repositoryArgumentPositionConstant))

	switch subcommand {
	case githubRepoViewSubcommandNameConstant:
		return formatter.renderStageMessage(stage, result, failure, subject,
			repositoryInspectionStartTemplateConstant,
			repositoryInspectionSuccessTemplateConstant,
			repositoryInspectionFailureTemplateConstant,
			repositoryInspectionExecutionFailureTemplateConstant)
	case githubRepoListSubcommandNameConstant:
		return formatter.renderStageMessage(stage, result, failure, subject,
			repositoryListingStartTemplateConstant,
			repositoryListingSuccessTemplateConstant,
			repositoryListingFailureTemplateConstant,
			repositoryListingExecutionFailureTemplateConstant)
	case githubRepoDeleteSubcommandNameConstant:
		return formatter.renderStageMessage(stage, result, failure, subject,
			repositoryDeletionStartTemplateConstant,
			repositoryDeletionSuccessTemplateConstant,
			repositoryDeletionFailureTemplateConstant,
			repositoryDeletionExecutionFailureTemplateConstant)
	default:
		return formatter.buildGenericMessage(command, result, failure, stage)
	}
}

func (formatter CommandMessageFormatter) describeGitHubAPIMessage(command ShellCommand, result ExecutionResult, failure error, stage messageStage) string {
	arguments := command.Details.Arguments
	endpoint := strings.TrimSpace(formatter.argumentAtIndex(arguments, subcommandArgumentPositionConstant))
	if endpoint != githubGraphQLEndpointNameConstant {
		return formatter.buildGenericMessage(command, result, failure, stage)
	}

	migrationIdentifier := formatter.extractMigrationIdentifier(arguments)
	return formatter.renderStageMessage(stage, result, failure, migrationIdentifier,
		migrationStatusStartTemplateConstant,
		migrationStatusSuccessTemplateConstant,
		migrationStatusFailureTemplateConstant,
		migrationStatusExecutionFailureTemplateConstant)
}

func (formatter CommandMessageFormatter) describeImporterMessage(command ShellCommand, result ExecutionResult, failure error, stage messageStage) string {
	arguments := command.Details.Arguments
	if len(arguments) == 0 || strings.TrimSpace(arguments[0]) != importerMigrateRepoSubcommandNameConstant {
		return formatter.buildGenericMessage(command, result, failure, stage)
	}

	repositoryName := formatter.ensureValue(findFlagValue(arguments, importerSourceRepositoryFlagConstant))
	return formatter.renderStageMessage(stage, result, failure, repositoryName,
		migrationStartStartTemplateConstant,
		migrationStartSuccessTemplateConstant,
		migrationStartFailureTemplateConstant,
		migrationStartExecutionFailureTemplateConstant)
}

func (formatter CommandMessageFormatter) renderStageMessage(stage messageStage, result ExecutionResult, failure error, subject string, startTemplate string, successTemplate string, failureTemplate string, executionFailureTemplate string) string {
	switch stage {
	case messageStageStart:
		return fmt.Sprintf(startTemplate, subject)
	case messageStageSuccess:
		return fmt.Sprintf(successTemplate, subject)
	case messageStageFailure:
		return fmt.Sprintf(failureTemplate, subject, result.ExitCode, formatter.formatStandardErrorSuffix(result.StandardError))
	case messageStageExecutionFailure:
		return fmt.Sprintf(executionFailureTemplate, subject, formatter.describeFailure(failure))
	default:
		return emptyStringConstant
	}
}

func (formatter CommandMessageFormatter) buildGenericMessage(command ShellCommand, result ExecutionResult, failure error, stage messageStage) string {
	commandLabel := formatter.formatCommandLabel(command)
	switch stage {
	case messageStageStart:
		return fmt.Sprintf(genericStartTemplateConstant, commandLabel)
	case messageStageSuccess:
		return fmt.Sprintf(genericSuccessTemplateConstant, commandLabel)
	case messageStageFailure:
		return fmt.Sprintf(genericFailureTemplateConstant, commandLabel, result.ExitCode, formatter.formatStandardErrorSuffix(result.StandardError))
	case messageStageExecutionFailure:
		return fmt.Sprintf(genericExecutionFailureTemplateConstant, commandLabel, formatter.describeFailure(failure))
	default:
		return emptyStringConstant
	}
}

func (formatter CommandMessageFormatter) formatCommandLabel(command ShellCommand) string {
	commandLabel := string(command.Name)
	if len(command.Details.Arguments) > 0 {
		commandLabel = fmt.Sprintf("%s %s", commandLabel, strings.Join(command.Details.Arguments, commandArgumentsJoinSeparatorConstant))
	}
	workingDirectorySuffix := formatter.formatWorkingDirectorySuffix(command)
	return fmt.Sprintf(commandLabelTemplateConstant, commandLabel, workingDirectorySuffix)
}

func (formatter CommandMessageFormatter) formatWorkingDirectorySuffix(command ShellCommand) string {
	trimmedWorkingDirectory := strings.TrimSpace(command.Details.WorkingDirectory)
	if len(trimmedWorkingDirectory) == 0 {
		return emptyStringConstant
	}
	return fmt.Sprintf(workingDirectorySuffixTemplateConstant, trimmedWorkingDirectory)
}

func (formatter CommandMessageFormatter) formatStandardErrorSuffix(standardError string) string {
	trimmedStandardError := strings.TrimSpace(standardError)
	if len(trimmedStandardError) == 0 {
		return emptyStringConstant
	}
	return fmt.Sprintf(standardErrorSuffixTemplateConstant, trimmedStandardError)
}

func (formatter CommandMessageFormatter) describeFailure(failure error) string {
	if failure == nil {
		return unknownFailureMessageConstant
	}
	return failure.Error()
}

func (formatter CommandMessageFormatter) extractMigrationIdentifier(arguments []string) string {
	fieldValue := strings.TrimSpace(findFlagValue(arguments, githubTypedFieldFlagConstant))
	if strings.HasPrefix(fieldValue, migrationIdentifierFieldPrefixConstant) {
		return formatter.ensureValue(strings.TrimPrefix(fieldValue, migrationIdentifierFieldPrefixConstant))
	}
	return fallbackUnknownValueLabelConstant
}

func (formatter CommandMessageFormatter) argumentAtIndex(arguments []string, index int) string {
	if index >= 0 && index < len(arguments) {
		return arguments[index]
	}
	return emptyStringConstant
}

func (formatter CommandMessageFormatter) ensureValue(value string) string {
	trimmed := strings.TrimSpace(value)
	if len(trimmed) == 0 {
		return fallbackUnknownValueLabelConstant
	}
	return trimmed
}

func findFlagValue(arguments []string, flag string) string {
	for index := 0; index < len(arguments); index++ {
		if strings.TrimSpace(arguments[index]) == flag && index+1 < len(arguments) {
			return strings.TrimSpace(arguments[index+1])
		}
	}
	return emptyStringConstant
}
