package discovery

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/temirov/caravan/internal/execshell"
	"github.com/temirov/caravan/internal/githubcli"
	"github.com/temirov/caravan/internal/state"
	flagutils "github.com/temirov/caravan/internal/utils/flags"
	pathutils "github.com/temirov/caravan/internal/utils/path"
)

const (
	commandUseConstant              = "discover"
	commandShortDescriptionConstant = "Seed the state file with the source organization's repositories"
	commandLongDescriptionConstant  = "discover lists every repository in the source organization and registers the ones not yet tracked. Existing records keep their status; the updated state file is written once."

	sourceOrganizationMissingMessageConstant = "source organization is not configured"
	stateFilePathMissingMessageConstant      = "state file path is not configured"
	discoverResultTemplateConstant           = "Discovered %d new repositories; %d tracked in %s.\n"
)

// CommandConfiguration carries the settings consumed by the discover command.
type CommandConfiguration struct {
	Source        state.OrganizationCoordinates
	Target        state.OrganizationCoordinates
	StateFilePath string
}

// LoggerProvider supplies a zap logger for command execution.
type LoggerProvider func() *zap.Logger

// ConfigurationProvider supplies the resolved command configuration.
type ConfigurationProvider func() CommandConfiguration

// HumanReadableLoggingProvider reports whether console log formatting is active.
type HumanReadableLoggingProvider func() bool

// CommandBuilder assembles the discover cobra command. Lister may be injected
// for tests; when nil the builder constructs a gh-backed client.
type CommandBuilder struct {
	LoggerProvider               LoggerProvider
	ConfigurationProvider        ConfigurationProvider
	HumanReadableLoggingProvider HumanReadableLoggingProvider
	Lister                       RepositoryLister
	HomeExpander                 *pathutils.HomeExpander
}

// Build constructs the cobra command for one-shot repository discovery.
func (builder *CommandBuilder) Build() (*cobra.Command, error) {
	command := &cobra.Command{
		Use:   commandUseConstant,
		Short: commandShortDescriptionConstant,
		Long:  commandLongDescriptionConstant,
		Args:  cobra.NoArgs,
		RunE:  builder.run,
	}
	command.Flags().String(flagutils.StateFileFlagName, "", flagutils.StateFileFlagUsage)
	return command, nil
}

func (builder *CommandBuilder) run(command *cobra.Command, _ []string) error {
	configuration := builder.resolveConfiguration()
	if len(strings.TrimSpace(configuration.Source.Organization)) == 0 {
		return errors.New(sourceOrganizationMissingMessageConstant)
	}

	stateFilePath := builder.resolveStateFilePath(command, configuration)
	if len(stateFilePath) == 0 {
		return errors.New(stateFilePathMissingMessageConstant)
	}
	documentFile, documentFileError := state.NewDocumentFile(stateFilePath)
	if documentFileError != nil {
		return documentFileError
	}

	store := state.NewStore(nil, state.Labels{Source: configuration.Source, Target: configuration.Target})
	document, documentFound, loadError := documentFile.Load()
	if loadError != nil {
		return loadError
	}
	if documentFound {
		if restoreError := store.RestoreSnapshot(document); restoreError != nil {
			return restoreError
		}
	}

	logger := builder.resolveLogger()
	lister, listerError := builder.resolveLister(logger)
	if listerError != nil {
		return listerError
	}

	service, serviceError := NewService(ServiceDependencies{
		Logger: logger,
		Store:  store,
		Lister: lister,
	})
	if serviceError != nil {
		return serviceError
	}

	discoveredCount, seedError := service.Seed(command.Context())
	if seedError != nil {
		return seedError
	}
	if writeError := documentFile.Write(store.Snapshot()); writeError != nil {
		return writeError
	}

	fmt.Fprintf(command.OutOrStdout(), discoverResultTemplateConstant, discoveredCount, len(store.ListAll()), documentFile.Path())
	return nil
}

func (builder *CommandBuilder) resolveStateFilePath(command *cobra.Command, configuration CommandConfiguration) string {
	flagValue, _ := command.Flags().GetString(flagutils.StateFileFlagName)
	stateFilePath := strings.TrimSpace(flagValue)
	if len(stateFilePath) == 0 {
		stateFilePath = strings.TrimSpace(configuration.StateFilePath)
	}
	if len(stateFilePath) == 0 {
		return ""
	}
	return builder.resolveHomeExpander().Expand(stateFilePath)
}

func (builder *CommandBuilder) resolveLogger() *zap.Logger {
	if builder.LoggerProvider == nil {
		return zap.NewNop()
	}
	logger := builder.LoggerProvider()
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}

func (builder *CommandBuilder) resolveConfiguration() CommandConfiguration {
	if builder.ConfigurationProvider == nil {
		return CommandConfiguration{}
	}
	return builder.ConfigurationProvider()
}

func (builder *CommandBuilder) resolveHumanReadableLogging() bool {
	if builder.HumanReadableLoggingProvider == nil {
		return false
	}
	return builder.HumanReadableLoggingProvider()
}

func (builder *CommandBuilder) resolveHomeExpander() *pathutils.HomeExpander {
	if builder.HomeExpander == nil {
		return pathutils.NewHomeExpander()
	}
	return builder.HomeExpander
}

func (builder *CommandBuilder) resolveLister(logger *zap.Logger) (RepositoryLister, error) {
	if builder.Lister != nil {
		return builder.Lister, nil
	}
	executor, executorError := execshell.NewShellExecutor(logger, execshell.NewOSCommandRunner(), builder.resolveHumanReadableLogging())
	if executorError != nil {
		return nil, executorError
	}
	return githubcli.NewClient(executor)
}
