package report

import (
	"errors"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/temirov/caravan/internal/state"
	pathutils "github.com/temirov/caravan/internal/utils/path"
)

const (
	commandUseConstant              = "status"
	commandShortDescriptionConstant = "Print the tracked migration state"
	commandLongDescriptionConstant  = "status loads the migration state file and prints per-status counts with a per-repository table. It never contacts GitHub and needs no running coordinator."
	stateFileNotConfiguredMessage   = "state file path is not configured"
)

// LoggerProvider supplies a zap logger for command execution.
type LoggerProvider func() *zap.Logger

// CommandConfiguration carries the settings consumed by the status command.
type CommandConfiguration struct {
	StateFilePath string
}

// ConfigurationProvider supplies the resolved command configuration.
type ConfigurationProvider func() CommandConfiguration

// CommandBuilder assembles the status cobra command.
type CommandBuilder struct {
	LoggerProvider        LoggerProvider
	ConfigurationProvider ConfigurationProvider
	HomeExpander          *pathutils.HomeExpander
}

// Build constructs the cobra command for the migration state report.
func (builder *CommandBuilder) Build() (*cobra.Command, error) {
	command := &cobra.Command{
		Use:   commandUseConstant,
		Short: commandShortDescriptionConstant,
		Long:  commandLongDescriptionConstant,
		Args:  cobra.NoArgs,
		RunE:  builder.run,
	}
	return command, nil
}

func (builder *CommandBuilder) run(command *cobra.Command, _ []string) error {
	configuration := builder.resolveConfiguration()
	stateFilePath := strings.TrimSpace(configuration.StateFilePath)
	if len(stateFilePath) == 0 {
		return errors.New(stateFileNotConfiguredMessage)
	}

	documentFile, documentFileError := state.NewDocumentFile(builder.resolveHomeExpander().Expand(stateFilePath))
	if documentFileError != nil {
		return documentFileError
	}

	service, serviceError := NewService(ServiceDependencies{
		Logger: builder.resolveLogger(),
		Loader: documentFile,
		Output: command.OutOrStdout(),
	})
	if serviceError != nil {
		return serviceError
	}
	return service.Run()
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

func (builder *CommandBuilder) resolveHomeExpander() *pathutils.HomeExpander {
	if builder.HomeExpander == nil {
		return pathutils.NewHomeExpander()
	}
	return builder.HomeExpander
}
