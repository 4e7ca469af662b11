package server

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	flagutils "github.com/temirov/caravan/internal/utils/flags"
)

const (
	retryCommandUseConstant                 = "retry <repository>"
	retryCommandShortDescriptionConstant    = "Requeue a failed repository migration"
	retryCommandLongDescriptionConstant     = "retry asks the running coordinator to move a failed repository back into the queue. The target organization's copy is deleted before the migration is attempted again."
	repositoryNameRequiredMessageConstant   = "repository name is required"
	coordinatorUnreachableTemplateConstant  = "coordinator is not reachable at %s; start it with caravan serve"
	retryConfirmationPromptTemplateConstant = "Retry migration for %s? The target organization's copy is deleted before requeueing. [y/N]: "
	retryAbortedMessageConstant             = "Retry aborted.\n"
	retryAcceptedTemplateConstant           = "Retry accepted for %s.\n"
)

// RetryCommandConfiguration carries the settings consumed by the retry command.
type RetryCommandConfiguration struct {
	Address string
}

// RetryConfigurationProvider supplies the resolved retry command configuration.
type RetryConfigurationProvider func() RetryCommandConfiguration

// RetryClient reaches a running coordinator. *APIClient satisfies it.
type RetryClient interface {
	IsReachable(executionContext context.Context) bool
	Retry(executionContext context.Context, repositoryName string) error
}

// RetryCommandBuilder assembles the retry cobra command. Client and Prompter
// may be injected for tests.
type RetryCommandBuilder struct {
	ConfigurationProvider RetryConfigurationProvider
	Client                RetryClient
	Prompter              ConfirmationPrompter
	assumeYesFlagValue    bool
}

// Build constructs the cobra command that requeues a failed repository.
func (builder *RetryCommandBuilder) Build() (*cobra.Command, error) {
	command := &cobra.Command{
		Use:   retryCommandUseConstant,
		Short: retryCommandShortDescriptionConstant,
		Long:  retryCommandLongDescriptionConstant,
		Args:  cobra.ExactArgs(1),
		RunE:  builder.run,
	}
	flagutils.AddToggleFlag(command.Flags(), &builder.assumeYesFlagValue, flagutils.AssumeYesFlagName, flagutils.AssumeYesFlagShorthand, false, flagutils.AssumeYesFlagUsage)
	return command, nil
}

func (builder *RetryCommandBuilder) run(command *cobra.Command, arguments []string) error {
	repositoryName := strings.TrimSpace(arguments[0])
	if len(repositoryName) == 0 {
		return errors.New(repositoryNameRequiredMessageConstant)
	}

	configuration := builder.resolveConfiguration()
	listenAddress := strings.TrimSpace(configuration.Address)
	if len(listenAddress) == 0 {
		listenAddress = DefaultListenAddressConstant
	}

	if !builder.assumeYesFlagValue {
		confirmed, confirmError := builder.resolvePrompter(command).Confirm(fmt.Sprintf(retryConfirmationPromptTemplateConstant, repositoryName))
		if confirmError != nil {
			return confirmError
		}
		if !confirmed {
			fmt.Fprint(command.OutOrStdout(), retryAbortedMessageConstant)
			return nil
		}
	}

	client := builder.resolveClient(listenAddress)
	if !client.IsReachable(command.Context()) {
		return fmt.Errorf(coordinatorUnreachableTemplateConstant, listenAddress)
	}
	if retryError := client.Retry(command.Context(), repositoryName); retryError != nil {
		return retryError
	}

	fmt.Fprintf(command.OutOrStdout(), retryAcceptedTemplateConstant, repositoryName)
	return nil
}

func (builder *RetryCommandBuilder) resolveConfiguration() RetryCommandConfiguration {
	if builder.ConfigurationProvider == nil {
		return RetryCommandConfiguration{}
	}
	return builder.ConfigurationProvider()
}

func (builder *RetryCommandBuilder) resolveClient(listenAddress string) RetryClient {
	if builder.Client != nil {
		return builder.Client
	}
	return NewAPIClient(listenAddress, 0)
}

func (builder *RetryCommandBuilder) resolvePrompter(command *cobra.Command) ConfirmationPrompter {
	if builder.Prompter != nil {
		return builder.Prompter
	}
	return NewIOConfirmationPrompter(command.InOrStdin(), command.OutOrStdout())
}
