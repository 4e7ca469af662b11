package server_test

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/temirov/caravan/internal/coordinator"
	"github.com/temirov/caravan/internal/server"
)

const (
	assumeYesFlagArgumentConstant = "--yes"
	unreachableAddressConstant    = "127.0.0.1:9999"
	affirmativeInputConstant      = "y\n"
	negativeInputConstant         = "n\n"
)

type stubRetryClient struct {
	reachable     bool
	retryError    error
	recordedNames []string
}

func (client *stubRetryClient) IsReachable(_ context.Context) bool { return client.reachable }

func (client *stubRetryClient) Retry(_ context.Context, repositoryName string) error {
	client.recordedNames = append(client.recordedNames, repositoryName)
	return client.retryError
}

func executeRetryCommand(testInstance *testing.T, builder *server.RetryCommandBuilder, argumentValues []string, standardInput string) (string, error) {
	testInstance.Helper()

	command, buildError := builder.Build()
	require.NoError(testInstance, buildError)

	var outputBuffer bytes.Buffer
	command.SetOut(&outputBuffer)
	command.SetErr(&outputBuffer)
	command.SetIn(strings.NewReader(standardInput))
	command.SetArgs(argumentValues)
	executionError := command.Execute()
	return outputBuffer.String(), executionError
}

func TestRetryCommandRequeuesWithAssumeYes(testInstance *testing.T) {
	client := &stubRetryClient{reachable: true}
	builder := &server.RetryCommandBuilder{Client: client}

	commandOutput, executionError := executeRetryCommand(testInstance, builder, []string{assumeYesFlagArgumentConstant, retriedRepositoryNameConstant}, "")

	require.NoError(testInstance, executionError)
	require.NotContains(testInstance, commandOutput, "Retry migration for")
	require.Contains(testInstance, commandOutput, "Retry accepted for "+retriedRepositoryNameConstant)
	require.Equal(testInstance, []string{retriedRepositoryNameConstant}, client.recordedNames)
}

func TestRetryCommandPromptsBeforePosting(testInstance *testing.T) {
	client := &stubRetryClient{reachable: true}
	builder := &server.RetryCommandBuilder{Client: client}

	commandOutput, executionError := executeRetryCommand(testInstance, builder, []string{retriedRepositoryNameConstant}, affirmativeInputConstant)

	require.NoError(testInstance, executionError)
	require.Contains(testInstance, commandOutput, "Retry migration for "+retriedRepositoryNameConstant)
	require.Contains(testInstance, commandOutput, "Retry accepted for "+retriedRepositoryNameConstant)
	require.Equal(testInstance, []string{retriedRepositoryNameConstant}, client.recordedNames)
}

func TestRetryCommandAbortsWhenDeclined(testInstance *testing.T) {
	client := &stubRetryClient{reachable: true}
	builder := &server.RetryCommandBuilder{Client: client}

	commandOutput, executionError := executeRetryCommand(testInstance, builder, []string{retriedRepositoryNameConstant}, negativeInputConstant)

	require.NoError(testInstance, executionError)
	require.Contains(testInstance, commandOutput, "Retry aborted.")
	require.Empty(testInstance, client.recordedNames)
}

func TestRetryCommandReportsUnreachableCoordinator(testInstance *testing.T) {
	builder := &server.RetryCommandBuilder{
		ConfigurationProvider: func() server.RetryCommandConfiguration {
			return server.RetryCommandConfiguration{Address: unreachableAddressConstant}
		},
		Client: &stubRetryClient{reachable: false},
	}

	_, executionError := executeRetryCommand(testInstance, builder, []string{assumeYesFlagArgumentConstant, retriedRepositoryNameConstant}, "")

	require.Error(testInstance, executionError)
	require.Contains(testInstance, executionError.Error(), unreachableAddressConstant)
	require.Contains(testInstance, executionError.Error(), "caravan serve")
}

func TestRetryCommandPropagatesRejection(testInstance *testing.T) {
	client := &stubRetryClient{
		reachable:  true,
		retryError: fmt.Errorf("%s is queued: %w", retriedRepositoryNameConstant, coordinator.ErrRetryNotAllowed),
	}
	builder := &server.RetryCommandBuilder{Client: client}

	_, executionError := executeRetryCommand(testInstance, builder, []string{assumeYesFlagArgumentConstant, retriedRepositoryNameConstant}, "")

	require.ErrorIs(testInstance, executionError, coordinator.ErrRetryNotAllowed)
}
