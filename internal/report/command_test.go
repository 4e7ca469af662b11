package report_test

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/temirov/caravan/internal/report"
	"github.com/temirov/caravan/internal/state"
	pathutils "github.com/temirov/caravan/internal/utils/path"
)

const (
	stateFileNameConstant             = "state.json"
	homeRelativeStateFilePathConstant = "~/" + stateFileNameConstant
)

func writeStateFixture(testInstance *testing.T, stateFilePath string) {
	testInstance.Helper()

	documentFile, documentFileError := state.NewDocumentFile(stateFilePath)
	require.NoError(testInstance, documentFileError)
	document := testDocument(map[string]state.RepositoryRecord{
		syncedRepositoryNameConstant: {Name: syncedRepositoryNameConstant, Status: state.StatusInSync},
	})
	require.NoError(testInstance, documentFile.Write(document))
}

func executeStatusCommand(testInstance *testing.T, builder report.CommandBuilder) (string, error) {
	testInstance.Helper()

	command, buildError := builder.Build()
	require.NoError(testInstance, buildError)

	var outputBuffer bytes.Buffer
	command.SetOut(&outputBuffer)
	command.SetErr(&outputBuffer)
	command.SetArgs(nil)
	executionError := command.Execute()
	return outputBuffer.String(), executionError
}

func TestStatusCommandRendersStateFile(testInstance *testing.T) {
	stateFilePath := filepath.Join(testInstance.TempDir(), stateFileNameConstant)
	writeStateFixture(testInstance, stateFilePath)

	builder := report.CommandBuilder{
		ConfigurationProvider: func() report.CommandConfiguration {
			return report.CommandConfiguration{StateFilePath: stateFilePath}
		},
	}

	commandOutput, executionError := executeStatusCommand(testInstance, builder)

	require.NoError(testInstance, executionError)
	require.Contains(testInstance, commandOutput, syncedRepositoryNameConstant)
	require.Contains(testInstance, commandOutput, "Repositories: 1")
}

func TestStatusCommandExpandsHomeRelativePaths(testInstance *testing.T) {
	temporaryHome := testInstance.TempDir()
	writeStateFixture(testInstance, filepath.Join(temporaryHome, stateFileNameConstant))

	builder := report.CommandBuilder{
		ConfigurationProvider: func() report.CommandConfiguration {
			return report.CommandConfiguration{StateFilePath: homeRelativeStateFilePathConstant}
		},
		HomeExpander: pathutils.NewHomeExpanderWithProvider(func() (string, error) {
			return temporaryHome, nil
		}),
	}

	commandOutput, executionError := executeStatusCommand(testInstance, builder)

	require.NoError(testInstance, executionError)
	require.Contains(testInstance, commandOutput, syncedRepositoryNameConstant)
}

func TestStatusCommandRequiresStateFilePath(testInstance *testing.T) {
	builder := report.CommandBuilder{
		ConfigurationProvider: func() report.CommandConfiguration {
			return report.CommandConfiguration{}
		},
	}

	_, executionError := executeStatusCommand(testInstance, builder)

	require.Error(testInstance, executionError)
	require.Contains(testInstance, executionError.Error(), "state file path is not configured")
}
