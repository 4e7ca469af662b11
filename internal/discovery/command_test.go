package discovery_test

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/temirov/caravan/internal/discovery"
	"github.com/temirov/caravan/internal/githubcli"
	"github.com/temirov/caravan/internal/state"
)

const (
	commandStateFileNameConstant       = "state.json"
	commandStateFileFlagConstant       = "--state-file"
	commandMigrationIdentifierConstant = "7"
)

func commandConfiguration(stateFilePath string) discovery.CommandConfiguration {
	labels := testLabels()
	return discovery.CommandConfiguration{
		Source:        labels.Source,
		Target:        labels.Target,
		StateFilePath: stateFilePath,
	}
}

func executeDiscoverCommand(testInstance *testing.T, builder discovery.CommandBuilder, argumentValues []string) (string, error) {
	testInstance.Helper()

	command, buildError := builder.Build()
	require.NoError(testInstance, buildError)

	var outputBuffer bytes.Buffer
	command.SetOut(&outputBuffer)
	command.SetErr(&outputBuffer)
	command.SetArgs(argumentValues)
	executionError := command.Execute()
	return outputBuffer.String(), executionError
}

func loadDocument(testInstance *testing.T, stateFilePath string) state.StateDocument {
	testInstance.Helper()

	documentFile, documentFileError := state.NewDocumentFile(stateFilePath)
	require.NoError(testInstance, documentFileError)
	document, documentFound, loadError := documentFile.Load()
	require.NoError(testInstance, loadError)
	require.True(testInstance, documentFound)
	return document
}

func TestDiscoverCommandSeedsStateFile(testInstance *testing.T) {
	stateFilePath := filepath.Join(testInstance.TempDir(), commandStateFileNameConstant)
	lister := &stubRepositoryLister{listings: []githubcli.RepositoryListing{
		{Name: testTrackedRepositoryNameConstant, Visibility: "private"},
		{Name: testPublicRepositoryNameConstant, Visibility: "public"},
	}}
	builder := discovery.CommandBuilder{
		ConfigurationProvider: func() discovery.CommandConfiguration { return commandConfiguration("") },
		Lister:                lister,
	}

	commandOutput, executionError := executeDiscoverCommand(testInstance, builder, []string{commandStateFileFlagConstant, stateFilePath})

	require.NoError(testInstance, executionError)
	require.Contains(testInstance, commandOutput, "Discovered 2 new repositories; 2 tracked in "+stateFilePath)
	require.Equal(testInstance, []string{testSourceHostConstant}, lister.recordedHosts)
	require.Equal(testInstance, []string{testSourceOrganizationConstant}, lister.recordedOrganizations)

	document := loadDocument(testInstance, stateFilePath)
	require.Equal(testInstance, testLabels().Source, document.Source)
	require.Equal(testInstance, testLabels().Target, document.Target)
	require.Len(testInstance, document.Repositories, 2)
	require.Equal(testInstance, state.StatusUnclassified, document.Repositories[testPublicRepositoryNameConstant].Status)
	require.Equal(testInstance, state.VisibilityPublic, document.Repositories[testPublicRepositoryNameConstant].Visibility)
}

func TestDiscoverCommandKeepsExistingRecords(testInstance *testing.T) {
	stateFilePath := filepath.Join(testInstance.TempDir(), commandStateFileNameConstant)
	documentFile, documentFileError := state.NewDocumentFile(stateFilePath)
	require.NoError(testInstance, documentFileError)
	labels := testLabels()
	require.NoError(testInstance, documentFile.Write(state.StateDocument{
		Version: state.DocumentVersion,
		Source:  labels.Source,
		Target:  labels.Target,
		Repositories: map[string]state.RepositoryRecord{
			testTrackedRepositoryNameConstant: {
				Name:                testTrackedRepositoryNameConstant,
				Status:              state.StatusQueued,
				MigrationIdentifier: commandMigrationIdentifierConstant,
			},
		},
	}))

	lister := &stubRepositoryLister{listings: []githubcli.RepositoryListing{
		{Name: testTrackedRepositoryNameConstant, Visibility: "private"},
		{Name: testPublicRepositoryNameConstant, Visibility: "public"},
	}}
	builder := discovery.CommandBuilder{
		ConfigurationProvider: func() discovery.CommandConfiguration { return commandConfiguration(stateFilePath) },
		Lister:                lister,
	}

	commandOutput, executionError := executeDiscoverCommand(testInstance, builder, nil)

	require.NoError(testInstance, executionError)
	require.Contains(testInstance, commandOutput, "Discovered 1 new repositories; 2 tracked")

	document := loadDocument(testInstance, stateFilePath)
	require.Len(testInstance, document.Repositories, 2)
	trackedRecord := document.Repositories[testTrackedRepositoryNameConstant]
	require.Equal(testInstance, state.StatusQueued, trackedRecord.Status)
	require.Equal(testInstance, commandMigrationIdentifierConstant, trackedRecord.MigrationIdentifier)
}

func TestDiscoverCommandRequiresSourceOrganization(testInstance *testing.T) {
	builder := discovery.CommandBuilder{
		ConfigurationProvider: func() discovery.CommandConfiguration { return discovery.CommandConfiguration{} },
		Lister:                &stubRepositoryLister{},
	}

	_, executionError := executeDiscoverCommand(testInstance, builder, nil)

	require.Error(testInstance, executionError)
	require.Contains(testInstance, executionError.Error(), "source organization is not configured")
}

func TestDiscoverCommandRequiresStateFilePath(testInstance *testing.T) {
	builder := discovery.CommandBuilder{
		ConfigurationProvider: func() discovery.CommandConfiguration { return commandConfiguration("") },
		Lister:                &stubRepositoryLister{},
	}

	_, executionError := executeDiscoverCommand(testInstance, builder, nil)

	require.Error(testInstance, executionError)
	require.Contains(testInstance, executionError.Error(), "state file path is not configured")
}
