package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

const (
	// DocumentVersion is the schema version written into every state file.
	DocumentVersion = 1

	stateFilePermissionsConstant      = 0o644
	stateDirectoryPermissionsConstant = 0o755
	temporaryFileSuffixConstant       = ".tmp"

	stateFilePathMissingMessageConstant        = "state file path is not configured"
	readStateFileErrorTemplateConstant         = "unable to read state file: %w"
	decodeStateDocumentErrorTemplateConstant   = "unable to decode state document: %w"
	encodeStateDocumentErrorTemplateConstant   = "unable to encode state document: %w"
	createStateDirectoryErrorTemplateConstant  = "unable to create state directory: %w"
	writeTemporaryFileErrorTemplateConstant    = "unable to write temporary state file: %w"
	replaceStateFileErrorTemplateConstant      = "unable to replace state file: %w"
	unsupportedVersionErrorTemplateConstant    = "unsupported state document version %d"
	unrecognizedStatusErrorTemplateConstant    = "state document carries unrecognized status %q for repository %q"
	missingRepositoryNameErrorTemplateConstant = "state document carries an entry without a repository name"
)

// ErrStateFilePathMissing reports document files constructed without a path.
var ErrStateFilePathMissing = errors.New(stateFilePathMissingMessageConstant)

// StateDocument is the persisted form of the store: a schema version, the
// organization coordinates, and the full record mapping keyed by name.
type StateDocument struct {
	Version      int                         `json:"version"`
	Source       OrganizationCoordinates     `json:"source"`
	Target       OrganizationCoordinates     `json:"target"`
	Repositories map[string]RepositoryRecord `json:"repositories"`
}

// Snapshot captures the store content as a persistable document.
func (store *Store) Snapshot() StateDocument {
	store.stateMutex.RLock()
	defer store.stateMutex.RUnlock()

	snapshotRepositories := make(map[string]RepositoryRecord, len(store.records))
	for repositoryName, storedRecord := range store.records {
		snapshotRepositories[repositoryName] = storedRecord.Clone()
	}
	return StateDocument{
		Version:      DocumentVersion,
		Source:       store.labels.Source,
		Target:       store.labels.Target,
		Repositories: snapshotRepositories,
	}
}

// RestoreSnapshot replaces the store content with the document records. The
// configured labels win over the persisted ones; statuses must parse into the
// recognized set. A restored store starts clean.
func (store *Store) RestoreSnapshot(document StateDocument) error {
	if document.Version != DocumentVersion {
		return fmt.Errorf(unsupportedVersionErrorTemplateConstant, document.Version)
	}

	restoredRecords := make(map[string]*RepositoryRecord, len(document.Repositories))
	for repositoryName, documentRecord := range document.Repositories {
		if len(documentRecord.Name) == 0 {
			documentRecord.Name = repositoryName
		}
		if len(documentRecord.Name) == 0 {
			return errors.New(missingRepositoryNameErrorTemplateConstant)
		}
		if _, statusRecognized := ParseStatus(string(documentRecord.Status)); !statusRecognized {
			return fmt.Errorf(unrecognizedStatusErrorTemplateConstant, documentRecord.Status, documentRecord.Name)
		}
		documentRecord.Visibility = NormalizeVisibility(string(documentRecord.Visibility))
		restoredRecord := documentRecord.Clone()
		restoredRecords[documentRecord.Name] = &restoredRecord
	}

	store.stateMutex.Lock()
	defer store.stateMutex.Unlock()
	store.records = restoredRecords
	store.dirty = false
	return nil
}

// DocumentFile reads and writes state documents at a fixed filesystem path.
// Writes are atomic: the document lands in a sibling temporary file which is
// renamed over the destination.
type DocumentFile struct {
	filePath string
}

// NewDocumentFile constructs a document file for the provided path.
func NewDocumentFile(filePath string) (*DocumentFile, error) {
	if len(filePath) == 0 {
		return nil, ErrStateFilePathMissing
	}
	return &DocumentFile{filePath: filePath}, nil
}

// Path returns the configured state file location.
func (documentFile *DocumentFile) Path() string {
	return documentFile.filePath
}

// Load reads the persisted document. A missing file is not an error; the
// boolean reports whether a document was found.
func (documentFile *DocumentFile) Load() (StateDocument, bool, error) {
	documentBytes, readError := os.ReadFile(documentFile.filePath)
	if readError != nil {
		if errors.Is(readError, fs.ErrNotExist) {
			return StateDocument{}, false, nil
		}
		return StateDocument{}, false, fmt.Errorf(readStateFileErrorTemplateConstant, readError)
	}

	var loadedDocument StateDocument
	if decodeError := json.Unmarshal(documentBytes, &loadedDocument); decodeError != nil {
		return StateDocument{}, false, fmt.Errorf(decodeStateDocumentErrorTemplateConstant, decodeError)
	}
	return loadedDocument, true, nil
}

// Write persists the document atomically.
func (documentFile *DocumentFile) Write(document StateDocument) error {
	documentBytes, encodeError := json.MarshalIndent(document, "", "  ")
	if encodeError != nil {
		return fmt.Errorf(encodeStateDocumentErrorTemplateConstant, encodeError)
	}

	stateDirectory := filepath.Dir(documentFile.filePath)
	if directoryError := os.MkdirAll(stateDirectory, stateDirectoryPermissionsConstant); directoryError != nil {
		return fmt.Errorf(createStateDirectoryErrorTemplateConstant, directoryError)
	}

	temporaryFilePath := documentFile.filePath + temporaryFileSuffixConstant
	if writeError := os.WriteFile(temporaryFilePath, documentBytes, stateFilePermissionsConstant); writeError != nil {
		return fmt.Errorf(writeTemporaryFileErrorTemplateConstant, writeError)
	}
	if renameError := os.Rename(temporaryFilePath, documentFile.filePath); renameError != nil {
		return fmt.Errorf(replaceStateFileErrorTemplateConstant, renameError)
	}
	return nil
}
