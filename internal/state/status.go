package state

import "strings"

const (
	statusUnclassifiedStringConstant = "unclassified"
	statusNeedsSyncStringConstant    = "needs-sync"
	statusQueuedStringConstant       = "queued"
	statusMigratingStringConstant    = "migrating"
	statusInSyncStringConstant       = "in-sync"
	statusFailedStringConstant       = "failed"
	statusLostStringConstant         = "lost"
)

// Status enumerates the lifecycle states a tracked repository moves through.
type Status string

// Exported status constants for reuse across packages.
const (
	StatusUnclassified Status = Status(statusUnclassifiedStringConstant)
	StatusNeedsSync    Status = Status(statusNeedsSyncStringConstant)
	StatusQueued       Status = Status(statusQueuedStringConstant)
	StatusMigrating    Status = Status(statusMigratingStringConstant)
	StatusInSync       Status = Status(statusInSyncStringConstant)
	StatusFailed       Status = Status(statusFailedStringConstant)
	StatusLost         Status = Status(statusLostStringConstant)
)

var recognizedStatuses = map[Status]struct{}{
	StatusUnclassified: {},
	StatusNeedsSync:    {},
	StatusQueued:       {},
	StatusMigrating:    {},
	StatusInSync:       {},
	StatusFailed:       {},
	StatusLost:         {},
}

// ParseStatus validates a persisted status string against the recognized set.
func ParseStatus(candidateStatus string) (Status, bool) {
	parsedStatus := Status(candidateStatus)
	_, statusRecognized := recognizedStatuses[parsedStatus]
	return parsedStatus, statusRecognized
}

// AllStatuses returns every recognized status in lifecycle order.
func AllStatuses() []Status {
	return []Status{
		StatusUnclassified,
		StatusNeedsSync,
		StatusQueued,
		StatusMigrating,
		StatusInSync,
		StatusFailed,
		StatusLost,
	}
}

// IsActive reports whether the status represents a migration in flight.
func (status Status) IsActive() bool {
	return status == StatusQueued || status == StatusMigrating
}

// IsTerminal reports whether the status completes a migration attempt and
// therefore owns the ended-at bookkeeping.
func (status Status) IsTerminal() bool {
	return status == StatusInSync || status == StatusFailed
}

const (
	migrationPhasePendingStringConstant   = "pending"
	migrationPhaseQueuedStringConstant    = "queued"
	migrationPhaseExportingStringConstant = "exporting"
	migrationPhaseExportedStringConstant  = "exported"
	migrationPhaseImportingStringConstant = "importing"
	migrationPhaseImportedStringConstant  = "imported"
	migrationPhaseFailedStringConstant    = "failed"
)

// MigrationPhase identifies a phase string reported by the migration tooling.
type MigrationPhase string

// Exported migration phase constants covering the importer vocabulary.
const (
	MigrationPhasePending   MigrationPhase = MigrationPhase(migrationPhasePendingStringConstant)
	MigrationPhaseQueued    MigrationPhase = MigrationPhase(migrationPhaseQueuedStringConstant)
	MigrationPhaseExporting MigrationPhase = MigrationPhase(migrationPhaseExportingStringConstant)
	MigrationPhaseExported  MigrationPhase = MigrationPhase(migrationPhaseExportedStringConstant)
	MigrationPhaseImporting MigrationPhase = MigrationPhase(migrationPhaseImportingStringConstant)
	MigrationPhaseImported  MigrationPhase = MigrationPhase(migrationPhaseImportedStringConstant)
	MigrationPhaseFailed    MigrationPhase = MigrationPhase(migrationPhaseFailedStringConstant)
)

var migrationPhaseStatusMapping = map[MigrationPhase]Status{
	MigrationPhasePending:   StatusQueued,
	MigrationPhaseQueued:    StatusQueued,
	MigrationPhaseExporting: StatusMigrating,
	MigrationPhaseExported:  StatusMigrating,
	MigrationPhaseImporting: StatusMigrating,
	MigrationPhaseImported:  StatusInSync,
	MigrationPhaseFailed:    StatusFailed,
}

// StatusForMigrationPhase translates a tool-reported phase string into the
// internal status. Matching is case-insensitive. The boolean reports whether
// the phase was recognized; unrecognized phases are never stored and callers
// treat them the same as a migration the tooling no longer knows about.
func StatusForMigrationPhase(reportedPhase string) (Status, bool) {
	normalizedPhase := MigrationPhase(strings.ToLower(strings.TrimSpace(reportedPhase)))
	mappedStatus, phaseRecognized := migrationPhaseStatusMapping[normalizedPhase]
	return mappedStatus, phaseRecognized
}

const (
	visibilityPublicStringConstant   = "public"
	visibilityPrivateStringConstant  = "private"
	visibilityInternalStringConstant = "internal"
)

// Visibility enumerates repository visibility levels.
type Visibility string

// Exported visibility constants for reuse across packages.
const (
	VisibilityPublic   Visibility = Visibility(visibilityPublicStringConstant)
	VisibilityPrivate  Visibility = Visibility(visibilityPrivateStringConstant)
	VisibilityInternal Visibility = Visibility(visibilityInternalStringConstant)
)

var recognizedVisibilities = map[Visibility]struct{}{
	VisibilityPublic:   {},
	VisibilityPrivate:  {},
	VisibilityInternal: {},
}

// NormalizeVisibility lowercases the provided visibility and falls back to
// private for empty or unrecognized values.
func NormalizeVisibility(candidateVisibility string) Visibility {
	normalizedVisibility := Visibility(strings.ToLower(strings.TrimSpace(candidateVisibility)))
	if _, visibilityRecognized := recognizedVisibilities[normalizedVisibility]; visibilityRecognized {
		return normalizedVisibility
	}
	return VisibilityPrivate
}
