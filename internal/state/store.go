package state

import (
	"sort"
	"sync"
	"time"
)

// OrganizationCoordinates identifies one side of the migration by host and
// organization name.
type OrganizationCoordinates struct {
	Host         string `json:"host"`
	Organization string `json:"organization"`
}

// Labels identify the source and target organizations a store tracks. They are
// persisted alongside the records so the state file is self-describing.
type Labels struct {
	Source OrganizationCoordinates `json:"source"`
	Target OrganizationCoordinates `json:"target"`
}

// Store holds the in-memory repository records behind a mutex. All accessors
// operate on deep copies; the only way to mutate stored state is through
// Upsert and SetStatus, which also maintain the dirty flag consumed by the
// save scheduler.
type Store struct {
	stateMutex sync.RWMutex
	clock      Clock
	labels     Labels
	records    map[string]*RepositoryRecord
	dirty      bool
}

// NewStore constructs an empty store for the provided organizations. A nil
// clock falls back to the system clock.
func NewStore(clock Clock, labels Labels) *Store {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Store{
		clock:   clock,
		labels:  labels,
		records: map[string]*RepositoryRecord{},
	}
}

// Labels returns the organization coordinates the store was created with.
func (store *Store) Labels() Labels {
	return store.labels
}

// Get returns a copy of the named record when present.
func (store *Store) Get(repositoryName string) (RepositoryRecord, bool) {
	store.stateMutex.RLock()
	defer store.stateMutex.RUnlock()

	storedRecord, recordExists := store.records[repositoryName]
	if !recordExists {
		return RepositoryRecord{}, false
	}
	return storedRecord.Clone(), true
}

// Upsert creates the named record with defaults (private visibility,
// unclassified status) when absent and applies the non-nil update fields,
// stamping lastUpdate and marking the store dirty. Status is never touched.
func (store *Store) Upsert(update RecordUpdate) RepositoryRecord {
	if len(update.Name) == 0 {
		return RepositoryRecord{}
	}

	store.stateMutex.Lock()
	defer store.stateMutex.Unlock()

	storedRecord, recordExists := store.records[update.Name]
	if !recordExists {
		storedRecord = &RepositoryRecord{
			Name:       update.Name,
			Visibility: VisibilityPrivate,
			Status:     StatusUnclassified,
		}
		store.records[update.Name] = storedRecord
	}

	if update.Visibility != nil {
		storedRecord.Visibility = *update.Visibility
	}
	if update.LastChecked != nil {
		storedRecord.LastChecked = cloneTime(update.LastChecked)
	}
	if update.LastPushed != nil {
		storedRecord.LastPushed = cloneTime(update.LastPushed)
	}
	if update.LastPolledAt != nil {
		storedRecord.LastPolledAt = cloneTime(update.LastPolledAt)
	}

	updateTimestamp := store.clock.Now()
	storedRecord.LastUpdate = &updateTimestamp
	store.dirty = true

	return storedRecord.Clone()
}

// SetStatus transitions the named record to the requested status. It is a
// no-op, returning false, when the record is absent or already carries the
// requested status. The first transition into an active status stamps
// startedAt (and queuedAt for queued); the first transition into a terminal
// status stamps endedAt and derives elapsedSeconds exactly once. Duplicate
// terminal transitions never recompute either value.
func (store *Store) SetStatus(repositoryName string, nextStatus Status, details StatusDetails) (RepositoryRecord, bool) {
	store.stateMutex.Lock()
	defer store.stateMutex.Unlock()

	storedRecord, recordExists := store.records[repositoryName]
	if !recordExists {
		return RepositoryRecord{}, false
	}
	if storedRecord.Status == nextStatus {
		return storedRecord.Clone(), false
	}

	if details.ClearMigrationState {
		storedRecord.MigrationIdentifier = ""
		storedRecord.ErrorMessage = ""
		storedRecord.QueuedAt = nil
		storedRecord.StartedAt = nil
		storedRecord.EndedAt = nil
		storedRecord.ElapsedSeconds = nil
	}
	if details.MigrationIdentifier != nil {
		storedRecord.MigrationIdentifier = *details.MigrationIdentifier
	}
	if details.ErrorMessage != nil {
		storedRecord.ErrorMessage = *details.ErrorMessage
	}

	transitionTimestamp := store.clock.Now()
	if nextStatus.IsActive() {
		if nextStatus == StatusQueued && storedRecord.QueuedAt == nil {
			queuedTimestamp := transitionTimestamp
			storedRecord.QueuedAt = &queuedTimestamp
		}
		if storedRecord.StartedAt == nil {
			startedTimestamp := transitionTimestamp
			storedRecord.StartedAt = &startedTimestamp
		}
	}
	if nextStatus.IsTerminal() && storedRecord.EndedAt == nil {
		endedTimestamp := transitionTimestamp
		storedRecord.EndedAt = &endedTimestamp
		if storedRecord.StartedAt != nil {
			elapsedSeconds := int64(endedTimestamp.Sub(*storedRecord.StartedAt).Round(time.Second).Seconds())
			storedRecord.ElapsedSeconds = &elapsedSeconds
		}
	}

	storedRecord.Status = nextStatus
	storedRecord.LastUpdate = &transitionTimestamp
	store.dirty = true

	return storedRecord.Clone(), true
}

// ListAll returns copies of every record ordered by repository name.
func (store *Store) ListAll() []RepositoryRecord {
	store.stateMutex.RLock()
	defer store.stateMutex.RUnlock()
	return store.sortedCopiesLocked(func(RepositoryRecord) bool { return true })
}

// ListActive returns copies of the records whose status is queued or
// migrating, ordered by repository name.
func (store *Store) ListActive() []RepositoryRecord {
	store.stateMutex.RLock()
	defer store.stateMutex.RUnlock()
	return store.sortedCopiesLocked(func(candidate RepositoryRecord) bool { return candidate.Status.IsActive() })
}

// CountActive returns the number of records whose status is queued or
// migrating.
func (store *Store) CountActive() int {
	store.stateMutex.RLock()
	defer store.stateMutex.RUnlock()

	activeCount := 0
	for _, storedRecord := range store.records {
		if storedRecord.Status.IsActive() {
			activeCount++
		}
	}
	return activeCount
}

// FirstWithStatus returns the first record, in name order, carrying the
// requested status.
func (store *Store) FirstWithStatus(requestedStatus Status) (RepositoryRecord, bool) {
	store.stateMutex.RLock()
	defer store.stateMutex.RUnlock()

	matchingRecords := store.sortedCopiesLocked(func(candidate RepositoryRecord) bool { return candidate.Status == requestedStatus })
	if len(matchingRecords) == 0 {
		return RepositoryRecord{}, false
	}
	return matchingRecords[0], true
}

// CountsByStatus tallies records per status.
func (store *Store) CountsByStatus() map[Status]int {
	store.stateMutex.RLock()
	defer store.stateMutex.RUnlock()

	statusCounts := map[Status]int{}
	for _, storedRecord := range store.records {
		statusCounts[storedRecord.Status]++
	}
	return statusCounts
}

// ConsumeDirty reports whether mutations occurred since the last checkpoint
// and clears the flag.
func (store *Store) ConsumeDirty() bool {
	store.stateMutex.Lock()
	defer store.stateMutex.Unlock()

	wasDirty := store.dirty
	store.dirty = false
	return wasDirty
}

// MarkDirty flags the store as needing persistence, used when a save attempt
// fails after the flag was consumed.
func (store *Store) MarkDirty() {
	store.stateMutex.Lock()
	defer store.stateMutex.Unlock()
	store.dirty = true
}

func (store *Store) sortedCopiesLocked(includeRecord func(RepositoryRecord) bool) []RepositoryRecord {
	copiedRecords := make([]RepositoryRecord, 0, len(store.records))
	for _, storedRecord := range store.records {
		if includeRecord(*storedRecord) {
			copiedRecords = append(copiedRecords, storedRecord.Clone())
		}
	}
	sort.Slice(copiedRecords, func(firstIndex int, secondIndex int) bool {
		return copiedRecords[firstIndex].Name < copiedRecords[secondIndex].Name
	})
	return copiedRecords
}
