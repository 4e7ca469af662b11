package state

import "time"

// RepositoryRecord captures everything the coordinator knows about one
// repository in the source organization. Name is the unique key; optional
// timestamps are nil until the corresponding event has been observed.
type RepositoryRecord struct {
	Name                string     `json:"name"`
	Visibility          Visibility `json:"visibility"`
	Status              Status     `json:"status"`
	MigrationIdentifier string     `json:"migrationId,omitempty"`
	QueuedAt            *time.Time `json:"queuedAt,omitempty"`
	StartedAt           *time.Time `json:"startedAt,omitempty"`
	EndedAt             *time.Time `json:"endedAt,omitempty"`
	LastChecked         *time.Time `json:"lastChecked,omitempty"`
	LastPushed          *time.Time `json:"lastPushed,omitempty"`
	LastUpdate          *time.Time `json:"lastUpdate,omitempty"`
	LastPolledAt        *time.Time `json:"lastPolledAt,omitempty"`
	ErrorMessage        string     `json:"errorMessage,omitempty"`
	ElapsedSeconds      *int64     `json:"elapsedSeconds,omitempty"`
}

// Clone returns a deep copy so callers can never mutate stored state through
// shared pointers.
func (record RepositoryRecord) Clone() RepositoryRecord {
	clonedRecord := record
	clonedRecord.QueuedAt = cloneTime(record.QueuedAt)
	clonedRecord.StartedAt = cloneTime(record.StartedAt)
	clonedRecord.EndedAt = cloneTime(record.EndedAt)
	clonedRecord.LastChecked = cloneTime(record.LastChecked)
	clonedRecord.LastPushed = cloneTime(record.LastPushed)
	clonedRecord.LastUpdate = cloneTime(record.LastUpdate)
	clonedRecord.LastPolledAt = cloneTime(record.LastPolledAt)
	clonedRecord.ElapsedSeconds = cloneInt64(record.ElapsedSeconds)
	return clonedRecord
}

// RecordUpdate describes an upsert: only non-nil fields are applied. Status is
// deliberately absent; all status transitions flow through SetStatus so the
// transition bookkeeping cannot be bypassed.
type RecordUpdate struct {
	Name         string
	Visibility   *Visibility
	LastChecked  *time.Time
	LastPushed   *time.Time
	LastPolledAt *time.Time
}

// StatusDetails carries optional companion data for a status transition.
// ClearMigrationState wipes the migration identifier, error message, and
// timing fields before the transition applies; retry and lost-record
// reclassification use it so a fresh attempt owns its own bookkeeping.
type StatusDetails struct {
	MigrationIdentifier *string
	ErrorMessage        *string
	ClearMigrationState bool
}

func cloneTime(original *time.Time) *time.Time {
	if original == nil {
		return nil
	}
	clonedValue := *original
	return &clonedValue
}

func cloneInt64(original *int64) *int64 {
	if original == nil {
		return nil
	}
	clonedValue := *original
	return &clonedValue
}
