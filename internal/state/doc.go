// Package state implements the durable store at the heart of the migration
// coordinator: typed repository records and statuses, the exhaustive mapping
// from importer phases to statuses, atomic JSON persistence of the full state
// document, and the coalescing save scheduler that serializes every write
// through a single goroutine.
package state
