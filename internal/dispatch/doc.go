// Package dispatch queues repository migrations through the importer,
// starting at most one per pass and honoring a ceiling on concurrently
// active migrations.
package dispatch
