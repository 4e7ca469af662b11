// Package report renders read-only summaries of the migration state file.
// It backs the status command: per-status counts plus an aligned table of
// every tracked repository.
package report
