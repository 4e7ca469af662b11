// Package progress polls the importer for the phase of every active
// migration, maps reported phases onto the repository lifecycle, and declares
// migrations lost once they stay unresolvable past a grace period.
package progress
