// Package reconcile classifies tracked repositories as needing a sync or
// being in sync by comparing source and target last-push timestamps, batching
// the stalest records each pass.
package reconcile
