// Package coordinator owns the migration lifecycle: restoring and seeding
// the state store, running the reconcile, dispatch, and progress loops,
// serving the HTTP API, and the manual retry action for failed repositories.
package coordinator
