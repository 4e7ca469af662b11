// Package discovery seeds the migration state by listing the repositories of
// the source organization and registering every repository that is not yet
// tracked.
package discovery
