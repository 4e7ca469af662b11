// Package flags provides helpers for binding standardized flags to Cobra commands.
package flags

const (
	// AssumeYesFlagName exposes the shared assume-yes flag name.
	AssumeYesFlagName = "yes"
	// AssumeYesFlagShorthand provides the shorthand for the assume-yes flag.
	AssumeYesFlagShorthand = "y"
	// AssumeYesFlagUsage describes the shared assume-yes flag purpose.
	AssumeYesFlagUsage = "Automatically confirm prompts"
	// StateFileFlagName exposes the shared state file flag name.
	StateFileFlagName = "state-file"
	// StateFileFlagUsage describes the shared state file flag purpose.
	StateFileFlagUsage = "Path to the migration state file"
	// AddressFlagName exposes the shared coordinator address flag name.
	AddressFlagName = "address"
	// AddressFlagUsage describes the shared coordinator address flag purpose.
	AddressFlagUsage = "Coordinator API listen address"
)
