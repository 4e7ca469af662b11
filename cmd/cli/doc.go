// Package cli constructs the caravan command-line interface, wiring the
// Cobra command hierarchy, configuration loader, and structured logging
// primitives. The serve command assembles the full migration coordinator;
// status, discover, and retry operate on a running daemon or its state file.
package cli
