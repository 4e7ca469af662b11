// Package execshell provides structured helpers for invoking external tools.
//
// It wraps os/exec with logging via ShellExecutor, exposes OSCommandRunner for
// default process execution, and defines the abstractions caravan uses to run
// the gh and gei CLIs in a testable manner.
package execshell
