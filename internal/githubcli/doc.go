// Package githubcli wraps the GitHub CLI for caravan workflows.
//
// It layers typed request and response structures over gh subcommands, exposes
// interfaces consumed by the discovery, reconciliation, and progress services,
// and integrates with execshell so interactions with GitHub hosts can be
// substituted during testing.
package githubcli
