// Package geicli wraps the GitHub Enterprise Importer CLI for caravan.
//
// It issues gei migrate-repo invocations through execshell and parses the
// migration identifier the importer prints when it accepts a request.
package geicli
