// Package worker provides the timer loop shared by the caravan background
// services. Loops run a TickHandler on a base interval, accept kick requests
// for immediate passes, and let handlers shorten the delay before the next
// pass when there is more work to do.
package worker
