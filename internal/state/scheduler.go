package state

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	defaultSaveIntervalConstant = 10 * time.Second

	snapshotSourceNotConfiguredMessageConstant = "snapshot source is not configured"
	documentWriterNotConfiguredMessageConstant = "document writer is not configured"
	schedulerStoppedMessageConstant            = "save scheduler is stopped"

	saveFailedLogMessageConstant    = "state save failed"
	saveCompletedLogMessageConstant = "state saved"
	logFieldRepositoryCountConstant = "repository_count"
)

// Sentinel errors returned by the save scheduler.
var (
	ErrSnapshotSourceNotConfigured = errors.New(snapshotSourceNotConfiguredMessageConstant)
	ErrDocumentWriterNotConfigured = errors.New(documentWriterNotConfiguredMessageConstant)
	ErrSchedulerStopped            = errors.New(schedulerStoppedMessageConstant)
)

// SnapshotSource produces persistable documents and tracks whether mutations
// are pending. *Store satisfies it.
type SnapshotSource interface {
	Snapshot() StateDocument
	ConsumeDirty() bool
	MarkDirty()
}

// DocumentWriter persists state documents. *DocumentFile satisfies it.
type DocumentWriter interface {
	Write(document StateDocument) error
}

// SaveObserver is notified after every attempted state write with the write's
// error, nil on success.
type SaveObserver interface {
	SaveCompleted(saveError error)
}

// SaveSchedulerDependencies bundles the collaborators for NewSaveScheduler.
// The observer is optional.
type SaveSchedulerDependencies struct {
	Source       SnapshotSource
	Writer       DocumentWriter
	Logger       *zap.Logger
	SaveInterval time.Duration
	Observer     SaveObserver
}

// SaveScheduler owns the single goroutine allowed to write the state file.
// RequestSave coalesces bursts of requests into one write per interval; Flush
// forces an immediate write and surfaces its error; Close performs a final
// write before shutting the goroutine down. A failed background save keeps the
// store dirty so the next cycle retries.
type SaveScheduler struct {
	source       SnapshotSource
	writer       DocumentWriter
	logger       *zap.Logger
	observer     SaveObserver
	saveInterval time.Duration

	saveRequests  chan struct{}
	flushRequests chan chan error
	stopSignal    chan struct{}
	stopOnce      sync.Once
	loopFinished  chan struct{}
	closeError    error
}

// NewSaveScheduler validates the dependencies and constructs a scheduler. The
// goroutine starts on Start.
func NewSaveScheduler(dependencies SaveSchedulerDependencies) (*SaveScheduler, error) {
	if dependencies.Source == nil {
		return nil, ErrSnapshotSourceNotConfigured
	}
	if dependencies.Writer == nil {
		return nil, ErrDocumentWriterNotConfigured
	}

	schedulerLogger := dependencies.Logger
	if schedulerLogger == nil {
		schedulerLogger = zap.NewNop()
	}
	saveInterval := dependencies.SaveInterval
	if saveInterval <= 0 {
		saveInterval = defaultSaveIntervalConstant
	}

	return &SaveScheduler{
		source:        dependencies.Source,
		writer:        dependencies.Writer,
		logger:        schedulerLogger,
		observer:      dependencies.Observer,
		saveInterval:  saveInterval,
		saveRequests:  make(chan struct{}, 1),
		flushRequests: make(chan chan error),
		stopSignal:    make(chan struct{}),
		loopFinished:  make(chan struct{}),
	}, nil
}

// Start launches the scheduler goroutine.
func (scheduler *SaveScheduler) Start() {
	go scheduler.run()
}

// RequestSave records that state changed and a write should happen soon. It
// never blocks; any number of requests inside one interval coalesce into a
// single write.
func (scheduler *SaveScheduler) RequestSave() {
	select {
	case scheduler.saveRequests <- struct{}{}:
	default:
	}
}

// Flush forces an immediate write, waits for it to finish, and returns its
// error. The in-memory store stays authoritative when the write fails.
func (scheduler *SaveScheduler) Flush(flushContext context.Context) error {
	resultChannel := make(chan error, 1)
	select {
	case scheduler.flushRequests <- resultChannel:
	case <-scheduler.stopSignal:
		return ErrSchedulerStopped
	case <-flushContext.Done():
		return flushContext.Err()
	}

	select {
	case flushError := <-resultChannel:
		return flushError
	case <-flushContext.Done():
		return flushContext.Err()
	}
}

// Close performs a final save, stops the goroutine, and returns the final
// save's error when one occurred.
func (scheduler *SaveScheduler) Close(closeContext context.Context) error {
	scheduler.stopOnce.Do(func() { close(scheduler.stopSignal) })

	select {
	case <-scheduler.loopFinished:
		return scheduler.closeError
	case <-closeContext.Done():
		return closeContext.Err()
	}
}

func (scheduler *SaveScheduler) run() {
	defer close(scheduler.loopFinished)

	for {
		select {
		case <-scheduler.saveRequests:
			if finished := scheduler.debounce(); finished {
				return
			}
		case resultChannel := <-scheduler.flushRequests:
			resultChannel <- scheduler.performSave(true)
		case <-scheduler.stopSignal:
			scheduler.closeError = scheduler.performSave(true)
			return
		}
	}
}

// debounce waits out the save interval after the first request, absorbing any
// further requests, then writes once. Flush and stop cut the window short.
func (scheduler *SaveScheduler) debounce() bool {
	debounceTimer := time.NewTimer(scheduler.saveInterval)
	defer debounceTimer.Stop()

	for {
		select {
		case <-scheduler.saveRequests:
		case <-debounceTimer.C:
			scheduler.performSave(false)
			return false
		case resultChannel := <-scheduler.flushRequests:
			resultChannel <- scheduler.performSave(true)
			return false
		case <-scheduler.stopSignal:
			scheduler.closeError = scheduler.performSave(true)
			return true
		}
	}
}

func (scheduler *SaveScheduler) performSave(forcedSave bool) error {
	wasDirty := scheduler.source.ConsumeDirty()
	if !wasDirty && !forcedSave {
		return nil
	}

	stateDocument := scheduler.source.Snapshot()
	writeError := scheduler.writer.Write(stateDocument)
	if scheduler.observer != nil {
		scheduler.observer.SaveCompleted(writeError)
	}
	if writeError != nil {
		if wasDirty {
			scheduler.source.MarkDirty()
		}
		scheduler.logger.Error(saveFailedLogMessageConstant, zap.Error(writeError))
		return writeError
	}

	scheduler.logger.Debug(saveCompletedLogMessageConstant, zap.Int(logFieldRepositoryCountConstant, len(stateDocument.Repositories)))
	return nil
}
