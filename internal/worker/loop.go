package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	defaultTaskNameConstant         = "worker"
	defaultBaseIntervalConstant     = time.Minute
	tickFailureLogMessageConstant   = "task tick failed"
	taskNameLogFieldNameConstant    = "task"
	handlerNotConfiguredMessage     = "tick handler not configured"
	loopLoggerNotConfiguredMessage  = "logger not configured"
	kickRequestBufferLengthConstant = 1
)

// ErrTickHandlerNotConfigured indicates the loop was constructed without a handler.
var ErrTickHandlerNotConfigured = errors.New(handlerNotConfiguredMessage)

// ErrLoggerNotConfigured indicates the loop was constructed without a logger.
var ErrLoggerNotConfigured = errors.New(loopLoggerNotConfiguredMessage)

// TickHandler executes one pass of a recurring task. A positive returned
// duration overrides the loop's base interval for the following pass only.
type TickHandler interface {
	Tick(executionContext context.Context) (time.Duration, error)
}

// TickHandlerFunc adapts a function to the TickHandler interface.
type TickHandlerFunc func(executionContext context.Context) (time.Duration, error)

// Tick implements TickHandler.
func (handlerFunc TickHandlerFunc) Tick(executionContext context.Context) (time.Duration, error) {
	return handlerFunc(executionContext)
}

// LoopDependencies carries the collaborators required by NewLoop.
type LoopDependencies struct {
	TaskName     string
	Handler      TickHandler
	Logger       *zap.Logger
	BaseInterval time.Duration
}

// Loop repeatedly invokes a TickHandler on a timer. Kick requests an immediate
// pass without waiting for the timer to fire.
type Loop struct {
	taskName     string
	handler      TickHandler
	logger       *zap.Logger
	baseInterval time.Duration
	kickRequests chan struct{}
	stopSignal   chan struct{}
	stopOnce     sync.Once
	loopFinished sync.WaitGroup
}

// NewLoop validates the dependencies and constructs a Loop.
func NewLoop(dependencies LoopDependencies) (*Loop, error) {
	if dependencies.Handler == nil {
		return nil, ErrTickHandlerNotConfigured
	}
	if dependencies.Logger == nil {
		return nil, ErrLoggerNotConfigured
	}
	taskName := dependencies.TaskName
	if len(taskName) == 0 {
		taskName = defaultTaskNameConstant
	}
	baseInterval := dependencies.BaseInterval
	if baseInterval <= 0 {
		baseInterval = defaultBaseIntervalConstant
	}
	return &Loop{
		taskName:     taskName,
		handler:      dependencies.Handler,
		logger:       dependencies.Logger,
		baseInterval: baseInterval,
		kickRequests: make(chan struct{}, kickRequestBufferLengthConstant),
		stopSignal:   make(chan struct{}),
	}, nil
}

// Start launches the loop goroutine. The first pass runs after the base
// interval unless Kick is called earlier.
func (loop *Loop) Start(executionContext context.Context) {
	loop.loopFinished.Add(1)
	go loop.run(executionContext)
}

// Kick requests an immediate pass. Requests arriving while a kick is already
// pending are coalesced.
func (loop *Loop) Kick() {
	select {
	case loop.kickRequests <- struct{}{}:
	default:
	}
}

// Stop halts the loop and waits for the in-flight pass to finish.
func (loop *Loop) Stop() {
	loop.stopOnce.Do(func() {
		close(loop.stopSignal)
	})
	loop.loopFinished.Wait()
}

func (loop *Loop) run(executionContext context.Context) {
	defer loop.loopFinished.Done()

	intervalTimer := time.NewTimer(loop.baseInterval)
	defer intervalTimer.Stop()

	for {
		select {
		case <-loop.stopSignal:
			return
		case <-executionContext.Done():
			return
		case <-loop.kickRequests:
			loop.executeTick(executionContext, intervalTimer)
		case <-intervalTimer.C:
			loop.executeTick(executionContext, intervalTimer)
		}
	}
}

func (loop *Loop) executeTick(executionContext context.Context, intervalTimer *time.Timer) {
	nextDelay, tickError := loop.handler.Tick(executionContext)
	if tickError != nil {
		loop.logger.Error(tickFailureLogMessageConstant,
			zap.String(taskNameLogFieldNameConstant, loop.taskName),
			zap.Error(tickError),
		)
	}
	if nextDelay <= 0 {
		nextDelay = loop.baseInterval
	}
	if !intervalTimer.Stop() {
		select {
		case <-intervalTimer.C:
		default:
		}
	}
	intervalTimer.Reset(nextDelay)
}
