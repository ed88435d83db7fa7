package component

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/atomic"

	"github.com/relaywatch/relaywatch/module"
	"github.com/relaywatch/relaywatch/module/irrecoverable"
	"github.com/relaywatch/relaywatch/module/util"
)

// ErrComponentShutdown is returned by a component which has already been shut down.
var ErrComponentShutdown = fmt.Errorf("component has already shut down")

// Component can be started once and exposes channels that close when startup and shutdown
// have completed. Once Start has been called, Done must close eventually, either after a
// graceful shutdown or after an irrecoverable error.
type Component interface {
	module.Startable
	module.ReadyDoneAware
}

type ComponentFactory func() (Component, error)

// OnError inspects an irrecoverable error thrown by a component run by RunComponent and decides
// whether the component is restarted or RunComponent returns.
type OnError = func(err error) ErrorHandlingResult

type ErrorHandlingResult int

const (
	ErrorHandlingRestart ErrorHandlingResult = iota
	ErrorHandlingStop
)

// RunComponent repeatedly starts components returned from the factory, shutting them down when
// they throw an irrecoverable error and passing that error to the handler.
// The returned error is either:
//   - the context error if ctx was cancelled
//   - the last handled error if the handler returned ErrorHandlingStop
//   - an error returned by the factory
func RunComponent(ctx context.Context, componentFactory ComponentFactory, handler OnError) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		component, err := componentFactory()
		if err != nil {
			return err
		}

		runCtx, cancel := context.WithCancel(ctx)
		signalCtx, errChan := irrecoverable.WithSignaler(runCtx)

		// a thrown error exits the calling goroutine, so Start runs on its own
		go component.Start(signalCtx)
		done := component.Done()

		err = util.WaitError(errChan, done)
		if err == nil {
			cancel()
			<-done
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return nil
		}

		cancel()
		<-done

		switch result := handler(err); result {
		case ErrorHandlingRestart:
			continue
		case ErrorHandlingStop:
			return err
		default:
			panic(fmt.Sprintf("invalid error handling result: %v", result))
		}
	}
}

// ReadyFunc is called by a ComponentWorker once it is ready.
type ReadyFunc func()

// ComponentWorker is a worker routine of a component. It must call ready once it is set up, and
// return when ctx is cancelled. Irrecoverable errors are thrown on ctx.
type ComponentWorker func(ctx irrecoverable.SignalerContext, ready ReadyFunc)

// ComponentManagerBuilder provides a mechanism for building a ComponentManager
type ComponentManagerBuilder interface {
	// AddWorker adds a worker routine for the ComponentManager
	AddWorker(ComponentWorker) ComponentManagerBuilder

	// Build builds and returns a new ComponentManager instance
	Build() *ComponentManager
}

type componentManagerBuilderImpl struct {
	workers []ComponentWorker
}

func NewComponentManagerBuilder() ComponentManagerBuilder {
	return &componentManagerBuilderImpl{}
}

// AddWorker is not concurrency safe.
func (c *componentManagerBuilderImpl) AddWorker(worker ComponentWorker) ComponentManagerBuilder {
	c.workers = append(c.workers, worker)
	return c
}

func (c *componentManagerBuilderImpl) Build() *ComponentManager {
	return &ComponentManager{
		started:        atomic.NewBool(false),
		ready:          make(chan struct{}),
		done:           make(chan struct{}),
		workersDone:    make(chan struct{}),
		shutdownSignal: make(chan struct{}),
		workers:        c.workers,
	}
}

var _ Component = (*ComponentManager)(nil)

// ComponentManager runs the worker routines of a component and implements Component on their
// behalf. Ready closes when every worker has called its ReadyFunc, Done closes after every worker
// has returned. Shutdown is triggered by cancelling the context given to Start; an error thrown
// by any worker shuts down the others and is re-thrown on the parent context.
type ComponentManager struct {
	started        *atomic.Bool
	ready          chan struct{}
	done           chan struct{}
	workersDone    chan struct{}
	shutdownSignal chan struct{}

	workers []ComponentWorker
}

// Start launches all worker routines. It panics if called more than once.
func (c *ComponentManager) Start(parent irrecoverable.SignalerContext) {
	if !c.started.CompareAndSwap(false, true) {
		panic(module.ErrMultipleStartup)
	}

	ctx, cancel := context.WithCancel(parent)
	signalerCtx, errChan := irrecoverable.WithSignaler(ctx)

	go func() {
		<-ctx.Done()
		close(c.shutdownSignal)
	}()

	go func() {
		// done closes only after the error, if any, reached the parent
		defer func() {
			<-c.workersDone
			close(c.done)
		}()

		if err := util.WaitError(errChan, c.workersDone); err != nil {
			cancel()
			parent.Throw(err)
		}
	}()

	var workersReady sync.WaitGroup
	var workersDone sync.WaitGroup
	workersReady.Add(len(c.workers))
	workersDone.Add(len(c.workers))

	for _, worker := range c.workers {
		worker := worker
		go func() {
			defer workersDone.Done()
			var readyOnce sync.Once
			worker(signalerCtx, func() {
				readyOnce.Do(workersReady.Done)
			})
		}()
	}

	go func() {
		workersReady.Wait()
		close(c.ready)
	}()

	go func() {
		workersDone.Wait()
		cancel()
		close(c.workersDone)
	}()
}

// Ready returns a channel which is closed once all workers are ready. If a worker returns before
// calling its ReadyFunc, the channel never closes.
func (c *ComponentManager) Ready() <-chan struct{} {
	return c.ready
}

// Done returns a channel which is closed once all workers have returned.
func (c *ComponentManager) Done() <-chan struct{} {
	return c.done
}

// ShutdownSignal returns a channel that is closed when shutdown has commenced, either because
// the context was cancelled or because a worker threw an error.
func (c *ComponentManager) ShutdownSignal() <-chan struct{} {
	return c.shutdownSignal
}
