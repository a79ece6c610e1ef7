package framework

import (
	"context"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/golang/glog"
)

type namedRunnable struct {
	Runnable
	name string
}

func (r *namedRunnable) Name() string {
	return r.name
}

// NamedRun wraps a Runnable with a name.
func NamedRun(name string, runnable Runnable) Runnable {
	return &namedRunnable{name: name, Runnable: runnable}
}

func nameOf(runnable Runnable) string {
	if named, ok := runnable.(Named); ok {
		return named.Name()
	}
	return "anonymous"
}

// Runner runs Runnables until the first one fails or Stop is called, then
// collects their errors.
type Runner struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	errsLock sync.Mutex
	errs     AggregatedError
}

// NewRunner creates a Runner bound to ctx.
func NewRunner(ctx context.Context) *Runner {
	r := &Runner{}
	r.ctx, r.cancel = context.WithCancel(ctx)
	return r
}

// Context returns the context Runnables run with.
func (r *Runner) Context() context.Context {
	return r.ctx
}

// HandleSignals stops the Runner on Ctrl-C or SIGTERM.
func (r *Runner) HandleSignals() *Runner {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		defer signal.Stop(sigCh)
		select {
		case <-sigCh:
			glog.Info("stop requested")
			r.Stop()
		case <-r.ctx.Done():
		}
	}()
	return r
}

// Go spawns Runnables.
func (r *Runner) Go(runners ...Runnable) *Runner {
	for _, runner := range runners {
		r.wg.Add(1)
		go r.run(runner)
	}
	return r
}

func (r *Runner) run(runner Runnable) {
	defer r.wg.Done()
	name := nameOf(runner)
	glog.V(4).Infof("runner[%s] started", name)
	err := runner.Run(r.ctx)
	glog.V(4).Infof("runner[%s] stopped: %v", name, err)
	if err == nil || err == context.Canceled {
		return
	}
	r.errsLock.Lock()
	r.errs.Add(err)
	r.errsLock.Unlock()
	r.Stop()
}

// Stop cancels all Runnables.
func (r *Runner) Stop() {
	r.cancel()
}

// Wait waits until all Runnables stop and aggregates their errors.
func (r *Runner) Wait() error {
	r.wg.Wait()
	r.errsLock.Lock()
	defer r.errsLock.Unlock()
	return r.errs.Aggregate()
}

// RunWithContextCloser runs fn, which blocks on closer, and closes closer
// when ctx is canceled so fn returns. closer is closed on exit in either
// case. It returns context.Canceled if ctx was canceled.
func RunWithContextCloser(ctx context.Context, closer io.Closer, fn func() error) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- fn()
	}()
	select {
	case <-ctx.Done():
		closer.Close()
		<-errCh
		return context.Canceled
	case err := <-errCh:
		closer.Close()
		return err
	}
}
