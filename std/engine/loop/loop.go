package loop

import (
	"errors"
	"sync"
	"sync/atomic"
)

var ErrNotRunning = errors.New("loop is not running")
var ErrAlreadyRunning = errors.New("loop is already running")

// Loop runs posted tasks one at a time on a single goroutine.
// State owned by a loop must only be touched from its tasks.
type Loop struct {
	// taskQueue is the task queue for the loop goroutine.
	taskQueue chan func()
	// close is closed to signal the loop goroutine to stop.
	close chan struct{}
	// done is closed when the loop goroutine exits.
	done chan struct{}
	// running is the flag to indicate if the loop is running.
	running  atomic.Bool
	started  atomic.Bool
	stopOnce sync.Once

	// overflow holds tasks posted while taskQueue was full, oldest first.
	// It is only non-empty while the loop has queued work left to run.
	overflowMutex sync.Mutex
	overflow      []func()
}

// New creates a loop with the given task queue capacity.
func New(queueSize int) *Loop {
	return &Loop{
		taskQueue: make(chan func(), queueSize),
		close:     make(chan struct{}),
		done:      make(chan struct{}),
	}
}

func (l *Loop) String() string {
	return "loop"
}

// Start launches the loop goroutine.
func (l *Loop) Start() error {
	if l.started.Swap(true) {
		return ErrAlreadyRunning
	}

	l.running.Store(true)
	go func() {
		defer close(l.done)
		defer l.running.Store(false)

		for {
			select {
			case <-l.close:
				return
			case task := <-l.taskQueue:
				task()
				l.drainOverflow()
			}
		}
	}()

	return nil
}

// Stop signals the loop goroutine to exit after the current task.
// It does not wait, so it may be called from inside a task.
func (l *Loop) Stop() error {
	if !l.running.Load() {
		return ErrNotRunning
	}
	l.stopOnce.Do(func() { close(l.close) })
	return nil
}

// Done is closed once the loop goroutine has exited.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// IsRunning returns true if the loop goroutine is running.
func (l *Loop) IsRunning() bool {
	return l.running.Load()
}

// Post queues a task. Tasks run in the order they are posted, and Post
// never blocks, so it may be called from inside a task. Tasks posted after
// Stop are dropped.
func (l *Loop) Post(task func()) {
	select {
	case <-l.close:
		return
	default:
	}

	l.overflowMutex.Lock()
	defer l.overflowMutex.Unlock()

	// anything already spilled must run first
	if len(l.overflow) == 0 {
		select {
		case l.taskQueue <- task:
			return
		default:
		}
	}
	l.overflow = append(l.overflow, task)
}

// drainOverflow moves spilled tasks into the queue while it has room.
// Called on the loop goroutine after every task.
func (l *Loop) drainOverflow() {
	l.overflowMutex.Lock()
	defer l.overflowMutex.Unlock()

	for len(l.overflow) > 0 {
		select {
		case l.taskQueue <- l.overflow[0]:
			l.overflow[0] = nil
			l.overflow = l.overflow[1:]
		default:
			return
		}
	}
	l.overflow = nil
}

// Call runs task on the loop and waits for it to finish.
// It must not be called from a task of the same loop.
func (l *Loop) Call(task func()) error {
	if !l.running.Load() {
		return ErrNotRunning
	}

	finished := make(chan struct{})
	l.Post(func() {
		defer close(finished)
		task()
	})

	select {
	case <-finished:
		return nil
	case <-l.done:
		return ErrNotRunning
	}
}
