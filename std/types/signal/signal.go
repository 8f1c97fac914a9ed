package signal

import (
	"sync"
)

// Signal is a list of handlers invoked in connection order on Emit.
// It is safe to connect and cancel handlers from any goroutine, including
// from inside a handler.
type Signal[T any] struct {
	mutex    sync.Mutex
	handlers []slot[T]
	nextHndl int
}

type slot[T any] struct {
	hndl       int
	fn         func(T)
	singleShot bool
}

// Connect adds a handler. The returned function disconnects it.
func (s *Signal[T]) Connect(fn func(T)) (cancel func()) {
	return s.connect(fn, false)
}

// ConnectSingleShot adds a handler that is disconnected before its first invocation.
func (s *Signal[T]) ConnectSingleShot(fn func(T)) (cancel func()) {
	return s.connect(fn, true)
}

func (s *Signal[T]) connect(fn func(T), singleShot bool) (cancel func()) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	hndl := s.nextHndl
	s.nextHndl++
	s.handlers = append(s.handlers, slot[T]{hndl: hndl, fn: fn, singleShot: singleShot})

	return func() {
		s.mutex.Lock()
		defer s.mutex.Unlock()
		s.remove(hndl)
	}
}

// remove must be called with the mutex held.
func (s *Signal[T]) remove(hndl int) {
	for i, h := range s.handlers {
		if h.hndl == hndl {
			s.handlers = append(s.handlers[:i:i], s.handlers[i+1:]...)
			return
		}
	}
}

// Emit invokes the handlers connected at the time of the call.
// Handlers connected during emission are not invoked until the next Emit.
func (s *Signal[T]) Emit(v T) {
	s.mutex.Lock()
	snapshot := make([]slot[T], len(s.handlers))
	copy(snapshot, s.handlers)
	for _, h := range snapshot {
		if h.singleShot {
			s.remove(h.hndl)
		}
	}
	s.mutex.Unlock()

	for _, h := range snapshot {
		if !h.singleShot && !s.connected(h.hndl) {
			// disconnected by an earlier handler of this emission
			continue
		}
		h.fn(v)
	}
}

func (s *Signal[T]) connected(hndl int) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	for _, h := range s.handlers {
		if h.hndl == hndl {
			return true
		}
	}
	return false
}

// Len returns the number of connected handlers.
func (s *Signal[T]) Len() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return len(s.handlers)
}
