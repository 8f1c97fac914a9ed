//go:build linux

package netlink

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	nl "github.com/mdlayher/netlink"
	"github.com/named-data/ndnnet/std/engine/loop"
	"github.com/named-data/ndnnet/std/log"
)

// ErrDumpInterrupted is raised when the kernel flags a dump as inconsistent.
// Dumps are not retried.
var ErrDumpInterrupted = errors.New("inconsistency detected in netlink dump")

// ErrTruncated is raised when a datagram does not fit in the receive buffer.
var ErrTruncated = errors.New("received truncated netlink message")

// receive buffer size
const recvBufferSize = 16 * 1024

// MessageCallback handles one netlink message. It runs on the socket's loop,
// and the message view is only valid until the callback returns.
type MessageCallback func(msg Message)

// Sequencer hands out request sequence numbers. Sockets that share a
// Sequencer never reuse each other's numbers.
type Sequencer struct {
	seq atomic.Uint32
}

// NewSequencer creates a sequencer seeded from the wall clock.
func NewSequencer() *Sequencer {
	return NewSequencerFrom(uint32(time.Now().Unix()))
}

// NewSequencerFrom creates a sequencer whose first number is seed+1.
func NewSequencerFrom(seed uint32) *Sequencer {
	s := &Sequencer{}
	s.seq.Store(seed)
	return s
}

// Next returns the next sequence number.
func (s *Sequencer) Next() uint32 {
	return s.seq.Add(1)
}

// Socket multiplexes request/reply transactions and a multicast
// notification stream over one netlink connection.
//
// Except for Close, all methods must be called from the socket's loop.
type Socket struct {
	conn Conn
	loop *loop.Loop
	seq  *Sequencer
	pid  uint32

	// typeName renders message types for logs
	typeName func(nl.HeaderType) string

	buf     []byte
	pending map[uint32]MessageCallback
	waiting bool
	failed  bool

	closed atomic.Bool
	ctx    context.Context
	cancel context.CancelFunc

	onError func(error)
}

// NewSocket wraps an open connection. Replies are dispatched on l.
func NewSocket(conn Conn, l *loop.Loop, seq *Sequencer) *Socket {
	ctx, cancel := context.WithCancel(context.Background())
	if seq == nil {
		seq = NewSequencer()
	}
	return &Socket{
		conn:     conn,
		loop:     l,
		seq:      seq,
		pid:      conn.PortID(),
		typeName: baseTypeName,
		buf:      make([]byte, recvBufferSize),
		pending:  make(map[uint32]MessageCallback),
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (s *Socket) String() string {
	return fmt.Sprintf("netlink-socket (pid=%d)", s.pid)
}

// PortID returns the port id assigned by the kernel.
func (s *Socket) PortID() uint32 {
	return s.pid
}

// Sequencer returns the sequence number source of this socket.
func (s *Socket) Sequencer() *Sequencer {
	return s.seq
}

// Loop returns the loop callbacks are dispatched on.
func (s *Socket) Loop() *loop.Loop {
	return s.loop
}

// OnError sets the handler of fatal errors. After a fatal error the socket
// is closed and no further callbacks are invoked.
func (s *Socket) OnError(fn func(error)) {
	s.onError = fn
}

// JoinGroup subscribes to a multicast group.
func (s *Socket) JoinGroup(group uint32) error {
	return s.conn.JoinGroup(group)
}

// RegisterNotificationCallback sets the handler of multicast notifications.
// A nil callback removes it.
func (s *Socket) RegisterNotificationCallback(cb MessageCallback) {
	s.RegisterRequestCallback(0, cb)
}

// RegisterRequestCallback sets the handler of replies with the given
// sequence number. It is removed after the last fragment of the reply.
// A nil callback removes the registration.
func (s *Socket) RegisterRequestCallback(seq uint32, cb MessageCallback) {
	if cb == nil {
		delete(s.pending, seq)
		return
	}

	s.pending[seq] = cb
	s.asyncWait()
}

// HasPending reports whether a handler is registered for seq.
func (s *Socket) HasPending(seq uint32) bool {
	_, ok := s.pending[seq]
	return ok
}

// Close closes the connection. Pending callbacks are dropped silently.
// It is safe to call from any goroutine.
func (s *Socket) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.cancel()
	return s.conn.Close()
}

// IsClosed reports whether the socket has been closed.
func (s *Socket) IsClosed() bool {
	return s.closed.Load()
}

// send writes a request. Send failures are fatal unless the socket was closed.
func (s *Socket) send(b []byte) bool {
	if err := s.conn.Send(s.ctx, b); err != nil {
		if s.closed.Load() || errors.Is(err, ErrClosed) || errors.Is(err, context.Canceled) {
			return false
		}
		s.fail(fmt.Errorf("failed to send netlink request: %w", err))
		return false
	}
	return true
}

// fail reports a fatal error once and closes the socket.
func (s *Socket) fail(err error) {
	if s.failed || s.closed.Load() {
		return
	}
	s.failed = true

	log.Error(s, "Fatal netlink error", "err", err)
	s.Close()
	if s.onError != nil {
		s.onError(err)
	}
}

// asyncWait starts one receive in the background if none is in flight.
// The result is handled on the loop. The receive buffer belongs to the
// datagram being dispatched until dispatch returns, so callbacks that
// register requests must not start the next receive themselves.
func (s *Socket) asyncWait() {
	if s.waiting || s.closed.Load() {
		return
	}
	s.waiting = true

	go func() {
		d, err := s.conn.Receive(s.ctx, s.buf)
		s.loop.Post(func() {
			if s.closed.Load() {
				s.waiting = false
				log.Debug(s, "Socket closed, receive dropped")
				return
			}
			ok := s.receiveAndValidate(d, err)
			s.waiting = false
			if ok && len(s.pending) > 0 {
				s.asyncWait()
			}
		})
	}()
}

// receiveAndValidate processes one receive result. It returns false after a
// fatal error or cancellation.
func (s *Socket) receiveAndValidate(d Datagram, err error) bool {
	if err != nil {
		if IsTransient(err) {
			log.Debug(s, "Receive failed", "err", err)
			return true
		}
		if errors.Is(err, ErrClosed) || errors.Is(err, context.Canceled) {
			log.Debug(s, "Socket closed or operation aborted")
			return false
		}
		s.fail(fmt.Errorf("netlink socket receive error: %w", err))
		return false
	}

	log.Trace(s, "Read from netlink socket", "bytes", d.N)

	if d.Truncated {
		s.fail(ErrTruncated)
		return false
	}

	if d.Sender != 0 {
		log.Trace(s, "Ignoring message from non-kernel sender", "pid", d.Sender)
		return true
	}

	return s.dispatch(s.buf[:d.N], d.Group)
}

// dispatch walks the messages of one datagram in wire order.
func (s *Socket) dispatch(b []byte, group uint32) bool {
	for msg := NewMessage(b); msg.IsValid(); msg = msg.Next() {
		h := msg.Header()
		if log.HasTrace() {
			log.Trace(s, "Parsing message",
				"type", s.typeName(h.Type),
				"multi", h.Flags&nl.Multi != 0,
				"len", h.Length, "seq", h.Sequence, "pid", h.PID, "group", group)
		}

		var key uint32
		if group != 0 {
			// multicast notification
			key = 0
		} else if h.PID == s.pid {
			key = h.Sequence
		} else {
			log.Trace(s, "PID mismatch, ignoring", "pid", h.PID)
			continue
		}

		cb, ok := s.pending[key]
		if !ok {
			log.Trace(s, "No handler registered, ignoring", "seq", key)
			continue
		}
		if h.Flags&nl.DumpInterrupted != 0 {
			s.fail(fmt.Errorf("%w (seq=%d)", ErrDumpInterrupted, h.Sequence))
			return false
		}

		cb(msg)
		if s.closed.Load() {
			return false
		}

		// the handler of a reply is done after its only or last fragment
		if group == 0 && (h.Flags&nl.Multi == 0 || h.Type == nl.Done) {
			log.Trace(s, "Removing handler", "seq", key)
			delete(s.pending, key)
		}
	}
	return true
}

func baseTypeName(t nl.HeaderType) string {
	switch t {
	case nl.Noop:
		return "1<NLMSG_NOOP>"
	case nl.Error:
		return "2<NLMSG_ERROR>"
	case nl.Done:
		return "3<NLMSG_DONE>"
	case nl.Overrun:
		return "4<NLMSG_OVERRUN>"
	}
	return strconv.Itoa(int(t))
}
