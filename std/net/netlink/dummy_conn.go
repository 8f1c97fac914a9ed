package netlink

import (
	"context"
	"slices"
	"sync"
)

// DummyDatagram is a datagram fed into a DummyConn.
type DummyDatagram struct {
	Data   []byte
	Group  uint32
	Sender uint32
	// Err is returned from Receive instead of the data.
	Err error
}

// DummyConn is an in-memory Conn for tests. Sent frames are delivered on
// Sent(); Feed hands a datagram to the next Receive call.
type DummyConn struct {
	pid    uint32
	sent   chan []byte
	recv   chan DummyDatagram
	closed chan struct{}
	once   sync.Once

	mutex  sync.Mutex
	groups []uint32
}

// NewDummyConn creates a connection bound to the given port id.
func NewDummyConn(pid uint32) *DummyConn {
	return &DummyConn{
		pid:    pid,
		sent:   make(chan []byte, 64),
		recv:   make(chan DummyDatagram),
		closed: make(chan struct{}),
	}
}

func (c *DummyConn) String() string {
	return "dummy-conn"
}

func (c *DummyConn) PortID() uint32 {
	return c.pid
}

func (c *DummyConn) JoinGroup(group uint32) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.groups = append(c.groups, group)
	return nil
}

// Groups returns the joined multicast groups in join order.
func (c *DummyConn) Groups() []uint32 {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return slices.Clone(c.groups)
}

func (c *DummyConn) Send(ctx context.Context, b []byte) error {
	if c.IsClosed() {
		return ErrClosed
	}

	frame := slices.Clone(b)
	select {
	case c.sent <- frame:
		return nil
	case <-c.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sent returns the channel of frames written with Send.
func (c *DummyConn) Sent() <-chan []byte {
	return c.sent
}

func (c *DummyConn) Receive(ctx context.Context, buf []byte) (Datagram, error) {
	if c.IsClosed() {
		return Datagram{}, ErrClosed
	}

	select {
	case d := <-c.recv:
		if d.Err != nil {
			return Datagram{}, d.Err
		}
		n := copy(buf, d.Data)
		return Datagram{
			N:         n,
			Group:     d.Group,
			Sender:    d.Sender,
			Truncated: n < len(d.Data),
		}, nil
	case <-c.closed:
		return Datagram{}, ErrClosed
	case <-ctx.Done():
		return Datagram{}, ctx.Err()
	}
}

// Feed blocks until a Receive call takes the datagram.
// It returns false if the connection is closed first.
func (c *DummyConn) Feed(d DummyDatagram) bool {
	if c.IsClosed() {
		return false
	}

	select {
	case c.recv <- d:
		return true
	case <-c.closed:
		return false
	}
}

func (c *DummyConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

// IsClosed reports whether Close was called.
func (c *DummyConn) IsClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}
