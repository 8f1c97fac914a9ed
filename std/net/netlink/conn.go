package netlink

import (
	"context"
	"errors"
)

// ErrClosed is returned by operations on a closed connection.
var ErrClosed = errors.New("netlink connection closed")

// Datagram is the metadata of one received netlink datagram.
type Datagram struct {
	// Bytes received.
	N int
	// Destination multicast group, zero for unicast replies.
	Group uint32
	// Source port id. The kernel is zero.
	Sender uint32
	// The datagram did not fit in the receive buffer.
	Truncated bool
}

// Conn is a raw netlink datagram endpoint.
type Conn interface {
	// PortID returns the local port id assigned by the kernel on bind.
	PortID() uint32
	// JoinGroup subscribes to a multicast group.
	JoinGroup(group uint32) error
	// Send writes one datagram.
	Send(ctx context.Context, b []byte) error
	// Receive reads one datagram into buf.
	// Transient errors are returned as-is for the caller to retry.
	Receive(ctx context.Context, buf []byte) (Datagram, error)
	// Close releases the connection and unblocks pending calls.
	Close() error
}

// ConnConfig holds the socket options applied by Dial.
type ConnConfig struct {
	// SO_RCVBUF size in bytes, best effort. Zero keeps the kernel default.
	RecvBufferSize int `json:"recv_buffer_size"`
	// Enable NETLINK_EXT_ACK, best effort.
	ExtAck bool `json:"ext_ack"`
	// Enable NETLINK_GET_STRICT_CHK, best effort.
	StrictDumpCheck bool `json:"strict_dump_check"`
}

// DefaultConnConfig returns the options used by the network monitor.
func DefaultConnConfig() ConnConfig {
	return ConnConfig{
		RecvBufferSize:  1 << 20,
		ExtAck:          true,
		StrictDumpCheck: true,
	}
}
