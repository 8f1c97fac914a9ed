//go:build linux

package netlink

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"

	"github.com/mdlayher/netlink/nlenc"
	"github.com/mdlayher/socket"
	"github.com/named-data/ndnnet/std/log"
	"golang.org/x/sys/unix"
)

// sysConn is a Conn backed by a kernel AF_NETLINK socket.
type sysConn struct {
	sock  *socket.Conn
	proto int
	pid   uint32
	oob   []byte
}

// Dial opens and binds a netlink socket of the given protocol, such as
// unix.NETLINK_ROUTE or unix.NETLINK_GENERIC.
func Dial(proto int, cfg ConnConfig) (Conn, error) {
	// socket.Socket adds SOCK_CLOEXEC and SOCK_NONBLOCK
	sock, err := socket.Socket(unix.AF_NETLINK, unix.SOCK_RAW, proto, "netlink", nil)
	if err != nil {
		return nil, fmt.Errorf("cannot create netlink socket: %w", err)
	}

	c := &sysConn{
		sock:  sock,
		proto: proto,
		oob:   make([]byte, unix.CmsgSpace(4)),
	}
	if err := c.setup(cfg); err != nil {
		sock.Close()
		return nil, err
	}
	return c, nil
}

func (c *sysConn) setup(cfg ConnConfig) error {
	if cfg.RecvBufferSize > 0 {
		if err := c.sock.SetsockoptInt(unix.SOL_SOCKET, unix.SO_RCVBUF, cfg.RecvBufferSize); err != nil {
			log.Debug(c, "Setting SO_RCVBUF failed", "err", err)
		}
	}

	// enable control messages for received packets to get the destination group
	if err := c.sock.SetsockoptInt(unix.SOL_NETLINK, unix.NETLINK_PKTINFO, 1); err != nil {
		return fmt.Errorf("cannot set NETLINK_PKTINFO: %w", err)
	}

	// the kernel assigns the port id
	if err := c.sock.Bind(&unix.SockaddrNetlink{Family: unix.AF_NETLINK}); err != nil {
		return fmt.Errorf("cannot bind netlink socket: %w", err)
	}

	sa, err := c.sock.Getsockname()
	if err != nil {
		return fmt.Errorf("getsockname failed: %w", err)
	}
	nlsa, ok := sa.(*unix.SockaddrNetlink)
	if !ok || nlsa.Family != unix.AF_NETLINK {
		return fmt.Errorf("getsockname returned wrong address family %T", sa)
	}
	c.pid = nlsa.Pid
	log.Trace(c, "Socket bound", "pid", c.pid)

	if cfg.ExtAck {
		if err := c.sock.SetsockoptInt(unix.SOL_NETLINK, unix.NETLINK_EXT_ACK, 1); err != nil {
			log.Debug(c, "Setting NETLINK_EXT_ACK failed", "err", err)
		}
	}
	if cfg.StrictDumpCheck {
		if err := c.sock.SetsockoptInt(unix.SOL_NETLINK, unix.NETLINK_GET_STRICT_CHK, 1); err != nil {
			log.Debug(c, "Setting NETLINK_GET_STRICT_CHK failed", "err", err)
		}
	}
	return nil
}

func (c *sysConn) String() string {
	return fmt.Sprintf("netlink-conn (proto=%d pid=%d)", c.proto, c.pid)
}

func (c *sysConn) PortID() uint32 {
	return c.pid
}

func (c *sysConn) JoinGroup(group uint32) error {
	err := c.sock.SetsockoptInt(unix.SOL_NETLINK, unix.NETLINK_ADD_MEMBERSHIP, int(group))
	if err != nil {
		return fmt.Errorf("cannot join netlink group %d: %w", group, err)
	}
	return nil
}

func (c *sysConn) Send(ctx context.Context, b []byte) error {
	_, err := c.sock.Sendmsg(ctx, b, nil, &unix.SockaddrNetlink{Family: unix.AF_NETLINK}, 0)
	return mapClosed(err)
}

func (c *sysConn) Receive(ctx context.Context, buf []byte) (Datagram, error) {
	n, oobn, recvflags, from, err := c.sock.Recvmsg(ctx, buf, c.oob, 0)
	if err != nil {
		return Datagram{}, mapClosed(err)
	}

	d := Datagram{
		N:         n,
		Truncated: recvflags&unix.MSG_TRUNC != 0,
	}
	if nlsa, ok := from.(*unix.SockaddrNetlink); ok {
		d.Sender = nlsa.Pid
	}

	cmsgs, err := unix.ParseSocketControlMessage(c.oob[:oobn])
	if err != nil {
		log.Debug(c, "Malformed control message", "err", err)
		return d, nil
	}
	for _, cmsg := range cmsgs {
		if cmsg.Header.Level == unix.SOL_NETLINK && cmsg.Header.Type == unix.NETLINK_PKTINFO && len(cmsg.Data) >= 4 {
			// struct nl_pktinfo { __u32 group; }
			d.Group = nlenc.Uint32(cmsg.Data[:4])
			break
		}
	}
	return d, nil
}

func (c *sysConn) Close() error {
	return c.sock.Close()
}

func mapClosed(err error) error {
	if errors.Is(err, os.ErrClosed) || errors.Is(err, net.ErrClosed) {
		return ErrClosed
	}
	return err
}

// IsTransient reports receive errors that only mean "try again".
func IsTransient(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) || errors.Is(err, unix.EWOULDBLOCK)
}
