//go:build linux

package netlink

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/mdlayher/genetlink"
	nl "github.com/mdlayher/netlink"
	"github.com/named-data/ndnnet/std/engine/loop"
	"github.com/named-data/ndnnet/std/log"
	"github.com/named-data/ndnnet/std/types/signal"
	"golang.org/x/sys/unix"
)

// ErrFamilyNotFound is reported when a generic netlink family name cannot be resolved.
var ErrFamilyNotFound = errors.New("generic netlink family not found")

// ErrFamilyNameTooLong is reported for family names that do not fit GENL_NAMSIZ.
var ErrFamilyNameTooLong = errors.New("generic netlink family name too long")

// GenlSocket is a NETLINK_GENERIC socket that addresses families by name.
type GenlSocket struct {
	*Socket

	// resolved family ids; zero marks a name that failed to resolve
	familyIds map[string]uint16
	// in-flight resolutions
	resolvers map[string]*familyResolver
}

// OpenGenl opens a NETLINK_GENERIC socket dispatching on l.
func OpenGenl(l *loop.Loop, seq *Sequencer, cfg ConnConfig) (*GenlSocket, error) {
	log.Trace(nil, "Opening genetlink socket")
	conn, err := Dial(unix.NETLINK_GENERIC, cfg)
	if err != nil {
		return nil, err
	}
	return NewGenlSocket(conn, l, seq), nil
}

// NewGenlSocket wraps an open NETLINK_GENERIC connection.
func NewGenlSocket(conn Conn, l *loop.Loop, seq *Sequencer) *GenlSocket {
	g := &GenlSocket{
		Socket:    NewSocket(conn, l, seq),
		familyIds: map[string]uint16{"nlctrl": GenlIdCtrl},
		resolvers: make(map[string]*familyResolver),
	}
	g.typeName = g.TypeName
	return g
}

func (g *GenlSocket) String() string {
	return fmt.Sprintf("genl-socket (pid=%d)", g.pid)
}

// FamilyId returns the cached id of a family. A cached zero means the
// family failed to resolve.
func (g *GenlSocket) FamilyId(name string) (uint16, bool) {
	id, ok := g.familyIds[name]
	return id, ok
}

// SendRequest sends a command to the family with the given name, resolving
// the name first if needed. Requests queued on the same unresolved name share
// one resolution. errorCb, if not nil, is called when the name cannot be
// resolved; it is called synchronously if the failure is already cached.
func (g *GenlSocket) SendRequest(family string, cmd uint8, payload []byte,
	messageCb MessageCallback, errorCb func(error)) {
	payload = bytes.Clone(payload)
	g.ResolveFamily(family, func(id uint16) {
		g.SendRequestToFamily(id, cmd, payload, messageCb)
	}, errorCb)
}

// ResolveFamily calls cb with the id of the named family. Cached results,
// including failures, are reported synchronously; otherwise the caller waits
// on the in-flight resolution of that name, starting one if there is none.
func (g *GenlSocket) ResolveFamily(family string, cb func(uint16), errorCb func(error)) {
	if id, ok := g.familyIds[family]; ok {
		if id >= GenlMinId {
			cb(id)
		} else if errorCb != nil {
			errorCb(fmt.Errorf("%w: %s", ErrFamilyNotFound, family))
		}
		return
	}

	resolver, ok := g.resolvers[family]
	if !ok {
		var err error
		resolver, err = newFamilyResolver(family, g)
		if err != nil {
			if errorCb != nil {
				errorCb(err)
			}
			return
		}
		g.resolvers[family] = resolver

		// cache the result before any waiter runs
		resolver.onResolved.ConnectSingleShot(func(id uint16) {
			g.familyIds[family] = id
			delete(g.resolvers, family)
		})
		resolver.onError.ConnectSingleShot(func(error) {
			g.familyIds[family] = 0
			delete(g.resolvers, family)
		})
		defer resolver.asyncResolve()
	}

	resolver.onResolved.ConnectSingleShot(cb)
	if errorCb != nil {
		resolver.onError.ConnectSingleShot(errorCb)
	}
}

// SendRequestToFamily sends a command to a numeric family id and returns the
// sequence number of the request.
func (g *GenlSocket) SendRequestToFamily(familyId uint16, cmd uint8, payload []byte, cb MessageCallback) uint32 {
	seq := g.seq.Next()

	req, err := EncodeGenlRequest(familyId, cmd, payload, seq, g.pid)
	if err != nil {
		g.fail(err)
		return seq
	}

	g.RegisterRequestCallback(seq, cb)
	if g.send(req) {
		log.Trace(g, "Sent genl request", "type", g.TypeName(nl.HeaderType(familyId)), "cmd", cmd, "seq", seq)
	}
	return seq
}

// EncodeGenlRequest builds the wire form of a generic netlink request.
func EncodeGenlRequest(familyId uint16, cmd uint8, payload []byte, seq, pid uint32) ([]byte, error) {
	body, err := genetlink.Message{
		Header: genetlink.Header{Command: cmd, Version: 1},
		Data:   payload,
	}.MarshalBinary()
	if err != nil {
		return nil, err
	}

	msg := nl.Message{
		Header: nl.Header{
			Length:   uint32(nlmsgAlign(uint64(HeaderLen + len(body)))),
			Type:     nl.HeaderType(familyId),
			Flags:    nl.Request,
			Sequence: seq,
			PID:      pid,
		},
		Data: body,
	}
	return msg.MarshalBinary()
}

// TypeName renders message types for logs, naming resolved families.
func (g *GenlSocket) TypeName(t nl.HeaderType) string {
	if t >= GenlMinId {
		for name, id := range g.familyIds {
			if id == uint16(t) {
				return fmt.Sprintf("%d<%s>", t, name)
			}
		}
	}
	return baseTypeName(t)
}

// familyResolver resolves one family name with CTRL_CMD_GETFAMILY and
// notifies every waiter once.
type familyResolver struct {
	family string
	sock   *GenlSocket
	done   bool

	onResolved signal.Signal[uint16]
	onError    signal.Signal[error]
}

func newFamilyResolver(family string, sock *GenlSocket) (*familyResolver, error) {
	if len(family) >= GenlNameSize {
		return nil, fmt.Errorf("%w: %q", ErrFamilyNameTooLong, family)
	}
	return &familyResolver{family: family, sock: sock}, nil
}

func (r *familyResolver) String() string {
	return "genl-family-resolver (" + r.family + ")"
}

func (r *familyResolver) asyncResolve() {
	log.Trace(r, "Resolving netlink family")

	ae := nl.NewAttributeEncoder()
	ae.String(CtrlAttrFamilyName, r.family)
	attrs, err := ae.Encode()
	if err != nil {
		r.fail(err)
		return
	}

	r.sock.SendRequestToFamily(GenlIdCtrl, CtrlCmdGetFamily, attrs, r.handleResolve)
}

func (r *familyResolver) handleResolve(msg Message) {
	switch msg.Type() {
	case nl.Error:
		e, ok := msg.NlMsgErr().Get()
		if !ok {
			log.Warn(r, "Malformed nlmsgerr")
		} else if e.Error != 0 {
			log.Debug(r, "Failed to resolve netlink family", "err", unix.Errno(-e.Error))
		}
		r.fail(fmt.Errorf("%w: %s", ErrFamilyNotFound, r.family))

	case GenlIdCtrl:
		genlh, ok := msg.GenlMsgHdr().Get()
		if !ok {
			log.Warn(r, "Malformed genlmsghdr")
			r.fail(fmt.Errorf("%w: %s", ErrFamilyNotFound, r.family))
			return
		}
		if genlh.Command != CtrlCmdNewFamily {
			log.Warn(r, "Unexpected genl command", "cmd", genlh.Command)
			r.fail(fmt.Errorf("%w: %s", ErrFamilyNotFound, r.family))
			return
		}

		attrs := msg.GenericAttributes(SizeofGenlMsgHdr)
		if name, ok := attrs.String(CtrlAttrFamilyName).Get(); ok && name != r.family {
			log.Warn(r, "CTRL_ATTR_FAMILY_NAME mismatch", "name", name)
			r.fail(fmt.Errorf("%w: %s", ErrFamilyNotFound, r.family))
			return
		}
		id, ok := attrs.Uint16(CtrlAttrFamilyId).Get()
		if !ok {
			log.Warn(r, "Missing CTRL_ATTR_FAMILY_ID")
			r.fail(fmt.Errorf("%w: %s", ErrFamilyNotFound, r.family))
			return
		}
		if id < GenlMinId {
			log.Warn(r, "Invalid CTRL_ATTR_FAMILY_ID", "id", id)
			r.fail(fmt.Errorf("%w: %s", ErrFamilyNotFound, r.family))
			return
		}

		log.Trace(r, "Resolved netlink family", "id", id)
		r.done = true
		r.onResolved.Emit(id)

	default:
		log.Warn(r, "Unexpected message type", "type", msg.Type())
		r.fail(fmt.Errorf("%w: %s", ErrFamilyNotFound, r.family))
	}
}

func (r *familyResolver) fail(err error) {
	if r.done {
		return
	}
	r.done = true
	r.onError.Emit(err)
}
