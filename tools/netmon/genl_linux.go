//go:build linux

package netmon

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"slices"
	"time"

	nl "github.com/mdlayher/netlink"
	"github.com/named-data/ndnnet/std/engine/loop"
	"github.com/named-data/ndnnet/std/log"
	"github.com/named-data/ndnnet/std/net/netlink"
	"github.com/named-data/ndnnet/std/utils/toolutils"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"
)

type GenlFamilyTool struct {
	timeout time.Duration
}

// genlFamily is the controller's description of a family.
type genlFamily struct {
	id      uint16
	name    string
	version uint32
	hdrSize uint32
	maxAttr uint32
	groups  map[string]uint32
}

func (t *GenlFamilyTool) String() string {
	return "netmon-genl-family"
}

func (t *GenlFamilyTool) run(_ *cobra.Command, args []string) {
	name := args[0]
	if len(name) >= netlink.GenlNameSize {
		log.Fatal(t, "Invalid family name", "name", name, "err", netlink.ErrFamilyNameTooLong)
	}

	l := loop.New(16)
	if err := l.Start(); err != nil {
		log.Fatal(t, "Unable to start loop", "err", err)
	}
	defer l.Stop()

	sock, err := netlink.OpenGenl(l, nil, netlink.DefaultConnConfig())
	if err != nil {
		log.Fatal(t, "Unable to open generic netlink socket", "err", err)
	}
	defer sock.Close()

	result := make(chan genlFamily, 1)
	failure := make(chan error, 1)
	report := func(err error) {
		select {
		case failure <- err:
		default:
		}
	}
	sock.OnError(report)

	l.Post(func() {
		queryFamily(sock, name, func(f genlFamily) { result <- f }, report)
	})

	select {
	case f := <-result:
		printFamily(f)
	case err := <-failure:
		log.Fatal(t, "Unable to query family", "name", name, "err", err)
	case <-time.After(t.timeout):
		log.Fatal(t, "Timeout waiting for the kernel", "name", name)
	}
}

// queryFamily resolves a family name through the socket's resolver, then asks
// the controller for the details of that id. It must run on the socket's loop.
func queryFamily(sock *netlink.GenlSocket, name string, cb func(genlFamily), errorCb func(error)) {
	sock.ResolveFamily(name, func(id uint16) {
		log.Debug(sock, "Resolved family", "name", name, "id", id)

		ae := nl.NewAttributeEncoder()
		ae.Uint16(netlink.CtrlAttrFamilyId, id)
		payload, err := ae.Encode()
		if err != nil {
			errorCb(err)
			return
		}

		sock.SendRequest("nlctrl", netlink.CtrlCmdGetFamily, payload, func(msg netlink.Message) {
			if msg.Type() == nl.Error {
				if e, ok := msg.NlMsgErr().Get(); ok && e.Error != 0 {
					errorCb(fmt.Errorf("%w: %s (%s)", netlink.ErrFamilyNotFound, name, unix.Errno(-e.Error)))
				}
				return
			}
			if f, ok := parseFamily(msg); ok && f.id == id {
				cb(f)
			} else {
				errorCb(errors.New("malformed reply from nlctrl"))
			}
		}, errorCb)
	}, errorCb)
}

func parseFamily(msg netlink.Message) (genlFamily, bool) {
	hdr, ok := msg.GenlMsgHdr().Get()
	if !ok || hdr.Command != netlink.CtrlCmdNewFamily {
		return genlFamily{}, false
	}

	attrs := msg.GenericAttributes(netlink.SizeofGenlMsgHdr)
	f := genlFamily{
		id:      attrs.Uint16(netlink.CtrlAttrFamilyId).GetOr(0),
		name:    attrs.String(netlink.CtrlAttrFamilyName).GetOr(""),
		version: attrs.Uint32(unix.CTRL_ATTR_VERSION).GetOr(0),
		hdrSize: attrs.Uint32(unix.CTRL_ATTR_HDRSIZE).GetOr(0),
		maxAttr: attrs.Uint32(unix.CTRL_ATTR_MAXATTR).GetOr(0),
		groups:  map[string]uint32{},
	}
	if f.id < netlink.GenlMinId {
		return genlFamily{}, false
	}

	if groups, ok := attrs.Nested(unix.CTRL_ATTR_MCAST_GROUPS, netlink.GenericAttr).Get(); ok {
		for _, i := range groups.Types() {
			g := groups.Nested(i, netlink.GenericAttr).Unwrap()
			gname, ok1 := g.String(unix.CTRL_ATTR_MCAST_GRP_NAME).Get()
			gid, ok2 := g.Uint32(unix.CTRL_ATTR_MCAST_GRP_ID).Get()
			if ok1 && ok2 {
				f.groups[gname] = gid
			}
		}
	}
	return f, true
}

func printFamily(f genlFamily) {
	p := toolutils.StatusPrinter{File: os.Stdout, Padding: 12}
	fmt.Fprintf(os.Stdout, "Generic netlink family %s:\n", f.name)
	p.Print("id", f.id)
	p.Print("version", f.version)
	p.Print("hdrsize", f.hdrSize)
	p.Print("maxattr", f.maxAttr)
	for _, name := range slices.Sorted(maps.Keys(f.groups)) {
		p.Print("mcast", fmt.Sprintf("%s=%d", name, f.groups[name]))
	}
}
