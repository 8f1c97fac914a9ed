//go:build linux

package netmon

import (
	"errors"
	"fmt"
	"maps"
	"net/netip"
	"slices"
	"strconv"
	"sync"

	"github.com/jsimonetti/rtnetlink"
	nl "github.com/mdlayher/netlink"
	"github.com/named-data/ndnnet/std/engine/loop"
	"github.com/named-data/ndnnet/std/log"
	"github.com/named-data/ndnnet/std/net/netlink"
	"golang.org/x/sys/unix"
)

// Enumeration phase of the netlink backend.
type phase int

const (
	phaseNotStarted phase = iota
	phaseEnumeratingLinks
	phaseEnumeratingAddrs
	phaseEnumeratingRoutes
	phaseComplete
)

func (p phase) String() string {
	switch p {
	case phaseNotStarted:
		return "not-started"
	case phaseEnumeratingLinks:
		return "enumerating-links"
	case phaseEnumeratingAddrs:
		return "enumerating-addresses"
	case phaseEnumeratingRoutes:
		return "enumerating-routes"
	case phaseComplete:
		return "complete"
	default:
		return "unknown"
	}
}

// Operational states reported in IFLA_OPERSTATE (RFC 2863).
const (
	operStateDormant = 5
	operStateUp      = 6
)

// taskQueueSize is the capacity of the backend's event loop.
const taskQueueSize = 512

// netlinkBackend tracks interfaces through rtnetlink dumps and notifications.
// Messages are handled on the backend's own loop.
type netlinkBackend struct {
	loop    *loop.Loop
	rtnl    *netlink.RtnlSocket
	sig     *Signals
	onFatal func(error)

	// owned by the loop
	phase phase

	mutex      sync.RWMutex
	interfaces map[int32]*NetworkInterface
}

func newNetlinkBackend(conn netlink.Conn, seq *netlink.Sequencer, sig *Signals, onFatal func(error)) (*netlinkBackend, error) {
	l := loop.New(taskQueueSize)
	b := &netlinkBackend{
		loop:       l,
		rtnl:       netlink.NewRtnlSocket(conn, l, seq),
		sig:        sig,
		onFatal:    onFatal,
		interfaces: make(map[int32]*NetworkInterface),
	}

	for _, group := range []uint32{
		unix.RTNLGRP_LINK,
		unix.RTNLGRP_IPV4_IFADDR, unix.RTNLGRP_IPV4_ROUTE,
		unix.RTNLGRP_IPV6_IFADDR, unix.RTNLGRP_IPV6_ROUTE,
	} {
		if err := b.rtnl.JoinGroup(group); err != nil {
			b.rtnl.Close()
			return nil, err
		}
	}
	b.rtnl.OnError(b.onError)

	return b, nil
}

func (b *netlinkBackend) String() string {
	return "netlink-monitor"
}

func (b *netlinkBackend) Capabilities() Capability {
	return CapEnum | CapIfAddRemove | CapStateChange | CapMtuChange | CapAddrAddRemove
}

func (b *netlinkBackend) start() error {
	if err := b.loop.Start(); err != nil {
		return err
	}
	b.loop.Post(func() {
		b.rtnl.RegisterNotificationCallback(b.parseRtnlMessage)
		b.enumerateLinks()
	})
	return nil
}

func (b *netlinkBackend) Close() error {
	err := b.rtnl.Close()
	if err := b.loop.Stop(); err != nil && !errors.Is(err, loop.ErrNotRunning) {
		return err
	}
	return err
}

func (b *netlinkBackend) ListNetworkInterfaces() []*NetworkInterface {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	list := slices.Collect(maps.Values(b.interfaces))
	slices.SortFunc(list, func(x, y *NetworkInterface) int {
		return int(x.Index()) - int(y.Index())
	})
	return list
}

func (b *netlinkBackend) GetNetworkInterface(name string) *NetworkInterface {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	for _, ni := range b.interfaces {
		if ni.Name() == name {
			return ni
		}
	}
	return nil
}

func (b *netlinkBackend) onError(err error) {
	log.Error(b, "Network monitoring stopped", "err", err)
	if b.onFatal != nil {
		b.onFatal(err)
	}
}

func (b *netlinkBackend) setPhase(p phase) {
	if p < b.phase {
		panic(fmt.Sprintf("[BUG] enumeration phase regressed from %s to %s", b.phase, p))
	}
	b.phase = p
}

func (b *netlinkBackend) enumerateLinks() {
	log.Trace(b, "Enumerating links")
	b.setPhase(phaseEnumeratingLinks)
	b.rtnl.SendDumpRequest(unix.RTM_GETLINK, b.parseRtnlMessage)
}

func (b *netlinkBackend) enumerateAddrs() {
	log.Trace(b, "Enumerating addresses")
	b.setPhase(phaseEnumeratingAddrs)
	b.rtnl.SendDumpRequest(unix.RTM_GETADDR, b.parseRtnlMessage)
}

// enumerateRoutes completes the enumeration. Routes are not tracked.
func (b *netlinkBackend) enumerateRoutes() {
	b.setPhase(phaseEnumeratingRoutes)

	log.Debug(b, "Enumeration complete", "interfaces", b.count())
	b.setPhase(phaseComplete)
	b.sig.OnEnumerationCompleted.Emit(struct{}{})
}

func (b *netlinkBackend) count() int {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	return len(b.interfaces)
}

func (b *netlinkBackend) parseRtnlMessage(msg netlink.Message) {
	switch msg.Type() {
	case unix.RTM_NEWLINK, unix.RTM_DELLINK:
		b.parseLinkMessage(msg)
		b.notifyStateChanged()

	case unix.RTM_NEWADDR, unix.RTM_DELADDR:
		b.parseAddressMessage(msg)
		b.notifyStateChanged()

	case unix.RTM_NEWROUTE, unix.RTM_DELROUTE:
		b.parseRouteMessage(msg)
		b.notifyStateChanged()

	case nl.Done:
		b.parseDoneMessage(msg)

	case nl.Error:
		b.parseErrorMessage(msg)
	}
}

// notifyStateChanged emits the aggregate signal once enumeration is over.
func (b *netlinkBackend) notifyStateChanged() {
	if b.phase == phaseComplete {
		b.sig.OnNetworkStateChanged.Emit(struct{}{})
	}
}

func ifiTypeToInterfaceType(typ uint16) InterfaceType {
	switch typ {
	case unix.ARPHRD_ETHER:
		return InterfaceTypeEthernet
	case unix.ARPHRD_LOOPBACK:
		return InterfaceTypeLoopback
	default:
		return InterfaceTypeUnknown
	}
}

func ifaFamilyToAddressFamily(family uint8) AddressFamily {
	switch family {
	case unix.AF_INET:
		return AddressFamilyV4
	case unix.AF_INET6:
		return AddressFamilyV6
	default:
		return AddressFamilyUnspecified
	}
}

func ifaScopeToAddressScope(scope uint8) AddressScope {
	switch scope {
	case unix.RT_SCOPE_NOWHERE:
		return AddressScopeNowhere
	case unix.RT_SCOPE_HOST:
		return AddressScopeHost
	case unix.RT_SCOPE_LINK:
		return AddressScopeLink
	default:
		return AddressScopeGlobal
	}
}

// interfaceState derives the state from IFLA_OPERSTATE, falling back to the
// interface flags when the kernel does not report a meaningful value.
func interfaceState(operState uint8, flags uint32) InterfaceState {
	switch operState {
	case operStateUp:
		return InterfaceStateRunning
	case operStateDormant:
		return InterfaceStateDormant
	}

	carrier := flags&(FlagLowerUp|FlagRunning) != 0
	if carrier && flags&FlagDormant == 0 {
		return InterfaceStateRunning
	} else if flags&FlagUp != 0 {
		return InterfaceStateNoCarrier
	} else {
		return InterfaceStateDown
	}
}

func (b *netlinkBackend) parseLinkMessage(msg netlink.Message) {
	ifi, ok := msg.IfInfoMsg().Get()
	if !ok {
		log.Warn(b, "Malformed ifinfomsg")
		return
	}

	typ := ifiTypeToInterfaceType(ifi.Type)
	if typ == InterfaceTypeUnknown {
		log.Debug(b, "Unhandled interface type", "type", ifi.Type, "index", ifi.Index)
		return
	}

	b.mutex.RLock()
	ni := b.interfaces[ifi.Index]
	b.mutex.RUnlock()

	if msg.Type() == unix.RTM_DELLINK {
		if ni != nil {
			log.Debug(b, "Removing interface", "name", ni.Name())
			b.mutex.Lock()
			delete(b.interfaces, ifi.Index)
			b.mutex.Unlock()
			b.sig.OnInterfaceRemoved.Emit(ni)
		}
		return
	}

	isNew := ni == nil
	if isNew {
		ni = newNetworkInterface(ifi.Index)
	}
	ni.setType(typ)
	ni.setFlags(ifi.Flags)

	attrs := msg.RouteAttributes(netlink.SizeofIfInfoMsg)
	log.Trace(b, "Link message", "index", ifi.Index, "attributes", attrs.Len())

	if addr, ok := attrs.EthernetAddress(unix.IFLA_ADDRESS).Get(); ok {
		ni.setEthernetAddress(addr)
	}
	if addr, ok := attrs.EthernetAddress(unix.IFLA_BROADCAST).Get(); ok {
		ni.setEthernetBroadcastAddress(addr)
	}
	if name, ok := attrs.String(unix.IFLA_IFNAME).Get(); ok {
		ni.setName(name)
	}
	if mtu, ok := attrs.Uint32(unix.IFLA_MTU).Get(); ok {
		ni.setMtu(mtu)
	}
	ni.setState(interfaceState(attrs.Uint8(unix.IFLA_OPERSTATE).GetOr(0), ifi.Flags))

	if isNew {
		log.Debug(b, "Adding interface", "name", ni.Name())
		b.mutex.Lock()
		b.interfaces[ifi.Index] = ni
		b.mutex.Unlock()
		b.sig.OnInterfaceAdded.Emit(ni)
	}
}

func (b *netlinkBackend) parseAddressMessage(msg netlink.Message) {
	ifa, ok := msg.IfAddrMsg().Get()
	if !ok {
		log.Warn(b, "Malformed ifaddrmsg")
		return
	}

	b.mutex.RLock()
	ni := b.interfaces[int32(ifa.Index)]
	b.mutex.RUnlock()
	if ni == nil {
		log.Trace(b, "Unknown interface index", "index", ifa.Index)
		return
	}

	attrs := msg.RouteAttributes(netlink.SizeofIfAddrMsg)
	log.Trace(b, "Address message", "index", ifa.Index, "attributes", attrs.Len())

	var ip, brd netip.Addr
	switch ifa.Family {
	case unix.AF_INET:
		ip = attrs.IPv4(unix.IFA_LOCAL).GetOr(netip.Addr{})
		brd = attrs.IPv4(unix.IFA_BROADCAST).GetOr(netip.Addr{})
	case unix.AF_INET6:
		ip = attrs.IPv6(unix.IFA_ADDRESS).GetOr(netip.Addr{})
		if ip.IsLinkLocalUnicast() {
			ip = ip.WithZone(strconv.FormatUint(uint64(ifa.Index), 10))
		}
	}
	if !ip.IsValid() {
		log.Debug(b, "Address message without address", "index", ifa.Index, "family", ifa.Family)
		return
	}

	// IFA_FLAGS supersedes the 8-bit ifa_flags
	flags := attrs.Uint32(unix.IFA_FLAGS).GetOr(uint32(ifa.Flags))

	addr := NetworkAddress{
		Family:       ifaFamilyToAddressFamily(ifa.Family),
		IP:           ip,
		Broadcast:    brd,
		PrefixLength: ifa.PrefixLen,
		Scope:        ifaScopeToAddressScope(ifa.Scope),
		Flags:        flags,
	}

	switch msg.Type() {
	case unix.RTM_NEWADDR:
		if ni.addNetworkAddress(addr) {
			log.Debug(b, "Added address", "interface", ni.Name(), "addr", addr)
		}
	case unix.RTM_DELADDR:
		if ni.removeNetworkAddress(addr) {
			log.Debug(b, "Removed address", "interface", ni.Name(), "addr", addr)
		}
	}
}

// parseRouteMessage only decodes routes for tracing.
func (b *netlinkBackend) parseRouteMessage(msg netlink.Message) {
	if !log.HasTrace() {
		return
	}

	var rm rtnetlink.RouteMessage
	if err := rm.UnmarshalBinary(msg.Data()); err != nil {
		log.Trace(b, "Undecodable route message", "err", err)
		return
	}
	log.Trace(b, "Route message",
		"type", netlink.RtnlTypeName(msg.Type()),
		"family", rm.Family,
		"table", rm.Table,
		"dst", fmt.Sprintf("%s/%d", rm.Attributes.Dst, rm.DstLength),
		"gateway", rm.Attributes.Gateway,
		"oif", rm.Attributes.OutIface)
}

func (b *netlinkBackend) parseDoneMessage(msg netlink.Message) {
	code, ok := msg.DoneErr().Get()
	if !ok {
		log.Warn(b, "Malformed NLMSG_DONE")
	} else {
		if code != 0 {
			log.Error(b, "NLMSG_DONE with error", "err", errnoString(code))
		}
		logExtAck(b, msg, code != 0)
	}

	switch b.phase {
	case phaseEnumeratingLinks:
		b.enumerateAddrs()
	case phaseEnumeratingAddrs:
		b.enumerateRoutes()
	}
}

func (b *netlinkBackend) parseErrorMessage(msg netlink.Message) {
	e, ok := msg.NlMsgErr().Get()
	if !ok {
		log.Warn(b, "Malformed NLMSG_ERROR")
		return
	}

	if e.Error != 0 {
		log.Error(b, "NLMSG_ERROR", "seq", e.Msg.Sequence, "err", errnoString(e.Error))
	}
	logExtAck(b, msg, e.Error != 0)
}

func logExtAck(tag any, msg netlink.Message, isError bool) {
	attrs := msg.ExtAckAttributes()
	if attrs.Len() == 0 {
		return
	}
	log.Trace(tag, "Extended ACK", "attributes", attrs.Len())

	if text := attrs.String(netlink.NlMsgErrAttrMsg).GetOr(""); text != "" {
		if isError {
			log.Error(tag, "Extended error", "msg", text)
		} else {
			log.Debug(tag, "Extended message", "msg", text)
		}
	}
}

// errnoString renders a negative kernel error code.
func errnoString(code int32) string {
	if code < 0 {
		code = -code
	}
	return fmt.Sprintf("%d %s", code, unix.Errno(code).Error())
}
