//go:build linux

package netmon

import (
	"net"
	"net/netip"
	"testing"
	"time"

	nl "github.com/mdlayher/netlink"
	"github.com/mdlayher/netlink/nlenc"
	"github.com/named-data/ndnnet/std/net/netlink"
	tu "github.com/named-data/ndnnet/std/utils/testutils"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

const testPid = 4242
const wait = time.Second

type testLink struct {
	index     int32
	typ       uint16
	flags     uint32
	name      string
	mtu       uint32
	operState uint8
	mac       net.HardwareAddr
}

func (l testLink) encode(t *testing.T) []byte {
	b := make([]byte, netlink.SizeofIfInfoMsg)
	b[0] = unix.AF_UNSPEC
	nlenc.PutUint16(b[2:4], l.typ)
	nlenc.PutInt32(b[4:8], l.index)
	nlenc.PutUint32(b[8:12], l.flags)

	ae := nl.NewAttributeEncoder()
	if l.name != "" {
		ae.String(unix.IFLA_IFNAME, l.name)
	}
	if l.mtu != 0 {
		ae.Uint32(unix.IFLA_MTU, l.mtu)
	}
	if l.operState != 0 {
		ae.Uint8(unix.IFLA_OPERSTATE, l.operState)
	}
	if l.mac != nil {
		ae.Bytes(unix.IFLA_ADDRESS, l.mac)
	}
	attrs, err := ae.Encode()
	require.NoError(t, err)
	return append(b, attrs...)
}

type testAddr struct {
	index    uint32
	family   uint8
	prefix   uint8
	scope    uint8
	flags    uint8
	ip       netip.Addr
	brd      netip.Addr
	extFlags uint32
}

func (a testAddr) encode(t *testing.T) []byte {
	b := make([]byte, netlink.SizeofIfAddrMsg)
	b[0] = a.family
	b[1] = a.prefix
	b[2] = a.flags
	b[3] = a.scope
	nlenc.PutUint32(b[4:8], a.index)

	ae := nl.NewAttributeEncoder()
	ae.Bytes(unix.IFA_ADDRESS, a.ip.AsSlice())
	if a.family == unix.AF_INET {
		ae.Bytes(unix.IFA_LOCAL, a.ip.AsSlice())
	}
	if a.brd.IsValid() {
		ae.Bytes(unix.IFA_BROADCAST, a.brd.AsSlice())
	}
	if a.extFlags != 0 {
		ae.Uint32(unix.IFA_FLAGS, a.extFlags)
	}
	attrs, err := ae.Encode()
	require.NoError(t, err)
	return append(b, attrs...)
}

func buildMsg(t *testing.T, typ nl.HeaderType, flags nl.HeaderFlags, seq, pid uint32, data []byte) []byte {
	m := nl.Message{
		Header: nl.Header{
			Length:   uint32((netlink.HeaderLen + len(data) + 3) &^ 3),
			Type:     typ,
			Flags:    flags,
			Sequence: seq,
			PID:      pid,
		},
		Data: data,
	}
	b, err := m.MarshalBinary()
	require.NoError(t, err)
	return b
}

var eth0 = testLink{
	index: 2,
	typ:   unix.ARPHRD_ETHER,
	flags: FlagUp | FlagRunning | FlagBroadcast | FlagMulticast,
	name:  "eth0",
	mtu:   1500,
	mac:   net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01},
}

var lo = testLink{
	index:     1,
	typ:       unix.ARPHRD_LOOPBACK,
	flags:     FlagUp | FlagLoopback | FlagLowerUp,
	name:      "lo",
	mtu:       65536,
}

var eth0Addr = testAddr{
	index:  2,
	family: unix.AF_INET,
	prefix: 24,
	scope:  unix.RT_SCOPE_UNIVERSE,
	flags:  uint8(AddrFlagPermanent),
	ip:     netip.MustParseAddr("192.0.2.1"),
	brd:    netip.MustParseAddr("192.0.2.255"),
}

type harness struct {
	t    *testing.T
	conn *netlink.DummyConn
	mon  *Monitor
	b    *netlinkBackend

	added     chan *NetworkInterface
	removed   chan *NetworkInterface
	completed chan struct{}
	changed   chan struct{}
}

func newHarness(t *testing.T) *harness {
	tu.SetT(t)
	h := &harness{
		t:         t,
		conn:      netlink.NewDummyConn(testPid),
		added:     make(chan *NetworkInterface, 16),
		removed:   make(chan *NetworkInterface, 16),
		completed: make(chan struct{}, 4),
		changed:   make(chan struct{}, 64),
	}

	h.mon = newMonitor(DefaultConfig(), func(_ *Config, sig *Signals, onFatal func(error)) (backend, error) {
		b, err := newNetlinkBackend(h.conn, netlink.NewSequencerFrom(1000), sig, onFatal)
		h.b = b
		return b, err
	})
	require.NoError(t, h.mon.Err())

	h.mon.OnInterfaceAdded.Connect(func(ni *NetworkInterface) { h.added <- ni })
	h.mon.OnInterfaceRemoved.Connect(func(ni *NetworkInterface) { h.removed <- ni })
	h.mon.OnEnumerationCompleted.Connect(func(struct{}) { h.completed <- struct{}{} })
	h.mon.OnNetworkStateChanged.Connect(func(struct{}) { h.changed <- struct{}{} })

	require.NoError(t, h.mon.Start())
	t.Cleanup(func() { h.mon.Close() })
	return h
}

// expectDump reads the next request and returns its sequence number.
func (h *harness) expectDump(typ nl.HeaderType) uint32 {
	m := netlink.NewMessage(tu.Recv(h.conn.Sent(), wait))
	require.True(h.t, m.IsValid())
	require.Equal(h.t, typ, m.Type())
	require.Equal(h.t, nl.Request|nl.Dump, m.Flags())
	require.Equal(h.t, uint32(testPid), m.PID())
	return m.Seq()
}

func (h *harness) feed(group uint32, msgs ...[]byte) {
	data := []byte{}
	for _, m := range msgs {
		data = append(data, m...)
	}
	require.True(h.t, h.conn.Feed(netlink.DummyDatagram{Data: data, Group: group}))
}

func (h *harness) done(seq uint32) []byte {
	return buildMsg(h.t, nl.Done, nl.Multi, seq, testPid, make([]byte, 4))
}

func (h *harness) phase() phase {
	var p phase
	require.NoError(h.t, h.b.loop.Call(func() { p = h.b.phase }))
	return p
}

// enumerate answers the link and address dumps.
func (h *harness) enumerate(links []testLink, addrs []testAddr) {
	seq := h.expectDump(unix.RTM_GETLINK)
	msgs := [][]byte{}
	for _, l := range links {
		msgs = append(msgs, buildMsg(h.t, unix.RTM_NEWLINK, nl.Multi, seq, testPid, l.encode(h.t)))
	}
	h.feed(0, append(msgs, h.done(seq))...)

	seq = h.expectDump(unix.RTM_GETADDR)
	msgs = [][]byte{}
	for _, a := range addrs {
		msgs = append(msgs, buildMsg(h.t, unix.RTM_NEWADDR, nl.Multi, seq, testPid, a.encode(h.t)))
	}
	h.feed(0, append(msgs, h.done(seq))...)

	tu.Recv(h.completed, wait)
}

func TestJoinGroups(t *testing.T) {
	h := newHarness(t)
	h.expectDump(unix.RTM_GETLINK)
	require.Equal(t, []uint32{
		unix.RTNLGRP_LINK,
		unix.RTNLGRP_IPV4_IFADDR, unix.RTNLGRP_IPV4_ROUTE,
		unix.RTNLGRP_IPV6_IFADDR, unix.RTNLGRP_IPV6_ROUTE,
	}, h.conn.Groups())
	require.Equal(t, CapEnum|CapIfAddRemove|CapStateChange|CapMtuChange|CapAddrAddRemove, h.mon.Capabilities())
}

func TestEnumeration(t *testing.T) {
	h := newHarness(t)
	require.Equal(t, phaseEnumeratingLinks, h.phase())

	linkSeq := h.expectDump(unix.RTM_GETLINK)
	require.Equal(t, uint32(1001), linkSeq)

	wlan := testLink{index: 3, typ: unix.ARPHRD_IEEE80211_RADIOTAP, name: "mon0", mtu: 1500}
	h.feed(0,
		buildMsg(t, unix.RTM_NEWLINK, nl.Multi, linkSeq, testPid, eth0.encode(t)),
		buildMsg(t, unix.RTM_NEWLINK, nl.Multi, linkSeq, testPid, lo.encode(t)),
		buildMsg(t, unix.RTM_NEWLINK, nl.Multi, linkSeq, testPid, wlan.encode(t)),
	)

	ni := tu.Recv(h.added, wait)
	require.Equal(t, "eth0", ni.Name())
	require.Equal(t, "lo", tu.Recv(h.added, wait).Name())
	tu.NoRecv(h.added, 50*time.Millisecond)
	require.Equal(t, phaseEnumeratingLinks, h.phase())

	// NLMSG_DONE of the link dump starts the address dump
	h.feed(0, h.done(linkSeq))
	addrFrame := tu.Recv(h.conn.Sent(), wait)
	m := netlink.NewMessage(addrFrame)
	require.Equal(t, nl.HeaderType(unix.RTM_GETADDR), m.Type())
	require.Equal(t, uint32(24), m.Header().Length)
	require.Greater(t, m.Seq(), linkSeq)
	require.Equal(t, phaseEnumeratingAddrs, h.phase())

	h.feed(0,
		buildMsg(t, unix.RTM_NEWADDR, nl.Multi, m.Seq(), testPid, eth0Addr.encode(t)),
		h.done(m.Seq()),
	)
	tu.Recv(h.completed, wait)
	require.Equal(t, phaseComplete, h.phase())

	// no aggregate signal during enumeration
	tu.NoRecv(h.changed, 50*time.Millisecond)

	list := h.mon.ListNetworkInterfaces()
	require.Len(t, list, 2)
	require.Equal(t, "lo", list[0].Name())
	require.Equal(t, "eth0", list[1].Name())

	ni = h.mon.GetNetworkInterface("eth0")
	require.NotNil(t, ni)
	require.Equal(t, int32(2), ni.Index())
	require.Equal(t, InterfaceTypeEthernet, ni.Type())
	require.Equal(t, uint32(1500), ni.Mtu())
	require.Equal(t, InterfaceStateRunning, ni.State())
	require.Equal(t, eth0.mac, ni.EthernetAddress())
	require.True(t, ni.CanBroadcast())
	require.True(t, ni.CanMulticast())
	require.False(t, ni.IsLoopback())

	addrs := ni.NetworkAddresses()
	require.Len(t, addrs, 1)
	require.Equal(t, AddressFamilyV4, addrs[0].Family)
	require.Equal(t, "192.0.2.1/24", addrs[0].String())
	require.Equal(t, netip.MustParseAddr("192.0.2.255"), addrs[0].Broadcast)
	require.Equal(t, AddressScopeGlobal, addrs[0].Scope)

	require.True(t, h.mon.GetNetworkInterface("lo").IsLoopback())
	require.Equal(t, InterfaceStateRunning, h.mon.GetNetworkInterface("lo").State())
	require.Nil(t, h.mon.GetNetworkInterface("mon0"))

	// a late NLMSG_DONE does not restart anything
	h.feed(0, h.done(m.Seq()))
	tu.NoRecv(h.conn.Sent(), 50*time.Millisecond)
	tu.NoRecv(h.completed, 50*time.Millisecond)
	require.Equal(t, phaseComplete, h.phase())
}

func TestLinkRemoved(t *testing.T) {
	h := newHarness(t)
	h.enumerate([]testLink{eth0}, nil)
	added := tu.Recv(h.added, wait)

	h.feed(unix.RTNLGRP_LINK, buildMsg(t, unix.RTM_DELLINK, 0, 0, 0, eth0.encode(t)))
	require.Same(t, added, tu.Recv(h.removed, wait))
	tu.Recv(h.changed, wait)
	require.Nil(t, h.mon.GetNetworkInterface("eth0"))
	require.Empty(t, h.mon.ListNetworkInterfaces())

	// removing an unknown interface is a no-op
	h.feed(unix.RTNLGRP_LINK, buildMsg(t, unix.RTM_DELLINK, 0, 0, 0, eth0.encode(t)))
	tu.Recv(h.changed, wait)
	tu.NoRecv(h.removed, 50*time.Millisecond)
}

func TestLinkUpdate(t *testing.T) {
	h := newHarness(t)
	h.enumerate([]testLink{eth0}, nil)
	ni := tu.Recv(h.added, wait)

	states := make(chan StateChange, 4)
	mtus := make(chan MtuChange, 4)
	ni.OnStateChanged.Connect(func(c StateChange) { states <- c })
	ni.OnMtuChanged.Connect(func(c MtuChange) { mtus <- c })

	// no name: the name is kept
	update := testLink{index: 2, typ: unix.ARPHRD_ETHER, flags: FlagUp, mtu: 9000}
	h.feed(unix.RTNLGRP_LINK, buildMsg(t, unix.RTM_NEWLINK, 0, 0, 0, update.encode(t)))
	tu.Recv(h.changed, wait)

	require.Equal(t, MtuChange{Old: 1500, New: 9000}, tu.Recv(mtus, wait))
	require.Equal(t, StateChange{Old: InterfaceStateRunning, New: InterfaceStateNoCarrier}, tu.Recv(states, wait))
	tu.NoRecv(h.added, 50*time.Millisecond)

	require.Equal(t, "eth0", ni.Name())
	require.Equal(t, FlagUp, ni.Flags())
	require.Same(t, ni, h.mon.GetNetworkInterface("eth0"))

	// operstate takes precedence over flags
	update.operState = operStateDormant
	h.feed(unix.RTNLGRP_LINK, buildMsg(t, unix.RTM_NEWLINK, 0, 0, 0, update.encode(t)))
	tu.Recv(h.changed, wait)
	require.Equal(t, StateChange{Old: InterfaceStateNoCarrier, New: InterfaceStateDormant}, tu.Recv(states, wait))
	tu.NoRecv(mtus, 50*time.Millisecond)
}

func TestAddressIdempotent(t *testing.T) {
	h := newHarness(t)
	h.enumerate([]testLink{eth0}, nil)
	ni := tu.Recv(h.added, wait)

	addrAdded := make(chan NetworkAddress, 4)
	addrRemoved := make(chan NetworkAddress, 4)
	ni.OnAddressAdded.Connect(func(a NetworkAddress) { addrAdded <- a })
	ni.OnAddressRemoved.Connect(func(a NetworkAddress) { addrRemoved <- a })

	msg := buildMsg(t, unix.RTM_NEWADDR, 0, 0, 0, eth0Addr.encode(t))
	h.feed(unix.RTNLGRP_IPV4_IFADDR, msg)
	tu.Recv(h.changed, wait)
	require.Equal(t, "192.0.2.1/24", tu.Recv(addrAdded, wait).String())
	require.Len(t, ni.NetworkAddresses(), 1)

	h.feed(unix.RTNLGRP_IPV4_IFADDR, msg)
	tu.Recv(h.changed, wait)
	tu.NoRecv(addrAdded, 50*time.Millisecond)
	require.Len(t, ni.NetworkAddresses(), 1)

	// same IP with other flags replaces the entry
	changed := eth0Addr
	changed.extFlags = AddrFlagPermanent | AddrFlagDeprecated
	h.feed(unix.RTNLGRP_IPV4_IFADDR, buildMsg(t, unix.RTM_NEWADDR, 0, 0, 0, changed.encode(t)))
	tu.Recv(h.changed, wait)
	require.False(t, tu.Recv(addrRemoved, wait).IsDeprecated())
	require.True(t, tu.Recv(addrAdded, wait).IsDeprecated())
	require.Len(t, ni.NetworkAddresses(), 1)

	h.feed(unix.RTNLGRP_IPV4_IFADDR, buildMsg(t, unix.RTM_DELADDR, 0, 0, 0, eth0Addr.encode(t)))
	tu.Recv(h.changed, wait)
	require.Equal(t, eth0Addr.ip, tu.Recv(addrRemoved, wait).IP)
	require.Empty(t, ni.NetworkAddresses())
}

func TestAddressIPv6(t *testing.T) {
	h := newHarness(t)
	ll := testAddr{
		index:    2,
		family:   unix.AF_INET6,
		prefix:   64,
		scope:    unix.RT_SCOPE_LINK,
		ip:       netip.MustParseAddr("fe80::1"),
		extFlags: AddrFlagPermanent | AddrFlagNoDad,
	}
	global := testAddr{
		index:  2,
		family: unix.AF_INET6,
		prefix: 64,
		scope:  unix.RT_SCOPE_UNIVERSE,
		flags:  uint8(AddrFlagDeprecated),
		ip:     netip.MustParseAddr("2001:db8::1"),
	}
	h.enumerate([]testLink{eth0}, []testAddr{ll, global})

	addrs := h.mon.GetNetworkInterface("eth0").NetworkAddresses()
	require.Len(t, addrs, 2)

	require.Equal(t, "2001:db8::1", addrs[0].IP.String())
	require.Equal(t, AddressScopeGlobal, addrs[0].Scope)
	require.True(t, addrs[0].IsDeprecated())

	require.Equal(t, "fe80::1%2", addrs[1].IP.String())
	require.Equal(t, AddressFamilyV6, addrs[1].Family)
	require.Equal(t, AddressScopeLink, addrs[1].Scope)
	require.Equal(t, AddrFlagPermanent|AddrFlagNoDad, addrs[1].Flags)
	require.Equal(t, netip.MustParsePrefix("fe80::/64"), addrs[1].Prefix())
}

func TestAddressUnknownInterface(t *testing.T) {
	h := newHarness(t)
	other := eth0Addr
	other.index = 7
	h.enumerate([]testLink{eth0}, []testAddr{other})
	require.Empty(t, h.mon.GetNetworkInterface("eth0").NetworkAddresses())
}

func TestAddressWithoutIP(t *testing.T) {
	h := newHarness(t)
	h.enumerate([]testLink{eth0}, nil)
	ni := tu.Recv(h.added, wait)

	addrAdded := make(chan NetworkAddress, 4)
	ni.OnAddressAdded.Connect(func(a NetworkAddress) { addrAdded <- a })

	// IFA_LOCAL and IFA_ADDRESS are present but empty
	noIP := eth0Addr
	noIP.ip = netip.Addr{}
	noIP.brd = netip.Addr{}
	h.feed(unix.RTNLGRP_IPV4_IFADDR, buildMsg(t, unix.RTM_NEWADDR, 0, 0, 0, noIP.encode(t)))
	tu.Recv(h.changed, wait)
	tu.NoRecv(addrAdded, 50*time.Millisecond)
	require.Empty(t, ni.NetworkAddresses())

	noIP.family = unix.AF_INET6
	h.feed(unix.RTNLGRP_IPV6_IFADDR, buildMsg(t, unix.RTM_NEWADDR, 0, 0, 0, noIP.encode(t)))
	tu.Recv(h.changed, wait)
	tu.NoRecv(addrAdded, 50*time.Millisecond)
	require.Empty(t, ni.NetworkAddresses())
}

func TestEnumerationBackToBack(t *testing.T) {
	h := newHarness(t)
	linkSeq := h.expectDump(unix.RTM_GETLINK)
	// the address dump takes the next sequence number
	addrSeq := linkSeq + 1

	links := concat(
		buildMsg(t, unix.RTM_NEWLINK, nl.Multi, linkSeq, testPid, lo.encode(t)),
		buildMsg(t, unix.RTM_NEWLINK, nl.Multi, linkSeq, testPid, eth0.encode(t)),
		h.done(linkSeq),
	)
	addrs := concat(
		buildMsg(t, unix.RTM_NEWADDR, nl.Multi, addrSeq, testPid, eth0Addr.encode(t)),
		h.done(addrSeq),
	)

	// the address replies are ready before the link dump has been handled
	fed := make(chan bool, 2)
	go func() {
		fed <- h.conn.Feed(netlink.DummyDatagram{Data: links})
		fed <- h.conn.Feed(netlink.DummyDatagram{Data: addrs})
	}()
	require.True(t, tu.Recv(fed, wait))
	require.True(t, tu.Recv(fed, wait))

	require.Equal(t, addrSeq, h.expectDump(unix.RTM_GETADDR))
	tu.Recv(h.completed, wait)
	require.Equal(t, phaseComplete, h.phase())

	require.Equal(t, "lo", tu.Recv(h.added, wait).Name())
	require.Equal(t, "eth0", tu.Recv(h.added, wait).Name())
	tu.NoRecv(h.added, 50*time.Millisecond)
	tu.NoRecv(h.changed, 50*time.Millisecond)

	got := h.mon.GetNetworkInterface("eth0").NetworkAddresses()
	require.Len(t, got, 1)
	require.Equal(t, "192.0.2.1/24", got[0].String())
}

func concat(parts ...[]byte) []byte {
	out := []byte{}
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func TestErrorMessageNotFatal(t *testing.T) {
	h := newHarness(t)
	seq := h.expectDump(unix.RTM_GETLINK)

	errPayload := make([]byte, netlink.SizeofNlMsgErr)
	nlenc.PutInt32(errPayload[0:4], -int32(unix.EINVAL))
	h.feed(0, buildMsg(t, nl.Error, 0, seq, testPid, errPayload))

	require.Eventually(t, func() bool {
		return h.b.loop.Call(func() {}) == nil && !h.b.rtnl.IsClosed()
	}, wait, 10*time.Millisecond)
	require.NoError(t, h.mon.Err())
	require.NotEqual(t, CapNone, h.mon.Capabilities())
	require.Equal(t, phaseEnumeratingLinks, h.phase())
}

func TestDumpInterruptedDowngrades(t *testing.T) {
	h := newHarness(t)
	seq := h.expectDump(unix.RTM_GETLINK)

	h.feed(0, buildMsg(t, unix.RTM_NEWLINK, nl.Multi|nl.DumpInterrupted, seq, testPid, eth0.encode(t)))

	require.Eventually(t, func() bool {
		return h.mon.Capabilities() == CapNone
	}, wait, 10*time.Millisecond)
	require.ErrorIs(t, h.mon.Err(), netlink.ErrDumpInterrupted)
	require.Empty(t, h.mon.ListNetworkInterfaces())
	tu.NoRecv(h.added, 50*time.Millisecond)
	require.Eventually(t, h.conn.IsClosed, wait, 10*time.Millisecond)
}

func TestInterfaceState(t *testing.T) {
	for _, tc := range []struct {
		operState uint8
		flags     uint32
		state     InterfaceState
	}{
		{operStateUp, 0, InterfaceStateRunning},
		{operStateDormant, FlagUp | FlagLowerUp, InterfaceStateDormant},
		{0, FlagUp | FlagLowerUp, InterfaceStateRunning},
		{0, FlagUp | FlagRunning, InterfaceStateRunning},
		{0, FlagUp | FlagLowerUp | FlagDormant, InterfaceStateNoCarrier},
		{0, FlagUp, InterfaceStateNoCarrier},
		{2, 0, InterfaceStateDown}, // IF_OPER_DOWN
		{0, 0, InterfaceStateDown},
	} {
		require.Equal(t, tc.state, interfaceState(tc.operState, tc.flags), "operstate=%d flags=%#x", tc.operState, tc.flags)
	}
}

func TestPhaseRegressionPanics(t *testing.T) {
	b := &netlinkBackend{phase: phaseEnumeratingAddrs}
	require.Panics(t, func() { b.setPhase(phaseEnumeratingLinks) })
	require.NotPanics(t, func() { b.setPhase(phaseComplete) })
}
