package netmon

import (
	"fmt"
	"net"
	"slices"
	"sync"

	"github.com/named-data/ndnnet/std/types/signal"
)

// StateChange is emitted when the state of an interface changes.
type StateChange struct {
	Old InterfaceState
	New InterfaceState
}

// MtuChange is emitted when the MTU of an interface changes.
type MtuChange struct {
	Old uint32
	New uint32
}

// NetworkInterface is a network interface known to a Monitor.
// Callers may read it from any goroutine. It is only modified by its backend,
// which also emits its signals.
type NetworkInterface struct {
	mutex sync.RWMutex

	index        int32
	name         string
	typ          InterfaceType
	flags        uint32
	state        InterfaceState
	mtu          uint32
	etherAddr    net.HardwareAddr
	etherBrdAddr net.HardwareAddr
	// sorted by IP
	addrs []NetworkAddress

	OnStateChanged   signal.Signal[StateChange]
	OnMtuChanged     signal.Signal[MtuChange]
	OnAddressAdded   signal.Signal[NetworkAddress]
	OnAddressRemoved signal.Signal[NetworkAddress]
}

func newNetworkInterface(index int32) *NetworkInterface {
	return &NetworkInterface{index: index}
}

func (ni *NetworkInterface) String() string {
	ni.mutex.RLock()
	defer ni.mutex.RUnlock()
	return fmt.Sprintf("%s (index=%d)", ni.name, ni.index)
}

// Index returns the OS index of the interface.
func (ni *NetworkInterface) Index() int32 {
	ni.mutex.RLock()
	defer ni.mutex.RUnlock()
	return ni.index
}

// Name returns the interface name, e.g. "eth0".
func (ni *NetworkInterface) Name() string {
	ni.mutex.RLock()
	defer ni.mutex.RUnlock()
	return ni.name
}

func (ni *NetworkInterface) Type() InterfaceType {
	ni.mutex.RLock()
	defer ni.mutex.RUnlock()
	return ni.typ
}

// Flags returns the OS interface flags, see FlagUp and friends.
func (ni *NetworkInterface) Flags() uint32 {
	ni.mutex.RLock()
	defer ni.mutex.RUnlock()
	return ni.flags
}

func (ni *NetworkInterface) State() InterfaceState {
	ni.mutex.RLock()
	defer ni.mutex.RUnlock()
	return ni.state
}

func (ni *NetworkInterface) Mtu() uint32 {
	ni.mutex.RLock()
	defer ni.mutex.RUnlock()
	return ni.mtu
}

// EthernetAddress returns the link-layer address, if any.
func (ni *NetworkInterface) EthernetAddress() net.HardwareAddr {
	ni.mutex.RLock()
	defer ni.mutex.RUnlock()
	return slices.Clone(ni.etherAddr)
}

// EthernetBroadcastAddress returns the link-layer broadcast address, if any.
func (ni *NetworkInterface) EthernetBroadcastAddress() net.HardwareAddr {
	ni.mutex.RLock()
	defer ni.mutex.RUnlock()
	return slices.Clone(ni.etherBrdAddr)
}

// NetworkAddresses returns the addresses of the interface ordered by IP.
func (ni *NetworkInterface) NetworkAddresses() []NetworkAddress {
	ni.mutex.RLock()
	defer ni.mutex.RUnlock()
	return slices.Clone(ni.addrs)
}

func (ni *NetworkInterface) IsLoopback() bool {
	return ni.Flags()&FlagLoopback != 0
}

func (ni *NetworkInterface) IsPointToPoint() bool {
	return ni.Flags()&FlagPointToPoint != 0
}

func (ni *NetworkInterface) CanBroadcast() bool {
	return ni.Flags()&FlagBroadcast != 0
}

func (ni *NetworkInterface) CanMulticast() bool {
	return ni.Flags()&FlagMulticast != 0
}

// IsUp reports whether the interface is administratively up.
func (ni *NetworkInterface) IsUp() bool {
	return ni.Flags()&FlagUp != 0
}

func (ni *NetworkInterface) setName(name string) {
	ni.mutex.Lock()
	defer ni.mutex.Unlock()
	ni.name = name
}

func (ni *NetworkInterface) setType(typ InterfaceType) {
	ni.mutex.Lock()
	defer ni.mutex.Unlock()
	ni.typ = typ
}

func (ni *NetworkInterface) setFlags(flags uint32) {
	ni.mutex.Lock()
	defer ni.mutex.Unlock()
	ni.flags = flags
}

func (ni *NetworkInterface) setEthernetAddress(addr net.HardwareAddr) {
	ni.mutex.Lock()
	defer ni.mutex.Unlock()
	ni.etherAddr = addr
}

func (ni *NetworkInterface) setEthernetBroadcastAddress(addr net.HardwareAddr) {
	ni.mutex.Lock()
	defer ni.mutex.Unlock()
	ni.etherBrdAddr = addr
}

func (ni *NetworkInterface) setState(state InterfaceState) {
	ni.mutex.Lock()
	old := ni.state
	ni.state = state
	ni.mutex.Unlock()

	if old != state {
		ni.OnStateChanged.Emit(StateChange{Old: old, New: state})
	}
}

func (ni *NetworkInterface) setMtu(mtu uint32) {
	ni.mutex.Lock()
	old := ni.mtu
	ni.mtu = mtu
	ni.mutex.Unlock()

	if old != mtu {
		ni.OnMtuChanged.Emit(MtuChange{Old: old, New: mtu})
	}
}

// addNetworkAddress inserts addr, keyed by IP. Adding an identical address
// is a no-op. An address with the same IP but other fields replaces the
// existing one, which is reported as removed before addr is reported as added.
// Returns whether the set changed.
func (ni *NetworkInterface) addNetworkAddress(addr NetworkAddress) bool {
	ni.mutex.Lock()
	i, found := slices.BinarySearchFunc(ni.addrs, addr, NetworkAddress.Compare)
	var replaced NetworkAddress
	if found {
		if ni.addrs[i] == addr {
			ni.mutex.Unlock()
			return false
		}
		replaced = ni.addrs[i]
		ni.addrs[i] = addr
	} else {
		ni.addrs = slices.Insert(ni.addrs, i, addr)
	}
	ni.mutex.Unlock()

	if found {
		ni.OnAddressRemoved.Emit(replaced)
	}
	ni.OnAddressAdded.Emit(addr)
	return true
}

// removeNetworkAddress removes the address with the IP of addr.
// Returns whether the set changed.
func (ni *NetworkInterface) removeNetworkAddress(addr NetworkAddress) bool {
	ni.mutex.Lock()
	i, found := slices.BinarySearchFunc(ni.addrs, addr, NetworkAddress.Compare)
	if !found {
		ni.mutex.Unlock()
		return false
	}
	removed := ni.addrs[i]
	ni.addrs = slices.Delete(ni.addrs, i, i+1)
	ni.mutex.Unlock()

	ni.OnAddressRemoved.Emit(removed)
	return true
}
