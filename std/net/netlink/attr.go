package netlink

import (
	"bytes"
	"maps"
	"net"
	"net/netip"
	"slices"

	"github.com/mdlayher/netlink/nlenc"
	"github.com/named-data/ndnnet/std/types/optional"
	"github.com/named-data/ndnnet/std/utils"
)

// AttrFormat describes one of the two attribute TLV layouts.
type AttrFormat struct {
	name     string
	hdrLen   int
	align    int
	typeMask uint16
}

var (
	// RouteAttr is struct rtattr, used by rtnetlink.
	RouteAttr = AttrFormat{name: "rtattr", hdrLen: rtaHdrLen, align: rtaAlignTo, typeMask: 0xffff}
	// GenericAttr is struct nlattr, used by generic netlink. The nested and
	// byte-order bits are masked out of the type.
	GenericAttr = AttrFormat{name: "nlattr", hdrLen: nlaHdrLen, align: nlaAlignTo, typeMask: nlaTypeMask}
)

func (f AttrFormat) String() string {
	return f.name
}

// AttributeTable maps attribute types to their values.
// If a type appears more than once, the last occurrence wins.
type AttributeTable struct {
	attrs map[uint16][]byte
}

// ParseAttributes walks an attribute chain. A truncated or malformed
// attribute ends the walk; attributes collected before it are kept.
func ParseAttributes(b []byte, f AttrFormat) AttributeTable {
	t := AttributeTable{attrs: make(map[uint16][]byte)}

	for len(b) >= f.hdrLen {
		l := int(nlenc.Uint16(b[0:2]))
		if l < f.hdrLen || l > len(b) {
			break
		}

		typ := nlenc.Uint16(b[2:4]) & f.typeMask
		t.attrs[typ] = b[f.hdrLen:l]

		next := int(utils.AlignUp(uint(l), uint(f.align)))
		if next > len(b) {
			break
		}
		b = b[next:]
	}

	return t
}

// Len returns the number of distinct attribute types.
func (t AttributeTable) Len() int {
	return len(t.attrs)
}

// Has reports whether an attribute of the given type is present.
func (t AttributeTable) Has(typ uint16) bool {
	_, ok := t.attrs[typ]
	return ok
}

// Bytes returns the raw value of an attribute.
func (t AttributeTable) Bytes(typ uint16) optional.Optional[[]byte] {
	if v, ok := t.attrs[typ]; ok {
		return optional.Some(v)
	}
	return optional.None[[]byte]()
}

// Types returns the attribute types present, in ascending order.
func (t AttributeTable) Types() []uint16 {
	return slices.Sorted(maps.Keys(t.attrs))
}

// Nested parses the value of an attribute as a nested attribute chain.
func (t AttributeTable) Nested(typ uint16, f AttrFormat) optional.Optional[AttributeTable] {
	if v, ok := t.attrs[typ]; ok {
		return optional.Some(ParseAttributes(v, f))
	}
	return optional.None[AttributeTable]()
}

func (t AttributeTable) sized(typ uint16, size int) []byte {
	v, ok := t.attrs[typ]
	if !ok || len(v) != size {
		return nil
	}
	return v
}

// Uint8 returns a one-byte attribute value.
func (t AttributeTable) Uint8(typ uint16) optional.Optional[uint8] {
	if v := t.sized(typ, 1); v != nil {
		return optional.Some(v[0])
	}
	return optional.None[uint8]()
}

// Uint16 returns a native-endian two-byte attribute value.
func (t AttributeTable) Uint16(typ uint16) optional.Optional[uint16] {
	if v := t.sized(typ, 2); v != nil {
		return optional.Some(nlenc.Uint16(v))
	}
	return optional.None[uint16]()
}

// Uint32 returns a native-endian four-byte attribute value.
func (t AttributeTable) Uint32(typ uint16) optional.Optional[uint32] {
	if v := t.sized(typ, 4); v != nil {
		return optional.Some(nlenc.Uint32(v))
	}
	return optional.None[uint32]()
}

// Uint64 returns a native-endian eight-byte attribute value.
func (t AttributeTable) Uint64(typ uint16) optional.Optional[uint64] {
	if v := t.sized(typ, 8); v != nil {
		return optional.Some(nlenc.Uint64(v))
	}
	return optional.None[uint64]()
}

// String returns a NUL-terminated string attribute, without the terminator.
// Values with no NUL inside the declared length are rejected.
func (t AttributeTable) String(typ uint16) optional.Optional[string] {
	v, ok := t.attrs[typ]
	if !ok {
		return optional.None[string]()
	}
	i := bytes.IndexByte(v, 0)
	if i < 0 {
		return optional.None[string]()
	}
	return optional.Some(string(v[:i]))
}

// EthernetAddress returns the first six bytes of an attribute as a MAC address.
func (t AttributeTable) EthernetAddress(typ uint16) optional.Optional[net.HardwareAddr] {
	v, ok := t.attrs[typ]
	if !ok || len(v) < 6 {
		return optional.None[net.HardwareAddr]()
	}
	return optional.Some(net.HardwareAddr(bytes.Clone(v[:6])))
}

// IPv4 returns the first four bytes of an attribute as an IPv4 address.
func (t AttributeTable) IPv4(typ uint16) optional.Optional[netip.Addr] {
	v, ok := t.attrs[typ]
	if !ok || len(v) < 4 {
		return optional.None[netip.Addr]()
	}
	return optional.Some(netip.AddrFrom4([4]byte(v[:4])))
}

// IPv6 returns the first sixteen bytes of an attribute as an IPv6 address.
func (t AttributeTable) IPv6(typ uint16) optional.Optional[netip.Addr] {
	v, ok := t.attrs[typ]
	if !ok || len(v) < 16 {
		return optional.None[netip.Addr]()
	}
	return optional.Some(netip.AddrFrom16([16]byte(v[:16])))
}
