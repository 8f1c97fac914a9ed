package netlink

import (
	"fmt"

	nl "github.com/mdlayher/netlink"
	"github.com/mdlayher/netlink/nlenc"
	"github.com/named-data/ndnnet/std/types/optional"
)

// Message is a read-only view of one netlink message inside a datagram.
// The view spans from the start of the message to the end of the datagram
// and is only valid as long as the datagram buffer is not reused.
type Message struct {
	buf []byte
}

// NewMessage returns a view of the first message in b.
func NewMessage(b []byte) Message {
	return Message{buf: b}
}

// IsValid reports whether the view holds a complete, length-consistent header.
func (m Message) IsValid() bool {
	if len(m.buf) < HeaderLen {
		return false
	}
	l := uint64(m.length())
	return l >= HeaderLen && l <= uint64(len(m.buf))
}

// Next returns the view following this message. The result is invalid if this
// view is invalid or if the padded message length runs past the datagram.
func (m Message) Next() Message {
	if !m.IsValid() {
		return Message{}
	}
	l := nlmsgAlign(uint64(m.length()))
	if l > uint64(len(m.buf)) {
		return Message{}
	}
	return Message{buf: m.buf[l:]}
}

func (m Message) length() uint32 {
	return nlenc.Uint32(m.buf[0:4])
}

// Header decodes the nlmsghdr. The view must be valid.
func (m Message) Header() nl.Header {
	return nl.Header{
		Length:   m.length(),
		Type:     nl.HeaderType(nlenc.Uint16(m.buf[4:6])),
		Flags:    nl.HeaderFlags(nlenc.Uint16(m.buf[6:8])),
		Sequence: nlenc.Uint32(m.buf[8:12]),
		PID:      nlenc.Uint32(m.buf[12:16]),
	}
}

func (m Message) Type() nl.HeaderType {
	return nl.HeaderType(nlenc.Uint16(m.buf[4:6]))
}

func (m Message) Flags() nl.HeaderFlags {
	return nl.HeaderFlags(nlenc.Uint16(m.buf[6:8]))
}

func (m Message) Seq() uint32 {
	return nlenc.Uint32(m.buf[8:12])
}

func (m Message) PID() uint32 {
	return nlenc.Uint32(m.buf[12:16])
}

// Data returns the bytes following the header, up to the declared length.
func (m Message) Data() []byte {
	return m.buf[HeaderLen:m.length()]
}

// Payload returns the first size bytes of the message data, or nil if the
// message is too short to hold them.
func (m Message) Payload(size int) []byte {
	data := m.Data()
	if len(data) < size {
		return nil
	}
	return data[:size]
}

// RouteAttributes parses the rtattr chain following a payload of the given size.
func (m Message) RouteAttributes(payloadSize int) AttributeTable {
	return ParseAttributes(m.attrData(payloadSize), RouteAttr)
}

// GenericAttributes parses the nlattr chain following a payload of the given size.
func (m Message) GenericAttributes(payloadSize int) AttributeTable {
	return ParseAttributes(m.attrData(payloadSize), GenericAttr)
}

func (m Message) attrData(payloadSize int) []byte {
	data := m.Data()
	off := nlmsgAlign(uint64(payloadSize))
	if off > uint64(len(data)) {
		return nil
	}
	return data[off:]
}

func (m Message) String() string {
	if !m.IsValid() {
		return "invalid"
	}
	h := m.Header()
	return fmt.Sprintf("type=%d flags=%s seq=%d pid=%d len=%d", h.Type, h.Flags, h.Sequence, h.PID, h.Length)
}

// Messages returns a view of every valid message in the datagram, in wire order.
// The walk stops at the first invalid message.
func Messages(datagram []byte) []Message {
	msgs := []Message{}
	for m := NewMessage(datagram); m.IsValid(); m = m.Next() {
		msgs = append(msgs, m)
	}
	return msgs
}

// IfInfoMsg is struct ifinfomsg.
type IfInfoMsg struct {
	Family uint8
	Type   uint16
	Index  int32
	Flags  uint32
	Change uint32
}

// IfInfoMsg decodes the payload of a link message.
func (m Message) IfInfoMsg() optional.Optional[IfInfoMsg] {
	b := m.Payload(SizeofIfInfoMsg)
	if b == nil {
		return optional.None[IfInfoMsg]()
	}
	return optional.Some(IfInfoMsg{
		Family: b[0],
		Type:   nlenc.Uint16(b[2:4]),
		Index:  nlenc.Int32(b[4:8]),
		Flags:  nlenc.Uint32(b[8:12]),
		Change: nlenc.Uint32(b[12:16]),
	})
}

// IfAddrMsg is struct ifaddrmsg.
type IfAddrMsg struct {
	Family    uint8
	PrefixLen uint8
	Flags     uint8
	Scope     uint8
	Index     uint32
}

// IfAddrMsg decodes the payload of an address message.
func (m Message) IfAddrMsg() optional.Optional[IfAddrMsg] {
	b := m.Payload(SizeofIfAddrMsg)
	if b == nil {
		return optional.None[IfAddrMsg]()
	}
	return optional.Some(IfAddrMsg{
		Family:    b[0],
		PrefixLen: b[1],
		Flags:     b[2],
		Scope:     b[3],
		Index:     nlenc.Uint32(b[4:8]),
	})
}

// GenlMsgHdr is struct genlmsghdr.
type GenlMsgHdr struct {
	Command uint8
	Version uint8
}

// GenlMsgHdr decodes the payload of a generic netlink message.
func (m Message) GenlMsgHdr() optional.Optional[GenlMsgHdr] {
	b := m.Payload(SizeofGenlMsgHdr)
	if b == nil {
		return optional.None[GenlMsgHdr]()
	}
	return optional.Some(GenlMsgHdr{Command: b[0], Version: b[1]})
}

// NlMsgErr is struct nlmsgerr. Error is zero for an ACK and a negative
// errno otherwise.
type NlMsgErr struct {
	Error int32
	Msg   nl.Header
}

// NlMsgErr decodes the payload of an NLMSG_ERROR message.
func (m Message) NlMsgErr() optional.Optional[NlMsgErr] {
	b := m.Payload(SizeofNlMsgErr)
	if b == nil {
		return optional.None[NlMsgErr]()
	}
	return optional.Some(NlMsgErr{
		Error: nlenc.Int32(b[0:4]),
		Msg:   NewMessage(b[4:]).Header(),
	})
}

// DoneErr decodes the error code that NLMSG_DONE carries in its payload.
func (m Message) DoneErr() optional.Optional[int32] {
	b := m.Payload(4)
	if b == nil {
		return optional.None[int32]()
	}
	return optional.Some(nlenc.Int32(b))
}

// ExtAckAttributes returns the extended ACK attributes of an NLMSG_ERROR or
// NLMSG_DONE message. The table is empty unless NLM_F_ACK_TLVS is set.
func (m Message) ExtAckAttributes() AttributeTable {
	if m.Flags()&nl.AcknowledgeTLVs == 0 {
		return AttributeTable{}
	}

	switch m.Type() {
	case nl.Done:
		return m.GenericAttributes(4)
	case nl.Error:
		e, ok := m.NlMsgErr().Get()
		if !ok {
			return AttributeTable{}
		}
		off := uint64(SizeofNlMsgErr)
		if m.Flags()&nl.Capped == 0 && e.Msg.Length > HeaderLen {
			// the request is echoed in full; its header is already counted
			off += uint64(e.Msg.Length) - HeaderLen
		}
		off = nlmsgAlign(off)

		data := m.Data()
		if off >= uint64(len(data)) {
			return AttributeTable{}
		}
		return ParseAttributes(data[off:], GenericAttr)
	}
	return AttributeTable{}
}
