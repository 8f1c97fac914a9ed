package netlink

import "github.com/named-data/ndnnet/std/utils"

// Kernel ABI sizes and constants that are not exported by x/sys/unix on
// every platform. The wire decoder is portable so it can be fuzzed anywhere.
const (
	nlmsgAlignTo = 4
	// HeaderLen is the size of struct nlmsghdr.
	HeaderLen = 16

	rtaAlignTo = 4
	rtaHdrLen  = 4
	nlaAlignTo = 4
	nlaHdrLen  = 4

	nlaFNested       = 1 << 15
	nlaFNetByteorder = 1 << 14
	nlaTypeMask      = ^uint16(nlaFNested | nlaFNetByteorder)

	SizeofIfInfoMsg  = 16
	SizeofIfAddrMsg  = 8
	SizeofGenlMsgHdr = 4
	SizeofNlMsgErr   = 4 + HeaderLen
)

// Extended ACK attributes carried by NLMSG_ERROR and NLMSG_DONE.
const (
	NlMsgErrAttrMsg  = 1
	NlMsgErrAttrOffs = 2
)

// IFLA_EXT_MASK filter bit asking the kernel to omit interface statistics.
const RtextFilterSkipStats = 1 << 3

// Generic netlink control family.
const (
	GenlIdCtrl   = 0x10
	GenlMinId    = 0x10
	GenlNameSize = 16

	CtrlCmdNewFamily = 1
	CtrlCmdGetFamily = 3

	CtrlAttrFamilyId   = 1
	CtrlAttrFamilyName = 2
)

func nlmsgAlign(n uint64) uint64 {
	return utils.AlignUp(n, nlmsgAlignTo)
}
