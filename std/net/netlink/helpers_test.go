package netlink

import (
	"testing"

	nl "github.com/mdlayher/netlink"
	"github.com/stretchr/testify/require"
)

const testPid = 4242

func buildMsg(t *testing.T, typ nl.HeaderType, flags nl.HeaderFlags, seq, pid uint32, data []byte) []byte {
	t.Helper()
	m := nl.Message{
		Header: nl.Header{
			Length:   uint32(nlmsgAlign(uint64(HeaderLen + len(data)))),
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

func encodeAttrs(t *testing.T, fn func(ae *nl.AttributeEncoder)) []byte {
	t.Helper()
	ae := nl.NewAttributeEncoder()
	fn(ae)
	b, err := ae.Encode()
	require.NoError(t, err)
	return b
}

func concat(parts ...[]byte) []byte {
	out := []byte{}
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
