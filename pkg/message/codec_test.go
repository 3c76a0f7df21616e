package message

import (
	"encoding/binary"
	"math"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"
)

var (
	a1 = netip.MustParseAddr("fd00::1")
	a2 = netip.MustParseAddr("fd00::2")
	a3 = netip.MustParseAddr("fd00::3")
)

func TestForwardAntRoundTrip(t *testing.T) {
	ant := &ForwardAnt{
		Kind:         KindPathRepair,
		Generation:   7,
		Source:       a1,
		Destination:  a2,
		TimeEstimate: 0.125,
		Broadcasts:   1,
		Path:         []netip.Addr{a3, a2},
	}

	b := ant.Marshal()
	got, err := DecodeForwardAnt(b)
	require.NoError(t, err)
	require.Equal(t, ant, got)
}

func TestForwardAntLayout(t *testing.T) {
	ant := &ForwardAnt{
		Kind:        KindReactiveForward,
		Generation:  0x01020304,
		Source:      a1,
		Destination: a2,
		Path:        []netip.Addr{a3},
	}
	b := ant.Marshal()

	require.Len(t, b, 45+16)
	require.Equal(t, byte(KindReactiveForward), b[0])
	require.Equal(t, uint32(0x01020304), binary.BigEndian.Uint32(b[1:]))
	src := a1.As16()
	require.Equal(t, src[:], b[5:21])
	require.Equal(t, uint16(1), binary.BigEndian.Uint16(b[43:45]))
	hop := a3.As16()
	require.Equal(t, hop[:], b[45:])
}

func TestForwardAntRejectsBadPayloads(t *testing.T) {
	_, err := DecodeForwardAnt([]byte{1, 2, 3})
	require.Error(t, err)

	ant := &ForwardAnt{Kind: KindReactiveForward, Source: a1, Destination: a2, Path: []netip.Addr{a3}}
	b := ant.Marshal()

	// declared hop count disagreeing with the trailer
	binary.BigEndian.PutUint16(b[43:], 2)
	_, err = DecodeForwardAnt(b)
	require.Error(t, err)

	// backward ants are not forward ants
	b[0] = byte(KindBackward)
	_, err = DecodeForwardAnt(b)
	require.Error(t, err)
}

func TestBackwardAntRoundTrip(t *testing.T) {
	ant := &BackwardAnt{
		Generation:   3,
		Destination:  a1,
		CurrentHop:   2,
		TimeEstimate: 1.5,
		Path:         []netip.Addr{a2, a3},
	}

	got, err := DecodeBackwardAnt(ant.Marshal())
	require.NoError(t, err)
	require.Equal(t, ant, got)
}

func TestBackwardAntRejectsTruncatedPath(t *testing.T) {
	ant := &BackwardAnt{Destination: a1, Path: []netip.Addr{a2, a3}}
	b := ant.Marshal()
	_, err := DecodeBackwardAnt(b[:len(b)-1])
	require.Error(t, err)
}

func TestProactiveAntRoundTrip(t *testing.T) {
	ant := &ProactiveForwardAnt{
		Source:      a1,
		Destination: a2,
		Broadcasts:  2,
		Path:        []netip.Addr{a3},
	}

	got, err := DecodeProactiveForwardAnt(ant.Marshal())
	require.NoError(t, err)
	require.Equal(t, ant, got)
}

func TestHelloRoundTrip(t *testing.T) {
	hm := &Hello{Source: a1, TimeEstimate: 1.0}
	got, err := DecodeHello(hm.Marshal())
	require.NoError(t, err)
	require.Equal(t, hm, got)

	_, err = DecodeHello([]byte{1})
	require.Error(t, err)
}

func TestWarningRoundTrip(t *testing.T) {
	wm := &Warning{Destination: a2, Source: a1}
	got, err := DecodeWarning(wm.Marshal())
	require.NoError(t, err)
	require.Equal(t, wm, got)
}

func TestLinkFailureRoundTrip(t *testing.T) {
	lfn := &LinkFailure{
		Source:     a1,
		FailedLink: a2,
		Entries: []LinkFailureEntry{
			{Destination: a3, Hops: 3, Value: 0.25},
			TotalLossEntry(a2),
		},
	}

	got, err := DecodeLinkFailure(lfn.Marshal())
	require.NoError(t, err)
	require.Equal(t, lfn, got)

	require.False(t, got.Entries[0].TotalLoss())
	require.True(t, got.Entries[1].TotalLoss())
}

func TestLinkFailureSentinelOnWire(t *testing.T) {
	// the total-loss marker keeps its sentinel encoding for wire
	// compatibility: hops 0 and value -100.0
	lfn := &LinkFailure{Source: a1, FailedLink: a2, Entries: []LinkFailureEntry{TotalLossEntry(a3)}}
	b := lfn.Marshal()

	entry := b[33:]
	require.Equal(t, uint16(0), binary.BigEndian.Uint16(entry[16:18]))
	bits := binary.BigEndian.Uint32(entry[18:22])
	require.Equal(t, float32(-100.0), math.Float32frombits(bits))
}

func TestLinkFailureRejectsBadListLength(t *testing.T) {
	lfn := &LinkFailure{Source: a1, FailedLink: a2, Entries: []LinkFailureEntry{TotalLossEntry(a3)}}
	b := lfn.Marshal()
	b[32] = 2
	_, err := DecodeLinkFailure(b)
	require.Error(t, err)
}
