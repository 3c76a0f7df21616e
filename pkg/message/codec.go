package message

import (
	"encoding/binary"
	"fmt"
	"math"
	"net/netip"
)

// All multi-byte integers are big-endian; floats are IEEE-754 binary32
// carried as their big-endian bit pattern. Addresses are raw 16-byte IPv6.
// There is no padding between fields.

const (
	addrLen = 16

	// maxWirePath bounds the path and entry lists a decoder accepts.
	// Anything longer cannot be a plausible ant in a link-local mesh.
	maxWirePath = 255
)

func appendAddr(b []byte, a netip.Addr) []byte {
	a16 := a.As16()
	return append(b, a16[:]...)
}

func readAddr(b []byte) netip.Addr {
	var a16 [addrLen]byte
	copy(a16[:], b)
	return netip.AddrFrom16(a16)
}

func appendFloat32(b []byte, f float32) []byte {
	return binary.BigEndian.AppendUint32(b, math.Float32bits(f))
}

func readFloat32(b []byte) float32 {
	return math.Float32frombits(binary.BigEndian.Uint32(b))
}

// Marshal encodes the ant as an ICMPv6 payload:
// ant_type u8, generation u32, source a16, destination a16, T_P f32,
// number_broadcasts u16, hops u16, hops x a16.
func (a *ForwardAnt) Marshal() []byte {
	b := make([]byte, 0, 1+4+2*addrLen+4+2+2+len(a.Path)*addrLen)
	b = append(b, byte(a.Kind))
	b = binary.BigEndian.AppendUint32(b, a.Generation)
	b = appendAddr(b, a.Source)
	b = appendAddr(b, a.Destination)
	b = appendFloat32(b, a.TimeEstimate)
	b = binary.BigEndian.AppendUint16(b, a.Broadcasts)
	b = binary.BigEndian.AppendUint16(b, uint16(len(a.Path)))
	for _, hop := range a.Path {
		b = appendAddr(b, hop)
	}
	return b
}

// DecodeForwardAnt decodes a reactive forward ant or path repair ant
// payload. Payloads whose trailer disagrees with the declared hop count are
// rejected.
func DecodeForwardAnt(b []byte) (*ForwardAnt, error) {
	const fixed = 1 + 4 + 2*addrLen + 4 + 2 + 2
	if len(b) < fixed {
		return nil, fmt.Errorf("forward ant: short payload: %d bytes", len(b))
	}
	a := &ForwardAnt{Kind: AntKind(b[0])}
	if a.Kind != KindReactiveForward && a.Kind != KindPathRepair {
		return nil, fmt.Errorf("forward ant: unexpected ant kind %d", a.Kind)
	}
	a.Generation = binary.BigEndian.Uint32(b[1:])
	a.Source = readAddr(b[5:])
	a.Destination = readAddr(b[21:])
	a.TimeEstimate = readFloat32(b[37:])
	a.Broadcasts = binary.BigEndian.Uint16(b[41:])
	hops := int(binary.BigEndian.Uint16(b[43:]))
	if hops > maxWirePath {
		return nil, fmt.Errorf("forward ant: implausible hop count %d", hops)
	}
	if len(b) != fixed+hops*addrLen {
		return nil, fmt.Errorf("forward ant: payload length %d does not match %d hops", len(b), hops)
	}
	a.Path = decodePath(b[fixed:], hops)
	return a, nil
}

// Marshal encodes the ant as an ICMPv6 payload:
// ant_type u8, generation u32, destination a16, current_hop u16, T_P f32,
// length u16, length x a16.
func (a *BackwardAnt) Marshal() []byte {
	b := make([]byte, 0, 1+4+addrLen+2+4+2+len(a.Path)*addrLen)
	b = append(b, byte(KindBackward))
	b = binary.BigEndian.AppendUint32(b, a.Generation)
	b = appendAddr(b, a.Destination)
	b = binary.BigEndian.AppendUint16(b, a.CurrentHop)
	b = appendFloat32(b, a.TimeEstimate)
	b = binary.BigEndian.AppendUint16(b, uint16(len(a.Path)))
	for _, hop := range a.Path {
		b = appendAddr(b, hop)
	}
	return b
}

// DecodeBackwardAnt decodes a reactive backward ant payload.
func DecodeBackwardAnt(b []byte) (*BackwardAnt, error) {
	const fixed = 1 + 4 + addrLen + 2 + 4 + 2
	if len(b) < fixed {
		return nil, fmt.Errorf("backward ant: short payload: %d bytes", len(b))
	}
	if AntKind(b[0]) != KindBackward {
		return nil, fmt.Errorf("backward ant: unexpected ant kind %d", b[0])
	}
	a := &BackwardAnt{}
	a.Generation = binary.BigEndian.Uint32(b[1:])
	a.Destination = readAddr(b[5:])
	a.CurrentHop = binary.BigEndian.Uint16(b[21:])
	a.TimeEstimate = readFloat32(b[23:])
	length := int(binary.BigEndian.Uint16(b[27:]))
	if length > maxWirePath {
		return nil, fmt.Errorf("backward ant: implausible path length %d", length)
	}
	if len(b) != fixed+length*addrLen {
		return nil, fmt.Errorf("backward ant: payload length %d does not match path length %d", len(b), length)
	}
	a.Path = decodePath(b[fixed:], length)
	return a, nil
}

// Marshal encodes the ant as an ICMPv6 payload:
// source a16, destination a16, number_of_broadcasts u8, hops u16,
// hops x a16.
func (a *ProactiveForwardAnt) Marshal() []byte {
	b := make([]byte, 0, 2*addrLen+1+2+len(a.Path)*addrLen)
	b = appendAddr(b, a.Source)
	b = appendAddr(b, a.Destination)
	b = append(b, a.Broadcasts)
	b = binary.BigEndian.AppendUint16(b, uint16(len(a.Path)))
	for _, hop := range a.Path {
		b = appendAddr(b, hop)
	}
	return b
}

// DecodeProactiveForwardAnt decodes a proactive forward ant payload.
func DecodeProactiveForwardAnt(b []byte) (*ProactiveForwardAnt, error) {
	const fixed = 2*addrLen + 1 + 2
	if len(b) < fixed {
		return nil, fmt.Errorf("proactive ant: short payload: %d bytes", len(b))
	}
	a := &ProactiveForwardAnt{}
	a.Source = readAddr(b)
	a.Destination = readAddr(b[addrLen:])
	a.Broadcasts = b[32]
	hops := int(binary.BigEndian.Uint16(b[33:]))
	if hops > maxWirePath {
		return nil, fmt.Errorf("proactive ant: implausible hop count %d", hops)
	}
	if len(b) != fixed+hops*addrLen {
		return nil, fmt.Errorf("proactive ant: payload length %d does not match %d hops", len(b), hops)
	}
	a.Path = decodePath(b[fixed:], hops)
	return a, nil
}

// Marshal encodes the beacon as an ICMPv6 payload: source a16, T_P f32.
func (h *Hello) Marshal() []byte {
	b := make([]byte, 0, addrLen+4)
	b = appendAddr(b, h.Source)
	b = appendFloat32(b, h.TimeEstimate)
	return b
}

// DecodeHello decodes a hello beacon payload.
func DecodeHello(b []byte) (*Hello, error) {
	if len(b) != addrLen+4 {
		return nil, fmt.Errorf("hello: payload length %d", len(b))
	}
	return &Hello{Source: readAddr(b), TimeEstimate: readFloat32(b[addrLen:])}, nil
}

// Marshal encodes the warning as an ICMPv6 payload:
// packet_type u8, destination a16, source a16.
func (w *Warning) Marshal() []byte {
	b := make([]byte, 0, 1+2*addrLen)
	b = append(b, byte(KindWarning))
	b = appendAddr(b, w.Destination)
	b = appendAddr(b, w.Source)
	return b
}

// DecodeWarning decodes a warning message payload.
func DecodeWarning(b []byte) (*Warning, error) {
	if len(b) != 1+2*addrLen {
		return nil, fmt.Errorf("warning: payload length %d", len(b))
	}
	if AntKind(b[0]) != KindWarning {
		return nil, fmt.Errorf("warning: unexpected packet type %d", b[0])
	}
	return &Warning{Destination: readAddr(b[1:]), Source: readAddr(b[17:])}, nil
}

// Marshal encodes the notification as an ICMPv6 payload:
// source a16, failed_link a16, list_length u8,
// list_length x {dest a16, hops u16, value f32}.
func (n *LinkFailure) Marshal() []byte {
	b := make([]byte, 0, 2*addrLen+1+len(n.Entries)*(addrLen+2+4))
	b = appendAddr(b, n.Source)
	b = appendAddr(b, n.FailedLink)
	b = append(b, uint8(len(n.Entries)))
	for _, e := range n.Entries {
		b = appendAddr(b, e.Destination)
		b = binary.BigEndian.AppendUint16(b, e.Hops)
		b = appendFloat32(b, e.Value)
	}
	return b
}

// DecodeLinkFailure decodes a link failure notification payload.
func DecodeLinkFailure(b []byte) (*LinkFailure, error) {
	const fixed = 2*addrLen + 1
	const entryLen = addrLen + 2 + 4
	if len(b) < fixed {
		return nil, fmt.Errorf("link failure: short payload: %d bytes", len(b))
	}
	n := &LinkFailure{}
	n.Source = readAddr(b)
	n.FailedLink = readAddr(b[addrLen:])
	count := int(b[32])
	if len(b) != fixed+count*entryLen {
		return nil, fmt.Errorf("link failure: payload length %d does not match %d entries", len(b), count)
	}
	if count > 0 {
		n.Entries = make([]LinkFailureEntry, count)
		for i := 0; i < count; i++ {
			off := fixed + i*entryLen
			n.Entries[i] = LinkFailureEntry{
				Destination: readAddr(b[off:]),
				Hops:        binary.BigEndian.Uint16(b[off+addrLen:]),
				Value:       readFloat32(b[off+addrLen+2:]),
			}
		}
	}
	return n, nil
}

func decodePath(b []byte, hops int) []netip.Addr {
	if hops == 0 {
		return nil
	}
	path := make([]netip.Addr, hops)
	for i := 0; i < hops; i++ {
		path[i] = readAddr(b[i*addrLen:])
	}
	return path
}
