// Package message defines the AntHocNet control messages and their
// ICMPv6 payload encoding.
package message

import "net/netip"

// ICMPv6 type codes of the AntHocNet control messages. The codes sit in the
// experimental range.
const (
	TypeForwardAnt          uint8 = 230 // reactive forward ant and path repair ant
	TypeBackwardAnt         uint8 = 231
	TypeProactiveForwardAnt uint8 = 232
	TypeHello               uint8 = 233
	TypeWarning             uint8 = 234
	TypeLinkFailure         uint8 = 235
)

// AntKind is the type byte that leads the forward ant, backward ant and
// warning formats. Reactive forward ants and path repair ants share the
// forward-ant format and are told apart by it.
type AntKind uint8

const (
	KindReactiveForward AntKind = iota
	KindPathRepair
	KindBackward
	KindWarning
)

func (k AntKind) String() string {
	switch k {
	case KindReactiveForward:
		return "reactive_forward"
	case KindPathRepair:
		return "path_repair"
	case KindBackward:
		return "backward"
	case KindWarning:
		return "warning"
	}
	return "unknown"
}

// ForwardAnt is a reactive forward ant or a path repair ant, distinguished
// by Kind. The path holds every node the ant has visited, in order; the
// ant's hop count equals len(Path).
type ForwardAnt struct {
	Kind         AntKind
	Generation   uint32
	Source       netip.Addr
	Destination  netip.Addr
	TimeEstimate float32
	Broadcasts   uint16
	Path         []netip.Addr
}

// Hops returns the number of hops the ant has taken.
func (a *ForwardAnt) Hops() int { return len(a.Path) }

// BackwardAnt retraces a forward ant's path in reverse. Path[0] is the node
// that emitted the backward ant; Destination is the node that started the
// path setup and expects the ant.
type BackwardAnt struct {
	Generation   uint32
	Destination  netip.Addr
	CurrentHop   uint16
	TimeEstimate float32
	Path         []netip.Addr
}

// ProactiveForwardAnt probes for better paths during a running data session.
// It carries no generation; the backward ant it triggers is stamped with the
// destination node's current generation.
type ProactiveForwardAnt struct {
	Source      netip.Addr
	Destination netip.Addr
	Broadcasts  uint8
	Path        []netip.Addr
}

// Hello is the periodic liveness beacon.
type Hello struct {
	Source       netip.Addr
	TimeEstimate float32
}

// Warning tells the previous hop that this node has no pheromone for a
// destination a data packet arrived for.
type Warning struct {
	Destination netip.Addr
	Source      netip.Addr
}

// Total-loss sentinel values of a link failure notification entry. An entry
// carrying them announces that the sender has no path left to the
// destination at all; receivers invalidate instead of updating.
const (
	TotalLossHops  uint16  = 0
	TotalLossValue float32 = -100.0
)

// LinkFailureEntry reports the sender's new best path to one destination
// after a link failure. Value is the quantity the receiver plugs into the
// pheromone blending formula: the pheromone value of the sender's new best
// entry, not a time. The (TotalLossHops, TotalLossValue) pair marks total
// loss.
type LinkFailureEntry struct {
	Destination netip.Addr
	Hops        uint16
	Value       float32
}

// TotalLoss reports whether the entry is a total-loss marker.
func (e LinkFailureEntry) TotalLoss() bool {
	return e.Hops == TotalLossHops && e.Value == TotalLossValue
}

// TotalLossEntry builds a total-loss marker for a destination.
func TotalLossEntry(destination netip.Addr) LinkFailureEntry {
	return LinkFailureEntry{Destination: destination, Hops: TotalLossHops, Value: TotalLossValue}
}

// LinkFailure announces destinations whose best path ran over a failed
// link. Source is the node broadcasting the notification, which changes on
// every re-propagation; FailedLink stays the originally lost neighbour.
type LinkFailure struct {
	Source     netip.Addr
	FailedLink netip.Addr
	Entries    []LinkFailureEntry
}
