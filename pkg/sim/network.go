// Package sim wires several routing engines into an in-process ad-hoc
// network. Only used for simulations and tests; a real deployment would
// back the transport with the host IPv6 stack.
package sim

import (
	"fmt"
	"net/netip"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/jihwankim/anthocnet/pkg/config"
	"github.com/jihwankim/anthocnet/pkg/engine"
)

// defaultMACSendTime is the synthetic MAC enqueue-to-transmission time
// reported to the sender of every successfully delivered frame.
const defaultMACSendTime = 5 * time.Millisecond

// drainLimit bounds the frames processed per drain so a misbehaving
// topology cannot spin the simulation forever.
const drainLimit = 100000

// frame is one in-flight transmission. Control frames carry an ICMPv6
// payload; data frames carry a user datagram.
type frame struct {
	from      netip.Addr
	to        netip.Addr
	broadcast bool
	icmpType  uint8
	payload   []byte
	data      *engine.DataPacket
}

// Node is one simulated network participant.
type Node struct {
	Addr   netip.Addr
	Engine *engine.Engine
	tr     *transport

	// Received collects the datagrams that reached this node.
	Received []engine.DataPacket
}

// Stats counts what happened on the simulated medium.
type Stats struct {
	DataSent      int
	DataDelivered int
	DataBuffered  int
	DataUnrouted  int
	ControlFrames int
	FramesLost    int
}

type linkKey struct{ from, to netip.Addr }

// Network is the simulated wireless medium: it owns the nodes, the frame
// queue and the link state, and drives every engine's clock. Frames are
// delivered in enqueue order.
type Network struct {
	cfg *config.Config
	log zerolog.Logger
	reg *prometheus.Registry

	nodes map[netip.Addr]*Node
	order []netip.Addr

	queue []frame
	down  map[linkKey]bool
	// defaultUp is the state of undeclared links. Scenario runs declare
	// every link and keep this false; tests building topologies by hand
	// usually want true.
	defaultUp bool

	now   time.Time
	Stats Stats
}

// NewNetwork creates an empty network. Links are up by default unless
// defaultUp is false, in which case only links set up explicitly carry
// frames.
func NewNetwork(cfg *config.Config, log zerolog.Logger, defaultUp bool) *Network {
	return &Network{
		cfg:       cfg,
		log:       log.With().Str("component", "sim").Logger(),
		reg:       prometheus.NewRegistry(),
		nodes:     make(map[netip.Addr]*Node),
		down:      make(map[linkKey]bool),
		defaultUp: defaultUp,
		now:       time.Unix(0, 0),
	}
}

// Registry exposes the metrics registry all node engines register on.
func (nw *Network) Registry() *prometheus.Registry { return nw.reg }

// Now returns the simulated clock.
func (nw *Network) Now() time.Time { return nw.now }

// AddNode creates a node with an initialized engine. The engine RNG seed is
// derived from the configured seed and the node's position so engines make
// distinct stochastic choices.
func (nw *Network) AddNode(addr netip.Addr) *Node {
	n := &Node{Addr: addr}
	n.tr = &transport{net: nw, addr: addr}
	seed := nw.cfg.Framework.Seed + int64(len(nw.order))
	m := engine.NewMetrics(nw.reg, addr.String())
	n.Engine = engine.New(addr, nw.cfg, n.tr, nw.log, m, seed)
	n.Engine.Init(nw.now)

	nw.nodes[addr] = n
	nw.order = append(nw.order, addr)
	return n
}

// Node returns the node with the given address.
func (nw *Network) Node(addr netip.Addr) *Node { return nw.nodes[addr] }

// SetLink sets both directions of the link between two nodes up or down.
func (nw *Network) SetLink(a, b netip.Addr, up bool) {
	if nw.defaultUp == up {
		delete(nw.down, linkKey{a, b})
		delete(nw.down, linkKey{b, a})
		return
	}
	nw.down[linkKey{a, b}] = !up
	nw.down[linkKey{b, a}] = !up
}

func (nw *Network) linkUp(from, to netip.Addr) bool {
	if override, ok := nw.down[linkKey{from, to}]; ok {
		return !override
	}
	return nw.defaultUp
}

// Send originates a user datagram at src. The packet is routed immediately
// and either transmitted, buffered for path setup, or dropped.
func (nw *Network) Send(src, dst netip.Addr, payload []byte) error {
	node := nw.nodes[src]
	if node == nil {
		return fmt.Errorf("unknown source node %s", src)
	}
	nw.Stats.DataSent++
	nw.dispatch(node, engine.DataPacket{
		Source:      src,
		Destination: dst,
		Payload:     payload,
	})
	nw.drain()
	return nil
}

// dispatch routes a packet at a node and acts on the verdict.
func (nw *Network) dispatch(node *Node, pkt engine.DataPacket) {
	v := node.Engine.Route(nw.now, pkt)
	switch v.Action {
	case engine.RouteForward:
		node.tr.SendData(v.NextHop, pkt)
	case engine.RouteBuffered:
		nw.Stats.DataBuffered++
	case engine.RouteNone:
		nw.Stats.DataUnrouted++
	}
}

// Advance moves the simulated clock forward in steps, ticking every engine
// and draining the medium after each step.
func (nw *Network) Advance(d, step time.Duration) {
	if step <= 0 {
		step = 10 * time.Millisecond
	}
	end := nw.now.Add(d)
	for nw.now.Before(end) {
		nw.now = nw.now.Add(step)
		for _, addr := range nw.order {
			nw.nodes[addr].Engine.Tick(nw.now)
		}
		nw.drain()
	}
}

// drain delivers queued frames until the medium is quiet.
func (nw *Network) drain() {
	for steps := 0; len(nw.queue) > 0; steps++ {
		if steps >= drainLimit {
			nw.log.Error().Msg("frame queue did not quiesce, dropping remainder")
			nw.queue = nil
			return
		}
		f := nw.queue[0]
		nw.queue = nw.queue[1:]
		nw.deliver(f)
	}
}

func (nw *Network) deliver(f frame) {
	sender := nw.nodes[f.from]

	if f.broadcast {
		nw.Stats.ControlFrames++
		if sender != nil {
			sender.Engine.OnMACSent(defaultMACSendTime)
		}
		// broadcasts are unacknowledged; every in-range node hears them
		for _, addr := range nw.order {
			if addr == f.from || !nw.linkUp(f.from, addr) {
				continue
			}
			nw.nodes[addr].Engine.HandleMessage(nw.now, f.from, f.icmpType, f.payload)
		}
		return
	}

	up := nw.linkUp(f.from, f.to)
	receiver := nw.nodes[f.to]
	delivered := up && receiver != nil

	if f.data != nil {
		if delivered {
			pkt := *f.data
			if pkt.Destination == f.to {
				receiver.Received = append(receiver.Received, pkt)
				nw.Stats.DataDelivered++
			} else {
				pkt.PrevHop = f.from
				nw.dispatch(receiver, pkt)
			}
		} else {
			nw.Stats.FramesLost++
		}
	} else {
		nw.Stats.ControlFrames++
		if delivered {
			receiver.Engine.HandleMessage(nw.now, f.from, f.icmpType, f.payload)
		} else {
			nw.Stats.FramesLost++
		}
	}

	// the MAC reports the frame outcome after the receiver side has run,
	// as on real hardware
	if sender != nil {
		if delivered {
			sender.Engine.OnMACSent(defaultMACSendTime)
			sender.Engine.OnLinkResult(nw.now, f.to, engine.LinkOK, 1)
		} else {
			sender.Engine.OnLinkResult(nw.now, f.to, engine.LinkFailed, 1)
		}
	}
}

// transport adapts the network medium to the engine's transport interface.
type transport struct {
	net  *Network
	addr netip.Addr
}

func (t *transport) Unicast(next netip.Addr, icmpType uint8, payload []byte) {
	t.net.queue = append(t.net.queue, frame{
		from: t.addr, to: next, icmpType: icmpType, payload: payload,
	})
}

func (t *transport) Broadcast(icmpType uint8, payload []byte) {
	t.net.queue = append(t.net.queue, frame{
		from: t.addr, broadcast: true, icmpType: icmpType, payload: payload,
	})
}

func (t *transport) SendData(next netip.Addr, pkt engine.DataPacket) {
	p := pkt
	t.net.queue = append(t.net.queue, frame{from: t.addr, to: next, data: &p})
}

func (t *transport) MACQueueLen() int {
	n := 0
	for _, f := range t.net.queue {
		if f.from == t.addr {
			n++
		}
	}
	return n
}
