// Package engine implements the AntHocNet routing core of a single node:
// reactive path setup, stochastic data forwarding, proactive probing,
// neighbour liveness and link-failure handling, all driven from one
// run-to-completion event loop.
package engine

import (
	"math/rand"
	"net/netip"
	"time"

	"github.com/rs/zerolog"

	"github.com/jihwankim/anthocnet/pkg/config"
	"github.com/jihwankim/anthocnet/pkg/message"
	"github.com/jihwankim/anthocnet/pkg/pheromone"
)

// DataPacket is a user datagram as seen by the routing core. PrevHop is the
// link-layer previous hop, unset when this node originated the packet.
type DataPacket struct {
	Source      netip.Addr
	Destination netip.Addr
	PrevHop     netip.Addr
	Payload     []byte
}

// RouteAction is the outcome of a routing decision.
type RouteAction int

const (
	// RouteForward means the packet should be sent to Verdict.NextHop.
	RouteForward RouteAction = iota
	// RouteBuffered means the packet was taken into the send buffer while
	// a path setup runs.
	RouteBuffered
	// RouteNone means the packet cannot be routed and is dropped.
	RouteNone
)

// Verdict is the result of routing one data packet.
type Verdict struct {
	Action  RouteAction
	NextHop netip.Addr
}

// LinkStatus is the per-frame outcome the MAC layer reports back.
type LinkStatus int

const (
	LinkOK LinkStatus = iota
	LinkFailed
	LinkDeferred
)

// Transport is the MAC-backed IPv6 interface the engine emits through.
// Broadcasts go to the link-local all-nodes multicast group.
type Transport interface {
	Unicast(next netip.Addr, icmpType uint8, payload []byte)
	Broadcast(icmpType uint8, payload []byte)
	SendData(next netip.Addr, pkt DataPacket)
	MACQueueLen() int
}

// lastSend remembers the most recent data transmission so the MAC link
// callback can refresh the chosen neighbour or retry elsewhere. The record
// may describe an already-stale destination by the time the callback fires.
type lastSend struct {
	dest netip.Addr
	next netip.Addr
	pkt  DataPacket
}

// sessionCounter tracks recent sends to one destination for the proactive
// probing trigger.
type sessionCounter struct {
	last  time.Time
	count int
}

// setupState is the reactive path setup process, driven by the restart
// timer.
type setupState struct {
	active   bool
	dest     netip.Addr
	expiries int
	deadline time.Time
}

// repairState is the data-transmission-failed process, driven by the
// backward-repair-ant wait timer.
type repairState struct {
	active    bool
	dest      netip.Addr
	neighbour netip.Addr
	deadline  time.Time
}

// Engine is the routing core of one node. All methods must be called from a
// single goroutine; the engine holds no locks and spawns nothing.
type Engine struct {
	cfg     *config.Config
	log     zerolog.Logger
	self    netip.Addr
	tr      Transport
	rng     *rand.Rand
	table   *pheromone.Table
	est     estimator
	metrics *Metrics

	generation uint32
	best       map[netip.Addr][]*bestAnt
	buffer     []DataPacket
	last       *lastSend
	sessions   map[netip.Addr]*sessionCounter

	setup   setupState
	repair  repairState
	helloAt time.Time

	initialized bool
}

// New creates an engine for the given node address. The seed controls the
// engine's RNG and must differ between engines that should not make
// identical stochastic choices.
func New(self netip.Addr, cfg *config.Config, tr Transport, log zerolog.Logger, m *Metrics, seed int64) *Engine {
	rng := rand.New(rand.NewSource(seed))
	log = log.With().Stringer("node", self).Logger()
	return &Engine{
		cfg:      cfg,
		log:      log,
		self:     self,
		tr:       tr,
		rng:      rng,
		table:    pheromone.New(cfg.Protocol, rng, log),
		est:      estimator{alpha: cfg.Protocol.Alpha},
		metrics:  m,
		best:     make(map[netip.Addr][]*bestAnt),
		sessions: make(map[netip.Addr]*sessionCounter),
	}
}

// Self returns the node's own address.
func (e *Engine) Self() netip.Addr { return e.self }

// Table exposes the pheromone table for inspection.
func (e *Engine) Table() *pheromone.Table { return e.table }

// Generation returns the current ant generation counter.
func (e *Engine) Generation() uint32 { return e.generation }

// Init joins the network: the engine starts accepting control messages and
// arms the hello beacon.
func (e *Engine) Init(now time.Time) {
	if e.initialized {
		return
	}
	e.initialized = true
	e.helloAt = now.Add(time.Duration(e.cfg.Protocol.HelloInterval))
	e.log.Info().Msg("routing engine initialized")
}

// LeaveNetwork resets all node-local protocol state and stops every
// process. The engine can be re-initialized afterwards.
func (e *Engine) LeaveNetwork() {
	e.table.Clear()
	e.best = make(map[netip.Addr][]*bestAnt)
	e.buffer = nil
	e.last = nil
	e.sessions = make(map[netip.Addr]*sessionCounter)
	e.setup = setupState{}
	e.repair = repairState{}
	e.est.reset()
	e.generation = 0
	e.initialized = false
	e.log.Info().Msg("left network")
}

// NodeHasJoined reports whether the node is associated to the network.
func (e *Engine) NodeHasJoined() bool { return e.initialized }

// NodeIsReachable reports whether the node can be reached as part of the
// network, which requires at least one direct neighbour.
func (e *Engine) NodeIsReachable() bool {
	return e.initialized && e.table.HasNeighbours()
}

// The operations below exist on the routing-driver surface but have no
// meaning in a protocol without roots, source routing or global repair.
// They are accepted as no-ops with neutral return values.

// SetRootPrefix is a no-op; AntHocNet has no root.
func (e *Engine) SetRootPrefix(prefix, iid netip.Addr) {}

// StartRoot is a no-op and reports failure; no node can become root.
func (e *Engine) StartRoot() bool { return false }

// IsRoot always reports false.
func (e *Engine) IsRoot() bool { return false }

// RootAddress reports that no root address exists.
func (e *Engine) RootAddress() (netip.Addr, bool) { return netip.Addr{}, false }

// GlobalRepair is a no-op; repair is always local.
func (e *Engine) GlobalRepair(reason string) {}

// IsInLeafMode always reports false; every node forwards.
func (e *Engine) IsInLeafMode() bool { return false }

// HandleMessage decodes and dispatches one inbound control message.
// Malformed payloads are dropped per the error policy.
func (e *Engine) HandleMessage(now time.Time, prevHop netip.Addr, icmpType uint8, payload []byte) {
	if !e.initialized {
		return
	}

	switch icmpType {
	case message.TypeForwardAnt:
		ant, err := message.DecodeForwardAnt(payload)
		if err != nil {
			e.log.Debug().Err(err).Msg("dropping malformed forward ant")
			return
		}
		e.metrics.AntsReceived.WithLabelValues(ant.Kind.String()).Inc()
		e.handleForwardAnt(now, ant)

	case message.TypeBackwardAnt:
		ant, err := message.DecodeBackwardAnt(payload)
		if err != nil {
			e.log.Debug().Err(err).Msg("dropping malformed backward ant")
			return
		}
		e.metrics.AntsReceived.WithLabelValues(message.KindBackward.String()).Inc()
		e.handleBackwardAnt(now, ant)

	case message.TypeProactiveForwardAnt:
		ant, err := message.DecodeProactiveForwardAnt(payload)
		if err != nil {
			e.log.Debug().Err(err).Msg("dropping malformed proactive ant")
			return
		}
		e.metrics.AntsReceived.WithLabelValues("proactive").Inc()
		e.handleProactiveAnt(now, ant)

	case message.TypeHello:
		hm, err := message.DecodeHello(payload)
		if err != nil {
			e.log.Debug().Err(err).Msg("dropping malformed hello")
			return
		}
		e.handleHello(now, hm)

	case message.TypeWarning:
		wm, err := message.DecodeWarning(payload)
		if err != nil {
			e.log.Debug().Err(err).Msg("dropping malformed warning")
			return
		}
		e.handleWarning(wm)

	case message.TypeLinkFailure:
		lfn, err := message.DecodeLinkFailure(payload)
		if err != nil {
			e.log.Debug().Err(err).Msg("dropping malformed link failure notification")
			return
		}
		e.handleLinkFailure(lfn)

	default:
		e.log.Debug().Uint8("icmp_type", icmpType).Msg("unknown control message type")
	}
}

// Tick fires every timer due at now: the hello beacon, per-neighbour
// hello-loss timers, the setup restart timer and the repair wait timer.
func (e *Engine) Tick(now time.Time) {
	if !e.initialized {
		return
	}

	for !e.helloAt.After(now) {
		e.broadcastHello()
		e.helloAt = e.helloAt.Add(time.Duration(e.cfg.Protocol.HelloInterval))
	}

	for _, n := range e.table.AdvanceHelloTimers(now) {
		e.log.Debug().Stringer("neighbour", n).Msg("hello loss limit exceeded")
		e.neighbourLost(n)
	}

	if e.setup.active && !e.setup.deadline.After(now) {
		e.setupTimerExpired()
	}

	if e.repair.active && !e.repair.deadline.After(now) {
		e.repairTimerExpired()
	}
}

// OnMACSent feeds one observed MAC enqueue-to-transmission time into the
// running average used for path time estimates.
func (e *Engine) OnMACSent(d time.Duration) {
	e.est.observe(d)
}

// extendTimeEstimate adds this node's expected MAC forwarding delay to a
// carried path time estimate.
func (e *Engine) extendTimeEstimate(t float64) float64 {
	return t + float64(e.tr.MACQueueLen()+1)*e.est.average()
}
