package engine

import (
	"net/netip"
	"time"

	"github.com/jihwankim/anthocnet/pkg/message"
)

// startSetup begins the reactive path setup towards a destination: the
// triggering packet enters the send buffer, a forward ant of a fresh
// generation goes out and the restart timer is armed.
func (e *Engine) startSetup(now time.Time, dest netip.Addr, pkt DataPacket) {
	e.bufferPacket(pkt)
	e.setup = setupState{
		active:   true,
		dest:     dest,
		deadline: now.Add(time.Duration(e.cfg.Protocol.RestartPathSetup)),
	}
	e.generation++
	e.metrics.SetupsStarted.Inc()
	e.log.Info().Stringer("destination", dest).Uint32("generation", e.generation).
		Msg("reactive path setup started")
	e.broadcastForwardAnt(message.KindReactiveForward, dest)
}

// setupTimerExpired handles one expiry of the restart timer: re-broadcast
// with a fresh generation, or give up after the configured number of tries
// and discard the buffered packets.
func (e *Engine) setupTimerExpired() {
	e.setup.expiries++
	if e.setup.expiries >= e.cfg.Protocol.MaxTriesPathSetup {
		e.log.Info().Stringer("destination", e.setup.dest).
			Msg("path setup exhausted, discarding buffered packets")
		e.metrics.SetupsExhausted.Inc()
		e.discardBuffer()
		e.setup = setupState{}
		return
	}

	e.generation++
	e.log.Debug().Stringer("destination", e.setup.dest).Uint32("generation", e.generation).
		Msg("no backward ant yet, restarting path setup")
	e.broadcastForwardAnt(message.KindReactiveForward, e.setup.dest)
	e.setup.deadline = e.setup.deadline.Add(time.Duration(e.cfg.Protocol.RestartPathSetup))
}

// broadcastForwardAnt emits a fresh reactive forward ant or path repair ant
// of the current generation. The source node itself is not part of the
// path.
func (e *Engine) broadcastForwardAnt(kind message.AntKind, dest netip.Addr) {
	ant := &message.ForwardAnt{
		Kind:        kind,
		Generation:  e.generation,
		Source:      e.self,
		Destination: dest,
	}
	e.metrics.AntsSent.WithLabelValues(kind.String()).Inc()
	e.tr.Broadcast(message.TypeForwardAnt, ant.Marshal())
}

// handleForwardAnt relays a reactive forward ant or path repair ant.
func (e *Engine) handleForwardAnt(now time.Time, ant *message.ForwardAnt) {
	if ant.Source == e.self {
		e.log.Debug().Msg("own forward ant came back, dropping")
		return
	}
	for _, hop := range ant.Path {
		if hop == e.self {
			e.log.Debug().Msg("forward ant looped, dropping")
			return
		}
	}
	if ant.Hops()+1 > e.cfg.Protocol.MaxHops {
		e.log.Debug().Int("hops", ant.Hops()).Msg("forward ant exceeded hop limit, dropping")
		return
	}

	ant.Path = append(ant.Path, e.self)

	if ant.Destination == e.self {
		e.emitBackwardAnt(ant.Generation, ant.Path, ant.Source)
		return
	}

	ant.TimeEstimate = float32(e.extendTimeEstimate(float64(ant.TimeEstimate)))

	if !e.acceptForwardAnt(ant) {
		e.log.Debug().Stringer("source", ant.Source).Uint32("generation", ant.Generation).
			Msg("forward ant rejected by acceptance filter")
		return
	}

	if next := e.table.SelectNextHop(ant.Destination, true); len(next) > 0 {
		e.metrics.AntsSent.WithLabelValues(ant.Kind.String()).Inc()
		e.tr.Unicast(next[0], message.TypeForwardAnt, ant.Marshal())
		return
	}

	// no pheromone for the destination: flood on. Path repair ants are
	// only allowed a bounded number of broadcasts.
	if ant.Kind == message.KindPathRepair && int(ant.Broadcasts) >= e.cfg.Protocol.MaxBroadcastsPathRepair {
		e.log.Debug().Msg("path repair ant out of broadcasts, dropping")
		return
	}
	ant.Broadcasts++
	e.metrics.AntsSent.WithLabelValues(ant.Kind.String()).Inc()
	e.tr.Broadcast(message.TypeForwardAnt, ant.Marshal())
}

// emitBackwardAnt turns an arrived forward ant into a backward ant walking
// the collected path in reverse. The forward path ends in this node, so the
// reversed path starts with it; the ant goes out to the second entry.
func (e *Engine) emitBackwardAnt(generation uint32, forwardPath []netip.Addr, dest netip.Addr) {
	if len(forwardPath) < 2 {
		e.log.Debug().Msg("forward ant path too short for a backward ant, dropping")
		return
	}

	reversed := make([]netip.Addr, len(forwardPath))
	for i, hop := range forwardPath {
		reversed[len(forwardPath)-1-i] = hop
	}

	if !e.table.NeighbourExists(reversed[1]) {
		e.log.Debug().Stringer("next", reversed[1]).
			Msg("first backward hop is no longer a neighbour, dropping")
		return
	}

	ant := &message.BackwardAnt{
		Generation:  generation,
		Destination: dest,
		Path:        reversed,
	}
	e.metrics.AntsSent.WithLabelValues(message.KindBackward.String()).Inc()
	e.log.Debug().Stringer("destination", dest).Int("path_len", len(reversed)).
		Msg("backward ant emitted")
	e.tr.Unicast(reversed[1], message.TypeBackwardAnt, ant.Marshal())
}

// handleBackwardAnt relays a backward ant, depositing pheromone at every
// step. A matching ant arriving at the node that started the setup
// completes it and flushes the send buffer.
func (e *Engine) handleBackwardAnt(now time.Time, ant *message.BackwardAnt) {
	ant.CurrentHop++
	ant.TimeEstimate = float32(e.extendTimeEstimate(float64(ant.TimeEstimate)))

	if e.table.UpdateOnBackwardAnt(ant, now) {
		e.metrics.NeighboursAdded.Inc()
	}

	if ant.Destination == e.self {
		if (e.setup.active || e.repair.active) && ant.Generation == e.generation {
			e.log.Info().Uint32("generation", ant.Generation).
				Msg("matching backward ant arrived, path setup complete")
			e.setup = setupState{}
			e.repair = repairState{}
			e.metrics.SetupsCompleted.Inc()
			e.flushBuffer(now)
		}
		return
	}

	c := int(ant.CurrentHop)
	var next netip.Addr
	switch {
	case c == len(ant.Path)-1:
		next = ant.Destination
	case c+1 < len(ant.Path):
		next = ant.Path[c+1]
	default:
		e.log.Debug().Msg("backward ant ran past its path, dropping")
		return
	}

	if !e.table.NeighbourExists(next) {
		e.log.Debug().Stringer("next", next).Msg("next backward hop is not a neighbour, dropping")
		return
	}
	e.metrics.AntsSent.WithLabelValues(message.KindBackward.String()).Inc()
	e.tr.Unicast(next, message.TypeBackwardAnt, ant.Marshal())
}

// bufferPacket appends a packet to the send buffer, dropping the oldest
// entry when the buffer is full.
func (e *Engine) bufferPacket(pkt DataPacket) {
	if len(e.buffer) >= e.cfg.Protocol.SendBufferCap {
		e.buffer = e.buffer[1:]
		e.metrics.DataDropped.Inc()
		e.log.Debug().Msg("send buffer full, dropped oldest packet")
	}
	e.buffer = append(e.buffer, pkt)
	e.metrics.DataBuffered.Inc()
}

// flushBuffer re-routes the buffered packets in FIFO order now that a path
// exists.
func (e *Engine) flushBuffer(now time.Time) {
	pkts := e.buffer
	e.buffer = nil
	for _, pkt := range pkts {
		if v := e.Route(now, pkt); v.Action == RouteForward {
			e.tr.SendData(v.NextHop, pkt)
		}
	}
}

// discardBuffer drops every buffered packet.
func (e *Engine) discardBuffer() {
	for range e.buffer {
		e.metrics.DataDropped.Inc()
	}
	e.buffer = nil
}
