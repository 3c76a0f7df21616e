package engine

import (
	"net/netip"
	"time"

	"github.com/jihwankim/anthocnet/pkg/message"
)

// Route selects the next hop for one data packet. Packets this node
// originated with no usable pheromone start a reactive path setup and wait
// in the send buffer; packets from elsewhere trigger a warning upstream
// instead.
func (e *Engine) Route(now time.Time, pkt DataPacket) Verdict {
	if !e.initialized {
		return Verdict{Action: RouteNone}
	}

	if cands := e.table.SelectNextHop(pkt.Destination, false); len(cands) > 0 {
		next := cands[0]
		e.last = &lastSend{dest: pkt.Destination, next: next, pkt: pkt}
		e.metrics.DataForwarded.Inc()
		if pkt.Source == e.self {
			e.notePacketSent(now, pkt.Destination)
		}
		return Verdict{Action: RouteForward, NextHop: next}
	}

	if pkt.Source != e.self {
		// a forwarding node without pheromone took a dangling link; warn
		// the hop that sent the packet here
		prev := pkt.PrevHop
		if !prev.IsValid() {
			prev = pkt.Source
		}
		e.sendWarning(prev, pkt.Destination)
		e.metrics.DataDropped.Inc()
		return Verdict{Action: RouteNone}
	}

	if e.setup.active || e.repair.active {
		e.bufferPacket(pkt)
		return Verdict{Action: RouteBuffered}
	}

	e.startSetup(now, pkt.Destination, pkt)
	return Verdict{Action: RouteBuffered}
}

// notePacketSent tracks originated traffic per destination and fires a
// proactive forward ant once a data session reaches the configured sending
// rate inside the time threshold.
func (e *Engine) notePacketSent(now time.Time, dest netip.Addr) {
	for d, s := range e.sessions {
		if now.Sub(s.last) > time.Duration(e.cfg.Protocol.PFATimeThreshold) {
			delete(e.sessions, d)
		}
	}

	s := e.sessions[dest]
	if s == nil {
		e.sessions[dest] = &sessionCounter{last: now, count: 1}
		return
	}
	s.count++
	s.last = now
	if s.count >= e.cfg.Protocol.PFASendingRate {
		s.count = 0
		e.sendProactiveAnt(dest)
	}
}

// OnLinkResult is the per-frame outcome callback from the MAC layer. A
// successful transmission proves the neighbour alive; a permanent failure
// of a data frame triggers a retry over another neighbour or, failing that,
// local path repair.
func (e *Engine) OnLinkResult(now time.Time, addr netip.Addr, status LinkStatus, retries int) {
	if !e.initialized {
		return
	}

	switch status {
	case LinkOK:
		if e.last != nil {
			e.table.RefreshHello(e.last.next, now)
		}
		return
	case LinkDeferred:
		return
	}

	if e.last == nil {
		// the failed frame carried a control ant; nothing to retry
		return
	}
	last := e.last

	e.log.Debug().Stringer("addr", addr).Int("retries", retries).
		Stringer("destination", last.dest).Msg("data transmission failed")

	// the draw may land on the failed neighbour with nothing after it in the
	// candidate order; any other candidate still counts as an alternative
	alternatives := e.table.SelectNextHop(last.dest, false)
	all, _ := e.table.Probabilities(last.dest, false)
	alternatives = append(alternatives, all...)
	for _, n := range alternatives {
		if n != last.next {
			e.log.Debug().Stringer("next", n).Msg("retrying data packet over alternative neighbour")
			e.last = &lastSend{dest: last.dest, next: n, pkt: last.pkt}
			e.tr.SendData(n, last.pkt)
			return
		}
	}

	e.startRepair(now, last.dest, last.next, last.pkt)
}

// sendProactiveAnt starts a proactive forward ant probing towards a
// destination of a running data session.
func (e *Engine) sendProactiveAnt(dest netip.Addr) {
	e.log.Debug().Stringer("destination", dest).Msg("path probing: proactive forward ant")
	e.forwardProactiveAnt(&message.ProactiveForwardAnt{
		Source:      e.self,
		Destination: dest,
	})
}

// forwardProactiveAnt sends a proactive ant onward: broadcast with the
// configured probability or when no pheromone points anywhere, otherwise
// unicast along the gradient. Broadcasting is bounded per ant.
func (e *Engine) forwardProactiveAnt(ant *message.ProactiveForwardAnt) {
	if e.rng.Float64() > e.cfg.Protocol.PFABroadcastProbability {
		if next := e.table.SelectNextHop(ant.Destination, true); len(next) > 0 {
			e.metrics.AntsSent.WithLabelValues("proactive").Inc()
			e.tr.Unicast(next[0], message.TypeProactiveForwardAnt, ant.Marshal())
			return
		}
	}

	if int(ant.Broadcasts) >= e.cfg.Protocol.MaxBroadcastsPFA {
		e.log.Debug().Msg("proactive ant out of broadcasts, dropping")
		return
	}
	ant.Broadcasts++
	e.metrics.AntsSent.WithLabelValues("proactive").Inc()
	e.tr.Broadcast(message.TypeProactiveForwardAnt, ant.Marshal())
}

// handleProactiveAnt relays a proactive forward ant. At the destination it
// answers with a backward ant stamped with this node's current generation;
// path probing is asynchronous to any setup.
func (e *Engine) handleProactiveAnt(now time.Time, ant *message.ProactiveForwardAnt) {
	if ant.Source == e.self {
		return
	}
	for _, hop := range ant.Path {
		if hop == e.self {
			return
		}
	}

	ant.Path = append(ant.Path, e.self)

	if ant.Destination == e.self {
		e.emitBackwardAnt(e.generation, ant.Path, ant.Source)
		return
	}
	e.forwardProactiveAnt(ant)
}
