package engine

import (
	"net/netip"
	"time"

	"github.com/jihwankim/anthocnet/pkg/message"
)

// neighbourLost declares a direct neighbour gone, after hello loss or an
// unrecoverable unicast failure. Destinations whose best path ran over the
// neighbour are announced in a link failure notification before the
// neighbour is removed from the pheromone table and the best-ants registry.
func (e *Engine) neighbourLost(n netip.Addr) {
	e.log.Info().Stringer("neighbour", n).Msg("neighbour lost")
	e.metrics.NeighboursLost.Inc()

	if entries := e.table.BuildLinkFailureEntries(n); len(entries) > 0 {
		lfn := &message.LinkFailure{
			Source:     e.self,
			FailedLink: n,
			Entries:    entries,
		}
		e.metrics.LinkFailuresSent.Inc()
		e.tr.Broadcast(message.TypeLinkFailure, lfn.Marshal())
	}

	e.table.RemoveNeighbour(n)
	delete(e.best, n)
}

// handleLinkFailure applies a received notification to the pheromone table
// and re-propagates it when this node lost best paths of its own.
func (e *Engine) handleLinkFailure(lfn *message.LinkFailure) {
	e.metrics.LinkFailuresReceived.Inc()

	entries := e.table.UpdateOnLinkFailure(lfn)
	if len(entries) == 0 {
		return
	}

	out := &message.LinkFailure{
		Source:     e.self,
		FailedLink: lfn.FailedLink,
		Entries:    entries,
	}
	e.metrics.LinkFailuresSent.Inc()
	e.log.Debug().Stringer("failed_link", lfn.FailedLink).Int("entries", len(entries)).
		Msg("re-propagating link failure notification")
	e.tr.Broadcast(message.TypeLinkFailure, out.Marshal())
}

// sendWarning tells the previous hop that this node has no pheromone for
// the destination.
func (e *Engine) sendWarning(prev, dest netip.Addr) {
	wm := &message.Warning{
		Destination: dest,
		Source:      e.self,
	}
	e.metrics.WarningsSent.Inc()
	e.log.Debug().Stringer("prev", prev).Stringer("destination", dest).
		Msg("no pheromone for forwarded packet, warning previous hop")
	e.tr.Unicast(prev, message.TypeWarning, wm.Marshal())
}

// handleWarning invalidates the entry the warning refers to: the sender can
// no longer reach the destination for us.
func (e *Engine) handleWarning(wm *message.Warning) {
	e.metrics.WarningsReceived.Inc()
	e.table.RemoveDestination(wm.Source, wm.Destination)
}

// startRepair begins the data-transmission-failed process after a unicast
// failure with no alternative neighbour: a path repair ant goes out and the
// engine waits for a matching backward ant for a time scaled by the
// pheromone value of the failed (neighbour, destination) entry. The failed
// packet waits in the send buffer.
func (e *Engine) startRepair(now time.Time, dest, neighbour netip.Addr, pkt DataPacket) {
	estimate, ok := e.table.Pheromone(neighbour, dest)
	if !ok {
		// the entry vanished underneath the callback; nothing to scale
		// the wait by, and nothing to repair towards
		return
	}

	e.bufferPacket(pkt)
	e.generation++
	e.metrics.RepairsStarted.Inc()
	e.log.Info().Stringer("destination", dest).Stringer("neighbour", neighbour).
		Uint32("generation", e.generation).Msg("starting local path repair")
	e.broadcastForwardAnt(message.KindPathRepair, dest)

	wait := time.Duration(e.cfg.Protocol.RepairWaitFactor * estimate * float64(time.Second))
	e.repair = repairState{
		active:    true,
		dest:      dest,
		neighbour: neighbour,
		deadline:  now.Add(wait),
	}
}

// repairTimerExpired gives up on a local repair: the buffered packets are
// discarded and the unreachable neighbour is declared lost.
func (e *Engine) repairTimerExpired() {
	n := e.repair.neighbour
	e.log.Info().Stringer("neighbour", n).Msg("no backward repair ant arrived, giving up")
	e.discardBuffer()
	e.repair = repairState{}
	e.neighbourLost(n)
}
