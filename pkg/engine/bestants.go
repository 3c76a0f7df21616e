package engine

import (
	"math"
	"net/netip"

	"github.com/jihwankim/anthocnet/pkg/message"
)

// bestAnt records the best forward ant seen for one (source, generation)
// key, plus the first hops of every accepted ant of that generation. Later
// ants of the generation are filtered against it.
type bestAnt struct {
	generation uint32
	hops       int
	estimate   float64
	firstHops  map[netip.Addr]struct{}
}

// acceptForwardAnt runs the two-factor acceptance filter on a relayed
// forward or path repair ant. The ant's path already ends in this node, so
// path[0] is its first hop after the source. Accepted ants are recorded;
// rejected ones must be dropped by the caller.
func (e *Engine) acceptForwardAnt(ant *message.ForwardAnt) bool {
	estimate := float64(ant.TimeEstimate)
	firstHop := ant.Path[0]

	record := e.bestAntFor(ant.Source, ant.Generation)
	if record == nil {
		// first ant of this generation: accept unconditionally
		e.best[ant.Source] = append(e.best[ant.Source], &bestAnt{
			generation: ant.Generation,
			hops:       ant.Hops(),
			estimate:   estimate,
			firstHops:  map[netip.Addr]struct{}{firstHop: {}},
		})
		return true
	}

	a1 := e.cfg.Protocol.AcceptanceFactorA1
	thr1 := record.estimate * math.Max(a1, 1/a1)

	if estimate <= thr1 {
		if estimate < record.estimate {
			record.estimate = estimate
			record.hops = ant.Hops()
		}
		record.firstHops[firstHop] = struct{}{}
		return true
	}

	// slower than the tight threshold: only ants exploring a new first hop
	// get a second chance
	if _, seen := record.firstHops[firstHop]; seen {
		return false
	}

	a2 := e.cfg.Protocol.AcceptanceFactorA2
	thr2 := record.estimate * math.Max(a2, 1/a2)
	if estimate > thr2 {
		return false
	}

	record.firstHops[firstHop] = struct{}{}
	return true
}

func (e *Engine) bestAntFor(source netip.Addr, generation uint32) *bestAnt {
	for _, b := range e.best[source] {
		if b.generation == generation {
			return b
		}
	}
	return nil
}
