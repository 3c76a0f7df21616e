// Package pheromone implements the per-neighbour, per-destination routing
// table of an AntHocNet node and its update rules.
package pheromone

import (
	"math"
	"math/rand"
	"net/netip"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/jihwankim/anthocnet/pkg/config"
	"github.com/jihwankim/anthocnet/pkg/message"
)

// Entry is the routing information for one destination reachable via a
// neighbour. Pheromone is never retained at or below zero.
type Entry struct {
	Pheromone float64
	Hops      int
}

// neighbour holds the destination entries reachable via one direct
// neighbour together with its hello-loss state. The hello deadline is a
// plain timestamp; the owning engine advances it from its tick loop.
type neighbour struct {
	dests         map[netip.Addr]*Entry
	helloLoss     int
	helloDeadline time.Time
}

// Table is the pheromone table of a single node. It is not safe for
// concurrent use; all access happens from the engine's event loop.
type Table struct {
	cfg        config.ProtocolConfig
	rng        *rand.Rand
	log        zerolog.Logger
	neighbours map[netip.Addr]*neighbour

	hopSeconds    float64
	helloInterval time.Duration
}

// New creates an empty pheromone table. The RNG drives the stochastic
// next-hop selection and is owned by the caller.
func New(cfg config.ProtocolConfig, rng *rand.Rand, log zerolog.Logger) *Table {
	return &Table{
		cfg:           cfg,
		rng:           rng,
		log:           log.With().Str("component", "pheromone").Logger(),
		neighbours:    make(map[netip.Addr]*neighbour),
		hopSeconds:    time.Duration(cfg.THop).Seconds(),
		helloInterval: time.Duration(cfg.HelloInterval),
	}
}

// tau computes a pheromone value from a time estimate and a hop count.
func (t *Table) tau(estimate float64, hops int) float64 {
	return 1 / ((estimate + float64(hops)*t.hopSeconds) / 2)
}

// HelloSeed derives the initial pheromone value for a neighbour from the
// time estimate carried by its hello beacon.
func (t *Table) HelloSeed(estimate float64) float64 {
	return (1 - t.cfg.Gamma) * t.tau(estimate, 1)
}

// Pheromone returns the pheromone value of the (neighbour, destination)
// entry, if present.
func (t *Table) Pheromone(n, d netip.Addr) (float64, bool) {
	e := t.entry(n, d)
	if e == nil {
		return 0, false
	}
	return e.Pheromone, true
}

// Hops returns the hop count of the (neighbour, destination) entry, if
// present.
func (t *Table) Hops(n, d netip.Addr) (int, bool) {
	e := t.entry(n, d)
	if e == nil {
		return 0, false
	}
	return e.Hops, true
}

func (t *Table) entry(n, d netip.Addr) *Entry {
	nb := t.neighbours[n]
	if nb == nil {
		return nil
	}
	return nb.dests[d]
}

// NeighbourExists reports whether the address is a known direct neighbour.
func (t *Table) NeighbourExists(n netip.Addr) bool {
	_, ok := t.neighbours[n]
	return ok
}

// HasNeighbours reports whether any direct neighbour is known.
func (t *Table) HasNeighbours() bool { return len(t.neighbours) > 0 }

// Neighbours returns the direct neighbours in ascending address order.
func (t *Table) Neighbours() []netip.Addr {
	out := make([]netip.Addr, 0, len(t.neighbours))
	for n := range t.neighbours {
		out = append(out, n)
	}
	sortAddrs(out)
	return out
}

// Destinations returns the destinations reachable via a neighbour in
// ascending address order.
func (t *Table) Destinations(n netip.Addr) []netip.Addr {
	nb := t.neighbours[n]
	if nb == nil {
		return nil
	}
	out := make([]netip.Addr, 0, len(nb.dests))
	for d := range nb.dests {
		out = append(out, d)
	}
	sortAddrs(out)
	return out
}

// Probabilities computes P_nd for every neighbour holding an entry for the
// destination, applying the forward-ant exponent or the stochastic-routing
// exponent. The returned neighbours are in ascending address order and the
// probabilities sum to 1 when any candidate exists.
func (t *Table) Probabilities(d netip.Addr, forwardAnt bool) ([]netip.Addr, []float64) {
	beta := t.cfg.BetaStochastic
	if forwardAnt {
		beta = t.cfg.BetaForward
	}

	var candidates []netip.Addr
	for n, nb := range t.neighbours {
		if nb.dests[d] != nil {
			candidates = append(candidates, n)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	sortAddrs(candidates)

	weights := make([]float64, len(candidates))
	sum := 0.0
	for i, n := range candidates {
		w := math.Pow(t.neighbours[n].dests[d].Pheromone, float64(beta))
		weights[i] = w
		sum += w
	}
	for i := range weights {
		weights[i] /= sum
	}
	return candidates, weights
}

// SelectNextHop draws once from the cumulative P_nd distribution over all
// neighbours with an entry for the destination and returns every neighbour
// at or past the drawn point; callers consume the first element, which is
// the selected hop. The result is empty when no neighbour can reach the
// destination.
func (t *Table) SelectNextHop(d netip.Addr, forwardAnt bool) []netip.Addr {
	candidates, probs := t.Probabilities(d, forwardAnt)
	if len(candidates) == 0 {
		return nil
	}

	u := t.rng.Float64()
	cum := 0.0
	for i, p := range probs {
		cum += p
		if u <= cum {
			return candidates[i:]
		}
	}
	// float rounding left the cumulative sum a hair under u
	return candidates[len(candidates)-1:]
}

// UpdateOnBackwardAnt applies a relayed backward ant to the table. With the
// ant's hop index already incremented to c, the neighbour towards the
// ant's origin is path[c-1], the destination is path[0] and this node is c
// hops away from it. Creates the neighbour, with a freshly armed hello
// timer, when the ant arrives over a link no hello has been seen on yet.
// Reports whether a new neighbour was created.
func (t *Table) UpdateOnBackwardAnt(ant *message.BackwardAnt, now time.Time) bool {
	c := int(ant.CurrentHop)
	if c < 1 || c > len(ant.Path) {
		t.log.Debug().Int("current_hop", c).Int("path_len", len(ant.Path)).
			Msg("backward ant hop index out of range")
		return false
	}
	n := ant.Path[c-1]
	d := ant.Path[0]

	tauHat := t.tau(float64(ant.TimeEstimate), c)

	nb := t.neighbours[n]
	created := false
	if nb == nil {
		nb = &neighbour{
			dests:         make(map[netip.Addr]*Entry),
			helloDeadline: now.Add(t.helloInterval),
		}
		t.neighbours[n] = nb
		created = true
	}

	if e := nb.dests[d]; e != nil {
		e.Pheromone = t.cfg.Gamma*e.Pheromone + (1-t.cfg.Gamma)*tauHat
	} else {
		nb.dests[d] = &Entry{
			Pheromone: (1 - t.cfg.Gamma) * tauHat,
			Hops:      c,
		}
	}

	t.log.Debug().Stringer("neighbour", n).Stringer("destination", d).
		Int("hops", c).Float64("tau_hat", tauHat).Msg("pheromone updated from backward ant")
	return created
}

// AddOrRefreshNeighbour inserts a neighbour with its (n, n) self entry, or,
// when the neighbour is already known, rearms its hello timer and clears
// the hello-loss counter. Reports whether a new neighbour was created.
func (t *Table) AddOrRefreshNeighbour(n netip.Addr, seed float64, now time.Time) bool {
	if t.RefreshHello(n, now) {
		return false
	}
	t.neighbours[n] = &neighbour{
		dests: map[netip.Addr]*Entry{
			n: {Pheromone: seed, Hops: 1},
		},
		helloDeadline: now.Add(t.helloInterval),
	}
	t.log.Debug().Stringer("neighbour", n).Float64("seed", seed).Msg("neighbour added")
	return true
}

// RefreshHello rearms the neighbour's hello timer and clears its loss
// counter. Reports whether the neighbour was found.
func (t *Table) RefreshHello(n netip.Addr, now time.Time) bool {
	nb := t.neighbours[n]
	if nb == nil {
		return false
	}
	nb.helloLoss = 0
	nb.helloDeadline = now.Add(t.helloInterval)
	return true
}

// AdvanceHelloTimers fires every hello-loss timer due at now. Each expiry
// increments the neighbour's loss counter and rearms the timer; neighbours
// whose counter exceeds the allowed loss are returned, in ascending address
// order, for the caller to declare lost.
func (t *Table) AdvanceHelloTimers(now time.Time) []netip.Addr {
	var lost []netip.Addr
	for n, nb := range t.neighbours {
		for !nb.helloDeadline.After(now) {
			nb.helloLoss++
			nb.helloDeadline = nb.helloDeadline.Add(t.helloInterval)
			if nb.helloLoss > t.cfg.AllowedHelloLoss {
				lost = append(lost, n)
				break
			}
		}
	}
	sortAddrs(lost)
	return lost
}

// RemoveNeighbour deletes the neighbour and every destination entry under
// it.
func (t *Table) RemoveNeighbour(n netip.Addr) {
	if _, ok := t.neighbours[n]; !ok {
		return
	}
	delete(t.neighbours, n)
	t.log.Debug().Stringer("neighbour", n).Msg("neighbour removed")
}

// RemoveDestination deletes one destination entry without touching the
// neighbour itself.
func (t *Table) RemoveDestination(n, d netip.Addr) {
	nb := t.neighbours[n]
	if nb == nil {
		return
	}
	delete(nb.dests, d)
}

// Clear drops the whole table.
func (t *Table) Clear() {
	t.neighbours = make(map[netip.Addr]*neighbour)
}

// BuildLinkFailureEntries collects, for every destination previously
// reachable via the lost neighbour, the sender's view after the loss: no
// entry when a strictly better alternative neighbour exists, the best
// inferior alternative's (hops, pheromone) when one exists, and a
// total-loss marker when no alternative path remains.
func (t *Table) BuildLinkFailureEntries(lost netip.Addr) []message.LinkFailureEntry {
	nb := t.neighbours[lost]
	if nb == nil {
		return nil
	}

	var entries []message.LinkFailureEntry
	for _, d := range t.Destinations(lost) {
		if e := t.linkFailureEntry(d, lost, nb.dests[d].Pheromone); e != nil {
			entries = append(entries, *e)
		}
	}
	return entries
}

// linkFailureEntry builds the notification entry for one destination lost
// via the given neighbour, or nil when another neighbour holds a strictly
// better entry and no notification is needed. In this comparison the wire
// value ordering applies: smaller means better.
func (t *Table) linkFailureEntry(d, lost netip.Addr, lostValue float64) *message.LinkFailureEntry {
	var best *Entry
	for n, nb := range t.neighbours {
		if n == lost {
			continue
		}
		e := nb.dests[d]
		if e == nil {
			continue
		}
		if e.Pheromone < lostValue {
			// a strictly better path survives; nothing to announce
			return nil
		}
		if best == nil || e.Pheromone < best.Pheromone {
			best = e
		}
	}

	if best == nil {
		e := message.TotalLossEntry(d)
		return &e
	}
	return &message.LinkFailureEntry{
		Destination: d,
		Hops:        uint16(best.Hops),
		Value:       float32(best.Pheromone),
	}
}

// UpdateOnLinkFailure applies a received link failure notification. Entries
// reporting an alternative path are blended into the (source, destination)
// entry like a backward ant update; total-loss markers invalidate the entry
// instead and may produce entries of our own to re-propagate. The returned
// list is empty when nothing needs to be re-broadcast.
func (t *Table) UpdateOnLinkFailure(lfn *message.LinkFailure) []message.LinkFailureEntry {
	var out []message.LinkFailureEntry
	for _, in := range lfn.Entries {
		if in.TotalLoss() {
			if e := t.entry(lfn.Source, in.Destination); e != nil {
				if ne := t.linkFailureEntry(in.Destination, lfn.Source, e.Pheromone); ne != nil {
					out = append(out, *ne)
				}
			}
			t.RemoveDestination(lfn.Source, in.Destination)
			continue
		}

		if e := t.entry(lfn.Source, in.Destination); e != nil {
			tauHat := t.tau(float64(in.Value), int(in.Hops))
			e.Pheromone = t.cfg.Gamma*e.Pheromone + (1-t.cfg.Gamma)*tauHat
			e.Hops = int(in.Hops)
		}
	}
	return out
}

func sortAddrs(addrs []netip.Addr) {
	sort.Slice(addrs, func(i, j int) bool { return addrs[i].Less(addrs[j]) })
}
