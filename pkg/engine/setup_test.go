package engine

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jihwankim/anthocnet/pkg/config"
	"github.com/jihwankim/anthocnet/pkg/message"
)

func TestStartSetupBroadcastsForwardAnt(t *testing.T) {
	e, tr := newTestEngine(t, addr(1))
	now := time.Unix(0, 0)

	v := e.Route(now, DataPacket{Source: addr(1), Destination: addr(9)})
	require.Equal(t, RouteBuffered, v.Action)
	require.Len(t, e.buffer, 1)

	ants := tr.broadcastsOf(message.TypeForwardAnt)
	require.Len(t, ants, 1)
	ant, err := message.DecodeForwardAnt(ants[0].payload)
	require.NoError(t, err)
	require.Equal(t, message.KindReactiveForward, ant.Kind)
	require.Equal(t, addr(1), ant.Source)
	require.Equal(t, addr(9), ant.Destination)
	require.Equal(t, uint32(1), ant.Generation)
	require.Zero(t, ant.Hops())
}

func TestSetupRetriesThenExhausts(t *testing.T) {
	e, tr := newTestEngine(t, addr(1))
	cfg := config.DefaultConfig()
	now := time.Unix(0, 0)

	e.Route(now, DataPacket{Source: addr(1), Destination: addr(9)})
	require.Len(t, tr.broadcastsOf(message.TypeForwardAnt), 1)

	// every expiry but the last re-broadcasts with a fresh generation
	for i := 1; i < cfg.Protocol.MaxTriesPathSetup; i++ {
		now = now.Add(time.Duration(cfg.Protocol.RestartPathSetup))
		e.Tick(now)
		ants := tr.broadcastsOf(message.TypeForwardAnt)
		require.Len(t, ants, i+1)
		require.True(t, e.setup.active)
		require.NotEmpty(t, e.buffer)
	}

	// the final expiry gives up and discards the buffer
	now = now.Add(time.Duration(cfg.Protocol.RestartPathSetup))
	e.Tick(now)
	require.False(t, e.setup.active)
	require.Empty(t, e.buffer)
	require.Len(t, tr.broadcastsOf(message.TypeForwardAnt), cfg.Protocol.MaxTriesPathSetup)
}

func TestBufferEmptyWheneverSetupIdle(t *testing.T) {
	e, _ := newTestEngine(t, addr(1))
	cfg := config.DefaultConfig()
	now := time.Unix(0, 0)

	require.False(t, e.setup.active)
	require.Empty(t, e.buffer)

	e.Route(now, DataPacket{Source: addr(1), Destination: addr(9)})
	require.True(t, e.setup.active)

	for i := 0; i < cfg.Protocol.MaxTriesPathSetup; i++ {
		now = now.Add(time.Duration(cfg.Protocol.RestartPathSetup))
		e.Tick(now)
	}
	require.False(t, e.setup.active)
	require.Empty(t, e.buffer)
}

func TestForwardAntRelayUnicastsAlongGradient(t *testing.T) {
	e, tr := newTestEngine(t, addr(2))
	now := time.Unix(0, 0)

	learnNeighbour(e, addr(3), now)
	learnRoute(e, addr(3), addr(9), now)

	ant := &message.ForwardAnt{
		Kind:        message.KindReactiveForward,
		Generation:  1,
		Source:      addr(1),
		Destination: addr(9),
	}
	e.handleForwardAnt(now, ant)

	require.Len(t, tr.unicasts, 1)
	require.Equal(t, addr(3), tr.unicasts[0].to)
	relayed, err := message.DecodeForwardAnt(tr.unicasts[0].payload)
	require.NoError(t, err)
	require.Equal(t, []netip.Addr{addr(2)}, relayed.Path)
	require.Equal(t, 1, relayed.Hops())
}

func TestForwardAntRelayBroadcastsWithoutPheromone(t *testing.T) {
	e, tr := newTestEngine(t, addr(2))
	now := time.Unix(0, 0)

	ant := &message.ForwardAnt{
		Kind:        message.KindReactiveForward,
		Generation:  1,
		Source:      addr(1),
		Destination: addr(9),
	}
	e.handleForwardAnt(now, ant)

	ants := tr.broadcastsOf(message.TypeForwardAnt)
	require.Len(t, ants, 1)
	relayed, _ := message.DecodeForwardAnt(ants[0].payload)
	require.Equal(t, uint16(1), relayed.Broadcasts)
}

func TestForwardAntStructuralDrops(t *testing.T) {
	e, tr := newTestEngine(t, addr(2))
	now := time.Unix(0, 0)

	// own ant came back
	e.handleForwardAnt(now, &message.ForwardAnt{Source: addr(2), Destination: addr(9)})
	// ant already visited this node
	e.handleForwardAnt(now, &message.ForwardAnt{
		Source:      addr(1),
		Destination: addr(9),
		Path:        []netip.Addr{addr(2), addr(3)},
	})
	require.Empty(t, tr.unicasts)
	require.Empty(t, tr.broadcasts)
}

func TestForwardAntHopLimit(t *testing.T) {
	e, tr := newTestEngine(t, addr(2))
	cfg := config.DefaultConfig()
	now := time.Unix(0, 0)

	path := make([]netip.Addr, cfg.Protocol.MaxHops)
	for i := range path {
		path[i] = addr(100 + i)
	}
	e.handleForwardAnt(now, &message.ForwardAnt{
		Source:      addr(1),
		Destination: addr(9),
		Path:        path,
	})
	require.Empty(t, tr.unicasts)
	require.Empty(t, tr.broadcasts)
}

func TestPathRepairAntBroadcastBudget(t *testing.T) {
	e, tr := newTestEngine(t, addr(2))
	cfg := config.DefaultConfig()
	now := time.Unix(0, 0)

	ant := &message.ForwardAnt{
		Kind:        message.KindPathRepair,
		Source:      addr(1),
		Destination: addr(9),
		Broadcasts:  uint16(cfg.Protocol.MaxBroadcastsPathRepair),
	}
	e.handleForwardAnt(now, ant)
	require.Empty(t, tr.broadcastsOf(message.TypeForwardAnt))
}

func TestAcceptanceFilterThresholds(t *testing.T) {
	// spec seed case: a1 = 0.9, a2 = 2. First ant sets T* = 10, so
	// thr1 = 10 / 0.9 and thr2 = 20.
	e, _ := newTestEngine(t, addr(5))
	src := addr(1)

	mk := func(firstHop netip.Addr, estimate float32) *message.ForwardAnt {
		return &message.ForwardAnt{
			Kind:         message.KindReactiveForward,
			Generation:   1,
			Source:       src,
			TimeEstimate: estimate,
			Path:         []netip.Addr{firstHop, addr(5)},
		}
	}

	require.True(t, e.acceptForwardAnt(mk(addr(10), 10)))

	// slower than thr2 over a new first hop: rejected
	require.False(t, e.acceptForwardAnt(mk(addr(11), 30)))

	// within thr1: accepted without being best
	require.True(t, e.acceptForwardAnt(mk(addr(12), 11)))

	// between thr1 and thr2 over a new first hop: accepted
	require.True(t, e.acceptForwardAnt(mk(addr(13), 15)))

	// between thr1 and thr2 over an already-tried first hop: rejected
	require.False(t, e.acceptForwardAnt(mk(addr(10), 15)))

	// a faster ant becomes the new best
	require.True(t, e.acceptForwardAnt(mk(addr(14), 4)))
	record := e.bestAntFor(src, 1)
	require.NotNil(t, record)
	require.InDelta(t, 4.0, record.estimate, 1e-9)

	// an unseen generation is always accepted
	other := mk(addr(15), 1000)
	other.Generation = 2
	require.True(t, e.acceptForwardAnt(other))
}

func TestDestinationEmitsBackwardAnt(t *testing.T) {
	e, tr := newTestEngine(t, addr(3))
	now := time.Unix(0, 0)

	learnNeighbour(e, addr(2), now)

	// forward ant from addr(1) arrives over addr(2)
	ant := &message.ForwardAnt{
		Kind:        message.KindReactiveForward,
		Generation:  4,
		Source:      addr(1),
		Destination: addr(3),
		Path:        []netip.Addr{addr(2)},
	}
	e.handleForwardAnt(now, ant)

	require.Len(t, tr.unicasts, 1)
	require.Equal(t, addr(2), tr.unicasts[0].to)
	require.Equal(t, message.TypeBackwardAnt, tr.unicasts[0].icmpType)

	rba, err := message.DecodeBackwardAnt(tr.unicasts[0].payload)
	require.NoError(t, err)
	require.Equal(t, uint32(4), rba.Generation)
	require.Equal(t, addr(1), rba.Destination)
	require.Equal(t, uint16(0), rba.CurrentHop)
	require.Equal(t, []netip.Addr{addr(3), addr(2)}, rba.Path)
}

func TestBackwardAntNotEmittedToLostNeighbour(t *testing.T) {
	e, tr := newTestEngine(t, addr(3))
	now := time.Unix(0, 0)

	// addr(2) never said hello; the reverse path is unusable
	e.handleForwardAnt(now, &message.ForwardAnt{
		Kind:        message.KindReactiveForward,
		Source:      addr(1),
		Destination: addr(3),
		Path:        []netip.Addr{addr(2)},
	})
	require.Empty(t, tr.unicasts)
}

func TestBackwardAntRelayAndCompletion(t *testing.T) {
	// node B relays a backward ant from C towards A, then node A
	// completes its setup with it
	now := time.Unix(0, 0)

	b, trB := newTestEngine(t, addr(2))
	learnNeighbour(b, addr(1), now)
	learnNeighbour(b, addr(3), now)

	rba := &message.BackwardAnt{
		Generation:  1,
		Destination: addr(1),
		CurrentHop:  0,
		Path:        []netip.Addr{addr(3), addr(2)},
	}
	b.handleBackwardAnt(now, rba)

	// B deposited pheromone towards C and forwarded to A
	ph, ok := b.table.Pheromone(addr(3), addr(3))
	require.True(t, ok)
	require.Greater(t, ph, 0.0)
	require.Len(t, trB.unicasts, 1)
	require.Equal(t, addr(1), trB.unicasts[0].to)

	a, trA := newTestEngine(t, addr(1))
	learnNeighbour(a, addr(2), now)
	a.Route(now, DataPacket{Source: addr(1), Destination: addr(3)})
	require.True(t, a.setup.active)
	require.Len(t, a.buffer, 1)
	trA.reset()

	relayed, err := message.DecodeBackwardAnt(trB.unicasts[0].payload)
	require.NoError(t, err)
	a.handleBackwardAnt(now, relayed)

	// setup completed, pheromone deposited, buffer flushed towards B
	require.False(t, a.setup.active)
	require.Empty(t, a.buffer)
	hops, ok := a.table.Hops(addr(2), addr(3))
	require.True(t, ok)
	require.Equal(t, 2, hops)
	require.Len(t, trA.data, 1)
	require.Equal(t, addr(2), trA.data[0].to)
}

func TestBackwardAntOfStaleGenerationDoesNotComplete(t *testing.T) {
	e, _ := newTestEngine(t, addr(1))
	now := time.Unix(0, 0)

	learnNeighbour(e, addr(2), now)
	e.Route(now, DataPacket{Source: addr(1), Destination: addr(3)})
	require.True(t, e.setup.active)

	stale := &message.BackwardAnt{
		Generation:  99,
		Destination: addr(1),
		CurrentHop:  1,
		Path:        []netip.Addr{addr(3), addr(2)},
	}
	e.handleBackwardAnt(now, stale)
	require.True(t, e.setup.active)
	require.NotEmpty(t, e.buffer)
}

func TestBackwardAntDropsWhenNextHopGone(t *testing.T) {
	e, tr := newTestEngine(t, addr(2))
	now := time.Unix(0, 0)

	// addr(1) is not a neighbour: the relay has nowhere to go
	rba := &message.BackwardAnt{
		Generation:  1,
		Destination: addr(1),
		CurrentHop:  0,
		Path:        []netip.Addr{addr(3), addr(2)},
	}
	e.handleBackwardAnt(now, rba)
	require.Empty(t, tr.unicasts)
}

func TestSendBufferOverflowDropsOldest(t *testing.T) {
	e, _ := newTestEngine(t, addr(1))
	cfg := config.DefaultConfig()
	now := time.Unix(0, 0)

	for i := 0; i <= cfg.Protocol.SendBufferCap; i++ {
		e.Route(now, DataPacket{
			Source:      addr(1),
			Destination: addr(9),
			Payload:     []byte{byte(i)},
		})
	}

	require.Len(t, e.buffer, cfg.Protocol.SendBufferCap)
	// the first packet fell off the front
	require.Equal(t, []byte{1}, e.buffer[0].Payload)
}
