package engine

import (
	"time"

	"github.com/jihwankim/anthocnet/pkg/message"
)

// broadcastHello emits the periodic liveness beacon carrying this node's
// current forwarding delay estimate.
func (e *Engine) broadcastHello() {
	estimate := e.extendTimeEstimate(0)
	if estimate == 0 {
		// nothing observed yet; give receivers a sane value to seed from
		estimate = 1.0
	}

	hm := &message.Hello{
		Source:       e.self,
		TimeEstimate: float32(estimate),
	}
	e.metrics.HellosSent.Inc()
	e.tr.Broadcast(message.TypeHello, hm.Marshal())
}

// handleHello learns or refreshes a direct neighbour from its beacon.
func (e *Engine) handleHello(now time.Time, hm *message.Hello) {
	if hm.Source == e.self {
		return
	}
	e.metrics.HellosReceived.Inc()

	seed := e.table.HelloSeed(float64(hm.TimeEstimate))
	if e.table.AddOrRefreshNeighbour(hm.Source, seed, now) {
		e.metrics.NeighboursAdded.Inc()
		e.log.Debug().Stringer("neighbour", hm.Source).Msg("neighbour discovered")
	}
}
