package coordination

import (
	"log"
	"time"

	"github.com/distlake/replica/wire"
)

// ClockSync implements Berkeley's algorithm in its pull-heavy variant: the
// coordinator still runs the "Coordinator procedure" of spec.md §4.8 (poll
// every peer's clock and set its own offset to the group mean), but never
// pushes adjustments back out; every non-coordinator replica instead pulls
// the coordinator's physical time on its own schedule, estimates network
// delay with a round-trip measurement, and adjusts its own offset to track
// it, so the mean converges across the group over several rounds.
type ClockSync struct {
	engine *Engine
	logger *log.Logger
}

func newClockSync(e *Engine) *ClockSync {
	return &ClockSync{engine: e, logger: log.New(logWriter, "[clocksync] ", log.LstdFlags)}
}

// Run performs one sync round: the coordinator procedure if this replica
// currently believes itself to be coordinator, the follower procedure
// otherwise. A replica that knows no coordinator yet is a no-op either way.
func (cs *ClockSync) Run() {
	coordinator := cs.engine.coordinatorState.Get()
	if coordinator == "" {
		return
	}
	if coordinator == cs.engine.identity.Name {
		cs.runCoordinator()
		return
	}
	cs.runFollower(coordinator)
}

// runCoordinator fetches the peer roster, polls every peer's physical
// clock, and sets its own offset to the mean of its own reading and every
// reply it received. Peers that don't answer are simply excluded from the
// mean, per spec.md §4.8 step 4 ("{t_self} ∪ {t_peer : reply received}").
func (cs *ClockSync) runCoordinator() {
	self := cs.engine.identity.Name
	if _, err := cs.engine.reference.List(); err != nil {
		cs.logger.Printf("roster fetch failed, using last known roster: %v", err)
	}
	tSelf := cs.engine.physical.Now()
	samples := []time.Time{tSelf}

	for _, peer := range cs.engine.identity.Peers() {
		if peer.Name == self {
			continue
		}
		conn := cs.engine.peers.get(peer.Name)
		req := wire.Envelope{Service: "clock", Data: clockRequest{
			Server: self,
			Clock:  cs.engine.clock.Tick(),
		}}
		reply, err := conn.call(req)
		if err != nil {
			cs.logger.Printf("clock poll of %s failed: %v", peer.Name, err)
			continue
		}
		var data clockReply
		if err := decodeData(reply.Data, &data); err != nil {
			cs.logger.Printf("malformed clock reply from %s: %v", peer.Name, err)
			continue
		}
		cs.engine.clock.Observe(data.Clock)
		samples = append(samples, data.Now)
	}

	mean := meanTime(samples)
	offset := mean.Sub(time.Now())
	cs.engine.physical.SetOffset(offset)
	cs.logger.Printf("coordinator set offset to %s from %d sample(s)", offset, len(samples))
}

// runFollower pulls the coordinator's physical time, compensates for
// round-trip delay, and adjusts this replica's own offset to track it. A
// failed RPC means the coordinator is presumed dead: the follower spawns a
// new election (spec.md §4.8, last line of the follower procedure).
func (cs *ClockSync) runFollower(coordinator string) {
	conn := cs.engine.peers.get(coordinator)
	req := wire.Envelope{Service: "clock", Data: clockRequest{
		Server: cs.engine.identity.Name,
		Clock:  cs.engine.clock.Tick(),
	}}

	sent := time.Now()
	reply, err := conn.call(req)
	if err != nil {
		cs.logger.Printf("clock sync with %s failed: %v, starting election", coordinator, err)
		go cs.engine.election.Start()
		return
	}
	rtt := time.Since(sent)

	var data clockReply
	if err := decodeData(reply.Data, &data); err != nil {
		cs.logger.Printf("malformed clock reply from %s: %v", coordinator, err)
		return
	}
	cs.engine.clock.Observe(data.Clock)

	// The coordinator's timestamp was captured roughly rtt/2 before this
	// reply arrived; project it forward by that amount to estimate what the
	// coordinator's clock reads right now.
	estimate := data.Now.Add(rtt / 2)
	offset := estimate.Sub(time.Now())
	cs.engine.physical.SetOffset(offset)
	cs.logger.Printf("adjusted offset to %s coordinator=%s rtt=%s", offset, coordinator, rtt)
}

// meanTime returns the arithmetic mean of a non-empty slice of timestamps,
// computed as an offset from the first sample to stay well within int64
// nanosecond range regardless of how far samples are from the Unix epoch.
func meanTime(samples []time.Time) time.Time {
	base := samples[0]
	var sum time.Duration
	for _, t := range samples {
		sum += t.Sub(base)
	}
	return base.Add(sum / time.Duration(len(samples)))
}
