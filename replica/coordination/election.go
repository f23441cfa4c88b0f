package coordination

import (
	"log"
	"sync"
	"time"

	"github.com/distlake/replica"
	"github.com/distlake/replica/wire"
)

// Election implements the Bully algorithm: query every
// higher-ranked peer; if none answers, become coordinator and announce it
// on the servers topic; if one does, stand down and wait for its
// announcement. The CoordinatorState.inElection guard keeps a replica from
// running two elections concurrently, including one triggered by its own
// "election" RPC handler while its own Start is already in flight.
type Election struct {
	engine *Engine
	logger *log.Logger
}

func newElection(e *Engine) *Election {
	return &Election{engine: e, logger: log.New(logWriter, "[election] ", log.LstdFlags)}
}

// Start runs one election round. A replica that never acquired a rank is in
// partial mode and never starts an election.
func (el *Election) Start() {
	rank, ranked := el.engine.identity.Rank()
	if !ranked {
		el.logger.Printf("skipping election: no rank acquired")
		return
	}
	if !el.engine.coordinatorState.beginElection() {
		return
	}
	defer el.engine.coordinatorState.endElection()

	higher := el.engine.identity.HigherRanked()
	el.logger.Printf("starting election, rank=%d, %d higher-ranked peers", rank, len(higher))

	if len(higher) == 0 || !el.queryHigher(higher) {
		el.announceCoordinator()
		return
	}

	// A higher-ranked peer answered OK; it owns the rest of this round.
	// Give it ElectionSettleDelay to announce itself before this replica is
	// free to start another election.
	time.Sleep(ElectionSettleDelay)
}

// queryHigher sends an "election" request to every higher-ranked peer
// concurrently and reports whether at least one answered OK.
func (el *Election) queryHigher(higher []replica.PeerInfo) bool {
	var wg sync.WaitGroup
	results := make(chan bool, len(higher))

	for _, peer := range higher {
		peer := peer
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn := el.engine.peers.get(peer.Name)
			req := wire.Envelope{Service: "election", Data: electionRequest{
				Server: el.engine.identity.Name,
				Clock:  el.engine.clock.Tick(),
			}}
			reply, err := conn.call(req)
			if err != nil {
				results <- false
				return
			}
			var data electionReply
			if err := decodeData(reply.Data, &data); err != nil {
				results <- false
				return
			}
			el.engine.clock.Observe(data.Clock)
			results <- data.Election == "OK"
		}()
	}

	wg.Wait()
	close(results)

	for ok := range results {
		if ok {
			return true
		}
	}
	return false
}

// announceCoordinator declares this replica the winner and broadcasts it on
// the shared servers topic.
func (el *Election) announceCoordinator() {
	name := el.engine.identity.Name
	el.engine.coordinatorState.Set(name)
	clock := el.engine.clock.Tick()

	ann := announcement{
		Service:     serviceElection,
		Coordinator: name,
		Server:      name,
		Timestamp:   el.engine.physical.Now(),
		Clock:       clock,
	}
	if err := el.engine.pub.publish(ServersTopic, ann); err != nil {
		el.logger.Printf("failed to announce coordinator: %v", err)
		return
	}
	el.logger.Printf("elected self coordinator")
}
