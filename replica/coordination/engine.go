package coordination

import (
	"log"
	"time"

	"github.com/distlake/replica"
	"github.com/distlake/replica/wire"
)

// Engine ties together everything a running replica needs: its identity and
// clocks, its application State, the reference client, the peer registry,
// the coordinator/election state, and the subscriber loop that applies
// replicated events published by every other replica. It implements
// replica.EventSink so State can emit mutations without importing this
// package.
type Engine struct {
	cfg      Config
	identity *replica.Identity
	clock    *replica.Clock
	physical *replica.PhysicalClock
	state    *replica.State

	peers            *peerRegistry
	pub              *publisher
	reference        *ReferenceClient
	coordinatorState *CoordinatorState
	election         *Election
	clockSync        *ClockSync
	fullSync         *FullSync
	rpcServer        *PeerRPCServer

	logger *log.Logger
}

// NewEngine wires every component together and registers itself as the
// state's replication event sink. dial is used for the peer, publisher and
// reference connections; RunSubscriber always dials with wire.Dial.
func NewEngine(cfg Config, identity *replica.Identity, clock *replica.Clock, physical *replica.PhysicalClock, state *replica.State, dial func(string) (wire.Conn, error)) *Engine {
	e := &Engine{
		cfg:              cfg,
		identity:         identity,
		clock:            clock,
		physical:         physical,
		state:            state,
		peers:            newPeerRegistry(dial, cfg.PeerListenAddress),
		pub:              newPublisher(cfg.ProxyAddress, dial),
		reference:        NewReferenceClient(cfg.ReferenceAddress, identity, clock, dial),
		coordinatorState: &CoordinatorState{},
		logger:           log.New(logWriter, "[engine] ", log.LstdFlags),
	}
	e.election = newElection(e)
	e.clockSync = newClockSync(e)
	e.fullSync = newFullSync(e)
	e.rpcServer = newPeerRPCServer(e)
	state.SetSink(e)
	return e
}

// PeerRPCServer exposes the HTTP handler for the replica's own peer-listen
// address.
func (e *Engine) PeerRPCServer() *PeerRPCServer { return e.rpcServer }

// Reference exposes the reference client for the startup rank acquisition
// and the heartbeat loop.
func (e *Engine) Reference() *ReferenceClient { return e.reference }

// Coordinator reports the currently known coordinator name, empty if none.
func (e *Engine) Coordinator() string { return e.coordinatorState.Get() }

// StartElection runs one Bully round and returns when it is done.
func (e *Engine) StartElection() { e.election.Start() }

// SyncClock runs one Berkeley round (the coordinator or the follower
// procedure) and returns when it is done.
func (e *Engine) SyncClock() { e.clockSync.Run() }

// FullSync runs the join handshake against the known roster, merging the
// first peer snapshot it receives. Returns false if no peer answered.
func (e *Engine) FullSync() bool { return e.fullSync.Run() }

// Emit implements replica.EventSink: every successful local mutation is
// broadcast to every other replica on the shared servers topic.
func (e *Engine) Emit(event replica.ReplicationEvent) {
	ann := announcement{
		Service:       serviceReplication,
		Server:        event.Server,
		Operation:     string(event.Operation),
		OperationData: event.OperationData,
		Timestamp:     event.Timestamp,
		Clock:         event.Clock,
	}
	if err := e.pub.publish(ServersTopic, ann); err != nil {
		e.logger.Printf("failed to publish replication event: %v", err)
	}
}

// RunSubscriber dials the pub/sub proxy's subscribe-facing address and
// applies every servers-topic frame until stop is closed, reconnecting on
// read failure. Events originating from this replica are ignored: each
// replica already applied its own mutation locally before publishing it.
func (e *Engine) RunSubscriber(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}

		conn, err := wire.Dial(e.cfg.ProxySubAddress)
		if err != nil {
			e.logger.Printf("subscriber: dial failed: %v", err)
			time.Sleep(time.Second)
			continue
		}

		// Closing the connection on stop unblocks an in-flight ReadMessage.
		done := make(chan struct{})
		go func() {
			select {
			case <-stop:
				conn.Close()
			case <-done:
			}
		}()
		e.subscribeLoop(conn, stop)
		close(done)
		conn.Close()
	}
}

func (e *Engine) subscribeLoop(conn wire.Conn, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}

		raw, err := conn.ReadMessage()
		if err != nil {
			e.logger.Printf("subscriber: read failed: %v", err)
			return
		}

		var frame wire.PubSubFrame
		if err := wire.Decode(raw, &frame); err != nil {
			e.logger.Printf("subscriber: undecodable frame: %v", err)
			continue
		}
		if frame.Topic != ServersTopic {
			continue
		}

		var ann announcement
		if err := decodeData(frame.Payload, &ann); err != nil {
			e.logger.Printf("subscriber: undecodable announcement: %v", err)
			continue
		}
		e.applyAnnouncement(ann)
	}
}

func (e *Engine) applyAnnouncement(ann announcement) {
	e.clock.Observe(ann.Clock)

	switch ann.Service {
	case serviceElection:
		e.coordinatorState.Set(ann.Coordinator)
		e.logger.Printf("coordinator is now %s", ann.Coordinator)
	case serviceReplication:
		if ann.Server == e.identity.Name {
			return
		}
		e.applyReplicationEvent(ann)
	default:
		e.logger.Printf("unknown announcement service %q", ann.Service)
	}
}

func (e *Engine) applyReplicationEvent(ann announcement) {
	switch replica.Operation(ann.Operation) {
	case replica.OpLogin:
		var data replica.LoginData
		if err := decodeData(ann.OperationData, &data); err != nil {
			e.logger.Printf("undecodable login event: %v", err)
			return
		}
		e.state.ApplyLogin(data.User, data.Timestamp)
	case replica.OpChannel:
		var data replica.ChannelData
		if err := decodeData(ann.OperationData, &data); err != nil {
			e.logger.Printf("undecodable channel event: %v", err)
			return
		}
		e.state.ApplyChannel(data.Channel)
	case replica.OpPublish:
		var data replica.Publication
		if err := decodeData(ann.OperationData, &data); err != nil {
			e.logger.Printf("undecodable publish event: %v", err)
			return
		}
		e.state.ApplyPublication(data)
	case replica.OpMessage:
		var data replica.Message
		if err := decodeData(ann.OperationData, &data); err != nil {
			e.logger.Printf("undecodable message event: %v", err)
			return
		}
		e.state.ApplyMessage(data)
	default:
		e.logger.Printf("unknown replicated operation %q", ann.Operation)
	}
}
