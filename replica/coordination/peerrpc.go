package coordination

import (
	"log"
	"net/http"
	"time"

	"github.com/distlake/replica"
	"github.com/distlake/replica/wire"
)

// PeerRPCServer is the single request/reply endpoint each replica exposes
// to its peers. It recognizes "election", "clock", "sync", and
// "who_coordinator".
type PeerRPCServer struct {
	engine *Engine
	logger *log.Logger
}

func newPeerRPCServer(e *Engine) *PeerRPCServer {
	return &PeerRPCServer{engine: e, logger: log.New(logWriter, "[peerrpc] ", log.LstdFlags)}
}

// ServeHTTP upgrades the connection and serves requests from it until the
// peer disconnects. One peer RPC server handles any number of sequential
// requests from the same dialing peer over one connection.
func (s *PeerRPCServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := wire.Upgrade(w, r)
	if err != nil {
		s.logger.Printf("upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	for {
		conn.SetReadDeadline(time.Time{})
		raw, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var req wire.Envelope
		if err := wire.Decode(raw, &req); err != nil {
			s.reply(conn, wire.Envelope{Service: "error", Data: map[string]string{
				"status": "error", "error": "undecodable frame",
			}})
			continue
		}

		reply := s.dispatch(req)
		if err := s.reply(conn, reply); err != nil {
			return
		}
	}
}

func (s *PeerRPCServer) reply(conn wire.Conn, env wire.Envelope) error {
	data, err := wire.Encode(env)
	if err != nil {
		return err
	}
	return conn.WriteMessage(data)
}

func (s *PeerRPCServer) dispatch(req wire.Envelope) wire.Envelope {
	switch req.Service {
	case "election":
		return s.handleElection(req)
	case "clock":
		return s.handleClock(req)
	case "sync":
		return s.handleSync(req)
	case "who_coordinator":
		return s.handleWhoCoordinator(req)
	default:
		return wire.Envelope{Service: "error", Data: map[string]string{
			"status": "error", "error": "unknown service " + req.Service,
		}}
	}
}

// handleElection observes the sender's clock, replies OK, and spawns an
// election of its own: a higher-ranked replica that is queried always
// starts its own round, since it outranks whoever just asked.
func (s *PeerRPCServer) handleElection(req wire.Envelope) wire.Envelope {
	var data electionRequest
	if err := decodeData(req.Data, &data); err != nil {
		return protocolError()
	}
	clock := s.engine.clock.Observe(data.Clock)

	go s.engine.election.Start()

	return wire.Envelope{Service: "election", Data: electionReply{Election: "OK", Clock: clock}}
}

func (s *PeerRPCServer) handleClock(req wire.Envelope) wire.Envelope {
	var data clockRequest
	if err := decodeData(req.Data, &data); err != nil {
		return protocolError()
	}
	clock := s.engine.clock.Observe(data.Clock)
	return wire.Envelope{Service: "clock", Data: clockReply{Now: s.engine.physical.Now(), Clock: clock}}
}

func (s *PeerRPCServer) handleSync(req wire.Envelope) wire.Envelope {
	var data syncRequest
	if err := decodeData(req.Data, &data); err != nil {
		return protocolError()
	}
	clock := s.engine.clock.Observe(data.Clock)
	return wire.Envelope{Service: "sync", Data: syncReply{Snapshot: s.engine.state.Snapshot(), Clock: clock}}
}

func (s *PeerRPCServer) handleWhoCoordinator(req wire.Envelope) wire.Envelope {
	var data whoCoordinatorRequest
	if err := decodeData(req.Data, &data); err != nil {
		return protocolError()
	}
	clock := s.engine.clock.Observe(data.Clock)
	rank, _ := s.engine.identity.Rank()
	return wire.Envelope{Service: "who_coordinator", Data: whoCoordinatorReply{
		Coordinator: s.engine.coordinatorState.Get(),
		Server:      s.engine.identity.Name,
		Rank:        rank,
		Clock:       clock,
	}}
}

func protocolError() wire.Envelope {
	return wire.Envelope{Service: "error", Data: map[string]string{
		"status": "error", "error": replica.ProtocolError.String(),
	}}
}
