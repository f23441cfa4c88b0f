package coordination

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/distlake/replica"
	"github.com/distlake/replica/wire"
)

// --- Broker-facing client request/reply payloads. ---

type loginRequest struct {
	User  string `msgpack:"user"`
	Clock uint64 `msgpack:"clock"`
}

type usersRequest struct {
	Clock uint64 `msgpack:"clock"`
}

type usersReply struct {
	Users []string `msgpack:"users"`
	Clock uint64   `msgpack:"clock"`
}

type channelRequest struct {
	Channel string `msgpack:"channel"`
	Clock   uint64 `msgpack:"clock"`
}

type channelsRequest struct {
	Clock uint64 `msgpack:"clock"`
}

type channelsReply struct {
	Channels []string `msgpack:"channels"`
	Clock    uint64   `msgpack:"clock"`
}

type publishRequest struct {
	User    string `msgpack:"user"`
	Channel string `msgpack:"channel"`
	Message string `msgpack:"message"`
	Clock   uint64 `msgpack:"clock"`
}

type messageRequest struct {
	Src     string `msgpack:"src"`
	Dst     string `msgpack:"dst"`
	Message string `msgpack:"message"`
	Clock   uint64 `msgpack:"clock"`
}

type statusReply struct {
	Status string `msgpack:"status"`
	Clock  uint64 `msgpack:"clock"`
}

type errorReply struct {
	Status string `msgpack:"status"`
	Error  string `msgpack:"error"`
	Clock  uint64 `msgpack:"clock"`
}

// Ingress serves the broker-facing request/reply socket, dispatching each
// frame to the application state machine, and triggers a background clock
// sync round every ClockSyncBoundary messages.
type Ingress struct {
	engine *Engine
	logger *log.Logger

	countMu sync.Mutex
	count   int
}

func NewIngress(e *Engine) *Ingress {
	return &Ingress{
		engine: e,
		logger: log.New(logWriter, "[ingress] ", log.LstdFlags),
	}
}

// ServeHTTP upgrades the broker connection and serves requests from it
// until the broker disconnects.
func (in *Ingress) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := wire.Upgrade(w, r)
	if err != nil {
		in.logger.Printf("upgrade failed: %v", err)
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
			in.send(conn, wire.Envelope{Service: "error", Data: errorReply{
				Status: "error", Error: replica.ProtocolError.String(),
			}})
			continue
		}

		reply := in.dispatch(req)
		if err := in.send(conn, reply); err != nil {
			return
		}
		in.tick()
	}
}

func (in *Ingress) send(conn wire.Conn, env wire.Envelope) error {
	data, err := wire.Encode(env)
	if err != nil {
		return err
	}
	return conn.WriteMessage(data)
}

// tick counts one served request and fires a background clock sync round
// every ClockSyncBoundary requests.
func (in *Ingress) tick() {
	in.countMu.Lock()
	in.count++
	due := in.count >= ClockSyncBoundary
	if due {
		in.count = 0
	}
	in.countMu.Unlock()
	if due {
		go in.engine.SyncClock()
	}
}

func (in *Ingress) dispatch(req wire.Envelope) wire.Envelope {
	switch req.Service {
	case "login":
		return in.handleLogin(req)
	case "users":
		return in.handleUsers(req)
	case "channel":
		return in.handleChannel(req)
	case "channels":
		return in.handleChannels(req)
	case "publish":
		return in.handlePublish(req)
	case "message":
		return in.handleMessage(req)
	default:
		return wire.Envelope{Service: "error", Data: errorReply{
			Status: "error", Error: "unknown service " + req.Service,
		}}
	}
}

func asError(err error) (replica.ErrorKind, string) {
	if e, ok := err.(*replica.Error); ok {
		return e.Kind, e.Message
	}
	return replica.Internal, err.Error()
}

func (in *Ingress) handleLogin(req wire.Envelope) wire.Envelope {
	var data loginRequest
	if err := decodeData(req.Data, &data); err != nil {
		return protocolErrorReply()
	}
	clock, err := in.engine.state.Login(data.User, in.engine.physical.Now(), data.Clock)
	if err != nil {
		kind, msg := asError(err)
		return wire.Envelope{Service: "login", Data: errorReply{Status: kind.String(), Error: msg, Clock: clock}}
	}
	return wire.Envelope{Service: "login", Data: statusReply{Status: "success", Clock: clock}}
}

func (in *Ingress) handleUsers(req wire.Envelope) wire.Envelope {
	var data usersRequest
	if err := decodeData(req.Data, &data); err != nil {
		return protocolErrorReply()
	}
	users, clock := in.engine.state.Users(data.Clock)
	return wire.Envelope{Service: "users", Data: usersReply{Users: users, Clock: clock}}
}

func (in *Ingress) handleChannel(req wire.Envelope) wire.Envelope {
	var data channelRequest
	if err := decodeData(req.Data, &data); err != nil {
		return protocolErrorReply()
	}
	clock, err := in.engine.state.Channel(data.Channel, in.engine.physical.Now(), data.Clock)
	if err != nil {
		kind, msg := asError(err)
		return wire.Envelope{Service: "channel", Data: errorReply{Status: kind.String(), Error: msg, Clock: clock}}
	}
	return wire.Envelope{Service: "channel", Data: statusReply{Status: "success", Clock: clock}}
}

func (in *Ingress) handleChannels(req wire.Envelope) wire.Envelope {
	var data channelsRequest
	if err := decodeData(req.Data, &data); err != nil {
		return protocolErrorReply()
	}
	channels, clock := in.engine.state.Channels(data.Clock)
	return wire.Envelope{Service: "channels", Data: channelsReply{Channels: channels, Clock: clock}}
}

func (in *Ingress) handlePublish(req wire.Envelope) wire.Envelope {
	var data publishRequest
	if err := decodeData(req.Data, &data); err != nil {
		return protocolErrorReply()
	}
	fanout, clock, err := in.engine.state.Publish(data.User, data.Channel, data.Message, in.engine.physical.Now(), data.Clock)
	if err != nil {
		kind, msg := asError(err)
		return wire.Envelope{Service: "publish", Data: errorReply{Status: kind.String(), Error: msg, Clock: clock}}
	}
	if err := in.engine.pub.publish(fanout.Topic, fanout.Payload); err != nil {
		in.logger.Printf("fan-out publish failed: %v", err)
	}
	return wire.Envelope{Service: "publish", Data: statusReply{Status: "OK", Clock: clock}}
}

func (in *Ingress) handleMessage(req wire.Envelope) wire.Envelope {
	var data messageRequest
	if err := decodeData(req.Data, &data); err != nil {
		return protocolErrorReply()
	}
	fanout, clock, err := in.engine.state.Message(data.Src, data.Dst, data.Message, in.engine.physical.Now(), data.Clock)
	if err != nil {
		kind, msg := asError(err)
		return wire.Envelope{Service: "message", Data: errorReply{Status: kind.String(), Error: msg, Clock: clock}}
	}
	if err := in.engine.pub.publish(fanout.Topic, fanout.Payload); err != nil {
		in.logger.Printf("fan-out publish failed: %v", err)
	}
	return wire.Envelope{Service: "message", Data: statusReply{Status: "OK", Clock: clock}}
}

func protocolErrorReply() wire.Envelope {
	return wire.Envelope{Service: "error", Data: errorReply{
		Status: replica.ProtocolError.String(), Error: "undecodable frame",
	}}
}
