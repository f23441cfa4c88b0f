package coordination

import (
	"time"

	"github.com/distlake/replica"
)

// --- Peer RPC service payloads. ---

type electionRequest struct {
	Server string `msgpack:"server"`
	Clock  uint64 `msgpack:"clock"`
}

type electionReply struct {
	Election string `msgpack:"election"`
	Clock    uint64 `msgpack:"clock"`
}

type clockRequest struct {
	Server string `msgpack:"server"`
	Clock  uint64 `msgpack:"clock"`
}

type clockReply struct {
	Now   time.Time `msgpack:"now"`
	Clock uint64    `msgpack:"clock"`
}

type syncRequest struct {
	Server string `msgpack:"server"`
	Clock  uint64 `msgpack:"clock"`
}

type syncReply struct {
	Snapshot replica.Snapshot `msgpack:"snapshot"`
	Clock    uint64           `msgpack:"clock"`
}

type whoCoordinatorRequest struct {
	Server string `msgpack:"server"`
	Clock  uint64 `msgpack:"clock"`
}

type whoCoordinatorReply struct {
	Coordinator string `msgpack:"coordinator"`
	Server      string `msgpack:"server"`
	Rank        int    `msgpack:"rank"`
	Clock       uint64 `msgpack:"clock"`
}

// --- Reference service payloads. ---

type rankRequest struct {
	User      string    `msgpack:"user"`
	Timestamp time.Time `msgpack:"timestamp"`
	Clock     uint64    `msgpack:"clock"`
}

type rankReply struct {
	Rank  int    `msgpack:"rank"`
	Clock uint64 `msgpack:"clock"`
}

type heartbeatRequest struct {
	User      string    `msgpack:"user"`
	Timestamp time.Time `msgpack:"timestamp"`
	Clock     uint64    `msgpack:"clock"`
}

type listRequest struct {
	Clock uint64 `msgpack:"clock"`
}

type listReply struct {
	List  []replica.PeerInfo `msgpack:"list"`
	Clock uint64             `msgpack:"clock"`
}

// --- servers-topic control/announcement frame. ---

type announcement struct {
	Service     string    `msgpack:"service"`
	Coordinator string    `msgpack:"coordinator,omitempty"`
	Server      string    `msgpack:"server,omitempty"`
	Operation   string    `msgpack:"operation,omitempty"`
	OperationData interface{} `msgpack:"operation_data,omitempty"`
	Timestamp   time.Time `msgpack:"timestamp"`
	Clock       uint64    `msgpack:"clock"`
}

const (
	serviceElection    = "election"
	serviceReplication = "replication"
)
