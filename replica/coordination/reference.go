package coordination

import (
	"log"
	"sync"
	"time"

	"github.com/distlake/replica"
	"github.com/distlake/replica/wire"
)

// ReferenceClient performs one-shot rank acquisition at startup, a periodic
// heartbeat, and an on-demand roster fetch. All three ride the same
// request/reply connection to the reference service; sends to the
// reference block indefinitely, since the reference service is assumed
// highly available and every other protocol here depends on reaching it.
type ReferenceClient struct {
	address  string
	identity *replica.Identity
	clock    *replica.Clock
	dial     func(string) (wire.Conn, error)
	logger   *log.Logger

	connMu sync.Mutex
	conn   wire.Conn
}

func NewReferenceClient(address string, identity *replica.Identity, clock *replica.Clock, dial func(string) (wire.Conn, error)) *ReferenceClient {
	return &ReferenceClient{
		address:  address,
		identity: identity,
		clock:    clock,
		dial:     dial,
		logger:   log.New(logWriter, "[reference] ", log.LstdFlags),
	}
}

func (r *ReferenceClient) connect() (wire.Conn, error) {
	r.connMu.Lock()
	defer r.connMu.Unlock()
	if r.conn != nil {
		return r.conn, nil
	}
	c, err := r.dial(r.address)
	if err != nil {
		return nil, err
	}
	r.conn = c
	return c, nil
}

func (r *ReferenceClient) invalidate() {
	r.connMu.Lock()
	defer r.connMu.Unlock()
	if r.conn != nil {
		r.conn.Close()
		r.conn = nil
	}
}

// Register performs the one-shot "rank" request. A failure is logged as a
// warning and leaves the replica in partial mode: it keeps serving
// ingress but Election.Start refuses to run.
func (r *ReferenceClient) Register() {
	conn, err := r.connect()
	if err != nil {
		r.logger.Printf("warning: cannot reach reference to acquire rank: %v", err)
		return
	}

	req := wire.Envelope{Service: "rank", Data: rankRequest{
		User:      r.identity.Name,
		Timestamp: time.Now(),
		Clock:     r.clock.Tick(),
	}}

	reply, err := wire.CallNoDeadline(conn, req)
	if err != nil {
		r.logger.Printf("warning: rank request failed: %v", err)
		r.invalidate()
		return
	}

	var data rankReply
	if err := decodeData(reply.Data, &data); err != nil {
		r.logger.Printf("warning: malformed rank reply: %v", err)
		return
	}

	r.clock.Observe(data.Clock)
	r.identity.SetRank(data.Rank)
	r.logger.Printf("acquired rank %d", data.Rank)
}

// Heartbeat sends one liveness signal. Run this on a ticker every
// HeartbeatInterval; an Unavailable reference is retried on the next tick.
func (r *ReferenceClient) Heartbeat() {
	conn, err := r.connect()
	if err != nil {
		r.logger.Printf("heartbeat: reference unavailable: %v", err)
		return
	}

	req := wire.Envelope{Service: "heartbeat", Data: heartbeatRequest{
		User:      r.identity.Name,
		Timestamp: time.Now(),
		Clock:     r.clock.Tick(),
	}}

	if _, err := wire.CallNoDeadline(conn, req); err != nil {
		r.logger.Printf("heartbeat failed: %v", err)
		r.invalidate()
	}
}

// List fetches the current ranked roster and records it on identity.
func (r *ReferenceClient) List() ([]replica.PeerInfo, error) {
	conn, err := r.connect()
	if err != nil {
		return nil, replica.NewError(replica.Unavailable, "reference unreachable: %v", err)
	}

	req := wire.Envelope{Service: "list", Data: listRequest{Clock: r.clock.Tick()}}
	reply, err := wire.CallNoDeadline(conn, req)
	if err != nil {
		r.invalidate()
		return nil, replica.NewError(replica.Unavailable, "list request failed: %v", err)
	}

	var data listReply
	if err := decodeData(reply.Data, &data); err != nil {
		return nil, replica.NewError(replica.ProtocolError, "malformed list reply: %v", err)
	}

	r.clock.Observe(data.Clock)
	r.identity.SetPeers(data.List)
	return data.List, nil
}

// RunHeartbeatLoop blocks, sending a heartbeat every HeartbeatInterval,
// until stop is closed. Run it as one of the replica's long-lived
// supervised background tasks.
func (r *ReferenceClient) RunHeartbeatLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.Heartbeat()
		case <-stop:
			return
		}
	}
}
