package coordination

import (
	"fmt"
	"log"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/distlake/replica/wire"
)

// peerConn lazily dials and caches a connection to one peer's Peer RPC
// server, reconnecting on failure. Peer addresses are derived from the
// peer's name (the reference-assigned hostname in the replica set, same
// convention this deployment model uses for inter-server addressing) and
// this replica's own peer-listen port, so every replica in a deployment
// must bind the same port.
type peerConn struct {
	mu       sync.Mutex
	name     string
	url      string
	conn     wire.Conn
	dial     func(string) (wire.Conn, error)
	lastUsed time.Time
}

func newPeerConn(name, peerPort string, dial func(string) (wire.Conn, error)) *peerConn {
	return &peerConn{
		name: name,
		url:  fmt.Sprintf("ws://%s%s/peer", name, peerPort),
		dial: dial,
	}
}

func peerPort(listenAddress string) string {
	_, port, err := net.SplitHostPort(listenAddress)
	if err != nil || port == "" {
		return ":7100"
	}
	return ":" + port
}

// call opens (or reuses) a connection and performs one request/reply
// exchange bounded by PeerRPCTimeout. A failure invalidates the cached
// connection so the next call redials.
func (p *peerConn) call(req wire.Envelope) (wire.Envelope, error) {
	return p.callWithTimeout(req, PeerRPCTimeout)
}

// callWithTimeout is call with an overridable deadline: full-sync uses
// FullSyncTimeout rather than the shorter per-RPC default, since a snapshot
// reply can be much larger than an election or clock exchange.
func (p *peerConn) callWithTimeout(req wire.Envelope, timeout time.Duration) (wire.Envelope, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn == nil {
		c, err := p.dial(p.url)
		if err != nil {
			return wire.Envelope{}, err
		}
		p.conn = c
	}

	reply, err := wire.Call(p.conn, timeout, req)
	if err != nil {
		p.conn.Close()
		p.conn = nil
		return wire.Envelope{}, err
	}
	p.lastUsed = time.Now()
	return reply, nil
}

func (p *peerConn) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn != nil {
		p.conn.Close()
		p.conn = nil
	}
}

// peerRegistry caches one peerConn per peer name for the life of the
// registry; roster changes do not replace or remove entries.
type peerRegistry struct {
	mu       sync.Mutex
	dial     func(string) (wire.Conn, error)
	peerPort string
	conns    map[string]*peerConn
	logger   *log.Logger
}

func newPeerRegistry(dial func(string) (wire.Conn, error), listenAddress string) *peerRegistry {
	return &peerRegistry{
		dial:     dial,
		peerPort: peerPort(listenAddress),
		conns:    make(map[string]*peerConn),
		logger:   log.New(logWriter, "[peer] ", log.LstdFlags),
	}
}

func (r *peerRegistry) get(name string) *peerConn {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.conns[name]; ok {
		return c
	}
	c := newPeerConn(name, r.peerPort, r.dial)
	r.conns[name] = c
	return c
}

func (r *peerRegistry) closeAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.conns {
		c.close()
	}
}

func normalizeName(name string) string {
	return strings.TrimSpace(name)
}
