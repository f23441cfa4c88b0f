package coordination

import (
	"log"

	"github.com/distlake/replica/wire"
)

// FullSync performs the join handshake: after subscribing to the servers
// topic (so no concurrent replication event is missed while the handshake
// is in flight), a joining replica asks each known peer in turn for a
// "sync" snapshot and merges the first one it gets. JoinSettleDelay is the
// caller's responsibility, not this function's: Engine.RunSubscriber must
// already be running before this is called.
type FullSync struct {
	engine *Engine
	logger *log.Logger
}

func newFullSync(e *Engine) *FullSync {
	return &FullSync{engine: e, logger: log.New(logWriter, "[fullsync] ", log.LstdFlags)}
}

// Run tries every known peer in roster order and merges the first
// successful reply. It is a no-op if the roster is empty (a lone replica
// has nothing to sync from).
func (fs *FullSync) Run() bool {
	for _, peer := range fs.engine.identity.Peers() {
		if peer.Name == fs.engine.identity.Name {
			continue
		}
		if fs.syncFrom(peer.Name) {
			return true
		}
	}
	return false
}

func (fs *FullSync) syncFrom(name string) bool {
	conn := fs.engine.peers.get(name)
	req := wire.Envelope{Service: "sync", Data: syncRequest{
		Server: fs.engine.identity.Name,
		Clock:  fs.engine.clock.Tick(),
	}}

	reply, err := conn.callWithTimeout(req, FullSyncTimeout)
	if err != nil {
		fs.logger.Printf("sync with %s failed: %v", name, err)
		return false
	}

	var data syncReply
	if err := decodeData(reply.Data, &data); err != nil {
		fs.logger.Printf("malformed sync reply from %s: %v", name, err)
		return false
	}

	fs.engine.clock.Observe(data.Clock)
	fs.engine.state.Merge(data.Snapshot)
	fs.logger.Printf("merged full sync from %s", name)
	return true
}
