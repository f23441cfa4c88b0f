package coordination

import (
	"log"
	"sync"

	"github.com/distlake/replica/wire"
)

// publisher owns the single outbound connection to the pub/sub fan-out
// proxy's publish-facing address, redialing on failure the same way
// peerConn does for peer RPC.
type publisher struct {
	mu      sync.Mutex
	address string
	dial    func(string) (wire.Conn, error)
	conn    wire.Conn
	logger  *log.Logger
}

func newPublisher(address string, dial func(string) (wire.Conn, error)) *publisher {
	return &publisher{address: address, dial: dial, logger: log.New(logWriter, "[publisher] ", log.LstdFlags)}
}

func (p *publisher) publish(topic string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn == nil {
		c, err := p.dial(p.address)
		if err != nil {
			return err
		}
		p.conn = c
	}

	if err := wire.Publish(p.conn, topic, payload); err != nil {
		p.conn.Close()
		p.conn = nil
		return err
	}
	return nil
}
