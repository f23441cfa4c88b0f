package coordination

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/distlake/replica/wire"
)

// wsURL rewrites an httptest.Server's http:// base URL into a ws:// one,
// yielding a ws://127.0.0.1:port address plus the given path.
func wsURL(ts *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + path
}

// testProxy is a minimal stand-in for the pub/sub fan-out proxy: every
// frame written to /pub is broadcast verbatim to every connection currently
// attached to /sub. It exists only so tests can exercise Engine.Emit and
// Engine.RunSubscriber against a real websocket round trip instead of
// mocking the wire.Conn interface.
type testProxy struct {
	mu   sync.Mutex
	subs []wire.Conn
}

func newTestProxy() *testProxy {
	return &testProxy{}
}

func (p *testProxy) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/sub", p.serveSub)
	mux.HandleFunc("/pub", p.servePub)
	return mux
}

func (p *testProxy) serveSub(w http.ResponseWriter, r *http.Request) {
	conn, err := wire.Upgrade(w, r)
	if err != nil {
		return
	}
	p.mu.Lock()
	p.subs = append(p.subs, conn)
	p.mu.Unlock()

	// Block until the subscriber disconnects; a read failure is the only
	// signal this transport gives for that.
	for {
		if _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (p *testProxy) servePub(w http.ResponseWriter, r *http.Request) {
	conn, err := wire.Upgrade(w, r)
	if err != nil {
		return
	}
	defer conn.Close()

	for {
		data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		p.broadcast(data)
	}
}

func (p *testProxy) broadcast(data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, sub := range p.subs {
		sub.WriteMessage(data)
	}
}
