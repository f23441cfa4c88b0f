package coordination

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/distlake/replica"
	"github.com/distlake/replica/wire"
)

// fakeReference is a tiny stand-in for the reference coordination service:
// it hands out ranks in registration order and echoes back whatever roster
// it has accumulated so far.
type fakeReference struct {
	mu    sync.Mutex
	next  int
	roster []replica.PeerInfo
}

func (f *fakeReference) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := wire.Upgrade(w, r)
	if err != nil {
		return
	}
	defer conn.Close()

	for {
		raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var req wire.Envelope
		if err := wire.Decode(raw, &req); err != nil {
			return
		}

		var reply wire.Envelope
		switch req.Service {
		case "rank":
			var data rankRequest
			decodeData(req.Data, &data)
			f.mu.Lock()
			f.next++
			rank := f.next
			f.roster = append(f.roster, replica.PeerInfo{Name: data.User, Rank: rank})
			f.mu.Unlock()
			reply = wire.Envelope{Service: "rank", Data: rankReply{Rank: rank, Clock: 1}}
		case "heartbeat":
			reply = wire.Envelope{Service: "heartbeat", Data: map[string]string{"status": "ok"}}
		case "list":
			f.mu.Lock()
			list := append([]replica.PeerInfo(nil), f.roster...)
			f.mu.Unlock()
			reply = wire.Envelope{Service: "list", Data: listReply{List: list, Clock: 1}}
		default:
			return
		}

		data, err := wire.Encode(reply)
		if err != nil {
			return
		}
		if err := conn.WriteMessage(data); err != nil {
			return
		}
	}
}

func TestReferenceClientRegisterAndList(t *testing.T) {
	fr := &fakeReference{}
	ts := httptest.NewServer(fr)
	defer ts.Close()

	identityA := replica.NewIdentity("a")
	clientA := NewReferenceClient(wsURL(ts, ""), identityA, &replica.Clock{}, wire.Dial)
	clientA.Register()

	rank, ok := identityA.Rank()
	if !ok || rank != 1 {
		t.Fatalf("expected node a to acquire rank 1, got rank=%d ok=%v", rank, ok)
	}

	identityB := replica.NewIdentity("b")
	clientB := NewReferenceClient(wsURL(ts, ""), identityB, &replica.Clock{}, wire.Dial)
	clientB.Register()

	rankB, ok := identityB.Rank()
	if !ok || rankB != 2 {
		t.Fatalf("expected node b to acquire rank 2, got rank=%d ok=%v", rankB, ok)
	}

	list, err := clientA.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected roster of 2, got %d", len(list))
	}
}

func TestReferenceClientHeartbeatDoesNotError(t *testing.T) {
	fr := &fakeReference{}
	ts := httptest.NewServer(fr)
	defer ts.Close()

	identity := replica.NewIdentity("a")
	client := NewReferenceClient(wsURL(ts, ""), identity, &replica.Clock{}, wire.Dial)
	client.Register()
	client.Heartbeat()
}
