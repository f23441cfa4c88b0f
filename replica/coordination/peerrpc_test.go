package coordination

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/distlake/replica"
	"github.com/distlake/replica/wire"
)

func newTestEngine(t *testing.T, name string, cfg Config) *Engine {
	t.Helper()
	store, err := replica.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	identity := replica.NewIdentity(name)
	clock := &replica.Clock{}
	physical := replica.NewPhysicalClock()
	state := replica.NewState(name, clock, store)
	return NewEngine(cfg, identity, clock, physical, state, wire.Dial)
}

func TestPeerRPCWhoCoordinator(t *testing.T) {
	cfg := Config{ServerName: "a"}
	engine := newTestEngine(t, "a", cfg)

	ts := httptest.NewServer(engine.PeerRPCServer())
	defer ts.Close()

	conn, err := wire.Dial(wsURL(ts, ""))
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	req := wire.Envelope{Service: "who_coordinator", Data: whoCoordinatorRequest{Server: "b", Clock: 1}}
	reply, err := wire.Call(conn, PeerRPCTimeout, req)
	if err != nil {
		t.Fatalf("call failed: %v", err)
	}

	var data whoCoordinatorReply
	if err := decodeData(reply.Data, &data); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if data.Server != "a" {
		t.Fatalf("expected server %q, got %q", "a", data.Server)
	}
	if data.Coordinator != "" {
		t.Fatalf("expected no coordinator yet, got %q", data.Coordinator)
	}
}

func TestPeerRPCClock(t *testing.T) {
	cfg := Config{ServerName: "a"}
	engine := newTestEngine(t, "a", cfg)

	ts := httptest.NewServer(engine.PeerRPCServer())
	defer ts.Close()

	conn, err := wire.Dial(wsURL(ts, ""))
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	before := time.Now()
	req := wire.Envelope{Service: "clock", Data: clockRequest{Server: "b", Clock: 41}}
	reply, err := wire.Call(conn, PeerRPCTimeout, req)
	if err != nil {
		t.Fatalf("call failed: %v", err)
	}

	var data clockReply
	if err := decodeData(reply.Data, &data); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if data.Clock <= 41 {
		t.Fatalf("expected observed clock to advance past 41, got %d", data.Clock)
	}
	if data.Now.Before(before.Add(-time.Second)) {
		t.Fatalf("expected a plausible current time, got %v", data.Now)
	}
}

func TestPeerRPCSyncReturnsSnapshot(t *testing.T) {
	cfg := Config{ServerName: "a"}
	engine := newTestEngine(t, "a", cfg)
	if _, err := engine.state.Login("alice", time.Now(), 0); err != nil {
		t.Fatalf("login failed: %v", err)
	}

	ts := httptest.NewServer(engine.PeerRPCServer())
	defer ts.Close()

	conn, err := wire.Dial(wsURL(ts, ""))
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	req := wire.Envelope{Service: "sync", Data: syncRequest{Server: "b", Clock: 1}}
	reply, err := wire.Call(conn, PeerRPCTimeout, req)
	if err != nil {
		t.Fatalf("call failed: %v", err)
	}

	var data syncReply
	if err := decodeData(reply.Data, &data); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(data.Snapshot.Users) != 1 || data.Snapshot.Users[0] != "alice" {
		t.Fatalf("expected snapshot to contain alice, got %v", data.Snapshot.Users)
	}
}
