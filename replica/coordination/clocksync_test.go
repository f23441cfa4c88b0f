package coordination

import (
	"testing"
	"time"

	"github.com/distlake/replica"
)

func TestClockSyncPullsCoordinatorOffset(t *testing.T) {
	coordinator := newPeerListeningEngine(t, Config{
		ServerName:        "127.0.20.1",
		PeerListenAddress: "127.0.20.1:17501",
	})
	follower := newPeerListeningEngine(t, Config{
		ServerName:        "127.0.20.2",
		PeerListenAddress: "127.0.20.2:17501",
	})

	// Simulate the coordinator's wall clock running 5s ahead.
	coordinator.physical.SetOffset(5 * time.Second)
	follower.coordinatorState.Set("127.0.20.1")

	follower.SyncClock()

	got := follower.physical.Offset()
	want := 5 * time.Second
	diff := got - want
	if diff < -300*time.Millisecond || diff > 300*time.Millisecond {
		t.Fatalf("expected follower offset close to %v, got %v", want, got)
	}
}

func TestClockSyncNoOpWithoutCoordinator(t *testing.T) {
	follower := newPeerListeningEngine(t, Config{
		ServerName:        "127.0.20.3",
		PeerListenAddress: "127.0.20.3:17502",
	})

	follower.SyncClock()

	if got := follower.physical.Offset(); got != 0 {
		t.Fatalf("expected no offset adjustment without a known coordinator, got %v", got)
	}
}

func TestClockSyncCoordinatorAveragesWithNoPeers(t *testing.T) {
	engine := newPeerListeningEngine(t, Config{
		ServerName:        "127.0.20.4",
		PeerListenAddress: "127.0.20.4:17503",
	})
	engine.physical.SetOffset(5 * time.Second)
	engine.coordinatorState.Set("127.0.20.4")

	engine.SyncClock()

	got := engine.physical.Offset()
	diff := got - 5*time.Second
	if diff < -300*time.Millisecond || diff > 300*time.Millisecond {
		t.Fatalf("expected the coordinator's own offset to be left close to 5s with no peers to poll, got %v", got)
	}
}

func TestClockSyncCoordinatorAveragesWithPeer(t *testing.T) {
	coordinator := newPeerListeningEngine(t, Config{
		ServerName:        "127.0.20.5",
		PeerListenAddress: "127.0.20.5:17504",
	})
	follower := newPeerListeningEngine(t, Config{
		ServerName:        "127.0.20.6",
		PeerListenAddress: "127.0.20.6:17504",
	})

	coordinator.coordinatorState.Set("127.0.20.5")
	coordinator.identity.SetPeers([]replica.PeerInfo{
		{Name: "127.0.20.5", Rank: 1},
		{Name: "127.0.20.6", Rank: 2},
	})
	// The peer's wall clock reads 10s ahead; the coordinator's own reading
	// is unadjusted, so the mean of the two should land close to 5s ahead.
	follower.physical.SetOffset(10 * time.Second)

	coordinator.SyncClock()

	got := coordinator.physical.Offset()
	want := 5 * time.Second
	diff := got - want
	if diff < -300*time.Millisecond || diff > 300*time.Millisecond {
		t.Fatalf("expected coordinator offset close to %v, got %v", want, got)
	}
}

func TestClockSyncFollowerStartsElectionOnCoordinatorTimeout(t *testing.T) {
	follower := newPeerListeningEngine(t, Config{
		ServerName:        "127.0.20.7",
		PeerListenAddress: "127.0.20.7:17505",
	})
	follower.identity.SetRank(1)
	// No peer is listening at this address, so the clock RPC fails fast and
	// the follower should presume the coordinator dead and start (and
	// conclude, since the roster has only itself) its own election.
	follower.identity.SetPeers([]replica.PeerInfo{{Name: "127.0.20.7", Rank: 1}})
	follower.coordinatorState.Set("127.0.20.8")

	follower.SyncClock()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if follower.Coordinator() == "127.0.20.7" {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("expected follower to elect itself after presumed coordinator failure, got coordinator=%q", follower.Coordinator())
}
