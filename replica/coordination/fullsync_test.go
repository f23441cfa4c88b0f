package coordination

import (
	"testing"
	"time"

	"github.com/distlake/replica"
)

func TestFullSyncMergesFromFirstAnsweringPeer(t *testing.T) {
	source := newPeerListeningEngine(t, Config{
		ServerName:        "127.0.30.1",
		PeerListenAddress: "127.0.30.1:17601",
	})
	if _, err := source.state.Login("alice", time.Now(), 0); err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if _, err := source.state.Channel("general", time.Now(), 0); err != nil {
		t.Fatalf("channel failed: %v", err)
	}

	joiner := newPeerListeningEngine(t, Config{
		ServerName:        "127.0.30.2",
		PeerListenAddress: "127.0.30.2:17601",
	})
	joiner.identity.SetPeers([]replica.PeerInfo{
		{Name: "127.0.30.1", Rank: 1},
		{Name: "127.0.30.2", Rank: 2},
	})

	if !joiner.FullSync() {
		t.Fatalf("expected FullSync to succeed against a reachable peer")
	}

	if !joiner.state.HasUser("alice") {
		t.Fatalf("expected joiner to have merged alice")
	}
	if !joiner.state.HasChannel("general") {
		t.Fatalf("expected joiner to have merged general")
	}
}

func TestFullSyncFailsWithEmptyRoster(t *testing.T) {
	joiner := newPeerListeningEngine(t, Config{
		ServerName:        "127.0.30.3",
		PeerListenAddress: "127.0.30.3:17602",
	})

	if joiner.FullSync() {
		t.Fatalf("expected FullSync to fail with no known peers")
	}
}
