// Package coordination implements the peer-to-peer protocols that keep a
// set of replica processes converged: Bully leader election, Berkeley
// physical clock synchronization, pub/sub-based replication, and the
// full-state sync handshake a joining replica performs.
package coordination

import "time"

// Config collects every address the coordination core needs, loaded from
// the environment; the timing constants are the package constants below.
type Config struct {
	ServerName        string `mapstructure:"server_name"`
	BrokerAddress     string `mapstructure:"broker_address"`
	ProxyAddress      string `mapstructure:"proxy_address"`
	ProxySubAddress   string `mapstructure:"proxy_sub_address"`
	ReferenceAddress  string `mapstructure:"reference_address"`
	PeerListenAddress string `mapstructure:"peer_listen_address"`
	DataDir           string `mapstructure:"data_dir"`
}

const (
	// PeerRPCTimeout bounds every peer-to-peer RPC (election, clock) except
	// full-sync, which uses FullSyncTimeout.
	PeerRPCTimeout = 2 * time.Second
	// FullSyncTimeout bounds the full-sync join handshake per peer.
	FullSyncTimeout = 5 * time.Second
	// HeartbeatInterval is how often the reference client signals liveness.
	HeartbeatInterval = 5 * time.Second
	// ElectionSettleDelay is how long a replica waits after its startup
	// full-sync before triggering its first election, giving the reference
	// roster a chance to populate. Election.Start also waits this long after
	// a higher-ranked peer answers OK.
	ElectionSettleDelay = 2 * time.Second
	// JoinSettleDelay is how long a joining replica waits after subscribing
	// before attempting full-sync, so it doesn't miss concurrent replication
	// events published while the handshake is in flight.
	JoinSettleDelay = 5 * time.Second
	// ClockSyncBoundary is the ingress message count that triggers a clock
	// sync round.
	ClockSyncBoundary = 10
	// ServersTopic is the shared pub/sub topic carrying coordinator
	// announcements and replication events.
	ServersTopic = "servers"
)
