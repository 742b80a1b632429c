package mepassa

import "time"

// Options configures a new Engine. The zero value is not usable directly;
// call NewOptions for sane defaults and override only what you need.
type Options struct {
	// DataDir holds the identity keys, prekey pool, and local message
	// store. Created if it does not already exist.
	DataDir string

	// Passphrase seals the on-disk identity and prekey material.
	Passphrase []byte

	// StartPort/EndPort bound the UDP port range ListenOn tries when it is
	// given an empty address, mirroring the teacher's port-scan fallback.
	StartPort uint16
	EndPort   uint16

	// BootstrapNodes seeds the DHT routing table before Bootstrap is
	// called.
	BootstrapNodes []BootstrapNode

	// OfflineBrokerURL, if set, enables store-and-forward delivery for
	// peers that are unreachable at send time.
	OfflineBrokerURL string

	// BootstrapTimeout bounds how long Bootstrap waits for the initial
	// self-lookup to complete.
	BootstrapTimeout time.Duration

	// RelayServers seeds the relay client with known relay nodes, tried
	// only after direct connection and hole-punching fail.
	RelayServers []RelayServer
}

// BootstrapNode is a known-good DHT entry point.
type BootstrapNode struct {
	Address string
	PeerID  string
}

// RelayServer is a known relay node's address and advertised identity.
type RelayServer struct {
	Address string
	PeerID  string
}

// NewOptions returns the default configuration: a local port range typical
// of a desktop deployment, no bootstrap nodes or relays configured, and no
// offline broker.
func NewOptions() *Options {
	return &Options{
		StartPort:        47100,
		EndPort:          47200,
		BootstrapTimeout: 10 * time.Second,
	}
}
