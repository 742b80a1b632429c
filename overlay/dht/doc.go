// Package dht implements peer discovery: a Kademlia routing table keyed by
// crypto.PeerID (a 160-bit hash of a peer's long-term public key, rather
// than the raw public key itself) with bucket size k=20 and lookup
// parallelism α=3, plus the find-node/ping wire protocol and periodic
// bucket refresh that keep it populated.
//
// A node's position in the table is entirely determined by its PeerID's
// XOR distance from the local node, so — unlike a routing table keyed on a
// raw public key — table placement reveals nothing about the peer's key
// material beyond what the self-certifying identifier already does.
package dht
