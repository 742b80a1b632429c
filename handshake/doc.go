// Package handshake runs the prekey-bundle exchange that seeds a new
// session.Session: a three-message request/bundle/complete round trip over
// an overlay/transport.Transport, grounded on the same request/response
// correlation pattern overlay/dht.Handler uses for find-node lookups.
//
// None of the three messages carry secret material — a prekey bundle and
// an X3DH ephemeral key are public by construction — so they travel as
// plain JSON, the same idiom overlay/pubsub and voice/signaling.go use for
// their own structured payloads.
//
//	mgr := handshake.NewManager(transport, self, prekeys, session.Options{})
//	mgr.OnPeerIdentity(func(peer crypto.PeerID, signingKey ed25519.PublicKey, dhKey [32]byte) { ... })
//	mgr.OnSessionEstablished(func(peer crypto.PeerID, s *session.Session) { ... })
//	s, err := mgr.Initiate(ctx, peerID, peerAddr)
package handshake
